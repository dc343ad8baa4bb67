package middlewares

import (
	"bytes"
	"chatbot/logger"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const RateLimitMessage = "リクエストが多すぎます。しばらく待ってから再度お試しください。"

// Limiter decides whether the request identified by key may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// RedisLimiter is a fixed-window counter: at most limit requests per window
// for each key.
type RedisLimiter struct {
	rdb    *redis.Client
	limit  int64
	window time.Duration
	prefix string
}

func NewRedisLimiter(rdb *redis.Client, limit int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{rdb: rdb, limit: int64(limit), window: window, prefix: "ratelimit"}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	slot := time.Now().UnixNano() / int64(l.window)
	redisKey := fmt.Sprintf("%s:%s:%d", l.prefix, key, slot)

	pipe := l.rdb.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.Expire(ctx, redisKey, l.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, errors.Wrap(err, "rate limit counter")
	}
	return incr.Val() <= l.limit, nil
}

// RateLimit rejects requests over the limit with 429. The key is the site id
// (X-Site-ID header, siteId query or siteId in the JSON body) and the client
// IP. Limiter errors let the request through.
func RateLimit(limiter Limiter, log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil {
			c.Next()
			return
		}
		siteID := requestSiteID(c)
		key := siteID + ":" + c.ClientIP()

		allowed, err := limiter.Allow(c.Request.Context(), key)
		if err != nil {
			log.Warn("rate limiter unavailable, allowing request", "key", key, "error", err)
			c.Next()
			return
		}
		if !allowed {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": RateLimitMessage})
			return
		}
		c.Next()
	}
}

func requestSiteID(c *gin.Context) string {
	if id := c.GetHeader("X-Site-ID"); id != "" {
		return id
	}
	if id := c.Query("siteId"); id != "" {
		return id
	}
	if c.Request.Body == nil || c.ContentType() != gin.MIMEJSON {
		return ""
	}
	body, err := io.ReadAll(c.Request.Body)
	// ハンドラで再度読めるように戻す
	c.Request.Body = io.NopCloser(bytes.NewReader(body))
	if err != nil {
		return ""
	}
	var payload struct {
		SiteID string `json:"siteId"`
	}
	if json.Unmarshal(body, &payload) != nil {
		return ""
	}
	return payload.SiteID
}
