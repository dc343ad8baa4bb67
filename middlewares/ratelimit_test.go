package middlewares

import (
	"chatbot/logger"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

type fakeLimiter struct {
	allowed int
	calls   int
	keys    []string
	err     error
}

func (f *fakeLimiter) Allow(ctx context.Context, key string) (bool, error) {
	f.calls++
	f.keys = append(f.keys, key)
	if f.err != nil {
		return false, f.err
	}
	return f.calls <= f.allowed, nil
}

func newRouter(l Limiter) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RateLimit(l, logger.Nop()))
	r.POST("/chat", func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func TestRateLimitRejectsOverLimit(t *testing.T) {
	limiter := &fakeLimiter{allowed: 2}
	r := newRouter(limiter)

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/chat?siteId=s1", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}

	assert.Equal(t, []int{200, 200, 429}, codes)
	assert.Equal(t, "s1:10.0.0.1", limiter.keys[0])
}

func TestRateLimitKeysOnBodySiteID(t *testing.T) {
	limiter := &fakeLimiter{allowed: 10}
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RateLimit(limiter, logger.Nop()))
	r.POST("/chat", func(c *gin.Context) {
		var body struct {
			SiteID   string `json:"siteId"`
			Question string `json:"question"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.Status(http.StatusBadRequest)
			return
		}
		c.String(http.StatusOK, body.Question)
	})

	for _, site := range []string{"site-a", "site-b"} {
		req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(`{"siteId":"`+site+`","question":"料金は？"}`))
		req.Header.Set("Content-Type", "application/json")
		req.RemoteAddr = "10.0.0.1:1234"
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "料金は？", w.Body.String())
	}
	assert.Equal(t, []string{"site-a:10.0.0.1", "site-b:10.0.0.1"}, limiter.keys)
}

func TestRateLimitFailsOpen(t *testing.T) {
	r := newRouter(&fakeLimiter{err: errors.New("redis down")})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/chat", nil))

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestLoggerSetsRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Logger(logger.Nop()))
	r.GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(RequestIDKey))
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))

	assert.NotEmpty(t, w.Body.String())
	assert.Equal(t, w.Body.String(), w.Header().Get(RequestIDHeader))
}
