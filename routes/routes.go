package routes

import (
	"chatbot/controllers"
	"chatbot/logger"
	"chatbot/middlewares"
	"net/http"

	"github.com/gin-gonic/gin"
)

type RouterConfig struct {
	ChatController *controllers.ChatController
	Limiter        middlewares.Limiter
	CORSOrigins    []string
	Log            *logger.Logger
}

func SetupRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middlewares.Logger(cfg.Log))
	r.Use(middlewares.CORS(cfg.CORSOrigins))

	r.GET("/healthcheck", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	chat := r.Group("/chat")
	{
		// チャットメッセージ送信
		chat.POST("", middlewares.RateLimit(cfg.Limiter, cfg.Log), cfg.ChatController.HandleChat)

		// 新しい会話を開始
		chat.POST("/session", cfg.ChatController.CreateSession)

		// メッセージのフラグ更新
		chat.POST("/feedback", cfg.ChatController.UpdateMessageFlag)

		// 過去の会話を取得
		chat.GET("/conversations", cfg.ChatController.GetConversations)
	}

	return r
}
