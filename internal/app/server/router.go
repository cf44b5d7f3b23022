package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jinford/knowledge-chat/internal/platform/container"
)

// newRouter はミドルウェアとルーティングを設定した gin.Engine を作成する
func newRouter(cont *container.ServiceContainer, logger *slog.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(loggingMiddleware(logger))
	r.Use(gin.Recovery())

	// ヘルスチェック
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	h := newQueryHandler(cont.QueryService, cont.ChatStore, logger)

	api := r.Group("/api")
	{
		api.POST("/query", h.Query)
		api.GET("/sessions/:id/messages", h.SessionMessages)
	}

	return r
}

// loggingMiddleware はリクエスト単位のアクセスログを slog で出力する
func loggingMiddleware(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.Info("request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("duration", time.Since(start)),
		)
	}
}
