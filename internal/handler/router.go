package handler

import (
	"net/http"

	"github.com/frlabs/sitegate/internal/middleware"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type RouterOptions struct {
	Chat           *ChatHandler
	ConsentLog     *ConsentLogHandler
	ChatGuard      gin.HandlerFunc // rate limiting in front of POST /api/chat; optional
	MetricsPath    string          // empty disables /metrics
	TrustedProxies []string
}

func NewRouter(opts RouterOptions) (*gin.Engine, error) {
	r := gin.New()
	if err := r.SetTrustedProxies(opts.TrustedProxies); err != nil {
		return nil, err
	}

	r.Use(middleware.AccessLog())
	r.Use(middleware.Recovery())
	r.Use(middleware.ErrorHandler())
	r.Use(middleware.MetricsMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "sitegate"})
	})

	if opts.MetricsPath != "" {
		r.GET(opts.MetricsPath, gin.WrapH(promhttp.Handler()))
	}

	api := r.Group("/api")
	{
		chatPost := []gin.HandlerFunc{opts.Chat.Ask}
		if opts.ChatGuard != nil {
			chatPost = append([]gin.HandlerFunc{opts.ChatGuard}, chatPost...)
		}
		api.GET("/chat", opts.Chat.Status)
		api.POST("/chat", chatPost...)

		api.GET("/consent-log", opts.ConsentLog.Status)
		api.POST("/consent-log", opts.ConsentLog.Record)
	}

	return r, nil
}
