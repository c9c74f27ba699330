package http

import (
	"github.com/gin-gonic/gin"
	"github.com/layer-3/agentrelay/service"
	"go.uber.org/zap"
)

// SetupRouter sets up the Gin router
func SetupRouter(relay *service.RelayService, health Pinger, logger *zap.Logger) *gin.Engine {
	router := gin.New()
	router.Use(RequestLogger(logger), gin.Recovery(), CORS())

	handlers := NewRelayHandlers(relay, health, logger)

	router.GET("/healthz", handlers.Health)

	api := router.Group("/api")
	{
		api.POST("/store-session", handlers.StoreSession)
		api.POST("/ask-agent", handlers.AskAgent)
		api.GET("/result", handlers.Result)
	}

	return router
}
