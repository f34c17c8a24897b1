package handler

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"aichat-backend/internal/config"
)

func NewRouter(cfg *config.Config, chatHandler *ChatHandler) *gin.Engine {
	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	exposed := cfg.CORS.ExposedHeaders
	if !contains(exposed, ChatIDHeader) {
		exposed = append(exposed, ChatIDHeader)
	}
	corsConfig := cors.Config{
		AllowOrigins:     cfg.CORS.AllowedOrigins,
		AllowMethods:     cfg.CORS.AllowedMethods,
		AllowHeaders:     cfg.CORS.AllowedHeaders,
		ExposeHeaders:    exposed,
		AllowCredentials: cfg.CORS.AllowCredentials,
		MaxAge:           time.Duration(cfg.CORS.MaxAge) * time.Second,
	}
	if len(corsConfig.AllowOrigins) == 0 || contains(corsConfig.AllowOrigins, "*") {
		corsConfig.AllowOrigins = nil
		corsConfig.AllowAllOrigins = true
	}
	router.Use(cors.New(corsConfig))

	router.GET("/health", chatHandler.Health)

	api := router.Group("/api")
	{
		chat := api.Group("/chat")
		{
			chat.POST("", chatHandler.StreamChat)
			chat.POST("/multi", chatHandler.StreamMultiChat)
			chat.POST("/compare", chatHandler.Compare)
			chat.POST("/select", chatHandler.SelectModel)
		}

		chats := api.Group("/chats")
		{
			chats.GET("", chatHandler.ListSessions)
			chats.POST("", chatHandler.CreateSession)
			chats.GET("/:id", chatHandler.GetSession)
			chats.PUT("/:id", chatHandler.RenameSession)
			chats.DELETE("/:id", chatHandler.DeleteSession)
		}
	}

	return router
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
