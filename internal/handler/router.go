package handler

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/hyeon-dev/ragserver/internal/middleware"
)

type RouterDeps struct {
	Health    *HealthHandler
	RAG       *RAGHandler
	Documents *DocumentHandler
	Chat      *ChatHandler
	Tune      *TuneHandler
	JWTSecret []byte
	// Window for the chat/rag rate limiter; zero disables it.
	RateWindow time.Duration
}

func RegisterRoutes(api *gin.RouterGroup, deps RouterDeps) {
	api.GET("/", deps.Health.Root)
	api.GET("/health", deps.Health.Health)

	limited := api.Group("")
	limited.Use(middleware.RateLimit(deps.RateWindow))
	limited.POST("/search", deps.RAG.Search)
	limited.POST("/rag/query", deps.RAG.Query)
	limited.POST("/chat", deps.Chat.Send)

	api.GET("/chat/history", deps.Chat.GetHistory)
	api.DELETE("/chat/history", deps.Chat.ClearHistory)
	api.POST("/chat/history/save", deps.Chat.SaveHistory)
	api.POST("/chat/history/load", deps.Chat.LoadHistory)

	api.GET("/collections", deps.Documents.ListCollections)

	authGroup := api.Group("")
	authGroup.Use(middleware.JWTAuth(deps.JWTSecret))
	authGroup.POST("/documents", deps.Documents.Add)
	authGroup.POST("/documents/batch", deps.Documents.AddBatch)
	authGroup.POST("/documents/import", deps.Documents.Import)
	authGroup.DELETE("/collections/:name", deps.Documents.DropCollection)
	authGroup.POST("/tune", deps.Tune.Submit)
}
