package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/hyeon-dev/ragserver/internal/pkg/response"
)

// ProviderInfo is the provider selection surfaced on the health endpoint.
type ProviderInfo struct {
	Provider      string `json:"provider"`
	Model         string `json:"model"`
	EmbedProvider string `json:"embed_provider"`
	EmbedModel    string `json:"embed_model"`
}

type HealthHandler struct {
	db        *sqlx.DB
	providers ProviderInfo
	version   string
}

func NewHealthHandler(db *sqlx.DB, providers ProviderInfo, version string) *HealthHandler {
	return &HealthHandler{db: db, providers: providers, version: version}
}

func (h *HealthHandler) Root(c *gin.Context) {
	response.Success(c, gin.H{
		"service": "ragserver",
		"version": h.version,
	})
}

func (h *HealthHandler) Health(c *gin.Context) {
	database := "ok"
	if h.db != nil {
		if err := h.db.PingContext(c.Request.Context()); err != nil {
			database = "unreachable"
		}
	} else {
		database = "not configured"
	}
	response.Success(c, gin.H{
		"status":    "ok",
		"database":  database,
		"providers": h.providers,
	})
}
