package handler

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/hyeon-dev/ragserver/internal/model"
	"github.com/hyeon-dev/ragserver/internal/pkg/response"
	"github.com/hyeon-dev/ragserver/internal/service"
)

type ragService interface {
	Search(ctx context.Context, query string, k int) ([]model.SearchResult, error)
	Query(ctx context.Context, question string, k int) (*service.RAGAnswer, error)
}

type RAGHandler struct {
	rag ragService
}

func NewRAGHandler(rag ragService) *RAGHandler {
	return &RAGHandler{rag: rag}
}

// K is a pointer so an explicit out-of-range value (k=0 included) reaches
// the service's range check instead of being mistaken for "not set".
type searchRequest struct {
	Query string `json:"query"`
	K     *int   `json:"k"`
}

type queryRequest struct {
	Question string `json:"question"`
	K        *int   `json:"k"`
}

func kOrDefault(k *int, def int) int {
	if k == nil {
		return def
	}
	return *k
}

func searchResultsJSON(results []model.SearchResult) []gin.H {
	out := make([]gin.H, 0, len(results))
	for _, item := range results {
		out = append(out, gin.H{
			"content":  item.Document.Content,
			"metadata": item.Document.Metadata,
			"score":    item.Score,
		})
	}
	return out
}

func (h *RAGHandler) Search(c *gin.Context) {
	var req searchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.InvalidParam(c, err)
		return
	}
	results, err := h.rag.Search(c.Request.Context(), req.Query, kOrDefault(req.K, 5))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{
		"query":     req.Query,
		"documents": searchResultsJSON(results),
		"count":     len(results),
	})
}

func (h *RAGHandler) Query(c *gin.Context) {
	var req queryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.InvalidParam(c, err)
		return
	}
	answer, err := h.rag.Query(c.Request.Context(), req.Question, kOrDefault(req.K, 3))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{
		"question": req.Question,
		"answer":   answer.Answer,
		"sources":  searchResultsJSON(answer.Sources),
		"degraded": answer.Degraded,
	})
}
