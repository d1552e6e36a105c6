package handler

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/hyeon-dev/ragserver/internal/model"
	"github.com/hyeon-dev/ragserver/internal/pkg/errcode"
	"github.com/hyeon-dev/ragserver/internal/pkg/response"
)

type documentService interface {
	Add(ctx context.Context, collection string, doc model.Document) error
	AddBatch(ctx context.Context, collection string, docs []model.Document) (int, error)
	IngestMarkdown(ctx context.Context, collection string, name string, content string) (int, error)
	Count(ctx context.Context, collection string) (int64, error)
	Collections(ctx context.Context) ([]model.Collection, error)
	DropCollection(ctx context.Context, collection string) error
}

type DocumentHandler struct {
	documents  documentService
	collection string
}

func NewDocumentHandler(documents documentService, collection string) *DocumentHandler {
	return &DocumentHandler{documents: documents, collection: collection}
}

// collectionFor lets callers target an explicit collection, falling back to
// the configured default.
func (h *DocumentHandler) collectionFor(name string) string {
	if name != "" {
		return name
	}
	return h.collection
}

type addDocumentRequest struct {
	Content    string                 `json:"content"`
	Metadata   map[string]interface{} `json:"metadata"`
	Collection string                 `json:"collection"`
}

type addBatchRequest struct {
	Documents  []model.Document `json:"documents"`
	Collection string           `json:"collection"`
}

type importRequest struct {
	Name       string `json:"name"`
	Content    string `json:"content"`
	Collection string `json:"collection"`
}

func (h *DocumentHandler) Add(c *gin.Context) {
	var req addDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.InvalidParam(c, err)
		return
	}
	doc := model.Document{Content: req.Content, Metadata: req.Metadata}
	if err := h.documents.Add(c.Request.Context(), h.collectionFor(req.Collection), doc); err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"count": 1})
}

func (h *DocumentHandler) AddBatch(c *gin.Context) {
	var req addBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.InvalidParam(c, err)
		return
	}
	count, err := h.documents.AddBatch(c.Request.Context(), h.collectionFor(req.Collection), req.Documents)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"count": count})
}

func (h *DocumentHandler) Import(c *gin.Context) {
	var req importRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.InvalidParam(c, err)
		return
	}
	if req.Name == "" {
		req.Name = "inline.md"
	}
	count, err := h.documents.IngestMarkdown(c.Request.Context(), h.collectionFor(req.Collection), req.Name, req.Content)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"count": count})
}

func (h *DocumentHandler) ListCollections(c *gin.Context) {
	cols, err := h.documents.Collections(c.Request.Context())
	if err != nil {
		handleError(c, err)
		return
	}
	items := make([]gin.H, 0, len(cols))
	for _, col := range cols {
		count, err := h.documents.Count(c.Request.Context(), col.Name)
		if err != nil {
			handleError(c, err)
			return
		}
		items = append(items, gin.H{
			"name":  col.Name,
			"dim":   col.Dim,
			"count": count,
		})
	}
	response.Success(c, gin.H{"collections": items})
}

func (h *DocumentHandler) DropCollection(c *gin.Context) {
	name := c.Param("name")
	if name == "" {
		response.Error(c, errcode.ErrInvalid, "collection name is required")
		return
	}
	if err := h.documents.DropCollection(c.Request.Context(), name); err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"dropped": name})
}
