package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/hyeon-dev/ragserver/internal/ai"
	"github.com/hyeon-dev/ragserver/internal/model"
	appErr "github.com/hyeon-dev/ragserver/internal/pkg/errors"
)

// vectorStore is the persistence surface the services need from the repo
// layer.
type vectorStore interface {
	Upsert(ctx context.Context, collection string, docs []model.Document, embeddings [][]float32) error
	Search(ctx context.Context, collection string, query []float32, k int) ([]model.SearchResult, error)
	Count(ctx context.Context, collection string) (int64, error)
	ListCollections(ctx context.Context) ([]model.Collection, error)
	DropCollection(ctx context.Context, collection string) error
}

const (
	taskTypeDocument = "RETRIEVAL_DOCUMENT"
	taskTypeQuery    = "RETRIEVAL_QUERY"
)

type DocumentService struct {
	embedder ai.IEmbedder
	store    vectorStore
	chunker  *ai.Chunker
}

func NewDocumentService(embedder ai.IEmbedder, store vectorStore) *DocumentService {
	return &DocumentService{
		embedder: embedder,
		store:    store,
		chunker:  ai.NewChunker(0, 0),
	}
}

func (s *DocumentService) Add(ctx context.Context, collection string, doc model.Document) error {
	_, err := s.AddBatch(ctx, collection, []model.Document{doc})
	return err
}

// AddBatch embeds and stores the documents, returning how many were stored.
func (s *DocumentService) AddBatch(ctx context.Context, collection string, docs []model.Document) (int, error) {
	if len(docs) == 0 {
		return 0, fmt.Errorf("%w: no documents", appErr.ErrInvalid)
	}
	for i, doc := range docs {
		if strings.TrimSpace(doc.Content) == "" {
			return 0, fmt.Errorf("%w: document %d has empty content", appErr.ErrInvalid, i)
		}
	}
	embeddings := make([][]float32, 0, len(docs))
	for _, doc := range docs {
		emb, err := s.embedder.Embed(ctx, doc.Content, taskTypeDocument)
		if err != nil {
			return 0, fmt.Errorf("embed document: %w", err)
		}
		embeddings = append(embeddings, emb)
	}
	if err := s.store.Upsert(ctx, collection, docs, embeddings); err != nil {
		return 0, err
	}
	logutil.GetLogger(ctx).Info("documents stored",
		zap.String("collection", collection),
		zap.Int("count", len(docs)),
	)
	return len(docs), nil
}

// IngestMarkdown chunks a markdown document by section and stores the chunks
// with source/section/position metadata.
func (s *DocumentService) IngestMarkdown(ctx context.Context, collection string, name string, content string) (int, error) {
	chunks := s.chunker.Chunk(ctx, content)
	if len(chunks) == 0 {
		return 0, fmt.Errorf("%w: no ingestable content in %s", appErr.ErrInvalid, name)
	}
	docs := make([]model.Document, 0, len(chunks))
	for _, chunk := range chunks {
		docs = append(docs, model.Document{
			Content: chunk.Content,
			Metadata: map[string]interface{}{
				"source":   name,
				"section":  chunk.Section,
				"position": chunk.Position,
			},
		})
	}
	return s.AddBatch(ctx, collection, docs)
}

func (s *DocumentService) Count(ctx context.Context, collection string) (int64, error) {
	return s.store.Count(ctx, collection)
}

func (s *DocumentService) Collections(ctx context.Context) ([]model.Collection, error) {
	return s.store.ListCollections(ctx)
}

func (s *DocumentService) DropCollection(ctx context.Context, collection string) error {
	logutil.GetLogger(ctx).Warn("dropping collection", zap.String("collection", collection))
	return s.store.DropCollection(ctx, collection)
}
