package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/hyeon-dev/ragserver/internal/ai"
	"github.com/hyeon-dev/ragserver/internal/model"
	appErr "github.com/hyeon-dev/ragserver/internal/pkg/errors"
)

const (
	maxSearchK = 20
	maxQueryK  = 10
)

const ragPromptTemplate = `Use the following context to answer the question. If the context does not contain the answer, say you do not know.

Context:
%s

Question: %s

Answer:`

// RAGAnswer is the result of a retrieval-augmented query. Degraded is set
// when the generator was unavailable and the answer only lists sources.
type RAGAnswer struct {
	Answer   string
	Sources  []model.SearchResult
	Degraded bool
}

type RAGService struct {
	embedder   ai.IEmbedder
	generator  ai.IGenerator
	store      vectorStore
	collection string
	maxTokens  int
}

func NewRAGService(embedder ai.IEmbedder, generator ai.IGenerator, store vectorStore, collection string, maxTokens int) *RAGService {
	return &RAGService{
		embedder:   embedder,
		generator:  generator,
		store:      store,
		collection: collection,
		maxTokens:  maxTokens,
	}
}

// Search embeds the query and returns the k nearest documents, nearest first.
func (s *RAGService) Search(ctx context.Context, query string, k int) ([]model.SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: query is required", appErr.ErrInvalid)
	}
	if k < 1 || k > maxSearchK {
		return nil, fmt.Errorf("%w: k must be between 1 and %d", appErr.ErrInvalid, maxSearchK)
	}
	queryEmb, err := s.embedder.Embed(ctx, query, taskTypeQuery)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return s.store.Search(ctx, s.collection, queryEmb, k)
}

// Query retrieves the k nearest documents and asks the generator to answer
// from them. Empty retrieval still generates, with an empty context block.
func (s *RAGService) Query(ctx context.Context, question string, k int) (*RAGAnswer, error) {
	if strings.TrimSpace(question) == "" {
		return nil, fmt.Errorf("%w: question is required", appErr.ErrInvalid)
	}
	if k < 1 || k > maxQueryK {
		return nil, fmt.Errorf("%w: k must be between 1 and %d", appErr.ErrInvalid, maxQueryK)
	}
	sources, err := s.Search(ctx, question, k)
	if err != nil {
		return nil, err
	}
	prompt := fmt.Sprintf(ragPromptTemplate, buildContextBlock(sources), question)
	answer, err := s.generator.Generate(ctx, prompt, ai.WithMaxTokens(s.maxTokens))
	if err != nil {
		if errors.Is(err, ai.ErrUnavailable) {
			logutil.GetLogger(ctx).Warn("generator unavailable, returning retrieval-only answer", zap.Error(err))
			return &RAGAnswer{
				Answer:   degradedAnswer(sources),
				Sources:  sources,
				Degraded: true,
			}, nil
		}
		return nil, fmt.Errorf("generate answer: %w", err)
	}
	return &RAGAnswer{Answer: strings.TrimSpace(answer), Sources: sources}, nil
}

func buildContextBlock(sources []model.SearchResult) string {
	if len(sources) == 0 {
		return ""
	}
	parts := make([]string, 0, len(sources))
	for i, src := range sources {
		parts = append(parts, fmt.Sprintf("[Document %d]\n%s", i+1, src.Document.Content))
	}
	return strings.Join(parts, "\n\n")
}

func degradedAnswer(sources []model.SearchResult) string {
	if len(sources) == 0 {
		return "The language model is unavailable and no relevant documents were found."
	}
	var sb strings.Builder
	sb.WriteString("The language model is unavailable. The most relevant documents were:\n")
	for i, src := range sources {
		sb.WriteString(fmt.Sprintf("%d. %s\n", i+1, firstLine(src.Document.Content)))
	}
	return strings.TrimRight(sb.String(), "\n")
}

func firstLine(content string) string {
	if idx := strings.IndexByte(content, '\n'); idx >= 0 {
		return content[:idx]
	}
	return content
}
