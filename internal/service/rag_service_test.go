package service

import (
	"context"
	"fmt"
	"math"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyeon-dev/ragserver/internal/ai"
	"github.com/hyeon-dev/ragserver/internal/model"
	appErr "github.com/hyeon-dev/ragserver/internal/pkg/errors"
	"github.com/hyeon-dev/ragserver/internal/repo"
)

type memCollection struct {
	dim  int
	docs []model.Document
	embs [][]float32
}

// memVectorStore mimics the postgres-backed repo, including the destructive
// dimension-mismatch recovery on write.
type memVectorStore struct {
	collections map[string]*memCollection
	drops       int
}

func newMemVectorStore() *memVectorStore {
	return &memVectorStore{collections: make(map[string]*memCollection)}
}

func (s *memVectorStore) Upsert(ctx context.Context, collection string, docs []model.Document, embeddings [][]float32) error {
	if len(docs) != len(embeddings) || len(docs) == 0 {
		return fmt.Errorf("bad upsert arguments")
	}
	dim := len(embeddings[0])
	col, ok := s.collections[collection]
	if ok && col.dim != dim {
		s.drops++
		delete(s.collections, collection)
		ok = false
	}
	if !ok {
		col = &memCollection{dim: dim}
		s.collections[collection] = col
	}
	col.docs = append(col.docs, docs...)
	col.embs = append(col.embs, embeddings...)
	return nil
}

func (s *memVectorStore) Search(ctx context.Context, collection string, query []float32, k int) ([]model.SearchResult, error) {
	col, ok := s.collections[collection]
	if !ok {
		return nil, nil
	}
	if col.dim != len(query) {
		return nil, &repo.DimensionMismatchError{Collection: collection, Want: col.dim, Got: len(query)}
	}
	results := make([]model.SearchResult, 0, len(col.docs))
	for i, doc := range col.docs {
		results = append(results, model.SearchResult{
			Document: doc,
			Score:    l2Distance(query, col.embs[i]),
		})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Score < results[j].Score })
	if k < len(results) {
		results = results[:k]
	}
	return results, nil
}

func (s *memVectorStore) Count(ctx context.Context, collection string) (int64, error) {
	col, ok := s.collections[collection]
	if !ok {
		return 0, nil
	}
	return int64(len(col.docs)), nil
}

func (s *memVectorStore) ListCollections(ctx context.Context) ([]model.Collection, error) {
	var cols []model.Collection
	for name, col := range s.collections {
		cols = append(cols, model.Collection{Name: name, Dim: col.dim})
	}
	return cols, nil
}

func (s *memVectorStore) DropCollection(ctx context.Context, collection string) error {
	delete(s.collections, collection)
	return nil
}

func l2Distance(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

type mapEmbedder struct {
	vectors map[string][]float32
	dim     int
	calls   int
}

func (e *mapEmbedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	e.calls++
	if vec, ok := e.vectors[text]; ok {
		return vec, nil
	}
	vec := make([]float32, e.dim)
	for i, r := range text {
		vec[i%e.dim] += float32(r) / 1000
	}
	return vec, nil
}

func (e *mapEmbedder) ModelName() string { return "map-embedder" }

type scriptedGenerator struct {
	replies    []string
	err        error
	calls      int
	lastPrompt string
	lastOpts   *ai.GenOptions
}

func (g *scriptedGenerator) Generate(ctx context.Context, prompt string, opts ...ai.GenOption) (string, error) {
	g.calls++
	g.lastPrompt = prompt
	resolved := &ai.GenOptions{}
	for _, opt := range opts {
		opt(resolved)
	}
	g.lastOpts = resolved
	if g.err != nil {
		return "", g.err
	}
	reply := "ok"
	if len(g.replies) > 0 {
		reply = g.replies[0]
		if len(g.replies) > 1 {
			g.replies = g.replies[1:]
		}
	}
	return reply, nil
}

func seedDocuments(t *testing.T, store *memVectorStore, collection string) {
	t.Helper()
	docs := []model.Document{
		{Content: "alpha"},
		{Content: "beta"},
		{Content: "gamma"},
	}
	embs := [][]float32{
		{1, 0, 0},
		{0, 1, 0},
		{0, 0, 5},
	}
	require.NoError(t, store.Upsert(context.Background(), collection, docs, embs))
}

func TestSearchReturnsMinKNOrdered(t *testing.T) {
	store := newMemVectorStore()
	seedDocuments(t, store, "docs")
	embedder := &mapEmbedder{dim: 3, vectors: map[string][]float32{
		"find alpha": {1, 0, 0},
	}}
	svc := NewRAGService(embedder, &scriptedGenerator{}, store, "docs", 500)

	ctx := context.Background()
	results, err := svc.Search(ctx, "find alpha", 10)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "alpha", results[0].Document.Content)
	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i].Score, results[i-1].Score)
	}

	results, err = svc.Search(ctx, "find alpha", 2)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestSearchValidatesK(t *testing.T) {
	svc := NewRAGService(&mapEmbedder{dim: 3}, &scriptedGenerator{}, newMemVectorStore(), "docs", 500)
	ctx := context.Background()
	for _, k := range []int{0, -1, 21} {
		_, err := svc.Search(ctx, "q", k)
		assert.ErrorIs(t, err, appErr.ErrInvalid, "k=%d", k)
	}
}

func TestQueryValidatesK(t *testing.T) {
	svc := NewRAGService(&mapEmbedder{dim: 3}, &scriptedGenerator{}, newMemVectorStore(), "docs", 500)
	ctx := context.Background()
	for _, k := range []int{0, 11} {
		_, err := svc.Query(ctx, "q", k)
		assert.ErrorIs(t, err, appErr.ErrInvalid, "k=%d", k)
	}
}

func TestQueryEmptyRetrievalStillGenerates(t *testing.T) {
	gen := &scriptedGenerator{replies: []string{"no idea"}}
	svc := NewRAGService(&mapEmbedder{dim: 3}, gen, newMemVectorStore(), "docs", 500)

	answer, err := svc.Query(context.Background(), "anything there?", 5)
	require.NoError(t, err)
	assert.Equal(t, 1, gen.calls)
	assert.Equal(t, "no idea", answer.Answer)
	assert.Empty(t, answer.Sources)
	assert.Contains(t, gen.lastPrompt, "Question: anything there?")
	assert.NotContains(t, gen.lastPrompt, "[Document")
}

func TestQueryBuildsContextBlock(t *testing.T) {
	store := newMemVectorStore()
	seedDocuments(t, store, "docs")
	embedder := &mapEmbedder{dim: 3, vectors: map[string][]float32{
		"about beta": {0, 1, 0},
	}}
	gen := &scriptedGenerator{replies: []string{"beta is second"}}
	svc := NewRAGService(embedder, gen, store, "docs", 500)

	answer, err := svc.Query(context.Background(), "about beta", 2)
	require.NoError(t, err)
	assert.Equal(t, "beta is second", answer.Answer)
	assert.Len(t, answer.Sources, 2)
	assert.Contains(t, gen.lastPrompt, "[Document 1]\nbeta")
	assert.Contains(t, gen.lastPrompt, "[Document 2]\n")
}

func TestQueryDegradesWhenGeneratorUnavailable(t *testing.T) {
	store := newMemVectorStore()
	seedDocuments(t, store, "docs")
	embedder := &mapEmbedder{dim: 3, vectors: map[string][]float32{
		"q": {1, 0, 0},
	}}
	gen := &scriptedGenerator{err: ai.ErrUnavailable}
	svc := NewRAGService(embedder, gen, store, "docs", 500)

	answer, err := svc.Query(context.Background(), "q", 3)
	require.NoError(t, err)
	assert.True(t, answer.Degraded)
	assert.Len(t, answer.Sources, 3)
	assert.Contains(t, answer.Answer, "alpha")
}
