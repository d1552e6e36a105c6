package handler

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyeon-dev/ragserver/internal/model"
	appErr "github.com/hyeon-dev/ragserver/internal/pkg/errors"
	"github.com/hyeon-dev/ragserver/internal/service"
)

type fakeRAGService struct {
	searchQuery string
	searchK     int
	queryK      int
	results     []model.SearchResult
	answer      *service.RAGAnswer
	err         error
}

func (f *fakeRAGService) Search(ctx context.Context, query string, k int) ([]model.SearchResult, error) {
	f.searchQuery = query
	f.searchK = k
	return f.results, f.err
}

func (f *fakeRAGService) Query(ctx context.Context, question string, k int) (*service.RAGAnswer, error) {
	f.queryK = k
	if f.err != nil {
		return nil, f.err
	}
	return f.answer, nil
}

type fakeChatService struct {
	sessionID string
	message   string
	opts      *service.ChatOptions
	reply     string
	err       error
	cleared   []string
}

func (f *fakeChatService) Send(ctx context.Context, sessionID string, message string, opts *service.ChatOptions) (string, error) {
	f.sessionID = sessionID
	f.message = message
	f.opts = opts
	return f.reply, f.err
}

func (f *fakeChatService) History(sessionID string) []model.ChatMessage { return nil }

func (f *fakeChatService) ClearHistory(sessionID string) {
	f.cleared = append(f.cleared, sessionID)
}

func (f *fakeChatService) SaveHistory(ctx context.Context, sessionID string, key string) error {
	return f.err
}

func (f *fakeChatService) LoadHistory(ctx context.Context, sessionID string, key string) (int, error) {
	return 0, f.err
}

type fakeTuneService struct {
	examples   []model.TuneExample
	submission *service.TuneSubmission
	err        error
}

func (f *fakeTuneService) Submit(ctx context.Context, examples []model.TuneExample) (*service.TuneSubmission, error) {
	f.examples = examples
	return f.submission, f.err
}

func doRequest(handler gin.HandlerFunc, method, path, body string) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(recorder)
	c.Request = httptest.NewRequest(method, path, bytes.NewBufferString(body))
	c.Request.Header.Set("Content-Type", "application/json")
	handler(c)
	return recorder
}

func TestSearchHandlerDefaultsK(t *testing.T) {
	svc := &fakeRAGService{results: []model.SearchResult{
		{Document: model.Document{Content: "alpha"}, Score: 0.1},
	}}
	handler := NewRAGHandler(svc)

	recorder := doRequest(handler.Search, http.MethodPost, "/search", `{"query":"hello"}`)
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, "hello", svc.searchQuery)
	assert.Equal(t, 5, svc.searchK)
	assert.Contains(t, recorder.Body.String(), "alpha")
}

func TestSearchHandlerPassesExplicitZeroK(t *testing.T) {
	svc := &fakeRAGService{err: fmt.Errorf("%w: k must be between 1 and 20", appErr.ErrInvalid)}
	handler := NewRAGHandler(svc)

	recorder := doRequest(handler.Search, http.MethodPost, "/search", `{"query":"hello","k":0}`)
	assert.Equal(t, 0, svc.searchK, "explicit k=0 must reach the range check, not the default")
	assert.Contains(t, recorder.Body.String(), "k must be between")
}

func TestQueryHandlerPassesExplicitZeroK(t *testing.T) {
	svc := &fakeRAGService{err: fmt.Errorf("%w: k must be between 1 and 10", appErr.ErrInvalid)}
	handler := NewRAGHandler(svc)

	recorder := doRequest(handler.Query, http.MethodPost, "/rag/query", `{"question":"why","k":0}`)
	assert.Equal(t, 0, svc.queryK, "explicit k=0 must reach the range check, not the default")
	assert.Contains(t, recorder.Body.String(), "k must be between")
}

func TestSearchHandlerRejectsBadJSON(t *testing.T) {
	svc := &fakeRAGService{}
	handler := NewRAGHandler(svc)

	recorder := doRequest(handler.Search, http.MethodPost, "/search", `{"query":`)
	assert.Empty(t, svc.searchQuery, "service must not be called on a bind failure")
	assert.Contains(t, recorder.Body.String(), "invalid request")
}

func TestQueryHandlerPassesK(t *testing.T) {
	svc := &fakeRAGService{answer: &service.RAGAnswer{Answer: "the answer"}}
	handler := NewRAGHandler(svc)

	recorder := doRequest(handler.Query, http.MethodPost, "/rag/query", `{"question":"why","k":7}`)
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, 7, svc.queryK)
	assert.Contains(t, recorder.Body.String(), "the answer")
}

func TestChatHandlerDefaultsSession(t *testing.T) {
	svc := &fakeChatService{reply: "hi there"}
	handler := NewChatHandler(svc)

	recorder := doRequest(handler.Send, http.MethodPost, "/chat", `{"message":"hello","max_tokens":64}`)
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, "default", svc.sessionID)
	assert.Equal(t, "hello", svc.message)
	require.NotNil(t, svc.opts)
	assert.Equal(t, 64, svc.opts.MaxNewTokens)
	assert.Contains(t, recorder.Body.String(), "hi there")
}

func TestChatHandlerClearHistory(t *testing.T) {
	svc := &fakeChatService{}
	handler := NewChatHandler(svc)

	recorder := doRequest(handler.ClearHistory, http.MethodDelete, "/chat/history", `{"session_id":"s9"}`)
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, []string{"s9"}, svc.cleared)
}

func TestTuneHandlerReportsDatasetWithoutTrainer(t *testing.T) {
	svc := &fakeTuneService{
		submission: &service.TuneSubmission{DatasetKey: "tune/dataset-1.jsonl", Examples: 1},
		err:        service.ErrTrainerUnavailable,
	}
	handler := NewTuneHandler(svc)

	recorder := doRequest(handler.Submit, http.MethodPost, "/tune", `{"examples":[{"instruction":"a","output":"b"}]}`)
	assert.Contains(t, recorder.Body.String(), "tune/dataset-1.jsonl")
}

func TestTuneHandlerSuccess(t *testing.T) {
	svc := &fakeTuneService{
		submission: &service.TuneSubmission{DatasetKey: "tune/dataset-2.jsonl", Examples: 2, JobID: "job-7"},
	}
	handler := NewTuneHandler(svc)

	recorder := doRequest(handler.Submit, http.MethodPost, "/tune", `{"examples":[{"instruction":"a","output":"b"},{"instruction":"c","output":"d"}]}`)
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Contains(t, recorder.Body.String(), "job-7")
	assert.Len(t, svc.examples, 2)
}
