package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOllamaProvider_Generate(t *testing.T) {
	var gotReq ollamaGenerateRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/generate", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		_ = json.NewEncoder(w).Encode(ollamaGenerateResponse{Response: " generated text \n", Done: true})
	}))
	defer server.Close()

	p, err := NewProvider("ollama", map[string]interface{}{"base_url": server.URL})
	require.NoError(t, err)

	gen := NewGenerator(p, "llama3")
	out, err := gen.Generate(context.Background(), "question", WithMaxTokens(128), WithTemperature(0.3))
	require.NoError(t, err)
	require.Equal(t, "generated text", out)
	require.Equal(t, "llama3", gotReq.Model)
	require.Equal(t, "question", gotReq.Prompt)
	require.False(t, gotReq.Stream)
	require.EqualValues(t, 128, gotReq.Options["num_predict"])
	require.EqualValues(t, 0.3, gotReq.Options["temperature"])
}

func TestOllamaEmbedProvider_Embed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/embed", r.URL.Path)
		var req ollamaEmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, []string{"hello"}, req.Input)
		_ = json.NewEncoder(w).Encode(ollamaEmbedResponse{Embeddings: [][]float32{{0.5, 0.25}}})
	}))
	defer server.Close()

	p, err := NewEmbedProvider("ollama", map[string]interface{}{"base_url": server.URL})
	require.NoError(t, err)

	emb := NewEmbedder(p, "nomic-embed-text")
	vec, err := emb.Embed(context.Background(), "hello", "")
	require.NoError(t, err)
	require.Equal(t, []float32{0.5, 0.25}, vec)
}

func TestOllamaProvider_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer server.Close()

	p, err := NewProvider("ollama", map[string]interface{}{"base_url": server.URL})
	require.NoError(t, err)
	_, err = p.Generate(context.Background(), "missing", "hi", nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "model not found")
}
