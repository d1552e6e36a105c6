package ai

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewProvider_UnknownName(t *testing.T) {
	_, err := NewProvider("does-not-exist", map[string]interface{}{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "unsupported ai provider")
}

func TestNewProvider_EmptyName(t *testing.T) {
	_, err := NewProvider("", nil)
	require.Error(t, err)
}

func TestNewEmbedProvider_Stub(t *testing.T) {
	p, err := NewEmbedProvider("stub", nil)
	require.NoError(t, err)
	emb := NewEmbedder(p, "stub-model")
	require.Equal(t, "stub-model", emb.ModelName())

	v1, err := emb.Embed(context.Background(), "anything", "RETRIEVAL_QUERY")
	require.NoError(t, err)
	v2, err := emb.Embed(context.Background(), "something else entirely", "RETRIEVAL_DOCUMENT")
	require.NoError(t, err)
	require.Equal(t, v1, v2)
	require.Len(t, v1, 5)
}

func TestOpenAIProvider_NoKeyIsUnavailable(t *testing.T) {
	p, err := NewProvider("openai", map[string]interface{}{})
	require.NoError(t, err)
	_, err = p.Generate(context.Background(), "gpt-3.5-turbo", "hello", nil)
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestOllamaProvider_NoBaseURLIsUnavailable(t *testing.T) {
	p, err := NewProvider("ollama", map[string]interface{}{})
	require.NoError(t, err)
	_, err = p.Generate(context.Background(), "llama3", "hello", nil)
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestOllamaProvider_MissingModelDirIsUnavailable(t *testing.T) {
	p, err := NewProvider("ollama", map[string]interface{}{
		"base_url":  "http://127.0.0.1:11434",
		"model_dir": "/does/not/exist",
	})
	require.NoError(t, err)
	_, err = p.Generate(context.Background(), "midm-lora", "hello", nil)
	require.ErrorIs(t, err, ErrUnavailable)
}
