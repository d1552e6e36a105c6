package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
)

type ollamaConfig struct {
	BaseURL string `json:"base_url"`
	// ModelDir points at a directory of locally imported models (fine-tuned
	// adapters included); when set it must exist, otherwise the provider
	// reports itself unavailable instead of failing requests later.
	ModelDir string `json:"model_dir"`
}

type ollamaProvider struct {
	baseURL   string
	available bool
}

type ollamaGenerateRequest struct {
	Model   string                 `json:"model"`
	Prompt  string                 `json:"prompt"`
	Stream  bool                   `json:"stream"`
	Options map[string]interface{} `json:"options,omitempty"`
}

type ollamaGenerateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

func (p *ollamaProvider) Name() string {
	return "ollama"
}

func (p *ollamaProvider) Generate(ctx context.Context, model string, prompt string, opts *GenOptions) (string, error) {
	if !p.available {
		return "", ErrUnavailable
	}
	reqBody := ollamaGenerateRequest{
		Model:  model,
		Prompt: prompt,
		Stream: false,
	}
	if opts != nil {
		options := map[string]interface{}{}
		if opts.MaxTokens > 0 {
			options["num_predict"] = opts.MaxTokens
		}
		if opts.Temperature != nil {
			options["temperature"] = *opts.Temperature
		}
		if len(options) > 0 {
			reqBody.Options = options
		}
	}
	var out ollamaGenerateResponse
	if err := p.post(ctx, "/api/generate", reqBody, &out); err != nil {
		return "", err
	}
	return strings.TrimSpace(out.Response), nil
}

type ollamaEmbedProvider struct {
	baseURL   string
	available bool
}

func (p *ollamaEmbedProvider) Name() string {
	return "ollama"
}

func (p *ollamaEmbedProvider) Embed(ctx context.Context, model string, text string, taskType string) ([]float32, error) {
	if !p.available {
		return nil, ErrUnavailable
	}
	_ = taskType
	reqBody := ollamaEmbedRequest{
		Model: model,
		Input: []string{text},
	}
	var out ollamaEmbedResponse
	if err := postJSON(ctx, p.baseURL, "/api/embed", reqBody, &out); err != nil {
		return nil, err
	}
	if len(out.Embeddings) == 0 {
		return nil, fmt.Errorf("ollama response has no embeddings")
	}
	return out.Embeddings[0], nil
}

func (p *ollamaProvider) post(ctx context.Context, path string, in interface{}, out interface{}) error {
	return postJSON(ctx, p.baseURL, path, in, out)
}

func postJSON(ctx context.Context, baseURL, path string, in interface{}, out interface{}) error {
	data, err := json.Marshal(in)
	if err != nil {
		return err
	}
	endpoint := strings.TrimRight(baseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("ollama request failed: %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func ollamaAvailability(cfg *ollamaConfig) bool {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return false
	}
	if cfg.ModelDir != "" {
		if _, err := os.Stat(cfg.ModelDir); err != nil {
			return false
		}
	}
	return true
}

func createOllamaFactory(args interface{}) (IAIProvider, error) {
	cfg := &ollamaConfig{}
	if err := decodeConfig(args, cfg); err != nil {
		return nil, err
	}
	return &ollamaProvider{
		baseURL:   strings.TrimSpace(cfg.BaseURL),
		available: ollamaAvailability(cfg),
	}, nil
}

func createOllamaEmbedFactory(args interface{}) (IEmbedProvider, error) {
	cfg := &ollamaConfig{}
	if err := decodeConfig(args, cfg); err != nil {
		return nil, err
	}
	return &ollamaEmbedProvider{
		baseURL:   strings.TrimSpace(cfg.BaseURL),
		available: ollamaAvailability(cfg),
	}, nil
}

func init() {
	Register("ollama", createOllamaFactory)
	RegisterEmbed("ollama", createOllamaEmbedFactory)
}
