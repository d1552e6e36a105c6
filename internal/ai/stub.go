package ai

import (
	"context"
)

// stubEmbedProvider returns one constant vector regardless of input. It only
// exists to exercise the plumbing when no real embedding provider is
// configured; the results carry no semantic meaning.
type stubEmbedProvider struct{}

var stubVector = []float32{0.1, 0.2, 0.3, 0.4, 0.5}

func (p *stubEmbedProvider) Name() string {
	return "stub"
}

func (p *stubEmbedProvider) Embed(ctx context.Context, model string, text string, taskType string) ([]float32, error) {
	out := make([]float32, len(stubVector))
	copy(out, stubVector)
	return out, nil
}

func createStubEmbedFactory(args interface{}) (IEmbedProvider, error) {
	return &stubEmbedProvider{}, nil
}

func init() {
	RegisterEmbed("stub", createStubEmbedFactory)
}
