package ai

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleMarkdown = `# Getting Started

This section explains how to install the service and verify the setup works end to end.

## Configuration

The server reads a JSON configuration file and environment variable overrides for secrets.

Connection strings support the usual postgres URL format with ssl options included.
`

func TestChunker_SectionsFollowHeadings(t *testing.T) {
	chunks := NewChunker(1200, 100).Chunk(context.Background(), sampleMarkdown)
	require.NotEmpty(t, chunks)

	sections := map[string]bool{}
	for _, chunk := range chunks {
		sections[chunk.Section] = true
	}
	require.True(t, sections["Getting Started"])
	require.True(t, sections["Configuration"])
}

func TestChunker_PositionsAreSequential(t *testing.T) {
	chunks := NewChunker(1200, 100).Chunk(context.Background(), sampleMarkdown)
	for i, chunk := range chunks {
		require.Equal(t, i, chunk.Position)
	}
}

func TestChunker_LongContentIsSplit(t *testing.T) {
	long := "# Title\n\n" + strings.Repeat("word word word word word. ", 200)
	chunks := NewChunker(300, 50).Chunk(context.Background(), long)
	require.Greater(t, len(chunks), 1)
	for _, chunk := range chunks {
		require.LessOrEqual(t, len([]rune(chunk.Content)), 300)
	}
}

func TestChunker_ZeroValueKeepsOverlap(t *testing.T) {
	c := NewChunker(0, 0)
	require.Equal(t, 1200, c.chunkSize)
	require.Equal(t, 150, c.overlap, "zero-value construction must still overlap windows")

	long := "# S\n\n" + strings.Repeat("lorem ipsum dolor sit amet ", 40)
	chunks := NewChunker(200, 0).Chunk(context.Background(), long)
	require.Greater(t, len(chunks), 1)
	tail := chunks[0].Content[len(chunks[0].Content)-10:]
	require.Contains(t, chunks[1].Content, tail, "consecutive chunks must share trailing context")
}

func TestChunker_SkipsTinyFragments(t *testing.T) {
	chunks := NewChunker(1200, 100).Chunk(context.Background(), "# T\n\nshort")
	require.Empty(t, chunks)
}
