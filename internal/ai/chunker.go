package ai

import (
	"context"
	"strings"

	"github.com/xxxsen/common/logutil"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
	"go.uber.org/zap"
)

type Chunk struct {
	Content  string
	Section  string
	Position int
}

// Chunker splits markdown into heading-scoped chunks bounded by chunkSize
// runes, keeping overlap runes of trailing context between chunks.
type Chunker struct {
	chunkSize int
	overlap   int
}

func NewChunker(chunkSize, overlap int) *Chunker {
	if chunkSize <= 0 {
		chunkSize = 1200
	}
	if overlap <= 0 || overlap >= chunkSize {
		overlap = chunkSize / 8
	}
	return &Chunker{chunkSize: chunkSize, overlap: overlap}
}

func (c *Chunker) Chunk(ctx context.Context, markdown string) []Chunk {
	logger := logutil.GetLogger(ctx)
	source := []byte(markdown)
	md := goldmark.New()
	doc := md.Parser().Parse(text.NewReader(source))

	var chunks []Chunk
	var currentParts []string
	currentSection := ""
	position := 0

	flush := func() {
		if len(currentParts) == 0 {
			return
		}
		content := strings.TrimSpace(strings.Join(currentParts, "\n\n"))
		if content == "" {
			currentParts = nil
			return
		}
		for _, piece := range c.split(content) {
			if len(strings.TrimSpace(piece)) < 20 {
				continue
			}
			chunks = append(chunks, Chunk{
				Content:  piece,
				Section:  currentSection,
				Position: position,
			})
			position++
		}
		currentParts = nil
	}

	for node := doc.FirstChild(); node != nil; node = node.NextSibling() {
		if heading, ok := node.(*ast.Heading); ok {
			flush()
			currentSection = string(nodeText(heading, source))
			continue
		}
		blockText := strings.TrimSpace(string(blockLines(node, source)))
		if blockText == "" {
			continue
		}
		currentParts = append(currentParts, blockText)
	}
	flush()

	logger.Debug("markdown chunked", zap.Int("chunks", len(chunks)))
	return chunks
}

func (c *Chunker) split(textContent string) []string {
	runes := []rune(textContent)
	if len(runes) <= c.chunkSize {
		return []string{textContent}
	}
	var out []string
	step := c.chunkSize - c.overlap
	for i := 0; i < len(runes); i += step {
		end := i + c.chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[i:end]))
		if end == len(runes) {
			break
		}
	}
	return out
}

func nodeText(node ast.Node, source []byte) []byte {
	var sb strings.Builder
	_ = ast.Walk(node, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		if t, ok := n.(*ast.Text); ok {
			sb.Write(t.Segment.Value(source))
		}
		return ast.WalkContinue, nil
	})
	return []byte(sb.String())
}

func blockLines(node ast.Node, source []byte) []byte {
	lines := node.Lines()
	if lines == nil || lines.Len() == 0 {
		return nodeText(node, source)
	}
	var sb strings.Builder
	for i := 0; i < lines.Len(); i++ {
		segment := lines.At(i)
		sb.Write(segment.Value(source))
	}
	return []byte(sb.String())
}
