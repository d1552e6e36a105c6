package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/hyeon-dev/ragserver/internal/ai"
	"github.com/hyeon-dev/ragserver/internal/config"
	"github.com/hyeon-dev/ragserver/internal/filestore"
	"github.com/hyeon-dev/ragserver/internal/model"
	appErr "github.com/hyeon-dev/ragserver/internal/pkg/errors"
)

type ChatOptions struct {
	MaxNewTokens int
	// Temperature nil means use the configured default; an explicit zero
	// asks for greedy decoding and is passed through.
	Temperature  *float64
	ResetHistory bool
}

// ChatService keeps an in-memory conversation per session id and renders the
// whole history as a transcript on every generation call.
type ChatService struct {
	generator ai.IGenerator
	store     filestore.Store
	defaults  config.ChatConfig

	mu       sync.Mutex
	sessions map[string][]model.ChatMessage
}

func NewChatService(generator ai.IGenerator, store filestore.Store, defaults config.ChatConfig) *ChatService {
	return &ChatService{
		generator: generator,
		store:     store,
		defaults:  defaults,
		sessions:  make(map[string][]model.ChatMessage),
	}
}

// Send appends the user turn, generates a reply from the full transcript and
// appends the assistant turn. History is untouched when generation fails.
func (s *ChatService) Send(ctx context.Context, sessionID string, message string, opts *ChatOptions) (string, error) {
	if strings.TrimSpace(sessionID) == "" {
		return "", fmt.Errorf("%w: session_id is required", appErr.ErrInvalid)
	}
	if strings.TrimSpace(message) == "" {
		return "", fmt.Errorf("%w: message is required", appErr.ErrInvalid)
	}
	if opts == nil {
		opts = &ChatOptions{}
	}
	maxTokens := opts.MaxNewTokens
	if maxTokens <= 0 {
		maxTokens = s.defaults.MaxNewTokens
	}
	temperature := s.defaults.Temperature
	if opts.Temperature != nil && *opts.Temperature >= 0 {
		temperature = *opts.Temperature
	}
	if opts.ResetHistory {
		s.ClearHistory(sessionID)
	}

	history := s.History(sessionID)
	prompt := renderTranscript(history, message)
	reply, err := s.generator.Generate(ctx, prompt,
		ai.WithMaxTokens(maxTokens),
		ai.WithTemperature(temperature),
	)
	if err != nil {
		return "", err
	}
	reply = strings.TrimSpace(reply)

	now := time.Now().Format(time.RFC3339)
	s.mu.Lock()
	s.sessions[sessionID] = append(s.sessions[sessionID],
		model.ChatMessage{Role: model.RoleUser, Content: message, Timestamp: now},
		model.ChatMessage{Role: model.RoleAssistant, Content: reply, Timestamp: now},
	)
	s.mu.Unlock()
	return reply, nil
}

// History returns a copy of the session's messages in order.
func (s *ChatService) History(sessionID string) []model.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	history := s.sessions[sessionID]
	out := make([]model.ChatMessage, len(history))
	copy(out, history)
	return out
}

func (s *ChatService) ClearHistory(sessionID string) {
	s.mu.Lock()
	delete(s.sessions, sessionID)
	s.mu.Unlock()
}

// SaveHistory archives the session history as JSON through the file store.
func (s *ChatService) SaveHistory(ctx context.Context, sessionID string, key string) error {
	if s.store == nil {
		return fmt.Errorf("file store is not configured")
	}
	history := s.History(sessionID)
	data, err := json.MarshalIndent(history, "", "  ")
	if err != nil {
		return err
	}
	if key == "" {
		key = historyKey(sessionID)
	}
	if err := s.store.Save(ctx, key, nopSeekCloser{bytes.NewReader(data)}, int64(len(data))); err != nil {
		return fmt.Errorf("save chat history: %w", err)
	}
	logutil.GetLogger(ctx).Info("chat history saved",
		zap.String("session_id", sessionID),
		zap.String("key", key),
		zap.Int("messages", len(history)),
	)
	return nil
}

// LoadHistory replaces the session history with an archived one. The archive
// schema is not version checked.
func (s *ChatService) LoadHistory(ctx context.Context, sessionID string, key string) (int, error) {
	if s.store == nil {
		return 0, fmt.Errorf("file store is not configured")
	}
	if key == "" {
		key = historyKey(sessionID)
	}
	rc, err := s.store.Open(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("open chat history: %w", err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return 0, err
	}
	var history []model.ChatMessage
	if err := json.Unmarshal(data, &history); err != nil {
		return 0, fmt.Errorf("decode chat history: %w", err)
	}
	s.mu.Lock()
	s.sessions[sessionID] = history
	s.mu.Unlock()
	return len(history), nil
}

func historyKey(sessionID string) string {
	return "chat/" + sessionID + ".json"
}

func renderTranscript(history []model.ChatMessage, message string) string {
	var sb strings.Builder
	for _, msg := range history {
		switch msg.Role {
		case model.RoleAssistant:
			sb.WriteString("### Assistant:\n")
		case model.RoleSystem:
			sb.WriteString("### System:\n")
		default:
			sb.WriteString("### User:\n")
		}
		sb.WriteString(msg.Content)
		sb.WriteString("\n\n")
	}
	sb.WriteString("### User:\n")
	sb.WriteString(message)
	sb.WriteString("\n\n### Assistant:\n")
	return sb.String()
}

type nopSeekCloser struct {
	*bytes.Reader
}

func (nopSeekCloser) Close() error { return nil }
