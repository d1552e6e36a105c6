package handler

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/hyeon-dev/ragserver/internal/model"
	"github.com/hyeon-dev/ragserver/internal/pkg/response"
	"github.com/hyeon-dev/ragserver/internal/service"
)

type chatService interface {
	Send(ctx context.Context, sessionID string, message string, opts *service.ChatOptions) (string, error)
	History(sessionID string) []model.ChatMessage
	ClearHistory(sessionID string)
	SaveHistory(ctx context.Context, sessionID string, key string) error
	LoadHistory(ctx context.Context, sessionID string, key string) (int, error)
}

type ChatHandler struct {
	chat chatService
}

func NewChatHandler(chat chatService) *ChatHandler {
	return &ChatHandler{chat: chat}
}

type chatRequest struct {
	SessionID    string   `json:"session_id"`
	Message      string   `json:"message"`
	MaxTokens    int      `json:"max_tokens"`
	Temperature  *float64 `json:"temperature"`
	ResetHistory bool     `json:"reset_history"`
}

type chatHistoryRequest struct {
	SessionID string `json:"session_id"`
	Key       string `json:"key"`
}

func (h *ChatHandler) Send(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.InvalidParam(c, err)
		return
	}
	if req.SessionID == "" {
		req.SessionID = "default"
	}
	reply, err := h.chat.Send(c.Request.Context(), req.SessionID, req.Message, &service.ChatOptions{
		MaxNewTokens: req.MaxTokens,
		Temperature:  req.Temperature,
		ResetHistory: req.ResetHistory,
	})
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{
		"session_id": req.SessionID,
		"reply":      reply,
	})
}

func (h *ChatHandler) GetHistory(c *gin.Context) {
	sessionID := c.Query("session_id")
	if sessionID == "" {
		sessionID = "default"
	}
	response.Success(c, gin.H{
		"session_id": sessionID,
		"messages":   h.chat.History(sessionID),
	})
}

func (h *ChatHandler) ClearHistory(c *gin.Context) {
	var req chatHistoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.InvalidParam(c, err)
		return
	}
	if req.SessionID == "" {
		req.SessionID = "default"
	}
	h.chat.ClearHistory(req.SessionID)
	response.Success(c, gin.H{"session_id": req.SessionID})
}

func (h *ChatHandler) SaveHistory(c *gin.Context) {
	var req chatHistoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.InvalidParam(c, err)
		return
	}
	if req.SessionID == "" {
		req.SessionID = "default"
	}
	if err := h.chat.SaveHistory(c.Request.Context(), req.SessionID, req.Key); err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"session_id": req.SessionID})
}

func (h *ChatHandler) LoadHistory(c *gin.Context) {
	var req chatHistoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.InvalidParam(c, err)
		return
	}
	if req.SessionID == "" {
		req.SessionID = "default"
	}
	count, err := h.chat.LoadHistory(c.Request.Context(), req.SessionID, req.Key)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{
		"session_id": req.SessionID,
		"messages":   count,
	})
}
