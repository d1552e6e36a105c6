package handler

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/hyeon-dev/ragserver/internal/model"
	"github.com/hyeon-dev/ragserver/internal/pkg/errcode"
	"github.com/hyeon-dev/ragserver/internal/pkg/response"
	"github.com/hyeon-dev/ragserver/internal/service"
)

type tuneService interface {
	Submit(ctx context.Context, examples []model.TuneExample) (*service.TuneSubmission, error)
}

type TuneHandler struct {
	tune tuneService
}

func NewTuneHandler(tune tuneService) *TuneHandler {
	return &TuneHandler{tune: tune}
}

type tuneRequest struct {
	Examples []model.TuneExample `json:"examples"`
}

func (h *TuneHandler) Submit(c *gin.Context) {
	var req tuneRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.InvalidParam(c, err)
		return
	}
	submission, err := h.tune.Submit(c.Request.Context(), req.Examples)
	if err != nil {
		if errors.Is(err, service.ErrTrainerUnavailable) && submission != nil {
			// dataset landed even without a trainer; report it
			response.Error(c, errcode.ErrTrainerUnavailable, "trainer not configured, dataset written: "+submission.DatasetKey)
			return
		}
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{
		"dataset":  submission.DatasetKey,
		"examples": submission.Examples,
		"job_id":   submission.JobID,
	})
}
