package handler

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/hyeon-dev/ragserver/internal/ai"
	"github.com/hyeon-dev/ragserver/internal/middleware"
	"github.com/hyeon-dev/ragserver/internal/pkg/errcode"
	appErr "github.com/hyeon-dev/ragserver/internal/pkg/errors"
	"github.com/hyeon-dev/ragserver/internal/pkg/response"
	"github.com/hyeon-dev/ragserver/internal/repo"
)

func handleError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	logutil.GetLogger(c.Request.Context()).Error("request failed",
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.String("request_id", middleware.RequestIDFromContext(c.Request.Context())),
		zap.Error(err),
	)
	switch {
	case errors.Is(err, appErr.ErrInvalid):
		response.Error(c, errcode.ErrInvalid, err.Error())
	case errors.Is(err, appErr.ErrNotFound):
		response.Error(c, errcode.ErrNotFound, "not found")
	case errors.Is(err, appErr.ErrUnauthorized):
		response.Error(c, errcode.ErrUnauthorized, "unauthorized")
	case errors.Is(err, appErr.ErrConflict):
		response.Error(c, errcode.ErrConflict, "conflict")
	case errors.Is(err, ai.ErrUnavailable):
		response.Error(c, errcode.ErrProviderUnavailable, "ai provider unavailable")
	case repo.IsDimensionMismatch(err):
		response.Error(c, errcode.ErrDimensionMismatch, err.Error())
	default:
		response.Error(c, errcode.ErrInternal, "internal error")
	}
}
