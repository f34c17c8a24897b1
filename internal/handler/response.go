package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"aichat-backend/internal/model"
	"aichat-backend/internal/multimodel"
	"aichat-backend/internal/provider"
	"aichat-backend/internal/service"
	"aichat-backend/internal/storage"
	"aichat-backend/pkg/logger"
)

func ok(c *gin.Context, data any) {
	c.JSON(http.StatusOK, model.APIResponse{Success: true, Data: data})
}

func fail(c *gin.Context, status int, err error) {
	c.JSON(status, model.APIResponse{Success: false, Message: err.Error()})
}

// statusOf maps domain errors to HTTP status codes.
func statusOf(err error) int {
	var verrs validator.ValidationErrors
	switch {
	case errors.Is(err, storage.ErrSessionNotFound),
		errors.Is(err, storage.ErrMessageNotFound),
		errors.Is(err, model.ErrModelNotFound):
		return http.StatusNotFound
	case errors.Is(err, storage.ErrLastSession),
		errors.Is(err, multimodel.ErrNoModels),
		errors.Is(err, multimodel.ErrDuplicateModel),
		errors.Is(err, provider.ErrUnknownModel),
		errors.Is(err, provider.ErrProviderNotConfigured),
		errors.As(err, &verrs):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrJudgeOutput),
		errors.Is(err, service.ErrCandidateFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		logger.Errorf("%s %s failed: %v", c.Request.Method, c.FullPath(), err)
	}
	fail(c, status, err)
}
