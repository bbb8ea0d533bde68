package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/cuongbtq/voicenote-jobs/internal/api/dto"
	"github.com/cuongbtq/voicenote-jobs/internal/domain"
	"github.com/cuongbtq/voicenote-jobs/internal/supervisor"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Error codes returned in the error envelope
const (
	CodeValidation   = "VALIDATION_ERROR"
	CodeUnauthorized = "UNAUTHORIZED"
	CodeNotFound     = "NOT_FOUND"
	CodeDuplicateJob = "DUPLICATE_ACTIVE_JOB"
	CodeInvalidState = "INVALID_STATE"
	CodeInternal     = "INTERNAL_ERROR"
)

const internalMessage = "An unexpected error occurred"

// AbortWithError writes the error envelope with the given status and code
func AbortWithError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, dto.ErrorResponse{
		Error: dto.ErrorBody{Code: code, Message: message},
	})
}

// respondError maps err to a status code and the error envelope. Unknown
// errors never reach the response body; they are logged under a correlation id.
func respondError(c *gin.Context, logger *slog.Logger, err error) {
	var validationErr *domain.ValidationError
	var internalErr *supervisor.InternalError

	switch {
	case errors.As(err, &validationErr):
		AbortWithError(c, http.StatusBadRequest, CodeValidation, validationErr.Error())

	case errors.Is(err, domain.ErrNoteNotFound):
		AbortWithError(c, http.StatusNotFound, CodeNotFound, "note not found")

	case errors.Is(err, domain.ErrDuplicateActiveJob):
		AbortWithError(c, http.StatusConflict, CodeDuplicateJob, domain.ErrDuplicateActiveJob.Error())

	case errors.Is(err, domain.ErrInvalidTransition):
		AbortWithError(c, http.StatusConflict, CodeInvalidState, "note is not in a state that can be processed")

	case errors.As(err, &internalErr):
		abortInternal(c, internalErr.CorrelationID)

	default:
		correlationID := uuid.New().String()
		logger.Error("Request failed",
			slog.String("correlation_id", correlationID),
			slog.String("path", c.FullPath()),
			slog.Any("error", err),
		)
		abortInternal(c, correlationID)
	}
}

func abortInternal(c *gin.Context, correlationID string) {
	c.AbortWithStatusJSON(http.StatusInternalServerError, dto.ErrorResponse{
		Error: dto.ErrorBody{
			Code:          CodeInternal,
			Message:       internalMessage,
			CorrelationID: correlationID,
		},
	})
}
