package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/printmeter/internal/importer/domain"
	"gorm.io/gorm"
)

type errorPayload struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

// ErrorHandlingMiddleware maps domain errors collected during the request
// onto HTTP statuses once, after the handler chain.
func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func mapError(err error) (int, errorPayload) {
	switch {
	case errors.Is(err, domain.ErrBatchNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return http.StatusNotFound, errorPayload{Type: "not_found", Message: err.Error()}
	case errors.Is(err, domain.ErrEmptyFile),
		errors.Is(err, domain.ErrMissingHeader),
		errors.Is(err, domain.ErrInvalidCSV),
		errors.Is(err, domain.ErrInvalidBatchID),
		errors.Is(err, domain.ErrInvalidRange):
		return http.StatusBadRequest, errorPayload{Type: "invalid_request", Message: err.Error()}
	default:
		return http.StatusInternalServerError, errorPayload{Type: "internal_error", Message: "internal error"}
	}
}
