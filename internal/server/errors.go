package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/fieldbill/pkg/apperr"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorPayload struct {
	Type      string            `json:"type"`
	Code      string            `json:"code,omitempty"`
	Message   string            `json:"message"`
	EntityIDs []string          `json:"entity_ids,omitempty"`
	Errors    []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrNotFound       = apperr.NotFound("not_found", "not found")
	ErrInvalidRequest = apperr.Validation("invalid_request", "invalid request").WithField("request")
)

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

func invalidRequestError() error {
	return ErrInvalidRequest
}

func newValidationError(field, code, message string) error {
	return apperr.Validation(code, message).WithField(field)
}

func mapError(err error) (int, errorPayload) {
	var appErr *apperr.Error
	if !errors.As(err, &appErr) || appErr == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    string(apperr.KindUnexpected),
			Message: "internal server error",
		}
	}

	status := statusForKind(appErr.Kind)
	if status == http.StatusInternalServerError {
		// Infrastructure detail stays in the logs.
		return status, errorPayload{
			Type:    string(apperr.KindUnexpected),
			Code:    "internal_error",
			Message: "internal server error",
		}
	}

	payload := errorPayload{
		Type:      string(appErr.Kind),
		Code:      appErr.Code,
		Message:   appErr.Reason,
		EntityIDs: appErr.EntityIDs,
	}
	if appErr.Kind == apperr.KindValidation && appErr.Field != "" {
		payload.Errors = []ValidationError{{
			Field:   appErr.Field,
			Code:    appErr.Code,
			Message: appErr.Reason,
		}}
	}
	return status, payload
}

func statusForKind(kind apperr.Kind) int {
	switch kind {
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindValidation:
		return http.StatusUnprocessableEntity
	case apperr.KindInvalidStateTransition, apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// classifyErrorForLog feeds the request logger's error_type and error_code
// fields.
func classifyErrorForLog(err error) (string, string) {
	if appErr, ok := apperr.As(err); ok {
		return string(appErr.Kind), appErr.Code
	}
	return string(apperr.KindUnexpected), "internal_error"
}
