package middleware

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/makkenzo/license-issuer-api/internal/handler/dto"
	"github.com/makkenzo/license-issuer-api/internal/ierr"
	"go.uber.org/zap"
)

type errorMapping struct {
	target  error
	status  int
	code    string
	message string // empty means the wrapped error text is safe to show
}

// Checked in order; the first match wins.
var errorMappings = []errorMapping{
	{ierr.ErrValidation, http.StatusBadRequest, "VALIDATION_ERROR", ""},
	{ierr.ErrUnauthorized, http.StatusUnauthorized, "UNAUTHENTICATED", "Authentication required or failed."},
	{ierr.ErrInvalidSignature, http.StatusUnauthorized, "INVALID_SIGNATURE", "Webhook signature verification failed."},
	{ierr.ErrStaleWebhook, http.StatusUnauthorized, "INVALID_SIGNATURE", "Webhook signature verification failed."},
	{ierr.ErrForbidden, http.StatusForbidden, "FORBIDDEN", "Access denied."},
	{ierr.ErrNotFound, http.StatusNotFound, "NOT_FOUND", "The requested resource was not found."},
	{ierr.ErrPayloadTooLarge, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "Request body exceeds the allowed size."},
	{ierr.ErrRateLimited, http.StatusTooManyRequests, "RATE_LIMITED", "Too many requests, retry later."},
	{ierr.ErrConflict, http.StatusConflict, "CONFLICT", ""},
}

func ErrorHandlerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	log := logger.Named("ErrorHandler")
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}

		err := c.Errors.Last().Err
		status, errResponse := mapError(err)

		if status >= http.StatusInternalServerError {
			log.Error("Request failed", zap.String("path", c.FullPath()), zap.Error(err))
		} else {
			log.Info("Request rejected", zap.String("path", c.FullPath()), zap.Int("status", status), zap.Error(err))
		}

		c.AbortWithStatusJSON(status, errResponse)
	}
}

func mapError(err error) (int, dto.APIErrorResponse) {
	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		resp := dto.NewAPIErrorResponse("VALIDATION_ERROR", "Input validation failed.")
		resp.Details = buildValidationErrors(ve)
		return http.StatusBadRequest, resp
	}

	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			msg := m.message
			if msg == "" {
				msg = err.Error()
			}
			return m.status, dto.NewAPIErrorResponse(m.code, msg)
		}
	}

	// Storage and broker errors can carry connection details.
	return http.StatusInternalServerError, dto.NewAPIErrorResponse("INTERNAL_ERROR", "An unexpected error occurred.")
}

func buildValidationErrors(ve validator.ValidationErrors) []dto.FieldError {
	details := make([]dto.FieldError, len(ve))
	for i, fe := range ve {
		details[i] = dto.FieldError{
			Field:   fe.Field(),
			Message: getValidationErrorMsg(fe),
		}
	}
	return details
}

func getValidationErrorMsg(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("Field '%s' is required", fe.Field())
	case "email":
		return fmt.Sprintf("Field '%s' must be a valid email address", fe.Field())
	case "oneof":
		return fmt.Sprintf("Field '%s' must be one of [%s]", fe.Field(), fe.Param())
	case "gte":
		return fmt.Sprintf("Field '%s' must be greater than or equal to %s", fe.Field(), fe.Param())
	case "lte":
		return fmt.Sprintf("Field '%s' must be less than or equal to %s", fe.Field(), fe.Param())
	case "min":
		return fmt.Sprintf("Field '%s' must have at least %s element(s)", fe.Field(), fe.Param())
	case "max":
		return fmt.Sprintf("Field '%s' must be at most %s characters", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("Field '%s' failed validation on the '%s' tag", fe.Field(), fe.Tag())
	}
}
