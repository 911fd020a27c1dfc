package ierr

import "errors"

var (
	ErrValidation     = errors.New("validation failed")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrUpdateFailed   = errors.New("resource update failed")
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource conflict")
	ErrInternalServer = errors.New("internal server error")

	ErrAPIKeyNotFound     = errors.New("api key not found or disabled")
	ErrInvalidSignature   = errors.New("invalid webhook signature")
	ErrStaleWebhook       = errors.New("webhook timestamp outside tolerance")
	ErrKeyGenerationLimit = errors.New("could not generate a unique license key")
	ErrRateLimited        = errors.New("too many requests")
	ErrPayloadTooLarge    = errors.New("request body too large")
)
