package embedpipe

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors matched from API error codes. Use errors.Is() to check.
var (
	ErrJobNotFound       = errors.New("job not found")
	ErrJobNotCancellable = errors.New("job not cancellable")
	ErrEmbeddingNotFound = errors.New("embedding not found")
	ErrUnknownStrategy   = errors.New("unknown strategy")
	ErrRateLimited       = errors.New("rate limited")
	ErrQuotaDenied       = errors.New("quota denied")
	ErrProvider          = errors.New("embedding provider error")
	ErrShuttingDown      = errors.New("server shutting down")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrValidation        = errors.New("validation failed")
)

// APIError is a structured error returned by the pipeline API. It unwraps
// to the sentinel matching its code when one exists.
type APIError struct {
	Status  int    // HTTP status code
	Code    string // machine-readable error code
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("embedpipe: %s (code %s, http %d)", e.Message, e.Code, e.Status)
}

func (e *APIError) Unwrap() error {
	if e.Status == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	return codeSentinels[e.Code]
}

var codeSentinels = map[string]error{
	"job_not_found":       ErrJobNotFound,
	"job_not_cancellable": ErrJobNotCancellable,
	"embedding_not_found": ErrEmbeddingNotFound,
	"unknown_strategy":    ErrUnknownStrategy,
	"rate_limited":        ErrRateLimited,
	"quota_denied":        ErrQuotaDenied,
	"provider_error":      ErrProvider,
	"shutting_down":       ErrShuttingDown,
	"validation_failed":   ErrValidation,
}
