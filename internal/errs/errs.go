package errs

import "errors"

// Sentinel errors shared across the pipeline. Handlers map these to HTTP
// status codes; everything else is treated as an internal error.
var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrNotFound            = errors.New("not found")
	ErrUpstreamUnavailable = errors.New("reasoning service unavailable")
	ErrQuotaExceeded       = errors.New("reasoning service quota exceeded")
)
