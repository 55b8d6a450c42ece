package media

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies why a candidate was rejected and whether a retry can help.
type ErrorKind string

const (
	// ErrValidation covers malformed, oversized or wrong-signature media.
	ErrValidation ErrorKind = "validation"
	// ErrRateLimit means too many attempts in the current window.
	ErrRateLimit ErrorKind = "rate_limited"
	// ErrQuotaExceeded means an event or contributor ceiling was reached.
	ErrQuotaExceeded ErrorKind = "quota_exceeded"
	// ErrTransient means a dependency read failed while deciding.
	ErrTransient ErrorKind = "transient"
	// ErrInternal is a validator failure converted at the orchestrator boundary.
	ErrInternal ErrorKind = "internal"
)

// Issue codes shared by validators, the limiter and the quota enforcer.
const (
	CodeUnsupportedType     = "unsupported_type"
	CodeSignatureMismatch   = "signature_mismatch"
	CodeEmptyFile           = "empty_file"
	CodeFileTooLarge        = "file_too_large"
	CodeCorrupted           = "corrupted_media"
	CodeDimensionsTooSmall  = "dimensions_too_small"
	CodeDimensionsTooLarge  = "dimensions_too_large"
	CodeDurationTooLong     = "duration_too_long"
	CodeResolutionTooLow    = "resolution_too_low"
	CodeDecodeTimeout       = "decode_timeout"
	CodeKindMismatch        = "kind_mismatch"
	CodeRateLimited         = "rate_limited"
	CodeEventQuota          = "event_quota_exceeded"
	CodeContributorQuota    = "contributor_quota_exceeded"
	CodeRateLimitUnavail    = "rate_limit_unavailable"
	CodeQuotaUnavailable    = "quota_unavailable"
	CodeValidatorFailure    = "validator_failure"
	CodeExecutableExtension = "executable_extension"
	CodeMultipleExtensions  = "multiple_extensions"
	CodeControlCharacters   = "control_characters"
	CodeExtensionMismatch   = "extension_mismatch"
	CodeSizeMismatch        = "size_mismatch"
	CodeImplausibleSize     = "implausible_size"
	CodeEmbeddedMarkup      = "embedded_markup"
	CodeInvalidRequest      = "invalid_request"
	CodeMissingCaller       = "missing_caller"
	CodeStorageUnavailable  = "storage_unavailable"
	CodeEventBusUnavailable = "event_bus_unavailable"
)

// Error is a single diagnostic produced while evaluating a candidate.
// It doubles as a warning when placed in Report.Warnings.
type Error struct {
	Kind    ErrorKind `json:"kind"`
	Code    string    `json:"code"`
	Message string    `json:"message"`
	// ResetAt is set for rate-limit rejections.
	ResetAt time.Time `json:"reset_at,omitzero"`
	Err     error     `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether resubmitting the same file can succeed without
// changing it. Quota rejections need an external change, validation needs a
// different file.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case ErrRateLimit, ErrTransient:
		return true
	default:
		return false
	}
}

// RetryAfter is the wait until ResetAt, rounded up to whole seconds.
func (e *Error) RetryAfter(now time.Time) time.Duration {
	if e.ResetAt.IsZero() || !e.ResetAt.After(now) {
		return 0
	}
	d := e.ResetAt.Sub(now)
	return ((d + time.Second - 1) / time.Second) * time.Second
}

// Validationf builds a validation error.
func Validationf(code, format string, args ...any) *Error {
	return &Error{Kind: ErrValidation, Code: code, Message: fmt.Sprintf(format, args...)}
}

// RateLimited builds a rate-limit rejection that resets at resetAt.
func RateLimited(message string, resetAt time.Time) *Error {
	return &Error{Kind: ErrRateLimit, Code: CodeRateLimited, Message: message, ResetAt: resetAt}
}

// QuotaExceeded builds a quota rejection.
func QuotaExceeded(code, format string, args ...any) *Error {
	return &Error{Kind: ErrQuotaExceeded, Code: code, Message: fmt.Sprintf(format, args...)}
}

// Transient wraps a dependency failure.
func Transient(code, message string, err error) *Error {
	return &Error{Kind: ErrTransient, Code: code, Message: message, Err: err}
}

// Warning builds a non-blocking pattern-scan finding.
func Warning(code, format string, args ...any) *Error {
	return &Error{Kind: ErrValidation, Code: code, Message: fmt.Sprintf(format, args...)}
}

// AsError extracts a *Error from err.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
