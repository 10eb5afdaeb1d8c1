// Package apperrors defines the structured error shape surfaced to clients,
// the central classifier that produces it, and retry/degradation helpers for
// background work.
package apperrors

import (
	"errors"
	"fmt"
	"time"
)

// Kind discriminates the specializations of Error.
type Kind string

const (
	KindBase       Kind = "base"
	KindValidation Kind = "validation"
	KindTimeout    Kind = "timeout"
	KindAnalysis   Kind = "analysis"
	KindRateLimit  Kind = "rate_limit"
)

type Category string

const (
	CategoryValidation      Category = "validation"
	CategoryTimeout         Category = "timeout"
	CategoryAnalysis        Category = "analysis"
	CategoryRateLimit       Category = "rate_limit"
	CategoryNetwork         Category = "network"
	CategoryDatabase        Category = "database"
	CategoryExternalService Category = "external_service"
	CategoryInternal        Category = "internal"
	CategoryAuthentication  Category = "authentication"
	CategoryAuthorization   Category = "authorization"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

const (
	CodeValidation          = "VALIDATION_ERROR"
	CodeTimeout             = "TIMEOUT_ERROR"
	CodeAnalysis            = "ANALYSIS_ERROR"
	CodeRateLimit           = "RATE_LIMIT_EXCEEDED"
	CodeNetwork             = "NETWORK_ERROR"
	CodeDatabase            = "DATABASE_ERROR"
	CodeExternalService     = "EXTERNAL_SERVICE_ERROR"
	CodeInternal            = "INTERNAL_ERROR"
	CodeNotFound            = "NOT_FOUND"
	CodeInsufficientSuccess = "INSUFFICIENT_SUCCESS"
	CodeUnauthorized        = "UNAUTHORIZED"
	CodeForbidden           = "FORBIDDEN"
)

var suggestedActions = map[Category]string{
	CategoryValidation:      "Check the request and try again.",
	CategoryTimeout:         "The operation took too long. Try again in a moment.",
	CategoryAnalysis:        "The analysis could not be completed. Retry the analysis.",
	CategoryRateLimit:       "Too many requests. Wait before retrying.",
	CategoryNetwork:         "A network problem occurred. Try again shortly.",
	CategoryDatabase:        "A storage problem occurred. Try again later.",
	CategoryExternalService: "A dependent service is unavailable. Try again later.",
	CategoryInternal:        "An unexpected error occurred. Contact support if it persists.",
	CategoryAuthentication:  "Sign in again or send a guest id.",
	CategoryAuthorization:   "You do not have access to this resource.",
}

// SuggestedAction returns the default client hint for category.
func SuggestedAction(category Category) string {
	if action, ok := suggestedActions[category]; ok {
		return action
	}
	return suggestedActions[CategoryInternal]
}

// Error is the structured error carried across the service. The specialized
// forms share one struct and are told apart by Kind.
type Error struct {
	Kind            Kind
	Code            string
	Message         string
	Category        Category
	Severity        Severity
	Retryable       bool
	SuggestedAction string
	Timestamp       time.Time
	RequestID       string
	UserID          string
	Details         map[string]any
	ResetAt         *time.Time

	cause error
}

// New builds a base structured error.
func New(code, message string, category Category, severity Severity, retryable bool) *Error {
	return &Error{
		Kind:            KindBase,
		Code:            code,
		Message:         message,
		Category:        category,
		Severity:        severity,
		Retryable:       retryable,
		SuggestedAction: SuggestedAction(category),
		Timestamp:       time.Now().UTC(),
	}
}

// Validation reports malformed input. Never retryable.
func Validation(message string, details map[string]any) *Error {
	e := New(CodeValidation, message, CategoryValidation, SeverityLow, false)
	e.Kind = KindValidation
	e.Details = details
	return e
}

// Timeout reports an operation that exceeded its budget.
func Timeout(operation string, limit time.Duration) *Error {
	e := New(CodeTimeout, fmt.Sprintf("%s timed out after %s", operation, limit), CategoryTimeout, SeverityMedium, true)
	e.Kind = KindTimeout
	e.Details = map[string]any{"operation": operation, "timeoutMs": limit.Milliseconds()}
	return e
}

// Analysis reports a failure produced by the analysis worker.
func Analysis(message string, cause error) *Error {
	e := New(CodeAnalysis, message, CategoryAnalysis, SeverityHigh, true)
	e.Kind = KindAnalysis
	e.cause = cause
	return e
}

// RateLimit reports upstream throttling. resetAt is when the caller may retry.
func RateLimit(message string, resetAt time.Time) *Error {
	e := New(CodeRateLimit, message, CategoryRateLimit, SeverityMedium, true)
	e.Kind = KindRateLimit
	r := resetAt.UTC()
	e.ResetAt = &r
	return e
}

// NotFound reports a missing or foreign resource.
func NotFound(resource string) *Error {
	e := New(CodeNotFound, resource+" not found", CategoryValidation, SeverityLow, false)
	e.SuggestedAction = "Check the identifier and try again."
	return e
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return e.Code + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.cause }

// WithCause records the underlying error. It is never exposed by Public.
func (e *Error) WithCause(err error) *Error {
	e.cause = err
	return e
}

func (e *Error) WithDetails(details map[string]any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any, len(details))
	}
	for k, v := range details {
		e.Details[k] = v
	}
	return e
}

func (e *Error) clone() *Error {
	c := *e
	if e.Details != nil {
		c.Details = make(map[string]any, len(e.Details))
		for k, v := range e.Details {
			c.Details[k] = v
		}
	}
	return &c
}

// WithContext attaches request correlation.
func (e *Error) WithContext(c Context) *Error {
	if c.RequestID != "" {
		e.RequestID = c.RequestID
	}
	if c.UserID != "" {
		e.UserID = c.UserID
	}
	return e
}

// PublicError is the client-facing JSON shape.
type PublicError struct {
	Code            string         `json:"code"`
	Message         string         `json:"message"`
	Category        Category       `json:"category"`
	Severity        Severity       `json:"severity"`
	Retryable       bool           `json:"retryable"`
	SuggestedAction string         `json:"suggestedAction"`
	Timestamp       string         `json:"timestamp"`
	RequestID       string         `json:"requestId,omitempty"`
	Details         map[string]any `json:"details,omitempty"`
	ResetAt         string         `json:"resetAt,omitempty"`
}

// Public strips the cause and user id.
func (e *Error) Public() PublicError {
	out := PublicError{
		Code:            e.Code,
		Message:         e.Message,
		Category:        e.Category,
		Severity:        e.Severity,
		Retryable:       e.Retryable,
		SuggestedAction: e.SuggestedAction,
		Timestamp:       e.Timestamp.UTC().Format(time.RFC3339),
		RequestID:       e.RequestID,
		Details:         e.Details,
	}
	if e.ResetAt != nil {
		out.ResetAt = e.ResetAt.UTC().Format(time.RFC3339)
	}
	return out
}

// As extracts a structured error from err's chain.
func As(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// HasCode reports whether err carries a structured error with code.
func HasCode(err error, code string) bool {
	e, ok := As(err)
	return ok && e.Code == code
}
