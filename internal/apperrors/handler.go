package apperrors

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"anamnesis-backend/internal/shared/telemetry"
)

const statsWindow = time.Hour

// Context correlates an error with the request that produced it.
type Context struct {
	RequestID string
	UserID    string
}

// Stats is the per-code frequency of handled errors in the current window.
type Stats struct {
	WindowStart time.Time      `json:"windowStart"`
	Total       int            `json:"total"`
	ByCode      map[string]int `json:"byCode"`
	ByCategory  map[string]int `json:"byCategory"`
}

// Handler converts arbitrary failures into structured errors and counts
// them. Counts reset when the hour window rolls over.
type Handler struct {
	Now func() time.Time

	mu          sync.Mutex
	windowStart time.Time
	byCode      map[string]int
	byCategory  map[string]int
}

func NewHandler(now func() time.Time) *Handler {
	if now == nil {
		now = time.Now
	}
	return &Handler{Now: now}
}

// Handle classifies err, attaches correlation and records it. The returned
// error is a copy; a structured err passed in is left untouched.
func (h *Handler) Handle(err error, c Context) *Error {
	if err == nil {
		return nil
	}
	structured := Classify(err).clone().WithContext(c)
	count := h.record(structured)
	if structured.Severity == SeverityHigh || structured.Severity == SeverityCritical {
		fields := map[string]any{
			"code":       structured.Code,
			"category":   string(structured.Category),
			"severity":   string(structured.Severity),
			"count":      count,
			"request_id": structured.RequestID,
			"user_id":    structured.UserID,
		}
		if cause := structured.Unwrap(); cause != nil {
			fields["cause"] = cause.Error()
		}
		telemetry.Error(structured.Message, fields)
	}
	return structured
}

// Stats returns a copy of the counters.
func (h *Handler) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.rollLocked()
	out := Stats{
		WindowStart: h.windowStart,
		ByCode:      make(map[string]int, len(h.byCode)),
		ByCategory:  make(map[string]int, len(h.byCategory)),
	}
	for k, v := range h.byCode {
		out.ByCode[k] = v
		out.Total += v
	}
	for k, v := range h.byCategory {
		out.ByCategory[k] = v
	}
	return out
}

func (h *Handler) record(e *Error) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.rollLocked()
	h.byCode[e.Code]++
	h.byCategory[string(e.Category)]++
	return h.byCode[e.Code]
}

func (h *Handler) rollLocked() {
	now := h.now()
	if h.byCode == nil || now.Sub(h.windowStart) >= statsWindow {
		h.windowStart = now
		h.byCode = make(map[string]int)
		h.byCategory = make(map[string]int)
	}
}

func (h *Handler) now() time.Time {
	if h.Now == nil {
		return time.Now()
	}
	return h.Now()
}

// Classify returns err itself when it is already structured, otherwise a new
// structured error chosen by sniffing the message.
func Classify(err error) *Error {
	if e, ok := As(err); ok {
		return e
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return New(CodeTimeout, "operation timed out", CategoryTimeout, SeverityMedium, true).WithCause(err)
	}
	if errors.Is(err, context.Canceled) {
		return New(CodeInternal, "operation cancelled", CategoryInternal, SeverityLow, false).WithCause(err)
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "timed out"):
		return New(CodeTimeout, "operation timed out", CategoryTimeout, SeverityMedium, true).WithCause(err)
	case strings.Contains(msg, "network") || strings.Contains(msg, "connection"):
		return New(CodeNetwork, "network request failed", CategoryNetwork, SeverityMedium, true).WithCause(err)
	case strings.Contains(msg, "rate limit"):
		e := New(CodeRateLimit, "rate limit exceeded", CategoryRateLimit, SeverityMedium, true).WithCause(err)
		e.Kind = KindRateLimit
		return e
	default:
		return New(CodeInternal, "internal error", CategoryInternal, SeverityHigh, false).WithCause(err)
	}
}
