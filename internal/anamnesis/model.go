package anamnesis

import (
	"time"

	"anamnesis-backend/internal/status"
	"anamnesis-backend/internal/worker"
)

// DeletedMessage is the error message of a soft-deleted analysis.
const DeletedMessage = "Deleted by user"

// Source statuses.
const (
	SourcePending = "pending"
	SourceFetched = "fetched"
	SourceError   = "error"
)

// Analysis is one digital-presence analysis of a business.
type Analysis struct {
	ID                string           `json:"id"`
	UserID            string           `json:"userId"`
	PrimaryURL        string           `json:"primaryUrl"`
	PrimaryHash       string           `json:"primaryHash"`
	Status            status.Status    `json:"status"`
	ScoreCompleteness int              `json:"scoreCompleteness"`
	ErrorCode         *string          `json:"errorCode,omitempty"`
	ErrorMessage      *string          `json:"errorMessage,omitempty"`
	ErrorRetryable    bool             `json:"errorRetryable"`
	Findings          []worker.Finding `json:"findings,omitempty"`
	CreatedAt         time.Time        `json:"createdAt"`
	UpdatedAt         time.Time        `json:"updatedAt"`
	StartedAt         *time.Time       `json:"startedAt,omitempty"`
	CompletedAt       *time.Time       `json:"completedAt,omitempty"`
	DeletedAt         *time.Time       `json:"-"`
}

// Deleted reports whether the analysis was soft-deleted.
func (a Analysis) Deleted() bool { return a.DeletedAt != nil }

// Source is one URL analyzed as part of an Analysis. Position 0 is the
// primary URL.
type Source struct {
	ID            string     `json:"id"`
	AnalysisID    string     `json:"analysisId"`
	Type          string     `json:"type"`
	URL           string     `json:"url"`
	NormalizedURL string     `json:"normalizedUrl"`
	Provider      string     `json:"provider,omitempty"`
	Hash          string     `json:"hash"`
	Status        string     `json:"status"`
	Error         string     `json:"error,omitempty"`
	SnapshotKey   string     `json:"-"`
	LastFetchedAt *time.Time `json:"lastFetchedAt,omitempty"`
	Position      int        `json:"position"`
}

// StatusUpdate carries the fields written together with a status change.
// Nil fields are left untouched.
type StatusUpdate struct {
	ScoreCompleteness *int
	Findings          []worker.Finding
	ErrorCode         *string
	ErrorMessage      *string
	ErrorRetryable    *bool
	ClearError        bool
	StartedAt         *time.Time
	CompletedAt       *time.Time
	ClearTimes        bool
	DeletedAt         *time.Time
}

// ListFilter selects a page of a user's analyses.
type ListFilter struct {
	Status status.Status
	Limit  int
	Offset int
}
