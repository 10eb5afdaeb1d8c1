// Package dedup decides whether a submitted URL repeats analysis work a user
// already has, and keeps rolling efficiency metrics for that decision.
package dedup

import (
	"sort"
	"sync"
	"time"

	"anamnesis-backend/internal/canonical"
)

// Confidence is the qualitative strength of a match.
type Confidence string

const (
	ConfidenceExact  Confidence = "exact"
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// MatchType names the mechanism that produced a result.
type MatchType string

const (
	MatchHash       MatchType = "hash"
	MatchNormalized MatchType = "normalized"
	MatchFuzzy      MatchType = "fuzzy"
	MatchNone       MatchType = "none"
)

// Candidate is an existing analysis the check compares against. Hash may be
// empty for records created before hashes were stored. UserID, when set,
// must match the user being checked.
type Candidate struct {
	AnalysisID string
	UserID     string
	URL        string
	Hash       string
}

// Suggestion is a near-duplicate that was not merged automatically.
type Suggestion struct {
	AnalysisID string  `json:"analysisId"`
	URL        string  `json:"url"`
	Similarity float64 `json:"similarity"`
}

// Result is the outcome of a duplication check.
type Result struct {
	IsDuplicate        bool         `json:"isDuplicate"`
	OriginalAnalysisID string       `json:"originalAnalysisId,omitempty"`
	Hash               string       `json:"hash,omitempty"`
	NormalizedURL      string       `json:"normalizedUrl,omitempty"`
	Confidence         Confidence   `json:"confidence"`
	MatchType          MatchType    `json:"matchType"`
	Suggestions        []Suggestion `json:"suggestions,omitempty"`
}

// Engine runs duplication checks. It is safe for concurrent use; metrics are
// scoped to the instance.
type Engine struct {
	now func() time.Time

	mu      sync.Mutex
	stats   counters
	window  []time.Duration
	nextIdx int
}

// NewEngine constructs an Engine. A nil clock defaults to time.Now.
func NewEngine(now func() time.Time) *Engine {
	if now == nil {
		now = time.Now
	}
	return &Engine{
		now:    now,
		window: make([]time.Duration, 0, latencyWindow),
	}
}

// Check compares url against existing in strict priority order: exact hash,
// normalized URL (for candidates without a hash), fuzzy domain similarity,
// no match. Fuzzy matches only produce suggestions; they never mark the URL
// as a duplicate. Candidates owned by another user are ignored.
func (e *Engine) Check(url, userID string, existing []Candidate) Result {
	start := e.now()
	res, outcome := e.check(url, ownedBy(userID, existing))
	e.record(outcome, e.now().Sub(start))
	return res
}

// CheckBatch checks every url against existing. Entries are not compared with
// each other, so two equivalent URLs in the same batch both report as new.
func (e *Engine) CheckBatch(urls []string, userID string, existing []Candidate) map[string]Result {
	out := make(map[string]Result, len(urls))
	for _, u := range urls {
		out[u] = e.Check(u, userID, existing)
	}
	return out
}

// ValidateHashIntegrity recomputes the hash of url and compares it with hash.
func (e *Engine) ValidateHashIntegrity(url, hash string) bool {
	return canonical.ValidateHashIntegrity(url, hash)
}

func ownedBy(userID string, existing []Candidate) []Candidate {
	out := make([]Candidate, 0, len(existing))
	for _, cand := range existing {
		if cand.UserID == "" || cand.UserID == userID {
			out = append(out, cand)
		}
	}
	return out
}

func (e *Engine) check(url string, existing []Candidate) (Result, outcome) {
	c := canonical.Canonicalize(url)
	if !c.IsValid {
		return Result{IsDuplicate: false, Confidence: ConfidenceLow, MatchType: MatchNone}, outcomeInvalid
	}
	base := Result{Hash: c.Hash, NormalizedURL: c.Normalized}

	for _, cand := range existing {
		if cand.Hash != "" && cand.Hash == c.Hash {
			base.IsDuplicate = true
			base.OriginalAnalysisID = cand.AnalysisID
			base.Confidence = ConfidenceExact
			base.MatchType = MatchHash
			return base, outcomeExact
		}
	}

	for _, cand := range existing {
		if cand.Hash != "" {
			continue
		}
		other := canonical.Canonicalize(cand.URL)
		if other.IsValid && other.Normalized == c.Normalized {
			base.IsDuplicate = true
			base.OriginalAnalysisID = cand.AnalysisID
			base.Confidence = ConfidenceHigh
			base.MatchType = MatchNormalized
			return base, outcomeExact
		}
	}

	suggestions := fuzzySuggestions(c.Host, existing)
	if len(suggestions) > 0 {
		base.Confidence = ConfidenceMedium
		base.MatchType = MatchFuzzy
		base.Suggestions = suggestions
		return base, outcomeFuzzy
	}

	base.Confidence = ConfidenceHigh
	base.MatchType = MatchNone
	return base, outcomeNew
}

func fuzzySuggestions(host string, existing []Candidate) []Suggestion {
	var out []Suggestion
	seen := make(map[string]struct{})
	for _, cand := range existing {
		other := canonical.Canonicalize(cand.URL)
		if !other.IsValid {
			continue
		}
		sim := DomainSimilarity(host, other.Host)
		if sim <= FuzzyThreshold {
			continue
		}
		if _, dup := seen[other.Normalized]; dup {
			continue
		}
		seen[other.Normalized] = struct{}{}
		out = append(out, Suggestion{AnalysisID: cand.AnalysisID, URL: cand.URL, Similarity: sim})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Similarity > out[j].Similarity
	})
	return out
}
