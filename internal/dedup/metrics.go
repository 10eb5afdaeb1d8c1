package dedup

import (
	"fmt"
	"time"
)

const latencyWindow = 1000

const (
	lowHitRateThreshold   = 0.05
	minChecksForAdvice    = 20
	highLatencyThreshold  = 50 * time.Millisecond
	fuzzyToExactThreshold = 2.0
)

type outcome int

const (
	outcomeInvalid outcome = iota
	outcomeExact
	outcomeFuzzy
	outcomeNew
)

type counters struct {
	totalChecks  uint64
	exactMatches uint64
	fuzzyMatches uint64
	newURLs      uint64
}

// Metrics is a point-in-time view of the engine counters.
type Metrics struct {
	TotalChecks         uint64  `json:"totalChecks"`
	ExactMatches        uint64  `json:"exactMatches"`
	FuzzyMatches        uint64  `json:"fuzzyMatches"`
	NewURLs             uint64  `json:"newUrls"`
	HitRate             float64 `json:"hitRate"`
	AvgProcessingTimeMs float64 `json:"avgProcessingTimeMs"`
	SampleCount         int     `json:"sampleCount"`
}

// Report adds advisory recommendations to the metrics.
type Report struct {
	Metrics         Metrics   `json:"metrics"`
	Recommendations []string  `json:"recommendations"`
	GeneratedAt     time.Time `json:"generatedAt"`
}

func (e *Engine) record(o outcome, elapsed time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stats.totalChecks++
	switch o {
	case outcomeExact:
		e.stats.exactMatches++
	case outcomeFuzzy:
		e.stats.fuzzyMatches++
	case outcomeNew:
		e.stats.newURLs++
	}
	if len(e.window) < latencyWindow {
		e.window = append(e.window, elapsed)
		return
	}
	e.window[e.nextIdx] = elapsed
	e.nextIdx = (e.nextIdx + 1) % latencyWindow
}

// Metrics returns the current counters, the hit rate (exact plus fuzzy
// matches over all checks) and the mean latency of the last 1000 checks.
func (e *Engine) Metrics() Metrics {
	e.mu.Lock()
	defer e.mu.Unlock()
	m := Metrics{
		TotalChecks:  e.stats.totalChecks,
		ExactMatches: e.stats.exactMatches,
		FuzzyMatches: e.stats.fuzzyMatches,
		NewURLs:      e.stats.newURLs,
		SampleCount:  len(e.window),
	}
	if m.TotalChecks > 0 {
		m.HitRate = float64(m.ExactMatches+m.FuzzyMatches) / float64(m.TotalChecks)
	}
	if len(e.window) > 0 {
		var sum time.Duration
		for _, d := range e.window {
			sum += d
		}
		m.AvgProcessingTimeMs = float64(sum.Microseconds()) / 1000.0 / float64(len(e.window))
	}
	return m
}

// Report derives recommendations from the current metrics.
func (e *Engine) Report() Report {
	m := e.Metrics()
	recs := []string{}
	if m.TotalChecks >= minChecksForAdvice && m.HitRate < lowHitRateThreshold {
		recs = append(recs, fmt.Sprintf("duplicate hit rate is %.1f%%; deduplication is rarely saving work", m.HitRate*100))
	}
	if m.SampleCount > 0 && m.AvgProcessingTimeMs > float64(highLatencyThreshold.Milliseconds()) {
		recs = append(recs, fmt.Sprintf("average check latency %.1fms is high; consider indexing existing analyses by hash", m.AvgProcessingTimeMs))
	}
	if m.FuzzyMatches > 0 && float64(m.FuzzyMatches) > fuzzyToExactThreshold*float64(m.ExactMatches) {
		recs = append(recs, "fuzzy matches outnumber exact matches; users may be submitting domain variants")
	}
	return Report{Metrics: m, Recommendations: recs, GeneratedAt: e.now().UTC()}
}
