// Package metrics keeps process-wide pipeline counters and renders them in
// the Prometheus text format.
package metrics

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gin-gonic/gin"
)

type counter struct {
	name string
	help string
	v    atomic.Uint64
}

// counters render in registration order.
var counters []*counter

func newCounter(name, help string) *counter {
	c := &counter{name: name, help: help}
	counters = append(counters, c)
	return c
}

var (
	analysisCreated      = newCounter("analysis_created_total", "Total analyses created")
	analysisDeduplicated = newCounter("analysis_deduplicated_total", "Total create requests resolved to an existing analysis")
	analysisStarted      = newCounter("analysis_started_total", "Total analyses started")
	analysisCompleted    = newCounter("analysis_completed_total", "Total analyses completed")
	analysisFailed       = newCounter("analysis_failed_total", "Total analyses failed")
	analysisTimedOut     = newCounter("analysis_timed_out_total", "Total analyses that exceeded their deadline")
	analysisCancelled    = newCounter("analysis_cancelled_total", "Total analyses cancelled")
	sourceFetchErrors    = newCounter("source_fetch_errors_total", "Total sources that could not be fetched")

	jobsReceived      = newCounter("analysis_jobs_received_total", "Total analysis queue messages received")
	jobsCompleted     = newCounter("analysis_jobs_completed_total", "Total analysis queue messages completed")
	jobsFailed        = newCounter("analysis_jobs_failed_total", "Total analysis queue messages that failed processing")
	jobsUnrecoverable = newCounter("analysis_jobs_deleted_unrecoverable_total", "Total analysis queue messages deleted as unrecoverable")

	// Bounds in milliseconds; the last matches the analysis timeout.
	analysisDuration = newHistogram([]float64{100, 250, 500, 1000, 2000, 5000, 10000, 30000, 60000, 120000})
)

func IncAnalysisCreated()      { analysisCreated.v.Add(1) }
func IncAnalysisDeduplicated() { analysisDeduplicated.v.Add(1) }
func IncAnalysisStarted()      { analysisStarted.v.Add(1) }
func IncAnalysisCompleted()    { analysisCompleted.v.Add(1) }
func IncAnalysisFailed()       { analysisFailed.v.Add(1) }
func IncAnalysisTimedOut()     { analysisTimedOut.v.Add(1) }
func IncAnalysisCancelled()    { analysisCancelled.v.Add(1) }

// AddSourceFetchErrors counts sources a worker could not fetch.
func AddSourceFetchErrors(n int) {
	if n > 0 {
		sourceFetchErrors.v.Add(uint64(n))
	}
}

func IncAnalysisJobsReceived()  { jobsReceived.v.Add(1) }
func IncAnalysisJobsCompleted() { jobsCompleted.v.Add(1) }
func IncAnalysisJobsFailed()    { jobsFailed.v.Add(1) }

// IncAnalysisJobsDeletedUnrecoverable counts messages dropped because they
// can never be processed.
func IncAnalysisJobsDeletedUnrecoverable() { jobsUnrecoverable.v.Add(1) }

// ObserveAnalysisDurationMs records an analysis duration in milliseconds.
// Negative values are clamped to zero.
func ObserveAnalysisDurationMs(value float64) {
	analysisDuration.Observe(max(value, 0))
}

// Handler serves Render as text/plain for Prometheus scrapes.
func Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Data(http.StatusOK, "text/plain; version=0.0.4; charset=utf-8", []byte(Render()))
	}
}

// Render returns every counter followed by the duration histogram.
func Render() string {
	var b strings.Builder
	for _, c := range counters {
		writeHeader(&b, c.name, c.help, "counter")
		fmt.Fprintf(&b, "%s %d\n", c.name, c.v.Load())
	}
	writeHistogram(&b, "analysis_duration_ms", "Analysis duration in milliseconds", analysisDuration.Snapshot())
	return b.String()
}

type histogram struct {
	mu   sync.Mutex
	snap histogramSnapshot
}

type histogramSnapshot struct {
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

func newHistogram(buckets []float64) *histogram {
	return &histogram{snap: histogramSnapshot{buckets: buckets, counts: make([]uint64, len(buckets))}}
}

// Observe adds value to the first bucket whose bound it does not exceed.
// Counts are made cumulative when written.
func (h *histogram) Observe(value float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.snap.count++
	h.snap.sum += value
	for i, bound := range h.snap.buckets {
		if value <= bound {
			h.snap.counts[i]++
			return
		}
	}
}

func (h *histogram) Snapshot() histogramSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := h.snap
	s.buckets = append([]float64(nil), s.buckets...)
	s.counts = append([]uint64(nil), s.counts...)
	return s
}

func writeHeader(w io.Writer, name, help, kind string) {
	fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s %s\n", name, help, name, kind)
}

func writeHistogram(w io.Writer, name, help string, snap histogramSnapshot) {
	writeHeader(w, name, help, "histogram")
	var cumulative uint64
	for i, bound := range snap.buckets {
		cumulative += snap.counts[i]
		fmt.Fprintf(w, "%s_bucket{le=%q} %d\n", name, strconv.FormatFloat(bound, 'f', -1, 64), cumulative)
	}
	fmt.Fprintf(w, "%s_bucket{le=\"+Inf\"} %d\n", name, snap.count)
	fmt.Fprintf(w, "%s_sum %s\n", name, strconv.FormatFloat(snap.sum, 'f', -1, 64))
	fmt.Fprintf(w, "%s_count %d\n", name, snap.count)
}
