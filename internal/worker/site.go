package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"anamnesis-backend/internal/apperrors"
	"anamnesis-backend/internal/canonical"
	"anamnesis-backend/internal/extract"
	"anamnesis-backend/internal/shared/storage/object"
	"anamnesis-backend/internal/shared/telemetry"
)

const (
	defaultMaxBodyBytes = 5 << 20
	defaultUserAgent    = "anamnesis-bot/1.0 (+https://anamnesis.app/bot)"
)

// Fetched is one source after download and text extraction.
type Fetched struct {
	Source   SourceInput
	Document extract.Document
	Outcome  SourceOutcome
}

// Crawl is the outcome of fetching every source of a request.
type Crawl struct {
	Fetched  []Fetched
	Outcomes []SourceOutcome
	Findings []Finding
}

// SiteWorker downloads every source over HTTP, extracts its text and keeps a
// raw snapshot in the object store when one is configured.
type SiteWorker struct {
	HTTPClient   *http.Client
	Limiter      *rate.Limiter
	Store        object.ObjectStore
	MaxBodyBytes int64
	UserAgent    string
	// MinSuccess is the number of sources that must be fetched for the
	// analysis to count as done. Zero means one.
	MinSuccess int
	Now        func() time.Time
}

// NewSiteWorker constructs a SiteWorker issuing at most ratePerSec requests
// per second across all analyses. A nil client means NewPublicHTTPClient.
func NewSiteWorker(client *http.Client, ratePerSec float64, store object.ObjectStore) *SiteWorker {
	if client == nil {
		client = NewPublicHTTPClient(20 * time.Second)
	}
	limit := rate.Inf
	if ratePerSec > 0 {
		limit = rate.Limit(ratePerSec)
	}
	return &SiteWorker{
		HTTPClient: client,
		Limiter:    rate.NewLimiter(limit, 1),
		Store:      store,
	}
}

func (w *SiteWorker) Analyze(ctx context.Context, req Request) (Result, error) {
	crawl, err := w.Fetch(ctx, req)
	if err != nil {
		return Result{}, err
	}
	return crawl.Result("site"), nil
}

// Result converts the crawl into a worker result.
func (c Crawl) Result(workerName string) Result {
	findings := append([]Finding{}, c.Findings...)
	fetched := 0
	for _, o := range c.Outcomes {
		if o.Status == SourceFetched {
			fetched++
		}
	}
	return Result{
		Status:            StatusDone,
		ScoreCompleteness: Completeness(c.Outcomes),
		Findings:          findings,
		Sources:           c.Outcomes,
		Metadata: map[string]any{
			"worker":         workerName,
			"fetchedSources": fetched,
			"failedSources":  len(c.Outcomes) - fetched,
		},
	}
}

// Fetch downloads all sources concurrently. It fails only when fewer than
// MinSuccess sources could be fetched.
func (w *SiteWorker) Fetch(ctx context.Context, req Request) (Crawl, error) {
	ops := make([]func(context.Context) (Fetched, error), 0, len(req.Sources))
	for _, src := range req.Sources {
		ops = append(ops, func(ctx context.Context) (Fetched, error) {
			return w.fetchSource(ctx, req, src)
		})
	}

	minSuccess := w.MinSuccess
	if minSuccess <= 0 {
		minSuccess = 1
	}
	partial, err := apperrors.WithPartialSuccess(ctx, ops, minSuccess)
	crawl := w.collect(req, partial)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return crawl, ctxErr
		}
		return crawl, apperrors.Analysis("no source of the analysis could be fetched", err).
			WithDetails(map[string]any{"failedSources": partial.FailureCount})
	}
	return crawl, nil
}

func (w *SiteWorker) collect(req Request, partial apperrors.PartialResult[Fetched]) Crawl {
	byID := make(map[string]Fetched, len(partial.Results))
	for _, f := range partial.Results {
		byID[f.Source.ID] = f
	}
	failed := make(map[int]error, len(partial.Errors))
	for _, e := range partial.Errors {
		failed[e.Index] = e.Err
	}

	now := w.now()
	var crawl Crawl
	for i, src := range req.Sources {
		if f, ok := byID[src.ID]; ok {
			crawl.Fetched = append(crawl.Fetched, f)
			crawl.Outcomes = append(crawl.Outcomes, f.Outcome)
			crawl.Findings = append(crawl.Findings, documentFindings(f)...)
			continue
		}
		msg := "not fetched"
		if err := failed[i]; err != nil {
			msg = err.Error()
		}
		crawl.Outcomes = append(crawl.Outcomes, SourceOutcome{
			SourceID:  src.ID,
			Status:    SourceError,
			Error:     msg,
			FetchedAt: now,
		})
		crawl.Findings = append(crawl.Findings, Finding{
			SourceID: src.ID,
			Category: "availability",
			Title:    "Source unreachable",
			Detail:   fmt.Sprintf("%s could not be fetched: %s", src.URL, msg),
			Severity: "warning",
		})
	}
	return crawl
}

func documentFindings(f Fetched) []Finding {
	if f.Source.Type != canonical.TypeSite || !strings.Contains(f.Document.MimeType, "html") {
		return nil
	}
	var out []Finding
	if f.Document.Title == "" {
		out = append(out, Finding{
			SourceID: f.Source.ID,
			Category: "content",
			Title:    "Missing page title",
			Detail:   "The page has no <title>; search results will show a generated one.",
			Severity: "info",
		})
	}
	if f.Document.Description == "" {
		out = append(out, Finding{
			SourceID: f.Source.ID,
			Category: "content",
			Title:    "Missing meta description",
			Detail:   "The page has no meta description.",
			Severity: "info",
		})
	}
	if len(f.Document.SchemaTypes) == 0 {
		out = append(out, Finding{
			SourceID: f.Source.ID,
			Category: "discoverability",
			Title:    "No structured data",
			Detail:   "The page declares no schema.org JSON-LD, so maps and search cannot read opening hours or address.",
			Severity: "info",
		})
	}
	return out
}

func (w *SiteWorker) fetchSource(ctx context.Context, req Request, src SourceInput) (Fetched, error) {
	if w.Limiter != nil {
		if err := w.Limiter.Wait(ctx); err != nil {
			return Fetched{}, err
		}
	}
	target, err := fetchTarget(src)
	if err != nil {
		return Fetched{}, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return Fetched{}, err
	}
	ua := w.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}
	httpReq.Header.Set("User-Agent", ua)
	httpReq.Header.Set("Accept", "text/html,application/xhtml+xml,application/pdf;q=0.9,*/*;q=0.8")

	client := w.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return Fetched{}, fmt.Errorf("fetch timeout: %w", err)
		}
		return Fetched{}, fmt.Errorf("fetch connection: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return Fetched{}, fmt.Errorf("fetch %s: rate limit (status 429)", target)
	case resp.StatusCode >= 500:
		return Fetched{}, fmt.Errorf("fetch %s: service unavailable (status %d)", target, resp.StatusCode)
	case resp.StatusCode >= 400:
		return Fetched{}, fmt.Errorf("fetch %s: status %d", target, resp.StatusCode)
	}

	limit := w.MaxBodyBytes
	if limit <= 0 {
		limit = defaultMaxBodyBytes
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return Fetched{}, fmt.Errorf("fetch %s: read body: %w", target, err)
	}

	contentType := resp.Header.Get("Content-Type")
	doc, err := extract.FromBytes(ctx, body, contentType, resp.Request.URL.Path, resp.Request.URL.String())
	if err != nil {
		return Fetched{}, err
	}

	outcome := SourceOutcome{SourceID: src.ID, Status: SourceFetched, FetchedAt: w.now()}
	outcome.SnapshotKey = w.saveSnapshot(ctx, req, src, doc.MimeType, body)
	return Fetched{Source: src, Document: doc, Outcome: outcome}, nil
}

func (w *SiteWorker) saveSnapshot(ctx context.Context, req Request, src SourceInput, mimeType string, body []byte) string {
	if w.Store == nil {
		return ""
	}
	key, err := object.SnapshotKey(req.UserID, req.AnalysisID, src.ID, extensionFor(mimeType))
	if err != nil {
		return ""
	}
	if _, err := w.Store.Put(ctx, key, mimeType, bytes.NewReader(body)); err != nil {
		telemetry.Warn("worker.snapshot_failed", map[string]any{
			"analysis_id": req.AnalysisID,
			"source_id":   src.ID,
			"error":       err.Error(),
		})
		return ""
	}
	return key
}

// fetchTarget is the address the user submitted. The normalized URL is an
// identity key with the scheme forced to https and is only used when the
// original is missing.
func fetchTarget(src SourceInput) (string, error) {
	raw := strings.TrimSpace(src.URL)
	if raw == "" {
		raw = src.NormalizedURL
	}
	switch {
	case strings.HasPrefix(raw, "//"):
		raw = "https:" + raw
	case !strings.Contains(raw, "://"):
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", src.URL, err)
	}
	if u.Scheme = strings.ToLower(u.Scheme); u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("fetch %s: unsupported scheme %q", src.URL, u.Scheme)
	}
	u.Fragment = ""
	return u.String(), nil
}

func extensionFor(mimeType string) string {
	switch {
	case strings.Contains(mimeType, "html"):
		return ".html"
	case mimeType == "application/pdf":
		return ".pdf"
	case mimeType == "text/plain":
		return ".txt"
	default:
		return ".bin"
	}
}

func (w *SiteWorker) now() time.Time {
	if w.Now != nil {
		return w.Now()
	}
	return time.Now().UTC()
}

var _ Worker = (*SiteWorker)(nil)
