package worker

import (
	"context"
	"fmt"

	"anamnesis-backend/internal/apperrors"
	"anamnesis-backend/internal/llm"
)

const maxFindingsPerAnalysis = 50

// LLMWorker fetches sources with Site and asks an LLM to review them. When
// the LLM keeps failing, the plain crawl result is returned instead.
type LLMWorker struct {
	Site        *SiteWorker
	LLM         llm.Client
	Recovery    *apperrors.Recovery
	MaxAttempts int
}

func (w *LLMWorker) Analyze(ctx context.Context, req Request) (Result, error) {
	crawl, err := w.Site.Fetch(ctx, req)
	if err != nil {
		return Result{}, err
	}
	base := crawl.Result("llm")

	return apperrors.WithFallback(ctx,
		func(ctx context.Context) (Result, error) {
			return w.review(ctx, req, crawl, base)
		},
		func(ctx context.Context) (Result, error) {
			out := base
			out.Metadata["llmFallback"] = true
			return out, nil
		},
	)
}

func (w *LLMWorker) review(ctx context.Context, req Request, crawl Crawl, base Result) (Result, error) {
	if w.LLM == nil {
		return Result{}, fmt.Errorf("llm client not configured")
	}
	input := llm.PresenceInput{AnalysisID: req.AnalysisID, PrimaryURL: req.PrimaryURL}
	for _, f := range crawl.Fetched {
		input.Sources = append(input.Sources, llm.SourceDigest{
			SourceID:    f.Source.ID,
			Type:        f.Source.Type,
			Provider:    f.Source.Provider,
			URL:         f.Source.URL,
			Title:       f.Document.Title,
			Description: f.Document.Description,
			Language:    f.Document.Language,
			SchemaTypes: f.Document.SchemaTypes,
			Text:        f.Document.Text,
		})
	}

	recovery := w.Recovery
	if recovery == nil {
		recovery = apperrors.NewRecovery()
	}
	var promptHash string
	hashCtx := llm.WithPromptHashCapture(ctx, &promptHash)
	resp, err := apperrors.Retry(hashCtx, recovery, func(ctx context.Context) (llm.Response, error) {
		raw, err := w.LLM.ReviewPresence(ctx, input)
		if err != nil {
			return llm.Response{}, err
		}
		parsed, err := llm.ParseResponse(raw)
		if err != nil {
			return llm.Response{}, fmt.Errorf("llm output parse: %w", err)
		}
		return parsed, nil
	}, w.MaxAttempts)
	if err != nil {
		return Result{}, err
	}

	known := make(map[string]bool, len(req.Sources))
	for _, src := range req.Sources {
		known[src.ID] = true
	}
	out := base
	out.Findings = append([]Finding{}, base.Findings...)
	for _, f := range resp.Findings {
		if len(out.Findings) >= maxFindingsPerAnalysis {
			break
		}
		sourceID := f.SourceID
		if !known[sourceID] {
			sourceID = ""
		}
		out.Findings = append(out.Findings, Finding{
			SourceID: sourceID,
			Category: f.Category,
			Title:    f.Title,
			Detail:   f.Detail,
			Severity: f.Severity,
		})
	}
	out.Metadata = copyMetadata(base.Metadata)
	out.Metadata["promptVersion"] = llm.PromptVersion
	out.Metadata["promptHash"] = promptHash
	return out, nil
}

func copyMetadata(in map[string]any) map[string]any {
	out := make(map[string]any, len(in)+2)
	for k, v := range in {
		out[k] = v
	}
	return out
}

var _ Worker = (*LLMWorker)(nil)
