package main

// Run the presence review prompt against live URLs:
//   go run ./cmd/prompttest -url https://clinic.example -social https://instagram.com/clinic

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"anamnesis-backend/internal/canonical"
	"anamnesis-backend/internal/llm"
	anthropicllm "anamnesis-backend/internal/llm/anthropic"
	openai "anamnesis-backend/internal/llm/openai"
	"anamnesis-backend/internal/shared/config"
	"anamnesis-backend/internal/worker"
)

func main() {
	cfg := config.Load()

	primary := flag.String("url", "", "Primary site URL")
	social := flag.String("social", "", "Comma separated social profile URLs (optional)")
	outPath := flag.String("out", "", "Path to write the result JSON (optional)")
	provider := flag.String("provider", cfg.LLMProvider, "LLM provider (anthropic or openai)")
	model := flag.String("model", cfg.LLMModel, "LLM model")
	timeout := flag.Duration("timeout", 2*time.Minute, "Overall time budget")
	flag.Parse()

	if strings.TrimSpace(*primary) == "" {
		exitErr("url is required")
	}

	urls := []string{*primary}
	for _, s := range strings.Split(*social, ",") {
		if s = strings.TrimSpace(s); s != "" {
			urls = append(urls, s)
		}
	}
	req, err := buildRequest(urls)
	if err != nil {
		exitErr(err.Error())
	}

	client, err := buildClient(*provider, *model)
	if err != nil {
		exitErr(err.Error())
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	w := &worker.LLMWorker{
		Site: worker.NewSiteWorker(worker.NewPublicHTTPClient(20*time.Second), cfg.FetchRatePerSec, nil),
		LLM:  client,
	}
	result, err := w.Analyze(ctx, req)
	if err != nil {
		exitErr(fmt.Sprintf("analyze: %v", err))
	}

	raw, err := json.Marshal(result)
	if err != nil {
		exitErr(fmt.Sprintf("encode result: %v", err))
	}
	pretty, err := prettyJSON(raw)
	if err != nil {
		exitErr(fmt.Sprintf("format json: %v", err))
	}

	if *outPath != "" {
		if err := os.WriteFile(*outPath, pretty, 0o644); err != nil {
			exitErr(fmt.Sprintf("write output: %v", err))
		}
	}

	if _, err := os.Stdout.Write(pretty); err != nil {
		exitErr(fmt.Sprintf("write stdout: %v", err))
	}
	_, _ = os.Stdout.Write([]byte("\n"))
}

func buildRequest(urls []string) (worker.Request, error) {
	batch := canonical.CanonicalizeBatch(urls)
	if len(batch.Invalid) > 0 {
		return worker.Request{}, fmt.Errorf("invalid url %q: %s", batch.Invalid[0].URL, batch.Invalid[0].Reason)
	}
	req := worker.Request{AnalysisID: "prompttest", UserID: "cli", PrimaryURL: urls[0]}
	for i, res := range batch.Processed {
		req.Sources = append(req.Sources, worker.SourceInput{
			ID:            "source-" + strconv.Itoa(i+1),
			Type:          canonical.DetectURLType(res.Normalized),
			Provider:      canonical.ExtractSocialProvider(res.Normalized),
			URL:           res.Original,
			NormalizedURL: res.Normalized,
		})
	}
	return req, nil
}

func buildClient(provider, model string) (llm.Client, error) {
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case "", "anthropic":
		return anthropicllm.NewClient(os.Getenv("ANTHROPIC_API_KEY"), model)
	case "openai":
		return openai.NewClient(os.Getenv("OPENAI_API_KEY"), model)
	default:
		return nil, fmt.Errorf("unsupported provider: %s", provider)
	}
}

func prettyJSON(raw []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func exitErr(msg string) {
	_, _ = fmt.Fprintln(os.Stderr, msg)
	os.Exit(1)
}
