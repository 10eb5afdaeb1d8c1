// Package openai implements llm.Client on the Chat Completions endpoint with
// plain net/http.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"anamnesis-backend/internal/llm"
	"anamnesis-backend/internal/shared/telemetry"
)

var apiURL = "https://api.openai.com/v1/chat/completions"

const (
	defaultTimeout = 90 * time.Second
	maxReplyBytes  = 4 << 20
)

// Client implements llm.Client using OpenAI Chat Completions.
type Client struct {
	apiKey     string
	model      string
	noTemp     bool
	httpClient *http.Client
}

// NewClient builds a client for model. OPENAI_TIMEOUT_SECONDS overrides the
// request timeout and LLM_NO_TEMP0_MODELS lists extra models that reject a
// zero temperature.
func NewClient(apiKey, model string) (*Client, error) {
	model = strings.TrimSpace(model)
	if model == "" {
		return nil, fmt.Errorf("LLM_MODEL is required for OpenAI")
	}
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is required")
	}
	timeout := defaultTimeout
	if secs, err := strconv.Atoi(strings.TrimSpace(os.Getenv("OPENAI_TIMEOUT_SECONDS"))); err == nil && secs > 0 {
		timeout = time.Duration(secs) * time.Second
	}
	return &Client{
		apiKey:     apiKey,
		model:      model,
		noTemp:     omitTemperature(model, os.Getenv("LLM_NO_TEMP0_MODELS")),
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// APIError is a non-success reply from the API.
type APIError struct {
	Status  int
	Type    string
	Message string
}

func (e *APIError) Error() string {
	switch {
	case e.Status == http.StatusTooManyRequests:
		return "openai rate limit: " + e.Message
	case e.Status >= 500:
		return fmt.Sprintf("openai service unavailable (status %d): %s", e.Status, e.Message)
	case e.Type != "":
		return fmt.Sprintf("openai error (status %d, %s): %s", e.Status, e.Type, e.Message)
	default:
		return fmt.Sprintf("openai error (status %d): %s", e.Status, e.Message)
	}
}

func (e *APIError) rejectsTemperature() bool {
	msg := strings.ToLower(e.Message)
	return strings.Contains(msg, "temperature") &&
		(strings.Contains(msg, "unsupported") || strings.Contains(msg, "does not support"))
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type request struct {
	Model          string    `json:"model"`
	Messages       []message `json:"messages"`
	Temperature    *float32  `json:"temperature,omitempty"`
	ResponseFormat struct {
		Type string `json:"type"`
	} `json:"response_format"`
}

type usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type reply struct {
	Choices []struct {
		Message message `json:"message"`
	} `json:"choices"`
	Usage *usage `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func (c *Client) ReviewPresence(ctx context.Context, input llm.PresenceInput) (json.RawMessage, error) {
	return llm.ReviewWithRepair(ctx, "openai", input, func(ctx context.Context, system, user string) (string, error) {
		return c.complete(ctx, input.AnalysisID, []message{{Role: "system", Content: system}, {Role: "user", Content: user}})
	})
}

// complete asks for temperature 0 unless the model is known to reject it; a
// rejection at request time is retried once without it.
func (c *Client) complete(ctx context.Context, analysisID string, msgs []message) (string, error) {
	text, err := c.post(ctx, analysisID, msgs, !c.noTemp)
	var apiErr *APIError
	if err != nil && !c.noTemp && errors.As(err, &apiErr) && apiErr.rejectsTemperature() {
		return c.post(ctx, analysisID, msgs, false)
	}
	return text, err
}

func (c *Client) post(ctx context.Context, analysisID string, msgs []message, withTemp bool) (string, error) {
	body := request{Model: c.model, Messages: msgs}
	body.ResponseFormat.Type = "json_object"
	if withTemp {
		zero := float32(0)
		body.Temperature = &zero
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		var netErr interface{ Timeout() bool }
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
			return "", fmt.Errorf("openai request timeout: %w", err)
		}
		return "", fmt.Errorf("openai connection: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
	if err != nil {
		return "", fmt.Errorf("openai read reply: %w", err)
	}

	var parsed reply
	decodeErr := json.Unmarshal(raw, &parsed)
	switch {
	case decodeErr == nil && parsed.Error != nil:
		return "", &APIError{Status: resp.StatusCode, Type: parsed.Error.Type, Message: parsed.Error.Message}
	case resp.StatusCode >= 400:
		return "", &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
	case decodeErr != nil:
		return "", fmt.Errorf("openai response parse: %w", decodeErr)
	case len(parsed.Choices) == 0:
		return "", fmt.Errorf("openai response missing choices")
	}

	fields := map[string]any{
		"analysis_id":    analysisID,
		"provider":       "openai",
		"model":          c.model,
		"prompt_version": llm.PromptVersion,
	}
	if u := parsed.Usage; u != nil {
		fields["prompt_tokens"] = u.PromptTokens
		fields["completion_tokens"] = u.CompletionTokens
		fields["total_tokens"] = u.TotalTokens
	}
	telemetry.Info("llm.response", fields)

	text := llm.StripCodeFence(parsed.Choices[0].Message.Content)
	if text == "" {
		return "", fmt.Errorf("openai response empty content")
	}
	return text, nil
}

// omitTemperature reports whether model rejects temperature 0: every gpt-5
// model plus any listed in extra (comma separated).
func omitTemperature(model, extra string) bool {
	m := strings.ToLower(strings.TrimSpace(model))
	if m == "" {
		return false
	}
	if strings.HasPrefix(m, "gpt-5") {
		return true
	}
	for _, candidate := range strings.Split(extra, ",") {
		if strings.ToLower(strings.TrimSpace(candidate)) == m {
			return true
		}
	}
	return false
}

var _ llm.Client = (*Client)(nil)
