package llm

import (
	"context"
	"encoding/json"
	"fmt"
)

// Client abstracts LLM providers that review a business's online presence.
type Client interface {
	ReviewPresence(ctx context.Context, input PresenceInput) (json.RawMessage, error)
}

// PresenceInput is the fetched material for one analysis.
type PresenceInput struct {
	AnalysisID string
	PrimaryURL string
	Sources    []SourceDigest
}

// SourceDigest is the text extracted from a single source.
type SourceDigest struct {
	SourceID    string
	Type        string
	Provider    string
	URL         string
	Title       string
	Description string
	Language    string
	SchemaTypes []string
	Text        string
}

// Response is the JSON document every provider is asked to return.
type Response struct {
	Findings []ResponseFinding `json:"findings"`
}

type ResponseFinding struct {
	SourceID string `json:"sourceId"`
	Category string `json:"category"`
	Title    string `json:"title"`
	Detail   string `json:"detail"`
	Severity string `json:"severity"`
}

// ParseResponse decodes a provider reply.
func ParseResponse(raw json.RawMessage) (Response, error) {
	var out Response
	if err := json.Unmarshal(raw, &out); err != nil {
		return Response{}, err
	}
	return out, nil
}

type promptHashKey struct{}

// WithPromptHashCapture asks the provider to store the prompt hash in sink.
func WithPromptHashCapture(ctx context.Context, sink *string) context.Context {
	return context.WithValue(ctx, promptHashKey{}, sink)
}

// PromptHashSinkFromContext returns the sink set by WithPromptHashCapture.
func PromptHashSinkFromContext(ctx context.Context) (*string, bool) {
	sink, ok := ctx.Value(promptHashKey{}).(*string)
	return sink, ok
}

// SendFunc sends one system and user prompt pair and returns the reply text.
type SendFunc func(ctx context.Context, system, user string) (string, error)

// ReviewWithRepair sends the presence prompt and, if the reply is not valid
// JSON, asks once for a repaired document. The prompt hash is written to any
// sink registered with WithPromptHashCapture.
func ReviewWithRepair(ctx context.Context, provider string, input PresenceInput, send SendFunc) (json.RawMessage, error) {
	system, user := SystemPrompt(), UserPrompt(input)
	if sink, ok := PromptHashSinkFromContext(ctx); ok && sink != nil {
		*sink = HashPrompt(system, user)
	}

	text, err := send(ctx, system, user)
	if err != nil {
		return nil, err
	}
	if json.Valid([]byte(text)) {
		return json.RawMessage(text), nil
	}

	text, err = send(ctx, FixJSONSystemPrompt(), FixUserPrompt([]byte(text)))
	if err != nil {
		return nil, err
	}
	if !json.Valid([]byte(text)) {
		return nil, fmt.Errorf("llm output invalid: %s returned non-JSON content", provider)
	}
	return json.RawMessage(text), nil
}
