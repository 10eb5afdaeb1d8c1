package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"anamnesis-backend/internal/llm"
	"anamnesis-backend/internal/shared/telemetry"
)

const defaultMaxTokens = 2048

// Client implements llm.Client on the Anthropic Messages API.
type Client struct {
	client    anthropic.Client
	model     string
	maxTokens int
}

// NewClient constructs a Claude-backed client. Retries are left to the
// caller, so the SDK's own retry loop is disabled.
func NewClient(apiKey, model string, opts ...option.RequestOption) (*Client, error) {
	if strings.TrimSpace(model) == "" {
		return nil, fmt.Errorf("LLM_MODEL is required for Anthropic")
	}
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY is required")
	}
	all := append([]option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}, opts...)
	return &Client{
		client:    anthropic.NewClient(all...),
		model:     model,
		maxTokens: defaultMaxTokens,
	}, nil
}

func (c *Client) ReviewPresence(ctx context.Context, input llm.PresenceInput) (json.RawMessage, error) {
	return llm.ReviewWithRepair(ctx, "anthropic", input, func(ctx context.Context, system, user string) (string, error) {
		return c.send(ctx, input.AnalysisID, system, user)
	})
}

func (c *Client) send(ctx context.Context, analysisID, system, user string) (string, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: int64(c.maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(user)),
		},
		System: []anthropic.TextBlockParam{
			{Text: system},
		},
	}
	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return "", classify(err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	telemetry.Info("llm.response", map[string]any{
		"analysis_id":    analysisID,
		"provider":       "anthropic",
		"model":          c.model,
		"prompt_version": llm.PromptVersion,
		"input_tokens":   resp.Usage.InputTokens,
		"output_tokens":  resp.Usage.OutputTokens,
	})
	out := llm.StripCodeFence(text.String())
	if out == "" {
		return "", fmt.Errorf("anthropic response empty content")
	}
	return out, nil
}

// classify rewrites SDK errors so the retry layer can recognise them by message.
func classify(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "429"):
		return fmt.Errorf("anthropic rate limit: %w", err)
	case strings.Contains(msg, "529") || strings.Contains(msg, "overloaded") || strings.Contains(msg, "503"):
		return fmt.Errorf("anthropic service unavailable: %w", err)
	default:
		return fmt.Errorf("anthropic request: %w", err)
	}
}

var _ llm.Client = (*Client)(nil)
