package llm

import (
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"fmt"
	"strings"
)

// PromptVersion identifies the embedded presence review prompt.
const PromptVersion = "presence_v1"

// maxSourceChars bounds the text sent per source.
const maxSourceChars = 6000

//go:embed prompts/presence_v1.txt
var presencePrompt string

const fixJSONPrompt = "You are a JSON repair tool. Return only valid JSON that matches the schema exactly."

// SystemPrompt returns the instructions shared by every provider.
func SystemPrompt() string {
	return strings.TrimSpace(presencePrompt)
}

// FixJSONSystemPrompt is used for the single repair attempt on invalid output.
func FixJSONSystemPrompt() string {
	return fixJSONPrompt
}

// UserPrompt renders the fetched sources.
func UserPrompt(input PresenceInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Primary URL: %s\n", input.PrimaryURL)
	for _, src := range input.Sources {
		b.WriteString("\n---\n")
		fmt.Fprintf(&b, "sourceId: %s\ntype: %s\n", src.SourceID, src.Type)
		if src.Provider != "" {
			fmt.Fprintf(&b, "provider: %s\n", src.Provider)
		}
		fmt.Fprintf(&b, "url: %s\n", src.URL)
		if src.Title != "" {
			fmt.Fprintf(&b, "title: %s\n", src.Title)
		}
		if src.Description != "" {
			fmt.Fprintf(&b, "description: %s\n", src.Description)
		}
		if src.Language != "" {
			fmt.Fprintf(&b, "language: %s\n", src.Language)
		}
		if len(src.SchemaTypes) > 0 {
			fmt.Fprintf(&b, "schema.org types: %s\n", strings.Join(src.SchemaTypes, ", "))
		}
		text := src.Text
		if len(text) > maxSourceChars {
			text = text[:maxSourceChars]
		}
		fmt.Fprintf(&b, "text:\n%s\n", text)
	}
	return b.String()
}

// FixUserPrompt asks the model to repair raw.
func FixUserPrompt(raw []byte) string {
	return fmt.Sprintf("Fix this JSON to match the schema exactly. Output JSON only:\n%s", string(raw))
}

// HashPrompt returns a stable digest of a rendered prompt.
func HashPrompt(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "\n\n")))
	return hex.EncodeToString(sum[:])
}

// StripCodeFence removes a surrounding markdown code fence, if any.
func StripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
