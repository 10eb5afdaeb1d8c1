package llm

import (
	"strings"
	"testing"
)

func TestUserPromptIncludesSources(t *testing.T) {
	prompt := UserPrompt(PresenceInput{
		PrimaryURL: "https://clinic.com",
		Sources: []SourceDigest{
			{SourceID: "s-1", Type: "site", URL: "https://clinic.com", Title: "Clinic", Language: "en", SchemaTypes: []string{"VeterinaryCare", "LocalBusiness"}, Text: "Open daily"},
			{SourceID: "s-2", Type: "social", Provider: "instagram", URL: "https://instagram.com/clinic", Text: strings.Repeat("x", maxSourceChars+50)},
		},
	})
	for _, want := range []string{"Primary URL: https://clinic.com", "sourceId: s-1", "provider: instagram", "title: Clinic", "language: en", "schema.org types: VeterinaryCare, LocalBusiness"} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("expected prompt to contain %q", want)
		}
	}
	if strings.Contains(prompt, strings.Repeat("x", maxSourceChars+1)) {
		t.Fatalf("expected source text to be truncated")
	}
}

func TestHashPromptDeterministic(t *testing.T) {
	a := HashPrompt(SystemPrompt(), "user")
	b := HashPrompt(SystemPrompt(), "user")
	if a != b || a == "" {
		t.Fatalf("expected deterministic prompt hash, got %q and %q", a, b)
	}
	if a == HashPrompt(SystemPrompt(), "other") {
		t.Fatalf("expected different hash for different prompt")
	}
}

func TestStripCodeFence(t *testing.T) {
	got := StripCodeFence("```json\n{\"findings\":[]}\n```")
	if got != `{"findings":[]}` {
		t.Fatalf("unexpected strip result: %q", got)
	}
	if StripCodeFence(` {"a":1} `) != `{"a":1}` {
		t.Fatalf("expected plain json to be trimmed only")
	}
}

func TestParseResponse(t *testing.T) {
	resp, err := ParseResponse([]byte(`{"findings":[{"sourceId":"s-1","category":"hours","title":"No hours","detail":"d","severity":"warning"}]}`))
	if err != nil {
		t.Fatalf("ParseResponse: %v", err)
	}
	if len(resp.Findings) != 1 || resp.Findings[0].Category != "hours" {
		t.Fatalf("unexpected findings: %+v", resp.Findings)
	}
}
