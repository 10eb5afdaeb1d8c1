package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"anamnesis-backend/internal/llm"
)

func TestOmitTemperature(t *testing.T) {
	tests := []struct {
		name  string
		model string
		extra string
		want  bool
	}{
		{name: "gpt5", model: "gpt-5", want: true},
		{name: "gpt5 variant", model: "gpt-5-mini", want: true},
		{name: "gpt5 uppercase", model: " GPT-5o ", want: true},
		{name: "gpt4", model: "gpt-4o", want: false},
		{name: "listed", model: "o1-preview", extra: "o3, O1-Preview", want: true},
		{name: "empty", model: "", extra: ",", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := omitTemperature(tt.model, tt.extra); got != tt.want {
				t.Fatalf("omitTemperature(%q, %q) = %v, want %v", tt.model, tt.extra, got, tt.want)
			}
		})
	}
}

func testInput() llm.PresenceInput {
	return llm.PresenceInput{
		AnalysisID: "a-1",
		PrimaryURL: "https://clinic.com",
		Sources:    []llm.SourceDigest{{SourceID: "s-1", Type: "site", URL: "https://clinic.com", Text: "Welcome"}},
	}
}

func TestReviewPresenceSendsPromptAndReturnsJSON(t *testing.T) {
	oldURL := apiURL
	t.Cleanup(func() { apiURL = oldURL })

	var mu sync.Mutex
	var lastBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		var payload map[string]any
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode request: %v", err)
		}
		mu.Lock()
		lastBody = payload
		mu.Unlock()
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("missing bearer token")
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"{\"findings\":[]}"}}],"usage":{"prompt_tokens":10,"completion_tokens":2,"total_tokens":12}}`))
	}))
	defer server.Close()
	apiURL = server.URL

	client, err := NewClient("test-key", "gpt-4o-mini")
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	var hash string
	raw, err := client.ReviewPresence(llm.WithPromptHashCapture(context.Background(), &hash), testInput())
	if err != nil {
		t.Fatalf("ReviewPresence: %v", err)
	}
	if string(raw) != `{"findings":[]}` {
		t.Fatalf("unexpected raw: %s", raw)
	}
	if hash == "" {
		t.Fatalf("expected prompt hash to be captured")
	}

	mu.Lock()
	defer mu.Unlock()
	if lastBody["model"] != "gpt-4o-mini" {
		t.Fatalf("unexpected model: %v", lastBody["model"])
	}
	if _, ok := lastBody["temperature"]; !ok {
		t.Fatalf("expected temperature for non gpt-5 model")
	}
	messages, _ := lastBody["messages"].([]any)
	if len(messages) != 2 {
		t.Fatalf("expected system and user messages, got %d", len(messages))
	}
	user, _ := messages[1].(map[string]any)
	if content, _ := user["content"].(string); !strings.Contains(content, "sourceId: s-1") {
		t.Fatalf("expected sources in user prompt: %v", user["content"])
	}
}

func TestReviewPresenceRetriesWithoutTemperature(t *testing.T) {
	oldURL := apiURL
	t.Cleanup(func() { apiURL = oldURL })
	t.Setenv("LLM_NO_TEMP0_MODELS", "")

	var mu sync.Mutex
	var bodies []map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		var payload map[string]any
		_ = json.NewDecoder(r.Body).Decode(&payload)
		mu.Lock()
		bodies = append(bodies, payload)
		call := len(bodies)
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		if call == 1 {
			_, _ = w.Write([]byte(`{"error":{"message":"Unsupported value: 'temperature' does not support 0 with this model.","type":"invalid_request_error"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"{\"findings\":[]}"}}]}`))
	}))
	defer server.Close()
	apiURL = server.URL

	client, err := NewClient("test-key", "o-custom")
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if _, err := client.ReviewPresence(context.Background(), testInput()); err != nil {
		t.Fatalf("ReviewPresence: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(bodies) != 2 {
		t.Fatalf("expected 2 requests, got %d", len(bodies))
	}
	if _, ok := bodies[1]["temperature"]; ok {
		t.Fatalf("expected retry without temperature")
	}
}

func TestReviewPresenceRepairsInvalidJSON(t *testing.T) {
	oldURL := apiURL
	t.Cleanup(func() { apiURL = oldURL })

	var mu sync.Mutex
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		call := calls
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		if call == 1 {
			_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"findings: none"}}]}`))
			return
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"{\"findings\":[]}"}}]}`))
	}))
	defer server.Close()
	apiURL = server.URL

	client, _ := NewClient("test-key", "gpt-4o-mini")
	raw, err := client.ReviewPresence(context.Background(), testInput())
	if err != nil {
		t.Fatalf("ReviewPresence: %v", err)
	}
	if !json.Valid(raw) {
		t.Fatalf("expected repaired json, got %s", raw)
	}
	if calls != 2 {
		t.Fatalf("expected repair call, got %d calls", calls)
	}
}

func TestRateLimitStatusIsRecognizable(t *testing.T) {
	oldURL := apiURL
	t.Cleanup(func() { apiURL = oldURL })

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`slow down`))
	}))
	defer server.Close()
	apiURL = server.URL

	client, _ := NewClient("test-key", "gpt-4o-mini")
	_, err := client.ReviewPresence(context.Background(), testInput())
	if err == nil || !strings.Contains(err.Error(), "rate limit") {
		t.Fatalf("expected rate limit error, got %v", err)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusTooManyRequests || apiErr.Message != "slow down" {
		t.Fatalf("expected APIError with status 429, got %#v", err)
	}
}

func TestGPT5RequestsOmitTemperature(t *testing.T) {
	oldURL := apiURL
	t.Cleanup(func() { apiURL = oldURL })

	var sawTemp bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		_ = json.NewDecoder(r.Body).Decode(&payload)
		_, sawTemp = payload["temperature"]
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"{\"findings\":[]}"}}]}`))
	}))
	defer server.Close()
	apiURL = server.URL

	client, _ := NewClient("test-key", "gpt-5-mini")
	if _, err := client.ReviewPresence(context.Background(), testInput()); err != nil {
		t.Fatalf("ReviewPresence: %v", err)
	}
	if sawTemp {
		t.Fatalf("expected no temperature for gpt-5 models")
	}
}
