package queue

import (
	"strings"
	"testing"
	"time"
)

func TestEncodeMessageUsesWireNames(t *testing.T) {
	payload, err := EncodeMessage(Message{
		AnalysisID: "9b0f6a3e-4c1d-4a8e-8f7e-2f7f1c0b9d11",
		RequestID:  "request-456",
		EnqueuedAt: "2026-01-30T22:00:00Z",
		Version:    MessageVersion,
	})
	if err != nil {
		t.Fatalf("encode message: %v", err)
	}
	for _, key := range []string{`"analysisId"`, `"requestId"`, `"enqueuedAt"`, `"version":1`} {
		if !strings.Contains(string(payload), key) {
			t.Fatalf("expected %s in %s", key, payload)
		}
	}
}

func TestDecodeMessageRejectsGarbage(t *testing.T) {
	if _, err := DecodeMessage([]byte("{not json")); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestNewMessageStampsVersionAndUTC(t *testing.T) {
	local := time.FixedZone("CET", 3600)
	msg := NewMessage("a-1", "req-1", time.Date(2026, 3, 1, 10, 0, 0, 0, local))

	if msg.Version != MessageVersion || msg.EnqueuedAt != "2026-03-01T09:00:00Z" {
		t.Fatalf("unexpected message: %+v", msg)
	}
}

func TestDecodeMessageIgnoresUnknownFields(t *testing.T) {
	msg, err := DecodeMessage([]byte(`{"analysisId":"a-1","version":1,"priority":"high"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.AnalysisID != "a-1" {
		t.Fatalf("unexpected message: %+v", msg)
	}
}
