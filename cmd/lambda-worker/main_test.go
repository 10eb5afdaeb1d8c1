package main

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-lambda-go/events"

	"anamnesis-backend/internal/queue"
)

type stubProcessor struct {
	failFor map[string]bool
	seen    []string
}

func (s *stubProcessor) ProcessAnalysis(ctx context.Context, analysisID string) error {
	s.seen = append(s.seen, analysisID)
	if s.failFor[analysisID] {
		return errors.New("database unavailable")
	}
	return nil
}

func record(t *testing.T, id string, msg queue.Message) events.SQSMessage {
	t.Helper()
	body, err := queue.EncodeMessage(msg)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return events.SQSMessage{MessageId: id, Body: string(body)}
}

func TestHandleRecordsReportsOnlyRetryableFailures(t *testing.T) {
	proc := &stubProcessor{failFor: map[string]bool{"a-2": true}}
	records := []events.SQSMessage{
		record(t, "m1", queue.Message{AnalysisID: "a-1", Version: queue.MessageVersion}),
		record(t, "m2", queue.Message{AnalysisID: "a-2", Version: queue.MessageVersion}),
		{MessageId: "m3", Body: "{bad-json"},
		record(t, "m4", queue.Message{AnalysisID: "a-4", Version: queue.MessageVersion + 1}),
	}

	resp := handleRecords(context.Background(), proc, records)

	if len(resp.BatchItemFailures) != 1 || resp.BatchItemFailures[0].ItemIdentifier != "m2" {
		t.Fatalf("expected only m2 to be retried, got %+v", resp.BatchItemFailures)
	}
	if len(proc.seen) != 2 {
		t.Fatalf("expected two processed analyses, got %v", proc.seen)
	}
}

func TestHandleRecordsRetriesWithoutProcessor(t *testing.T) {
	resp := handleRecords(context.Background(), nil, []events.SQSMessage{
		record(t, "m1", queue.Message{AnalysisID: "a-1"}),
	})

	if len(resp.BatchItemFailures) != 1 {
		t.Fatalf("expected a missing processor to be retried, got %+v", resp.BatchItemFailures)
	}
}
