package main

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"anamnesis-backend/internal/queue"
	"anamnesis-backend/internal/workerproc"
)

type fakeSQS struct {
	mu        sync.Mutex
	batches   [][]sqstypes.Message
	deleted   []string
	deleteErr error
	onEmpty   func()
}

func (f *fakeSQS) ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.batches) == 0 {
		if f.onEmpty != nil {
			f.onEmpty()
		}
		return &sqs.ReceiveMessageOutput{}, ctx.Err()
	}
	next := f.batches[0]
	f.batches = f.batches[1:]
	return &sqs.ReceiveMessageOutput{Messages: next}, nil
}

func (f *fakeSQS) DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return nil, f.deleteErr
	}
	f.deleted = append(f.deleted, aws.ToString(params.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

func (f *fakeSQS) deletedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.deleted)
}

type recordingProcessor struct {
	mu  sync.Mutex
	ids []string
	err error
}

func (r *recordingProcessor) ProcessAnalysis(ctx context.Context, analysisID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, analysisID)
	return r.err
}

func (r *recordingProcessor) processed() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ids...)
}

func analysisMessage(t *testing.T, id, receipt string, msg queue.Message) sqstypes.Message {
	t.Helper()
	body, err := queue.EncodeMessage(msg)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return sqstypes.Message{
		MessageId:     aws.String(id),
		ReceiptHandle: aws.String(receipt),
		Body:          aws.String(string(body)),
		Attributes:    map[string]string{receiveCountAttr: "1"},
	}
}

func newTestPoller(client sqsAPI, processor *recordingProcessor) *poller {
	return &poller{client: client, queueURL: "queue", processor: processor, concurrency: 2, backoff: time.Millisecond}
}

func TestHandleDeletesMessageOnSuccess(t *testing.T) {
	client := &fakeSQS{}
	proc := &recordingProcessor{}
	p := newTestPoller(client, proc)

	p.handle(context.Background(), analysisMessage(t, "m1", "r1", queue.Message{AnalysisID: "analysis-1", RequestID: "req-1", Version: queue.MessageVersion}))

	if client.deletedCount() != 1 {
		t.Fatalf("expected delete, got %d", client.deletedCount())
	}
	if got := proc.processed(); len(got) != 1 || got[0] != "analysis-1" {
		t.Fatalf("unexpected processed ids: %v", got)
	}
}

func TestHandleKeepsMessageOnFailure(t *testing.T) {
	client := &fakeSQS{}
	p := newTestPoller(client, &recordingProcessor{err: errors.New("boom")})

	p.handle(context.Background(), analysisMessage(t, "m2", "r2", queue.Message{AnalysisID: "analysis-2", RequestID: "req-2"}))

	if client.deletedCount() != 0 {
		t.Fatalf("expected no delete, got %d", client.deletedCount())
	}
}

func TestHandleDeletesUnrecoverableMessages(t *testing.T) {
	cases := map[string]sqstypes.Message{
		"invalid json":  {MessageId: aws.String("m3"), ReceiptHandle: aws.String("r3"), Body: aws.String("{bad-json")},
		"empty body":    {MessageId: aws.String("m4"), ReceiptHandle: aws.String("r4"), Body: aws.String("  ")},
		"newer version": analysisMessage(t, "m5", "r5", queue.Message{AnalysisID: "analysis-5", Version: queue.MessageVersion + 1}),
		"missing id":    analysisMessage(t, "m6", "r6", queue.Message{RequestID: "req-6", Version: queue.MessageVersion}),
	}
	for name, msg := range cases {
		t.Run(name, func(t *testing.T) {
			client := &fakeSQS{}
			proc := &recordingProcessor{}

			newTestPoller(client, proc).handle(context.Background(), msg)

			if client.deletedCount() != 1 {
				t.Fatalf("expected delete, got %d", client.deletedCount())
			}
			if got := proc.processed(); len(got) != 0 {
				t.Fatalf("expected no processing, got %v", got)
			}
		})
	}
}

func TestHandleDeleteFailureLeavesMessage(t *testing.T) {
	client := &fakeSQS{deleteErr: errors.New("throttled")}
	p := newTestPoller(client, &recordingProcessor{})

	p.handle(context.Background(), analysisMessage(t, "m7", "r7", queue.Message{AnalysisID: "analysis-7"}))

	if client.deletedCount() != 0 {
		t.Fatalf("expected delete to fail")
	}
}

func TestRunProcessesBatchesUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := &fakeSQS{onEmpty: cancel}
	client.batches = [][]sqstypes.Message{{
		analysisMessage(t, "m1", "r1", queue.Message{AnalysisID: "a-1"}),
		analysisMessage(t, "m2", "r2", queue.Message{AnalysisID: "a-2"}),
	}, {
		analysisMessage(t, "m3", "r3", queue.Message{AnalysisID: "a-3"}),
	}}
	proc := &recordingProcessor{}
	p := newTestPoller(client, proc)

	p.run(ctx)

	if !p.drain(time.Second) {
		t.Fatalf("expected in-flight messages to finish")
	}
	if got := proc.processed(); len(got) != 3 {
		t.Fatalf("expected 3 processed messages, got %v", got)
	}
	if client.deletedCount() != 3 {
		t.Fatalf("expected 3 deletes, got %d", client.deletedCount())
	}
}

func TestReceiveCount(t *testing.T) {
	if got := receiveCount(sqstypes.Message{Attributes: map[string]string{receiveCountAttr: "3"}}); got != 3 {
		t.Fatalf("expected 3, got %d", got)
	}
	if got := receiveCount(sqstypes.Message{Attributes: map[string]string{receiveCountAttr: "x"}}); got != 0 {
		t.Fatalf("expected 0 for invalid count, got %d", got)
	}
	if got := receiveCount(sqstypes.Message{}); got != 0 {
		t.Fatalf("expected 0 without attributes, got %d", got)
	}
}

func TestRejectEvent(t *testing.T) {
	cases := map[string]string{
		"":                   "worker.analysis.empty_body",
		"{bad":               "worker.analysis.decode_failed",
		`{"version":99}`:     "worker.analysis.unsupported_version",
		`{"requestId":"r1"}`: "worker.analysis.missing_id",
	}
	for body, want := range cases {
		_, _, err := workerproc.ParseMessage(body)
		if got := rejectEvent(err); got != want {
			t.Fatalf("body %q: expected %s, got %s", body, want, got)
		}
	}
}
