package main

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"anamnesis-backend/internal/shared/metrics"
	"anamnesis-backend/internal/shared/telemetry"
	"anamnesis-backend/internal/workerproc"
)

const (
	receiveBatchSize   = 10
	receiveWaitSeconds = 20
	receiveCountAttr   = "ApproximateReceiveCount"
)

type sqsAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// poller long-polls one queue and hands analysis messages to a processor.
// Messages that can never succeed are deleted; processing failures are left
// for the visibility timeout to redeliver.
type poller struct {
	client      sqsAPI
	queueURL    string
	processor   workerproc.Processor
	visibility  int32
	concurrency int
	backoff     time.Duration

	wg sync.WaitGroup
}

// run polls until ctx is cancelled. In-flight messages keep running; use
// drain to wait for them.
func (p *poller) run(ctx context.Context) {
	slots := make(chan struct{}, max(1, p.concurrency))
	for ctx.Err() == nil {
		resp, err := p.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(p.queueURL),
			MaxNumberOfMessages: receiveBatchSize,
			WaitTimeSeconds:     receiveWaitSeconds,
			VisibilityTimeout:   p.visibility,
			AttributeNames:      []sqstypes.QueueAttributeName{receiveCountAttr},
		})
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			telemetry.Warn("worker.receive_failed", map[string]any{"error": err.Error()})
			sleepCtx(ctx, p.backoff)
			continue
		}

		for _, msg := range resp.Messages {
			select {
			case <-ctx.Done():
				return
			case slots <- struct{}{}:
			}
			metrics.IncAnalysisJobsReceived()
			p.wg.Add(1)
			go func(m sqstypes.Message) {
				defer p.wg.Done()
				defer func() { <-slots }()
				p.handle(ctx, m)
			}(msg)
		}
	}
}

// drain waits for in-flight messages up to timeout and reports whether all
// of them finished.
func (p *poller) drain(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (p *poller) handle(ctx context.Context, msg sqstypes.Message) {
	body := aws.ToString(msg.Body)
	decoded, meta, err := workerproc.ParseMessage(body)
	if err != nil {
		fields := logFields(msg, decoded.AnalysisID, decoded.RequestID)
		fields["body_len"] = meta.BodyLen
		if meta.BodySHA != "" {
			fields["body_sha256"] = meta.BodySHA
		}
		telemetry.Error(rejectEvent(err), withError(fields, err))
		if p.delete(ctx, msg, decoded.AnalysisID, decoded.RequestID) {
			metrics.IncAnalysisJobsDeletedUnrecoverable()
		}
		return
	}

	fields := logFields(msg, decoded.AnalysisID, decoded.RequestID)
	telemetry.Info("worker.analysis.received", fields)

	if err := workerproc.HandleMessage(workerproc.WithParsedMessage(ctx, decoded), p.processor, body); err != nil {
		var procErr *workerproc.ProcessError
		if errors.As(err, &procErr) {
			err = procErr.Err
		}
		telemetry.Error("worker.analysis.failed", withError(logFields(msg, decoded.AnalysisID, decoded.RequestID), err))
		metrics.IncAnalysisJobsFailed()
		return
	}

	if p.delete(ctx, msg, decoded.AnalysisID, decoded.RequestID) {
		telemetry.Info("worker.analysis.completed", fields)
		metrics.IncAnalysisJobsCompleted()
	}
}

func (p *poller) delete(ctx context.Context, msg sqstypes.Message, analysisID, requestID string) bool {
	receipt := aws.ToString(msg.ReceiptHandle)
	if receipt == "" {
		telemetry.Error("worker.analysis.delete_failed", withError(logFields(msg, analysisID, requestID), errors.New("missing receipt handle")))
		return false
	}
	_, err := p.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(p.queueURL),
		ReceiptHandle: aws.String(receipt),
	})
	if err != nil {
		telemetry.Error("worker.analysis.delete_failed", withError(logFields(msg, analysisID, requestID), err))
		return false
	}
	return true
}

// rejectEvent names the log event for a message that failed to parse.
func rejectEvent(err error) string {
	var rej *workerproc.Rejection
	if errors.As(err, &rej) {
		return "worker.analysis." + string(rej.Reason)
	}
	return "worker.analysis.decode_failed"
}

func logFields(msg sqstypes.Message, analysisID, requestID string) map[string]any {
	fields := map[string]any{
		"analysis_id":    analysisID,
		"sqs_message_id": aws.ToString(msg.MessageId),
		"receive_count":  receiveCount(msg),
	}
	if strings.TrimSpace(requestID) != "" {
		fields["request_id"] = requestID
	}
	return fields
}

func withError(fields map[string]any, err error) map[string]any {
	fields["error"] = err.Error()
	return fields
}

func receiveCount(msg sqstypes.Message) int {
	n, err := strconv.Atoi(msg.Attributes[receiveCountAttr])
	if err != nil {
		return 0
	}
	return n
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
