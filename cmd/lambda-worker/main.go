// Command lambda-worker runs analyses from an SQS event source mapping with
// partial batch responses enabled.
//
//	GOOS=linux GOARCH=arm64 CGO_ENABLED=0 go build -o bootstrap ./cmd/lambda-worker
package main

import (
	"context"
	"errors"
	"sync"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"anamnesis-backend/internal/bootstrap"
	"anamnesis-backend/internal/shared/config"
	"anamnesis-backend/internal/shared/metrics"
	"anamnesis-backend/internal/shared/telemetry"
	"anamnesis-backend/internal/workerproc"
)

// service builds the app once per execution environment.
var service = sync.OnceValues(func() (workerproc.Processor, error) {
	cfg := config.Load()
	telemetry.SetLevel(cfg.LogLevel)
	app, err := bootstrap.Build(cfg)
	if err != nil {
		return nil, err
	}
	return app.Service, nil
})

// handler acknowledges nothing when the app cannot start, so SQS redelivers
// the whole batch.
func handler(ctx context.Context, event events.SQSEvent) (events.SQSEventResponse, error) {
	processor, err := service()
	if err != nil {
		telemetry.Error("lambda_worker.bootstrap_failed", map[string]any{"error": err.Error(), "records": len(event.Records)})
		failures := make([]events.SQSBatchItemFailure, 0, len(event.Records))
		for _, record := range event.Records {
			failures = append(failures, events.SQSBatchItemFailure{ItemIdentifier: record.MessageId})
		}
		return events.SQSEventResponse{BatchItemFailures: failures}, nil
	}
	return handleRecords(ctx, processor, event.Records), nil
}

// handleRecords reports processing failures back to SQS for redelivery.
// Rejected payloads are acknowledged so they do not loop.
func handleRecords(ctx context.Context, processor workerproc.Processor, records []events.SQSMessage) events.SQSEventResponse {
	failures := make([]events.SQSBatchItemFailure, 0)
	for _, record := range records {
		metrics.IncAnalysisJobsReceived()
		err := workerproc.HandleMessage(ctx, processor, record.Body)
		if err == nil {
			metrics.IncAnalysisJobsCompleted()
			continue
		}

		fields := map[string]any{"sqs_message_id": record.MessageId, "error": err.Error()}
		var rej *workerproc.Rejection
		if errors.As(err, &rej) {
			fields["reason"] = string(rej.Reason)
			fields["body_sha256"] = rej.Meta.BodySHA
			telemetry.Error("lambda_worker.analysis.unrecoverable", fields)
			metrics.IncAnalysisJobsDeletedUnrecoverable()
			continue
		}

		var procErr *workerproc.ProcessError
		if errors.As(err, &procErr) {
			fields["analysis_id"] = procErr.AnalysisID
			fields["request_id"] = procErr.RequestID
		}
		telemetry.Error("lambda_worker.analysis.failed", fields)
		metrics.IncAnalysisJobsFailed()
		failures = append(failures, events.SQSBatchItemFailure{ItemIdentifier: record.MessageId})
	}
	return events.SQSEventResponse{BatchItemFailures: failures}
}

func main() {
	lambda.Start(handler)
}
