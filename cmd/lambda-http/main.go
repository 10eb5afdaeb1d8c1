// Command lambda-http serves the API from AWS Lambda behind an API Gateway
// HTTP API (payload format 2.0).
//
//	GOOS=linux GOARCH=arm64 CGO_ENABLED=0 go build -o bootstrap ./cmd/lambda-http
package main

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"

	"anamnesis-backend/internal/bootstrap"
	"anamnesis-backend/internal/shared/config"
	"anamnesis-backend/internal/shared/telemetry"
)

// proxy builds the app once per execution environment.
var proxy = sync.OnceValues(func() (*ginadapter.GinLambdaV2, error) {
	cfg := config.Load()
	telemetry.SetLevel(cfg.LogLevel)
	if strings.TrimSpace(cfg.SQSQueueURL) == "" {
		telemetry.Warn("lambda_http.no_queue", map[string]any{"detail": "analyses run in-process and may be frozen between invocations"})
	}
	app, err := bootstrap.Build(cfg)
	if err != nil {
		return nil, err
	}
	return ginadapter.NewV2(app.Router), nil
})

func handler(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	p, err := proxy()
	if err != nil {
		telemetry.Error("lambda_http.bootstrap_failed", map[string]any{"error": err.Error()})
		return bootstrapFailure(req.RequestContext.RequestID), nil
	}
	return p.ProxyWithContext(ctx, req)
}

// bootstrapFailure answers with the API's error envelope instead of letting
// API Gateway turn a handler error into a bare 502.
func bootstrapFailure(requestID string) events.APIGatewayV2HTTPResponse {
	body, _ := json.Marshal(map[string]any{
		"success": false,
		"error": map[string]any{
			"code":      "SERVICE_UNAVAILABLE",
			"message":   "service is starting up or misconfigured",
			"retryable": true,
			"requestId": requestID,
		},
	})
	return events.APIGatewayV2HTTPResponse{
		StatusCode: http.StatusServiceUnavailable,
		Body:       string(body),
		Headers:    map[string]string{"Content-Type": "application/json", "Retry-After": "5"},
	}
}

func main() {
	lambda.Start(handler)
}
