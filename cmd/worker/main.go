// Command worker consumes analysis messages from SQS and runs them with the
// configured source worker.
package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"anamnesis-backend/internal/bootstrap"
	"anamnesis-backend/internal/shared/config"
	"anamnesis-backend/internal/shared/telemetry"
)

const (
	defaultVisibilitySeconds  = 300
	defaultShutdownTimeoutSec = 30
	receiveBackoff            = 2 * time.Second
)

func main() {
	cfg := config.Load()
	telemetry.SetLevel(cfg.LogLevel)

	queueURL := strings.TrimSpace(cfg.SQSQueueURL)
	if queueURL == "" {
		telemetry.Error("worker.config_invalid", map[string]any{"error": "RA_SQS_QUEUE_URL is required"})
		os.Exit(1)
	}

	app, err := bootstrap.Build(cfg)
	if err != nil {
		telemetry.Error("worker.bootstrap_failed", map[string]any{"error": err.Error()})
		os.Exit(1)
	}
	app.Start()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p := &poller{
		client:      app.Queue.SQS(),
		queueURL:    queueURL,
		processor:   app.Service,
		visibility:  int32(envInt("RA_SQS_VISIBILITY_TIMEOUT_SECONDS", defaultVisibilitySeconds)),
		concurrency: cfg.WorkerConcurrency,
		backoff:     receiveBackoff,
	}
	telemetry.Info("worker.started", map[string]any{
		"queue":       queueURL,
		"concurrency": p.concurrency,
		"visibility":  p.visibility,
		"worker_kind": cfg.WorkerKind,
	})

	p.run(ctx)

	shutdownTimeout := time.Duration(envInt("RA_SHUTDOWN_TIMEOUT_SECONDS", defaultShutdownTimeoutSec)) * time.Second
	telemetry.Info("worker.shutdown", map[string]any{"timeout": shutdownTimeout.String()})
	if !p.drain(shutdownTimeout) {
		telemetry.Warn("worker.shutdown_timeout", map[string]any{"timeout": shutdownTimeout.String()})
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := app.Close(closeCtx); err != nil {
		telemetry.Warn("worker.close_failed", map[string]any{"error": err.Error()})
	}
}

func envInt(key string, def int) int {
	val, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key)))
	if err != nil {
		return def
	}
	return val
}
