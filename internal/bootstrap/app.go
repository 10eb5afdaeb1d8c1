package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"anamnesis-backend/internal/anamnesis"
	googleauth "anamnesis-backend/internal/auth"
	"anamnesis-backend/internal/llm"
	anthropicllm "anamnesis-backend/internal/llm/anthropic"
	openai "anamnesis-backend/internal/llm/openai"
	"anamnesis-backend/internal/queue"
	sharedauth "anamnesis-backend/internal/shared/auth"
	"anamnesis-backend/internal/shared/config"
	"anamnesis-backend/internal/shared/server"
	"anamnesis-backend/internal/shared/storage/db"
	"anamnesis-backend/internal/shared/storage/object"
	localstore "anamnesis-backend/internal/shared/storage/object/local"
	s3store "anamnesis-backend/internal/shared/storage/object/s3"
	"anamnesis-backend/internal/shared/telemetry"
	"anamnesis-backend/internal/worker"
)

const (
	fetchTimeout  = 20 * time.Second
	mockWorkDelay = 2 * time.Second
)

// App holds shared dependencies.
type App struct {
	Config     config.Config
	Router     *gin.Engine
	DB         *sql.DB
	Store      object.ObjectStore
	Queue      *queue.SQSClient
	Repo       anamnesis.Repo
	Worker     worker.Worker
	Service    *anamnesis.Service
	Scheduler  *anamnesis.Scheduler
	Sweeper    *anamnesis.Sweeper
	Signer     *sharedauth.Signer
	GoogleAuth *googleauth.GoogleService
	Handler    *anamnesis.Handler
}

// Build prepares every dependency and the HTTP router. Background work is
// started by Start.
func Build(cfg config.Config) (*App, error) {
	if strings.TrimSpace(cfg.Env) == "" {
		cfg.Env = "dev"
	}
	ctx := context.Background()

	sqlDB, err := buildDB(ctx, cfg)
	if err != nil {
		return nil, err
	}

	store, err := buildStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	queueClient, err := buildQueue(ctx, cfg)
	if err != nil {
		return nil, err
	}

	app := &App{
		Config: cfg,
		DB:     sqlDB,
		Store:  store,
		Queue:  queueClient,
	}

	if err := buildServices(app); err != nil {
		return nil, err
	}

	app.Router = server.NewRouter(server.RouterDeps{
		Config:          app.Config,
		DB:              app.DB,
		Verifier:        app.Signer,
		AnalysisHandler: app.Handler,
		GoogleAuth:      app.GoogleAuth,
	})

	return app, nil
}

// Start launches the stale-run sweeper.
func (a *App) Start() {
	if a.Sweeper != nil {
		a.Sweeper.Start()
	}
}

// Close stops background work and releases the database.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.Sweeper != nil {
		a.Sweeper.Stop(ctx)
	}
	if a.Scheduler != nil {
		if err := a.Scheduler.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close scheduler: %w", err))
		}
	}
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close database: %w", err))
		}
	}
	return errors.Join(errs...)
}

func buildDB(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		if cfg.IsDevLike() {
			telemetry.Warn("bootstrap.memory_repo", map[string]any{"reason": "DATABASE_URL empty"})
			return nil, nil
		}
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	opts := db.OptionsFromEnv(db.DefaultServerOptions())
	sqlDB, err := db.Connect(ctx, cfg.DatabaseURL, opts)
	if err != nil {
		if cfg.IsDevLike() {
			telemetry.Warn("bootstrap.memory_repo", map[string]any{"reason": "connect failed", "error": err.Error()})
			return nil, nil
		}
		return nil, err
	}
	if err := db.RunMigrations(ctx, sqlDB); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return sqlDB, nil
}

func buildStore(ctx context.Context, cfg config.Config) (object.ObjectStore, error) {
	switch cfg.ObjectStoreType {
	case "s3":
		if strings.TrimSpace(cfg.S3Bucket) == "" {
			return nil, fmt.Errorf("OBJECT_STORE=s3 requires S3_BUCKET")
		}
		return s3store.New(ctx, cfg.AWSRegion, cfg.S3Bucket, cfg.S3Prefix, cfg.SSEKMSKeyID)
	default:
		return localstore.New(cfg.LocalStoreDir), nil
	}
}

func buildQueue(ctx context.Context, cfg config.Config) (*queue.SQSClient, error) {
	if strings.TrimSpace(cfg.SQSQueueURL) == "" {
		return nil, nil
	}
	return queue.NewSQSClient(ctx, cfg.SQSQueueURL, cfg.AWSRegion)
}

func buildWorker(cfg config.Config, store object.ObjectStore) (worker.Worker, error) {
	switch cfg.WorkerKind {
	case "site":
		return worker.NewSiteWorker(worker.NewPublicHTTPClient(fetchTimeout), cfg.FetchRatePerSec, store), nil
	case "llm":
		client, err := buildLLM(cfg)
		if err != nil {
			return nil, err
		}
		return &worker.LLMWorker{
			Site: worker.NewSiteWorker(worker.NewPublicHTTPClient(fetchTimeout), cfg.FetchRatePerSec, store),
			LLM:  client,
		}, nil
	default:
		return &worker.MockWorker{Delay: mockWorkDelay}, nil
	}
}

func buildLLM(cfg config.Config) (llm.Client, error) {
	switch cfg.LLMProvider {
	case "openai":
		return openai.NewClient(os.Getenv("OPENAI_API_KEY"), cfg.LLMModel)
	case "anthropic":
		return anthropicllm.NewClient(os.Getenv("ANTHROPIC_API_KEY"), cfg.LLMModel)
	default:
		return nil, fmt.Errorf("unknown LLM_PROVIDER %q", cfg.LLMProvider)
	}
}

func buildServices(app *App) error {
	var repo anamnesis.Repo
	if app.DB != nil {
		repo = &anamnesis.PGRepo{DB: app.DB}
	} else {
		repo = anamnesis.NewMemoryRepo()
	}

	w, err := buildWorker(app.Config, app.Store)
	if err != nil {
		return err
	}

	svc := anamnesis.NewService(repo, w)
	if app.Queue != nil {
		svc.Dispatcher = &anamnesis.QueueDispatcher{Queue: app.Queue}
	} else {
		app.Scheduler = anamnesis.NewScheduler(svc.ProcessAnalysis, app.Config.WorkerConcurrency, app.Config.WorkerQueueSize)
		svc.Dispatcher = app.Scheduler
		go logJobResults(app.Scheduler.Results())
	}

	sweeper, err := anamnesis.NewSweeper(svc, app.Config.SweepSchedule)
	if err != nil {
		return fmt.Errorf("sweep schedule: %w", err)
	}

	signer, err := sharedauth.NewSigner(app.Config.JWTSecret, app.Config.Env == "production")
	if err != nil {
		return err
	}

	app.Repo = repo
	app.Worker = w
	app.Service = svc
	app.Sweeper = sweeper
	app.Signer = signer
	app.Handler = anamnesis.NewHandler(svc)
	app.GoogleAuth = googleauth.NewGoogleService(
		signer,
		app.Config.GoogleClientID,
		app.Config.GoogleClientSecret,
		app.Config.GoogleRedirectURL,
		app.Config.UIRedirectURL,
	)

	return nil
}

func logJobResults(results <-chan anamnesis.JobResult) {
	for res := range results {
		fields := map[string]any{
			"analysis_id": res.AnalysisID,
			"duration_ms": res.Duration.Milliseconds(),
			"cancelled":   res.Cancelled,
		}
		if res.Err != nil {
			fields["error"] = res.Err.Error()
			telemetry.Warn("scheduler.job_failed", fields)
			continue
		}
		telemetry.Info("scheduler.job_finished", fields)
	}
}
