package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"anamnesis-backend/internal/shared/telemetry"
)

const (
	defaultConfigPath = "anamnesis.toml"
	defaultCORSOrigin = "http://localhost:5173"
)

// Config holds application configuration.
type Config struct {
	Port               string   `toml:"port"`
	Env                string   `toml:"env"`
	LogLevel           string   `toml:"log_level"`
	DatabaseURL        string   `toml:"database_url"`
	CORSAllowOrigin    []string `toml:"cors_allow_origins"`
	ObjectStoreType    string   `toml:"object_store"`
	LocalStoreDir      string   `toml:"local_store_dir"`
	AWSRegion          string   `toml:"aws_region"`
	S3Bucket           string   `toml:"s3_bucket"`
	S3Prefix           string   `toml:"s3_prefix"`
	SSEKMSKeyID        string   `toml:"sse_kms_key_id"`
	SQSQueueURL        string   `toml:"sqs_queue_url"`
	WorkerKind         string   `toml:"worker_kind"`
	WorkerConcurrency  int      `toml:"worker_concurrency"`
	WorkerQueueSize    int      `toml:"worker_queue_size"`
	FetchRatePerSec    float64  `toml:"fetch_rate_per_sec"`
	LLMProvider        string   `toml:"llm_provider"`
	LLMModel           string   `toml:"llm_model"`
	SweepSchedule      string   `toml:"sweep_schedule"`
	JWTSecret          string   `toml:"jwt_secret"`
	GoogleClientID     string   `toml:"google_client_id"`
	GoogleClientSecret string   `toml:"google_client_secret"`
	GoogleRedirectURL  string   `toml:"google_redirect_url"`
	UIRedirectURL      string   `toml:"ui_redirect_url"`
}

// Defaults returns the configuration used when nothing overrides it.
func Defaults() Config {
	return Config{
		Port:              "8080",
		Env:               "dev",
		LogLevel:          "info",
		ObjectStoreType:   "local",
		LocalStoreDir:     "./data",
		WorkerKind:        "mock",
		WorkerConcurrency: 4,
		WorkerQueueSize:   64,
		FetchRatePerSec:   2,
		LLMProvider:       "anthropic",
		SweepSchedule:     "@every 30s",
	}
}

// Load builds the configuration from defaults, then the TOML file named by
// ANAMNESIS_CONFIG, then environment variables (.env files included).
func Load() Config {
	// Best-effort load of local env files for dev convenience.
	loadEnvFiles(".env", "cmd/.env")

	cfg := Defaults()
	path := getEnv("ANAMNESIS_CONFIG", defaultConfigPath)
	if err := LoadFile(path, &cfg); err != nil {
		telemetry.Warn("config.file_ignored", map[string]any{"path": path, "error": err.Error()})
	}
	applyEnv(&cfg)
	normalize(&cfg)

	if cfg.Env == "production" && cfg.DatabaseURL == "" {
		telemetry.Warn("config.database_url_missing", map[string]any{"env": cfg.Env})
	}
	return cfg
}

// LoadFile decodes the TOML file at path over cfg. A missing file is not an
// error; unknown keys are.
func LoadFile(path string, cfg *Config) error {
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	dec := toml.NewDecoder(strings.NewReader(string(raw)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.Port, "PORT")
	setString(&cfg.Env, "ENV")
	setString(&cfg.LogLevel, "LOG_LEVEL")
	setString(&cfg.DatabaseURL, "DATABASE_URL")
	if raw := os.Getenv("CORS_ALLOW_ORIGINS"); raw != "" {
		cfg.CORSAllowOrigin = splitAndTrim(raw)
	}
	setString(&cfg.ObjectStoreType, "OBJECT_STORE")
	setString(&cfg.LocalStoreDir, "LOCAL_STORE_DIR")
	setString(&cfg.AWSRegion, "AWS_REGION")
	setString(&cfg.S3Bucket, "S3_BUCKET")
	setString(&cfg.S3Prefix, "S3_PREFIX")
	setString(&cfg.SSEKMSKeyID, "SSE_KMS_KEY_ID")
	setString(&cfg.SQSQueueURL, "RA_SQS_QUEUE_URL")
	setString(&cfg.WorkerKind, "WORKER_KIND")
	setInt(&cfg.WorkerConcurrency, "WORKER_CONCURRENCY")
	setInt(&cfg.WorkerQueueSize, "WORKER_QUEUE_SIZE")
	setFloat(&cfg.FetchRatePerSec, "FETCH_RATE_PER_SEC")
	setString(&cfg.LLMProvider, "LLM_PROVIDER")
	setString(&cfg.LLMModel, "LLM_MODEL")
	setString(&cfg.SweepSchedule, "SWEEP_SCHEDULE")
	setString(&cfg.JWTSecret, "JWT_SECRET")
	setString(&cfg.GoogleClientID, "GOOGLE_CLIENT_ID")
	setString(&cfg.GoogleClientSecret, "GOOGLE_CLIENT_SECRET")
	setString(&cfg.GoogleRedirectURL, "GOOGLE_REDIRECT_URL")
	setString(&cfg.UIRedirectURL, "UI_REDIRECT_URL")
}

func normalize(cfg *Config) {
	cfg.Env = normalizeEnv(cfg.Env)
	cfg.ObjectStoreType = normalizeStoreType(cfg.ObjectStoreType)
	cfg.WorkerKind = normalizeWorkerKind(cfg.WorkerKind)
	cfg.LLMProvider = strings.ToLower(strings.TrimSpace(cfg.LLMProvider))
	if len(cfg.CORSAllowOrigin) == 0 {
		cfg.CORSAllowOrigin = []string{defaultCORSOrigin}
	}
	if cfg.WorkerConcurrency <= 0 {
		cfg.WorkerConcurrency = 1
	}
	if cfg.WorkerQueueSize <= 0 {
		cfg.WorkerQueueSize = Defaults().WorkerQueueSize
	}
	if cfg.FetchRatePerSec <= 0 {
		cfg.FetchRatePerSec = Defaults().FetchRatePerSec
	}
}

// IsDevLike reports whether env tolerates missing infrastructure.
func (c Config) IsDevLike() bool {
	return c.Env == "dev" || c.Env == "local"
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func setString(dst *string, key string) {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		*dst = val
	}
}

func setInt(dst *int, key string) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		telemetry.Warn("config.invalid_int", map[string]any{"key": key, "value": raw})
		return
	}
	*dst = val
}

func setFloat(dst *float64, key string) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return
	}
	val, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		telemetry.Warn("config.invalid_float", map[string]any{"key": key, "value": raw})
		return
	}
	*dst = val
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	var out []string
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func normalizeEnv(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "production", "prod":
		return "production"
	case "staging":
		return "staging"
	case "local":
		return "local"
	default:
		return "dev"
	}
}

func normalizeStoreType(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "s3":
		return "s3"
	default:
		return "local"
	}
}

func normalizeWorkerKind(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "site":
		return "site"
	case "llm":
		return "llm"
	default:
		return "mock"
	}
}
