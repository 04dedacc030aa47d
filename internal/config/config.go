// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes application settings
// such as server timeouts, logging, database paths, cache tiers, queue retry
// policy, extraction backends, validation thresholds, and observability.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "go-intake-pipeline")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// CacheConfig defines the two cache tiers. The shared tier is optional: when
// RedisAddr is empty, only the in-process tier is used.
type CacheConfig struct {
	RedisAddr     string        // REDIS_ADDR ("host:port", empty disables shared tier)
	RedisPassword string        // REDIS_PASSWORD
	RedisDB       int           // REDIS_DB
	DefaultTTL    time.Duration // CACHE_DEFAULT_TTL
}

// QueueConfig defines the durable job queue behavior.
type QueueConfig struct {
	PollInterval    time.Duration // QUEUE_POLL_INTERVAL
	BackoffBase     time.Duration // QUEUE_BACKOFF_BASE (doubled per attempt)
	MaxAttempts     int           // QUEUE_MAX_ATTEMPTS (default per job)
	HandlerTimeout  time.Duration // QUEUE_HANDLER_TIMEOUT (per attempt)
	PendingAlert    int64         // QUEUE_PENDING_ALERT (warn threshold)
	FailedAlert     int64         // QUEUE_FAILED_ALERT (warn threshold)
	ExtractWorkers  int           // QUEUE_EXTRACT_WORKERS
	ValidateWorkers int           // QUEUE_VALIDATE_WORKERS
}

// ExtractionConfig selects and configures the OCR backend.
type ExtractionConfig struct {
	Backend        string        // EXTRACTION_BACKEND: "ocrweb" | "tessd"
	OCRWebURL      string        // OCRWEB_URL
	OCRWebToken    string        // OCRWEB_TOKEN
	TessdURL       string        // TESSD_URL
	RequestTimeout time.Duration // EXTRACTION_TIMEOUT (bounds one backend call)
	WarnConfidence float64       // EXTRACTION_WARN_CONFIDENCE in [0..100]
}

// ValidationConfig holds the cross-validation thresholds. The exact cutover
// values are tunable, not load-bearing business rules.
type ValidationConfig struct {
	SimilarityThreshold float64 // VALIDATION_SIMILARITY in [0..1]
	ValidCutoff         float64 // VALIDATION_VALID_CUTOFF in [0..1]
	ReviewCutoff        float64 // VALIDATION_REVIEW_CUTOFF in [0..1]
}

// MediaConfig configures the object-storage scratch area for downloaded
// attachments (MinIO or any S3-compatible endpoint).
type MediaConfig struct {
	Endpoint  string // MEDIA_ENDPOINT ("host:port", empty disables the scratch store)
	AccessKey string // MEDIA_ACCESS_KEY
	SecretKey string // MEDIA_SECRET_KEY
	Bucket    string // MEDIA_BUCKET
	UseSSL    bool   // MEDIA_USE_SSL
}

// NotifyConfig configures the outbound push-notification provider.
type NotifyConfig struct {
	PushURL string        // PUSH_URL (empty disables delivery)
	APIKey  string        // PUSH_API_KEY
	Timeout time.Duration // PUSH_TIMEOUT
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging
	LogLevel  string // debug|info|warn|error|fatal|panic
	LogPretty bool   // pretty console logs in dev

	// App
	DBPath string // SQLite path

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS CORSConfig

	// Pipeline
	Cache      CacheConfig
	Queue      QueueConfig
	Extraction ExtractionConfig
	Validation ValidationConfig
	Media      MediaConfig
	Notify     NotifyConfig

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging
		LogLevel:  strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty: getbool("LOG_PRETTY", false),

		// App
		DBPath: getenv("DB_PATH", "app.db"),

		// Rate limiting
		RateRPS:   getfloat("RATE_RPS", 25.0),
		RateBurst: getint("RATE_BURST", 50),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},

		// Cache tiers
		Cache: CacheConfig{
			RedisAddr:     getenv("REDIS_ADDR", ""),
			RedisPassword: getenv("REDIS_PASSWORD", ""),
			RedisDB:       getint("REDIS_DB", 0),
			DefaultTTL:    getdur("CACHE_DEFAULT_TTL", time.Hour),
		},

		// Job queue
		Queue: QueueConfig{
			PollInterval:    getdur("QUEUE_POLL_INTERVAL", time.Second),
			BackoffBase:     getdur("QUEUE_BACKOFF_BASE", 5*time.Second),
			MaxAttempts:     getint("QUEUE_MAX_ATTEMPTS", 3),
			HandlerTimeout:  getdur("QUEUE_HANDLER_TIMEOUT", 2*time.Minute),
			PendingAlert:    int64(getint("QUEUE_PENDING_ALERT", 100)),
			FailedAlert:     int64(getint("QUEUE_FAILED_ALERT", 20)),
			ExtractWorkers:  getint("QUEUE_EXTRACT_WORKERS", 2),
			ValidateWorkers: getint("QUEUE_VALIDATE_WORKERS", 1),
		},

		// Extraction
		Extraction: ExtractionConfig{
			Backend:        strings.ToLower(getenv("EXTRACTION_BACKEND", "ocrweb")),
			OCRWebURL:      getenv("OCRWEB_URL", ""),
			OCRWebToken:    getenv("OCRWEB_TOKEN", ""),
			TessdURL:       getenv("TESSD_URL", ""),
			RequestTimeout: getdur("EXTRACTION_TIMEOUT", 60*time.Second),
			WarnConfidence: getfloat("EXTRACTION_WARN_CONFIDENCE", 65),
		},

		// Cross-validation
		Validation: ValidationConfig{
			SimilarityThreshold: getfloat("VALIDATION_SIMILARITY", 0.8),
			ValidCutoff:         getfloat("VALIDATION_VALID_CUTOFF", 0.8),
			ReviewCutoff:        getfloat("VALIDATION_REVIEW_CUTOFF", 0.6),
		},

		// Media scratch store
		Media: MediaConfig{
			Endpoint:  getenv("MEDIA_ENDPOINT", ""),
			AccessKey: getenv("MEDIA_ACCESS_KEY", ""),
			SecretKey: getenv("MEDIA_SECRET_KEY", ""),
			Bucket:    getenv("MEDIA_BUCKET", "intake-media"),
			UseSSL:    getbool("MEDIA_USE_SSL", false),
		},

		// Notification fanout
		Notify: NotifyConfig{
			PushURL: getenv("PUSH_URL", ""),
			APIKey:  getenv("PUSH_API_KEY", ""),
			Timeout: getdur("PUSH_TIMEOUT", 10*time.Second),
		},

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "go-intake-pipeline"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		return cfg, errors.New("DB_PATH must not be empty")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Cache.DefaultTTL <= 0 {
		return cfg, errors.New("CACHE_DEFAULT_TTL must be > 0")
	}
	if cfg.Queue.PollInterval <= 0 || cfg.Queue.BackoffBase <= 0 || cfg.Queue.HandlerTimeout <= 0 {
		return cfg, errors.New("queue durations must be positive")
	}
	if cfg.Queue.MaxAttempts < 1 {
		return cfg, errors.New("QUEUE_MAX_ATTEMPTS must be >= 1")
	}
	if cfg.Queue.ExtractWorkers < 1 || cfg.Queue.ValidateWorkers < 1 {
		return cfg, errors.New("queue worker counts must be >= 1")
	}
	switch cfg.Extraction.Backend {
	case "ocrweb", "tessd":
	default:
		return cfg, errors.New("EXTRACTION_BACKEND must be one of: ocrweb, tessd")
	}
	if cfg.Extraction.RequestTimeout <= 0 {
		return cfg, errors.New("EXTRACTION_TIMEOUT must be > 0")
	}
	if cfg.Extraction.WarnConfidence < 0 || cfg.Extraction.WarnConfidence > 100 {
		return cfg, errors.New("EXTRACTION_WARN_CONFIDENCE must be in [0,100]")
	}
	for _, v := range []float64{cfg.Validation.SimilarityThreshold, cfg.Validation.ValidCutoff, cfg.Validation.ReviewCutoff} {
		if v < 0 || v > 1 {
			return cfg, errors.New("validation thresholds must be in [0,1]")
		}
	}
	if cfg.Validation.ReviewCutoff > cfg.Validation.ValidCutoff {
		return cfg, errors.New("VALIDATION_REVIEW_CUTOFF must not exceed VALIDATION_VALID_CUTOFF")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// ---- helpers (no external deps) ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}
