package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/hszk-dev/hlsforge/internal/domain/model"
)

type Config struct {
	Server    ServerConfig
	Worker    WorkerConfig
	Toolchain ToolchainConfig
	Database  DatabaseConfig
	MinIO     MinIOConfig
	RabbitMQ  RabbitMQConfig
	Redis     RedisConfig
	Telemetry TelemetryConfig
}

type ServerConfig struct {
	Port            int           `envconfig:"API_PORT" default:"8080"`
	ReadTimeout     time.Duration `envconfig:"API_READ_TIMEOUT" default:"10s"`
	ShutdownTimeout time.Duration `envconfig:"API_SHUTDOWN_TIMEOUT" default:"10s"`

	// PlaylistBaseURL is prepended to published prefixes in job responses.
	PlaylistBaseURL string `envconfig:"API_PLAYLIST_BASE_URL"`

	// Profile is an optional YAML conversion profile applied when a request omits options.
	Profile string `envconfig:"API_PROFILE"`

	// AllowedOrigins lists browser origins allowed to call the API. Comma separated.
	AllowedOrigins []string `envconfig:"API_ALLOWED_ORIGINS" default:"*"`
}

type WorkerConfig struct {
	// WorkDir holds downloaded sources and per-job output trees.
	WorkDir         string        `envconfig:"WORKER_WORK_DIR" default:"/tmp/hlsforge"`
	MaxRetries      int           `envconfig:"WORKER_MAX_RETRIES" default:"3"`
	ShutdownTimeout time.Duration `envconfig:"WORKER_SHUTDOWN_TIMEOUT" default:"30s"`

	// ProgressInterval bounds how often progress snapshots are written to the cache.
	ProgressInterval time.Duration `envconfig:"WORKER_PROGRESS_INTERVAL" default:"500ms"`

	// MetricsAddr serves /metrics for the worker. Empty disables it.
	MetricsAddr string `envconfig:"WORKER_METRICS_ADDR" default:":9090"`

	// InputRoot and OutputRoot confine the host paths API-submitted jobs may
	// read and write. Both the API and the worker enforce them.
	InputRoot  string `envconfig:"WORKER_INPUT_ROOT" default:"/srv/hlsforge/input"`
	OutputRoot string `envconfig:"WORKER_OUTPUT_ROOT" default:"/srv/hlsforge/output"`
}

// Roots returns the path confinement for service-submitted jobs.
func (c WorkerConfig) Roots() model.PathRoots {
	return model.PathRoots{Input: c.InputRoot, Output: c.OutputRoot}
}

type ToolchainConfig struct {
	// SearchDirs are tried before $PATH when locating ffmpeg and ffprobe.
	SearchDirs []string `envconfig:"TOOLCHAIN_SEARCH_DIRS" default:"/opt/homebrew/bin,/usr/local/bin,/usr/bin"`

	// Arch overrides runtime.GOARCH for hardware encoder selection.
	Arch string `envconfig:"TOOLCHAIN_ARCH"`
}

type DatabaseConfig struct {
	Host     string `envconfig:"POSTGRES_HOST" default:"localhost"`
	Port     int    `envconfig:"POSTGRES_PORT" default:"5432"`
	User     string `envconfig:"POSTGRES_USER" default:"hlsforge"`
	Password string `envconfig:"POSTGRES_PASSWORD" default:"hlsforge"`
	DBName   string `envconfig:"POSTGRES_DB" default:"hlsforge"`
	SSLMode  string `envconfig:"POSTGRES_SSLMODE" default:"disable"`
}

func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

type MinIOConfig struct {
	Endpoint  string `envconfig:"MINIO_ENDPOINT" default:"localhost:9000"`
	AccessKey string `envconfig:"MINIO_ACCESS_KEY" default:"minioadmin"`
	SecretKey string `envconfig:"MINIO_SECRET_KEY" default:"minioadmin"`
	Bucket    string `envconfig:"MINIO_BUCKET" default:"hls"`
	UseSSL    bool   `envconfig:"MINIO_USE_SSL" default:"false"`

	// UploadConcurrency bounds parallel PUTs while publishing an output tree.
	UploadConcurrency int `envconfig:"MINIO_UPLOAD_CONCURRENCY" default:"4"`
}

type RabbitMQConfig struct {
	Host     string `envconfig:"RABBITMQ_HOST" default:"localhost"`
	Port     int    `envconfig:"RABBITMQ_PORT" default:"5672"`
	User     string `envconfig:"RABBITMQ_USER" default:"hlsforge"`
	Password string `envconfig:"RABBITMQ_PASSWORD" default:"hlsforge"`
	VHost    string `envconfig:"RABBITMQ_VHOST" default:"/"`
}

func (c RabbitMQConfig) URL() string {
	return fmt.Sprintf(
		"amqp://%s:%s@%s:%d%s",
		c.User, c.Password, c.Host, c.Port, c.VHost,
	)
}

type RedisConfig struct {
	Host     string `envconfig:"REDIS_HOST" default:"localhost"`
	Port     int    `envconfig:"REDIS_PORT" default:"6379"`
	Password string `envconfig:"REDIS_PASSWORD"`
	DB       int    `envconfig:"REDIS_DB" default:"0"`

	// ProgressTTL is how long a progress snapshot outlives its last update.
	ProgressTTL time.Duration `envconfig:"REDIS_PROGRESS_TTL" default:"24h"`
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type TelemetryConfig struct {
	OTLPEndpoint string  `envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	SampleRate   float64 `envconfig:"OTEL_TRACE_SAMPLE_RATE" default:"0.1"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}
