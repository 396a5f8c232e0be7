package config

import (
	"os"
	"strings"

	"github.com/spf13/viper"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
// If FOO_FILE is set, reads the file content and sets FOO.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	fileKey := envKey + "_FILE"
	filePath := os.Getenv(fileKey)
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	val := strings.TrimSpace(string(data))
	os.Setenv(envKey, val)
}

type Config struct {
	Server    ServerConfig
	Redis     RedisConfig
	Postgres  PostgresConfig
	JWT       JWTConfig
	GenAPI    GenAPIConfig
	Plans     PlansConfig
	Pipeline  PipelineConfig
	Prompts   PromptsConfig
	Storage   StorageConfig
	Watermark WatermarkConfig
}

type ServerConfig struct {
	Port     string
	Env      string
	LogLevel string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type PostgresConfig struct {
	DSN string
}

type JWTConfig struct {
	Secret string
}

// GenAPIConfig configures the external image-generation API client.
type GenAPIConfig struct {
	APIKey         string
	BaseURL        string
	Model          string
	BeautifyModel  string
	Size           string
	MaxAttempts    int
	RetryDelayMS   int
	Concurrency    int
	TimeoutSeconds int
}

// PlansConfig holds per-plan output quotas.
type PlansConfig struct {
	FreeCount  int
	StartCount int
	ProCount   int
}

type PipelineConfig struct {
	WorkerConcurrency int
	QueueMaxRetry     int
	BatchSize         int
	PerImageSeconds   int
	SweepIntervalSec  int
	StalledAfterMin   int
}

type PromptsConfig struct {
	PrimaryPath   string
	SecondaryPath string
}

type StorageConfig struct {
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	UploadsBucket   string
	ResultsBucket   string
	UploadsBaseURL  string
	ResultsBaseURL  string
	UsePathStyle    bool
}

type WatermarkConfig struct {
	Text    string
	Opacity float64
}

func Load() (*Config, error) {
	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("POSTGRES_DSN")
	readSecret("GENAPI_API_KEY")
	readSecret("STORAGE_ACCESS_KEY_ID")
	readSecret("STORAGE_SECRET_ACCESS_KEY")
	readSecret("JWT_SECRET")

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// Environment variables
	viper.AutomaticEnv()

	// Bind environment variables with underscores to nested config keys
	_ = viper.BindEnv("server.port", "SERVER_PORT")
	_ = viper.BindEnv("server.env", "SERVER_ENV")
	_ = viper.BindEnv("server.log_level", "LOG_LEVEL")
	_ = viper.BindEnv("redis.addr", "REDIS_ADDR")
	_ = viper.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = viper.BindEnv("redis.db", "REDIS_DB")
	_ = viper.BindEnv("postgres.dsn", "POSTGRES_DSN")
	_ = viper.BindEnv("jwt.secret", "JWT_SECRET")
	_ = viper.BindEnv("genapi.api_key", "GENAPI_API_KEY")
	_ = viper.BindEnv("genapi.base_url", "GENAPI_BASE_URL")
	_ = viper.BindEnv("genapi.model", "GENAPI_MODEL")
	_ = viper.BindEnv("genapi.beautify_model", "GENAPI_BEAUTIFY_MODEL")
	_ = viper.BindEnv("genapi.size", "GENAPI_SIZE")
	_ = viper.BindEnv("genapi.max_attempts", "GENAPI_MAX_ATTEMPTS")
	_ = viper.BindEnv("genapi.retry_delay_ms", "GENAPI_RETRY_DELAY_MS")
	_ = viper.BindEnv("genapi.concurrency", "GENAPI_CONCURRENCY")
	_ = viper.BindEnv("genapi.timeout_seconds", "GENAPI_TIMEOUT_SECONDS")
	_ = viper.BindEnv("plans.free_count", "PLAN_FREE_COUNT")
	_ = viper.BindEnv("plans.start_count", "PLAN_START_COUNT")
	_ = viper.BindEnv("plans.pro_count", "PLAN_PRO_COUNT")
	_ = viper.BindEnv("pipeline.worker_concurrency", "WORKER_CONCURRENCY")
	_ = viper.BindEnv("pipeline.queue_max_retry", "QUEUE_MAX_RETRY")
	_ = viper.BindEnv("pipeline.batch_size", "PIPELINE_BATCH_SIZE")
	_ = viper.BindEnv("pipeline.per_image_seconds", "PIPELINE_PER_IMAGE_SECONDS")
	_ = viper.BindEnv("pipeline.sweep_interval_sec", "PIPELINE_SWEEP_INTERVAL_SEC")
	_ = viper.BindEnv("pipeline.stalled_after_min", "PIPELINE_STALLED_AFTER_MIN")
	_ = viper.BindEnv("prompts.primary_path", "PROMPTS_PRIMARY_PATH")
	_ = viper.BindEnv("prompts.secondary_path", "PROMPTS_SECONDARY_PATH")
	_ = viper.BindEnv("storage.endpoint", "STORAGE_ENDPOINT")
	_ = viper.BindEnv("storage.region", "STORAGE_REGION")
	_ = viper.BindEnv("storage.access_key_id", "STORAGE_ACCESS_KEY_ID")
	_ = viper.BindEnv("storage.secret_access_key", "STORAGE_SECRET_ACCESS_KEY")
	_ = viper.BindEnv("storage.uploads_bucket", "STORAGE_UPLOADS_BUCKET")
	_ = viper.BindEnv("storage.results_bucket", "STORAGE_RESULTS_BUCKET")
	_ = viper.BindEnv("storage.uploads_base_url", "STORAGE_UPLOADS_BASE_URL")
	_ = viper.BindEnv("storage.results_base_url", "STORAGE_RESULTS_BASE_URL")
	_ = viper.BindEnv("storage.use_path_style", "STORAGE_USE_PATH_STYLE")
	_ = viper.BindEnv("watermark.text", "WATERMARK_TEXT")
	_ = viper.BindEnv("watermark.opacity", "WATERMARK_OPACITY")

	// Defaults
	viper.SetDefault("server.port", "8000")
	viper.SetDefault("server.env", "development")
	viper.SetDefault("server.log_level", "info")
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("postgres.dsn", "host=localhost user=rizzify password=rizzify dbname=rizzify port=5432 sslmode=disable")
	viper.SetDefault("jwt.secret", "change-me-in-production")

	// Generation API defaults
	viper.SetDefault("genapi.base_url", "https://api.tu-zi.com")
	viper.SetDefault("genapi.model", "flux-kontext-pro")
	viper.SetDefault("genapi.beautify_model", "flux-kontext-pro")
	viper.SetDefault("genapi.size", "1024x1024")
	viper.SetDefault("genapi.max_attempts", 3)
	viper.SetDefault("genapi.retry_delay_ms", 2000)
	viper.SetDefault("genapi.concurrency", 5)
	viper.SetDefault("genapi.timeout_seconds", 120)

	// Plan quotas
	viper.SetDefault("plans.free_count", 2)
	viper.SetDefault("plans.start_count", 20)
	viper.SetDefault("plans.pro_count", 50)

	// Pipeline defaults
	viper.SetDefault("pipeline.worker_concurrency", 8)
	viper.SetDefault("pipeline.queue_max_retry", 3)
	viper.SetDefault("pipeline.batch_size", 5)
	viper.SetDefault("pipeline.per_image_seconds", 12)
	viper.SetDefault("pipeline.sweep_interval_sec", 60)
	viper.SetDefault("pipeline.stalled_after_min", 15)

	// Prompt catalogs
	viper.SetDefault("prompts.primary_path", "./prompts/primary.json")
	viper.SetDefault("prompts.secondary_path", "./prompts/secondary.json")

	// Object storage
	viper.SetDefault("storage.region", "auto")
	viper.SetDefault("storage.uploads_bucket", "rizzify-uploads")
	viper.SetDefault("storage.results_bucket", "rizzify-results")
	viper.SetDefault("storage.use_path_style", false)

	// Watermark
	viper.SetDefault("watermark.text", "rizzify.app")
	viper.SetDefault("watermark.opacity", 0.35)

	// Try to read config file (optional)
	_ = viper.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port:     viper.GetString("server.port"),
			Env:      viper.GetString("server.env"),
			LogLevel: viper.GetString("server.log_level"),
		},
		Redis: RedisConfig{
			Addr:     viper.GetString("redis.addr"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		Postgres: PostgresConfig{
			DSN: viper.GetString("postgres.dsn"),
		},
		JWT: JWTConfig{
			Secret: viper.GetString("jwt.secret"),
		},
		GenAPI: GenAPIConfig{
			APIKey:         viper.GetString("genapi.api_key"),
			BaseURL:        viper.GetString("genapi.base_url"),
			Model:          viper.GetString("genapi.model"),
			BeautifyModel:  viper.GetString("genapi.beautify_model"),
			Size:           viper.GetString("genapi.size"),
			MaxAttempts:    viper.GetInt("genapi.max_attempts"),
			RetryDelayMS:   viper.GetInt("genapi.retry_delay_ms"),
			Concurrency:    viper.GetInt("genapi.concurrency"),
			TimeoutSeconds: viper.GetInt("genapi.timeout_seconds"),
		},
		Plans: PlansConfig{
			FreeCount:  viper.GetInt("plans.free_count"),
			StartCount: viper.GetInt("plans.start_count"),
			ProCount:   viper.GetInt("plans.pro_count"),
		},
		Pipeline: PipelineConfig{
			WorkerConcurrency: viper.GetInt("pipeline.worker_concurrency"),
			QueueMaxRetry:     viper.GetInt("pipeline.queue_max_retry"),
			BatchSize:         viper.GetInt("pipeline.batch_size"),
			PerImageSeconds:   viper.GetInt("pipeline.per_image_seconds"),
			SweepIntervalSec:  viper.GetInt("pipeline.sweep_interval_sec"),
			StalledAfterMin:   viper.GetInt("pipeline.stalled_after_min"),
		},
		Prompts: PromptsConfig{
			PrimaryPath:   viper.GetString("prompts.primary_path"),
			SecondaryPath: viper.GetString("prompts.secondary_path"),
		},
		Storage: StorageConfig{
			Endpoint:        viper.GetString("storage.endpoint"),
			Region:          viper.GetString("storage.region"),
			AccessKeyID:     viper.GetString("storage.access_key_id"),
			SecretAccessKey: viper.GetString("storage.secret_access_key"),
			UploadsBucket:   viper.GetString("storage.uploads_bucket"),
			ResultsBucket:   viper.GetString("storage.results_bucket"),
			UploadsBaseURL:  viper.GetString("storage.uploads_base_url"),
			ResultsBaseURL:  viper.GetString("storage.results_base_url"),
			UsePathStyle:    viper.GetBool("storage.use_path_style"),
		},
		Watermark: WatermarkConfig{
			Text:    viper.GetString("watermark.text"),
			Opacity: viper.GetFloat64("watermark.opacity"),
		},
	}

	return cfg, nil
}

// QuotaFor returns the styled-output quota for a plan tier.
func (p *PlansConfig) QuotaFor(plan string) int {
	switch plan {
	case "start":
		return p.StartCount
	case "pro":
		return p.ProCount
	default:
		return p.FreeCount
	}
}
