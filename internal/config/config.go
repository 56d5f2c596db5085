package config

import (
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// Server
	Port         string        `envconfig:"PORT" default:"8080"`
	ReadTimeout  time.Duration `envconfig:"READ_TIMEOUT" default:"30s"`
	WriteTimeout time.Duration `envconfig:"WRITE_TIMEOUT" default:"30s"`
	IdleTimeout  time.Duration `envconfig:"IDLE_TIMEOUT" default:"120s"`

	// Database
	PostgresURL string `envconfig:"POSTGRES_URL" required:"true"`

	// Redis
	RedisURL string `envconfig:"REDIS_URL" required:"true"`

	// Gateway
	GatewayBaseURL string `envconfig:"GATEWAY_BASE_URL" required:"true"`
	GatewayAPIKey  string `envconfig:"GATEWAY_API_KEY" required:"true"`
	WebhookSecret  string `envconfig:"WEBHOOK_SECRET"`

	// Agents
	TranscriptionURL string `envconfig:"TRANSCRIPTION_AGENT_URL"`
	RAGURL           string `envconfig:"RAG_AGENT_URL"`
	MemoryURL        string `envconfig:"MEMORY_AGENT_URL"`
	WebSearchURL     string `envconfig:"WEB_SEARCH_AGENT_URL"`

	// LLM
	LLMBaseURL string `envconfig:"LLM_BASE_URL"`
	LLMAPIKey  string `envconfig:"LLM_API_KEY"`
	LLMModel   string `envconfig:"LLM_MODEL" default:"gpt-4o-mini"`

	// Admission control
	QueueThreshold      int64         `envconfig:"QUEUE_THRESHOLD" default:"1000"`
	PendingThreshold    int64         `envconfig:"PENDING_THRESHOLD" default:"200"`
	RateLimitPerMinute  int           `envconfig:"RATE_LIMIT_PER_MINUTE" default:"60"`
	RateLimitBurst      int           `envconfig:"RATE_LIMIT_BURST" default:"10"`
	BaseThrottleDelayMs int           `envconfig:"BASE_THROTTLE_DELAY_MS" default:"0"`
	MaxThrottleDelayMs  int           `envconfig:"MAX_THROTTLE_DELAY_MS" default:"2000"`
	AllowedOrigins      string        `envconfig:"ALLOWED_ORIGINS" default:"*"`
	BackpressureCheck   time.Duration `envconfig:"BACKPRESSURE_CHECK_INTERVAL" default:"2s"`

	// DLQ administration
	DLQAdminToken string `envconfig:"DLQ_ADMIN_TOKEN" required:"true"`

	// Worker
	WorkerPoolSize int           `envconfig:"WORKER_POOL_SIZE" default:"0"`
	MaxRetries     int           `envconfig:"MAX_RETRIES" default:"5"`
	AutoClaimIdle  time.Duration `envconfig:"AUTO_CLAIM_IDLE" default:"5m"`
	StreamMaxLen   int64         `envconfig:"STREAM_MAX_LEN" default:"100000"`

	// Observability
	Environment string `envconfig:"ENVIRONMENT" default:"production"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
