package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"minerva/pkg/errors"
)

type Config struct {
	App           AppConfig
	Postgres      PostgresConfig
	Redis         RedisConfig
	ClickHouse    ClickHouseConfig
	Kafka         KafkaConfig
	AI            AIConfig
	MarketData    MarketDataConfig
	Orchestrator  OrchestratorConfig
	ErrorTracking ErrorTrackingConfig
}

type AppConfig struct {
	Name     string `envconfig:"APP_NAME" default:"minerva"`
	Env      string `envconfig:"APP_ENV" default:"development"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	LogDir   string `envconfig:"LOG_DIR"`
	Debug    bool   `envconfig:"DEBUG" default:"false"`
	HTTPPort int    `envconfig:"HTTP_PORT" default:"8080"`
}

type PostgresConfig struct {
	Host     string `envconfig:"POSTGRES_HOST" required:"true"`
	Port     int    `envconfig:"POSTGRES_PORT" default:"5432"`
	User     string `envconfig:"POSTGRES_USER" required:"true"`
	Password string `envconfig:"POSTGRES_PASSWORD" required:"true"`
	Database string `envconfig:"POSTGRES_DB" required:"true"`
	SSLMode  string `envconfig:"POSTGRES_SSL_MODE" default:"disable"`
	MaxConns int    `envconfig:"POSTGRES_MAX_CONNS" default:"25"`
}

func (c PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

type RedisConfig struct {
	Host     string `envconfig:"REDIS_HOST" required:"true"`
	Port     int    `envconfig:"REDIS_PORT" default:"6379"`
	Password string `envconfig:"REDIS_PASSWORD"`
	DB       int    `envconfig:"REDIS_DB" default:"0"`
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ClickHouseConfig is optional; an empty host disables the usage log sink.
type ClickHouseConfig struct {
	Host     string `envconfig:"CLICKHOUSE_HOST"`
	Port     int    `envconfig:"CLICKHOUSE_PORT" default:"9000"`
	User     string `envconfig:"CLICKHOUSE_USER" default:"default"`
	Password string `envconfig:"CLICKHOUSE_PASSWORD"`
	Database string `envconfig:"CLICKHOUSE_DB" default:"minerva"`
}

func (c ClickHouseConfig) Enabled() bool { return c.Host != "" }

// KafkaConfig is optional; no brokers disables decision event publishing.
type KafkaConfig struct {
	Brokers        []string `envconfig:"KAFKA_BROKERS"`
	DecisionsTopic string   `envconfig:"KAFKA_DECISIONS_TOPIC" default:"minerva.decisions"`
}

func (c KafkaConfig) Enabled() bool { return len(c.Brokers) > 0 }

// AIConfig holds the two OpenAI-compatible provider endpoints. The primary
// provider is OpenAI itself by default; the alternate points at an xAI-style
// compatible API.
type AIConfig struct {
	PrimaryKey           string   `envconfig:"PRIMARY_PROVIDER_KEY"`
	PrimaryBaseURL       string   `envconfig:"PRIMARY_BASE_URL" default:"https://api.openai.com/v1"`
	PrimaryModel         string   `envconfig:"PRIMARY_MODEL"`
	PrimaryAllowedModels []string `envconfig:"PRIMARY_ALLOWED_MODELS"`

	AlternateKey           string   `envconfig:"ALTERNATE_PROVIDER_KEY"`
	AlternateBaseURL       string   `envconfig:"ALTERNATE_BASE_URL" default:"https://api.x.ai/v1"`
	AlternateModel         string   `envconfig:"ALTERNATE_MODEL"`
	AlternateAllowedModels []string `envconfig:"ALTERNATE_ALLOWED_MODELS"`

	DefaultModelOverride string `envconfig:"DEFAULT_MODEL_OVERRIDE"`

	EmbeddingModel string        `envconfig:"EMBEDDING_MODEL" default:"text-embedding-3-small"`
	RequestTimeout time.Duration `envconfig:"AI_REQUEST_TIMEOUT" default:"120s"`
	RateLimitRPS   float64       `envconfig:"AI_RATE_LIMIT_RPS" default:"2"`
	RateLimitBurst int           `envconfig:"AI_RATE_LIMIT_BURST" default:"4"`
}

type MarketDataConfig struct {
	BaseURL string `envconfig:"MARKET_DATA_BASE_URL" default:"https://api.marketstack.dev/v2"`
	APIKey  string `envconfig:"MARKET_DATA_API_KEY"`
}

type OrchestratorConfig struct {
	AgentVersion           string        `envconfig:"AGENT_VERSION" default:"1"`
	InvestmentDebateRounds int           `envconfig:"INVESTMENT_DEBATE_ROUNDS" default:"2"`
	RiskDebateRounds       int           `envconfig:"RISK_DEBATE_ROUNDS" default:"2"`
	ProgressBufferSize     int           `envconfig:"PROGRESS_BUFFER_SIZE" default:"512"`
	RunRetentionTTL        time.Duration `envconfig:"RUN_RETENTION_TTL" default:"30m"`
	DecisionCacheTTL       time.Duration `envconfig:"DECISION_CACHE_TTL" default:"24h"`
	MaxConcurrentRuns      int           `envconfig:"MAX_CONCURRENT_RUNS" default:"8"`
	CachePolicyPath        string        `envconfig:"CACHE_POLICY_PATH"`
}

type ErrorTrackingConfig struct {
	Enabled     bool   `envconfig:"ERROR_TRACKING_ENABLED" default:"true"`
	SentryDSN   string `envconfig:"SENTRY_DSN"`
	Environment string `envconfig:"SENTRY_ENVIRONMENT" default:"production"`
}

// Load reads configuration from environment variables
// It first tries to load .env file (useful for local development)
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to process env config")
	}

	return &cfg, nil
}
