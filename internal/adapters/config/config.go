package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"athena/pkg/errors"
)

type Config struct {
	App           AppConfig
	Postgres      PostgresConfig
	ClickHouse    ClickHouseConfig
	Redis         RedisConfig
	Kafka         KafkaConfig
	Telegram      TelegramConfig
	Engine        EngineConfig
	Workers       WorkerConfig
	Monitoring    MonitoringConfig
	ErrorTracking ErrorTrackingConfig
}

type AppConfig struct {
	Name     string `envconfig:"APP_NAME" default:"athena"`
	Env      string `envconfig:"APP_ENV" default:"development"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	Debug    bool   `envconfig:"DEBUG" default:"false"`
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

type ClickHouseConfig struct {
	Host     string `envconfig:"CLICKHOUSE_HOST" required:"true"`
	Port     int    `envconfig:"CLICKHOUSE_PORT" default:"9000"`
	User     string `envconfig:"CLICKHOUSE_USER" default:"default"`
	Password string `envconfig:"CLICKHOUSE_PASSWORD"`
	Database string `envconfig:"CLICKHOUSE_DB" default:"research"`
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

type KafkaConfig struct {
	Brokers []string `envconfig:"KAFKA_BROKERS" required:"true"`
	GroupID string   `envconfig:"KAFKA_GROUP_ID" default:"athena"`
}

type TelegramConfig struct {
	Enabled    bool   `envconfig:"TELEGRAM_ALERTS_ENABLED" default:"false"`
	BotToken   string `envconfig:"TELEGRAM_BOT_TOKEN"`
	AlertsChat int64  `envconfig:"TELEGRAM_ALERTS_CHAT_ID"`
}

type MonitoringConfig struct {
	Enabled bool   `envconfig:"METRICS_ENABLED" default:"true"`
	Addr    string `envconfig:"METRICS_ADDR" default:":9090"`
}

type ErrorTrackingConfig struct {
	Enabled     bool   `envconfig:"ERROR_TRACKING_ENABLED" default:"true"`
	SentryDSN   string `envconfig:"SENTRY_DSN"`
	Environment string `envconfig:"SENTRY_ENVIRONMENT" default:"production"`
}

// EngineConfig tunes the orchestration engine.
// The consensus and insight constants are heuristic defaults, not tuned
// business rules; they are exposed here so deployments can adjust them.
type EngineConfig struct {
	// Shared worker pool for all agent invocations
	PoolSize int `envconfig:"ENGINE_POOL_SIZE" default:"8"`

	// Timeouts
	AgentCallTimeout time.Duration `envconfig:"ENGINE_AGENT_CALL_TIMEOUT" default:"45s"`
	SessionTimeout   time.Duration `envconfig:"ENGINE_SESSION_TIMEOUT" default:"5m"`

	// Debate / consensus thresholds
	DebateEarlyStopConsensus float64 `envconfig:"ENGINE_DEBATE_EARLY_STOP" default:"0.8"`
	ConsensusHighThreshold   float64 `envconfig:"ENGINE_CONSENSUS_HIGH" default:"0.8"`
	ConsensusMediumThreshold float64 `envconfig:"ENGINE_CONSENSUS_MEDIUM" default:"0.6"`

	// Key insight extraction
	InsightConfidenceFloor float64 `envconfig:"ENGINE_INSIGHT_CONFIDENCE_FLOOR" default:"0.8"`
	InsightRecurringPrefix int     `envconfig:"ENGINE_INSIGHT_RECURRING_PREFIX" default:"40"`
	InsightLimit           int     `envconfig:"ENGINE_INSIGHT_LIMIT" default:"10"`

	// Result cache
	ResultCacheTTL time.Duration `envconfig:"ENGINE_RESULT_CACHE_TTL" default:"1h"`

	// Producer call rate limiting (requests per minute, per agent)
	ProducerRatePerMinute float64 `envconfig:"ENGINE_PRODUCER_RATE_PER_MINUTE" default:"120"`
	ProducerBurst         int     `envconfig:"ENGINE_PRODUCER_BURST" default:"10"`
}

// WorkerConfig contains intervals and toggles for all background workers
type WorkerConfig struct {
	HealthSweepEnabled  bool          `envconfig:"WORKER_HEALTH_SWEEP_ENABLED" default:"true"`
	HealthSweepInterval time.Duration `envconfig:"WORKER_HEALTH_SWEEP_INTERVAL" default:"2m"`
	AgentInactiveAfter  time.Duration `envconfig:"WORKER_AGENT_INACTIVE_AFTER" default:"30m"`
	AgentMaxAvgResponse time.Duration `envconfig:"WORKER_AGENT_MAX_AVG_RESPONSE" default:"30s"`

	MarketTrendEnabled   bool          `envconfig:"WORKER_MARKET_TREND_ENABLED" default:"true"`
	MarketTrendInterval  time.Duration `envconfig:"WORKER_MARKET_TREND_INTERVAL" default:"15m"`
	MarketTrendOpenHour  int           `envconfig:"WORKER_MARKET_TREND_OPEN_HOUR" default:"9"`
	MarketTrendCloseHour int           `envconfig:"WORKER_MARKET_TREND_CLOSE_HOUR" default:"17"`

	RiskAssessmentEnabled   bool          `envconfig:"WORKER_RISK_ASSESSMENT_ENABLED" default:"true"`
	RiskAssessmentInterval  time.Duration `envconfig:"WORKER_RISK_ASSESSMENT_INTERVAL" default:"30m"`
	RiskConsensusThreshold  float64       `envconfig:"WORKER_RISK_CONSENSUS_THRESHOLD" default:"0.7"`

	StrategyReviewEnabled  bool          `envconfig:"WORKER_STRATEGY_REVIEW_ENABLED" default:"true"`
	StrategyReviewInterval time.Duration `envconfig:"WORKER_STRATEGY_REVIEW_INTERVAL" default:"24h"`

	MaintenanceEnabled   bool          `envconfig:"WORKER_MAINTENANCE_ENABLED" default:"true"`
	MaintenanceInterval  time.Duration `envconfig:"WORKER_MAINTENANCE_INTERVAL" default:"24h"`
	SuccessRateFloor     float64       `envconfig:"WORKER_SUCCESS_RATE_FLOOR" default:"0.8"`
	ConfidenceFloor      float64       `envconfig:"WORKER_CONFIDENCE_FLOOR" default:"0.7"`

	EmergencyLockTTL time.Duration `envconfig:"WORKER_EMERGENCY_LOCK_TTL" default:"5m"`
}

// Load reads configuration from environment variables
// It first tries to load .env file (useful for local development)
func Load() (*Config, error) {
	// Load .env file if exists (ignore error if not exists)
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to process env config")
	}

	return &cfg, nil
}
