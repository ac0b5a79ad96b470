package config

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Overflow policies for the outbound (upstream -> client) audio queue.
const (
	OverflowDropOldest = "drop_oldest"
	OverflowBlock      = "block"
)

// Config holds all configuration for the voice diary gateway
type Config struct {
	// Server configuration
	Port string `envconfig:"PORT" default:"8000"`

	// Gemini API configuration
	GoogleAPIKey string `envconfig:"GOOGLE_API_KEY" required:"true"`
	LiveModel    string `envconfig:"LIVE_MODEL" default:"models/gemini-2.0-flash-live-001"`
	SummaryModel string `envconfig:"SUMMARY_MODEL" default:"gemini-2.0-flash-lite"`

	// Auth configuration
	JWTSecret string `envconfig:"JWT_SECRET" required:"true"`

	// Voice configuration
	DefaultVoice string `envconfig:"DEFAULT_VOICE" default:"Aoede"`

	// Audio bridge configuration
	InboundQueueSize  int    `envconfig:"INBOUND_QUEUE_SIZE" default:"5"`    // client -> upstream frames
	OutboundQueueSize int    `envconfig:"OUTBOUND_QUEUE_SIZE" default:"192"` // upstream -> client frames
	OutboundOverflow  string `envconfig:"OUTBOUND_OVERFLOW" default:"drop_oldest"`
	OutboundWaitMs    int    `envconfig:"OUTBOUND_WAIT_MS" default:"250"` // grace for the block policy

	// Session watchdog configuration
	SilenceTimeoutSec int `envconfig:"SILENCE_TIMEOUT_SEC" default:"30"` // user silence before hangup
	StallTimeoutSec   int `envconfig:"STALL_TIMEOUT_SEC" default:"15"`   // upstream silence before reconnect
	WatchdogTickMs    int `envconfig:"WATCHDOG_TICK_MS" default:"1000"`
	StopGraceSec      int `envconfig:"STOP_GRACE_SEC" default:"5"` // bounded wait for session teardown

	// Resilience configuration
	ReconnectMaxAttempts int `envconfig:"RECONNECT_MAX_ATTEMPTS" default:"1"` // upstream stall reconnects per session
	ReconnectBackoffMs   int `envconfig:"RECONNECT_BACKOFF_MS" default:"1000"`
	RetryMaxAttempts     int `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`
	RetryInitialBackoff  int `envconfig:"RETRY_INITIAL_BACKOFF" default:"100"` // milliseconds
	BreakerMaxFailures   int `envconfig:"BREAKER_MAX_FAILURES" default:"5"`
	BreakerResetTimeout  int `envconfig:"BREAKER_RESET_TIMEOUT" default:"30"` // seconds

	// Diary persistence configuration
	DataDir string `envconfig:"DATA_DIR" default:"./data"`

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"`
}

// Load reads configuration from environment variables
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if c.GoogleAPIKey == "" {
		return fmt.Errorf("GOOGLE_API_KEY is required")
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.OutboundOverflow != OverflowDropOldest && c.OutboundOverflow != OverflowBlock {
		return fmt.Errorf("OUTBOUND_OVERFLOW must be %q or %q, got %q",
			OverflowDropOldest, OverflowBlock, c.OutboundOverflow)
	}
	if c.InboundQueueSize < 1 {
		return fmt.Errorf("INBOUND_QUEUE_SIZE must be at least 1, got %d", c.InboundQueueSize)
	}
	if c.OutboundQueueSize < 1 {
		return fmt.Errorf("OUTBOUND_QUEUE_SIZE must be at least 1, got %d", c.OutboundQueueSize)
	}
	return nil
}
