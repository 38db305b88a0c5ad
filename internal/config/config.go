// Package config loads broker configuration from environment variables (and
// an optional .env file), validates it, and logs the resolved values.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Config holds every recognized broker option.
type Config struct {
	Addr string `env:"WS_ADDR" envDefault:":8080"`

	MaxConnections int `env:"WS_MAX_CONNECTIONS" envDefault:"5000"`
	MaxPayloadBytes int `env:"WS_MAX_PAYLOAD" envDefault:"1048576"`

	AgentConnectionTimeoutMs     int `env:"WS_AGENT_CONNECTION_TIMEOUT_MS" envDefault:"90000"`
	DashboardConnectionTimeoutMs int `env:"WS_DASHBOARD_CONNECTION_TIMEOUT_MS" envDefault:"120000"`
	CleanupIntervalMs            int `env:"WS_CLEANUP_INTERVAL_MS" envDefault:"10000"`

	PingIntervalMs  int `env:"WS_PING_INTERVAL_MS" envDefault:"30000"`
	PongTimeoutMs   int `env:"WS_PONG_TIMEOUT_MS" envDefault:"10000"`
	MaxMissedPings  int `env:"WS_MAX_MISSED_PINGS" envDefault:"5"`

	RefreshThresholdMs  int `env:"WS_REFRESH_THRESHOLD_MS" envDefault:"300000"`
	RefreshIntervalMs   int `env:"WS_REFRESH_INTERVAL_MS" envDefault:"60000"`
	MaxRefreshAttempts  int `env:"WS_MAX_REFRESH_ATTEMPTS" envDefault:"3"`

	TerminalBufferSize       int `env:"WS_TERMINAL_BUFFER_SIZE" envDefault:"8192"`
	TerminalFlushIntervalMs  int `env:"WS_TERMINAL_FLUSH_INTERVAL_MS" envDefault:"10"`
	TerminalMaxBufferedLines int `env:"WS_TERMINAL_MAX_BUFFERED_LINES" envDefault:"1000"`

	CommandDefaultTimeLimitMs int `env:"WS_COMMAND_DEFAULT_TIME_LIMIT_MS" envDefault:"300000"`
	CommandDefaultMaxRetries  int `env:"WS_COMMAND_DEFAULT_MAX_RETRIES" envDefault:"1"`

	AuthTimeoutMs int `env:"WS_AUTH_TIMEOUT_MS" envDefault:"30000"`

	// Connection admission rate limiting.
	ConnRateLimitIPBurst     int     `env:"WS_CONN_RATE_IP_BURST" envDefault:"10"`
	ConnRateLimitIPRate      float64 `env:"WS_CONN_RATE_IP_RATE" envDefault:"1.0"`
	ConnRateLimitGlobalBurst int     `env:"WS_CONN_RATE_GLOBAL_BURST" envDefault:"300"`
	ConnRateLimitGlobalRate  float64 `env:"WS_CONN_RATE_GLOBAL_RATE" envDefault:"50.0"`

	// CPU-based capacity admission (host-level CPU utilization).
	CPURejectThreshold float64 `env:"WS_CPU_REJECT_THRESHOLD" envDefault:"75.0"`

	// NATS audit sink (optional; empty URL disables it).
	NatsURL          string `env:"WS_NATS_URL" envDefault:""`
	NatsAuditSubject string `env:"WS_NATS_AUDIT_SUBJECT" envDefault:"broker.audit"`

	// Kafka archive sink (optional; empty brokers disables it).
	KafkaBrokers      string `env:"WS_KAFKA_BROKERS" envDefault:""`
	KafkaArchiveTopic string `env:"WS_KAFKA_ARCHIVE_TOPIC" envDefault:"terminal-archive"`

	// JWT auth (default TokenValidator implementation).
	JWTSecret string `env:"WS_JWT_SECRET" envDefault:"dev-secret-change-me"`

	MetricsIntervalMs int `env:"WS_METRICS_INTERVAL_MS" envDefault:"15000"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	Environment string `env:"ENVIRONMENT" envDefault:"development"`
}

// Load reads the .env file (best effort) then environment variables into a
// Config, and validates the result. logger may be nil during early startup.
func Load(logger *zerolog.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		if logger != nil {
			logger.Info().Msg("no .env file found, using environment variables only")
		}
	} else if logger != nil {
		logger.Info().Msg("loaded configuration from .env file")
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	return cfg, nil
}

// Validate checks range and enum constraints on the loaded configuration.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("WS_ADDR is required")
	}
	if c.MaxConnections < 1 {
		return fmt.Errorf("WS_MAX_CONNECTIONS must be > 0, got %d", c.MaxConnections)
	}
	if c.PongTimeoutMs >= c.PingIntervalMs {
		return fmt.Errorf("WS_PONG_TIMEOUT_MS (%d) must be < WS_PING_INTERVAL_MS (%d)", c.PongTimeoutMs, c.PingIntervalMs)
	}
	if c.MaxMissedPings < 1 {
		return fmt.Errorf("WS_MAX_MISSED_PINGS must be > 0, got %d", c.MaxMissedPings)
	}
	if c.RefreshThresholdMs < 1 {
		return fmt.Errorf("WS_REFRESH_THRESHOLD_MS must be > 0, got %d", c.RefreshThresholdMs)
	}
	if c.CPURejectThreshold < 0 || c.CPURejectThreshold > 100 {
		return fmt.Errorf("WS_CPU_REJECT_THRESHOLD must be 0-100, got %.1f", c.CPURejectThreshold)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true, "fatal": true}
	if !validLevels[c.LogLevel] {
		return fmt.Errorf("LOG_LEVEL must be one of debug/info/warn/error/fatal, got %q", c.LogLevel)
	}

	validFormats := map[string]bool{"json": true, "pretty": true}
	if !validFormats[c.LogFormat] {
		return fmt.Errorf("LOG_FORMAT must be one of json/pretty, got %q", c.LogFormat)
	}

	return nil
}

// LogConfig logs the resolved configuration at startup.
func (c *Config) LogConfig(logger zerolog.Logger) {
	logger.Info().
		Str("environment", c.Environment).
		Str("addr", c.Addr).
		Int("max_connections", c.MaxConnections).
		Int("max_payload_bytes", c.MaxPayloadBytes).
		Dur("agent_connection_timeout", time.Duration(c.AgentConnectionTimeoutMs)*time.Millisecond).
		Dur("dashboard_connection_timeout", time.Duration(c.DashboardConnectionTimeoutMs)*time.Millisecond).
		Dur("ping_interval", time.Duration(c.PingIntervalMs)*time.Millisecond).
		Dur("pong_timeout", time.Duration(c.PongTimeoutMs)*time.Millisecond).
		Int("max_missed_pings", c.MaxMissedPings).
		Dur("refresh_interval", time.Duration(c.RefreshIntervalMs)*time.Millisecond).
		Int("max_refresh_attempts", c.MaxRefreshAttempts).
		Int("terminal_buffer_size", c.TerminalBufferSize).
		Dur("terminal_flush_interval", time.Duration(c.TerminalFlushIntervalMs)*time.Millisecond).
		Float64("cpu_reject_threshold", c.CPURejectThreshold).
		Str("log_level", c.LogLevel).
		Str("log_format", c.LogFormat).
		Msg("broker configuration loaded")
}

// Duration helpers used throughout the broker to avoid repeating the
// millisecond-to-Duration conversion at every call site.
func (c *Config) PingInterval() time.Duration  { return time.Duration(c.PingIntervalMs) * time.Millisecond }
func (c *Config) PongTimeout() time.Duration   { return time.Duration(c.PongTimeoutMs) * time.Millisecond }
func (c *Config) CleanupInterval() time.Duration {
	return time.Duration(c.CleanupIntervalMs) * time.Millisecond
}
func (c *Config) RefreshInterval() time.Duration {
	return time.Duration(c.RefreshIntervalMs) * time.Millisecond
}
func (c *Config) RefreshThreshold() time.Duration {
	return time.Duration(c.RefreshThresholdMs) * time.Millisecond
}
func (c *Config) TerminalFlushInterval() time.Duration {
	return time.Duration(c.TerminalFlushIntervalMs) * time.Millisecond
}
func (c *Config) AuthTimeout() time.Duration {
	return time.Duration(c.AuthTimeoutMs) * time.Millisecond
}
func (c *Config) AgentConnectionTimeout() time.Duration {
	return time.Duration(c.AgentConnectionTimeoutMs) * time.Millisecond
}
func (c *Config) DashboardConnectionTimeout() time.Duration {
	return time.Duration(c.DashboardConnectionTimeoutMs) * time.Millisecond
}
func (c *Config) MetricsInterval() time.Duration {
	return time.Duration(c.MetricsIntervalMs) * time.Millisecond
}
