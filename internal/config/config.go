// Package config provides application configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	FrontendURL string
	DBPath      string
	MediaDir    string
	LogLevel    string
	SessionTTL  time.Duration

	Agent       AgentConfig
	Quiz        QuizConfig
	RateLimit   RateLimitConfig
	Interaction InteractionConfig
	SSE         SSEConfig
	Transcript  TranscriptConfig
	Metrics     MetricsConfig
}

// AgentConfig points at the AI response generator.
type AgentConfig struct {
	// Addr is the gRPC generator address. Empty uses canned responses.
	Addr           string
	Timeout        time.Duration
	UpgradeMessage string
}

// QuizConfig controls quiz generation.
type QuizConfig struct {
	QuestionCount int
	// BankPath is an optional YAML question bank, reloaded on change.
	BankPath string
}

// RateLimitConfig is the free-tier generation limit per learner.
type RateLimitConfig struct {
	Requests int
	Window   time.Duration
}

// InteractionConfig tunes the orchestrator.
type InteractionConfig struct {
	CountdownSeconds       int
	CommandRetryDelay      time.Duration
	ReflectionSaveAttempts int
}

// SSEConfig tunes the event stream.
type SSEConfig struct {
	RetryDelay        time.Duration
	KeepaliveInterval time.Duration
}

// TranscriptConfig controls NDJSON transcript logging.
type TranscriptConfig struct {
	Enabled   bool
	Dir       string
	QueueSize int
}

// MetricsConfig controls the in-process metrics endpoint.
type MetricsConfig struct {
	Enabled bool
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	queueSize := getEnvInt("TRANSCRIPT_LOG_QUEUE_SIZE", 1000)
	if queueSize <= 0 {
		queueSize = 1000
	}
	attempts := getEnvInt("REFLECTION_SAVE_ATTEMPTS", 3)
	if attempts < 2 {
		attempts = 2
	}

	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		FrontendURL: getEnv("FRONTEND_URL", ""),
		DBPath:      getEnv("DB_PATH", "./data/vidsync.db"),
		MediaDir:    getEnv("MEDIA_DIR", "./data/media"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		SessionTTL:  getEnvDuration("SESSION_TTL", 60*time.Minute),
		Agent: AgentConfig{
			Addr:           getEnv("AGENT_ADDR", ""),
			Timeout:        getEnvDuration("AGENT_TIMEOUT", 30*time.Second),
			UpgradeMessage: getEnv("UPGRADE_MESSAGE", ""),
		},
		Quiz: QuizConfig{
			QuestionCount: getEnvInt("QUIZ_QUESTION_COUNT", 3),
			BankPath:      getEnv("QUIZ_BANK_PATH", ""),
		},
		RateLimit: RateLimitConfig{
			Requests: getEnvInt("RATE_LIMIT_REQUESTS", 20),
			Window:   getEnvDuration("RATE_LIMIT_WINDOW", time.Hour),
		},
		Interaction: InteractionConfig{
			CountdownSeconds:       getEnvInt("COUNTDOWN_SECONDS", 3),
			CommandRetryDelay:      getEnvDuration("COMMAND_RETRY_DELAY", 200*time.Millisecond),
			ReflectionSaveAttempts: attempts,
		},
		SSE: SSEConfig{
			RetryDelay:        getEnvDuration("SSE_RETRY_DELAY", 5*time.Second),
			KeepaliveInterval: getEnvDuration("SSE_KEEPALIVE_INTERVAL", 10*time.Second),
		},
		Transcript: TranscriptConfig{
			Enabled:   getEnvBool("TRANSCRIPT_LOG_ENABLED", true),
			Dir:       getEnv("TRANSCRIPT_LOG_DIR", "./data/logs/transcripts"),
			QueueSize: queueSize,
		},
		Metrics: MetricsConfig{
			Enabled: getEnvBool("METRICS_ENABLED", true),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.MediaDir == "" {
		return fmt.Errorf("MEDIA_DIR cannot be empty")
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be > 0")
	}
	if c.Quiz.QuestionCount <= 0 {
		return fmt.Errorf("QUIZ_QUESTION_COUNT must be > 0")
	}
	if c.Interaction.CountdownSeconds <= 0 {
		return fmt.Errorf("COUNTDOWN_SECONDS must be > 0")
	}
	if c.RateLimit.Requests < 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS must be >= 0")
	}
	if c.Transcript.Enabled && c.Transcript.Dir == "" {
		return fmt.Errorf("TRANSCRIPT_LOG_DIR cannot be empty")
	}
	return nil
}

// SlogLevel parses LogLevel.
func (c *Config) SlogLevel() (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(c.LogLevel)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("LOG_LEVEL %q is not one of debug, info, warn, error", c.LogLevel)
}

// AIEnabled reports whether a remote generator is configured.
func (c *Config) AIEnabled() bool {
	return c.Agent.Addr != ""
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

// IsContainer returns true if running inside a Docker container.
func IsContainer() bool {
	if os.Getenv("CONTAINER") == "true" {
		return true
	}
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return true
	}
	return false
}
