package config

import (
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "DB_PATH", "LOG_LEVEL", "SESSION_TTL", "AGENT_ADDR", "QUIZ_QUESTION_COUNT", "COUNTDOWN_SECONDS", "REFLECTION_SAVE_ATTEMPTS"} {
		t.Setenv(key, "")
	}
	t.Setenv("PORT", "8080")
	t.Setenv("DB_PATH", "./data/vidsync.db")
	t.Setenv("LOG_LEVEL", "info")
	t.Setenv("SESSION_TTL", "1h")
	t.Setenv("QUIZ_QUESTION_COUNT", "3")
	t.Setenv("COUNTDOWN_SECONDS", "3")
	t.Setenv("REFLECTION_SAVE_ATTEMPTS", "3")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.SessionTTL != time.Hour || cfg.Quiz.QuestionCount != 3 || cfg.Interaction.CountdownSeconds != 3 {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.AIEnabled() {
		t.Fatal("empty AGENT_ADDR must disable the remote generator")
	}
	if lvl, _ := cfg.SlogLevel(); lvl != slog.LevelInfo {
		t.Fatalf("level = %v", lvl)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("AGENT_ADDR", "localhost:50051")
	t.Setenv("AGENT_TIMEOUT", "5s")
	t.Setenv("RATE_LIMIT_REQUESTS", "2")
	t.Setenv("RATE_LIMIT_WINDOW", "10m")
	t.Setenv("COUNTDOWN_SECONDS", "5")
	t.Setenv("REFLECTION_SAVE_ATTEMPTS", "1")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("SESSION_TTL", "not-a-duration")
	t.Setenv("TRANSCRIPT_LOG_ENABLED", "off")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.AIEnabled() || cfg.Agent.Timeout != 5*time.Second {
		t.Fatalf("unexpected agent config %+v", cfg.Agent)
	}
	if cfg.RateLimit.Requests != 2 || cfg.RateLimit.Window != 10*time.Minute {
		t.Fatalf("unexpected rate limit %+v", cfg.RateLimit)
	}
	if cfg.Interaction.CountdownSeconds != 5 {
		t.Fatalf("countdown = %d", cfg.Interaction.CountdownSeconds)
	}
	if cfg.Interaction.ReflectionSaveAttempts != 2 {
		t.Fatalf("save attempts must be at least 2, got %d", cfg.Interaction.ReflectionSaveAttempts)
	}
	if cfg.SessionTTL != 60*time.Minute {
		t.Fatalf("invalid duration must fall back, got %v", cfg.SessionTTL)
	}
	if lvl, _ := cfg.SlogLevel(); lvl != slog.LevelDebug {
		t.Fatalf("level = %v", lvl)
	}
	if cfg.Transcript.Enabled {
		t.Fatal("transcript logging should be disabled")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Parallel()

	base := func() *Config {
		return &Config{Port: "8080", DBPath: "db", MediaDir: "media", LogLevel: "info", SessionTTL: time.Hour,
			Quiz: QuizConfig{QuestionCount: 3}, Interaction: InteractionConfig{CountdownSeconds: 3}}
	}
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"empty port", func(c *Config) { c.Port = "" }, "PORT"},
		{"bad level", func(c *Config) { c.LogLevel = "loud" }, "LOG_LEVEL"},
		{"zero questions", func(c *Config) { c.Quiz.QuestionCount = 0 }, "QUIZ_QUESTION_COUNT"},
		{"zero countdown", func(c *Config) { c.Interaction.CountdownSeconds = 0 }, "COUNTDOWN_SECONDS"},
		{"transcript without dir", func(c *Config) { c.Transcript = TranscriptConfig{Enabled: true} }, "TRANSCRIPT_LOG_DIR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := base()
			tt.mutate(c)
			err := c.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error mentioning %s, got %v", tt.want, err)
			}
		})
	}
	if err := base().Validate(); err != nil {
		t.Fatalf("base config invalid: %v", err)
	}
}

func TestIsDevelopment(t *testing.T) {
	t.Parallel()
	if !(&Config{FrontendURL: "http://localhost:5173"}).IsDevelopment() {
		t.Fatal("localhost must be development")
	}
	if (&Config{FrontendURL: "https://learn.example.com"}).IsDevelopment() {
		t.Fatal("public host must not be development")
	}
}
