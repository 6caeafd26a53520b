// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port            string
	Env             string // "development" or "production"
	DBPath          string
	AllowedOrigin   string
	RateLimitPerMin int
	TaskTimeout     time.Duration

	LLM        LLMConfig
	Sandbox    SandboxConfig
	Engine     EngineConfig
	Transcript TranscriptConfig
}

// LLMConfig selects the optional generation backend. An empty provider
// disables generation features; the heuristic paths carry the application.
type LLMConfig struct {
	Provider string // "", "claude" or "openai"
	APIKey   string
	Model    string // provider default when empty
	Timeout  time.Duration
}

// SandboxConfig controls Docker-backed isolation for task commands.
type SandboxConfig struct {
	Enabled bool
	Image   string
	TTL     time.Duration
}

// EngineConfig tunes the conversation stage policy.
type EngineConfig struct {
	MinServices int
	AutoAssess  bool
}

// TranscriptConfig controls NDJSON conversation transcripts.
type TranscriptConfig struct {
	Enabled   bool
	Dir       string
	QueueSize int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	queueSize := getEnvInt("TRANSCRIPT_QUEUE_SIZE", 256)
	if queueSize <= 0 {
		queueSize = 256
	}

	cfg := &Config{
		Port:            getEnv("PORT", "8080"),
		Env:             getEnv("ENV", "development"),
		DBPath:          getEnv("DB_PATH", "./data/spectral.db"),
		AllowedOrigin:   getEnv("ALLOWED_ORIGIN", ""),
		RateLimitPerMin: getEnvInt("RATE_LIMIT_PER_MIN", 10),
		TaskTimeout:     time.Duration(getEnvInt("TASK_TIMEOUT_SECONDS", 10)) * time.Second,
		LLM: LLMConfig{
			Provider: strings.ToLower(strings.TrimSpace(getEnv("LLM_PROVIDER", ""))),
			APIKey:   getEnv("LLM_API_KEY", ""),
			Model:    getEnv("LLM_MODEL", ""),
			Timeout:  time.Duration(getEnvInt("LLM_TIMEOUT_SECONDS", 30)) * time.Second,
		},
		Sandbox: SandboxConfig{
			Enabled: getEnvBool("SANDBOX_ENABLED", false),
			Image:   getEnv("SANDBOX_IMAGE", "spectral-sandbox:latest"),
			TTL:     time.Duration(getEnvInt("SANDBOX_TTL_MINUTES", 60)) * time.Minute,
		},
		Engine: EngineConfig{
			MinServices: getEnvInt("MIN_SERVICES", 1),
			AutoAssess:  getEnvBool("AUTO_ASSESS", true),
		},
		Transcript: TranscriptConfig{
			Enabled:   getEnvBool("TRANSCRIPT_ENABLED", true),
			Dir:       getEnv("TRANSCRIPT_DIR", "./data/transcripts"),
			QueueSize: queueSize,
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are consistent.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if _, err := strconv.Atoi(c.Port); err != nil {
		return fmt.Errorf("PORT must be numeric, got %q", c.Port)
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.RateLimitPerMin < 1 {
		return fmt.Errorf("RATE_LIMIT_PER_MIN must be >= 1")
	}
	switch c.LLM.Provider {
	case "", "claude", "openai":
	default:
		return fmt.Errorf("LLM_PROVIDER must be empty, claude or openai, got %q", c.LLM.Provider)
	}
	if c.LLM.Provider != "" && c.LLM.APIKey == "" {
		return fmt.Errorf("LLM_API_KEY is required when LLM_PROVIDER is set")
	}
	if c.Sandbox.Enabled && c.Sandbox.Image == "" {
		return fmt.Errorf("SANDBOX_IMAGE cannot be empty when SANDBOX_ENABLED is true")
	}
	if c.Sandbox.TTL <= 0 {
		return fmt.Errorf("SANDBOX_TTL_MINUTES must be > 0")
	}
	if c.Engine.MinServices < 1 {
		return fmt.Errorf("MIN_SERVICES must be >= 1")
	}
	if c.Transcript.Enabled && c.Transcript.Dir == "" {
		return fmt.Errorf("TRANSCRIPT_DIR cannot be empty when transcripts are enabled")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return !strings.EqualFold(c.Env, "production")
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
