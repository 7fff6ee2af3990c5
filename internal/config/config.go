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
	Port        string
	FrontendURL string
	DBPath      string
	// AdminToken guards the operator account endpoints. Empty disables them.
	AdminToken string

	Session   SessionConfig
	Content   ContentConfig
	Judge     JudgeConfig
	Lives     LivesConfig
	Evaluator EvaluatorConfig
	Rewards   RewardsConfig
	RateLimit RateLimitConfig

	ReviewDelay   time.Duration
	SpeechEnabled bool
}

// SessionConfig selects and tunes the session store.
type SessionConfig struct {
	Backend       string // "memory" or "redis"
	RedisAddr     string
	TTL           time.Duration
	SweepInterval time.Duration
}

// ContentConfig selects the content generator.
type ContentConfig struct {
	Provider           string // "openai" or "grpc"
	APIKey             string
	BaseURL            string
	Model              string
	GrpcAddr           string
	GenerationTimeout  time.Duration
	GenerationAttempts int
}

// JudgeConfig controls semantic judge escalation.
type JudgeConfig struct {
	Enabled bool
	Timeout time.Duration
}

// LivesConfig tunes the lives economy.
type LivesConfig struct {
	Cap             int
	RestoreInterval time.Duration
	FreePremiumDays int
}

// EvaluatorConfig holds the similarity thresholds.
type EvaluatorConfig struct {
	HighThreshold float64
	LowThreshold  float64
}

// RewardsConfig tunes streak moods and levels.
type RewardsConfig struct {
	HighStreakThreshold int
	LevelXPBase         int
}

// RateLimitConfig bounds inbound events per session.
type RateLimitConfig struct {
	RPS   float64
	Burst int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		FrontendURL: getEnv("FRONTEND_URL", ""),
		DBPath:      getEnv("DB_PATH", "./data/capylingo.db"),
		AdminToken:  getEnv("ADMIN_TOKEN", ""),
		Session: SessionConfig{
			Backend:       strings.ToLower(getEnv("SESSION_BACKEND", "memory")),
			RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
			TTL:           getEnvDuration("SESSION_TTL", 24*time.Hour),
			SweepInterval: getEnvDuration("SESSION_SWEEP_INTERVAL", 5*time.Minute),
		},
		Content: ContentConfig{
			Provider:           strings.ToLower(getEnv("CONTENT_PROVIDER", "openai")),
			APIKey:             getEnv("CONTENT_API_KEY", os.Getenv("DEEPSEEK_API_KEY")),
			BaseURL:            getEnv("CONTENT_BASE_URL", "https://api.deepseek.com/v1"),
			Model:              getEnv("CONTENT_MODEL", "deepseek-chat"),
			GrpcAddr:           getEnv("CONTENT_GRPC_ADDR", "localhost:50051"),
			GenerationTimeout:  getEnvDuration("GENERATION_TIMEOUT", 30*time.Second),
			GenerationAttempts: getEnvInt("GENERATION_ATTEMPTS", 2),
		},
		Judge: JudgeConfig{
			Enabled: getEnvBool("JUDGE_ENABLED", true),
			Timeout: getEnvDuration("JUDGE_TIMEOUT", 8*time.Second),
		},
		Lives: LivesConfig{
			Cap:             getEnvInt("LIVES_CAP", 6),
			RestoreInterval: getEnvDuration("LIVES_RESTORE_INTERVAL", 30*time.Minute),
			FreePremiumDays: getEnvInt("FREE_PREMIUM_DAYS", 0),
		},
		Evaluator: EvaluatorConfig{
			HighThreshold: getEnvFloat("EVAL_HIGH_THRESHOLD", 0.85),
			LowThreshold:  getEnvFloat("EVAL_LOW_THRESHOLD", 0.6),
		},
		Rewards: RewardsConfig{
			HighStreakThreshold: getEnvInt("STREAK_HIGH_THRESHOLD", 3),
			LevelXPBase:         getEnvInt("LEVEL_XP_BASE", 100),
		},
		RateLimit: RateLimitConfig{
			RPS:   getEnvFloat("RATE_LIMIT_RPS", 2),
			Burst: getEnvInt("RATE_LIMIT_BURST", 5),
		},
		ReviewDelay:   getEnvDuration("REVIEW_DELAY", 10*time.Minute),
		SpeechEnabled: getEnvBool("SPEECH_ENABLED", false),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all configuration values are usable.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	switch c.Session.Backend {
	case "memory":
	case "redis":
		if c.Session.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR cannot be empty with SESSION_BACKEND=redis")
		}
	default:
		return fmt.Errorf("SESSION_BACKEND must be memory or redis, got %q", c.Session.Backend)
	}
	if c.Session.TTL <= 0 || c.Session.SweepInterval <= 0 {
		return fmt.Errorf("SESSION_TTL and SESSION_SWEEP_INTERVAL must be > 0")
	}
	switch c.Content.Provider {
	case "openai":
		if c.Content.APIKey == "" {
			return fmt.Errorf("CONTENT_API_KEY (or DEEPSEEK_API_KEY) is required with CONTENT_PROVIDER=openai")
		}
	case "grpc":
		if c.Content.GrpcAddr == "" {
			return fmt.Errorf("CONTENT_GRPC_ADDR cannot be empty with CONTENT_PROVIDER=grpc")
		}
	default:
		return fmt.Errorf("CONTENT_PROVIDER must be openai or grpc, got %q", c.Content.Provider)
	}
	if c.Content.GenerationTimeout <= 0 {
		return fmt.Errorf("GENERATION_TIMEOUT must be > 0")
	}
	if c.Content.GenerationAttempts < 1 {
		return fmt.Errorf("GENERATION_ATTEMPTS must be >= 1")
	}
	if c.Judge.Timeout <= 0 {
		return fmt.Errorf("JUDGE_TIMEOUT must be > 0")
	}
	if c.Lives.Cap <= 0 {
		return fmt.Errorf("LIVES_CAP must be > 0")
	}
	if c.Lives.RestoreInterval <= 0 {
		return fmt.Errorf("LIVES_RESTORE_INTERVAL must be > 0")
	}
	if c.Lives.FreePremiumDays < 0 {
		return fmt.Errorf("FREE_PREMIUM_DAYS must be >= 0")
	}
	if c.Evaluator.LowThreshold < 0 || c.Evaluator.HighThreshold > 1 || c.Evaluator.LowThreshold >= c.Evaluator.HighThreshold {
		return fmt.Errorf("need 0 <= EVAL_LOW_THRESHOLD < EVAL_HIGH_THRESHOLD <= 1")
	}
	if c.Rewards.HighStreakThreshold < 1 || c.Rewards.LevelXPBase < 1 {
		return fmt.Errorf("STREAK_HIGH_THRESHOLD and LEVEL_XP_BASE must be >= 1")
	}
	if c.RateLimit.RPS <= 0 || c.RateLimit.Burst < 1 {
		return fmt.Errorf("RATE_LIMIT_RPS must be > 0 and RATE_LIMIT_BURST >= 1")
	}
	if c.ReviewDelay < 0 {
		return fmt.Errorf("REVIEW_DELAY must be >= 0")
	}
	if c.AdminToken != "" && len(c.AdminToken) < 16 {
		return fmt.Errorf("ADMIN_TOKEN must be at least 16 characters")
	}
	return nil
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

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
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
