package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// NotifyMode selects how issue events reach viewers on other instances.
type NotifyMode string

const (
	NotifyLocal    NotifyMode = "local"
	NotifyNATS     NotifyMode = "nats"
	NotifyPostgres NotifyMode = "postgres"
)

// Config holds everything the server reads from the environment.
type Config struct {
	Port        string
	Environment string

	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	JWTSecret string
	JWTTTL    time.Duration

	LLMBaseURL      string
	LLMAPIKey       string
	VisionModel     string
	ChatModel       string
	DiagnoseTimeout time.Duration
	ChatTimeout     time.Duration

	StripeSecretKey        string
	StripePaymentMethod    string
	ConsultationPriceMinor int64
	Currency               string
	PaymentLockTTL         time.Duration
	PendingPaymentMaxAge   time.Duration
	ReconcileSchedule      string

	RedisURL string
	NATSURL  string

	NotifyMode   NotifyMode
	PollInterval time.Duration
	CORSOrigins  []string
}

// Load reads .env (if present) and the process environment.
func Load() (*Config, error) {
	// .env is optional outside local development
	_ = godotenv.Load()

	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENV", "development"),

		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", "password"),
		DBName:     getEnv("DB_NAME", "snaprepair"),
		DBSSLMode:  getEnv("DB_SSLMODE", "disable"),

		JWTSecret: os.Getenv("JWT_SECRET"),
		JWTTTL:    getDuration("JWT_TTL", 24*time.Hour),

		LLMBaseURL:      getEnv("LLM_BASE_URL", "https://openrouter.ai/api/v1"),
		LLMAPIKey:       os.Getenv("LLM_API_KEY"),
		VisionModel:     getEnv("LLM_VISION_MODEL", "qwen/qwen-2-vl-72b-instruct"),
		ChatModel:       getEnv("LLM_CHAT_MODEL", "qwen/qwen-2.5-coder-32b-instruct"),
		DiagnoseTimeout: getDuration("DIAGNOSE_TIMEOUT", 60*time.Second),
		ChatTimeout:     getDuration("CHAT_TIMEOUT", 30*time.Second),

		StripeSecretKey:        os.Getenv("STRIPE_SECRET_KEY"),
		StripePaymentMethod:    getEnv("STRIPE_PAYMENT_METHOD", "pm_card_visa"),
		ConsultationPriceMinor: getInt64("CONSULTATION_PRICE_MINOR", 19900),
		Currency:               getEnv("PAYMENT_CURRENCY", "inr"),
		PaymentLockTTL:         getDuration("PAYMENT_LOCK_TTL", 2*time.Minute),
		PendingPaymentMaxAge:   getDuration("PENDING_PAYMENT_MAX_AGE", 15*time.Minute),
		ReconcileSchedule:      getEnv("RECONCILE_SCHEDULE", "@every 5m"),

		RedisURL: os.Getenv("REDIS_URL"),
		NATSURL:  os.Getenv("NATS_URL"),

		NotifyMode:   NotifyMode(strings.ToLower(getEnv("NOTIFY_MODE", string(NotifyLocal)))),
		PollInterval: getDuration("POLL_INTERVAL", 2*time.Second),
		CORSOrigins:  splitList(getEnv("CORS_ORIGINS", "http://localhost:3000")),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDatabase reads only the database settings, for tools that do not
// serve traffic.
func LoadDatabase() *Config {
	_ = godotenv.Load()

	return &Config{
		Environment: getEnv("ENV", "development"),
		DBHost:      getEnv("DB_HOST", "localhost"),
		DBPort:      getEnv("DB_PORT", "5432"),
		DBUser:      getEnv("DB_USER", "postgres"),
		DBPassword:  getEnv("DB_PASSWORD", "password"),
		DBName:      getEnv("DB_NAME", "snaprepair"),
		DBSSLMode:   getEnv("DB_SSLMODE", "disable"),
	}
}

// Validate rejects combinations the server cannot start with.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	switch c.NotifyMode {
	case NotifyLocal, NotifyPostgres:
	case NotifyNATS:
		if c.NATSURL == "" {
			return fmt.Errorf("NATS_URL is required when NOTIFY_MODE=nats")
		}
	default:
		return fmt.Errorf("unknown NOTIFY_MODE %q", c.NotifyMode)
	}
	if c.ConsultationPriceMinor <= 0 {
		return fmt.Errorf("CONSULTATION_PRICE_MINOR must be positive")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("POLL_INTERVAL must be positive")
	}
	return nil
}

// DSN builds the postgres connection string used by gorm and lib/pq.
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s",
		c.DBHost, c.DBUser, c.DBPassword, c.DBName, c.DBPort, c.DBSSLMode)
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return d
}

func getInt64(key string, defaultValue int64) int64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return defaultValue
	}
	return n
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
