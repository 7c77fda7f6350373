package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

type Config struct {
	// Gateway
	Port          string
	AllowedOrigin string
	RasaURL       string
	RasaWebhook   string
	// Topic guard
	OpenAIAPIKey    string
	Model           string
	GuardPromptFile string
	// Gateway transcript (Postgres)
	DatabaseURL string

	// Client transport
	BackendURL        string
	RequestTimeout    time.Duration
	RequestRetries    int
	RetryDelay        time.Duration
	AvailabilityGrace time.Duration
	ProbeInterval     time.Duration

	// Client turn store
	StoreDriver string
	StorePath   string
	RedisURL    string
	RedisTTL    time.Duration
	MaxTurns    int

	// Reconciler phrase policy override
	PolicyFile string

	LogLevel  string
	LogFormat string
}

func Load() Config {
	_ = godotenv.Load()
	cfg := Config{
		Port:              getEnvDefault("PORT", "5001"),
		AllowedOrigin:     getEnvDefault("ALLOWED_ORIGIN", "*"),
		RasaURL:           getEnvDefault("RASA_URL", "http://localhost:5005"),
		RasaWebhook:       getEnvDefault("RASA_WEBHOOK_PATH", "/webhooks/rest/webhook"),
		OpenAIAPIKey:      os.Getenv("OPENAI_API_KEY"),
		Model:             getEnvDefault("OPENAI_MODEL", "gpt-4o-mini"),
		GuardPromptFile:   os.Getenv("GUARD_PROMPT_FILE"),
		DatabaseURL:       os.Getenv("DB_URL"),
		BackendURL:        getEnvDefault("BACKEND_URL", "http://localhost:5001"),
		RequestTimeout:    getEnvDurationDefault("REQUEST_TIMEOUT", 10*time.Second),
		RequestRetries:    getEnvIntDefault("REQUEST_RETRIES", 2),
		RetryDelay:        getEnvDurationDefault("RETRY_DELAY", time.Second),
		AvailabilityGrace: getEnvDurationDefault("AVAILABILITY_GRACE", 5*time.Second),
		ProbeInterval:     getEnvDurationDefault("PROBE_INTERVAL", 30*time.Second),
		StoreDriver:       getEnvDefault("STORE_DRIVER", "sqlite"),
		StorePath:         getEnvDefault("STORE_PATH", "data/conversations.db"),
		RedisURL:          os.Getenv("REDIS_URL"),
		RedisTTL:          getEnvDurationDefault("REDIS_TTL", 24*time.Hour),
		MaxTurns:          getEnvIntDefault("MAX_TURNS", 200),
		PolicyFile:        os.Getenv("POLICY_FILE"),
		LogLevel:          getEnvDefault("LOG_LEVEL", "info"),
		LogFormat:         getEnvDefault("LOG_FORMAT", "console"),
	}
	if cfg.OpenAIAPIKey == "" {
		log.Debug().Msg("OPENAI_API_KEY is not set; topic guard runs on keywords only")
	}
	return cfg
}

func getEnvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvIntDefault(key string, def int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
		log.Warn().Str("key", key).Str("value", v).Msg("ignoring invalid integer")
	}
	return def
}

func getEnvDurationDefault(key string, def time.Duration) time.Duration {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		d, err := time.ParseDuration(v)
		if err == nil {
			return d
		}
		log.Warn().Str("key", key).Str("value", v).Msg("ignoring invalid duration")
	}
	return def
}
