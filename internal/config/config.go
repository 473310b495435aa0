package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port                      string
	VerifyToken               string
	WhatsAppToken             string
	PhoneNumberID             string
	WhatsAppBusinessAccountID string
	WhatsAppAPIBase           string

	// Database
	DBDriver   string // sqlite or postgres
	DBPath     string
	DBHost     string
	DBUser     string
	DBPassword string
	DBName     string
	DBPort     string
	DBSSLMode  string

	// Logging
	LogLevel slog.Level
	LogFile  string

	// Language model
	LLMProvider         string
	LLMModel            string
	OpenAIAPIKey        string
	AnthropicAPIKey     string
	OllamaHost          string
	CompletionTimeout   time.Duration
	EnrichMinConfidence float64

	// Outbound transport
	TransportTimeout time.Duration
	HostAlertPhone   string
	DefaultTimezone  string

	// Inbound processing
	RedisURL            string
	ConversationLockTTL time.Duration
	IngestWorkers       int

	// Scheduled delivery
	SweepSchedule         string
	SweepBatchSize        int
	SweepConcurrency      int
	SweepClaimTTL         time.Duration
	SchedulePastDuePolicy string
	RecurrenceLookahead   time.Duration

	KnowledgeSeedFile string
}

func LoadConfig() *Config {
	err := godotenv.Load()
	if err != nil {
		slog.Warn("no .env file loaded", "error", err)
	}

	return &Config{
		Port:                      getEnv("PORT", "8080"),
		VerifyToken:               getEnv("VERIFY_TOKEN", ""),
		WhatsAppToken:             getEnv("WHATSAPP_TOKEN", ""),
		PhoneNumberID:             getEnv("PHONE_NUMBER_ID", ""),
		WhatsAppBusinessAccountID: getEnv("WABA_ID", ""),
		WhatsAppAPIBase:           getEnv("WHATSAPP_API_BASE", "https://graph.facebook.com/v19.0"),

		DBDriver:   getEnv("DB_DRIVER", "sqlite"),
		DBPath:     getEnv("DB_PATH", "./concierge.db"),
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", ""),
		DBName:     getEnv("DB_NAME", "concierge"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBSSLMode:  getEnv("DB_SSLMODE", "disable"),

		LogLevel: parseLogLevel(getEnv("LOG_LEVEL", "INFO")),
		LogFile:  getEnv("LOG_FILE", ""),

		LLMProvider:         getEnv("LLM_PROVIDER", "openai"),
		LLMModel:            getEnv("LLM_MODEL", "gpt-4o-mini"),
		OpenAIAPIKey:        getEnv("OPENAI_API_KEY", ""),
		AnthropicAPIKey:     getEnv("ANTHROPIC_API_KEY", ""),
		OllamaHost:          getEnv("OLLAMA_HOST", "http://localhost:11434"),
		CompletionTimeout:   getDuration("COMPLETION_TIMEOUT", 20*time.Second),
		EnrichMinConfidence: getFloat("ENRICH_MIN_CONFIDENCE", 0.6),

		TransportTimeout: getDuration("TRANSPORT_TIMEOUT", 10*time.Second),
		HostAlertPhone:   getEnv("HOST_ALERT_PHONE", ""),
		DefaultTimezone:  getEnv("DEFAULT_TIMEZONE", "UTC"),

		RedisURL:            getEnv("REDIS_URL", ""),
		ConversationLockTTL: getDuration("CONVERSATION_LOCK_TTL", 2*time.Minute),
		IngestWorkers:       getInt("INGEST_WORKERS", 8),

		SweepSchedule:         getEnv("SWEEP_SCHEDULE", "@every 1m"),
		SweepBatchSize:        getInt("SWEEP_BATCH_SIZE", 100),
		SweepConcurrency:      getInt("SWEEP_CONCURRENCY", 4),
		SweepClaimTTL:         getDuration("SWEEP_CLAIM_TTL", 10*time.Minute),
		SchedulePastDuePolicy: getEnv("SCHEDULE_PAST_DUE_POLICY", "skip"),
		RecurrenceLookahead:   getDuration("RECURRENCE_LOOKAHEAD", 24*time.Hour),

		KnowledgeSeedFile: getEnv("KNOWLEDGE_SEED_FILE", ""),
	}
}

// Location resolves DefaultTimezone, falling back to UTC when the zone is unknown.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.DefaultTimezone)
	if err != nil {
		slog.Warn("unknown DEFAULT_TIMEZONE, using UTC", "timezone", c.DefaultTimezone, "error", err)
		return time.UTC
	}
	return loc
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v, err := strconv.Atoi(getEnv(key, ""))
	if err != nil {
		return fallback
	}
	return v
}

func getFloat(key string, fallback float64) float64 {
	v, err := strconv.ParseFloat(getEnv(key, ""), 64)
	if err != nil {
		return fallback
	}
	return v
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v, err := time.ParseDuration(getEnv(key, ""))
	if err != nil {
		return fallback
	}
	return v
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
