package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port     string
	Env      string
	LogLevel string

	DatabaseURL string

	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	JWTSecret string

	CORSAllowedOrigins []string

	// ChatRateLimit is requests/sec allowed per caller on the chat
	// endpoints; zero disables limiting.
	ChatRateLimit float64
	ChatRateBurst int

	GeminiAPIKey  string
	GeminiModelID string

	// DefaultTimezone is used when a session supplies no timezone context.
	DefaultTimezone string

	// SlotResultLimit caps how many candidate slots a search may present.
	SlotResultLimit int
	// SlotLookbackTurns bounds how many turn records the slot index registry
	// scans when resolving a displayed index.
	SlotLookbackTurns int
	// HistoryTurns is how many prior turns are replayed to the intent extractor.
	HistoryTurns int
	// HistoryTTL is how long cached session history survives without activity.
	HistoryTTL time.Duration

	ShutdownTimeout time.Duration
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:     getEnv("PORT", "8080"),
		Env:      getEnv("ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		DatabaseURL: getEnv("DATABASE_URL", ""),

		RedisAddr:     getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		JWTSecret: getEnv("JWT_SECRET", ""),

		CORSAllowedOrigins: getEnvAsSlice("CORS_ALLOWED_ORIGINS"),

		ChatRateLimit: getEnvAsFloat("CHAT_RATE_LIMIT", 2),
		ChatRateBurst: getEnvAsInt("CHAT_RATE_BURST", 5),

		GeminiAPIKey:  getEnv("GEMINI_API_KEY", ""),
		GeminiModelID: getEnv("GEMINI_MODEL_ID", "gemini-2.5-flash"),

		DefaultTimezone: getEnv("DEFAULT_TIMEZONE", "UTC"),

		SlotResultLimit:   getEnvAsInt("SLOT_RESULT_LIMIT", 5),
		SlotLookbackTurns: getEnvAsInt("SLOT_LOOKBACK_TURNS", 5),
		HistoryTurns:      getEnvAsInt("HISTORY_TURNS", 6),
		HistoryTTL:        getEnvAsDuration("HISTORY_TTL", 24*time.Hour),

		ShutdownTimeout: getEnvAsDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsFloat retrieves an environment variable as a float or returns a default value
func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsSlice splits a comma-separated environment variable, dropping
// empty entries.
func getEnvAsSlice(key string) []string {
	raw := getEnv(key, "")
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
