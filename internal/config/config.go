// Package config provides environment configuration for the relay and its
// terminal client.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the relay server.
type Config struct {
	// Server settings
	ServerPort         string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration
	TurnTimeout        time.Duration

	// NATS settings
	NATSURL      string
	NATSCAFile   string
	NATSCertFile string
	NATSKeyFile  string
	NATSToken    string

	// JWT settings
	JWTSecret string

	// LLM settings
	LLMProvider     string
	OpenAIAPIKey    string
	OpenAIBaseURL   string
	AnthropicAPIKey string
	Model           string
	Temperature     float64
	MaxTokens       int

	// Rate limiting
	RateLimitRequests        int
	RateLimitWindow          time.Duration
	RateLimitSweepInterval   time.Duration
	NetworkRateLimitRequests int
	RedisURL                 string

	// Logging
	LogLevel string
	Locale   string

	// Tracing
	TracingEndpoint string
	TracingEnabled  bool
}

// ClientConfig holds configuration for the terminal chat client.
type ClientConfig struct {
	RelayURL          string
	Locale            string
	MinInterval       time.Duration
	RateLimitRequests int
	RateLimitWindow   time.Duration
	TurnTimeout       time.Duration
	LogLevel          string
}

// Load reads configuration from environment variables, after loading an
// optional .env file from the working directory.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		// Server
		ServerPort:         getEnv("PORT", "8080"),
		ServerReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second),
		ServerWriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 0),
		TurnTimeout:        getDurationEnv("RELAY_TURN_TIMEOUT", 2*time.Minute),

		// NATS
		NATSURL:      getEnv("NATS_URL", ""),
		NATSCAFile:   getEnv("NATS_CA_FILE", ""),
		NATSCertFile: getEnv("NATS_CERT_FILE", ""),
		NATSKeyFile:  getEnv("NATS_KEY_FILE", ""),
		NATSToken:    getEnv("NATS_TOKEN", ""),

		// JWT
		JWTSecret: getEnv("JWT_SECRET", ""),

		// LLM
		LLMProvider:     getEnv("LLM_PROVIDER", "openai"),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:   getEnv("OPENAI_BASE_URL", ""),
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		Model:           getEnv("LLM_MODEL", ""),
		Temperature:     clampFloat(getFloatEnv("LLM_TEMPERATURE", 0.7), 0, 1),
		MaxTokens:       clampInt(getIntEnv("LLM_MAX_TOKENS", 1000), 1, 4096),

		// Rate limiting
		RateLimitRequests:        getIntEnv("RATE_LIMIT_REQUESTS", 10),
		RateLimitWindow:          getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),
		RateLimitSweepInterval:   getDurationEnv("RATE_LIMIT_SWEEP_INTERVAL", 5*time.Minute),
		NetworkRateLimitRequests: getIntEnv("NETWORK_RATE_LIMIT_REQUESTS", 60),
		RedisURL:                 getEnv("REDIS_URL", ""),

		// Logging
		LogLevel: getEnv("LOG_LEVEL", "info"),
		Locale:   getEnv("LOCALE", "pt-BR"),

		// Tracing
		TracingEndpoint: getEnv("TRACING_ENDPOINT", "localhost:4318"),
		TracingEnabled:  getBoolEnv("TRACING_ENABLED", false),
	}
}

// LoadClient reads the terminal client's configuration.
func LoadClient() *ClientConfig {
	_ = godotenv.Load()

	return &ClientConfig{
		RelayURL:          getEnv("RELAY_URL", "http://localhost:8080"),
		Locale:            getEnv("LOCALE", "pt-BR"),
		MinInterval:       getDurationEnv("CLIENT_MIN_INTERVAL", 2*time.Second),
		RateLimitRequests: getIntEnv("RATE_LIMIT_REQUESTS", 10),
		RateLimitWindow:   getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),
		TurnTimeout:       getDurationEnv("RELAY_TURN_TIMEOUT", 2*time.Minute),
		LogLevel:          getEnv("LOG_LEVEL", "warn"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
