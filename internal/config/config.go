// Package config provides configuration for the chat relay.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds the relay configuration.
type Config struct {
	// Server settings
	HTTPPort int // HTTP API + WebSocket upgrade endpoint

	// Database
	DatabaseURL string

	// AI completion settings
	OpenAIBaseURL     string
	OpenAIAPIKey      string
	OpenAIModel       string
	OpenAIIntentModel string
	Temperature       float64
	MaxTokens         int
	AITimeout         time.Duration

	// Commerce platform (Admin API) settings
	ShopDomain    string
	AdminToken    string
	APIVersion    string
	HistoryWindow int

	// Redis bridge (optional; empty addr disables it)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// WebSocket settings
	PingInterval   time.Duration
	WriteTimeout   time.Duration
	ReadTimeout    time.Duration
	MaxMessageSize int64

	// Logging
	LogLevel string
}

// Load loads configuration from environment variables.
func Load() *Config {
	return &Config{
		HTTPPort:          getEnvInt("HTTP_PORT", 8080),
		DatabaseURL:       getEnv("DATABASE_URL", "file:chatbot.db?cache=shared&mode=rwc"),
		OpenAIBaseURL:     getEnv("OPENAI_BASE_URL", "https://api.openai.com"),
		OpenAIAPIKey:      getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:       getEnv("OPENAI_MODEL", "gpt-4"),
		OpenAIIntentModel: getEnv("OPENAI_INTENT_MODEL", "gpt-3.5-turbo"),
		Temperature:       getEnvFloat("OPENAI_TEMPERATURE", 0.7),
		MaxTokens:         getEnvInt("OPENAI_MAX_TOKENS", 500),
		AITimeout:         time.Duration(getEnvInt("OPENAI_TIMEOUT_MS", 30000)) * time.Millisecond,
		ShopDomain:        getEnv("SHOPIFY_SHOP_DOMAIN", ""),
		AdminToken:        getEnv("SHOPIFY_ADMIN_TOKEN", ""),
		APIVersion:        getEnv("SHOPIFY_API_VERSION", "2024-01"),
		HistoryWindow:     getEnvInt("CHAT_HISTORY_WINDOW", 10),
		RedisAddr:         getEnv("REDIS_ADDR", ""),
		RedisPassword:     getEnv("REDIS_PASSWORD", ""),
		RedisDB:           getEnvInt("REDIS_DB", 0),
		PingInterval:      time.Duration(getEnvInt("WS_PING_INTERVAL_MS", 25000)) * time.Millisecond,
		WriteTimeout:      time.Duration(getEnvInt("WS_WRITE_TIMEOUT_MS", 10000)) * time.Millisecond,
		ReadTimeout:       time.Duration(getEnvInt("WS_READ_TIMEOUT_MS", 60000)) * time.Millisecond,
		MaxMessageSize:    int64(getEnvInt("WS_MAX_MESSAGE_SIZE", 65536)),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if floatVal, err := strconv.ParseFloat(val, 64); err == nil {
			return floatVal
		}
	}
	return defaultVal
}
