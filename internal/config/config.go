package config

import (
	"time"

	"echotwin/pkg/config"
)

// Config stores environment configuration for EchoTwin.
type Config struct {
	Port        string
	DatabaseURL string
	RedisURL    string

	IdentityHostname  string
	IdentityJWTSecret string

	FarcasterAPIKey string
	FarcasterAPIURL string

	LLMProvider    string
	LLMModel       string
	LLMAPIKey      string
	LLMAPIURL      string
	LLMMaxTokens   int
	LLMTemperature float64

	TickInterval   time.Duration
	RunOnStart     bool
	MaxConcurrency int
	MaxPerDay      int
	StyleCacheTTL  time.Duration
	AdminToken     string
}

// LoadConfig loads the EchoTwin configuration from environment variables.
func LoadConfig() Config {
	return Config{
		Port:        config.GetEnv("PORT", "18030"),
		DatabaseURL: config.RequireEnv("DATABASE_URL"),
		RedisURL:    config.GetEnv("REDIS_URL", ""),

		IdentityHostname:  config.GetEnv("IDENTITY_HOSTNAME", "localhost"),
		IdentityJWTSecret: config.RequireEnv("IDENTITY_JWT_SECRET"),

		FarcasterAPIKey: config.GetEnv("NEYNAR_API_KEY", ""),
		FarcasterAPIURL: config.GetEnv("NEYNAR_API_URL", ""),

		LLMProvider:    config.GetEnv("LLM_PROVIDER", "openai"),
		LLMModel:       config.GetEnv("LLM_MODEL", ""),
		LLMAPIKey:      config.GetEnv("LLM_API_KEY", ""),
		LLMAPIURL:      config.GetEnv("LLM_API_URL", ""),
		LLMMaxTokens:   config.GetEnvInt("LLM_MAX_TOKENS", 80),
		LLMTemperature: config.GetEnvFloat("LLM_TEMPERATURE", 0.2),

		TickInterval:   config.GetEnvDuration("TWIN_TICK_INTERVAL", 15*time.Minute),
		RunOnStart:     config.GetEnvBool("TWIN_RUN_ON_START", false),
		MaxConcurrency: config.GetEnvInt("TWIN_MAX_CONCURRENCY", 4),
		MaxPerDay:      config.GetEnvInt("TWIN_MAX_REPLIES_PER_DAY", 0),
		StyleCacheTTL:  config.GetEnvDuration("TWIN_STYLE_CACHE_TTL", time.Hour),
		AdminToken:     config.GetEnv("TWIN_ADMIN_TOKEN", ""),
	}
}
