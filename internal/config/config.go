// Package config loads runtime configuration from the environment.
package config

import (
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Config holds the runtime settings for the pool engine server.
type Config struct {
	Port     string
	LogLevel string

	// DatabaseURL selects the Postgres store; empty means in-memory.
	DatabaseURL string
	// RedisURL enables the read-through cache in front of the store.
	RedisURL string

	// Liquidators is the allowlist of account IDs permitted to
	// submit liquidations.
	Liquidators []string

	// LossSinkAccount receives pooled value seized by liquidations.
	LossSinkAccount string
	// RewardSourceAccount funds reward injections.
	RewardSourceAccount string
	// RewardTreasuryBalance seeds the reward source in the in-memory
	// vault, as a decimal string.
	RewardTreasuryBalance string
}

// Load reads configuration from the environment, consulting a .env file
// if one is present.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("no .env file found, using environment")
	}

	return Config{
		Port:                  getEnv("PORT", "8080"),
		LogLevel:              getEnv("LOG_LEVEL", "info"),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		RedisURL:              os.Getenv("REDIS_URL"),
		Liquidators:           splitList(getEnv("LIQUIDATORS", "liquidator-1")),
		LossSinkAccount:       getEnv("LOSS_SINK_ACCOUNT", "loss-sink"),
		RewardSourceAccount:   getEnv("REWARD_SOURCE_ACCOUNT", "reward-treasury"),
		RewardTreasuryBalance: getEnv("REWARD_TREASURY_BALANCE", "1000000000000000000000000"),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
