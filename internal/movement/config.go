package movement

import (
	"os"
	"time"
)

// DefaultTickInterval is the wall-clock time between two block advances
const DefaultTickInterval = 2 * time.Second

// Config holds movement engine configuration
type Config struct {
	TickInterval time.Duration
}

// LoadConfigFromEnv loads engine configuration from environment variables
func LoadConfigFromEnv() *Config {
	interval, err := time.ParseDuration(getEnv("TICK_INTERVAL", "2s"))
	if err != nil || interval <= 0 {
		interval = DefaultTickInterval
	}

	return &Config{
		TickInterval: interval,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
