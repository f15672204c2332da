package config

import (
	"os"
	"strconv"
)

// Config holds the agent's runtime settings. Values are written once at
// startup and read-only afterwards.
type Config struct {
	ConnectString string
	PollInterval  int // seconds between poll ticks (shortWait)
	RetryInterval int // seconds between reconnect attempts (longWait)
	LogLevel      int // 0 ERROR, 1 WARNING, 2 DEBUG
	LogFile       string
	MetricsAddr   string // empty disables the ops HTTP endpoint
	MaxWorkers    int    // 0 means unbounded
	Foreground    bool
}

// Load reads configuration from environment variables with defaults. CLI
// flags override these values afterwards.
func Load() Config {
	return Config{
		PollInterval:  getEnvInt("PGAGENT_POLL_INTERVAL", 5),
		RetryInterval: getEnvInt("PGAGENT_RETRY_INTERVAL", 30),
		LogLevel:      getEnvInt("PGAGENT_LOG_LEVEL", 0),
		LogFile:       getEnv("PGAGENT_LOG_FILE", ""),
		MetricsAddr:   getEnv("PGAGENT_METRICS_ADDR", ""),
		MaxWorkers:    getEnvInt("PGAGENT_MAX_WORKERS", 0),
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}
