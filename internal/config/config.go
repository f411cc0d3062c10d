// Package config loads startup configuration from the environment.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds process-wide settings, read once at startup and treated
// as immutable afterwards.
type Config struct {
	// BaseURL is the TaskFlow API address.
	BaseURL string
	// Timeout bounds every request round-trip.
	Timeout time.Duration
	// RetryAttempts is the total number of tries for idempotent reads.
	RetryAttempts int
	// RequestsPerSecond throttles outbound calls; 0 disables the limiter.
	RequestsPerSecond float64
	// StateDir overrides where the session file lives. Empty means the
	// user config dir.
	StateDir string
}

// Load reads configuration from the environment. A .env file in the
// working directory is merged in first when present.
func Load() Config {
	_ = godotenv.Load()
	return Config{
		BaseURL:           getenv("TASKFLOW_API_URL", "http://localhost:8000"),
		Timeout:           getduration("TASKFLOW_TIMEOUT", 15*time.Second),
		RetryAttempts:     getint("TASKFLOW_RETRIES", 2),
		RequestsPerSecond: getfloat("TASKFLOW_RPS", 20),
		StateDir:          os.Getenv("TASKFLOW_STATE_DIR"),
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getint(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getfloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getduration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
