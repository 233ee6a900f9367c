package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

func envString(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func envIntWithFallback(key string, fallback int) int {
	raw := envString(key)
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return parsed
}

func envBoundedIntWithFallback(key string, fallback, min, max int) int {
	value := envIntWithFallback(key, fallback)
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}

func envDurationWithFallback(key string, fallback time.Duration) time.Duration {
	raw := envString(key)
	if raw == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil || parsed < 0 {
		return fallback
	}
	return parsed
}
