package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Load reads environment variables from the given .env files, defaulting to
// ".env" in the working directory. A missing file is reported as an error;
// callers typically ignore it and fall back to the process environment.
func Load(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	return godotenv.Load(paths...)
}

// GetEnv returns the environment variable named by key, or fallback when it
// is unset or empty.
func GetEnv(key, fallback string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	return v
}

// GetEnvInt returns the environment variable named by key parsed as an
// integer, or fallback when it is unset, empty, or malformed.
func GetEnvInt(key string, fallback int) int {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

// GetEnvBool returns the environment variable named by key parsed as a
// boolean, or fallback when it is unset, empty, or malformed.
func GetEnvBool(key string, fallback bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

// GetEnvFloat returns the environment variable named by key parsed as a
// float, or fallback when it is unset, empty, or malformed.
func GetEnvFloat(key string, fallback float64) float64 {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}
