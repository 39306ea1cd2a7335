// Package config resolves the defaults of the command line flags from the
// environment and an optional .env file.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"

	"github.com/makotom/speedlog/cfspeed"
	"github.com/makotom/speedlog/speedlog"
)

const (
	DefaultEnvFile = ".env"

	EnvLogPath       = "SPEEDLOG_FILE"
	EnvLogInterval   = "SPEEDLOG_INTERVAL"
	EnvWatchInterval = "SPEEDLOG_WATCH_INTERVAL"
	EnvMetricsAddr   = "SPEEDLOG_METRICS_ADDR"
	EnvEndpoints     = "SPEEDLOG_ENDPOINTS"
	EnvKeepGoing     = "SPEEDLOG_KEEP_GOING"
)

type Config struct {
	LogPath       string
	LogInterval   time.Duration
	WatchInterval time.Duration
	MetricsAddr   string
	Endpoints     []string
	KeepGoing     bool
}

// Load reads envFile, if it exists, and resolves every setting. Variables
// already set in the process environment win over the file.
func Load(envFile string) (*Config, error) {
	dotenv, err := godotenv.Read(envFile)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, errors.Wrapf(err, "could not read %s", envFile)
		}
		dotenv = map[string]string{}
	}

	return FromEnv(func(key string) string {
		if value, ok := os.LookupEnv(key); ok {
			return value
		}
		return dotenv[key]
	}), nil
}

// FromEnv resolves every setting through getenv. Missing or invalid values
// fall back to the defaults.
func FromEnv(getenv func(string) string) *Config {
	logPath := strings.TrimSpace(getenv(EnvLogPath))
	if logPath == "" {
		logPath = speedlog.DefaultLogPath
	}

	endpoints := []string{}
	for _, endpoint := range strings.Split(getenv(EnvEndpoints), ",") {
		if endpoint = strings.TrimSpace(endpoint); endpoint != "" {
			endpoints = append(endpoints, endpoint)
		}
	}
	if len(endpoints) == 0 {
		endpoints = []string{cfspeed.DefaultEndpoint}
	}

	keepGoing, err := strconv.ParseBool(strings.TrimSpace(getenv(EnvKeepGoing)))
	if err != nil {
		keepGoing = false
	}

	return &Config{
		LogPath:       logPath,
		LogInterval:   parseInterval(getenv(EnvLogInterval), speedlog.LogInterval),
		WatchInterval: parseInterval(getenv(EnvWatchInterval), speedlog.WatchInterval),
		MetricsAddr:   strings.TrimSpace(getenv(EnvMetricsAddr)),
		Endpoints:     endpoints,
		KeepGoing:     keepGoing,
	}
}

// parseInterval accepts Go durations ("10m") and plain seconds ("600").
func parseInterval(raw string, fallback time.Duration) time.Duration {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}

	if seconds, err := strconv.Atoi(raw); err == nil {
		if seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
		return fallback
	}

	if parsed, err := time.ParseDuration(raw); err == nil && parsed > 0 {
		return parsed
	}

	return fallback
}
