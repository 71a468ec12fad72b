package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Settings holds process-wide configuration resolved from the environment.
type Settings struct {
	ConfigPath string
	Logging    LoggingSettings
	Poller     PollerSettings
	Health     HealthSettings
	Server     ServerSettings
}

type LoggingSettings struct {
	Level    string
	Format   string
	ToFile   bool
	FilePath string
}

type PollerSettings struct {
	DefaultInterval   time.Duration
	MaxFailureBackoff time.Duration
	RPCRequestTimeout time.Duration
	WarmPollEnabled   bool
	WarmPollTimeout   time.Duration
}

type HealthSettings struct {
	ReadinessStaleThreshold time.Duration
}

type ServerSettings struct {
	HealthPort  int
	MetricsPort int
}

// LoadSettings reads process settings from the environment. A .env file in
// the working directory is honoured if present.
func LoadSettings() (*Settings, error) {
	if err := godotenv.Load(); err != nil {
		// .env file is optional
	}

	s := &Settings{}

	s.ConfigPath = getEnv("BLOCKCHAIN_EXPORTER_CONFIG_PATH", "./config.toml")

	s.Logging.Level = getEnv("LOG_LEVEL", "INFO")
	s.Logging.Format = getEnv("LOG_FORMAT", "text")
	if s.Logging.Format != "text" && s.Logging.Format != "json" {
		return nil, fmt.Errorf("invalid LOG_FORMAT %q: must be \"text\" or \"json\"", s.Logging.Format)
	}
	logToFile := getEnv("LOG_TO_FILE", "false")
	s.Logging.ToFile = logToFile == "true" || logToFile == "1"
	s.Logging.FilePath = getEnv("LOG_FILE_PATH", "logs/exporter.log")

	defaultInterval, err := ParseInterval(getEnv("POLL_DEFAULT_INTERVAL", "5m"))
	if err != nil {
		return nil, fmt.Errorf("invalid POLL_DEFAULT_INTERVAL: %w", err)
	}
	s.Poller.DefaultInterval = defaultInterval

	maxBackoff, err := strconv.Atoi(getEnv("MAX_FAILURE_BACKOFF_SECONDS", "900"))
	if err != nil || maxBackoff <= 0 {
		return nil, fmt.Errorf("invalid MAX_FAILURE_BACKOFF_SECONDS: must be a positive integer")
	}
	s.Poller.MaxFailureBackoff = time.Duration(maxBackoff) * time.Second

	rpcTimeout, err := strconv.ParseFloat(getEnv("RPC_REQUEST_TIMEOUT_SECONDS", "10.0"), 64)
	if err != nil || rpcTimeout <= 0 {
		return nil, fmt.Errorf("invalid RPC_REQUEST_TIMEOUT_SECONDS: must be a positive number")
	}
	s.Poller.RPCRequestTimeout = time.Duration(rpcTimeout * float64(time.Second))

	warmPoll := getEnv("WARM_POLL_ENABLED", "false")
	s.Poller.WarmPollEnabled = warmPoll == "true" || warmPoll == "1"

	warmPollTimeout, err := strconv.ParseFloat(getEnv("WARM_POLL_TIMEOUT_SECONDS", "30.0"), 64)
	if err != nil || warmPollTimeout <= 0 {
		return nil, fmt.Errorf("invalid WARM_POLL_TIMEOUT_SECONDS: must be a positive number")
	}
	s.Poller.WarmPollTimeout = time.Duration(warmPollTimeout * float64(time.Second))

	staleThreshold, err := strconv.Atoi(getEnv("READINESS_STALE_THRESHOLD_SECONDS", "300"))
	if err != nil || staleThreshold <= 0 {
		return nil, fmt.Errorf("invalid READINESS_STALE_THRESHOLD_SECONDS: must be a positive integer")
	}
	s.Health.ReadinessStaleThreshold = time.Duration(staleThreshold) * time.Second

	healthPort, err := strconv.Atoi(getEnv("HEALTH_PORT", "8080"))
	if err != nil || healthPort <= 0 || healthPort > 65535 {
		return nil, fmt.Errorf("invalid HEALTH_PORT: must be a valid port number")
	}
	s.Server.HealthPort = healthPort

	metricsPort, err := strconv.Atoi(getEnv("METRICS_PORT", "9100"))
	if err != nil || metricsPort <= 0 || metricsPort > 65535 {
		return nil, fmt.Errorf("invalid METRICS_PORT: must be a valid port number")
	}
	s.Server.MetricsPort = metricsPort

	return s, nil
}

// ResolveConfigPath returns the chain inventory file path. A directory path
// implies a config.toml inside it.
func (s *Settings) ResolveConfigPath() string {
	info, err := os.Stat(s.ConfigPath)
	if err == nil && info.IsDir() {
		return filepath.Join(s.ConfigPath, "config.toml")
	}
	return s.ConfigPath
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
