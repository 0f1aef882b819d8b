package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"
)

// CLIConfig holds command-line configuration
type CLIConfig struct {
	ConfigPath      string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
	ShowVersion     bool
	ShowHelp        bool
	Validate        bool
}

func parseFlags() *CLIConfig {
	cfg := &CLIConfig{}

	flag.StringVar(&cfg.ConfigPath, "config",
		getEnv("NMS_CONFIG", ""),
		"Path to configuration file, empty for built-in defaults (env: NMS_CONFIG)")

	flag.StringVar(&cfg.ConfigPath, "c",
		getEnv("NMS_CONFIG", ""),
		"Path to configuration file, empty for built-in defaults (env: NMS_CONFIG)")

	flag.StringVar(&cfg.LogLevel, "log-level",
		getEnv("NMS_LOG_LEVEL", "info"),
		"Log level: debug, info, warn, error (env: NMS_LOG_LEVEL)")

	flag.StringVar(&cfg.LogFormat, "log-format",
		getEnv("NMS_LOG_FORMAT", "json"),
		"Log format: json, text (env: NMS_LOG_FORMAT)")

	flag.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout",
		getEnvDuration("NMS_SHUTDOWN_TIMEOUT", 30*time.Second),
		"Graceful shutdown timeout (env: NMS_SHUTDOWN_TIMEOUT)")

	flag.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	flag.BoolVar(&cfg.ShowVersion, "v", false, "Show version information")
	flag.BoolVar(&cfg.ShowHelp, "help", false, "Show help information")
	flag.BoolVar(&cfg.ShowHelp, "h", false, "Show help information")
	flag.BoolVar(&cfg.Validate, "validate", false, "Validate configuration and exit")

	flag.Usage = printDetailedHelp

	flag.Parse()

	return cfg
}

func validateFlags(cfg *CLIConfig) error {
	if cfg.ShowVersion || cfg.ShowHelp {
		return nil
	}

	if cfg.ConfigPath != "" {
		if _, err := os.Stat(cfg.ConfigPath); err != nil {
			return fmt.Errorf("config file not found: %s", cfg.ConfigPath)
		}
	}

	validLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLevels, strings.ToLower(cfg.LogLevel)) {
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}

	validFormats := []string{"json", "text"}
	if !contains(validFormats, strings.ToLower(cfg.LogFormat)) {
		return fmt.Errorf("invalid log format: %s", cfg.LogFormat)
	}

	return nil
}

func printDetailedHelp() {
	_, _ = fmt.Fprintf(os.Stderr, `%s - Network Management Communication Core

Orchestrates GNS3 topologies and routes inter-module messages with
priority delivery, retries and real-time websocket fanout.

Usage:
  %s [flags]

Flags:
  -config, -c        Path to YAML configuration file (default: built-in)
  -log-level         debug, info, warn, error (default: info)
  -log-format        json or text (default: json)
  -shutdown-timeout  Graceful shutdown timeout (default: 30s)
  -validate          Validate configuration and exit
  -version, -v       Show version
  -help, -h          Show this help

Environment:
  NMS_CONFIG, NMS_LOG_LEVEL, NMS_LOG_FORMAT, NMS_SHUTDOWN_TIMEOUT
  NMS_GNS3_URL, NMS_REALTIME_PORT, NMS_METRICS_PORT, NMS_CACHE_BACKEND
  NMS_NATS_URL, NMS_NATS_BUCKET, NMS_WEBHOOK_URL, NMS_PARTIAL_SUCCESS_RATIO
`, appName, appName)
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func contains(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}
