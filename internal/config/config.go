package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/itsAdnan16/jira-llm-pipeline/internal/fetch"
	"github.com/itsAdnan16/jira-llm-pipeline/internal/store"
)

// Config is the full pipeline configuration, read once from the
// environment at startup. Components receive it (or sub-structs of it) at
// construction and never consult the environment themselves.
type Config struct {
	JiraBaseURL string
	Projects    []string
	PageSize    int

	Fetch fetch.Config

	// StateDir holds per-project checkpoint files.
	StateDir string
	// RawDir is the filesystem raw record root (used when RawBackend is "fs").
	RawDir string
	// RawBackend selects the raw record store: "fs" or "s3".
	RawBackend string
	S3         store.S3Config

	StrictValidation bool

	MetricsEnabled bool
	MetricsAddr    string

	LogFormat string
}

// FromEnv builds the configuration from environment variables, applying
// the defaults used against the public Apache Jira instance.
func FromEnv() (Config, error) {
	cfg := Config{
		JiraBaseURL: getEnv("JIRA_BASE_URL", "https://issues.apache.org/jira"),
		Projects:    splitList(getEnv("JIRA_PROJECTS", "HADOOP,SPARK,KAFKA")),
		PageSize:    50,

		Fetch: fetch.DefaultConfig(),

		StateDir:   getEnv("STATE_DIR", "data/state"),
		RawDir:     getEnv("RAW_DIR", "data/raw"),
		RawBackend: getEnv("RAW_BACKEND", "fs"),
		S3: store.S3Config{
			EndpointURL:     getEnv("S3_ENDPOINT_URL", ""),
			Region:          getEnv("S3_REGION", "us-east-1"),
			AccessKeyID:     getEnv("S3_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("S3_SECRET_ACCESS_KEY", ""),
			Bucket:          getEnv("S3_BUCKET", "jira-llm-corpus"),
			Prefix:          getEnv("S3_PREFIX", "raw"),
		},

		StrictValidation: getEnvBool("VALIDATION_STRICT_MODE", false),

		MetricsEnabled: getEnvBool("METRICS_ENABLED", true),
		MetricsAddr:    getEnv("METRICS_ADDR", ":9090"),

		LogFormat: getEnv("LOG_FORMAT", "json"),
	}

	var err error
	if cfg.PageSize, err = getEnvInt("SEARCH_PAGE_SIZE", cfg.PageSize); err != nil {
		return cfg, err
	}
	if cfg.Fetch.MaxAttempts, err = getEnvInt("RETRY_MAX_ATTEMPTS", cfg.Fetch.MaxAttempts); err != nil {
		return cfg, err
	}
	if cfg.Fetch.BaseDelay, err = getEnvDuration("RETRY_BASE_DELAY", cfg.Fetch.BaseDelay); err != nil {
		return cfg, err
	}
	if cfg.Fetch.MaxDelay, err = getEnvDuration("RETRY_MAX_DELAY", cfg.Fetch.MaxDelay); err != nil {
		return cfg, err
	}
	if cfg.Fetch.Timeout, err = getEnvDuration("REQUEST_TIMEOUT", cfg.Fetch.Timeout); err != nil {
		return cfg, err
	}
	if cfg.Fetch.RequestsPerSecond, err = getEnvFloat("RATE_LIMIT_RPS", cfg.Fetch.RequestsPerSecond); err != nil {
		return cfg, err
	}

	if cfg.RawBackend != "fs" && cfg.RawBackend != "s3" {
		return cfg, fmt.Errorf("RAW_BACKEND must be \"fs\" or \"s3\", got %q", cfg.RawBackend)
	}
	if cfg.RawBackend == "s3" && cfg.S3.EndpointURL == "" {
		return cfg, fmt.Errorf("S3_ENDPOINT_URL is required when RAW_BACKEND=s3")
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return parsed, nil
}

func getEnvFloat(key string, defaultValue float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return parsed, nil
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return parsed, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
