// Package config loads process configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds process configuration.
type Config struct {
	// PolicyDir overrides the embedded policy bundles when set.
	PolicyDir string

	HistoryDir string

	MetadataDriver string // memory | sqlite | postgres
	DatabaseURL    string
	SQLitePath     string

	LLMBaseURL string
	LLMAPIKey  string
	LLMModel   string

	SemanticTimeout       time.Duration
	SemanticFanout        int
	SemanticMaxInflight   int
	SemanticProbeInterval time.Duration

	LimiterBackend string // memory | redis
	RedisAddr      string
	LLMRPM         int

	ArchiveBackend   string // none | fs | s3 | gcs
	ArchiveDir       string
	ArchiveS3Bucket  string
	ArchiveS3Region  string
	ArchiveS3Prefix  string
	ArchiveGCSBucket string

	OTLPEndpoint string
	LogLevel     string
}

// Load reads configuration from environment variables with defaults.
func Load() *Config {
	return &Config{
		PolicyDir:  os.Getenv("DATAPACT_POLICY_DIR"),
		HistoryDir: getenv("DATAPACT_HISTORY_DIR", "data/history"),

		MetadataDriver: getenv("DATAPACT_METADATA_DRIVER", "sqlite"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		SQLitePath:     getenv("DATAPACT_SQLITE_PATH", "data/registry.db"),

		LLMBaseURL: getenv("LLM_BASE_URL", "http://localhost:1234/v1"),
		LLMAPIKey:  os.Getenv("LLM_API_KEY"),
		LLMModel:   getenv("LLM_MODEL", "gpt-4o-mini"),

		SemanticTimeout:       getduration("SEMANTIC_TIMEOUT", 20*time.Second),
		SemanticFanout:        getint("SEMANTIC_FANOUT", 4),
		SemanticMaxInflight:   getint("SEMANTIC_MAX_INFLIGHT", 16),
		SemanticProbeInterval: getduration("SEMANTIC_PROBE_INTERVAL", 30*time.Second),

		LimiterBackend: getenv("LIMITER_BACKEND", "memory"),
		RedisAddr:      getenv("REDIS_ADDR", "localhost:6379"),
		LLMRPM:         getint("LLM_RPM", 60),

		ArchiveBackend:   getenv("ARCHIVE_BACKEND", "none"),
		ArchiveDir:       getenv("ARCHIVE_DIR", "data/archive"),
		ArchiveS3Bucket:  os.Getenv("ARCHIVE_S3_BUCKET"),
		ArchiveS3Region:  getenv("ARCHIVE_S3_REGION", "us-east-1"),
		ArchiveS3Prefix:  os.Getenv("ARCHIVE_S3_PREFIX"),
		ArchiveGCSBucket: os.Getenv("ARCHIVE_GCS_BUCKET"),

		OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		LogLevel:     getenv("DATAPACT_LOG_LEVEL", "info"),
	}
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.MetadataDriver {
	case "memory":
	case "sqlite":
		if c.SQLitePath == "" {
			return fmt.Errorf("config: sqlite metadata driver needs DATAPACT_SQLITE_PATH")
		}
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("config: postgres metadata driver needs DATABASE_URL")
		}
	default:
		return fmt.Errorf("config: unknown metadata driver %q", c.MetadataDriver)
	}

	switch c.LimiterBackend {
	case "memory":
	case "redis":
		if c.RedisAddr == "" {
			return fmt.Errorf("config: redis limiter needs REDIS_ADDR")
		}
	default:
		return fmt.Errorf("config: unknown limiter backend %q", c.LimiterBackend)
	}

	switch c.ArchiveBackend {
	case "none", "fs":
	case "s3":
		if c.ArchiveS3Bucket == "" {
			return fmt.Errorf("config: s3 archive needs ARCHIVE_S3_BUCKET")
		}
	case "gcs":
		if c.ArchiveGCSBucket == "" {
			return fmt.Errorf("config: gcs archive needs ARCHIVE_GCS_BUCKET")
		}
	default:
		return fmt.Errorf("config: unknown archive backend %q", c.ArchiveBackend)
	}

	if c.HistoryDir == "" {
		return fmt.Errorf("config: DATAPACT_HISTORY_DIR must not be empty")
	}
	if c.SemanticTimeout <= 0 {
		return fmt.Errorf("config: SEMANTIC_TIMEOUT must be positive")
	}
	if c.SemanticFanout <= 0 || c.SemanticMaxInflight <= 0 {
		return fmt.Errorf("config: semantic fanout and max inflight must be positive")
	}
	if c.LLMRPM <= 0 {
		return fmt.Errorf("config: LLM_RPM must be positive")
	}
	return nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getint(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getduration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
