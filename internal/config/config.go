package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration values.
type Config struct {
	// Server
	ListenAddr string

	// Backend selection
	StoreBackend string // "memory" or "surreal"
	QueueBackend string // "memory" or "surreal"
	BlobBackend  string // "fs" or "s3"

	// SurrealDB connection
	SurrealDBURL       string
	SurrealDBNamespace string
	SurrealDBDatabase  string
	SurrealDBUser      string
	SurrealDBPass      string
	SurrealDBAuthLevel string

	// Artifact storage
	S3Bucket    string
	S3Prefix    string
	ArtifactDir string // fs backend

	// Workers
	Workers           int
	BatchSize         int
	VisibilityTimeout time.Duration

	// Logging
	LogFile  string
	LogLevel slog.Level
}

// Load reads configuration from environment variables.
func Load() Config {
	return Config{
		ListenAddr: getEnv("HOLESCAN_ADDR", ":8090"),

		StoreBackend: getEnv("HOLESCAN_STORE", "surreal"),
		QueueBackend: getEnv("HOLESCAN_QUEUE", "surreal"),
		BlobBackend:  getEnv("HOLESCAN_BLOB", "fs"),

		SurrealDBURL:       getEnv("SURREALDB_URL", "ws://localhost:8000/rpc"),
		SurrealDBNamespace: getEnv("SURREALDB_NAMESPACE", "holescan"),
		SurrealDBDatabase:  getEnv("SURREALDB_DATABASE", "scan"),
		SurrealDBUser:      getEnv("SURREALDB_USER", "root"),
		SurrealDBPass:      getEnv("SURREALDB_PASS", "root"),
		SurrealDBAuthLevel: getEnv("SURREALDB_AUTH_LEVEL", "root"),

		S3Bucket:    getEnv("HOLESCAN_S3_BUCKET", ""),
		S3Prefix:    getEnv("HOLESCAN_S3_PREFIX", "reports"),
		ArtifactDir: getEnv("HOLESCAN_ARTIFACT_DIR", "/tmp/holescan-artifacts"),

		Workers:           getEnvInt("HOLESCAN_WORKERS", 4),
		BatchSize:         getEnvInt("HOLESCAN_BATCH_SIZE", 10),
		VisibilityTimeout: getEnvDuration("HOLESCAN_VISIBILITY_TIMEOUT", 2*time.Minute),

		LogFile:  getEnv("HOLESCAN_LOG_FILE", "/tmp/holescan.log"),
		LogLevel: parseLogLevel(getEnv("HOLESCAN_LOG_LEVEL", "INFO")),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
