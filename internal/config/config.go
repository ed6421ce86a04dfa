package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
)

// Config holds the transfer server settings. Every field maps to one
// environment variable named in Load.
type Config struct {
	ServerPort         string
	ServerReadTimeout  time.Duration
	ServerIdleTimeout  time.Duration
	RequestTimeout     time.Duration
	UploadTimeout      time.Duration
	UploadIdleTimeout  time.Duration
	ShutdownTimeout    time.Duration
	StorageRoot        string
	ChunkTempDir       string
	ChunkMaxSize       int64
	ChunkExpiry        time.Duration
	DatabaseURL        string
	DBMaxConns         int32
	DBMinConns         int32
	JWTSecret          string
	CORSOrigins        []string
	RateLimitRPM       int
	UploadRateLimitRPM int
	TaskWorkers        int
	TaskStaleAfter     time.Duration
	LogLevel           string
	LogFormat          string
}

// Load reads the process environment, after merging an optional .env file.
// Malformed values are reported together instead of falling back silently.
func Load() (*Config, error) {
	_ = godotenv.Load()

	env := &envReader{}
	cfg := &Config{
		ServerPort:         env.str("SERVER_PORT", "8080"),
		ServerReadTimeout:  env.duration("SERVER_READ_TIMEOUT", 15*time.Second),
		ServerIdleTimeout:  env.duration("SERVER_IDLE_TIMEOUT", 120*time.Second),
		RequestTimeout:     env.duration("REQUEST_TIMEOUT", 30*time.Second),
		UploadTimeout:      env.duration("UPLOAD_TIMEOUT", 10*time.Minute),
		UploadIdleTimeout:  env.duration("UPLOAD_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout:    env.duration("SHUTDOWN_TIMEOUT", 15*time.Second),
		StorageRoot:        env.str("STORAGE_ROOT", "./data"),
		ChunkTempDir:       env.str("CHUNK_TEMP_DIR", "./state/chunks"),
		ChunkMaxSize:       env.bytes("CHUNK_MAX_SIZE", 64*1024*1024),
		ChunkExpiry:        env.duration("CHUNK_EXPIRY", 24*time.Hour),
		DatabaseURL:        env.str("DATABASE_URL", ""),
		DBMaxConns:         int32(env.integer("DB_MAX_CONNS", 10)),
		DBMinConns:         int32(env.integer("DB_MIN_CONNS", 2)),
		JWTSecret:          env.str("JWT_SECRET", ""),
		CORSOrigins:        splitCSV(env.str("CORS_ORIGINS", "*")),
		RateLimitRPM:       env.integer("RATE_LIMIT_RPM", 300),
		UploadRateLimitRPM: env.integer("UPLOAD_RATE_LIMIT_RPM", 600),
		TaskWorkers:        env.integer("TASK_WORKERS", 2),
		TaskStaleAfter:     env.duration("TASK_STALE_AFTER", 10*time.Minute),
		LogLevel:           env.str("LOG_LEVEL", "info"),
		LogFormat:          env.str("LOG_FORMAT", "pretty"),
	}
	if err := errors.Join(env.errs...); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(strings.TrimSpace(c.JWTSecret) != "", "JWT_SECRET is required")
	check(c.ServerPort != "", "SERVER_PORT cannot be empty")
	check(c.StorageRoot != "", "STORAGE_ROOT cannot be empty")
	check(strings.TrimSpace(c.ChunkTempDir) != "", "CHUNK_TEMP_DIR cannot be empty")
	check(c.ChunkMaxSize > 0, "CHUNK_MAX_SIZE must be positive")
	check(c.ChunkExpiry > 0, "CHUNK_EXPIRY must be positive")
	check(c.RequestTimeout > 0, "REQUEST_TIMEOUT must be positive")
	check(c.UploadTimeout > 0, "UPLOAD_TIMEOUT must be positive")
	check(c.TaskWorkers >= 1, "TASK_WORKERS must be at least 1, got %d", c.TaskWorkers)
	check(c.TaskStaleAfter > 0, "TASK_STALE_AFTER must be positive")
	if c.DatabaseURL != "" {
		check(c.DBMaxConns >= 1 && c.DBMinConns >= 0 && c.DBMinConns <= c.DBMaxConns,
			"DB_MIN_CONNS=%d/DB_MAX_CONNS=%d out of range", c.DBMinConns, c.DBMaxConns)
	}

	return errors.Join(errs...)
}

// envReader looks up trimmed variables and remembers parse failures.
type envReader struct {
	errs []error
}

func (e *envReader) lookup(key string) (string, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	return v, v != ""
}

func (e *envReader) fail(key, raw string, err error) {
	e.errs = append(e.errs, fmt.Errorf("%s=%q: %w", key, raw, err))
}

func (e *envReader) str(key, fallback string) string {
	if v, ok := e.lookup(key); ok {
		return v
	}
	return fallback
}

func (e *envReader) integer(key string, fallback int) int {
	raw, ok := e.lookup(key)
	if !ok {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		e.fail(key, raw, err)
		return fallback
	}
	return v
}

// bytes accepts plain byte counts as well as sizes such as "8MiB" or "4MB".
func (e *envReader) bytes(key string, fallback int64) int64 {
	raw, ok := e.lookup(key)
	if !ok {
		return fallback
	}
	v, err := humanize.ParseBytes(raw)
	if err != nil {
		e.fail(key, raw, err)
		return fallback
	}
	return int64(v)
}

func (e *envReader) duration(key string, fallback time.Duration) time.Duration {
	raw, ok := e.lookup(key)
	if !ok {
		return fallback
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		e.fail(key, raw, err)
		return fallback
	}
	return v
}

func splitCSV(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
