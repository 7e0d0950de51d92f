package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"
)

// Config represents runtime configuration derived from environment variables.
type Config struct {
	Server   ServerConfig
	Logging  LoggingConfig
	Database DatabaseConfig
	Twitter  TwitterConfig
	Watcher  WatcherConfig
	Media    MediaConfig
}

// ServerConfig holds HTTP server runtime parameters.
type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// LoggingConfig represents structured logging configuration.
type LoggingConfig struct {
	Level  slog.Level
	Format string
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL string
}

// TwitterConfig holds the application-level Twitter API credentials.
// Per-account access tokens live in the account store, not here.
type TwitterConfig struct {
	APIKey         string
	APISecret      string
	BearerToken    string
	RequestTimeout time.Duration
	RatePerSec     int
}

// WatcherConfig controls the milestone watch loop.
type WatcherConfig struct {
	CronSpec      string
	Step          int64
	FetchCacheTTL time.Duration
	FetchTimeout  time.Duration
	AttemptTTL    time.Duration
	LogCap        int
	Workers       int
}

// MediaConfig controls uploaded media storage.
type MediaConfig struct {
	UploadDir      string
	MaxUploadBytes int64
}

const (
	defaultPort            = "8080"
	defaultReadTimeout     = 10 * time.Second
	defaultWriteTimeout    = 10 * time.Second
	defaultShutdownTimeout = 5 * time.Second

	defaultLogFormat = "json"

	defaultTwitterTimeout = 30 * time.Second
	defaultTwitterRate    = 5

	// Matches the follower-check cron the bot has always run on.
	defaultWatchCron     = "*/15 * * * *"
	defaultMilestoneStep = int64(100)
	defaultFetchCacheTTL = 5 * time.Minute
	defaultFetchTimeout  = 15 * time.Second
	defaultAttemptTTL    = 10 * time.Minute
	defaultLogCap        = 50
	defaultWorkers       = 4

	defaultUploadDir      = "./uploads"
	defaultMaxUploadBytes = int64(10 << 20)
)

// Load reads configuration from environment variables, applying defaults when
// values are not provided or invalid.
func Load() (Config, error) {
	// Cloud Run sets PORT, but allow SERVER_PORT override for local dev
	port := getEnv("PORT", "")
	if port == "" {
		port = getEnv("SERVER_PORT", defaultPort)
	}

	cfg := Config{
		Server: ServerConfig{
			Port:            port,
			ReadTimeout:     defaultReadTimeout,
			WriteTimeout:    defaultWriteTimeout,
			ShutdownTimeout: defaultShutdownTimeout,
		},
		Logging: LoggingConfig{
			Level:  slog.LevelInfo,
			Format: defaultLogFormat,
		},
		Database: DatabaseConfig{
			URL: os.Getenv("DATABASE_URL"),
		},
		Twitter: TwitterConfig{
			APIKey:         os.Getenv("TWITTER_API_KEY"),
			APISecret:      os.Getenv("TWITTER_API_SECRET"),
			BearerToken:    os.Getenv("TWITTER_BEARER_TOKEN"),
			RequestTimeout: defaultTwitterTimeout,
			RatePerSec:     defaultTwitterRate,
		},
		Watcher: WatcherConfig{
			CronSpec:      getEnv("WATCH_CRON", defaultWatchCron),
			Step:          defaultMilestoneStep,
			FetchCacheTTL: defaultFetchCacheTTL,
			FetchTimeout:  defaultFetchTimeout,
			AttemptTTL:    defaultAttemptTTL,
			LogCap:        defaultLogCap,
			Workers:       defaultWorkers,
		},
		Media: MediaConfig{
			UploadDir:      getEnv("UPLOAD_DIR", defaultUploadDir),
			MaxUploadBytes: defaultMaxUploadBytes,
		},
	}

	if v := os.Getenv("SERVER_READ_TIMEOUT_SECONDS"); v != "" {
		d, err := parseSeconds(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid SERVER_READ_TIMEOUT_SECONDS: %w", err)
		}
		cfg.Server.ReadTimeout = d
	}

	if v := os.Getenv("SERVER_WRITE_TIMEOUT_SECONDS"); v != "" {
		d, err := parseSeconds(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid SERVER_WRITE_TIMEOUT_SECONDS: %w", err)
		}
		cfg.Server.WriteTimeout = d
	}

	if v := os.Getenv("SERVER_SHUTDOWN_TIMEOUT_SECONDS"); v != "" {
		d, err := parseSeconds(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid SERVER_SHUTDOWN_TIMEOUT_SECONDS: %w", err)
		}
		cfg.Server.ShutdownTimeout = d
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		level, err := parseLogLevel(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid LOG_LEVEL: %w", err)
		}
		cfg.Logging.Level = level
	}

	if v := os.Getenv("LOG_FORMAT"); v != "" {
		switch v {
		case "json", "text":
			cfg.Logging.Format = v
		default:
			return Config{}, fmt.Errorf("invalid LOG_FORMAT: must be 'json' or 'text'")
		}
	}

	if v := os.Getenv("MILESTONE_STEP"); v != "" {
		step, err := strconv.ParseInt(v, 10, 64)
		if err != nil || step <= 0 {
			return Config{}, fmt.Errorf("invalid MILESTONE_STEP: must be a positive integer")
		}
		cfg.Watcher.Step = step
	}

	if v := os.Getenv("FETCH_CACHE_TTL_SECONDS"); v != "" {
		d, err := parseSeconds(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid FETCH_CACHE_TTL_SECONDS: %w", err)
		}
		cfg.Watcher.FetchCacheTTL = d
	}

	if v := os.Getenv("FETCH_TIMEOUT_SECONDS"); v != "" {
		d, err := parseSeconds(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid FETCH_TIMEOUT_SECONDS: %w", err)
		}
		cfg.Watcher.FetchTimeout = d
	}

	if v := os.Getenv("DISPATCH_ATTEMPT_TTL_SECONDS"); v != "" {
		d, err := parseSeconds(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid DISPATCH_ATTEMPT_TTL_SECONDS: %w", err)
		}
		cfg.Watcher.AttemptTTL = d
	}

	if v := os.Getenv("WATCH_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return Config{}, fmt.Errorf("invalid WATCH_WORKERS: must be a positive integer")
		}
		cfg.Watcher.Workers = n
	}

	if v := os.Getenv("TWITTER_RATE_PER_SEC"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return Config{}, fmt.Errorf("invalid TWITTER_RATE_PER_SEC: must be a positive integer")
		}
		cfg.Twitter.RatePerSec = n
	}

	return cfg, nil
}

func parseSeconds(raw string) (time.Duration, error) {
	seconds, err := strconv.Atoi(raw)
	if err != nil || seconds < 0 {
		return 0, fmt.Errorf("must be a non-negative integer")
	}
	return time.Duration(seconds) * time.Second, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch raw {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("must be one of debug, info, warn, error")
	}
}
