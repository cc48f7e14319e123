package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Version is set at build time via -ldflags
var Version = "dev"

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "TIMEKEEPER_"

// Defaults.
const (
	DefaultPort                = "3095"
	DefaultPollInterval        = 100 * time.Millisecond
	DefaultRetentionDays       = 30
	DefaultMaintenanceSchedule = "0 3 * * *"
	MinPollInterval            = 10 * time.Millisecond
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Port is the HTTP server listen port.
	Port string

	// LogLevel is "debug", "info", "warn" or "error".
	LogLevel string

	// PollInterval is how often running sessions are sampled. It bounds both
	// the display refresh rate and how late an expiry can be detected.
	PollInterval time.Duration

	// RetentionDays is how long the history of deleted sessions is kept.
	// 0 disables pruning.
	RetentionDays int

	// MaintenanceSchedule is the cron expression for database maintenance.
	MaintenanceSchedule string

	// NotifyURLs are shoutrrr service URLs notified when a countdown expires.
	NotifyURLs []string

	// NotifyThrottle suppresses repeat notifications to one URL within the
	// window. 0 sends every expiry.
	NotifyThrottle time.Duration

	// APIKey, when set, is required on every /api request except health.
	APIKey string

	// CORSOrigin is the allowed browser origin; empty disables CORS headers.
	CORSOrigin string

	// WSStreamLogs forwards log entries to websocket clients.
	WSStreamLogs bool

	// ShutdownTimeout bounds graceful HTTP shutdown.
	ShutdownTimeout time.Duration

	DataDir      string
	DatabasePath string
	LogDir       string

	// dbPathExplicit is set when DatabasePath came from env or a flag rather
	// than being derived from DataDir.
	dbPathExplicit bool
}

// Global singleton
var cfg *Config

// Load reads configuration from the environment and fills defaults. Call
// EnsureDirs before touching the filesystem.
func Load() *Config {
	dataDir := getEnvOrDefault("DATA_DIR", "")
	if dataDir == "" {
		if cwd, err := os.Getwd(); err == nil {
			dataDir = filepath.Join(cwd, "data")
		} else {
			dataDir = "./data"
		}
	}
	if abs, err := filepath.Abs(dataDir); err == nil {
		dataDir = abs
	}

	cfg = &Config{
		Port:                getEnvOrDefault("PORT", DefaultPort),
		LogLevel:            strings.ToLower(getEnvOrDefault("LOG_LEVEL", "info")),
		PollInterval:        getEnvDurationOrDefault("POLL_INTERVAL", DefaultPollInterval),
		RetentionDays:       getEnvIntOrDefault("RETENTION_DAYS", DefaultRetentionDays),
		MaintenanceSchedule: getEnvOrDefault("MAINTENANCE_SCHEDULE", DefaultMaintenanceSchedule),
		NotifyURLs:          getEnvListOrDefault("NOTIFY_URLS", nil),
		NotifyThrottle:      getEnvDurationOrDefault("NOTIFY_THROTTLE", 0),
		APIKey:              getEnvOrDefault("API_KEY", ""),
		CORSOrigin:          getEnvOrDefault("CORS_ORIGIN", ""),
		WSStreamLogs:        getEnvBoolOrDefault("WS_STREAM_LOGS", false),
		ShutdownTimeout:     getEnvDurationOrDefault("SHUTDOWN_TIMEOUT", 10*time.Second),
		DataDir:             dataDir,
		DatabasePath:        getEnvOrDefault("DATABASE_PATH", ""),
	}
	cfg.dbPathExplicit = cfg.DatabasePath != ""
	cfg.resolvePaths()
	cfg.normalize()
	return cfg
}

// resolvePaths derives the database and log locations from DataDir.
func (c *Config) resolvePaths() {
	if !c.dbPathExplicit {
		c.DatabasePath = filepath.Join(c.DataDir, "timekeeper.db")
	}
	c.LogDir = filepath.Join(c.DataDir, "logs")
}

// normalize clamps values that would otherwise misbehave at runtime.
func (c *Config) normalize() {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		c.LogLevel = "info"
	}
	if c.PollInterval < MinPollInterval {
		c.PollInterval = MinPollInterval
	}
	if c.NotifyThrottle < 0 {
		c.NotifyThrottle = 0
	}
	if c.RetentionDays < 0 {
		c.RetentionDays = 0
	}
}

// Validate reports configuration that cannot be used.
func (c *Config) Validate() error {
	var errs []error
	if p, err := strconv.Atoi(c.Port); err != nil || p < 1 || p > 65535 {
		errs = append(errs, fmt.Errorf("invalid port %q", c.Port))
	}
	if c.MaintenanceSchedule != "" {
		if _, err := cron.ParseStandard(c.MaintenanceSchedule); err != nil {
			errs = append(errs, fmt.Errorf("invalid maintenance schedule %q: %w", c.MaintenanceSchedule, err))
		}
	}
	return errors.Join(errs...)
}

// EnsureDirs creates the data and log directories.
func (c *Config) EnsureDirs() error {
	for _, dir := range []string{c.DataDir, c.LogDir, filepath.Dir(c.DatabasePath)} {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}

// Get returns the current configuration. Panics if Load() hasn't been called.
func Get() *Config {
	if cfg == nil {
		panic("config.Load() must be called before config.Get()")
	}
	return cfg
}

// SetForTesting sets the global config without calling Load().
func SetForTesting(c *Config) {
	cfg = c
}

// NewTestConfig returns a minimal Config suitable for unit tests.
func NewTestConfig() *Config {
	return &Config{
		Port:                "8080",
		LogLevel:            "debug",
		PollInterval:        DefaultPollInterval,
		RetentionDays:       DefaultRetentionDays,
		MaintenanceSchedule: DefaultMaintenanceSchedule,
		ShutdownTimeout:     time.Second,
		DataDir:             "/tmp/timekeeper-test",
		DatabasePath:        "/tmp/timekeeper-test/timekeeper.db",
		LogDir:              "/tmp/timekeeper-test/logs",
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(EnvPrefix + key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(EnvPrefix + key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(EnvPrefix + key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// getEnvDurationOrDefault accepts Go duration strings like "250ms" or "5m".
func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(EnvPrefix + key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvListOrDefault splits a comma-separated value, dropping empty items.
func getEnvListOrDefault(key string, defaultValue []string) []string {
	value := os.Getenv(EnvPrefix + key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// FlagOverrides holds command-line flag values that can override environment variables
type FlagOverrides struct {
	Port          *string
	LogLevel      *string
	PollInterval  *time.Duration
	RetentionDays *int
	DataDir       *string
	DatabasePath  *string
}

// ApplyFlags applies command-line overrides after Load. Empty strings, zero
// durations and negative retention leave the loaded value alone.
func ApplyFlags(flags FlagOverrides) {
	if cfg == nil {
		return
	}

	if flags.Port != nil && *flags.Port != "" {
		cfg.Port = *flags.Port
	}
	if flags.LogLevel != nil && *flags.LogLevel != "" {
		cfg.LogLevel = strings.ToLower(*flags.LogLevel)
	}
	if flags.PollInterval != nil && *flags.PollInterval != 0 {
		cfg.PollInterval = *flags.PollInterval
	}
	if flags.RetentionDays != nil && *flags.RetentionDays >= 0 {
		cfg.RetentionDays = *flags.RetentionDays
	}
	if flags.DataDir != nil && *flags.DataDir != "" {
		cfg.DataDir = *flags.DataDir
	}
	if flags.DatabasePath != nil && *flags.DatabasePath != "" {
		cfg.DatabasePath = *flags.DatabasePath
		cfg.dbPathExplicit = true
	}
	cfg.resolvePaths()
	cfg.normalize()
}
