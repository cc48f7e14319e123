package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// =============================================================================
// Helper functions tests
// =============================================================================

func TestGetEnvOrDefault(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		envValue     string
		defaultValue string
		expected     string
	}{
		{"env set", "TEST_STR", "custom", "default", "custom"},
		{"env not set", "TEST_STR_UNSET", "", "default", "default"},
		{"empty default", "TEST_STR_EMPTY", "", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				t.Setenv(EnvPrefix+tt.key, tt.envValue)
			}
			if got := getEnvOrDefault(tt.key, tt.defaultValue); got != tt.expected {
				t.Errorf("getEnvOrDefault() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestGetEnvIntOrDefault(t *testing.T) {
	tests := []struct {
		name     string
		envValue string
		expected int
	}{
		{"valid", "42", 42},
		{"negative", "-3", -3},
		{"invalid falls back", "forty", 7},
		{"unset", "", 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				t.Setenv(EnvPrefix+"TEST_INT", tt.envValue)
			}
			if got := getEnvIntOrDefault("TEST_INT", 7); got != tt.expected {
				t.Errorf("getEnvIntOrDefault() = %d, want %d", got, tt.expected)
			}
		})
	}
}

func TestGetEnvBoolOrDefault(t *testing.T) {
	tests := []struct {
		name     string
		envValue string
		def      bool
		expected bool
	}{
		{"true", "true", false, true},
		{"one", "1", false, true},
		{"false", "false", true, false},
		{"invalid falls back", "yes please", true, true},
		{"unset", "", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				t.Setenv(EnvPrefix+"TEST_BOOL", tt.envValue)
			}
			if got := getEnvBoolOrDefault("TEST_BOOL", tt.def); got != tt.expected {
				t.Errorf("getEnvBoolOrDefault() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestGetEnvDurationOrDefault(t *testing.T) {
	tests := []struct {
		name     string
		envValue string
		expected time.Duration
	}{
		{"milliseconds", "250ms", 250 * time.Millisecond},
		{"minutes", "5m", 5 * time.Minute},
		{"bare number is invalid", "100", time.Second},
		{"unset", "", time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				t.Setenv(EnvPrefix+"TEST_DUR", tt.envValue)
			}
			if got := getEnvDurationOrDefault("TEST_DUR", time.Second); got != tt.expected {
				t.Errorf("getEnvDurationOrDefault() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestGetEnvListOrDefault(t *testing.T) {
	t.Setenv(EnvPrefix+"TEST_LIST", " ntfy://a/topic , ,discord://tok@chan,")

	got := getEnvListOrDefault("TEST_LIST", nil)
	want := []string{"ntfy://a/topic", "discord://tok@chan"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("item %d = %q, want %q", i, got[i], want[i])
		}
	}

	if got := getEnvListOrDefault("TEST_LIST_UNSET", []string{"x"}); len(got) != 1 || got[0] != "x" {
		t.Errorf("unset list should return default, got %v", got)
	}
}

// =============================================================================
// Global accessors
// =============================================================================

func TestGet_PanicsWhenNotLoaded(t *testing.T) {
	original := cfg
	cfg = nil
	defer func() { cfg = original }()

	defer func() {
		if r := recover(); r == nil {
			t.Error("Get() should panic when config is not loaded")
		}
	}()
	Get()
}

func TestSetForTesting(t *testing.T) {
	original := cfg
	defer func() { cfg = original }()

	c := NewTestConfig()
	SetForTesting(c)
	if Get() != c {
		t.Error("Get() should return the config passed to SetForTesting")
	}
}

// =============================================================================
// Load
// =============================================================================

func TestLoad_Defaults(t *testing.T) {
	original := cfg
	defer func() { cfg = original }()
	t.Setenv(EnvPrefix+"DATA_DIR", t.TempDir())

	c := Load()

	if c.Port != DefaultPort {
		t.Errorf("Port = %q, want %q", c.Port, DefaultPort)
	}
	if c.PollInterval != DefaultPollInterval {
		t.Errorf("PollInterval = %v, want %v", c.PollInterval, DefaultPollInterval)
	}
	if c.RetentionDays != DefaultRetentionDays {
		t.Errorf("RetentionDays = %d", c.RetentionDays)
	}
	if c.MaintenanceSchedule != DefaultMaintenanceSchedule {
		t.Errorf("MaintenanceSchedule = %q", c.MaintenanceSchedule)
	}
	if c.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", c.LogLevel)
	}
	if c.DatabasePath != filepath.Join(c.DataDir, "timekeeper.db") {
		t.Errorf("DatabasePath = %q", c.DatabasePath)
	}
	if c.LogDir != filepath.Join(c.DataDir, "logs") {
		t.Errorf("LogDir = %q", c.LogDir)
	}
	if len(c.NotifyURLs) != 0 || c.APIKey != "" {
		t.Error("notifications and auth should be off by default")
	}
	if err := c.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoad_CustomEnvVars(t *testing.T) {
	original := cfg
	defer func() { cfg = original }()
	dir := t.TempDir()

	t.Setenv(EnvPrefix+"PORT", "4000")
	t.Setenv(EnvPrefix+"LOG_LEVEL", "DEBUG")
	t.Setenv(EnvPrefix+"POLL_INTERVAL", "250ms")
	t.Setenv(EnvPrefix+"RETENTION_DAYS", "7")
	t.Setenv(EnvPrefix+"MAINTENANCE_SCHEDULE", "*/15 * * * *")
	t.Setenv(EnvPrefix+"NOTIFY_URLS", "ntfy://ntfy.sh/tea")
	t.Setenv(EnvPrefix+"API_KEY", "secret")
	t.Setenv(EnvPrefix+"CORS_ORIGIN", "http://localhost:5173")
	t.Setenv(EnvPrefix+"WS_STREAM_LOGS", "true")
	t.Setenv(EnvPrefix+"NOTIFY_THROTTLE", "2m")
	t.Setenv(EnvPrefix+"DATA_DIR", dir)
	t.Setenv(EnvPrefix+"DATABASE_PATH", filepath.Join(dir, "custom.db"))

	c := Load()

	if c.Port != "4000" || c.LogLevel != "debug" || c.PollInterval != 250*time.Millisecond {
		t.Errorf("unexpected basics %+v", c)
	}
	if c.RetentionDays != 7 || c.MaintenanceSchedule != "*/15 * * * *" {
		t.Errorf("unexpected maintenance settings %+v", c)
	}
	if len(c.NotifyURLs) != 1 || c.APIKey != "secret" || c.CORSOrigin != "http://localhost:5173" {
		t.Errorf("unexpected integrations %+v", c)
	}
	if !c.WSStreamLogs {
		t.Error("WSStreamLogs should be enabled")
	}
	if c.NotifyThrottle != 2*time.Minute {
		t.Errorf("NotifyThrottle = %v, want 2m", c.NotifyThrottle)
	}
	if c.DatabasePath != filepath.Join(dir, "custom.db") {
		t.Errorf("DatabasePath = %q", c.DatabasePath)
	}
}

func TestLoad_Normalization(t *testing.T) {
	original := cfg
	defer func() { cfg = original }()
	t.Setenv(EnvPrefix+"DATA_DIR", t.TempDir())
	t.Setenv(EnvPrefix+"LOG_LEVEL", "chatty")
	t.Setenv(EnvPrefix+"POLL_INTERVAL", "1ms")
	t.Setenv(EnvPrefix+"RETENTION_DAYS", "-5")

	c := Load()

	if c.LogLevel != "info" {
		t.Errorf("invalid log level should fall back to info, got %q", c.LogLevel)
	}
	if c.PollInterval != MinPollInterval {
		t.Errorf("PollInterval should clamp to %v, got %v", MinPollInterval, c.PollInterval)
	}
	if c.RetentionDays != 0 {
		t.Errorf("negative retention should clamp to 0, got %d", c.RetentionDays)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"test config", func(*Config) {}, false},
		{"port not numeric", func(c *Config) { c.Port = "http" }, true},
		{"port out of range", func(c *Config) { c.Port = "70000" }, true},
		{"bad cron", func(c *Config) { c.MaintenanceSchedule = "every day" }, true},
		{"empty cron disables maintenance", func(c *Config) { c.MaintenanceSchedule = "" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewTestConfig()
			tt.mutate(c)
			if err := c.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestEnsureDirs(t *testing.T) {
	root := t.TempDir()
	c := NewTestConfig()
	c.DataDir = filepath.Join(root, "data")
	c.LogDir = filepath.Join(c.DataDir, "logs")
	c.DatabasePath = filepath.Join(root, "db", "tk.db")

	if err := c.EnsureDirs(); err != nil {
		t.Fatalf("EnsureDirs failed: %v", err)
	}
	for _, dir := range []string{c.DataDir, c.LogDir, filepath.Dir(c.DatabasePath)} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Errorf("%s should exist", dir)
		}
	}
}

// =============================================================================
// ApplyFlags
// =============================================================================

func TestApplyFlags_NilConfig(t *testing.T) {
	original := cfg
	cfg = nil
	defer func() { cfg = original }()

	port := "9999"
	ApplyFlags(FlagOverrides{Port: &port}) // must not panic
}

func TestApplyFlags_Overrides(t *testing.T) {
	original := cfg
	defer func() { cfg = original }()
	SetForTesting(NewTestConfig())

	port := "9000"
	level := "WARN"
	poll := 50 * time.Millisecond
	retention := 0
	dataDir := "/srv/timekeeper"

	ApplyFlags(FlagOverrides{
		Port:          &port,
		LogLevel:      &level,
		PollInterval:  &poll,
		RetentionDays: &retention,
		DataDir:       &dataDir,
	})

	c := Get()
	if c.Port != "9000" || c.LogLevel != "warn" || c.PollInterval != poll {
		t.Errorf("unexpected basics %+v", c)
	}
	if c.RetentionDays != 0 {
		t.Errorf("explicit zero retention should apply, got %d", c.RetentionDays)
	}
	if c.DatabasePath != filepath.Join(dataDir, "timekeeper.db") {
		t.Errorf("derived DatabasePath should follow DataDir, got %q", c.DatabasePath)
	}
}

func TestApplyFlags_UnsetValuesIgnored(t *testing.T) {
	original := cfg
	defer func() { cfg = original }()
	SetForTesting(NewTestConfig())

	empty := ""
	zero := time.Duration(0)
	unsetRetention := -1

	ApplyFlags(FlagOverrides{Port: &empty, LogLevel: &empty, PollInterval: &zero, RetentionDays: &unsetRetention})

	c := Get()
	if c.Port != "8080" || c.LogLevel != "debug" || c.PollInterval != DefaultPollInterval || c.RetentionDays != DefaultRetentionDays {
		t.Errorf("unset flags should not override, got %+v", c)
	}
}

func TestApplyFlags_ExplicitDatabasePathSurvivesDataDir(t *testing.T) {
	original := cfg
	defer func() { cfg = original }()
	SetForTesting(NewTestConfig())

	dbPath := "/var/lib/tk/state.db"
	dataDir := "/srv/other"
	ApplyFlags(FlagOverrides{DatabasePath: &dbPath, DataDir: &dataDir})

	if Get().DatabasePath != dbPath {
		t.Errorf("DatabasePath = %q, want %q", Get().DatabasePath, dbPath)
	}
}
