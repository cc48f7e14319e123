package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mescon/timekeeper/internal/api"
	"github.com/mescon/timekeeper/internal/auth"
	"github.com/mescon/timekeeper/internal/clock"
	"github.com/mescon/timekeeper/internal/config"
	"github.com/mescon/timekeeper/internal/db"
	"github.com/mescon/timekeeper/internal/eventbus"
	"github.com/mescon/timekeeper/internal/logger"
	"github.com/mescon/timekeeper/internal/metrics"
	"github.com/mescon/timekeeper/internal/notifier"
	"github.com/mescon/timekeeper/internal/scheduler"
	"github.com/mescon/timekeeper/internal/services"
)

func main() {
	// Command line flags override environment variables
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.BoolVar(showVersion, "v", false, "Print version and exit (shorthand)")
	generateKey := flag.Bool("generate-key", false, "Print a new API key and its bcrypt hash, then exit")

	flagPort := flag.String("port", "", "HTTP server port (env: TIMEKEEPER_PORT, default: 3095)")
	flagLogLevel := flag.String("log-level", "", "Log level: debug, info, warn, error (env: TIMEKEEPER_LOG_LEVEL, default: info)")
	flagPollInterval := flag.Duration("poll-interval", 0, "Session sampling interval (env: TIMEKEEPER_POLL_INTERVAL, default: 100ms)")
	flagDataDir := flag.String("data-dir", "", "Data directory path (env: TIMEKEEPER_DATA_DIR)")
	flagDatabasePath := flag.String("database-path", "", "Database file path (env: TIMEKEEPER_DATABASE_PATH)")
	flagRetentionDays := flag.Int("retention-days", -1, "Days to keep deleted session history, 0 to disable pruning (env: TIMEKEEPER_RETENTION_DAYS, default: 30)")

	flag.Parse()

	if *showVersion {
		fmt.Printf("Timekeeper %s\n", config.Version)
		os.Exit(0)
	}
	if *generateKey {
		if err := printNewKey(); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to generate key: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	config.Load()
	config.ApplyFlags(config.FlagOverrides{
		Port:          flagPort,
		LogLevel:      flagLogLevel,
		PollInterval:  flagPollInterval,
		RetentionDays: flagRetentionDays,
		DataDir:       flagDataDir,
		DatabasePath:  flagDatabasePath,
	})
	cfg := config.Get()

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.EnsureDirs(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to prepare data directory: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(cfg.LogDir); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open log file, logging to stdout only: %v\n", err)
	}
	defer logger.Close()
	logger.SetLevel(cfg.LogLevel)

	logger.Infof("Starting Timekeeper %s...", config.Version)
	logger.Infof("Configuration:")
	logger.Infof("  Port: %s", cfg.Port)
	logger.Infof("  Log Level: %s", cfg.LogLevel)
	logger.Infof("  Poll Interval: %s", cfg.PollInterval)
	logger.Infof("  Data Directory: %s", cfg.DataDir)
	logger.Infof("  Database: %s", cfg.DatabasePath)
	if cfg.RetentionDays > 0 {
		logger.Infof("  Data Retention: %d days", cfg.RetentionDays)
	} else {
		logger.Infof("  Data Retention: disabled (no automatic pruning)")
	}

	repo, err := db.NewRepository(cfg.DatabasePath)
	if err != nil {
		logger.Errorf("Failed to initialize database: %v", err)
		os.Exit(1)
	}
	logger.Infof("✓ Database initialized")

	eb := eventbus.NewEventBus(repo.DB)

	// Every session engine is driven from this one goroutine.
	realClock := clock.NewRealClock()
	loop := scheduler.New(realClock)
	loopCtx, stopLoop := context.WithCancel(context.Background())
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		_ = loop.Run(loopCtx)
	}()

	sessions := services.NewSessionService(loop, realClock, repo, eb, cfg.PollInterval)
	startCtx, cancelStart := context.WithTimeout(context.Background(), 30*time.Second)
	restored, err := sessions.Restore(startCtx)
	cancelStart()
	if err != nil {
		logger.Errorf("Failed to restore sessions: %v", err)
		os.Exit(1)
	}
	logger.Infof("✓ Restored %d sessions", restored)

	metricsService := metrics.NewMetricsService(eb, nil)
	if snaps, err := sessions.List(context.Background()); err == nil {
		ids := make([]string, len(snaps))
		for i, snap := range snaps {
			ids[i] = snap.ID
		}
		metricsService.SeedSessions(ids)
	}
	metricsService.Start()

	urls, err := notifier.PrepareURLs(cfg.NotifyURLs)
	if err != nil {
		logger.Errorf("Invalid notification configuration: %v", err)
		os.Exit(1)
	}
	notifierService := notifier.NewNotifier(eb, notifier.ShoutrrrSender{}, urls)
	notifierService.SetThrottle(cfg.NotifyThrottle)
	notifierService.Start()

	maintenance := services.NewMaintenanceService(repo, cfg.MaintenanceSchedule, cfg.RetentionDays)
	if err := maintenance.Start(); err != nil {
		logger.Errorf("Failed to start maintenance: %v", err)
		os.Exit(1)
	}

	var verifier *auth.Verifier
	if cfg.APIKey != "" {
		verifier, err = newVerifier(cfg.APIKey)
		if err != nil {
			logger.Errorf("Invalid API key configuration: %v", err)
			os.Exit(1)
		}
		logger.Infof("✓ API key authentication enabled")
	} else {
		logger.Warnf("No API key configured: the API is open to anyone who can reach it")
	}

	apiServer := api.NewRESTServer(api.ServerDeps{
		Sessions:    sessions,
		Store:       repo,
		Events:      eb,
		Metrics:     metricsService.Handler(),
		Maintenance: maintenance,
		Verifier:    verifier,
		CORSOrigin:  cfg.CORSOrigin,
		StreamLogs:  cfg.WSStreamLogs,
	})
	go func() {
		if err := apiServer.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("Failed to start API server: %v", err)
			os.Exit(1)
		}
	}()

	logger.Infof("✓ Timekeeper %s listening on port %s", config.Version, cfg.Port)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	logger.Infof("Received signal %v, initiating graceful shutdown...", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	// Stop taking requests first, then the producers, then the bus and
	// finally storage.
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("API Server shutdown error: %v", err)
	}
	maintenance.Stop()
	notifierService.Stop()

	stopLoop()
	<-loopDone
	sessions.Close()
	logger.Infof("✓ Session loop stopped")

	eb.Shutdown()

	if err := repo.GracefulClose(); err != nil {
		logger.Errorf("Failed to close database: %v", err)
	}
	logger.Infof("✓ Timekeeper shutdown complete")
}

// newVerifier accepts either a plain key or a bcrypt hash of one.
func newVerifier(key string) (*auth.Verifier, error) {
	if strings.HasPrefix(key, "$2") {
		return auth.NewVerifier(key)
	}
	return auth.NewVerifierForKey(key)
}

func printNewKey() error {
	key, err := auth.GenerateAPIKey()
	if err != nil {
		return err
	}
	hash, err := auth.HashAPIKey(key)
	if err != nil {
		return err
	}
	fmt.Printf("API key:  %s\n", key)
	fmt.Printf("Hash:     %s\n", hash)
	fmt.Printf("\nSet %sAPI_KEY to either value. Clients always send the key.\n", config.EnvPrefix)
	return nil
}
