package services

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/mescon/timekeeper/internal/db"
	"github.com/mescon/timekeeper/internal/logger"
)

// Maintainer is the storage housekeeping MaintenanceService drives.
// *db.Repository implements it.
type Maintainer interface {
	RunMaintenance(retentionDays int) (db.MaintenanceResult, error)
}

// MaintenanceRun describes the most recent maintenance pass.
type MaintenanceRun struct {
	StartedAt time.Time            `json:"started_at"`
	Duration  time.Duration        `json:"duration_ns"`
	Result    db.MaintenanceResult `json:"result"`
	Error     string               `json:"error,omitempty"`
}

// MaintenanceService prunes old history and checkpoints the database on a
// cron schedule.
type MaintenanceService struct {
	store         Maintainer
	schedule      string
	retentionDays int

	cron    *cron.Cron
	entryID cron.EntryID

	mu      sync.Mutex
	running bool
	last    *MaintenanceRun
}

// NewMaintenanceService creates the service. An empty schedule disables the
// cron job; RunNow still works.
func NewMaintenanceService(store Maintainer, schedule string, retentionDays int) *MaintenanceService {
	return &MaintenanceService{
		store:         store,
		schedule:      schedule,
		retentionDays: retentionDays,
		cron:          cron.New(),
	}
}

// Start registers the maintenance job and starts the cron runner.
func (m *MaintenanceService) Start() error {
	if m.schedule == "" {
		logger.Infof("Database maintenance schedule disabled")
		return nil
	}

	id, err := m.cron.AddFunc(m.schedule, func() {
		if _, err := m.RunNow(); err != nil {
			logger.Errorf("Scheduled database maintenance failed: %v", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid maintenance schedule %q: %w", m.schedule, err)
	}
	m.entryID = id
	m.cron.Start()
	logger.Infof("Database maintenance scheduled (%s, retention: %d days)", m.schedule, m.retentionDays)
	return nil
}

// Stop stops the cron runner and waits for a running job to finish.
func (m *MaintenanceService) Stop() {
	<-m.cron.Stop().Done()
}

// NextRun reports when the job will next fire. ok is false when no job is
// scheduled.
func (m *MaintenanceService) NextRun() (next time.Time, ok bool) {
	if m.entryID == 0 {
		return time.Time{}, false
	}
	entry := m.cron.Entry(m.entryID)
	if !entry.Valid() || entry.Next.IsZero() {
		return time.Time{}, false
	}
	return entry.Next, true
}

// RunNow performs a maintenance pass immediately. Overlapping calls are
// skipped rather than queued.
func (m *MaintenanceService) RunNow() (db.MaintenanceResult, error) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return db.MaintenanceResult{}, fmt.Errorf("maintenance already running")
	}
	m.running = true
	m.mu.Unlock()

	started := time.Now()
	logger.Infof("Running database maintenance...")
	result, err := m.store.RunMaintenance(m.retentionDays)

	run := &MaintenanceRun{StartedAt: started.UTC(), Duration: time.Since(started), Result: result}
	if err != nil {
		run.Error = err.Error()
	} else {
		logger.Infof("Database maintenance complete: %d events and %d sessions pruned in %v",
			result.EventsPruned, result.SessionsPruned, run.Duration.Round(time.Millisecond))
	}

	m.mu.Lock()
	m.running = false
	m.last = run
	m.mu.Unlock()
	return result, err
}

// LastRun returns the most recent pass, or nil if none has run.
func (m *MaintenanceService) LastRun() *MaintenanceRun {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.last == nil {
		return nil
	}
	run := *m.last
	return &run
}
