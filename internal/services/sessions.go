package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mescon/timekeeper/internal/clock"
	"github.com/mescon/timekeeper/internal/countdown"
	"github.com/mescon/timekeeper/internal/db"
	"github.com/mescon/timekeeper/internal/domain"
	"github.com/mescon/timekeeper/internal/eventbus"
	"github.com/mescon/timekeeper/internal/format"
	"github.com/mescon/timekeeper/internal/logger"
	"github.com/mescon/timekeeper/internal/scheduler"
	"github.com/mescon/timekeeper/internal/stopwatch"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrInvalidKind     = errors.New("invalid session kind")
	ErrNameRequired    = errors.New("session name is required")
	ErrNameTooLong     = errors.New("session name too long")
)

// MaxNameLength bounds session names.
const MaxNameLength = 100

// SessionStore is the persistence SessionService needs. *db.Repository
// implements it.
type SessionStore interface {
	InsertSession(rec db.SessionRecord) error
	UpdateSessionDuration(id string, d time.Duration) error
	MarkSessionDeleted(id string, at time.Time) error
	ListSessions() ([]db.SessionRecord, error)
}

// Snapshot is a point-in-time view of one session.
type Snapshot struct {
	ID      string             `json:"id"`
	Name    string             `json:"name"`
	Kind    domain.SessionKind `json:"kind"`
	Phase   string             `json:"phase"`
	Display string             `json:"display"`
	// ValueMS is elapsed time for stopwatches and remaining time for countdowns.
	ValueMS    int64     `json:"value_ms"`
	DurationMS int64     `json:"duration_ms,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// session owns exactly one engine. Fields are touched only on the loop.
type session struct {
	id        string
	name      string
	kind      domain.SessionKind
	createdAt time.Time

	sw *stopwatch.Stopwatch
	cd *countdown.Countdown

	poll scheduler.Handle
}

// SessionService owns the named timing sessions. Every engine call happens in
// a loop task, so engines are never shared between goroutines. Loop tasks
// never touch the database: writes and persisted events go through the
// journal in loop order, and commands wait for their own writes off the loop.
type SessionService struct {
	loop         *scheduler.Loop
	clock        clock.TimeSource
	store        SessionStore
	eventBus     eventbus.Publisher
	journal      *journal
	pollInterval time.Duration

	sessions map[string]*session // loop-owned
}

// NewSessionService creates the service. The loop must be driven by Run (or
// RunPending in tests) for any method to complete.
func NewSessionService(loop *scheduler.Loop, src clock.TimeSource, store SessionStore, eb eventbus.Publisher, pollInterval time.Duration) *SessionService {
	return &SessionService{
		loop:         loop,
		clock:        src,
		store:        store,
		eventBus:     eb,
		journal:      newJournal(),
		pollInterval: pollInterval,
		sessions:     make(map[string]*session),
	}
}

// Close applies pending writes and stops the journal. Call it after the loop
// has stopped and before the event bus shuts down.
func (s *SessionService) Close() {
	s.journal.close()
}

// Flush waits until every loop task queued so far has run and the writes
// those tasks queued have been applied.
func (s *SessionService) Flush(ctx context.Context) error {
	var applied <-chan struct{}
	if err := s.loop.Do(ctx, func() { applied = s.journal.mark() }); err != nil {
		return err
	}
	return awaitJournal(ctx, applied)
}

// Restore recreates every stored session in Idle with its configured
// duration. Running state does not survive a restart.
func (s *SessionService) Restore(ctx context.Context) (int, error) {
	records, err := s.store.ListSessions()
	if err != nil {
		return 0, err
	}

	restored := 0
	err = s.loop.Do(ctx, func() {
		for _, rec := range records {
			if !rec.Kind.Valid() {
				logger.Warnf("Skipping stored session %s with unknown kind %q", rec.ID, rec.Kind)
				continue
			}
			sess := s.newSession(rec.ID, rec.Name, rec.Kind, rec.CreatedAt)
			if rec.Kind == domain.KindCountdown && rec.Duration > 0 {
				if err := sess.cd.Configure(rec.Duration); err != nil {
					logger.Warnf("Stored session %s has unusable duration %v", rec.ID, rec.Duration)
				}
			}
			s.sessions[rec.ID] = sess
			restored++
		}
	})
	if err != nil {
		return 0, err
	}
	logger.Infof("Restored %d sessions", restored)
	return restored, nil
}

// Create adds a session of the given kind. duration applies to countdowns and
// may be zero to leave the countdown unconfigured.
func (s *SessionService) Create(ctx context.Context, name string, kind domain.SessionKind, duration time.Duration) (Snapshot, error) {
	switch kind {
	case domain.KindStopwatch:
		return s.CreateStopwatch(ctx, name)
	case domain.KindCountdown:
		return s.CreateCountdown(ctx, name, duration)
	default:
		return Snapshot{}, fmt.Errorf("%w: %q", ErrInvalidKind, kind)
	}
}

// CreateStopwatch adds an Idle stopwatch session.
func (s *SessionService) CreateStopwatch(ctx context.Context, name string) (Snapshot, error) {
	return s.create(ctx, name, domain.KindStopwatch, 0)
}

// CreateCountdown adds an Idle countdown session configured with d. A zero d
// leaves it unconfigured; negative durations are rejected.
func (s *SessionService) CreateCountdown(ctx context.Context, name string, d time.Duration) (Snapshot, error) {
	if d < 0 {
		return Snapshot{}, countdown.ErrInvalidDuration
	}
	return s.create(ctx, name, domain.KindCountdown, d)
}

func (s *SessionService) create(ctx context.Context, name string, kind domain.SessionKind, d time.Duration) (Snapshot, error) {
	name, err := normalizeName(name)
	if err != nil {
		return Snapshot{}, err
	}

	rec := db.SessionRecord{
		ID:        uuid.NewString(),
		Name:      name,
		Kind:      kind,
		Duration:  d,
		CreatedAt: s.clock.Now().UTC().Truncate(time.Millisecond),
	}

	// The row is written before the session exists on the loop, and removed
	// again if the loop never takes it.
	if err := s.store.InsertSession(rec); err != nil {
		return Snapshot{}, err
	}

	var (
		snap    Snapshot
		applied <-chan struct{}
	)
	err = s.loop.Do(ctx, func() {
		sess := s.newSession(rec.ID, rec.Name, rec.Kind, rec.CreatedAt)
		if kind == domain.KindCountdown && d > 0 {
			// d > 0 was checked by the caller; Configure cannot fail here.
			_ = sess.cd.Configure(d)
		}
		s.sessions[sess.id] = sess

		snap = s.snapshot(sess)
		data := s.eventData(sess, snap)
		data[domain.KeyName] = sess.name
		s.publish(domain.NewSessionEvent(sess.id, domain.SessionCreated, data))
		applied = s.journal.mark()
	})
	if err != nil {
		if applied == nil {
			if rbErr := s.store.MarkSessionDeleted(rec.ID, s.clock.Now().UTC()); rbErr != nil {
				logger.Errorf("Failed to roll back session %s: %v", rec.ID, rbErr)
			}
		}
		return Snapshot{}, err
	}
	if err := awaitJournal(ctx, applied); err != nil {
		return Snapshot{}, err
	}
	logger.Infof("Created %s session %q (%s)", kind, name, rec.ID)
	return snap, nil
}

// Get returns the current snapshot of a session.
func (s *SessionService) Get(ctx context.Context, id string) (Snapshot, error) {
	return s.readSession(ctx, id, func(sess *session) (Snapshot, error) {
		return s.snapshot(sess), nil
	})
}

// List returns every session, oldest first.
func (s *SessionService) List(ctx context.Context) ([]Snapshot, error) {
	var out []Snapshot
	err := s.loop.Do(ctx, func() {
		out = make([]Snapshot, 0, len(s.sessions))
		for _, sess := range s.sessions {
			out = append(out, s.snapshot(sess))
		}
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Start starts or resumes a session and arms its poll. Starting a running
// session changes nothing. A countdown with nothing left to count returns
// countdown.ErrInvalidDuration.
func (s *SessionService) Start(ctx context.Context, id string) (Snapshot, error) {
	return s.command(ctx, id, domain.SessionStarted, func(sess *session) error {
		if sess.kind == domain.KindCountdown {
			if err := sess.cd.Start(); err != nil {
				return err
			}
		} else {
			sess.sw.Start()
		}
		s.armPoll(sess)
		return nil
	})
}

// Stop pauses a running session. A countdown stopped exactly at zero expires
// and CountdownExpired is published.
func (s *SessionService) Stop(ctx context.Context, id string) (Snapshot, error) {
	return s.command(ctx, id, domain.SessionStopped, func(sess *session) error {
		var deadline time.Time
		if sess.kind == domain.KindCountdown {
			deadline, _ = sess.cd.Deadline()
			sess.cd.Stop()
		} else {
			sess.sw.Stop()
		}
		s.cancelPoll(sess)
		if sess.kind == domain.KindCountdown && sess.cd.Poll() {
			s.expire(sess, deadline)
		}
		return nil
	})
}

// Reset returns a session to Idle.
func (s *SessionService) Reset(ctx context.Context, id string) (Snapshot, error) {
	return s.command(ctx, id, domain.SessionReset, func(sess *session) error {
		s.cancelPoll(sess)
		if sess.kind == domain.KindCountdown {
			sess.cd.Reset()
		} else {
			sess.sw.Reset()
		}
		return nil
	})
}

// Configure sets a countdown's duration. It applies only while the countdown
// is Idle or Expired; otherwise the snapshot is returned unchanged.
func (s *SessionService) Configure(ctx context.Context, id string, d time.Duration) (Snapshot, error) {
	return s.withSession(ctx, id, func(sess *session) (Snapshot, error) {
		if sess.kind != domain.KindCountdown {
			return Snapshot{}, fmt.Errorf("%w: only countdowns have a duration", ErrInvalidKind)
		}
		before := sess.cd.Configured()
		phaseBefore := sess.cd.Phase()
		if err := sess.cd.Configure(d); err != nil {
			return Snapshot{}, err
		}
		snap := s.snapshot(sess)
		if sess.cd.Configured() == before && sess.cd.Phase() == phaseBefore {
			return snap, nil
		}
		id := sess.id
		s.journal.submit(func() {
			if err := s.store.UpdateSessionDuration(id, d); err != nil {
				logger.Errorf("Failed to persist duration of session %s: %v", id, err)
			}
		})
		s.publish(domain.NewSessionEvent(sess.id, domain.CountdownConfigured, s.eventData(sess, snap)))
		return snap, nil
	})
}

// Delete removes a session and cancels its poll.
func (s *SessionService) Delete(ctx context.Context, id string) error {
	_, err := s.withSession(ctx, id, func(sess *session) (Snapshot, error) {
		s.cancelPoll(sess)
		delete(s.sessions, sess.id)
		id, at := sess.id, s.clock.Now().UTC()
		s.journal.submit(func() {
			if err := s.store.MarkSessionDeleted(id, at); err != nil && !errors.Is(err, db.ErrNotFound) {
				logger.Errorf("Failed to mark session %s deleted: %v", id, err)
			}
		})
		s.publish(domain.NewSessionEvent(sess.id, domain.SessionDeleted, map[string]interface{}{
			domain.KeyName: sess.name,
			domain.KeyKind: string(sess.kind),
		}))
		return Snapshot{}, nil
	})
	if err == nil {
		logger.Infof("Deleted session %s", id)
	}
	return err
}

// command runs op against a session and publishes eventType when the phase
// changed. Commands issued in a phase they do not apply to return the
// unchanged snapshot.
func (s *SessionService) command(ctx context.Context, id string, eventType domain.EventType, op func(*session) error) (Snapshot, error) {
	return s.withSession(ctx, id, func(sess *session) (Snapshot, error) {
		before := sess.phase()
		if err := op(sess); err != nil {
			return s.snapshot(sess), err
		}
		snap := s.snapshot(sess)
		if snap.Phase != before {
			s.publish(domain.NewSessionEvent(sess.id, eventType, s.eventData(sess, snap)))
		}
		return snap, nil
	})
}

// withSession looks up id, runs fn on the loop, and then waits until the
// writes fn queued have been applied.
func (s *SessionService) withSession(ctx context.Context, id string, fn func(*session) (Snapshot, error)) (Snapshot, error) {
	return s.onSession(ctx, id, true, fn)
}

// readSession is withSession for queries that write nothing.
func (s *SessionService) readSession(ctx context.Context, id string, fn func(*session) (Snapshot, error)) (Snapshot, error) {
	return s.onSession(ctx, id, false, fn)
}

func (s *SessionService) onSession(ctx context.Context, id string, wait bool, fn func(*session) (Snapshot, error)) (Snapshot, error) {
	var (
		snap    Snapshot
		taskErr error
		applied <-chan struct{}
	)
	err := s.loop.Do(ctx, func() {
		sess, ok := s.sessions[id]
		if !ok {
			taskErr = ErrSessionNotFound
			return
		}
		snap, taskErr = fn(sess)
		if wait {
			applied = s.journal.mark()
		}
	})
	if err != nil {
		return Snapshot{}, err
	}
	if err := awaitJournal(ctx, applied); err != nil {
		return Snapshot{}, err
	}
	return snap, taskErr
}

// awaitJournal waits for a journal mark. A nil mark means nothing to wait for.
func awaitJournal(ctx context.Context, applied <-chan struct{}) error {
	if applied == nil {
		return nil
	}
	select {
	case <-applied:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// armPoll (re)starts the periodic sampling of a running session.
func (s *SessionService) armPoll(sess *session) {
	if sess.poll != 0 {
		return
	}
	sess.poll = s.loop.Schedule(s.pollInterval, func() { s.sample(sess) })
}

func (s *SessionService) cancelPoll(sess *session) {
	s.loop.Cancel(sess.poll)
	sess.poll = 0
}

// sample is the poll callback. It broadcasts a tick and, for countdowns,
// detects expiry.
func (s *SessionService) sample(sess *session) {
	if sess.kind == domain.KindCountdown {
		deadline, _ := sess.cd.Deadline()
		if sess.cd.Poll() {
			s.cancelPoll(sess)
			s.tick(sess)
			s.expire(sess, deadline)
			return
		}
	}
	s.tick(sess)
}

func (s *SessionService) tick(sess *session) {
	snap := s.snapshot(sess)
	s.eventBus.Broadcast(domain.NewSessionEvent(sess.id, domain.SessionTick, s.eventData(sess, snap)))
}

// expire publishes CountdownExpired. deadline is the target of the run that
// just ended; the delay between it and now is the detection lateness.
func (s *SessionService) expire(sess *session, deadline time.Time) {
	var lateness time.Duration
	if !deadline.IsZero() {
		lateness = clock.Since(s.clock, deadline)
	}
	logger.Infof("Countdown %q (%s) expired, detected %v late", sess.name, sess.id, lateness)

	data := s.eventData(sess, s.snapshot(sess))
	data[domain.KeyName] = sess.name
	data[domain.KeyDurationMS] = domain.Millis(sess.cd.Configured())
	data[domain.KeyLatenessMS] = domain.Millis(lateness)
	s.publish(domain.NewSessionEvent(sess.id, domain.CountdownExpired, data))
}

// publish hands a lifecycle event to the journal, which persists and
// delivers it in loop order.
func (s *SessionService) publish(e domain.Event) {
	s.journal.submit(func() {
		if err := s.eventBus.Publish(e); err != nil {
			logger.Errorf("Failed to publish %s for session %s: %v", e.EventType, e.AggregateID, err)
		}
	})
}

func (s *SessionService) newSession(id, name string, kind domain.SessionKind, createdAt time.Time) *session {
	sess := &session{id: id, name: name, kind: kind, createdAt: createdAt}
	if kind == domain.KindCountdown {
		sess.cd = countdown.New(s.clock)
	} else {
		sess.sw = stopwatch.New(s.clock)
	}
	return sess
}

func (s *SessionService) snapshot(sess *session) Snapshot {
	snap := Snapshot{
		ID:        sess.id,
		Name:      sess.name,
		Kind:      sess.kind,
		Phase:     sess.phase(),
		CreatedAt: sess.createdAt,
	}
	if sess.kind == domain.KindCountdown {
		remaining := sess.cd.Remaining()
		snap.Display = format.Countdown(remaining)
		snap.ValueMS = domain.Millis(remaining)
		snap.DurationMS = domain.Millis(sess.cd.Configured())
	} else {
		elapsed := sess.sw.Elapsed()
		snap.Display = format.Stopwatch(elapsed)
		snap.ValueMS = domain.Millis(elapsed)
	}
	return snap
}

func (s *SessionService) eventData(sess *session, snap Snapshot) map[string]interface{} {
	data := map[string]interface{}{
		domain.KeyKind:    string(sess.kind),
		domain.KeyPhase:   snap.Phase,
		domain.KeyDisplay: snap.Display,
	}
	if sess.kind == domain.KindCountdown {
		data[domain.KeyRemainingMS] = snap.ValueMS
		data[domain.KeyDurationMS] = snap.DurationMS
	} else {
		data[domain.KeyElapsedMS] = snap.ValueMS
	}
	return data
}

func (sess *session) phase() string {
	if sess.kind == domain.KindCountdown {
		return sess.cd.Phase().String()
	}
	return sess.sw.Phase().String()
}

func normalizeName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrNameRequired
	}
	if len(name) > MaxNameLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrNameTooLong, MaxNameLength)
	}
	return name, nil
}
