// Package sweeper runs the periodic cleanup jobs: deleting expired sessions and persisting
// invitation expiry. Both kinds of expiry are already enforced lazily on every read, so the
// sweeper only keeps the tables small and the stored statuses accurate.
package sweeper

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/gatehouse/pkg/observability"
)

// Job names, used as metric labels.
const (
	JobSessions    = "expired_sessions"
	JobInvitations = "expired_invitations"
)

// jobTimeout bounds a single run.
const jobTimeout = 5 * time.Minute

// SessionCleaner deletes expired sessions.
type SessionCleaner interface {
	CleanupExpiredSessions(ctx context.Context) (int64, error)
}

// InvitationExpirer marks lapsed pending invitations as expired.
type InvitationExpirer interface {
	ExpireInvitations(ctx context.Context) (int64, error)
}

// Config holds the cron schedules of the two jobs.
type Config struct {
	SessionSchedule    string
	InvitationSchedule string
}

// JobFunc does one unit of cleanup and reports how many rows it touched.
type JobFunc func(ctx context.Context) (int64, error)

// Sweeper schedules cleanup jobs on a cron.
type Sweeper struct {
	cron     *cron.Cron
	log      *logrus.Logger
	recorder observability.Recorder
	jobs     map[string]JobFunc
}

// New creates an empty sweeper. log and recorder may be nil.
func New(log *logrus.Logger, recorder observability.Recorder) *Sweeper {
	if log == nil {
		log = logrus.New()
	}
	if recorder == nil {
		recorder = observability.Recorders(nil)
	}
	cronLog := cron.PrintfLogger(log)
	return &Sweeper{
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithLogger(cronLog),
			cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
		),
		log:      log,
		recorder: recorder,
		jobs:     make(map[string]JobFunc),
	}
}

// NewDefault creates a sweeper with the session and invitation jobs registered.
func NewDefault(cfg Config, sessions SessionCleaner, invitations InvitationExpirer, log *logrus.Logger, recorder observability.Recorder) (*Sweeper, error) {
	s := New(log, recorder)
	if err := s.Add(JobSessions, cfg.SessionSchedule, sessions.CleanupExpiredSessions); err != nil {
		return nil, err
	}
	if err := s.Add(JobInvitations, cfg.InvitationSchedule, invitations.ExpireInvitations); err != nil {
		return nil, err
	}
	return s, nil
}

// Add schedules fn under name.
func (s *Sweeper) Add(name, schedule string, fn JobFunc) error {
	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("job %s already registered", name)
	}
	if _, err := s.cron.AddFunc(schedule, func() { s.run(context.Background(), name, fn) }); err != nil {
		return fmt.Errorf("invalid schedule %q for job %s: %w", schedule, name, err)
	}
	s.jobs[name] = fn
	return nil
}

// RunNow runs the named job immediately, outside the schedule.
func (s *Sweeper) RunNow(ctx context.Context, name string) (int64, error) {
	fn, ok := s.jobs[name]
	if !ok {
		return 0, fmt.Errorf("unknown job %s", name)
	}
	return s.run(ctx, name, fn)
}

func (s *Sweeper) run(ctx context.Context, name string, fn JobFunc) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, jobTimeout)
	defer cancel()

	start := time.Now()
	removed, err := fn(ctx)
	s.recorder.SweeperRan(ctx, name, removed, err)

	entry := s.log.WithFields(logrus.Fields{
		"job":      name,
		"removed":  removed,
		"duration": time.Since(start).String(),
	})
	if err != nil {
		entry.WithError(err).Error("sweeper job failed")
		return removed, err
	}
	entry.Info("sweeper job completed")
	return removed, nil
}

// Start starts the scheduler in its own goroutine.
func (s *Sweeper) Start() {
	s.cron.Start()
	s.log.WithField("jobs", len(s.jobs)).Info("sweeper started")
}

// Stop stops scheduling and waits for running jobs until ctx is done.
func (s *Sweeper) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.log.Info("sweeper stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("sweeper stop: %w", ctx.Err())
	}
}
