// Package schedule drives the periodic series reconciliation and calendar
// snapshot sweep from a cron expression.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"campaigncore/internal/recurrence"

	"github.com/robfig/cron/v3"
)

// DefaultSpec runs the sweep every quarter hour.
const DefaultSpec = "*/15 * * * *"

// Sweeper is the work a tick performs. *core.Service satisfies it.
type Sweeper interface {
	ReconcileAll(ctx context.Context) ([]recurrence.Report, error)
	SnapshotCalendars(ctx context.Context) (int, error)
}

// Scheduler owns the cron instance.
type Scheduler struct {
	cron      *cron.Cron
	sweeper   Sweeper
	logger    *slog.Logger
	snapshots bool
	timeout   time.Duration

	ctx    context.Context
	cancel context.CancelFunc
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithCalendarSnapshots also snapshots calendar feeds on every tick.
func WithCalendarSnapshots(enabled bool) Option {
	return func(s *Scheduler) { s.snapshots = enabled }
}

// WithTickTimeout bounds a single tick. Zero means no bound.
func WithTickTimeout(d time.Duration) Option {
	return func(s *Scheduler) { s.timeout = d }
}

// New parses spec (standard five-field cron or a descriptor such as
// "@hourly") and registers the sweep. An empty spec uses DefaultSpec.
func New(spec string, sweeper Sweeper, opts ...Option) (*Scheduler, error) {
	if sweeper == nil {
		return nil, errors.New("schedule: sweeper is required")
	}
	if spec == "" {
		spec = DefaultSpec
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		sweeper: sweeper,
		logger:  slog.New(slog.DiscardHandler),
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	log := cronLogger{s.logger}
	s.cron = cron.New(
		cron.WithLogger(log),
		cron.WithChain(cron.Recover(log), cron.SkipIfStillRunning(log)),
	)
	if _, err := s.cron.AddFunc(spec, s.run); err != nil {
		cancel()
		return nil, fmt.Errorf("schedule: parse %q: %w", spec, err)
	}
	return s, nil
}

// Start begins firing ticks in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started", "next", s.Next())
}

// Stop halts the schedule and waits for a running tick to finish or ctx to
// expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	s.cancel()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Next reports when the sweep fires next. Zero before Start.
func (s *Scheduler) Next() time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

func (s *Scheduler) run() {
	if err := s.Tick(s.ctx); err != nil {
		s.logger.Warn("scheduled sweep finished with errors", "error", err)
	}
}

// Tick performs one sweep. Reconciliation failures do not prevent the
// snapshot pass; both errors are joined.
func (s *Scheduler) Tick(ctx context.Context) error {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	start := time.Now()
	reports, reconcileErr := s.sweeper.ReconcileAll(ctx)
	changed := 0
	for _, r := range reports {
		if r.Changed() {
			changed++
		}
	}
	s.logger.Info("series sweep complete", "repeaters", len(reports), "changed", changed, "duration", time.Since(start))

	var snapshotErr error
	if s.snapshots {
		var written int
		written, snapshotErr = s.sweeper.SnapshotCalendars(ctx)
		s.logger.Debug("calendar snapshots", "written", written)
	}
	return errors.Join(reconcileErr, snapshotErr)
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
