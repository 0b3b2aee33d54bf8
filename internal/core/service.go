package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"campaigncore/internal/access"
	"campaigncore/internal/batch"
	"campaigncore/internal/blob"
	"campaigncore/internal/calendar"
	"campaigncore/internal/infra/persistence/memory"
	"campaigncore/internal/publish"
	"campaigncore/internal/recurrence"
	"campaigncore/pkg/domain"
)

// Clock provides the service's notion of the current instant.
type Clock = domain.Clock

// ClockFunc adapts a function to Clock.
type ClockFunc = domain.ClockFunc

// Service exposes the campaign hierarchy operations with access checks and
// the audit, metrics, tracing and logging contract applied to every call.
type Service struct {
	store      PersistentStore
	engine     *RulesEngine
	runner     *batch.Runner
	reconciler *recurrence.Reconciler
	cascader   *publish.Cascader
	feed       *calendar.Feed
	blobs      blob.Store
	limits     recurrence.Limits
	runnerOpts []batch.Option

	clock   Clock
	logger  Logger
	audit   AuditRecorder
	metrics MetricsRecorder
	tracer  Tracer
}

// Option configures a Service.
type Option func(*Service)

// WithAuditRecorder records an audit entry per operation.
func WithAuditRecorder(r AuditRecorder) Option {
	return func(s *Service) {
		if r != nil {
			s.audit = r
		}
	}
}

// WithMetricsRecorder observes per-operation outcomes.
func WithMetricsRecorder(m MetricsRecorder) Option {
	return func(s *Service) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithTracer wraps every operation in a span.
func WithTracer(t Tracer) Option {
	return func(s *Service) {
		if t != nil {
			s.tracer = t
		}
	}
}

// WithLogger sets the operation logger. A *slog.Logger is also handed to the
// reconciler, cascader, runner and feed.
func WithLogger(l Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides the time source for audit timestamps and the
// reconciler's "now".
func WithClock(c Clock) Option {
	return func(s *Service) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithRunnerOptions configures the batch runner cascades are submitted to,
// typically with a checkpointer and queue size. The runner is created
// unstarted; callers own Start and Stop.
func WithRunnerOptions(opts ...batch.Option) Option {
	return func(s *Service) { s.runnerOpts = append(s.runnerOpts, opts...) }
}

// WithLimits overrides the series length bounds.
func WithLimits(l recurrence.Limits) Option {
	return func(s *Service) { s.limits = l }
}

// WithBlobStore enables calendar feed snapshots.
func WithBlobStore(b blob.Store) Option {
	return func(s *Service) { s.blobs = b }
}

// NewService constructs a service backed by the supplied store.
func NewService(store PersistentStore, opts ...Option) *Service {
	s := &Service{
		store:   store,
		limits:  recurrence.DefaultLimits(),
		clock:   ClockFunc(nil),
		logger:  noopLogger{},
		audit:   noopAuditRecorder{},
		metrics: noopMetricsRecorder{},
		tracer:  noopTracer{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if ms, ok := store.(interface{ RulesEngine() *RulesEngine }); ok {
		s.engine = ms.RulesEngine()
	}

	sl := s.slogger()
	runnerOpts := append([]batch.Option{
		batch.WithLogger(sl),
		batch.WithClock(s.clock.Now),
		batch.WithAuditLogger(jobAudit{svc: s}),
	}, s.runnerOpts...)
	s.runner = batch.NewRunner(runnerOpts...)
	s.reconciler = recurrence.NewReconciler(store, recurrence.WithLimits(s.limits), recurrence.WithLogger(sl))
	s.cascader = publish.NewCascader(store, s.runner, publish.WithLogger(sl))
	feedOpts := []calendar.Option{calendar.WithLogger(sl), calendar.WithClock(s.clock.Now)}
	if s.blobs != nil {
		feedOpts = append(feedOpts, calendar.WithBlobStore(s.blobs))
	}
	s.feed = calendar.NewFeed(store, feedOpts...)
	return s
}

// NewInMemoryService creates a service and in-memory store with the given rules engine.
func NewInMemoryService(engine *RulesEngine, opts ...Option) *Service {
	return NewService(memory.NewStore(engine), opts...)
}

// Store returns the underlying storage implementation.
func (s *Service) Store() PersistentStore {
	return s.store
}

// Runner returns the batch runner cascades execute on.
func (s *Service) Runner() *batch.Runner {
	return s.runner
}

// RulesEngine returns the engine of the backing store, if it exposes one.
func (s *Service) RulesEngine() *RulesEngine {
	return s.engine
}

func (s *Service) slogger() *slog.Logger {
	if sl, ok := s.logger.(*slog.Logger); ok {
		return sl
	}
	return slog.New(slog.DiscardHandler)
}

func (s *Service) now() time.Time {
	return s.clock.Now()
}

// run applies the observability contract around fn. fn reports the entity it
// touched so the audit entry can name it even when the id is assigned inside.
func (s *Service) run(ctx context.Context, op string, actor Actor, fn func(context.Context) (EntityRef, error)) error {
	ctx, span := s.tracer.Start(ctx, op)
	start := time.Now()
	ref, err := fn(ctx)
	duration := time.Since(start)
	span.End(err)
	s.metrics.Observe(ctx, op, err == nil, duration)
	s.recordAudit(ctx, op, actor, ref, err, duration)
	if err != nil {
		s.logger.Error("operation failed", "operation", op, "actor", actor.String(), "entity_id", ref.ID, "error", err)
		return err
	}
	s.logger.Debug("operation completed", "operation", op, "actor", actor.String(), "entity_id", ref.ID, "duration", duration)
	return nil
}

func (s *Service) recordAudit(ctx context.Context, op string, actor Actor, ref EntityRef, err error, duration time.Duration) {
	meta, ok := operations[op]
	if !ok {
		return
	}
	entry := AuditEntry{
		Operation: op,
		Entity:    meta.entity,
		Action:    meta.action,
		EntityID:  ref.ID,
		Actor:     actor,
		Status:    AuditStatusSuccess,
		Duration:  duration,
		Timestamp: s.now(),
	}
	if ref.Kind != "" {
		entry.Entity = ref.Kind
	}
	if err != nil {
		entry.Status = AuditStatusError
		entry.Error = err.Error()
	}
	s.audit.Record(ctx, entry)
}

// guarded runs fn inside a transaction once check allows it.
func (s *Service) guarded(ctx context.Context, check func(access.Resolver, TransactionView) (access.Decision, error), fn func(Transaction) error) (RuleResult, error) {
	return s.store.RunInTransaction(ctx, func(tx Transaction) error {
		view := tx.Snapshot()
		if err := access.Require(check(access.NewResolver(view), view)); err != nil {
			return err
		}
		return fn(tx)
	})
}

// viewGuard evaluates check against a read-only snapshot.
func (s *Service) viewGuard(ctx context.Context, check func(access.Resolver, TransactionView) (access.Decision, error)) error {
	return s.store.View(ctx, func(view TransactionView) error {
		return access.Require(check(access.NewResolver(view), view))
	})
}

func canMutate(ref EntityRef, actor Actor) func(access.Resolver, TransactionView) (access.Decision, error) {
	return func(r access.Resolver, _ TransactionView) (access.Decision, error) {
		return r.CanMutate(ref, actor)
	}
}

// IsForbidden reports whether err is an access denial.
func IsForbidden(err error) bool {
	return errors.Is(err, ErrForbidden)
}

// IsNotFound reports whether err carries a missing entity.
func IsNotFound(err error) bool {
	var nf ErrNotFound
	return errors.As(err, &nf)
}

// jobAudit forwards batch job transitions into the service audit trail.
type jobAudit struct {
	svc *Service
}

func (j jobAudit) Record(ctx context.Context, entry batch.AuditEntry) {
	audit := AuditEntry{
		Operation: "job_" + string(entry.Status),
		EntityID:  entry.JobID,
		Action:    ActionUpdate,
		Status:    AuditStatusSuccess,
		Timestamp: entry.OccurredAt,
	}
	_, _ = fmt.Sscanf(entry.Actor, "user:%d", &audit.Actor.ID)
	if ref, err := domain.ParseEntityRef(entry.Root); err == nil {
		audit.Entity = ref.Kind
	}
	if entry.Status == batch.StatusCompletedWithErrors {
		audit.Status = AuditStatusError
	}
	j.svc.audit.Record(ctx, audit)
}
