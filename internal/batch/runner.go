package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrUnknownJob is returned for job ids the runner does not hold.
	ErrUnknownJob = errors.New("batch: unknown job")
	// ErrUnknownKind is returned when no handler is registered for a kind.
	ErrUnknownKind = errors.New("batch: no handler registered for kind")
	// ErrBusy is returned when another caller is executing a step of the same job.
	ErrBusy = errors.New("batch: job step in progress")
)

const defaultQueueSize = 64

// Runner owns job records and executes their steps one at a time.
type Runner struct {
	handlers   map[string]Handler
	checkpoint Checkpointer
	audit      AuditLogger
	logger     *slog.Logger
	nowFn      func() time.Time

	queue chan string
	mu    sync.RWMutex
	jobs  map[string]*Job
	busy  map[string]bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Runner.
type Option func(*Runner)

// WithCheckpointer persists job records after every transition.
func WithCheckpointer(c Checkpointer) Option {
	return func(r *Runner) { r.checkpoint = c }
}

// WithAuditLogger records job lifecycle transitions.
func WithAuditLogger(a AuditLogger) Option {
	return func(r *Runner) { r.audit = a }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithClock overrides the time source used for job timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) {
		if now != nil {
			r.nowFn = now
		}
	}
}

// WithQueueSize sets the background queue capacity.
func WithQueueSize(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.queue = make(chan string, n)
		}
	}
}

// NewRunner constructs a runner. Handlers are added with Register.
func NewRunner(opts ...Option) *Runner {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Runner{
		handlers: make(map[string]Handler),
		logger:   slog.New(slog.DiscardHandler),
		nowFn:    func() time.Time { return time.Now().UTC() },
		queue:    make(chan string, defaultQueueSize),
		jobs:     make(map[string]*Job),
		busy:     make(map[string]bool),
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register installs the handler for a job kind, replacing any previous one.
func (r *Runner) Register(kind string, h Handler) {
	r.mu.Lock()
	r.handlers[kind] = h
	r.mu.Unlock()
}

// Start begins draining the queue in the background.
func (r *Runner) Start() {
	r.wg.Add(1)
	go r.loop()
}

// Stop halts the background loop and waits for the current job to yield.
func (r *Runner) Stop(ctx context.Context) error {
	r.cancel()
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runner) loop() {
	defer r.wg.Done()
	for {
		select {
		case <-r.ctx.Done():
			return
		case id := <-r.queue:
			if _, err := r.Run(r.ctx, id); err != nil && !errors.Is(err, context.Canceled) {
				r.logger.Warn("batch job run interrupted", "job", id, "error", err)
			}
		}
	}
}

// Submit records a queued job and hands it to the background loop. When the
// queue is full the job stays queued and can be stepped directly or resumed.
func (r *Runner) Submit(ctx context.Context, sub Submission) (Job, error) {
	kind := strings.TrimSpace(sub.Kind)
	if kind == "" {
		return Job{}, fmt.Errorf("batch: job kind required")
	}
	r.mu.Lock()
	if _, ok := r.handlers[kind]; !ok {
		r.mu.Unlock()
		return Job{}, fmt.Errorf("%w %q", ErrUnknownKind, kind)
	}
	now := r.nowFn()
	job := Job{
		ID:          uuid.NewString(),
		Kind:        kind,
		Root:        sub.Root,
		RequestedBy: sub.RequestedBy,
		Steps:       append([]string(nil), sub.Steps...),
		Status:      StatusQueued,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if len(sub.Params) > 0 {
		job.Params = make(map[string]string, len(sub.Params))
		for k, v := range sub.Params {
			job.Params[k] = v
		}
	}
	r.jobs[job.ID] = &job
	snapshot := job.copy()
	r.mu.Unlock()

	r.save(ctx, snapshot)
	r.record(ctx, snapshot, map[string]any{"steps": len(snapshot.Steps)})
	r.logger.Info("batch job queued", "job", snapshot.ID, "kind", kind, "steps", len(snapshot.Steps))
	r.enqueue(snapshot.ID)
	return snapshot, nil
}

func (r *Runner) enqueue(id string) {
	select {
	case r.queue <- id:
	default:
		r.logger.Warn("batch queue full; job left queued", "job", id)
	}
}

// Get returns a copy of the job record.
func (r *Runner) Get(id string) (Job, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[id]
	if !ok {
		return Job{}, false
	}
	return job.copy(), true
}

// Step executes exactly one step of the job. Stepping a finished job returns
// its final progress without doing any work.
func (r *Runner) Step(ctx context.Context, id string) (Progress, error) {
	if err := ctx.Err(); err != nil {
		return Progress{}, err
	}
	r.mu.Lock()
	job, ok := r.jobs[id]
	if !ok {
		r.mu.Unlock()
		return Progress{}, fmt.Errorf("%w %s", ErrUnknownJob, id)
	}
	if job.Status.Terminal() {
		progress := job.Progress()
		r.mu.Unlock()
		return progress, nil
	}
	if r.busy[id] {
		r.mu.Unlock()
		return job.Progress(), ErrBusy
	}
	handler, ok := r.handlers[job.Kind]
	if !ok {
		r.mu.Unlock()
		return job.Progress(), fmt.Errorf("%w %q", ErrUnknownKind, job.Kind)
	}
	started := false
	if job.Status == StatusQueued {
		job.Status = StatusRunning
		job.UpdatedAt = r.nowFn()
		started = true
	}
	r.busy[id] = true
	snapshot := job.copy()
	r.mu.Unlock()

	if started {
		r.record(ctx, snapshot, nil)
	}

	var stepErr error
	if snapshot.Cursor < len(snapshot.Steps) {
		step := snapshot.Steps[snapshot.Cursor]
		stepErr = handler.HandleStep(ctx, snapshot, step)
		if stepErr != nil {
			r.logger.Warn("batch step failed", "job", id, "kind", snapshot.Kind, "step", step, "error", stepErr)
		}
	}

	r.mu.Lock()
	now := r.nowFn()
	if job.Cursor < len(job.Steps) {
		if stepErr != nil {
			job.Failed++
			job.Failures = append(job.Failures, StepFailure{Index: job.Cursor, Step: job.Steps[job.Cursor], Error: stepErr.Error(), At: now})
		}
		job.Cursor++
	}
	finished := false
	if job.Cursor >= len(job.Steps) {
		job.Status = StatusCompleted
		if job.Failed > 0 {
			job.Status = StatusCompletedWithErrors
		}
		job.CompletedAt = &now
		finished = true
	}
	job.UpdatedAt = now
	delete(r.busy, id)
	snapshot = job.copy()
	r.mu.Unlock()

	r.save(ctx, snapshot)
	if finished {
		r.record(ctx, snapshot, map[string]any{"failed": snapshot.Failed, "total": len(snapshot.Steps)})
		r.logger.Info("batch job finished", "job", id, "kind", snapshot.Kind, "status", snapshot.Status, "failed", snapshot.Failed, "total", len(snapshot.Steps))
	}
	return snapshot.Progress(), nil
}

// Run steps the job until it reaches a terminal state or ctx is done.
func (r *Runner) Run(ctx context.Context, id string) (Job, error) {
	for {
		progress, err := r.Step(ctx, id)
		if err != nil {
			job, _ := r.Get(id)
			return job, err
		}
		if progress.Status.Terminal() {
			job, _ := r.Get(id)
			return job, nil
		}
	}
}

// Resume loads unfinished jobs from the checkpointer and queues them again.
// Jobs already held in memory are left alone. It returns the number queued.
func (r *Runner) Resume(ctx context.Context) (int, error) {
	if r.checkpoint == nil {
		return 0, nil
	}
	saved, err := r.checkpoint.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("batch resume: %w", err)
	}
	var resumed []string
	r.mu.Lock()
	for _, job := range saved {
		if job.Status.Terminal() {
			continue
		}
		if _, exists := r.jobs[job.ID]; exists {
			continue
		}
		if _, ok := r.handlers[job.Kind]; !ok {
			r.logger.Warn("batch resume skipped job with unregistered kind", "job", job.ID, "kind", job.Kind)
			continue
		}
		dup := job.copy()
		r.jobs[dup.ID] = &dup
		resumed = append(resumed, dup.ID)
	}
	r.mu.Unlock()
	for _, id := range resumed {
		r.enqueue(id)
	}
	if len(resumed) > 0 {
		r.logger.Info("batch jobs resumed", "count", len(resumed))
	}
	return len(resumed), nil
}

func (r *Runner) save(ctx context.Context, job Job) {
	if r.checkpoint == nil {
		return
	}
	if err := r.checkpoint.Save(ctx, job); err != nil {
		r.logger.Error("batch checkpoint failed", "job", job.ID, "error", err)
	}
}

func (r *Runner) record(ctx context.Context, job Job, metadata map[string]any) {
	if r.audit == nil {
		return
	}
	r.audit.Record(ctx, AuditEntry{
		JobID:      job.ID,
		Kind:       job.Kind,
		Actor:      job.RequestedBy,
		Root:       job.Root,
		Status:     job.Status,
		Metadata:   metadata,
		OccurredAt: job.UpdatedAt,
	})
}
