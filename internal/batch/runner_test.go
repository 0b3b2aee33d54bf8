package batch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"campaigncore/internal/blob"
)

type captureAudit struct {
	mu      sync.Mutex
	entries []AuditEntry
}

func (c *captureAudit) Record(_ context.Context, entry AuditEntry) {
	c.mu.Lock()
	c.entries = append(c.entries, entry)
	c.mu.Unlock()
}

func (c *captureAudit) statuses() []Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Status, len(c.entries))
	for i, e := range c.entries {
		out[i] = e.Status
	}
	return out
}

type stepLog struct {
	mu    sync.Mutex
	steps []string
}

func (l *stepLog) handler(fail map[string]bool) Handler {
	return HandlerFunc(func(_ context.Context, _ Job, step string) error {
		l.mu.Lock()
		l.steps = append(l.steps, step)
		l.mu.Unlock()
		if fail[step] {
			return errors.New("boom " + step)
		}
		return nil
	})
}

func (l *stepLog) seen() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.steps...)
}

func fixedClock() func() time.Time {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	n := 0
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		n++
		return base.Add(time.Duration(n) * time.Second)
	}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestRunnerStepsJobToCompletion(t *testing.T) {
	ctx := context.Background()
	audit := &captureAudit{}
	log := &stepLog{}
	r := NewRunner(WithAuditLogger(audit), WithClock(fixedClock()))
	r.Register("publish", log.handler(nil))

	job, err := r.Submit(ctx, Submission{Kind: "publish", Root: "group:g1", RequestedBy: "7", Steps: []string{"a", "b", "c"}})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if job.Status != StatusQueued || job.ID == "" {
		t.Fatalf("expected queued job with id, got %+v", job)
	}
	progress, err := r.Step(ctx, job.ID)
	if err != nil {
		t.Fatalf("step: %v", err)
	}
	if progress.Status != StatusRunning || progress.Done != 1 || progress.Total != 3 {
		t.Fatalf("unexpected progress after first step %+v", progress)
	}
	final, err := r.Run(ctx, job.ID)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if final.Status != StatusCompleted || final.Cursor != 3 || final.CompletedAt == nil {
		t.Fatalf("unexpected final job %+v", final)
	}
	if got := log.seen(); !equalStrings(got, []string{"a", "b", "c"}) {
		t.Fatalf("steps out of order: %v", got)
	}
	want := []Status{StatusQueued, StatusRunning, StatusCompleted}
	got := audit.statuses()
	if len(got) != len(want) {
		t.Fatalf("expected audit %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected audit %v, got %v", want, got)
		}
	}
}

func TestRunnerStepFailureDoesNotAbort(t *testing.T) {
	ctx := context.Background()
	log := &stepLog{}
	r := NewRunner()
	r.Register("publish", log.handler(map[string]bool{"b": true}))
	job, _ := r.Submit(ctx, Submission{Kind: "publish", Steps: []string{"a", "b", "c"}})
	final, err := r.Run(ctx, job.ID)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if final.Status != StatusCompletedWithErrors || final.Failed != 1 {
		t.Fatalf("expected completed with one error, got %+v", final)
	}
	if len(final.Failures) != 1 || final.Failures[0].Index != 1 || final.Failures[0].Step != "b" {
		t.Fatalf("unexpected failures %+v", final.Failures)
	}
	if got := log.seen(); !equalStrings(got, []string{"a", "b", "c"}) {
		t.Fatalf("expected every step attempted, got %v", got)
	}
}

func TestRunnerEmptyAndFinishedJobs(t *testing.T) {
	ctx := context.Background()
	log := &stepLog{}
	r := NewRunner()
	r.Register("publish", log.handler(nil))
	job, _ := r.Submit(ctx, Submission{Kind: "publish"})
	progress, err := r.Step(ctx, job.ID)
	if err != nil || progress.Status != StatusCompleted {
		t.Fatalf("empty job should complete on first step: %+v %v", progress, err)
	}
	progress, err = r.Step(ctx, job.ID)
	if err != nil || progress.Status != StatusCompleted || len(log.seen()) != 0 {
		t.Fatalf("stepping a finished job must be a no-op: %+v %v", progress, err)
	}
}

func TestRunnerRejectsUnknownKindsAndJobs(t *testing.T) {
	ctx := context.Background()
	r := NewRunner()
	if _, err := r.Submit(ctx, Submission{Kind: " "}); err == nil {
		t.Fatalf("expected error for blank kind")
	}
	if _, err := r.Submit(ctx, Submission{Kind: "publish"}); !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("expected ErrUnknownKind, got %v", err)
	}
	if _, err := r.Step(ctx, "missing"); !errors.Is(err, ErrUnknownJob) {
		t.Fatalf("expected ErrUnknownJob, got %v", err)
	}
	if _, ok := r.Get("missing"); ok {
		t.Fatalf("expected missing job")
	}
}

func TestRunnerStepHonoursCancelledContext(t *testing.T) {
	log := &stepLog{}
	r := NewRunner()
	r.Register("publish", log.handler(nil))
	job, _ := r.Submit(context.Background(), Submission{Kind: "publish", Steps: []string{"a"}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := r.Step(ctx, job.ID); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	got, _ := r.Get(job.ID)
	if got.Cursor != 0 || got.Status != StatusQueued {
		t.Fatalf("cancelled step must not advance job: %+v", got)
	}
}

func TestRunnerRejectsConcurrentStep(t *testing.T) {
	ctx := context.Background()
	entered := make(chan struct{})
	release := make(chan struct{})
	r := NewRunner()
	r.Register("slow", HandlerFunc(func(context.Context, Job, string) error {
		close(entered)
		<-release
		return nil
	}))
	job, _ := r.Submit(ctx, Submission{Kind: "slow", Steps: []string{"a", "b"}})
	done := make(chan error, 1)
	go func() {
		_, err := r.Step(ctx, job.ID)
		done <- err
	}()
	<-entered
	if _, err := r.Step(ctx, job.ID); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first step: %v", err)
	}
	got, _ := r.Get(job.ID)
	if got.Cursor != 1 {
		t.Fatalf("expected one step executed, got cursor %d", got.Cursor)
	}
}

func TestRunnerBackgroundLoopDrainsQueue(t *testing.T) {
	ctx := context.Background()
	log := &stepLog{}
	r := NewRunner()
	r.Register("publish", log.handler(nil))
	r.Start()
	job, err := r.Submit(ctx, Submission{Kind: "publish", Steps: []string{"a", "b"}})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		got, _ := r.Get(job.ID)
		if got.Status.Terminal() {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("job did not finish: %+v", got)
		}
		time.Sleep(5 * time.Millisecond)
	}
	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := r.Stop(stopCtx); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestRunnerResumesCheckpointedJobs(t *testing.T) {
	ctx := context.Background()
	cp := NewBlobCheckpointer(blob.NewMemory())
	first := NewRunner(WithCheckpointer(cp))
	first.Register("publish", (&stepLog{}).handler(nil))
	job, _ := first.Submit(ctx, Submission{Kind: "publish", Steps: []string{"a", "b", "c"}})
	if _, err := first.Step(ctx, job.ID); err != nil {
		t.Fatalf("step: %v", err)
	}
	done, _ := first.Submit(ctx, Submission{Kind: "publish"})
	if _, err := first.Run(ctx, done.ID); err != nil {
		t.Fatalf("run: %v", err)
	}

	log := &stepLog{}
	second := NewRunner(WithCheckpointer(cp))
	second.Register("publish", log.handler(nil))
	n, err := second.Resume(ctx)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected one unfinished job resumed, got %d", n)
	}
	final, err := second.Run(ctx, job.ID)
	if err != nil {
		t.Fatalf("run resumed: %v", err)
	}
	if final.Status != StatusCompleted {
		t.Fatalf("expected completed, got %+v", final)
	}
	if got := log.seen(); !equalStrings(got, []string{"b", "c"}) {
		t.Fatalf("resumed job re-ran steps: %v", got)
	}
	again, _ := second.Resume(ctx)
	if again != 0 {
		t.Fatalf("second resume should find nothing new, got %d", again)
	}
}

func TestBlobCheckpointerRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := blob.NewMemory()
	cp := NewBlobCheckpointer(store)
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	job := Job{ID: "j1", Kind: "publish", Steps: []string{"event:e1"}, Status: StatusRunning, CreatedAt: created, UpdatedAt: created}
	if err := cp.Save(ctx, job); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := store.Head(ctx, "jobs/j1.json"); err != nil {
		t.Fatalf("expected checkpoint at jobs/j1.json: %v", err)
	}
	loaded, err := cp.Load(ctx, "j1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Kind != "publish" || len(loaded.Steps) != 1 || !loaded.CreatedAt.Equal(created) {
		t.Fatalf("unexpected loaded job %+v", loaded)
	}
	list, err := cp.List(ctx)
	if err != nil || len(list) != 1 {
		t.Fatalf("list: %v %+v", err, list)
	}
	if err := cp.Delete(ctx, "j1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := cp.Load(ctx, "j1"); !errors.Is(err, ErrUnknownJob) {
		t.Fatalf("expected ErrUnknownJob after delete, got %v", err)
	}
}

func TestMemoryCheckpointerCopies(t *testing.T) {
	ctx := context.Background()
	cp := NewMemoryCheckpointer()
	job := Job{ID: "j", Steps: []string{"a"}}
	_ = cp.Save(ctx, job)
	job.Steps[0] = "mutated"
	loaded, err := cp.Load(ctx, "j")
	if err != nil || loaded.Steps[0] != "a" {
		t.Fatalf("checkpoint aliased caller slice: %+v %v", loaded, err)
	}
	_ = cp.Delete(ctx, "j")
	if list, _ := cp.List(ctx); len(list) != 0 {
		t.Fatalf("expected empty list after delete")
	}
}
