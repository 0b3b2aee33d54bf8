package schedule

import (
	"context"
	"errors"
	"testing"
	"time"

	"campaigncore/internal/recurrence"
)

type fakeSweeper struct {
	reconciles   int
	snapshots    int
	reconcileErr error
	snapshotErr  error
}

func (f *fakeSweeper) ReconcileAll(context.Context) ([]recurrence.Report, error) {
	f.reconciles++
	return []recurrence.Report{{RepeaterID: "r1", Created: 1}, {RepeaterID: "r2"}}, f.reconcileErr
}

func (f *fakeSweeper) SnapshotCalendars(context.Context) (int, error) {
	f.snapshots++
	return 2, f.snapshotErr
}

func TestNewRejectsBadSpec(t *testing.T) {
	if _, err := New("every now and then", &fakeSweeper{}); err == nil {
		t.Fatalf("expected parse error")
	}
	if _, err := New(DefaultSpec, nil); err == nil {
		t.Fatalf("expected missing sweeper error")
	}
}

func TestTickRunsBothPasses(t *testing.T) {
	sw := &fakeSweeper{reconcileErr: errors.New("series broken")}
	s, err := New("", sw, WithCalendarSnapshots(true), WithTickTimeout(time.Second))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	err = s.Tick(context.Background())
	if err == nil || err.Error() != "series broken" {
		t.Fatalf("expected reconcile error to surface, got %v", err)
	}
	if sw.reconciles != 1 || sw.snapshots != 1 {
		t.Fatalf("expected both passes despite the failure, got %+v", sw)
	}
}

func TestTickSkipsSnapshotsUnlessEnabled(t *testing.T) {
	sw := &fakeSweeper{}
	s, err := New("@hourly", sw)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := s.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if sw.snapshots != 0 {
		t.Fatalf("snapshots disabled, got %d calls", sw.snapshots)
	}
}

func TestScheduledJobInvokesSweep(t *testing.T) {
	sw := &fakeSweeper{}
	s, err := New(DefaultSpec, sw)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	entries := s.cron.Entries()
	if len(entries) != 1 {
		t.Fatalf("expected one cron entry, got %d", len(entries))
	}
	entries[0].WrappedJob.Run()
	if sw.reconciles != 1 {
		t.Fatalf("expected the cron job to reconcile, got %d", sw.reconciles)
	}
}

func TestStartStop(t *testing.T) {
	s, err := New(DefaultSpec, &fakeSweeper{})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	s.Start()
	next := s.Next()
	if next.IsZero() || next.Minute()%15 != 0 {
		t.Fatalf("expected next run on a quarter hour, got %v", next)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if s.ctx.Err() == nil {
		t.Fatalf("stop must cancel the tick context")
	}
}
