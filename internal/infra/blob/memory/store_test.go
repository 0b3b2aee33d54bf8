package memory

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"campaigncore/internal/blob/core"
)

func TestStorePutReplacesAndLists(t *testing.T) {
	ctx := context.Background()
	s := New()
	if _, err := s.Put(ctx, "jobs/a.json", strings.NewReader("one"), core.PutOptions{ContentType: "application/json"}); err != nil {
		t.Fatalf("put: %v", err)
	}
	info, err := s.Put(ctx, "jobs/a.json", strings.NewReader("second"), core.PutOptions{ContentType: "application/json"})
	if err != nil {
		t.Fatalf("replace: %v", err)
	}
	if info.Size != int64(len("second")) {
		t.Fatalf("expected replaced size, got %d", info.Size)
	}
	if _, err := s.Put(ctx, "calendars/g.ics", strings.NewReader("x"), core.PutOptions{}); err != nil {
		t.Fatalf("put calendar: %v", err)
	}
	_, rc, err := s.Get(ctx, "jobs/a.json")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(body) != "second" {
		t.Fatalf("unexpected body %q", body)
	}
	list, err := s.List(ctx, "jobs/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].Key != "jobs/a.json" {
		t.Fatalf("unexpected list %+v", list)
	}
	all, _ := s.List(ctx, "")
	if len(all) != 2 || all[0].Key != "calendars/g.ics" {
		t.Fatalf("expected sorted full listing, got %+v", all)
	}
}

func TestStoreNotFoundAndDelete(t *testing.T) {
	ctx := context.Background()
	s := New()
	if _, _, err := s.Get(ctx, "missing"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound from Get, got %v", err)
	}
	if _, err := s.Head(ctx, "missing"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound from Head, got %v", err)
	}
	if _, err := s.Put(ctx, " ", bytes.NewReader(nil), core.PutOptions{}); err == nil {
		t.Fatalf("expected empty key error")
	}
	_, _ = s.Put(ctx, "k", strings.NewReader("v"), core.PutOptions{Metadata: map[string]string{"a": "b"}})
	head, _ := s.Head(ctx, "k")
	head.Metadata["a"] = "mutated"
	again, _ := s.Head(ctx, "k")
	if again.Metadata["a"] != "b" {
		t.Fatalf("metadata aliased stored entry")
	}
	ok, err := s.Delete(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("delete existing: ok=%v err=%v", ok, err)
	}
	ok, _ = s.Delete(ctx, "k")
	if ok {
		t.Fatalf("second delete should report missing")
	}
	if s.Driver() != core.DriverMemory {
		t.Fatalf("unexpected driver %s", s.Driver())
	}
}
