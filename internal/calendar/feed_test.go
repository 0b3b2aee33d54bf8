package calendar

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	ical "github.com/arran4/golang-ical"

	"campaigncore/internal/blob"
	"campaigncore/internal/infra/persistence/memory"
	"campaigncore/pkg/domain"
)

type seeded struct {
	store             *memory.Store
	groupID, hiddenID string
	publicEventID     string
}

func seed(t *testing.T) seeded {
	t.Helper()
	store := memory.NewStore(nil)
	s := seeded{store: store}
	start := time.Date(2026, 5, 1, 18, 0, 0, 0, time.UTC)
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		org, err := tx.CreateOrganization(domain.Organization{Title: "Org", Timezone: "Europe/Berlin"})
		if err != nil {
			return err
		}
		group, err := tx.CreateGroup(domain.Group{OrganizationID: org.ID, Title: "Climate Berlin", Timezone: domain.TimezoneInherit, Published: true})
		if err != nil {
			return err
		}
		hidden, err := tx.CreateGroup(domain.Group{OrganizationID: org.ID, Title: "Drafts"})
		if err != nil {
			return err
		}
		public, err := tx.CreateEvent(domain.Event{GroupID: group.ID, Title: "Rally", Location: "Alexanderplatz", Start: start, End: start.Add(90 * time.Minute), Published: true})
		if err != nil {
			return err
		}
		if _, err := tx.CreateEvent(domain.Event{GroupID: group.ID, Title: "Planning", Start: start.Add(time.Hour), End: start.Add(2 * time.Hour)}); err != nil {
			return err
		}
		s.groupID, s.hiddenID, s.publicEventID = group.ID, hidden.ID, public.ID
		return nil
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return s
}

func TestRenderWritesPublishedEventsInGroupZone(t *testing.T) {
	s := seed(t)
	stamp := time.Date(2026, 4, 20, 9, 0, 0, 0, time.UTC)
	feed := NewFeed(s.store, WithClock(func() time.Time { return stamp }))
	body, err := feed.Render(context.Background(), s.groupID)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	cal, err := ical.ParseCalendar(strings.NewReader(string(body)))
	if err != nil {
		t.Fatalf("parse rendered feed: %v", err)
	}
	events := cal.Events()
	if len(events) != 1 {
		t.Fatalf("expected only the published event, got %d", len(events))
	}
	ev := events[0]
	if uid := ev.GetProperty(ical.ComponentPropertyUniqueId); uid == nil || uid.Value != s.publicEventID+"@campaigncore" {
		t.Fatalf("unexpected uid %+v", uid)
	}
	dtStart := ev.GetProperty(ical.ComponentPropertyDtStart)
	if dtStart == nil || dtStart.Value != "20260501T180000" {
		t.Fatalf("unexpected DTSTART %+v", dtStart)
	}
	if tz := dtStart.ICalParameters["TZID"]; len(tz) != 1 || tz[0] != "Europe/Berlin" {
		t.Fatalf("expected Europe/Berlin TZID, got %v", tz)
	}
	if end := ev.GetProperty(ical.ComponentPropertyDtEnd); end == nil || end.Value != "20260501T193000" {
		t.Fatalf("unexpected DTEND %+v", end)
	}
	if loc := ev.GetProperty(ical.ComponentPropertyLocation); loc == nil || loc.Value != "Alexanderplatz" {
		t.Fatalf("unexpected location %+v", loc)
	}
}

func TestRenderHidesUnpublishedGroups(t *testing.T) {
	s := seed(t)
	feed := NewFeed(s.store)
	var nf domain.ErrNotFound
	if _, err := feed.Render(context.Background(), s.hiddenID); !errors.As(err, &nf) {
		t.Fatalf("expected not found for unpublished group, got %v", err)
	}
	if _, err := feed.Render(context.Background(), "missing"); !errors.As(err, &nf) {
		t.Fatalf("expected not found for missing group, got %v", err)
	}
}

func TestSnapshotStoresFeed(t *testing.T) {
	ctx := context.Background()
	s := seed(t)
	if _, err := NewFeed(s.store).Snapshot(ctx, s.groupID); err == nil {
		t.Fatalf("expected error without blob store")
	}
	blobs := blob.NewMemory()
	feed := NewFeed(s.store, WithBlobStore(blobs))
	n, err := feed.SnapshotAll(ctx)
	if err != nil || n != 1 {
		t.Fatalf("snapshot all: n=%d err=%v", n, err)
	}
	info, rc, err := blobs.Get(ctx, Key(s.groupID))
	if err != nil {
		t.Fatalf("get snapshot: %v", err)
	}
	body, _ := io.ReadAll(rc)
	_ = rc.Close()
	if info.ContentType != ContentType || !strings.Contains(string(body), "BEGIN:VCALENDAR") {
		t.Fatalf("unexpected snapshot %+v %q", info, body)
	}
}
