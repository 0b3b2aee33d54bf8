// Package calendar renders a group's published events as an iCalendar feed.
package calendar

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	ical "github.com/arran4/golang-ical"

	"campaigncore/internal/blob"
	"campaigncore/pkg/domain"
)

// ContentType is the media type of rendered feeds.
const ContentType = "text/calendar; charset=utf-8"

const (
	productID   = "-//campaigncore//calendar feed//EN"
	uidDomain   = "campaigncore"
	localLayout = "20060102T150405"
	keyPrefix   = "calendars/"
)

// Feed builds iCalendar documents from the store and optionally snapshots
// them to a blob store.
type Feed struct {
	store  domain.PersistentStore
	blobs  blob.Store
	logger *slog.Logger
	now    domain.ClockFunc
}

// Option configures a Feed.
type Option func(*Feed)

// WithBlobStore enables Snapshot.
func WithBlobStore(s blob.Store) Option { return func(f *Feed) { f.blobs = s } }

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(f *Feed) {
		if l != nil {
			f.logger = l
		}
	}
}

// WithClock sets the DTSTAMP source.
func WithClock(c domain.ClockFunc) Option { return func(f *Feed) { f.now = c } }

// NewFeed constructs a Feed over store.
func NewFeed(store domain.PersistentStore, opts ...Option) *Feed {
	f := &Feed{store: store, logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Key returns the blob key a group's snapshot is stored under.
func Key(groupID string) string { return keyPrefix + groupID + ".ics" }

// Render returns the feed for a published group. Unpublished groups are
// reported as not found. Event times are written as wall-clock values with
// the group's effective TZID.
func (f *Feed) Render(ctx context.Context, groupID string) ([]byte, error) {
	var out []byte
	err := f.store.View(ctx, func(view domain.TransactionView) error {
		group, ok := view.FindGroup(groupID)
		if !ok || !group.Published {
			return domain.ErrNotFound{Entity: domain.EntityGroup, ID: groupID}
		}
		org, ok := view.FindOrganization(group.OrganizationID)
		if !ok {
			return domain.ErrNotFound{Entity: domain.EntityOrganization, ID: group.OrganizationID}
		}
		loc, err := domain.ResolveLocation(group, org)
		if err != nil {
			return err
		}
		cal := ical.NewCalendar()
		cal.SetMethod(ical.MethodPublish)
		cal.SetProductId(productID)
		cal.SetXWRCalName(group.Title)
		cal.SetXWRTimezone(loc.String())
		stamp := f.now.Now()
		for _, event := range view.EventsForGroup(groupID) {
			if event.Published {
				addEvent(cal, event, loc, stamp)
			}
		}
		out = []byte(cal.Serialize())
		return nil
	})
	return out, err
}

func addEvent(cal *ical.Calendar, event domain.Event, loc *time.Location, stamp time.Time) {
	tzid := &ical.KeyValues{Key: "TZID", Value: []string{loc.String()}}
	ve := cal.AddEvent(event.ID + "@" + uidDomain)
	ve.SetDtStampTime(stamp)
	ve.SetProperty(ical.ComponentPropertyDtStart, event.Start.Format(localLayout), tzid)
	ve.SetProperty(ical.ComponentPropertyDtEnd, event.End.Format(localLayout), tzid)
	ve.SetProperty(ical.ComponentPropertySequence, strconv.FormatInt(event.Revision, 10))
	ve.SetSummary(event.Title)
	if event.Location != "" {
		ve.SetLocation(event.Location)
	}
	if event.Description != "" {
		ve.SetDescription(event.Description)
	}
}

// Snapshot renders the group's feed and stores it at Key(groupID).
func (f *Feed) Snapshot(ctx context.Context, groupID string) (blob.Info, error) {
	if f.blobs == nil {
		return blob.Info{}, errors.New("calendar: no blob store configured")
	}
	body, err := f.Render(ctx, groupID)
	if err != nil {
		return blob.Info{}, err
	}
	return f.blobs.Put(ctx, Key(groupID), bytes.NewReader(body), blob.PutOptions{
		ContentType: ContentType,
		Metadata:    map[string]string{"group": groupID},
	})
}

// SnapshotAll snapshots every published group. Failures are logged and joined.
func (f *Feed) SnapshotAll(ctx context.Context) (int, error) {
	var errs []error
	written := 0
	for _, group := range f.store.ListGroups() {
		if !group.Published {
			continue
		}
		if _, err := f.Snapshot(ctx, group.ID); err != nil {
			f.logger.Warn("calendar snapshot failed", "group", group.ID, "error", err)
			errs = append(errs, fmt.Errorf("group %s: %w", group.ID, err))
			continue
		}
		written++
	}
	f.logger.Info("calendar snapshots written", "count", written)
	return written, errors.Join(errs...)
}
