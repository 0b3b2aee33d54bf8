// Package recurrence keeps a bounded window of future event occurrences in
// line with the recurrence rule anchored at an event.
package recurrence

import (
	"campaigncore/pkg/domain"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/teambition/rrule-go"
)

// ErrInvalidRule is returned before any mutation when a rule cannot generate
// occurrences.
var ErrInvalidRule = errors.New("invalid recurrence rule")

// Limits bounds how many occurrences a series may hold in its future window,
// anchor included. The two bounds are independent.
type Limits struct {
	// MaxRepeats applies to rules saved without an explicit count.
	MaxRepeats int `yaml:"max_repeats"`
	// MaxAdHocRepeats caps the count requested through Repeat.
	MaxAdHocRepeats int `yaml:"max_adhoc_repeats"`
}

// DefaultLimits returns the stock window sizes.
func DefaultLimits() Limits {
	return Limits{MaxRepeats: 5, MaxAdHocRepeats: 10}
}

func (l Limits) normalize() Limits {
	def := DefaultLimits()
	if l.MaxRepeats <= 0 {
		l.MaxRepeats = def.MaxRepeats
	}
	if l.MaxAdHocRepeats <= 0 {
		l.MaxAdHocRepeats = def.MaxAdHocRepeats
	}
	return l
}

// Report counts the mutations one reconciliation applied. The counts are
// informational.
type Report struct {
	RepeaterID string `json:"repeater_id"`
	Created    int    `json:"created"`
	Updated    int    `json:"updated"`
	Deleted    int    `json:"deleted"`
}

// Changed reports whether any occurrence was written.
func (r Report) Changed() bool {
	return r.Created+r.Updated+r.Deleted > 0
}

// Reconciler converges stored occurrences onto the schedule a rule describes.
type Reconciler struct {
	store  domain.PersistentStore
	limits Limits
	logger *slog.Logger
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithLimits overrides the default window sizes. Non-positive values keep the default.
func WithLimits(l Limits) Option {
	return func(r *Reconciler) { r.limits = l.normalize() }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Reconciler) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewReconciler constructs a reconciler over the store.
func NewReconciler(store domain.PersistentStore, opts ...Option) *Reconciler {
	r := &Reconciler{
		store:  store,
		limits: DefaultLimits(),
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Limits returns the configured window sizes.
func (r *Reconciler) Limits() Limits { return r.limits }

// plan is the read phase of a reconciliation.
type plan struct {
	rule     domain.EventRepeater
	nowWall  time.Time
	existing []domain.Event
}

func (r *Reconciler) load(ctx context.Context, repeaterID string, now time.Time) (plan, error) {
	var p plan
	err := r.store.View(ctx, func(view domain.TransactionView) error {
		rule, ok := view.FindRepeater(repeaterID)
		if !ok {
			return domain.ErrNotFound{Entity: domain.EntityRepeater, ID: repeaterID}
		}
		if err := validate(rule); err != nil {
			return err
		}
		anchor, ok := view.FindEvent(rule.EventID)
		if !ok {
			return domain.ErrNotFound{Entity: domain.EntityEvent, ID: rule.EventID}
		}
		loc, err := seriesLocation(view, anchor)
		if err != nil {
			return err
		}
		p.rule = rule
		p.nowWall = domain.WallClock(now, loc)
		p.existing = view.EventsForRepeater(rule.ID, p.nowWall)
		return nil
	})
	return p, err
}

func seriesLocation(view domain.TransactionView, anchor domain.Event) (*time.Location, error) {
	group, ok := view.FindGroup(anchor.GroupID)
	if !ok {
		return nil, domain.ErrNotFound{Entity: domain.EntityGroup, ID: anchor.GroupID}
	}
	organization, _ := view.FindOrganization(group.OrganizationID)
	return domain.ResolveLocation(group, organization)
}

func validate(rule domain.EventRepeater) error {
	if rule.Step < 0 {
		return fmt.Errorf("%w: step %d is negative", ErrInvalidRule, rule.Step)
	}
	if rule.Count < 0 {
		return fmt.Errorf("%w: count %d is negative", ErrInvalidRule, rule.Count)
	}
	if rule.Enabled() && !rule.Frequency.Valid() {
		return fmt.Errorf("%w: unsupported frequency %q", ErrInvalidRule, rule.Frequency)
	}
	return nil
}

// Reconcile converges the series of the given repeater. now is an instant;
// the past/future split is taken in the series' effective timezone. Each
// mutation commits on its own, so a persistence failure returns the partial
// report alongside the error.
func (r *Reconciler) Reconcile(ctx context.Context, repeaterID string, now time.Time) (Report, error) {
	report := Report{RepeaterID: repeaterID}
	p, err := r.load(ctx, repeaterID, now)
	if err != nil {
		return report, err
	}

	consumed := 0
	if p.rule.Enabled() && len(p.existing) > 0 {
		anchor := p.existing[0]
		targets, err := r.targets(p.rule, anchor.Start)
		if err != nil {
			return report, err
		}
		duration := anchor.Duration()
		for i, start := range targets {
			end := start.Add(duration)
			if i < len(p.existing) {
				consumed++
				current := p.existing[i]
				if current.Start.Equal(start) && current.End.Equal(end) {
					continue
				}
				if err := r.move(ctx, current.ID, start, end); err != nil {
					return report, err
				}
				report.Updated++
				continue
			}
			if err := r.duplicate(ctx, anchor, start, end); err != nil {
				return report, err
			}
			report.Created++
		}
	}

	for _, stale := range p.existing[consumed:] {
		if stale.ID == p.rule.EventID {
			continue
		}
		if err := r.remove(ctx, stale.ID); err != nil {
			return report, err
		}
		report.Deleted++
	}

	if report.Changed() {
		r.logger.InfoContext(ctx, "series reconciled",
			"repeater_id", repeaterID,
			"created", report.Created,
			"updated", report.Updated,
			"deleted", report.Deleted)
	}
	return report, nil
}

// bound is the number of occurrences the window holds, anchor included.
func (r *Reconciler) bound(rule domain.EventRepeater) int {
	if rule.Count > 0 {
		return min(rule.Count, r.limits.MaxAdHocRepeats)
	}
	return r.limits.MaxRepeats
}

// targets lists start dates from the anchor in ascending order, bounded by
// the repeat count and, when set, the end date (inclusive of that whole day).
// Month and year steps keep the anchor's day of month and skip periods where
// that date does not exist: a series on Jan 31 continues on Mar 31.
func (r *Reconciler) targets(rule domain.EventRepeater, anchorStart time.Time) ([]time.Time, error) {
	rr, err := rrule.NewRRule(rrule.ROption{
		Freq:     toFreq(rule.Frequency),
		Interval: rule.Step,
		Count:    r.bound(rule),
		Dtstart:  anchorStart,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}
	dates := rr.All()
	if rule.EndDate == nil {
		return dates, nil
	}
	end := domain.NaiveWallTime(*rule.EndDate)
	cutoff := time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
	out := dates[:0]
	for _, d := range dates {
		if !d.Before(cutoff) {
			break
		}
		out = append(out, d)
	}
	if len(out) == 0 {
		// The anchor always belongs to its own series.
		out = append(out, anchorStart)
	}
	return out, nil
}

func toFreq(f domain.Frequency) rrule.Frequency {
	switch f {
	case domain.FrequencyDay:
		return rrule.DAILY
	case domain.FrequencyMonth:
		return rrule.MONTHLY
	case domain.FrequencyYear:
		return rrule.YEARLY
	default:
		return rrule.WEEKLY
	}
}

func (r *Reconciler) move(ctx context.Context, eventID string, start, end time.Time) error {
	_, err := r.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.UpdateEvent(eventID, func(e *domain.Event) error {
			e.Start = start
			e.End = end
			return nil
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("move occurrence %s: %w", eventID, err)
	}
	return nil
}

func (r *Reconciler) duplicate(ctx context.Context, anchor domain.Event, start, end time.Time) error {
	occurrence := anchor
	occurrence.Base = domain.Base{}
	occurrence.Start = start
	occurrence.End = end
	occurrence.ResultIDs = nil
	_, err := r.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.CreateEvent(occurrence)
		return err
	})
	if err != nil {
		return fmt.Errorf("create occurrence at %s: %w", start.Format(time.DateTime), err)
	}
	return nil
}

func (r *Reconciler) remove(ctx context.Context, eventID string) error {
	_, err := r.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		return tx.DeleteEvent(eventID)
	})
	if err != nil {
		return fmt.Errorf("delete occurrence %s: %w", eventID, err)
	}
	return nil
}
