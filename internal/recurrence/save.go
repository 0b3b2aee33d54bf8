package recurrence

import (
	"campaigncore/pkg/domain"
	"context"
	"errors"
	"fmt"
	"time"
)

// Rule is the editable part of an EventRepeater.
type Rule struct {
	Step      int              `json:"step"`
	Frequency domain.Frequency `json:"frequency"`
	EndDate   *time.Time       `json:"end_date,omitempty"`
	Count     int              `json:"count,omitempty"`
}

// RepeatRequest is the ad-hoc "repeat this event N times" action.
type RepeatRequest struct {
	Step      int              `json:"step"`
	Frequency domain.Frequency `json:"frequency"`
	Count     int              `json:"count"`
	EndDate   *time.Time       `json:"end_date,omitempty"`
}

// Save upserts the rule anchored at eventID, links the anchor into the
// series and reconciles it.
func (r *Reconciler) Save(ctx context.Context, eventID string, rule Rule, now time.Time) (domain.EventRepeater, Report, error) {
	candidate := domain.EventRepeater{
		EventID:   eventID,
		Step:      rule.Step,
		Frequency: rule.Frequency,
		EndDate:   rule.EndDate,
		Count:     rule.Count,
	}
	if err := validate(candidate); err != nil {
		return domain.EventRepeater{}, Report{}, err
	}

	var saved domain.EventRepeater
	_, err := r.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		if _, ok := tx.FindEvent(eventID); !ok {
			return domain.ErrNotFound{Entity: domain.EntityEvent, ID: eventID}
		}
		var err error
		if existing, ok := tx.Snapshot().RepeaterForEvent(eventID); ok {
			saved, err = tx.UpdateRepeater(existing.ID, func(rep *domain.EventRepeater) error {
				rep.Step = candidate.Step
				rep.Frequency = candidate.Frequency
				rep.EndDate = candidate.EndDate
				rep.Count = candidate.Count
				return nil
			})
		} else {
			saved, err = tx.CreateRepeater(candidate)
		}
		if err != nil {
			return err
		}
		anchor, _ := tx.FindEvent(eventID)
		if anchor.InSeries(saved.ID) {
			return nil
		}
		_, err = tx.UpdateEvent(eventID, func(e *domain.Event) error {
			e.RepeaterID = &saved.ID
			return nil
		})
		return err
	})
	if err != nil {
		return domain.EventRepeater{}, Report{}, err
	}
	report, err := r.Reconcile(ctx, saved.ID, now)
	return saved, report, err
}

// Repeat applies the ad-hoc repeat action. The count is clamped to
// Limits.MaxAdHocRepeats.
func (r *Reconciler) Repeat(ctx context.Context, eventID string, req RepeatRequest, now time.Time) (domain.EventRepeater, Report, error) {
	if req.Step <= 0 {
		return domain.EventRepeater{}, Report{}, fmt.Errorf("%w: repeat needs a positive step", ErrInvalidRule)
	}
	if req.Count <= 0 {
		return domain.EventRepeater{}, Report{}, fmt.Errorf("%w: repeat needs a positive count", ErrInvalidRule)
	}
	count := min(req.Count, r.limits.MaxAdHocRepeats)
	return r.Save(ctx, eventID, Rule{
		Step:      req.Step,
		Frequency: req.Frequency,
		EndDate:   req.EndDate,
		Count:     count,
	}, now)
}

// ReconcileAll sweeps every repeater. Disabled rules are visited too so that
// their leftover future occurrences are removed. A failing series is logged
// and skipped; the joined failures are returned after the sweep completes.
func (r *Reconciler) ReconcileAll(ctx context.Context, now time.Time) ([]Report, error) {
	var reports []Report
	var errs []error
	for _, rule := range r.store.ListRepeaters() {
		if err := ctx.Err(); err != nil {
			return reports, err
		}
		report, err := r.Reconcile(ctx, rule.ID, now)
		reports = append(reports, report)
		if err != nil {
			r.logger.ErrorContext(ctx, "series reconciliation failed", "repeater_id", rule.ID, "error", err)
			errs = append(errs, fmt.Errorf("repeater %s: %w", rule.ID, err))
		}
	}
	return reports, errors.Join(errs...)
}
