package core

import (
	"context"

	"campaigncore/internal/batch"
	"campaigncore/pkg/domain"
)

// SaveRepeater upserts the recurrence rule anchored at eventID and reconciles
// the series.
func (s *Service) SaveRepeater(ctx context.Context, actor Actor, eventID string, rule RepeaterRule) (EventRepeater, ReconcileReport, error) {
	var saved EventRepeater
	var report ReconcileReport
	err := s.run(ctx, "save_repeater", actor, func(ctx context.Context) (EntityRef, error) {
		ref := domain.EventRef(eventID)
		if err := s.viewGuard(ctx, canMutate(ref, actor)); err != nil {
			return ref, err
		}
		var err error
		saved, report, err = s.reconciler.Save(ctx, eventID, rule, s.now())
		return EntityRef{Kind: EntityRepeater, ID: saved.ID}, err
	})
	return saved, report, err
}

// RepeatEvent applies the ad-hoc "repeat N times" action to an event.
func (s *Service) RepeatEvent(ctx context.Context, actor Actor, eventID string, req RepeatRequest) (EventRepeater, ReconcileReport, error) {
	var saved EventRepeater
	var report ReconcileReport
	err := s.run(ctx, "repeat_event", actor, func(ctx context.Context) (EntityRef, error) {
		ref := domain.EventRef(eventID)
		if err := s.viewGuard(ctx, canMutate(ref, actor)); err != nil {
			return ref, err
		}
		var err error
		saved, report, err = s.reconciler.Repeat(ctx, eventID, req, s.now())
		return EntityRef{Kind: EntityRepeater, ID: saved.ID}, err
	})
	return saved, report, err
}

// ReconcileAll runs the periodic sweep over every enabled repeater. It is a
// system operation and carries the anonymous actor in the audit trail.
func (s *Service) ReconcileAll(ctx context.Context) ([]ReconcileReport, error) {
	var reports []ReconcileReport
	err := s.run(ctx, "reconcile_all", Actor{}, func(ctx context.Context) (EntityRef, error) {
		var err error
		reports, err = s.reconciler.ReconcileAll(ctx, s.now())
		return EntityRef{Kind: EntityRepeater}, err
	})
	return reports, err
}

// Publish submits a cascade that publishes root and everything under it.
func (s *Service) Publish(ctx context.Context, actor Actor, root EntityRef) (Job, error) {
	return s.cascade(ctx, "publish", actor, root, domain.StatePublish)
}

// Unpublish submits a cascade that hides root and everything under it.
func (s *Service) Unpublish(ctx context.Context, actor Actor, root EntityRef) (Job, error) {
	return s.cascade(ctx, "unpublish", actor, root, domain.StateUnpublish)
}

func (s *Service) cascade(ctx context.Context, op string, actor Actor, root EntityRef, target PublishState) (Job, error) {
	var job Job
	err := s.run(ctx, op, actor, func(ctx context.Context) (EntityRef, error) {
		var err error
		job, err = s.cascader.Cascade(ctx, actor, root, target)
		return root, err
	})
	return job, err
}

// Job returns the current state of a batch job.
func (s *Service) Job(id string) (Job, bool) {
	return s.runner.Get(id)
}

// StepJob executes one step of a job.
func (s *Service) StepJob(ctx context.Context, id string) (Progress, error) {
	return s.runner.Step(ctx, id)
}

// RunJob steps a job until it reaches a terminal state.
func (s *Service) RunJob(ctx context.Context, id string) (Job, error) {
	return s.runner.Run(ctx, id)
}

// ResumeJobs re-queues checkpointed jobs that had not finished.
func (s *Service) ResumeJobs(ctx context.Context) (int, error) {
	n, err := s.runner.Resume(ctx)
	if err != nil {
		return n, err
	}
	if n > 0 {
		s.logger.Info("resumed batch jobs", "count", n)
	}
	return n, nil
}

// Calendar renders the iCalendar feed of a published group.
func (s *Service) Calendar(ctx context.Context, groupID string) ([]byte, error) {
	return s.feed.Render(ctx, groupID)
}

// SnapshotCalendars writes every published group's feed to the blob store.
func (s *Service) SnapshotCalendars(ctx context.Context) (int, error) {
	if s.blobs == nil {
		return 0, nil
	}
	return s.feed.SnapshotAll(ctx)
}

var _ batch.AuditLogger = jobAudit{}
