package core

import (
	"context"
	"fmt"
)

// NewEventWindowRule blocks events whose end precedes their start.
func NewEventWindowRule() Rule {
	return eventWindowRule{}
}

type eventWindowRule struct{}

func (eventWindowRule) Name() string { return "event_window" }

func (eventWindowRule) Evaluate(_ context.Context, _ RuleView, changes []Change) (RuleResult, error) {
	res := RuleResult{}
	for _, change := range changes {
		if change.Entity != EntityEvent || change.Action == ActionDelete {
			continue
		}
		event, ok := change.After.(Event)
		if !ok {
			continue
		}
		if event.End.Before(event.Start) {
			res.Violations = append(res.Violations, Violation{
				Rule:     "event_window",
				Severity: SeverityBlock,
				Message:  fmt.Sprintf("event %s ends at %s before it starts at %s", event.ID, event.End.Format("2006-01-02T15:04"), event.Start.Format("2006-01-02T15:04")),
				Entity:   EntityEvent,
				EntityID: event.ID,
			})
		}
	}
	return res, nil
}
