package core

import (
	"context"
	"fmt"
)

// NewRepeaterFrequencyRule blocks enabled repeaters with an unknown frequency unit.
func NewRepeaterFrequencyRule() Rule {
	return repeaterFrequencyRule{}
}

type repeaterFrequencyRule struct{}

func (repeaterFrequencyRule) Name() string { return "repeater_frequency" }

func (repeaterFrequencyRule) Evaluate(_ context.Context, _ RuleView, changes []Change) (RuleResult, error) {
	res := RuleResult{}
	for _, change := range changes {
		if change.Entity != EntityRepeater || change.Action == ActionDelete {
			continue
		}
		rule, ok := change.After.(EventRepeater)
		if !ok || !rule.Enabled() || rule.Frequency.Valid() {
			continue
		}
		res.Violations = append(res.Violations, Violation{
			Rule:     "repeater_frequency",
			Severity: SeverityBlock,
			Message:  fmt.Sprintf("repeater %s has unknown frequency %q", rule.ID, rule.Frequency),
			Entity:   EntityRepeater,
			EntityID: rule.ID,
		})
	}
	return res, nil
}
