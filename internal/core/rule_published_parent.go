package core

import (
	"context"
	"fmt"
)

// NewPublishedParentRule warns when an entity is visible while its parent is not.
// It never blocks: publication cascades run top-down in separate transactions.
func NewPublishedParentRule() Rule {
	return publishedParentRule{}
}

type publishedParentRule struct{}

func (publishedParentRule) Name() string { return "published_parent" }

func (publishedParentRule) Evaluate(_ context.Context, view RuleView, changes []Change) (RuleResult, error) {
	res := RuleResult{}
	warn := func(entity EntityType, id, parent string) {
		res.Violations = append(res.Violations, Violation{
			Rule:     "published_parent",
			Severity: SeverityWarn,
			Message:  fmt.Sprintf("%s %s is published under unpublished %s", entity, id, parent),
			Entity:   entity,
			EntityID: id,
		})
	}
	groupHidden := func(id string) bool {
		group, ok := view.FindGroup(id)
		return ok && !group.Published
	}
	for _, change := range changes {
		if change.Action == ActionDelete {
			continue
		}
		switch after := change.After.(type) {
		case Group:
			if !after.Published {
				continue
			}
			if org, ok := view.FindOrganization(after.OrganizationID); ok && !org.Published {
				warn(EntityGroup, after.ID, "organization "+org.ID)
			}
		case Event:
			if after.Published && groupHidden(after.GroupID) {
				warn(EntityEvent, after.ID, "group "+after.GroupID)
			}
		case Import:
			if after.Published && groupHidden(after.GroupID) {
				warn(EntityImport, after.ID, "group "+after.GroupID)
			}
		case Result:
			if !after.Published {
				continue
			}
			if event, ok := view.EventForResult(after.ID); ok && !event.Published {
				warn(EntityResult, after.ID, "event "+event.ID)
			}
		}
	}
	return res, nil
}
