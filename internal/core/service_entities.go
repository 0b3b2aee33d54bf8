package core

import (
	"context"
	"errors"
	"fmt"

	"campaigncore/internal/access"
	"campaigncore/pkg/domain"
)

// ErrOwnershipChange is returned when an update tries to move an entity to a
// different parent.
var ErrOwnershipChange = errors.New("ownership cannot change")

func superuserOnly(actor Actor) func(access.Resolver, TransactionView) (access.Decision, error) {
	return func(access.Resolver, TransactionView) (access.Decision, error) {
		if actor.Superuser() {
			return access.Allow, nil
		}
		return access.Forbid, nil
	}
}

func managerOf(organizationID string, actor Actor) func(access.Resolver, TransactionView) (access.Decision, error) {
	return func(r access.Resolver, view TransactionView) (access.Decision, error) {
		organization, ok := view.FindOrganization(organizationID)
		if !ok {
			return access.Forbid, ErrNotFound{Entity: EntityOrganization, ID: organizationID}
		}
		return r.IsManager(organization, actor), nil
	}
}

func staffOf(groupID string, actor Actor) func(access.Resolver, TransactionView) (access.Decision, error) {
	return func(r access.Resolver, view TransactionView) (access.Decision, error) {
		group, ok := view.FindGroup(groupID)
		if !ok {
			return access.Forbid, ErrNotFound{Entity: EntityGroup, ID: groupID}
		}
		return r.IsGroupStaff([]Group{group}, actor), nil
	}
}

// CreateOrganization persists a new organization. Only the superuser may
// create organizations.
func (s *Service) CreateOrganization(ctx context.Context, actor Actor, organization Organization) (Organization, RuleResult, error) {
	var created Organization
	var res RuleResult
	err := s.run(ctx, "create_organization", actor, func(ctx context.Context) (EntityRef, error) {
		var err error
		res, err = s.guarded(ctx, superuserOnly(actor), func(tx Transaction) error {
			created, err = tx.CreateOrganization(organization)
			return err
		})
		return domain.OrganizationRef(created.ID), err
	})
	return created, res, err
}

// UpdateOrganization mutates an organization the actor manages.
func (s *Service) UpdateOrganization(ctx context.Context, actor Actor, id string, mutator func(*Organization) error) (Organization, RuleResult, error) {
	var updated Organization
	var res RuleResult
	ref := domain.OrganizationRef(id)
	err := s.run(ctx, "update_organization", actor, func(ctx context.Context) (EntityRef, error) {
		var err error
		res, err = s.guarded(ctx, canMutate(ref, actor), func(tx Transaction) error {
			updated, err = tx.UpdateOrganization(id, mutator)
			return err
		})
		return ref, err
	})
	return updated, res, err
}

// DeleteOrganization removes an organization without groups.
func (s *Service) DeleteOrganization(ctx context.Context, actor Actor, id string) (RuleResult, error) {
	var res RuleResult
	ref := domain.OrganizationRef(id)
	err := s.run(ctx, "delete_organization", actor, func(ctx context.Context) (EntityRef, error) {
		var err error
		res, err = s.guarded(ctx, canMutate(ref, actor), func(tx Transaction) error {
			return tx.DeleteOrganization(id)
		})
		return ref, err
	})
	return res, err
}

// CreateGroup persists a group under an organization the actor manages.
func (s *Service) CreateGroup(ctx context.Context, actor Actor, group Group) (Group, RuleResult, error) {
	var created Group
	var res RuleResult
	err := s.run(ctx, "create_group", actor, func(ctx context.Context) (EntityRef, error) {
		var err error
		res, err = s.guarded(ctx, managerOf(group.OrganizationID, actor), func(tx Transaction) error {
			created, err = tx.CreateGroup(group)
			return err
		})
		return domain.GroupRef(created.ID), err
	})
	return created, res, err
}

// UpdateGroup mutates a group. The owning organization cannot change.
func (s *Service) UpdateGroup(ctx context.Context, actor Actor, id string, mutator func(*Group) error) (Group, RuleResult, error) {
	var updated Group
	var res RuleResult
	ref := domain.GroupRef(id)
	err := s.run(ctx, "update_group", actor, func(ctx context.Context) (EntityRef, error) {
		var err error
		res, err = s.guarded(ctx, canMutate(ref, actor), func(tx Transaction) error {
			updated, err = tx.UpdateGroup(id, func(g *Group) error {
				owner := g.OrganizationID
				if err := mutator(g); err != nil {
					return err
				}
				if g.OrganizationID != owner {
					return fmt.Errorf("group %s: %w", id, ErrOwnershipChange)
				}
				return nil
			})
			return err
		})
		return ref, err
	})
	return updated, res, err
}

// DeleteGroup removes a group without events or imports. Requires a manager
// of the owning organization.
func (s *Service) DeleteGroup(ctx context.Context, actor Actor, id string) (RuleResult, error) {
	var res RuleResult
	ref := domain.GroupRef(id)
	err := s.run(ctx, "delete_group", actor, func(ctx context.Context) (EntityRef, error) {
		check := func(r access.Resolver, view TransactionView) (access.Decision, error) {
			group, ok := view.FindGroup(id)
			if !ok {
				return access.Forbid, ErrNotFound{Entity: EntityGroup, ID: id}
			}
			return managerOf(group.OrganizationID, actor)(r, view)
		}
		var err error
		res, err = s.guarded(ctx, check, func(tx Transaction) error {
			return tx.DeleteGroup(id)
		})
		return ref, err
	})
	return res, err
}

// CreateEvent persists an event in a group the actor staffs.
func (s *Service) CreateEvent(ctx context.Context, actor Actor, event Event) (Event, RuleResult, error) {
	var created Event
	var res RuleResult
	err := s.run(ctx, "create_event", actor, func(ctx context.Context) (EntityRef, error) {
		var err error
		res, err = s.guarded(ctx, staffOf(event.GroupID, actor), func(tx Transaction) error {
			if event.ImportID != nil {
				if err := sameGroupImport(tx.Snapshot(), event.GroupID, *event.ImportID); err != nil {
					return err
				}
			}
			created, err = tx.CreateEvent(event)
			return err
		})
		return domain.EventRef(created.ID), err
	})
	return created, res, err
}

// UpdateEvent mutates an event. When the event anchors an enabled repeater
// the series is reconciled after the update commits; a reconciliation
// failure is returned alongside the committed event.
func (s *Service) UpdateEvent(ctx context.Context, actor Actor, id string, mutator func(*Event) error) (Event, RuleResult, error) {
	var updated Event
	var res RuleResult
	ref := domain.EventRef(id)
	var anchored *EventRepeater
	err := s.run(ctx, "update_event", actor, func(ctx context.Context) (EntityRef, error) {
		var err error
		res, err = s.guarded(ctx, canMutate(ref, actor), func(tx Transaction) error {
			updated, err = tx.UpdateEvent(id, func(e *Event) error {
				owner := e.GroupID
				if err := mutator(e); err != nil {
					return err
				}
				if e.GroupID != owner {
					return fmt.Errorf("event %s: %w", id, ErrOwnershipChange)
				}
				return nil
			})
			if err != nil {
				return err
			}
			if updated.ImportID != nil {
				if err := sameGroupImport(tx.Snapshot(), updated.GroupID, *updated.ImportID); err != nil {
					return err
				}
			}
			if rule, ok := tx.Snapshot().RepeaterForEvent(id); ok && rule.Enabled() {
				anchored = &rule
			}
			return nil
		})
		if err != nil || anchored == nil {
			return ref, err
		}
		if _, err := s.reconciler.Reconcile(ctx, anchored.ID, s.now()); err != nil {
			return ref, fmt.Errorf("reconcile series %s: %w", anchored.ID, err)
		}
		return ref, nil
	})
	return updated, res, err
}

// DeleteEvent removes an event together with the results only it references
// and the repeater anchored at it.
func (s *Service) DeleteEvent(ctx context.Context, actor Actor, id string) (RuleResult, error) {
	var res RuleResult
	ref := domain.EventRef(id)
	err := s.run(ctx, "delete_event", actor, func(ctx context.Context) (EntityRef, error) {
		var err error
		res, err = s.guarded(ctx, canMutate(ref, actor), func(tx Transaction) error {
			return tx.DeleteEvent(id)
		})
		return ref, err
	})
	return res, err
}

func sameGroupImport(view TransactionView, groupID, importID string) error {
	imp, ok := view.FindImport(importID)
	if !ok {
		return ErrNotFound{Entity: EntityImport, ID: importID}
	}
	if imp.GroupID != groupID {
		return fmt.Errorf("import %s belongs to group %s, not %s", importID, imp.GroupID, groupID)
	}
	return nil
}

// CreateImport persists an import batch in a group the actor staffs.
func (s *Service) CreateImport(ctx context.Context, actor Actor, imp Import) (Import, RuleResult, error) {
	var created Import
	var res RuleResult
	err := s.run(ctx, "create_import", actor, func(ctx context.Context) (EntityRef, error) {
		var err error
		res, err = s.guarded(ctx, staffOf(imp.GroupID, actor), func(tx Transaction) error {
			created, err = tx.CreateImport(imp)
			return err
		})
		return domain.ImportRef(created.ID), err
	})
	return created, res, err
}

// UpdateImport mutates an import. The owning group cannot change.
func (s *Service) UpdateImport(ctx context.Context, actor Actor, id string, mutator func(*Import) error) (Import, RuleResult, error) {
	var updated Import
	var res RuleResult
	ref := domain.ImportRef(id)
	err := s.run(ctx, "update_import", actor, func(ctx context.Context) (EntityRef, error) {
		var err error
		res, err = s.guarded(ctx, canMutate(ref, actor), func(tx Transaction) error {
			updated, err = tx.UpdateImport(id, func(i *Import) error {
				owner := i.GroupID
				if err := mutator(i); err != nil {
					return err
				}
				if i.GroupID != owner {
					return fmt.Errorf("import %s: %w", id, ErrOwnershipChange)
				}
				return nil
			})
			return err
		})
		return ref, err
	})
	return updated, res, err
}

// DeleteImport removes an import that no event references.
func (s *Service) DeleteImport(ctx context.Context, actor Actor, id string) (RuleResult, error) {
	var res RuleResult
	ref := domain.ImportRef(id)
	err := s.run(ctx, "delete_import", actor, func(ctx context.Context) (EntityRef, error) {
		var err error
		res, err = s.guarded(ctx, canMutate(ref, actor), func(tx Transaction) error {
			return tx.DeleteImport(id)
		})
		return ref, err
	})
	return res, err
}

// CreateResult persists a result and attaches it to the event.
func (s *Service) CreateResult(ctx context.Context, actor Actor, eventID string, result Result) (Result, RuleResult, error) {
	var created Result
	var res RuleResult
	err := s.run(ctx, "create_result", actor, func(ctx context.Context) (EntityRef, error) {
		var err error
		res, err = s.guarded(ctx, canMutate(domain.EventRef(eventID), actor), func(tx Transaction) error {
			created, err = tx.CreateResult(result)
			if err != nil {
				return err
			}
			_, err = tx.UpdateEvent(eventID, func(e *Event) error {
				e.ResultIDs = append(e.ResultIDs, created.ID)
				return nil
			})
			return err
		})
		return domain.ResultRef(created.ID), err
	})
	return created, res, err
}

// UpdateResult mutates a result attached to an event the actor staffs.
func (s *Service) UpdateResult(ctx context.Context, actor Actor, id string, mutator func(*Result) error) (Result, RuleResult, error) {
	var updated Result
	var res RuleResult
	ref := domain.ResultRef(id)
	err := s.run(ctx, "update_result", actor, func(ctx context.Context) (EntityRef, error) {
		var err error
		res, err = s.guarded(ctx, canMutate(ref, actor), func(tx Transaction) error {
			updated, err = tx.UpdateResult(id, mutator)
			return err
		})
		return ref, err
	})
	return updated, res, err
}

// DeleteResult removes a result and detaches it from every event.
func (s *Service) DeleteResult(ctx context.Context, actor Actor, id string) (RuleResult, error) {
	var res RuleResult
	ref := domain.ResultRef(id)
	err := s.run(ctx, "delete_result", actor, func(ctx context.Context) (EntityRef, error) {
		var err error
		res, err = s.guarded(ctx, canMutate(ref, actor), func(tx Transaction) error {
			return tx.DeleteResult(id)
		})
		return ref, err
	})
	return res, err
}
