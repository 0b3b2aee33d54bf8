// Package access decides whether an actor may mutate a campaign entity.
//
// Roles are never assigned per entity. They are inherited through the
// organization→group containment tree: organization managers are staff of
// every group the organization owns, and group organizers are staff of their
// own group. Every check here is a read-only query against a Directory.
package access

import (
	"campaigncore/pkg/domain"
	"errors"
	"fmt"
)

// ErrForbidden is returned by guarded entry points when a check yields Forbid.
var ErrForbidden = errors.New("forbidden")

// SuperuserID is the actor id that bypasses every role check except
// IsNotAnyStaff.
const SuperuserID int64 = 1

// Actor identifies the user on whose behalf an operation runs. The zero value
// is the anonymous actor.
type Actor struct {
	ID int64 `json:"id"`
}

// Anonymous reports whether the actor carries no identity.
func (a Actor) Anonymous() bool { return a.ID <= 0 }

// Superuser reports whether the actor is the superuser sentinel.
func (a Actor) Superuser() bool { return a.ID == SuperuserID }

func (a Actor) String() string {
	if a.Anonymous() {
		return "anonymous"
	}
	return fmt.Sprintf("user:%d", a.ID)
}

// Decision is the outcome of an access check.
type Decision int

const (
	// Forbid means the action is not permitted.
	Forbid Decision = iota
	// Allow means the action is permitted.
	Allow
)

// String returns "allow" or "forbid".
func (d Decision) String() string {
	if d == Allow {
		return "allow"
	}
	return "forbid"
}

// Allowed reports whether the decision is Allow.
func (d Decision) Allowed() bool { return d == Allow }

// Require converts a check outcome into an error: the check's own error when
// present, ErrForbidden on Forbid, nil on Allow.
func Require(d Decision, err error) error {
	if err != nil {
		return err
	}
	if !d.Allowed() {
		return ErrForbidden
	}
	return nil
}

func decide(ok bool) Decision {
	if ok {
		return Allow
	}
	return Forbid
}

// Directory is the read-only slice of the entity repository the resolver
// walks. domain.TransactionView satisfies it.
type Directory interface {
	ListOrganizations() []domain.Organization
	ListGroups() []domain.Group
	FindOrganization(id string) (domain.Organization, bool)
	FindGroup(id string) (domain.Group, bool)
	FindEvent(id string) (domain.Event, bool)
	FindImport(id string) (domain.Import, bool)
	EventForResult(resultID string) (domain.Event, bool)
	GroupsForOrganization(organizationID string) []domain.Group
}

// Resolver answers role questions over a Directory snapshot.
type Resolver struct {
	dir Directory
}

// NewResolver binds a resolver to the supplied directory.
func NewResolver(dir Directory) Resolver {
	return Resolver{dir: dir}
}

// IsManager allows the superuser and the organization's managers.
func (r Resolver) IsManager(organization domain.Organization, actor Actor) Decision {
	if actor.Anonymous() {
		return Forbid
	}
	return decide(actor.Superuser() || organization.HasManager(actor.ID))
}

// IsOrganizer allows the superuser and the group's organizers.
func (r Resolver) IsOrganizer(group domain.Group, actor Actor) Decision {
	if actor.Anonymous() {
		return Forbid
	}
	return decide(actor.Superuser() || group.HasOrganizer(actor.ID))
}

// IsStaff allows managers of the organization and organizers of any group it owns.
func (r Resolver) IsStaff(organization domain.Organization, actor Actor) Decision {
	if r.IsManager(organization, actor).Allowed() {
		return Allow
	}
	if actor.Anonymous() {
		return Forbid
	}
	for _, group := range r.dir.GroupsForOrganization(organization.ID) {
		if group.HasOrganizer(actor.ID) {
			return Allow
		}
	}
	return Forbid
}

// IsGroupStaff allows the superuser, managers of any of the groups' owning
// organizations and organizers of any of the groups. An empty set forbids
// everyone but the superuser.
func (r Resolver) IsGroupStaff(groups []domain.Group, actor Actor) Decision {
	if actor.Anonymous() {
		return Forbid
	}
	if actor.Superuser() {
		return Allow
	}
	for _, group := range groups {
		if group.HasOrganizer(actor.ID) {
			return Allow
		}
		if organization, ok := r.dir.FindOrganization(group.OrganizationID); ok && organization.HasManager(actor.ID) {
			return Allow
		}
	}
	return Forbid
}

// IsAnyManager allows actors managing at least one organization.
func (r Resolver) IsAnyManager(actor Actor) Decision {
	if actor.Anonymous() {
		return Forbid
	}
	if actor.Superuser() {
		return Allow
	}
	for _, organization := range r.dir.ListOrganizations() {
		if organization.HasManager(actor.ID) {
			return Allow
		}
	}
	return Forbid
}

// IsAnyOrganizer allows actors organizing at least one group.
func (r Resolver) IsAnyOrganizer(actor Actor) Decision {
	if actor.Anonymous() {
		return Forbid
	}
	if actor.Superuser() {
		return Allow
	}
	for _, group := range r.dir.ListGroups() {
		if group.HasOrganizer(actor.ID) {
			return Allow
		}
	}
	return Forbid
}

// IsAnyStaff allows actors holding either role anywhere.
func (r Resolver) IsAnyStaff(actor Actor) Decision {
	if r.IsAnyManager(actor).Allowed() {
		return Allow
	}
	return r.IsAnyOrganizer(actor)
}

// IsNotAnyStaff allows actors holding no role anywhere. It evaluates roles
// without the superuser bypass, so the superuser is "not staff" unless listed
// somewhere explicitly.
func (r Resolver) IsNotAnyStaff(actor Actor) Decision {
	if actor.Anonymous() {
		return Forbid
	}
	for _, organization := range r.dir.ListOrganizations() {
		if organization.HasManager(actor.ID) {
			return Forbid
		}
	}
	for _, group := range r.dir.ListGroups() {
		if group.HasOrganizer(actor.ID) {
			return Forbid
		}
	}
	return Allow
}

// CanMutate maps an entity to the permission that guards it: organizations
// require IsManager, everything below requires IsGroupStaff over the owning
// group. A missing entity or a broken ownership chain returns domain.ErrNotFound.
func (r Resolver) CanMutate(ref domain.EntityRef, actor Actor) (Decision, error) {
	if ref.Kind == domain.EntityOrganization {
		organization, ok := r.dir.FindOrganization(ref.ID)
		if !ok {
			return Forbid, domain.ErrNotFound{Entity: ref.Kind, ID: ref.ID}
		}
		return r.IsManager(organization, actor), nil
	}
	group, err := r.OwningGroup(ref)
	if err != nil {
		return Forbid, err
	}
	return r.IsGroupStaff([]domain.Group{group}, actor), nil
}

// CanPublish guards the publish and unpublish actions for the entity.
func (r Resolver) CanPublish(ref domain.EntityRef, actor Actor) (Decision, error) {
	if !ref.Kind.Publishable() {
		return Forbid, fmt.Errorf("%s is not publishable", ref.Kind)
	}
	return r.CanMutate(ref, actor)
}

// OwningGroup resolves the group an entity belongs to.
func (r Resolver) OwningGroup(ref domain.EntityRef) (domain.Group, error) {
	groupID := ""
	switch ref.Kind {
	case domain.EntityGroup:
		groupID = ref.ID
	case domain.EntityEvent:
		event, ok := r.dir.FindEvent(ref.ID)
		if !ok {
			return domain.Group{}, domain.ErrNotFound{Entity: ref.Kind, ID: ref.ID}
		}
		groupID = event.GroupID
	case domain.EntityImport:
		imp, ok := r.dir.FindImport(ref.ID)
		if !ok {
			return domain.Group{}, domain.ErrNotFound{Entity: ref.Kind, ID: ref.ID}
		}
		groupID = imp.GroupID
	case domain.EntityResult:
		event, ok := r.dir.EventForResult(ref.ID)
		if !ok {
			return domain.Group{}, domain.ErrNotFound{Entity: ref.Kind, ID: ref.ID}
		}
		groupID = event.GroupID
	default:
		return domain.Group{}, fmt.Errorf("%s has no owning group", ref.Kind)
	}
	group, ok := r.dir.FindGroup(groupID)
	if !ok {
		return domain.Group{}, domain.ErrNotFound{Entity: domain.EntityGroup, ID: groupID}
	}
	return group, nil
}
