package domain

import (
	"context"
	"time"
)

// Transaction exposes the domain operations that a persistence implementation
// must support within an atomic scope.
type Transaction interface {
	Snapshot() TransactionView
	CreateOrganization(Organization) (Organization, error)
	UpdateOrganization(id string, mutator func(*Organization) error) (Organization, error)
	DeleteOrganization(id string) error
	CreateGroup(Group) (Group, error)
	UpdateGroup(id string, mutator func(*Group) error) (Group, error)
	DeleteGroup(id string) error
	CreateEvent(Event) (Event, error)
	UpdateEvent(id string, mutator func(*Event) error) (Event, error)
	DeleteEvent(id string) error
	CreateImport(Import) (Import, error)
	UpdateImport(id string, mutator func(*Import) error) (Import, error)
	DeleteImport(id string) error
	CreateResult(Result) (Result, error)
	UpdateResult(id string, mutator func(*Result) error) (Result, error)
	DeleteResult(id string) error
	CreateRepeater(EventRepeater) (EventRepeater, error)
	UpdateRepeater(id string, mutator func(*EventRepeater) error) (EventRepeater, error)
	DeleteRepeater(id string) error
	FindOrganization(id string) (Organization, bool)
	FindGroup(id string) (Group, bool)
	FindEvent(id string) (Event, bool)
	FindRepeater(id string) (EventRepeater, bool)
}

// TransactionView provides read-only access to snapshot data for rules,
// access checks and hierarchy traversal. Reverse lookups are answered from
// the child-holds-parent-id ownership links.
type TransactionView interface {
	ListOrganizations() []Organization
	ListGroups() []Group
	ListRepeaters() []EventRepeater
	FindOrganization(id string) (Organization, bool)
	FindGroup(id string) (Group, bool)
	FindEvent(id string) (Event, bool)
	FindImport(id string) (Import, bool)
	FindResult(id string) (Result, bool)
	FindRepeater(id string) (EventRepeater, bool)
	// RepeaterForEvent returns the rule anchored at the given event.
	RepeaterForEvent(eventID string) (EventRepeater, bool)
	GroupsForOrganization(organizationID string) []Group
	EventsForGroup(groupID string) []Event
	ImportsForGroup(groupID string) []Import
	EventsForImport(importID string) []Event
	// EventForResult returns the event whose ResultIDs reference the result.
	EventForResult(resultID string) (Event, bool)
	// EventsForRepeater returns series members starting at or after from,
	// ordered by start ascending.
	EventsForRepeater(repeaterID string, from time.Time) []Event
}

// PersistentStore is a minimal abstraction over durable backends. It mirrors
// the subset of store capabilities used directly by higher layers.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (RuleResult, error)
	View(ctx context.Context, fn func(TransactionView) error) error
	GetOrganization(id string) (Organization, bool)
	GetGroup(id string) (Group, bool)
	GetEvent(id string) (Event, bool)
	ListOrganizations() []Organization
	ListGroups() []Group
	ListEvents() []Event
	ListRepeaters() []EventRepeater
}
