// Package domain defines the persistent campaign entities, value types, and
// rule evaluation primitives used by campaigncore.
package domain

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// EntityType identifies the type of record stored in the core domain.
type EntityType string

// Supported entity type identifiers used in Change records and persistence buckets.
const (
	// EntityOrganization identifies the root of the containment hierarchy.
	EntityOrganization EntityType = "organization"
	// EntityGroup identifies a group owned by an organization.
	EntityGroup EntityType = "group"
	// EntityEvent identifies a scheduled event owned by a group.
	EntityEvent EntityType = "event"
	// EntityImport identifies a batch of events brought in from an external source.
	EntityImport EntityType = "import"
	// EntityResult identifies an outcome record attached to an event.
	EntityResult EntityType = "result"
	// EntityRepeater identifies the recurrence rule attached to an anchor event.
	EntityRepeater EntityType = "event_repeater"
)

// Publishable reports whether the entity type carries a published flag.
func (t EntityType) Publishable() bool {
	switch t {
	case EntityOrganization, EntityGroup, EntityEvent, EntityImport, EntityResult:
		return true
	default:
		return false
	}
}

// TimezoneInherit is the group timezone sentinel meaning "use the organization's zone".
const TimezoneInherit = "inherit"

// Frequency is the unit a recurrence rule steps by.
type Frequency string

// Supported recurrence frequency units.
const (
	FrequencyDay   Frequency = "day"
	FrequencyWeek  Frequency = "week"
	FrequencyMonth Frequency = "month"
	FrequencyYear  Frequency = "year"
)

// Valid reports whether the frequency is one of the supported units.
func (f Frequency) Valid() bool {
	switch f {
	case FrequencyDay, FrequencyWeek, FrequencyMonth, FrequencyYear:
		return true
	default:
		return false
	}
}

// Severity captures rule outcomes.
type Severity string

// Rule evaluation severities determine commit behavior and logging.
const (
	// SeverityBlock blocks transaction commit.
	SeverityBlock Severity = "block"
	// SeverityWarn logs a warning but allows commit.
	SeverityWarn Severity = "warn"
	SeverityLog  Severity = "log"
)

// Base contains common fields for all domain records. Revision starts at 1
// and is incremented by the store on every persisted update.
type Base struct {
	ID        string    `json:"id"`
	Revision  int64     `json:"revision"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Organization is the root of the containment hierarchy.
type Organization struct {
	Base
	Title     string  `json:"title"`
	Timezone  string  `json:"timezone"`
	Managers  []int64 `json:"managers"`
	Published bool    `json:"published"`
}

// HasManager reports whether the user id is listed as a manager.
func (o Organization) HasManager(userID int64) bool {
	return slices.Contains(o.Managers, userID)
}

// Group belongs to exactly one organization and owns events and imports.
type Group struct {
	Base
	OrganizationID string  `json:"organization_id"`
	Title          string  `json:"title"`
	Organizers     []int64 `json:"organizers"`
	// Timezone is either TimezoneInherit or an IANA zone name.
	Timezone  string `json:"timezone"`
	Published bool   `json:"published"`
}

// HasOrganizer reports whether the user id is listed as an organizer.
func (g Group) HasOrganizer(userID int64) bool {
	return slices.Contains(g.Organizers, userID)
}

// InheritsTimezone reports whether the group defers to its organization's zone.
func (g Group) InheritsTimezone() bool {
	return g.Timezone == "" || g.Timezone == TimezoneInherit
}

// Event is a single occurrence. Start and End are timezone-naive wall-clock
// values stored in UTC and interpreted in the owning group's effective zone.
// Stores normalize them with NaiveWallTime on every write.
type Event struct {
	Base
	GroupID     string    `json:"group_id"`
	Title       string    `json:"title"`
	Location    string    `json:"location,omitempty"`
	Description string    `json:"description,omitempty"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Published   bool      `json:"published"`
	RepeaterID  *string   `json:"repeater_id,omitempty"`
	ImportID    *string   `json:"import_id,omitempty"`
	ResultIDs   []string  `json:"result_ids"`
}

// Duration returns the span between start and end.
func (e Event) Duration() time.Duration {
	return e.End.Sub(e.Start)
}

// InSeries reports whether the event belongs to the given repeater's series.
func (e Event) InSeries(repeaterID string) bool {
	return e.RepeaterID != nil && *e.RepeaterID == repeaterID
}

// Import groups events that were brought in together from one external source.
type Import struct {
	Base
	GroupID   string `json:"group_id"`
	Title     string `json:"title"`
	Source    string `json:"source,omitempty"`
	Published bool   `json:"published"`
}

// Result records an outcome of an event. Ownership is expressed through
// Event.ResultIDs.
type Result struct {
	Base
	Title     string `json:"title"`
	Summary   string `json:"summary,omitempty"`
	Published bool   `json:"published"`
}

// EventRepeater holds the recurrence rule for a series anchored at EventID.
type EventRepeater struct {
	Base
	EventID   string     `json:"event_id"`
	Step      int        `json:"step"`
	Frequency Frequency  `json:"frequency"`
	EndDate   *time.Time `json:"end_date,omitempty"`
	// Count overrides the default series length when set by the ad-hoc repeat action.
	Count int `json:"count,omitempty"`
}

// Enabled reports whether the rule generates occurrences. A zero or unset step
// disables generation.
func (r EventRepeater) Enabled() bool {
	return r.Step > 0
}

// PublishState is the target of a publication cascade.
type PublishState string

// Cascade targets.
const (
	StatePublish   PublishState = "publish"
	StateUnpublish PublishState = "unpublish"
)

// Published maps the state to the flag value stored on entities.
func (s PublishState) Published() bool {
	return s == StatePublish
}

// Valid reports whether the state is a known target.
func (s PublishState) Valid() bool {
	return s == StatePublish || s == StateUnpublish
}

// EntityRef identifies one publishable entity. It is the closed set of
// variants the publication cascade dispatches on.
type EntityRef struct {
	Kind EntityType `json:"kind"`
	ID   string     `json:"id"`
}

// Ref helpers keep call sites short.
func OrganizationRef(id string) EntityRef { return EntityRef{Kind: EntityOrganization, ID: id} }
func GroupRef(id string) EntityRef        { return EntityRef{Kind: EntityGroup, ID: id} }
func EventRef(id string) EntityRef        { return EntityRef{Kind: EntityEvent, ID: id} }
func ImportRef(id string) EntityRef       { return EntityRef{Kind: EntityImport, ID: id} }
func ResultRef(id string) EntityRef       { return EntityRef{Kind: EntityResult, ID: id} }

// String renders the ref as "kind:id".
func (r EntityRef) String() string {
	return string(r.Kind) + ":" + r.ID
}

// ParseEntityRef is the inverse of EntityRef.String.
func ParseEntityRef(s string) (EntityRef, error) {
	kind, id, ok := strings.Cut(s, ":")
	if !ok || id == "" {
		return EntityRef{}, fmt.Errorf("malformed entity ref %q", s)
	}
	ref := EntityRef{Kind: EntityType(kind), ID: id}
	if !ref.Kind.Publishable() {
		return EntityRef{}, fmt.Errorf("entity ref %q: %s is not publishable", s, kind)
	}
	return ref, nil
}

// Change describes a mutation applied to an entity during a transaction.
type Change struct {
	Entity EntityType
	Action Action
	Before any
	After  any
}

// Action indicates the type of modification performed.
type Action string

// Change actions enumerate supported CRUD operations captured in audit trail.
const (
	// ActionCreate indicates an entity was created.
	ActionCreate Action = "create"
	// ActionUpdate indicates an entity was updated.
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Violation reports a failed rule evaluation.
type Violation struct {
	Rule     string
	Severity Severity
	Message  string
	Entity   EntityType
	EntityID string
}

// RuleResult aggregates violations from the rules engine.
type RuleResult struct {
	Violations []Violation
}

// Merge appends violations from another result.
func (r *RuleResult) Merge(other RuleResult) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking returns true if the result contains blocking violations.
func (r RuleResult) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// RuleViolationError is returned when blocking violations are present.
type RuleViolationError struct {
	Result RuleResult
}

func (e RuleViolationError) Error() string {
	for _, v := range e.Result.Violations {
		if v.Severity == SeverityBlock {
			return "transaction blocked by rules: " + v.Message
		}
	}
	return "transaction blocked by rules"
}
