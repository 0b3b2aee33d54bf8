// Package memory provides an in-memory implementation of the core persistence
// store used for tests and ephemeral environments.
package memory

import (
	"campaigncore/pkg/domain"
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Compile-time contract assertions ensuring memory.Store adheres to the domain persistence interfaces.
var _ domain.PersistentStore = (*Store)(nil)

type (
	// Organization aliases domain.Organization for in-memory persistence operations.
	Organization = domain.Organization
	// Group aliases domain.Group.
	Group = domain.Group
	// Event aliases domain.Event.
	Event = domain.Event
	// Import aliases domain.Import.
	Import = domain.Import
	// Result aliases domain.Result.
	Result = domain.Result
	// EventRepeater aliases domain.EventRepeater.
	EventRepeater = domain.EventRepeater
	// Change aliases domain.Change captured in transactions.
	Change = domain.Change
	// RuleResult aliases domain.RuleResult summarizing rule evaluation.
	RuleResult = domain.RuleResult
	// RulesEngine aliases domain.RulesEngine used to evaluate rules.
	RulesEngine = domain.RulesEngine
	// Transaction aliases domain.Transaction representing a mutable unit of work.
	Transaction = domain.Transaction
	// TransactionView aliases domain.TransactionView providing read-only state.
	TransactionView = domain.TransactionView
)

type memoryState struct {
	organizations map[string]Organization
	groups        map[string]Group
	events        map[string]Event
	imports       map[string]Import
	results       map[string]Result
	repeaters     map[string]EventRepeater
}

// Snapshot captures a point-in-time clone of the store state.
type Snapshot struct {
	Organizations map[string]Organization  `json:"organizations"`
	Groups        map[string]Group         `json:"groups"`
	Events        map[string]Event         `json:"events"`
	Imports       map[string]Import        `json:"imports"`
	Results       map[string]Result        `json:"results"`
	Repeaters     map[string]EventRepeater `json:"repeaters"`
}

func newMemoryState() memoryState {
	return memoryState{
		organizations: make(map[string]Organization),
		groups:        make(map[string]Group),
		events:        make(map[string]Event),
		imports:       make(map[string]Import),
		results:       make(map[string]Result),
		repeaters:     make(map[string]EventRepeater),
	}
}

func snapshotFromMemoryState(state memoryState) Snapshot {
	cloned := state.clone()
	return Snapshot{
		Organizations: cloned.organizations,
		Groups:        cloned.groups,
		Events:        cloned.events,
		Imports:       cloned.imports,
		Results:       cloned.results,
		Repeaters:     cloned.repeaters,
	}
}

func memoryStateFromSnapshot(s Snapshot) memoryState {
	return memoryState{
		organizations: s.Organizations,
		groups:        s.Groups,
		events:        s.Events,
		imports:       s.Imports,
		results:       s.Results,
		repeaters:     s.Repeaters,
	}.clone()
}

// migrateSnapshot fills buckets missing from older or partial snapshots and
// drops dangling references so an imported state satisfies the store's
// ownership invariants.
func migrateSnapshot(snapshot Snapshot) Snapshot {
	if snapshot.Organizations == nil {
		snapshot.Organizations = map[string]Organization{}
	}
	if snapshot.Groups == nil {
		snapshot.Groups = map[string]Group{}
	}
	if snapshot.Events == nil {
		snapshot.Events = map[string]Event{}
	}
	if snapshot.Imports == nil {
		snapshot.Imports = map[string]Import{}
	}
	if snapshot.Results == nil {
		snapshot.Results = map[string]Result{}
	}
	if snapshot.Repeaters == nil {
		snapshot.Repeaters = map[string]EventRepeater{}
	}
	for id, event := range snapshot.Events {
		if event.ImportID != nil {
			if _, ok := snapshot.Imports[*event.ImportID]; !ok {
				event.ImportID = nil
			}
		}
		if event.RepeaterID != nil {
			if _, ok := snapshot.Repeaters[*event.RepeaterID]; !ok {
				event.RepeaterID = nil
			}
		}
		event.ResultIDs = slices.DeleteFunc(slices.Clone(event.ResultIDs), func(resultID string) bool {
			_, ok := snapshot.Results[resultID]
			return !ok
		})
		snapshot.Events[id] = event
	}
	for id, repeater := range snapshot.Repeaters {
		if _, ok := snapshot.Events[repeater.EventID]; !ok {
			delete(snapshot.Repeaters, id)
		}
	}
	return snapshot
}

func (s memoryState) clone() memoryState {
	cloned := newMemoryState()
	for k, v := range s.organizations {
		cloned.organizations[k] = cloneOrganization(v)
	}
	for k, v := range s.groups {
		cloned.groups[k] = cloneGroup(v)
	}
	for k, v := range s.events {
		cloned.events[k] = cloneEvent(v)
	}
	for k, v := range s.imports {
		cloned.imports[k] = v
	}
	for k, v := range s.results {
		cloned.results[k] = v
	}
	for k, v := range s.repeaters {
		cloned.repeaters[k] = cloneRepeater(v)
	}
	return cloned
}

func cloneOrganization(o Organization) Organization {
	o.Managers = slices.Clone(o.Managers)
	return o
}

func cloneGroup(g Group) Group {
	g.Organizers = slices.Clone(g.Organizers)
	return g
}

func cloneEvent(e Event) Event {
	e.RepeaterID = cloneStringPtr(e.RepeaterID)
	e.ImportID = cloneStringPtr(e.ImportID)
	e.ResultIDs = slices.Clone(e.ResultIDs)
	return e
}

func cloneRepeater(r EventRepeater) EventRepeater {
	if r.EndDate != nil {
		end := *r.EndDate
		r.EndDate = &end
	}
	return r
}

func cloneStringPtr(v *string) *string {
	if v == nil {
		return nil
	}
	cp := *v
	return &cp
}

func dedupeStrings(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// byCreation orders records by creation time with the id as tie-break so list
// results are stable across map iterations.
func byCreation(a, b domain.Base) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// Store provides an in-memory transactional store for the core domain.
type Store struct {
	mu     sync.RWMutex
	state  memoryState
	engine *RulesEngine
	nowFn  func() time.Time
}

// NewStore constructs an in-memory store backed by the provided rules engine.
func NewStore(engine *RulesEngine) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	return &Store{
		state:  newMemoryState(),
		engine: engine,
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
}

// SetNowFunc overrides the timestamp source used for CreatedAt/UpdatedAt.
func (s *Store) SetNowFunc(fn func() time.Time) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nowFn = fn
}

func (s *Store) newID() string {
	return uuid.NewString()
}

// ExportState clones the current store state for external persistence.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshotFromMemoryState(s.state)
}

// ImportState replaces the store state with the provided snapshot.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = memoryStateFromSnapshot(migrateSnapshot(snapshot))
}

// RulesEngine exposes the currently configured engine.
func (s *Store) RulesEngine() *RulesEngine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine
}

// NowFunc returns the time provider used by the in-memory store.
func (s *Store) NowFunc() func() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nowFn
}

// transaction represents a mutation set applied to the store state.
type transaction struct {
	store   *Store
	state   memoryState
	changes []Change
	now     time.Time
}

// transactionView exposes a read-only snapshot of the transactional state.
type transactionView struct {
	state *memoryState
}

func newTransactionView(state *memoryState) TransactionView {
	return transactionView{state: state}
}

// RunInTransaction executes fn within a transactional copy of the store state.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx Transaction) error) (RuleResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &transaction{
		store: s,
		state: s.state.clone(),
		now:   s.nowFn(),
	}

	if err := fn(tx); err != nil {
		return RuleResult{}, err
	}

	var result RuleResult
	if s.engine != nil {
		view := newTransactionView(&tx.state)
		res, err := s.engine.Evaluate(ctx, view, tx.changes)
		if err != nil {
			return RuleResult{}, err
		}
		result = res
		if res.HasBlocking() {
			return res, domain.RuleViolationError{Result: res}
		}
	}

	s.state = tx.state
	return result, nil
}

// View executes fn against a read-only snapshot of the store state.
func (s *Store) View(_ context.Context, fn func(TransactionView) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := s.state.clone()
	view := newTransactionView(&snapshot)
	return fn(view)
}

// View queries -----------------------------------------------------------------

func (v transactionView) ListOrganizations() []Organization {
	return listOrganizations(v.state)
}

func (v transactionView) ListGroups() []Group {
	return listGroups(v.state, func(Group) bool { return true })
}

func (v transactionView) ListRepeaters() []EventRepeater {
	return listRepeaters(v.state)
}

func (v transactionView) FindOrganization(id string) (Organization, bool) {
	o, ok := v.state.organizations[id]
	return cloneOrganization(o), ok
}

func (v transactionView) FindGroup(id string) (Group, bool) {
	g, ok := v.state.groups[id]
	return cloneGroup(g), ok
}

func (v transactionView) FindEvent(id string) (Event, bool) {
	e, ok := v.state.events[id]
	return cloneEvent(e), ok
}

func (v transactionView) FindImport(id string) (Import, bool) {
	i, ok := v.state.imports[id]
	return i, ok
}

func (v transactionView) FindResult(id string) (Result, bool) {
	r, ok := v.state.results[id]
	return r, ok
}

func (v transactionView) FindRepeater(id string) (EventRepeater, bool) {
	r, ok := v.state.repeaters[id]
	return cloneRepeater(r), ok
}

func (v transactionView) RepeaterForEvent(eventID string) (EventRepeater, bool) {
	for _, r := range v.state.repeaters {
		if r.EventID == eventID {
			return cloneRepeater(r), true
		}
	}
	return EventRepeater{}, false
}

func (v transactionView) GroupsForOrganization(organizationID string) []Group {
	return listGroups(v.state, func(g Group) bool { return g.OrganizationID == organizationID })
}

func (v transactionView) EventsForGroup(groupID string) []Event {
	return listEvents(v.state, func(e Event) bool { return e.GroupID == groupID })
}

func (v transactionView) ImportsForGroup(groupID string) []Import {
	out := make([]Import, 0)
	for _, i := range v.state.imports {
		if i.GroupID == groupID {
			out = append(out, i)
		}
	}
	sort.Slice(out, func(a, b int) bool { return byCreation(out[a].Base, out[b].Base) })
	return out
}

func (v transactionView) EventsForImport(importID string) []Event {
	return listEvents(v.state, func(e Event) bool { return e.ImportID != nil && *e.ImportID == importID })
}

func (v transactionView) EventForResult(resultID string) (Event, bool) {
	events := listEvents(v.state, func(e Event) bool { return slices.Contains(e.ResultIDs, resultID) })
	if len(events) == 0 {
		return Event{}, false
	}
	return events[0], true
}

func (v transactionView) EventsForRepeater(repeaterID string, from time.Time) []Event {
	return listEvents(v.state, func(e Event) bool { return e.InSeries(repeaterID) && !e.Start.Before(from) })
}

func listOrganizations(state *memoryState) []Organization {
	out := make([]Organization, 0, len(state.organizations))
	for _, o := range state.organizations {
		out = append(out, cloneOrganization(o))
	}
	sort.Slice(out, func(a, b int) bool { return byCreation(out[a].Base, out[b].Base) })
	return out
}

func listGroups(state *memoryState, keep func(Group) bool) []Group {
	out := make([]Group, 0)
	for _, g := range state.groups {
		if keep(g) {
			out = append(out, cloneGroup(g))
		}
	}
	sort.Slice(out, func(a, b int) bool { return byCreation(out[a].Base, out[b].Base) })
	return out
}

// listEvents returns matching events ordered by start ascending.
func listEvents(state *memoryState, keep func(Event) bool) []Event {
	out := make([]Event, 0)
	for _, e := range state.events {
		if keep(e) {
			out = append(out, cloneEvent(e))
		}
	}
	sort.Slice(out, func(a, b int) bool {
		if !out[a].Start.Equal(out[b].Start) {
			return out[a].Start.Before(out[b].Start)
		}
		return byCreation(out[a].Base, out[b].Base)
	})
	return out
}

func listRepeaters(state *memoryState) []EventRepeater {
	out := make([]EventRepeater, 0, len(state.repeaters))
	for _, r := range state.repeaters {
		out = append(out, cloneRepeater(r))
	}
	sort.Slice(out, func(a, b int) bool { return byCreation(out[a].Base, out[b].Base) })
	return out
}

// Transaction operations -------------------------------------------------------

// helper to record and append change entries.
func (tx *transaction) recordChange(change Change) {
	tx.changes = append(tx.changes, change)
}

// Snapshot returns a read-only view over the transactional state.
func (tx *transaction) Snapshot() TransactionView {
	return newTransactionView(&tx.state)
}

func (tx *transaction) stamp(base *domain.Base) {
	if base.ID == "" {
		base.ID = tx.store.newID()
	}
	base.Revision = 1
	base.CreatedAt = tx.now
	base.UpdatedAt = tx.now
}

func (tx *transaction) bump(base *domain.Base, id string, before domain.Base) {
	base.ID = id
	base.CreatedAt = before.CreatedAt
	base.Revision = before.Revision + 1
	base.UpdatedAt = tx.now
}

// FindOrganization exposes organization lookup within the transaction scope.
func (tx *transaction) FindOrganization(id string) (Organization, bool) {
	return tx.Snapshot().FindOrganization(id)
}

// FindGroup exposes group lookup within the transaction scope.
func (tx *transaction) FindGroup(id string) (Group, bool) {
	return tx.Snapshot().FindGroup(id)
}

// FindEvent exposes event lookup within the transaction scope.
func (tx *transaction) FindEvent(id string) (Event, bool) {
	return tx.Snapshot().FindEvent(id)
}

// FindRepeater exposes repeater lookup within the transaction scope.
func (tx *transaction) FindRepeater(id string) (EventRepeater, bool) {
	return tx.Snapshot().FindRepeater(id)
}

// CreateOrganization stores a new organization within the transaction.
func (tx *transaction) CreateOrganization(o Organization) (Organization, error) {
	tx.stamp(&o.Base)
	if _, exists := tx.state.organizations[o.ID]; exists {
		return Organization{}, fmt.Errorf("organization %q already exists", o.ID)
	}
	tx.state.organizations[o.ID] = cloneOrganization(o)
	tx.recordChange(Change{Entity: domain.EntityOrganization, Action: domain.ActionCreate, After: cloneOrganization(o)})
	return cloneOrganization(o), nil
}

// UpdateOrganization mutates an organization using the provided mutator function.
func (tx *transaction) UpdateOrganization(id string, mutator func(*Organization) error) (Organization, error) {
	current, ok := tx.state.organizations[id]
	if !ok {
		return Organization{}, domain.ErrNotFound{Entity: domain.EntityOrganization, ID: id}
	}
	before := cloneOrganization(current)
	if err := mutator(&current); err != nil {
		return Organization{}, err
	}
	tx.bump(&current.Base, id, before.Base)
	tx.state.organizations[id] = cloneOrganization(current)
	tx.recordChange(Change{Entity: domain.EntityOrganization, Action: domain.ActionUpdate, Before: before, After: cloneOrganization(current)})
	return cloneOrganization(current), nil
}

// DeleteOrganization removes an organization that owns no groups.
func (tx *transaction) DeleteOrganization(id string) error {
	current, ok := tx.state.organizations[id]
	if !ok {
		return domain.ErrNotFound{Entity: domain.EntityOrganization, ID: id}
	}
	for _, group := range tx.state.groups {
		if group.OrganizationID == id {
			return fmt.Errorf("organization %q still owns group %q", id, group.ID)
		}
	}
	delete(tx.state.organizations, id)
	tx.recordChange(Change{Entity: domain.EntityOrganization, Action: domain.ActionDelete, Before: cloneOrganization(current)})
	return nil
}

// CreateGroup stores a new group under an existing organization.
func (tx *transaction) CreateGroup(g Group) (Group, error) {
	if _, ok := tx.state.organizations[g.OrganizationID]; !ok {
		return Group{}, domain.ErrNotFound{Entity: domain.EntityOrganization, ID: g.OrganizationID}
	}
	tx.stamp(&g.Base)
	if _, exists := tx.state.groups[g.ID]; exists {
		return Group{}, fmt.Errorf("group %q already exists", g.ID)
	}
	tx.state.groups[g.ID] = cloneGroup(g)
	tx.recordChange(Change{Entity: domain.EntityGroup, Action: domain.ActionCreate, After: cloneGroup(g)})
	return cloneGroup(g), nil
}

// UpdateGroup mutates an existing group.
func (tx *transaction) UpdateGroup(id string, mutator func(*Group) error) (Group, error) {
	current, ok := tx.state.groups[id]
	if !ok {
		return Group{}, domain.ErrNotFound{Entity: domain.EntityGroup, ID: id}
	}
	before := cloneGroup(current)
	if err := mutator(&current); err != nil {
		return Group{}, err
	}
	if _, ok := tx.state.organizations[current.OrganizationID]; !ok {
		return Group{}, domain.ErrNotFound{Entity: domain.EntityOrganization, ID: current.OrganizationID}
	}
	tx.bump(&current.Base, id, before.Base)
	tx.state.groups[id] = cloneGroup(current)
	tx.recordChange(Change{Entity: domain.EntityGroup, Action: domain.ActionUpdate, Before: before, After: cloneGroup(current)})
	return cloneGroup(current), nil
}

// DeleteGroup removes a group that owns no events or imports.
func (tx *transaction) DeleteGroup(id string) error {
	current, ok := tx.state.groups[id]
	if !ok {
		return domain.ErrNotFound{Entity: domain.EntityGroup, ID: id}
	}
	for _, event := range tx.state.events {
		if event.GroupID == id {
			return fmt.Errorf("group %q still owns event %q", id, event.ID)
		}
	}
	for _, imp := range tx.state.imports {
		if imp.GroupID == id {
			return fmt.Errorf("group %q still owns import %q", id, imp.ID)
		}
	}
	delete(tx.state.groups, id)
	tx.recordChange(Change{Entity: domain.EntityGroup, Action: domain.ActionDelete, Before: cloneGroup(current)})
	return nil
}

func (tx *transaction) validateEventLinks(e Event) error {
	if _, ok := tx.state.groups[e.GroupID]; !ok {
		return domain.ErrNotFound{Entity: domain.EntityGroup, ID: e.GroupID}
	}
	if e.ImportID != nil {
		if _, ok := tx.state.imports[*e.ImportID]; !ok {
			return domain.ErrNotFound{Entity: domain.EntityImport, ID: *e.ImportID}
		}
	}
	if e.RepeaterID != nil {
		if _, ok := tx.state.repeaters[*e.RepeaterID]; !ok {
			return domain.ErrNotFound{Entity: domain.EntityRepeater, ID: *e.RepeaterID}
		}
	}
	for _, resultID := range e.ResultIDs {
		if _, ok := tx.state.results[resultID]; !ok {
			return domain.ErrNotFound{Entity: domain.EntityResult, ID: resultID}
		}
	}
	return nil
}

// CreateEvent stores a new event under an existing group.
func (tx *transaction) CreateEvent(e Event) (Event, error) {
	e.ResultIDs = dedupeStrings(e.ResultIDs)
	normalizeEventTimes(&e)
	if err := tx.validateEventLinks(e); err != nil {
		return Event{}, err
	}
	tx.stamp(&e.Base)
	if _, exists := tx.state.events[e.ID]; exists {
		return Event{}, fmt.Errorf("event %q already exists", e.ID)
	}
	tx.state.events[e.ID] = cloneEvent(e)
	tx.recordChange(Change{Entity: domain.EntityEvent, Action: domain.ActionCreate, After: cloneEvent(e)})
	return cloneEvent(e), nil
}

// UpdateEvent mutates an existing event.
func (tx *transaction) UpdateEvent(id string, mutator func(*Event) error) (Event, error) {
	current, ok := tx.state.events[id]
	if !ok {
		return Event{}, domain.ErrNotFound{Entity: domain.EntityEvent, ID: id}
	}
	before := cloneEvent(current)
	if err := mutator(&current); err != nil {
		return Event{}, err
	}
	current.ResultIDs = dedupeStrings(current.ResultIDs)
	normalizeEventTimes(&current)
	if err := tx.validateEventLinks(current); err != nil {
		return Event{}, err
	}
	tx.bump(&current.Base, id, before.Base)
	tx.state.events[id] = cloneEvent(current)
	tx.recordChange(Change{Entity: domain.EntityEvent, Action: domain.ActionUpdate, Before: before, After: cloneEvent(current)})
	return cloneEvent(current), nil
}

func normalizeEventTimes(e *Event) {
	e.Start = domain.NaiveWallTime(e.Start)
	e.End = domain.NaiveWallTime(e.End)
}

// DeleteEvent removes an event together with the results it owns and the
// repeater anchored at it.
func (tx *transaction) DeleteEvent(id string) error {
	current, ok := tx.state.events[id]
	if !ok {
		return domain.ErrNotFound{Entity: domain.EntityEvent, ID: id}
	}
	delete(tx.state.events, id)
	tx.recordChange(Change{Entity: domain.EntityEvent, Action: domain.ActionDelete, Before: cloneEvent(current)})
	for _, resultID := range current.ResultIDs {
		if tx.resultReferencedElsewhere(resultID) {
			continue
		}
		if err := tx.DeleteResult(resultID); err != nil {
			return err
		}
	}
	for repeaterID, repeater := range tx.state.repeaters {
		if repeater.EventID == id {
			if err := tx.DeleteRepeater(repeaterID); err != nil {
				return err
			}
		}
	}
	return nil
}

func (tx *transaction) resultReferencedElsewhere(resultID string) bool {
	for _, event := range tx.state.events {
		if slices.Contains(event.ResultIDs, resultID) {
			return true
		}
	}
	return false
}

// CreateImport stores a new import under an existing group.
func (tx *transaction) CreateImport(i Import) (Import, error) {
	if _, ok := tx.state.groups[i.GroupID]; !ok {
		return Import{}, domain.ErrNotFound{Entity: domain.EntityGroup, ID: i.GroupID}
	}
	tx.stamp(&i.Base)
	if _, exists := tx.state.imports[i.ID]; exists {
		return Import{}, fmt.Errorf("import %q already exists", i.ID)
	}
	tx.state.imports[i.ID] = i
	tx.recordChange(Change{Entity: domain.EntityImport, Action: domain.ActionCreate, After: i})
	return i, nil
}

// UpdateImport mutates an existing import.
func (tx *transaction) UpdateImport(id string, mutator func(*Import) error) (Import, error) {
	current, ok := tx.state.imports[id]
	if !ok {
		return Import{}, domain.ErrNotFound{Entity: domain.EntityImport, ID: id}
	}
	before := current
	if err := mutator(&current); err != nil {
		return Import{}, err
	}
	if _, ok := tx.state.groups[current.GroupID]; !ok {
		return Import{}, domain.ErrNotFound{Entity: domain.EntityGroup, ID: current.GroupID}
	}
	tx.bump(&current.Base, id, before.Base)
	tx.state.imports[id] = current
	tx.recordChange(Change{Entity: domain.EntityImport, Action: domain.ActionUpdate, Before: before, After: current})
	return current, nil
}

// DeleteImport removes an import no event still points at.
func (tx *transaction) DeleteImport(id string) error {
	current, ok := tx.state.imports[id]
	if !ok {
		return domain.ErrNotFound{Entity: domain.EntityImport, ID: id}
	}
	for _, event := range tx.state.events {
		if event.ImportID != nil && *event.ImportID == id {
			return fmt.Errorf("import %q still referenced by event %q", id, event.ID)
		}
	}
	delete(tx.state.imports, id)
	tx.recordChange(Change{Entity: domain.EntityImport, Action: domain.ActionDelete, Before: current})
	return nil
}

// CreateResult stores a new result. Ownership is attached by updating the
// event's ResultIDs.
func (tx *transaction) CreateResult(r Result) (Result, error) {
	tx.stamp(&r.Base)
	if _, exists := tx.state.results[r.ID]; exists {
		return Result{}, fmt.Errorf("result %q already exists", r.ID)
	}
	tx.state.results[r.ID] = r
	tx.recordChange(Change{Entity: domain.EntityResult, Action: domain.ActionCreate, After: r})
	return r, nil
}

// UpdateResult mutates an existing result.
func (tx *transaction) UpdateResult(id string, mutator func(*Result) error) (Result, error) {
	current, ok := tx.state.results[id]
	if !ok {
		return Result{}, domain.ErrNotFound{Entity: domain.EntityResult, ID: id}
	}
	before := current
	if err := mutator(&current); err != nil {
		return Result{}, err
	}
	tx.bump(&current.Base, id, before.Base)
	tx.state.results[id] = current
	tx.recordChange(Change{Entity: domain.EntityResult, Action: domain.ActionUpdate, Before: before, After: current})
	return current, nil
}

// DeleteResult removes a result and detaches it from any event.
func (tx *transaction) DeleteResult(id string) error {
	current, ok := tx.state.results[id]
	if !ok {
		return domain.ErrNotFound{Entity: domain.EntityResult, ID: id}
	}
	delete(tx.state.results, id)
	for eventID, event := range tx.state.events {
		if slices.Contains(event.ResultIDs, id) {
			event.ResultIDs = slices.DeleteFunc(slices.Clone(event.ResultIDs), func(v string) bool { return v == id })
			tx.state.events[eventID] = event
		}
	}
	tx.recordChange(Change{Entity: domain.EntityResult, Action: domain.ActionDelete, Before: current})
	return nil
}

// CreateRepeater stores the recurrence rule for an anchor event. An event
// anchors at most one rule.
func (tx *transaction) CreateRepeater(r EventRepeater) (EventRepeater, error) {
	if _, ok := tx.state.events[r.EventID]; !ok {
		return EventRepeater{}, domain.ErrNotFound{Entity: domain.EntityEvent, ID: r.EventID}
	}
	for _, existing := range tx.state.repeaters {
		if existing.EventID == r.EventID {
			return EventRepeater{}, fmt.Errorf("event %q already anchors repeater %q", r.EventID, existing.ID)
		}
	}
	tx.stamp(&r.Base)
	if _, exists := tx.state.repeaters[r.ID]; exists {
		return EventRepeater{}, fmt.Errorf("event_repeater %q already exists", r.ID)
	}
	tx.state.repeaters[r.ID] = cloneRepeater(r)
	tx.recordChange(Change{Entity: domain.EntityRepeater, Action: domain.ActionCreate, After: cloneRepeater(r)})
	return cloneRepeater(r), nil
}

// UpdateRepeater mutates an existing recurrence rule.
func (tx *transaction) UpdateRepeater(id string, mutator func(*EventRepeater) error) (EventRepeater, error) {
	current, ok := tx.state.repeaters[id]
	if !ok {
		return EventRepeater{}, domain.ErrNotFound{Entity: domain.EntityRepeater, ID: id}
	}
	before := cloneRepeater(current)
	if err := mutator(&current); err != nil {
		return EventRepeater{}, err
	}
	if current.EventID != before.EventID {
		return EventRepeater{}, fmt.Errorf("event_repeater %q: anchor event cannot change", id)
	}
	tx.bump(&current.Base, id, before.Base)
	tx.state.repeaters[id] = cloneRepeater(current)
	tx.recordChange(Change{Entity: domain.EntityRepeater, Action: domain.ActionUpdate, Before: before, After: cloneRepeater(current)})
	return cloneRepeater(current), nil
}

// DeleteRepeater removes a rule and detaches the series members from it.
func (tx *transaction) DeleteRepeater(id string) error {
	current, ok := tx.state.repeaters[id]
	if !ok {
		return domain.ErrNotFound{Entity: domain.EntityRepeater, ID: id}
	}
	delete(tx.state.repeaters, id)
	for eventID, event := range tx.state.events {
		if event.InSeries(id) {
			event.RepeaterID = nil
			tx.state.events[eventID] = event
		}
	}
	tx.recordChange(Change{Entity: domain.EntityRepeater, Action: domain.ActionDelete, Before: cloneRepeater(current)})
	return nil
}

// Read helpers ---------------------------------------------------------------

// GetOrganization retrieves an organization by ID from committed state.
func (s *Store) GetOrganization(id string) (Organization, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newTransactionView(&s.state).FindOrganization(id)
}

// GetGroup retrieves a group by ID from committed state.
func (s *Store) GetGroup(id string) (Group, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newTransactionView(&s.state).FindGroup(id)
}

// GetEvent retrieves an event by ID from committed state.
func (s *Store) GetEvent(id string) (Event, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newTransactionView(&s.state).FindEvent(id)
}

// ListOrganizations returns all organizations from committed state.
func (s *Store) ListOrganizations() []Organization {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listOrganizations(&s.state)
}

// ListGroups returns all groups from committed state.
func (s *Store) ListGroups() []Group {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listGroups(&s.state, func(Group) bool { return true })
}

// ListEvents returns all events ordered by start.
func (s *Store) ListEvents() []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listEvents(&s.state, func(Event) bool { return true })
}

// ListRepeaters returns all recurrence rules.
func (s *Store) ListRepeaters() []EventRepeater {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listRepeaters(&s.state)
}

// Buckets maps each persisted bucket name to a pointer at the snapshot field
// holding it. Durable backends marshal and unmarshal through these targets.
func (s *Snapshot) Buckets() map[string]any {
	return map[string]any{
		"organizations": &s.Organizations,
		"groups":        &s.Groups,
		"events":        &s.Events,
		"imports":       &s.Imports,
		"results":       &s.Results,
		"repeaters":     &s.Repeaters,
	}
}

// BucketNames lists persisted buckets in a stable order.
func BucketNames() []string {
	return []string{"organizations", "groups", "events", "imports", "results", "repeaters"}
}
