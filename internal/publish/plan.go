// Package publish propagates a publish or unpublish decision from a root
// entity to everything it contains, as a resumable batch job.
package publish

import (
	"fmt"

	"campaigncore/pkg/domain"
)

// Hierarchy is the read-only view Plan walks. domain.TransactionView satisfies it.
type Hierarchy interface {
	FindOrganization(id string) (domain.Organization, bool)
	FindGroup(id string) (domain.Group, bool)
	FindEvent(id string) (domain.Event, bool)
	FindImport(id string) (domain.Import, bool)
	FindResult(id string) (domain.Result, bool)
	GroupsForOrganization(organizationID string) []domain.Group
	EventsForGroup(groupID string) []domain.Event
	ImportsForGroup(groupID string) []domain.Import
	EventsForImport(importID string) []domain.Event
}

// Plan flattens the subtree under root into the ordered list of entities a
// cascade touches. The root comes first, each entity precedes its children,
// and no entity appears twice.
//
//	organization → its groups
//	group        → its events, then its imports (imports are not expanded)
//	event        → its results
//	import       → its events
//	result       → nothing
func Plan(h Hierarchy, root domain.EntityRef) ([]domain.EntityRef, error) {
	if !root.Kind.Publishable() {
		return nil, fmt.Errorf("%s is not publishable", root.Kind)
	}
	if !exists(h, root) {
		return nil, domain.ErrNotFound{Entity: root.Kind, ID: root.ID}
	}
	p := planner{h: h, seen: make(map[domain.EntityRef]struct{})}
	p.visit(root)
	return p.out, nil
}

type planner struct {
	h    Hierarchy
	seen map[domain.EntityRef]struct{}
	out  []domain.EntityRef
}

func (p *planner) add(ref domain.EntityRef) bool {
	if _, dup := p.seen[ref]; dup {
		return false
	}
	p.seen[ref] = struct{}{}
	p.out = append(p.out, ref)
	return true
}

func (p *planner) visit(ref domain.EntityRef) {
	if !p.add(ref) {
		return
	}
	switch ref.Kind {
	case domain.EntityOrganization:
		for _, g := range p.h.GroupsForOrganization(ref.ID) {
			p.visit(domain.GroupRef(g.ID))
		}
	case domain.EntityGroup:
		for _, e := range p.h.EventsForGroup(ref.ID) {
			p.visit(domain.EventRef(e.ID))
		}
		for _, imp := range p.h.ImportsForGroup(ref.ID) {
			p.add(domain.ImportRef(imp.ID))
		}
	case domain.EntityEvent:
		event, ok := p.h.FindEvent(ref.ID)
		if !ok {
			return
		}
		for _, id := range event.ResultIDs {
			if _, ok := p.h.FindResult(id); ok {
				p.visit(domain.ResultRef(id))
			}
		}
	case domain.EntityImport:
		for _, e := range p.h.EventsForImport(ref.ID) {
			p.visit(domain.EventRef(e.ID))
		}
	}
}

func exists(h Hierarchy, ref domain.EntityRef) bool {
	var ok bool
	switch ref.Kind {
	case domain.EntityOrganization:
		_, ok = h.FindOrganization(ref.ID)
	case domain.EntityGroup:
		_, ok = h.FindGroup(ref.ID)
	case domain.EntityEvent:
		_, ok = h.FindEvent(ref.ID)
	case domain.EntityImport:
		_, ok = h.FindImport(ref.ID)
	case domain.EntityResult:
		_, ok = h.FindResult(ref.ID)
	}
	return ok
}
