package domain

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestRuleResultMergeAndBlocking(t *testing.T) {
	var result RuleResult
	result.Merge(RuleResult{Violations: []Violation{{Rule: "warn", Severity: SeverityWarn}}})
	if result.HasBlocking() {
		t.Fatalf("expected no blocking violations")
	}
	result.Merge(RuleResult{Violations: []Violation{{Rule: "block", Severity: SeverityBlock, Message: "end before start"}}})
	if !result.HasBlocking() {
		t.Fatalf("expected blocking violation")
	}
	err := RuleViolationError{Result: result}
	if !strings.Contains(err.Error(), "end before start") {
		t.Fatalf("expected blocking message in error, got %q", err.Error())
	}
}

func TestRuleResultMergeEmptyInput(t *testing.T) {
	original := RuleResult{Violations: []Violation{{Rule: "existing", Severity: SeverityWarn}}}
	original.Merge(RuleResult{})
	if len(original.Violations) != 1 || original.Violations[0].Rule != "existing" {
		t.Fatalf("expected original violations to remain, got %+v", original.Violations)
	}
}

func TestRulesEngineEvaluate(t *testing.T) {
	engine := NewRulesEngine()
	engine.Register(staticRule{"warn"})
	res, err := engine.Evaluate(context.Background(), emptyView{}, nil)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(res.Violations) != 1 {
		t.Fatalf("expected violation")
	}
	if names := engine.Rules(); len(names) != 1 || names[0] != "warn" {
		t.Fatalf("unexpected rule names %v", names)
	}
}

func TestRulesEngineEvaluateError(t *testing.T) {
	engine := NewRulesEngine()
	engine.Register(errorRule{})
	if _, err := engine.Evaluate(context.Background(), emptyView{}, nil); err == nil {
		t.Fatalf("expected evaluation error")
	}
}

type staticRule struct{ name string }

func (r staticRule) Name() string { return r.name }

func (r staticRule) Evaluate(context.Context, RuleView, []Change) (RuleResult, error) {
	return RuleResult{Violations: []Violation{{Rule: r.name, Severity: SeverityWarn}}}, nil
}

type errorRule struct{}

func (errorRule) Name() string { return "error" }

func (errorRule) Evaluate(context.Context, RuleView, []Change) (RuleResult, error) {
	return RuleResult{}, fmt.Errorf("boom")
}

type emptyView struct{}

func (emptyView) ListOrganizations() []Organization                    { return nil }
func (emptyView) ListGroups() []Group                                  { return nil }
func (emptyView) ListRepeaters() []EventRepeater                       { return nil }
func (emptyView) FindOrganization(string) (Organization, bool)         { return Organization{}, false }
func (emptyView) FindGroup(string) (Group, bool)                       { return Group{}, false }
func (emptyView) FindEvent(string) (Event, bool)                       { return Event{}, false }
func (emptyView) FindImport(string) (Import, bool)                     { return Import{}, false }
func (emptyView) FindResult(string) (Result, bool)                     { return Result{}, false }
func (emptyView) FindRepeater(string) (EventRepeater, bool)            { return EventRepeater{}, false }
func (emptyView) RepeaterForEvent(string) (EventRepeater, bool)        { return EventRepeater{}, false }
func (emptyView) GroupsForOrganization(string) []Group                 { return nil }
func (emptyView) EventsForGroup(string) []Event                        { return nil }
func (emptyView) ImportsForGroup(string) []Import                      { return nil }
func (emptyView) EventsForImport(string) []Event                       { return nil }
func (emptyView) EventForResult(string) (Event, bool)                  { return Event{}, false }
func (emptyView) EventsForRepeater(string, time.Time) []Event          { return nil }
