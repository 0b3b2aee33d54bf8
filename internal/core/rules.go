package core

import "campaigncore/pkg/domain"

type (
	Rule        = domain.Rule
	RulesEngine = domain.RulesEngine
)

// NewRulesEngine constructs an empty engine instance.
func NewRulesEngine() *RulesEngine {
	return domain.NewRulesEngine()
}

// NewDefaultRulesEngine builds a rules engine with the built-in policy set.
func NewDefaultRulesEngine() *RulesEngine {
	engine := NewRulesEngine()
	engine.Register(NewEventWindowRule())
	engine.Register(NewRepeaterFrequencyRule())
	engine.Register(NewPublishedParentRule())
	return engine
}
