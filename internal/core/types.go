package core

import (
	"campaigncore/internal/access"
	"campaigncore/internal/batch"
	"campaigncore/internal/recurrence"
	"campaigncore/pkg/domain"
)

type (
	EntityType         = domain.EntityType
	EntityRef          = domain.EntityRef
	Severity           = domain.Severity
	Base               = domain.Base
	Organization       = domain.Organization
	Group              = domain.Group
	Event              = domain.Event
	Import             = domain.Import
	Result             = domain.Result
	EventRepeater      = domain.EventRepeater
	Change             = domain.Change
	Action             = domain.Action
	Violation          = domain.Violation
	RuleResult         = domain.RuleResult
	RuleView           = domain.RuleView
	RuleViolationError = domain.RuleViolationError
	ErrNotFound        = domain.ErrNotFound
	PublishState       = domain.PublishState

	Actor           = access.Actor
	Job             = batch.Job
	Progress        = batch.Progress
	RepeaterRule    = recurrence.Rule
	RepeatRequest   = recurrence.RepeatRequest
	ReconcileReport = recurrence.Report
)

const (
	EntityOrganization = domain.EntityOrganization
	EntityGroup        = domain.EntityGroup
	EntityEvent        = domain.EntityEvent
	EntityImport       = domain.EntityImport
	EntityResult       = domain.EntityResult
	EntityRepeater     = domain.EntityRepeater
)

const (
	SeverityBlock = domain.SeverityBlock
	SeverityWarn  = domain.SeverityWarn
	SeverityLog   = domain.SeverityLog
)

const (
	ActionCreate = domain.ActionCreate
	ActionUpdate = domain.ActionUpdate
	ActionDelete = domain.ActionDelete
)

// ErrForbidden is returned when the actor lacks the permission guarding an operation.
var ErrForbidden = access.ErrForbidden
