package core

import (
	"context"
	"time"
)

// Logger is the structured logging surface the service writes to. *slog.Logger
// satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// AuditStatus is the outcome recorded for an audited operation.
type AuditStatus string

const (
	AuditStatusSuccess AuditStatus = "success"
	AuditStatusError   AuditStatus = "error"
)

// AuditEntry describes one completed service operation.
type AuditEntry struct {
	Operation string
	Entity    EntityType
	Action    Action
	EntityID  string
	Actor     Actor
	Status    AuditStatus
	Error     string
	Duration  time.Duration
	Timestamp time.Time
}

// AuditRecorder receives audit entries for service operations.
type AuditRecorder interface {
	Record(ctx context.Context, entry AuditEntry)
}

// MetricsRecorder observes operation outcomes and latency.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
}

// TraceSpan is ended exactly once with the operation's error.
type TraceSpan interface {
	End(err error)
}

// Tracer opens spans around service operations.
type Tracer interface {
	Start(ctx context.Context, operation string) (context.Context, TraceSpan)
}

type noopAuditRecorder struct{}

func (noopAuditRecorder) Record(context.Context, AuditEntry) {}

type noopMetricsRecorder struct{}

func (noopMetricsRecorder) Observe(context.Context, string, bool, time.Duration) {}

type noopTracer struct{}

func (noopTracer) Start(ctx context.Context, _ string) (context.Context, TraceSpan) {
	return ctx, noopSpan{}
}

type noopSpan struct{}

func (noopSpan) End(error) {}

// operationMeta maps an operation name to the entity and action it audits.
type operationMeta struct {
	entity EntityType
	action Action
}

var operations = map[string]operationMeta{
	"create_organization": {EntityOrganization, ActionCreate},
	"update_organization": {EntityOrganization, ActionUpdate},
	"delete_organization": {EntityOrganization, ActionDelete},
	"create_group":        {EntityGroup, ActionCreate},
	"update_group":        {EntityGroup, ActionUpdate},
	"delete_group":        {EntityGroup, ActionDelete},
	"create_event":        {EntityEvent, ActionCreate},
	"update_event":        {EntityEvent, ActionUpdate},
	"delete_event":        {EntityEvent, ActionDelete},
	"create_import":       {EntityImport, ActionCreate},
	"update_import":       {EntityImport, ActionUpdate},
	"delete_import":       {EntityImport, ActionDelete},
	"create_result":       {EntityResult, ActionCreate},
	"update_result":       {EntityResult, ActionUpdate},
	"delete_result":       {EntityResult, ActionDelete},
	"save_repeater":       {EntityRepeater, ActionUpdate},
	"repeat_event":        {EntityRepeater, ActionUpdate},
	"reconcile_all":       {EntityRepeater, ActionUpdate},
	"publish":             {"", ActionUpdate},
	"unpublish":           {"", ActionUpdate},
}
