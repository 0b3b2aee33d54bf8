// Package batch executes long-running jobs as a flat list of discrete steps.
// A job can be advanced one step at a time by request handlers, drained by the
// background loop, or resumed from a checkpoint after a restart.
package batch

import (
	"context"
	"time"
)

// Status describes the lifecycle stage of a job.
type Status string

const (
	StatusQueued              Status = "queued"
	StatusRunning             Status = "running"
	StatusCompleted           Status = "completed"
	StatusCompletedWithErrors Status = "completed_with_errors"
)

// Terminal reports whether no further steps will run.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCompletedWithErrors
}

// StepFailure records a step whose handler returned an error.
type StepFailure struct {
	Index int       `json:"index"`
	Step  string    `json:"step"`
	Error string    `json:"error"`
	At    time.Time `json:"at"`
}

// Job is the persisted record of a submitted step list. Cursor is the index
// of the next step to execute.
type Job struct {
	ID          string            `json:"id"`
	Kind        string            `json:"kind"`
	Root        string            `json:"root,omitempty"`
	RequestedBy string            `json:"requested_by,omitempty"`
	Params      map[string]string `json:"params,omitempty"`
	Steps       []string          `json:"steps"`
	Cursor      int               `json:"cursor"`
	Status      Status            `json:"status"`
	Failed      int               `json:"failed"`
	Failures    []StepFailure     `json:"failures,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
}

// Progress summarises a job for callers polling it.
type Progress struct {
	JobID  string `json:"job_id"`
	Kind   string `json:"kind"`
	Status Status `json:"status"`
	Done   int    `json:"done"`
	Total  int    `json:"total"`
	Failed int    `json:"failed"`
}

// Progress returns the job's current progress.
func (j Job) Progress() Progress {
	return Progress{JobID: j.ID, Kind: j.Kind, Status: j.Status, Done: j.Cursor, Total: len(j.Steps), Failed: j.Failed}
}

func (j Job) copy() Job {
	dup := j
	dup.Steps = append([]string(nil), j.Steps...)
	dup.Failures = append([]StepFailure(nil), j.Failures...)
	if j.Params != nil {
		dup.Params = make(map[string]string, len(j.Params))
		for k, v := range j.Params {
			dup.Params[k] = v
		}
	}
	if j.CompletedAt != nil {
		at := *j.CompletedAt
		dup.CompletedAt = &at
	}
	return dup
}

// Submission describes a job to enqueue.
type Submission struct {
	Kind        string
	Root        string
	RequestedBy string
	Params      map[string]string
	Steps       []string
}

// Handler executes one step of a job. An error marks the step failed; the
// job continues with the next step.
type Handler interface {
	HandleStep(ctx context.Context, job Job, step string) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, job Job, step string) error

// HandleStep calls f.
func (f HandlerFunc) HandleStep(ctx context.Context, job Job, step string) error {
	return f(ctx, job, step)
}

// AuditLogger records job lifecycle transitions.
type AuditLogger interface {
	Record(ctx context.Context, entry AuditEntry)
}

// AuditEntry captures one job lifecycle transition.
type AuditEntry struct {
	JobID      string         `json:"job_id"`
	Kind       string         `json:"kind"`
	Actor      string         `json:"actor"`
	Root       string         `json:"root,omitempty"`
	Status     Status         `json:"status"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}
