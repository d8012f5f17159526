package domain

import (
	"encoding/json"
	"errors"
	"time"
)

var (
	ErrWorkflowRunNotFound  = errors.New("workflow run not found")
	ErrStepNameConflict     = errors.New("step name already used in this run")
	ErrEventAlreadyConsumed = errors.New("workflow event already consumed")
)

// WorkflowRunStatus is the saga lifecycle. Completed, Compensated and
// Failed are terminal.
type WorkflowRunStatus string

const (
	WorkflowCreated      WorkflowRunStatus = "created"
	WorkflowRunning      WorkflowRunStatus = "running"
	WorkflowWaiting      WorkflowRunStatus = "waiting"
	WorkflowCompleted    WorkflowRunStatus = "completed"
	WorkflowCompensating WorkflowRunStatus = "compensating"
	WorkflowCompensated  WorkflowRunStatus = "compensated"
	WorkflowFailed       WorkflowRunStatus = "failed"
)

// Terminal reports whether the run requires no further action.
func (s WorkflowRunStatus) Terminal() bool {
	switch s {
	case WorkflowCompleted, WorkflowCompensated, WorkflowFailed:
		return true
	default:
		return false
	}
}

// StepResult is one entry of a run's step_results map, the authoritative
// memo consulted on replay.
type StepResult struct {
	Status      WorkflowStepStatus `json:"status"`
	Result      json.RawMessage    `json:"result,omitempty"`
	Error       string             `json:"error,omitempty"`
	CompletedAt *time.Time         `json:"completed_at,omitempty"`
}

// WorkflowRun is a single execution of a registered workflow function.
type WorkflowRun struct {
	ID             string
	Name           string
	Version        int
	InputJSON      json.RawMessage
	OutputJSON     json.RawMessage
	Status         WorkflowRunStatus
	CurrentStep    string
	StepResults    map[string]StepResult
	WaitingEvent   string
	WaitingTimeout *time.Time
	WakeAt         *time.Time
	StartedAt      time.Time
	CompletedAt    *time.Time
	Error          string
	TraceID        string
}

// WorkflowStepStatus is the lifecycle of one step record within a run.
type WorkflowStepStatus string

const (
	StepPending     WorkflowStepStatus = "pending"
	StepRunning     WorkflowStepStatus = "running"
	StepCompleted   WorkflowStepStatus = "completed"
	StepFailed      WorkflowStepStatus = "failed"
	StepCompensated WorkflowStepStatus = "compensated"
	StepSkipped     WorkflowStepStatus = "skipped"
)

// WorkflowStepRecord is the persisted row for one named step of a run.
// Step names are unique within a run.
type WorkflowStepRecord struct {
	ID          string
	RunID       string
	StepName    string
	Status      WorkflowStepStatus
	ResultJSON  json.RawMessage
	Error       string
	StartedAt   time.Time
	CompletedAt *time.Time
}

// WorkflowEvent is a named, correlated signal a waiting run may consume.
// An event may be consumed at most once.
type WorkflowEvent struct {
	ID            string
	EventName     string
	CorrelationID string
	PayloadJSON   json.RawMessage
	CreatedAt     time.Time
	ConsumedAt    *time.Time
	ConsumedBy    string
}

// Consumed reports whether the event has already been claimed by a run.
func (e *WorkflowEvent) Consumed() bool {
	return e.ConsumedAt != nil
}
