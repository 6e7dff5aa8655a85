package progress

import (
	"errors"
	"fmt"
	"time"
)

// Status is the lifecycle state of an operation.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"

	// StatusPaused is reserved. No transition enters it.
	StatusPaused Status = "paused"
)

// IsTerminal returns true if no further mutation is allowed.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// IsActive returns true if the operation is pending or running.
func (s Status) IsActive() bool {
	return s == StatusPending || s == StatusRunning
}

// Validate checks if the status is valid.
func (s Status) Validate() error {
	switch s {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusCancelled, StatusPaused:
		return nil
	default:
		return fmt.Errorf("invalid status: %s", s)
	}
}

// EventType identifies what a progress event reports.
type EventType string

const (
	EventOperationCreated   EventType = "operation_created"
	EventOperationStarted   EventType = "operation_started"
	EventTotalDeclared      EventType = "total_declared"
	EventSubtaskStarted     EventType = "subtask_started"
	EventSubtaskCompleted   EventType = "subtask_completed"
	EventSubtaskFailed      EventType = "subtask_failed"
	EventProgressUpdated    EventType = "progress_updated"
	EventOperationCompleted EventType = "operation_completed"
	EventOperationFailed    EventType = "operation_failed"
	EventOperationCancelled EventType = "operation_cancelled"
	EventCancelRequested    EventType = "cancel_requested"
	EventInfo               EventType = "info"
	EventWarning            EventType = "warning"
	EventError              EventType = "error"
)

// Event is a single progress notification.
type Event struct {
	ID          string    `json:"id"`
	Type        EventType `json:"type"`
	OperationID string    `json:"operation_id"`
	Timestamp   time.Time `json:"timestamp"`
	Message     string    `json:"message,omitempty"`
	Percentage  float64   `json:"percentage"`
	Subtask     string    `json:"subtask,omitempty"`
	Error       string    `json:"error,omitempty"`
}

// Operation is a point-in-time snapshot of a monitored operation.
type Operation struct {
	ID                string    `json:"id"`
	Kind              string    `json:"kind"`
	Target            string    `json:"target,omitempty"`
	Status            Status    `json:"status"`
	CreatedAt         time.Time `json:"created_at"`
	StartedAt         time.Time `json:"started_at,omitempty"`
	EndedAt           time.Time `json:"ended_at,omitempty"`
	Percentage        float64   `json:"percentage"`
	TotalSubtasks     int       `json:"total_subtasks"`
	CurrentSubtask    string    `json:"current_subtask,omitempty"`
	CompletedSubtasks []string  `json:"completed_subtasks"`
	FailedSubtasks    []string  `json:"failed_subtasks"`
	Errors            int       `json:"errors"`
	Warnings          int       `json:"warnings"`
	CancelRequested   bool      `json:"cancel_requested"`
	CancelReason      string    `json:"cancel_reason,omitempty"`
	Message           string    `json:"message,omitempty"`
}

// Duration returns the elapsed run time of the operation.
func (o Operation) Duration() time.Duration {
	if o.StartedAt.IsZero() {
		return 0
	}
	if o.EndedAt.IsZero() {
		return time.Since(o.StartedAt)
	}
	return o.EndedAt.Sub(o.StartedAt)
}

// Filter selects operations in List.
type Filter struct {
	Kind   string
	Target string
	Status Status
}

func (f Filter) matches(o *Operation) bool {
	if f.Kind != "" && o.Kind != f.Kind {
		return false
	}
	if f.Target != "" && o.Target != f.Target {
		return false
	}
	if f.Status != "" && o.Status != f.Status {
		return false
	}
	return true
}

var (
	// ErrOperationNotFound is returned for unknown or evicted ids.
	ErrOperationNotFound = errors.New("operation not found")

	// ErrOperationTerminal is returned when mutating a finished operation.
	ErrOperationTerminal = errors.New("operation already finished")

	// ErrDuplicateSubtask is returned when a subtask is completed twice.
	ErrDuplicateSubtask = errors.New("subtask already completed")

	// ErrTotalDeclared is returned when the subtask total is declared twice.
	ErrTotalDeclared = errors.New("subtask total already declared")
)
