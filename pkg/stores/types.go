package stores

import (
	"context"
	"database/sql"
	"time"

	"github.com/openfroyo/biosctl/pkg/engine"
	"github.com/openfroyo/biosctl/pkg/progress"
)

// OperationRecord is a persisted operation snapshot.
type OperationRecord struct {
	ID            string          `json:"id"`
	Kind          string          `json:"kind"`
	Target        string          `json:"target"`
	Status        progress.Status `json:"status"`
	Percentage    float64         `json:"percentage"`
	TotalSubtasks int             `json:"total_subtasks"`
	Errors        int             `json:"errors"`
	Warnings      int             `json:"warnings"`
	Message       string          `json:"message"`
	CreatedAt     time.Time       `json:"created_at"`
	StartedAt     *time.Time      `json:"started_at,omitempty"`
	EndedAt       *time.Time      `json:"ended_at,omitempty"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// EventRecord is a persisted progress event.
type EventRecord struct {
	ID          string             `json:"id"`
	OperationID string             `json:"operation_id"`
	Type        progress.EventType `json:"type"`
	Message     string             `json:"message"`
	Subtask     string             `json:"subtask"`
	Percentage  float64            `json:"percentage"`
	Error       string             `json:"error"`
	Timestamp   time.Time          `json:"timestamp"`
}

// SettingChangeRecord is one setting write attempted by a reconciliation.
type SettingChangeRecord struct {
	ID          int64              `json:"id"`
	OperationID string             `json:"operation_id"`
	Target      string             `json:"target"`
	Name        string             `json:"name"`
	OldValue    string             `json:"old_value"` // JSON
	NewValue    string             `json:"new_value"` // JSON
	Channel     engine.Channel     `json:"channel"`
	BatchIndex  int                `json:"batch_index"`
	Status      engine.BatchStatus `json:"status"`
	Error       string             `json:"error"`
	RecordedAt  time.Time          `json:"recorded_at"`
}

// FirmwareResultRecord is one firmware update outcome.
type FirmwareResultRecord struct {
	ID          int64                `json:"id"`
	OperationID string               `json:"operation_id"`
	Target      string               `json:"target"`
	Component   engine.ComponentType `json:"component"`
	Name        string               `json:"name"`
	Priority    engine.Priority      `json:"priority"`
	Success     bool                 `json:"success"`
	OldVersion  string               `json:"old_version"`
	NewVersion  string               `json:"new_version"`
	Duration    time.Duration        `json:"duration"`
	Error       string               `json:"error"`
	RecordedAt  time.Time            `json:"recorded_at"`
}

// OperationFilter selects operations. Zero fields match everything.
type OperationFilter struct {
	Kind   string
	Target string
	Status progress.Status
	Limit  int
	Offset int
}

// Store defines the persistence operations used by biosctl.
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error
	HealthCheck(ctx context.Context) error

	// Operations
	UpsertOperation(ctx context.Context, op progress.Operation) error
	GetOperation(ctx context.Context, id string) (*OperationRecord, error)
	ListOperations(ctx context.Context, filter OperationFilter) ([]*OperationRecord, error)
	DeleteOperation(ctx context.Context, id string) error

	// Events
	AppendEvent(ctx context.Context, ev progress.Event) error
	ListEvents(ctx context.Context, operationID string) ([]*EventRecord, error)

	// Results
	SaveReconcileResult(ctx context.Context, res *engine.ReconcileResult) error
	SaveFirmwareReport(ctx context.Context, rep *engine.FirmwareReport) error
	ListSettingChanges(ctx context.Context, operationID string) ([]*SettingChangeRecord, error)
	ListFirmwareResults(ctx context.Context, operationID string) ([]*FirmwareResultRecord, error)

	// Transactions
	BeginTx(ctx context.Context) (*sql.Tx, error)
}
