package stores

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/biosctl/pkg/progress"
)

// OperationSource returns the current snapshot of an operation.
// *progress.Monitor satisfies it.
type OperationSource interface {
	Get(id string) (progress.Operation, bool)
}

// StoreObserver persists monitor events and operation snapshots.
// Register it with progress.Monitor.AddObserver.
type StoreObserver struct {
	store   Store
	source  OperationSource
	logger  zerolog.Logger
	timeout time.Duration
}

var _ progress.Observer = (*StoreObserver)(nil)

// NewStoreObserver creates an observer writing to store.
func NewStoreObserver(store Store, source OperationSource, logger zerolog.Logger) *StoreObserver {
	return &StoreObserver{
		store:   store,
		source:  source,
		logger:  logger.With().Str("component", "store-observer").Logger(),
		timeout: 5 * time.Second,
	}
}

// OnProgressEvent stores the event. Subtask and lifecycle events also
// refresh the operation snapshot so percentages stay current.
func (o *StoreObserver) OnProgressEvent(ev progress.Event) error {
	ctx, cancel := context.WithTimeout(context.Background(), o.timeout)
	defer cancel()

	if err := o.store.AppendEvent(ctx, ev); err != nil {
		o.logger.Error().Err(err).Str("operation_id", ev.OperationID).Msg("Failed to persist event")
		return err
	}

	switch ev.Type {
	case progress.EventSubtaskCompleted, progress.EventSubtaskFailed, progress.EventTotalDeclared:
		return o.snapshot(ctx, ev.OperationID)
	}
	return nil
}

// OnStatusChange stores the operation snapshot.
func (o *StoreObserver) OnStatusChange(operationID string, _ progress.Status) error {
	ctx, cancel := context.WithTimeout(context.Background(), o.timeout)
	defer cancel()
	return o.snapshot(ctx, operationID)
}

func (o *StoreObserver) snapshot(ctx context.Context, id string) error {
	op, ok := o.source.Get(id)
	if !ok {
		return nil
	}
	if err := o.store.UpsertOperation(ctx, op); err != nil {
		o.logger.Error().Err(err).Str("operation_id", id).Msg("Failed to persist operation")
		return err
	}
	return nil
}
