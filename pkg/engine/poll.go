package engine

import (
	"context"
	"fmt"
	"time"
)

// PollConfig bounds the wait for an asynchronous backend task.
type PollConfig struct {
	// Interval is the fixed delay between state checks.
	Interval time.Duration

	// MaxWait is the total budget. Exceeding it is a TimeoutError.
	MaxWait time.Duration
}

// DefaultPollConfig returns the default poll bounds.
func DefaultPollConfig() PollConfig {
	return PollConfig{Interval: 2 * time.Second, MaxWait: 10 * time.Minute}
}

// Validate checks the poll bounds.
func (p PollConfig) Validate() error {
	if p.Interval <= 0 {
		return fmt.Errorf("poll interval must be positive: %s", p.Interval)
	}
	if p.MaxWait < p.Interval {
		return fmt.Errorf("poll max wait %s is shorter than the interval %s", p.MaxWait, p.Interval)
	}
	return nil
}

// TaskStateFunc reports the state of a backend task and an optional message.
type TaskStateFunc func(ctx context.Context) (TaskState, string, error)

// AwaitTask polls state at a fixed interval until the task finishes or the
// budget runs out. A failed task is a ChannelExecutionError and an expired
// budget a TimeoutError.
func AwaitTask(ctx context.Context, cfg PollConfig, taskID string, state TaskStateFunc) error {
	if err := cfg.Validate(); err != nil {
		return NewValidationError("invalid poll configuration", err).WithCode(ErrCodeInvalidRequest)
	}

	deadline := time.NewTimer(cfg.MaxWait)
	defer deadline.Stop()
	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	for {
		st, msg, err := state(ctx)
		if err != nil {
			return NewChannelExecutionError("failed to query task state", err).
				WithDetail("task_id", taskID)
		}
		switch st {
		case TaskCompleted:
			return nil
		case TaskFailed:
			return NewChannelExecutionError(fmt.Sprintf("task %s failed: %s", taskID, msg), nil).
				WithCode(ErrCodeBatchFailed).
				WithDetail("task_id", taskID)
		}

		select {
		case <-ctx.Done():
			return NewTimeoutError(fmt.Sprintf("task %s interrupted", taskID), ctx.Err()).
				WithCode(ErrCodePollBudget)
		case <-deadline.C:
			return NewTimeoutError(fmt.Sprintf("task %s exceeded poll budget of %s", taskID, cfg.MaxWait), nil).
				WithCode(ErrCodePollBudget).
				WithDetail("last_state", string(st))
		case <-ticker.C:
		}
	}
}
