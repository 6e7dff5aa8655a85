package progress

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/looplab/fsm"
	"github.com/rs/zerolog"
)

const (
	// DefaultEventCapacity is the default size of the event ring buffer.
	DefaultEventCapacity = 1000

	// DefaultHistoryLimit is the default number of retained operations.
	DefaultHistoryLimit = 100
)

const (
	fsmStart    = "start"
	fsmComplete = "complete"
	fsmFail     = "fail"
	fsmCancel   = "cancel"
)

// operation is the mutable record behind an Operation snapshot.
type operation struct {
	snap  Operation
	state *fsm.FSM
	seen  map[string]bool
}

func newOperationFSM(op *operation, now func() time.Time) *fsm.FSM {
	pending, running := string(StatusPending), string(StatusRunning)
	return fsm.NewFSM(
		pending,
		fsm.Events{
			{Name: fsmStart, Src: []string{pending}, Dst: running},
			{Name: fsmComplete, Src: []string{running}, Dst: string(StatusCompleted)},
			{Name: fsmFail, Src: []string{pending, running}, Dst: string(StatusFailed)},
			{Name: fsmCancel, Src: []string{pending, running}, Dst: string(StatusCancelled)},
		},
		fsm.Callbacks{
			"enter_" + running: func(_ context.Context, _ *fsm.Event) {
				op.snap.StartedAt = now()
			},
			"enter_state": func(_ context.Context, e *fsm.Event) {
				op.snap.Status = Status(e.Dst)
				if op.snap.Status.IsTerminal() {
					op.snap.EndedAt = now()
				}
			},
		},
	)
}

// Monitor is a registry of monitored operations.
type Monitor struct {
	mu        sync.RWMutex
	ops       map[string]*operation
	order     []string
	events    *eventRing
	observers []Observer

	historyLimit int
	logger       zerolog.Logger
	now          func() time.Time
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithEventCapacity sets the ring buffer size.
func WithEventCapacity(n int) Option {
	return func(m *Monitor) { m.events = newEventRing(n) }
}

// WithHistoryLimit sets how many operations are retained before the oldest
// finished ones are evicted.
func WithHistoryLimit(n int) Option {
	return func(m *Monitor) {
		if n > 0 {
			m.historyLimit = n
		}
	}
}

// WithLogger sets the logger used to report observer failures.
func WithLogger(logger zerolog.Logger) Option {
	return func(m *Monitor) { m.logger = logger }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// WithObserver registers an observer at construction.
func WithObserver(o Observer) Option {
	return func(m *Monitor) { m.observers = append(m.observers, o) }
}

// NewMonitor creates an empty registry.
func NewMonitor(opts ...Option) *Monitor {
	m := &Monitor{
		ops:          make(map[string]*operation),
		events:       newEventRing(DefaultEventCapacity),
		historyLimit: DefaultHistoryLimit,
		logger:       zerolog.Nop(),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// AddObserver registers an observer for all subsequent events.
func (m *Monitor) AddObserver(o Observer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, o)
}

// Create registers a new pending operation and returns its id.
func (m *Monitor) Create(kind, target string) string {
	id := uuid.New().String()
	op := &operation{seen: make(map[string]bool)}
	op.snap = Operation{
		ID:        id,
		Kind:      kind,
		Target:    target,
		Status:    StatusPending,
		CreatedAt: m.now(),
	}
	op.state = newOperationFSM(op, m.now)

	m.mu.Lock()
	m.ops[id] = op
	m.order = append(m.order, id)
	m.evictLocked()
	d := m.recordLocked(op, EventOperationCreated, fmt.Sprintf("%s operation created", kind), "", "")
	d.status = true
	observers := m.observers
	m.mu.Unlock()

	m.deliver(observers, d)
	return id
}

// Start moves the operation to running. A total of zero defers the subtask
// count to SetTotalSubtasks.
func (m *Monitor) Start(id string, totalSubtasks int) error {
	if totalSubtasks < 0 {
		return fmt.Errorf("total subtasks must not be negative: %d", totalSubtasks)
	}
	return m.mutate(id, func(op *operation) (*delivery, error) {
		if err := op.state.Event(context.Background(), fsmStart); err != nil {
			return nil, transitionError(err)
		}
		op.snap.TotalSubtasks = totalSubtasks
		d := m.recordLocked(op, EventOperationStarted, "operation started", "", "")
		d.status = true
		return d, nil
	})
}

// SetTotalSubtasks declares the subtask count of an operation started with a
// total of zero. Subtasks finished before the declaration count toward it.
func (m *Monitor) SetTotalSubtasks(id string, total int) error {
	if total <= 0 {
		return fmt.Errorf("total subtasks must be positive: %d", total)
	}
	return m.mutate(id, func(op *operation) (*delivery, error) {
		if op.snap.TotalSubtasks != 0 {
			return nil, ErrTotalDeclared
		}
		finished := len(op.snap.CompletedSubtasks) + len(op.snap.FailedSubtasks)
		if total < finished {
			return nil, fmt.Errorf("total %d is below %d finished subtasks", total, finished)
		}
		op.snap.TotalSubtasks = total
		m.recomputeLocked(op)
		return m.recordLocked(op, EventTotalDeclared, fmt.Sprintf("%d subtasks", total), "", ""), nil
	})
}

// StartSubtask marks a subtask as current.
func (m *Monitor) StartSubtask(id, name string) error {
	return m.mutate(id, func(op *operation) (*delivery, error) {
		if op.seen[name] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateSubtask, name)
		}
		op.snap.CurrentSubtask = name
		return m.recordLocked(op, EventSubtaskStarted, "subtask started", name, ""), nil
	})
}

// CompleteSubtask records a finished subtask and recomputes the percentage.
func (m *Monitor) CompleteSubtask(id, name string, success bool) error {
	return m.mutate(id, func(op *operation) (*delivery, error) {
		if op.seen[name] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateSubtask, name)
		}
		op.seen[name] = true
		if op.snap.CurrentSubtask == name {
			op.snap.CurrentSubtask = ""
		}
		evType := EventSubtaskCompleted
		if success {
			op.snap.CompletedSubtasks = append(op.snap.CompletedSubtasks, name)
		} else {
			op.snap.FailedSubtasks = append(op.snap.FailedSubtasks, name)
			evType = EventSubtaskFailed
		}
		m.recomputeLocked(op)
		return m.recordLocked(op, evType, "subtask finished", name, ""), nil
	})
}

// UpdateProgress sets the percentage directly. Values below the current
// percentage are ignored.
func (m *Monitor) UpdateProgress(id string, pct float64) error {
	if math.IsNaN(pct) {
		return errors.New("percentage is NaN")
	}
	return m.mutate(id, func(op *operation) (*delivery, error) {
		m.setPercentageLocked(op, pct)
		return m.recordLocked(op, EventProgressUpdated, "", "", ""), nil
	})
}

// CompleteOperation finishes the operation as completed or failed and sets
// the percentage to 100.
func (m *Monitor) CompleteOperation(id string, success bool, message string) error {
	return m.mutate(id, func(op *operation) (*delivery, error) {
		event, evType := fsmComplete, EventOperationCompleted
		if !success {
			event, evType = fsmFail, EventOperationFailed
		}
		if err := op.state.Event(context.Background(), event); err != nil {
			return nil, transitionError(err)
		}
		op.snap.Percentage = 100
		op.snap.CurrentSubtask = ""
		op.snap.Message = message
		errText := ""
		if !success {
			errText = message
		}
		d := m.recordLocked(op, evType, message, "", errText)
		d.status = true
		return d, nil
	})
}

// CancelOperation finishes the operation as cancelled. It is called by the
// operation owner once it has observed the cancellation at a checkpoint.
func (m *Monitor) CancelOperation(id, reason string) error {
	return m.mutate(id, func(op *operation) (*delivery, error) {
		if err := op.state.Event(context.Background(), fsmCancel); err != nil {
			return nil, transitionError(err)
		}
		op.snap.CancelRequested = true
		if op.snap.CancelReason == "" {
			op.snap.CancelReason = reason
		}
		op.snap.CurrentSubtask = ""
		op.snap.Message = reason
		d := m.recordLocked(op, EventOperationCancelled, reason, "", "")
		d.status = true
		return d, nil
	})
}

// RequestCancellation raises the cancellation flag. It is safe to call from
// any goroutine; the owner observes it through IsCancelled.
func (m *Monitor) RequestCancellation(id, reason string) error {
	return m.mutate(id, func(op *operation) (*delivery, error) {
		if op.snap.CancelRequested {
			return nil, nil
		}
		op.snap.CancelRequested = true
		op.snap.CancelReason = reason
		return m.recordLocked(op, EventCancelRequested, reason, "", ""), nil
	})
}

// IsCancelled reports whether cancellation was requested.
func (m *Monitor) IsCancelled(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	op, ok := m.ops[id]
	return ok && op.snap.CancelRequested
}

// LogInfo records an informational event.
func (m *Monitor) LogInfo(id, message string) error {
	return m.log(id, EventInfo, message, "")
}

// LogWarning records a warning and bumps the warning counter.
func (m *Monitor) LogWarning(id, message string) error {
	return m.log(id, EventWarning, message, "")
}

// LogError records an error and bumps the error counter.
func (m *Monitor) LogError(id, message string, err error) error {
	errText := ""
	if err != nil {
		errText = err.Error()
	}
	return m.log(id, EventError, message, errText)
}

func (m *Monitor) log(id string, evType EventType, message, errText string) error {
	return m.mutate(id, func(op *operation) (*delivery, error) {
		switch evType {
		case EventWarning:
			op.snap.Warnings++
		case EventError:
			op.snap.Errors++
		}
		return m.recordLocked(op, evType, message, op.snap.CurrentSubtask, errText), nil
	})
}

// Get returns a snapshot of the operation.
func (m *Monitor) Get(id string) (Operation, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	op, ok := m.ops[id]
	if !ok {
		return Operation{}, false
	}
	return op.snapshot(), true
}

// List returns snapshots of matching operations in creation order.
func (m *Monitor) List(filter Filter) []Operation {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Operation
	for _, id := range m.order {
		op := m.ops[id]
		if filter.matches(&op.snap) {
			out = append(out, op.snapshot())
		}
	}
	return out
}

// Events returns up to limit of the most recent events, oldest first.
// A limit of zero returns every buffered event.
func (m *Monitor) Events(limit int) []Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	skip := 0
	if limit > 0 && m.events.count() > limit {
		skip = m.events.count() - limit
	}
	out := make([]Event, 0, m.events.count()-skip)
	m.events.each(func(ev Event) bool {
		if skip > 0 {
			skip--
			return true
		}
		out = append(out, ev)
		return true
	})
	return out
}

// OperationEvents returns the buffered events of one operation, oldest first.
func (m *Monitor) OperationEvents(id string) []Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Event
	m.events.each(func(ev Event) bool {
		if ev.OperationID == id {
			out = append(out, ev)
		}
		return true
	})
	return out
}

func (op *operation) snapshot() Operation {
	s := op.snap
	s.CompletedSubtasks = append([]string(nil), op.snap.CompletedSubtasks...)
	s.FailedSubtasks = append([]string(nil), op.snap.FailedSubtasks...)
	return s
}

// delivery is an event awaiting observer dispatch.
type delivery struct {
	event  Event
	status bool
	state  Status
}

func (m *Monitor) mutate(id string, fn func(op *operation) (*delivery, error)) error {
	m.mu.Lock()
	op, ok := m.ops[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrOperationNotFound, id)
	}
	if op.snap.Status.IsTerminal() {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s is %s", ErrOperationTerminal, id, op.snap.Status)
	}
	d, err := fn(op)
	observers := m.observers
	m.mu.Unlock()

	if err != nil {
		return err
	}
	if d != nil {
		m.deliver(observers, d)
	}
	return nil
}

func (m *Monitor) recordLocked(op *operation, evType EventType, message, subtask, errText string) *delivery {
	ev := Event{
		ID:          uuid.New().String(),
		Type:        evType,
		OperationID: op.snap.ID,
		Timestamp:   m.now(),
		Message:     message,
		Percentage:  op.snap.Percentage,
		Subtask:     subtask,
		Error:       errText,
	}
	m.events.push(ev)
	return &delivery{event: ev, state: op.snap.Status}
}

func (m *Monitor) recomputeLocked(op *operation) {
	if op.snap.TotalSubtasks == 0 {
		return
	}
	finished := len(op.snap.CompletedSubtasks) + len(op.snap.FailedSubtasks)
	m.setPercentageLocked(op, float64(finished)/float64(op.snap.TotalSubtasks)*100)
}

func (m *Monitor) setPercentageLocked(op *operation, pct float64) {
	if pct > 100 {
		pct = 100
	}
	if pct > op.snap.Percentage {
		op.snap.Percentage = pct
	}
}

// evictLocked drops the oldest finished operations beyond the history limit.
// Active operations are never evicted.
func (m *Monitor) evictLocked() {
	excess := len(m.order) - m.historyLimit
	if excess <= 0 {
		return
	}
	kept := m.order[:0]
	for _, id := range m.order {
		if excess > 0 && m.ops[id].snap.Status.IsTerminal() {
			delete(m.ops, id)
			excess--
			continue
		}
		kept = append(kept, id)
	}
	m.order = kept
}

func (m *Monitor) deliver(observers []Observer, d *delivery) {
	for _, o := range observers {
		m.notify(o, d)
	}
}

func (m *Monitor) notify(o Observer, d *delivery) {
	m.guard(d, "progress", func() error { return o.OnProgressEvent(d.event) })
	if d.status {
		m.guard(d, "status", func() error { return o.OnStatusChange(d.event.OperationID, d.state) })
	}
}

// guard runs one observer callback, logging its error or panic so the
// remaining observers still receive the event.
func (m *Monitor) guard(d *delivery, kind string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error().
				Str("operation_id", d.event.OperationID).
				Str("event", string(d.event.Type)).
				Str("callback", kind).
				Interface("panic", r).
				Msg("Progress observer panicked")
		}
	}()
	if err := fn(); err != nil {
		m.logger.Warn().Err(err).
			Str("operation_id", d.event.OperationID).
			Str("event", string(d.event.Type)).
			Str("callback", kind).
			Msg("Progress observer failed")
	}
}

func transitionError(err error) error {
	var invalid fsm.InvalidEventError
	if errors.As(err, &invalid) {
		return fmt.Errorf("invalid transition %q from %s", invalid.Event, invalid.State)
	}
	return err
}
