package progress

// Observer receives progress events. Events for one operation arrive in the
// order they were recorded; there is no ordering across operations.
//
// A returned error or a panic is logged by the Monitor and does not stop
// delivery to other observers.
type Observer interface {
	OnProgressEvent(event Event) error
	OnStatusChange(operationID string, status Status) error
}

// ObserverFuncs adapts plain functions to the Observer interface. Nil fields
// are ignored.
type ObserverFuncs struct {
	Progress func(Event) error
	Status   func(string, Status) error
}

// OnProgressEvent implements Observer.
func (f ObserverFuncs) OnProgressEvent(event Event) error {
	if f.Progress == nil {
		return nil
	}
	return f.Progress(event)
}

// OnStatusChange implements Observer.
func (f ObserverFuncs) OnStatusChange(operationID string, status Status) error {
	if f.Status == nil {
		return nil
	}
	return f.Status(operationID, status)
}
