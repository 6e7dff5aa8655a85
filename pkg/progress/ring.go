package progress

// eventRing is a fixed-capacity buffer that drops the oldest event on overflow.
type eventRing struct {
	buf   []Event
	start int
	size  int
}

func newEventRing(capacity int) *eventRing {
	if capacity <= 0 {
		capacity = DefaultEventCapacity
	}
	return &eventRing{buf: make([]Event, capacity)}
}

func (r *eventRing) push(ev Event) {
	if r.size < len(r.buf) {
		r.buf[(r.start+r.size)%len(r.buf)] = ev
		r.size++
		return
	}
	r.buf[r.start] = ev
	r.start = (r.start + 1) % len(r.buf)
}

// each visits events oldest first until fn returns false.
func (r *eventRing) each(fn func(Event) bool) {
	for i := 0; i < r.size; i++ {
		if !fn(r.buf[(r.start+i)%len(r.buf)]) {
			return
		}
	}
}

func (r *eventRing) count() int { return r.size }
