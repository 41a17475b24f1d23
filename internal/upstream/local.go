package upstream

import "sync"

// LocalLink is an in-process Link. The owner of the provider side drives it
// with MarkReady, Deliver, Fail and Hangup; payloads passed to Send are handed
// to the OnSend callback synchronously and in order.
type LocalLink struct {
	kind   Kind
	onSend func(payload []byte)
	events chan Event
	wake   chan struct{}
	stop   chan struct{}

	mu      sync.Mutex
	state   State
	pending []Event
	final   bool
	closed  sync.Once
}

// NewLocal returns a link in StateNotReady. onSend may be nil.
func NewLocal(kind Kind, onSend func(payload []byte)) *LocalLink {
	l := &LocalLink{
		kind:   kind,
		onSend: onSend,
		events: make(chan Event),
		wake:   make(chan struct{}, 1),
		stop:   make(chan struct{}),
		state:  StateNotReady,
	}
	go l.pump()
	return l
}

func (l *LocalLink) Kind() Kind { return l.kind }

func (l *LocalLink) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *LocalLink) Events() <-chan Event { return l.events }

func (l *LocalLink) Send(payload []byte) error {
	l.mu.Lock()
	state := l.state
	l.mu.Unlock()
	switch state {
	case StateNotReady:
		return ErrLinkNotReady
	case StateClosed:
		return ErrLinkClosed
	}
	if l.onSend != nil {
		l.onSend(payload)
	}
	return nil
}

func (l *LocalLink) Close() error {
	l.closed.Do(func() {
		l.mu.Lock()
		l.state = StateClosed
		l.final = true
		l.mu.Unlock()
		close(l.stop)
	})
	return nil
}

// MarkReady moves the link to StateReady and emits Ready. Later calls are
// no-ops.
func (l *LocalLink) MarkReady() {
	l.mu.Lock()
	if l.state != StateNotReady {
		l.mu.Unlock()
		return
	}
	l.state = StateReady
	l.pending = append(l.pending, Event{Type: EventReady})
	l.mu.Unlock()
	l.signal()
}

// Deliver emits a Message event. It is ignored once the link is closed.
func (l *LocalLink) Deliver(payload []byte) {
	l.push(Event{Type: EventMessage, Payload: payload}, false)
}

// Fail emits a terminal Error event.
func (l *LocalLink) Fail(err error) {
	l.push(Event{Type: EventError, Err: err}, true)
}

// Hangup emits a terminal Closed event, as if the provider closed the
// connection with code and reason.
func (l *LocalLink) Hangup(code int, reason string) {
	l.push(Event{Type: EventClosed, Code: code, Reason: reason}, true)
}

func (l *LocalLink) push(ev Event, terminal bool) {
	l.mu.Lock()
	if l.final {
		l.mu.Unlock()
		return
	}
	if terminal {
		l.state = StateClosed
		l.final = true
	}
	l.pending = append(l.pending, ev)
	l.mu.Unlock()
	l.signal()
}

func (l *LocalLink) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *LocalLink) pump() {
	defer close(l.events)
	for {
		l.mu.Lock()
		batch := l.pending
		l.pending = nil
		done := l.final && len(batch) == 0
		l.mu.Unlock()

		for _, ev := range batch {
			select {
			case l.events <- ev:
			case <-l.stop:
				return
			}
			if ev.Type == EventError || ev.Type == EventClosed {
				return
			}
		}
		if done {
			return
		}
		if len(batch) > 0 {
			continue
		}
		select {
		case <-l.wake:
		case <-l.stop:
			return
		}
	}
}
