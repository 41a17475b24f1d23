// Package upstream models outbound connections to speech and language
// providers. A Link has an explicit readiness state and reports its lifecycle
// to its owner as a stream of events instead of being polled.
package upstream

import "errors"

var (
	// ErrLinkNotReady is returned by Send before the provider handshake has
	// completed. Callers buffer and retry after the Ready event.
	ErrLinkNotReady = errors.New("upstream link not ready")
	ErrLinkClosed   = errors.New("upstream link closed")
)

// Kind names the provider role a link serves.
type Kind string

const (
	KindSTT        Kind = "stt"
	KindCompletion Kind = "completion"
	KindTTS        Kind = "tts"
)

// State is monotonic: NotReady -> Ready -> Closed. Closed is terminal and may
// be entered from either earlier state.
type State int32

const (
	StateNotReady State = iota
	StateReady
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNotReady:
		return "not_ready"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

type EventType int

const (
	EventReady EventType = iota + 1
	EventMessage
	EventError
	EventClosed
)

func (t EventType) String() string {
	switch t {
	case EventReady:
		return "ready"
	case EventMessage:
		return "message"
	case EventError:
		return "error"
	case EventClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Event is delivered on Link.Events. Ready is sent at most once. Error and
// Closed are terminal: nothing follows them and the channel is then closed.
// A link closed by its owner emits no terminal event.
type Event struct {
	Type    EventType
	Payload []byte
	Err     error
	Code    int
	Reason  string
}

// Link is one outbound connection to a provider.
type Link interface {
	Kind() Kind
	State() State
	// Send transmits payload in call order. It fails with ErrLinkNotReady
	// before the link is ready and ErrLinkClosed after it closed.
	Send(payload []byte) error
	Events() <-chan Event
	// Close is idempotent.
	Close() error
}
