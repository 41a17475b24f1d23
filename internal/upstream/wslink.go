package upstream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
)

const (
	defaultReadLimit = 1 << 20
	writeTimeout     = 10 * time.Second
	eventBuffer      = 64
)

// WSOptions configures a websocket link.
type WSOptions struct {
	Header http.Header
	// Goodbye, when set, is written as a text frame after the send queue is
	// drained on Close and before the close handshake.
	Goodbye   []byte
	ReadLimit int64
	// KeepAlive, when set with a positive KeepAliveInterval, is written as a
	// text frame on that interval while the link is ready.
	KeepAlive         []byte
	KeepAliveInterval time.Duration
}

type outFrame struct {
	typ  websocket.MessageType
	data []byte
}

// WSLink is a Link over a provider websocket. The handshake runs in the
// background; sends are appended to an unbounded FIFO drained by a single
// writer goroutine.
type WSLink struct {
	kind    Kind
	url     string
	opts    WSOptions
	events  chan Event
	stop    chan struct{}
	wake    chan struct{}
	cancel  context.CancelFunc
	stopped sync.Once

	mu    sync.Mutex
	state State
	queue []outFrame
}

// OpenWS starts dialing url and returns immediately with the link in
// StateNotReady. The Ready event follows a successful handshake; a failed
// dial produces a terminal Error event.
func OpenWS(ctx context.Context, kind Kind, url string, opts WSOptions) (*WSLink, error) {
	if strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("open %s link: empty url", kind)
	}
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = defaultReadLimit
	}
	linkCtx, cancel := context.WithCancel(ctx)
	l := &WSLink{
		kind:   kind,
		url:    url,
		opts:   opts,
		events: make(chan Event, eventBuffer),
		stop:   make(chan struct{}),
		wake:   make(chan struct{}, 1),
		cancel: cancel,
		state:  StateNotReady,
	}
	go l.run(linkCtx)
	return l, nil
}

func (l *WSLink) Kind() Kind { return l.kind }

func (l *WSLink) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *WSLink) Events() <-chan Event { return l.events }

func (l *WSLink) Send(payload []byte) error {
	return l.enqueue(websocket.MessageBinary, payload)
}

// SendText queues a text frame, e.g. a provider control message.
func (l *WSLink) SendText(payload []byte) error {
	return l.enqueue(websocket.MessageText, payload)
}

func (l *WSLink) enqueue(typ websocket.MessageType, payload []byte) error {
	l.mu.Lock()
	switch l.state {
	case StateNotReady:
		l.mu.Unlock()
		return ErrLinkNotReady
	case StateClosed:
		l.mu.Unlock()
		return ErrLinkClosed
	}
	l.queue = append(l.queue, outFrame{typ: typ, data: payload})
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return nil
}

// Close transitions the link to StateClosed. Queued frames are still flushed
// and the close handshake happens in the background, so Close never blocks on
// the network.
func (l *WSLink) Close() error {
	l.stopped.Do(func() {
		l.mu.Lock()
		wasReady := l.state == StateReady
		l.state = StateClosed
		l.mu.Unlock()
		close(l.stop)
		if !wasReady {
			l.cancel()
		}
	})
	return nil
}

// markClosed reports whether this call moved the link to StateClosed.
func (l *WSLink) markClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == StateClosed {
		return false
	}
	l.state = StateClosed
	return true
}

func (l *WSLink) emit(ev Event) {
	select {
	case l.events <- ev:
	case <-l.stop:
	}
}

func (l *WSLink) run(ctx context.Context) {
	defer close(l.events)
	defer l.cancel()

	conn, _, err := websocket.Dial(ctx, l.url, &websocket.DialOptions{HTTPHeader: l.opts.Header})
	if err != nil {
		if l.markClosed() {
			l.emit(Event{Type: EventError, Err: fmt.Errorf("dial %s link: %w", l.kind, err)})
		}
		return
	}
	conn.SetReadLimit(l.opts.ReadLimit)

	l.mu.Lock()
	if l.state == StateClosed {
		l.mu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "")
		return
	}
	l.state = StateReady
	l.mu.Unlock()
	l.emit(Event{Type: EventReady})

	writerDone := make(chan struct{})
	go l.writeLoop(ctx, conn, writerDone)
	if len(l.opts.KeepAlive) > 0 && l.opts.KeepAliveInterval > 0 {
		go l.keepAlive(ctx)
	}
	l.readLoop(ctx, conn)
	l.cancel()
	<-writerDone
}

func (l *WSLink) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if !l.markClosed() {
				return
			}
			if code := websocket.CloseStatus(err); code != -1 {
				var ce websocket.CloseError
				reason := ""
				if errors.As(err, &ce) {
					reason = ce.Reason
				}
				l.emit(Event{Type: EventClosed, Code: int(code), Reason: reason})
				return
			}
			l.emit(Event{Type: EventError, Err: fmt.Errorf("read %s link: %w", l.kind, err)})
			return
		}
		l.emit(Event{Type: EventMessage, Payload: data})
	}
}

func (l *WSLink) writeLoop(ctx context.Context, conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case <-l.wake:
			if err := l.flush(ctx, conn); err != nil {
				conn.CloseNow()
				return
			}
		case <-l.stop:
			if err := l.flush(ctx, conn); err != nil {
				conn.CloseNow()
				return
			}
			if len(l.opts.Goodbye) > 0 {
				_ = l.write(ctx, conn, websocket.MessageText, l.opts.Goodbye)
			}
			_ = conn.Close(websocket.StatusNormalClosure, "")
			return
		case <-ctx.Done():
			return
		}
	}
}

func (l *WSLink) keepAlive(ctx context.Context) {
	ticker := time.NewTicker(l.opts.KeepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := l.SendText(l.opts.KeepAlive); err != nil {
				return
			}
		case <-l.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (l *WSLink) flush(ctx context.Context, conn *websocket.Conn) error {
	for {
		l.mu.Lock()
		batch := l.queue
		l.queue = nil
		l.mu.Unlock()
		if len(batch) == 0 {
			return nil
		}
		for _, f := range batch {
			if err := l.write(ctx, conn, f.typ, f.data); err != nil {
				return err
			}
		}
	}
}

func (l *WSLink) write(ctx context.Context, conn *websocket.Conn, typ websocket.MessageType, data []byte) error {
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(wctx, typ, data)
}
