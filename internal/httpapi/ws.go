package httpapi

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/patrickhyd4/ai-voice-interviewer/internal/protocol"
)

const (
	writeTimeout     = 10 * time.Second
	sendQueueTimeout = 5 * time.Second
	closeGrace       = 5 * time.Second
)

var (
	errClientGone = errors.New("client connection closed")
	errClientSlow = errors.New("client send queue full")
)

// wsClient is the voice.ClientChannel for one websocket connection. All
// writes go through writeLoop so the connection has a single writer.
type wsClient struct {
	conn *websocket.Conn
	out  chan []byte

	closeOnce  sync.Once
	closeCode  int
	closeText  string
	closing    chan struct{}
	stopOnce   sync.Once
	stopped    chan struct{}
	writerDone chan struct{}
}

func newWSClient(conn *websocket.Conn) *wsClient {
	return &wsClient{
		conn:       conn,
		out:        make(chan []byte, 256),
		closing:    make(chan struct{}),
		stopped:    make(chan struct{}),
		writerDone: make(chan struct{}),
	}
}

func (c *wsClient) Send(ev protocol.Event) error {
	data, err := protocol.EncodeEvent(ev)
	if err != nil {
		return fmt.Errorf("encode %s: %w", ev.EventType(), err)
	}
	select {
	case <-c.closing:
		return errClientGone
	case <-c.writerDone:
		return errClientGone
	default:
	}

	timer := time.NewTimer(sendQueueTimeout)
	defer timer.Stop()
	select {
	case c.out <- data:
		return nil
	case <-c.writerDone:
		return errClientGone
	case <-timer.C:
		return errClientSlow
	}
}

// Close queues a close frame behind any pending messages. Only the first call
// has any effect.
func (c *wsClient) Close(code int, reason string) error {
	c.closeOnce.Do(func() {
		c.closeCode = code
		c.closeText = reason
		close(c.closing)
	})
	return nil
}

// stop ends the writer without sending a close frame.
func (c *wsClient) stop() {
	c.stopOnce.Do(func() { close(c.stopped) })
}

func (c *wsClient) writeLoop() {
	defer close(c.writerDone)
	for {
		select {
		case data := <-c.out:
			if err := c.write(data); err != nil {
				return
			}
		case <-c.closing:
			c.finishClose()
			return
		case <-c.stopped:
			// A close requested before stop still goes out.
			select {
			case <-c.closing:
				c.finishClose()
			default:
			}
			return
		}
	}
}

func (c *wsClient) finishClose() {
	c.drain()
	msg := websocket.FormatCloseMessage(c.closeCode, c.closeText)
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeTimeout))
	// Bound the wait for the peer's close reply.
	_ = c.conn.SetReadDeadline(time.Now().Add(closeGrace))
}

func (c *wsClient) drain() {
	for {
		select {
		case data := <-c.out:
			if err := c.write(data); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *wsClient) write(data []byte) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}
