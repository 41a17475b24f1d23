package upstream

import (
	"errors"
	"testing"
)

func TestLocalLinkLifecycle(t *testing.T) {
	var sent []string
	link := NewLocal(KindSTT, func(p []byte) { sent = append(sent, string(p)) })

	if err := link.Send([]byte("x")); !errors.Is(err, ErrLinkNotReady) {
		t.Fatalf("Send() error = %v, want ErrLinkNotReady", err)
	}

	link.MarkReady()
	link.MarkReady()
	if ev, _ := nextEvent(t, link); ev.Type != EventReady {
		t.Fatalf("event = %v, want ready", ev.Type)
	}

	if err := link.Send([]byte("a")); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	link.Deliver([]byte("hello"))
	if ev, _ := nextEvent(t, link); ev.Type != EventMessage || string(ev.Payload) != "hello" {
		t.Fatalf("event = %+v, want message hello", ev)
	}

	link.Hangup(4000, "done")
	ev, _ := nextEvent(t, link)
	if ev.Type != EventClosed || ev.Code != 4000 || ev.Reason != "done" {
		t.Fatalf("event = %+v, want closed 4000", ev)
	}
	if _, ok := nextEvent(t, link); ok {
		t.Fatalf("expected closed events channel")
	}

	link.Deliver([]byte("ignored"))
	if err := link.Send([]byte("b")); !errors.Is(err, ErrLinkClosed) {
		t.Fatalf("Send() error = %v, want ErrLinkClosed", err)
	}
	if len(sent) != 1 || sent[0] != "a" {
		t.Fatalf("sent = %v, want [a]", sent)
	}
	if err := link.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
}

func TestLocalLinkCloseEndsEvents(t *testing.T) {
	link := NewLocal(KindTTS, nil)
	_ = link.Close()
	_ = link.Close()
	if _, ok := nextEvent(t, link); ok {
		t.Fatalf("expected closed events channel")
	}
	if got := link.State(); got != StateClosed {
		t.Fatalf("State() = %v, want %v", got, StateClosed)
	}
}
