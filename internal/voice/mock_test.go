package voice

import (
	"context"
	"testing"
	"time"

	"github.com/patrickhyd4/ai-voice-interviewer/internal/audio"
	"github.com/patrickhyd4/ai-voice-interviewer/internal/upstream"
)

func TestMockSTTEmitsInterimThenFinal(t *testing.T) {
	p := &MockSTT{ReadyDelay: time.Millisecond, FramesPerUtterance: 2}
	link, err := p.Open(context.Background(), "s1")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer link.Close()

	ev := receive(t, link.Events())
	if ev.Type != upstream.EventReady {
		t.Fatalf("event = %v, want ready", ev.Type)
	}
	for range 2 {
		if err := link.Send([]byte{0, 0}); err != nil {
			t.Fatalf("Send() error = %v", err)
		}
	}

	var got []STTMessage
	for range 2 {
		ev := receive(t, link.Events())
		msg, err := p.ParseMessage(ev.Payload)
		if err != nil {
			t.Fatalf("ParseMessage() error = %v", err)
		}
		got = append(got, msg)
	}
	if got[0].IsFinal || got[0].Kind != STTTranscript {
		t.Fatalf("first message = %+v, want interim transcript", got[0])
	}
	if !got[1].IsFinal || got[1].Text != "simulated utterance 1" {
		t.Fatalf("second message = %+v, want final simulated utterance 1", got[1])
	}
}

func TestMockCompletionEchoes(t *testing.T) {
	res, err := NewMockCompletion().Complete(context.Background(), "  tell me more ")
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if res.Text != "I heard you: tell me more" {
		t.Fatalf("Text = %q", res.Text)
	}
}

func TestMockTTSReturnsWAV(t *testing.T) {
	payload, err := NewMockTTS(16000).Synthesize(context.Background(), "one two three four")
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	clip, err := audio.DecodeWAV(payload)
	if err != nil {
		t.Fatalf("DecodeWAV() error = %v", err)
	}
	if clip.SampleRate != 16000 {
		t.Fatalf("SampleRate = %d, want 16000", clip.SampleRate)
	}
	if got := clip.DurationMS(); got != 1000 {
		t.Fatalf("DurationMS() = %d, want 1000", got)
	}
}
