package voice

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/patrickhyd4/ai-voice-interviewer/internal/audio"
	"github.com/patrickhyd4/ai-voice-interviewer/internal/upstream"
)

// MockSTT is a local STT provider used when RELAY_PROVIDER_MODE=mock. Each
// link becomes ready after ReadyDelay and, for every FramesPerUtterance
// frames received, emits an interim and then a final transcript in the same
// wire format as the live provider.
type MockSTT struct {
	ReadyDelay         time.Duration
	FramesPerUtterance int
}

func NewMockSTT() *MockSTT {
	return &MockSTT{ReadyDelay: 20 * time.Millisecond, FramesPerUtterance: 50}
}

func (p *MockSTT) Name() string { return "mock-stt" }

func (p *MockSTT) Open(_ context.Context, _ string) (upstream.Link, error) {
	per := p.FramesPerUtterance
	if per <= 0 {
		per = 50
	}
	var (
		mu         sync.Mutex
		frames     int
		utterances int
		link       *upstream.LocalLink
	)
	link = upstream.NewLocal(upstream.KindSTT, func(payload []byte) {
		if len(payload) == 0 {
			return
		}
		mu.Lock()
		frames++
		emit := frames%per == 0
		if emit {
			utterances++
		}
		n := utterances
		mu.Unlock()
		if !emit {
			return
		}
		text := fmt.Sprintf("simulated utterance %d", n)
		link.Deliver(mockResult(text[:len(text)/2], false))
		link.Deliver(mockResult(text, true))
	})
	time.AfterFunc(p.ReadyDelay, link.MarkReady)
	return link, nil
}

func (p *MockSTT) ParseMessage(payload []byte) (STTMessage, error) {
	return parseDeepgramMessage(payload)
}

func mockResult(text string, final bool) []byte {
	raw, _ := json.Marshal(deepgramMessage{
		Type:    "Results",
		IsFinal: final,
		Channel: &deepgramChannel{Alternatives: []deepgramAlternative{{Transcript: text}}},
	})
	return raw
}

// MockCompletion echoes the prompt.
type MockCompletion struct{}

func NewMockCompletion() *MockCompletion { return &MockCompletion{} }

func (p *MockCompletion) Name() string { return "mock-completion" }

func (p *MockCompletion) Complete(ctx context.Context, prompt string) (CompletionResult, error) {
	select {
	case <-ctx.Done():
		return CompletionResult{}, ctx.Err()
	default:
	}
	base := strings.TrimSpace(prompt)
	if base == "" {
		base = "I am listening."
	}
	return CompletionResult{Text: fmt.Sprintf("I heard you: %s", base)}, nil
}

// MockTTS returns a WAV of silence roughly as long as the text would take to
// speak.
type MockTTS struct {
	SampleRate int
}

func NewMockTTS(sampleRate int) *MockTTS {
	return &MockTTS{SampleRate: sampleRate}
}

func (p *MockTTS) Name() string { return "mock-tts" }

func (p *MockTTS) Synthesize(ctx context.Context, text string) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	words := len(strings.Fields(text))
	if words == 0 {
		return nil, fmt.Errorf("%w: empty tts text", ErrProviderRequestFailed)
	}
	ms := min(words*250, 5000)
	return audio.EncodeWAV(audio.Silence(ms, p.SampleRate), p.SampleRate)
}
