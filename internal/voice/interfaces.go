package voice

import (
	"context"

	"github.com/patrickhyd4/ai-voice-interviewer/internal/upstream"
)

type STTMessageKind int

const (
	// STTIgnored covers provider bookkeeping messages (metadata, utterance
	// markers) that carry nothing for the client.
	STTIgnored STTMessageKind = iota
	STTTranscript
	STTError
)

// STTMessage is a decoded STT link message.
type STTMessage struct {
	Kind    STTMessageKind
	Text    string
	IsFinal bool
	// Err is the provider's message for STTError.
	Err string
}

type STTProvider interface {
	Name() string
	// Open starts the session-scoped STT link. It returns before the link is
	// ready; readiness is reported on the link's event channel.
	Open(ctx context.Context, sessionID string) (upstream.Link, error)
	ParseMessage(payload []byte) (STTMessage, error)
}

type CompletionResult struct {
	Text string
	// Provider names the backend that produced the result when it differs
	// from the provider's Name, as with failover.
	Provider string
}

type CompletionProvider interface {
	Name() string
	Complete(ctx context.Context, prompt string) (CompletionResult, error)
}

type TTSProvider interface {
	Name() string
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// Providers is the process-wide, read-only set of providers shared by all
// sessions.
type Providers struct {
	STT        STTProvider
	Completion CompletionProvider
	TTS        TTSProvider
}
