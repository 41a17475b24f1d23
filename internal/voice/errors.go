package voice

import (
	"context"
	"errors"
	"fmt"

	"github.com/patrickhyd4/ai-voice-interviewer/internal/reliability"
)

var (
	// ErrProviderProtocol marks a malformed provider payload. The session
	// logs it and continues.
	ErrProviderProtocol = fmt.Errorf("provider %w", reliability.ErrProtocol)
	// ErrProviderRequestFailed marks a failed completion or TTS call. It is
	// reported to the client and the session continues.
	ErrProviderRequestFailed = errors.New("provider request failed")
	ErrProviderTimeout       = errors.New("provider timeout")
	// ErrFatalLinkLoss means the STT link closed or failed; the session is
	// torn down.
	ErrFatalLinkLoss = errors.New("stt link lost")
	// ErrConfigurationMissing means a required credential is absent and new
	// sessions are refused.
	ErrConfigurationMissing = errors.New("configuration missing")
)

// errEmptyCompletion is returned when a completion carries no text.
var errEmptyCompletion = fmt.Errorf("%w: empty completion", ErrProviderRequestFailed)

// classifyCallError normalizes a provider call error into the taxonomy above.
// Deadline errors become ErrProviderTimeout; anything else unclassified
// becomes ErrProviderRequestFailed.
func classifyCallError(ctx context.Context, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrProviderTimeout):
		return err
	case errors.Is(err, context.DeadlineExceeded), errors.Is(ctx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", ErrProviderTimeout, err)
	case errors.Is(err, ErrProviderRequestFailed):
		return err
	default:
		return fmt.Errorf("%w: %w", ErrProviderRequestFailed, err)
	}
}
