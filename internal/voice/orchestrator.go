package voice

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/patrickhyd4/ai-voice-interviewer/internal/observability"
	"github.com/patrickhyd4/ai-voice-interviewer/internal/protocol"
	"github.com/patrickhyd4/ai-voice-interviewer/internal/session"
)

// Orchestrator creates one Session per client connection and keeps the
// session registry in step with it.
type Orchestrator struct {
	sessions  *session.Manager
	providers Providers
	metrics   *observability.Metrics
	cfg       SessionConfig
	missing   []string
}

// NewOrchestrator returns an orchestrator for the given providers. When
// missing is non-empty every connection is refused with ErrConfigurationMissing.
func NewOrchestrator(
	sessions *session.Manager,
	providers Providers,
	metrics *observability.Metrics,
	cfg SessionConfig,
	missing []string,
) *Orchestrator {
	return &Orchestrator{
		sessions:  sessions,
		providers: providers,
		metrics:   metrics,
		cfg:       cfg,
		missing:   append([]string(nil), missing...),
	}
}

// MissingCredentials lists the credentials whose absence refuses sessions.
func (o *Orchestrator) MissingCredentials() []string {
	return append([]string(nil), o.missing...)
}

// RunConnection serves one client connection until it ends. inbound must be
// closed by the caller when the client goes away.
func (o *Orchestrator) RunConnection(ctx context.Context, client ClientChannel, remoteAddr string, inbound <-chan ClientFrame) error {
	if len(o.missing) > 0 {
		log.Printf("relay: refusing connection from %s: missing %s", remoteAddr, strings.Join(o.missing, ", "))
		o.metrics.SessionEvent(session.EndReasonRefused)
		if err := client.Send(protocol.ErrorEvent{Message: refusalMessage(o.missing)}); err == nil {
			o.metrics.WSMessage("out", string(protocol.TypeError))
		}
		code, reason := protocol.WireClose(protocol.CloseInternalError, "Server error")
		_ = client.Close(code, reason)
		return fmt.Errorf("%w: %s", ErrConfigurationMissing, strings.Join(o.missing, ", "))
	}

	rec := o.sessions.Create(remoteAddr)
	o.metrics.SessionStarted()
	started := time.Now()
	ctx, span := observability.StartSpan(ctx, "relay.session", attribute.String("session.id", rec.ID))
	log.Printf("relay: session=%s started remote=%s trace=%s", rec.ID, remoteAddr, observability.TraceID(ctx))

	sess := NewSession(rec.ID, client, o.providers, o.cfg, o.metrics, SessionHooks{
		OnState: func(st State) {
			_ = o.sessions.SetState(rec.ID, st.String())
		},
		OnActivity: func() {
			_ = o.sessions.Touch(rec.ID)
		},
		OnTurn: func() {
			_ = o.sessions.CompleteTurn(rec.ID)
		},
	})
	_ = o.sessions.SetEndHook(rec.ID, func(reason string) {
		sess.End(reason, protocol.CloseNormal, "session ended")
	})

	err := sess.Run(ctx, inbound)
	observability.EndSpan(span, err)

	cause := sess.EndCause()
	if cause == "" {
		cause = session.EndReasonClient
	}
	if _, endErr := o.sessions.End(rec.ID, cause); endErr != nil {
		log.Printf("relay: session=%s registry end failed: %v", rec.ID, endErr)
	}
	o.metrics.SessionEnded(cause)
	log.Printf("relay: session=%s ended cause=%s duration=%s", rec.ID, cause, time.Since(started).Round(time.Millisecond))
	return err
}

func refusalMessage(missing []string) string {
	for _, key := range missing {
		if key == "DEEPGRAM_API_KEY" {
			return "Server error: Deepgram API key not configured."
		}
	}
	return fmt.Sprintf("Server error: %s not configured.", strings.Join(missing, ", "))
}
