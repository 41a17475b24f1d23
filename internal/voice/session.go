package voice

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/patrickhyd4/ai-voice-interviewer/internal/observability"
	"github.com/patrickhyd4/ai-voice-interviewer/internal/policy"
	"github.com/patrickhyd4/ai-voice-interviewer/internal/protocol"
	"github.com/patrickhyd4/ai-voice-interviewer/internal/session"
	"github.com/patrickhyd4/ai-voice-interviewer/internal/upstream"
)

// State is the orchestrator state of one session.
type State int32

const (
	StateInitializing State = iota
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ClientChannel is the duplex connection to the end user. Send must not block
// for long; Close ends the connection with a close frame.
type ClientChannel interface {
	Send(ev protocol.Event) error
	Close(code int, reason string) error
}

// ClientFrame is one raw inbound frame from the client.
type ClientFrame struct {
	Kind protocol.FrameKind
	Data []byte
}

type SessionConfig struct {
	// AudioBufferLimit caps frames buffered before the STT link is ready.
	// Zero means unbounded.
	AudioBufferLimit int
	// MaxQueuedPrompts caps finalized transcripts waiting behind an
	// in-flight completion. Zero means unbounded.
	MaxQueuedPrompts int
	ProviderTimeout  time.Duration
}

// SessionHooks lets the owner observe a session. All hooks run on the
// session's goroutine.
type SessionHooks struct {
	OnState    func(State)
	OnActivity func()
	OnTurn     func()
}

type stage string

const (
	stageCompletion stage = "completion"
	stageTTS        stage = "tts"
)

type stageResult struct {
	stage    stage
	provider string
	text     string
	audio    []byte
	err      error
	elapsed  time.Duration
}

type closeRequest struct {
	cause       string
	closeClient bool
	code        int
	reason      string
	err         error
}

// Session relays one client connection through the STT, completion and TTS
// providers. All session state is owned by the goroutine running Run; other
// goroutines interact only through channels.
type Session struct {
	id        string
	client    ClientChannel
	providers Providers
	cfg       SessionConfig
	metrics   *observability.Metrics
	hooks     SessionHooks

	state     atomic.Int32
	stt       upstream.Link
	openedAt  time.Time
	pending   [][]byte
	prompts   []string
	busy      bool
	turnStart time.Time
	endCause  string
	exitErr   error
	traceID   string

	callCtx context.Context
	results chan stageResult
	endReq  chan closeRequest
	done    chan struct{}
}

func NewSession(id string, client ClientChannel, providers Providers, cfg SessionConfig, metrics *observability.Metrics, hooks SessionHooks) *Session {
	return &Session{
		id:        id,
		client:    client,
		providers: providers,
		cfg:       cfg,
		metrics:   metrics,
		hooks:     hooks,
		results:   make(chan stageResult),
		endReq:    make(chan closeRequest, 1),
		done:      make(chan struct{}),
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) State() State { return State(s.state.Load()) }

// Done is closed when Run returns.
func (s *Session) Done() <-chan struct{} { return s.done }

// EndCause reports why the session ended. It is valid after Done is closed.
func (s *Session) EndCause() string { return s.endCause }

// End asks the session to tear down and close the client with code and
// reason. It is safe to call from any goroutine, any number of times.
func (s *Session) End(cause string, code int, reason string) {
	select {
	case s.endReq <- closeRequest{cause: cause, closeClient: true, code: code, reason: reason}:
	case <-s.done:
	default:
	}
}

// Run opens the STT link and drives the session until the client goes away,
// the STT link is lost, End is called or ctx is canceled. Closing inbound
// signals that the client disconnected. Run returns nil unless the session
// ended because of the STT link, in which case the error wraps
// ErrFatalLinkLoss.
func (s *Session) Run(ctx context.Context, inbound <-chan ClientFrame) error {
	defer close(s.done)
	// Provider calls outlive session cancellation; their results are then
	// discarded on arrival.
	s.callCtx = context.WithoutCancel(ctx)
	s.traceID = observability.TraceID(ctx)
	s.setState(StateInitializing)
	s.openedAt = time.Now()

	link, err := s.providers.STT.Open(ctx, s.id)
	if err != nil {
		log.Printf("relay: session=%s stt open failed: %v", s.id, err)
		s.metrics.ProviderError(s.providers.STT.Name(), err)
		s.sendError(fmt.Sprintf("STT error: %v", err))
		s.teardown(closeRequest{
			cause:       session.EndReasonUpstream,
			closeClient: true,
			code:        protocol.CloseInternalError,
			reason:      "STT connection failed",
			err:         fmt.Errorf("%w: %w", ErrFatalLinkLoss, err),
		})
		return s.exitErr
	}
	s.stt = link
	sttEvents := link.Events()

	for s.State() != StateClosed {
		select {
		case frame, ok := <-inbound:
			if !ok {
				s.teardown(closeRequest{cause: session.EndReasonClient})
				continue
			}
			s.handleFrame(frame)
		case ev, ok := <-sttEvents:
			if !ok {
				sttEvents = nil
				s.teardown(closeRequest{
					cause:       session.EndReasonUpstream,
					closeClient: true,
					code:        protocol.CloseInternalError,
					reason:      "STT link closed",
					err:         ErrFatalLinkLoss,
				})
				continue
			}
			s.handleLinkEvent(ev)
		case r := <-s.results:
			s.handleResult(r)
		case req := <-s.endReq:
			s.teardown(req)
		case <-ctx.Done():
			s.teardown(closeRequest{
				cause:       session.EndReasonShutdown,
				closeClient: true,
				code:        protocol.CloseGoingAway,
				reason:      "server shutting down",
			})
		}
	}
	return s.exitErr
}

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
	if s.hooks.OnState != nil {
		s.hooks.OnState(st)
	}
}

// teardown is the single exit path. Only the first call has any effect.
func (s *Session) teardown(req closeRequest) {
	if st := s.State(); st == StateClosing || st == StateClosed {
		return
	}
	s.setState(StateClosing)
	if s.stt != nil {
		_ = s.stt.Close()
	}
	if req.closeClient {
		code, reason := protocol.WireClose(req.code, req.reason)
		if err := s.client.Close(code, reason); err != nil {
			log.Printf("relay: session=%s client close failed: %v", s.id, err)
		}
	}
	s.pending = nil
	s.prompts = nil
	s.endCause = req.cause
	s.exitErr = req.err
	s.setState(StateClosed)
	log.Printf("relay: session=%s closed cause=%s trace=%s", s.id, req.cause, s.traceID)
}

func (s *Session) handleFrame(frame ClientFrame) {
	if s.hooks.OnActivity != nil {
		s.hooks.OnActivity()
	}
	msg, err := protocol.Decode(frame.Kind, frame.Data)
	if err != nil {
		log.Printf("relay: session=%s dropped client frame: %v", s.id, err)
		s.metrics.SessionEvent("client_protocol_error")
		s.sendError(fmt.Sprintf("Invalid message: %v", err))
		return
	}
	switch m := msg.(type) {
	case protocol.AudioFrame:
		s.metrics.WSMessage("in", "audio")
		s.handleAudio(m)
	case protocol.ControlEnvelope:
		s.metrics.WSMessage("in", string(m.Type))
		log.Printf("relay: session=%s typed prompt: %s", s.id, policy.LogText(m.Text, policy.DefaultLogTextLimit))
		s.enqueuePrompt(m.Text)
	}
}

func (s *Session) handleAudio(frame protocol.AudioFrame) {
	if s.State() == StateActive {
		err := s.stt.Send(frame)
		if err == nil {
			return
		}
		if !errors.Is(err, upstream.ErrLinkNotReady) {
			// The link is closing; its terminal event tears the session down.
			return
		}
	}
	s.pending = append(s.pending, frame)
	if s.cfg.AudioBufferLimit > 0 && len(s.pending) > s.cfg.AudioBufferLimit {
		log.Printf("relay: session=%s audio buffer overflow frames=%d", s.id, len(s.pending))
		s.sendError("Audio buffer overflow: speech recognition is not ready.")
		s.teardown(closeRequest{
			cause:       session.EndReasonOverflow,
			closeClient: true,
			code:        protocol.CloseInternalError,
			reason:      "audio buffer overflow",
		})
	}
}

func (s *Session) handleLinkEvent(ev upstream.Event) {
	switch ev.Type {
	case upstream.EventReady:
		flushed := 0
		for _, frame := range s.pending {
			if err := s.stt.Send(frame); err != nil {
				log.Printf("relay: session=%s flush stopped after %d frames: %v", s.id, flushed, err)
				break
			}
			flushed++
		}
		s.pending = nil
		s.metrics.ObserveFlush(flushed)
		s.metrics.ObserveStage(observability.StageSTTReady, time.Since(s.openedAt))
		s.setState(StateActive)
		log.Printf("relay: session=%s stt ready flushed=%d", s.id, flushed)
		s.startNext()
	case upstream.EventMessage:
		s.handleSTTMessage(ev.Payload)
	case upstream.EventError:
		log.Printf("relay: session=%s stt link error: %v", s.id, ev.Err)
		s.metrics.ProviderError(s.providers.STT.Name(), ev.Err)
		s.sendError(fmt.Sprintf("STT error: %v", ev.Err))
		s.teardown(closeRequest{
			cause:       session.EndReasonUpstream,
			closeClient: true,
			code:        protocol.CloseInternalError,
			reason:      "STT error",
			err:         fmt.Errorf("%w: %w", ErrFatalLinkLoss, ev.Err),
		})
	case upstream.EventClosed:
		log.Printf("relay: session=%s stt link closed code=%d reason=%q", s.id, ev.Code, ev.Reason)
		s.teardown(closeRequest{
			cause:       session.EndReasonUpstream,
			closeClient: true,
			code:        ev.Code,
			reason:      ev.Reason,
			err:         fmt.Errorf("%w: closed with code %d", ErrFatalLinkLoss, ev.Code),
		})
	}
}

func (s *Session) handleSTTMessage(payload []byte) {
	msg, err := s.providers.STT.ParseMessage(payload)
	if err != nil {
		log.Printf("relay: session=%s ignoring stt payload: %v", s.id, err)
		s.metrics.ProviderError(s.providers.STT.Name(), err)
		return
	}
	switch msg.Kind {
	case STTTranscript:
		s.send(protocol.Transcript{Text: msg.Text, IsFinal: msg.IsFinal})
		if msg.IsFinal && strings.TrimSpace(msg.Text) != "" {
			log.Printf("relay: session=%s final transcript: %s", s.id, policy.LogText(msg.Text, policy.DefaultLogTextLimit))
			s.enqueuePrompt(msg.Text)
		}
	case STTError:
		log.Printf("relay: session=%s stt reported error: %s", s.id, msg.Err)
		s.sendError("STT error: " + msg.Err)
	}
}

// enqueuePrompt queues a prompt behind any in-flight pipeline. Prompts run
// strictly one at a time in arrival order.
func (s *Session) enqueuePrompt(text string) {
	if s.cfg.MaxQueuedPrompts > 0 && len(s.prompts) >= s.cfg.MaxQueuedPrompts {
		log.Printf("relay: session=%s prompt queue full, dropping prompt", s.id)
		s.metrics.SessionEvent("prompt_dropped")
		s.sendError("Still working on earlier requests; please repeat that in a moment.")
		return
	}
	s.prompts = append(s.prompts, text)
	s.startNext()
}

func (s *Session) startNext() {
	if s.busy || len(s.prompts) == 0 {
		return
	}
	if st := s.State(); st == StateClosing || st == StateClosed {
		return
	}
	prompt := s.prompts[0]
	s.prompts[0] = ""
	s.prompts = s.prompts[1:]
	s.busy = true
	s.turnStart = time.Now()
	go s.callCompletion(prompt)
}

func (s *Session) finishTurn(ok bool) {
	s.busy = false
	if ok && s.hooks.OnTurn != nil {
		s.hooks.OnTurn()
	}
	s.startNext()
}

func (s *Session) handleResult(r stageResult) {
	switch r.stage {
	case stageCompletion:
		s.metrics.ObserveProviderCall(r.provider, r.elapsed, r.err)
		s.metrics.ObserveStage(observability.StageCompletion, r.elapsed)
		if r.err != nil {
			log.Printf("relay: session=%s completion failed trace=%s: %v", s.id, s.traceID, r.err)
			s.sendError(userMessage(r.err))
			s.finishTurn(false)
			return
		}
		log.Printf("relay: session=%s ai response: %s", s.id, policy.LogText(r.text, policy.DefaultLogTextLimit))
		s.send(protocol.AIResponse{Text: r.text})
		go s.callTTS(r.text)
	case stageTTS:
		s.metrics.ObserveProviderCall(r.provider, r.elapsed, r.err)
		s.metrics.ObserveStage(observability.StageTTS, r.elapsed)
		if r.err != nil {
			log.Printf("relay: session=%s tts failed trace=%s: %v", s.id, s.traceID, r.err)
			s.sendError(userMessage(r.err))
			s.finishTurn(false)
			return
		}
		s.send(protocol.Audio{Payload: r.audio})
		s.metrics.ObservePipelineLatency(time.Since(s.turnStart))
		s.finishTurn(true)
	}
}

func (s *Session) callContext() (context.Context, context.CancelFunc) {
	if s.cfg.ProviderTimeout > 0 {
		return context.WithTimeout(s.callCtx, s.cfg.ProviderTimeout)
	}
	return context.WithCancel(s.callCtx)
}

func (s *Session) callCompletion(prompt string) {
	ctx, cancel := s.callContext()
	defer cancel()
	name := s.providers.Completion.Name()
	ctx, span := observability.StartSpan(ctx, "relay.completion",
		attribute.String("session.id", s.id),
		attribute.String("provider", name),
	)

	started := time.Now()
	res, err := s.providers.Completion.Complete(ctx, prompt)
	if err == nil && strings.TrimSpace(res.Text) == "" {
		err = errEmptyCompletion
	}
	err = classifyCallError(ctx, err)
	if res.Provider != "" {
		name = res.Provider
		span.SetAttributes(attribute.String("provider.served", name))
	}
	observability.EndSpan(span, err)
	s.deliver(stageResult{stage: stageCompletion, provider: name, text: res.Text, err: err, elapsed: time.Since(started)})
}

func (s *Session) callTTS(text string) {
	ctx, cancel := s.callContext()
	defer cancel()
	name := s.providers.TTS.Name()
	ctx, span := observability.StartSpan(ctx, "relay.tts",
		attribute.String("session.id", s.id),
		attribute.String("provider", name),
		attribute.Int("text.length", len(text)),
	)

	started := time.Now()
	payload, err := s.providers.TTS.Synthesize(ctx, text)
	if err == nil && len(payload) == 0 {
		err = fmt.Errorf("%w: empty audio", ErrProviderRequestFailed)
	}
	err = classifyCallError(ctx, err)
	observability.EndSpan(span, err)
	s.deliver(stageResult{stage: stageTTS, provider: name, audio: payload, err: err, elapsed: time.Since(started)})
}

// deliver hands a provider result to the session loop, or drops it if the
// session has already ended.
func (s *Session) deliver(r stageResult) {
	select {
	case s.results <- r:
	case <-s.done:
		log.Printf("relay: session=%s discarding late %s result", s.id, r.stage)
	}
}

func (s *Session) send(ev protocol.Event) {
	if err := s.client.Send(ev); err != nil {
		log.Printf("relay: session=%s send %s failed: %v", s.id, ev.EventType(), err)
		return
	}
	s.metrics.WSMessage("out", string(ev.EventType()))
}

func (s *Session) sendError(message string) {
	s.send(protocol.ErrorEvent{Message: message})
}

func userMessage(err error) string {
	switch {
	case errors.Is(err, errEmptyCompletion):
		return "AI did not return a valid response."
	case errors.Is(err, ErrProviderTimeout):
		return "Server error processing AI or TTS: the provider timed out."
	default:
		return fmt.Sprintf("Server error processing AI or TTS: %v", err)
	}
}
