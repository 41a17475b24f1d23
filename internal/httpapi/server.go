package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/patrickhyd4/ai-voice-interviewer/internal/config"
	"github.com/patrickhyd4/ai-voice-interviewer/internal/observability"
	"github.com/patrickhyd4/ai-voice-interviewer/internal/protocol"
	"github.com/patrickhyd4/ai-voice-interviewer/internal/session"
	"github.com/patrickhyd4/ai-voice-interviewer/internal/voice"
)

const clientReadLimit = 2 << 20

type Orchestrator interface {
	RunConnection(ctx context.Context, client voice.ClientChannel, remoteAddr string, inbound <-chan voice.ClientFrame) error
	MissingCredentials() []string
}

type Server struct {
	cfg          config.Config
	sessions     *session.Manager
	orchestrator Orchestrator
	metrics      *observability.Metrics
	upgrader     websocket.Upgrader
}

func New(cfg config.Config, sessions *session.Manager, orchestrator Orchestrator, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:          cfg,
		sessions:     sessions,
		orchestrator: orchestrator,
		metrics:      metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only same-origin browser connections unless configured otherwise.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/", s.handleSessionWS)
	r.Get("/v1/voice/session/ws", s.handleSessionWS)

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Get("/v1/voice/sessions", s.handleListSessions)
	r.Get("/v1/voice/session/{id}", s.handleGetSession)
	r.Post("/v1/voice/session/{id}/end", s.handleEndSession)
	r.Get("/v1/status", s.handleStatus)
	r.Get("/v1/perf/latency", s.handlePerfLatency)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"provider_mode": s.cfg.ProviderMode,
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	missing := s.missingCredentials()
	if len(missing) > 0 {
		respondJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status":  "not_ready",
			"missing": missing,
		})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ready",
		"active_sessions": s.sessions.ActiveCount(),
	})
}

func (s *Server) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, session.ListResponse{
		Sessions:        s.sessions.List(),
		Active:          s.sessions.ActiveCount(),
		InactivityTTLMS: s.sessions.InactivityTimeout().Milliseconds(),
	})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Get(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "missing session id")
		return
	}

	sess, err := s.sessions.End(id, session.EndReasonForced)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			respondError(w, http.StatusNotFound, "session_not_found", err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "end_failed", err.Error())
		return
	}
	s.metrics.SessionEvent("forced_end")
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) handleSessionWS(w http.ResponseWriter, r *http.Request) {
	if s.orchestrator == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "orchestrator not configured")
		return
	}
	if !websocket.IsWebSocketUpgrade(r) {
		respondError(w, http.StatusUpgradeRequired, "websocket_required", "connect with a websocket client")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	conn.SetReadLimit(clientReadLimit)
	s.metrics.SessionEvent("ws_connected")

	client := newWSClient(conn)
	go client.writeLoop()

	inbound := make(chan voice.ClientFrame, 64)
	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		if err := s.orchestrator.RunConnection(r.Context(), client, r.RemoteAddr, inbound); err != nil {
			log.Printf("relay: connection from %s ended: %v", r.RemoteAddr, err)
		}
	}()

readLoop:
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		var kind protocol.FrameKind
		switch msgType {
		case websocket.BinaryMessage:
			kind = protocol.FrameBinary
		case websocket.TextMessage:
			kind = protocol.FrameText
		default:
			continue
		}
		select {
		case inbound <- voice.ClientFrame{Kind: kind, Data: data}:
		case <-runDone:
			break readLoop
		}
	}

	close(inbound)
	<-runDone
	client.stop()
	<-client.writerDone
	s.metrics.SessionEvent("ws_disconnected")
}

func (s *Server) missingCredentials() []string {
	if s.orchestrator != nil {
		return s.orchestrator.MissingCredentials()
	}
	return s.cfg.MissingCredentials()
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
