package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/patrickhyd4/ai-voice-interviewer/internal/config"
	"github.com/patrickhyd4/ai-voice-interviewer/internal/observability"
	"github.com/patrickhyd4/ai-voice-interviewer/internal/protocol"
	"github.com/patrickhyd4/ai-voice-interviewer/internal/session"
	"github.com/patrickhyd4/ai-voice-interviewer/internal/voice"
)

func newTestMetrics(prefix string) *observability.Metrics {
	return observability.NewMetrics(prefix + "_" + time.Now().Format("150405") + "_" + time.Now().Format("000000000"))
}

func newTestServer(t *testing.T, cfg config.Config, missing []string, metricsPrefix string) (*httptest.Server, *session.Manager) {
	t.Helper()
	if cfg.SessionInactivityTimeout == 0 {
		cfg.SessionInactivityTimeout = 2 * time.Minute
	}
	if cfg.ProviderMode == "" {
		cfg.ProviderMode = config.ProviderModeMock
	}
	sessions := session.NewManager(cfg.SessionInactivityTimeout)
	metrics := newTestMetrics(metricsPrefix)
	providers := voice.Providers{
		STT:        &voice.MockSTT{ReadyDelay: time.Millisecond, FramesPerUtterance: 3},
		Completion: voice.NewMockCompletion(),
		TTS:        voice.NewMockTTS(16000),
	}
	orchestrator := voice.NewOrchestrator(sessions, providers, metrics, voice.SessionConfig{ProviderTimeout: time.Second}, missing)
	srv := New(cfg, sessions, orchestrator, metrics)

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts, sessions
}

func dialWS(t *testing.T, ts *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) protocol.Event {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	msgType, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage() error = %v", err)
	}
	if msgType != websocket.TextMessage {
		t.Fatalf("message type = %d, want text", msgType)
	}
	ev, err := protocol.ParseServerEvent(data)
	if err != nil {
		t.Fatalf("ParseServerEvent(%s) error = %v", data, err)
	}
	return ev
}

func readClose(t *testing.T, conn *websocket.Conn) *websocket.CloseError {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue
		}
		var closeErr *websocket.CloseError
		if !errors.As(err, &closeErr) {
			t.Fatalf("ReadMessage() error = %v, want close frame", err)
		}
		return closeErr
	}
}

func getJSON(t *testing.T, url string, wantStatus int, out any) {
	t.Helper()
	res, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s error = %v", url, err)
	}
	defer res.Body.Close()
	if res.StatusCode != wantStatus {
		t.Fatalf("GET %s status = %d, want %d", url, res.StatusCode, wantStatus)
	}
	if out != nil {
		if err := json.NewDecoder(res.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
}

func TestVoiceSessionRoundTrip(t *testing.T) {
	ts, sessions := newTestServer(t, config.Config{}, nil, "test_httpapi_ws")
	conn := dialWS(t, ts, "/v1/voice/session/ws")

	for range 3 {
		if err := conn.WriteMessage(websocket.BinaryMessage, make([]byte, 640)); err != nil {
			t.Fatalf("WriteMessage() error = %v", err)
		}
	}

	if tr, ok := readEvent(t, conn).(protocol.Transcript); !ok || tr.IsFinal {
		t.Fatalf("first event = %#v, want interim transcript", tr)
	}
	ev := readEvent(t, conn)
	if ev != (protocol.Transcript{Text: "simulated utterance 1", IsFinal: true}) {
		t.Fatalf("event = %#v, want final transcript", ev)
	}
	ev = readEvent(t, conn)
	if ev != (protocol.AIResponse{Text: "I heard you: simulated utterance 1"}) {
		t.Fatalf("event = %#v, want aiResponse", ev)
	}
	audioEv, ok := readEvent(t, conn).(protocol.Audio)
	if !ok || len(audioEv.Payload) <= 44 {
		t.Fatalf("expected audio event with wav payload")
	}

	var list session.ListResponse
	getJSON(t, ts.URL+"/v1/voice/sessions", http.StatusOK, &list)
	if list.Active != 1 || len(list.Sessions) != 1 {
		t.Fatalf("sessions = %+v, want one active", list)
	}
	id := list.Sessions[0].ID

	var got session.Session
	getJSON(t, ts.URL+"/v1/voice/session/"+id, http.StatusOK, &got)
	if got.FramesIn != 3 {
		t.Fatalf("FramesIn = %d, want 3", got.FramesIn)
	}

	res, err := http.Post(ts.URL+"/v1/voice/session/"+id+"/end", "application/json", bytes.NewReader(nil))
	if err != nil {
		t.Fatalf("end session request error = %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("end status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	closeErr := readClose(t, conn)
	if closeErr.Code != websocket.CloseNormalClosure || closeErr.Text != "session ended" {
		t.Fatalf("close = (%d, %q), want (1000, %q)", closeErr.Code, closeErr.Text, "session ended")
	}

	deadline := time.Now().Add(2 * time.Second)
	for sessions.ActiveCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("ActiveCount() = %d, want 0", sessions.ActiveCount())
		}
		time.Sleep(5 * time.Millisecond)
	}
	ended, _ := sessions.Get(id)
	if ended.EndReason != session.EndReasonForced {
		t.Fatalf("EndReason = %q, want %q", ended.EndReason, session.EndReasonForced)
	}
}

func TestVoiceSessionTypedPromptAndProtocolError(t *testing.T) {
	ts, _ := newTestServer(t, config.Config{}, nil, "test_httpapi_typed")
	conn := dialWS(t, ts, "/")

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"nope"}`)); err != nil {
		t.Fatalf("WriteMessage() error = %v", err)
	}
	if _, ok := readEvent(t, conn).(protocol.ErrorEvent); !ok {
		t.Fatalf("expected error envelope for unknown type")
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"userSpeech","text":"what now"}`)); err != nil {
		t.Fatalf("WriteMessage() error = %v", err)
	}
	if ev := readEvent(t, conn); ev != (protocol.AIResponse{Text: "I heard you: what now"}) {
		t.Fatalf("event = %#v, want aiResponse", ev)
	}
	if _, ok := readEvent(t, conn).(protocol.Audio); !ok {
		t.Fatalf("expected audio event")
	}
}

func TestVoiceSessionRefusedWithoutCredentials(t *testing.T) {
	cfg := config.Config{ProviderMode: config.ProviderModeLive}
	ts, sessions := newTestServer(t, cfg, []string{"DEEPGRAM_API_KEY"}, "test_httpapi_refused")

	var ready map[string]any
	getJSON(t, ts.URL+"/readyz", http.StatusServiceUnavailable, &ready)
	if ready["status"] != "not_ready" {
		t.Fatalf("readyz = %+v, want not_ready", ready)
	}

	conn := dialWS(t, ts, "/v1/voice/session/ws")
	ev := readEvent(t, conn)
	if ev != (protocol.ErrorEvent{Message: "Server error: Deepgram API key not configured."}) {
		t.Fatalf("event = %#v, want configuration error", ev)
	}
	closeErr := readClose(t, conn)
	if closeErr.Code != websocket.CloseInternalServerErr || closeErr.Text != "Server error" {
		t.Fatalf("close = (%d, %q), want (1011, %q)", closeErr.Code, closeErr.Text, "Server error")
	}
	if got := len(sessions.List()); got != 0 {
		t.Fatalf("sessions = %d, want 0", got)
	}
}

func TestRejectsCrossOriginWebsocket(t *testing.T) {
	ts, _ := newTestServer(t, config.Config{}, nil, "test_httpapi_origin")
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/voice/session/ws"
	header := http.Header{"Origin": []string{"https://evil.example"}}
	_, res, err := websocket.DefaultDialer.Dial(url, header)
	if err == nil {
		t.Fatalf("Dial() expected handshake failure")
	}
	if res == nil || res.StatusCode != http.StatusForbidden {
		t.Fatalf("handshake response = %+v, want 403", res)
	}
}

func TestRESTEndpoints(t *testing.T) {
	ts, _ := newTestServer(t, config.Config{}, nil, "test_httpapi_rest")

	var health map[string]any
	getJSON(t, ts.URL+"/healthz", http.StatusOK, &health)
	if health["status"] != "ok" || health["provider_mode"] != "mock" {
		t.Fatalf("healthz = %+v", health)
	}
	getJSON(t, ts.URL+"/readyz", http.StatusOK, nil)
	getJSON(t, ts.URL+"/v1/voice/session/missing", http.StatusNotFound, nil)

	res, err := http.Post(ts.URL+"/v1/voice/session/missing/end", "application/json", nil)
	if err != nil {
		t.Fatalf("POST end error = %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("end status = %d, want %d", res.StatusCode, http.StatusNotFound)
	}

	var snap observability.StageSnapshot
	getJSON(t, ts.URL+"/v1/perf/latency", http.StatusOK, &snap)
	if snap.WindowSize == 0 {
		t.Fatalf("perf snapshot = %+v, want window size", snap)
	}

	var status statusResponse
	getJSON(t, ts.URL+"/v1/status", http.StatusOK, &status)
	if status.ProviderMode != "mock" || status.CompletionBackend != "mock" || len(status.Checks) != 1 {
		t.Fatalf("status = %+v, want mock", status)
	}

	getJSON(t, ts.URL+"/", http.StatusUpgradeRequired, nil)
}

func TestStatusChecksLiveMode(t *testing.T) {
	cfg := config.Defaults()
	cfg.OpenAIAPIKey = "sk"
	cfg.CompletionHTTPURL = "http://127.0.0.1:9/complete"

	checks := statusChecks(cfg)
	byID := map[string]statusCheck{}
	for _, c := range checks {
		byID[c.ID] = c
	}
	if byID["deepgram_key"].Status != "error" {
		t.Fatalf("deepgram_key = %+v, want error", byID["deepgram_key"])
	}
	if byID["completion"].Status != "ok" || completionBackend(cfg) != "openai+http" {
		t.Fatalf("completion = %+v backend=%q", byID["completion"], completionBackend(cfg))
	}
	if byID["audio_buffer"].Status != "warn" {
		t.Fatalf("audio_buffer = %+v, want warn", byID["audio_buffer"])
	}
}
