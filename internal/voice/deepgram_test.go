package voice

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/patrickhyd4/ai-voice-interviewer/internal/reliability"
	"github.com/patrickhyd4/ai-voice-interviewer/internal/upstream"
)

func TestDeepgramSTTRequiresKey(t *testing.T) {
	if _, err := NewDeepgramSTT(DeepgramConfig{APIKey: " "}); !errors.Is(err, ErrConfigurationMissing) {
		t.Fatalf("NewDeepgramSTT() error = %v, want ErrConfigurationMissing", err)
	}
	if _, err := NewDeepgramTTS(DeepgramConfig{}); !errors.Is(err, ErrConfigurationMissing) {
		t.Fatalf("NewDeepgramTTS() error = %v, want ErrConfigurationMissing", err)
	}
}

func TestDeepgramSTTBuildURL(t *testing.T) {
	p, err := NewDeepgramSTT(DeepgramConfig{
		APIKey:         "key",
		Model:          "nova-2",
		Encoding:       "linear16",
		SampleRate:     16000,
		Endpointing:    "true",
		UtteranceEndMS: 1000,
		SmartFormat:    true,
		InterimResults: true,
		NoDelay:        true,
	})
	if err != nil {
		t.Fatalf("NewDeepgramSTT() error = %v", err)
	}
	raw, err := p.buildURL()
	if err != nil {
		t.Fatalf("buildURL() error = %v", err)
	}
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	if u.Scheme != "wss" || u.Host != "api.deepgram.com" || u.Path != "/v1/listen" {
		t.Fatalf("url = %s, want wss://api.deepgram.com/v1/listen", raw)
	}
	want := map[string]string{
		"encoding":         "linear16",
		"sample_rate":      "16000",
		"model":            "nova-2",
		"smart_format":     "true",
		"interim_results":  "true",
		"utterance_end_ms": "1000",
		"endpointing":      "true",
		"no_delay":         "true",
	}
	q := u.Query()
	for k, v := range want {
		if got := q.Get(k); got != v {
			t.Fatalf("query %s = %q, want %q", k, got, v)
		}
	}
}

func TestDeepgramSTTBuildURLSchemes(t *testing.T) {
	tests := []struct {
		base    string
		want    string
		wantErr bool
	}{
		{base: "http://127.0.0.1:9000/", want: "ws://127.0.0.1:9000/v1/listen"},
		{base: "wss://example.test", want: "wss://example.test/v1/listen"},
		{base: "ftp://example.test", wantErr: true},
	}
	for _, tc := range tests {
		p, _ := NewDeepgramSTT(DeepgramConfig{APIKey: "k", BaseURL: tc.base})
		got, err := p.buildURL()
		if tc.wantErr {
			if err == nil {
				t.Fatalf("buildURL(%q) expected error", tc.base)
			}
			continue
		}
		if err != nil {
			t.Fatalf("buildURL(%q) error = %v", tc.base, err)
		}
		if !strings.HasPrefix(got, tc.want+"?") {
			t.Fatalf("buildURL(%q) = %q, want prefix %q", tc.base, got, tc.want)
		}
	}
}

func TestParseDeepgramMessage(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    STTMessage
		wantErr bool
	}{
		{
			name:    "final result",
			payload: `{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"hello"},{"transcript":"yellow"}]}}`,
			want:    STTMessage{Kind: STTTranscript, Text: "hello", IsFinal: true},
		},
		{
			name:    "interim result",
			payload: `{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"hel"}]}}`,
			want:    STTMessage{Kind: STTTranscript, Text: "hel"},
		},
		{
			name:    "error with message",
			payload: `{"type":"Error","message":"bad encoding","description":"ignored"}`,
			want:    STTMessage{Kind: STTError, Err: "bad encoding"},
		},
		{
			name:    "error without detail",
			payload: `{"type":"Error"}`,
			want:    STTMessage{Kind: STTError, Err: "Unknown error"},
		},
		{name: "metadata", payload: `{"type":"Metadata","request_id":"x"}`, want: STTMessage{Kind: STTIgnored}},
		{name: "utterance end", payload: `{"type":"UtteranceEnd"}`, want: STTMessage{Kind: STTIgnored}},
		{name: "no alternatives", payload: `{"type":"Results","channel":{"alternatives":[]}}`, wantErr: true},
		{name: "no type", payload: `{"is_final":true}`, wantErr: true},
		{name: "not json", payload: `{`, wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := parseDeepgramMessage([]byte(tc.payload))
			if tc.wantErr {
				if !errors.Is(err, ErrProviderProtocol) {
					t.Fatalf("error = %v, want ErrProviderProtocol", err)
				}
				if !errors.Is(err, reliability.ErrProtocol) {
					t.Fatalf("error = %v, want reliability.ErrProtocol", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error = %v", err)
			}
			if got != tc.want {
				t.Fatalf("message = %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestDeepgramTTSSynthesize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/speak" {
			t.Errorf("request = %s %s, want POST /v1/speak", r.Method, r.URL.Path)
		}
		if got := r.URL.Query().Get("model"); got != "aura-asteria-en" {
			t.Errorf("model = %q, want aura-asteria-en", got)
		}
		if got := r.Header.Get("Authorization"); got != "Token secret" {
			t.Errorf("Authorization = %q", got)
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body["text"] != "hello there" {
			t.Errorf("body = %v (err=%v), want text", body, err)
		}
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte("mp3-bytes"))
	}))
	defer srv.Close()

	p, err := NewDeepgramTTS(DeepgramConfig{APIKey: "secret", BaseURL: srv.URL, Voice: "aura-asteria-en"})
	if err != nil {
		t.Fatalf("NewDeepgramTTS() error = %v", err)
	}
	audio, err := p.Synthesize(context.Background(), "hello there")
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	if string(audio) != "mp3-bytes" {
		t.Fatalf("audio = %q, want %q", audio, "mp3-bytes")
	}
}

func TestDeepgramTTSStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p, _ := NewDeepgramTTS(DeepgramConfig{APIKey: "secret", BaseURL: srv.URL})
	_, err := p.Synthesize(context.Background(), "hello")
	if !errors.Is(err, ErrProviderRequestFailed) {
		t.Fatalf("Synthesize() error = %v, want ErrProviderRequestFailed", err)
	}
	var statusErr *reliability.StatusError
	if !errors.As(err, &statusErr) || statusErr.Status != http.StatusTooManyRequests {
		t.Fatalf("Synthesize() error = %v, want 429 status error", err)
	}
	if got := reliability.Classify(err); got != reliability.CodeRateLimited {
		t.Fatalf("Classify() = %q, want %q", got, reliability.CodeRateLimited)
	}
}

func TestDeepgramTTSEmptyBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p, _ := NewDeepgramTTS(DeepgramConfig{APIKey: "secret", BaseURL: srv.URL})
	if _, err := p.Synthesize(context.Background(), "hello"); !errors.Is(err, ErrProviderRequestFailed) {
		t.Fatalf("Synthesize() error = %v, want ErrProviderRequestFailed", err)
	}
	if _, err := p.Synthesize(context.Background(), "  "); !errors.Is(err, ErrProviderRequestFailed) {
		t.Fatalf("Synthesize(blank) error = %v, want ErrProviderRequestFailed", err)
	}
}

func TestDeepgramSTTOpenSendsKeepAlive(t *testing.T) {
	type frame struct {
		typ  websocket.MessageType
		data string
	}
	frames := make(chan frame, 16)
	auth := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth <- r.Header.Get("Authorization")
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()
		for {
			typ, data, err := conn.Read(r.Context())
			if err != nil {
				return
			}
			select {
			case frames <- frame{typ: typ, data: string(data)}:
			default:
			}
		}
	}))
	defer srv.Close()

	p, err := NewDeepgramSTT(DeepgramConfig{
		APIKey:            "key",
		BaseURL:           srv.URL,
		KeepAliveInterval: 10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewDeepgramSTT() error = %v", err)
	}
	link, err := p.Open(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer link.Close()

	select {
	case ev := <-link.Events():
		if ev.Type != upstream.EventReady {
			t.Fatalf("event = %v, want ready", ev.Type)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for ready")
	}
	if got := <-auth; got != "Token key" {
		t.Fatalf("Authorization = %q, want %q", got, "Token key")
	}
	select {
	case f := <-frames:
		if f.typ != websocket.MessageText || f.data != `{"type":"KeepAlive"}` {
			t.Fatalf("frame = %+v, want KeepAlive", f)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for KeepAlive")
	}
}

func TestDeepgramSTTKeepAliveDefault(t *testing.T) {
	p, err := NewDeepgramSTT(DeepgramConfig{APIKey: "key"})
	if err != nil {
		t.Fatalf("NewDeepgramSTT() error = %v", err)
	}
	if p.cfg.KeepAliveInterval != defaultDeepgramKeepAlive {
		t.Fatalf("KeepAliveInterval = %v, want %v", p.cfg.KeepAliveInterval, defaultDeepgramKeepAlive)
	}
}
