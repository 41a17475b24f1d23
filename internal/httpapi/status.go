package httpapi

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/patrickhyd4/ai-voice-interviewer/internal/config"
)

type statusCheck struct {
	ID     string `json:"id"`
	Status string `json:"status"` // ok|warn|error
	Label  string `json:"label"`
	Detail string `json:"detail,omitempty"`
	Fix    string `json:"fix,omitempty"`
}

type statusResponse struct {
	ProviderMode        string        `json:"provider_mode"`
	CompletionBackend   string        `json:"completion_backend"`
	AudioBufferLimit    int           `json:"audio_buffer_limit"`
	MaxQueuedPrompts    int           `json:"max_queued_prompts"`
	ProviderTimeoutMS   int64         `json:"provider_timeout_ms"`
	InactivityTimeoutMS int64         `json:"inactivity_timeout_ms"`
	Checks              []statusCheck `json:"checks"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, statusResponse{
		ProviderMode:        s.cfg.ProviderMode,
		CompletionBackend:   completionBackend(s.cfg),
		AudioBufferLimit:    s.cfg.AudioBufferLimit,
		MaxQueuedPrompts:    s.cfg.MaxQueuedPrompts,
		ProviderTimeoutMS:   s.cfg.ProviderTimeout.Milliseconds(),
		InactivityTimeoutMS: s.cfg.SessionInactivityTimeout.Milliseconds(),
		Checks:              statusChecks(s.cfg),
	})
}

// completionBackend names the completion provider app.Build selects.
func completionBackend(cfg config.Config) string {
	if cfg.ProviderMode == config.ProviderModeMock {
		return "mock"
	}
	hasOpenAI := strings.TrimSpace(cfg.OpenAIAPIKey) != ""
	hasHTTP := strings.TrimSpace(cfg.CompletionHTTPURL) != ""
	switch {
	case hasOpenAI && hasHTTP:
		return "openai+http"
	case hasHTTP:
		return "http"
	case hasOpenAI:
		return "openai"
	default:
		return "unconfigured"
	}
}

func statusChecks(cfg config.Config) []statusCheck {
	if cfg.ProviderMode == config.ProviderModeMock {
		return []statusCheck{{
			ID:     "provider_mode",
			Status: "warn",
			Label:  "Providers are mocked",
			Detail: "Transcripts, replies and audio are simulated.",
			Fix:    "Set RELAY_PROVIDER_MODE=live with DEEPGRAM_API_KEY and OPENAI_API_KEY.",
		}}
	}

	checks := make([]statusCheck, 0, 4)
	if strings.TrimSpace(cfg.DeepgramAPIKey) == "" {
		checks = append(checks, statusCheck{
			ID:     "deepgram_key",
			Status: "error",
			Label:  "Deepgram API key",
			Detail: "DEEPGRAM_API_KEY is not set",
			Fix:    "Set DEEPGRAM_API_KEY or run with RELAY_PROVIDER_MODE=mock.",
		})
	} else {
		checks = append(checks, statusCheck{
			ID:     "deepgram_key",
			Status: "ok",
			Label:  "Deepgram API key",
			Detail: "present",
		})
	}
	if u, err := url.Parse(cfg.DeepgramBaseURL); err != nil || u.Host == "" {
		checks = append(checks, statusCheck{
			ID:     "deepgram_base_url",
			Status: "error",
			Label:  "Deepgram endpoint",
			Detail: fmt.Sprintf("invalid DEEPGRAM_BASE_URL %q", cfg.DeepgramBaseURL),
		})
	}

	switch backend := completionBackend(cfg); backend {
	case "unconfigured":
		checks = append(checks, statusCheck{
			ID:     "completion",
			Status: "error",
			Label:  "Completion provider",
			Detail: "no completion credentials",
			Fix:    "Set OPENAI_API_KEY or COMPLETION_HTTP_URL.",
		})
	case "openai+http":
		checks = append(checks, statusCheck{
			ID:     "completion",
			Status: "ok",
			Label:  "Completion provider",
			Detail: "openai with http fallback",
		})
	default:
		checks = append(checks, statusCheck{
			ID:     "completion",
			Status: "ok",
			Label:  "Completion provider",
			Detail: backend,
		})
	}

	if cfg.AudioBufferLimit == 0 {
		checks = append(checks, statusCheck{
			ID:     "audio_buffer",
			Status: "warn",
			Label:  "Pre-ready audio buffer",
			Detail: "unbounded",
			Fix:    "Set RELAY_AUDIO_BUFFER_LIMIT to cap memory if the STT provider is slow to connect.",
		})
	}
	return checks
}
