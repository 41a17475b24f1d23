package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/patrickhyd4/ai-voice-interviewer/internal/reliability"
	"github.com/patrickhyd4/ai-voice-interviewer/internal/upstream"
)

const (
	defaultDeepgramBaseURL = "https://api.deepgram.com"
	maxTTSBodyBytes        = 16 << 20
)

var (
	deepgramCloseStream = []byte(`{"type":"CloseStream"}`)
	deepgramKeepAlive   = []byte(`{"type":"KeepAlive"}`)
)

// Deepgram drops a stream after about 10s without audio or a KeepAlive.
const defaultDeepgramKeepAlive = 5 * time.Second

// DeepgramConfig holds the credentials and per-session STT parameters.
type DeepgramConfig struct {
	APIKey         string
	BaseURL        string
	Model          string
	Encoding       string
	SampleRate     int
	Endpointing    string
	UtteranceEndMS int
	SmartFormat    bool
	InterimResults bool
	NoDelay        bool
	Voice          string
	HTTPClient     *http.Client
	// KeepAliveInterval is how often the STT link sends KeepAlive. Zero
	// means the default; negative disables it.
	KeepAliveInterval time.Duration
}

// DeepgramSTT opens Deepgram streaming transcription links.
type DeepgramSTT struct {
	cfg DeepgramConfig
}

func NewDeepgramSTT(cfg DeepgramConfig) (*DeepgramSTT, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("%w: deepgram api key", ErrConfigurationMissing)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultDeepgramBaseURL
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.KeepAliveInterval == 0 {
		cfg.KeepAliveInterval = defaultDeepgramKeepAlive
	}
	return &DeepgramSTT{cfg: cfg}, nil
}

func (p *DeepgramSTT) Name() string { return "deepgram" }

func (p *DeepgramSTT) Open(ctx context.Context, sessionID string) (upstream.Link, error) {
	wsURL, err := p.buildURL()
	if err != nil {
		return nil, fmt.Errorf("deepgram: build URL: %w", err)
	}
	header := http.Header{}
	header.Set("Authorization", "Token "+p.cfg.APIKey)
	opts := upstream.WSOptions{
		Header:  header,
		Goodbye: deepgramCloseStream,
	}
	if p.cfg.KeepAliveInterval > 0 {
		opts.KeepAlive = deepgramKeepAlive
		opts.KeepAliveInterval = p.cfg.KeepAliveInterval
	}
	return upstream.OpenWS(ctx, upstream.KindSTT, wsURL, opts)
}

// buildURL constructs the streaming listen endpoint with the session's audio
// and endpointing parameters.
func (p *DeepgramSTT) buildURL() (string, error) {
	u, err := url.Parse(strings.TrimRight(p.cfg.BaseURL, "/") + "/v1/listen")
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https", "wss":
		u.Scheme = "wss"
	case "http", "ws":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}

	q := u.Query()
	if p.cfg.Encoding != "" {
		q.Set("encoding", p.cfg.Encoding)
	}
	q.Set("sample_rate", strconv.Itoa(p.cfg.SampleRate))
	if p.cfg.Model != "" {
		q.Set("model", p.cfg.Model)
	}
	q.Set("smart_format", strconv.FormatBool(p.cfg.SmartFormat))
	q.Set("interim_results", strconv.FormatBool(p.cfg.InterimResults))
	if p.cfg.UtteranceEndMS > 0 {
		q.Set("utterance_end_ms", strconv.Itoa(p.cfg.UtteranceEndMS))
	}
	if p.cfg.Endpointing != "" {
		q.Set("endpointing", p.cfg.Endpointing)
	}
	q.Set("no_delay", strconv.FormatBool(p.cfg.NoDelay))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// deepgramMessage covers the Results and Error shapes of the listen API.
type deepgramMessage struct {
	Type        string           `json:"type"`
	IsFinal     bool             `json:"is_final"`
	Message     string           `json:"message"`
	Description string           `json:"description"`
	Channel     *deepgramChannel `json:"channel"`
}

type deepgramChannel struct {
	Alternatives []deepgramAlternative `json:"alternatives"`
}

type deepgramAlternative struct {
	Transcript string `json:"transcript"`
}

func (p *DeepgramSTT) ParseMessage(payload []byte) (STTMessage, error) {
	return parseDeepgramMessage(payload)
}

func parseDeepgramMessage(payload []byte) (STTMessage, error) {
	var msg deepgramMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return STTMessage{}, fmt.Errorf("%w: deepgram: %v", ErrProviderProtocol, err)
	}
	switch msg.Type {
	case "Results":
		if msg.Channel == nil || len(msg.Channel.Alternatives) == 0 {
			return STTMessage{}, fmt.Errorf("%w: deepgram: results without alternatives", ErrProviderProtocol)
		}
		return STTMessage{
			Kind:    STTTranscript,
			Text:    msg.Channel.Alternatives[0].Transcript,
			IsFinal: msg.IsFinal,
		}, nil
	case "Error":
		detail := msg.Message
		if detail == "" {
			detail = msg.Description
		}
		if detail == "" {
			detail = "Unknown error"
		}
		return STTMessage{Kind: STTError, Err: detail}, nil
	case "":
		return STTMessage{}, fmt.Errorf("%w: deepgram: message without type", ErrProviderProtocol)
	default:
		return STTMessage{Kind: STTIgnored}, nil
	}
}

// DeepgramTTS synthesizes speech with the Deepgram speak endpoint.
type DeepgramTTS struct {
	apiKey  string
	baseURL string
	voice   string
	client  *http.Client
}

func NewDeepgramTTS(cfg DeepgramConfig) (*DeepgramTTS, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("%w: deepgram api key", ErrConfigurationMissing)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultDeepgramBaseURL
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &DeepgramTTS{
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		voice:   cfg.Voice,
		client:  client,
	}, nil
}

func (p *DeepgramTTS) Name() string { return "deepgram-tts" }

func (p *DeepgramTTS) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: empty tts text", ErrProviderRequestFailed)
	}
	payload, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	u, err := url.Parse(p.baseURL + "/v1/speak")
	if err != nil {
		return nil, fmt.Errorf("%w: deepgram-tts: %w", ErrProviderRequestFailed, err)
	}
	if p.voice != "" {
		q := u.Query()
		q.Set("model", p.voice)
		u.RawQuery = q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+p.apiKey)
	req.Header.Set("Content-Type", "application/json")

	res, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("deepgram-tts: send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return nil, fmt.Errorf("%w: %w", ErrProviderRequestFailed, &reliability.StatusError{
			Provider: p.Name(),
			Status:   res.StatusCode,
			Body:     strings.TrimSpace(string(body)),
		})
	}

	audio, err := io.ReadAll(io.LimitReader(res.Body, maxTTSBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("deepgram-tts: read response: %w", err)
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("%w: deepgram-tts: empty audio", ErrProviderRequestFailed)
	}
	return audio, nil
}
