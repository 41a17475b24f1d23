package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/patrickhyd4/ai-voice-interviewer/internal/reliability"
)

// HTTPCompletion posts {"prompt": text} to a completion endpoint and accepts
// either a JSON object with a text-like field or a plain-text body.
type HTTPCompletion struct {
	url    string
	client *http.Client
}

func NewHTTPCompletion(url string) *HTTPCompletion {
	return &HTTPCompletion{
		url: strings.TrimSpace(url),
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

func (a *HTTPCompletion) Name() string { return "http-completion" }

func (a *HTTPCompletion) Complete(ctx context.Context, prompt string) (CompletionResult, error) {
	payload, err := json.Marshal(map[string]string{"prompt": prompt})
	if err != nil {
		return CompletionResult{}, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(payload))
	if err != nil {
		return CompletionResult{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := a.client.Do(req)
	if err != nil {
		return CompletionResult{}, fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return CompletionResult{}, fmt.Errorf("%w: %w", ErrProviderRequestFailed, &reliability.StatusError{
			Provider: a.Name(),
			Status:   res.StatusCode,
			Body:     strings.TrimSpace(string(body)),
		})
	}

	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return CompletionResult{}, fmt.Errorf("read response: %w", err)
	}

	text := strings.TrimSpace(string(body))
	var obj map[string]any
	if err := json.Unmarshal(body, &obj); err == nil {
		text = strings.TrimSpace(extractText(obj))
	}
	if text == "" {
		return CompletionResult{}, errEmptyCompletion
	}
	return CompletionResult{Text: text}, nil
}

func extractText(obj map[string]any) string {
	for _, k := range []string{"text", "output", "message", "response"} {
		if v, ok := obj[k]; ok {
			if s, ok := v.(string); ok {
				return s
			}
		}
	}
	return ""
}
