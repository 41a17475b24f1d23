package voice

import (
	"context"
	"errors"
	"fmt"
	"strings"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/patrickhyd4/ai-voice-interviewer/internal/reliability"
)

type OpenAIConfig struct {
	APIKey       string
	BaseURL      string
	Model        string
	MaxTokens    int
	Temperature  float64
	SystemPrompt string
}

// OpenAICompletion answers a prompt with one chat completion. There is no
// conversation history: every call sends a single user message.
type OpenAICompletion struct {
	client       oai.Client
	model        string
	maxTokens    int
	temperature  float64
	systemPrompt string
}

func NewOpenAICompletion(cfg OpenAIConfig) (*OpenAICompletion, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("%w: openai api key", ErrConfigurationMissing)
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	reqOpts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.BaseURL))
	}
	return &OpenAICompletion{
		client:       oai.NewClient(reqOpts...),
		model:        cfg.Model,
		maxTokens:    cfg.MaxTokens,
		temperature:  cfg.Temperature,
		systemPrompt: cfg.SystemPrompt,
	}, nil
}

func (p *OpenAICompletion) Name() string { return "openai" }

func (p *OpenAICompletion) Complete(ctx context.Context, prompt string) (CompletionResult, error) {
	resp, err := p.client.Chat.Completions.New(ctx, p.buildParams(prompt))
	if err != nil {
		var apiErr *oai.Error
		if errors.As(err, &apiErr) {
			return CompletionResult{}, fmt.Errorf("%w: %w", ErrProviderRequestFailed, &reliability.StatusError{
				Provider: p.Name(),
				Status:   apiErr.StatusCode,
				Body:     apiErr.Message,
			})
		}
		return CompletionResult{}, fmt.Errorf("openai: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return CompletionResult{}, errEmptyCompletion
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return CompletionResult{}, errEmptyCompletion
	}
	return CompletionResult{Text: text}, nil
}

func (p *OpenAICompletion) buildParams(prompt string) oai.ChatCompletionNewParams {
	var messages []oai.ChatCompletionMessageParamUnion
	if p.systemPrompt != "" {
		messages = append(messages, oai.SystemMessage(p.systemPrompt))
	}
	messages = append(messages, oai.UserMessage(prompt))

	params := oai.ChatCompletionNewParams{
		Model:       shared.ChatModel(p.model),
		Messages:    messages,
		Temperature: param.NewOpt(p.temperature),
	}
	if p.maxTokens > 0 {
		// max_tokens is the field OpenAI-compatible servers behind
		// OPENAI_BASE_URL honor; max_completion_tokens is often ignored.
		params.MaxTokens = param.NewOpt(int64(p.maxTokens))
	}
	return params
}
