package app

import (
	"fmt"
	"strings"

	"github.com/patrickhyd4/ai-voice-interviewer/internal/config"
	"github.com/patrickhyd4/ai-voice-interviewer/internal/voice"
)

type providerSetup struct {
	providers voice.Providers
	missing   []string
	detail    string
}

// resolveProviders picks mock or live providers. In live mode a provider
// whose credentials are missing is left nil and reported in missing; the
// orchestrator refuses every session in that case.
func resolveProviders(cfg config.Config) (providerSetup, error) {
	if cfg.ProviderMode == config.ProviderModeMock {
		return providerSetup{
			providers: voice.Providers{
				STT:        voice.NewMockSTT(),
				Completion: voice.NewMockCompletion(),
				TTS:        voice.NewMockTTS(cfg.STTSampleRate),
			},
			detail: "mock",
		}, nil
	}

	setup := providerSetup{missing: cfg.MissingCredentials()}
	var details []string

	if strings.TrimSpace(cfg.DeepgramAPIKey) != "" {
		dg := voice.DeepgramConfig{
			APIKey:         cfg.DeepgramAPIKey,
			BaseURL:        cfg.DeepgramBaseURL,
			Model:          cfg.STTModel,
			Encoding:       cfg.STTEncoding,
			SampleRate:     cfg.STTSampleRate,
			Endpointing:    cfg.STTEndpointing,
			UtteranceEndMS: cfg.STTUtteranceEndMS,
			SmartFormat:    cfg.STTSmartFormat,
			InterimResults: cfg.STTInterimResults,
			NoDelay:        cfg.STTNoDelay,
			Voice:          cfg.TTSVoiceModel,
		}
		stt, err := voice.NewDeepgramSTT(dg)
		if err != nil {
			return providerSetup{}, fmt.Errorf("deepgram stt init failed: %w", err)
		}
		tts, err := voice.NewDeepgramTTS(dg)
		if err != nil {
			return providerSetup{}, fmt.Errorf("deepgram tts init failed: %w", err)
		}
		setup.providers.STT = stt
		setup.providers.TTS = tts
		details = append(details, fmt.Sprintf("deepgram (%s, %s)", cfg.STTModel, cfg.TTSVoiceModel))
	}

	var openAI, httpCompletion voice.CompletionProvider
	if strings.TrimSpace(cfg.OpenAIAPIKey) != "" {
		p, err := voice.NewOpenAICompletion(voice.OpenAIConfig{
			APIKey:       cfg.OpenAIAPIKey,
			BaseURL:      cfg.OpenAIBaseURL,
			Model:        cfg.CompletionModel,
			MaxTokens:    cfg.CompletionMaxTokens,
			Temperature:  cfg.CompletionTemperature,
			SystemPrompt: cfg.CompletionSystemPrompt,
		})
		if err != nil {
			return providerSetup{}, fmt.Errorf("openai completion init failed: %w", err)
		}
		openAI = p
	}
	if strings.TrimSpace(cfg.CompletionHTTPURL) != "" {
		httpCompletion = voice.NewHTTPCompletion(cfg.CompletionHTTPURL)
	}
	switch {
	case openAI != nil && httpCompletion != nil:
		setup.providers.Completion = voice.NewFailoverCompletion(openAI, httpCompletion)
		details = append(details, fmt.Sprintf("openai %s with http fallback", cfg.CompletionModel))
	case openAI != nil:
		setup.providers.Completion = openAI
		details = append(details, "openai "+cfg.CompletionModel)
	case httpCompletion != nil:
		setup.providers.Completion = httpCompletion
		details = append(details, "http completion")
	}

	setup.detail = strings.Join(details, " + ")
	if len(setup.missing) > 0 {
		setup.detail = "missing " + strings.Join(setup.missing, ", ")
	}
	return setup, nil
}
