package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	ProviderModeLive = "live"
	ProviderModeMock = "mock"
)

// Config contains all runtime settings for the voice relay.
type Config struct {
	BindAddr                 string        `yaml:"bind_addr"`
	ShutdownTimeout          time.Duration `yaml:"shutdown_timeout"`
	SessionInactivityTimeout time.Duration `yaml:"session_inactivity_timeout"`
	MetricsNamespace         string        `yaml:"metrics_namespace"`

	AllowAnyOrigin bool `yaml:"allow_any_origin"`

	ProviderMode     string        `yaml:"provider_mode"`
	ProviderTimeout  time.Duration `yaml:"provider_timeout"`
	AudioBufferLimit int           `yaml:"audio_buffer_limit"`
	MaxQueuedPrompts int           `yaml:"max_queued_prompts"`

	DeepgramAPIKey  string `yaml:"deepgram_api_key"`
	DeepgramBaseURL string `yaml:"deepgram_base_url"`

	STTModel          string `yaml:"stt_model"`
	STTEncoding       string `yaml:"stt_encoding"`
	STTSampleRate     int    `yaml:"stt_sample_rate"`
	STTEndpointing    string `yaml:"stt_endpointing"`
	STTUtteranceEndMS int    `yaml:"stt_utterance_end_ms"`
	STTSmartFormat    bool   `yaml:"stt_smart_format"`
	STTInterimResults bool   `yaml:"stt_interim_results"`
	STTNoDelay        bool   `yaml:"stt_no_delay"`

	TTSVoiceModel string `yaml:"tts_voice_model"`

	OpenAIAPIKey           string  `yaml:"openai_api_key"`
	OpenAIBaseURL          string  `yaml:"openai_base_url"`
	CompletionModel        string  `yaml:"completion_model"`
	CompletionMaxTokens    int     `yaml:"completion_max_tokens"`
	CompletionTemperature  float64 `yaml:"completion_temperature"`
	CompletionSystemPrompt string  `yaml:"completion_system_prompt"`
	CompletionHTTPURL      string  `yaml:"completion_http_url"`
}

// Defaults returns the built-in configuration before file and environment overrides.
func Defaults() Config {
	return Config{
		BindAddr:                 ":8080",
		ShutdownTimeout:          15 * time.Second,
		SessionInactivityTimeout: 2 * time.Minute,
		MetricsNamespace:         "relay",
		AllowAnyOrigin:           false,
		ProviderMode:             ProviderModeLive,
		ProviderTimeout:          30 * time.Second,
		DeepgramBaseURL:          "https://api.deepgram.com",
		STTModel:                 "nova-2",
		STTEncoding:              "linear16",
		STTSampleRate:            16000,
		STTEndpointing:           "true",
		STTUtteranceEndMS:        1000,
		STTSmartFormat:           true,
		STTInterimResults:        true,
		STTNoDelay:               true,
		TTSVoiceModel:            "aura-asteria-en",
		CompletionModel:          "gpt-4o-mini",
		CompletionMaxTokens:      150,
		CompletionTemperature:    0.7,
	}
}

// Load reads environment variables and applies safe defaults. When
// APP_CONFIG_FILE is set the YAML file is applied first and the environment
// still wins.
func Load() (Config, error) {
	cfg := Defaults()
	if path := stringsTrimSpace("APP_CONFIG_FILE"); path != "" {
		var err error
		cfg, err = LoadFile(path, cfg)
		if err != nil {
			return Config{}, err
		}
	}

	cfg.BindAddr = envOrDefault("APP_BIND_ADDR", cfg.BindAddr)
	if port := stringsTrimSpace("PORT"); port != "" && stringsTrimSpace("APP_BIND_ADDR") == "" {
		if _, err := strconv.Atoi(port); err != nil {
			return Config{}, fmt.Errorf("PORT parse error: %w", err)
		}
		cfg.BindAddr = ":" + port
	}
	cfg.MetricsNamespace = envOrDefault("APP_METRICS_NAMESPACE", cfg.MetricsNamespace)
	cfg.ProviderMode = strings.ToLower(envOrDefault("RELAY_PROVIDER_MODE", cfg.ProviderMode))
	cfg.DeepgramAPIKey = envOrDefault("DEEPGRAM_API_KEY", cfg.DeepgramAPIKey)
	cfg.DeepgramBaseURL = envOrDefault("DEEPGRAM_BASE_URL", cfg.DeepgramBaseURL)
	cfg.STTModel = envOrDefault("STT_MODEL", cfg.STTModel)
	cfg.STTEncoding = envOrDefault("STT_ENCODING", cfg.STTEncoding)
	cfg.STTEndpointing = envOrDefault("STT_ENDPOINTING", cfg.STTEndpointing)
	cfg.TTSVoiceModel = envOrDefault("TTS_VOICE_MODEL", cfg.TTSVoiceModel)
	cfg.OpenAIAPIKey = envOrDefault("OPENAI_API_KEY", cfg.OpenAIAPIKey)
	cfg.OpenAIBaseURL = envOrDefault("OPENAI_BASE_URL", cfg.OpenAIBaseURL)
	cfg.CompletionModel = envOrDefault("COMPLETION_MODEL", cfg.CompletionModel)
	cfg.CompletionSystemPrompt = envOrDefault("COMPLETION_SYSTEM_PROMPT", cfg.CompletionSystemPrompt)
	cfg.CompletionHTTPURL = envOrDefault("COMPLETION_HTTP_URL", cfg.CompletionHTTPURL)

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionInactivityTimeout, err = durationFromEnv("APP_SESSION_INACTIVITY_TIMEOUT", cfg.SessionInactivityTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.ProviderTimeout, err = durationFromEnv("RELAY_PROVIDER_TIMEOUT", cfg.ProviderTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.AudioBufferLimit, err = intFromEnv("RELAY_AUDIO_BUFFER_LIMIT", cfg.AudioBufferLimit)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxQueuedPrompts, err = intFromEnv("RELAY_MAX_QUEUED_PROMPTS", cfg.MaxQueuedPrompts)
	if err != nil {
		return Config{}, err
	}
	cfg.STTSampleRate, err = intFromEnv("STT_SAMPLE_RATE", cfg.STTSampleRate)
	if err != nil {
		return Config{}, err
	}
	cfg.STTUtteranceEndMS, err = intFromEnv("STT_UTTERANCE_END_MS", cfg.STTUtteranceEndMS)
	if err != nil {
		return Config{}, err
	}
	cfg.STTSmartFormat, err = boolFromEnv("STT_SMART_FORMAT", cfg.STTSmartFormat)
	if err != nil {
		return Config{}, err
	}
	cfg.STTInterimResults, err = boolFromEnv("STT_INTERIM_RESULTS", cfg.STTInterimResults)
	if err != nil {
		return Config{}, err
	}
	cfg.STTNoDelay, err = boolFromEnv("STT_NO_DELAY", cfg.STTNoDelay)
	if err != nil {
		return Config{}, err
	}
	cfg.CompletionMaxTokens, err = intFromEnv("COMPLETION_MAX_TOKENS", cfg.CompletionMaxTokens)
	if err != nil {
		return Config{}, err
	}
	cfg.CompletionTemperature, err = floatFromEnv("COMPLETION_TEMPERATURE", cfg.CompletionTemperature)
	if err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects malformed settings. Missing credentials are not an error
// here; see MissingCredentials.
func (c Config) Validate() error {
	if c.ProviderMode != ProviderModeLive && c.ProviderMode != ProviderModeMock {
		return fmt.Errorf("RELAY_PROVIDER_MODE must be %q or %q, got %q", ProviderModeLive, ProviderModeMock, c.ProviderMode)
	}
	if c.SessionInactivityTimeout < 5*time.Second {
		return fmt.Errorf("APP_SESSION_INACTIVITY_TIMEOUT must be at least 5s")
	}
	if c.ProviderTimeout <= 0 {
		return fmt.Errorf("RELAY_PROVIDER_TIMEOUT must be positive")
	}
	if c.AudioBufferLimit < 0 {
		return fmt.Errorf("RELAY_AUDIO_BUFFER_LIMIT must be >= 0")
	}
	if c.MaxQueuedPrompts < 0 {
		return fmt.Errorf("RELAY_MAX_QUEUED_PROMPTS must be >= 0")
	}
	if c.STTSampleRate <= 0 {
		return fmt.Errorf("STT_SAMPLE_RATE must be positive")
	}
	if c.STTUtteranceEndMS < 0 {
		return fmt.Errorf("STT_UTTERANCE_END_MS must be >= 0")
	}
	if c.CompletionMaxTokens <= 0 {
		return fmt.Errorf("COMPLETION_MAX_TOKENS must be positive")
	}
	if c.CompletionTemperature < 0 || c.CompletionTemperature > 2 {
		return fmt.Errorf("COMPLETION_TEMPERATURE must be in [0,2]")
	}
	return nil
}

// MissingCredentials lists the credential variables a live session needs but
// that are not set. Mock mode needs none.
func (c Config) MissingCredentials() []string {
	if c.ProviderMode == ProviderModeMock {
		return nil
	}
	var missing []string
	if strings.TrimSpace(c.DeepgramAPIKey) == "" {
		missing = append(missing, "DEEPGRAM_API_KEY")
	}
	if strings.TrimSpace(c.OpenAIAPIKey) == "" && strings.TrimSpace(c.CompletionHTTPURL) == "" {
		missing = append(missing, "OPENAI_API_KEY")
	}
	return missing
}

func envOrDefault(key, fallback string) string {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
