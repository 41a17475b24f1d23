package app

import (
	"context"
	"fmt"

	"github.com/patrickhyd4/ai-voice-interviewer/internal/config"
	"github.com/patrickhyd4/ai-voice-interviewer/internal/httpapi"
	"github.com/patrickhyd4/ai-voice-interviewer/internal/observability"
	"github.com/patrickhyd4/ai-voice-interviewer/internal/session"
	"github.com/patrickhyd4/ai-voice-interviewer/internal/voice"
)

type ProviderInfo struct {
	Mode    string
	Detail  string
	Missing []string
}

type BuildResult struct {
	Config       config.Config
	API          *httpapi.Server
	Sessions     *session.Manager
	Orchestrator *voice.Orchestrator
	Metrics      *observability.Metrics
	Providers    ProviderInfo
	// Shutdown flushes telemetry. It is safe to call once the HTTP server has
	// stopped.
	Shutdown func(context.Context) error
}

func Build(_ context.Context, cfg config.Config) (*BuildResult, error) {
	shutdown, err := observability.InitTracing(observability.TracingConfig{})
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	metrics := observability.NewMetrics(cfg.MetricsNamespace)
	res, err := build(cfg, metrics)
	if err != nil {
		_ = shutdown(context.Background())
		return nil, err
	}
	res.Shutdown = shutdown
	return res, nil
}

func build(cfg config.Config, metrics *observability.Metrics) (*BuildResult, error) {
	setup, err := resolveProviders(cfg)
	if err != nil {
		return nil, err
	}

	sessions := session.NewManager(cfg.SessionInactivityTimeout)
	orchestrator := voice.NewOrchestrator(
		sessions,
		setup.providers,
		metrics,
		voice.SessionConfig{
			AudioBufferLimit: cfg.AudioBufferLimit,
			MaxQueuedPrompts: cfg.MaxQueuedPrompts,
			ProviderTimeout:  cfg.ProviderTimeout,
		},
		setup.missing,
	)
	api := httpapi.New(cfg, sessions, orchestrator, metrics)

	return &BuildResult{
		Config:       cfg,
		API:          api,
		Sessions:     sessions,
		Orchestrator: orchestrator,
		Metrics:      metrics,
		Providers: ProviderInfo{
			Mode:    cfg.ProviderMode,
			Detail:  setup.detail,
			Missing: setup.missing,
		},
		Shutdown: func(context.Context) error { return nil },
	}, nil
}
