package voice

import (
	"context"
	"fmt"
	"sync/atomic"
)

// NewFailoverCompletion builds a completion provider that prefers primary and
// switches to fallback when a primary call fails. Once fallback succeeds it
// stays active until it fails; then primary is retried.
func NewFailoverCompletion(primary, fallback CompletionProvider) CompletionProvider {
	return &failoverCompletion{primary: primary, fallback: fallback}
}

type failoverCompletion struct {
	fallbackActive atomic.Bool
	primary        CompletionProvider
	fallback       CompletionProvider
}

func (p *failoverCompletion) Name() string {
	if p.fallbackActive.Load() {
		return p.fallback.Name()
	}
	return p.primary.Name()
}

func (p *failoverCompletion) Complete(ctx context.Context, prompt string) (CompletionResult, error) {
	first, second := p.primary, p.fallback
	if p.fallbackActive.Load() {
		first, second = p.fallback, p.primary
	}

	res, firstErr := first.Complete(ctx, prompt)
	if firstErr == nil {
		res.Provider = servedBy(res, first)
		return res, nil
	}
	if ctx.Err() != nil {
		return CompletionResult{Provider: first.Name()}, firstErr
	}

	res, secondErr := second.Complete(ctx, prompt)
	if secondErr != nil {
		return CompletionResult{Provider: second.Name()}, fmt.Errorf("%s failed: %v; %s failed: %w", first.Name(), firstErr, second.Name(), secondErr)
	}
	p.fallbackActive.Store(second == p.fallback)
	res.Provider = servedBy(res, second)
	return res, nil
}

func servedBy(res CompletionResult, p CompletionProvider) string {
	if res.Provider != "" {
		return res.Provider
	}
	return p.Name()
}
