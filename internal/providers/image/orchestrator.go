package image

import (
	"context"
	"errors"
	"fmt"
	"time"

	"storybook/internal/domain"
	"storybook/internal/infra"
	"storybook/internal/metrics"
)

// Orchestrator walks an ordered list of providers and returns the first
// usable illustration. Every provider but the last may fail for any reason
// and the next one is tried; the last provider's error is returned.
type Orchestrator struct {
	resolver  *ReferenceResolver
	providers []Provider
	logger    *infra.Logger
}

// NewOrchestrator builds the chain. The last provider is the terminal tier.
func NewOrchestrator(resolver *ReferenceResolver, logger *infra.Logger, providers ...Provider) *Orchestrator {
	return &Orchestrator{
		resolver:  resolver,
		providers: providers,
		logger:    infra.LoggerOrDiscard(logger),
	}
}

// Providers lists the chain's tier names in order.
func (o *Orchestrator) Providers() []string {
	names := make([]string, 0, len(o.providers))
	for _, p := range o.providers {
		names = append(names, p.Name())
	}
	return names
}

// GenerateIllustration renders one scene for the character.
func (o *Orchestrator) GenerateIllustration(ctx context.Context, character domain.Character, scene, storyTitle string, page int) (*Result, error) {
	if len(o.providers) == 0 {
		return nil, fmt.Errorf("%w: no providers configured", domain.ErrProviderUnavailable)
	}
	req := Request{
		Character:  character,
		Scene:      scene,
		StoryTitle: storyTitle,
		PageNumber: page,
	}
	if ref, ok := o.resolver.Resolve(character.ImageURL); ok {
		req.Reference = ref
	} else if character.ImageURL != "" {
		o.logger.Debug().Str("locator", character.ImageURL).Msg("reference image not found locally")
	}

	last := len(o.providers) - 1
	for i, p := range o.providers {
		start := time.Now()
		res, err := p.Attempt(ctx, req)
		outcome := attemptOutcome(err)
		metrics.ProviderAttempts.WithLabelValues(p.Name(), outcome).Inc()
		if outcome != "skipped" {
			metrics.ProviderLatency.WithLabelValues(p.Name()).Observe(time.Since(start).Seconds())
		}
		if err == nil {
			o.logger.Info().
				Str("provider", p.Name()).
				Int("page", page).
				Bool("character_referenced", res.CharacterReferenced).
				Bool("persisted", res.LocalURL != "").
				Msg("illustration generated")
			return res, nil
		}
		if i == last {
			o.logger.Error().Err(err).Str("provider", p.Name()).Int("page", page).Msg("terminal provider failed")
			return nil, err
		}
		evt := o.logger.Warn()
		if outcome == "skipped" {
			evt = o.logger.Debug()
		}
		evt.Err(err).
			Str("provider", p.Name()).
			Str("outcome", outcome).
			Int("page", page).
			Msg("provider tier failed, falling through")
	}
	return nil, fmt.Errorf("%w: chain exhausted", domain.ErrProviderUnavailable)
}

func attemptOutcome(err error) string {
	if err == nil {
		return "success"
	}
	if errors.Is(err, domain.ErrProviderUnavailable) || errors.Is(err, domain.ErrReferenceImageMissing) {
		return "skipped"
	}
	var upstream *domain.UpstreamError
	if errors.As(err, &upstream) {
		return string(upstream.Kind)
	}
	return "error"
}
