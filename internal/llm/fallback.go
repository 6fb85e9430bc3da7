package llm

import (
	"context"
	"errors"
	"fmt"
)

// FallbackGenerator tries primary first and uses fallback when it fails.
// Cancellation and deadline errors are returned as-is.
type FallbackGenerator struct {
	primary  Generator
	fallback Generator
}

func NewFallbackGenerator(primary, fallback Generator) *FallbackGenerator {
	return &FallbackGenerator{primary: primary, fallback: fallback}
}

// Primary returns the preferred generator.
func (g *FallbackGenerator) Primary() Generator {
	if g == nil {
		return nil
	}
	return g.primary
}

func (g *FallbackGenerator) Generate(ctx context.Context, req Request) (string, error) {
	if g == nil || g.primary == nil {
		if g != nil && g.fallback != nil {
			return g.fallback.Generate(ctx, req)
		}
		return "", fmt.Errorf("fallback generator misconfigured")
	}

	text, err := g.primary.Generate(ctx, req)
	if err == nil {
		return text, nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
		return "", err
	}
	if g.fallback == nil {
		return "", err
	}
	fallbackText, fallbackErr := g.fallback.Generate(ctx, req)
	if fallbackErr != nil {
		return "", fmt.Errorf("primary generator error: %w; fallback generator error: %v", err, fallbackErr)
	}
	return fallbackText, nil
}
