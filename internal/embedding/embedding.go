// Package embedding turns text into fixed-dimension vectors for the
// knowledge index.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Embedder computes a vector for text. Every vector it returns has Dim()
// components.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dim() int
}

var ErrEmptyText = errors.New("embedding: text is empty")

// Config controls embedder construction.
type Config struct {
	Mode    string
	BaseURL string
	APIKey  string
	Model   string
	Dim     int
	Timeout time.Duration
}

// New builds an embedder for cfg.Mode: "openai" (any OpenAI-compatible
// /embeddings endpoint), "hash" (local, deterministic) or "auto", which picks
// openai when an endpoint or key is configured.
func New(cfg Config) (Embedder, error) {
	if cfg.Dim <= 0 {
		return nil, fmt.Errorf("embedding dimension must be positive, got %d", cfg.Dim)
	}
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		if strings.TrimSpace(cfg.APIKey) != "" || strings.TrimSpace(cfg.BaseURL) != "" {
			return NewOpenAIEmbedder(cfg)
		}
		return NewHashEmbedder(cfg.Dim), nil
	case "openai":
		return NewOpenAIEmbedder(cfg)
	case "hash":
		return NewHashEmbedder(cfg.Dim), nil
	default:
		return nil, fmt.Errorf("unsupported embedding mode %q", cfg.Mode)
	}
}
