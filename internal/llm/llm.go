// Package llm is the language-model boundary: one prompt in, one text reply
// out.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrUnreachable covers transport failures, timeouts and upstream error
	// statuses: nothing usable came back.
	ErrUnreachable = errors.New("language model unreachable")
	// ErrMalformed means the upstream answered but the content is unusable
	// (no choices, empty text, or invalid JSON when a schema was requested).
	ErrMalformed = errors.New("language model returned malformed content")
)

// Schema asks the model for JSON output matching a JSON schema.
type Schema struct {
	Name   string
	Schema json.Marshaler
}

// Request is a single prompt.
type Request struct {
	Prompt      string
	Temperature float32
	Schema      *Schema
}

// Generator produces text for a prompt.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// Config controls generator construction.
type Config struct {
	Mode    string
	BaseURL string
	APIKey  string
	Model   string
	HTTPURL string
	Timeout time.Duration
	// StrictSchema sends json_schema response formats; otherwise json_object
	// is used with the schema in the system message.
	StrictSchema bool
	Fallback     bool
}

// New builds a generator for cfg.Mode: "openai" (OpenAI-compatible chat
// completions, Groq by default), "http" (plain JSON endpoint), "mock", or
// "auto", which prefers openai when an API key is set, then http, then mock.
// With Fallback set, a non-mock generator falls back to the mock on failure.
func New(cfg Config) (Generator, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	var (
		g   Generator
		err error
	)
	switch mode {
	case "auto":
		switch {
		case strings.TrimSpace(cfg.APIKey) != "":
			g, err = NewOpenAIGenerator(cfg)
		case strings.TrimSpace(cfg.HTTPURL) != "":
			g = NewHTTPGenerator(cfg.HTTPURL, cfg.Timeout)
		default:
			return NewMockGenerator(), nil
		}
	case "openai":
		g, err = NewOpenAIGenerator(cfg)
	case "http":
		if strings.TrimSpace(cfg.HTTPURL) == "" {
			return nil, errors.New("llm HTTP url is required for http mode")
		}
		g = NewHTTPGenerator(cfg.HTTPURL, cfg.Timeout)
	case "mock":
		return NewMockGenerator(), nil
	default:
		return nil, fmt.Errorf("unsupported llm mode %q", cfg.Mode)
	}
	if err != nil {
		return nil, err
	}
	if cfg.Fallback {
		return NewFallbackGenerator(g, NewMockGenerator()), nil
	}
	return g, nil
}

// StripCodeFence removes a surrounding markdown code fence, which models
// often add around JSON even when asked not to.
func StripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
