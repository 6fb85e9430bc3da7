package llm

import (
	"context"
	"fmt"
	"strings"
)

// MockGenerator gives deterministic local replies so the assistant runs
// without a model. Schema requests get an empty JSON object, which callers
// normalize into an insufficient-data opinion.
type MockGenerator struct{}

func NewMockGenerator() *MockGenerator { return &MockGenerator{} }

func (g *MockGenerator) Generate(ctx context.Context, req Request) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}

	if req.Schema != nil {
		return "{}", nil
	}
	return buildMockReply(req.Prompt), nil
}

func buildMockReply(prompt string) string {
	line := lastNonEmptyLine(prompt)
	if line == "" {
		return "I'm here to talk movies. Name one you enjoyed and I'll suggest more."
	}
	if len(line) > 160 {
		line = line[:160] + "..."
	}
	return fmt.Sprintf("Here is what I can tell you based on what I know: %s", line)
}

func lastNonEmptyLine(s string) string {
	lines := strings.Split(s, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimSpace(lines[i]); l != "" {
			return l
		}
	}
	return ""
}
