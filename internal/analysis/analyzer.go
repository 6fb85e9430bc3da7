// Package analysis turns a batch of audience commentary into a structured
// opinion summary with one language-model call.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/invopop/jsonschema"
	"github.com/rs/zerolog"

	"github.com/ent0n29/cinemate/internal/llm"
	"github.com/ent0n29/cinemate/internal/movie"
	"github.com/ent0n29/cinemate/internal/policy"
)

// ErrAnalysisUnavailable is returned when the model could not be reached or
// its answer could not be read as an opinion summary.
var ErrAnalysisUnavailable = errors.New("opinion analysis unavailable")

const (
	DefaultTemperature = 0.2

	defaultMaxCommentChars = 1200
	defaultMaxPromptChars  = 12000
)

type Options struct {
	Temperature     float32
	MaxCommentChars int
	MaxPromptChars  int
}

// Analyzer summarizes commentary. It is stateless and safe for concurrent use.
type Analyzer struct {
	gen    llm.Generator
	opts   Options
	schema *llm.Schema
	logger zerolog.Logger
}

func New(gen llm.Generator, opts Options, logger zerolog.Logger) *Analyzer {
	if opts.Temperature <= 0 {
		opts.Temperature = DefaultTemperature
	}
	if opts.MaxCommentChars <= 0 {
		opts.MaxCommentChars = defaultMaxCommentChars
	}
	if opts.MaxPromptChars <= 0 {
		opts.MaxPromptChars = defaultMaxPromptChars
	}
	return &Analyzer{
		gen:    gen,
		opts:   opts,
		schema: &llm.Schema{Name: "opinion_summary", Schema: OpinionSchema()},
		logger: logger.With().Str("component", "analysis").Logger(),
	}
}

// OpinionSchema is the JSON schema the model is asked to follow.
func OpinionSchema() *jsonschema.Schema {
	r := &jsonschema.Reflector{
		DoNotReference:            true,
		ExpandedStruct:            true,
		AllowAdditionalProperties: false,
	}
	s := r.Reflect(&movie.OpinionSummary{})
	s.Version = ""
	s.Title = "Audience opinion summary"
	return s
}

// Analyze summarizes texts. No usable commentary yields movie.Insufficient()
// with a nil error.
func (a *Analyzer) Analyze(ctx context.Context, texts []string) (movie.OpinionSummary, error) {
	comments := a.prepare(texts)
	if len(comments) == 0 {
		return movie.Insufficient(), nil
	}

	raw, err := a.gen.Generate(ctx, llm.Request{
		Prompt:      buildPrompt(comments),
		Temperature: a.opts.Temperature,
		Schema:      a.schema,
	})
	if err != nil {
		return movie.OpinionSummary{}, fmt.Errorf("%w: %w", ErrAnalysisUnavailable, err)
	}

	summary, err := Parse(raw)
	if err != nil {
		a.logger.Warn().Err(err).Int("comments", len(comments)).Msg("unreadable opinion summary")
		return movie.OpinionSummary{}, fmt.Errorf("%w: %w", ErrAnalysisUnavailable, err)
	}
	return summary, nil
}

// prepare redacts PII, trims each comment and keeps the batch under the
// prompt budget.
func (a *Analyzer) prepare(texts []string) []string {
	redacted, changed := policy.RedactAll(texts)
	if changed > 0 {
		a.logger.Debug().Int("redacted", changed).Msg("personal data removed from commentary")
	}
	out := make([]string, 0, len(redacted))
	total := 0
	for _, t := range redacted {
		t = strings.Join(strings.Fields(t), " ")
		if t == "" {
			continue
		}
		if len(t) > a.opts.MaxCommentChars {
			t = truncateRunes(t, a.opts.MaxCommentChars) + "..."
		}
		if total+len(t) > a.opts.MaxPromptChars && len(out) > 0 {
			break
		}
		total += len(t)
		out = append(out, t)
	}
	return out
}

func buildPrompt(comments []string) string {
	var b strings.Builder
	b.WriteString("You're a movie analysis expert. Analyze these audience comments and reviews.\n\nComments:\n")
	for _, c := range comments {
		b.WriteString("- ")
		b.WriteString(c)
		b.WriteString("\n")
	}
	b.WriteString(`
Return a JSON object with:
- emotional_tone: key emotions expressed (e.g. excitement, disappointment)
- sentiment: overall sentiment, one of positive, negative, mixed
- pros: 2-3 most praised elements
- cons: 2-3 most criticized elements
- themes: 2-3 recurring themes or patterns
- summary: 2-3 sentence overview
- rating_out_of_10: estimated average rating out of 10 based on sentiment

Use as few words as possible.`)
	return b.String()
}

// Parse reads a model answer into an OpinionSummary. It accepts the common
// deviations models make: title-cased or spaced keys, comma-separated strings
// instead of lists, and ratings as strings. An object with no recognizable
// opinion fields is treated as insufficient data.
func Parse(raw string) (movie.OpinionSummary, error) {
	raw = llm.StripCodeFence(raw)
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return movie.OpinionSummary{}, fmt.Errorf("decode opinion: %w", err)
	}

	var s movie.OpinionSummary
	found := false
	for key, value := range fields {
		switch normalizeKey(key) {
		case "emotional_tone", "tone":
			s.EmotionalTone = decodeString(value)
		case "sentiment", "overall_sentiment":
			s.Sentiment = decodeString(value)
		case "pros":
			s.Pros = decodeList(value)
		case "cons":
			s.Cons = decodeList(value)
		case "themes", "key_themes":
			s.Themes = decodeList(value)
		case "summary":
			s.Summary = decodeString(value)
		case "rating_out_of_10", "rating", "sentiment_rating":
			s.Rating = decodeRating(value)
		default:
			continue
		}
		found = true
	}
	if !found {
		return movie.Insufficient(), nil
	}
	return normalize(s), nil
}

func normalize(s movie.OpinionSummary) movie.OpinionSummary {
	s.Sentiment = strings.ToLower(strings.TrimSpace(s.Sentiment))
	switch s.Sentiment {
	case "positive", "negative", "mixed":
	default:
		s.Sentiment = movie.SentimentUnknown
	}
	if strings.TrimSpace(s.EmotionalTone) == "" {
		s.EmotionalTone = "unknown"
	}
	if s.Pros == nil {
		s.Pros = []string{}
	}
	if s.Cons == nil {
		s.Cons = []string{}
	}
	if s.Themes == nil {
		s.Themes = []string{}
	}
	if s.Rating != nil && (*s.Rating < 0 || *s.Rating > 10) {
		s.Rating = nil
	}
	return s
}

func normalizeKey(k string) string {
	k = strings.ToLower(strings.TrimSpace(k))
	k = strings.NewReplacer(" ", "_", "-", "_").Replace(k)
	return k
}

func decodeString(v json.RawMessage) string {
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return strings.TrimSpace(s)
	}
	if list := decodeList(v); len(list) > 0 {
		return strings.Join(list, ", ")
	}
	return ""
}

func decodeList(v json.RawMessage) []string {
	var items []any
	if err := json.Unmarshal(v, &items); err == nil {
		out := make([]string, 0, len(items))
		for _, it := range items {
			if s := strings.TrimSpace(fmt.Sprint(it)); s != "" && it != nil {
				out = append(out, s)
			}
		}
		return out
	}
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		out := []string{}
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		return out
	}
	return nil
}

func decodeRating(v json.RawMessage) *float64 {
	var f float64
	if err := json.Unmarshal(v, &f); err == nil {
		return &f
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return nil
	}
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "/10"))
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &f
}

func truncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := 0
	for i := range s {
		if i > n {
			break
		}
		cut = i
	}
	return s[:cut]
}
