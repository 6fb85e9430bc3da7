// Package commentary collects raw audience text about a movie: Reddit
// discussion comments and TMDB user reviews.
package commentary

import (
	"context"
	"errors"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"
)

// MinCommentLength drops one-word reactions ("lol", "this") that carry no
// opinion.
const MinCommentLength = 6

// Fetcher returns up to limit texts about title. No data is an empty slice,
// not an error.
type Fetcher interface {
	Fetch(ctx context.Context, title string, limit int) ([]string, error)
}

// Named attaches a label to a source for logging.
type Named struct {
	Name string
	Fetcher
}

// Multi queries sources in order and concatenates the results, up to limit
// texts in total. Each source is asked only for what is still missing, and
// once the limit is reached the remaining sources are not queried. A failing
// source is logged and skipped; Multi only fails when every queried source
// failed.
type Multi struct {
	sources []Named
	logger  zerolog.Logger
}

func NewMulti(logger zerolog.Logger, sources ...Named) *Multi {
	return &Multi{
		sources: sources,
		logger:  logger.With().Str("component", "commentary").Logger(),
	}
}

func (m *Multi) Fetch(ctx context.Context, title string, limit int) ([]string, error) {
	out := []string{}
	if limit <= 0 {
		return out, nil
	}
	var (
		errs    []error
		queried int
	)
	for _, src := range m.sources {
		remaining := limit - len(out)
		if remaining == 0 {
			break
		}
		queried++
		texts, err := src.Fetch(ctx, title, remaining)
		if err != nil {
			m.logger.Warn().Err(err).Str("collaborator", src.Name).Str("title", title).Msg("commentary source failed")
			errs = append(errs, err)
			continue
		}
		if len(texts) > remaining {
			texts = texts[:remaining]
		}
		out = append(out, texts...)
	}
	if len(errs) > 0 && len(errs) == queried {
		return nil, errors.Join(errs...)
	}
	return out, nil
}

// htmlText flattens an HTML fragment to whitespace-normalized text.
func htmlText(fragment string) string {
	fragment = strings.TrimSpace(fragment)
	if fragment == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return strings.Join(strings.Fields(fragment), " ")
	}
	doc.Find("script, style").Remove()
	// Keep paragraph boundaries from gluing words together.
	doc.Find("p, br, li, div").Each(func(_ int, s *goquery.Selection) {
		s.AppendHtml(" ")
	})
	return strings.Join(strings.Fields(doc.Text()), " ")
}
