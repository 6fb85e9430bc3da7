package commentary

import (
	"context"
	"fmt"
	"strings"

	"github.com/ent0n29/cinemate/internal/catalog"
	"github.com/ent0n29/cinemate/internal/movie"
)

const DefaultReviewLimit = 3

// ReviewLookup is the slice of the catalog client TMDBReviews needs.
type ReviewLookup interface {
	Search(ctx context.Context, query string) (movie.Record, bool, error)
	Reviews(ctx context.Context, id, limit int) ([]catalog.Review, error)
}

// TMDBReviews fetches user reviews for the best title match.
type TMDBReviews struct {
	lookup ReviewLookup
	max    int
}

func NewTMDBReviews(lookup ReviewLookup, max int) *TMDBReviews {
	if max <= 0 {
		max = DefaultReviewLimit
	}
	return &TMDBReviews{lookup: lookup, max: max}
}

func (t *TMDBReviews) Fetch(ctx context.Context, title string, limit int) ([]string, error) {
	rec, ok, err := t.lookup.Search(ctx, title)
	if err != nil {
		return nil, fmt.Errorf("tmdb reviews %q: %w", title, err)
	}
	if !ok {
		return []string{}, nil
	}
	if limit <= 0 || limit > t.max {
		limit = t.max
	}
	reviews, err := t.lookup.Reviews(ctx, rec.ID, limit)
	if err != nil {
		return nil, fmt.Errorf("tmdb reviews %q: %w", title, err)
	}
	out := make([]string, 0, len(reviews))
	for _, r := range reviews {
		text := htmlText(r.Content)
		if len(text) < MinCommentLength {
			continue
		}
		if r.Rating != nil {
			text = fmt.Sprintf("%s (rated %g/10)", strings.TrimSpace(text), *r.Rating)
		}
		out = append(out, text)
	}
	return out, nil
}
