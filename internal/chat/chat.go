// Package chat is the conversation core: intent routing, context assembly,
// response generation and the turn state machine that ties them together.
package chat

import (
	"context"
	"errors"
	"time"

	"github.com/ent0n29/cinemate/internal/knowledge"
	"github.com/ent0n29/cinemate/internal/movie"
)

// ErrMovieNotFound means the catalog had no match for the requested title.
var ErrMovieNotFound = errors.New("movie not found")

type Intent string

const (
	IntentNewMovie            Intent = "new_movie"
	IntentAffirmative         Intent = "affirmative"
	IntentMoreRecommendations Intent = "more_recommendations"
	IntentQuestion            Intent = "question"
)

// ErrorKind is the failure class reported on a Reply. Empty means success.
type ErrorKind string

const (
	ErrorNone              ErrorKind = ""
	ErrorMovieNotFound     ErrorKind = "movie_not_found"
	ErrorUpstreamTransient ErrorKind = "upstream_transient"
	ErrorInternal          ErrorKind = "internal"
)

// State is what a caller keeps between turns.
type State struct {
	Context *movie.Context `json:"context,omitempty"`
}

func (s State) Initialized() bool { return s.Context != nil }

// Catalog is the movie metadata collaborator.
type Catalog interface {
	Search(ctx context.Context, query string) (movie.Record, bool, error)
	Details(ctx context.Context, id int) (movie.Record, error)
	Similar(ctx context.Context, id, limit int) ([]movie.Record, error)
	DiscoverByGenres(ctx context.Context, genreIDs []int, excludeID, limit int) ([]movie.Record, error)
}

// CommentarySource returns raw audience texts for a title.
type CommentarySource interface {
	Fetch(ctx context.Context, title string, limit int) ([]string, error)
}

type OpinionAnalyzer interface {
	Analyze(ctx context.Context, texts []string) (movie.OpinionSummary, error)
}

// Knowledge is the shared semantic memory.
type Knowledge interface {
	Add(ctx context.Context, title string, c movie.Context) (int, error)
	Search(ctx context.Context, query string, k int) ([]knowledge.Entry, error)
}

// Observer receives turn telemetry. observability.Metrics satisfies it.
type Observer interface {
	ObserveTurn(intent, outcome string, d time.Duration)
	ObserveUpstreamError(collaborator string)
	ObserveTurnStage(stage string, d time.Duration)
}

type nopObserver struct{}

func (nopObserver) ObserveTurn(string, string, time.Duration) {}
func (nopObserver) ObserveUpstreamError(string)               {}
func (nopObserver) ObserveTurnStage(string, time.Duration)    {}
