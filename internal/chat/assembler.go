package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ent0n29/cinemate/internal/analysis"
	"github.com/ent0n29/cinemate/internal/catalog"
	"github.com/ent0n29/cinemate/internal/knowledge"
	"github.com/ent0n29/cinemate/internal/movie"
)

// Template selects the prompt the responder renders.
type Template int

const (
	TemplateIntroduction Template = iota
	TemplateDeeper
	TemplateGenreSteered
	TemplateFollowUp
)

func (t Template) String() string {
	switch t {
	case TemplateIntroduction:
		return "introduction"
	case TemplateDeeper:
		return "deeper"
	case TemplateGenreSteered:
		return "genre_steered"
	case TemplateFollowUp:
		return "follow_up"
	default:
		return "unknown"
	}
}

// Assembly is everything the responder needs for one turn.
type Assembly struct {
	Template Template
	Context  movie.Context
	// Relevant holds knowledge hits for a question, main movie excluded.
	Relevant []knowledge.Entry
	// Fresh is the batch fetched by this turn's "more" request.
	Fresh *movie.Recommendations
}

type AssemblerOptions struct {
	SimilarLimit    int
	AnalyzedSimilar int
	CommentaryLimit int
	DiscoverLimit   int
	SearchK         int
	CallTimeout     time.Duration
}

func (o AssemblerOptions) withDefaults() AssemblerOptions {
	if o.SimilarLimit <= 0 {
		o.SimilarLimit = catalog.DefaultSimilarLimit
	}
	if o.AnalyzedSimilar <= 0 {
		o.AnalyzedSimilar = 3
	}
	if o.CommentaryLimit <= 0 {
		o.CommentaryLimit = 10
	}
	if o.DiscoverLimit <= 0 {
		o.DiscoverLimit = catalog.DiscoverLimit
	}
	if o.SearchK <= 0 {
		o.SearchK = 2
	}
	if o.CallTimeout <= 0 {
		o.CallTimeout = 20 * time.Second
	}
	return o
}

// Assembler gathers facts for each intent. It holds no per-conversation
// state.
type Assembler struct {
	catalog    Catalog
	commentary CommentarySource
	analyzer   OpinionAnalyzer
	knowledge  Knowledge
	opts       AssemblerOptions
	observer   Observer
	logger     zerolog.Logger
}

func NewAssembler(cat Catalog, src CommentarySource, an OpinionAnalyzer, kb Knowledge, opts AssemblerOptions, observer Observer, logger zerolog.Logger) *Assembler {
	if observer == nil {
		observer = nopObserver{}
	}
	return &Assembler{
		catalog:    cat,
		commentary: src,
		analyzer:   an,
		knowledge:  kb,
		opts:       opts.withDefaults(),
		observer:   observer,
		logger:     logger.With().Str("component", "assembler").Logger(),
	}
}

// NewMovie resolves title, researches it and its similar movies, and stores
// the result in the knowledge base before returning.
func (a *Assembler) NewMovie(ctx context.Context, title string) (Assembly, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return Assembly{}, ErrMovieNotFound
	}

	start := time.Now()
	hit, ok, err := a.lookup(ctx, title)
	if err != nil {
		a.observer.ObserveUpstreamError("catalog")
		return Assembly{}, fmt.Errorf("search %q: %w", title, err)
	}
	if !ok {
		return Assembly{}, fmt.Errorf("%w: %q", ErrMovieNotFound, title)
	}

	details, err := a.details(ctx, hit.ID)
	if err != nil {
		if ctx.Err() != nil {
			return Assembly{}, ctx.Err()
		}
		a.observer.ObserveUpstreamError("catalog")
		a.logger.Warn().Err(err).Str("collaborator", "catalog").Int("movie_id", hit.ID).Msg("details unavailable; using search result")
		details = hit
	}

	similar, err := a.similar(ctx, details.ID)
	if err != nil {
		if ctx.Err() != nil {
			return Assembly{}, ctx.Err()
		}
		a.observer.ObserveUpstreamError("catalog")
		a.logger.Warn().Err(err).Str("collaborator", "catalog").Str("title", details.Title).Msg("similar movies unavailable")
		similar = nil
	}
	a.observer.ObserveTurnStage("catalog_lookup", time.Since(start))

	start = time.Now()
	mainAnalysis, similarAnalyses := a.research(ctx, details.Title, similar)
	a.observer.ObserveTurnStage("commentary_analysis", time.Since(start))
	if err := ctx.Err(); err != nil {
		return Assembly{}, err
	}

	recs := movie.NewRecommendations()
	for i, s := range similar {
		r := movie.RecommendationFrom(s)
		if i < len(similarAnalyses) {
			r.Analysis = similarAnalyses[i]
		}
		recs.Set(s.Title, r)
	}
	c := movie.NewContext(details, mainAnalysis, recs)

	start = time.Now()
	if _, err := a.knowledge.Add(ctx, c.MainMovie, c); err != nil {
		a.logger.Error().Err(err).Str("collaborator", "knowledge").Str("title", c.MainMovie).Msg("knowledge write failed")
	}
	a.observer.ObserveTurnStage("knowledge_add", time.Since(start))

	return Assembly{Template: TemplateIntroduction, Context: c}, nil
}

// research fetches and analyzes commentary for the main movie and the first
// AnalyzedSimilar similar movies concurrently. Every fetch is best-effort:
// one failing never cancels the others. The returned slice is indexed like
// similar; nil entries had no usable commentary.
func (a *Assembler) research(ctx context.Context, mainTitle string, similar []movie.Record) (movie.OpinionSummary, []*movie.OpinionSummary) {
	n := min(len(similar), a.opts.AnalyzedSimilar)
	analyses := make([]*movie.OpinionSummary, n)
	mainAnalysis := movie.Insufficient()

	var g errgroup.Group
	g.Go(func() error {
		texts, err := a.fetchCommentary(ctx, mainTitle)
		if err != nil {
			a.logger.Warn().Err(err).Str("collaborator", "commentary").Str("title", mainTitle).Msg("main commentary unavailable")
		}
		summary, err := a.analyze(ctx, texts)
		if err != nil {
			a.logger.Warn().Err(err).Str("collaborator", "analysis").Str("title", mainTitle).Msg("main analysis degraded")
			return nil
		}
		mainAnalysis = summary
		return nil
	})
	for i := 0; i < n; i++ {
		title := similar[i].Title
		g.Go(func() error {
			texts, err := a.fetchCommentary(ctx, title)
			if err != nil {
				a.logger.Debug().Err(err).Str("collaborator", "commentary").Str("title", title).Msg("skipping similar movie commentary")
				return nil
			}
			if len(texts) == 0 {
				return nil
			}
			summary, err := a.analyze(ctx, texts)
			if err != nil {
				a.logger.Debug().Err(err).Str("collaborator", "analysis").Str("title", title).Msg("skipping similar movie analysis")
				return nil
			}
			analyses[i] = &summary
			return nil
		})
	}
	_ = g.Wait()
	return mainAnalysis, analyses
}

// Affirmative keeps the context verbatim and asks for a different angle.
func (a *Assembler) Affirmative(prior movie.Context) Assembly {
	return Assembly{Template: TemplateDeeper, Context: prior.Clone()}
}

// More fetches genre-matched titles and replaces AdditionalRecommendations
// with them. A failed lookup yields an empty batch.
func (a *Assembler) More(ctx context.Context, prior movie.Context) Assembly {
	c := prior.Clone()
	batch := movie.NewRecommendations()

	genreIDs := catalog.GenreIDs(c.MovieDetails.Genres)
	if len(genreIDs) > 0 {
		callCtx, cancel := context.WithTimeout(ctx, a.opts.CallTimeout)
		start := time.Now()
		found, err := a.catalog.DiscoverByGenres(callCtx, genreIDs, c.MovieDetails.ID, a.opts.DiscoverLimit)
		cancel()
		a.observer.ObserveTurnStage("catalog_lookup", time.Since(start))
		if err != nil {
			a.observer.ObserveUpstreamError("catalog")
			a.logger.Warn().Err(err).Str("collaborator", "catalog").Ints("genre_ids", genreIDs).Msg("genre discovery failed")
		}
		for _, r := range found {
			if r.ID == c.MovieDetails.ID {
				continue
			}
			batch.Set(r.Title, movie.RecommendationFrom(r))
		}
	}
	c.AdditionalRecommendations = &batch
	fresh := batch.Clone()
	return Assembly{Template: TemplateGenreSteered, Context: c, Fresh: &fresh}
}

// Question recalls the stored contexts closest to the utterance, leaving out
// the main movie which is already in context.
func (a *Assembler) Question(ctx context.Context, prior movie.Context, utterance string) Assembly {
	callCtx, cancel := context.WithTimeout(ctx, a.opts.CallTimeout)
	defer cancel()

	start := time.Now()
	hits, err := a.knowledge.Search(callCtx, utterance, a.opts.SearchK)
	a.observer.ObserveTurnStage("knowledge_search", time.Since(start))
	if err != nil {
		a.observer.ObserveUpstreamError("knowledge")
		a.logger.Warn().Err(err).Str("collaborator", "knowledge").Msg("knowledge search failed")
		hits = nil
	}
	relevant := make([]knowledge.Entry, 0, len(hits))
	for _, h := range hits {
		if strings.EqualFold(h.Title, prior.MainMovie) {
			continue
		}
		relevant = append(relevant, h)
	}
	return Assembly{Template: TemplateFollowUp, Context: prior.Clone(), Relevant: relevant}
}

func (a *Assembler) lookup(ctx context.Context, title string) (movie.Record, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, a.opts.CallTimeout)
	defer cancel()
	return a.catalog.Search(ctx, title)
}

func (a *Assembler) details(ctx context.Context, id int) (movie.Record, error) {
	ctx, cancel := context.WithTimeout(ctx, a.opts.CallTimeout)
	defer cancel()
	return a.catalog.Details(ctx, id)
}

func (a *Assembler) similar(ctx context.Context, id int) ([]movie.Record, error) {
	ctx, cancel := context.WithTimeout(ctx, a.opts.CallTimeout)
	defer cancel()
	recs, err := a.catalog.Similar(ctx, id, a.opts.SimilarLimit)
	if len(recs) > a.opts.SimilarLimit {
		recs = recs[:a.opts.SimilarLimit]
	}
	return recs, err
}

func (a *Assembler) fetchCommentary(ctx context.Context, title string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, a.opts.CallTimeout)
	defer cancel()
	texts, err := a.commentary.Fetch(ctx, title, a.opts.CommentaryLimit)
	if err != nil {
		a.observer.ObserveUpstreamError("commentary")
	}
	return texts, err
}

func (a *Assembler) analyze(ctx context.Context, texts []string) (movie.OpinionSummary, error) {
	ctx, cancel := context.WithTimeout(ctx, a.opts.CallTimeout)
	defer cancel()
	summary, err := a.analyzer.Analyze(ctx, texts)
	if err != nil && errors.Is(err, analysis.ErrAnalysisUnavailable) {
		a.observer.ObserveUpstreamError("analysis")
	}
	return summary, err
}
