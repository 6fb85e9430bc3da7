// Package app wires configuration into a running conversation service.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/ent0n29/cinemate/internal/analysis"
	"github.com/ent0n29/cinemate/internal/catalog"
	"github.com/ent0n29/cinemate/internal/chat"
	"github.com/ent0n29/cinemate/internal/commentary"
	"github.com/ent0n29/cinemate/internal/config"
	"github.com/ent0n29/cinemate/internal/convstore"
	"github.com/ent0n29/cinemate/internal/embedding"
	"github.com/ent0n29/cinemate/internal/httpapi"
	"github.com/ent0n29/cinemate/internal/knowledge"
	"github.com/ent0n29/cinemate/internal/llm"
	"github.com/ent0n29/cinemate/internal/observability"
	"github.com/ent0n29/cinemate/internal/session"
)

type BuildResult struct {
	Config        config.Config
	API           *httpapi.Server
	Sessions      *session.Manager
	Engine        *chat.Engine
	Knowledge     *knowledge.Store
	Conversations convstore.Store
	Metrics       *observability.Metrics

	// Cleanup should be called on shutdown to release external resources (DB, cache).
	Cleanup func() error
}

// Build assembles the service and registers its metrics on the default
// Prometheus registry. Call it once per process.
func Build(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*BuildResult, error) {
	return build(ctx, cfg, logger, prometheus.DefaultRegisterer)
}

func build(ctx context.Context, cfg config.Config, logger zerolog.Logger, reg prometheus.Registerer) (*BuildResult, error) {
	metrics := observability.NewMetricsWith(reg, cfg.MetricsNamespace)

	var closers []func() error
	fail := func(err error) (*BuildResult, error) {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i]()
		}
		return nil, err
	}

	cache, err := catalog.OpenBadgerCache(cfg.TMDBCacheDir, cfg.TMDBCacheTTL, logger)
	if err != nil {
		return fail(fmt.Errorf("catalog cache init failed: %w", err))
	}
	closers = append(closers, cache.Close)

	movies := catalog.New(catalog.Config{
		BaseURL:   cfg.TMDBBaseURL,
		APIKey:    cfg.TMDBAPIKey,
		Timeout:   cfg.UpstreamTimeout,
		RateLimit: cfg.TMDBRateLimit,
		Cache:     cache,
	}, logger)

	sources := commentary.NewMulti(logger,
		commentary.Named{Name: "tmdb_reviews", Fetcher: commentary.NewTMDBReviews(movies, cfg.ReviewLimit)},
		commentary.Named{Name: "reddit", Fetcher: commentary.NewReddit(commentary.RedditConfig{
			BaseURL:   cfg.RedditBaseURL,
			UserAgent: cfg.RedditUserAgent,
			Timeout:   cfg.UpstreamTimeout,
			RateLimit: cfg.RedditRateLimit,
		}, logger)},
	)

	generator, err := llm.New(llm.Config{
		Mode:         cfg.LLMMode,
		BaseURL:      cfg.LLMBaseURL,
		APIKey:       cfg.LLMAPIKey,
		Model:        cfg.LLMModel,
		HTTPURL:      cfg.LLMHTTPURL,
		Timeout:      cfg.UpstreamTimeout,
		StrictSchema: cfg.LLMStrictSchema,
		Fallback:     cfg.LLMFallback,
	})
	if err != nil {
		return fail(fmt.Errorf("llm init failed: %w", err))
	}
	logger.Info().Str("generator", fmt.Sprintf("%T", primaryGenerator(generator))).Msg("language model ready")

	analyzer := analysis.New(generator, analysis.Options{
		Temperature: float32(cfg.AnalysisTemperature),
	}, logger)

	embedder, err := embedding.New(embedding.Config{
		Mode:    cfg.EmbeddingMode,
		BaseURL: cfg.EmbeddingBaseURL,
		APIKey:  cfg.EmbeddingAPIKey,
		Model:   cfg.EmbeddingModel,
		Dim:     cfg.EmbeddingDim,
		Timeout: cfg.UpstreamTimeout,
	})
	if err != nil {
		return fail(fmt.Errorf("embedding init failed: %w", err))
	}

	kb, err := knowledge.Open(cfg.KnowledgeDir, embedder, logger)
	if err != nil {
		return fail(fmt.Errorf("knowledge store init failed: %w", err))
	}
	metrics.RegisterKnowledgeGauge(reg, cfg.MetricsNamespace, kb.Len)

	assembler := chat.NewAssembler(movies, sources, analyzer, kb, chat.AssemblerOptions{
		SimilarLimit:    cfg.SimilarLimit,
		CommentaryLimit: cfg.CommentaryLimit,
		CallTimeout:     cfg.UpstreamTimeout,
	}, metrics, logger)
	responder := chat.NewResponder(generator, float32(cfg.LLMTemperature), cfg.UpstreamTimeout)
	engine := chat.NewEngine(chat.KeywordRouter{}, assembler, responder, metrics, logger)

	conversations, err := convstore.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return fail(fmt.Errorf("conversation store init failed: %w", err))
	}
	closers = append(closers, conversations.Close)

	sessions := session.NewManager(cfg.SessionInactivityTimeout)
	sessions.SetExpireHook(func(s *session.Session) {
		metrics.SessionEvents.WithLabelValues("expired").Inc()
		metrics.ActiveSessions.Set(float64(sessions.ActiveCount()))
		clearCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := conversations.SaveContext(clearCtx, s.ID, nil); err != nil {
			logger.Warn().Err(err).Str("session_id", s.ID).Msg("clear expired session context failed")
		}
	})

	api := httpapi.New(cfg, sessions, engine, conversations, kb, metrics, logger)

	cleanup := func() error {
		var errs []error
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}

	return &BuildResult{
		Config:        cfg,
		API:           api,
		Sessions:      sessions,
		Engine:        engine,
		Knowledge:     kb,
		Conversations: conversations,
		Metrics:       metrics,
		Cleanup:       cleanup,
	}, nil
}

func primaryGenerator(g llm.Generator) llm.Generator {
	if fb, ok := g.(*llm.FallbackGenerator); ok {
		return fb.Primary()
	}
	return g
}
