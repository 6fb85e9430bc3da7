// Package knowledge is the shared, append-only semantic memory of every movie
// the assistant has researched.
package knowledge

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ent0n29/cinemate/internal/embedding"
	"github.com/ent0n29/cinemate/internal/movie"
	"github.com/ent0n29/cinemate/internal/vectorindex"
)

// Entry is a stored movie context as returned by lookups.
type Entry struct {
	Slot     int
	Title    string
	Context  movie.Context
	Distance float32
}

// Store embeds movie contexts into a vector index and persists the index
// after every add. Adds are serialized; searches run concurrently with each
// other but never observe a half-applied add.
type Store struct {
	mu       sync.RWMutex
	index    *vectorindex.Index
	embedder embedding.Embedder
	dir      string
	logger   zerolog.Logger
}

// Open restores the snapshot in dir (empty when absent). An empty dir keeps
// the store in memory only.
func Open(dir string, embedder embedding.Embedder, logger zerolog.Logger) (*Store, error) {
	ix := vectorindex.New(embedder.Dim())
	if strings.TrimSpace(dir) != "" {
		var err error
		ix, err = vectorindex.Load(dir, embedder.Dim())
		if err != nil {
			return nil, fmt.Errorf("restore knowledge snapshot: %w", err)
		}
	}
	logger = logger.With().Str("component", "knowledge").Logger()
	logger.Info().Int("records", ix.Len()).Str("dir", dir).Msg("knowledge store ready")
	return &Store{
		index:    ix,
		embedder: embedder,
		dir:      dir,
		logger:   logger,
	}, nil
}

// Add stores c under title and returns its slot. The snapshot is written
// before Add returns; if that write fails the add is rolled back.
func (s *Store) Add(ctx context.Context, title string, c movie.Context) (int, error) {
	vec, err := s.embedder.Embed(ctx, Document(title, c))
	if err != nil {
		return 0, fmt.Errorf("embed %q: %w", title, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	slot, err := s.index.Add(vec)
	if err != nil {
		return 0, fmt.Errorf("index %q: %w", title, err)
	}
	if err := s.index.SetRecord(vectorindex.Record{Slot: slot, Title: title, Context: c.Clone()}); err != nil {
		s.index.Truncate(slot)
		return 0, err
	}
	if s.dir != "" {
		if err := s.index.Save(s.dir); err != nil {
			s.index.Truncate(slot)
			return 0, fmt.Errorf("persist knowledge snapshot: %w", err)
		}
	}
	s.logger.Debug().Int("slot", slot).Str("title", title).Msg("knowledge record added")
	return slot, nil
}

// Search returns up to k stored contexts closest to query, best first. Slots
// without a record are skipped.
func (s *Store) Search(ctx context.Context, query string, k int) ([]Entry, error) {
	if k <= 0 {
		return nil, nil
	}
	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	hits, err := s.index.Search(vec, k)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(hits))
	for _, h := range hits {
		rec, ok := s.index.Record(h.Slot)
		if !ok {
			s.logger.Warn().Int("slot", h.Slot).Msg("search hit has no record; skipping")
			continue
		}
		out = append(out, Entry{Slot: rec.Slot, Title: rec.Title, Context: rec.Context.Clone(), Distance: h.Distance})
	}
	return out, nil
}

// FindByTitle returns the first record, in slot order, whose title matches
// case-insensitively.
func (s *Store) FindByTitle(title string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, rec := range s.index.Records() {
		if strings.EqualFold(rec.Title, title) {
			return Entry{Slot: rec.Slot, Title: rec.Title, Context: rec.Context.Clone()}, true
		}
	}
	return Entry{}, false
}

// Len is the number of stored vectors.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index.Len()
}

// Document renders the text that gets embedded for a movie context: title,
// main opinion, then each similar movie in insertion order.
func Document(title string, c movie.Context) string {
	var b strings.Builder
	b.WriteString(title)
	b.WriteString(". ")
	if c.MovieDetails.Overview != "" {
		b.WriteString(c.MovieDetails.Overview)
		b.WriteString(" ")
	}
	if len(c.MovieDetails.Genres) > 0 {
		fmt.Fprintf(&b, "Genres: %s. ", strings.Join(c.MovieDetails.Genres, ", "))
	}
	if text := c.MainAnalysis.Text(); text != "" {
		b.WriteString(text)
		b.WriteString(" ")
	}
	c.SimilarMovies.Each(func(similar string, rec movie.Recommendation) {
		fmt.Fprintf(&b, "Similar movie %s: %s", similar, rec.Overview)
		if rec.Analysis != nil {
			b.WriteString(" ")
			b.WriteString(rec.Analysis.Text())
		}
		b.WriteString(". ")
	})
	return strings.TrimSpace(b.String())
}
