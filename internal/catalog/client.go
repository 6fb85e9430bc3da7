// Package catalog is the TMDB movie metadata client: title search, details
// with credits and keywords, similar titles, genre discovery and reviews.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/ent0n29/cinemate/internal/movie"
	"github.com/ent0n29/cinemate/internal/reliability"
)

var (
	// ErrUpstream marks a failed or unavailable catalog call. Callers degrade
	// rather than retry.
	ErrUpstream = errors.New("catalog upstream failure")
	// ErrNotFound is a 404 from the catalog for a specific id.
	ErrNotFound = errors.New("catalog resource not found")
)

const (
	DefaultBaseURL      = "https://api.themoviedb.org/3"
	DefaultSimilarLimit = 5
	DiscoverLimit       = 3
	castLimit           = 5
	maxAttempts         = 2
)

type Config struct {
	BaseURL   string
	APIKey    string
	Timeout   time.Duration
	RateLimit float64
	Burst     int
	Cache     Cache
}

// Client talks to the TMDB v3 API. Every GET is paced by a token bucket and
// guarded by a circuit breaker; successful bodies are cached when a Cache is
// configured.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[[]byte]
	cache   Cache
	logger  zerolog.Logger
	backoff time.Duration
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("tmdb http status %d: %s", e.code, e.body)
}

func New(cfg Config, logger zerolog.Logger) *Client {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 5
	}
	logger = logger.With().Str("component", "catalog").Logger()

	breaker := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "tmdb",
		MaxRequests: 2,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// Client errors (bad id, bad key) say nothing about upstream health.
		IsSuccessful: func(err error) bool {
			var se *statusError
			if errors.As(err, &se) {
				return !reliability.IsRetryableHTTPStatus(se.code)
			}
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
		},
	})

	return &Client{
		baseURL: base,
		apiKey:  strings.TrimSpace(cfg.APIKey),
		http:    &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(limit, burst),
		breaker: breaker,
		cache:   cfg.Cache,
		logger:  logger,
		backoff: 250 * time.Millisecond,
	}
}

type tmdbGenre struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

type tmdbMovie struct {
	ID          int         `json:"id"`
	Title       string      `json:"title"`
	Overview    string      `json:"overview"`
	GenreIDs    []int       `json:"genre_ids"`
	Genres      []tmdbGenre `json:"genres"`
	ReleaseDate string      `json:"release_date"`
	VoteAverage float64     `json:"vote_average"`
	Credits     struct {
		Cast []struct {
			Name string `json:"name"`
		} `json:"cast"`
		Crew []struct {
			Name string `json:"name"`
			Job  string `json:"job"`
		} `json:"crew"`
	} `json:"credits"`
	Keywords struct {
		Keywords []struct {
			Name string `json:"name"`
		} `json:"keywords"`
	} `json:"keywords"`
}

type tmdbPage struct {
	Results []tmdbMovie `json:"results"`
}

func (m tmdbMovie) record() movie.Record {
	r := movie.Record{
		ID:          m.ID,
		Title:       m.Title,
		Overview:    m.Overview,
		ReleaseDate: m.ReleaseDate,
		VoteAverage: m.VoteAverage,
		Genres:      []string{},
	}
	if len(m.Genres) > 0 {
		for _, g := range m.Genres {
			r.Genres = append(r.Genres, g.Name)
		}
	} else {
		for _, id := range m.GenreIDs {
			if name, ok := GenreName(id); ok {
				r.Genres = append(r.Genres, name)
			}
		}
	}
	for _, c := range m.Credits.Crew {
		if c.Job == "Director" {
			r.Director = c.Name
			break
		}
	}
	for i, c := range m.Credits.Cast {
		if i >= castLimit {
			break
		}
		r.Cast = append(r.Cast, c.Name)
	}
	for _, k := range m.Keywords.Keywords {
		r.Keywords = append(r.Keywords, k.Name)
	}
	return r
}

// Search returns the best match for query. ok is false when TMDB has no match.
func (c *Client) Search(ctx context.Context, query string) (movie.Record, bool, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return movie.Record{}, false, nil
	}
	var page tmdbPage
	if err := c.get(ctx, "/search/movie", url.Values{"query": {query}}, &page); err != nil {
		return movie.Record{}, false, err
	}
	if len(page.Results) == 0 {
		return movie.Record{}, false, nil
	}
	return page.Results[0].record(), true, nil
}

// Details fetches the full record, including director, top cast and keywords.
func (c *Client) Details(ctx context.Context, id int) (movie.Record, error) {
	var m tmdbMovie
	path := "/movie/" + strconv.Itoa(id)
	if err := c.get(ctx, path, url.Values{"append_to_response": {"credits,keywords"}}, &m); err != nil {
		return movie.Record{}, err
	}
	return m.record(), nil
}

// Similar returns up to limit similar movies with full details. A movie whose
// details cannot be fetched keeps the summary fields from the listing.
func (c *Client) Similar(ctx context.Context, id, limit int) ([]movie.Record, error) {
	if limit <= 0 {
		limit = DefaultSimilarLimit
	}
	var page tmdbPage
	if err := c.get(ctx, "/movie/"+strconv.Itoa(id)+"/similar", nil, &page); err != nil {
		return nil, err
	}
	return c.expand(ctx, page.Results, 0, limit), nil
}

// DiscoverByGenres returns up to limit of the best-rated movies in any of
// genreIDs, skipping excludeID.
func (c *Client) DiscoverByGenres(ctx context.Context, genreIDs []int, excludeID, limit int) ([]movie.Record, error) {
	if len(genreIDs) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = DiscoverLimit
	}
	ids := make([]string, len(genreIDs))
	for i, g := range genreIDs {
		ids[i] = strconv.Itoa(g)
	}
	params := url.Values{
		"with_genres": {strings.Join(ids, ",")},
		"sort_by":     {"vote_average.desc"},
	}
	var page tmdbPage
	if err := c.get(ctx, "/discover/movie", params, &page); err != nil {
		return nil, err
	}
	return c.expand(ctx, page.Results, excludeID, limit), nil
}

func (c *Client) expand(ctx context.Context, listing []tmdbMovie, excludeID, limit int) []movie.Record {
	out := make([]movie.Record, 0, limit)
	for _, m := range listing {
		if len(out) >= limit {
			break
		}
		if excludeID != 0 && m.ID == excludeID {
			continue
		}
		rec, err := c.Details(ctx, m.ID)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			c.logger.Debug().Err(err).Int("movie_id", m.ID).Msg("details unavailable; using listing fields")
			rec = m.record()
		}
		out = append(out, rec)
	}
	return out
}

// Review is one TMDB user review.
type Review struct {
	Author    string
	Content   string
	Rating    *float64
	CreatedAt string
}

// Reviews returns up to limit reviews for a movie id.
func (c *Client) Reviews(ctx context.Context, id, limit int) ([]Review, error) {
	var page struct {
		Results []struct {
			Author        string `json:"author"`
			Content       string `json:"content"`
			CreatedAt     string `json:"created_at"`
			AuthorDetails struct {
				Rating *float64 `json:"rating"`
			} `json:"author_details"`
		} `json:"results"`
	}
	params := url.Values{"language": {"en-US"}, "page": {"1"}}
	if err := c.get(ctx, "/movie/"+strconv.Itoa(id)+"/reviews", params, &page); err != nil {
		return nil, err
	}
	out := make([]Review, 0, limit)
	for _, r := range page.Results {
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, Review{
			Author:    r.Author,
			Content:   r.Content,
			Rating:    r.AuthorDetails.Rating,
			CreatedAt: r.CreatedAt,
		})
	}
	return out, nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	key := cacheKey(path, params)
	if c.cache != nil {
		if body, ok := c.cache.Get(key); ok {
			if err := json.Unmarshal(body, out); err == nil {
				return nil
			}
		}
	}

	var (
		body []byte
		err  error
	)
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("%w: %s: %w", ErrUpstream, path, ctx.Err())
			case <-time.After(reliability.ExponentialBackoff(attempt-1, c.backoff, 2*time.Second)):
			}
		}
		body, err = c.fetch(ctx, path, params)
		if err == nil || !retryable(err) {
			break
		}
	}
	if err != nil {
		var se *statusError
		if errors.As(err, &se) && se.code == http.StatusNotFound {
			return fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return fmt.Errorf("%w: %s: %w", ErrUpstream, path, err)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: decode %s: %w", ErrUpstream, path, err)
	}
	if c.cache != nil {
		c.cache.Set(key, body)
	}
	return nil
}

func (c *Client) fetch(ctx context.Context, path string, params url.Values) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return c.breaker.Execute(func() ([]byte, error) {
		q := url.Values{}
		for k, v := range params {
			q[k] = v
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
		if err != nil {
			return nil, err
		}
		if isBearerToken(c.apiKey) {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		} else if c.apiKey != "" {
			q.Set("api_key", c.apiKey)
		}
		req.URL.RawQuery = q.Encode()
		req.Header.Set("Accept", "application/json")

		res, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer res.Body.Close()

		if res.StatusCode < 200 || res.StatusCode >= 300 {
			msg, _ := io.ReadAll(io.LimitReader(res.Body, 1<<10))
			return nil, &statusError{code: res.StatusCode, body: strings.TrimSpace(string(msg))}
		}
		return io.ReadAll(io.LimitReader(res.Body, 8<<20))
	})
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return false
	}
	var se *statusError
	if errors.As(err, &se) {
		return reliability.IsRetryableHTTPStatus(se.code)
	}
	return true
}

// v4 read access tokens are JWTs; v3 keys are 32 hex characters.
func isBearerToken(key string) bool {
	return strings.Count(key, ".") == 2 && len(key) > 64
}

func cacheKey(path string, params url.Values) string {
	if len(params) == 0 {
		return "tmdb:" + path
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString("tmdb:")
	b.WriteString(path)
	b.WriteByte('?')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(strings.Join(params[k], ","))
	}
	return b.String()
}
