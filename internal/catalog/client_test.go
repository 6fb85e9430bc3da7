package catalog

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const detailsTemplate = `{
	"id": %d, "title": %q, "overview": "overview %d",
	"genres": [{"id": 878, "name": "Science Fiction"}, {"id": 28, "name": "Action"}],
	"release_date": "2010-07-15", "vote_average": 8.4,
	"credits": {
		"cast": [{"name":"A"},{"name":"B"},{"name":"C"},{"name":"D"},{"name":"E"},{"name":"F"}],
		"crew": [{"name":"Someone","job":"Producer"},{"name":"Christopher Nolan","job":"Director"}]
	},
	"keywords": {"keywords": [{"name":"dream"},{"name":"heist"}]}
}`

type fakeTMDB struct {
	hits        atomic.Int32
	failDetails map[int]bool
	lastQuery   atomic.Value
}

func (f *fakeTMDB) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/search/movie", func(w http.ResponseWriter, r *http.Request) {
		f.hits.Add(1)
		f.lastQuery.Store(r.URL.RawQuery)
		if r.URL.Query().Get("query") == "nothing" {
			_, _ = w.Write([]byte(`{"results":[]}`))
			return
		}
		_, _ = w.Write([]byte(`{"results":[{"id":27205,"title":"Inception","overview":"dreams","genre_ids":[878,28],"release_date":"2010-07-15","vote_average":8.4}]}`))
	})
	mux.HandleFunc("/movie/", func(w http.ResponseWriter, r *http.Request) {
		f.hits.Add(1)
		rest := strings.TrimPrefix(r.URL.Path, "/movie/")
		parts := strings.Split(rest, "/")
		var id int
		_, _ = fmt.Sscanf(parts[0], "%d", &id)
		switch {
		case len(parts) == 2 && parts[1] == "similar":
			_, _ = w.Write([]byte(`{"results":[{"id":1,"title":"One"},{"id":2,"title":"Two","genre_ids":[18]},{"id":3,"title":"Three"}]}`))
		case len(parts) == 2 && parts[1] == "reviews":
			_, _ = w.Write([]byte(`{"results":[{"author":"a","content":"great","author_details":{"rating":9}},{"author":"b","content":"meh","author_details":{"rating":null}},{"author":"c","content":"ok"}]}`))
		case id == 404:
			http.Error(w, `{"status_message":"not found"}`, http.StatusNotFound)
		case f.failDetails[id]:
			http.Error(w, "boom", http.StatusInternalServerError)
		default:
			assert.Equal(t, "credits,keywords", r.URL.Query().Get("append_to_response"))
			_, _ = fmt.Fprintf(w, detailsTemplate, id, fmt.Sprintf("Movie %d", id), id)
		}
	})
	mux.HandleFunc("/discover/movie", func(w http.ResponseWriter, r *http.Request) {
		f.hits.Add(1)
		f.lastQuery.Store(r.URL.RawQuery)
		_, _ = w.Write([]byte(`{"results":[{"id":27205},{"id":11},{"id":12},{"id":13},{"id":14}]}`))
	})
	return mux
}

func newTestClient(t *testing.T, f *fakeTMDB, cache Cache) *Client {
	t.Helper()
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)
	c := New(Config{BaseURL: srv.URL, APIKey: "key", Cache: cache}, zerolog.Nop())
	c.backoff = time.Millisecond
	return c
}

func TestSearchReturnsFirstResult(t *testing.T) {
	f := &fakeTMDB{}
	c := newTestClient(t, f, nil)

	rec, ok, err := c.Search(context.Background(), "Inception")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 27205, rec.ID)
	assert.Equal(t, []string{"Science Fiction", "Action"}, rec.Genres)
	assert.Contains(t, f.lastQuery.Load().(string), "api_key=key")

	_, ok, err = c.Search(context.Background(), "nothing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDetailsIncludesCreditsAndKeywords(t *testing.T) {
	c := newTestClient(t, &fakeTMDB{}, nil)
	rec, err := c.Details(context.Background(), 27205)
	require.NoError(t, err)
	assert.Equal(t, "Christopher Nolan", rec.Director)
	assert.Equal(t, []string{"A", "B", "C", "D", "E"}, rec.Cast)
	assert.Equal(t, []string{"dream", "heist"}, rec.Keywords)
	assert.Equal(t, "2010", rec.Year())
}

func TestDetailsNotFound(t *testing.T) {
	c := newTestClient(t, &fakeTMDB{}, nil)
	_, err := c.Details(context.Background(), 404)
	require.ErrorIs(t, err, ErrNotFound)
	assert.False(t, errors.Is(err, ErrUpstream))
}

func TestSimilarFallsBackToListingFields(t *testing.T) {
	c := newTestClient(t, &fakeTMDB{failDetails: map[int]bool{2: true}}, nil)
	recs, err := c.Similar(context.Background(), 27205, 2)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "Movie 1", recs[0].Title)
	assert.Equal(t, "Two", recs[1].Title)
	assert.Equal(t, []string{"Drama"}, recs[1].Genres)
}

func TestDiscoverExcludesMainAndCaps(t *testing.T) {
	f := &fakeTMDB{}
	c := newTestClient(t, f, nil)
	recs, err := c.DiscoverByGenres(context.Background(), []int{878, 28}, 27205, 3)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	for i, want := range []int{11, 12, 13} {
		assert.Equal(t, want, recs[i].ID)
	}
	q := f.lastQuery.Load().(string)
	assert.Contains(t, q, "sort_by=vote_average.desc")
	assert.Contains(t, q, "with_genres=878%2C28")

	recs, err = c.DiscoverByGenres(context.Background(), nil, 27205, 3)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestReviewsLimit(t *testing.T) {
	c := newTestClient(t, &fakeTMDB{}, nil)
	reviews, err := c.Reviews(context.Background(), 27205, 2)
	require.NoError(t, err)
	require.Len(t, reviews, 2)
	require.NotNil(t, reviews[0].Rating)
	assert.InDelta(t, 9, *reviews[0].Rating, 0.001)
	assert.Nil(t, reviews[1].Rating)
}

func TestServerErrorIsUpstreamAfterRetry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	c := New(Config{BaseURL: srv.URL}, zerolog.Nop())
	c.backoff = time.Millisecond

	_, _, err := c.Search(context.Background(), "Inception")
	require.ErrorIs(t, err, ErrUpstream)
	assert.EqualValues(t, maxAttempts, calls.Load())
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()
	c := New(Config{BaseURL: srv.URL}, zerolog.Nop())
	c.backoff = time.Millisecond

	for i := 0; i < 5; i++ {
		_, _ = c.Details(context.Background(), i+1)
	}
	before := calls.Load()
	_, err := c.Details(context.Background(), 99)
	require.ErrorIs(t, err, ErrUpstream)
	assert.Equal(t, before, calls.Load())
}

func TestCacheServesRepeatedRequests(t *testing.T) {
	cache, err := OpenBadgerCache("", time.Minute, zerolog.Nop())
	require.NoError(t, err)
	defer cache.Close()

	f := &fakeTMDB{}
	c := newTestClient(t, f, cache)
	_, err = c.Details(context.Background(), 27205)
	require.NoError(t, err)
	rec, err := c.Details(context.Background(), 27205)
	require.NoError(t, err)
	assert.Equal(t, "Christopher Nolan", rec.Director)
	assert.EqualValues(t, 1, f.hits.Load())
}

func TestGenreLookup(t *testing.T) {
	id, ok := GenreID("science FICTION")
	require.True(t, ok)
	assert.Equal(t, 878, id)

	assert.Equal(t, []int{28, 18}, GenreIDs([]string{"Action", "Made Up", "drama", "ACTION"}))
	name, ok := GenreName(10770)
	require.True(t, ok)
	assert.Equal(t, "TV Movie", name)
	assert.Len(t, KnownGenres(), 19)
}

func TestCacheKeyIgnoresParamOrder(t *testing.T) {
	a := cacheKey("/x", map[string][]string{"b": {"2"}, "a": {"1"}})
	b := cacheKey("/x", map[string][]string{"a": {"1"}, "b": {"2"}})
	assert.Equal(t, a, b)
	assert.Equal(t, "tmdb:/x", cacheKey("/x", nil))
}
