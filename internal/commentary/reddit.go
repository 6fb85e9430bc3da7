package commentary

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	DefaultRedditBaseURL = "https://www.reddit.com"
	DefaultUserAgent     = "cinemate/0.1 (movie recommendation assistant)"
	DefaultLimit         = 10

	redditPosts           = 5
	redditCommentsPerPost = 5
)

type RedditConfig struct {
	BaseURL   string
	UserAgent string
	Timeout   time.Duration
	// RateLimit is requests per second; zero means 1.
	RateLimit float64
}

// Reddit reads r/movies through its public RSS feeds: a title search, then
// the first comments of the top posts.
type Reddit struct {
	baseURL   string
	userAgent string
	http      *http.Client
	parser    *gofeed.Parser
	limiter   *rate.Limiter
	logger    zerolog.Logger
}

func NewReddit(cfg RedditConfig, logger zerolog.Logger) *Reddit {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = DefaultRedditBaseURL
	}
	ua := strings.TrimSpace(cfg.UserAgent)
	if ua == "" {
		ua = DefaultUserAgent
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	rps := cfg.RateLimit
	if rps <= 0 {
		rps = 1
	}
	return &Reddit{
		baseURL:   base,
		userAgent: ua,
		http:      &http.Client{Timeout: timeout},
		parser:    gofeed.NewParser(),
		limiter:   rate.NewLimiter(rate.Limit(rps), 3),
		logger:    logger.With().Str("component", "reddit").Logger(),
	}
}

func (r *Reddit) Fetch(ctx context.Context, title string, limit int) ([]string, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return []string{}, nil
	}
	if limit <= 0 {
		limit = DefaultLimit
	}

	q := url.Values{
		"q":           {fmt.Sprintf("title:%q", title)},
		"restrict_sr": {"on"},
		"sort":        {"relevance"},
		"limit":       {fmt.Sprint(limit)},
	}
	search, err := r.feed(ctx, r.baseURL+"/r/movies/search.rss?"+q.Encode())
	if err != nil {
		return nil, fmt.Errorf("reddit search %q: %w", title, err)
	}

	out := []string{}
	for i, post := range search.Items {
		if i >= redditPosts || len(out) >= limit {
			break
		}
		link := r.localize(post.Link)
		if link == "" {
			continue
		}
		comments, err := r.comments(ctx, link)
		if err != nil {
			if ctx.Err() != nil {
				return out, nil
			}
			r.logger.Debug().Err(err).Str("post", link).Msg("skipping post comments")
			continue
		}
		for _, c := range comments {
			if len(out) >= limit {
				break
			}
			out = append(out, c)
		}
	}
	return out, nil
}

// comments returns the first top-level comment texts of a post. The post
// itself is the first entry of its comment feed and is skipped.
func (r *Reddit) comments(ctx context.Context, postURL string) ([]string, error) {
	u := strings.TrimRight(postURL, "/") + "/.rss?limit=" + fmt.Sprint(redditCommentsPerPost+1)
	feed, err := r.feed(ctx, u)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, redditCommentsPerPost)
	for i, item := range feed.Items {
		if i == 0 {
			continue
		}
		if len(out) >= redditCommentsPerPost {
			break
		}
		body := item.Content
		if body == "" {
			body = item.Description
		}
		text := htmlText(body)
		if len(text) < MinCommentLength {
			continue
		}
		out = append(out, text)
	}
	return out, nil
}

func (r *Reddit) feed(ctx context.Context, feedURL string) (*gofeed.Feed, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", r.userAgent)

	resp, err := r.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		msg := strings.TrimSpace(string(b))
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, fmt.Errorf("status=%d: %s", resp.StatusCode, msg)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 5*1024*1024))
	if err != nil {
		return nil, err
	}
	return r.parser.Parse(bytes.NewReader(body))
}

// localize points a reddit.com permalink at the configured base URL.
func (r *Reddit) localize(link string) string {
	link = strings.TrimSpace(link)
	if link == "" {
		return ""
	}
	u, err := url.Parse(link)
	if err != nil || u.Path == "" {
		return ""
	}
	return r.baseURL + u.Path
}
