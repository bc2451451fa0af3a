// Package content is the content enrichment client: long-form encyclopedia
// text from a MediaWiki site and user reviews from the metadata API. Both
// lookups are best-effort; "nothing found" is an empty result, not an error.
package content

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/tbourn/go-movie-chat/internal/config"
	"github.com/tbourn/go-movie-chat/internal/observability"
	"github.com/tbourn/go-movie-chat/internal/tmdb"
)

// ReviewSource finds a movie by title and lists its reviews.
type ReviewSource interface {
	SearchMovies(ctx context.Context, query string, year int) ([]tmdb.SearchResult, error)
	Reviews(ctx context.Context, id int64, limit int) ([]string, error)
}

// Client fetches documents and reviews. It is safe for concurrent use.
type Client struct {
	wikiURL    string
	maxReviews int
	timeout    time.Duration

	http    *http.Client
	reviews ReviewSource
	breaker *observability.Breaker
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.http = h
		}
	}
}

// WithBreaker replaces the circuit breaker. Passing nil disables it.
func WithBreaker(b *observability.Breaker) Option {
	return func(c *Client) { c.breaker = b }
}

// New builds a client. reviews may be nil, in which case Reviews always
// returns an empty list.
func New(cfg config.ContentConfig, reviews ReviewSource, opts ...Option) *Client {
	wiki := cfg.WikiBaseURL
	if wiki == "" {
		wiki = "https://ko.wikipedia.org/w/api.php"
	}
	c := &Client{
		wikiURL:    wiki,
		maxReviews: cfg.MaxReviews,
		timeout:    cfg.Timeout,
		http:       &http.Client{Timeout: cfg.Timeout},
		reviews:    reviews,
		breaker:    observability.NewBreaker("wiki", 30*time.Second),
	}
	if c.maxReviews <= 0 {
		c.maxReviews = 20
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type extractsResponse struct {
	Query struct {
		Pages []struct {
			Title   string `json:"title"`
			Extract string `json:"extract"`
			Missing bool   `json:"missing"`
		} `json:"pages"`
	} `json:"query"`
}

// LongDocument returns the plain-text article for title, following
// redirects. A missing page yields "" and no error.
func (c *Client) LongDocument(ctx context.Context, title string) (string, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return "", nil
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	q := url.Values{}
	q.Set("action", "query")
	q.Set("prop", "extracts")
	q.Set("explaintext", "1")
	q.Set("redirects", "1")
	q.Set("format", "json")
	q.Set("formatversion", "2")
	q.Set("titles", title)

	body, err := observability.Execute(c.breaker, func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.wikiURL+"?"+q.Encode(), nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", "go-movie-chat/1.0")
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, fmt.Errorf("wiki: status %d", resp.StatusCode)
		}
		return io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	})
	if err != nil {
		return "", err
	}

	var decoded extractsResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return "", fmt.Errorf("wiki: decode: %w", err)
	}
	for _, p := range decoded.Query.Pages {
		if !p.Missing && strings.TrimSpace(p.Extract) != "" {
			return p.Extract, nil
		}
	}
	return "", nil
}

// Reviews returns up to limit review texts for the movie best matching
// title. A non-positive limit uses the configured maximum.
func (c *Client) Reviews(ctx context.Context, title string, limit int) ([]string, error) {
	if c.reviews == nil || strings.TrimSpace(title) == "" {
		return nil, nil
	}
	if limit <= 0 || limit > c.maxReviews {
		limit = c.maxReviews
	}
	hits, err := c.reviews.SearchMovies(ctx, title, 0)
	if err != nil {
		if errors.Is(err, tmdb.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if len(hits) == 0 {
		return nil, nil
	}
	return c.reviews.Reviews(ctx, hits[0].ID, limit)
}

// ReviewsByID lists reviews when the external id is already known.
func (c *Client) ReviewsByID(ctx context.Context, id int64, limit int) ([]string, error) {
	if c.reviews == nil || id == 0 {
		return nil, nil
	}
	if limit <= 0 || limit > c.maxReviews {
		limit = c.maxReviews
	}
	out, err := c.reviews.Reviews(ctx, id, limit)
	if errors.Is(err, tmdb.ErrNotFound) {
		return nil, nil
	}
	return out, err
}
