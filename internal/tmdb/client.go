// Package tmdb is the metadata lookup client. It talks to The Movie Database
// REST API (v3) and normalizes responses into domain.MovieMetadata; callers
// never see raw payloads.
//
// Every call goes through a client-side rate limiter (TMDB enforces informal
// per-IP limits) and a circuit breaker, and is bounded by the configured
// per-call timeout.
package tmdb

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/tbourn/go-movie-chat/internal/config"
	"github.com/tbourn/go-movie-chat/internal/domain"
	"github.com/tbourn/go-movie-chat/internal/observability"
)

// ErrNotFound is returned when TMDB has no movie for the request.
var ErrNotFound = errors.New("tmdb: not found")

// MaxCastOrder is the billing cutoff for cast members kept from credits.
const MaxCastOrder = 15

// Client is a TMDB API client. It is safe for concurrent use.
type Client struct {
	baseURL  string
	apiKey   string
	language string
	region   string
	timeout  time.Duration

	http    *http.Client
	limiter *rate.Limiter
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

// New builds a client from cfg.
func New(cfg config.TMDBConfig, opts ...Option) *Client {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = "https://api.themoviedb.org/3"
	}
	rps := cfg.RPS
	if rps <= 0 {
		rps = 20
	}
	c := &Client{
		baseURL:  base,
		apiKey:   cfg.APIKey,
		language: cfg.Language,
		region:   strings.ToUpper(cfg.Region),
		timeout:  cfg.Timeout,
		http:     &http.Client{Timeout: cfg.Timeout},
		limiter:  rate.NewLimiter(rate.Limit(rps), max(1, int(rps))),
		breaker:  observability.NewBreaker("tmdb", 30*time.Second),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// SearchResult is one hit of the search endpoint.
type SearchResult struct {
	ID          int64
	Title       string
	ReleaseDate string
	Popularity  float64
}

type searchResponse struct {
	Results []struct {
		ID          int64   `json:"id"`
		Title       string  `json:"title"`
		ReleaseDate string  `json:"release_date"`
		Popularity  float64 `json:"popularity"`
	} `json:"results"`
}

// SearchMovies searches movies by title. A positive year narrows the search
// to that release year.
func (c *Client) SearchMovies(ctx context.Context, query string, year int) ([]SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrNotFound
	}
	q := url.Values{}
	q.Set("query", query)
	q.Set("include_adult", "false")
	if year > 0 {
		q.Set("year", strconv.Itoa(year))
	}

	var resp searchResponse
	if err := c.get(ctx, "/search/movie", q, &resp); err != nil {
		return nil, err
	}
	out := make([]SearchResult, 0, len(resp.Results))
	for _, r := range resp.Results {
		out = append(out, SearchResult{ID: r.ID, Title: r.Title, ReleaseDate: r.ReleaseDate, Popularity: r.Popularity})
	}
	return out, nil
}

// Search returns the full metadata of the first search hit, or ErrNotFound.
// A year-filtered search that finds nothing is retried without the year,
// since extracted years are often off by one.
func (c *Client) Search(ctx context.Context, query string, year int) (*domain.MovieMetadata, error) {
	hits, err := c.SearchMovies(ctx, query, year)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 && year > 0 {
		if hits, err = c.SearchMovies(ctx, query, 0); err != nil {
			return nil, err
		}
	}
	if len(hits) == 0 {
		return nil, ErrNotFound
	}
	return c.MovieByID(ctx, hits[0].ID)
}

// MovieByID fetches details, credits, watch providers, external ids and
// videos of a movie in one request.
func (c *Client) MovieByID(ctx context.Context, id int64) (*domain.MovieMetadata, error) {
	q := url.Values{}
	q.Set("append_to_response", "credits,watch/providers,external_ids,videos")

	var d movieDetails
	if err := c.get(ctx, "/movie/"+strconv.FormatInt(id, 10), q, &d); err != nil {
		return nil, err
	}
	return d.toMetadata(c.region), nil
}

type reviewsResponse struct {
	Results []struct {
		Content string `json:"content"`
	} `json:"results"`
	TotalPages int `json:"total_pages"`
}

// Reviews returns up to limit review texts of a movie. Reviews are fetched
// without a language filter because localized reviews are rare.
func (c *Client) Reviews(ctx context.Context, id int64, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 20
	}
	var out []string
	for page := 1; len(out) < limit; page++ {
		q := url.Values{}
		q.Set("page", strconv.Itoa(page))
		q.Set("language", "")

		var resp reviewsResponse
		if err := c.get(ctx, "/movie/"+strconv.FormatInt(id, 10)+"/reviews", q, &resp); err != nil {
			return out, err
		}
		for _, r := range resp.Results {
			if t := strings.TrimSpace(r.Content); t != "" {
				out = append(out, t)
				if len(out) == limit {
					break
				}
			}
		}
		if page >= resp.TotalPages || len(resp.Results) == 0 {
			break
		}
	}
	return out, nil
}

// get performs one rate-limited, breaker-guarded GET and decodes the JSON
// body into dst.
func (c *Client) get(ctx context.Context, path string, q url.Values, dst any) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	if q == nil {
		q = url.Values{}
	}
	// an explicitly empty language disables the default
	lang, explicit := q["language"]
	switch {
	case !explicit && c.language != "":
		q.Set("language", c.language)
	case explicit && (len(lang) == 0 || lang[0] == ""):
		q.Del("language")
	}
	bearer := strings.Contains(c.apiKey, ".")
	if !bearer && c.apiKey != "" {
		q.Set("api_key", c.apiKey)
	}
	u := c.baseURL + path + "?" + q.Encode()

	body, err := observability.Execute(c.breaker, func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		if bearer {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusNotFound {
			// a missing movie is an answer, not an upstream failure
			return nil, nil
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
			msg := strings.TrimSpace(string(b))
			if msg == "" {
				msg = fmt.Sprintf("status %d", resp.StatusCode)
			}
			return nil, fmt.Errorf("tmdb: %s", msg)
		}
		return io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	})
	if err != nil {
		return err
	}
	if body == nil {
		return ErrNotFound
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("tmdb: decode %s: %w", path, err)
	}
	return nil
}
