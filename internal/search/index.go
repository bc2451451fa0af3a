// Package search provides a deterministic, concurrency-safe in-memory context
// store for retrieval-augmented prompting, plus the title similarity used to
// re-score fuzzy index hits.
//
//   - No logging in the library (callers decide how/what to log)
//   - Functional options (Option pattern)
//   - Unicode-aware tokenization with optional stop-word removal
//   - Documents are added incrementally, keyed by movie title, and searched
//     with an optional title filter
//   - Deterministic scoring and sorting (stable order for ties)
//
// Scoring uses Jaccard similarity between the query token set and each
// chunk's token set: score = |Q ∩ P| / |Q ∪ P|.
package search

import (
	"regexp"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"
)

// Result is a ranked chunk with its similarity score and source title.
type Result struct {
	Title   string
	Snippet string
	Score   float64
}

// Index is the minimal interface implemented by all search indices. An empty
// titles filter searches every document.
type Index interface {
	TopK(query string, k int, titles ...string) []Result
}

// ----------------------------------------------------------------------------
// Options

type Option func(*config)

type config struct {
	minChunkRunes int
	chunkRunes    int
	overlapRunes  int
	stopwords     map[string]struct{}
	maxChunks     int
}

func defaultConfig() config {
	return config{
		minChunkRunes: 20,
		chunkRunes:    500,
		overlapRunes:  50,
		stopwords:     nil,
		maxChunks:     0,
	}
}

func WithMinChunkRunes(n int) Option {
	return func(c *config) {
		if n >= 0 {
			c.minChunkRunes = n
		}
	}
}

// WithChunking sets the chunk size and overlap in runes. Invalid pairs
// (size <= 0 or overlap >= size) are ignored.
func WithChunking(size, overlap int) Option {
	return func(c *config) {
		if size > 0 && overlap >= 0 && overlap < size {
			c.chunkRunes = size
			c.overlapRunes = overlap
		}
	}
}

func WithStopwords(words []string) Option {
	return func(c *config) {
		m := make(map[string]struct{}, len(words))
		for _, w := range words {
			w = strings.ToLower(strings.TrimSpace(w))
			if w != "" {
				m[w] = struct{}{}
			}
		}
		if len(m) > 0 {
			c.stopwords = m
		}
	}
}

// WithMaxChunks caps the chunks kept per document.
func WithMaxChunks(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.maxChunks = n
		}
	}
}

// ----------------------------------------------------------------------------
// Implementation

type chunk struct {
	title  string
	text   string
	tokens map[string]struct{}
	tLen   int
}

// ContextStore holds the chunked documents of one conversation session.
// It is safe for concurrent use.
type ContextStore struct {
	cfg config

	mu     sync.RWMutex
	chunks []chunk
	titles map[string]struct{}
}

var _ Index = (*ContextStore)(nil)

// NewContextStore returns an empty store.
func NewContextStore(opts ...Option) *ContextStore {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	return &ContextStore{cfg: cfg, titles: map[string]struct{}{}}
}

// Add chunks text and files it under title. Adding the same title twice is
// a no-op; callers check Has first when they want to skip the fetch. It
// returns the number of chunks stored.
func (s *ContextStore) Add(title string, texts ...string) int {
	key := titleKey(title)
	if key == "" {
		return 0
	}

	var built []chunk
outer:
	for _, text := range texts {
		for _, c := range Chunk(PrepareDocument(text), s.cfg.chunkRunes, s.cfg.overlapRunes) {
			t := strings.TrimSpace(normalizeWhitespace(c))
			if t == "" {
				continue
			}
			if s.cfg.minChunkRunes > 0 && utf8.RuneCountInString(t) < s.cfg.minChunkRunes {
				continue
			}
			toks := tokenize(t, s.cfg.stopwords)
			if len(toks) == 0 {
				continue
			}
			built = append(built, chunk{title: key, text: t, tokens: toks, tLen: len(toks)})
			if s.cfg.maxChunks > 0 && len(built) >= s.cfg.maxChunks {
				break outer
			}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.titles[key]; ok {
		return 0
	}
	s.titles[key] = struct{}{}
	s.chunks = append(s.chunks, built...)
	return len(built)
}

// Has reports whether a document for title was already added.
func (s *ContextStore) Has(title string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.titles[titleKey(title)]
	return ok
}

// Len returns the number of stored chunks.
func (s *ContextStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks)
}

// TopK returns up to k best-matching chunks by Jaccard similarity, limited
// to the given titles when any are passed.
func (s *ContextStore) TopK(q string, k int, titles ...string) []Result {
	if strings.TrimSpace(q) == "" {
		return nil
	}
	if k <= 0 {
		k = 3
	}
	qTokens := tokenize(q, s.cfg.stopwords)
	if len(qTokens) == 0 {
		return nil
	}
	qLen := len(qTokens)

	var filter map[string]struct{}
	if len(titles) > 0 {
		filter = make(map[string]struct{}, len(titles))
		for _, t := range titles {
			filter[titleKey(t)] = struct{}{}
		}
	}

	type scored struct {
		title    string
		snippet  string
		score    float64
		lenRunes int
	}

	s.mu.RLock()
	buf := make([]scored, 0, min(k*4, len(s.chunks)))
	for _, d := range s.chunks {
		if filter != nil {
			if _, ok := filter[d.title]; !ok {
				continue
			}
		}
		over := overlap(qTokens, d.tokens)
		if over == 0 {
			continue
		}
		union := float64(qLen + d.tLen - over)
		if union <= 0 {
			continue
		}
		buf = append(buf, scored{
			title:    d.title,
			snippet:  d.text,
			score:    float64(over) / union,
			lenRunes: utf8.RuneCountInString(d.text),
		})
	}
	s.mu.RUnlock()
	if len(buf) == 0 {
		return nil
	}

	sort.SliceStable(buf, func(a, b int) bool {
		if buf[a].score != buf[b].score {
			return buf[a].score > buf[b].score
		}
		if buf[a].lenRunes != buf[b].lenRunes {
			return buf[a].lenRunes < buf[b].lenRunes
		}
		return buf[a].snippet < buf[b].snippet
	})

	if k > len(buf) {
		k = len(buf)
	}
	out := make([]Result, k)
	for i := 0; i < k; i++ {
		out[i] = Result{Title: buf[i].title, Snippet: buf[i].snippet, Score: buf[i].score}
	}
	return out
}

// ----------------------------------------------------------------------------
// Helpers

var wordRE = regexp.MustCompile(`\p{L}+\p{N}*`)

func tokenize(s string, stop map[string]struct{}) map[string]struct{} {
	s = strings.ToLower(s)
	words := wordRE.FindAllString(s, -1)
	if len(words) == 0 {
		return nil
	}
	out := make(map[string]struct{}, len(words))
	for _, w := range words {
		if stop != nil {
			if _, skip := stop[w]; skip {
				continue
			}
		}
		out[w] = struct{}{}
	}
	return out
}

func overlap(a, b map[string]struct{}) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	n := 0
	if len(a) > len(b) {
		a, b = b, a
	}
	for k := range a {
		if _, ok := b[k]; ok {
			n++
		}
	}
	return n
}

func normalizeWhitespace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	prevSpace := false
	for _, r := range s {
		if r == ' ' || r == '\t' || r == '\r' || r == '\n' {
			if !prevSpace {
				b.WriteByte(' ')
				prevSpace = true
			}
			continue
		}
		prevSpace = false
		b.WriteRune(r)
	}
	return b.String()
}

func titleKey(t string) string {
	return strings.ToLower(strings.TrimSpace(t))
}
