// Package fuzzy implements the fuzzy title index: a vector-similarity lookup
// from a free-text title (plus optional year and series hints) to the
// internal id of a known movie.
//
// Entries are projections of canonical movies stored in the
// fuzzy_index_entries table. They are never updated in place: a stale entry
// is deleted and a fresh one inserted. Search is brute-force cosine over all
// entries, which is plenty for a catalogue that only grows as users mention
// titles.
package fuzzy

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"gorm.io/gorm"

	"github.com/tbourn/go-movie-chat/internal/domain"
	"github.com/tbourn/go-movie-chat/internal/repo"
)

// ErrEmbedding is returned when the embedder yields no usable vector.
var ErrEmbedding = errors.New("embedding failed")

// Hint narrows a lookup. Zero values mean "unknown".
type Hint struct {
	Year   int
	Series int
}

// Hit is one neighbour returned by Query, nearest first.
type Hit struct {
	Entry      domain.FuzzyIndexEntry
	Similarity float64
}

// Key builds the composite text embedded for a title. Unknown year renders
// empty and the series defaults to 1.
func Key(title string, h Hint) string {
	year := ""
	if h.Year > 0 {
		year = strconv.Itoa(h.Year)
	}
	series := h.Series
	if series <= 0 {
		series = 1
	}
	return fmt.Sprintf("title: %s | year: %s | series: %d", strings.TrimSpace(title), year, series)
}

// Index is the GORM-backed fuzzy index.
type Index struct {
	db  *gorm.DB
	emb Embedder
}

// New returns an index over db. A nil embedder falls back to HashEmbedder.
func New(db *gorm.DB, emb Embedder) *Index {
	if emb == nil {
		emb = HashEmbedder{}
	}
	return &Index{db: db, emb: emb}
}

// Query returns up to k entries most similar to the composite key of title.
func (i *Index) Query(ctx context.Context, title string, h Hint, k int) ([]Hit, error) {
	if strings.TrimSpace(title) == "" {
		return nil, nil
	}
	if k <= 0 {
		k = 10
	}
	q, err := i.embedOne(ctx, Key(title, h))
	if err != nil {
		return nil, err
	}
	entries, err := repo.ListIndexEntries(ctx, i.db)
	if err != nil {
		return nil, err
	}

	hits := make([]Hit, 0, len(entries))
	for _, e := range entries {
		v := decodeVector(e.Vector)
		if len(v) != len(q) {
			continue
		}
		hits = append(hits, Hit{Entry: e, Similarity: cosine(q, v)})
	}
	sort.SliceStable(hits, func(a, b int) bool {
		return hits[a].Similarity > hits[b].Similarity
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// Insert adds an entry for movieID under title.
func (i *Index) Insert(ctx context.Context, movieID uint, tmdbID *int64, title string, h Hint) error {
	v, err := i.embedOne(ctx, Key(title, h))
	if err != nil {
		return err
	}
	e := &domain.FuzzyIndexEntry{
		MovieID: movieID,
		TMDBID:  tmdbID,
		Title:   strings.TrimSpace(title),
		Series:  max(h.Series, 1),
		Vector:  encodeVector(v),
	}
	if h.Year > 0 {
		y := h.Year
		e.Year = &y
	}
	return repo.InsertIndexEntry(ctx, i.db, e)
}

// Delete removes every entry of movieID and reports how many went away.
func (i *Index) Delete(ctx context.Context, movieID uint) (int64, error) {
	return repo.DeleteIndexEntries(ctx, i.db, movieID)
}

func (i *Index) embedOne(ctx context.Context, text string) ([]float32, error) {
	vs, err := i.emb.Embed(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbedding, err)
	}
	if len(vs) != 1 || len(vs[0]) == 0 {
		return nil, ErrEmbedding
	}
	return vs[0], nil
}

func encodeVector(v []float32) []byte {
	b := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(b[4*i:], math.Float32bits(x))
	}
	return b
}

func decodeVector(b []byte) []float32 {
	if len(b)%4 != 0 {
		return nil
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v
}
