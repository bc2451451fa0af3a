package fuzzy

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// Embedder turns texts into fixed-size vectors. Implementations must return
// one vector per input text, all of the same dimension.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// HashEmbedder is a local embedder that hashes character n-grams into a
// fixed number of buckets. It needs no network and gives stable vectors for
// titles that share most of their characters, which is all the index needs
// when no embedding model is configured.
type HashEmbedder struct {
	Dim int
}

// DefaultHashDim is the bucket count used when Dim is zero.
const DefaultHashDim = 256

// Embed implements Embedder.
func (h HashEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	dim := h.Dim
	if dim <= 0 {
		dim = DefaultHashDim
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = hashVector(t, dim)
	}
	return out, nil
}

func hashVector(text string, dim int) []float32 {
	v := make([]float32, dim)
	var runes []rune
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == ':' || r == '|' {
			runes = append(runes, r)
		}
	}
	add := func(gram []rune, w float32) {
		f := fnv.New32a()
		_, _ = f.Write([]byte(string(gram)))
		v[f.Sum32()%uint32(dim)] += w
	}
	for n := 1; n <= 3; n++ {
		for i := 0; i+n <= len(runes); i++ {
			add(runes[i:i+n], float32(n))
		}
	}
	normalize(v)
	return v
}

func normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	n := float32(math.Sqrt(sum))
	for i := range v {
		v[i] /= n
	}
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
