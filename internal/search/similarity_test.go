package search

import "testing"

func TestSimilarity(t *testing.T) {
	cases := []struct {
		a, b    string
		atLeast float64
		below   float64
	}{
		{"듄", "듄", 100, 101},
		{"Dune", "dune", 100, 101},
		{"듄 파트2", "듄: 파트 2", 100, 101},
		{"Dune Part Two", "Part Two Dune", 100, 101},
		{"듄 파트 2", "듄", 0, 65},
		{"기생충", "듄", 0, 1},
		{"", "듄", 0, 1},
		{"인터스텔라", "인터스텔라2", 65, 100},
	}
	for _, c := range cases {
		got := Similarity(c.a, c.b)
		if got < c.atLeast || got >= c.below {
			t.Fatalf("Similarity(%q, %q) = %.1f; want [%v, %v)", c.a, c.b, got, c.atLeast, c.below)
		}
		if rev := Similarity(c.b, c.a); rev != got {
			t.Fatalf("Similarity not symmetric for %q/%q: %v vs %v", c.a, c.b, got, rev)
		}
	}
}
