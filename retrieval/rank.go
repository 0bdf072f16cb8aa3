package retrieval

import (
	"cmp"
	"errors"
	"fmt"
	"math"
	"slices"
)

// epsilon clamps degenerate vector norms so zero vectors score 0 instead of NaN.
const epsilon = 1e-8

var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// Match is one ranked item: its index in the input matrix and its cosine score.
type Match struct {
	Index int
	Score float64
}

// Rank scores every item against query by cosine similarity and returns the
// top k by descending score. Equal scores keep input order. k <= 0 yields an
// empty result.
func Rank(query []float32, items [][]float32, k int) ([]Match, error) {
	if k <= 0 || len(items) == 0 {
		return []Match{}, nil
	}

	qn := norm(query)
	matches := make([]Match, len(items))
	for i, v := range items {
		if len(v) != len(query) {
			return nil, fmt.Errorf("%w: item %d has %d dimensions, query has %d", ErrDimensionMismatch, i, len(v), len(query))
		}
		matches[i] = Match{Index: i, Score: dot(query, v) / (qn * norm(v))}
	}

	slices.SortStableFunc(matches, func(a, b Match) int {
		return cmp.Compare(b.Score, a.Score)
	})

	if k < len(matches) {
		matches = matches[:k]
	}
	return matches, nil
}

func dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}

func norm(v []float32) float64 {
	n := math.Sqrt(dot(v, v))
	if n < epsilon {
		return epsilon
	}
	return n
}
