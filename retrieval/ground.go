package retrieval

import (
	"strings"

	"skinroutine"
)

// Ground annotates each candidate with the strategy key ingredients it
// contains, compared case-insensitively. The annotation is never nil and
// follows the strategy's order and spelling. The input slice is not modified.
func Ground(candidates []skinroutine.Candidate, strategy skinroutine.Strategy) []skinroutine.Candidate {
	out := make([]skinroutine.Candidate, len(candidates))
	for i, c := range candidates {
		have := make(map[string]bool, len(c.Item.Ingredients))
		for _, ing := range c.Item.Ingredients {
			have[normalize(ing)] = true
		}

		matched := make([]string, 0)
		seen := map[string]bool{}
		for _, target := range strategy.KeyIngredientsToTarget {
			n := normalize(target)
			if n == "" || seen[n] || !have[n] {
				continue
			}
			seen[n] = true
			matched = append(matched, target)
		}

		c.MatchedKeyIngredients = matched
		out[i] = c
	}
	return out
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
