package retrieval

import (
	"fmt"
	"strings"

	"skinroutine"
)

// BuildCategoryQuery renders the text embedded for one category search. It
// always carries the analysis, the four retrieval fields of the strategy and
// the category name.
func BuildCategoryQuery(analysis skinroutine.AnalysisSummary, strategy skinroutine.Strategy, category string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Find the best %s product for this person.\n\n", category)
	b.WriteString("Skin analysis:\n")
	b.WriteString(analysis.Text())
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "Primary goals: %s\n", joinOrNone(strategy.PrimaryGoals))
	fmt.Fprintf(&b, "Key ingredients to target: %s\n", joinOrNone(strategy.KeyIngredientsToTarget))
	fmt.Fprintf(&b, "Ingredients to avoid: %s\n", joinOrNone(strategy.IngredientsToAvoid))
	fmt.Fprintf(&b, "Product category: %s", category)
	return b.String()
}

func joinOrNone(xs []string) string {
	if len(xs) == 0 {
		return "none"
	}
	return strings.Join(xs, ", ")
}
