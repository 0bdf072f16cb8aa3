package agents

import (
	"encoding/json"
	"fmt"
	"strings"

	"skinroutine"
)

// Markers shared with offline model implementations that parse the input.
const (
	CandidateKeyPrefix = "*   **Key:** "
	RoutineMarker      = "ROUTINE TO REVIEW:"
	FeedbackHeader     = "CORRECTIVE FEEDBACK FROM PREVIOUS REVIEWS:"
)

const (
	cardIngredientsLimit = 300
	cardDescriptionLimit = 200
)

// RenderCandidates formats candidates as markdown cards. Embedding vectors and
// raw text payloads are never rendered.
func RenderCandidates(candidates []skinroutine.Candidate) string {
	if len(candidates) == 0 {
		return "No products available."
	}

	var b strings.Builder
	for i, c := range candidates {
		if i > 0 {
			b.WriteString("\n")
		}
		title := strings.TrimSpace(c.Item.Brand + " " + c.Item.Name)
		if title == "" {
			title = c.Item.Key
		}
		fmt.Fprintf(&b, "### %d. %s\n", i+1, title)
		fmt.Fprintf(&b, "%s%s\n", CandidateKeyPrefix, c.Item.Key)
		fmt.Fprintf(&b, "*   **Category:** %s\n", c.Item.Category)
		fmt.Fprintf(&b, "*   **Similarity:** %.3f (%s search)\n", c.Score, c.SourceCategory)
		matched := "none"
		if len(c.MatchedKeyIngredients) > 0 {
			matched = strings.Join(c.MatchedKeyIngredients, ", ")
		}
		fmt.Fprintf(&b, "*   **Matched Key Ingredients:** %s\n", matched)
		if d := strings.TrimSpace(c.Item.Description); d != "" {
			fmt.Fprintf(&b, "*   **Description:** %s\n", truncate(d, cardDescriptionLimit))
		}
		if len(c.Item.Ingredients) > 0 {
			fmt.Fprintf(&b, "*   **Ingredients:** %s\n", truncate(strings.Join(c.Item.Ingredients, ", "), cardIngredientsLimit))
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// RenderFeedback formats accumulated reviewer notes as corrective
// instructions. It returns "" when there is no feedback.
func RenderFeedback(notes []string) string {
	if len(notes) == 0 {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "**%s**\n", FeedbackHeader)
	b.WriteString("Earlier routines were rejected by the reviewer. Your new routine must fix every point below:\n")
	for i, n := range notes {
		fmt.Fprintf(&b, "%d. %s\n", i+1, n)
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderStrategy(s skinroutine.Strategy) string {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Sprintf("%+v", s)
	}
	return string(data)
}

func truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit]) + "..."
}
