package mock

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"slices"
	"strings"
	"sync"

	"skinroutine"
	"skinroutine/agents"
)

// LLMClient is an offline stand-in that answers each structured output by
// reading the rendered input. It is deterministic and exists so the full
// pipeline can run without credentials.
type LLMClient struct {
	rejections int

	mu      sync.Mutex
	reviews int
}

type Options struct {
	// Rejections is how many reviews are rejected before the first approval.
	Rejections int
}

func NewLLMClient(opts Options) *LLMClient {
	return &LLMClient{rejections: opts.Rejections}
}

func (m *LLMClient) Invoke(ctx context.Context, prompt skinroutine.Prompt) (skinroutine.Response, error) {
	slog.Info("LLM_CLIENT: Invoked", "schema", prompt.SchemaName, "input_len", len(prompt.Input))
	if err := ctx.Err(); err != nil {
		return skinroutine.Response{}, err
	}

	var out any
	switch prompt.SchemaName {
	case agents.SchemaStrategy:
		out = strategyFor(prompt.Input)
	case agents.SchemaRoutine:
		out = routineFor(prompt.Input)
	case agents.SchemaReview:
		verdict, err := m.review(prompt.Input)
		if err != nil {
			return skinroutine.Response{}, err
		}
		out = verdict
	default:
		return skinroutine.Response{}, fmt.Errorf("mock: unsupported schema %q", prompt.SchemaName)
	}

	b, err := json.Marshal(out)
	if err != nil {
		return skinroutine.Response{}, err
	}
	return skinroutine.Response{Content: string(b)}, nil
}

var concernIngredients = map[string][]string{
	"acne":              {"salicylic acid", "niacinamide"},
	"breakouts":         {"salicylic acid", "benzoyl peroxide"},
	"hyperpigmentation": {"vitamin c", "azelaic acid"},
	"dark spots":        {"vitamin c", "tranexamic acid"},
	"redness":           {"centella asiatica", "azelaic acid"},
	"dryness":           {"hyaluronic acid", "ceramides"},
	"dehydration":       {"hyaluronic acid", "glycerin"},
	"fine lines":        {"retinol", "peptides"},
	"wrinkles":          {"retinol", "peptides"},
	"enlarged pores":    {"niacinamide", "salicylic acid"},
}

var skinTypeAvoid = map[string][]string{
	"oily":        {"coconut oil", "mineral oil"},
	"dry":         {"denatured alcohol"},
	"sensitive":   {"fragrance", "essential oils"},
	"combination": {"heavy occlusives"},
}

func strategyFor(input string) skinroutine.Strategy {
	skinType, concerns := parseAnalysis(input)

	var targets []string
	for _, c := range concerns {
		for _, ing := range concernIngredients[strings.ToLower(c)] {
			if !slices.Contains(targets, ing) {
				targets = append(targets, ing)
			}
		}
	}
	if len(targets) == 0 {
		targets = []string{"niacinamide", "ceramides"}
	}

	avoid := skinTypeAvoid[strings.ToLower(skinType)]
	if avoid == nil {
		avoid = []string{}
	}

	categories := []string{"cleanser", "moisturizer", "sunscreen"}
	if len(concerns) > 0 {
		categories = []string{"cleanser", "serum", "moisturizer", "sunscreen"}
	}

	goals := make([]string, 0, len(concerns)+1)
	for _, c := range concerns {
		goals = append(goals, "address "+strings.ToLower(c))
	}
	goals = append(goals, "protect the skin barrier")

	return skinroutine.Strategy{
		DiagnosisRationale:      fmt.Sprintf("%s skin with %d reported concerns.", orUnknown(skinType), len(concerns)),
		PrimaryGoals:            goals,
		AMRoutineFocus:          "Cleanse gently, treat, and finish with broad-spectrum sun protection.",
		PMRoutineFocus:          "Remove the day, apply actives, and support barrier repair overnight.",
		KeyIngredientsToTarget:  targets,
		IngredientsToAvoid:      avoid,
		TargetProductCategories: categories,
	}
}

func parseAnalysis(input string) (string, []string) {
	var skinType string
	var concerns []string
	inConcerns := false

	sc := bufio.NewScanner(strings.NewReader(input))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch {
		case strings.HasPrefix(line, "**Skin Type:**"):
			skinType = strings.TrimSpace(strings.TrimPrefix(line, "**Skin Type:**"))
			inConcerns = false
		case line == "**Top Concerns:**":
			inConcerns = true
		case inConcerns && strings.HasPrefix(line, "- "):
			c := strings.TrimPrefix(line, "- ")
			if i := strings.Index(c, ":"); i >= 0 {
				c = c[:i]
			}
			if c = strings.TrimSpace(c); c != "" && c != "none identified" {
				concerns = append(concerns, c)
			}
		default:
			inConcerns = false
		}
	}
	return skinType, concerns
}

type card struct {
	key      string
	category string
}

var feedbackItem = regexp.MustCompile(`^\d+\.\s`)

func routineFor(input string) skinroutine.RoutineDraft {
	cards, feedback := parseGenerationInput(input)

	// First product seen per category, in card order.
	picks := map[string]string{}
	order := []string{}
	for _, c := range cards {
		cat := strings.ToLower(c.category)
		if _, ok := picks[cat]; ok {
			continue
		}
		picks[cat] = c.key
		order = append(order, cat)
	}

	step := func(cat, instructions string) skinroutine.RoutineStep {
		s := skinroutine.RoutineStep{
			Step:         titleCase(cat),
			Products:     []skinroutine.ProductPick{},
			Instructions: instructions,
		}
		if key, ok := picks[cat]; ok {
			s.Products = append(s.Products, skinroutine.ProductPick{ProductKey: key, Rationale: "Best " + cat + " match for the strategy."})
		}
		return s
	}

	var am, pm []skinroutine.RoutineStep
	for _, cat := range order {
		am = append(am, step(cat, "Apply an even layer."))
		if cat != "sunscreen" {
			pm = append(pm, step(cat, "Apply an even layer before bed."))
		}
	}
	if len(am) == 0 {
		am = []skinroutine.RoutineStep{{Step: "Cleanse", Products: []skinroutine.ProductPick{}, Instructions: "Rinse with lukewarm water."}}
	}
	if len(pm) == 0 {
		pm = []skinroutine.RoutineStep{{Step: "Cleanse", Products: []skinroutine.ProductPick{}, Instructions: "Rinse with lukewarm water."}}
	}

	reasoning := fmt.Sprintf("One product per category across %d categories.", len(order))
	if feedback > 0 {
		reasoning += fmt.Sprintf(" Revised to address %d reviewer notes.", feedback)
	}

	return skinroutine.RoutineDraft{
		Reasoning:      reasoning,
		KeyIngredients: []skinroutine.KeyIngredient{},
		Routine:        skinroutine.Routine{AM: am, PM: pm},
		GeneralAdvice:  "Introduce one new product at a time and patch test first.",
	}
}

func parseGenerationInput(input string) ([]card, int) {
	var cards []card
	feedback := 0
	inFeedback := false

	sc := bufio.NewScanner(strings.NewReader(input))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, agents.CandidateKeyPrefix):
			cards = append(cards, card{key: strings.TrimSpace(strings.TrimPrefix(line, agents.CandidateKeyPrefix))})
		case strings.HasPrefix(line, "*   **Category:** ") && len(cards) > 0:
			cards[len(cards)-1].category = strings.TrimSpace(strings.TrimPrefix(line, "*   **Category:** "))
		case strings.Contains(line, agents.FeedbackHeader):
			inFeedback = true
		case inFeedback && feedbackItem.MatchString(line):
			feedback++
		}
	}
	return cards, feedback
}

func (m *LLMClient) review(input string) (skinroutine.ReviewVerdict, error) {
	m.mu.Lock()
	n := m.reviews
	m.reviews++
	m.mu.Unlock()

	if n < m.rejections {
		return skinroutine.ReviewVerdict{
			ReviewStatus: skinroutine.ReviewRejected,
			AuditLog:     fmt.Sprintf("Review %d: sun protection check failed.", n+1),
			ReviewNotes:  []string{"Confirm the AM routine ends with a broad-spectrum SPF 30+ step."},
		}, nil
	}

	i := strings.Index(input, agents.RoutineMarker)
	if i < 0 {
		return skinroutine.ReviewVerdict{}, fmt.Errorf("mock: review input has no %q section", agents.RoutineMarker)
	}
	var draft skinroutine.RoutineDraft
	if err := json.Unmarshal([]byte(input[i+len(agents.RoutineMarker):]), &draft); err != nil {
		return skinroutine.ReviewVerdict{}, fmt.Errorf("mock: parse routine under review: %w", err)
	}

	return skinroutine.ReviewVerdict{
		ReviewStatus:             skinroutine.ReviewApproved,
		AuditLog:                 fmt.Sprintf("Review %d: all checks passed.", n+1),
		ReviewNotes:              []string{},
		ValidatedRecommendations: &draft,
	}, nil
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return "Unknown"
	}
	return titleCase(s)
}
