package skinroutine

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/jsonschema"
)

type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

type SlackClient interface {
	PostOutcome(ctx context.Context, sessionID string, outcome LoopOutcome) error
}

// Prompt is a single structured-output request to a language model. The model
// must answer with one JSON document conforming to Schema.
type Prompt struct {
	Instructions      string
	Input             string
	SchemaName        string
	SchemaDescription string
	Schema            *jsonschema.Schema
}

// Response carries the raw JSON document produced by the model.
type Response struct {
	Content string
}

type LLMClient interface {
	Invoke(ctx context.Context, prompt Prompt) (Response, error)
}

// Embedder turns text into fixed-length vectors.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// CatalogStore is the read path of the product catalog. An empty category
// lists every item.
type CatalogStore interface {
	ListItems(ctx context.Context, category string) ([]CatalogItem, error)
}

// RoutineStore persists approved routines keyed by session id.
type RoutineStore interface {
	Upsert(ctx context.Context, routine SavedRoutine) error
	Get(ctx context.Context, sessionID string) (SavedRoutine, error)
}

type Strategist interface {
	Strategize(ctx context.Context, analysis AnalysisSummary) (Strategy, error)
}

type Generator interface {
	Generate(ctx context.Context, in GenerationInput) (RoutineDraft, error)
}

type Reviewer interface {
	Review(ctx context.Context, in ReviewInput) (ReviewVerdict, error)
}

// AnalysisSummary is the distilled, read-only view of a skin analysis.
type AnalysisSummary struct {
	SkinType         string            `json:"skin_type"`
	SkinTone         string            `json:"skin_tone,omitempty"`
	AgeRange         string            `json:"age_range,omitempty"`
	TopConcerns      []string          `json:"top_concerns"`
	ConcernRationale map[string]string `json:"concern_rationale,omitempty"`
	EscalationFlags  []string          `json:"escalation_flags,omitempty"`
	Overview         string            `json:"overview,omitempty"`
}

// Text renders the clinically relevant parts of the analysis as markdown.
func (a AnalysisSummary) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "**Skin Type:** %s\n", orNone(a.SkinType))
	if a.SkinTone != "" {
		fmt.Fprintf(&b, "**Fitzpatrick Tone:** %s\n", a.SkinTone)
	}
	if a.AgeRange != "" {
		fmt.Fprintf(&b, "**Estimated Age Range:** %s\n", a.AgeRange)
	}
	b.WriteString("**Top Concerns:**\n")
	if len(a.TopConcerns) == 0 {
		b.WriteString("- none identified\n")
	}
	for _, c := range a.TopConcerns {
		if why := strings.TrimSpace(a.ConcernRationale[c]); why != "" {
			fmt.Fprintf(&b, "- %s: %s\n", c, why)
			continue
		}
		fmt.Fprintf(&b, "- %s\n", c)
	}
	if len(a.EscalationFlags) > 0 {
		fmt.Fprintf(&b, "**Escalation Flags:** %s\n", strings.Join(a.EscalationFlags, ", "))
	}
	if a.Overview != "" {
		fmt.Fprintf(&b, "**Overview:** %s\n", a.Overview)
	}
	return strings.TrimRight(b.String(), "\n")
}

// Strategy is the per-session plan produced by the Strategist.
type Strategy struct {
	DiagnosisRationale      string   `json:"diagnosis_rationale"`
	PrimaryGoals            []string `json:"primary_goals"`
	AMRoutineFocus          string   `json:"am_routine_focus"`
	PMRoutineFocus          string   `json:"pm_routine_focus"`
	KeyIngredientsToTarget  []string `json:"key_ingredients_to_target"`
	IngredientsToAvoid      []string `json:"ingredients_to_avoid"`
	TargetProductCategories []string `json:"target_product_categories"`
}

func (s *Strategy) Validate() error {
	if len(s.PrimaryGoals) == 0 {
		return fmt.Errorf("primary_goals must not be empty")
	}
	if s.KeyIngredientsToTarget == nil {
		return fmt.Errorf("key_ingredients_to_target is required")
	}
	if s.IngredientsToAvoid == nil {
		return fmt.Errorf("ingredients_to_avoid is required")
	}
	if len(s.TargetProductCategories) == 0 {
		return fmt.Errorf("target_product_categories must not be empty")
	}
	for i, c := range s.TargetProductCategories {
		if strings.TrimSpace(c) == "" {
			return fmt.Errorf("target_product_categories[%d] is blank", i)
		}
	}
	return nil
}

// CatalogItem is a read-only snapshot of a catalog product.
type CatalogItem struct {
	Key         string    `json:"key"`
	Category    string    `json:"category"`
	Brand       string    `json:"brand,omitempty"`
	Name        string    `json:"name,omitempty"`
	Description string    `json:"description,omitempty"`
	Ingredients []string  `json:"ingredients,omitempty"`
	Text        string    `json:"text,omitempty"`
	Embedding   []float32 `json:"embedding,omitempty"`
}

const embeddingIngredientsLimit = 500

// EmbeddingText is the text fed to the embedding model for this item.
func (c CatalogItem) EmbeddingText() string {
	if strings.TrimSpace(c.Text) != "" {
		return c.Text
	}
	ingredients := strings.Join(c.Ingredients, ", ")
	if r := []rune(ingredients); len(r) > embeddingIngredientsLimit {
		ingredients = string(r[:embeddingIngredientsLimit])
	}
	return fmt.Sprintf("%s %s. Category: %s. Ingredients: %s",
		strings.TrimSpace(c.Brand), strings.TrimSpace(c.Name), c.Category, ingredients)
}

// Candidate is a catalog item surfaced by retrieval.
type Candidate struct {
	Item                  CatalogItem `json:"item"`
	Score                 float64     `json:"score"`
	SourceCategory        string      `json:"source_category"`
	MatchedKeyIngredients []string    `json:"matched_key_ingredients"`
}

type KeyIngredient struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Concerns    []string `json:"concerns"`
}

type ProductPick struct {
	ProductKey string `json:"product_key"`
	Rationale  string `json:"rationale"`
}

type RoutineStep struct {
	Step         string        `json:"step"`
	Products     []ProductPick `json:"products"`
	Instructions string        `json:"instructions"`
	IsOptional   bool          `json:"is_optional"`
}

type Routine struct {
	AM     []RoutineStep `json:"am"`
	PM     []RoutineStep `json:"pm"`
	Weekly []RoutineStep `json:"weekly,omitempty"`
}

// RoutineDraft is a generated routine. It is replaced wholesale on every retry.
type RoutineDraft struct {
	Reasoning      string          `json:"reasoning"`
	KeyIngredients []KeyIngredient `json:"key_ingredients"`
	Routine        Routine         `json:"routine"`
	GeneralAdvice  string          `json:"general_advice"`
}

func (d *RoutineDraft) Validate() error {
	if len(d.Routine.AM) == 0 {
		return fmt.Errorf("routine.am must not be empty")
	}
	if len(d.Routine.PM) == 0 {
		return fmt.Errorf("routine.pm must not be empty")
	}
	periods := []struct {
		name  string
		steps []RoutineStep
	}{{"am", d.Routine.AM}, {"pm", d.Routine.PM}, {"weekly", d.Routine.Weekly}}
	for _, p := range periods {
		period := p.name
		for i, s := range p.steps {
			if strings.TrimSpace(s.Step) == "" {
				return fmt.Errorf("routine.%s[%d].step is blank", period, i)
			}
			if strings.TrimSpace(s.Instructions) == "" {
				return fmt.Errorf("routine.%s[%d].instructions is blank", period, i)
			}
			for j, pick := range s.Products {
				if strings.TrimSpace(pick.ProductKey) == "" {
					return fmt.Errorf("routine.%s[%d].products[%d].product_key is blank", period, i, j)
				}
			}
		}
	}
	for i, k := range d.KeyIngredients {
		if strings.TrimSpace(k.Name) == "" {
			return fmt.Errorf("key_ingredients[%d].name is blank", i)
		}
	}
	return nil
}

// ProductKeys returns every referenced product key once, in routine order.
func (d *RoutineDraft) ProductKeys() []string {
	seen := map[string]bool{}
	keys := make([]string, 0)
	for _, steps := range [][]RoutineStep{d.Routine.AM, d.Routine.PM, d.Routine.Weekly} {
		for _, s := range steps {
			for _, p := range s.Products {
				if !seen[p.ProductKey] {
					seen[p.ProductKey] = true
					keys = append(keys, p.ProductKey)
				}
			}
		}
	}
	return keys
}

// UnknownProductKeys lists referenced keys that are not in candidates.
func (d *RoutineDraft) UnknownProductKeys(candidates []Candidate) []string {
	known := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		known[c.Item.Key] = true
	}
	var unknown []string
	for _, k := range d.ProductKeys() {
		if !known[k] {
			unknown = append(unknown, k)
		}
	}
	return unknown
}

type ReviewStatus string

const (
	ReviewApproved ReviewStatus = "approved"
	ReviewRejected ReviewStatus = "rejected"
)

// ReviewVerdict is the Reviewer's decision on a single draft.
type ReviewVerdict struct {
	ReviewStatus             ReviewStatus  `json:"review_status"`
	AuditLog                 string        `json:"audit_log"`
	ReviewNotes              []string      `json:"review_notes"`
	ValidatedRecommendations *RoutineDraft `json:"validated_recommendations,omitempty"`
}

// Validate checks the verdict's shape. Only a rejection must carry review_notes;
// an approval without them gets an empty list.
func (v *ReviewVerdict) Validate() error {
	switch v.ReviewStatus {
	case ReviewApproved:
		if v.ReviewNotes == nil {
			v.ReviewNotes = []string{}
		}
		if v.ValidatedRecommendations == nil {
			return fmt.Errorf("approved verdict must carry validated_recommendations")
		}
		if err := v.ValidatedRecommendations.Validate(); err != nil {
			return fmt.Errorf("validated_recommendations: %w", err)
		}
	case ReviewRejected:
		if v.ReviewNotes == nil {
			return fmt.Errorf("review_notes is required on rejection")
		}
		if v.ValidatedRecommendations != nil {
			return fmt.Errorf("rejected verdict must not carry validated_recommendations")
		}
	default:
		return fmt.Errorf("unknown review_status %q", v.ReviewStatus)
	}
	return nil
}

// GenerationInput is everything one Generator attempt sees. Feedback holds the
// notes of every earlier rejection in this session, oldest first.
type GenerationInput struct {
	Analysis   AnalysisSummary
	Strategy   Strategy
	Candidates []Candidate
	Feedback   []string
	Attempt    int
}

type ReviewInput struct {
	Strategy Strategy
	Draft    RoutineDraft
	Attempt  int
}

type LoopStatus string

const (
	StatusApproved  LoopStatus = "approved"
	StatusExhausted LoopStatus = "exhausted"
)

// LoopOutcome is the terminal result of the generate-review loop. Routine is
// set only when Status is StatusApproved.
type LoopOutcome struct {
	Status   LoopStatus    `json:"status"`
	Routine  *RoutineDraft `json:"routine,omitempty"`
	Attempts int           `json:"attempts"`
	Feedback []string      `json:"feedback"`
}

func (o LoopOutcome) Approved() bool {
	return o.Status == StatusApproved && o.Routine != nil
}

// SavedRoutine is the persisted form of an approved routine.
type SavedRoutine struct {
	SessionID string       `json:"session_id"`
	Strategy  Strategy     `json:"strategy"`
	Routine   RoutineDraft `json:"routine"`
	Attempts  int          `json:"attempts"`
	SavedAt   time.Time    `json:"saved_at"`
}

func orNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return "unknown"
	}
	return s
}
