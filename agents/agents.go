package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"skinroutine"
)

// Strategist turns an analysis summary into a Strategy.
type Strategist struct {
	llm skinroutine.LLMClient
}

func NewStrategist(llm skinroutine.LLMClient) *Strategist {
	return &Strategist{llm: llm}
}

func (s *Strategist) Strategize(ctx context.Context, analysis skinroutine.AnalysisSummary) (skinroutine.Strategy, error) {
	input := "**SKIN ANALYSIS SUMMARY:**\n" + analysis.Text()

	var strategy skinroutine.Strategy
	if err := invoke(ctx, s.llm, skinroutine.Prompt{
		Instructions:      strategistInstructions,
		Input:             input,
		SchemaName:        SchemaStrategy,
		SchemaDescription: "Submit the skincare strategy.",
		Schema:            StrategySchema(),
	}, &strategy); err != nil {
		return skinroutine.Strategy{}, fmt.Errorf("strategist: %w", err)
	}

	slog.Info("STRATEGIST: Strategy produced",
		"goals", len(strategy.PrimaryGoals),
		"key_ingredients", len(strategy.KeyIngredientsToTarget),
		"categories", strings.Join(strategy.TargetProductCategories, ","),
	)
	return strategy, nil
}

// Generator drafts a routine from grounded candidates.
type Generator struct {
	llm skinroutine.LLMClient
}

func NewGenerator(llm skinroutine.LLMClient) *Generator {
	return &Generator{llm: llm}
}

// GenerationPayload renders the Generator input text.
func GenerationPayload(in skinroutine.GenerationInput) string {
	var b strings.Builder
	b.WriteString("**SKIN ANALYSIS SUMMARY:**\n")
	b.WriteString(in.Analysis.Text())
	b.WriteString("\n\n**STRATEGY:**\n")
	b.WriteString(renderStrategy(in.Strategy))
	b.WriteString("\n\n**AVAILABLE PRODUCTS:**\n")
	b.WriteString(RenderCandidates(in.Candidates))
	if fb := RenderFeedback(in.Feedback); fb != "" {
		b.WriteString("\n\n")
		b.WriteString(fb)
	}
	return b.String()
}

func (g *Generator) Generate(ctx context.Context, in skinroutine.GenerationInput) (skinroutine.RoutineDraft, error) {
	var draft skinroutine.RoutineDraft
	if err := invoke(ctx, g.llm, skinroutine.Prompt{
		Instructions:      generatorInstructions,
		Input:             GenerationPayload(in),
		SchemaName:        SchemaRoutine,
		SchemaDescription: "Submit the skincare routine.",
		Schema:            RoutineDraftSchema(),
	}, &draft); err != nil {
		return skinroutine.RoutineDraft{}, fmt.Errorf("generator: %w", err)
	}

	if unknown := draft.UnknownProductKeys(in.Candidates); len(unknown) > 0 {
		return skinroutine.RoutineDraft{}, fmt.Errorf("generator: %w", skinroutine.Malformedf("unknown product keys %v", unknown))
	}
	return draft, nil
}

// Reviewer audits a draft against the strategy.
type Reviewer struct {
	llm skinroutine.LLMClient
}

func NewReviewer(llm skinroutine.LLMClient) *Reviewer {
	return &Reviewer{llm: llm}
}

// ReviewPayload renders the Reviewer input text.
func ReviewPayload(in skinroutine.ReviewInput) (string, error) {
	draft, err := json.MarshalIndent(in.Draft, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal draft: %w", err)
	}
	return fmt.Sprintf("**STRATEGY:**\n%s\n\n%s\n%s", renderStrategy(in.Strategy), RoutineMarker, draft), nil
}

func (r *Reviewer) Review(ctx context.Context, in skinroutine.ReviewInput) (skinroutine.ReviewVerdict, error) {
	payload, err := ReviewPayload(in)
	if err != nil {
		return skinroutine.ReviewVerdict{}, fmt.Errorf("reviewer: %w", err)
	}

	var verdict skinroutine.ReviewVerdict
	if err := invoke(ctx, r.llm, skinroutine.Prompt{
		Instructions:      reviewerInstructions,
		Input:             payload,
		SchemaName:        SchemaReview,
		SchemaDescription: "Submit the review verdict.",
		Schema:            ReviewVerdictSchema(),
	}, &verdict); err != nil {
		return skinroutine.ReviewVerdict{}, fmt.Errorf("reviewer: %w", err)
	}

	slog.Info("REVIEWER: Verdict received", "status", verdict.ReviewStatus, "notes", len(verdict.ReviewNotes))
	return verdict, nil
}

type validatable interface {
	Validate() error
}

func invoke(ctx context.Context, llm skinroutine.LLMClient, prompt skinroutine.Prompt, out validatable) error {
	resp, err := llm.Invoke(ctx, prompt)
	if err != nil {
		return fmt.Errorf("invoke: %w", err)
	}
	if err := skinroutine.DecodeStrict([]byte(resp.Content), out); err != nil {
		slog.Warn("AGENT: Structured output rejected", "schema", prompt.SchemaName, "error", err, "content_len", len(resp.Content))
		return err
	}
	return nil
}
