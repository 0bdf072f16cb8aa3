package mock

import (
	"context"
	"testing"

	"skinroutine"
	"skinroutine/agents"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var analysis = skinroutine.AnalysisSummary{
	SkinType:         "oily",
	TopConcerns:      []string{"acne", "redness"},
	ConcernRationale: map[string]string{"acne": "papules on cheeks"},
}

func TestLLMClient_Strategy(t *testing.T) {
	strategy, err := agents.NewStrategist(NewLLMClient(Options{})).Strategize(context.Background(), analysis)
	require.NoError(t, err)

	assert.Equal(t, []string{"cleanser", "serum", "moisturizer", "sunscreen"}, strategy.TargetProductCategories)
	assert.Equal(t, []string{"salicylic acid", "niacinamide", "centella asiatica", "azelaic acid"}, strategy.KeyIngredientsToTarget)
	assert.Equal(t, []string{"coconut oil", "mineral oil"}, strategy.IngredientsToAvoid)
	assert.Equal(t, []string{"address acne", "address redness", "protect the skin barrier"}, strategy.PrimaryGoals)
}

func TestLLMClient_Strategy_NoConcerns(t *testing.T) {
	strategy, err := agents.NewStrategist(NewLLMClient(Options{})).Strategize(context.Background(), skinroutine.AnalysisSummary{})
	require.NoError(t, err)

	assert.Equal(t, []string{"cleanser", "moisturizer", "sunscreen"}, strategy.TargetProductCategories)
	assert.Equal(t, []string{}, strategy.IngredientsToAvoid)
	assert.NotEmpty(t, strategy.KeyIngredientsToTarget)
}

func TestLLMClient_Routine(t *testing.T) {
	candidates := []skinroutine.Candidate{
		{Item: skinroutine.CatalogItem{Key: "c1", Category: "cleanser"}, SourceCategory: "cleanser"},
		{Item: skinroutine.CatalogItem{Key: "c2", Category: "cleanser"}, SourceCategory: "cleanser"},
		{Item: skinroutine.CatalogItem{Key: "s1", Category: "sunscreen"}, SourceCategory: "sunscreen"},
		{Item: skinroutine.CatalogItem{Key: "m1", Category: "Moisturizer"}, SourceCategory: "moisturizer"},
	}

	draft, err := agents.NewGenerator(NewLLMClient(Options{})).Generate(context.Background(), skinroutine.GenerationInput{
		Analysis:   analysis,
		Strategy:   skinroutine.Strategy{PrimaryGoals: []string{"x"}},
		Candidates: candidates,
		Feedback:   []string{"Add SPF.", "Shorten PM."},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"c1", "s1", "m1"}, draft.ProductKeys())
	require.Len(t, draft.Routine.AM, 3)
	require.Len(t, draft.Routine.PM, 2, "no sunscreen at night")
	assert.Contains(t, draft.Reasoning, "2 reviewer notes")
}

func TestLLMClient_Routine_NoCandidates(t *testing.T) {
	draft, err := agents.NewGenerator(NewLLMClient(Options{})).Generate(context.Background(), skinroutine.GenerationInput{})
	require.NoError(t, err)
	assert.Empty(t, draft.ProductKeys())
	assert.Len(t, draft.Routine.AM, 1)
	assert.Len(t, draft.Routine.PM, 1)
}

func TestLLMClient_Review(t *testing.T) {
	llm := NewLLMClient(Options{Rejections: 2})
	reviewer := agents.NewReviewer(llm)
	draft := skinroutine.RoutineDraft{
		Reasoning: "r",
		Routine: skinroutine.Routine{
			AM: []skinroutine.RoutineStep{{Step: "Cleanse", Products: []skinroutine.ProductPick{{ProductKey: "c1"}}, Instructions: "wash"}},
			PM: []skinroutine.RoutineStep{{Step: "Cleanse", Products: []skinroutine.ProductPick{}, Instructions: "wash"}},
		},
		KeyIngredients: []skinroutine.KeyIngredient{},
	}
	in := skinroutine.ReviewInput{Strategy: skinroutine.Strategy{PrimaryGoals: []string{"x"}}, Draft: draft}

	for i := 0; i < 2; i++ {
		v, err := reviewer.Review(context.Background(), in)
		require.NoError(t, err)
		assert.Equal(t, skinroutine.ReviewRejected, v.ReviewStatus)
		assert.NotEmpty(t, v.ReviewNotes)
	}

	v, err := reviewer.Review(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, skinroutine.ReviewApproved, v.ReviewStatus)
	require.NotNil(t, v.ValidatedRecommendations)
	assert.Equal(t, []string{"c1"}, v.ValidatedRecommendations.ProductKeys())
}

func TestLLMClient_UnknownSchema(t *testing.T) {
	_, err := NewLLMClient(Options{}).Invoke(context.Background(), skinroutine.Prompt{SchemaName: "submit_other"})
	assert.Error(t, err)
}

func TestLLMClient_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewLLMClient(Options{}).Invoke(ctx, skinroutine.Prompt{SchemaName: agents.SchemaStrategy})
	assert.ErrorIs(t, err, context.Canceled)
}
