package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"skinroutine"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// fakeEmbedder routes query texts by their category line and is safe for
// concurrent use.
type fakeEmbedder struct {
	mu         sync.Mutex
	embed      func(ctx context.Context, text string) ([]float32, error)
	batch      func(ctx context.Context, texts []string) ([][]float32, error)
	queries    []string
	batchTexts [][]string
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	f.queries = append(f.queries, text)
	f.mu.Unlock()
	return f.embed(ctx, text)
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	f.batchTexts = append(f.batchTexts, texts)
	f.mu.Unlock()
	if f.batch == nil {
		return nil, errors.New("batch not configured")
	}
	return f.batch(ctx, texts)
}

func (f *fakeEmbedder) embedCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queries)
}

func constantEmbedder(v []float32) *fakeEmbedder {
	return &fakeEmbedder{embed: func(context.Context, string) ([]float32, error) { return v, nil }}
}

func categoryOf(query string) string {
	i := strings.LastIndex(query, "Product category: ")
	if i < 0 {
		return ""
	}
	return strings.TrimSpace(query[i+len("Product category: "):])
}

func buildCatalog(sizes map[string]int) []skinroutine.CatalogItem {
	var catalog []skinroutine.CatalogItem
	for _, category := range []string{"cleanser", "serum", "moisturizer", "sunscreen"} {
		for i := range sizes[category] {
			catalog = append(catalog, skinroutine.CatalogItem{
				Key:         fmt.Sprintf("%s-%02d", category, i),
				Category:    category,
				Ingredients: []string{"Water", "Glycerin"},
				Embedding:   []float32{float32(i % 5), float32(i % 3), 1},
			})
		}
	}
	return catalog
}

func testStrategy(categories ...string) skinroutine.Strategy {
	return skinroutine.Strategy{
		PrimaryGoals:            []string{"clear skin"},
		KeyIngredientsToTarget:  []string{"niacinamide"},
		IngredientsToAvoid:      []string{"fragrance"},
		TargetProductCategories: categories,
	}
}

func keys(cands []skinroutine.Candidate) []string {
	out := make([]string, 0, len(cands))
	for _, c := range cands {
		out = append(out, c.Item.Key)
	}
	return out
}

func TestRetriever_ThreeCategories(t *testing.T) {
	catalog := buildCatalog(map[string]int{"cleanser": 20, "serum": 15, "moisturizer": 10})
	emb := constantEmbedder([]float32{1, 1, 1})
	r := NewRetriever(emb, Options{PerCategoryK: 5})

	res, err := r.Retrieve(context.Background(), skinroutine.AnalysisSummary{SkinType: "oily"}, testStrategy("cleanser", "serum", "moisturizer"), catalog)
	require.NoError(t, err)

	assert.LessOrEqual(t, len(res.Candidates), 15)
	assert.Len(t, res.Candidates, 15)
	assert.Empty(t, res.Failures)
	assert.Empty(t, res.Skipped)
	assert.Equal(t, 3, emb.embedCalls(), "one embedding call per category")

	seen := map[string]bool{}
	perCategory := map[string]int{}
	for _, c := range res.Candidates {
		assert.False(t, seen[c.Item.Key], "duplicate key %s", c.Item.Key)
		seen[c.Item.Key] = true
		assert.Equal(t, c.Item.Category, c.SourceCategory)
		perCategory[c.SourceCategory]++
	}
	assert.Equal(t, map[string]int{"cleanser": 5, "serum": 5, "moisturizer": 5}, perCategory)

	// insertion order follows category order
	assert.Equal(t, "cleanser", res.Candidates[0].SourceCategory)
	assert.Equal(t, "serum", res.Candidates[5].SourceCategory)
	assert.Equal(t, "moisturizer", res.Candidates[10].SourceCategory)
}

func TestRetriever_QueryCarriesStrategyAndCategory(t *testing.T) {
	catalog := buildCatalog(map[string]int{"serum": 3})
	emb := constantEmbedder([]float32{1, 0, 0})
	r := NewRetriever(emb, Options{PerCategoryK: 2})

	_, err := r.Retrieve(context.Background(), skinroutine.AnalysisSummary{SkinType: "dry"}, testStrategy("serum"), catalog)
	require.NoError(t, err)

	require.Len(t, emb.queries, 1)
	q := emb.queries[0]
	for _, want := range []string{"dry", "clear skin", "niacinamide", "fragrance", "serum"} {
		assert.Contains(t, q, want)
	}
}

func TestRetriever_CategoryFailureIsAbsorbed(t *testing.T) {
	catalog := buildCatalog(map[string]int{"cleanser": 4, "serum": 4, "moisturizer": 4})
	emb := &fakeEmbedder{embed: func(_ context.Context, text string) ([]float32, error) {
		if categoryOf(text) == "serum" {
			return nil, errors.New("throttled")
		}
		return []float32{1, 1, 1}, nil
	}}

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	r := NewRetriever(emb, Options{PerCategoryK: 3, Meter: mp.Meter("test")})

	res, err := r.Retrieve(context.Background(), skinroutine.AnalysisSummary{}, testStrategy("cleanser", "serum", "moisturizer"), catalog)
	require.NoError(t, err)

	require.Len(t, res.Failures, 1)
	assert.Equal(t, "serum", res.Failures[0].Category)
	assert.ErrorContains(t, res.Failures[0], "throttled")
	assert.Len(t, res.Candidates, 6)
	for _, c := range res.Candidates {
		assert.NotEqual(t, "serum", c.SourceCategory)
	}

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	assert.Equal(t, int64(1), sumCounter(t, rm, "retrieval_category_failures_total"))
	assert.Equal(t, int64(6), lastGauge(t, rm, "retrieval_candidates"))
}

func TestRetriever_SkipsCategoryWithoutItems(t *testing.T) {
	catalog := buildCatalog(map[string]int{"cleanser": 3})
	emb := constantEmbedder([]float32{1, 1, 1})
	r := NewRetriever(emb, Options{PerCategoryK: 5})

	res, err := r.Retrieve(context.Background(), skinroutine.AnalysisSummary{}, testStrategy("toner", "cleanser"), catalog)
	require.NoError(t, err)

	assert.Equal(t, []string{"toner"}, res.Skipped)
	assert.Empty(t, res.Failures)
	assert.Len(t, res.Candidates, 3)
	assert.Equal(t, 1, emb.embedCalls())
}

func TestRetriever_CategoryMatchIsNormalized(t *testing.T) {
	catalog := []skinroutine.CatalogItem{
		{Key: "a", Category: "Moisturizer ", Embedding: []float32{1, 0}},
	}
	r := NewRetriever(constantEmbedder([]float32{1, 0}), Options{})

	res, err := r.Retrieve(context.Background(), skinroutine.AnalysisSummary{}, testStrategy("moisturizer"), catalog)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, keys(res.Candidates))
}

func dedupFixture() ([]skinroutine.CatalogItem, *fakeEmbedder) {
	catalog := []skinroutine.CatalogItem{
		{Key: "a", Category: "cleanser", Embedding: []float32{1, 0}},
		{Key: "b", Category: "cleanser", Embedding: []float32{0, 1}},
		{Key: "a", Category: "serum", Embedding: []float32{1, 0}},
		{Key: "c", Category: "serum", Embedding: []float32{1, 1}},
	}
	emb := &fakeEmbedder{embed: func(_ context.Context, text string) ([]float32, error) {
		if categoryOf(text) == "serum" {
			return []float32{1, 0}, nil
		}
		return []float32{0, 1}, nil
	}}
	return catalog, emb
}

func TestRetriever_DedupPolicies(t *testing.T) {
	tests := []struct {
		name           string
		policy         DedupPolicy
		expectedScore  float64
		expectedSource string
	}{
		{name: "first seen", policy: DedupFirstSeen, expectedScore: 0, expectedSource: "cleanser"},
		{name: "highest score", policy: DedupHighestScore, expectedScore: 1, expectedSource: "serum"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			catalog, emb := dedupFixture()
			r := NewRetriever(emb, Options{PerCategoryK: 2, DedupPolicy: tt.policy})

			res, err := r.Retrieve(context.Background(), skinroutine.AnalysisSummary{}, testStrategy("cleanser", "serum"), catalog)
			require.NoError(t, err)

			require.Equal(t, []string{"b", "a", "c"}, keys(res.Candidates), "position of the first claim is kept")
			assert.InDelta(t, tt.expectedScore, res.Candidates[1].Score, 1e-9)
			assert.Equal(t, tt.expectedSource, res.Candidates[1].SourceCategory)
		})
	}
}

func TestRetriever_DeterministicUnderConcurrency(t *testing.T) {
	catalog := buildCatalog(map[string]int{"cleanser": 12, "serum": 12, "moisturizer": 12, "sunscreen": 12})
	strategy := testStrategy("sunscreen", "serum", "cleanser", "moisturizer")
	emb := &fakeEmbedder{embed: func(_ context.Context, text string) ([]float32, error) {
		// vary latency so completion order differs from category order
		if categoryOf(text) == "sunscreen" {
			time.Sleep(5 * time.Millisecond)
		}
		return []float32{1, 2, 3}, nil
	}}

	serial, err := NewRetriever(emb, Options{PerCategoryK: 4, Concurrency: 1}).Retrieve(context.Background(), skinroutine.AnalysisSummary{}, strategy, catalog)
	require.NoError(t, err)
	parallel, err := NewRetriever(emb, Options{PerCategoryK: 4, Concurrency: 4}).Retrieve(context.Background(), skinroutine.AnalysisSummary{}, strategy, catalog)
	require.NoError(t, err)

	assert.Equal(t, serial.Candidates, parallel.Candidates)
	assert.Equal(t, "sunscreen", parallel.Candidates[0].SourceCategory)
}

func TestRetriever_LazyItemEmbedding(t *testing.T) {
	catalog := []skinroutine.CatalogItem{
		{Key: "a", Category: "serum", Brand: "X", Name: "Vit C", Ingredients: []string{"Ascorbic Acid"}},
		{Key: "b", Category: "serum", Embedding: []float32{0, 1}},
		{Key: "c", Category: "serum", Text: "hydrating serum"},
	}
	emb := &fakeEmbedder{
		embed: func(context.Context, string) ([]float32, error) { return []float32{1, 0}, nil },
		batch: func(_ context.Context, texts []string) ([][]float32, error) {
			return [][]float32{{1, 0}, {1, 1}}, nil
		},
	}
	r := NewRetriever(emb, Options{PerCategoryK: 3})

	res, err := r.Retrieve(context.Background(), skinroutine.AnalysisSummary{}, testStrategy("serum"), catalog)
	require.NoError(t, err)

	require.Len(t, emb.batchTexts, 1)
	assert.Equal(t, []string{"X Vit C. Category: serum. Ingredients: Ascorbic Acid", "hydrating serum"}, emb.batchTexts[0])
	assert.Equal(t, []string{"a", "c", "b"}, keys(res.Candidates))
	assert.Nil(t, catalog[0].Embedding, "snapshot is not mutated")
}

func TestRetriever_LazyEmbeddingFailureIsCategoryFailure(t *testing.T) {
	catalog := []skinroutine.CatalogItem{
		{Key: "a", Category: "serum", Name: "no vector"},
		{Key: "b", Category: "cleanser", Embedding: []float32{1}},
	}
	emb := &fakeEmbedder{
		embed: func(context.Context, string) ([]float32, error) { return []float32{1}, nil },
		batch: func(context.Context, []string) ([][]float32, error) { return [][]float32{}, nil },
	}

	res, err := NewRetriever(emb, Options{}).Retrieve(context.Background(), skinroutine.AnalysisSummary{}, testStrategy("serum", "cleanser"), catalog)
	require.NoError(t, err)

	require.Len(t, res.Failures, 1)
	assert.ErrorContains(t, res.Failures[0], "got 0 vectors for 1 texts")
	assert.Equal(t, []string{"b"}, keys(res.Candidates))
}

func TestRetriever_StaleEmbeddingsAreSkipped(t *testing.T) {
	catalog := []skinroutine.CatalogItem{
		{Key: "a", Category: "serum", Embedding: []float32{1, 0, 0}},
		{Key: "b", Category: "serum", Embedding: []float32{1, 0}},
		{Key: "c", Category: "serum", Embedding: []float32{0, 1}},
		{Key: "d", Category: "cleanser", Embedding: []float32{1}},
	}

	res, err := NewRetriever(constantEmbedder([]float32{1, 0}), Options{}).Retrieve(context.Background(), skinroutine.AnalysisSummary{}, testStrategy("serum", "cleanser"), catalog)
	require.NoError(t, err)

	assert.Empty(t, res.Failures)
	assert.Equal(t, []string{"b", "c"}, keys(res.Candidates))
	assert.Equal(t, []string{"a", "d"}, res.StaleEmbeddings)
}

func TestRetriever_TimeoutIsCategoryFailure(t *testing.T) {
	catalog := buildCatalog(map[string]int{"cleanser": 2, "serum": 2})
	emb := &fakeEmbedder{embed: func(ctx context.Context, text string) ([]float32, error) {
		if categoryOf(text) == "serum" {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return []float32{1, 1, 1}, nil
	}}
	r := NewRetriever(emb, Options{CallTimeout: 20 * time.Millisecond})

	res, err := r.Retrieve(context.Background(), skinroutine.AnalysisSummary{}, testStrategy("cleanser", "serum"), catalog)
	require.NoError(t, err)

	require.Len(t, res.Failures, 1)
	assert.True(t, errors.Is(res.Failures[0], context.DeadlineExceeded))
	assert.Len(t, res.Candidates, 2)
}

func TestRetriever_ParentCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	emb := &fakeEmbedder{embed: func(ctx context.Context, _ string) ([]float32, error) { return nil, ctx.Err() }}
	_, err := NewRetriever(emb, Options{}).Retrieve(ctx, skinroutine.AnalysisSummary{}, testStrategy("cleanser"), buildCatalog(map[string]int{"cleanser": 1}))

	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestRetriever_Spans(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	catalog := buildCatalog(map[string]int{"cleanser": 2, "serum": 2})

	r := NewRetriever(constantEmbedder([]float32{1, 1, 1}), Options{Tracer: tp.Tracer("test")})
	_, err := r.Retrieve(context.Background(), skinroutine.AnalysisSummary{}, testStrategy("cleanser", "serum"), catalog)
	require.NoError(t, err)

	names := map[string]int{}
	for _, s := range sr.Ended() {
		names[s.Name()]++
	}
	assert.Equal(t, 1, names["Retriever.Retrieve"])
	assert.Equal(t, 2, names["Retriever.Category"])
}

func TestParseDedupPolicy(t *testing.T) {
	tests := []struct {
		input    string
		expected DedupPolicy
		wantErr  bool
	}{
		{input: "", expected: DedupFirstSeen},
		{input: "first_seen", expected: DedupFirstSeen},
		{input: " HIGHEST_SCORE ", expected: DedupHighestScore},
		{input: "random", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseDedupPolicy(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestMerge_NoDuplicates(t *testing.T) {
	c := func(key, cat string, score float64) skinroutine.Candidate {
		return skinroutine.Candidate{Item: skinroutine.CatalogItem{Key: key}, SourceCategory: cat, Score: score}
	}
	per := [][]skinroutine.Candidate{
		{c("x", "a", 0.9), c("y", "a", 0.8), c("x", "a", 0.7)},
		{c("y", "b", 0.95), c("z", "b", 0.5)},
	}

	for _, policy := range []DedupPolicy{DedupFirstSeen, DedupHighestScore} {
		out := Merge(per, policy)
		assert.Equal(t, []string{"x", "y", "z"}, keys(out), policy)
	}
	assert.Equal(t, 0.8, Merge(per, DedupFirstSeen)[1].Score)
	assert.Equal(t, 0.95, Merge(per, DedupHighestScore)[1].Score)
	assert.NotNil(t, Merge(nil, DedupFirstSeen))
}

func sumCounter(t *testing.T, rm metricdata.ResourceMetrics, name string) int64 {
	t.Helper()
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok, "%s is not an int64 sum", name)
			var total int64
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
			return total
		}
	}
	t.Fatalf("metric %s not found", name)
	return 0
}

func lastGauge(t *testing.T, rm metricdata.ResourceMetrics, name string) int64 {
	t.Helper()
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			g, ok := m.Data.(metricdata.Gauge[int64])
			require.True(t, ok, "%s is not an int64 gauge", name)
			require.NotEmpty(t, g.DataPoints)
			return g.DataPoints[len(g.DataPoints)-1].Value
		}
	}
	t.Fatalf("metric %s not found", name)
	return 0
}
