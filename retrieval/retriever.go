package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"skinroutine"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const (
	defaultPerCategoryK = 10
	defaultConcurrency  = 5
)

// DedupPolicy decides which instance survives when two categories surface the
// same catalog key.
type DedupPolicy string

const (
	// DedupFirstSeen keeps the instance from the first category that listed it.
	DedupFirstSeen DedupPolicy = "first_seen"
	// DedupHighestScore keeps the first position but takes the score and
	// source category of the best-scoring instance.
	DedupHighestScore DedupPolicy = "highest_score"
)

func ParseDedupPolicy(s string) (DedupPolicy, error) {
	switch DedupPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", DedupFirstSeen:
		return DedupFirstSeen, nil
	case DedupHighestScore:
		return DedupHighestScore, nil
	default:
		return "", fmt.Errorf("unknown dedup policy %q", s)
	}
}

type Options struct {
	PerCategoryK int
	Concurrency  int
	// CallTimeout bounds each category's embedding work. Zero means no timeout.
	CallTimeout time.Duration
	DedupPolicy DedupPolicy
	Tracer      trace.Tracer
	Meter       metric.Meter
}

// Result is the outcome of one retrieval pass. Failures and Skipped list
// categories in strategy order. StaleEmbeddings lists the keys of items left
// out of ranking because their stored vector has the wrong dimension.
type Result struct {
	Candidates      []skinroutine.Candidate
	Failures        []skinroutine.CategoryFailure
	Skipped         []string
	StaleEmbeddings []string
}

// Retriever runs one similarity search per target category over a read-only
// catalog snapshot and merges the results.
type Retriever struct {
	embedder skinroutine.Embedder
	opts     Options
	tracer   trace.Tracer

	failuresCounter metric.Int64Counter
	candidatesGauge metric.Int64Gauge
}

func NewRetriever(embedder skinroutine.Embedder, opts Options) *Retriever {
	if opts.PerCategoryK <= 0 {
		opts.PerCategoryK = defaultPerCategoryK
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}
	if opts.DedupPolicy == "" {
		opts.DedupPolicy = DedupFirstSeen
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer(skinroutine.ScopeRetrieval)
	}
	if opts.Meter == nil {
		opts.Meter = otel.Meter(skinroutine.ScopeRetrieval)
	}

	failures, _ := opts.Meter.Int64Counter("retrieval_category_failures_total",
		metric.WithDescription("Total number of categories skipped because embedding or ranking failed"))
	candidates, _ := opts.Meter.Int64Gauge("retrieval_candidates",
		metric.WithDescription("Number of deduplicated candidates produced by the last retrieval"))

	return &Retriever{
		embedder:        embedder,
		opts:            opts,
		tracer:          opts.Tracer,
		failuresCounter: failures,
		candidatesGauge: candidates,
	}
}

type categoryResult struct {
	candidates []skinroutine.Candidate
	stale      []string
	err        error
	skipped    bool
}

// Retrieve searches catalog once per strategy category. A failing category is
// recorded in Result.Failures and does not abort the pass. The only error
// returned is cancellation of ctx itself.
func (r *Retriever) Retrieve(ctx context.Context, analysis skinroutine.AnalysisSummary, strategy skinroutine.Strategy, catalog []skinroutine.CatalogItem) (Result, error) {
	ctx, span := r.tracer.Start(ctx, "Retriever.Retrieve", trace.WithAttributes(
		attribute.Int("retrieval.categories", len(strategy.TargetProductCategories)),
		attribute.Int("retrieval.catalog_size", len(catalog)),
		attribute.Int("retrieval.per_category_k", r.opts.PerCategoryK),
		attribute.String("retrieval.dedup_policy", string(r.opts.DedupPolicy)),
	))
	defer span.End()

	byCategory := make(map[string][]skinroutine.CatalogItem)
	for _, item := range catalog {
		k := normalize(item.Category)
		byCategory[k] = append(byCategory[k], item)
	}

	categories := strategy.TargetProductCategories
	results := make([]categoryResult, len(categories))

	var g errgroup.Group
	g.SetLimit(r.opts.Concurrency)
	for i, category := range categories {
		items := byCategory[normalize(category)]
		if len(items) == 0 {
			slog.Info("RETRIEVER: No catalog items for category, skipping", "category", category)
			results[i] = categoryResult{skipped: true}
			continue
		}
		query := BuildCategoryQuery(analysis, strategy, category)
		g.Go(func() error {
			cands, stale, err := r.searchCategory(ctx, category, query, items)
			results[i] = categoryResult{candidates: cands, stale: stale, err: err}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		span.SetStatus(codes.Error, "retrieval cancelled")
		span.RecordError(err)
		return Result{}, fmt.Errorf("retrieval cancelled: %w", err)
	}

	res := Result{
		Failures:        make([]skinroutine.CategoryFailure, 0),
		Skipped:         make([]string, 0),
		StaleEmbeddings: make([]string, 0),
	}
	perCategory := make([][]skinroutine.Candidate, 0, len(categories))
	for i, cr := range results {
		switch {
		case cr.skipped:
			res.Skipped = append(res.Skipped, categories[i])
		case cr.err != nil:
			slog.Warn("RETRIEVER: Category failed, continuing", "category", categories[i], "error", cr.err)
			res.Failures = append(res.Failures, skinroutine.CategoryFailure{Category: categories[i], Err: cr.err})
			r.failuresCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("category", categories[i])))
		default:
			perCategory = append(perCategory, cr.candidates)
			res.StaleEmbeddings = append(res.StaleEmbeddings, cr.stale...)
		}
	}

	res.Candidates = Merge(perCategory, r.opts.DedupPolicy)
	r.candidatesGauge.Record(ctx, int64(len(res.Candidates)))

	span.SetAttributes(
		attribute.Int("retrieval.candidates", len(res.Candidates)),
		attribute.Int("retrieval.failures", len(res.Failures)),
		attribute.Int("retrieval.skipped", len(res.Skipped)),
		attribute.Int("retrieval.stale_embeddings", len(res.StaleEmbeddings)),
	)
	slog.Info("RETRIEVER: Retrieval complete",
		"candidates", len(res.Candidates),
		"failures", len(res.Failures),
		"skipped", len(res.Skipped),
		"stale_embeddings", len(res.StaleEmbeddings),
	)

	return res, nil
}

// searchCategory embeds the category query, embeds any items that lack a
// vector, and ranks the category's items. Items whose vector does not match
// the query dimension are left out and their keys returned.
func (r *Retriever) searchCategory(ctx context.Context, category, query string, items []skinroutine.CatalogItem) ([]skinroutine.Candidate, []string, error) {
	ctx, span := r.tracer.Start(ctx, "Retriever.Category", trace.WithAttributes(
		attribute.String("category", category),
		attribute.Int("category.items", len(items)),
	))
	defer span.End()

	if r.opts.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.CallTimeout)
		defer cancel()
	}

	fail := func(err error) ([]skinroutine.Candidate, []string, error) {
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
		return nil, nil, err
	}

	start := time.Now()
	qv, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return fail(fmt.Errorf("embed query: %w", err))
	}

	vectors, err := r.itemVectors(ctx, items)
	if err != nil {
		return fail(err)
	}

	ranked := make([]skinroutine.CatalogItem, 0, len(items))
	rankedVectors := make([][]float32, 0, len(items))
	var stale []string
	for i, v := range vectors {
		if len(v) != len(qv) {
			stale = append(stale, items[i].Key)
			continue
		}
		ranked = append(ranked, items[i])
		rankedVectors = append(rankedVectors, v)
	}
	if len(stale) > 0 {
		slog.Warn("RETRIEVER: Skipping items with stale embeddings",
			"category", category, "items", strings.Join(stale, ","), "query_dimensions", len(qv))
		span.SetAttributes(attribute.Int("category.stale_embeddings", len(stale)))
	}

	matches, err := Rank(qv, rankedVectors, r.opts.PerCategoryK)
	if err != nil {
		return fail(fmt.Errorf("rank: %w", err))
	}

	cands := make([]skinroutine.Candidate, 0, len(matches))
	for _, m := range matches {
		cands = append(cands, skinroutine.Candidate{
			Item:           ranked[m.Index],
			Score:          m.Score,
			SourceCategory: category,
		})
	}

	slog.Info("RETRIEVER: Category ranked",
		"category", category,
		"items", len(items),
		"selected", len(cands),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return cands, stale, nil
}

// itemVectors returns one vector per item. Items without a stored embedding are
// embedded in a single batch call; the snapshot itself is left untouched.
func (r *Retriever) itemVectors(ctx context.Context, items []skinroutine.CatalogItem) ([][]float32, error) {
	vectors := make([][]float32, len(items))
	var missing []int
	var texts []string
	for i, item := range items {
		if len(item.Embedding) > 0 {
			vectors[i] = item.Embedding
			continue
		}
		missing = append(missing, i)
		texts = append(texts, item.EmbeddingText())
	}
	if len(missing) == 0 {
		return vectors, nil
	}

	embedded, err := r.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed %d catalog items: %w", len(texts), err)
	}
	if len(embedded) != len(missing) {
		return nil, fmt.Errorf("embed catalog items: got %d vectors for %d texts", len(embedded), len(missing))
	}
	for j, i := range missing {
		vectors[i] = embedded[j]
	}
	return vectors, nil
}

// Merge flattens per-category results in order, keeping each catalog key once.
func Merge(perCategory [][]skinroutine.Candidate, policy DedupPolicy) []skinroutine.Candidate {
	out := make([]skinroutine.Candidate, 0)
	position := make(map[string]int)
	for _, cands := range perCategory {
		for _, c := range cands {
			i, ok := position[c.Item.Key]
			if !ok {
				position[c.Item.Key] = len(out)
				out = append(out, c)
				continue
			}
			if policy == DedupHighestScore && c.Score > out[i].Score {
				out[i].Score = c.Score
				out[i].SourceCategory = c.SourceCategory
			}
		}
	}
	return out
}
