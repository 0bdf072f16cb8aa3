// Package wire builds providers, stores and the pipeline from environment
// configuration. It is shared by the binaries under cmd/.
package wire

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"skinroutine"
	"skinroutine/agents"
	"skinroutine/coordinator"
	"skinroutine/llm/bedrock"
	"skinroutine/llm/mock"
	"skinroutine/llm/ollama"
	"skinroutine/pipeline"
	"skinroutine/retrieval"
	"skinroutine/storage"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/joeshaw/envdecode"
)

type Config struct {
	Model     skinroutine.ModelConfig
	Embedding skinroutine.EmbeddingConfig
	Pipeline  skinroutine.PipelineConfig
	Storage   skinroutine.StorageConfig
}

// LoadConfig decodes every config struct from the environment.
func LoadConfig() (Config, error) {
	var cfg Config
	for _, target := range []any{&cfg.Model, &cfg.Embedding, &cfg.Pipeline, &cfg.Storage} {
		if err := envdecode.Decode(target); err != nil {
			return Config{}, fmt.Errorf("decode config: %w", err)
		}
	}
	return cfg, nil
}

// Factory creates collaborators on demand. The AWS config is loaded once, on
// first use, so offline providers never touch credentials.
type Factory struct {
	Config     Config
	HTTPClient skinroutine.HTTPClient

	awsCfg *aws.Config
}

func NewFactory(cfg Config) *Factory {
	return &Factory{Config: cfg, HTTPClient: http.DefaultClient}
}

func (f *Factory) aws(ctx context.Context) (aws.Config, error) {
	if f.awsCfg != nil {
		return *f.awsCfg, nil
	}
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRetryMaxAttempts(5))
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS config: %w", err)
	}
	f.awsCfg = &cfg
	return cfg, nil
}

func (f *Factory) LLM(ctx context.Context) (skinroutine.LLMClient, error) {
	mc := f.Config.Model
	switch strings.ToLower(mc.Provider) {
	case "bedrock":
		cfg, err := f.aws(ctx)
		if err != nil {
			return nil, err
		}
		return bedrock.NewLLMClient(bedrockruntime.NewFromConfig(cfg), bedrock.LLMOptions{
			ModelID:     mc.ModelID,
			MaxTokens:   mc.MaxTokens,
			Temperature: mc.Temperature,
			TopP:        mc.TopP,
		}), nil
	case "ollama":
		return ollama.NewClient(ollama.ClientOpts{
			BaseEndpoint: f.Config.Pipeline.BaseOllamaEndpoint,
			ModelID:      mc.ModelID,
			HTTPClient:   f.HTTPClient,
		})
	case "mock":
		// One rejection so the offline run exercises the corrective loop.
		return mock.NewLLMClient(mock.Options{Rejections: 1}), nil
	default:
		return nil, fmt.Errorf("unknown MODEL_PROVIDER %q", mc.Provider)
	}
}

func (f *Factory) Embedder(ctx context.Context) (skinroutine.Embedder, error) {
	ec := f.Config.Embedding
	switch strings.ToLower(ec.Provider) {
	case "bedrock":
		cfg, err := f.aws(ctx)
		if err != nil {
			return nil, err
		}
		return bedrock.NewEmbedder(bedrockruntime.NewFromConfig(cfg), bedrock.EmbedderOptions{
			ModelID:          ec.ModelID,
			Dimensions:       ec.Dimensions,
			BatchConcurrency: f.Config.Pipeline.EmbedConcurrency,
		}), nil
	case "ollama":
		return ollama.NewEmbedder(ollama.EmbedderOpts{
			BaseEndpoint: f.Config.Pipeline.BaseOllamaEndpoint,
			ModelID:      ec.ModelID,
			HTTPClient:   f.HTTPClient,
		})
	case "mock":
		return mock.NewEmbedder(ec.Dimensions), nil
	default:
		return nil, fmt.Errorf("unknown EMBEDDING_PROVIDER %q", ec.Provider)
	}
}

// CatalogStore returns the configured catalog and a function releasing it.
func (f *Factory) CatalogStore(ctx context.Context) (skinroutine.CatalogStore, func() error, error) {
	sc := f.Config.Storage
	noop := func() error { return nil }
	switch strings.ToLower(sc.CatalogSource) {
	case "file":
		return storage.NewFileCatalogStore(sc.CatalogPath), noop, nil
	case "s3":
		if sc.S3Bucket == "" {
			return nil, noop, fmt.Errorf("CATALOG_SOURCE=s3 requires ARTIFACTS_S3_BUCKET")
		}
		cfg, err := f.aws(ctx)
		if err != nil {
			return nil, noop, err
		}
		return storage.NewS3CatalogStore(s3.NewFromConfig(cfg), sc.S3Bucket, sc.CatalogS3Key), noop, nil
	case "postgres":
		if sc.DatabaseURL == "" {
			return nil, noop, fmt.Errorf("CATALOG_SOURCE=postgres requires DATABASE_URL")
		}
		store, err := storage.OpenPGCatalogStore(ctx, sc.DatabaseURL)
		if err != nil {
			return nil, noop, err
		}
		return store, store.Close, nil
	default:
		return nil, noop, fmt.Errorf("unknown CATALOG_SOURCE %q", sc.CatalogSource)
	}
}

// RoutineStore prefers S3 when a bucket is configured, then a local
// directory. It returns nil when neither is set.
func (f *Factory) RoutineStore(ctx context.Context) (skinroutine.RoutineStore, error) {
	sc := f.Config.Storage
	switch {
	case sc.S3Bucket != "":
		cfg, err := f.aws(ctx)
		if err != nil {
			return nil, err
		}
		return storage.NewS3RoutineStore(s3.NewFromConfig(cfg), sc.S3Bucket, sc.RoutinesS3Prefix), nil
	case sc.RoutinesDir != "":
		return storage.NewFileRoutineStore(sc.RoutinesDir), nil
	default:
		return nil, nil
	}
}

// Pipeline assembles a full pipeline. The returned function releases the
// catalog store.
func (f *Factory) Pipeline(ctx context.Context, logger skinroutine.AttemptLogger) (*pipeline.Pipeline, func() error, error) {
	pc := f.Config.Pipeline
	noop := func() error { return nil }

	policy, err := retrieval.ParseDedupPolicy(pc.DedupPolicy)
	if err != nil {
		return nil, noop, err
	}

	llm, err := f.LLM(ctx)
	if err != nil {
		return nil, noop, err
	}
	embedder, err := f.Embedder(ctx)
	if err != nil {
		return nil, noop, err
	}
	routines, err := f.RoutineStore(ctx)
	if err != nil {
		return nil, noop, err
	}
	catalog, closeCatalog, err := f.CatalogStore(ctx)
	if err != nil {
		return nil, noop, err
	}

	retriever := retrieval.NewRetriever(embedder, retrieval.Options{
		PerCategoryK: pc.PerCategoryK,
		Concurrency:  pc.EmbedConcurrency,
		CallTimeout:  pc.CallTimeout,
		DedupPolicy:  policy,
	})
	loop := coordinator.New(agents.NewGenerator(llm), agents.NewReviewer(llm), coordinator.Options{
		MaxRetries:  pc.MaxRetries,
		CallTimeout: pc.CallTimeout,
		Logger:      logger,
	})

	deps := pipeline.Deps{
		Strategist: agents.NewStrategist(llm),
		Catalog:    catalog,
		Retriever:  retriever,
		Loop:       loop,
		Routines:   routines,
	}
	return pipeline.New(deps, pipeline.Options{CallTimeout: pc.CallTimeout}), closeCatalog, nil
}
