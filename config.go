package skinroutine

import "time"

type ModelConfig struct {
	Provider    string  `env:"MODEL_PROVIDER,default=bedrock"`
	ModelID     string  `env:"MODEL_ID,default="`
	MaxTokens   int32   `env:"MAX_TOKENS,default=4096"`
	Temperature float32 `env:"TEMPERATURE,default=0.2"`
	TopP        float32 `env:"TOP_P,default=0.9"`
}

type EmbeddingConfig struct {
	Provider   string `env:"EMBEDDING_PROVIDER,default=bedrock"`
	ModelID    string `env:"EMBEDDING_MODEL_ID,default=amazon.titan-embed-text-v2:0"`
	Dimensions int    `env:"EMBEDDING_DIMENSIONS,default=1024"`
}

type PipelineConfig struct {
	MaxRetries         int           `env:"MAX_RETRIES,default=3"`
	PerCategoryK       int           `env:"PER_CATEGORY_K,default=10"`
	EmbedConcurrency   int           `env:"EMBED_CONCURRENCY,default=5"`
	CallTimeout        time.Duration `env:"CALL_TIMEOUT,default=90s"`
	DedupPolicy        string        `env:"DEDUP_POLICY,default=first_seen"`
	BaseOllamaEndpoint string        `env:"BASE_OLLAMA_ENDPOINT,default=http://localhost:11434"`
}

type StorageConfig struct {
	CatalogSource    string `env:"CATALOG_SOURCE,default=file"`
	CatalogPath      string `env:"CATALOG_PATH,default=artifacts/products.jsonl"`
	S3Bucket         string `env:"ARTIFACTS_S3_BUCKET,default="`
	CatalogS3Key     string `env:"CATALOG_S3_KEY,default=catalog/products.jsonl"`
	RoutinesS3Prefix string `env:"ROUTINES_S3_PREFIX,default=routines/"`
	RoutinesDir      string `env:"ROUTINES_DIR,default=artifacts/routines"`
	DatabaseURL      string `env:"DATABASE_URL,default="`
	SlackWebhookURL  string `env:"SLACK_WEBHOOK_URL,default="`
}
