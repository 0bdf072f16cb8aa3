package bedrock

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"golang.org/x/sync/errgroup"
)

const (
	defaultEmbeddingModelID    = "amazon.titan-embed-text-v2:0"
	defaultEmbeddingDimensions = 1024
	defaultBatchConcurrency    = 4
)

type invokeModelClient interface {
	InvokeModel(context.Context, *bedrockruntime.InvokeModelInput, ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

type EmbedderOptions struct {
	ModelID    string
	Dimensions int
	// BatchConcurrency bounds parallel InvokeModel calls in EmbedBatch.
	BatchConcurrency int
}

// Embedder produces Titan text embeddings. Titan has no batch endpoint, so
// EmbedBatch fans out single calls.
type Embedder struct {
	client invokeModelClient
	opts   EmbedderOptions
}

func NewEmbedder(client invokeModelClient, opts EmbedderOptions) *Embedder {
	if opts.ModelID == "" {
		opts.ModelID = defaultEmbeddingModelID
	}
	if opts.Dimensions == 0 {
		opts.Dimensions = defaultEmbeddingDimensions
	}
	if opts.BatchConcurrency <= 0 {
		opts.BatchConcurrency = defaultBatchConcurrency
	}
	return &Embedder{client: client, opts: opts}
}

type titanRequest struct {
	InputText  string `json:"inputText"`
	Dimensions int    `json:"dimensions"`
	Normalize  bool   `json:"normalize"`
}

type titanResponse struct {
	Embedding           []float32 `json:"embedding"`
	InputTextTokenCount int       `json:"inputTextTokenCount"`
}

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(titanRequest{InputText: text, Dimensions: e.opts.Dimensions, Normalize: true})
	if err != nil {
		return nil, err
	}

	out, err := e.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(e.opts.ModelID),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return nil, fmt.Errorf("invoke embedding model: %w", err)
	}

	var resp titanResponse
	if err := json.Unmarshal(out.Body, &resp); err != nil {
		return nil, fmt.Errorf("decode embedding response: %w", err)
	}
	if len(resp.Embedding) != e.opts.Dimensions {
		return nil, fmt.Errorf("embedding has %d dimensions, want %d", len(resp.Embedding), e.opts.Dimensions)
	}
	return resp.Embedding, nil
}

func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.BatchConcurrency)
	for i, text := range texts {
		g.Go(func() error {
			v, err := e.Embed(ctx, text)
			if err != nil {
				return fmt.Errorf("text %d: %w", i, err)
			}
			out[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
