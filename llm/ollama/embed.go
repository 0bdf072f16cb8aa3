package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"skinroutine"
)

// Embedder calls Ollama's embed API, which accepts a batch of inputs.
type Embedder struct {
	endpoint   string
	model      string
	httpClient skinroutine.HTTPClient
}

type EmbedderOpts struct {
	BaseEndpoint string
	ModelID      string
	HTTPClient   skinroutine.HTTPClient
}

func NewEmbedder(opts EmbedderOpts) (*Embedder, error) {
	if strings.TrimSpace(opts.BaseEndpoint) == "" {
		return nil, fmt.Errorf("ollama: base endpoint is required")
	}
	if strings.TrimSpace(opts.ModelID) == "" {
		return nil, fmt.Errorf("ollama: embedding model id is required")
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	return &Embedder{
		endpoint:   strings.TrimRight(opts.BaseEndpoint, "/") + "/api/embed",
		model:      opts.ModelID,
		httpClient: opts.HTTPClient,
	}, nil
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	reqBytes, err := json.Marshal(embedRequest{Model: e.model, Input: texts})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewBuffer(reqBytes))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("EMBEDDER: %s: %s", resp.Status, string(body))
	}

	var er embedResponse
	if err := json.Unmarshal(body, &er); err != nil {
		return nil, fmt.Errorf("EMBEDDER: decode embed response: %w", err)
	}
	if len(er.Embeddings) != len(texts) {
		return nil, fmt.Errorf("EMBEDDER: got %d embeddings for %d inputs", len(er.Embeddings), len(texts))
	}
	return er.Embeddings, nil
}
