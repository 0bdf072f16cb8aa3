package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"skinroutine"
)

type options struct {
	Temperature   float64 `json:"temperature,omitempty"`
	TopP          float64 `json:"top_p,omitempty"`
	RepeatPenalty float64 `json:"repeat_penalty,omitempty"`
	NumCtx        int     `json:"num_ctx,omitempty"`
}

// Client calls Ollama's chat API with the output schema passed as the
// structured output format.
type Client struct {
	endpoint   string
	model      string
	httpClient skinroutine.HTTPClient
	options    options
}

type ClientOpts struct {
	BaseEndpoint string
	ModelID      string
	HTTPClient   skinroutine.HTTPClient
}

func NewClient(opts ClientOpts) (*Client, error) {
	if strings.TrimSpace(opts.BaseEndpoint) == "" {
		return nil, fmt.Errorf("ollama: base endpoint is required")
	}
	if strings.TrimSpace(opts.ModelID) == "" {
		return nil, fmt.Errorf("ollama: model id is required")
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}

	return &Client{
		model:      opts.ModelID,
		httpClient: opts.HTTPClient,
		endpoint:   strings.TrimRight(opts.BaseEndpoint, "/") + "/api/chat",
		options: options{
			Temperature:   0.2,
			TopP:          0.9,
			RepeatPenalty: 1.05,
			NumCtx:        16384, // catalog cards for several categories need a wide window
		},
	}, nil
}

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type wireRequest struct {
	Model    string          `json:"model"`
	Messages []wireMessage   `json:"messages"`
	Format   json.RawMessage `json:"format,omitempty"`
	Stream   bool            `json:"stream"`
	Options  options         `json:"options,omitempty"`
}

type wireResponse struct {
	Message    wireMessage `json:"message"`
	DoneReason string      `json:"done_reason,omitempty"`
	// other metadata omitted but available
}

// Invoke sends the prompt to the Ollama API and returns the JSON object found
// in the reply. Validation of that object is left to the caller.
func (c *Client) Invoke(ctx context.Context, prompt skinroutine.Prompt) (skinroutine.Response, error) {
	slog.Info("LLM_CLIENT: Invoked", "schema", prompt.SchemaName, "input_len", len(prompt.Input))

	reqBody := wireRequest{
		Model:    c.model,
		Messages: buildMessages(prompt),
		Stream:   false,
		Options:  c.options,
	}
	if prompt.Schema != nil {
		format, err := json.Marshal(prompt.Schema)
		if err != nil {
			return skinroutine.Response{}, fmt.Errorf("marshal format schema: %w", err)
		}
		reqBody.Format = format
	}

	reqBytes, err := json.Marshal(reqBody)
	if err != nil {
		return skinroutine.Response{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewBuffer(reqBytes))
	if err != nil {
		return skinroutine.Response{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return skinroutine.Response{}, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return skinroutine.Response{}, fmt.Errorf("LLM_CLIENT: %s: %s", resp.Status, string(body))
	}

	var wr wireResponse
	if err := json.Unmarshal(body, &wr); err != nil {
		return skinroutine.Response{}, fmt.Errorf("LLM_CLIENT: decode chat response: %w", err)
	}
	if wr.DoneReason == "length" {
		return skinroutine.Response{}, fmt.Errorf("LLM_CLIENT: model hit num_ctx limit (%d)", c.options.NumCtx)
	}

	return skinroutine.Response{Content: skinroutine.ExtractJSONObject(wr.Message.Content)}, nil
}

// buildMessages sends the instructions as the system message and the payload
// as a single user turn.
func buildMessages(prompt skinroutine.Prompt) []wireMessage {
	messages := make([]wireMessage, 0, 2)
	if sp := strings.TrimSpace(prompt.Instructions); sp != "" {
		messages = append(messages, wireMessage{Role: "system", Content: sp})
	}
	return append(messages, wireMessage{Role: "user", Content: prompt.Input})
}
