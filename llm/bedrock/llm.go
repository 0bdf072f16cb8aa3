package bedrock

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"skinroutine"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
)

const (
	// defaultModelID is an inference profile ID, not the foundation model's ID.
	// See https://docs.aws.amazon.com/bedrock/latest/userguide/inference-profiles.html.
	defaultModelID = "us.anthropic.claude-3-7-sonnet-20250219-v1:0"

	// Routines with weekly steps and rationales need more room than a single tool call.
	defaultMaxTokens = 4096

	// Low temperature and top_p keep structured outputs consistent.
	defaultTemperature = 0.2
	defaultTopP        = 0.9
)

type bedrockRuntimeClient interface {
	Converse(context.Context, *bedrockruntime.ConverseInput, ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

type LLMOptions struct {
	ModelID     string
	MaxTokens   int32
	Temperature float32
	TopP        float32
}

// LLMClient answers every prompt through a single forced tool call whose input
// schema is the prompt's output schema.
type LLMClient struct {
	brc  bedrockRuntimeClient
	opts LLMOptions
}

func NewLLMClient(brc bedrockRuntimeClient, opts LLMOptions) *LLMClient {
	if opts.ModelID == "" {
		opts.ModelID = defaultModelID
	}
	if opts.MaxTokens == 0 {
		opts.MaxTokens = defaultMaxTokens
	}
	if opts.Temperature == 0 {
		opts.Temperature = defaultTemperature
	}
	if opts.TopP == 0 {
		opts.TopP = defaultTopP
	}
	return &LLMClient{
		brc:  brc,
		opts: opts,
	}
}

func (c *LLMClient) Invoke(ctx context.Context, prompt skinroutine.Prompt) (skinroutine.Response, error) {
	slog.Info("LLM_CLIENT: Invoked", "schema", prompt.SchemaName, "input_len", len(prompt.Input))

	spec, err := buildToolSpec(prompt)
	if err != nil {
		return skinroutine.Response{}, err
	}

	in := &bedrockruntime.ConverseInput{
		ModelId: aws.String(c.opts.ModelID),
		System:  []types.SystemContentBlock{&types.SystemContentBlockMemberText{Value: prompt.Instructions}},
		Messages: []types.Message{{
			Role:    types.ConversationRoleUser,
			Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: prompt.Input}},
		}},
		InferenceConfig: &types.InferenceConfiguration{
			MaxTokens:   aws.Int32(c.opts.MaxTokens),
			Temperature: aws.Float32(c.opts.Temperature),
			TopP:        aws.Float32(c.opts.TopP),
		},
		ToolConfig: &types.ToolConfiguration{
			Tools: []types.Tool{&types.ToolMemberToolSpec{Value: spec}},
			ToolChoice: &types.ToolChoiceMemberTool{
				Value: types.SpecificToolChoice{Name: aws.String(prompt.SchemaName)},
			},
		},
	}

	out, err := c.brc.Converse(ctx, in)
	if err != nil {
		slog.Error("LLM_CLIENT: Bedrock invoke failed", "error", err, "schema", prompt.SchemaName)
		return skinroutine.Response{}, err
	}

	attrs := []any{"stop_reason", out.StopReason}
	if out.Metrics != nil {
		attrs = append(attrs, "latency_ms", aws.ToInt64(out.Metrics.LatencyMs))
	}
	if out.Usage != nil {
		attrs = append(attrs, "input_tokens", aws.ToInt32(out.Usage.InputTokens), "output_tokens", aws.ToInt32(out.Usage.OutputTokens))
	}
	slog.Info("LLM_CLIENT: Bedrock invoke succeeded", attrs...)

	switch out.StopReason {
	case types.StopReasonMaxTokens:
		return skinroutine.Response{}, fmt.Errorf("model hit MaxTokens limit (%d); consider increasing MAX_TOKENS", c.opts.MaxTokens)
	case types.StopReasonContentFiltered, types.StopReasonGuardrailIntervened:
		return skinroutine.Response{}, fmt.Errorf("model response blocked by Bedrock safety filters")
	}

	content, ok, err := toolInputFromOutput(out, prompt.SchemaName)
	if err != nil {
		return skinroutine.Response{}, fmt.Errorf("failed to read tool input: %w", err)
	}
	if ok {
		return skinroutine.Response{Content: content}, nil
	}

	// Models without forced tool choice may answer in plain text.
	text := textFromOutput(out)
	slog.Warn("LLM_CLIENT: No tool call in response, falling back to text", "schema", prompt.SchemaName, "text_len", len(text))
	return skinroutine.Response{Content: skinroutine.ExtractJSONObject(text)}, nil
}

// buildToolSpec turns the output schema into a tool input schema. The schema is
// round-tripped through JSON so the document encoder sees plain maps.
func buildToolSpec(prompt skinroutine.Prompt) (types.ToolSpecification, error) {
	if prompt.SchemaName == "" || prompt.Schema == nil {
		return types.ToolSpecification{}, fmt.Errorf("prompt has no output schema")
	}

	schemaJSON, err := json.Marshal(prompt.Schema)
	if err != nil {
		return types.ToolSpecification{}, fmt.Errorf("failed to marshal schema for %s: %w", prompt.SchemaName, err)
	}

	var schemaMap map[string]any
	if err := json.Unmarshal(schemaJSON, &schemaMap); err != nil {
		return types.ToolSpecification{}, fmt.Errorf("failed to unmarshal schema for %s: %w", prompt.SchemaName, err)
	}

	description := prompt.SchemaDescription
	if description == "" {
		description = "Submit the structured result."
	}

	return types.ToolSpecification{
		Name:        aws.String(prompt.SchemaName),
		Description: aws.String(description),
		InputSchema: &types.ToolInputSchemaMemberJson{
			Value: document.NewLazyDocument(schemaMap),
		},
	}, nil
}

// toolInputFromOutput returns the JSON input of the first tool use named name.
func toolInputFromOutput(out *bedrockruntime.ConverseOutput, name string) (string, bool, error) {
	msg, ok := out.Output.(*types.ConverseOutputMemberMessage)
	if !ok || msg == nil {
		return "", false, nil
	}

	for _, cb := range msg.Value.Content {
		tu, ok := cb.(*types.ContentBlockMemberToolUse)
		if !ok || tu == nil || aws.ToString(tu.Value.Name) != name || tu.Value.Input == nil {
			continue
		}
		raw, err := tu.Value.Input.MarshalSmithyDocument()
		if err != nil {
			return "", false, err
		}
		return string(raw), true, nil
	}
	return "", false, nil
}

func textFromOutput(out *bedrockruntime.ConverseOutput) string {
	msg, ok := out.Output.(*types.ConverseOutputMemberMessage)
	if !ok || msg == nil {
		return ""
	}

	texts := make([]string, 0, len(msg.Value.Content))
	for _, cb := range msg.Value.Content {
		if t, ok := cb.(*types.ContentBlockMemberText); ok && t != nil && t.Value != "" {
			texts = append(texts, t.Value)
		}
	}
	return strings.Join(texts, "\n")
}
