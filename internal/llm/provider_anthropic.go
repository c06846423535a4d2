package llm

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/agentsh/agentsh/internal/agentmodel"
	"github.com/agentsh/agentsh/internal/oauthcred"
)

// AnthropicConfig configures an AnthropicProvider.
type AnthropicConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	MaxRetries   int
	Pool         *HTTPPool

	// CredentialSource supplies the API key when a device profile uses
	// an OAuth-issued credential instead of a static APIKey. Consulted
	// only when APIKey is empty.
	CredentialSource oauthcred.Source
}

// AnthropicProvider implements Client against Anthropic's Messages API.
type AnthropicProvider struct {
	client       anthropic.Client
	defaultModel string
	maxRetries   int
}

// NewAnthropicProvider constructs a Client backed by the Anthropic SDK.
func NewAnthropicProvider(cfg AnthropicConfig) (*AnthropicProvider, error) {
	apiKey := cfg.APIKey
	if apiKey == "" && cfg.CredentialSource != nil {
		token, err := cfg.CredentialSource.Token(context.Background())
		if err != nil {
			return nil, fmt.Errorf("llm: resolve anthropic credential: %w", err)
		}
		apiKey = token
	}
	if apiKey == "" {
		return nil, fmt.Errorf("llm: anthropic API key is required")
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	model := cfg.DefaultModel
	if model == "" {
		model = "claude-sonnet-4-20250514"
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &AnthropicProvider{
		client:       anthropic.NewClient(opts...),
		defaultModel: model,
		maxRetries:   maxRetries,
	}, nil
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

// Invoke sends one blocking completion request.
func (p *AnthropicProvider) Invoke(ctx context.Context, req Request) (*Response, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	messages, system, err := splitSystemMessage(req.Messages)
	if err != nil {
		return nil, NewProviderError("anthropic", model, err)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  messages,
		MaxTokens: int64(maxTokensOrDefault(req.MaxTokens)),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if len(req.Tools) > 0 {
		params.Tools = convertAnthropicTools(req.Tools)
	}

	var msg *anthropic.Message
	err = Retry(ctx, p.maxRetries, func(ctx context.Context) error {
		m, invokeErr := p.client.Messages.New(ctx, params)
		if invokeErr != nil {
			return NewProviderError("anthropic", model, invokeErr)
		}
		msg = m
		return nil
	})
	if err != nil {
		return nil, err
	}

	return anthropicResponse(msg, model), nil
}

// Stream returns a text-only chunk stream built atop the SDK's streaming
// API, discarding tool-use events per the streaming contract.
func (p *AnthropicProvider) Stream(ctx context.Context, req Request) (<-chan StreamChunk, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	messages, system, err := splitSystemMessage(req.Messages)
	if err != nil {
		return nil, NewProviderError("anthropic", model, err)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  messages,
		MaxTokens: int64(maxTokensOrDefault(req.MaxTokens)),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	stream := p.client.Messages.NewStreaming(ctx, params)
	out := make(chan StreamChunk)

	go func() {
		defer close(out)
		for stream.Next() {
			event := stream.Current()
			if delta := event.Delta; delta.Text != "" {
				select {
				case out <- StreamChunk{Text: delta.Text}:
				case <-ctx.Done():
					return
				}
			}
		}
		if err := stream.Err(); err != nil {
			out <- StreamChunk{Err: NewProviderError("anthropic", model, err)}
			return
		}
		out <- StreamChunk{Done: true}
	}()

	return out, nil
}

func splitSystemMessage(messages []agentmodel.Message) ([]anthropic.MessageParam, string, error) {
	var system string
	var result []anthropic.MessageParam

	for _, msg := range messages {
		if msg.Role == agentmodel.RoleSystem {
			if system != "" {
				system += "\n\n"
			}
			system += msg.Content
			continue
		}

		var blocks []anthropic.ContentBlockParamUnion
		if msg.Content != "" {
			if msg.Role == agentmodel.RoleTool {
				blocks = append(blocks, anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, false))
			} else {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
		}
		for _, tc := range msg.ToolCalls {
			blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, tc.Arguments, tc.Name))
		}

		if msg.Role == agentmodel.RoleAssistant {
			result = append(result, anthropic.NewAssistantMessage(blocks...))
		} else {
			result = append(result, anthropic.NewUserMessage(blocks...))
		}
	}

	return result, system, nil
}

func convertAnthropicTools(tools []agentmodel.ToolDefinition) []anthropic.ToolUnionParam {
	result := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		schema := anthropic.ToolInputSchemaParam{
			Properties: t.Parameters.Properties,
		}
		result = append(result, anthropic.ToolUnionParamOfTool(schema, t.Name))
	}
	return result
}

func anthropicResponse(msg *anthropic.Message, model string) *Response {
	resp := &Response{
		Model:        model,
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
	}
	for _, block := range msg.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			resp.Content += variant.Text
		case anthropic.ToolUseBlock:
			args, _ := variant.Input.(map[string]any)
			resp.ToolCalls = append(resp.ToolCalls, agentmodel.ToolCall{
				ID:        variant.ID,
				Name:      variant.Name,
				Arguments: args,
			})
		}
	}

	switch msg.StopReason {
	case anthropic.StopReasonToolUse:
		resp.StopReason = StopToolUse
	case anthropic.StopReasonMaxTokens:
		resp.StopReason = StopMaxTokens
	case anthropic.StopReasonStopSequence:
		resp.StopReason = StopSequence
	default:
		resp.StopReason = StopEndTurn
	}
	return resp
}

func maxTokensOrDefault(n int) int {
	if n <= 0 {
		return 4096
	}
	return n
}
