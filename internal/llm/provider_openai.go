package llm

import (
	"context"
	"encoding/json"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/agentsh/agentsh/internal/agentmodel"
	"github.com/agentsh/agentsh/internal/oauthcred"
)

// OpenAIConfig configures an OpenAIProvider.
type OpenAIConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	MaxRetries   int

	// CredentialSource supplies the API key when a device profile uses
	// an OAuth-issued credential instead of a static APIKey. Consulted
	// only when APIKey is empty.
	CredentialSource oauthcred.Source
}

// OpenAIProvider implements Client against OpenAI's chat completions API.
type OpenAIProvider struct {
	client       *openai.Client
	defaultModel string
	maxRetries   int
}

// NewOpenAIProvider constructs a Client backed by the go-openai SDK.
func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	apiKey := cfg.APIKey
	if apiKey == "" && cfg.CredentialSource != nil {
		token, err := cfg.CredentialSource.Token(context.Background())
		if err != nil {
			return nil, fmt.Errorf("llm: resolve openai credential: %w", err)
		}
		apiKey = token
	}
	if apiKey == "" {
		return nil, fmt.Errorf("llm: openai API key is required")
	}
	clientCfg := openai.DefaultConfig(apiKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	model := cfg.DefaultModel
	if model == "" {
		model = "gpt-4o"
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &OpenAIProvider{
		client:       openai.NewClientWithConfig(clientCfg),
		defaultModel: model,
		maxRetries:   maxRetries,
	}, nil
}

func (p *OpenAIProvider) Name() string { return "openai" }

// Invoke sends one blocking chat-completion request, folding tool results
// into OpenAI's role="tool" message shape.
func (p *OpenAIProvider) Invoke(ctx context.Context, req Request) (*Response, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	chatReq := openai.ChatCompletionRequest{
		Model:     model,
		Messages:  convertOpenAIMessages(req.Messages),
		MaxTokens: maxTokensOrDefault(req.MaxTokens),
	}
	if req.Temperature > 0 {
		chatReq.Temperature = float32(req.Temperature)
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = convertOpenAITools(req.Tools)
	}

	var result openai.ChatCompletionResponse
	err := Retry(ctx, p.maxRetries, func(ctx context.Context) error {
		resp, callErr := p.client.CreateChatCompletion(ctx, chatReq)
		if callErr != nil {
			return NewProviderError("openai", model, callErr)
		}
		result = resp
		return nil
	})
	if err != nil {
		return nil, err
	}

	return openaiResponse(result, model), nil
}

// Stream returns a text-only chunk stream over OpenAI's SSE streaming
// endpoint.
func (p *OpenAIProvider) Stream(ctx context.Context, req Request) (<-chan StreamChunk, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	chatReq := openai.ChatCompletionRequest{
		Model:     model,
		Messages:  convertOpenAIMessages(req.Messages),
		MaxTokens: maxTokensOrDefault(req.MaxTokens),
		Stream:    true,
	}

	stream, err := p.client.CreateChatCompletionStream(ctx, chatReq)
	if err != nil {
		return nil, NewProviderError("openai", model, err)
	}

	out := make(chan StreamChunk)
	go func() {
		defer close(out)
		defer stream.Close()
		for {
			resp, err := stream.Recv()
			if err != nil {
				if err.Error() == "EOF" {
					out <- StreamChunk{Done: true}
					return
				}
				out <- StreamChunk{Err: NewProviderError("openai", model, err)}
				return
			}
			if len(resp.Choices) > 0 {
				if text := resp.Choices[0].Delta.Content; text != "" {
					select {
					case out <- StreamChunk{Text: text}:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()
	return out, nil
}

func convertOpenAIMessages(messages []agentmodel.Message) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		role := string(msg.Role)
		m := openai.ChatCompletionMessage{
			Role:    role,
			Content: msg.Content,
		}
		if msg.Role == agentmodel.RoleTool {
			m.ToolCallID = msg.ToolCallID
			m.Name = msg.Name
		}
		for _, tc := range msg.ToolCalls {
			args, _ := json.Marshal(tc.Arguments)
			m.ToolCalls = append(m.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: string(args),
				},
			})
		}
		result = append(result, m)
	}
	return result
}

func convertOpenAITools(tools []agentmodel.ToolDefinition) []openai.Tool {
	result := make([]openai.Tool, 0, len(tools))
	for _, t := range tools {
		result = append(result, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters: map[string]any{
					"type":       t.Parameters.Type,
					"properties": t.Parameters.Properties,
					"required":   t.Parameters.Required,
				},
			},
		})
	}
	return result
}

func openaiResponse(resp openai.ChatCompletionResponse, model string) *Response {
	out := &Response{
		Model:        model,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
		StopReason:   StopEndTurn,
	}
	if len(resp.Choices) == 0 {
		return out
	}
	choice := resp.Choices[0]
	out.Content = choice.Message.Content
	for _, tc := range choice.Message.ToolCalls {
		var args map[string]any
		_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
		out.ToolCalls = append(out.ToolCalls, agentmodel.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: args,
		})
	}
	switch choice.FinishReason {
	case openai.FinishReasonToolCalls, openai.FinishReasonFunctionCall:
		out.StopReason = StopToolUse
	case openai.FinishReasonLength:
		out.StopReason = StopMaxTokens
	case openai.FinishReasonStop:
		out.StopReason = StopEndTurn
	}
	return out
}
