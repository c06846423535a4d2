package llm

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/agentsh/agentsh/internal/agentmodel"
)

// BedrockConfig configures a BedrockProvider, fronting Anthropic/Claude
// (and other foundation) models hosted on AWS Bedrock.
type BedrockConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	DefaultModel    string
	MaxRetries      int
}

// BedrockProvider implements Client against the Bedrock Converse API.
type BedrockProvider struct {
	client       *bedrockruntime.Client
	defaultModel string
	maxRetries   int
}

// NewBedrockProvider constructs a Client backed by the AWS SDK's Bedrock
// Runtime client. Credentials fall back to the default AWS chain (env,
// shared config, IAM role) when AccessKeyID is empty.
func NewBedrockProvider(ctx context.Context, cfg BedrockConfig) (*BedrockProvider, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	model := cfg.DefaultModel
	if model == "" {
		model = "anthropic.claude-3-sonnet-20240229-v1:0"
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("llm: bedrock: failed to load AWS config: %w", err)
	}

	return &BedrockProvider{
		client:       bedrockruntime.NewFromConfig(awsCfg),
		defaultModel: model,
		maxRetries:   maxRetries,
	}, nil
}

func (p *BedrockProvider) Name() string { return "bedrock" }

// Invoke sends one blocking Converse request.
func (p *BedrockProvider) Invoke(ctx context.Context, req Request) (*Response, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	messages, system := convertBedrockMessages(req.Messages)

	input := &bedrockruntime.ConverseInput{
		ModelId:  aws.String(model),
		Messages: messages,
	}
	if system != "" {
		input.System = []types.SystemContentBlock{&types.SystemContentBlockMemberText{Value: system}}
	}
	if req.MaxTokens > 0 {
		input.InferenceConfig = &types.InferenceConfiguration{MaxTokens: aws.Int32(int32(req.MaxTokens))}
	}
	if len(req.Tools) > 0 {
		input.ToolConfig = convertBedrockTools(req.Tools)
	}

	var out *bedrockruntime.ConverseOutput
	err := Retry(ctx, p.maxRetries, func(ctx context.Context) error {
		result, callErr := p.client.Converse(ctx, input)
		if callErr != nil {
			return NewProviderError("bedrock", model, callErr)
		}
		out = result
		return nil
	})
	if err != nil {
		return nil, err
	}

	return bedrockResponse(out, model), nil
}

// Stream is not supported by the Converse API variant this provider
// uses; it falls back to a single blocking Invoke delivered as one
// chunk, which still satisfies the text-only streaming contract.
func (p *BedrockProvider) Stream(ctx context.Context, req Request) (<-chan StreamChunk, error) {
	resp, err := p.Invoke(ctx, req)
	out := make(chan StreamChunk, 2)
	if err != nil {
		out <- StreamChunk{Err: err}
		close(out)
		return out, nil
	}
	out <- StreamChunk{Text: resp.Content}
	out <- StreamChunk{Done: true}
	close(out)
	return out, nil
}

func convertBedrockMessages(messages []agentmodel.Message) ([]types.Message, string) {
	var system string
	var result []types.Message

	for _, msg := range messages {
		if msg.Role == agentmodel.RoleSystem {
			if system != "" {
				system += "\n\n"
			}
			system += msg.Content
			continue
		}

		var blocks []types.ContentBlock
		if msg.Content != "" {
			if msg.Role == agentmodel.RoleTool {
				blocks = append(blocks, &types.ContentBlockMemberToolResult{
					Value: types.ToolResultBlock{
						ToolUseId: aws.String(msg.ToolCallID),
						Content:   []types.ToolResultContentBlock{&types.ToolResultContentBlockMemberText{Value: msg.Content}},
					},
				})
			} else {
				blocks = append(blocks, &types.ContentBlockMemberText{Value: msg.Content})
			}
		}
		for _, tc := range msg.ToolCalls {
			blocks = append(blocks, &types.ContentBlockMemberToolUse{
				Value: types.ToolUseBlock{
					ToolUseId: aws.String(tc.ID),
					Name:      aws.String(tc.Name),
					Input:     toolInputDocument(tc.Arguments),
				},
			})
		}

		role := types.ConversationRoleUser
		if msg.Role == agentmodel.RoleAssistant {
			role = types.ConversationRoleAssistant
		}
		result = append(result, types.Message{Role: role, Content: blocks})
	}

	return result, system
}

func convertBedrockTools(tools []agentmodel.ToolDefinition) *types.ToolConfiguration {
	specs := make([]types.Tool, 0, len(tools))
	for _, t := range tools {
		specs = append(specs, &types.ToolMemberToolSpec{
			Value: types.ToolSpecification{
				Name:        aws.String(t.Name),
				Description: aws.String(t.Description),
				InputSchema: &types.ToolInputSchemaMemberJson{
					Value: toolInputDocument(map[string]any{
						"type":       t.Parameters.Type,
						"properties": t.Parameters.Properties,
						"required":   t.Parameters.Required,
					}),
				},
			},
		})
	}
	return &types.ToolConfiguration{Tools: specs}
}

func bedrockResponse(out *bedrockruntime.ConverseOutput, model string) *Response {
	resp := &Response{Model: model, StopReason: StopEndTurn}

	if out.Usage != nil {
		resp.InputTokens = int(aws.ToInt32(out.Usage.InputTokens))
		resp.OutputTokens = int(aws.ToInt32(out.Usage.OutputTokens))
	}

	if msgOut, ok := out.Output.(*types.ConverseOutputMemberMessage); ok {
		for _, block := range msgOut.Value.Content {
			switch variant := block.(type) {
			case *types.ContentBlockMemberText:
				resp.Content += variant.Value
			case *types.ContentBlockMemberToolUse:
				resp.ToolCalls = append(resp.ToolCalls, agentmodel.ToolCall{
					ID:        aws.ToString(variant.Value.ToolUseId),
					Name:      aws.ToString(variant.Value.Name),
					Arguments: documentToMap(variant.Value.Input),
				})
			}
		}
	}

	switch out.StopReason {
	case types.StopReasonToolUse:
		resp.StopReason = StopToolUse
	case types.StopReasonMaxTokens:
		resp.StopReason = StopMaxTokens
	case types.StopReasonStopSequence:
		resp.StopReason = StopSequence
	}
	return resp
}

// toolInputDocument wraps a plain argument map as a Bedrock smithy
// document for the Converse API's untyped tool-input fields.
func toolInputDocument(args map[string]any) document.Interface {
	return document.NewLazyDocument(args)
}

// documentToMap unmarshals a Bedrock smithy document back into a plain
// Go map, as needed to present a ToolUseBlock's Input as arguments.
func documentToMap(doc document.Interface) map[string]any {
	if doc == nil {
		return nil
	}
	var out map[string]any
	if err := doc.UnmarshalSmithyDocument(&out); err != nil {
		return nil
	}
	return out
}
