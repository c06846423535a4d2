// Package llm defines the provider-agnostic LLM client contract and its
// Anthropic, OpenAI, Ollama, and Bedrock implementations.
package llm

import (
	"context"

	"github.com/agentsh/agentsh/internal/agentmodel"
)

// StopReason is the normalized reason an Invoke call stopped generating.
type StopReason string

const (
	StopEndTurn   StopReason = "end_turn"
	StopToolUse   StopReason = "tool_use"
	StopMaxTokens StopReason = "max_tokens"
	StopSequence  StopReason = "stop_sequence"
	StopError     StopReason = "error"
)

// Request is a single completion request, provider-agnostic.
type Request struct {
	Model       string
	Messages    []agentmodel.Message
	Tools       []agentmodel.ToolDefinition
	Temperature float64
	MaxTokens   int
}

// Response is the normalized result of one Invoke call.
type Response struct {
	Content      string
	ToolCalls    []agentmodel.ToolCall
	StopReason   StopReason
	InputTokens  int
	OutputTokens int
	Model        string
}

// StreamChunk is one piece of a streamed text response. Tool use is not
// part of the streaming contract; streamed chunks are textual only.
type StreamChunk struct {
	Text string
	Done bool
	Err  error
}

// Client is the polymorphic contract every LLM provider implements.
// Implementations must be safe for concurrent use, must preserve
// assistant/tool message ordering, must surface token usage when the
// API supplies it (zero otherwise), and must map provider stop-reason
// strings into StopReason deterministically.
type Client interface {
	// Invoke blocks until the provider returns a complete response.
	Invoke(ctx context.Context, req Request) (*Response, error)

	// Stream returns a channel of text-only chunks. The channel is
	// closed once a chunk with Done set to true (or an error) has been
	// sent.
	Stream(ctx context.Context, req Request) (<-chan StreamChunk, error)

	// Name identifies the provider for logging, metrics, and the
	// "provider/model" routing convention.
	Name() string
}
