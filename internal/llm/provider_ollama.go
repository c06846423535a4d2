package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/agentsh/agentsh/internal/agentmodel"
)

// OllamaConfig configures an OllamaProvider. Host defaults to the
// OLLAMA_HOST environment variable, falling back to localhost.
type OllamaConfig struct {
	Host         string
	DefaultModel string
	Pool         *HTTPPool
}

// OllamaProvider implements Client against a local Ollama runtime over
// plain HTTP. Ollama has no official Go SDK, so this talks its
// /api/chat JSON endpoint directly.
type OllamaProvider struct {
	host         string
	defaultModel string
	httpClient   *http.Client
}

// NewOllamaProvider constructs a Client against a local Ollama instance.
func NewOllamaProvider(cfg OllamaConfig) *OllamaProvider {
	host := cfg.Host
	if host == "" {
		host = os.Getenv("OLLAMA_HOST")
	}
	if host == "" {
		host = "http://localhost:11434"
	}
	model := cfg.DefaultModel
	if model == "" {
		model = "llama3"
	}
	client := &http.Client{}
	if cfg.Pool != nil {
		client = cfg.Pool.Client("ollama", DefaultPoolConfig())
	}
	return &OllamaProvider{host: host, defaultModel: model, httpClient: client}
}

func (p *OllamaProvider) Name() string { return "ollama" }

type ollamaChatRequest struct {
	Model    string              `json:"model"`
	Messages []ollamaChatMessage `json:"messages"`
	Stream   bool                `json:"stream"`
}

type ollamaChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatResponse struct {
	Model   string            `json:"model"`
	Message ollamaChatMessage `json:"message"`
	Done    bool              `json:"done"`
}

// Invoke sends one blocking /api/chat request with stream=false.
func (p *OllamaProvider) Invoke(ctx context.Context, req Request) (*Response, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	body, err := json.Marshal(ollamaChatRequest{
		Model:    model,
		Messages: toOllamaMessages(req.Messages),
		Stream:   false,
	})
	if err != nil {
		return nil, NewProviderError("ollama", model, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.host+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, NewProviderError("ollama", model, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, NewProviderError("ollama", model, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return nil, (&ProviderError{Provider: "ollama", Model: model, Message: httpResp.Status}).WithStatus(httpResp.StatusCode)
	}

	var parsed ollamaChatResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&parsed); err != nil {
		return nil, NewProviderError("ollama", model, err)
	}

	return &Response{
		Content:    parsed.Message.Content,
		StopReason: StopEndTurn,
		Model:      model,
	}, nil
}

// Stream sends /api/chat with stream=true and forwards each NDJSON
// line's content as a text chunk.
func (p *OllamaProvider) Stream(ctx context.Context, req Request) (<-chan StreamChunk, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	body, err := json.Marshal(ollamaChatRequest{
		Model:    model,
		Messages: toOllamaMessages(req.Messages),
		Stream:   true,
	})
	if err != nil {
		return nil, NewProviderError("ollama", model, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.host+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, NewProviderError("ollama", model, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, NewProviderError("ollama", model, err)
	}
	if httpResp.StatusCode != http.StatusOK {
		httpResp.Body.Close()
		return nil, (&ProviderError{Provider: "ollama", Model: model, Message: httpResp.Status}).WithStatus(httpResp.StatusCode)
	}

	out := make(chan StreamChunk)
	go func() {
		defer close(out)
		defer httpResp.Body.Close()

		scanner := bufio.NewScanner(httpResp.Body)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			var chunk ollamaChatResponse
			if err := json.Unmarshal(line, &chunk); err != nil {
				out <- StreamChunk{Err: fmt.Errorf("ollama: malformed chunk: %w", err)}
				return
			}
			if chunk.Message.Content != "" {
				select {
				case out <- StreamChunk{Text: chunk.Message.Content}:
				case <-ctx.Done():
					return
				}
			}
			if chunk.Done {
				out <- StreamChunk{Done: true}
				return
			}
		}
		if err := scanner.Err(); err != nil {
			out <- StreamChunk{Err: err}
		}
	}()

	return out, nil
}

func toOllamaMessages(messages []agentmodel.Message) []ollamaChatMessage {
	result := make([]ollamaChatMessage, 0, len(messages))
	for _, msg := range messages {
		result = append(result, ollamaChatMessage{Role: string(msg.Role), Content: msg.Content})
	}
	return result
}
