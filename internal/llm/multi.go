package llm

import (
	"context"
	"fmt"
	"strings"
)

// MultiProvider routes a Request to one of several named Clients based
// on the "provider/model" convention: a request's Model field is split
// on the first "/" to pick a provider, and the remainder is passed
// through as the provider-local model identifier.
type MultiProvider struct {
	providers       map[string]Client
	defaultClient   Client
	defaultProvider string
}

// NewMultiProvider builds a router over the given named clients.
// defaultProvider selects which client handles a Model with no "/"
// prefix.
func NewMultiProvider(clients map[string]Client, defaultProvider string) (*MultiProvider, error) {
	def, ok := clients[defaultProvider]
	if !ok {
		return nil, fmt.Errorf("llm: default provider %q not among registered clients", defaultProvider)
	}
	return &MultiProvider{providers: clients, defaultClient: def, defaultProvider: defaultProvider}, nil
}

func (m *MultiProvider) Name() string { return "multi" }

func (m *MultiProvider) resolve(model string) (Client, string) {
	if provider, rest, ok := strings.Cut(model, "/"); ok {
		if client, ok := m.providers[provider]; ok {
			return client, rest
		}
	}
	return m.defaultClient, model
}

// Invoke dispatches to the provider named by req.Model's prefix.
func (m *MultiProvider) Invoke(ctx context.Context, req Request) (*Response, error) {
	client, localModel := m.resolve(req.Model)
	req.Model = localModel
	return client.Invoke(ctx, req)
}

// Stream dispatches to the provider named by req.Model's prefix.
func (m *MultiProvider) Stream(ctx context.Context, req Request) (<-chan StreamChunk, error) {
	client, localModel := m.resolve(req.Model)
	req.Model = localModel
	return client.Stream(ctx, req)
}
