package llm

import (
	"io"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agentsh/agentsh/internal/agentmodel"
)

// PoolConfig configures a provider's shared HTTP client.
type PoolConfig struct {
	Timeout         time.Duration
	ConnectTimeout  time.Duration
	ReadTimeout     time.Duration
	MaxConnections  int
	KeepAliveCount  int
	KeepAliveExpiry time.Duration
	EnableHTTP2     bool
	MaxRetries      int
}

// DefaultPoolConfig mirrors the defaults a production deployment ships.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		Timeout:         60 * time.Second,
		ConnectTimeout:  10 * time.Second,
		ReadTimeout:     60 * time.Second,
		MaxConnections:  100,
		KeepAliveCount:  20,
		KeepAliveExpiry: 90 * time.Second,
		EnableHTTP2:     true,
		MaxRetries:      2,
	}
}

type pooledClient struct {
	client *http.Client
	stats  statsCounters
}

type statsCounters struct {
	requests      atomic.Int64
	failures      atomic.Int64
	bytesSent     atomic.Int64
	bytesReceived atomic.Int64
	totalLatency  atomic.Int64 // nanoseconds
}

func (c *statsCounters) snapshot() agentmodel.ProviderStats {
	return agentmodel.ProviderStats{
		Requests:      c.requests.Load(),
		Failures:      c.failures.Load(),
		BytesSent:     c.bytesSent.Load(),
		BytesReceived: c.bytesReceived.Load(),
		TotalLatency:  time.Duration(c.totalLatency.Load()),
	}
}

// HTTPPool caches one *http.Client per named provider, keyed by provider
// name rather than credential, and tracks per-provider ProviderStats. It
// is safe for concurrent use.
type HTTPPool struct {
	mu      sync.Mutex
	clients map[string]*pooledClient
}

// NewHTTPPool creates an empty pool.
func NewHTTPPool() *HTTPPool {
	return &HTTPPool{clients: make(map[string]*pooledClient)}
}

// Client returns the *http.Client for name, constructing one from cfg on
// first use.
func (p *HTTPPool) Client(name string, cfg PoolConfig) *http.Client {
	p.mu.Lock()
	defer p.mu.Unlock()

	if pc, ok := p.clients[name]; ok {
		return pc.client
	}

	transport := &http.Transport{
		MaxIdleConns:        cfg.MaxConnections,
		MaxIdleConnsPerHost: cfg.KeepAliveCount,
		IdleConnTimeout:     cfg.KeepAliveExpiry,
		DialContext: (&net.Dialer{
			Timeout: cfg.ConnectTimeout,
		}).DialContext,
		ForceAttemptHTTP2: cfg.EnableHTTP2,
	}

	pc := &pooledClient{
		client: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
		},
	}
	p.clients[name] = pc
	return pc.client
}

// RecordRequest updates a provider's stats after one HTTP round trip.
func (p *HTTPPool) RecordRequest(name string, sent, received int64, latency time.Duration, failed bool) {
	p.mu.Lock()
	pc, ok := p.clients[name]
	p.mu.Unlock()
	if !ok {
		return
	}
	pc.stats.requests.Add(1)
	if failed {
		pc.stats.failures.Add(1)
	}
	pc.stats.bytesSent.Add(sent)
	pc.stats.bytesReceived.Add(received)
	pc.stats.totalLatency.Add(int64(latency))
}

// Stats returns a point-in-time snapshot of a provider's ProviderStats.
func (p *HTTPPool) Stats(name string) agentmodel.ProviderStats {
	p.mu.Lock()
	pc, ok := p.clients[name]
	p.mu.Unlock()
	if !ok {
		return agentmodel.ProviderStats{}
	}
	return pc.stats.snapshot()
}

// Close shuts down idle connections for every pooled client.
func (p *HTTPPool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, pc := range p.clients {
		if t, ok := pc.client.Transport.(*http.Transport); ok {
			t.CloseIdleConnections()
		}
	}
	return nil
}

var _ io.Closer = (*HTTPPool)(nil)
