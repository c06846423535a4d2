// Package sshexec is the SSH executor: the tool transport for
// command-executing tools run against a remote device.
package sshexec

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
)

// PoolConfig configures the connection pool's dialing and concurrency
// behavior.
type PoolConfig struct {
	DialTimeout       time.Duration
	CommandTimeout    time.Duration
	MaxConnsPerHost   int
	GlobalConcurrency int
}

// DefaultPoolConfig mirrors the defaults a production deployment ships.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		DialTimeout:       10 * time.Second,
		CommandTimeout:    60 * time.Second,
		MaxConnsPerHost:   4,
		GlobalConcurrency: 16,
	}
}

// ConnKey identifies one pooled connection by the identity it was
// dialed under.
type ConnKey struct {
	Host        string
	User        string
	Port        int
	Fingerprint string
}

func (k ConnKey) String() string {
	return fmt.Sprintf("%s@%s:%d#%s", k.User, k.Host, k.Port, k.Fingerprint)
}

type pooledConn struct {
	mu     sync.Mutex
	client *ssh.Client
	sem    chan struct{}
}

// Pool caches one *ssh.Client per (host,user,port,fingerprint) identity,
// bounded by a per-host connection cap and a process-wide semaphore so
// fan-out across many devices never exceeds a shared concurrency budget.
type Pool struct {
	cfg    PoolConfig
	signer ssh.Signer

	mu    sync.Mutex
	conns map[ConnKey]*pooledConn
	sem   chan struct{}
}

// NewPool builds a Pool that authenticates with signer and applies cfg
// (defaults substituted for zero fields).
func NewPool(signer ssh.Signer, cfg PoolConfig) *Pool {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = 60 * time.Second
	}
	if cfg.MaxConnsPerHost <= 0 {
		cfg.MaxConnsPerHost = 4
	}
	if cfg.GlobalConcurrency <= 0 {
		cfg.GlobalConcurrency = 16
	}
	return &Pool{
		cfg:    cfg,
		signer: signer,
		conns:  make(map[ConnKey]*pooledConn),
		sem:    make(chan struct{}, cfg.GlobalConcurrency),
	}
}

// Run executes command on the device identified by key, dialing a new
// connection on first use and reusing it afterward. Acquisition is
// bounded by the pool's global semaphore; command execution honors
// ctx's deadline in addition to the pool's CommandTimeout.
func (p *Pool) Run(ctx context.Context, key ConnKey, command string) (string, error) {
	select {
	case p.sem <- struct{}{}:
		defer func() { <-p.sem }()
	case <-ctx.Done():
		return "", ctx.Err()
	}

	pc, err := p.acquire(key)
	if err != nil {
		return "", fmt.Errorf("sshexec: dial %s: %w", key, err)
	}

	pc.mu.Lock()
	defer pc.mu.Unlock()

	select {
	case pc.sem <- struct{}{}:
		defer func() { <-pc.sem }()
	case <-ctx.Done():
		return "", ctx.Err()
	}

	timeout := p.cfg.CommandTimeout
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	return runOnSession(runCtx, pc.client, command)
}

func (p *Pool) acquire(key ConnKey) (*pooledConn, error) {
	p.mu.Lock()
	if pc, ok := p.conns[key]; ok {
		p.mu.Unlock()
		return pc, nil
	}
	p.mu.Unlock()

	client, err := p.dial(key)
	if err != nil {
		return nil, err
	}

	pc := &pooledConn{client: client, sem: make(chan struct{}, p.cfg.MaxConnsPerHost)}

	p.mu.Lock()
	defer p.mu.Unlock()
	if existing, ok := p.conns[key]; ok {
		client.Close()
		return existing, nil
	}
	p.conns[key] = pc
	return pc, nil
}

func (p *Pool) dial(key ConnKey) (*ssh.Client, error) {
	config := &ssh.ClientConfig{
		User:            key.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(p.signer)},
		HostKeyCallback: fingerprintCallback(key.Fingerprint),
		Timeout:         p.cfg.DialTimeout,
	}
	addr := net.JoinHostPort(key.Host, fmt.Sprintf("%d", key.Port))
	return ssh.Dial("tcp", addr, config)
}

// fingerprintCallback pins the expected host key's SHA256 fingerprint;
// an empty expected fingerprint accepts any host key (first-use pairing).
func fingerprintCallback(expected string) ssh.HostKeyCallback {
	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		if expected == "" {
			return nil
		}
		got := ssh.FingerprintSHA256(key)
		if got != expected {
			return fmt.Errorf("sshexec: host key fingerprint mismatch: got %s, want %s", got, expected)
		}
		return nil
	}
}

func runOnSession(ctx context.Context, client *ssh.Client, command string) (string, error) {
	session, err := client.NewSession()
	if err != nil {
		return "", fmt.Errorf("open session: %w", err)
	}
	defer session.Close()

	var out strings.Builder
	session.Stdout = &out
	session.Stderr = &out

	done := make(chan error, 1)
	go func() { done <- session.Run(command) }()

	select {
	case <-ctx.Done():
		session.Signal(ssh.SIGKILL)
		return out.String(), ctx.Err()
	case err := <-done:
		return out.String(), err
	}
}

// Close closes every pooled connection.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for key, pc := range p.conns {
		pc.client.Close()
		delete(p.conns, key)
	}
	return nil
}
