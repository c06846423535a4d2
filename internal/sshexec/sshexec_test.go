package sshexec

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"net"
	"testing"
	"time"

	"golang.org/x/crypto/ssh"
)

// startTestServer runs a minimal in-process SSH server that accepts any
// client key and echoes back the requested command as its output,
// returning the listener address and the server's host key fingerprint.
func startTestServer(t *testing.T) (addr, fingerprint string) {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate host key: %v", err)
	}
	hostSigner, err := ssh.NewSignerFromSigner(priv)
	if err != nil {
		t.Fatalf("host signer: %v", err)
	}

	config := &ssh.ServerConfig{NoClientAuth: true}
	config.AddHostKey(hostSigner)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go handleConn(conn, config)
		}
	}()

	return ln.Addr().String(), ssh.FingerprintSHA256(hostSigner.PublicKey())
}

func handleConn(conn net.Conn, config *ssh.ServerConfig) {
	sshConn, chans, reqs, err := ssh.NewServerConn(conn, config)
	if err != nil {
		return
	}
	defer sshConn.Close()
	go ssh.DiscardRequests(reqs)

	for newChan := range chans {
		if newChan.ChannelType() != "session" {
			newChan.Reject(ssh.UnknownChannelType, "unsupported channel type")
			continue
		}
		channel, requests, err := newChan.Accept()
		if err != nil {
			continue
		}
		go func() {
			defer channel.Close()
			for req := range requests {
				if req.Type == "exec" {
					// Skip the 4-byte length prefix of the exec payload.
					cmd := string(req.Payload[4:])
					channel.Write([]byte("ran: " + cmd))
					req.Reply(true, nil)
					channel.SendRequest("exit-status", false, []byte{0, 0, 0, 0})
					return
				}
				req.Reply(false, nil)
			}
		}()
	}
}

func testClientSigner(t *testing.T) ssh.Signer {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate client key: %v", err)
	}
	signer, err := ssh.NewSignerFromSigner(priv)
	if err != nil {
		t.Fatalf("client signer: %v", err)
	}
	return signer
}

func TestPoolRunExecutesCommandOverSSH(t *testing.T) {
	addr, fingerprint := startTestServer(t)
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("split host port: %v", err)
	}
	port := 0
	for _, c := range portStr {
		port = port*10 + int(c-'0')
	}

	pool := NewPool(testClientSigner(t), DefaultPoolConfig())
	t.Cleanup(func() { pool.Close() })

	key := ConnKey{Host: host, User: "agent", Port: port, Fingerprint: fingerprint}
	out, err := pool.Run(context.Background(), key, "echo hi")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if out != "ran: echo hi" {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestPoolRunRejectsWrongFingerprint(t *testing.T) {
	addr, _ := startTestServer(t)
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("split host port: %v", err)
	}
	port := 0
	for _, c := range portStr {
		port = port*10 + int(c-'0')
	}

	pool := NewPool(testClientSigner(t), DefaultPoolConfig())
	t.Cleanup(func() { pool.Close() })

	key := ConnKey{Host: host, User: "agent", Port: port, Fingerprint: "SHA256:not-the-real-one"}
	if _, err := pool.Run(context.Background(), key, "echo hi"); err == nil {
		t.Fatalf("expected fingerprint mismatch error")
	}
}

func TestPoolRunHonorsContextTimeout(t *testing.T) {
	addr, fingerprint := startTestServer(t)
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("split host port: %v", err)
	}
	port := 0
	for _, c := range portStr {
		port = port*10 + int(c-'0')
	}

	pool := NewPool(testClientSigner(t), DefaultPoolConfig())
	t.Cleanup(func() { pool.Close() })

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	key := ConnKey{Host: host, User: "agent", Port: port, Fingerprint: fingerprint}
	if _, err := pool.Run(ctx, key, "echo hi"); err == nil {
		t.Fatalf("expected context deadline error")
	}
}
