package mcpserver

import (
	"context"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/agentsh/agentsh/internal/agentmodel"
)

type stubInvoker struct {
	result agentmodel.ToolResult
}

func (s stubInvoker) Run(ctx context.Context, toolCtx agentmodel.ToolContext, name string, args map[string]any) agentmodel.ToolResult {
	return s.result
}

func startServer(t *testing.T, srv *Server) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1024 * 1024)
	t.Cleanup(func() { lis.Close() })

	gs := grpc.NewServer()
	srv.Register(gs)
	go gs.Serve(lis)
	t.Cleanup(gs.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("grpc.NewClient() error = %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestInvokeRPC(t *testing.T) {
	srv := New(stubInvoker{result: agentmodel.ToolResult{Success: true, Output: "ok"}})
	conn := startServer(t, srv)

	req, err := structpb.NewStruct(map[string]any{
		"tool":      "shell.run",
		"arguments": map[string]any{"command": "echo hi"},
	})
	if err != nil {
		t.Fatalf("NewStruct() error = %v", err)
	}
	resp := new(structpb.Struct)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Invoke(ctx, "/"+serviceName+"/Invoke", req, resp); err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}

	fields := resp.AsMap()
	if success, _ := fields["success"].(bool); !success {
		t.Fatalf("expected success=true, got %v", fields)
	}
	if output, _ := fields["output"].(string); output != "ok" {
		t.Fatalf("expected output=ok, got %v", fields)
	}
}

func TestInvokeRPCMissingTool(t *testing.T) {
	srv := New(stubInvoker{})
	conn := startServer(t, srv)

	req, _ := structpb.NewStruct(map[string]any{})
	resp := new(structpb.Struct)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Invoke(ctx, "/"+serviceName+"/Invoke", req, resp); err == nil {
		t.Fatalf("expected error for missing tool name")
	}
}

func TestApprovalRoundTrip(t *testing.T) {
	srv := New(stubInvoker{})
	conn := startServer(t, srv)

	streamCtx, cancelStream := context.WithCancel(context.Background())
	defer cancelStream()

	stream, err := conn.NewStream(streamCtx, &grpc.StreamDesc{StreamName: "StreamApprovals", ServerStreams: true}, "/"+serviceName+"/StreamApprovals")
	if err != nil {
		t.Fatalf("NewStream() error = %v", err)
	}
	if err := stream.SendMsg(new(structpb.Struct)); err != nil {
		t.Fatalf("SendMsg() error = %v", err)
	}
	if err := stream.CloseSend(); err != nil {
		t.Fatalf("CloseSend() error = %v", err)
	}

	// Give the server a moment to register the stream before requesting
	// approval, since Request only broadcasts to already-connected clients.
	time.Sleep(50 * time.Millisecond)

	resultCh := make(chan agentmodel.ApprovalResult, 1)
	errCh := make(chan error, 1)
	go func() {
		result, err := srv.Request(context.Background(), &agentmodel.ApprovalRequest{
			RequestID: "req-1",
			Command:   "rm -rf /tmp/x",
			Timeout:   5 * time.Second,
		})
		resultCh <- result
		errCh <- err
	}()

	pushed := new(structpb.Struct)
	if err := stream.RecvMsg(pushed); err != nil {
		t.Fatalf("RecvMsg() error = %v", err)
	}
	if pushed.AsMap()["request_id"] != "req-1" {
		t.Fatalf("expected pushed request_id req-1, got %v", pushed.AsMap())
	}

	resolveReq, _ := structpb.NewStruct(map[string]any{
		"request_id": "req-1",
		"outcome":    string(agentmodel.ApprovalApproved),
		"approver":   "operator@example.com",
	})
	resolveResp := new(structpb.Struct)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Invoke(ctx, "/"+serviceName+"/ResolveApproval", resolveReq, resolveResp); err != nil {
		t.Fatalf("ResolveApproval Invoke() error = %v", err)
	}

	result := <-resultCh
	if err := <-errCh; err != nil {
		t.Fatalf("Request() error = %v", err)
	}
	if result.Outcome != agentmodel.ApprovalApproved {
		t.Fatalf("expected APPROVED, got %s", result.Outcome)
	}
	if result.Approver != "operator@example.com" {
		t.Fatalf("expected approver to round-trip, got %q", result.Approver)
	}
}

func TestRequestFailsWithNoClients(t *testing.T) {
	srv := New(stubInvoker{})
	_, err := srv.Request(context.Background(), &agentmodel.ApprovalRequest{RequestID: "req-2"})
	if err != ErrNoApprover {
		t.Fatalf("expected ErrNoApprover, got %v", err)
	}
}

func TestResolveApprovalUnknownRequest(t *testing.T) {
	srv := New(stubInvoker{})
	conn := startServer(t, srv)

	req, _ := structpb.NewStruct(map[string]any{"request_id": "does-not-exist", "outcome": "APPROVED"})
	resp := new(structpb.Struct)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Invoke(ctx, "/"+serviceName+"/ResolveApproval", req, resp); err == nil {
		t.Fatalf("expected error for unknown request id")
	}
}
