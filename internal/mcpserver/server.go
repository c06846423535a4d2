// Package mcpserver implements the `--mcp-server` remote-integration
// surface: a gRPC service exposing tool invocation and the approval
// flow to out-of-process MCP clients, hand-declared against
// google.golang.org/grpc's ServiceDesc rather than protoc-generated
// stubs (no .proto toolchain is part of this build), using
// google.golang.org/protobuf's structpb.Struct as the wire message so
// the standard "proto" codec still applies.
package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/agentsh/agentsh/internal/agentmodel"
)

const serviceName = "agentsh.mcp.MCPService"

var (
	ErrUnknownRequest = errors.New("mcpserver: unknown pending approval request")
	ErrNoApprover     = errors.New("mcpserver: no MCP client connected to approve")
)

// ToolInvoker is the narrow view of tools.Runner the Invoke RPC needs;
// *tools.Runner satisfies this directly via its Run method.
type ToolInvoker interface {
	Run(ctx context.Context, toolCtx agentmodel.ToolContext, name string, args map[string]any) agentmodel.ToolResult
}

// Server implements the MCP gRPC service and doubles as an
// agentloop.ApprovalFlow, forwarding approval requests to whichever
// MCP client is currently streaming StreamApprovals and waiting for
// that client's ResolveApproval call.
type Server struct {
	invoker ToolInvoker

	mu      sync.Mutex
	pending map[string]chan agentmodel.ApprovalResult
	clients []chan *agentmodel.ApprovalRequest
}

// New builds a Server dispatching tool invocations through invoker.
// invoker may be nil when the Server is needed as an agentloop.ApprovalFlow
// before its eventual ToolInvoker exists yet (the tool Runner's security
// gate takes the Server as its approval flow, so the two are built in two
// steps); call SetInvoker once the invoker is constructed.
func New(invoker ToolInvoker) *Server {
	return &Server{
		invoker: invoker,
		pending: map[string]chan agentmodel.ApprovalResult{},
	}
}

// SetInvoker wires (or replaces) the ToolInvoker the Invoke RPC
// dispatches through.
func (srv *Server) SetInvoker(invoker ToolInvoker) {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	srv.invoker = invoker
}

// Register attaches the MCP service to s using a hand-built
// ServiceDesc (see package doc).
func (srv *Server) Register(s *grpc.Server) {
	s.RegisterService(&serviceDesc, srv)
}

// Request implements agentloop.ApprovalFlow: it broadcasts req to every
// connected StreamApprovals client and blocks until a client resolves
// it via ResolveApproval, req.Timeout elapses, or ctx is cancelled.
func (srv *Server) Request(ctx context.Context, req *agentmodel.ApprovalRequest) (agentmodel.ApprovalResult, error) {
	srv.mu.Lock()
	if len(srv.clients) == 0 {
		srv.mu.Unlock()
		return agentmodel.ApprovalResult{}, ErrNoApprover
	}
	wait := make(chan agentmodel.ApprovalResult, 1)
	srv.pending[req.RequestID] = wait
	for _, c := range srv.clients {
		select {
		case c <- req:
		default:
		}
	}
	srv.mu.Unlock()

	defer func() {
		srv.mu.Lock()
		delete(srv.pending, req.RequestID)
		srv.mu.Unlock()
	}()

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case result := <-wait:
		return result, nil
	case <-timer.C:
		return agentmodel.ApprovalResult{Outcome: agentmodel.ApprovalTimeout}, nil
	case <-ctx.Done():
		return agentmodel.ApprovalResult{}, ctx.Err()
	}
}

// invoke handles the Invoke RPC: {"tool": string, "arguments": object}.
func (srv *Server) invoke(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	fields := req.AsMap()
	tool, _ := fields["tool"].(string)
	if tool == "" {
		return nil, fmt.Errorf("mcpserver: invoke request missing tool name")
	}
	args, _ := fields["arguments"].(map[string]any)

	srv.mu.Lock()
	invoker := srv.invoker
	srv.mu.Unlock()
	if invoker == nil {
		return nil, fmt.Errorf("mcpserver: no tool invoker wired yet")
	}
	result := invoker.Run(ctx, agentmodel.ToolContext{}, tool, args)

	resp, err := structpb.NewStruct(map[string]any{
		"success": result.Success,
		"output":  result.Output,
		"error":   result.Error,
	})
	if err != nil {
		return nil, fmt.Errorf("mcpserver: encode invoke response: %w", err)
	}
	return resp, nil
}

// streamApprovals handles the StreamApprovals RPC: the client opens
// the stream once and receives a Struct per pending ApprovalRequest
// until the context is cancelled.
func (srv *Server) streamApprovals(stream grpc.ServerStream) error {
	ch := make(chan *agentmodel.ApprovalRequest, 16)
	srv.mu.Lock()
	srv.clients = append(srv.clients, ch)
	srv.mu.Unlock()

	defer func() {
		srv.mu.Lock()
		for i, c := range srv.clients {
			if c == ch {
				srv.clients = append(srv.clients[:i], srv.clients[i+1:]...)
				break
			}
		}
		srv.mu.Unlock()
	}()

	for {
		select {
		case req := <-ch:
			payload, err := structpb.NewStruct(map[string]any{
				"request_id":   req.RequestID,
				"tool_call_id": req.ToolCallID,
				"command":      req.Command,
				"risk":         string(req.Risk),
				"reasons":      toAnySlice(req.Reasons),
				"work_dir":     req.WorkDir,
				"device_id":    req.DeviceID,
			})
			if err != nil {
				return err
			}
			if err := stream.SendMsg(payload); err != nil {
				return err
			}
		case <-stream.Context().Done():
			return nil
		}
	}
}

// resolveApproval handles the ResolveApproval RPC:
// {"request_id": string, "outcome": string, "new_command": string, "approver": string}.
func (srv *Server) resolveApproval(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	fields := req.AsMap()
	requestID, _ := fields["request_id"].(string)
	outcome, _ := fields["outcome"].(string)
	newCommand, _ := fields["new_command"].(string)
	approver, _ := fields["approver"].(string)

	srv.mu.Lock()
	wait, ok := srv.pending[requestID]
	srv.mu.Unlock()
	if !ok {
		return nil, ErrUnknownRequest
	}

	result := agentmodel.ApprovalResult{
		Outcome:    agentmodel.ApprovalOutcome(outcome),
		NewCommand: newCommand,
		Approver:   approver,
	}
	select {
	case wait <- result:
	default:
	}

	return structpb.NewStruct(map[string]any{"accepted": true})
}

func toAnySlice(s []string) []any {
	out := make([]any, len(s))
	for i, v := range s {
		out[i] = v
	}
	return out
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*Server)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Invoke",
			Handler: func(s any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
				req := new(structpb.Struct)
				if err := dec(req); err != nil {
					return nil, err
				}
				srv := s.(*Server)
				if interceptor == nil {
					return srv.invoke(ctx, req)
				}
				info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/Invoke"}
				handler := func(ctx context.Context, req any) (any, error) {
					return srv.invoke(ctx, req.(*structpb.Struct))
				}
				return interceptor(ctx, req, info, handler)
			},
		},
		{
			MethodName: "ResolveApproval",
			Handler: func(s any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
				req := new(structpb.Struct)
				if err := dec(req); err != nil {
					return nil, err
				}
				srv := s.(*Server)
				if interceptor == nil {
					return srv.resolveApproval(ctx, req)
				}
				info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/ResolveApproval"}
				handler := func(ctx context.Context, req any) (any, error) {
					return srv.resolveApproval(ctx, req.(*structpb.Struct))
				}
				return interceptor(ctx, req, info, handler)
			},
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "StreamApprovals",
			ServerStreams: true,
			Handler: func(s any, stream grpc.ServerStream) error {
				srv := s.(*Server)
				return srv.streamApprovals(stream)
			},
		},
	},
	Metadata: "agentsh/mcpserver.proto",
}
