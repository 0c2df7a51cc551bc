// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package rpc

import (
	"context"

	"google.golang.org/grpc"
)

// serviceName is this service's gRPC path prefix, mirroring the
// package/service naming a .proto file would declare.
const serviceName = "aegis.pipeline.v1.Pipeline"

// PipelineServer is implemented by Server and invoked by ServiceDesc's
// method handlers below, standing in for what protoc-gen-go-grpc would
// otherwise generate from a .proto definition.
type PipelineServer interface {
	Detect(ctx context.Context, req *DetectRequest) (*DetectResponse, error)
	Decide(ctx context.Context, req *DecideRequest) (*DecideResponse, error)
	Apply(ctx context.Context, req *ApplyRequest) (*ApplyResponse, error)
	Rollback(ctx context.Context, req *RollbackRequest) (*RollbackResponse, error)
	ListRules(ctx context.Context, req *ListRulesRequest) (*ListRulesResponse, error)
	GetAudit(ctx context.Context, req *GetAuditRequest) (*GetAuditResponse, error)
}

// RegisterPipelineServer registers srv against s under ServiceDesc,
// the hand-rolled equivalent of a generated RegisterPipelineServer
// function.
func RegisterPipelineServer(s *grpc.Server, srv PipelineServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// ServiceDesc describes the six synchronous-surface RPCs as a
// grpc.ServiceDesc, the structure protoc-gen-go-grpc would otherwise
// emit.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*PipelineServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Detect", Handler: detectHandler},
		{MethodName: "Decide", Handler: decideHandler},
		{MethodName: "Apply", Handler: applyHandler},
		{MethodName: "Rollback", Handler: rollbackHandler},
		{MethodName: "ListRules", Handler: listRulesHandler},
		{MethodName: "GetAudit", Handler: getAuditHandler},
	},
	Metadata: "internal/pipeline/rpc/service.go",
}

func detectHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(DetectRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(PipelineServer).Detect(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: serviceName + "/Detect"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(PipelineServer).Detect(ctx, req.(*DetectRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func decideHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(DecideRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(PipelineServer).Decide(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: serviceName + "/Decide"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(PipelineServer).Decide(ctx, req.(*DecideRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func applyHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ApplyRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(PipelineServer).Apply(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: serviceName + "/Apply"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(PipelineServer).Apply(ctx, req.(*ApplyRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func rollbackHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(RollbackRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(PipelineServer).Rollback(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: serviceName + "/Rollback"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(PipelineServer).Rollback(ctx, req.(*RollbackRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func listRulesHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ListRulesRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(PipelineServer).ListRules(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: serviceName + "/ListRules"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(PipelineServer).ListRules(ctx, req.(*ListRulesRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func getAuditHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(GetAuditRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(PipelineServer).GetAudit(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: serviceName + "/GetAudit"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(PipelineServer).GetAudit(ctx, req.(*GetAuditRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// Client is a thin wrapper over a *grpc.ClientConn invoking this
// service's six methods directly through grpc.ClientConn.Invoke,
// standing in for a generated PipelineClient.
type Client struct {
	conn *grpc.ClientConn
}

// NewClient wraps an already-dialed connection. Callers should dial
// with grpc.WithDefaultCallOptions(grpc.ForceCodec(jsonCodec{})) so
// requests/responses are marshaled with this package's JSON codec.
func NewClient(conn *grpc.ClientConn) *Client {
	return &Client{conn: conn}
}

func (c *Client) Detect(ctx context.Context, req *DetectRequest, opts ...grpc.CallOption) (*DetectResponse, error) {
	out := new(DetectResponse)
	if err := c.conn.Invoke(ctx, serviceName+"/Detect", req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Decide(ctx context.Context, req *DecideRequest, opts ...grpc.CallOption) (*DecideResponse, error) {
	out := new(DecideResponse)
	if err := c.conn.Invoke(ctx, serviceName+"/Decide", req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Apply(ctx context.Context, req *ApplyRequest, opts ...grpc.CallOption) (*ApplyResponse, error) {
	out := new(ApplyResponse)
	if err := c.conn.Invoke(ctx, serviceName+"/Apply", req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Rollback(ctx context.Context, req *RollbackRequest, opts ...grpc.CallOption) (*RollbackResponse, error) {
	out := new(RollbackResponse)
	if err := c.conn.Invoke(ctx, serviceName+"/Rollback", req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ListRules(ctx context.Context, req *ListRulesRequest, opts ...grpc.CallOption) (*ListRulesResponse, error) {
	out := new(ListRulesResponse)
	if err := c.conn.Invoke(ctx, serviceName+"/ListRules", req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetAudit(ctx context.Context, req *GetAuditRequest, opts ...grpc.CallOption) (*GetAuditResponse, error) {
	out := new(GetAuditResponse)
	if err := c.conn.Invoke(ctx, serviceName+"/GetAudit", req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
