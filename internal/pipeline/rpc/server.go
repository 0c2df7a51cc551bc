// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package rpc

import (
	"context"
	"net"

	"google.golang.org/grpc"

	"aegis.dev/aegis/internal/logging"
	"aegis.dev/aegis/internal/pipeline"
	"aegis.dev/aegis/internal/record"
)

// Server adapts a *pipeline.Pipeline to PipelineServer.
type Server struct {
	p      *pipeline.Pipeline
	logger *logging.Logger
}

// NewServer wraps p for gRPC serving.
func NewServer(p *pipeline.Pipeline, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.Default().WithComponent("pipeline.rpc")
	}
	return &Server{p: p, logger: logger}
}

func (s *Server) Detect(ctx context.Context, req *DetectRequest) (*DetectResponse, error) {
	return &DetectResponse{Detection: s.p.Detect(ctx, req.FeatureVector)}, nil
}

func (s *Server) Decide(ctx context.Context, req *DecideRequest) (*DecideResponse, error) {
	dec, err := s.p.Decide(ctx, req.Detection)
	if err != nil {
		return nil, err
	}
	return &DecideResponse{Decision: dec}, nil
}

func (s *Server) Apply(ctx context.Context, req *ApplyRequest) (*ApplyResponse, error) {
	rs, err := s.p.Apply(ctx, req.Decision)
	if err != nil {
		return nil, err
	}
	return &ApplyResponse{RuleState: rs}, nil
}

func (s *Server) Rollback(ctx context.Context, req *RollbackRequest) (*RollbackResponse, error) {
	if err := s.p.Rollback(ctx, req.RuleID); err != nil {
		return nil, err
	}
	return &RollbackResponse{}, nil
}

func (s *Server) ListRules(ctx context.Context, req *ListRulesRequest) (*ListRulesResponse, error) {
	entries := s.p.ListRules()
	resp := &ListRulesResponse{Rules: make([]RuleEntry, 0, len(entries))}
	for _, e := range entries {
		state := record.RuleState{}
		if e.State != nil {
			state = *e.State
		}
		resp.Rules = append(resp.Rules, RuleEntry{Rule: e.Rule, State: state})
	}
	return resp, nil
}

func (s *Server) GetAudit(ctx context.Context, req *GetAuditRequest) (*GetAuditResponse, error) {
	rec, err := s.p.GetAudit(req.DecisionID)
	if err != nil {
		return nil, err
	}
	return &GetAuditResponse{Record: rec}, nil
}

// Listen starts a gRPC server bound to addr, forcing the JSON codec on
// every RPC so no protobuf-generated types are required on either end.
// It blocks until ctx is cancelled or Serve returns.
func Listen(ctx context.Context, addr string, p *pipeline.Pipeline, logger *logging.Logger) error {
	if logger == nil {
		logger = logging.Default().WithComponent("pipeline.rpc")
	}
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := grpc.NewServer(grpc.ForceServerCodec(jsonCodec{}))
	RegisterPipelineServer(srv, NewServer(p, logger))

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(lis) }()

	select {
	case <-ctx.Done():
		srv.GracefulStop()
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}
