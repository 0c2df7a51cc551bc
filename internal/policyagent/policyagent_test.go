// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package policyagent

import (
	"context"
	"testing"

	"aegis.dev/aegis/internal/record"
)

func TestFallbackAgentHighScoreDenies(t *testing.T) {
	a := DefaultFallbackAgent()
	det := record.Detection{AggregateScore: 0.9, AggregateLabel: "threat"}
	dec, err := a.Decide(context.Background(), det, StateVector{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dec.Action != record.ActionDeny {
		t.Fatalf("action = %s, want deny", dec.Action)
	}
}

func TestFallbackAgentUnknownMonitors(t *testing.T) {
	a := DefaultFallbackAgent()
	det := record.Detection{AggregateLabel: "unknown"}
	dec, err := a.Decide(context.Background(), det, StateVector{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dec.Action != record.ActionMonitor {
		t.Fatalf("action = %s, want monitor", dec.Action)
	}
}

func TestFallbackAgentLowScoreMonitors(t *testing.T) {
	a := DefaultFallbackAgent()
	det := record.Detection{AggregateScore: 0.1, AggregateLabel: "benign"}
	dec, err := a.Decide(context.Background(), det, StateVector{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dec.Action != record.ActionMonitor {
		t.Fatalf("action = %s, want monitor", dec.Action)
	}
}

func TestChainFallsThroughOnUnavailable(t *testing.T) {
	policy := NewArtifactPolicy(nil)
	chain := NewChain(policy, DefaultFallbackAgent())

	det := record.Detection{AggregateScore: 0.95, AggregateLabel: "threat"}
	dec, err := chain.Decide(context.Background(), det, StateVector{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dec.AgentID != "fallback" {
		t.Fatalf("agent_id = %s, want fallback", dec.AgentID)
	}
	if dec.Action != record.ActionDeny {
		t.Fatalf("action = %s, want deny", dec.Action)
	}
}

func TestArtifactPolicyMatchesFirstRule(t *testing.T) {
	policy := NewArtifactPolicy(&ArtifactPolicyData{
		Version: 1,
		Rules: []Rule{
			{MinThreatScore: 0.5, MinSourceReputation: 0.8, Action: record.ActionQuarantineLong},
			{MinThreatScore: 0.5, Action: record.ActionDeny},
		},
	})

	det := record.Detection{AggregateScore: 0.6}
	dec, err := policy.Decide(context.Background(), det, StateVector{SourceReputation: 0.9})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dec.Action != record.ActionQuarantineLong {
		t.Fatalf("action = %s, want quarantine:long", dec.Action)
	}
}

func TestArtifactPolicyNoMatchUnavailable(t *testing.T) {
	policy := NewArtifactPolicy(&ArtifactPolicyData{Rules: []Rule{
		{MinThreatScore: 0.99, Action: record.ActionDeny},
	}})
	det := record.Detection{AggregateScore: 0.1}
	_, err := policy.Decide(context.Background(), det, StateVector{})
	if err != ErrAgentUnavailable {
		t.Fatalf("err = %v, want ErrAgentUnavailable", err)
	}
}

func TestChainCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	chain := NewChain(DefaultFallbackAgent())
	_, err := chain.Decide(ctx, record.Detection{}, StateVector{})
	if err != context.Canceled {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
