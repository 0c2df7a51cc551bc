// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package policyagent is the policy agent: it turns
// a Detection plus contextual StateVector into a Decision, trying a
// sequence of Agents and falling back to a fixed rule table when every
// trained agent is unavailable.
package policyagent

import (
	"context"
	"errors"

	"aegis.dev/aegis/internal/record"
)

// ErrAgentUnavailable is wrapped by an Agent's Decide to signal it could
// not produce a Decision (missing artifact, stale state); the caller
// falls through to the next agent in the chain.
var ErrAgentUnavailable = errors.New("policyagent: agent unavailable")

// StateVector is the fixed-slot contextual input alongside a Detection,
// each field normalized to [0,1].
type StateVector struct {
	ThreatScore         float64
	SourceReputation    float64
	AssetCriticality    float64
	TimeOfDayRisk       float64
	HistoricalAlertRate float64
}

// Agent produces a Decision from a Detection and StateVector. Decide
// must return promptly without emitting a Decision if ctx is cancelled.
type Agent interface {
	ID() string
	Decide(ctx context.Context, det record.Detection, state StateVector) (record.Decision, error)
}

// Chain tries each Agent in order, falling through to the next on
// ErrAgentUnavailable. It is conventionally constructed with a
// FallbackAgent last, which never returns ErrAgentUnavailable.
type Chain struct {
	agents []Agent
}

// NewChain builds a Chain. Panics if agents is empty — a Chain with no
// agents can never produce a Decision, which is a configuration error,
// not a runtime one.
func NewChain(agents ...Agent) *Chain {
	if len(agents) == 0 {
		panic("policyagent: NewChain requires at least one agent")
	}
	return &Chain{agents: agents}
}

// Decide tries each agent in order and returns the first successful
// Decision.
func (c *Chain) Decide(ctx context.Context, det record.Detection, state StateVector) (record.Decision, error) {
	var lastErr error
	for _, a := range c.agents {
		select {
		case <-ctx.Done():
			return record.Decision{}, ctx.Err()
		default:
		}
		dec, err := a.Decide(ctx, det, state)
		if err == nil {
			dec.AgentID = a.ID()
			return dec, nil
		}
		lastErr = err
		if !errors.Is(err, ErrAgentUnavailable) {
			return record.Decision{}, err
		}
	}
	return record.Decision{}, lastErr
}
