// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package policyagent

import (
	"context"

	"github.com/google/uuid"

	"aegis.dev/aegis/internal/clock"
	"aegis.dev/aegis/internal/record"
)

// FallbackAgent implements the exact fixed rule table from §4.C and
// never returns ErrAgentUnavailable: it is the guaranteed-available last
// link in a Chain.
type FallbackAgent struct {
	high, medium, low float64
}

// NewFallbackAgent builds a FallbackAgent from the three aggregate_score
// thresholds that separate deny / rate_limit:med / monitor.
func NewFallbackAgent(high, medium, low float64) *FallbackAgent {
	return &FallbackAgent{high: high, medium: medium, low: low}
}

// DefaultFallbackAgent uses the conservative thresholds named in §4.C's
// worked example.
func DefaultFallbackAgent() *FallbackAgent {
	return NewFallbackAgent(0.85, 0.6, 0.3)
}

func (f *FallbackAgent) ID() string { return "fallback" }

// Decide applies: aggregate_score >= high -> deny; >= medium ->
// rate_limit:med; >= low -> monitor; otherwise (including "unknown",
// NaN-scored Detections) -> monitor.
func (f *FallbackAgent) Decide(_ context.Context, det record.Detection, _ StateVector) (record.Decision, error) {
	action := record.ActionMonitor
	switch {
	case det.AggregateLabel == "unknown":
		action = record.ActionMonitor
	case det.AggregateScore >= f.high:
		action = record.ActionDeny
	case det.AggregateScore >= f.medium:
		action = record.ActionRateLimitMed
	case det.AggregateScore >= f.low:
		action = record.ActionMonitor
	}
	return record.Decision{
		DecisionID:  uuid.NewString(),
		DetectionID: det.DetectionID,
		Action:      action,
		Confidence:  det.AggregateScore,
		AgentID:     f.ID(),
		DecidedAt:   clock.Now(),
	}, nil
}
