// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package policyagent

import (
	"context"
	"encoding/json"
	"os"
	"sync/atomic"

	"github.com/google/uuid"

	"aegis.dev/aegis/internal/clock"
	"aegis.dev/aegis/internal/record"
)

// Rule is one row of a decision table: if every non-zero-valued bound
// below is satisfied, Action fires. A zero bound means "no constraint
// on this field". Rows are evaluated in table order; the first match
// wins.
type Rule struct {
	MinThreatScore         float64       `json:"min_threat_score"`
	MinSourceReputation    float64       `json:"min_source_reputation"`
	MinAssetCriticality    float64       `json:"min_asset_criticality"`
	MinTimeOfDayRisk       float64       `json:"min_time_of_day_risk"`
	MinHistoricalAlertRate float64       `json:"min_historical_alert_rate"`
	Action                 record.Action `json:"action"`
	RateLimitPerSecond     uint64        `json:"rate_limit_per_second,omitempty"`
}

// ArtifactPolicyData is the JSON shape of an ArtifactPolicy's decision
// table: a versioned, ordered list of Rules.
type ArtifactPolicyData struct {
	Version int    `json:"version"`
	Rules   []Rule `json:"rules"`
}

func (r Rule) matches(det record.Detection, state StateVector) bool {
	return det.AggregateScore >= r.MinThreatScore &&
		state.SourceReputation >= r.MinSourceReputation &&
		state.AssetCriticality >= r.MinAssetCriticality &&
		state.TimeOfDayRisk >= r.MinTimeOfDayRisk &&
		state.HistoricalAlertRate >= r.MinHistoricalAlertRate
}

// ArtifactPolicy is a hot-reloadable, versioned decision table:
// "trained policy" is left unspecified beyond its I/O contract, so
// this implements a deterministic lookup rather than a learned model.
type ArtifactPolicy struct {
	data atomic.Pointer[ArtifactPolicyData]
}

// NewArtifactPolicy constructs an ArtifactPolicy from an already-loaded
// table.
func NewArtifactPolicy(data *ArtifactPolicyData) *ArtifactPolicy {
	p := &ArtifactPolicy{}
	p.data.Store(data)
	return p
}

// LoadArtifactPolicyFile loads an ArtifactPolicyData from a JSON file at
// path.
func LoadArtifactPolicyFile(path string) (*ArtifactPolicyData, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var d ArtifactPolicyData
	if err := json.Unmarshal(b, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// SetData atomically swaps the decision table (artifact reload).
func (p *ArtifactPolicy) SetData(data *ArtifactPolicyData) {
	p.data.Store(data)
}

func (p *ArtifactPolicy) ID() string { return "artifact_policy" }

// Decide evaluates the table in order and returns the first matching
// rule's action; ErrAgentUnavailable if no table is loaded or no rule
// matches, letting the Chain fall through to the next agent.
func (p *ArtifactPolicy) Decide(ctx context.Context, det record.Detection, state StateVector) (record.Decision, error) {
	data := p.data.Load()
	if data == nil {
		return record.Decision{}, ErrAgentUnavailable
	}
	select {
	case <-ctx.Done():
		return record.Decision{}, ctx.Err()
	default:
	}
	for _, r := range data.Rules {
		if r.matches(det, state) {
			return record.Decision{
				DecisionID:  uuid.NewString(),
				DetectionID: det.DetectionID,
				Action:      r.Action,
				Parameters:  record.DecisionParameters{RateLimitPerSecond: r.RateLimitPerSecond},
				Confidence:  det.AggregateScore,
				AgentID:     p.ID(),
				DecidedAt:   clock.Now(),
			}, nil
		}
	}
	return record.Decision{}, ErrAgentUnavailable
}
