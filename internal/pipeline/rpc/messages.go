// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package rpc

import (
	"aegis.dev/aegis/internal/audit"
	"aegis.dev/aegis/internal/record"
)

// DetectRequest carries a pre-computed FeatureVector for one-shot
// scoring, bypassing the ingest-to-feature streaming path.
type DetectRequest struct {
	FeatureVector record.FeatureVector `json:"feature_vector"`
}

// DetectResponse wraps the resulting Detection.
type DetectResponse struct {
	Detection record.Detection `json:"detection"`
}

// DecideRequest carries the Detection to decide on.
type DecideRequest struct {
	Detection record.Detection `json:"detection"`
}

// DecideResponse wraps the resulting Decision.
type DecideResponse struct {
	Decision record.Decision `json:"decision"`
}

// ApplyRequest carries a Decision to enact.
type ApplyRequest struct {
	Decision record.Decision `json:"decision"`
}

// ApplyResponse reports the synthesized rule's id and resulting state.
type ApplyResponse struct {
	RuleState record.RuleState `json:"rule_state"`
}

// RollbackRequest names the rule to roll back.
type RollbackRequest struct {
	RuleID string `json:"rule_id"`
}

// RollbackResponse is empty; success is the absence of an error.
type RollbackResponse struct{}

// ListRulesRequest is presently filter-less; a future filter (by
// lifecycle, by match) would be added here without breaking existing
// callers, per the JSON codec's tolerance of unknown/missing fields.
type ListRulesRequest struct{}

// RuleEntry is one (rule, state) pair, flattened for wire transport
// since record.UniversalRule/RuleState are independently useful to a
// caller that only wants one side.
type RuleEntry struct {
	Rule  record.UniversalRule `json:"rule"`
	State record.RuleState     `json:"state"`
}

// ListRulesResponse carries every tracked rule.
type ListRulesResponse struct {
	Rules []RuleEntry `json:"rules"`
}

// GetAuditRequest looks up one audit Record by decision_id.
type GetAuditRequest struct {
	DecisionID string `json:"decision_id"`
}

// GetAuditResponse wraps the matching Record.
type GetAuditResponse struct {
	Record *audit.Record `json:"record"`
}
