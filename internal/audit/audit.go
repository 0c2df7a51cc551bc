// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package audit is the explanation and audit stage: an
// append-only record of every Decision, its FeatureVector, per-detector
// verdicts, synthesized rule, and per-adapter outcomes, persisted to
// SQLite and mirrored to structured logging.
package audit

import (
	"encoding/json"
	"time"

	"aegis.dev/aegis/internal/record"
)

// EventType tags one audit record with the pipeline stage that produced
// it, generalized from a common auth/config/security event taxonomy
// to this system's own stages.
type EventType string

const (
	EventDetectionRecorded   EventType = "detection_recorded"
	EventDecisionRecorded    EventType = "decision_recorded"
	EventRuleApplied         EventType = "rule_applied"
	EventRuleExpired         EventType = "rule_expired"
	EventRuleRolledBack      EventType = "rule_rolled_back"
	EventValidationRejected  EventType = "validation_rejected"
)

// Severity mirrors common audit severity levels, reused verbatim
// since the concern (routing to the matching structured-log level) is
// identical.
type Severity string

const (
	SeverityInfo  Severity = "info"
	SeverityWarn  Severity = "warn"
	SeverityError Severity = "error"
)

// Record is one immutable audit entry: the sole source of truth for
// post-hoc explanation and regulatory queries. Every Decision produces
// exactly one Record; Decision-less events (a validation rejection, a
// rule expiring) populate only the fields that apply.
type Record struct {
	Timestamp time.Time `json:"timestamp"`
	EventType EventType `json:"event_type"`
	Severity  Severity  `json:"severity"`

	DetectionID string `json:"detection_id,omitempty"`
	DecisionID  string `json:"decision_id,omitempty"`
	RuleID      string `json:"rule_id,omitempty"`

	FeatureVector   *record.FeatureVector    `json:"feature_vector,omitempty"`
	Verdicts        []record.DetectorVerdict `json:"verdicts,omitempty"`
	AggregateScore  float64                  `json:"aggregate_score,omitempty"`
	AggregateLabel  string                   `json:"aggregate_label,omitempty"`

	Action     record.Action `json:"action,omitempty"`
	Confidence float64       `json:"confidence,omitempty"`
	AgentID    string        `json:"agent_id,omitempty"`

	Rule     *record.UniversalRule            `json:"rule,omitempty"`
	Outcomes map[string]record.AdapterOutcome `json:"outcomes,omitempty"`

	Detail string `json:"detail,omitempty"`
}

// marshalJSON is a small helper used by Store to serialize the
// variable-shaped portions of a Record (verdicts, rule, outcomes) into a
// single TEXT column rather than one column per nested field.
func marshalJSON(v any) (string, error) {
	if v == nil {
		return "", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
