// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package alerting

import (
	"strconv"
	"time"

	"aegis.dev/aegis/internal/record"
)

// AlertLevel is an alert's severity, ordered low < medium < high < critical.
type AlertLevel string

const (
	LevelLow      AlertLevel = "low"
	LevelMedium   AlertLevel = "medium"
	LevelHigh     AlertLevel = "high"
	LevelCritical AlertLevel = "critical"
)

var severityRank = map[AlertLevel]int{
	LevelLow:      0,
	LevelMedium:   1,
	LevelHigh:     2,
	LevelCritical: 3,
}

// atLeast reports whether level meets or exceeds min.
func (level AlertLevel) atLeast(min AlertLevel) bool {
	return severityRank[level] >= severityRank[min]
}

// severityFor derives an alert's severity from the enforcement action
// chosen for it: deny/quarantine escalate to high/critical (quarantine
// is the more disruptive of the two), rate_limit is medium, monitor
// and allow are low.
func severityFor(action record.Action) AlertLevel {
	switch action.Family() {
	case "quarantine":
		return LevelCritical
	case "deny":
		return LevelHigh
	case "rate_limit":
		return LevelMedium
	default:
		return LevelLow
	}
}

// AlertEvent is one alerting occurrence, carrying the Decision that
// triggered it and the orchestrator's outcome for the rule it produced.
type AlertEvent struct {
	ID          string            `json:"id"`
	Decision    record.Decision   `json:"decision"`
	RuleID      string            `json:"rule_id,omitempty"`
	RuleOutcome *record.RuleState `json:"rule_outcome,omitempty"`
	Severity    AlertLevel        `json:"severity"`
	Message     string            `json:"message"`
	Timestamp   time.Time         `json:"timestamp"`
}

// dedupKey is the default (src_addr, action, 5-minute bucket) key;
// bucketSecs is the configured dedup window.
func dedupKey(dec record.Decision, bucketSecs int) string {
	if bucketSecs <= 0 {
		bucketSecs = 300
	}
	bucket := dec.DecidedAt.Unix() / int64(bucketSecs)
	return dec.Parameters.SrcAddr + "|" + string(dec.Action) + "|" + strconv.FormatInt(bucket, 10)
}
