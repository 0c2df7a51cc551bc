// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package audit

import (
	"context"
	"time"

	"aegis.dev/aegis/internal/logging"
	"aegis.dev/aegis/internal/record"
)

// Logger persists audit Records to a Store and mirrors each to
// structured logging, following a LogEvent/logStructured
// severity-routing pattern, generalized from its auth/config/security
// event taxonomy to this system's own pipeline stages.
type Logger struct {
	store  *Store
	logger *logging.Logger
}

// NewLogger builds a Logger. store may be nil, in which case records are
// only mirrored to structured logging (used in tests and for a
// degraded-mode run with no durable audit trail).
func NewLogger(store *Store, logger *logging.Logger) *Logger {
	if logger == nil {
		logger = logging.Default().WithComponent("audit")
	}
	return &Logger{store: store, logger: logger}
}

// LogRecord persists r (if a Store is configured) and mirrors it to
// structured logging at the level matching r.Severity.
func (l *Logger) LogRecord(ctx context.Context, r Record) error {
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now()
	}
	l.logStructured(r)

	if l.store == nil {
		return nil
	}
	if err := l.store.RecordEntry(r); err != nil {
		l.logger.Error("failed to persist audit record", "error", err, "event_type", r.EventType)
		return err
	}
	return nil
}

func (l *Logger) logStructured(r Record) {
	switch r.Severity {
	case SeverityWarn:
		l.logger.Warn("audit", "event_type", r.EventType, "decision_id", r.DecisionID, "rule_id", r.RuleID, "detail", r.Detail)
	case SeverityError:
		l.logger.Error("audit", "event_type", r.EventType, "decision_id", r.DecisionID, "rule_id", r.RuleID, "detail", r.Detail)
	default:
		l.logger.Info("audit", "event_type", r.EventType, "decision_id", r.DecisionID, "rule_id", r.RuleID,
			"action", r.Action, "aggregate_label", r.AggregateLabel)
	}
}

// LogDetection records a Detection as it leaves the ensemble.
func (l *Logger) LogDetection(ctx context.Context, det record.Detection, fv record.FeatureVector) {
	l.LogRecord(ctx, Record{
		EventType:      EventDetectionRecorded,
		Severity:       SeverityInfo,
		DetectionID:    det.DetectionID,
		FeatureVector:  &fv,
		Verdicts:       det.Verdicts,
		AggregateScore: det.AggregateScore,
		AggregateLabel: det.AggregateLabel,
	})
}

// LogDecision records a Decision as it leaves the policy agent.
func (l *Logger) LogDecision(ctx context.Context, dec record.Decision) {
	l.LogRecord(ctx, Record{
		EventType:   EventDecisionRecorded,
		Severity:    SeverityInfo,
		DetectionID: dec.DetectionID,
		DecisionID:  dec.DecisionID,
		Action:      dec.Action,
		Confidence:  dec.Confidence,
		AgentID:     dec.AgentID,
	})
}

// LogRuleOutcome records the result of an orchestrator Enact/expiry/
// rollback: the synthesized rule, per-adapter outcomes, and the event
// type naming which transition produced it.
func (l *Logger) LogRuleOutcome(ctx context.Context, eventType EventType, rule record.UniversalRule, outcomes map[string]record.AdapterOutcome) {
	severity := SeverityInfo
	if eventType == EventRuleRolledBack {
		severity = SeverityWarn
	}
	l.LogRecord(ctx, Record{
		EventType:  eventType,
		Severity:   severity,
		DecisionID: rule.OriginDecisionID,
		RuleID:     rule.RuleID,
		Rule:       &rule,
		Outcomes:   outcomes,
		Action:     rule.Action,
	})
}

// LogValidationRejected records a rule that an Orchestrator rejected
// before it ever reached the apply stage.
func (l *Logger) LogValidationRejected(ctx context.Context, rule record.UniversalRule, reason string) {
	l.LogRecord(ctx, Record{
		EventType:  EventValidationRejected,
		Severity:   SeverityWarn,
		DecisionID: rule.OriginDecisionID,
		RuleID:     rule.RuleID,
		Action:     rule.Action,
		Detail:     reason,
	})
}

// RunPurgeLoop runs Store.Purge on every tick until ctx is cancelled,
// logging the number of rows removed each pass.
func (l *Logger) RunPurgeLoop(ctx context.Context, interval, retention time.Duration, batchSize int) {
	if l.store == nil {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := l.store.Purge(retention, batchSize)
			if err != nil {
				l.logger.Error("audit purge failed", "error", err)
				continue
			}
			if n > 0 {
				l.logger.Info("audit purge completed", "rows_removed", n)
			}
		}
	}
}
