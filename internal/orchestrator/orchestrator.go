// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package orchestrator

import (
	"context"
	"fmt"
	"time"

	"aegis.dev/aegis/internal/adapters"
	"aegis.dev/aegis/internal/clock"
	"aegis.dev/aegis/internal/config"
	"aegis.dev/aegis/internal/logging"
	"aegis.dev/aegis/internal/metrics"
	"aegis.dev/aegis/internal/record"
)

// AuditSink receives one record per orchestrator event (validation
// rejection, conflict resolution, apply outcome) for §4.H's audit
// trail. Implemented by internal/audit; kept as a narrow interface here
// so the orchestrator never imports the audit package's storage
// concerns.
type AuditSink interface {
	RecordOrchestratorEvent(kind, ruleID, detail string)
}

type noopAuditSink struct{}

func (noopAuditSink) RecordOrchestratorEvent(string, string, string) {}

// Orchestrator drives the full §4.B lifecycle: synthesis, validation,
// conflict resolution, apply, and expiry/rollback.
type Orchestrator struct {
	synth    *synthesizer
	validate *validator
	apply    *applier
	states   *stateTable
	logger   *logging.Logger
	audit    AuditSink

	expiryScan time.Duration
}

// New constructs an Orchestrator from cfg, dispatching to ad in
// parallel on Apply.
func New(cfg *config.OrchConfig, ad []adapters.Adapter, logger *logging.Logger, audit AuditSink) (*Orchestrator, error) {
	if logger == nil {
		logger = logging.Default().WithComponent("orchestrator")
	}
	if audit == nil {
		audit = noopAuditSink{}
	}
	synth, err := newSynthesizer(cfg)
	if err != nil {
		return nil, err
	}
	scan, err := time.ParseDuration(cfg.ExpiryScanInterval)
	if err != nil || scan <= 0 {
		scan = 30 * time.Second
	}
	return &Orchestrator{
		synth:      synth,
		validate:   newValidator(cfg),
		apply:      newApplier(ad, cfg.AdapterRetry),
		states:     newStateTable(),
		logger:     logger,
		audit:      audit,
		expiryScan: scan,
	}, nil
}

// Enact drives one Decision through synthesis, validation, conflict
// resolution, and apply, returning the resulting UniversalRule's
// rule_id and a snapshot of its state. A validation rejection is
// audited and returned as a *ValidationError with an empty state. A
// dedupe or rollback decision is not a failure of Enact — each is
// audited and reflected in the returned state.
func (o *Orchestrator) Enact(ctx context.Context, dec record.Decision, decisionAge time.Duration) (record.RuleState, error) {
	rule := o.synth.synthesize(dec, decisionAge)

	if err := o.validate.validate(rule); err != nil {
		o.audit.RecordOrchestratorEvent("validation_rejected", rule.RuleID, err.Error())
		return record.RuleState{}, err
	}

	if dedupeTarget, decision := o.findConflict(rule); decision != conflictNone {
		switch decision {
		case conflictDedupe:
			o.bumpTTL(dedupeTarget, rule.TTL)
			o.audit.RecordOrchestratorEvent("conflict_dedupe", dedupeTarget, rule.RuleID)
			_, state, _ := o.states.get(dedupeTarget)
			return *state, nil
		case conflictPriorityWins:
			if !o.priorityWins(rule, dedupeTarget) {
				o.audit.RecordOrchestratorEvent("conflict_priority_loses", rule.RuleID, dedupeTarget)
				rs := &record.RuleState{RuleID: rule.RuleID, Lifecycle: record.LifecycleRolledBack, CreatedAt: clock.Now(), LastUpdated: clock.Now(), Outcomes: map[string]record.AdapterOutcome{}}
				o.states.put(rule, rs)
				return *rs, nil
			}
			o.rollbackAdapters(ctx, dedupeTarget)
			o.audit.RecordOrchestratorEvent("conflict_priority_wins", rule.RuleID, dedupeTarget)
		case conflictCoexist:
			o.audit.RecordOrchestratorEvent("conflict_coexist", rule.RuleID, dedupeTarget)
		}
	}

	return o.applyRule(ctx, rule), nil
}

// findConflict scans active rules for one whose match intersects
// rule's, returning the first such rule_id and the classification.
func (o *Orchestrator) findConflict(rule record.UniversalRule) (string, conflictDecision) {
	for _, e := range o.states.list() {
		if e.State.Lifecycle != record.LifecycleActive && e.State.Lifecycle != record.LifecyclePending && e.State.Lifecycle != record.LifecycleApplying {
			continue
		}
		if e.Rule.RuleID == rule.RuleID {
			continue
		}
		if d := resolve(rule, e.Rule); d != conflictNone {
			return e.Rule.RuleID, d
		}
	}
	return "", conflictNone
}

func (o *Orchestrator) bumpTTL(ruleID string, extra time.Duration) {
	o.states.mutate(ruleID, func(rs *record.RuleState) {
		if rs.ExpiresAt.IsZero() {
			rs.ExpiresAt = clock.Now().Add(extra)
		} else {
			rs.ExpiresAt = rs.ExpiresAt.Add(extra)
		}
		rs.LastUpdated = clock.Now()
	})
}

// priorityWins reports whether candidate outranks the existing rule
// activeID: the numerically lower Priority wins, and on equal Priority
// the candidate (newer) rule wins.
func (o *Orchestrator) priorityWins(candidate record.UniversalRule, activeID string) bool {
	activeRule, _, ok := o.states.get(activeID)
	if !ok {
		return true
	}
	return candidate.Priority <= activeRule.Priority
}

// rollbackAdapters removes ruleID from every adapter that reported an
// OK apply outcome for it, then marks it rolled_back. Shared by the
// public Rollback surface and Enact's conflict_priority_wins path, so a
// rule superseded by a higher-priority conflicting Decision is removed
// from enforcement before the winning rule's own apply call.
func (o *Orchestrator) rollbackAdapters(ctx context.Context, ruleID string) {
	rule, state, ok := o.states.get(ruleID)
	if !ok {
		return
	}
	for _, ad := range o.apply.adapters {
		outcome, hasOutcome := state.Outcomes[ad.Name()]
		if !hasOutcome || outcome.OutcomeCode != string(adapters.OutcomeOK) {
			continue
		}
		removeOutcome := string(adapters.OutcomeOK)
		if err := ad.Remove(ctx, adapters.PerRuleID(outcome.PerRuleID)); err != nil {
			removeOutcome = string(adapters.OutcomeTransient)
			o.logger.Warn("rollback remove failed", "rule_id", ruleID, "adapter", ad.Name(), "error", err)
		}
		metrics.Get().AdapterCall(ad.Name(), removeOutcome)
	}
	o.states.mutate(rule.RuleID, func(rs *record.RuleState) {
		rs.Lifecycle = record.LifecycleRolledBack
		rs.LastUpdated = clock.Now()
	})
	metrics.Get().RuleApplied(string(record.LifecycleRolledBack))
}

// applyRule drives pending -> applying -> active|failed for rule,
// dispatching to every adapter in parallel and retrying on total
// failure with bounded exponential backoff.
func (o *Orchestrator) applyRule(ctx context.Context, rule record.UniversalRule) record.RuleState {
	now := clock.Now()
	rs := &record.RuleState{
		RuleID:    rule.RuleID,
		Lifecycle: record.LifecyclePending,
		Outcomes:  map[string]record.AdapterOutcome{},
		CreatedAt: now,
	}
	o.states.put(rule, rs)

	o.states.mutate(rule.RuleID, func(rs *record.RuleState) {
		rs.Lifecycle = record.LifecycleApplying
		rs.LastUpdated = clock.Now()
	})

	var outcomes map[string]record.AdapterOutcome
	for attempt := 1; attempt <= o.apply.retry.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			o.states.mutate(rule.RuleID, func(rs *record.RuleState) {
				rs.Lifecycle = record.LifecycleFailed
				rs.LastUpdated = clock.Now()
			})
			_, snapshot, _ := o.states.get(rule.RuleID)
			return *snapshot
		default:
		}
		outcomes = o.apply.applyOnce(ctx, rule)
		if anySucceeded(outcomes) {
			break
		}
		if attempt < o.apply.retry.MaxAttempts {
			o.logger.Warn("apply attempt failed on all adapters, retrying", "rule_id", rule.RuleID, "attempt", attempt)
			time.Sleep(o.apply.backoff(attempt))
		}
	}

	o.states.mutate(rule.RuleID, func(rs *record.RuleState) {
		rs.Outcomes = outcomes
		if anySucceeded(outcomes) {
			rs.Lifecycle = record.LifecycleActive
			rs.AppliedAt = clock.Now()
			if rule.TTL > 0 {
				rs.ExpiresAt = rs.AppliedAt.Add(rule.TTL)
			}
		} else {
			rs.Lifecycle = record.LifecycleFailed
			o.audit.RecordOrchestratorEvent("apply_give_up", rule.RuleID, "all adapters failed")
		}
		rs.LastUpdated = clock.Now()
		metrics.Get().RuleApplied(string(rs.Lifecycle))
	})

	_, snapshot, _ := o.states.get(rule.RuleID)
	return *snapshot
}

// Rollback honors an explicit rollback request by rule_id, dispatching
// adapter removes and transitioning the rule to rolled_back. Always
// honored regardless of current lifecycle except expired (§4.B).
func (o *Orchestrator) Rollback(ctx context.Context, ruleID string) error {
	_, state, ok := o.states.get(ruleID)
	if !ok {
		return fmt.Errorf("orchestrator: rule %s not found", ruleID)
	}
	if state.Lifecycle == record.LifecycleExpired {
		return nil
	}
	o.rollbackAdapters(ctx, ruleID)
	o.audit.RecordOrchestratorEvent("rollback", ruleID, "explicit")
	return nil
}

// ListRules returns a snapshot of every tracked (rule, state) pair.
func (o *Orchestrator) ListRules() []struct {
	Rule  record.UniversalRule
	State *record.RuleState
} {
	return o.states.list()
}
