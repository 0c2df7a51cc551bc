// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package orchestrator

import (
	"context"
	"time"

	"aegis.dev/aegis/internal/adapters"
	"aegis.dev/aegis/internal/clock"
	"aegis.dev/aegis/internal/metrics"
	"aegis.dev/aegis/internal/record"
)

// RunExpiryLoop scans the state table on o.expiryScan ticks, expiring
// any active rule past its ExpiresAt and dispatching adapter removes
// for whatever adapters reported OK on apply. It blocks until ctx is
// cancelled.
func (o *Orchestrator) RunExpiryLoop(ctx context.Context) {
	ticker := time.NewTicker(o.expiryScan)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.expireOnce(ctx)
		}
	}
}

// expireOnce runs a single expiry sweep; tests call it directly rather
// than wait on expiryScan's ticker.
func (o *Orchestrator) expireOnce(ctx context.Context) {
	now := clock.Now()
	for _, e := range o.states.list() {
		if e.State.Lifecycle != record.LifecycleActive {
			continue
		}
		if e.State.ExpiresAt.IsZero() || e.State.ExpiresAt.After(now) {
			continue
		}
		o.expireRule(ctx, e.Rule, e.State)
	}
}

func (o *Orchestrator) expireRule(ctx context.Context, rule record.UniversalRule, state *record.RuleState) {
	for _, ad := range o.apply.adapters {
		outcome, ok := state.Outcomes[ad.Name()]
		if !ok || outcome.OutcomeCode != string(adapters.OutcomeOK) {
			continue
		}
		removeOutcome := string(adapters.OutcomeOK)
		if err := ad.Remove(ctx, adapters.PerRuleID(outcome.PerRuleID)); err != nil {
			removeOutcome = string(adapters.OutcomeTransient)
			o.logger.Warn("expiry remove failed", "rule_id", rule.RuleID, "adapter", ad.Name(), "error", err)
		}
		metrics.Get().AdapterCall(ad.Name(), removeOutcome)
	}
	o.states.mutate(rule.RuleID, func(rs *record.RuleState) {
		rs.Lifecycle = record.LifecycleExpired
		rs.LastUpdated = clock.Now()
	})
	metrics.Get().RuleApplied(string(record.LifecycleExpired))
	o.audit.RecordOrchestratorEvent("expired", rule.RuleID, "ttl elapsed")
}
