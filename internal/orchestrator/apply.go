// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package orchestrator

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"aegis.dev/aegis/internal/adapters"
	"aegis.dev/aegis/internal/clock"
	"aegis.dev/aegis/internal/config"
	"aegis.dev/aegis/internal/metrics"
	"aegis.dev/aegis/internal/record"
)

// applier dispatches a UniversalRule to every configured adapter in
// parallel and aggregates per-adapter outcomes, grounded on the
// teacher's ConfigPipeline staged-executor shape (internal/engine/
// pipeline.go) generalized from sequential config stages to parallel
// adapter calls.
type applier struct {
	adapters []adapters.Adapter
	retry    config.RetryCfg
}

func newApplier(ad []adapters.Adapter, retry config.RetryCfg) *applier {
	if retry.MaxAttempts <= 0 {
		retry.MaxAttempts = 3
	}
	if retry.BaseMS <= 0 {
		retry.BaseMS = 200
	}
	if retry.MaxMS <= 0 {
		retry.MaxMS = 5000
	}
	return &applier{adapters: ad, retry: retry}
}

// applyOnce dispatches rule to every adapter once, in parallel, and
// returns one AdapterOutcome per adapter.
func (a *applier) applyOnce(ctx context.Context, rule record.UniversalRule) map[string]record.AdapterOutcome {
	outcomes := make(map[string]record.AdapterOutcome, len(a.adapters))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, ad := range a.adapters {
		wg.Add(1)
		go func(ad adapters.Adapter) {
			defer wg.Done()
			perRuleID, err := ad.Apply(ctx, rule)
			outcome := record.AdapterOutcome{
				AdapterName: ad.Name(),
				LastAttempt: clock.Now(),
				Attempts:    1,
			}
			if err != nil {
				var aerr *adapters.AdapterError
				code := string(adapters.OutcomeTransient)
				if errors.As(err, &aerr) {
					code = string(aerr.Outcome)
				}
				outcome.OutcomeCode = code
				outcome.Err = err.Error()
			} else {
				outcome.OutcomeCode = string(adapters.OutcomeOK)
				outcome.PerRuleID = string(perRuleID)
			}
			metrics.Get().AdapterCall(ad.Name(), outcome.OutcomeCode)
			mu.Lock()
			outcomes[ad.Name()] = outcome
			mu.Unlock()
		}(ad)
	}
	wg.Wait()
	return outcomes
}

// anySucceeded reports whether at least one adapter outcome is OK — a
// partial success is acceptable per §4.B.
func anySucceeded(outcomes map[string]record.AdapterOutcome) bool {
	for _, o := range outcomes {
		if o.OutcomeCode == string(adapters.OutcomeOK) {
			return true
		}
	}
	return false
}

// allFailed reports whether every adapter outcome is non-OK.
func allFailed(outcomes map[string]record.AdapterOutcome) bool {
	return !anySucceeded(outcomes)
}

// backoff returns the bounded-exponential-backoff delay for attempt
// (1-indexed), with full jitter, per the adapter_retry config shape
// shared with ingest publish retry.
func (a *applier) backoff(attempt int) time.Duration {
	ms := a.retry.BaseMS << uint(attempt-1)
	if ms > a.retry.MaxMS || ms <= 0 {
		ms = a.retry.MaxMS
	}
	jittered := rand.Intn(ms + 1)
	return time.Duration(jittered) * time.Millisecond
}
