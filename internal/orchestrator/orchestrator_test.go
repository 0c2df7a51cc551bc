// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"aegis.dev/aegis/internal/adapters"
	"aegis.dev/aegis/internal/config"
	"aegis.dev/aegis/internal/record"
)

func testConfig() *config.OrchConfig {
	return &config.OrchConfig{
		ActionBasePriority: map[string]int{
			"deny":       100,
			"quarantine": 200,
			"rate_limit": 300,
			"monitor":    900,
		},
		MaxScope: map[string]int{
			"deny": 24,
		},
		TTL: map[string]string{
			"deny":             "1h",
			"quarantine:short": "30m",
			"rate_limit:low":   "15m",
		},
		AdapterRetry:       config.RetryCfg{MaxAttempts: 2, BaseMS: 1, MaxMS: 2},
		ProtectedAssets:    []string{"10.0.0.0/8"},
		PinnedAllowList:    []string{"192.168.1.1/32"},
		ExpiryScanInterval: "1s",
	}
}

// fakeAdapter is an in-memory Adapter, toggleable per-call to simulate
// success, transient failure, or permanent failure.
type fakeAdapter struct {
	mu       sync.Mutex
	name     string
	fail     adapters.Outcome // "" means succeed
	applied  map[adapters.PerRuleID]bool
	nextID   int
	removeFn func(adapters.PerRuleID) error
}

func newFakeAdapter(name string) *fakeAdapter {
	return &fakeAdapter{name: name, applied: map[adapters.PerRuleID]bool{}}
}

func (f *fakeAdapter) Name() string { return f.name }

func (f *fakeAdapter) Apply(ctx context.Context, rule record.UniversalRule) (adapters.PerRuleID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != "" {
		return "", adapters.NewAdapterError(f.fail, errSimulated)
	}
	f.nextID++
	id := adapters.PerRuleID(rule.RuleID)
	f.applied[id] = true
	return id, nil
}

func (f *fakeAdapter) Remove(ctx context.Context, id adapters.PerRuleID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.applied[id] {
		return adapters.ErrNotFound
	}
	delete(f.applied, id)
	return nil
}

func (f *fakeAdapter) Query(ctx context.Context, id adapters.PerRuleID) (adapters.AdapterState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.applied[id] {
		return adapters.AdapterState{}, adapters.ErrNotFound
	}
	return adapters.AdapterState{PerRuleID: id, Active: true}, nil
}

func (f *fakeAdapter) List(ctx context.Context) ([]adapters.PerRuleID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]adapters.PerRuleID, 0, len(f.applied))
	for id := range f.applied {
		out = append(out, id)
	}
	return out, nil
}

var errSimulated = &simulatedErr{}

type simulatedErr struct{}

func (*simulatedErr) Error() string { return "simulated adapter failure" }

func testDecision(action record.Action, srcAddr string) record.Decision {
	return record.Decision{
		DecisionID: "dec-" + srcAddr,
		Action:     action,
		Parameters: record.DecisionParameters{SrcAddr: srcAddr, DstAddr: "203.0.113.5", Protocol: "tcp", DstPort: 443},
		Confidence: 0.9,
		DecidedAt:  time.Now(),
	}
}

type noopSink struct{}

func (noopSink) RecordOrchestratorEvent(string, string, string) {}

func TestEnactAppliesAndActivates(t *testing.T) {
	ad := newFakeAdapter("nft")
	orch, err := New(testConfig(), []adapters.Adapter{ad}, nil, noopSink{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	state, err := orch.Enact(context.Background(), testDecision(record.ActionDeny, "198.51.100.7"), 0)
	if err != nil {
		t.Fatalf("Enact: %v", err)
	}
	if state.Lifecycle != record.LifecycleActive {
		t.Fatalf("lifecycle = %s, want active", state.Lifecycle)
	}
	if state.Outcomes["nft"].OutcomeCode != string(adapters.OutcomeOK) {
		t.Fatalf("outcome = %+v, want OK", state.Outcomes["nft"])
	}
}

func TestEnactAllAdaptersFailGivesUp(t *testing.T) {
	ad := newFakeAdapter("nft")
	ad.fail = adapters.OutcomePermanent
	orch, err := New(testConfig(), []adapters.Adapter{ad}, nil, noopSink{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	state, err := orch.Enact(context.Background(), testDecision(record.ActionDeny, "198.51.100.8"), 0)
	if err != nil {
		t.Fatalf("Enact: %v", err)
	}
	if state.Lifecycle != record.LifecycleFailed {
		t.Fatalf("lifecycle = %s, want failed", state.Lifecycle)
	}
}

func TestEnactPartialSuccessActivates(t *testing.T) {
	ok := newFakeAdapter("nft")
	bad := newFakeAdapter("cloud")
	bad.fail = adapters.OutcomeUnreachable
	orch, err := New(testConfig(), []adapters.Adapter{ok, bad}, nil, noopSink{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	state, err := orch.Enact(context.Background(), testDecision(record.ActionDeny, "198.51.100.9"), 0)
	if err != nil {
		t.Fatalf("Enact: %v", err)
	}
	if state.Lifecycle != record.LifecycleActive {
		t.Fatalf("lifecycle = %s, want active on partial success", state.Lifecycle)
	}
	if state.Outcomes["cloud"].OutcomeCode != string(adapters.OutcomeUnreachable) {
		t.Fatalf("cloud outcome = %+v", state.Outcomes["cloud"])
	}
}

func TestEnactRejectsProtectedAsset(t *testing.T) {
	ad := newFakeAdapter("nft")
	orch, err := New(testConfig(), []adapters.Adapter{ad}, nil, noopSink{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = orch.Enact(context.Background(), testDecision(record.ActionDeny, "10.0.0.5"), 0)
	if err == nil {
		t.Fatal("expected validation rejection for protected asset")
	}
	if _, ok := err.(*ValidationError); !ok {
		t.Fatalf("err = %v, want *ValidationError", err)
	}
}

func TestEnactDedupesIdenticalRule(t *testing.T) {
	ad := newFakeAdapter("nft")
	orch, err := New(testConfig(), []adapters.Adapter{ad}, nil, noopSink{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	dec := testDecision(record.ActionDeny, "198.51.100.10")

	first, err := orch.Enact(context.Background(), dec, 0)
	if err != nil {
		t.Fatalf("first Enact: %v", err)
	}

	dec2 := dec
	dec2.DecisionID = "dec-dup"
	second, err := orch.Enact(context.Background(), dec2, 0)
	if err != nil {
		t.Fatalf("second Enact: %v", err)
	}
	if second.RuleID != first.RuleID {
		t.Fatalf("expected dedupe to return the existing rule's state, got distinct rule_id")
	}
}

func TestExpireOnceTransitionsAndRemoves(t *testing.T) {
	ad := newFakeAdapter("nft")
	cfg := testConfig()
	cfg.TTL["deny"] = "1ns"
	orch, err := New(cfg, []adapters.Adapter{ad}, nil, noopSink{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	state, err := orch.Enact(context.Background(), testDecision(record.ActionDeny, "198.51.100.11"), 0)
	if err != nil {
		t.Fatalf("Enact: %v", err)
	}
	time.Sleep(2 * time.Millisecond)
	orch.expireOnce(context.Background())

	_, snapshot, ok := orch.states.get(state.RuleID)
	if !ok {
		t.Fatal("rule vanished from state table")
	}
	if snapshot.Lifecycle != record.LifecycleExpired {
		t.Fatalf("lifecycle = %s, want expired", snapshot.Lifecycle)
	}
	if len(ad.applied) != 0 {
		t.Fatalf("expected adapter rule removed, still applied: %v", ad.applied)
	}
}

func TestRollbackRemovesAndMarks(t *testing.T) {
	ad := newFakeAdapter("nft")
	orch, err := New(testConfig(), []adapters.Adapter{ad}, nil, noopSink{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	state, err := orch.Enact(context.Background(), testDecision(record.ActionDeny, "198.51.100.12"), 0)
	if err != nil {
		t.Fatalf("Enact: %v", err)
	}
	if err := orch.Rollback(context.Background(), state.RuleID); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	_, snapshot, _ := orch.states.get(state.RuleID)
	if snapshot.Lifecycle != record.LifecycleRolledBack {
		t.Fatalf("lifecycle = %s, want rolled_back", snapshot.Lifecycle)
	}
	if len(ad.applied) != 0 {
		t.Fatalf("expected adapter rule removed on rollback")
	}
}

func TestRollbackUnknownRuleErrors(t *testing.T) {
	orch, err := New(testConfig(), nil, nil, noopSink{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := orch.Rollback(context.Background(), "does-not-exist"); err == nil {
		t.Fatal("expected error for unknown rule_id")
	}
}
