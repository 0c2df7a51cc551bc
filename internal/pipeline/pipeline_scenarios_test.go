// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"aegis.dev/aegis/internal/adapters"
	"aegis.dev/aegis/internal/audit"
	"aegis.dev/aegis/internal/config"
	"aegis.dev/aegis/internal/detect"
	"aegis.dev/aegis/internal/logging"
	"aegis.dev/aegis/internal/orchestrator"
	"aegis.dev/aegis/internal/policyagent"
	"aegis.dev/aegis/internal/record"
)

// scoringDetector is a fixed-score detect.Detector, letting a scenario
// drive the ensemble's aggregate score deterministically without
// needing a trained artifact.
type scoringDetector struct {
	id    string
	score float64
	err   error
}

func (d *scoringDetector) ID() string { return d.id }

func (d *scoringDetector) Predict(ctx context.Context, fv record.FeatureVector) (record.DetectorVerdict, error) {
	if d.err != nil {
		return record.DetectorVerdict{}, d.err
	}
	return record.DetectorVerdict{Score: d.score}, nil
}

// recordingAdapter is an in-memory adapters.Adapter that appends every
// Apply/Remove call to a shared, ordered log, letting a scenario assert
// on cross-adapter call order (remove-before-add on conflict).
type recordingAdapter struct {
	mu    *sync.Mutex
	calls *[]string
	name  string
}

func newRecordingAdapter(name string, mu *sync.Mutex, calls *[]string) *recordingAdapter {
	return &recordingAdapter{name: name, mu: mu, calls: calls}
}

func (a *recordingAdapter) Name() string { return a.name }

func (a *recordingAdapter) Apply(ctx context.Context, rule record.UniversalRule) (adapters.PerRuleID, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	*a.calls = append(*a.calls, "apply:"+rule.RuleID)
	return adapters.PerRuleID(rule.RuleID), nil
}

func (a *recordingAdapter) Remove(ctx context.Context, id adapters.PerRuleID) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	*a.calls = append(*a.calls, "remove:"+string(id))
	return nil
}

func (a *recordingAdapter) Query(ctx context.Context, id adapters.PerRuleID) (adapters.AdapterState, error) {
	return adapters.AdapterState{PerRuleID: id, Active: true}, nil
}

func (a *recordingAdapter) List(ctx context.Context) ([]adapters.PerRuleID, error) {
	return nil, nil
}

// testPipeline builds a Pipeline from real components wherever a
// scenario doesn't need to control them, swapping in the given
// detectors and adapters so scenarios can force specific detector
// scores/failures and observe adapter call order, mirroring how
// pipeline.New itself assembles each stage.
func testPipeline(t *testing.T, detectors []detect.Detector, ad []adapters.Adapter) *Pipeline {
	t.Helper()
	logger := logging.New(logging.DefaultConfig())

	ensemble := detect.NewEnsemble(detectors, detect.DefaultArtifact(), logger)

	auditPath := filepath.Join(t.TempDir(), "audit.db")
	store, err := audit.Open(auditPath)
	if err != nil {
		t.Fatalf("audit.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	auditLogger := audit.NewLogger(store, logger)

	cfg := config.Default()
	// Keep retries from sleeping real wall-clock time: scenarios that
	// apply with zero or failing adapters would otherwise block through
	// config.Default()'s full exponential backoff schedule.
	cfg.Orchestrator.AdapterRetry = config.RetryCfg{MaxAttempts: 1, BaseMS: 1, MaxMS: 1}
	orch, err := orchestrator.New(cfg.Orchestrator, ad, logger, &auditSink{log: auditLogger})
	if err != nil {
		t.Fatalf("orchestrator.New: %v", err)
	}

	agents := policyagent.NewChain(policyagent.DefaultFallbackAgent())

	return &Pipeline{
		cfg:      cfg,
		logger:   logger,
		features: nil,
		ensemble: ensemble,
		agents:   agents,
		orch:     orch,
		auditLog: auditLogger,
		auditDB:  store,
	}
}

func decideAndApply(t *testing.T, p *Pipeline, fv record.FeatureVector) (record.Detection, record.Decision, record.RuleState) {
	t.Helper()
	ctx := context.Background()
	det := p.Detect(ctx, fv)
	dec, err := p.Decide(ctx, det)
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if dec.Parameters.SrcAddr == "" {
		dec.Parameters.SrcAddr = fv.Context.SrcAddr
	}
	p.auditLog.LogDecision(ctx, dec)
	rs, err := p.Apply(ctx, dec)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	return det, dec, rs
}

// TestSynFloodBurst drives a SYN-heavy window against a detector
// ensemble scored to cross the deny threshold: expects a threat
// Detection, a deny/rate_limit(high) Decision, and an active rule
// scoped to the attacking address with at least one OK adapter outcome.
func TestSynFloodBurst(t *testing.T) {
	var mu sync.Mutex
	var calls []string
	nft := newRecordingAdapter("local_nft", &mu, &calls)

	p := testPipeline(t, []detect.Detector{&scoringDetector{id: "linear", score: 0.95}}, []adapters.Adapter{nft})

	fv := record.FeatureVector{Context: record.FeatureContext{SrcAddr: "203.0.113.7", WindowKey: "syn-flood"}}
	fv.Values[record.SlotSYNRatio] = 0.98

	det, dec, rs := decideAndApply(t, p, fv)

	if det.AggregateLabel != "threat" {
		t.Fatalf("AggregateLabel = %q, want threat", det.AggregateLabel)
	}
	if dec.Action != record.ActionDeny && dec.Action.Family() != "rate_limit" {
		t.Fatalf("Action = %q, want deny or rate_limit", dec.Action)
	}
	if rs.Lifecycle != record.LifecycleActive {
		t.Fatalf("Lifecycle = %q, want active", rs.Lifecycle)
	}
	outcome, ok := rs.Outcomes["local_nft"]
	if !ok || outcome.OutcomeCode != string(adapters.OutcomeOK) {
		t.Fatalf("local_nft outcome = %+v, want OK", outcome)
	}
}

// TestBenignHeavyTraffic drives a high-volume but unremarkable window
// against a low-scoring ensemble: expects no deny/quarantine
// Decision, at most monitor.
func TestBenignHeavyTraffic(t *testing.T) {
	p := testPipeline(t, []detect.Detector{&scoringDetector{id: "linear", score: 0.05}}, nil)

	fv := record.FeatureVector{Context: record.FeatureContext{SrcAddr: "10.0.0.42", WindowKey: "benign"}}
	fv.Values[record.SlotByteRate] = 0.5

	_, dec, _ := decideAndApply(t, p, fv)

	family := dec.Action.Family()
	if family == "deny" || family == "quarantine" {
		t.Fatalf("Action = %q, want at most monitor for benign traffic", dec.Action)
	}
}

// TestAllDetectorsDown forces every configured detector to error:
// expects aggregate_label=unknown, action=monitor, and no rule applied.
func TestAllDetectorsDown(t *testing.T) {
	failing := []detect.Detector{
		&scoringDetector{id: "linear", err: errors.New("model unavailable")},
		&scoringDetector{id: "ewma", err: errors.New("slot store unavailable")},
	}
	p := testPipeline(t, failing, nil)

	fv := record.FeatureVector{Context: record.FeatureContext{SrcAddr: "198.51.100.9", WindowKey: "all-down"}}

	det, dec, rs := decideAndApply(t, p, fv)

	if det.AggregateLabel != "unknown" {
		t.Fatalf("AggregateLabel = %q, want unknown", det.AggregateLabel)
	}
	if dec.Action != record.ActionMonitor {
		t.Fatalf("Action = %q, want monitor", dec.Action)
	}
	if rs.Lifecycle == record.LifecycleActive {
		t.Fatalf("monitor Decision should not synthesize an active enforcement rule")
	}
	rec, err := p.GetAudit(dec.DecisionID)
	if err != nil || rec == nil {
		t.Fatalf("GetAudit(%s) = %v, %v, want a recorded decision", dec.DecisionID, rec, err)
	}
}

// TestConflictPriorityRollback seeds an active allow rule scoped to
// host 10.0.0.5, then applies a conflicting deny Decision scoped to the
// same host: deny/quarantine rules synthesize a Match keyed on SrcCIDR
// alone, so both rules collapse to the identical Match and resolve
// as a priority conflict. The new deny rule is expected to win, the old
// allow rule to roll back, and the adapter to observe remove before add.
func TestConflictPriorityRollback(t *testing.T) {
	var mu sync.Mutex
	var calls []string
	nft := newRecordingAdapter("local_nft", &mu, &calls)

	p := testPipeline(t, []detect.Detector{&scoringDetector{id: "linear", score: 0}}, []adapters.Adapter{nft})
	ctx := context.Background()

	params := record.DecisionParameters{SrcAddr: "10.0.0.5"}

	allow := record.Decision{DecisionID: "dec-allow", Action: record.ActionAllow, Parameters: params}
	rsAllow, err := p.Apply(ctx, allow)
	if err != nil {
		t.Fatalf("Apply(allow): %v", err)
	}
	if rsAllow.Lifecycle != record.LifecycleActive {
		t.Fatalf("allow Lifecycle = %q, want active", rsAllow.Lifecycle)
	}

	deny := record.Decision{DecisionID: "dec-deny", Action: record.ActionDeny, Parameters: params}
	rsDeny, err := p.Apply(ctx, deny)
	if err != nil {
		t.Fatalf("Apply(deny): %v", err)
	}
	if rsDeny.Lifecycle != record.LifecycleActive {
		t.Fatalf("deny Lifecycle = %q, want active", rsDeny.Lifecycle)
	}

	var rolledBack bool
	for _, entry := range p.ListRules() {
		if entry.Rule.RuleID == rsAllow.RuleID && entry.State != nil && entry.State.Lifecycle == record.LifecycleRolledBack {
			rolledBack = true
		}
	}
	if !rolledBack {
		t.Fatalf("old allow rule %s did not roll back after the conflicting deny", rsAllow.RuleID)
	}

	mu.Lock()
	defer mu.Unlock()
	removeIdx, applyIdx := -1, -1
	for i, c := range calls {
		if c == "remove:"+rsAllow.RuleID {
			removeIdx = i
		}
		if c == "apply:"+rsDeny.RuleID {
			applyIdx = i
		}
	}
	if removeIdx == -1 || applyIdx == -1 || removeIdx > applyIdx {
		t.Fatalf("expected remove(%s) before apply(%s), got %v", rsAllow.RuleID, rsDeny.RuleID, calls)
	}
}
