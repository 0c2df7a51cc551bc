// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package audit

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"aegis.dev/aegis/internal/record"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audit.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreRecordEntryAndGetByDecision(t *testing.T) {
	s := openTestStore(t)
	logger := NewLogger(s, nil)

	dec := record.Decision{
		DecisionID:  "dec-1",
		DetectionID: "det-1",
		Action:      record.ActionDeny,
		Confidence:  0.93,
		AgentID:     "fallback",
		DecidedAt:   time.Now(),
	}
	logger.LogDecision(context.Background(), dec)

	got, err := s.GetByDecision("dec-1")
	if err != nil {
		t.Fatalf("GetByDecision: %v", err)
	}
	if got == nil {
		t.Fatal("expected a record, got nil")
	}
	if got.Action != record.ActionDeny {
		t.Errorf("Action = %s, want deny", got.Action)
	}
	if got.AgentID != "fallback" {
		t.Errorf("AgentID = %s, want fallback", got.AgentID)
	}
}

func TestStoreGetByDecisionUnknownReturnsNil(t *testing.T) {
	s := openTestStore(t)
	got, err := s.GetByDecision("does-not-exist")
	if err != nil {
		t.Fatalf("GetByDecision: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil for unknown decision_id, got %+v", got)
	}
}

func TestLoggerLogRuleOutcomePersistsOutcomesAndRule(t *testing.T) {
	s := openTestStore(t)
	logger := NewLogger(s, nil)

	rule := record.UniversalRule{
		RuleID:           "rule-1",
		Match:            record.Match{SrcCIDR: "198.51.100.7/32"},
		Action:           record.ActionDeny,
		OriginDecisionID: "dec-2",
	}
	outcomes := map[string]record.AdapterOutcome{
		"nft": {AdapterName: "nft", OutcomeCode: "OK", PerRuleID: "rule-1"},
	}
	logger.LogRuleOutcome(context.Background(), EventRuleApplied, rule, outcomes)

	got, err := s.GetByDecision("dec-2")
	if err != nil {
		t.Fatalf("GetByDecision: %v", err)
	}
	if got == nil {
		t.Fatal("expected a record for dec-2")
	}
	if got.RuleID != "rule-1" {
		t.Errorf("RuleID = %s, want rule-1", got.RuleID)
	}
	if got.EventType != EventRuleApplied {
		t.Errorf("EventType = %s, want rule_applied", got.EventType)
	}
}

func TestStorePurgeRemovesOldRecords(t *testing.T) {
	s := openTestStore(t)
	old := Record{Timestamp: time.Now().Add(-48 * time.Hour), EventType: EventDecisionRecorded, Severity: SeverityInfo, DecisionID: "old"}
	recent := Record{Timestamp: time.Now(), EventType: EventDecisionRecorded, Severity: SeverityInfo, DecisionID: "recent"}
	if err := s.RecordEntry(old); err != nil {
		t.Fatalf("RecordEntry(old): %v", err)
	}
	if err := s.RecordEntry(recent); err != nil {
		t.Fatalf("RecordEntry(recent): %v", err)
	}

	n, err := s.Purge(24*time.Hour, 100)
	if err != nil {
		t.Fatalf("Purge: %v", err)
	}
	if n != 1 {
		t.Fatalf("purged = %d, want 1", n)
	}

	gotOld, _ := s.GetByDecision("old")
	if gotOld != nil {
		t.Fatal("expected old record purged")
	}
	gotRecent, _ := s.GetByDecision("recent")
	if gotRecent == nil {
		t.Fatal("expected recent record to survive purge")
	}
}

func TestLoggerWithNilStoreDoesNotPanic(t *testing.T) {
	logger := NewLogger(nil, nil)
	logger.LogDecision(context.Background(), record.Decision{DecisionID: "dec-3", Action: record.ActionMonitor})
}
