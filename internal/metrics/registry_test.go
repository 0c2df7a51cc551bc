// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegistryParsedRecord(t *testing.T) {
	r := NewRegistry()
	r.ParsedRecord()
	r.ParsedRecord()

	if got := testutil.ToFloat64(r.RecordsParsed); got != 2 {
		t.Errorf("RecordsParsed = %v, want 2", got)
	}
}

func TestRegistryDroppedRecordByReason(t *testing.T) {
	r := NewRegistry()
	r.DroppedRecord("malformed")
	r.DroppedRecord("malformed")
	r.DroppedRecord("dedup")

	if got := testutil.ToFloat64(r.RecordsDropped.WithLabelValues("malformed")); got != 2 {
		t.Errorf("RecordsDropped{malformed} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(r.RecordsDropped.WithLabelValues("dedup")); got != 1 {
		t.Errorf("RecordsDropped{dedup} = %v, want 1", got)
	}
}

func TestRegistryRuleAppliedByOutcome(t *testing.T) {
	r := NewRegistry()
	r.RuleApplied("active")
	r.RuleApplied("failed")
	r.RuleApplied("active")

	if got := testutil.ToFloat64(r.RulesApplied.WithLabelValues("active")); got != 2 {
		t.Errorf("RulesApplied{active} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(r.RulesApplied.WithLabelValues("failed")); got != 1 {
		t.Errorf("RulesApplied{failed} = %v, want 1", got)
	}
}

func TestRegistryAdapterCallByAdapterAndOutcome(t *testing.T) {
	r := NewRegistry()
	r.AdapterCall("nft", "OK")
	r.AdapterCall("ec2", "Transient")

	if got := testutil.ToFloat64(r.AdapterCalls.WithLabelValues("nft", "OK")); got != 1 {
		t.Errorf("AdapterCalls{nft,OK} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(r.AdapterCalls.WithLabelValues("ec2", "Transient")); got != 1 {
		t.Errorf("AdapterCalls{ec2,Transient} = %v, want 1", got)
	}
}

func TestGetReturnsSingleton(t *testing.T) {
	a := Get()
	b := Get()
	if a != b {
		t.Fatal("Get() returned distinct registries across calls")
	}
}
