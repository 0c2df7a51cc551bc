// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package adapters

import (
	"context"
	"errors"
	"testing"

	"github.com/google/nftables"

	"aegis.dev/aegis/internal/record"
)

type fakeNFTConn struct {
	rules []*nftables.Rule
	err   error
}

func (f *fakeNFTConn) GetRules(*nftables.Table, *nftables.Chain) ([]*nftables.Rule, error) {
	return f.rules, f.err
}

func newTestAdapter() *LocalNFTAdapter {
	a := NewLocalNFTAdapter("aegis", "inet", "enforce", nil)
	a.execNFT = func(context.Context, string) error { return nil }
	a.newConn = func() (nftConn, error) { return &fakeNFTConn{}, nil }
	return a
}

func TestLocalNFTAdapterApplyIdempotent(t *testing.T) {
	a := newTestAdapter()
	calls := 0
	a.execNFT = func(context.Context, string) error { calls++; return nil }

	rule := record.UniversalRule{RuleID: "r1", Action: record.ActionDeny}
	id1, err := a.Apply(context.Background(), rule)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	id2, err := a.Apply(context.Background(), rule)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id1 != id2 {
		t.Fatalf("ids differ: %s vs %s", id1, id2)
	}
	if calls != 1 {
		t.Fatalf("exec calls = %d, want 1 (idempotent retry)", calls)
	}
}

func TestLocalNFTAdapterApplyClassifiesUnreachable(t *testing.T) {
	a := newTestAdapter()
	a.execNFT = func(context.Context, string) error {
		return errors.New(`exec: "nft": executable file not found in $PATH`)
	}
	_, err := a.Apply(context.Background(), record.UniversalRule{RuleID: "r2", Action: record.ActionDeny})
	var aerr *AdapterError
	if !errors.As(err, &aerr) {
		t.Fatalf("expected *AdapterError, got %v", err)
	}
	if aerr.Outcome != OutcomeUnreachable {
		t.Fatalf("outcome = %s, want UNREACHABLE", aerr.Outcome)
	}
}

func TestLocalNFTAdapterQueryNotFound(t *testing.T) {
	a := newTestAdapter()
	_, err := a.Query(context.Background(), PerRuleID("missing"))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestNFTScriptBuilderRateLimitSplitsStatements(t *testing.T) {
	b := newNFTScriptBuilder("aegis", "inet", "enforce")
	rule := record.UniversalRule{
		RuleID:      "r3",
		Action:      record.ActionRateLimitMed,
		RateLimitPS: 50,
		Match:       record.Match{Protocol: "tcp"},
	}
	lines := b.buildApply(rule, ruleComment(rule.RuleID))
	if len(lines) != 2 {
		t.Fatalf("rate_limit should split into 2 statements, got %d", len(lines))
	}
}
