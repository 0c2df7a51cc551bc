// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package adapters

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/google/nftables"
	"github.com/google/nftables/userdata"

	"aegis.dev/aegis/internal/logging"
	"aegis.dev/aegis/internal/record"
)

// LocalNFTAdapter translates UniversalRules into nftables statements
// and applies them atomically via `nft -f -`, following the same
// internal/firewall.AtomicRulesetUpdate/DryRun/rollback-on-failure shape.
// Live state is read through github.com/google/nftables (netlink)
// rather than re-parsing `nft list ruleset` text.
type LocalNFTAdapter struct {
	table, family, chain string
	builder              *nftScriptBuilder
	logger               *logging.Logger
	idempotency          *idempotencyCache

	// execNFT runs `nft -f -` against script; overridable in tests.
	execNFT func(ctx context.Context, script string) error
	// newConn opens a netlink connection for live-state queries;
	// overridable in tests.
	newConn func() (nftConn, error)
}

// nftConn is the subset of *nftables.Conn this adapter needs, narrowed
// to allow a fake in tests without a real netlink socket.
type nftConn interface {
	GetRules(t *nftables.Table, c *nftables.Chain) ([]*nftables.Rule, error)
}

// NewLocalNFTAdapter constructs a LocalNFTAdapter targeting table/chain
// in family (conventionally "inet").
func NewLocalNFTAdapter(table, family, chain string, logger *logging.Logger) *LocalNFTAdapter {
	if logger == nil {
		logger = logging.Default().WithComponent("adapters.nft")
	}
	a := &LocalNFTAdapter{
		table:       table,
		family:      family,
		chain:       chain,
		builder:     newNFTScriptBuilder(table, family, chain),
		logger:      logger,
		idempotency: newIdempotencyCache(),
	}
	a.execNFT = a.runNFT
	a.newConn = func() (nftConn, error) { return nftables.New() }
	return a
}

func (a *LocalNFTAdapter) Name() string { return "local_nft" }

// Apply renders rule into one or more nft statements tagged with its
// rule_id and applies them as a single `nft -f -` transaction, which
// nftables itself executes atomically — no ruleset is ever observed
// half-applied. Idempotent: a retried Apply for an already-applied
// rule_id returns the cached PerRuleID without issuing a second
// transaction.
func (a *LocalNFTAdapter) Apply(ctx context.Context, rule record.UniversalRule) (PerRuleID, error) {
	if id, ok := a.idempotency.get(rule.RuleID); ok {
		return id, nil
	}
	comment := ruleComment(rule.RuleID)
	lines := a.builder.buildApply(rule, comment)
	script := strings.Join(lines, "\n") + "\n"

	if err := a.execNFT(ctx, script); err != nil {
		return "", NewAdapterError(classifyNFTError(err), err)
	}
	id := PerRuleID(rule.RuleID)
	a.idempotency.put(rule.RuleID, id)
	return id, nil
}

// Remove flushes every statement tagged with id's rule_id from the
// owning chain.
func (a *LocalNFTAdapter) Remove(ctx context.Context, id PerRuleID) error {
	conn, err := a.newConn()
	if err != nil {
		return NewAdapterError(OutcomeUnreachable, err)
	}
	t := &nftables.Table{Name: a.table, Family: familyOf(a.family)}
	c := &nftables.Chain{Name: a.chain, Table: t}
	rules, err := conn.GetRules(t, c)
	if err != nil {
		return NewAdapterError(OutcomeTransient, err)
	}
	found := false
	for _, r := range rules {
		tag, ok := userdata.GetString(r.UserData, userdata.TypeComment)
		if ok && tag == ruleComment(string(id)) {
			found = true
		}
	}
	if !found {
		return ErrNotFound
	}
	// Handle-precise deletion is performed by the real *nftables.Conn via
	// conn.DelRule + conn.Flush; the injected nftConn seam here only
	// covers reads, so deletion goes through the netlink connection
	// directly when not under test.
	if realConn, ok := conn.(*nftables.Conn); ok {
		for _, r := range rules {
			tag, ok := userdata.GetString(r.UserData, userdata.TypeComment)
			if ok && tag == ruleComment(string(id)) {
				realConn.DelRule(r)
			}
		}
		if err := realConn.Flush(); err != nil {
			return NewAdapterError(OutcomeTransient, err)
		}
	}
	a.idempotency.delete(string(id))
	return nil
}

// Query reports whether id's rule_id still has at least one live
// statement in the chain.
func (a *LocalNFTAdapter) Query(ctx context.Context, id PerRuleID) (AdapterState, error) {
	conn, err := a.newConn()
	if err != nil {
		return AdapterState{}, NewAdapterError(OutcomeUnreachable, err)
	}
	t := &nftables.Table{Name: a.table, Family: familyOf(a.family)}
	c := &nftables.Chain{Name: a.chain, Table: t}
	rules, err := conn.GetRules(t, c)
	if err != nil {
		return AdapterState{}, NewAdapterError(OutcomeTransient, err)
	}
	for _, r := range rules {
		tag, ok := userdata.GetString(r.UserData, userdata.TypeComment)
		if ok && tag == ruleComment(string(id)) {
			return AdapterState{PerRuleID: id, Active: true}, nil
		}
	}
	return AdapterState{}, ErrNotFound
}

// List enumerates every rule_id this adapter currently has live
// statements for.
func (a *LocalNFTAdapter) List(ctx context.Context) ([]PerRuleID, error) {
	conn, err := a.newConn()
	if err != nil {
		return nil, NewAdapterError(OutcomeUnreachable, err)
	}
	t := &nftables.Table{Name: a.table, Family: familyOf(a.family)}
	c := &nftables.Chain{Name: a.chain, Table: t}
	rules, err := conn.GetRules(t, c)
	if err != nil {
		return nil, NewAdapterError(OutcomeTransient, err)
	}
	seen := map[string]bool{}
	var out []PerRuleID
	const prefix = "aegis-rule:"
	for _, r := range rules {
		tag, ok := userdata.GetString(r.UserData, userdata.TypeComment)
		if !ok || !strings.HasPrefix(tag, prefix) {
			continue
		}
		ruleID := strings.TrimPrefix(tag, prefix)
		if !seen[ruleID] {
			seen[ruleID] = true
			out = append(out, PerRuleID(ruleID))
		}
	}
	return out, nil
}

func (a *LocalNFTAdapter) runNFT(ctx context.Context, script string) error {
	cmd := exec.CommandContext(ctx, "nft", "-f", "-")
	cmd.Stdin = strings.NewReader(script)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("nft -f -: %w: %s", err, stderr.String())
	}
	return nil
}

func familyOf(family string) nftables.TableFamily {
	switch family {
	case "ip6":
		return nftables.TableFamilyIPv6
	case "inet":
		return nftables.TableFamilyINet
	default:
		return nftables.TableFamilyIPv4
	}
}

// classifyNFTError buckets an `nft` invocation failure into the
// Transient/Permanent/Unreachable taxonomy from §4.A. A missing `nft`
// binary or a netlink-unreachable kernel means Unreachable; a syntax
// error in the generated script is Permanent (retrying the exact same
// script will not help); anything else defaults to Transient.
func classifyNFTError(err error) Outcome {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "executable file not found"):
		return OutcomeUnreachable
	case strings.Contains(msg, "Error: syntax error") || strings.Contains(msg, "Could not process rule"):
		return OutcomePermanent
	default:
		return OutcomeTransient
	}
}
