// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package adapters

import (
	"fmt"
	"strconv"
	"strings"

	"aegis.dev/aegis/internal/record"
)

// nftScriptBuilder builds an `nft -f -` script for one UniversalRule,
// generalized from an nftables ScriptBuilder pattern: one
// rule translates into one or more statements in a fixed chain, each
// tagged with a comment carrying rule_id so Query/List can recover
// UniversalRule ownership from live ruleset state.
type nftScriptBuilder struct {
	table, family, chain string
}

func newNFTScriptBuilder(table, family, chain string) *nftScriptBuilder {
	return &nftScriptBuilder{table: table, family: family, chain: chain}
}

// buildApply renders the add-rule statements for rule, tagged with
// comment. rate_limit actions split into a `limit rate` statement
// followed by an accept/drop pair, demonstrating nftables' native
// rate-limiting primitive rather than emulating it in software.
func (b *nftScriptBuilder) buildApply(rule record.UniversalRule, comment string) []string {
	match := b.matchExpr(rule.Match)
	var lines []string
	switch rule.Action.Family() {
	case "allow":
		lines = append(lines, b.rule(match+" accept", comment))
	case "deny":
		lines = append(lines, b.rule(match+" drop", comment))
	case "monitor":
		lines = append(lines, b.rule(match+" counter accept", comment))
	case "rate_limit":
		rate := rule.RateLimitPS
		if rate == 0 {
			rate = 100
		}
		lines = append(lines, b.rule(fmt.Sprintf("%s limit rate over %d/second drop", match, rate), comment))
		lines = append(lines, b.rule(match+" accept", comment))
	case "quarantine":
		lines = append(lines, b.rule(match+" drop", comment))
	default:
		lines = append(lines, b.rule(match+" counter", comment))
	}
	return lines
}

func (b *nftScriptBuilder) rule(expr, comment string) string {
	return fmt.Sprintf("add rule %s %s %s %s comment %q",
		b.family, quoteNFT(b.table), quoteNFT(b.chain), expr, comment)
}

func (b *nftScriptBuilder) matchExpr(m record.Match) string {
	var parts []string
	if m.Protocol != "" {
		parts = append(parts, "ip protocol "+strings.ToLower(m.Protocol))
	}
	if m.SrcCIDR != "" {
		parts = append(parts, "ip saddr "+m.SrcCIDR)
	}
	if m.DstCIDR != "" {
		parts = append(parts, "ip daddr "+m.DstCIDR)
	}
	if len(m.SrcPorts) > 0 {
		parts = append(parts, "tcp sport { "+joinPorts(m.SrcPorts)+" }")
	}
	if len(m.DstPorts) > 0 {
		parts = append(parts, "tcp dport { "+joinPorts(m.DstPorts)+" }")
	}
	if len(parts) == 0 {
		return ""
	}
	return strings.Join(parts, " ") + " "
}

func joinPorts(ports []uint16) string {
	strs := make([]string, len(ports))
	for i, p := range ports {
		strs[i] = strconv.Itoa(int(p))
	}
	return strings.Join(strs, ", ")
}

func quoteNFT(s string) string { return strconv.Quote(s) }

// ruleComment is the per-rule_id tag embedded in every statement this
// rule produces, letting Query/List recover ownership from live state.
func ruleComment(ruleID string) string { return "aegis-rule:" + ruleID }
