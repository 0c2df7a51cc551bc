// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package orchestrator

import (
	"fmt"
	"net"
	"strings"

	"aegis.dev/aegis/internal/config"
	"aegis.dev/aegis/internal/record"
)

// ValidationError mirrors internal/config's ValidationError shape,
// reused here for the Orchestrator's own reject-and-audit path rather
// than introducing a second error type for the same concern.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string { return e.Field + ": " + e.Message }

type validator struct {
	maxScope        map[string]int // action -> minimum allowed CIDR prefix length
	protectedAssets []string
	pinnedAllowList []string
}

func newValidator(cfg *config.OrchConfig) *validator {
	return &validator{
		maxScope:        cfg.MaxScope,
		protectedAssets: cfg.ProtectedAssets,
		pinnedAllowList: cfg.PinnedAllowList,
	}
}

// validate rejects rule.Match targeting a protected asset, broader than
// the configured maximum scope for its action, or contradicting a
// pinned allow-list (a deny/quarantine whose match covers a pinned
// CIDR).
func (v *validator) validate(rule record.UniversalRule) error {
	if rule.Match.SrcCIDR != "" {
		for _, protected := range v.protectedAssets {
			if cidrsOverlap(rule.Match.SrcCIDR, protected) {
				return &ValidationError{Field: "match.src_cidr", Message: fmt.Sprintf("targets protected asset %s", protected)}
			}
		}
	}
	if rule.Match.DstCIDR != "" {
		for _, protected := range v.protectedAssets {
			if cidrsOverlap(rule.Match.DstCIDR, protected) {
				return &ValidationError{Field: "match.dst_cidr", Message: fmt.Sprintf("targets protected asset %s", protected)}
			}
		}
	}

	if min, ok := v.maxScope[string(rule.Action)]; ok {
		if prefixLen(rule.Match.SrcCIDR) < min {
			return &ValidationError{Field: "match.src_cidr", Message: fmt.Sprintf("broader than max_scope /%d for action %s", min, rule.Action)}
		}
	}

	if rule.Action.Family() == "deny" || rule.Action.Family() == "quarantine" {
		for _, pinned := range v.pinnedAllowList {
			if cidrsOverlap(rule.Match.SrcCIDR, pinned) {
				return &ValidationError{Field: "match.src_cidr", Message: fmt.Sprintf("contradicts pinned allow-list entry %s", pinned)}
			}
		}
	}
	return nil
}

// prefixLen returns a CIDR's prefix length, or 32 for a bare address
// (the narrowest possible scope) and 0 for an empty/unparseable value
// (treated as maximally broad, i.e. "any").
func prefixLen(cidr string) int {
	if cidr == "" {
		return 0
	}
	if !strings.Contains(cidr, "/") {
		return 32
	}
	_, ipNet, err := net.ParseCIDR(cidr)
	if err != nil {
		return 0
	}
	ones, _ := ipNet.Mask.Size()
	return ones
}

// cidrsOverlap reports whether two CIDRs (or bare addresses) share any
// address.
func cidrsOverlap(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	aNet, aIP, err := parseCIDROrIP(a)
	if err != nil {
		return false
	}
	bNet, bIP, err := parseCIDROrIP(b)
	if err != nil {
		return false
	}
	if aNet != nil && bIP != nil && aNet.Contains(bIP) {
		return true
	}
	if bNet != nil && aIP != nil && bNet.Contains(aIP) {
		return true
	}
	if aNet != nil && bNet != nil {
		return aNet.Contains(bNet.IP) || bNet.Contains(aNet.IP)
	}
	return aIP != nil && bIP != nil && aIP.Equal(bIP)
}

func parseCIDROrIP(s string) (*net.IPNet, net.IP, error) {
	if strings.Contains(s, "/") {
		ip, ipNet, err := net.ParseCIDR(s)
		if err != nil {
			return nil, nil, err
		}
		ipNet.IP = ip
		return ipNet, nil, nil
	}
	ip := net.ParseIP(s)
	if ip == nil {
		return nil, nil, fmt.Errorf("orchestrator: invalid address %q", s)
	}
	return nil, ip, nil
}
