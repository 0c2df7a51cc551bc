// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package orchestrator

import "aegis.dev/aegis/internal/record"

// conflictDecision is the outcome of comparing a candidate rule against
// one active rule with an intersecting match.
type conflictDecision int

const (
	// conflictNone: matches don't intersect; the two rules are unrelated.
	conflictNone conflictDecision = iota
	// conflictDedupe: identical match + identical action — bump the
	// existing rule's ttl instead of adding a new one.
	conflictDedupe
	// conflictPriorityWins: identical match + conflicting action — the
	// higher-priority rule wins; the other rolls back.
	conflictPriorityWins
	// conflictCoexist: overlapping but non-identical match — both rules
	// remain; relative priority determines adapter evaluation order.
	conflictCoexist
)

// matchEqual reports whether two Match values are identical (same
// scope, not merely overlapping).
func matchEqual(a, b record.Match) bool {
	if a.SrcCIDR != b.SrcCIDR || a.DstCIDR != b.DstCIDR || a.Protocol != b.Protocol {
		return false
	}
	return uint16SliceEqual(a.SrcPorts, b.SrcPorts) && uint16SliceEqual(a.DstPorts, b.DstPorts)
}

func uint16SliceEqual(a, b []uint16) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// matchIntersects reports whether two Match predicates could both match
// the same traffic, used to find candidate conflicts among active
// rules before the more precise matchEqual/family comparison.
func matchIntersects(a, b record.Match) bool {
	if a.Protocol != "" && b.Protocol != "" && a.Protocol != b.Protocol {
		return false
	}
	if !cidrsOverlapOrEmpty(a.SrcCIDR, b.SrcCIDR) {
		return false
	}
	if !cidrsOverlapOrEmpty(a.DstCIDR, b.DstCIDR) {
		return false
	}
	if !portsOverlapOrEmpty(a.SrcPorts, b.SrcPorts) {
		return false
	}
	if !portsOverlapOrEmpty(a.DstPorts, b.DstPorts) {
		return false
	}
	return true
}

func cidrsOverlapOrEmpty(a, b string) bool {
	if a == "" || b == "" {
		return true
	}
	return cidrsOverlap(a, b)
}

func portsOverlapOrEmpty(a, b []uint16) bool {
	if len(a) == 0 || len(b) == 0 {
		return true
	}
	set := make(map[uint16]bool, len(a))
	for _, p := range a {
		set[p] = true
	}
	for _, p := range b {
		if set[p] {
			return true
		}
	}
	return false
}

// resolve classifies the conflict between candidate and active per
// §4.B(a-c).
func resolve(candidate, active record.UniversalRule) conflictDecision {
	if !matchIntersects(candidate.Match, active.Match) {
		return conflictNone
	}
	if matchEqual(candidate.Match, active.Match) {
		if candidate.Action == active.Action {
			return conflictDedupe
		}
		return conflictPriorityWins
	}
	return conflictCoexist
}
