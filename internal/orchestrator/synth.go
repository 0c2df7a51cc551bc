// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package orchestrator is the policy orchestrator:
// it turns Decisions into UniversalRules, validates and resolves
// conflicts against currently active rules, dispatches to Vendor
// Adapters, and drives the pending/applying/active/expired/rolled_back
// lifecycle.
package orchestrator

import (
	"time"

	"github.com/google/uuid"

	"aegis.dev/aegis/internal/clock"
	"aegis.dev/aegis/internal/config"
	"aegis.dev/aegis/internal/record"
)

// synthesizer maps a Decision to a UniversalRule per §4.B's synthesis
// rule: match generalized by action (deny narrows to source address,
// quarantine expands to the whole host, rate_limit carries the cap),
// priority from configured base + age jitter, ttl from action.
type synthesizer struct {
	basePriority map[string]int
	ttl          map[string]time.Duration
}

func newSynthesizer(cfg *config.OrchConfig) (*synthesizer, error) {
	s := &synthesizer{basePriority: cfg.ActionBasePriority, ttl: make(map[string]time.Duration, len(cfg.TTL))}
	for action, raw := range cfg.TTL {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return nil, err
		}
		s.ttl[action] = d
	}
	return s, nil
}

// synthesize builds a UniversalRule from dec. age is the Decision's age
// at synthesis time, used for the priority jitter (more recent
// decisions are evaluated first among equal-priority rules).
func (s *synthesizer) synthesize(dec record.Decision, age time.Duration) record.UniversalRule {
	match := s.matchFor(dec)
	base := s.basePriority[string(dec.Action)]
	if base == 0 {
		base = s.basePriority[dec.Action.Family()]
	}
	jitter := int(age.Seconds())
	if jitter > 1000 {
		jitter = 1000
	}

	ttl := s.ttl[string(dec.Action)]
	if ttl == 0 {
		ttl = s.ttl[dec.Action.Family()]
	}

	return record.UniversalRule{
		RuleID:           uuid.NewString(),
		Match:            match,
		Action:           dec.Action,
		RateLimitPS:      dec.Parameters.RateLimitPerSecond,
		QuarantineDur:    ttl,
		Priority:         clampPriority(base + jitter),
		TTL:              ttl,
		OriginDecisionID: dec.DecisionID,
		CreatedAt:        clock.Now(),
	}
}

// matchFor generalizes the Decision's 5-tuple per action family: deny
// narrows to the source address alone (a precise block); quarantine
// expands to the whole host (both protocols, no port restriction);
// rate_limit and monitor keep the full 5-tuple.
func (s *synthesizer) matchFor(dec record.Decision) record.Match {
	p := dec.Parameters
	switch dec.Action.Family() {
	case "deny":
		return record.Match{SrcCIDR: hostCIDR(p.SrcAddr)}
	case "quarantine":
		return record.Match{SrcCIDR: hostCIDR(p.SrcAddr)}
	default:
		m := record.Match{SrcCIDR: hostCIDR(p.SrcAddr), DstCIDR: hostCIDR(p.DstAddr), Protocol: p.Protocol}
		if p.DstPort != 0 {
			m.DstPorts = []uint16{p.DstPort}
		}
		if p.SrcPort != 0 {
			m.SrcPorts = []uint16{p.SrcPort}
		}
		return m
	}
}

func hostCIDR(addr string) string {
	if addr == "" {
		return ""
	}
	if containsSlash(addr) {
		return addr
	}
	return addr + "/32"
}

func containsSlash(s string) bool {
	for _, c := range s {
		if c == '/' {
			return true
		}
	}
	return false
}

func clampPriority(p int) uint16 {
	if p < 0 {
		return 0
	}
	if p > 65535 {
		return 65535
	}
	return uint16(p)
}
