// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package adapters is the vendor adapter layer: a
// uniform capability interface over heterogeneous enforcement points
// (local nftables, cloud security groups), each translating a
// vendor-neutral UniversalRule into native calls.
package adapters

import (
	"context"
	"errors"

	"aegis.dev/aegis/internal/record"
)

// Outcome classifies the result of a native call so the Orchestrator
// can decide whether to retry.
type Outcome string

const (
	OutcomeOK          Outcome = "OK"
	OutcomeTransient   Outcome = "TRANSIENT"
	OutcomePermanent   Outcome = "PERMANENT"
	OutcomeUnreachable Outcome = "UNREACHABLE"
)

// ErrNotFound is returned by Query/Remove when PerRuleID is unknown to
// the adapter.
var ErrNotFound = errors.New("adapters: rule not found")

// PerRuleID is an adapter-assigned identifier for one applied rule,
// opaque to the Orchestrator. A single UniversalRule may expand into a
// compound identifier (e.g. one SG rule per protocol).
type PerRuleID string

// AdapterState is an adapter's point-in-time view of one applied rule.
type AdapterState struct {
	PerRuleID PerRuleID
	Active    bool
	Detail    string
}

// AdapterError carries an Outcome classification alongside the usual
// error chain, letting callers decide whether to retry without string
// matching.
type AdapterError struct {
	Outcome Outcome
	Err     error
}

func (e *AdapterError) Error() string { return e.Outcome.String() + ": " + e.Err.Error() }
func (e *AdapterError) Unwrap() error { return e.Err }

func (o Outcome) String() string { return string(o) }

// NewAdapterError wraps err with an Outcome classification.
func NewAdapterError(outcome Outcome, err error) *AdapterError {
	return &AdapterError{Outcome: outcome, Err: err}
}

// Adapter is the vendor-neutral enforcement capability every
// enforcement point implements.
type Adapter interface {
	Name() string
	Apply(ctx context.Context, rule record.UniversalRule) (PerRuleID, error)
	Remove(ctx context.Context, id PerRuleID) error
	Query(ctx context.Context, id PerRuleID) (AdapterState, error)
	List(ctx context.Context) ([]PerRuleID, error)
}
