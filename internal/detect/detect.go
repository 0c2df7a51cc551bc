// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package detect is the detection ensemble: a set of
// heterogeneous Detectors, combined by a weighted-stacking Ensemble into
// a single Detection per FeatureVector.
package detect

import (
	"context"
	"errors"

	"aegis.dev/aegis/internal/record"
)

// ErrDetectorError is wrapped by a Detector's Predict to signal a
// recoverable per-detector failure; the Ensemble redistributes that
// detector's weight and counts the failure.
var ErrDetectorError = errors.New("detect: detector error")

// ErrAllDetectorsFailed names the condition of every configured
// detector failing. Ensemble.Combine does not return it: it reports
// that case as a Detection with aggregate_label "unknown" and a NaN
// score.
var ErrAllDetectorsFailed = errors.New("detect: all detectors failed")

// Detector is one member of the ensemble. Implementations must be pure
// functions of the FeatureVector; any internal state must be explicitly
// warm-started from an artifact at construction time (§4.D).
type Detector interface {
	ID() string
	Predict(ctx context.Context, fv record.FeatureVector) (record.DetectorVerdict, error)
}
