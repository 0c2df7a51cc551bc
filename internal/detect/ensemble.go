// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package detect

import (
	"context"
	"math"
	"sync/atomic"
	"time"

	"aegis.dev/aegis/internal/clock"
	"aegis.dev/aegis/internal/logging"
	"aegis.dev/aegis/internal/metrics"
	"aegis.dev/aegis/internal/record"
)

// Ensemble runs every configured Detector against a FeatureVector and
// combines their verdicts by the stacking rule in §4.D:
// aggregate_score = Σ wᵢ·sᵢ with Σw=1; a detector's weight is
// redistributed proportionally among the survivors on failure.
type Ensemble struct {
	detectors []Detector
	artifact  atomic.Pointer[Artifact]
	logger    *logging.Logger
	// perDetectorBudget bounds each detector's Predict call; zero means
	// no bound beyond the caller's own context.
	perDetectorBudget time.Duration

	detectorErrors atomic.Int64
	allFailed      atomic.Int64
}

// NewEnsemble constructs an Ensemble from detectors, warm-started from
// artifact (weights + threshold).
func NewEnsemble(detectors []Detector, artifact *Artifact, logger *logging.Logger) *Ensemble {
	if logger == nil {
		logger = logging.Default().WithComponent("detect")
	}
	e := &Ensemble{detectors: detectors, logger: logger}
	e.artifact.Store(artifact)
	return e
}

// SetArtifact atomically swaps the combination-rule artifact (weights,
// threshold), per §5's "reloads swap a pointer atomically".
func (e *Ensemble) SetArtifact(a *Artifact) {
	e.artifact.Store(a)
}

// SetPerDetectorBudget bounds how long each detector's Predict call may
// run when invoked from Combine. Zero disables the bound.
func (e *Ensemble) SetPerDetectorBudget(d time.Duration) {
	e.perDetectorBudget = d
}

// Combine scores fv against every detector and combines the verdicts.
// It never returns an error for partial failure — only DetectionID
// generation upstream can fail; a total failure still yields a
// Detection, with AggregateLabel "unknown" and AggregateScore NaN, per
// §4.D.
func (e *Ensemble) Combine(ctx context.Context, detectionID, featureVectorID string, fv record.FeatureVector) record.Detection {
	artifact := e.artifact.Load()
	weights := map[string]float64{}
	threshold := 0.7
	if artifact != nil {
		weights = artifact.Weights
		threshold = artifact.Threshold
	}

	verdicts := make([]record.DetectorVerdict, 0, len(e.detectors))
	liveWeight := 0.0
	scoreSum := 0.0
	anyLive := false

	for _, d := range e.detectors {
		dctx, cancel := detectBudget(ctx, e.perDetectorBudget)
		v, err := d.Predict(dctx, fv)
		cancel()
		v.DetectorID = d.ID()
		if err != nil {
			v.Failed = true
			e.detectorErrors.Add(1)
			metrics.Get().DetectorError(d.ID())
			e.logger.Warn("detector failed, redistributing weight", "detector", d.ID(), "error", err)
			verdicts = append(verdicts, v)
			continue
		}
		w := weights[d.ID()]
		liveWeight += w
		scoreSum += w * v.Score
		anyLive = true
		verdicts = append(verdicts, v)
	}

	now := clock.Now()
	det := record.Detection{
		DetectionID:     detectionID,
		FeatureVectorID: featureVectorID,
		Verdicts:        verdicts,
		DecidedAt:       now,
	}

	if !anyLive {
		e.allFailed.Add(1)
		det.AggregateScore = math.NaN()
		det.AggregateLabel = "unknown"
		return det
	}

	aggregate := scoreSum
	if liveWeight > 0 && liveWeight < 1 {
		// Proportional redistribution: rescale as if the live detectors'
		// weights summed to 1.
		aggregate = scoreSum / liveWeight
	}
	det.Degraded = liveWeight < 0.999 && liveWeight > 0
	det.AggregateScore = aggregate
	if aggregate >= threshold {
		det.AggregateLabel = "threat"
	} else {
		det.AggregateLabel = "benign"
	}
	return det
}

// DetectorErrors returns the running count of individual detector
// failures.
func (e *Ensemble) DetectorErrors() int64 { return e.detectorErrors.Load() }

// AllDetectorsFailed returns the running count of Detections where every
// detector failed.
func (e *Ensemble) AllDetectorsFailed() int64 { return e.allFailed.Load() }

// detectBudget bounds how long Predict may run per detector when called
// from a synchronous surface (§6 "detect... returns within a configured
// budget").
func detectBudget(ctx context.Context, budget time.Duration) (context.Context, context.CancelFunc) {
	if budget <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, budget)
}
