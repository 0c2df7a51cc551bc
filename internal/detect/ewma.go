// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package detect

import (
	"context"
	"math"
	"sync"

	"aegis.dev/aegis/internal/record"
)

// EWMAAnomalyDetector flags a FeatureVector as anomalous when a tracked
// slot's value is many standard deviations away from its exponentially
// weighted moving mean. State is keyed per WindowKey so that each flow
// is compared against its own history rather than a global baseline.
type EWMAAnomalyDetector struct {
	id    string
	slot  int
	alpha float64
	zHigh float64

	mu    sync.Mutex
	state map[string]*ewmaState
}

type ewmaState struct {
	mean float64
	// variance tracks an EWMA of squared deviation, per Welford-style
	// online update adapted for exponential weighting.
	variance float64
	seen     bool
}

// EWMAArtifact configures which slot to track, the smoothing factor,
// and the z-score threshold that counts as anomalous.
type EWMAArtifact struct {
	Slot  int     `json:"slot"`
	Alpha float64 `json:"alpha"`
	ZHigh float64 `json:"z_high"`
}

// NewEWMAAnomalyDetector constructs an EWMAAnomalyDetector from an
// artifact. Unset Alpha/ZHigh fall back to conservative defaults.
func NewEWMAAnomalyDetector(id string, artifact EWMAArtifact) *EWMAAnomalyDetector {
	alpha := artifact.Alpha
	if alpha <= 0 || alpha > 1 {
		alpha = 0.2
	}
	zHigh := artifact.ZHigh
	if zHigh <= 0 {
		zHigh = 3.5
	}
	return &EWMAAnomalyDetector{
		id:    id,
		slot:  artifact.Slot,
		alpha: alpha,
		zHigh: zHigh,
		state: make(map[string]*ewmaState),
	}
}

func (d *EWMAAnomalyDetector) ID() string { return d.id }

// Predict updates the tracked slot's EWMA mean/variance for this
// window's key and scores the current observation's z-score, squashed
// to [0,1] via the same x/(x+k) rule used for raw feature values.
func (d *EWMAAnomalyDetector) Predict(_ context.Context, fv record.FeatureVector) (record.DetectorVerdict, error) {
	if d.slot < 0 || d.slot >= record.NumSlots {
		return record.DetectorVerdict{}, ErrDetectorError
	}
	x := fv.Values[d.slot]
	key := fv.Context.WindowKey

	d.mu.Lock()
	st, ok := d.state[key]
	if !ok {
		st = &ewmaState{}
		d.state[key] = st
	}
	var z float64
	if !st.seen {
		st.mean = x
		st.variance = 0
		st.seen = true
		z = 0
	} else {
		delta := x - st.mean
		st.mean += d.alpha * delta
		st.variance = (1-d.alpha)*(st.variance+d.alpha*delta*delta)
		sd := math.Sqrt(st.variance)
		if sd > 1e-9 {
			z = delta / sd
		}
	}
	d.mu.Unlock()

	absZ := math.Abs(z)
	score := absZ / (absZ + d.zHigh)
	label := "benign"
	if absZ >= d.zHigh {
		label = "threat"
	}
	return record.DetectorVerdict{
		DetectorID: d.id,
		Score:      score,
		Label:      label,
		Confidence: math.Min(absZ/d.zHigh, 1),
		Contributions: []record.Contribution{
			{Feature: record.SlotNames[d.slot], Weight: z},
		},
	}, nil
}
