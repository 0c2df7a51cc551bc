// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package detect

import (
	"context"
	"math"

	"aegis.dev/aegis/internal/record"
)

// LinearClassifier scores a FeatureVector by a per-slot weight vector
// dot product, squashed through a logistic function. Its coefficients
// are supplied by a per-detector artifact, distinct from the ensemble's
// combination-rule artifact.
type LinearClassifier struct {
	id   string
	coef [record.NumSlots]float64
	bias float64
}

// LinearArtifact is the JSON shape a LinearClassifier is trained/warm-
// started from.
type LinearArtifact struct {
	Coefficients [record.NumSlots]float64 `json:"coefficients"`
	Bias         float64                  `json:"bias"`
}

// NewLinearClassifier constructs a LinearClassifier from a trained
// artifact. id identifies this detector in ensemble weights and
// Detection verdicts (conventionally "linear").
func NewLinearClassifier(id string, artifact LinearArtifact) *LinearClassifier {
	return &LinearClassifier{id: id, coef: artifact.Coefficients, bias: artifact.Bias}
}

func (c *LinearClassifier) ID() string { return c.id }

// Predict computes sigmoid(coef . fv.Values + bias) and attributes the
// non-zero contributing slots for explanation.
func (c *LinearClassifier) Predict(_ context.Context, fv record.FeatureVector) (record.DetectorVerdict, error) {
	z := c.bias
	contributions := make([]record.Contribution, 0, record.NumSlots)
	for i, v := range fv.Values {
		term := c.coef[i] * v
		z += term
		if term != 0 {
			contributions = append(contributions, record.Contribution{
				Feature: record.SlotNames[i],
				Weight:  term,
			})
		}
	}
	score := 1 / (1 + math.Exp(-z))
	label := "benign"
	if score >= 0.5 {
		label = "threat"
	}
	return record.DetectorVerdict{
		DetectorID:    c.id,
		Score:         score,
		Label:         label,
		Confidence:    confidenceFromMargin(score),
		Contributions: contributions,
	}, nil
}

// confidenceFromMargin maps a [0,1] score to a [0,1] confidence by
// distance from the indecisive midpoint.
func confidenceFromMargin(score float64) float64 {
	d := score - 0.5
	if d < 0 {
		d = -d
	}
	return d * 2
}
