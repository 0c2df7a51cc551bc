// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package detect

import (
	"encoding/json"
	"fmt"
	"os"
)

// Artifact is the versioned combination-rule metadata loaded at startup
// and reload: per-detector weights (must sum to 1.0) and the
// threat/benign threshold.
type Artifact struct {
	Version   int                `json:"version"`
	Weights   map[string]float64 `json:"weights"`
	Threshold float64            `json:"threshold"`
}

// LoadArtifact reads and validates an Artifact from path. A missing or
// malformed startup artifact is a fatal condition per §7.
func LoadArtifact(path string) (*Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("detect: read artifact %s: %w", path, err)
	}
	var a Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("detect: decode artifact %s: %w", path, err)
	}
	sum := 0.0
	for _, w := range a.Weights {
		sum += w
	}
	if sum < 0.99 || sum > 1.01 {
		return nil, fmt.Errorf("detect: artifact %s weights sum to %f, want 1.0", path, sum)
	}
	return &a, nil
}

// DefaultArtifact returns a conservative built-in artifact for
// deployments that have not yet trained/supplied one.
func DefaultArtifact() *Artifact {
	return &Artifact{
		Version: 1,
		Weights: map[string]float64{
			"linear": 0.4,
			"ewma":   0.25,
			"ja3":    0.15,
			"geo":    0.2,
		},
		Threshold: 0.7,
	}
}
