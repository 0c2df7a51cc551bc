// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package detect

import (
	"context"
	"encoding/json"
	"os"

	"aegis.dev/aegis/internal/record"
)

// JA3ReputationDetector flags FeatureVectors whose TLS Client Hello JA3
// fingerprint (computed at capture time by the pcap framing parser and
// carried through Window aggregation in fv.Context.JA3) matches a known
// malicious-tooling hash. It never touches raw packets itself.
type JA3ReputationDetector struct {
	id       string
	denylist map[string]string // ja3 hash -> label, e.g. "cobaltstrike"
}

// NewJA3ReputationDetector constructs a JA3ReputationDetector from a
// hash->label denylist.
func NewJA3ReputationDetector(id string, denylist map[string]string) *JA3ReputationDetector {
	if denylist == nil {
		denylist = map[string]string{}
	}
	return &JA3ReputationDetector{id: id, denylist: denylist}
}

// LoadJA3Denylist reads a JSON object of {"<ja3-md5-hex>": "<label>"}
// pairs from path.
func LoadJA3Denylist(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m map[string]string
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func (d *JA3ReputationDetector) ID() string { return d.id }

// Predict returns a full-confidence threat verdict when fv.Context.JA3
// is a nonempty denylist hit, benign otherwise. A Window with no
// observed TLS handshake (JA3 empty) is always benign to this detector
// — it has no opinion, not an absence of threat.
func (d *JA3ReputationDetector) Predict(_ context.Context, fv record.FeatureVector) (record.DetectorVerdict, error) {
	ja3 := fv.Context.JA3
	if ja3 == "" {
		return record.DetectorVerdict{
			DetectorID: d.id,
			Score:      0,
			Label:      "benign",
			Confidence: 0,
		}, nil
	}
	if label, hit := d.denylist[ja3]; hit {
		return record.DetectorVerdict{
			DetectorID: d.id,
			Score:      1,
			Label:      "threat",
			Confidence: 1,
			Contributions: []record.Contribution{
				{Feature: "ja3:" + label, Weight: 1},
			},
		}, nil
	}
	return record.DetectorVerdict{
		DetectorID: d.id,
		Score:      0,
		Label:      "benign",
		Confidence: 0.5,
	}, nil
}
