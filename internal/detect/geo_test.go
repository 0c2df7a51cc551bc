// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package detect

import (
	"context"
	"testing"

	"aegis.dev/aegis/internal/record"
)

func TestGeoDetectorNoAddress(t *testing.T) {
	d := &GeoReputationDetector{id: "geo", risk: CountryRisk{}}
	v, err := d.Predict(context.Background(), record.FeatureVector{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Label != "benign" {
		t.Fatalf("label = %s, want benign", v.Label)
	}
}

func TestGeoDetectorPrivateAddress(t *testing.T) {
	d := &GeoReputationDetector{id: "geo", risk: CountryRisk{}}
	var fv record.FeatureVector
	fv.Context.SrcAddr = "10.0.0.5"

	v, err := d.Predict(context.Background(), fv)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Label != "benign" || v.Confidence != 1 {
		t.Fatalf("expected confident benign for private address, got %+v", v)
	}
}

func TestGeoDetectorMalformedAddress(t *testing.T) {
	d := &GeoReputationDetector{id: "geo", risk: CountryRisk{}}
	var fv record.FeatureVector
	fv.Context.SrcAddr = "not-an-ip"

	_, err := d.Predict(context.Background(), fv)
	if err != ErrDetectorError {
		t.Fatalf("err = %v, want ErrDetectorError", err)
	}
}
