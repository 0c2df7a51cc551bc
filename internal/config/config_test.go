// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package config

import "testing"

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	if errs := cfg.Validate(); errs.HasErrors() {
		t.Fatalf("Default() config should validate cleanly, got: %v", errs)
	}
}

func TestValidateWeightSum(t *testing.T) {
	cfg := Default()
	cfg.Ensemble.Weights = map[string]float64{"linear": 0.5, "ewma": 0.2}

	errs := cfg.Validate()
	if !errs.HasErrors() {
		t.Fatal("expected a validation error for weights not summing to 1.0")
	}
}

func TestValidateUnknownWindowKind(t *testing.T) {
	cfg := Default()
	cfg.Features.Windows = append(cfg.Features.Windows, WindowSpec{Kind: "bogus"})

	errs := cfg.Validate()
	if !errs.HasErrors() {
		t.Fatal("expected a validation error for unknown window kind")
	}
}

func TestLoadHCLRoundTrip(t *testing.T) {
	src := []byte(`
schema_version = "1.0"

ensemble {
  threshold = 0.8
}
`)
	cfg, err := LoadHCL(src, "test.hcl")
	if err != nil {
		t.Fatalf("LoadHCL: %v", err)
	}
	if cfg.Ensemble.Threshold != 0.8 {
		t.Fatalf("Ensemble.Threshold = %v, want 0.8", cfg.Ensemble.Threshold)
	}
	// Unspecified blocks should retain Default()'s values.
	if cfg.Audit.RetentionDays != 90 {
		t.Fatalf("Audit.RetentionDays = %v, want default 90", cfg.Audit.RetentionDays)
	}
}

func TestLoadJSONRoundTrip(t *testing.T) {
	src := []byte(`{"schema_version": "1.0", "ensemble": {"threshold": 0.9}}`)
	cfg, err := LoadJSON(src)
	if err != nil {
		t.Fatalf("LoadJSON: %v", err)
	}
	if cfg.Ensemble.Threshold != 0.9 {
		t.Fatalf("Ensemble.Threshold = %v, want 0.9", cfg.Ensemble.Threshold)
	}
}
