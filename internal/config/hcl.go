// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
)

// LoadFile loads a config file, dispatching on extension between HCL and
// JSON, falling back to trying both when the extension is absent or
// unrecognized.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".hcl":
		return LoadHCL(data, path)
	case ".json":
		return LoadJSON(data)
	default:
		if cfg, hclErr := LoadHCL(data, path); hclErr == nil {
			return cfg, nil
		} else if cfg, jsonErr := LoadJSON(data); jsonErr == nil {
			return cfg, nil
		} else {
			return nil, fmt.Errorf("config: parse %s as HCL or JSON: hcl=%v json=%v", path, hclErr, jsonErr)
		}
	}
}

// LoadHCL decodes HCL bytes into a Config, merging over Default() so
// unspecified blocks keep their conservative defaults.
func LoadHCL(data []byte, filename string) (*Config, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(data, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("config: parse hcl: %w", diags)
	}

	cfg := Default()
	diags = gohcl.DecodeBody(file.Body, nil, cfg)
	if diags.HasErrors() {
		return nil, fmt.Errorf("config: decode hcl: %w", diags)
	}
	return cfg, nil
}

// LoadJSON decodes JSON bytes into a Config, merging over Default().
func LoadJSON(data []byte) (*Config, error) {
	cfg := Default()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: decode json: %w", err)
	}
	return cfg, nil
}
