// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package config

import (
	"fmt"
	"strings"
)

// ValidationError represents a single configuration validation error.
type ValidationError struct {
	Field    string
	Message  string
	Severity string // "error" (default) or "warning"
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// HasErrors reports whether any entry has Severity "error" (the default).
func (e ValidationErrors) HasErrors() bool {
	for _, err := range e {
		if err.Severity == "" || err.Severity == "error" {
			return true
		}
	}
	return false
}

// Validate checks structural constraints on the configuration that HCL
// decoding alone cannot express (e.g. weight sums, known window and
// adapter kinds).
func (c *Config) Validate() ValidationErrors {
	var errs ValidationErrors

	if c.Ensemble != nil && len(c.Ensemble.Weights) > 0 {
		sum := 0.0
		for _, w := range c.Ensemble.Weights {
			sum += w
		}
		if sum < 0.999 || sum > 1.001 {
			errs = append(errs, ValidationError{
				Field:   "ensemble.weights",
				Message: fmt.Sprintf("detector weights must sum to 1.0, got %f", sum),
			})
		}
	}

	if c.Features != nil {
		for _, w := range c.Features.Windows {
			switch w.Kind {
			case "tumbling":
				if w.Span == "" {
					errs = append(errs, ValidationError{Field: "features.window", Message: "tumbling window requires span"})
				}
			case "sliding":
				if w.Span == "" || w.Slide == "" {
					errs = append(errs, ValidationError{Field: "features.window", Message: "sliding window requires span and slide"})
				}
			case "session":
				if w.Gap == "" {
					errs = append(errs, ValidationError{Field: "features.window", Message: "session window requires gap"})
				}
			default:
				errs = append(errs, ValidationError{Field: "features.window", Message: fmt.Sprintf("unknown window kind %q", w.Kind)})
			}
		}
	}

	for _, a := range c.Adapters {
		switch a.Kind {
		case "local_nft":
			if a.NFT == nil {
				errs = append(errs, ValidationError{Field: "adapter." + a.Name, Message: "local_nft adapter requires an nft block"})
			}
		case "cloud_ec2":
			if a.Cloud == nil || a.Cloud.SecurityGroupID == "" {
				errs = append(errs, ValidationError{Field: "adapter." + a.Name, Message: "cloud_ec2 adapter requires cloud.security_group_id"})
			}
		default:
			errs = append(errs, ValidationError{Field: "adapter." + a.Name, Message: fmt.Sprintf("unknown adapter kind %q", a.Kind)})
		}
	}

	return errs
}
