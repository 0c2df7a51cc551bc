// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Command aegis-sim drives synthetic feature vectors through a wired
// internal/pipeline.Pipeline (SYN-flood burst, benign heavy traffic,
// all-detectors-down, conflict rollback) without requiring a live
// network tap.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"aegis.dev/aegis/internal/config"
	"aegis.dev/aegis/internal/logging"
	"aegis.dev/aegis/internal/pipeline"
	"aegis.dev/aegis/internal/record"
)

func main() {
	configPath := flag.String("config", "", "Path to HCL config file")
	flag.Parse()

	args := flag.Args()
	scenario := "syn-flood"
	if len(args) > 0 {
		scenario = args[0]
	}

	var cfg *config.Config
	if *configPath != "" {
		var err error
		cfg, err = config.LoadFile(*configPath)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
	} else {
		cfg = config.Default()
	}

	logger := logging.New(logging.DefaultConfig()).WithComponent("aegis-sim")

	p, err := pipeline.New(cfg, logger)
	if err != nil {
		log.Fatalf("failed to build pipeline: %v", err)
	}
	defer p.Stop()

	ctx := context.Background()

	switch scenario {
	case "syn-flood":
		runSynFlood(ctx, p)
	case "benign-heavy":
		runBenignHeavy(ctx, p)
	case "detectors-down":
		runAllDetectorsDown(ctx, p)
	case "conflict-rollback":
		runConflictRollback(ctx, p)
	default:
		fmt.Fprintf(os.Stderr, "unknown scenario %q (want one of: syn-flood, benign-heavy, detectors-down, conflict-rollback)\n", scenario)
		os.Exit(1)
	}
}

// runOne pushes a single FeatureVector through Detect/Decide/Apply and
// prints the outcome, mirroring how internal/pipeline.handleFeatureVector
// drives the bus-fed streaming path.
func runOne(ctx context.Context, p *pipeline.Pipeline, label string, fv record.FeatureVector) {
	det := p.Detect(ctx, fv)
	dec, err := p.Decide(ctx, det)
	if err != nil {
		fmt.Printf("%s: decide failed: %v\n", label, err)
		return
	}
	if dec.Parameters.SrcAddr == "" {
		dec.Parameters.SrcAddr = fv.Context.SrcAddr
	}
	rs, err := p.Apply(ctx, dec)
	if err != nil {
		fmt.Printf("%s: apply failed: %v\n", label, err)
		return
	}
	fmt.Printf("%s: label=%s action=%s rule=%s lifecycle=%s\n",
		label, det.AggregateLabel, dec.Action, rs.RuleID, rs.Lifecycle)
}

// runSynFlood feeds a single SYN-heavy window from 203.0.113.7 against
// port 80: a threat Detection, a deny/rate_limit(high) Decision, and an
// active rule scoped to the attacking address are all expected.
func runSynFlood(ctx context.Context, p *pipeline.Pipeline) {
	fv := record.FeatureVector{Context: record.FeatureContext{
		WindowKey:  "203.0.113.7:80/tcp",
		WindowKind: "sliding",
		SrcAddr:    "203.0.113.7",
	}}
	fv.Values[record.SlotByteRate] = 50_000
	fv.Values[record.SlotPacketRate] = 2_000
	fv.Values[record.SlotSYNRatio] = 0.98
	fv.Values[record.SlotRSTRatio] = 0.01
	fv.Values[record.SlotUniqueDstPortEntropy] = 0.1
	fv.Values[record.SlotSessionDurationSec] = 30
	runOne(ctx, p, "syn-flood", fv)
}

// runBenignHeavy feeds a high-volume but unremarkable internal window;
// no deny/quarantine Decision is expected, at most monitor.
func runBenignHeavy(ctx context.Context, p *pipeline.Pipeline) {
	fv := record.FeatureVector{Context: record.FeatureContext{
		WindowKey:  "10.0.0.42:443/tcp",
		WindowKind: "sliding",
		SrcAddr:    "10.0.0.42",
	}}
	fv.Values[record.SlotByteRate] = 8_000
	fv.Values[record.SlotPacketRate] = 60
	fv.Values[record.SlotSYNRatio] = 0.02
	fv.Values[record.SlotACKByteRatio] = 0.9
	fv.Values[record.SlotSessionDurationSec] = 120
	runOne(ctx, p, "benign-heavy", fv)
}

// runAllDetectorsDown feeds an arbitrary window through the default
// pipeline and reports the resulting label, degraded flag, and action.
// Forcing every detector to error requires a fake detect.Detector
// injected in-process; see internal/pipeline/pipeline_scenarios_test.go
// for that variant of this scenario.
func runAllDetectorsDown(ctx context.Context, p *pipeline.Pipeline) {
	fv := record.FeatureVector{Context: record.FeatureContext{
		WindowKey: "198.51.100.9:22/tcp",
		SrcAddr:   "198.51.100.9",
	}}
	fv.Values[record.SlotByteRate] = 500
	det := p.Detect(ctx, fv)
	dec, err := p.Decide(ctx, det)
	if err != nil {
		fmt.Printf("detectors-down: decide failed: %v\n", err)
		return
	}
	fmt.Printf("detectors-down: label=%s degraded=%v action=%s\n",
		det.AggregateLabel, det.Degraded, dec.Action)
}

// runConflictRollback applies an allow Decision scoped to host
// 10.0.0.5, whose synthesized rule gets the orchestrator's low "allow"
// base priority, then a conflicting deny Decision scoped to the same
// host, whose "deny" base priority is numerically lower (higher
// precedence). Both actions synthesize a Match keyed on SrcCIDR alone,
// so the two rules collapse to the same Match and the new deny rule is
// expected to win, rolling the old allow rule back.
func runConflictRollback(ctx context.Context, p *pipeline.Pipeline) {
	params := record.DecisionParameters{SrcAddr: "10.0.0.5"}

	allow := record.Decision{DecisionID: "sim-allow", Action: record.ActionAllow, Parameters: params}
	rs1, err := p.Apply(ctx, allow)
	if err != nil {
		fmt.Printf("conflict-rollback: apply allow failed: %v\n", err)
		return
	}
	fmt.Printf("conflict-rollback: initial allow rule=%s lifecycle=%s\n", rs1.RuleID, rs1.Lifecycle)

	deny := record.Decision{DecisionID: "sim-deny", Action: record.ActionDeny, Parameters: params}
	rs2, err := p.Apply(ctx, deny)
	if err != nil {
		fmt.Printf("conflict-rollback: apply deny failed: %v\n", err)
		return
	}
	fmt.Printf("conflict-rollback: conflicting deny rule=%s lifecycle=%s\n", rs2.RuleID, rs2.Lifecycle)

	for _, entry := range p.ListRules() {
		if entry.State == nil {
			continue
		}
		fmt.Printf("conflict-rollback: rule=%s lifecycle=%s\n", entry.Rule.RuleID, entry.State.Lifecycle)
	}
}
