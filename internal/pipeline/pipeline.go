// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package pipeline wires every stage (ingest, features, detect,
// policyagent, orchestrator, audit, alerting) into one running system
// and exposes six synchronous surfaces: detect, decide, apply,
// rollback, list_rules, get_audit. It is both how cmd/aegisd runs the
// full streaming path and the in-process API the gRPC/HTTP surfaces in
// internal/pipeline/rpc and internal/pipeline/httpapi delegate to.
package pipeline

import (
	"context"
	"fmt"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/google/uuid"

	"aegis.dev/aegis/internal/adapters"
	"aegis.dev/aegis/internal/alerting"
	"aegis.dev/aegis/internal/audit"
	"aegis.dev/aegis/internal/bus"
	"aegis.dev/aegis/internal/config"
	"aegis.dev/aegis/internal/detect"
	"aegis.dev/aegis/internal/errors"
	"aegis.dev/aegis/internal/features"
	"aegis.dev/aegis/internal/ingest"
	"aegis.dev/aegis/internal/logging"
	"aegis.dev/aegis/internal/orchestrator"
	"aegis.dev/aegis/internal/policyagent"
	"aegis.dev/aegis/internal/record"
)

// featuresTopic is the bus topic the Feature Engine publishes closed
// windows to; mirrored here rather than exported from internal/features
// since that package has no public topic constant of its own.
const featuresTopic = "features"

// Pipeline owns one fully wired instance of every stage and drives
// records from ingest through to enacted rules and alerts.
type Pipeline struct {
	cfg    *config.Config
	logger *logging.Logger

	bus  bus.Bus
	norm *ingest.Normalizer

	features *features.Engine
	ensemble *detect.Ensemble
	agents   *policyagent.Chain
	orch     *orchestrator.Orchestrator
	auditLog *audit.Logger
	auditDB  *audit.Store
	alerts   *alerting.Engine

	geoDetector *detect.GeoReputationDetector

	recordsSub bus.Subscription
	featureSub bus.Subscription
}

// New wires every stage from cfg. The returned Pipeline is not yet
// running; call Start to launch its subscriber and background loops.
func New(cfg *config.Config, logger *logging.Logger) (*Pipeline, error) {
	if logger == nil {
		logger = logging.Default().WithComponent("pipeline")
	}

	b := bus.NewMemoryBus(cfg.Bus.Partitions, cfg.Bus.PartitionDepth, cfg.Bus.MaxRedeliveries, logger.WithComponent("bus"))

	norm := ingest.New(cfg.Ingest, b, logger.WithComponent("ingest"))

	featuresEngine, err := features.New(cfg.Features, b, logger.WithComponent("features"))
	if err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, "pipeline: construct feature engine")
	}

	ensemble, geoDetector, err := buildEnsemble(cfg, logger.WithComponent("detect"))
	if err != nil {
		return nil, err
	}

	agentChain, err := buildAgentChain(cfg.Agent)
	if err != nil {
		return nil, err
	}

	auditDB, err := audit.Open(auditPath(cfg))
	if err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, "pipeline: open audit store")
	}
	auditLogger := audit.NewLogger(auditDB, logger.WithComponent("audit"))

	adapterList, err := buildAdapters(context.Background(), cfg.Adapters, logger.WithComponent("adapters"))
	if err != nil {
		auditDB.Close()
		return nil, err
	}

	orch, err := orchestrator.New(cfg.Orchestrator, adapterList, logger.WithComponent("orchestrator"), &auditSink{log: auditLogger})
	if err != nil {
		auditDB.Close()
		return nil, errors.Wrap(err, errors.KindInternal, "pipeline: construct orchestrator")
	}

	alerts := alerting.NewEngine(logger.WithComponent("alerting"))
	alerts.UpdateConfig(cfg.Alerting)

	return &Pipeline{
		cfg:         cfg,
		logger:      logger,
		bus:         b,
		norm:        norm,
		features:    featuresEngine,
		ensemble:    ensemble,
		geoDetector: geoDetector,
		agents:      agentChain,
		orch:        orch,
		auditLog:    auditLogger,
		auditDB:     auditDB,
		alerts:      alerts,
	}, nil
}

func auditPath(cfg *config.Config) string {
	if cfg.Audit != nil && cfg.Audit.DBPath != "" {
		return cfg.Audit.DBPath
	}
	return "audit.db"
}

// buildEnsemble constructs the Detection Ensemble's four built-in
// detectors from configuration, falling back to DefaultArtifact's
// weights/threshold when no ensemble artifact path is configured.
// GeoReputationDetector is returned separately since it owns a file
// handle that must be closed on Pipeline.Stop.
func buildEnsemble(cfg *config.Config, logger *logging.Logger) (*detect.Ensemble, *detect.GeoReputationDetector, error) {
	artifact := detect.DefaultArtifact()
	if cfg.Ensemble != nil && cfg.Ensemble.ArtifactPath != "" {
		loaded, err := detect.LoadArtifact(cfg.Ensemble.ArtifactPath)
		if err != nil {
			return nil, nil, errors.Wrap(err, errors.KindInternal, "pipeline: load ensemble artifact")
		}
		artifact = loaded
	} else if cfg.Ensemble != nil && len(cfg.Ensemble.Weights) > 0 {
		artifact = &detect.Artifact{Version: 1, Weights: cfg.Ensemble.Weights, Threshold: cfg.Ensemble.Threshold}
	}

	var detectors []detect.Detector
	detectors = append(detectors, detect.NewLinearClassifier("linear", detect.LinearArtifact{}))
	detectors = append(detectors, detect.NewEWMAAnomalyDetector("ewma", detect.EWMAArtifact{Slot: 0}))

	var geoDetector *detect.GeoReputationDetector
	if cfg.Ensemble != nil && cfg.Ensemble.GeoIPDBPath != "" {
		d, err := detect.NewGeoReputationDetector("geo", cfg.Ensemble.GeoIPDBPath, nil)
		if err != nil {
			return nil, nil, errors.Wrap(err, errors.KindInternal, "pipeline: open geoip database")
		}
		geoDetector = d
		detectors = append(detectors, d)
	}

	if cfg.Ensemble != nil && cfg.Ensemble.JA3DenylistPath != "" {
		denylist, err := detect.LoadJA3Denylist(cfg.Ensemble.JA3DenylistPath)
		if err != nil {
			return nil, nil, errors.Wrap(err, errors.KindInternal, "pipeline: load ja3 denylist")
		}
		detectors = append(detectors, detect.NewJA3ReputationDetector("ja3", denylist))
	}

	ensemble := detect.NewEnsemble(detectors, artifact, logger)
	if cfg.Pipeline != nil && cfg.Pipeline.DetectBudgetMS > 0 {
		ensemble.SetPerDetectorBudget(time.Duration(cfg.Pipeline.DetectBudgetMS) * time.Millisecond)
	}
	return ensemble, geoDetector, nil
}

// buildAgentChain builds the Policy Agent's Chain: an ArtifactPolicy
// when a trained table is configured, always ending with
// DefaultFallbackAgent so the chain is guaranteed to produce a
// Decision.
func buildAgentChain(cfg *config.AgentConfig) (*policyagent.Chain, error) {
	var agentsList []policyagent.Agent
	if cfg != nil && cfg.ArtifactPath != "" {
		data, err := policyagent.LoadArtifactPolicyFile(cfg.ArtifactPath)
		if err != nil {
			return nil, errors.Wrap(err, errors.KindInternal, "pipeline: load policy artifact")
		}
		agentsList = append(agentsList, policyagent.NewArtifactPolicy(data))
	}
	agentsList = append(agentsList, policyagent.DefaultFallbackAgent())
	return policyagent.NewChain(agentsList...), nil
}

// buildAdapters constructs one adapters.Adapter per configured
// AdapterConfig entry, resolving AWS credentials for cloud_ec2 entries
// through the standard aws-sdk-go-v2 config/credentials chain.
func buildAdapters(ctx context.Context, cfgs []config.AdapterConfig, logger *logging.Logger) ([]adapters.Adapter, error) {
	var out []adapters.Adapter
	for _, a := range cfgs {
		switch a.Kind {
		case "local_nft":
			if a.NFT == nil {
				return nil, errors.Errorf(errors.KindValidation, "pipeline: adapter %q is local_nft with no nft block", a.Name)
			}
			table := a.NFT.TableName
			if table == "" {
				table = "aegis"
			}
			family := a.NFT.Family
			if family == "" {
				family = "inet"
			}
			chain := a.NFT.ChainName
			if chain == "" {
				chain = "aegis"
			}
			out = append(out, adapters.NewLocalNFTAdapter(table, family, chain, logger.WithComponent(a.Name)))
		case "cloud_ec2":
			if a.Cloud == nil || a.Cloud.SecurityGroupID == "" {
				return nil, errors.Errorf(errors.KindValidation, "pipeline: adapter %q is cloud_ec2 with no cloud.security_group_id", a.Name)
			}
			client, err := newEC2Client(ctx, a.Cloud)
			if err != nil {
				return nil, errors.Wrap(err, errors.KindInternal, fmt.Sprintf("pipeline: construct ec2 client for adapter %q", a.Name))
			}
			out = append(out, adapters.NewCloudSecurityGroupAdapter(client, a.Cloud.SecurityGroupID, logger.WithComponent(a.Name)))
		default:
			return nil, errors.Errorf(errors.KindValidation, "pipeline: adapter %q has unknown kind %q", a.Name, a.Kind)
		}
	}
	return out, nil
}

// newEC2Client loads an AWS config through the standard
// aws-sdk-go-v2/config resolution chain (environment, shared config
// file, container/instance role), layering in this adapter's region,
// profile, and optional static credentials.
func newEC2Client(ctx context.Context, cloud *config.CloudConfig) (*ec2.Client, error) {
	var optFns []func(*awsconfig.LoadOptions) error
	if cloud.Region != "" {
		optFns = append(optFns, awsconfig.WithRegion(cloud.Region))
	}
	if cloud.Profile != "" {
		optFns = append(optFns, awsconfig.WithSharedConfigProfile(cloud.Profile))
	}
	if cloud.AccessKeyID != "" {
		optFns = append(optFns, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(string(cloud.AccessKeyID), string(cloud.SecretAccessKey), ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, err
	}
	return ec2.NewFromConfig(awsCfg), nil
}

// auditSink bridges orchestrator.AuditSink's narrow (kind, ruleID,
// detail) surface onto audit.Logger's richer Record shape.
type auditSink struct {
	log *audit.Logger
}

func (a *auditSink) RecordOrchestratorEvent(kind, ruleID, detail string) {
	sev := audit.SeverityInfo
	switch kind {
	case "validation_rejected", "conflict_priority_loses", "apply_give_up", "rollback":
		sev = audit.SeverityWarn
	}
	a.log.LogRecord(context.Background(), audit.Record{
		EventType: audit.EventType(kind),
		Severity:  sev,
		RuleID:    ruleID,
		Detail:    detail,
	})
}

// Start launches every background loop: the Feature Engine's shard
// workers, the records->features bus bridge, the features->detection
// bridge, the orchestrator's expiry sweep, and the alerting dispatcher.
// It returns once every subscription is registered; the loops
// themselves run until ctx is cancelled.
func (p *Pipeline) Start(ctx context.Context) error {
	p.features.Start(ctx)

	recordsSub, err := p.bus.Subscribe(ingest.RecordsTopic, "features-ingest", func(ctx context.Context, msg bus.Message) error {
		rec, ok := msg.Payload.(record.CommonRecord)
		if !ok {
			return fmt.Errorf("pipeline: unexpected payload type on %s", ingest.RecordsTopic)
		}
		return p.features.Ingest(ctx, rec)
	})
	if err != nil {
		return errors.Wrap(err, errors.KindInternal, "pipeline: subscribe to records topic")
	}
	p.recordsSub = recordsSub

	featureSub, err := p.bus.Subscribe(featuresTopic, "detect-pipeline", func(ctx context.Context, msg bus.Message) error {
		fv, ok := msg.Payload.(record.FeatureVector)
		if !ok {
			return fmt.Errorf("pipeline: unexpected payload type on %s", featuresTopic)
		}
		p.handleFeatureVector(ctx, fv)
		return nil
	})
	if err != nil {
		recordsSub.Close()
		return errors.Wrap(err, errors.KindInternal, "pipeline: subscribe to features topic")
	}
	p.featureSub = featureSub

	go p.orch.RunExpiryLoop(ctx)
	p.alerts.Start(ctx)
	return nil
}

// handleFeatureVector runs one closed window through detect -> decide
// -> apply, auditing each stage and triggering an alert for the
// resulting Decision.
func (p *Pipeline) handleFeatureVector(ctx context.Context, fv record.FeatureVector) {
	det := p.Detect(ctx, fv)
	p.auditLog.LogDetection(ctx, det, fv)

	dec, err := p.Decide(ctx, det)
	if err != nil {
		p.logger.Warn("policy agent chain exhausted without a decision", "detection_id", det.DetectionID, "error", err)
		return
	}
	// Policy agents decide purely from the Detection's scores; they never
	// see the originating window's addressing. Fill it in here, from the
	// FeatureVector this Detection was scored from, so rule synthesis has
	// a 5-tuple to narrow against.
	if dec.Parameters.SrcAddr == "" {
		dec.Parameters.SrcAddr = fv.Context.SrcAddr
	}
	p.auditLog.LogDecision(ctx, dec)

	rs, err := p.Apply(ctx, dec)
	if err != nil {
		p.logger.Warn("enact failed", "decision_id", dec.DecisionID, "error", err)
		return
	}

	p.alerts.Trigger(alerting.AlertEvent{
		ID:          uuid.NewString(),
		Decision:    dec,
		RuleID:      rs.RuleID,
		RuleOutcome: &rs,
		Message:     fmt.Sprintf("decision %s -> %s", dec.Action, rs.Lifecycle),
	})
}

// Detect scores fv against every configured detector and combines the
// verdicts.
func (p *Pipeline) Detect(ctx context.Context, fv record.FeatureVector) record.Detection {
	return p.ensemble.Combine(ctx, uuid.NewString(), uuid.NewString(), fv)
}

// Decide turns a Detection into a Decision via the Policy Agent chain.
func (p *Pipeline) Decide(ctx context.Context, det record.Detection) (record.Decision, error) {
	state := policyagent.StateVector{ThreatScore: det.AggregateScore}
	return p.agents.Decide(ctx, det, state)
}

// Apply drives a Decision through the orchestrator.
func (p *Pipeline) Apply(ctx context.Context, dec record.Decision) (record.RuleState, error) {
	return p.orch.Enact(ctx, dec, 0)
}

// Rollback honors an explicit rollback request.
func (p *Pipeline) Rollback(ctx context.Context, ruleID string) error {
	return p.orch.Rollback(ctx, ruleID)
}

// ListRules returns a snapshot of every tracked rule.
func (p *Pipeline) ListRules() []struct {
	Rule  record.UniversalRule
	State *record.RuleState
} {
	return p.orch.ListRules()
}

// GetAudit resolves one audit Record by decision_id. audit.Store
// indexes by decision_id only; a rule_id-keyed lookup is out of scope
// until the store grows a secondary index.
func (p *Pipeline) GetAudit(decisionID string) (*audit.Record, error) {
	return p.auditDB.GetByDecision(decisionID)
}

// Normalizer exposes the Flow Normalizer so cmd/aegisd can wire
// framing-parser listeners (pcap, NetFlow, IPFIX, passive DNS) against
// it.
func (p *Pipeline) Normalizer() *ingest.Normalizer { return p.norm }

// Stop closes every subscription and background loop's resources that
// don't already honor ctx cancellation.
func (p *Pipeline) Stop() {
	if p.recordsSub != nil {
		p.recordsSub.Close()
	}
	if p.featureSub != nil {
		p.featureSub.Close()
	}
	p.features.Stop()
	if p.geoDetector != nil {
		p.geoDetector.Close()
	}
	p.bus.Close()
	p.auditDB.Close()
}
