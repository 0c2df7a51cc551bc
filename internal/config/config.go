// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package config is the HCL-backed configuration surface for the Aegis
// pipeline: window specs, ensemble/agent artifact paths, orchestrator
// policy knobs, adapter connection settings, and the ambient logging/
// audit/alerting surfaces.
package config

// CurrentSchemaVersion is the schema version this binary understands.
const CurrentSchemaVersion = "1.0"

// Config is the top-level structure for an Aegis deployment.
type Config struct {
	SchemaVersion string `hcl:"schema_version,optional" json:"schema_version,omitempty"`

	Ingest       *IngestConfig   `hcl:"ingest,block" json:"ingest,omitempty"`
	Bus          *BusConfig      `hcl:"bus,block" json:"bus,omitempty"`
	Features     *FeaturesConfig `hcl:"features,block" json:"features,omitempty"`
	Ensemble     *EnsembleConfig `hcl:"ensemble,block" json:"ensemble,omitempty"`
	Agent        *AgentConfig    `hcl:"agent,block" json:"agent,omitempty"`
	Orchestrator *OrchConfig     `hcl:"orchestrator,block" json:"orchestrator,omitempty"`
	Adapters     []AdapterConfig `hcl:"adapter,block" json:"adapter,omitempty"`
	Audit        *AuditConfig    `hcl:"audit,block" json:"audit,omitempty"`
	Alerting     *AlertingConfig `hcl:"alerting,block" json:"alerting,omitempty"`
	Logging      *LoggingConfig  `hcl:"logging,block" json:"logging,omitempty"`
	Pipeline     *PipelineConfig `hcl:"pipeline,block" json:"pipeline,omitempty"`

	// StateDir overrides the default on-disk location for artifacts,
	// the audit SQLite file, and idempotency caches.
	StateDir string `hcl:"state_dir,optional" json:"state_dir,omitempty"`
}

// IngestConfig configures the Flow Normalizer & Ingest stage (4.F).
type IngestConfig struct {
	PcapInterface     string   `hcl:"pcap_interface,optional" json:"pcap_interface,omitempty"`
	NetflowListenAddr string   `hcl:"netflow_listen_addr,optional" json:"netflow_listen_addr,omitempty"`
	IPFIXListenAddr   string   `hcl:"ipfix_listen_addr,optional" json:"ipfix_listen_addr,omitempty"`
	DNSLogListenAddr  string   `hcl:"dnslog_listen_addr,optional" json:"dnslog_listen_addr,omitempty"`
	DedupCacheSize    int      `hcl:"dedup_cache_size,optional" json:"dedup_cache_size,omitempty"`
	SensorID          string   `hcl:"sensor_id,optional" json:"sensor_id,omitempty"`
	PublishTimeoutMS  int      `hcl:"publish_timeout_ms,optional" json:"publish_timeout_ms,omitempty"`
	PublishRetry      RetryCfg `hcl:"publish_retry,block" json:"publish_retry,omitempty"`
}

// BusConfig configures the Event Bus Abstraction (4.G).
type BusConfig struct {
	Partitions       int `hcl:"partitions,optional" json:"partitions,omitempty"`
	PartitionDepth   int `hcl:"partition_depth,optional" json:"partition_depth,omitempty"`
	MaxRedeliveries  int `hcl:"max_redeliveries,optional" json:"max_redeliveries,omitempty"`
}

// WindowSpec is one configured window kind for the Feature Engine.
type WindowSpec struct {
	Kind  string `hcl:"kind,label" json:"kind"`
	Span  string `hcl:"span,optional" json:"span,omitempty"`
	Slide string `hcl:"slide,optional" json:"slide,omitempty"`
	Gap   string `hcl:"gap,optional" json:"gap,omitempty"`
}

// FeaturesConfig configures the Feature Engine (4.E).
type FeaturesConfig struct {
	Windows           []WindowSpec `hcl:"window,block" json:"window,omitempty"`
	AllowedLatenessMS int          `hcl:"allowed_lateness_ms,optional" json:"allowed_lateness_ms,omitempty"`
	PerKeyMemoryCap   int          `hcl:"per_key_memory_cap,optional" json:"per_key_memory_cap,omitempty"`
	Shards            int          `hcl:"shards,optional" json:"shards,omitempty"`
	KeyProjections    []string     `hcl:"key_projections,optional" json:"key_projections,omitempty"`
}

// EnsembleConfig configures the Detection Ensemble (4.D).
type EnsembleConfig struct {
	ArtifactPath    string             `hcl:"artifact_path,optional" json:"artifact_path,omitempty"`
	Weights         map[string]float64 `hcl:"weights,optional" json:"weights,omitempty"`
	Threshold       float64            `hcl:"threshold,optional" json:"threshold,omitempty"`
	GeoIPDBPath     string             `hcl:"geoip_db_path,optional" json:"geoip_db_path,omitempty"`
	JA3DenylistPath string             `hcl:"ja3_denylist_path,optional" json:"ja3_denylist_path,omitempty"`
}

// AgentConfig configures the Policy Agent (4.C).
type AgentConfig struct {
	ArtifactPath string `hcl:"artifact_path,optional" json:"artifact_path,omitempty"`
}

// RetryCfg is a bounded-exponential-backoff retry policy, reused by
// ingest publish retry, orchestrator apply retry, and adapter retry.
type RetryCfg struct {
	MaxAttempts int `hcl:"max_attempts,optional" json:"max_attempts,omitempty"`
	BaseMS      int `hcl:"base_ms,optional" json:"base_ms,omitempty"`
	MaxMS       int `hcl:"max_ms,optional" json:"max_ms,omitempty"`
}

// OrchConfig configures the Policy Orchestrator (4.B).
type OrchConfig struct {
	ActionBasePriority map[string]int    `hcl:"action_base_priority,optional" json:"action_base_priority,omitempty"`
	MaxScope           map[string]int    `hcl:"max_scope,optional" json:"max_scope,omitempty"`
	TTL                map[string]string `hcl:"ttl,optional" json:"ttl,omitempty"`
	AdapterRetry       RetryCfg          `hcl:"adapter_retry,block" json:"adapter_retry,omitempty"`
	ProtectedAssets    []string          `hcl:"protected_assets,optional" json:"protected_assets,omitempty"`
	PinnedAllowList    []string          `hcl:"pinned_allow_list,optional" json:"pinned_allow_list,omitempty"`
	ExpiryScanInterval string            `hcl:"expiry_scan_interval,optional" json:"expiry_scan_interval,omitempty"`
}

// AdapterConfig configures one Vendor Adapter instance (4.A).
type AdapterConfig struct {
	Name   string       `hcl:"name,label" json:"name"`
	Kind   string       `hcl:"kind" json:"kind"` // "local_nft" | "cloud_ec2"
	NFT    *NFTConfig   `hcl:"nft,block" json:"nft,omitempty"`
	Cloud  *CloudConfig `hcl:"cloud,block" json:"cloud,omitempty"`
}

// NFTConfig configures the LocalNFTAdapter.
type NFTConfig struct {
	TableName string `hcl:"table_name,optional" json:"table_name,omitempty"`
	Family    string `hcl:"family,optional" json:"family,omitempty"`
	ChainName string `hcl:"chain_name,optional" json:"chain_name,omitempty"`
	Timezone  string `hcl:"timezone,optional" json:"timezone,omitempty"`
}

// CloudConfig configures the CloudSecurityGroupAdapter.
type CloudConfig struct {
	Region          string       `hcl:"region,optional" json:"region,omitempty"`
	SecurityGroupID string       `hcl:"security_group_id,optional" json:"security_group_id,omitempty"`
	AccessKeyID     SecureString `hcl:"access_key_id,optional" json:"access_key_id,omitempty"`
	SecretAccessKey SecureString `hcl:"secret_access_key,optional" json:"secret_access_key,omitempty"`
	Profile         string       `hcl:"profile,optional" json:"profile,omitempty"`
}

// AuditConfig configures the Explanation & Audit store (4.H).
type AuditConfig struct {
	DBPath        string `hcl:"db_path,optional" json:"db_path,omitempty"`
	RetentionDays int    `hcl:"retention_days,optional" json:"retention_days,omitempty"`
	PurgeBatch    int    `hcl:"purge_batch,optional" json:"purge_batch,omitempty"`
}

// NotificationChannel is one alert sink (webhook, Slack, Discord, ntfy,
// or email).
type NotificationChannel struct {
	Name       string       `hcl:"name,label" json:"name"`
	Type       string       `hcl:"type" json:"type"`
	URL        string       `hcl:"url,optional" json:"url,omitempty"`
	Recipients []string     `hcl:"recipients,optional" json:"recipients,omitempty"`
	SMTPHost   string       `hcl:"smtp_host,optional" json:"smtp_host,omitempty"`
	SMTPPort   int          `hcl:"smtp_port,optional" json:"smtp_port,omitempty"`
	SMTPUser   string       `hcl:"smtp_user,optional" json:"smtp_user,omitempty"`
	SMTPPass   SecureString `hcl:"smtp_pass,optional" json:"smtp_pass,omitempty"`
}

// AlertRuleConfig configures severity/dedup for one alerting rule.
type AlertRuleConfig struct {
	Name          string   `hcl:"name,label" json:"name"`
	MinSeverity   string   `hcl:"min_severity,optional" json:"min_severity,omitempty"`
	Channels      []string `hcl:"channels,optional" json:"channels,omitempty"`
	CooldownSecs  int      `hcl:"cooldown_secs,optional" json:"cooldown_secs,omitempty"`
}

// AlertingConfig configures the Alerting stage (4.I).
type AlertingConfig struct {
	Channels        []NotificationChannel `hcl:"channel,block" json:"channel,omitempty"`
	Rules           []AlertRuleConfig     `hcl:"rule,block" json:"rule,omitempty"`
	DedupKey        string                `hcl:"dedup_key,optional" json:"dedup_key,omitempty"`
	DedupWindowSecs int                   `hcl:"dedup_window_secs,optional" json:"dedup_window_secs,omitempty"`
	MaxHistory      int                   `hcl:"max_history,optional" json:"max_history,omitempty"`
}

// LoggingConfig configures internal/logging.
type LoggingConfig struct {
	Level  string         `hcl:"level,optional" json:"level,omitempty"`
	JSON   bool           `hcl:"json,optional" json:"json,omitempty"`
	Syslog *SyslogHCL     `hcl:"syslog,block" json:"syslog,omitempty"`
}

// SyslogHCL mirrors logging.SyslogConfig for HCL decoding.
type SyslogHCL struct {
	Enabled  bool   `hcl:"enabled,optional" json:"enabled,omitempty"`
	Host     string `hcl:"host,optional" json:"host,omitempty"`
	Port     int    `hcl:"port,optional" json:"port,omitempty"`
	Protocol string `hcl:"protocol,optional" json:"protocol,omitempty"`
	Tag      string `hcl:"tag,optional" json:"tag,omitempty"`
}

// PipelineConfig configures the synchronous pipeline surfaces (§6).
type PipelineConfig struct {
	GRPCListenAddr string `hcl:"grpc_listen_addr,optional" json:"grpc_listen_addr,omitempty"`
	HTTPListenAddr string `hcl:"http_listen_addr,optional" json:"http_listen_addr,omitempty"`
	DetectBudgetMS int    `hcl:"detect_budget_ms,optional" json:"detect_budget_ms,omitempty"`
}

// Default returns a complete, conservatively-defaulted Config suitable
// for local development and tests.
func Default() *Config {
	return &Config{
		SchemaVersion: CurrentSchemaVersion,
		Ingest: &IngestConfig{
			DedupCacheSize:   100_000,
			SensorID:         "sensor-0",
			PublishTimeoutMS: 500,
			PublishRetry:     RetryCfg{MaxAttempts: 3, BaseMS: 50, MaxMS: 2000},
		},
		Bus: &BusConfig{
			Partitions:      8,
			PartitionDepth:  1024,
			MaxRedeliveries: 3,
		},
		Features: &FeaturesConfig{
			Windows: []WindowSpec{
				{Kind: "tumbling", Span: "60s"},
				{Kind: "sliding", Span: "60s", Slide: "10s"},
				{Kind: "session", Gap: "30s"},
			},
			AllowedLatenessMS: 5000,
			PerKeyMemoryCap:   10_000,
			Shards:            16,
			KeyProjections:    []string{"src_addr"},
		},
		Ensemble: &EnsembleConfig{
			Threshold: 0.7,
			Weights: map[string]float64{
				"linear": 0.4,
				"ewma":   0.25,
				"ja3":    0.15,
				"geo":    0.2,
			},
		},
		Agent: &AgentConfig{},
		Orchestrator: &OrchConfig{
			ActionBasePriority: map[string]int{
				"deny":         100,
				"quarantine":   200,
				"rate_limit":   300,
				"monitor":      900,
				"allow":        950,
			},
			MaxScope: map[string]int{
				"deny":       24,
				"quarantine": 32,
				"rate_limit": 32,
				"allow":      0,
			},
			TTL: map[string]string{
				"quarantine:short": "1h",
				"quarantine:long":  "24h",
				"rate_limit:low":   "15m",
				"rate_limit:med":   "15m",
				"rate_limit:high":  "15m",
				"deny":             "6h",
			},
			AdapterRetry:       RetryCfg{MaxAttempts: 5, BaseMS: 100, MaxMS: 10_000},
			ExpiryScanInterval: "30s",
		},
		Audit: &AuditConfig{
			DBPath:        "audit.db",
			RetentionDays: 90,
			PurgeBatch:    500,
		},
		Alerting: &AlertingConfig{
			DedupKey:        "src_addr,action,5m",
			DedupWindowSecs: 300,
			MaxHistory:      1000,
		},
		Logging: &LoggingConfig{
			Level: "info",
		},
		Pipeline: &PipelineConfig{
			GRPCListenAddr: ":7443",
			HTTPListenAddr: ":7080",
			DetectBudgetMS: 250,
		},
		StateDir: "/var/lib/aegis",
	}
}
