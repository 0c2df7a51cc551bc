// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package ingest is the flow normalizer and ingest stage: four framing
// parsers (pcap, NetFlow, IPFIX, passive DNS query log) each produce
// record.CommonRecord values tagged with their capture origin, which
// the Normalizer deduplicates and publishes onto the event bus with
// bounded retry.
package ingest

import (
	"context"
	"math/rand"
	"time"

	"aegis.dev/aegis/internal/bus"
	"aegis.dev/aegis/internal/clock"
	"aegis.dev/aegis/internal/config"
	"aegis.dev/aegis/internal/logging"
	"aegis.dev/aegis/internal/metrics"
	"aegis.dev/aegis/internal/record"
)

// RecordsTopic is the bus topic every framing parser publishes
// normalized records to; the Feature Engine subscribes here.
const RecordsTopic = "records"

// Normalizer is the single point every framing parser funnels through:
// it stamps provenance, suppresses duplicate redeliveries, and
// publishes to the bus with bounded retry, grounded on the backoff
// shape shared with internal/orchestrator's adapter retry
// (config.RetryCfg, full-jitter exponential).
type Normalizer struct {
	cfg    *config.IngestConfig
	bus    bus.Bus
	dedup  *dedupCache
	logger *logging.Logger
}

// New constructs a Normalizer publishing onto b.
func New(cfg *config.IngestConfig, b bus.Bus, logger *logging.Logger) *Normalizer {
	if logger == nil {
		logger = logging.Default().WithComponent("ingest")
	}
	return &Normalizer{
		cfg:    cfg,
		bus:    b,
		dedup:  newDedupCache(cfg.DedupCacheSize),
		logger: logger,
	}
}

// Ingest stamps rec with this sensor's SensorID (if the framing parser
// didn't already set one), drops it if it is a duplicate redelivery of
// an already-seen (sensor_id, flow_id, t_end), and otherwise publishes
// it to the bus with retry.
func (n *Normalizer) Ingest(ctx context.Context, rec record.CommonRecord, origin string) error {
	if rec.Source.SensorID == "" {
		rec.Source.SensorID = n.cfg.SensorID
	}
	rec.Source.CaptureOrigin = origin

	key := dedupKey{sensorID: rec.Source.SensorID, flowID: rec.FlowID, tEndUnix: rec.TEnd.Unix()}
	if rec.FlowID != "" && n.dedup.seen(key) {
		metrics.Get().DroppedRecord("duplicate")
		return nil
	}

	if err := n.publishWithRetry(ctx, rec); err != nil {
		metrics.Get().DroppedRecord("publish_failed")
		return err
	}
	metrics.Get().ParsedRecord()
	return nil
}

func (n *Normalizer) publishWithRetry(ctx context.Context, rec record.CommonRecord) error {
	retry := n.cfg.PublishRetry
	maxAttempts := retry.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := n.bus.Publish(ctx, RecordsTopic, rec.SrcAddr, rec)
		if err == nil {
			return nil
		}
		lastErr = err
		if attempt < maxAttempts {
			n.logger.Warn("publish attempt failed, retrying", "attempt", attempt, "error", err)
			select {
			case <-time.After(n.backoff(retry, attempt)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	n.logger.Error("giving up publishing record after retries", "sensor_id", rec.Source.SensorID, "flow_id", rec.FlowID, "error", lastErr)
	return lastErr
}

// backoff returns a bounded, full-jitter exponential delay for attempt
// (1-indexed).
func (n *Normalizer) backoff(retry config.RetryCfg, attempt int) time.Duration {
	base, max := retry.BaseMS, retry.MaxMS
	if base <= 0 {
		base = 50
	}
	if max <= 0 {
		max = 2000
	}
	ms := base << uint(attempt-1)
	if ms > max || ms <= 0 {
		ms = max
	}
	return time.Duration(rand.Intn(ms+1)) * time.Millisecond
}

// now is a small indirection kept for parity with the rest of the
// pipeline's internal/clock usage in framing parsers that need a
// capture timestamp fallback.
func now() time.Time { return clock.Now() }
