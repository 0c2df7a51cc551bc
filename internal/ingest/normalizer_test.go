// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package ingest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"aegis.dev/aegis/internal/bus"
	"aegis.dev/aegis/internal/config"
	"aegis.dev/aegis/internal/record"
)

func testIngestConfig() *config.IngestConfig {
	return &config.IngestConfig{
		DedupCacheSize: 100,
		SensorID:       "sensor-test",
		PublishRetry:   config.RetryCfg{MaxAttempts: 3, BaseMS: 1, MaxMS: 5},
	}
}

func TestNormalizerIngestPublishesRecord(t *testing.T) {
	b := bus.NewMemoryBus(1, 16, 1, nil)
	defer b.Close()

	var mu sync.Mutex
	var got []record.CommonRecord
	done := make(chan struct{}, 1)
	sub, err := b.Subscribe(RecordsTopic, "test", func(ctx context.Context, msg bus.Message) error {
		mu.Lock()
		got = append(got, msg.Payload.(record.CommonRecord))
		mu.Unlock()
		select {
		case done <- struct{}{}:
		default:
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Close()

	n := New(testIngestConfig(), b, nil)
	rec := record.CommonRecord{SrcAddr: "10.0.0.1", FlowID: "flow-1", TEnd: time.Unix(1000, 0)}
	if err := n.Ingest(context.Background(), rec, "pcap"); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for published record")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 {
		t.Fatalf("len(got) = %d, want 1", len(got))
	}
	if got[0].Source.SensorID != "sensor-test" {
		t.Fatalf("SensorID = %q, want sensor-test", got[0].Source.SensorID)
	}
	if got[0].Source.CaptureOrigin != "pcap" {
		t.Fatalf("CaptureOrigin = %q, want pcap", got[0].Source.CaptureOrigin)
	}
}

func TestNormalizerIngestSuppressesDuplicate(t *testing.T) {
	b := bus.NewMemoryBus(1, 16, 1, nil)
	defer b.Close()

	var count atomic.Int64
	sub, err := b.Subscribe(RecordsTopic, "test", func(ctx context.Context, msg bus.Message) error {
		count.Add(1)
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Close()

	n := New(testIngestConfig(), b, nil)
	rec := record.CommonRecord{SrcAddr: "10.0.0.1", FlowID: "flow-dup", TEnd: time.Unix(2000, 0)}

	if err := n.Ingest(context.Background(), rec, "netflow"); err != nil {
		t.Fatalf("first Ingest: %v", err)
	}
	if err := n.Ingest(context.Background(), rec, "netflow"); err != nil {
		t.Fatalf("duplicate Ingest should not error: %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	if count.Load() != 1 {
		t.Fatalf("publish count = %d, want 1 (duplicate should be suppressed)", count.Load())
	}
}

type alwaysFailBus struct {
	publishes atomic.Int64
}

func (b *alwaysFailBus) Publish(ctx context.Context, topic, key string, payload any) error {
	b.publishes.Add(1)
	return errors.New("boom")
}
func (b *alwaysFailBus) Subscribe(topic, group string, h bus.Handler) (bus.Subscription, error) {
	return nil, errors.New("unsupported")
}
func (b *alwaysFailBus) Commit(topic string, partition int, offset uint64) error { return nil }
func (b *alwaysFailBus) Backlog(topic string, partition int) int                 { return 0 }
func (b *alwaysFailBus) Full(topic string, partition int) bool                   { return false }
func (b *alwaysFailBus) Close() error                                            { return nil }

func TestNormalizerPublishRetriesThenGivesUp(t *testing.T) {
	fb := &alwaysFailBus{}
	n := New(testIngestConfig(), fb, nil)

	rec := record.CommonRecord{SrcAddr: "10.0.0.1", FlowID: "flow-retry", TEnd: time.Unix(3000, 0)}
	err := n.Ingest(context.Background(), rec, "ipfix")
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if fb.publishes.Load() != int64(testIngestConfig().PublishRetry.MaxAttempts) {
		t.Fatalf("publishes = %d, want %d", fb.publishes.Load(), testIngestConfig().PublishRetry.MaxAttempts)
	}
}

func TestNormalizerIngestPreservesUpstreamSensorID(t *testing.T) {
	b := bus.NewMemoryBus(1, 16, 1, nil)
	defer b.Close()

	var got record.CommonRecord
	done := make(chan struct{}, 1)
	sub, err := b.Subscribe(RecordsTopic, "test", func(ctx context.Context, msg bus.Message) error {
		got = msg.Payload.(record.CommonRecord)
		done <- struct{}{}
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Close()

	n := New(testIngestConfig(), b, nil)
	rec := record.CommonRecord{SrcAddr: "10.0.0.2", Source: record.SourceMeta{SensorID: "upstream-sensor"}}
	if err := n.Ingest(context.Background(), rec, "dnslog"); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out")
	}
	if got.Source.SensorID != "upstream-sensor" {
		t.Fatalf("SensorID = %q, want upstream-sensor to be preserved", got.Source.SensorID)
	}
}
