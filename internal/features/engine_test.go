// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package features

import (
	"context"
	"sync"
	"testing"
	"time"

	"aegis.dev/aegis/internal/bus"
	"aegis.dev/aegis/internal/config"
	"aegis.dev/aegis/internal/record"
)

func testConfig() *config.FeaturesConfig {
	return &config.FeaturesConfig{
		Windows: []config.WindowSpec{
			{Kind: "tumbling", Span: "100ms"},
		},
		AllowedLatenessMS: 50,
		PerKeyMemoryCap:   100,
		Shards:            2,
		KeyProjections:    []string{"src_addr"},
	}
}

func TestEngineEmitsOnTumblingClose(t *testing.T) {
	b := bus.NewMemoryBus(4, 16, 1, nil)
	defer b.Close()

	var mu sync.Mutex
	var fvs []record.FeatureVector
	sub, err := b.Subscribe("features", "test", func(ctx context.Context, msg bus.Message) error {
		mu.Lock()
		fvs = append(fvs, msg.Payload.(record.FeatureVector))
		mu.Unlock()
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Close()

	e, err := New(testConfig(), b, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.Start(ctx)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r1 := record.CommonRecord{
		TStart: base, TEnd: base.Add(10 * time.Millisecond),
		SrcAddr: "10.0.0.5", DstAddr: "10.0.0.9", DstPort: 443, Protocol: "tcp",
		BytesOut: 1000, PacketsOut: 10,
	}
	r2 := r1
	r2.TEnd = base.Add(150 * time.Millisecond)

	if err := e.Ingest(ctx, r1); err != nil {
		t.Fatalf("Ingest r1: %v", err)
	}
	if err := e.Ingest(ctx, r2); err != nil {
		t.Fatalf("Ingest r2: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := len(fvs)
		mu.Unlock()
		if n >= 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for a FeatureVector emission")
		}
		time.Sleep(time.Millisecond)
	}

	mu.Lock()
	fv := fvs[0]
	mu.Unlock()
	if fv.Context.WindowKind != "tumbling" {
		t.Errorf("WindowKind = %q, want tumbling", fv.Context.WindowKind)
	}
	if fv.Values[record.SlotByteRate] <= 0 {
		t.Errorf("expected a positive byte_rate slot, got %v", fv.Values[record.SlotByteRate])
	}
}

func TestLateRecordDropped(t *testing.T) {
	b := bus.NewMemoryBus(2, 16, 1, nil)
	defer b.Close()

	e, err := New(testConfig(), b, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.Start(ctx)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	onTime := record.CommonRecord{SrcAddr: "10.0.0.7", DstAddr: "10.0.0.1", TStart: base, TEnd: base.Add(time.Second)}
	late := onTime
	late.TEnd = base.Add(-time.Second) // well beyond allowed_lateness

	if err := e.Ingest(ctx, onTime); err != nil {
		t.Fatalf("Ingest onTime: %v", err)
	}
	if err := e.Ingest(ctx, late); err != nil {
		t.Fatalf("Ingest late: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for e.LateRecordsDropped() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if e.LateRecordsDropped() == 0 {
		t.Fatal("expected a late record to be counted as dropped")
	}
}

func TestNormalizedEntropy(t *testing.T) {
	if got := normalizedEntropy([]uint32{1}); got != 0 {
		t.Errorf("single-element entropy should be 0, got %v", got)
	}
	if got := normalizedEntropy(nil); got != 0 {
		t.Errorf("empty entropy should be 0, got %v", got)
	}
	uniform := normalizedEntropy([]uint32{1, 1, 1, 1})
	if uniform < 0.99 || uniform > 1.01 {
		t.Errorf("uniform distribution should normalize to ~1.0, got %v", uniform)
	}
}
