// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package features is the feature engine: it
// maintains a sharded map from WindowKey to a set of open Windows,
// updates them incrementally per incoming CommonRecord, and emits
// FeatureVectors on closure. Each shard is owned by exactly one
// goroutine, following an ebpf/flow.Manager-style
// bounded-map-with-cleanup-loop shape.
package features

import (
	"container/list"
	"context"
	"errors"
	"hash/fnv"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"aegis.dev/aegis/internal/bus"
	"aegis.dev/aegis/internal/clock"
	"aegis.dev/aegis/internal/config"
	"aegis.dev/aegis/internal/logging"
	"aegis.dev/aegis/internal/metrics"
	"aegis.dev/aegis/internal/record"
)

// ErrLateRecord names the condition of a record arriving beyond
// allowed_lateness. The engine does not return it: such records are
// dropped and counted.
var ErrLateRecord = errors.New("features: late record dropped")

type windowSpec struct {
	kind  kind
	span  time.Duration
	slide time.Duration
	gap   time.Duration
}

// windowSet is every open window for one WindowKey, one per configured
// kind.
type windowSet struct {
	key     string
	windows map[kind]*window
	elem    *list.Element // position in the shard's LRU list
}

type shard struct {
	in      chan record.CommonRecord
	sets    map[string]*windowSet
	lru     *list.List // front = most recently touched
	watermk map[string]time.Time
}

// Engine owns the sharded WindowKey space and publishes closed windows
// to the bus "features" topic.
type Engine struct {
	cfg    *config.FeaturesConfig
	specs  []windowSpec
	b      bus.Bus
	logger *logging.Logger

	shards    []*shard
	numShards int
	perShard  int

	allowedLateness time.Duration

	windowsEvicted atomic.Int64
	lateDropped    atomic.Int64
	closed         atomic.Bool

	wg sync.WaitGroup
}

// New constructs a Feature Engine from cfg, publishing closures to b.
func New(cfg *config.FeaturesConfig, b bus.Bus, logger *logging.Logger) (*Engine, error) {
	if logger == nil {
		logger = logging.Default().WithComponent("features")
	}
	specs, err := parseWindowSpecs(cfg.Windows)
	if err != nil {
		return nil, err
	}

	n := cfg.Shards
	if n <= 0 {
		n = 16
	}
	perShard := cfg.PerKeyMemoryCap / n
	if perShard <= 0 {
		perShard = 1000
	}

	e := &Engine{
		cfg:             cfg,
		specs:           specs,
		b:               b,
		logger:          logger,
		numShards:       n,
		perShard:        perShard,
		allowedLateness: time.Duration(cfg.AllowedLatenessMS) * time.Millisecond,
	}
	e.shards = make([]*shard, n)
	for i := range e.shards {
		e.shards[i] = &shard{
			in:      make(chan record.CommonRecord, 256),
			sets:    make(map[string]*windowSet),
			lru:     list.New(),
			watermk: make(map[string]time.Time),
		}
	}
	return e, nil
}

func parseWindowSpecs(specs []config.WindowSpec) ([]windowSpec, error) {
	out := make([]windowSpec, 0, len(specs))
	for _, s := range specs {
		ws := windowSpec{}
		switch s.Kind {
		case "tumbling":
			ws.kind = kindTumbling
			d, err := time.ParseDuration(s.Span)
			if err != nil {
				return nil, err
			}
			ws.span = d
		case "sliding":
			ws.kind = kindSliding
			span, err := time.ParseDuration(s.Span)
			if err != nil {
				return nil, err
			}
			slide, err := time.ParseDuration(s.Slide)
			if err != nil {
				return nil, err
			}
			ws.span, ws.slide = span, slide
		case "session":
			ws.kind = kindSession
			d, err := time.ParseDuration(s.Gap)
			if err != nil {
				return nil, err
			}
			ws.gap = d
		default:
			continue
		}
		out = append(out, ws)
	}
	return out, nil
}

// Start launches one worker goroutine per shard plus a session-gap
// sweep ticker.
func (e *Engine) Start(ctx context.Context) {
	for i, s := range e.shards {
		e.wg.Add(1)
		go e.runShard(ctx, i, s)
	}
}

// Stop waits for all shard workers to exit after ctx is cancelled by the
// caller.
func (e *Engine) Stop() {
	e.closed.Store(true)
	e.wg.Wait()
}

// Ingest routes r to its owning shard by hash(WindowKey) mod shards. It
// blocks if that shard's inbound queue is full.
func (e *Engine) Ingest(ctx context.Context, r record.CommonRecord) error {
	key := e.projectKey(r)
	idx := shardIndex(key, e.numShards)
	select {
	case e.shards[idx].in <- r:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) projectKey(r record.CommonRecord) string {
	projections := e.cfg.KeyProjections
	if len(projections) == 0 {
		projections = []string{"src_addr"}
	}
	key := ""
	for _, p := range projections {
		switch p {
		case "src_addr":
			key += r.SrcAddr + "|"
		case "dst_port":
			key += strconv.Itoa(int(r.DstPort)) + "|"
		case "src_addr,dst_port":
			key += r.SrcAddr + "," + strconv.Itoa(int(r.DstPort)) + "|"
		}
	}
	if key == "" {
		key = r.SrcAddr
	}
	return key
}

func shardIndex(key string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32()) % n
}

func (e *Engine) runShard(ctx context.Context, idx int, s *shard) {
	defer e.wg.Done()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case r, ok := <-s.in:
			if !ok {
				return
			}
			e.handleRecord(ctx, s, r)
		case <-ticker.C:
			// Session-gap sweep: safe here because only this goroutine
			// ever mutates s.sets (the single-writer-per-shard invariant
			// in §5), unlike a sweep run from a separate goroutine.
			e.sweepShardSessions(ctx, s)
		}
	}
}

// sweepShardSessions closes any session window in s whose key has been
// idle (by wall clock) past its configured gap. Must only be called
// from the shard's own owning goroutine.
func (e *Engine) sweepShardSessions(ctx context.Context, s *shard) {
	now := clock.Now()
	for _, ws := range s.sets {
		w, ok := ws.windows[kindSession]
		if !ok || w.gap == 0 || w.lastWallClock.IsZero() {
			continue
		}
		if now.Sub(w.lastWallClock) >= w.gap {
			e.closeAndReopen(ctx, s, ws, kindSession, w.lastRecordTime)
		}
	}
}

func (e *Engine) handleRecord(ctx context.Context, s *shard, r record.CommonRecord) {
	key := e.projectKey(r)
	wm, seen := s.watermk[key]
	if seen && r.TEnd.Before(wm.Add(-e.allowedLateness)) {
		e.lateDropped.Add(1)
		metrics.Get().DroppedRecord("late")
		return
	}
	if !seen || r.TEnd.After(wm) {
		s.watermk[key] = r.TEnd
	}

	ws, ok := s.sets[key]
	if !ok {
		ws = e.newWindowSet(key, r.TStart)
		s.sets[key] = ws
		ws.elem = s.lru.PushFront(key)
		e.evictIfNeeded(s)
	} else {
		s.lru.MoveToFront(ws.elem)
	}

	now := clock.Now()
	// Tie-break concurrent closes on the same key by kind ordering
	// (tumbling < sliding < session), then start time ascending — the
	// iteration order below already satisfies the kind ordering half;
	// only one window per kind exists per key so start-time ties cannot
	// occur within a single key.
	for _, k := range []kind{kindTumbling, kindSliding, kindSession} {
		w, ok := ws.windows[k]
		if !ok {
			continue
		}
		shouldClose := w.ingest(r, now)
		if shouldClose {
			e.closeAndReopen(ctx, s, ws, k, r.TEnd)
		}
	}
}

func (e *Engine) newWindowSet(key string, start time.Time) *windowSet {
	ws := &windowSet{key: key, windows: make(map[kind]*window)}
	for _, spec := range e.specs {
		ws.windows[spec.kind] = newWindow(key, spec.kind, spec.span, spec.slide, spec.gap, start)
	}
	return ws
}

func (e *Engine) closeAndReopen(ctx context.Context, s *shard, ws *windowSet, k kind, closedAt time.Time) {
	w := ws.windows[k]
	w.end = closedAt
	fv := w.emit(closedAt)
	e.publish(ctx, fv)

	switch k {
	case kindTumbling:
		ws.windows[k] = newWindow(ws.key, k, w.span, w.slide, w.gap, closedAt)
	case kindSliding:
		w.rollSlide(closedAt)
	case kindSession:
		ws.windows[k] = newWindow(ws.key, k, w.span, w.slide, w.gap, closedAt)
	}
}

func (e *Engine) publish(ctx context.Context, fv record.FeatureVector) {
	if err := e.b.Publish(ctx, "features", fv.Context.WindowKey, fv); err != nil {
		e.logger.Warn("failed to publish feature vector", "window_key", fv.Context.WindowKey, "error", err)
	}
}

// evictIfNeeded drops the coldest (LRU) key once a shard exceeds its
// per-shard share of per_key_memory_cap, counting it as windows_evicted.
func (e *Engine) evictIfNeeded(s *shard) {
	for len(s.sets) > e.perShard {
		back := s.lru.Back()
		if back == nil {
			return
		}
		key := back.Value.(string)
		s.lru.Remove(back)
		delete(s.sets, key)
		delete(s.watermk, key)
		e.windowsEvicted.Add(1)
		metrics.Get().EvictedWindow()
	}
}

// WindowsEvicted returns the running count of LRU-evicted WindowKeys.
func (e *Engine) WindowsEvicted() int64 { return e.windowsEvicted.Load() }

// LateRecordsDropped returns the running count of records dropped for
// arriving beyond allowed_lateness.
func (e *Engine) LateRecordsDropped() int64 { return e.lateDropped.Load() }
