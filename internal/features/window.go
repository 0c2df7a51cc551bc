// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package features

import (
	"math"
	"time"

	"aegis.dev/aegis/internal/record"
)

// kind enumerates the three window kinds, ordered per the tie-break
// rule applied when a record could open more than one kind at once
// (tumbling < sliding < session).
type kind int

const (
	kindTumbling kind = iota
	kindSliding
	kindSession
)

func (k kind) String() string {
	switch k {
	case kindTumbling:
		return "tumbling"
	case kindSliding:
		return "sliding"
	case kindSession:
		return "session"
	default:
		return "unknown"
	}
}

// aggregates accumulates the running statistics a window needs, updated
// in O(1) per record.
type aggregates struct {
	bytesOut, bytesIn     uint64
	packetsOut, packetsIn uint64

	sumSize   float64
	sumSizeSq float64
	nSizes    uint64

	syn, rst, fin, ack uint64

	dstPorts map[uint16]uint32
	dstAddrs map[string]uint32

	srcAddr string
	ja3     string
	sni     string
}

func newAggregates() *aggregates {
	return &aggregates{
		dstPorts: make(map[uint16]uint32),
		dstAddrs: make(map[string]uint32),
	}
}

func (a *aggregates) update(r record.CommonRecord) {
	a.bytesOut += r.BytesOut
	a.bytesIn += r.BytesIn
	a.packetsOut += r.PacketsOut
	a.packetsIn += r.PacketsIn

	total := r.PacketsOut + r.PacketsIn
	if total > 0 {
		meanSize := float64(r.BytesOut+r.BytesIn) / float64(total)
		a.sumSize += meanSize
		a.sumSizeSq += meanSize * meanSize
		a.nSizes++
	}

	a.syn += r.Flags.SYN
	a.rst += r.Flags.RST
	a.fin += r.Flags.FIN
	a.ack += r.Flags.ACK

	a.dstPorts[r.DstPort]++
	a.dstAddrs[r.DstAddr]++

	if a.srcAddr == "" && r.SrcAddr != "" {
		a.srcAddr = r.SrcAddr
	}
	if a.ja3 == "" && r.JA3 != "" {
		a.ja3 = r.JA3
	}
	if a.sni == "" && r.SNI != "" {
		a.sni = r.SNI
	}
}

// window is a single open accumulation for one WindowKey and kind. It is
// never accessed outside its owning shard goroutine, satisfying the
// single-writer invariant in §5.
type window struct {
	key   string
	kind  kind
	span  time.Duration
	slide time.Duration
	gap   time.Duration

	start time.Time
	end   time.Time

	agg *aggregates

	// buckets backs sliding windows: one aggregates per slide interval,
	// summed at emission time, bounded to span/slide entries.
	buckets []*aggregates

	lastRecordTime time.Time
	lastWallClock  time.Time
}

func newWindow(key string, k kind, span, slide, gap time.Duration, start time.Time) *window {
	w := &window{
		key:   key,
		kind:  k,
		span:  span,
		slide: slide,
		gap:   gap,
		start: start,
		agg:   newAggregates(),
	}
	if k == kindSliding {
		w.buckets = []*aggregates{newAggregates()}
	}
	return w
}

// ingest folds r into the window's running aggregates. Returns true if,
// as a result, the window should close (per the record's t_end for
// tumbling/sliding; session closure is driven separately by wall clock).
func (w *window) ingest(r record.CommonRecord, wallNow time.Time) bool {
	w.lastRecordTime = r.TEnd
	w.lastWallClock = wallNow

	switch w.kind {
	case kindTumbling:
		w.agg.update(r)
		return r.TEnd.Sub(w.start) >= w.span
	case kindSliding:
		w.buckets[len(w.buckets)-1].update(r)
		return r.TEnd.Sub(w.start) >= w.slide
	case kindSession:
		w.agg.update(r)
		return false
	default:
		return false
	}
}

// rollSlide starts a new slide bucket, dropping buckets older than span.
// Called when ingest reports a sliding window should close; the caller
// is responsible for emitting before calling this.
func (w *window) rollSlide(now time.Time) {
	w.buckets = append(w.buckets, newAggregates())
	maxBuckets := int(w.span/w.slide) + 1
	if maxBuckets < 1 {
		maxBuckets = 1
	}
	if len(w.buckets) > maxBuckets {
		w.buckets = w.buckets[len(w.buckets)-maxBuckets:]
	}
	w.start = now
}

// mergedSliding sums every retained bucket into one aggregates snapshot.
func (w *window) mergedSliding() *aggregates {
	merged := newAggregates()
	for _, b := range w.buckets {
		merged.bytesOut += b.bytesOut
		merged.bytesIn += b.bytesIn
		merged.packetsOut += b.packetsOut
		merged.packetsIn += b.packetsIn
		merged.sumSize += b.sumSize
		merged.sumSizeSq += b.sumSizeSq
		merged.nSizes += b.nSizes
		merged.syn += b.syn
		merged.rst += b.rst
		merged.fin += b.fin
		merged.ack += b.ack
		for p, c := range b.dstPorts {
			merged.dstPorts[p] += c
		}
		for a, c := range b.dstAddrs {
			merged.dstAddrs[a] += c
		}
		if merged.srcAddr == "" && b.srcAddr != "" {
			merged.srcAddr = b.srcAddr
		}
		if merged.ja3 == "" && b.ja3 != "" {
			merged.ja3 = b.ja3
		}
		if merged.sni == "" && b.sni != "" {
			merged.sni = b.sni
		}
	}
	return merged
}

// emit materializes this window's current state into a FeatureVector
// using the fixed slot order in internal/record/slots.go.
func (w *window) emit(closedAt time.Time) record.FeatureVector {
	agg := w.agg
	if w.kind == kindSliding {
		agg = w.mergedSliding()
	}

	span := w.end.Sub(w.start)
	if span <= 0 {
		span = closedAt.Sub(w.start)
	}
	if span <= 0 {
		span = time.Second
	}
	seconds := span.Seconds()

	totalPackets := agg.packetsOut + agg.packetsIn
	totalBytes := agg.bytesOut + agg.bytesIn

	var meanSize, variance float64
	if agg.nSizes > 0 {
		n := float64(agg.nSizes)
		meanSize = agg.sumSize / n
		variance = agg.sumSizeSq/n - meanSize*meanSize
		if variance < 0 {
			variance = 0
		}
	}

	var synRatio, rstRatio, finRatio, ackByteRatio float64
	if totalPackets > 0 {
		synRatio = float64(agg.syn) / float64(totalPackets)
		rstRatio = float64(agg.rst) / float64(totalPackets)
		finRatio = float64(agg.fin) / float64(totalPackets)
	}
	if totalBytes > 0 {
		ackByteRatio = float64(agg.ack) / float64(totalBytes)
		if ackByteRatio > 1 {
			ackByteRatio = 1
		}
	}

	var fv record.FeatureVector
	fv.Values[record.SlotByteRate] = squash(float64(totalBytes) / seconds)
	fv.Values[record.SlotPacketRate] = squash(float64(totalPackets) / seconds)
	fv.Values[record.SlotMeanPacketSize] = squash(meanSize)
	fv.Values[record.SlotPacketSizeVariance] = squash(variance)
	fv.Values[record.SlotSYNRatio] = synRatio
	fv.Values[record.SlotRSTRatio] = rstRatio
	fv.Values[record.SlotFINRatio] = finRatio
	fv.Values[record.SlotUniqueDstPortEntropy] = normalizedEntropy(agg.dstPorts32())
	fv.Values[record.SlotUniqueDstAddrEntropy] = normalizedEntropy(agg.dstAddrsCounts())
	fv.Values[record.SlotSessionDurationSec] = squash(seconds)
	fv.Values[record.SlotACKByteRatio] = ackByteRatio

	fv.Context = record.FeatureContext{
		WindowKey:  w.key,
		WindowKind: w.kind.String(),
		ClosedAt:   closedAt,
		SrcAddr:    agg.srcAddr,
		JA3:        agg.ja3,
		SNI:        agg.sni,
	}
	return fv
}

// squash maps a non-negative rate/duration onto [0,1) via x/(x+k), per
// the normalization rule applied consistently across windows.
func squash(x float64) float64 {
	const k = 1000.0
	if x < 0 {
		x = 0
	}
	return x / (x + k)
}

func (a *aggregates) dstPorts32() []uint32 {
	counts := make([]uint32, 0, len(a.dstPorts))
	for _, c := range a.dstPorts {
		counts = append(counts, c)
	}
	return counts
}

func (a *aggregates) dstAddrsCounts() []uint32 {
	counts := make([]uint32, 0, len(a.dstAddrs))
	for _, c := range a.dstAddrs {
		counts = append(counts, c)
	}
	return counts
}

// normalizedEntropy computes Shannon entropy over a set of observation
// counts, divided by log2(n) of the observed cardinality, per §6.
func normalizedEntropy(counts []uint32) float64 {
	if len(counts) <= 1 {
		return 0
	}
	var total float64
	for _, c := range counts {
		total += float64(c)
	}
	if total == 0 {
		return 0
	}
	var h float64
	for _, c := range counts {
		if c == 0 {
			continue
		}
		p := float64(c) / total
		h -= p * math.Log2(p)
	}
	maxH := math.Log2(float64(len(counts)))
	if maxH == 0 {
		return 0
	}
	return h / maxH
}
