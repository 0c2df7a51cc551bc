// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package ingest

import (
	"context"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/dreadl0ck/ja3"
	"github.com/dreadl0ck/tlsx"
	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"github.com/gopacket/gopacket/pcap"

	"aegis.dev/aegis/internal/record"
)

// emptyJA3Digest is md5("") hex-encoded, the digest dreadl0ck/ja3
// returns for a packet with no TLS ClientHello — filtered out the same
// way any JA3 fingerprinting pass has to skip non-TLS traffic.
const emptyJA3Digest = "d41d8cd98f00b204e9800998ecf8427e"

// flowKey is the 5-tuple a PCAPCapture aggregates packets by.
type flowKey struct {
	srcAddr, dstAddr string
	srcPort, dstPort uint16
	protocol         string
}

type liveFlow struct {
	start, lastSeen time.Time
	bytesOut, bytesIn uint64
	pktsOut, pktsIn   uint64
	flags             record.ProtocolFlags
	ja3, sni          string
	srcIsLocal        bool // true once we've pinned which side is "src"
}

// PCAPCapture reads live or offline packet captures with gopacket,
// aggregates packets into per-5-tuple flows the same way a bounded
// flow-manager aggregates eBPF flow events, and emits one CommonRecord
// per flow on idle timeout. JA3/SNI extraction follows a
// ja3.DigestPacket pattern, paired with github.com/dreadl0ck/tlsx for
// SNI parsing, since FeatureContext.SNI needs it downstream.
type PCAPCapture struct {
	norm        *Normalizer
	flowTimeout time.Duration
	sensorID    string

	mu    sync.Mutex
	flows map[flowKey]*liveFlow
}

// NewPCAPCapture constructs a PCAPCapture publishing through norm.
func NewPCAPCapture(norm *Normalizer, sensorID string, flowTimeout time.Duration) *PCAPCapture {
	if flowTimeout <= 0 {
		flowTimeout = 30 * time.Second
	}
	return &PCAPCapture{
		norm:        norm,
		flowTimeout: flowTimeout,
		sensorID:    sensorID,
		flows:       make(map[flowKey]*liveFlow),
	}
}

// RunInterface opens iface live and processes packets until ctx is
// cancelled.
func (c *PCAPCapture) RunInterface(ctx context.Context, iface string, snaplen int32) error {
	if snaplen <= 0 {
		snaplen = 65535
	}
	handle, err := pcap.OpenLive(iface, snaplen, true, pcap.BlockForever)
	if err != nil {
		return fmt.Errorf("ingest: open live interface %s: %w", iface, err)
	}
	defer handle.Close()
	return c.run(ctx, gopacket.NewPacketSource(handle, handle.LinkType()))
}

// RunFile processes an offline pcap file, used by scenario replay.
func (c *PCAPCapture) RunFile(ctx context.Context, path string) error {
	handle, err := pcap.OpenOffline(path)
	if err != nil {
		return fmt.Errorf("ingest: open pcap file %s: %w", path, err)
	}
	defer handle.Close()
	return c.run(ctx, gopacket.NewPacketSource(handle, handle.LinkType()))
}

func (c *PCAPCapture) run(ctx context.Context, src *gopacket.PacketSource) error {
	sweep := time.NewTicker(c.flowTimeout / 2)
	defer sweep.Stop()
	packets := src.Packets()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-sweep.C:
			c.sweepIdle(ctx)
		case packet, ok := <-packets:
			if !ok {
				c.sweepIdle(ctx)
				return nil
			}
			c.handlePacket(packet)
		}
	}
}

func (c *PCAPCapture) handlePacket(packet gopacket.Packet) {
	key, inbound, size, flags, ok := classify(packet)
	if !ok {
		return
	}

	c.mu.Lock()
	f, exists := c.flows[key]
	if !exists {
		f = &liveFlow{start: nowOrMeta(packet)}
		c.flows[key] = f
	}
	f.lastSeen = nowOrMeta(packet)
	if inbound {
		f.bytesIn += uint64(size)
		f.pktsIn++
	} else {
		f.bytesOut += uint64(size)
		f.pktsOut++
	}
	f.flags.SYN += uint64(flags.SYN)
	f.flags.ACK += uint64(flags.ACK)
	f.flags.FIN += uint64(flags.FIN)
	f.flags.RST += uint64(flags.RST)
	f.flags.PSH += uint64(flags.PSH)
	f.flags.URG += uint64(flags.URG)

	if ja3hash, sni, hit := extractTLS(packet); hit {
		f.ja3 = ja3hash
		f.sni = sni
	}
	c.mu.Unlock()
}

// sweepIdle closes and emits every flow idle past flowTimeout.
func (c *PCAPCapture) sweepIdle(ctx context.Context) {
	nowTime := now()
	var toEmit []struct {
		key flowKey
		f   *liveFlow
	}
	c.mu.Lock()
	for k, f := range c.flows {
		if nowTime.Sub(f.lastSeen) >= c.flowTimeout {
			toEmit = append(toEmit, struct {
				key flowKey
				f   *liveFlow
			}{k, f})
			delete(c.flows, k)
		}
	}
	c.mu.Unlock()

	for _, e := range toEmit {
		rec := e.f.toRecord(e.key, c.sensorID)
		if err := c.norm.Ingest(ctx, rec, "pcap"); err != nil {
			c.norm.logger.Warn("failed to ingest pcap flow", "error", err)
		}
	}
}

func (f *liveFlow) toRecord(key flowKey, sensorID string) record.CommonRecord {
	return record.CommonRecord{
		TStart:     f.start,
		TEnd:       f.lastSeen,
		SrcAddr:    key.srcAddr,
		SrcPort:    key.srcPort,
		DstAddr:    key.dstAddr,
		DstPort:    key.dstPort,
		Protocol:   key.protocol,
		BytesOut:   f.bytesOut,
		BytesIn:    f.bytesIn,
		PacketsOut: f.pktsOut,
		PacketsIn:  f.pktsIn,
		Flags:      f.flags,
		Source:     record.SourceMeta{SensorID: sensorID},
		FlowID:     fmt.Sprintf("%s:%d-%s:%d/%s", key.srcAddr, key.srcPort, key.dstAddr, key.dstPort, key.protocol),
		JA3:        f.ja3,
		SNI:        f.sni,
	}
}

// classify extracts the 5-tuple, direction, wire size, and TCP flags
// from packet. The key's "src" side is the lexicographically smaller
// (addr, port) pair, so both directions share one key; inbound is true
// when the packet travels from the key's dst side to its src side.
func classify(packet gopacket.Packet) (key flowKey, inbound bool, size int, flags record.ProtocolFlags, ok bool) {
	var srcIP, dstIP string
	if ipv4 := packet.Layer(layers.LayerTypeIPv4); ipv4 != nil {
		ip := ipv4.(*layers.IPv4)
		srcIP, dstIP = ip.SrcIP.String(), ip.DstIP.String()
	} else if ipv6 := packet.Layer(layers.LayerTypeIPv6); ipv6 != nil {
		ip := ipv6.(*layers.IPv6)
		srcIP, dstIP = ip.SrcIP.String(), ip.DstIP.String()
	} else {
		return key, false, 0, flags, false
	}

	var srcPort, dstPort uint16
	proto := "other"
	if tcp := packet.Layer(layers.LayerTypeTCP); tcp != nil {
		t := tcp.(*layers.TCP)
		srcPort, dstPort = uint16(t.SrcPort), uint16(t.DstPort)
		proto = "tcp"
		if t.SYN {
			flags.SYN = 1
		}
		if t.ACK {
			flags.ACK = 1
		}
		if t.FIN {
			flags.FIN = 1
		}
		if t.RST {
			flags.RST = 1
		}
		if t.PSH {
			flags.PSH = 1
		}
		if t.URG {
			flags.URG = 1
		}
	} else if udp := packet.Layer(layers.LayerTypeUDP); udp != nil {
		u := udp.(*layers.UDP)
		srcPort, dstPort = uint16(u.SrcPort), uint16(u.DstPort)
		proto = "udp"
	} else if packet.Layer(layers.LayerTypeICMPv4) != nil {
		proto = "icmp"
	}

	size = len(packet.Data())

	// Canonical direction: lexicographically smaller (addr,port) pair is
	// "src" for the flow key so both directions of one conversation
	// aggregate under the same key.
	fwd := srcIP+fmt.Sprint(srcPort) <= dstIP+fmt.Sprint(dstPort)
	if fwd {
		key = flowKey{srcAddr: srcIP, srcPort: srcPort, dstAddr: dstIP, dstPort: dstPort, protocol: proto}
		inbound = false
	} else {
		key = flowKey{srcAddr: dstIP, srcPort: dstPort, dstAddr: srcIP, dstPort: srcPort, protocol: proto}
		inbound = true
	}
	return key, inbound, size, flags, true
}

// extractTLS computes the JA3 fingerprint and SNI hostname for a TLS
// ClientHello, mirroring internal/scanner/tls.go's ja3.DigestPacket use
// plus tlsx for the SNI this pipeline needs downstream.
func extractTLS(packet gopacket.Packet) (ja3Hash, sni string, ok bool) {
	digest := ja3.DigestPacket(packet)
	h := hex.EncodeToString(digest[:])
	if h == emptyJA3Digest {
		return "", "", false
	}

	if tl := packet.TransportLayer(); tl != nil {
		hello := tlsx.ClientHelloBasicInfo{}
		if err := hello.Parse(tl.LayerPayload()); err == nil {
			sni = hello.SNI
		}
	}
	return h, sni, true
}

func nowOrMeta(packet gopacket.Packet) time.Time {
	if md := packet.Metadata(); md != nil && !md.Timestamp.IsZero() {
		return md.Timestamp
	}
	return now()
}
