// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package ingest

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"time"

	"aegis.dev/aegis/internal/record"
)

// netflowV5Header is the fixed 24-byte NetFlow v5 packet header.
type netflowV5Header struct {
	Version          uint16
	Count            uint16
	SysUptimeMS      uint32
	UnixSecs         uint32
	UnixNsecs        uint32
	FlowSequence     uint32
	EngineType       uint8
	EngineID         uint8
	SamplingInterval uint16
}

// netflowV5Record is one fixed 48-byte flow record within a v5 packet.
type netflowV5Record struct {
	SrcAddr  uint32
	DstAddr  uint32
	NextHop  uint32
	Input    uint16
	Output   uint16
	DPkts    uint32
	DOctets  uint32
	First    uint32
	Last     uint32
	SrcPort  uint16
	DstPort  uint16
	pad1     uint8
	TCPFlags uint8
	Protocol uint8
	TOS      uint8
	SrcAS    uint16
	DstAS    uint16
	SrcMask  uint8
	DstMask  uint8
	pad2     uint16
}

const (
	netflowHeaderLen = 24
	netflowRecordLen = 48
)

// NetflowListener parses NetFlow v5 export packets (encoding/binary;
// there is no NetFlow decoding library in the example corpus, so this
// fixed-layout struct decode follows a straightforward binary
// wire-format handling style in internal/ebpf/types).
type NetflowListener struct {
	norm     *Normalizer
	sensorID string
}

// NewNetflowListener constructs a NetflowListener publishing through
// norm.
func NewNetflowListener(norm *Normalizer, sensorID string) *NetflowListener {
	return &NetflowListener{norm: norm, sensorID: sensorID}
}

// Run listens for NetFlow v5 UDP exports on addr until ctx is
// cancelled.
func (l *NetflowListener) Run(ctx context.Context, addr string) error {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return fmt.Errorf("ingest: resolve netflow listen addr: %w", err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return fmt.Errorf("ingest: listen netflow: %w", err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	buf := make([]byte, 65535)
	for {
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		}
		for _, rec := range parseNetflowV5(buf[:n]) {
			rec.Source.SensorID = l.sensorID
			if err := l.norm.Ingest(ctx, rec, "netflow"); err != nil {
				l.norm.logger.Warn("failed to ingest netflow record", "error", err)
			}
		}
	}
}

// parseNetflowV5 decodes a NetFlow v5 export packet into CommonRecords.
// Malformed packets (short reads, unsupported version) yield no
// records rather than an error — the caller logs nothing per malformed
// datagram to avoid noise on a busy exporter.
func parseNetflowV5(data []byte) []record.CommonRecord {
	if len(data) < netflowHeaderLen {
		return nil
	}
	var hdr netflowV5Header
	hdr.Version = binary.BigEndian.Uint16(data[0:2])
	if hdr.Version != 5 {
		return nil
	}
	hdr.Count = binary.BigEndian.Uint16(data[2:4])
	hdr.SysUptimeMS = binary.BigEndian.Uint32(data[4:8])
	hdr.UnixSecs = binary.BigEndian.Uint32(data[8:12])
	hdr.UnixNsecs = binary.BigEndian.Uint32(data[12:16])

	exportTime := time.Unix(int64(hdr.UnixSecs), int64(hdr.UnixNsecs))

	need := netflowHeaderLen + int(hdr.Count)*netflowRecordLen
	if len(data) < need {
		return nil
	}

	out := make([]record.CommonRecord, 0, hdr.Count)
	for i := 0; i < int(hdr.Count); i++ {
		off := netflowHeaderLen + i*netflowRecordLen
		rec := decodeNetflowV5Record(data[off:off+netflowRecordLen], hdr.SysUptimeMS, exportTime)
		out = append(out, rec)
	}
	return out
}

func decodeNetflowV5Record(b []byte, sysUptimeMS uint32, exportTime time.Time) record.CommonRecord {
	srcAddr := ipFromUint32(binary.BigEndian.Uint32(b[0:4]))
	dstAddr := ipFromUint32(binary.BigEndian.Uint32(b[4:8]))
	dPkts := binary.BigEndian.Uint32(b[16:20])
	dOctets := binary.BigEndian.Uint32(b[20:24])
	first := binary.BigEndian.Uint32(b[24:28])
	last := binary.BigEndian.Uint32(b[28:32])
	srcPort := binary.BigEndian.Uint16(b[32:34])
	dstPort := binary.BigEndian.Uint16(b[34:36])
	tcpFlags := b[37]
	protocolNum := b[38]

	tStart := exportTime.Add(-time.Duration(sysUptimeMS-first) * time.Millisecond)
	tEnd := exportTime.Add(-time.Duration(sysUptimeMS-last) * time.Millisecond)

	return record.CommonRecord{
		TStart:     tStart,
		TEnd:       tEnd,
		SrcAddr:    srcAddr,
		SrcPort:    srcPort,
		DstAddr:    dstAddr,
		DstPort:    dstPort,
		Protocol:   ipProtocolName(protocolNum),
		BytesOut:   uint64(dOctets),
		PacketsOut: uint64(dPkts),
		Flags:      tcpFlagsFromByte(tcpFlags),
		FlowID:     fmt.Sprintf("%s:%d-%s:%d/%d@%d", srcAddr, srcPort, dstAddr, dstPort, protocolNum, last),
	}
}

func ipFromUint32(v uint32) string {
	ip := make(net.IP, 4)
	binary.BigEndian.PutUint32(ip, v)
	return ip.String()
}

func ipProtocolName(n uint8) string {
	switch n {
	case 6:
		return "tcp"
	case 17:
		return "udp"
	case 1:
		return "icmp"
	default:
		return fmt.Sprintf("ip-proto-%d", n)
	}
}

func tcpFlagsFromByte(b uint8) record.ProtocolFlags {
	var f record.ProtocolFlags
	if b&0x02 != 0 {
		f.SYN = 1
	}
	if b&0x10 != 0 {
		f.ACK = 1
	}
	if b&0x01 != 0 {
		f.FIN = 1
	}
	if b&0x04 != 0 {
		f.RST = 1
	}
	if b&0x08 != 0 {
		f.PSH = 1
	}
	if b&0x20 != 0 {
		f.URG = 1
	}
	return f
}
