// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package ingest

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"sync"
	"time"

	"aegis.dev/aegis/internal/record"
)

// IPFIX (RFC 7011) information element IDs this parser understands.
// Vendor/enterprise elements and anything else are skipped field by
// field using the advertised field length, so an unrecognized template
// never desyncs the decoder.
const (
	ieOctetDeltaCount            = 1
	iePacketDeltaCount           = 2
	ieProtocolIdentifier         = 4
	ieTCPControlBits             = 6
	ieSourceTransportPort        = 7
	ieSourceIPv4Address          = 8
	ieDestinationTransportPort   = 11
	ieDestinationIPv4Address     = 12
	ieFlowEndSysUpTime           = 21
	ieFlowStartSysUpTime         = 22
	enterpriseBit         uint16 = 0x8000
)

const ipfixMessageHeaderLen = 16
const ipfixSetHeaderLen = 4
const ipfixTemplateSetID = 2
const ipfixFirstDataSetID = 256

// ipfixField describes one element within a decoded template: which
// information element it carries and how many bytes it occupies.
type ipfixField struct {
	elementID uint16
	length    uint16
}

// ipfixTemplateKey scopes a template ID to its observation domain,
// since two exporters (or two domains from one exporter) may reuse the
// same template ID for different layouts.
type ipfixTemplateKey struct {
	domainID   uint32
	templateID uint16
}

// IPFIXListener parses IPFIX export messages (encoding/binary; like
// NetFlow v5, no IPFIX decoding library exists in the example corpus).
// Unlike NetFlow v5's fixed record layout, IPFIX requires tracking
// template definitions a given exporter has sent before it can decode
// that exporter's data sets, so the listener keeps a small
// per-(domain,template) cache for the lifetime of the process.
type IPFIXListener struct {
	norm     *Normalizer
	sensorID string

	mu        sync.Mutex
	templates map[ipfixTemplateKey][]ipfixField
}

// NewIPFIXListener constructs an IPFIXListener publishing through norm.
func NewIPFIXListener(norm *Normalizer, sensorID string) *IPFIXListener {
	return &IPFIXListener{norm: norm, sensorID: sensorID, templates: make(map[ipfixTemplateKey][]ipfixField)}
}

// Run listens for IPFIX UDP export messages on addr until ctx is
// cancelled.
func (l *IPFIXListener) Run(ctx context.Context, addr string) error {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return fmt.Errorf("ingest: resolve ipfix listen addr: %w", err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return fmt.Errorf("ingest: listen ipfix: %w", err)
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
		for _, rec := range l.handleMessage(buf[:n]) {
			rec.Source.SensorID = l.sensorID
			if err := l.norm.Ingest(ctx, rec, "ipfix"); err != nil {
				l.norm.logger.Warn("failed to ingest ipfix record", "error", err)
			}
		}
	}
}

// handleMessage decodes one IPFIX message, learning any template sets
// it carries and decoding any data sets against already-known
// templates. Data sets referencing an unknown template are skipped.
func (l *IPFIXListener) handleMessage(data []byte) []record.CommonRecord {
	if len(data) < ipfixMessageHeaderLen {
		return nil
	}
	version := binary.BigEndian.Uint16(data[0:2])
	if version != 10 {
		return nil
	}
	msgLen := binary.BigEndian.Uint16(data[2:4])
	exportSecs := binary.BigEndian.Uint32(data[4:8])
	domainID := binary.BigEndian.Uint32(data[12:16])
	exportTime := time.Unix(int64(exportSecs), 0)

	if int(msgLen) > len(data) {
		msgLen = uint16(len(data))
	}

	var out []record.CommonRecord
	off := ipfixMessageHeaderLen
	for off+ipfixSetHeaderLen <= int(msgLen) {
		setID := binary.BigEndian.Uint16(data[off : off+2])
		setLen := int(binary.BigEndian.Uint16(data[off+2 : off+4]))
		if setLen < ipfixSetHeaderLen || off+setLen > int(msgLen) {
			break
		}
		body := data[off+ipfixSetHeaderLen : off+setLen]

		switch {
		case setID == ipfixTemplateSetID:
			l.learnTemplates(domainID, body)
		case setID >= ipfixFirstDataSetID:
			out = append(out, l.decodeDataSet(domainID, setID, body, exportTime)...)
		}
		off += setLen
	}
	return out
}

// learnTemplates parses one or more template records out of a template
// set body and stores them keyed by (domainID, templateID).
func (l *IPFIXListener) learnTemplates(domainID uint32, body []byte) {
	off := 0
	for off+4 <= len(body) {
		templateID := binary.BigEndian.Uint16(body[off : off+2])
		fieldCount := binary.BigEndian.Uint16(body[off+2 : off+4])
		off += 4

		fields := make([]ipfixField, 0, fieldCount)
		for i := uint16(0); i < fieldCount && off+4 <= len(body); i++ {
			elementID := binary.BigEndian.Uint16(body[off : off+2])
			length := binary.BigEndian.Uint16(body[off+2 : off+4])
			off += 4
			if elementID&enterpriseBit != 0 {
				off += 4 // skip enterprise number
				elementID &^= enterpriseBit
			}
			fields = append(fields, ipfixField{elementID: elementID, length: length})
		}

		l.mu.Lock()
		l.templates[ipfixTemplateKey{domainID: domainID, templateID: templateID}] = fields
		l.mu.Unlock()
	}
}

// decodeDataSet decodes every record in a data set against the
// template identified by setID (IPFIX data sets reuse the template ID
// as their set ID).
func (l *IPFIXListener) decodeDataSet(domainID uint32, setID uint16, body []byte, exportTime time.Time) []record.CommonRecord {
	l.mu.Lock()
	fields, ok := l.templates[ipfixTemplateKey{domainID: domainID, templateID: setID}]
	l.mu.Unlock()
	if !ok {
		return nil
	}

	var out []record.CommonRecord
	off := 0
	for {
		rec, n, ok := decodeIPFIXRecord(fields, body[off:], exportTime)
		if !ok {
			break
		}
		out = append(out, rec)
		off += n
		if off >= len(body) {
			break
		}
	}
	return out
}

func decodeIPFIXRecord(fields []ipfixField, body []byte, exportTime time.Time) (record.CommonRecord, int, bool) {
	var rec record.CommonRecord
	var srcPort, dstPort uint16
	var protocolNum uint8
	var tcpBits uint8
	var startOffsetMS, endOffsetMS uint32
	off := 0

	for _, f := range fields {
		if off+int(f.length) > len(body) {
			return record.CommonRecord{}, 0, false
		}
		raw := body[off : off+int(f.length)]
		off += int(f.length)

		switch f.elementID {
		case ieSourceIPv4Address:
			if len(raw) == 4 {
				rec.SrcAddr = net.IP(raw).String()
			}
		case ieDestinationIPv4Address:
			if len(raw) == 4 {
				rec.DstAddr = net.IP(raw).String()
			}
		case ieSourceTransportPort:
			srcPort = uint16(decodeUint(raw))
		case ieDestinationTransportPort:
			dstPort = uint16(decodeUint(raw))
		case ieProtocolIdentifier:
			protocolNum = uint8(decodeUint(raw))
		case ieTCPControlBits:
			tcpBits = uint8(decodeUint(raw))
		case ieOctetDeltaCount:
			rec.BytesOut = decodeUint(raw)
		case iePacketDeltaCount:
			rec.PacketsOut = decodeUint(raw)
		case ieFlowStartSysUpTime:
			startOffsetMS = uint32(decodeUint(raw))
		case ieFlowEndSysUpTime:
			endOffsetMS = uint32(decodeUint(raw))
		}
	}

	rec.SrcPort = srcPort
	rec.DstPort = dstPort
	rec.Protocol = ipProtocolName(protocolNum)
	rec.Flags = tcpFlagsFromByte(tcpBits)
	rec.TStart = exportTime.Add(time.Duration(startOffsetMS) * time.Millisecond)
	rec.TEnd = exportTime.Add(time.Duration(endOffsetMS) * time.Millisecond)
	rec.FlowID = fmt.Sprintf("%s:%d-%s:%d/%d@%d", rec.SrcAddr, srcPort, rec.DstAddr, dstPort, protocolNum, endOffsetMS)

	if off == 0 {
		return record.CommonRecord{}, 0, false
	}
	return rec, off, true
}

// decodeUint reads a big-endian unsigned integer of 1, 2, 4, or 8
// bytes, the widths IPFIX uses for counters and identifiers.
func decodeUint(b []byte) uint64 {
	switch len(b) {
	case 1:
		return uint64(b[0])
	case 2:
		return uint64(binary.BigEndian.Uint16(b))
	case 4:
		return uint64(binary.BigEndian.Uint32(b))
	case 8:
		return binary.BigEndian.Uint64(b)
	default:
		var v uint64
		for _, bb := range b {
			v = v<<8 | uint64(bb)
		}
		return v
	}
}
