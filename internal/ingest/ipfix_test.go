// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package ingest

import (
	"encoding/binary"
	"net"
	"testing"
	"time"
)

// ipfixTestFields mirrors the field order and widths this test's
// synthetic template and data set use.
var ipfixTestFields = []ipfixField{
	{elementID: ieSourceIPv4Address, length: 4},
	{elementID: ieDestinationIPv4Address, length: 4},
	{elementID: ieSourceTransportPort, length: 2},
	{elementID: ieDestinationTransportPort, length: 2},
	{elementID: ieProtocolIdentifier, length: 1},
	{elementID: ieTCPControlBits, length: 1},
	{elementID: ieOctetDeltaCount, length: 4},
	{elementID: iePacketDeltaCount, length: 4},
	{elementID: ieFlowStartSysUpTime, length: 4},
	{elementID: ieFlowEndSysUpTime, length: 4},
}

const ipfixTestTemplateID = 256

func buildIPFIXTemplateSet() []byte {
	body := make([]byte, 0, 4+len(ipfixTestFields)*4)
	hdr := make([]byte, 4)
	binary.BigEndian.PutUint16(hdr[0:2], ipfixTestTemplateID)
	binary.BigEndian.PutUint16(hdr[2:4], uint16(len(ipfixTestFields)))
	body = append(body, hdr...)
	for _, f := range ipfixTestFields {
		fb := make([]byte, 4)
		binary.BigEndian.PutUint16(fb[0:2], f.elementID)
		binary.BigEndian.PutUint16(fb[2:4], f.length)
		body = append(body, fb...)
	}

	set := make([]byte, 4+len(body))
	binary.BigEndian.PutUint16(set[0:2], ipfixTemplateSetID)
	binary.BigEndian.PutUint16(set[2:4], uint16(len(set)))
	copy(set[4:], body)
	return set
}

func buildIPFIXDataSet() []byte {
	var body []byte
	put32 := func(v uint32) { b := make([]byte, 4); binary.BigEndian.PutUint32(b, v); body = append(body, b...) }
	put16 := func(v uint16) { b := make([]byte, 2); binary.BigEndian.PutUint16(b, v); body = append(body, b...) }
	put8 := func(v uint8) { body = append(body, v) }

	body = append(body, net.ParseIP("192.168.1.10").To4()...)
	body = append(body, net.ParseIP("93.184.216.34").To4()...)
	put16(51234)
	put16(443)
	put8(6)    // protocol TCP
	put8(0x1B) // SYN+ACK+FIN+PSH (bit pattern not critical to the test)
	put32(2048)
	put32(14)
	put32(1000) // start offset ms
	put32(6000) // end offset ms

	set := make([]byte, 4+len(body))
	binary.BigEndian.PutUint16(set[0:2], ipfixTestTemplateID)
	binary.BigEndian.PutUint16(set[2:4], uint16(len(set)))
	copy(set[4:], body)
	return set
}

func buildIPFIXMessage(sets ...[]byte) []byte {
	total := ipfixMessageHeaderLen
	for _, s := range sets {
		total += len(s)
	}
	msg := make([]byte, total)
	binary.BigEndian.PutUint16(msg[0:2], 10) // version
	binary.BigEndian.PutUint16(msg[2:4], uint16(total))
	binary.BigEndian.PutUint32(msg[4:8], 1_700_000_000) // export time
	binary.BigEndian.PutUint32(msg[8:12], 1)            // sequence
	binary.BigEndian.PutUint32(msg[12:16], 0)           // domain

	off := ipfixMessageHeaderLen
	for _, s := range sets {
		copy(msg[off:], s)
		off += len(s)
	}
	return msg
}

func TestIPFIXListenerLearnsTemplateThenDecodesData(t *testing.T) {
	l := NewIPFIXListener(nil, "sensor-test")
	msg := buildIPFIXMessage(buildIPFIXTemplateSet(), buildIPFIXDataSet())

	recs := l.handleMessage(msg)
	if len(recs) != 1 {
		t.Fatalf("len(recs) = %d, want 1", len(recs))
	}
	r := recs[0]
	if r.SrcAddr != "192.168.1.10" || r.DstAddr != "93.184.216.34" {
		t.Fatalf("addrs = %s -> %s", r.SrcAddr, r.DstAddr)
	}
	if r.SrcPort != 51234 || r.DstPort != 443 {
		t.Fatalf("ports = %d -> %d", r.SrcPort, r.DstPort)
	}
	if r.Protocol != "tcp" {
		t.Fatalf("protocol = %q, want tcp", r.Protocol)
	}
	if r.BytesOut != 2048 || r.PacketsOut != 14 {
		t.Fatalf("bytes/pkts = %d/%d", r.BytesOut, r.PacketsOut)
	}
	wantStart := time.Unix(1_700_000_000, 0).Add(1000 * time.Millisecond)
	if !r.TStart.Equal(wantStart) {
		t.Fatalf("TStart = %v, want %v", r.TStart, wantStart)
	}
}

func TestIPFIXListenerSkipsDataSetWithUnknownTemplate(t *testing.T) {
	l := NewIPFIXListener(nil, "sensor-test")
	msg := buildIPFIXMessage(buildIPFIXDataSet()) // no template set sent first

	recs := l.handleMessage(msg)
	if recs != nil {
		t.Fatalf("expected nil with unknown template, got %v", recs)
	}
}

func TestIPFIXListenerRejectsShortMessage(t *testing.T) {
	l := NewIPFIXListener(nil, "sensor-test")
	if recs := l.handleMessage([]byte{1, 2, 3}); recs != nil {
		t.Fatalf("expected nil for undersized message, got %v", recs)
	}
}

func TestIPFIXListenerRejectsWrongVersion(t *testing.T) {
	l := NewIPFIXListener(nil, "sensor-test")
	msg := buildIPFIXMessage(buildIPFIXTemplateSet())
	binary.BigEndian.PutUint16(msg[0:2], 9)
	if recs := l.handleMessage(msg); recs != nil {
		t.Fatalf("expected nil for unsupported version, got %v", recs)
	}
}

func TestIPFIXListenerTemplatesScopedByDomain(t *testing.T) {
	l := NewIPFIXListener(nil, "sensor-test")
	msg := buildIPFIXMessage(buildIPFIXTemplateSet())
	l.handleMessage(msg)

	dataMsg := buildIPFIXMessage(buildIPFIXDataSet())
	binary.BigEndian.PutUint32(dataMsg[12:16], 99) // different observation domain
	recs := l.handleMessage(dataMsg)
	if recs != nil {
		t.Fatalf("expected nil, template learned under a different domain, got %v", recs)
	}
}
