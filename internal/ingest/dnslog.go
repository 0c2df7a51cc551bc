// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package ingest

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"

	"aegis.dev/aegis/internal/record"
)

// DNSLogListener is a passive DNS query-log tap: it answers as an
// authoritative-looking resolver would for logging purposes, but its
// only real job is to turn every observed question into a CommonRecord
// carrying the queried name in SNI, following the same
// internal/services/dns.Service.ServeDNS (client IP via
// net.SplitHostPort(w.RemoteAddr()), dns.TypeToString for the query
// type, and the same "log first, answer second" shape).
type DNSLogListener struct {
	norm     *Normalizer
	sensorID string
	server   *dns.Server
}

// NewDNSLogListener constructs a DNSLogListener publishing through
// norm.
func NewDNSLogListener(norm *Normalizer, sensorID string) *DNSLogListener {
	return &DNSLogListener{norm: norm, sensorID: sensorID}
}

// Run listens for DNS queries on addr (UDP) until ctx is cancelled.
func (l *DNSLogListener) Run(ctx context.Context, addr string) error {
	pc, err := net.ListenPacket("udp", addr)
	if err != nil {
		return fmt.Errorf("ingest: listen dnslog: %w", err)
	}

	srv := &dns.Server{PacketConn: pc, Addr: addr, Net: "udp", Handler: l}
	l.server = srv

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ActivateAndServe() }()

	select {
	case <-ctx.Done():
		srv.Shutdown()
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// ServeDNS implements dns.Handler. It emits one CommonRecord per
// question observed, then replies REFUSED since this listener never
// actually resolves anything — it is a passive tap, not a resolver.
func (l *DNSLogListener) ServeDNS(w dns.ResponseWriter, r *dns.Msg) {
	start := time.Now()
	clientIP, _, _ := net.SplitHostPort(w.RemoteAddr().String())

	msg := new(dns.Msg)
	msg.SetRcode(r, dns.RcodeRefused)
	defer w.WriteMsg(msg)

	if len(r.Question) == 0 {
		return
	}
	q := r.Question[0]
	qType := dns.TypeToString[q.Qtype]
	domain := strings.ToLower(q.Name)

	rec := record.CommonRecord{
		TStart:  start,
		TEnd:    start,
		SrcAddr: clientIP,
		SNI:     domain,
		Source:  record.SourceMeta{SensorID: l.sensorID},
		FlowID:  fmt.Sprintf("dns:%s:%s:%s@%d", clientIP, domain, qType, start.UnixNano()),
	}

	if err := l.norm.Ingest(context.Background(), rec, "dnslog"); err != nil {
		l.norm.logger.Warn("failed to ingest dns query record", "error", err)
	}
}
