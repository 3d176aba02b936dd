package main

import (
	"context"
	"net"
	"strings"

	"github.com/miekg/dns"
	"go.uber.org/zap"
)

// handleDNSRequest is the DNS Serving Loop of spec.md §4.5: hot-path last-blocked-domain
// short-circuit, index classification, override lookup, then upstream forwarding. Grounded on
// the teacher's handler.go ordering (cache → block → overwrite → forward), generalized with the
// client-restriction check from SPEC_FULL.md §4.1a.
func (ab *adBlocker) handleDNSRequest(w dns.ResponseWriter, r *dns.Msg) {
	if len(r.Question) == 0 {
		dns.HandleFailed(w, r)
		return
	}

	q := r.Question[0]
	clientIP := getClientIP(w)
	domain := normalizeDomain(q.Name)

	// Hot-path: repeat queries for the domain that was just blocked skip straight to the sink
	// without touching the index, mirroring checkBlocklist's static blockedDomain strcmp fast path
	// in original_source/appSpecific.cpp.
	if domain != "" && domain == ab.lastBlockedDomain {
		ab.writeSink(w, r)
		ab.blockCnt.Add(1)
		return
	}

	// Link-local discovery names are always sinkholed, never forwarded upstream (spec.md §4.4).
	if isLinkLocal(domain) {
		ab.blockCnt.Add(1)
		ab.writeSink(w, r)
		return
	}

	ab.idxMu.RLock()
	blocked, cond := ab.idx.isBlocked(domain)
	ab.idxMu.RUnlock()

	if blocked && cond.matches(clientIP) {
		ab.lastBlockedDomain = domain
		ab.blockCnt.Add(1)
		ab.log.logBlock("blocked", zap.String("domain", domain), zap.String("client", clientIP.String()))
		ab.writeSink(w, r)
		return
	}

	ab.overwritesMu.RLock()
	ov, exists := ab.overwrites[domain]
	ab.overwritesMu.RUnlock()

	if exists && ov.Cond.matches(clientIP) {
		ab.allowCnt.Add(1)
		ab.log.logOverwrite("overwrite", zap.String("domain", domain), zap.String("ip", ov.IP))
		ab.writeOverwrite(w, r, ov.IP)
		return
	}

	ab.allowCnt.Add(1)
	ab.forward(w, r, domain, clientIP)
}

// writeSink answers r with the sink address for a blocked domain.
func (ab *adBlocker) writeSink(w dns.ResponseWriter, r *dns.Msg) {
	msg := new(dns.Msg)
	msg.SetReply(r)
	msg.Authoritative = true
	rr := &dns.A{
		Hdr: dns.RR_Header{Name: r.Question[0].Name, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 300},
		A:   net.ParseIP(sinkAddr),
	}
	msg.Answer = append(msg.Answer, rr)
	if err := w.WriteMsg(msg); err != nil {
		ab.log.errorLog("writing sink response", zap.Error(err))
	}
}

// writeOverwrite answers r with the configured override IP.
func (ab *adBlocker) writeOverwrite(w dns.ResponseWriter, r *dns.Msg, ip string) {
	msg := new(dns.Msg)
	msg.SetReply(r)
	msg.Authoritative = true
	rr := &dns.A{
		Hdr: dns.RR_Header{Name: r.Question[0].Name, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 300},
		A:   net.ParseIP(ip),
	}
	msg.Answer = append(msg.Answer, rr)
	if err := w.WriteMsg(msg); err != nil {
		ab.log.errorLog("writing overwrite response", zap.Error(err))
	}
}

// forward resolves domain upstream and writes the result, or SERVFAIL on failure.
func (ab *adBlocker) forward(w dns.ResponseWriter, r *dns.Msg, domain string, clientIP net.IP) {
	ctx, cancel := context.WithTimeout(context.Background(), upstreamTimeout)
	defer cancel()

	resp, err := ab.resolveUpstream(ctx, r)
	if err != nil {
		ab.log.errorLog("upstream resolve failed", zap.String("domain", domain), zap.Error(err))
		msg := new(dns.Msg)
		msg.SetReply(r)
		msg.SetRcode(r, dns.RcodeServerFailure)
		_ = w.WriteMsg(msg)
		return
	}
	if err := w.WriteMsg(resp); err != nil {
		ab.log.errorLog("writing forwarded response", zap.Error(err))
	}
}

// getClientIP extracts the requesting client's IP from the DNS transport connection, grounded on
// the teacher's utils.go getClientIP.
func getClientIP(w dns.ResponseWriter) net.IP {
	addr := w.RemoteAddr()
	switch a := addr.(type) {
	case *net.UDPAddr:
		return a.IP
	case *net.TCPAddr:
		return a.IP
	default:
		host, _, err := net.SplitHostPort(addr.String())
		if err != nil {
			return nil
		}
		return net.ParseIP(host)
	}
}

// normalizeDomain strips the trailing root dot and lowercases a query name, mirroring the
// teacher's sync.Map-interned normalizeDomain. Interning is skipped here since Go's string
// interning value is marginal compared to the teacher's embedded-target memory pressure.
func normalizeDomain(name string) string {
	return strings.ToLower(strings.TrimSuffix(name, "."))
}
