package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/miekg/dns"
	"go.uber.org/zap"
)

// linkLocalSuffixes are domain suffixes that must never be forwarded upstream, mirroring the
// firmware's resolveDomain wpad/.home/.local guard in original_source/externalDNS.cpp.
var linkLocalSuffixes = []string{"wpad", ".home", ".local"}

// isLinkLocal reports whether name matches one of the suffixes that are resolved, if at all, only
// by the local network and never sent to an upstream resolver.
func isLinkLocal(name string) bool {
	name = strings.TrimSuffix(name, ".")
	for _, suf := range linkLocalSuffixes {
		if name == suf || strings.HasSuffix(name, suf) {
			return true
		}
	}
	return false
}

// lookupCache scans the fixed-size round-robin cache ring for a live, unexpired entry.
func (ab *adBlocker) lookupCache(hostname string) (net.IP, bool) {
	ab.cacheMu.Lock()
	defer ab.cacheMu.Unlock()

	now := time.Now()
	for i := range ab.cache {
		e := ab.cache[i]
		if e.hostname == hostname && now.Before(e.expiry) {
			return e.ip, true
		}
	}
	return nil, false
}

// storeCache writes a fresh entry into the next round-robin slot, evicting whatever occupied it.
// This is a fixed-size ring, not an LRU: the next write always advances the index regardless of
// hit frequency (spec.md Testable Property #3), mirroring the firmware's
// `cacheIndex = (cacheIndex+1) % CACHE_SIZE`.
func (ab *adBlocker) storeCache(hostname string, ip net.IP) {
	if len(hostname) > maxHostnameLen {
		return
	}
	ab.cacheMu.Lock()
	defer ab.cacheMu.Unlock()

	ab.cache[ab.cacheIndex] = cacheEntry{
		hostname: hostname,
		ip:       ip,
		expiry:   time.Now().Add(cacheTTL),
	}
	ab.cacheIndex = (ab.cacheIndex + 1) % cacheSize
}

// resolveUpstream answers req by checking the cache ring, then coalescing concurrent identical
// queries behind a single upstream round-trip, failing over across the configured nameserver pool
// in configured order (original_source/externalDNS.cpp's ST_ns1/ST_ns2 failover, generalized to
// an arbitrary pool and to UDP/TCP/DoT/DoH transports per SPEC_FULL.md §4.4).
func (ab *adBlocker) resolveUpstream(ctx context.Context, req *dns.Msg) (*dns.Msg, error) {
	if len(req.Question) == 0 {
		return nil, fmt.Errorf("empty question section")
	}
	q := req.Question[0]
	key := fmt.Sprintf("%s|%d|%d", q.Name, q.Qtype, q.Qclass)

	if q.Qtype == dns.TypeA {
		if ip, ok := ab.lookupCache(q.Name); ok {
			resp := new(dns.Msg)
			resp.SetReply(req)
			resp.Answer = append(resp.Answer, &dns.A{
				Hdr: dns.RR_Header{Name: q.Name, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: uint32(cacheTTL.Seconds())},
				A:   ip,
			})
			return resp, nil
		}
	}

	leader, ch := ab.joinOrLeadPending(key)
	if !leader {
		select {
		case resp := <-ch:
			if resp == nil {
				return nil, fmt.Errorf("upstream query failed for %s", q.Name)
			}
			out := resp.Copy()
			out.Id = req.Id
			return out, nil
		case <-time.After(pendingRequestTimeout):
			return nil, fmt.Errorf("timed out waiting for coalesced upstream query for %s", q.Name)
		}
	}

	resp, err := ab.forwardWithFailover(ctx, req)
	ab.notifyPending(key, resp)
	if err != nil {
		return nil, err
	}

	if q.Qtype == dns.TypeA && resp != nil {
		for _, rr := range resp.Answer {
			if a, ok := rr.(*dns.A); ok {
				ab.storeCache(q.Name, a.A)
				break
			}
		}
	}
	return resp, nil
}

// joinOrLeadPending registers the caller as either the leader (who performs the upstream exchange)
// or a waiter (who blocks on the leader's result), generalizing the teacher's forward.go
// pendingRequests coalescing map across all transports.
func (ab *adBlocker) joinOrLeadPending(key string) (leader bool, waiter chan *dns.Msg) {
	ab.pendingMu.Lock()
	defer ab.pendingMu.Unlock()

	if p, ok := ab.pendingRequests[key]; ok {
		ch := make(chan *dns.Msg, 1)
		p.mu.Lock()
		p.waiters = append(p.waiters, ch)
		p.mu.Unlock()
		return false, ch
	}

	ab.pendingRequests[key] = &pendingRequest{}
	return true, nil
}

// notifyPending delivers resp to every waiter registered under key and clears the entry.
func (ab *adBlocker) notifyPending(key string, resp *dns.Msg) {
	ab.pendingMu.Lock()
	p, ok := ab.pendingRequests[key]
	if ok {
		delete(ab.pendingRequests, key)
	}
	ab.pendingMu.Unlock()
	if !ok {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, ch := range p.waiters {
		ch <- resp
		close(ch)
	}
}

// forwardWithFailover tries each configured nameserver in order, starting from the primary, until
// one answers, mirroring the firmware's primary/secondary failover in resolveDomain.
func (ab *adBlocker) forwardWithFailover(ctx context.Context, req *dns.Msg) (*dns.Msg, error) {
	if len(ab.nameservers) == 0 {
		return nil, fmt.Errorf("no nameservers configured")
	}

	var lastErr error
	for _, ns := range ab.nameservers {
		resp, err := ab.forwardToNameserver(ctx, req, ns)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		ab.log.debugLog("nameserver failed, trying next", zap.String("nameserver", ns.Address), zap.Error(err))
	}
	return nil, fmt.Errorf("all nameservers failed: %w", lastErr)
}

// forwardToNameserver dispatches req to ns over its configured protocol, retrying over TCP if a
// UDP exchange comes back truncated (dns.Msg.Truncated), the way the teacher's
// handleTruncatedResponse does.
func (ab *adBlocker) forwardToNameserver(ctx context.Context, req *dns.Msg, ns NameserverConfig) (*dns.Msg, error) {
	switch ns.Protocol {
	case protocolDOH:
		return ab.forwardDOH(ctx, req, ns)
	case protocolDOT:
		return ab.forwardDOT(req, ns)
	case protocolTCP:
		return ab.forwardPlain(req, ns, "tcp")
	default:
		resp, err := ab.forwardPlain(req, ns, "udp")
		if err != nil {
			return nil, err
		}
		if resp.Truncated {
			return ab.forwardPlain(req, ns, "tcp")
		}
		return resp, nil
	}
}

// forwardPlain exchanges req with ns over UDP or TCP using the shared *dns.Client.
func (ab *adBlocker) forwardPlain(req *dns.Msg, ns NameserverConfig, network string) (*dns.Msg, error) {
	c := &dns.Client{Net: network, Timeout: upstreamTimeout}
	addr := net.JoinHostPort(ns.Address, fmt.Sprintf("%d", ns.Port))
	resp, _, err := c.Exchange(req, addr)
	if err != nil {
		return nil, fmt.Errorf("exchange with %s over %s: %w", addr, network, err)
	}
	return resp, nil
}

// forwardDOT exchanges req with ns over DNS-over-TLS.
func (ab *adBlocker) forwardDOT(req *dns.Msg, ns NameserverConfig) (*dns.Msg, error) {
	c := &dns.Client{Net: "tcp-tls", Timeout: upstreamTimeout}
	addr := net.JoinHostPort(ns.Address, fmt.Sprintf("%d", ns.Port))
	resp, _, err := c.Exchange(req, addr)
	if err != nil {
		return nil, fmt.Errorf("DoT exchange with %s: %w", addr, err)
	}
	return resp, nil
}

// forwardDOH exchanges req with ns over DNS-over-HTTPS, preferring a binary POST and falling back
// to the GET+base64url form if the server rejects POST, grounded on the teacher's
// forwardDOH/buildDOHRequest/tryDOHGet.
func (ab *adBlocker) forwardDOH(ctx context.Context, req *dns.Msg, ns NameserverConfig) (*dns.Msg, error) {
	packed, err := req.Pack()
	if err != nil {
		return nil, fmt.Errorf("packing DoH request: %w", err)
	}

	url := fmt.Sprintf("https://%s/dns-query", ns.Address)

	ctx, cancel := context.WithTimeout(ctx, upstreamTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(string(packed)))
	if err != nil {
		return nil, fmt.Errorf("building DoH POST request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/dns-message")
	httpReq.Header.Set("Accept", "application/dns-message")

	resp, err := ab.httpClient.Do(httpReq)
	if err != nil || resp.StatusCode != http.StatusOK {
		return ab.tryDOHGet(ctx, url, packed)
	}
	defer resp.Body.Close()

	return parseDOHResponse(resp.Body)
}

// tryDOHGet issues the GET+base64url fallback form of a DoH query.
func (ab *adBlocker) tryDOHGet(ctx context.Context, url string, packed []byte) (*dns.Msg, error) {
	encoded := base64.RawURLEncoding.EncodeToString(packed)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url+"?dns="+encoded, nil)
	if err != nil {
		return nil, fmt.Errorf("building DoH GET request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/dns-message")

	resp, err := ab.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("DoH GET exchange: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, newProtocolError(resp.StatusCode, "DoH GET returned non-200")
	}
	return parseDOHResponse(resp.Body)
}

func parseDOHResponse(body io.Reader) (*dns.Msg, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("reading DoH response body: %w", err)
	}
	msg := new(dns.Msg)
	if err := msg.Unpack(data); err != nil {
		return nil, fmt.Errorf("unpacking DoH response: %w", err)
	}
	return msg, nil
}
