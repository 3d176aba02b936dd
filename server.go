package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/miekg/dns"
	"go.uber.org/zap"
)

// newAdBlocker constructs the long-lived adBlocker value with an empty index and the configured
// overwrites; loading (bootstrap) and background goroutines (startBackgroundServices) are separate
// steps. Grounded on the teacher's NewDNSServer/createDNSServerInstance sequence.
func newAdBlocker(cfg *AppConfig, log *appLogger) (*adBlocker, error) {
	ab := &adBlocker{
		cfg:             cfg,
		nameservers:     cfg.Nameservers,
		overwrites:      make(map[string]*overwriteEntry),
		pendingRequests: make(map[string]*pendingRequest),
		client:          &dns.Client{Timeout: upstreamTimeout},
		httpClient:      newHTTPClientWithDNSFallback(cfg.Nameservers),
		overrides:       newOverridesStore(cfg.OverridesFilePath),
		log:             log,
	}
	ab.idx = newDomainIndex(cfg.StorageSize, cfg.MaxDomains)
	ab.loadProgress.Store("")
	ab.fileURL.Store(cfg.PrimaryBlocklistURL)

	for _, o := range cfg.Overwrites {
		cond, err := parseRestriction(o.Subnets, o.IPs)
		if err != nil {
			return nil, fmt.Errorf("invalid overwrite restriction for %s: %w", o.Domain, err)
		}
		ab.overwrites[formatDomain(o.Domain)] = &overwriteEntry{IP: o.IP, Cond: cond}
	}

	return ab, nil
}

// bootstrap runs the initial blocklist load, then replays the overrides file on top of it,
// mirroring the firmware's appSetup -> loadBlockList("Initial") -> loadCustom sequence. If no
// blocklist URL is configured yet, it does not fail: per spec.md §7 the process still comes up
// and waits on the admin interface, polling until a URL is provided, then loads unconditionally
// (spec.md §4.3) once one is.
func (ab *adBlocker) bootstrap(sink ProgressSink) error {
	ab.progress = sink
	if ab.progress == nil {
		ab.progress = noopProgressSink{}
	}

	if hasConfiguredSource(ab.defaultSources()) {
		if err := ab.loadBlockLists(ab.defaultSources()); err != nil {
			return fmt.Errorf("initial blocklist load: %w", err)
		}
	} else {
		ab.log.warnLog("no blocklist URL configured at boot, waiting on the admin interface")
		ab.progress.PublishStatus("WaitingForURL")
		go ab.waitForBlocklistURL()
	}

	lines, err := ab.overrides.replay()
	if err != nil {
		return fmt.Errorf("replaying overrides file: %w", err)
	}

	ab.idxMu.Lock()
	for _, l := range lines {
		if l.Deleted {
			ab.idx.delete(l.Domain)
		} else {
			ab.idx.insert(l.Domain, nil)
		}
	}
	ab.idxMu.Unlock()

	ab.log.infoLog("bootstrap complete",
		zap.Int("blocked_domains", ab.idx.count()),
		zap.Int("overwrites", len(ab.overwrites)),
		zap.Int("nameservers", len(ab.nameservers)))
	return nil
}

// hasConfiguredSource reports whether at least one load source carries a non-empty Source.
func hasConfiguredSource(sources []loadSource) bool {
	for _, s := range sources {
		if s.Source != "" {
			return true
		}
	}
	return false
}

// waitForBlocklistURL polls the bootstrap configuration until the admin interface sets a primary
// blocklist URL (via POST /config/fileURLc or POST /command/zLoad's optional url), then runs the
// initial load once and returns, per spec.md §7.
func (ab *adBlocker) waitForBlocklistURL() {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		sources := ab.defaultSources()
		if !hasConfiguredSource(sources) {
			continue
		}
		if err := ab.loadBlockLists(sources); err != nil {
			ab.log.errorLog("deferred initial blocklist load failed", zap.Error(err))
		}
		return
	}
}

// startBackgroundServices launches the goroutines that run for the lifetime of the process: the
// upstream cache sweep and the pending-request janitor, both grounded on the teacher's
// startCacheCleanup/startPendingRequestCleanup.
func (ab *adBlocker) startBackgroundServices(ctx context.Context) {
	go ab.runCacheSweep(ctx)
	go ab.runPendingCleanup(ctx)
}

// runCacheSweep periodically empties expired upstream cache slots. lookupCache already ignores an
// expired slot; the sweep only frees it before the ring overwrites it.
func (ab *adBlocker) runCacheSweep(ctx context.Context) {
	ticker := time.NewTicker(cacheTTL)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ab.cacheMu.Lock()
			now := time.Now()
			for i := range ab.cache {
				if ab.cache[i].hostname != "" && now.After(ab.cache[i].expiry) {
					ab.cache[i] = cacheEntry{}
				}
			}
			ab.cacheMu.Unlock()
		}
	}
}

// runPendingCleanup removes every pending-request entry that has no waiters, whether or not its
// leader is still in flight; a later identical query then starts its own upstream exchange.
func (ab *adBlocker) runPendingCleanup(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ab.pendingMu.Lock()
			for key, p := range ab.pendingRequests {
				p.mu.Lock()
				empty := len(p.waiters) == 0
				p.mu.Unlock()
				if empty {
					delete(ab.pendingRequests, key)
				}
			}
			ab.pendingMu.Unlock()
		}
	}
}

// serveDNS starts the UDP and TCP DNS listeners, blocking until either returns an error.
func (ab *adBlocker) serveDNS(addr string) error {
	errCh := make(chan error, 2)

	udpServer := &dns.Server{Addr: addr, Net: "udp", Handler: dns.HandlerFunc(ab.handleDNSRequest)}
	tcpServer := &dns.Server{Addr: addr, Net: "tcp", Handler: dns.HandlerFunc(ab.handleDNSRequest)}

	go func() { errCh <- udpServer.ListenAndServe() }()
	go func() { errCh <- tcpServer.ListenAndServe() }()

	ab.log.infoLog("DNS server listening", zap.String("addr", addr))
	return <-errCh
}

// newHTTPClientWithDNSFallback builds the *http.Client used for blocklist downloads and DoH
// upstreams, falling back to a direct nameserver query if the host's own DNS resolution is
// unavailable (the environment the firmware's sdploy-dns teacher was built for). Grounded on the
// teacher's createHTTPClientWithDNSFallback/createDialContextWithFallback. It carries no blanket
// Timeout: a blocklist download is bounded by its own inactivity timeout (blocklist.go's
// inactivityReader) and a DoH exchange by its own per-call context deadline (resolver.go), so an
// overall client deadline here would only wrongly kill a slow-but-progressing download.
func newHTTPClientWithDNSFallback(nameservers []NameserverConfig) *http.Client {
	fallback := nsAddress(nameservers, 0)

	transport := &http.Transport{
		TLSClientConfig: &tls.Config{MinVersion: tls.VersionTLS12},
	}

	if !checkDNSWorking() && fallback != "" {
		transport.DialContext = dialContextWithFallback(fallback)
	}

	return &http.Client{Transport: transport}
}

// dialContextWithFallback builds a DialContext that resolves via fallbackDNS before dialing.
func dialContextWithFallback(fallbackDNS string) func(ctx context.Context, network, addr string) (net.Conn, error) {
	return func(_ context.Context, network, addr string) (net.Conn, error) {
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, err
		}

		addrs, err := resolveHostWithFallback(host, fallbackDNS)
		if err != nil {
			return nil, fmt.Errorf("resolving %s: %w", host, err)
		}

		var lastErr error
		for _, ip := range addrs {
			conn, err := net.DialTimeout(network, net.JoinHostPort(ip, port), 10*time.Second)
			if err == nil {
				return conn, nil
			}
			lastErr = err
		}
		return nil, fmt.Errorf("connecting to %s: %w", addr, lastErr)
	}
}
