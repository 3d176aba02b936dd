package main

import "time"

// Upstream transport protocols for a configured nameserver.
const (
	protocolUDP = "udp"
	protocolTCP = "tcp"
	protocolDOT = "dot"
	protocolDOH = "doh"
)

const (
	// sinkAddr is returned for any domain classified as blocked.
	sinkAddr = "0.0.0.0"

	// cacheSize is the number of round-robin slots in the upstream resolver cache.
	cacheSize = 20

	// cacheTTL is the fixed validity window of an upstream cache entry. The upstream's own
	// record TTL is deliberately ignored to avoid parsing DNS records in the cache layer.
	cacheTTL = 5 * time.Minute

	// maxHostnameLen bounds a cached hostname, mirroring the firmware's MAX_HOSTNAME.
	maxHostnameLen = 255

	// maxLineLen bounds a single line read from a downloaded blocklist.
	maxLineLen = 1024

	// progressCheckpoint is the input-line interval at which the loader checks memory
	// headroom and publishes download progress.
	progressCheckpoint = 1000

	// readTimeout is the inactivity timeout on a blocklist download stream.
	readTimeout = 10 * time.Second

	// retryBackoff is the delay between retries of a failed blocklist download.
	retryBackoff = 30 * time.Second

	// pendingRequestTimeout bounds how long a coalesced query waits for the leader request.
	pendingRequestTimeout = 10 * time.Second

	// upstreamTimeout bounds a single upstream exchange attempt.
	upstreamTimeout = 5 * time.Second

	// bloomFalsePositiveRate is the target false-positive rate of the Domain Index prefilter.
	bloomFalsePositiveRate = 0.01
)

// Progress strings published to the loadProg admin key.
const (
	progressComplete = "Complete"
	progressStopped  = "Stopped"
	progressFailed   = "Failed"
)
