package main

import (
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/miekg/dns"
)

// NameserverConfig is one upstream resolver in the configured failover pool.
type NameserverConfig struct {
	Address  string `koanf:"address" validate:"required"`
	Protocol string `koanf:"protocol"` // udp, tcp, dot, doh
	Port     int    `koanf:"port"`
}

// restriction optionally scopes a blocked or overridden domain to a set of clients (§4.1a). A
// zero-value restriction (no IPs, no subnets) matches every client, the spec's default.
type restriction struct {
	IPs     []net.IP
	Subnets []*net.IPNet
}

// matches reports whether clientIP satisfies r.
func (r *restriction) matches(clientIP net.IP) bool {
	if r == nil || (len(r.IPs) == 0 && len(r.Subnets) == 0) {
		return true
	}
	if clientIP == nil {
		return false
	}
	for _, ip := range r.IPs {
		if ip.Equal(clientIP) {
			return true
		}
	}
	for _, subnet := range r.Subnets {
		if subnet.Contains(clientIP) {
			return true
		}
	}
	return false
}

// overwriteEntry is a DNS overwrite: an IP to answer with, optionally scoped by restriction.
type overwriteEntry struct {
	IP   string
	Cond *restriction
}

// cacheEntry is one slot of the fixed-size upstream resolver cache ring (spec.md §3).
type cacheEntry struct {
	hostname string
	ip       net.IP
	expiry   time.Time
}

// pendingRequest coalesces concurrent queries for the same question behind one upstream
// round-trip (teacher's forward.go pattern, generalized across protocols).
type pendingRequest struct {
	waiters []chan *dns.Msg
	mu      sync.Mutex
}

// searchResult is the outcome of a domainIndex.search call: either the position of an existing
// entry (found) or the position at which a new one should be inserted (not found). This replaces
// the original firmware's overloaded-zero-return design flagged in spec.md §9.
type searchResult struct {
	pos   int
	found bool
}

// domainIndex is the arena-backed, sorted set of blocked domain names (spec.md §3/§4.1).
// storage holds zero-terminated names in arrival order; ptrs holds offsets into storage kept in
// lexicographic order of the pointed-to name. Entry 0 is always the sentinel "!" so that index 0
// is never a valid hit (I3). Deleted entries are tombstoned by zeroing their first byte (I4).
type domainIndex struct {
	storage       []byte
	ptrs          []int
	restrictions  map[int]*restriction // keyed by ptrs offset, for conditional blocking (§4.1a)
	itemsLoaded   int
	blocklistSize int
	duplicates    int
	filter        *bloom.BloomFilter
	maxDomains    int
	storageSize   int
}

// httpDoer is the subset of *http.Client the blocklist loader and DoH forwarder need; narrowed
// for testability.
type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// adBlocker is the single long-lived value that replaces the original firmware's global mutable
// statics and the teacher's DNSServer struct (Design Notes §9 "Global mutable state").
type adBlocker struct {
	cfg *AppConfig

	idxMu sync.RWMutex // single-writer-priority lock: loader/overrides write, DNS loop reads
	idx   *domainIndex

	overwrites   map[string]*overwriteEntry
	overwritesMu sync.RWMutex

	nameservers   []NameserverConfig
	nameserverIdx atomic.Uint64

	cacheMu    sync.Mutex
	cache      [cacheSize]cacheEntry
	cacheIndex int

	lastBlockedDomain string // DNS-worker-only, no synchronization (spec.md §5)

	blockCnt atomic.Uint32
	allowCnt atomic.Uint32

	downloading  atomic.Bool
	stopLoad     atomic.Bool
	loadProgress atomic.Value // string
	fileURL      atomic.Value // string

	pendingMu       sync.Mutex
	pendingRequests map[string]*pendingRequest

	client     *dns.Client
	httpClient httpDoer

	overrides *overridesStore
	progress  ProgressSink
	log       *appLogger
}
