package main

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsLinkLocal(t *testing.T) {
	require.True(t, isLinkLocal("wpad"))
	require.True(t, isLinkLocal("printer.home"))
	require.True(t, isLinkLocal("nas.local"))
	require.False(t, isLinkLocal("example.com"))
}

func TestCacheRoundRobinEviction(t *testing.T) {
	ab := &adBlocker{}

	for i := 0; i < cacheSize; i++ {
		ab.storeCache(hostN(i), net.ParseIP("10.0.0.1"))
	}
	// Every slot is now occupied; one more write must evict slot 0 regardless of its hit count.
	ab.storeCache("new.example.com", net.ParseIP("10.0.0.2"))

	_, found := ab.lookupCache(hostN(0))
	require.False(t, found, "oldest slot must be evicted by the next write, not by LRU recency")

	ip, found := ab.lookupCache("new.example.com")
	require.True(t, found)
	require.True(t, ip.Equal(net.ParseIP("10.0.0.2")))
}

func TestCacheLookupMiss(t *testing.T) {
	ab := &adBlocker{}
	_, found := ab.lookupCache("never-cached.example.com")
	require.False(t, found)
}

func hostN(i int) string {
	return string(rune('a'+i%26)) + ".example.com"
}
