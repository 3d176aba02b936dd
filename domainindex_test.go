package main

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDomainIndexSentinelNeverMatches(t *testing.T) {
	idx := newDomainIndex(4096, 100)
	found, _ := idx.contains(sentinelName)
	require.False(t, found, "sentinel entry must never be a valid hit")
}

func TestDomainIndexInsertAndContains(t *testing.T) {
	idx := newDomainIndex(4096, 100)

	require.True(t, idx.insert("ads.example.com", nil))
	found, _ := idx.contains("ads.example.com")
	require.True(t, found)

	found, _ = idx.contains("notblocked.example.com")
	require.False(t, found)
}

func TestDomainIndexInsertKeepsPtrsSorted(t *testing.T) {
	idx := newDomainIndex(4096, 100)
	names := []string{"zeta.com", "alpha.com", "mid.com", "beta.com"}
	for _, n := range names {
		require.True(t, idx.insert(n, nil))
	}

	var prev string
	for i, off := range idx.ptrs {
		if i == 0 {
			continue // sentinel
		}
		name := idx.nameAt(off)
		require.True(t, prev == "" || prev < name, "ptrs must remain lexicographically sorted")
		prev = name
	}
}

func TestDomainIndexDuplicateInsertRejected(t *testing.T) {
	idx := newDomainIndex(4096, 100)
	require.True(t, idx.insert("example.com", nil))
	require.False(t, idx.insert("example.com", nil))
	require.Equal(t, 1, idx.duplicates)
}

func TestDomainIndexDeleteTombstonesEntry(t *testing.T) {
	idx := newDomainIndex(4096, 100)
	idx.insert("example.com", nil)

	require.True(t, idx.delete("example.com"))
	found, _ := idx.contains("example.com")
	require.False(t, found, "deleted entry must not be reported as present")

	require.False(t, idx.delete("example.com"), "deleting an already-tombstoned entry is a no-op")
}

func TestDomainIndexReinsertAfterDeleteAppendsNewEntry(t *testing.T) {
	idx := newDomainIndex(4096, 100)
	idx.insert("example.com", nil)
	oldOff := idx.ptrs[idx.search("example.com").pos]
	idx.delete("example.com")

	// search never matches a tombstoned slot, so the reinsert takes the ordinary append path
	// and lands at a fresh storage offset rather than resurrecting the old one.
	require.True(t, idx.insert("example.com", nil))
	found, _ := idx.contains("example.com")
	require.True(t, found)

	newOff := idx.ptrs[idx.search("example.com").pos]
	require.NotEqual(t, oldOff, newOff)
}

func TestDomainIndexIsBlockedWalksSubdomains(t *testing.T) {
	idx := newDomainIndex(4096, 100)
	idx.insert("example.com", nil)

	blocked, _ := idx.isBlocked("ads.example.com")
	require.True(t, blocked)

	blocked, _ = idx.isBlocked("example.com.evil.com")
	require.False(t, blocked, "a suffix match must not be confused with a parent-domain match")
}

func TestDomainIndexRespectsMaxDomainsCap(t *testing.T) {
	idx := newDomainIndex(4096, 2) // sentinel + 1 slot
	require.True(t, idx.insert("first.com", nil))
	require.False(t, idx.insert("second.com", nil), "insert beyond maxDomains must fail")
}

func TestDomainIndexRestrictionScoping(t *testing.T) {
	idx := newDomainIndex(4096, 100)
	cond, err := parseRestriction(nil, []string{"10.0.0.5"})
	require.NoError(t, err)
	idx.insert("restricted.com", cond)

	_, gotCond := idx.contains("restricted.com")
	require.NotNil(t, gotCond)
	require.True(t, gotCond.matches(mustParseIP(t, "10.0.0.5")))
	require.False(t, gotCond.matches(mustParseIP(t, "10.0.0.6")))
}
