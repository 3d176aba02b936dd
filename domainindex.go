package main

import (
	"sort"
	"strings"

	"github.com/bits-and-blooms/bloom/v3"
)

// sentinelName occupies storage offset 0 so that index 0 in ptrs is never a valid match (I3),
// mirroring the firmware's appSetup priming of storage[0] with "!".
const sentinelName = "!"

// newDomainIndex allocates a domainIndex sized from the bootstrap configuration. storageSize and
// maxDomains stand in for the firmware's ps_calloc arena sizes, which were themselves derived from
// heap_caps_get_largest_free_block at boot.
func newDomainIndex(storageSize, maxDomains int) *domainIndex {
	idx := &domainIndex{
		storage:      make([]byte, 2, storageSize), // sentinel byte plus its zero terminator
		ptrs:         make([]int, 1, maxDomains),
		restrictions: make(map[int]*restriction),
		maxDomains:   maxDomains,
		storageSize:  storageSize,
		filter:       bloom.NewWithEstimates(uint(maxDomains), bloomFalsePositiveRate),
	}
	idx.storage[0] = sentinelName[0]
	idx.ptrs[0] = 0
	idx.itemsLoaded = 1
	idx.filter.AddString(sentinelName)
	return idx
}

// nameAt returns the zero-terminated name stored at storage offset off.
func (idx *domainIndex) nameAt(off int) string {
	end := off
	for end < len(idx.storage) && idx.storage[end] != 0 {
		end++
	}
	return string(idx.storage[off:end])
}

// search performs a binary search over ptrs for name, returning the matching slot (found=true) or
// the insertion point that keeps ptrs sorted (found=false). This replaces the firmware's
// binarySearch(name, doUpdate), whose single overloaded zero return meant "found at index 0" and
// "not found, insert at 0" were indistinguishable (spec.md §9 Open Question). Tombstoned slots
// no longer carry their name, so a probe that lands on one moves right to the next live slot.
func (idx *domainIndex) search(name string) searchResult {
	lo, hi := 0, len(idx.ptrs)
	for lo < hi {
		mid := (lo + hi) / 2
		probe := mid
		for probe < hi && idx.storage[idx.ptrs[probe]] == 0 {
			probe++
		}
		if probe == hi {
			hi = mid
			continue
		}
		cand := idx.nameAt(idx.ptrs[probe])
		switch {
		case cand == name:
			return searchResult{pos: probe, found: true}
		case cand < name:
			lo = probe + 1
		default:
			hi = mid
		}
	}
	return searchResult{pos: lo, found: false}
}

// contains reports whether name is present (not tombstoned) in the index, and whether that entry
// carries a client restriction. The bloom filter is consulted first as a cheap negative
// pre-filter (spec.md §4.1); it is never authoritative for a positive match, and never consulted
// for deletion, since removals must also clear the exact tombstone slot.
func (idx *domainIndex) contains(name string) (bool, *restriction) {
	if !idx.filter.TestString(name) {
		return false, nil
	}
	res := idx.search(name)
	if !res.found || res.pos == 0 {
		return false, nil // absent, or the sentinel slot (I3)
	}
	off := idx.ptrs[res.pos]
	if idx.storage[off] == 0 {
		return false, nil // tombstoned (I4)
	}
	return true, idx.restrictions[off]
}

// isBlocked reports whether name or any of its parent domains is present in the index, walking
// labels from the most specific to least specific the way the teacher's isBlocked/matchesBlockEntry
// walks subdomains against blocklist entries (e.g. "ads.example.com" is blocked by an entry for
// "example.com"). The restriction returned, if any, belongs to the matching entry.
func (idx *domainIndex) isBlocked(name string) (bool, *restriction) {
	for cur := name; cur != ""; {
		if found, cond := idx.contains(cur); found {
			return true, cond
		}
		i := strings.IndexByte(cur, '.')
		if i < 0 {
			break
		}
		cur = cur[i+1:]
	}
	return false, nil
}

// insert adds name to the index if absent, appending its bytes to storage and splicing its
// offset into ptrs at the sorted position (the Go analogue of the firmware's memmove-shifted
// addDomain). Returns false without modifying the index if name is already present, at the
// maxDomains cap, or would overflow storage.
func (idx *domainIndex) insert(name string, cond *restriction) bool {
	res := idx.search(name)
	if res.found {
		// search never matches a tombstoned slot (nameAt reads "" past a zeroed byte), so a
		// previously deleted name always falls through to the append path below instead.
		idx.duplicates++
		return false
	}
	if len(idx.ptrs) >= idx.maxDomains {
		return false
	}
	needed := len(name) + 1
	if len(idx.storage)+needed > cap(idx.storage) {
		return false
	}

	off := len(idx.storage)
	idx.storage = append(idx.storage, []byte(name)...)
	idx.storage = append(idx.storage, 0)

	idx.ptrs = append(idx.ptrs, 0)
	copy(idx.ptrs[res.pos+1:], idx.ptrs[res.pos:len(idx.ptrs)-1])
	idx.ptrs[res.pos] = off

	if cond != nil {
		idx.restrictions[off] = cond
	}

	idx.itemsLoaded++
	idx.blocklistSize += needed
	idx.filter.AddString(name)
	return true
}

// delete tombstones name's storage slot by zeroing its leading byte (I4), leaving ptrs ordering
// untouched so subsequent searches still work. It does not clear the bloom filter bit, since
// bloom filters cannot support removal; contains() re-checks the tombstone byte so a stale
// positive never surfaces as a hit.
func (idx *domainIndex) delete(name string) bool {
	res := idx.search(name)
	if !res.found {
		return false
	}
	off := idx.ptrs[res.pos]
	if idx.storage[off] == 0 {
		return false
	}
	idx.storage[off] = 0
	delete(idx.restrictions, off)
	idx.itemsLoaded--
	return true
}

// formatDomain trims surrounding whitespace, lowercases, and strips a leading "www." label,
// mirroring the firmware's formatDomain/normalizeDomain behavior.
func formatDomain(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ToLower(s)
	s = strings.TrimPrefix(s, "www.")
	return s
}

// snapshot returns the currently live (non-tombstoned) names in sorted order, used by the admin
// showBL command.
func (idx *domainIndex) snapshot() []string {
	out := make([]string, 0, len(idx.ptrs))
	for _, off := range idx.ptrs[1:] {
		if idx.storage[off] == 0 {
			continue
		}
		out = append(out, idx.nameAt(off))
	}
	sort.Strings(out)
	return out
}

// count returns the number of live (non-tombstoned) entries, excluding the sentinel.
func (idx *domainIndex) count() int {
	n := 0
	for _, off := range idx.ptrs[1:] {
		if idx.storage[off] != 0 {
			n++
		}
	}
	return n
}
