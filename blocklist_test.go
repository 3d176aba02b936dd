package main

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseBlockListLineHostsFormat(t *testing.T) {
	domain, ok := parseBlockListLine("0.0.0.0 ads.example.com")
	require.True(t, ok)
	require.Equal(t, "ads.example.com", domain)

	domain, ok = parseBlockListLine("127.0.0.1 tracker.example.com # comment host")
	require.True(t, ok)
	require.Equal(t, "tracker.example.com", domain)
}

func TestParseBlockListLineAdblockFormat(t *testing.T) {
	domain, ok := parseBlockListLine("||ads.example.com^")
	require.True(t, ok)
	require.Equal(t, "ads.example.com", domain)

	domain, ok = parseBlockListLine("||ads.example.com^$third-party")
	require.True(t, ok)
	require.Equal(t, "ads.example.com", domain)
}

func TestParseBlockListLineRejectsCommentsAndBlanks(t *testing.T) {
	_, ok := parseBlockListLine("# just a comment")
	require.False(t, ok)

	_, ok = parseBlockListLine("! adblock comment")
	require.False(t, ok)

	_, ok = parseBlockListLine("   ")
	require.False(t, ok)
}

func TestProcessBlockListReaderMergesDomains(t *testing.T) {
	ab := &adBlocker{
		cfg:      &AppConfig{MaxDomLen: 100},
		progress: noopProgressSink{},
	}
	idx := newDomainIndex(8192, 1000)

	body := strings.NewReader(strings.Join([]string{
		"0.0.0.0 ads.example.com",
		"127.0.0.1 tracker.example.com",
		"||metrics.example.com^",
		"# comment",
	}, "\n"))

	count, err := ab.processBlockListReader(idx, body, nil)
	require.NoError(t, err)
	require.Equal(t, 3, count)

	for _, d := range []string{"ads.example.com", "tracker.example.com", "metrics.example.com"} {
		found, _ := idx.contains(d)
		require.True(t, found, "expected %s to be blocked", d)
	}
}

func TestProcessBlockListReaderStopsOnCancel(t *testing.T) {
	ab := &adBlocker{
		cfg:      &AppConfig{MaxDomLen: 100},
		progress: noopProgressSink{},
	}
	ab.stopLoad.Store(true)
	idx := newDomainIndex(8192, 1000)

	var lines []string
	for i := 0; i < progressCheckpoint+1; i++ {
		lines = append(lines, "0.0.0.0 d.example.com")
	}
	body := strings.NewReader(strings.Join(lines, "\n"))

	_, err := ab.processBlockListReader(idx, body, nil)
	require.Error(t, err)
	var lerr *loadError
	require.True(t, asLoadError(err, &lerr))
	require.Equal(t, KindCancelled, lerr.Kind)
}

func TestProcessBlockListReaderTruncatesOverLongLineInsteadOfAborting(t *testing.T) {
	ab := &adBlocker{
		cfg:      &AppConfig{MaxDomLen: 100},
		progress: noopProgressSink{},
		log:      mustTestLogger(t),
	}
	idx := newDomainIndex(8192, 1000)

	overLong := "0.0.0.0 ads.example.com " + strings.Repeat("x", maxLineLen*2)
	body := strings.NewReader(strings.Join([]string{
		overLong,
		"127.0.0.1 tracker.example.com",
	}, "\n"))

	count, err := ab.processBlockListReader(idx, body, nil)
	require.NoError(t, err, "an over-length line must truncate and continue, not abort the source")
	require.Equal(t, 2, count)

	found, _ := idx.contains("ads.example.com")
	require.True(t, found, "the domain preceding the truncation boundary must still parse")
	found, _ = idx.contains("tracker.example.com")
	require.True(t, found, "scanning must resume at the next line after a truncated one")
}

func TestIsURL(t *testing.T) {
	require.True(t, isURL("https://example.com/hosts.txt"))
	require.True(t, isURL("http://example.com/hosts.txt"))
	require.False(t, isURL("/var/lib/adblocker/hosts.txt"))
}
