package main

import (
	"net"
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"
)

func TestNormalizeDomainLowercasesAndStripsRootDot(t *testing.T) {
	require.Equal(t, "example.com", normalizeDomain("Example.Com."))
	require.Equal(t, "example.com", normalizeDomain("example.com"))
}

// fakeResponseWriter is a minimal dns.ResponseWriter that records the last written message,
// grounded on the teacher's in-process handler tests style (no real socket needed).
type fakeResponseWriter struct {
	remote  net.Addr
	written *dns.Msg
}

func (f *fakeResponseWriter) LocalAddr() net.Addr       { return f.remote }
func (f *fakeResponseWriter) RemoteAddr() net.Addr      { return f.remote }
func (f *fakeResponseWriter) WriteMsg(m *dns.Msg) error { f.written = m; return nil }
func (f *fakeResponseWriter) Write([]byte) (int, error) { return 0, nil }
func (f *fakeResponseWriter) Close() error              { return nil }
func (f *fakeResponseWriter) TsigStatus() error         { return nil }
func (f *fakeResponseWriter) TsigTimersOnly(bool)       {}
func (f *fakeResponseWriter) Hijack()                   {}

func newFakeWriter(clientIP string) *fakeResponseWriter {
	return &fakeResponseWriter{remote: &net.UDPAddr{IP: net.ParseIP(clientIP), Port: 5353}}
}

func TestHandleDNSRequestBlocksKnownDomain(t *testing.T) {
	ab := &adBlocker{
		cfg:        &AppConfig{MaxDomLen: 100},
		overwrites: map[string]*overwriteEntry{},
		log:        mustTestLogger(t),
	}
	ab.idx = newDomainIndex(8192, 1000)
	ab.idx.insert("ads.example.com", nil)

	req := new(dns.Msg)
	req.SetQuestion("ads.example.com.", dns.TypeA)
	w := newFakeWriter("192.168.1.10")

	ab.handleDNSRequest(w, req)

	require.NotNil(t, w.written)
	require.Len(t, w.written.Answer, 1)
	a, ok := w.written.Answer[0].(*dns.A)
	require.True(t, ok)
	require.Equal(t, sinkAddr, a.A.String())
}

func TestHandleDNSRequestHotPathShortCircuitsRepeatedBlock(t *testing.T) {
	ab := &adBlocker{
		cfg:               &AppConfig{MaxDomLen: 100},
		overwrites:        map[string]*overwriteEntry{},
		log:               mustTestLogger(t),
		lastBlockedDomain: "ads.example.com",
	}
	ab.idx = newDomainIndex(8192, 1000) // empty: this request is only blocked via the hot path

	req := new(dns.Msg)
	req.SetQuestion("ads.example.com.", dns.TypeA)
	w := newFakeWriter("192.168.1.10")

	ab.handleDNSRequest(w, req)

	require.NotNil(t, w.written)
	require.EqualValues(t, 1, ab.blockCnt.Load())
}

func TestHandleDNSRequestAppliesOverwrite(t *testing.T) {
	ab := &adBlocker{
		cfg: &AppConfig{MaxDomLen: 100},
		overwrites: map[string]*overwriteEntry{
			"router.example.com": {IP: "10.0.0.1"},
		},
		log: mustTestLogger(t),
	}
	ab.idx = newDomainIndex(8192, 1000)

	req := new(dns.Msg)
	req.SetQuestion("router.example.com.", dns.TypeA)
	w := newFakeWriter("192.168.1.10")

	ab.handleDNSRequest(w, req)

	require.NotNil(t, w.written)
	require.Len(t, w.written.Answer, 1)
	a, ok := w.written.Answer[0].(*dns.A)
	require.True(t, ok)
	require.Equal(t, "10.0.0.1", a.A.String())
}

func TestHandleDNSRequestSinksLinkLocalWithoutForwarding(t *testing.T) {
	ab := &adBlocker{
		cfg:        &AppConfig{MaxDomLen: 100},
		overwrites: map[string]*overwriteEntry{},
		log:        mustTestLogger(t),
	}
	ab.idx = newDomainIndex(8192, 1000)

	req := new(dns.Msg)
	req.SetQuestion("wpad.", dns.TypeA)
	w := newFakeWriter("192.168.1.10")

	ab.handleDNSRequest(w, req)

	require.NotNil(t, w.written)
	require.Len(t, w.written.Answer, 1)
	a, ok := w.written.Answer[0].(*dns.A)
	require.True(t, ok)
	require.Equal(t, sinkAddr, a.A.String())
	require.EqualValues(t, 1, ab.blockCnt.Load())
	require.EqualValues(t, 0, ab.allowCnt.Load())
}

func mustTestLogger(t *testing.T) *appLogger {
	t.Helper()
	log, err := newAppLogger("dev", "error", false, false)
	require.NoError(t, err)
	return log
}
