package main

import (
	"fmt"
	"net"
	"time"

	"github.com/miekg/dns"
)

// checkDNSWorking verifies outbound DNS resolution is functional, used at startup before the
// first blocklist load is attempted.
func checkDNSWorking() bool {
	_, err := net.LookupHost("google.com")
	return err == nil
}

// resolveHostWithFallback resolves host via system DNS, falling back to a direct query against
// fallbackDNS (e.g. a configured nameserver) if the system resolver fails. Grounded on the
// teacher's utils.go resolveHostWithFallback, used by the admin uLoad command to validate a
// domain before adding it as a custom override, and by the fallback dialer in server.go.
func resolveHostWithFallback(host string, fallbackDNS string) ([]string, error) {
	addrs, err := net.LookupHost(host)
	if err == nil {
		return addrs, nil
	}
	if fallbackDNS == "" {
		return nil, err
	}

	client := &dns.Client{Timeout: 5 * time.Second}
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(host), dns.TypeA)

	resp, _, err := client.Exchange(msg, net.JoinHostPort(fallbackDNS, "53"))
	if err != nil {
		return nil, fmt.Errorf("fallback DNS resolution failed: %w", err)
	}
	if resp.Rcode != dns.RcodeSuccess {
		return nil, fmt.Errorf("DNS query failed with Rcode %d", resp.Rcode)
	}

	var out []string
	for _, answer := range resp.Answer {
		if a, ok := answer.(*dns.A); ok {
			out = append(out, a.A.String())
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no A records found for %s", host)
	}
	return out, nil
}
