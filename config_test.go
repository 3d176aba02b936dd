package main

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigAppliesDefaultsWithoutFile(t *testing.T) {
	cfg, err := loadConfig("")
	require.NoError(t, err)
	require.Equal(t, defaultAppConfig.ListenAddr, cfg.ListenAddr)
	require.Equal(t, defaultAppConfig.AlarmHour, cfg.AlarmHour)
	require.Len(t, cfg.Nameservers, 2)
}

func TestLoadConfigDefaultNameserverPortsFilledIn(t *testing.T) {
	cfg, err := loadConfig("")
	require.NoError(t, err)
	for _, ns := range cfg.Nameservers {
		require.Equal(t, 53, ns.Port)
		require.Equal(t, protocolUDP, ns.Protocol)
	}
}

func TestParseNameserverPortDefaultsByProtocol(t *testing.T) {
	ns := NameserverConfig{Address: "1.1.1.1", Protocol: protocolDOT}
	parseNameserverPort(&ns)
	require.Equal(t, 853, ns.Port)

	ns = NameserverConfig{Address: "1.1.1.1", Protocol: protocolDOH}
	parseNameserverPort(&ns)
	require.Equal(t, 443, ns.Port)
}

func TestParseRestrictionNilWhenEmpty(t *testing.T) {
	r, err := parseRestriction(nil, nil)
	require.NoError(t, err)
	require.Nil(t, r)
}

func TestParseRestrictionMatchesSubnet(t *testing.T) {
	r, err := parseRestriction([]string{"192.168.1.0/24"}, nil)
	require.NoError(t, err)
	require.True(t, r.matches(mustParseIP(t, "192.168.1.42")))
	require.False(t, r.matches(mustParseIP(t, "10.0.0.1")))
}

func TestParseSubnetTreatsBareIPAsSlash32(t *testing.T) {
	n, err := parseSubnet("192.168.1.5")
	require.NoError(t, err)
	require.Equal(t, "192.168.1.5/32", n.String())
}
