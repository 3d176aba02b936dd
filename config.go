package main

import (
	"fmt"
	"net"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// BlocklistSourceConfig is one blocklist input (file path or URL), optionally scoped to a subnet
// or IP list per §4.1a.
type BlocklistSourceConfig struct {
	Source  string   `koanf:"source" validate:"required"`
	Subnets []string `koanf:"subnets"`
	IPs     []string `koanf:"ips"`
}

// OverwriteSourceConfig is one bootstrap DNS overwrite entry, optionally scoped.
type OverwriteSourceConfig struct {
	Domain  string   `koanf:"domain" validate:"required"`
	IP      string   `koanf:"ip" validate:"required,ip"`
	Subnets []string `koanf:"subnets"`
	IPs     []string `koanf:"ips"`
}

// AppConfig is the bootstrap configuration, distinct from the admin-mutable keys of spec.md §6
// (SPEC_FULL.md §3 "Bootstrap Configuration"). It is loaded once at startup from defaults, an
// optional YAML file, and environment variable overrides, then validated.
type AppConfig struct {
	Env      string `koanf:"env" validate:"required,oneof=dev prod"`
	LogLevel string `koanf:"log_level" validate:"required,oneof=debug info warn error"`

	ListenAddr string `koanf:"listen_addr" validate:"required"`

	Nameservers []NameserverConfig `koanf:"nameservers" validate:"required,min=1,dive"`

	MaxDomains  int `koanf:"max_domains" validate:"required,gt=0"`
	StorageSize int `koanf:"storage_size" validate:"required,gt=0"`
	MinMemory   int `koanf:"min_memory" validate:"gte=0"`
	MaxDomLen   int `koanf:"max_dom_len" validate:"required,gt=0,lt=256"`

	AlarmHour int    `koanf:"alarm_hour" validate:"gte=0,lte=23"`
	Timezone  string `koanf:"timezone" validate:"required"`

	// PrimaryBlocklistURL may be empty at boot: spec.md §7 requires the process to come up and
	// wait on the admin interface for a URL rather than exit when one isn't configured yet.
	PrimaryBlocklistURL string                  `koanf:"primary_blocklist_url" validate:"omitempty,url"`
	BlockLists          []BlocklistSourceConfig `koanf:"block_lists"`
	Overwrites          []OverwriteSourceConfig `koanf:"overwrites"`

	OverridesFilePath string `koanf:"overrides_file" validate:"required"`

	AdminListenAddr string `koanf:"admin_listen_addr" validate:"required"`

	LogBlocks     bool `koanf:"log_blocks"`
	LogOverwrites bool `koanf:"log_overwrites"`
}

// defaultAppConfig mirrors the firmware's appConfig defaults table (original_source/appSpecific.cpp)
// and the teacher's zero-value fallbacks in main.go.
var defaultAppConfig = AppConfig{
	Env:      "prod",
	LogLevel: "info",

	ListenAddr: ":53",

	Nameservers: []NameserverConfig{
		{Address: "1.1.1.1", Protocol: protocolUDP, Port: 53},
		{Address: "8.8.8.8", Protocol: protocolUDP, Port: 53},
	},

	MaxDomains:  200000,
	StorageSize: 16 * 1024 * 1024,
	MinMemory:   128 * 1024,
	MaxDomLen:   100,

	AlarmHour: 4,
	Timezone:  "UTC",

	PrimaryBlocklistURL: "https://raw.githubusercontent.com/StevenBlack/hosts/master/hosts",

	OverridesFilePath: "/data/custom.txt",
	AdminListenAddr:   "127.0.0.1:8080",
}

// parseNameserverPort applies protocol-based default ports, mirroring the teacher's
// parseNameserverFromMap behavior.
func parseNameserverPort(ns *NameserverConfig) {
	if ns.Protocol == "" {
		ns.Protocol = protocolUDP
	}
	ns.Protocol = strings.ToLower(ns.Protocol)
	if ns.Port == 0 {
		switch ns.Protocol {
		case protocolDOT:
			ns.Port = 853
		case protocolDOH:
			ns.Port = 443
		default:
			ns.Port = 53
		}
	}
}

// loadConfig builds an AppConfig by layering defaults, an optional YAML file, and "ADBLOCK_"
// prefixed environment variables, then validates the result. Grounded on
// haukened-rr-dns/internal/dns/config/config.go's koanf defaults→file→env pipeline.
func loadConfig(path string) (*AppConfig, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultAppConfig, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("error loading default config: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error loading config file %s: %w", path, err)
		}
	}

	envProvider := env.Provider(".", env.Opt{
		Prefix: "ADBLOCK_",
		TransformFunc: func(key, value string) (string, any) {
			key = strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(key, "ADBLOCK_")), "__", ".")
			return key, strings.TrimSpace(value)
		},
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("error loading env config: %w", err)
	}

	var cfg AppConfig
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}

	for i := range cfg.Nameservers {
		parseNameserverPort(&cfg.Nameservers[i])
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// parseSubnet parses a CIDR subnet string, treating a bare IP as a /32.
func parseSubnet(subnetStr string) (*net.IPNet, error) {
	if !strings.Contains(subnetStr, "/") {
		subnetStr += "/32"
	}
	_, ipNet, err := net.ParseCIDR(subnetStr)
	return ipNet, err
}

// parseRestriction builds a restriction from raw subnet/IP strings, returning nil when both are
// empty so the result means "unrestricted" rather than "matches nothing".
func parseRestriction(subnets, ips []string) (*restriction, error) {
	if len(subnets) == 0 && len(ips) == 0 {
		return nil, nil
	}
	r := &restriction{}
	for _, s := range ips {
		if ip := net.ParseIP(s); ip != nil {
			r.IPs = append(r.IPs, ip)
		}
	}
	for _, s := range subnets {
		n, err := parseSubnet(s)
		if err != nil {
			return nil, fmt.Errorf("invalid subnet %s: %w", s, err)
		}
		r.Subnets = append(r.Subnets, n)
	}
	return r, nil
}
