package restrict

import (
	"fmt"
	"net/netip"
	"os"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// The YAML document shape mirrors the restrictions file of the tunnel
// server:
//
//	restrictions:
//	  - name: api
//	    match:
//	      - PathPrefix: "/api"
//	    allow:
//	      - Tunnel:
//	          protocol: [Tcp]
//	          port: ["8080", "1000..2000"]
//	          host: "^internal\\."
//	          cidr: ["10.0.0.0/8"]
//	      - ReverseTunnel:
//	          protocol: [Socks5]
//
// All fallibility lives here: regexes are compiled, port ranges and
// CIDRs parsed, and structural invariants checked during load, so the
// evaluator can assume a well-formed Set.
//
// Defaulting convention: defaults fill omitted fields only. An omitted
// or explicitly empty protocol/port list evaluates as a wildcard. An
// omitted host becomes ^.*$ and an omitted cidr becomes
// [0.0.0.0/0, ::/0], but an explicit `cidr: []` stays empty and
// therefore matches no address at all - a deliberate deny.

type fileConfig struct {
	Restrictions []ruleConfig `yaml:"restrictions"`
}

type ruleConfig struct {
	Name  string        `yaml:"name"`
	Match []matchConfig `yaml:"match"`
	Allow []allowConfig `yaml:"allow"`
}

// matchConfig decodes the match union: the scalar `Any` or a
// single-key mapping `PathPrefix: "<regex>"`.
type matchConfig struct {
	m Matcher
}

func (c *matchConfig) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		if node.Value == "Any" {
			c.m = MatchAny{}
			return nil
		}
		return fmt.Errorf("restrict: unknown match predicate %q", node.Value)
	case yaml.MappingNode:
		var raw map[string]string
		if err := node.Decode(&raw); err != nil {
			return fmt.Errorf("restrict: invalid match entry: %w", err)
		}
		expr, ok := raw["PathPrefix"]
		if !ok || len(raw) != 1 {
			return fmt.Errorf("restrict: match entry must be Any or PathPrefix")
		}
		m, err := PathPrefix(expr)
		if err != nil {
			return err
		}
		c.m = m
		return nil
	default:
		return fmt.Errorf("restrict: invalid match entry")
	}
}

// allowConfig decodes the allow union: a single-key mapping of either
// `Tunnel: {...}` or `ReverseTunnel: {...}`.
type allowConfig struct {
	a Allow
}

func (c *allowConfig) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode || len(node.Content) != 2 {
		return fmt.Errorf("restrict: allow entry must be Tunnel or ReverseTunnel")
	}
	key := node.Content[0].Value
	body := node.Content[1]
	switch key {
	case "Tunnel":
		var tc tunnelConfig
		if err := body.Decode(&tc); err != nil {
			return fmt.Errorf("restrict: invalid Tunnel entry: %w", err)
		}
		a, err := tc.build()
		if err != nil {
			return err
		}
		c.a = a
		return nil
	case "ReverseTunnel":
		var rc reverseTunnelConfig
		if err := body.Decode(&rc); err != nil {
			return fmt.Errorf("restrict: invalid ReverseTunnel entry: %w", err)
		}
		a, err := rc.build()
		if err != nil {
			return err
		}
		c.a = a
		return nil
	default:
		return fmt.Errorf("restrict: unknown allow variant %q", key)
	}
}

type tunnelConfig struct {
	Protocol []string `yaml:"protocol"`
	Port     []string `yaml:"port"`
	Host     *string  `yaml:"host"`
	Cidr     []string `yaml:"cidr"`
}

func (c *tunnelConfig) build() (*AllowTunnel, error) {
	a := &AllowTunnel{}
	for _, p := range c.Protocol {
		tp, err := parseTunnelProtocol(p)
		if err != nil {
			return nil, err
		}
		a.Protocols = append(a.Protocols, tp)
	}
	ports, err := parsePortRanges(c.Port)
	if err != nil {
		return nil, err
	}
	a.Ports = ports
	if c.Host == nil {
		a.Host = DefaultHost()
	} else {
		re, err := regexp.Compile(*c.Host)
		if err != nil {
			return nil, fmt.Errorf("restrict: invalid host pattern %q: %w", *c.Host, err)
		}
		a.Host = re
	}
	cidrs, err := parseCIDRs(c.Cidr)
	if err != nil {
		return nil, err
	}
	a.CIDRs = cidrs
	return a, nil
}

type reverseTunnelConfig struct {
	Protocol []string `yaml:"protocol"`
	Port     []string `yaml:"port"`
	Cidr     []string `yaml:"cidr"`
}

func (c *reverseTunnelConfig) build() (*AllowReverse, error) {
	a := &AllowReverse{}
	for _, p := range c.Protocol {
		rp, err := parseReverseProtocol(p)
		if err != nil {
			return nil, err
		}
		a.Protocols = append(a.Protocols, rp)
	}
	ports, err := parsePortRanges(c.Port)
	if err != nil {
		return nil, err
	}
	a.Ports = ports
	cidrs, err := parseCIDRs(c.Cidr)
	if err != nil {
		return nil, err
	}
	a.CIDRs = cidrs
	return a, nil
}

func parseTunnelProtocol(s string) (TunnelProtocol, error) {
	switch s {
	case "Tcp":
		return TunnelTCP, nil
	case "Udp":
		return TunnelUDP, nil
	case "Unknown":
		return TunnelUnknown, nil
	default:
		return 0, fmt.Errorf("restrict: unknown tunnel protocol %q", s)
	}
}

func parseReverseProtocol(s string) (ReverseProtocol, error) {
	switch s {
	case "Tcp":
		return ReverseTCP, nil
	case "Udp":
		return ReverseUDP, nil
	case "Socks5":
		return ReverseSocks5, nil
	case "Unix":
		return ReverseUnix, nil
	case "Unknown":
		return ReverseUnknown, nil
	default:
		return 0, fmt.Errorf("restrict: unknown reverse tunnel protocol %q", s)
	}
}

// parsePortRange parses a single decimal port or an inclusive
// "<low>..<high>" range.
func parsePortRange(s string) (PortRange, error) {
	if lo, hi, found := strings.Cut(s, ".."); found {
		l, err := strconv.ParseUint(lo, 10, 16)
		if err != nil {
			return PortRange{}, fmt.Errorf("restrict: invalid port range %q: %w", s, err)
		}
		h, err := strconv.ParseUint(hi, 10, 16)
		if err != nil {
			return PortRange{}, fmt.Errorf("restrict: invalid port range %q: %w", s, err)
		}
		if l > h {
			return PortRange{}, fmt.Errorf("restrict: invalid port range %q: low above high", s)
		}
		return PortRange{Lo: uint16(l), Hi: uint16(h)}, nil
	}
	p, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return PortRange{}, fmt.Errorf("restrict: invalid port %q: %w", s, err)
	}
	return PortRange{Lo: uint16(p), Hi: uint16(p)}, nil
}

func parsePortRanges(ss []string) ([]PortRange, error) {
	if len(ss) == 0 {
		return nil, nil
	}
	ranges := make([]PortRange, 0, len(ss))
	for _, s := range ss {
		r, err := parsePortRange(s)
		if err != nil {
			return nil, err
		}
		ranges = append(ranges, r)
	}
	return ranges, nil
}

// parseCIDRs keeps the omitted-vs-empty distinction: a nil slice
// (field absent) gets the match-all defaults, a non-nil empty slice
// (explicit `cidr: []`) stays empty.
func parseCIDRs(ss []string) ([]netip.Prefix, error) {
	if ss == nil {
		return DefaultCIDRs(), nil
	}
	cidrs := make([]netip.Prefix, 0, len(ss))
	for _, s := range ss {
		c, err := netip.ParsePrefix(s)
		if err != nil {
			return nil, fmt.Errorf("restrict: invalid cidr %q: %w", s, err)
		}
		cidrs = append(cidrs, c)
	}
	return cidrs, nil
}

// Parse decodes and validates a restrictions document. Any structural
// or syntactic problem is a load error; nothing is deferred to
// evaluation time.
func Parse(data []byte) (*Set, error) {
	var cfg fileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("restrict: %w", err)
	}
	set := &Set{Rules: make([]Rule, 0, len(cfg.Restrictions))}
	for i, rc := range cfg.Restrictions {
		if rc.Name == "" {
			return nil, fmt.Errorf("restrict: rule %d has no name", i)
		}
		if len(rc.Match) == 0 {
			return nil, fmt.Errorf("restrict: rule %q has an empty match list", rc.Name)
		}
		rule := Rule{Name: rc.Name}
		for _, mc := range rc.Match {
			rule.Match = append(rule.Match, mc.m)
		}
		for _, ac := range rc.Allow {
			rule.Allow = append(rule.Allow, ac.a)
		}
		set.Rules = append(set.Rules, rule)
	}
	return set, nil
}

// LoadFile reads and parses the restrictions file at path.
func LoadFile(path string) (*Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("restrict: failed to read %s: %w", path, err)
	}
	set, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return set, nil
}
