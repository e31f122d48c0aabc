// Package restrict implements the access-control policy engine of the
// tunnel service: ordered, named restriction rules matched against each
// incoming tunnel request, deciding admit or deny with full protocol,
// port, host and CIDR semantics.
package restrict

import (
	"fmt"
	"net/netip"
	"regexp"
)

// PortRange is an inclusive [Lo, Hi] range of port numbers. A single
// port p is represented as [p, p].
type PortRange struct {
	Lo uint16
	Hi uint16
}

// Contains reports whether p falls inside the range, inclusive on both
// ends.
func (r PortRange) Contains(p uint16) bool {
	return p >= r.Lo && p <= r.Hi
}

func (r PortRange) String() string {
	if r.Lo == r.Hi {
		return fmt.Sprintf("%d", r.Lo)
	}
	return fmt.Sprintf("%d..%d", r.Lo, r.Hi)
}

// Matcher selects which requests a restriction rule governs. It is a
// closed union: MatchAny and MatchPathPrefix are the only
// implementations.
type Matcher interface {
	// Matches tests the request path.
	Matches(path string) bool
	String() string
}

// MatchAny matches every request.
type MatchAny struct{}

func (MatchAny) Matches(string) bool { return true }
func (MatchAny) String() string      { return "Any" }

// MatchPathPrefix matches when the request path begins with text
// matching the configured regex. The expression is anchored as a
// prefix test at compile time.
type MatchPathPrefix struct {
	re *regexp.Regexp
}

// PathPrefix compiles expr into a prefix-anchored path matcher.
func PathPrefix(expr string) (MatchPathPrefix, error) {
	re, err := regexp.Compile("^(?:" + expr + ")")
	if err != nil {
		return MatchPathPrefix{}, fmt.Errorf("restrict: invalid PathPrefix pattern %q: %w", expr, err)
	}
	return MatchPathPrefix{re: re}, nil
}

func (m MatchPathPrefix) Matches(path string) bool { return m.re.MatchString(path) }
func (m MatchPathPrefix) String() string           { return fmt.Sprintf("PathPrefix(%s)", m.re.String()) }

// Allow is one permission unit inside a rule. It is a closed union:
// AllowTunnel (forward) and AllowReverse are the only implementations.
type Allow interface {
	// permits tests the conjunction of all applicable predicates.
	// Entries of the other direction never match.
	permits(req Request) bool
	String() string
}

// AllowTunnel permits forward tunnels: the local client reaching an
// external destination through the service.
//
// An empty Protocols or Ports list is a wildcard. Host and CIDRs are
// filled with match-all defaults when the config omits them; an
// explicitly empty cidr list stays empty and matches no address.
type AllowTunnel struct {
	Protocols []TunnelProtocol
	Ports     []PortRange
	Host      *regexp.Regexp
	CIDRs     []netip.Prefix
}

func (a *AllowTunnel) String() string { return "Tunnel" }

// AllowReverse permits reverse tunnels: a remote peer reaching back
// through the service into the client network. Reverse tunnels are
// policed by source network, not destination hostname, so there is no
// host field.
type AllowReverse struct {
	Protocols []ReverseProtocol
	Ports     []PortRange
	CIDRs     []netip.Prefix
}

func (a *AllowReverse) String() string { return "ReverseTunnel" }

// Rule pairs a match predicate with an ordered list of allow entries.
// Name is for diagnostics and audit only, never a lookup key. A rule
// matches a request when any of its matchers matches; rules with an
// empty matcher list are rejected at load time.
type Rule struct {
	Name  string
	Match []Matcher
	Allow []Allow
}

// matches reports whether any matcher of the rule matches the path.
func (r *Rule) matches(path string) bool {
	for _, m := range r.Match {
		if m.Matches(path) {
			return true
		}
	}
	return false
}

// Set is the ordered top-level rule list. It is built once from
// configuration, immutable afterwards, and safe for unsynchronized
// concurrent evaluation.
type Set struct {
	Rules []Rule
}

// DefaultHost is the host pattern used when a Tunnel entry omits the
// host field. It matches every hostname.
func DefaultHost() *regexp.Regexp {
	return regexp.MustCompile("^.*$")
}

// DefaultCIDRs is the network list used when an allow entry omits the
// cidr field: all of IPv4 and all of IPv6.
func DefaultCIDRs() []netip.Prefix {
	return []netip.Prefix{
		netip.PrefixFrom(netip.IPv4Unspecified(), 0),
		netip.PrefixFrom(netip.IPv6Unspecified(), 0),
	}
}
