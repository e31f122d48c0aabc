package restrict

import "net/netip"

// Direction of the tunnel request being evaluated.
type Direction int

const (
	Forward Direction = iota
	Reverse
)

func (d Direction) String() string {
	if d == Reverse {
		return "reverse"
	}
	return "forward"
}

// Request describes one connection attempt. Path is the logical path
// of the incoming connection (e.g. the upgrade handshake path) used for
// rule selection. Host is the requested destination hostname (forward
// only). Addr is the destination address for forward tunnels and the
// source address for reverse tunnels.
type Request struct {
	Direction Direction
	Protocol  LocalProtocol
	Path      string
	Host      string
	Port      uint16
	Addr      netip.Addr
}

// DenyReason distinguishes the two normal deny outcomes for audit.
// Deny is a first-class decision, not a failure.
type DenyReason int

const (
	ReasonAllowed DenyReason = iota
	ReasonNoMatchingRule
	ReasonNoAllowRuleMatched
)

func (r DenyReason) String() string {
	switch r {
	case ReasonAllowed:
		return "Allowed"
	case ReasonNoMatchingRule:
		return "NoMatchingRule"
	default:
		return "NoAllowRuleMatched"
	}
}

// Decision is the terminal outcome of one evaluation. Rule is the name
// of the governing rule, empty when no rule matched.
type Decision struct {
	Allowed bool
	Reason  DenyReason
	Rule    string
}

// Evaluate selects the governing rule for req and tests req against
// that rule's allow list.
//
// Rule selection is strictly first-match-wins: the first rule whose
// matcher disjunction succeeds on the request path governs, even if a
// later rule would have been more permissive. Within the governing
// rule, allow entries are tested in order and the first satisfying
// entry wins. A governing rule with no satisfying allow entry denies
// the request; it still consumed the first-match slot.
//
// Evaluate is a pure function of (s, req): no mutation, no I/O, always
// terminates after a bounded number of predicate tests. Concurrent
// calls against one Set need no synchronization.
func (s *Set) Evaluate(req Request) Decision {
	for i := range s.Rules {
		rule := &s.Rules[i]
		if !rule.matches(req.Path) {
			continue
		}
		for _, allow := range rule.Allow {
			if allow.permits(req) {
				return Decision{Allowed: true, Reason: ReasonAllowed, Rule: rule.Name}
			}
		}
		return Decision{Reason: ReasonNoAllowRuleMatched, Rule: rule.Name}
	}
	return Decision{Reason: ReasonNoMatchingRule}
}

func (a *AllowTunnel) permits(req Request) bool {
	if req.Direction != Forward {
		return false
	}
	if !tunnelProtocolAllowed(a.Protocols, TunnelProtocolFor(req.Protocol)) {
		return false
	}
	if !portAllowed(a.Ports, req.Port) {
		return false
	}
	if a.Host != nil && !a.Host.MatchString(req.Host) {
		return false
	}
	return cidrAllowed(a.CIDRs, req.Addr)
}

func (a *AllowReverse) permits(req Request) bool {
	if req.Direction != Reverse {
		return false
	}
	if !reverseProtocolAllowed(a.Protocols, ReverseProtocolFor(req.Protocol)) {
		return false
	}
	if !portAllowed(a.Ports, req.Port) {
		return false
	}
	return cidrAllowed(a.CIDRs, req.Addr)
}

// portAllowed reports whether p lies in at least one range. An empty
// range list is a wildcard.
func portAllowed(ranges []PortRange, p uint16) bool {
	if len(ranges) == 0 {
		return true
	}
	for _, r := range ranges {
		if r.Contains(p) {
			return true
		}
	}
	return false
}

// cidrAllowed reports whether addr falls inside at least one prefix.
// Address families never cross: an IPv4 address is not contained by an
// IPv6 prefix and vice versa. Unlike ports, an empty prefix list
// matches nothing; the match-all behavior of an omitted cidr field
// comes from the loader filling DefaultCIDRs.
func cidrAllowed(cidrs []netip.Prefix, addr netip.Addr) bool {
	for _, c := range cidrs {
		if c.Contains(addr) {
			return true
		}
	}
	return false
}

func tunnelProtocolAllowed(allowed []TunnelProtocol, p TunnelProtocol) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if a == p {
			return true
		}
	}
	return false
}

func reverseProtocolAllowed(allowed []ReverseProtocol, p ReverseProtocol) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if a == p {
			return true
		}
	}
	return false
}
