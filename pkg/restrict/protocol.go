package restrict

import "fmt"

// LocalProtocol identifies how a tunnel endpoint is realized by the
// transport layer. It is the richer vocabulary the service speaks
// internally; policy only understands the coarser TunnelProtocol and
// ReverseProtocol projections below.
type LocalProtocol int

const (
	ProtoTCP LocalProtocol = iota
	ProtoUDP
	ProtoStdio
	ProtoSocks5
	ProtoTProxyTCP
	ProtoTProxyUDP
	ProtoUnix
	ProtoReverseTCP
	ProtoReverseUDP
	ProtoReverseSocks5
	ProtoReverseUnix
)

func (p LocalProtocol) String() string {
	switch p {
	case ProtoTCP:
		return "tcp"
	case ProtoUDP:
		return "udp"
	case ProtoStdio:
		return "stdio"
	case ProtoSocks5:
		return "socks5"
	case ProtoTProxyTCP:
		return "tproxy-tcp"
	case ProtoTProxyUDP:
		return "tproxy-udp"
	case ProtoUnix:
		return "unix"
	case ProtoReverseTCP:
		return "reverse-tcp"
	case ProtoReverseUDP:
		return "reverse-udp"
	case ProtoReverseSocks5:
		return "reverse-socks5"
	case ProtoReverseUnix:
		return "reverse-unix"
	default:
		return "invalid"
	}
}

// ParseLocalProtocol parses the textual form produced by
// LocalProtocol.String. Used by the inspection surfaces (eval
// subcommand, admin dry-run endpoint).
func ParseLocalProtocol(s string) (LocalProtocol, error) {
	for p := ProtoTCP; p <= ProtoReverseUnix; p++ {
		if p.String() == s {
			return p, nil
		}
	}
	return 0, fmt.Errorf("restrict: unknown protocol %q", s)
}

// TunnelProtocol is the protocol vocabulary of forward-tunnel allow
// entries. An empty protocol list on an allow entry is the only
// wildcard: Unknown is a real, reachable value and must be listed
// explicitly for policy to admit it.
type TunnelProtocol int

const (
	TunnelUnknown TunnelProtocol = iota
	TunnelTCP
	TunnelUDP
)

func (p TunnelProtocol) String() string {
	switch p {
	case TunnelTCP:
		return "Tcp"
	case TunnelUDP:
		return "Udp"
	default:
		return "Unknown"
	}
}

// ReverseProtocol is the protocol vocabulary of reverse-tunnel allow
// entries.
type ReverseProtocol int

const (
	ReverseUnknown ReverseProtocol = iota
	ReverseTCP
	ReverseUDP
	ReverseSocks5
	ReverseUnix
)

func (p ReverseProtocol) String() string {
	switch p {
	case ReverseTCP:
		return "Tcp"
	case ReverseUDP:
		return "Udp"
	case ReverseSocks5:
		return "Socks5"
	case ReverseUnix:
		return "Unix"
	default:
		return "Unknown"
	}
}

// TunnelProtocolFor projects a transport protocol into the
// forward-tunnel policy vocabulary. Everything that has no
// forward-tunnel meaning collapses to TunnelUnknown.
//
// The projection is parameterized by direction on purpose: the same
// LocalProtocol value projects differently depending on which allow
// variant is being tested, so callers must pick TunnelProtocolFor or
// ReverseProtocolFor explicitly rather than infer it from the value.
func TunnelProtocolFor(p LocalProtocol) TunnelProtocol {
	switch p {
	case ProtoTCP:
		return TunnelTCP
	case ProtoUDP:
		return TunnelUDP
	default:
		return TunnelUnknown
	}
}

// ReverseProtocolFor projects a transport protocol into the
// reverse-tunnel policy vocabulary.
func ReverseProtocolFor(p LocalProtocol) ReverseProtocol {
	switch p {
	case ProtoReverseTCP:
		return ReverseTCP
	case ProtoReverseUDP:
		return ReverseUDP
	case ProtoReverseSocks5:
		return ReverseSocks5
	case ProtoReverseUnix:
		return ReverseUnix
	default:
		return ReverseUnknown
	}
}
