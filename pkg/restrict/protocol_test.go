package restrict

import "testing"

func TestTunnelProtocolFor(t *testing.T) {
	cases := []struct {
		proto LocalProtocol
		want  TunnelProtocol
	}{
		{ProtoTCP, TunnelTCP},
		{ProtoUDP, TunnelUDP},
		{ProtoStdio, TunnelUnknown},
		{ProtoSocks5, TunnelUnknown},
		{ProtoTProxyTCP, TunnelUnknown},
		{ProtoTProxyUDP, TunnelUnknown},
		{ProtoUnix, TunnelUnknown},
		{ProtoReverseTCP, TunnelUnknown},
		{ProtoReverseUDP, TunnelUnknown},
		{ProtoReverseSocks5, TunnelUnknown},
		{ProtoReverseUnix, TunnelUnknown},
	}
	for _, tc := range cases {
		if got := TunnelProtocolFor(tc.proto); got != tc.want {
			t.Errorf("TunnelProtocolFor(%s) = %s, want %s", tc.proto, got, tc.want)
		}
	}
}

func TestReverseProtocolFor(t *testing.T) {
	cases := []struct {
		proto LocalProtocol
		want  ReverseProtocol
	}{
		{ProtoReverseTCP, ReverseTCP},
		{ProtoReverseUDP, ReverseUDP},
		{ProtoReverseSocks5, ReverseSocks5},
		{ProtoReverseUnix, ReverseUnix},
		{ProtoTCP, ReverseUnknown},
		{ProtoUDP, ReverseUnknown},
		{ProtoStdio, ReverseUnknown},
		{ProtoSocks5, ReverseUnknown},
		{ProtoTProxyTCP, ReverseUnknown},
		{ProtoTProxyUDP, ReverseUnknown},
		{ProtoUnix, ReverseUnknown},
	}
	for _, tc := range cases {
		if got := ReverseProtocolFor(tc.proto); got != tc.want {
			t.Errorf("ReverseProtocolFor(%s) = %s, want %s", tc.proto, got, tc.want)
		}
	}
}

func TestParseLocalProtocol(t *testing.T) {
	for p := ProtoTCP; p <= ProtoReverseUnix; p++ {
		got, err := ParseLocalProtocol(p.String())
		if err != nil {
			t.Errorf("ParseLocalProtocol(%q): %v", p.String(), err)
			continue
		}
		if got != p {
			t.Errorf("ParseLocalProtocol(%q) = %v, want %v", p.String(), got, p)
		}
	}
	if _, err := ParseLocalProtocol("carrier-pigeon"); err == nil {
		t.Errorf("expected error for unknown protocol name")
	}
}
