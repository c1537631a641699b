package helpers

import (
	"net/netip"
	"testing"
)

func TestClassifyAddr(t *testing.T) {
	tests := []struct {
		name     string
		addr     string
		expected AddrClassification
	}{
		{"IPv4 unspecified", "0.0.0.0", AddrClassificationUnspecified},
		{"IPv6 unspecified", "::", AddrClassificationUnspecified},

		{"IPv4 loopback 127.0.0.1", "127.0.0.1", AddrClassificationLoopback},
		{"IPv4 loopback 127.255.255.255", "127.255.255.255", AddrClassificationLoopback},
		{"IPv6 loopback", "::1", AddrClassificationLoopback},

		{"IPv4 link-local", "169.254.0.1", AddrClassificationLinkLocal},
		{"IPv6 link-local unicast", "fe80::1", AddrClassificationLinkLocal},
		{"IPv6 link-local multicast", "ff02::1", AddrClassificationLinkLocal},

		{"IPv4 private 10.x", "10.0.0.1", AddrClassificationPrivate},
		{"IPv4 private 172.16.x", "172.16.0.1", AddrClassificationPrivate},
		{"IPv4 private 172.31.x", "172.31.255.254", AddrClassificationPrivate},
		{"IPv4 private 192.168.x", "192.168.1.1", AddrClassificationPrivate},
		{"IPv6 ULA fd00::", "fd00::1", AddrClassificationPrivate},
		{"IPv4-mapped private", "::ffff:10.0.0.1", AddrClassificationPrivate},

		{"IPv4 public", "8.8.8.8", AddrClassificationPublic},
		{"IPv4 172.32 is public", "172.32.0.1", AddrClassificationPublic},
		{"IPv6 public", "2001:4860:4860::8888", AddrClassificationPublic},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			addr, err := netip.ParseAddr(tt.addr)
			if err != nil {
				t.Fatalf("ParseAddr(%q) error = %v", tt.addr, err)
			}
			if got := ClassifyAddr(addr); got != tt.expected {
				t.Errorf("ClassifyAddr(%s) = %v, want %v", tt.addr, got, tt.expected)
			}
		})
	}
}

func TestClassifyAddr_Zero(t *testing.T) {
	if got := ClassifyAddr(netip.Addr{}); got != AddrClassificationUnspecified {
		t.Errorf("ClassifyAddr(zero) = %v, want %v", got, AddrClassificationUnspecified)
	}
}

func TestIsPublicAddr(t *testing.T) {
	if !IsPublicAddr(netip.MustParseAddr("1.2.3.4")) {
		t.Error("1.2.3.4 should be public")
	}
	if IsPublicAddr(netip.MustParseAddr("192.168.0.10")) {
		t.Error("192.168.0.10 should not be public")
	}
}

func TestAddrClassification_String(t *testing.T) {
	tests := []struct {
		c    AddrClassification
		want string
	}{
		{AddrClassificationPublic, "public"},
		{AddrClassificationLoopback, "loopback"},
		{AddrClassificationPrivate, "private"},
		{AddrClassificationLinkLocal, "link_local"},
		{AddrClassificationUnspecified, "unspecified"},
		{AddrClassification(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.c.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestSafeTruncate(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		maxLen int
		want   string
	}{
		{"shorter than maxLen", "short", 10, "short"},
		{"equal to maxLen", "exactly10c", 10, "exactly10c"},
		{"longer than maxLen", "this-is-a-very-long-string", 8, "this-is-"},
		{"empty string", "", 5, ""},
		{"zero maxLen", "abc", 0, ""},
		{"negative maxLen", "abc", -1, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SafeTruncate(tt.input, tt.maxLen); got != tt.want {
				t.Errorf("SafeTruncate(%q, %d) = %q, want %q", tt.input, tt.maxLen, got, tt.want)
			}
		})
	}
}
