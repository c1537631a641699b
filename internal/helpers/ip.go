package helpers

import "net/netip"

// AddrClassification represents the routing classification of a client address.
// The identity resolver uses it to decide whether an address alone is specific
// enough to key a quota bucket.
type AddrClassification int

const (
	// AddrClassificationPublic indicates a publicly routable address.
	AddrClassificationPublic AddrClassification = iota
	// AddrClassificationLoopback indicates a loopback address (127.0.0.0/8, ::1).
	AddrClassificationLoopback
	// AddrClassificationPrivate indicates a private address (RFC 1918, ULA).
	AddrClassificationPrivate
	// AddrClassificationLinkLocal indicates a link-local address (169.254.x.x, fe80::/10).
	AddrClassificationLinkLocal
	// AddrClassificationUnspecified indicates an unspecified or invalid address (0.0.0.0, ::).
	AddrClassificationUnspecified
)

// String returns a human-readable name for the classification.
func (c AddrClassification) String() string {
	switch c {
	case AddrClassificationPublic:
		return "public"
	case AddrClassificationLoopback:
		return "loopback"
	case AddrClassificationPrivate:
		return "private"
	case AddrClassificationLinkLocal:
		return "link_local"
	case AddrClassificationUnspecified:
		return "unspecified"
	default:
		return "unknown"
	}
}

// ClassifyAddr returns the classification of addr.
//
// IPv4-mapped IPv6 addresses (::ffff:10.0.0.1) are classified by their IPv4 form
// so that a proxy rewriting the address family cannot move a caller out of the
// private bucket.
//
// Classifications:
//   - Unspecified: 0.0.0.0, ::, and the zero netip.Addr
//   - Loopback: 127.0.0.0/8, ::1
//   - LinkLocal: 169.254.0.0/16, fe80::/10, ff02::/16
//   - Private: 10/8, 172.16/12, 192.168/16, fc00::/7
//   - Public: everything else
func ClassifyAddr(addr netip.Addr) AddrClassification {
	if !addr.IsValid() {
		return AddrClassificationUnspecified
	}
	addr = addr.Unmap()

	switch {
	case addr.IsUnspecified():
		return AddrClassificationUnspecified
	case addr.IsLoopback():
		return AddrClassificationLoopback
	case addr.IsLinkLocalUnicast(), addr.IsLinkLocalMulticast():
		return AddrClassificationLinkLocal
	case addr.IsPrivate():
		return AddrClassificationPrivate
	}
	return AddrClassificationPublic
}

// IsPublicAddr reports whether addr is publicly routable.
func IsPublicAddr(addr netip.Addr) bool {
	return ClassifyAddr(addr) == AddrClassificationPublic
}

// SafeTruncate truncates s to at most maxLen bytes without panicking.
// A negative maxLen yields an empty string.
func SafeTruncate(s string, maxLen int) string {
	if maxLen < 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}
