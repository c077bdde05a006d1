// Package ipclass classifies printable IP addresses against the reserved
// ranges that decide whether an address is a candidate for geolocation.
// It is grounded on the teacher's ipexist package for its terse,
// never-panics, total-function style: classification always produces an
// answer, Invalid included, rather than an error.
package ipclass

import "net/netip"

// Class is one of the named reserved-range buckets, evaluated in a fixed
// first-match-wins order.
type Class int

const (
	Invalid Class = iota
	Unspecified
	Loopback
	LinkLocal
	Private
	CGNAT
	Documentation
	Benchmark
	Multicast
	Broadcast
	Reserved
	Public
)

func (c Class) String() string {
	switch c {
	case Unspecified:
		return "Unspecified"
	case Loopback:
		return "Loopback"
	case LinkLocal:
		return "LinkLocal"
	case Private:
		return "Private"
	case CGNAT:
		return "CGNAT"
	case Documentation:
		return "Documentation"
	case Benchmark:
		return "Benchmark"
	case Multicast:
		return "Multicast"
	case Broadcast:
		return "Broadcast"
	case Reserved:
		return "Reserved"
	case Public:
		return "Public"
	}
	return "Invalid"
}

// Result is the output of Classify.
type Result struct {
	Class           Class
	ShouldGeolocate bool
}

var (
	v4CGNAT         = netip.MustParsePrefix("100.64.0.0/10")
	v4Documentation = []netip.Prefix{
		netip.MustParsePrefix("192.0.2.0/24"),
		netip.MustParsePrefix("198.51.100.0/24"),
		netip.MustParsePrefix("203.0.113.0/24"),
	}
	v6Documentation = netip.MustParsePrefix("2001:db8::/32")
	v4Benchmark     = netip.MustParsePrefix("198.18.0.0/15")
	v4Multicast     = netip.MustParsePrefix("224.0.0.0/4")
	v6Multicast     = netip.MustParsePrefix("ff00::/8")
	v4Broadcast     = netip.MustParseAddr("255.255.255.255")
	v4Reserved      = netip.MustParsePrefix("240.0.0.0/4")

	v4Private = []netip.Prefix{
		netip.MustParsePrefix("10.0.0.0/8"),
		netip.MustParsePrefix("172.16.0.0/12"),
		netip.MustParsePrefix("192.168.0.0/16"),
	}
	v6Private   = netip.MustParsePrefix("fc00::/7")
	v4LinkLocal = netip.MustParsePrefix("169.254.0.0/16")
	v6LinkLocal = netip.MustParsePrefix("fe80::/10")
	v4Loopback  = netip.MustParsePrefix("127.0.0.0/8")
)

// Classify parses s and evaluates it against the reserved-range table in
// spec order, returning the first matched class. Parse failure yields
// Invalid and never panics.
func Classify(s string) Result {
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return Result{Class: Invalid}
	}
	return classifyAddr(addr)
}

func classifyAddr(addr netip.Addr) Result {
	// Re-project v4-mapped-v6 back into v4 space so the v4 table applies.
	unmapped := addr.Unmap()

	if unmapped.IsUnspecified() {
		return Result{Class: Unspecified}
	}
	if unmapped.Is4() {
		return classifyV4(unmapped)
	}
	return classifyV6(unmapped)
}

func classifyV4(addr netip.Addr) Result {
	if v4Loopback.Contains(addr) {
		return Result{Class: Loopback}
	}
	if v4LinkLocal.Contains(addr) {
		return Result{Class: LinkLocal}
	}
	for _, p := range v4Private {
		if p.Contains(addr) {
			return Result{Class: Private}
		}
	}
	if v4CGNAT.Contains(addr) {
		return Result{Class: CGNAT, ShouldGeolocate: true}
	}
	for _, p := range v4Documentation {
		if p.Contains(addr) {
			return Result{Class: Documentation}
		}
	}
	if v4Benchmark.Contains(addr) {
		return Result{Class: Benchmark}
	}
	if v4Multicast.Contains(addr) {
		return Result{Class: Multicast}
	}
	if addr == v4Broadcast {
		return Result{Class: Broadcast}
	}
	if v4Reserved.Contains(addr) {
		return Result{Class: Reserved}
	}
	return Result{Class: Public, ShouldGeolocate: true}
}

func classifyV6(addr netip.Addr) Result {
	if addr == netip.IPv6Loopback() {
		return Result{Class: Loopback}
	}
	if v6LinkLocal.Contains(addr) {
		return Result{Class: LinkLocal}
	}
	if v6Private.Contains(addr) {
		return Result{Class: Private}
	}
	if v6Documentation.Contains(addr) {
		return Result{Class: Documentation}
	}
	if v6Multicast.Contains(addr) {
		return Result{Class: Multicast}
	}
	return Result{Class: Public, ShouldGeolocate: true}
}
