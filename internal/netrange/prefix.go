package netrange

import (
	"net/netip"
	"strings"
)

// Number of leading segments forming a local network group (/24 and /48)
const (
	v4Segments = 3
	v6Segments = 3
)

// Prefix is a locally derived network group for an address that matched no
// catalogued range
type Prefix struct {
	Group  string `json:"g"`
	Name   string `json:"name"`
	From   string `json:"from"`
	To     string `json:"to"`
	Family string `json:"typ"`
}

// PrefixOf returns the /24 (IPv4) or /48 (IPv6) network group of ip.
// The boolean is false for addresses that cannot be parsed.
func PrefixOf(ip string) (Prefix, bool) {
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		return Prefix{}, false
	}
	addr = addr.Unmap().WithZone("")
	norm := Normalize(addr.String())

	if addr.Is4() {
		segs := strings.Split(norm, ".")[:v4Segments]
		raw := strings.Join(segs, ".")
		b := addr.As4()
		name := netip.AddrFrom4([4]byte{b[0], b[1], b[2], 0}).String()
		return Prefix{
			Group:  "ip4-" + strings.Join(segs, "-"),
			Name:   strings.TrimSuffix(name, "0") + "x",
			From:   raw + ".000",
			To:     raw + ".255",
			Family: FamilyV4,
		}, true
	}

	segs := strings.Split(norm, ":")[:v6Segments]
	raw := strings.Join(segs, ":")
	tail := 8 - v6Segments
	short := make([]string, v6Segments)
	for i, s := range segs {
		short[i] = strings.TrimLeft(s, "0")
		if short[i] == "" {
			short[i] = "0"
		}
	}
	return Prefix{
		Group:  "ip6-" + strings.Join(segs, "-"),
		Name:   strings.Join(short, ":") + "::",
		From:   raw + strings.Repeat(":0000", tail),
		To:     raw + strings.Repeat(":ffff", tail),
		Family: FamilyV6,
	}, true
}
