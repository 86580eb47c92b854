package analytics

import (
	"net/netip"
	"net/url"
	"strings"
)

// referrer rollup ids for the special cases
const (
	NoReferrerID   = "null"
	NoReferrerName = "No Referer"
	localhost      = "localhost"
)

// ReferrerInfo maps a parsed referrer to its rollup identity: the
// second-level label as id and "sld.tld" as name. Absent referrers map to
// the "null" row, localhost and IP or single-label hosts to the host itself.
func ReferrerInfo(ref *url.URL) Item {
	if ref == nil || ref.Hostname() == "" {
		return Item{ID: NoReferrerID, Name: NoReferrerName, Type: "ref"}
	}

	host := strings.ToLower(strings.TrimSuffix(ref.Hostname(), "."))
	if host == localhost {
		return Item{ID: localhost, Name: localhost, Type: "ref"}
	}
	if _, err := netip.ParseAddr(host); err == nil {
		return Item{ID: host, Name: host, Type: "ref"}
	}

	labels := strings.Split(host, ".")
	if len(labels) < 2 {
		return Item{ID: host, Name: host, Type: "ref"}
	}
	sld, tld := labels[len(labels)-2], labels[len(labels)-1]
	return Item{ID: sld, Name: sld + "." + tld, Type: "ref"}
}

// sameSite reports whether the referrer points back at the analysed site
func sameSite(ref *url.URL, siteHost string) bool {
	if ref == nil || siteHost == "" {
		return false
	}
	return strings.EqualFold(ref.Host, siteHost) || strings.EqualFold(ref.Hostname(), siteHost)
}
