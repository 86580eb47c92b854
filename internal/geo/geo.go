// Package geo resolves country codes delivered by the GeoIP provider to
// display names.
package geo

import (
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// Special country codes
const (
	Unknown = "ZZ"
	Local   = "local"
)

var regionNames = display.English.Regions()

// Normalize returns the code to store for a visitor: empty codes become ZZ
func Normalize(code string) string {
	code = strings.TrimSpace(code)
	if code == "" {
		return Unknown
	}
	return code
}

// CountryName returns the English display name of a country code. Only the
// first two characters are considered; codes that are not valid regions are
// returned unchanged.
func CountryName(code string) string {
	code = strings.TrimSpace(code)
	switch code {
	case Local:
		return "localhost"
	case "", Unknown:
		return "Unknown"
	}

	iso := code
	if len(iso) > 2 {
		iso = iso[:2]
	}
	region, err := language.ParseRegion(strings.ToUpper(iso))
	if err != nil {
		return code
	}
	name := regionNames.Name(region)
	if name == "" {
		return code
	}
	return name
}
