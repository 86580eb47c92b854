package classifier

import (
	"slices"
	"sort"
	"strings"

	"github.com/diegoholiveira/jsonlogic/v3"

	"github.com/muliwe/botmon/internal/geo"
	"github.com/muliwe/botmon/internal/logrecord"
	"github.com/muliwe/botmon/internal/visitor"
)

// predicate tests one visitor property
type predicate func(v *visitor.Visitor) bool

func listPredicate(k Kind, list []string) predicate {
	switch k {
	case KindMatchesClient:
		return func(v *visitor.Visitor) bool {
			return slices.Contains(list, v.ClientID())
		}
	case KindMatchesPlatform:
		return func(v *visitor.Visitor) bool {
			return slices.Contains(list, v.PlatformID())
		}
	case KindMatchesUserAgent:
		return func(v *visitor.Visitor) bool {
			return slices.Contains(list, v.Agent)
		}
	case KindMatchLang:
		return matchLang(list)
	case KindClientAccepts:
		return clientAccepts(list)
	case KindMatchesCountry:
		return func(v *visitor.Visitor) bool {
			return v.Geo != "" && slices.Contains(list, v.Geo)
		}
	case KindNotFromCountry:
		return func(v *visitor.Visitor) bool {
			if v.Geo == "" || v.Geo == geo.Unknown {
				return false
			}
			return !slices.Contains(list, v.Geo)
		}
	}
	return func(*visitor.Visitor) bool { return false }
}

func smallPageCount(n int) predicate {
	return func(v *visitor.Visitor) bool {
		return v.ViewCount <= n
	}
}

// noRecord only fires for visitors the server stream knows about, otherwise
// every visitor first seen by a client stream would match
func noRecord(kind logrecord.Kind) predicate {
	return func(v *visitor.Visitor) bool {
		if !v.SeenByKind(logrecord.KindServer) {
			return false
		}
		return !v.SeenByKind(kind)
	}
}

func noReferrer(v *visitor.Visitor) bool {
	for _, pv := range v.PageViews {
		if !pv.HasReferrer() {
			return true
		}
	}
	return false
}

func combinationTest(pairs [][2]string) predicate {
	return func(v *visitor.Visitor) bool {
		platform, client := v.PlatformID(), v.ClientID()
		for _, p := range pairs {
			if p[0] == platform && p[1] == client {
				return true
			}
		}
		return false
	}
}

func fromKnownBotIP(v *visitor.Visitor) bool {
	return v.IPRange != nil
}

func acceptList(accept string) []string {
	parts := strings.Split(accept, ",")
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
	}
	return parts
}

// matchLang fires when the page language is missing from the accepted
// languages. Page languages in exceptions are ignored.
func matchLang(exceptions []string) predicate {
	return func(v *visitor.Visitor) bool {
		if v.Lang == "" || v.Accept == "" || slices.Contains(exceptions, v.Lang) {
			return false
		}
		return !slices.Contains(acceptList(v.Accept), v.Lang)
	}
}

func clientAccepts(langs []string) predicate {
	return func(v *visitor.Visitor) bool {
		if v.Accept == "" {
			return false
		}
		for _, l := range acceptList(v.Accept) {
			if slices.Contains(langs, l) {
				return true
			}
		}
		return false
	}
}

func noAcceptLang(v *visitor.Visitor) bool {
	return strings.TrimSpace(v.Accept) == ""
}

// loadSpeed fires when at least minItems pages were viewed and the mean gap
// between page views is at most maxSeconds
func loadSpeed(minItems int, maxSeconds float64) predicate {
	return func(v *visitor.Visitor) bool {
		if v.ViewCount < minItems || len(v.PageViews) == 0 {
			return false
		}

		times := make([]int64, 0, len(v.PageViews))
		for _, pv := range v.PageViews {
			times = append(times, pv.LastSeen.UnixMilli())
		}
		sort.Slice(times, func(i, j int) bool { return times[i] < times[j] })

		var total int64
		for i := 1; i < len(times); i++ {
			total += times[i] - times[i-1]
		}
		return float64(total)/float64(len(times)) <= maxSeconds*1000
	}
}

func blockedByCaptcha(v *visitor.Visitor) bool {
	return v.Captcha.Y > 0 && v.Captcha.N == 0
}

func whitelistedByCaptcha(v *visitor.Visitor) bool {
	return v.Captcha.W > 0
}

// jsonLogic evaluates a JSON-logic expression against the visitor facts.
// Evaluation errors and non-boolean results count as no match.
func jsonLogic(logic map[string]any) predicate {
	return func(v *visitor.Visitor) bool {
		result, err := jsonlogic.ApplyInterface(logic, v.Facts())
		if err != nil {
			return false
		}
		b, ok := result.(bool)
		return ok && b
	}
}
