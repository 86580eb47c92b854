package classifier

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/muliwe/botmon/internal/logrecord"
)

// Kind names a predicate function a rule can call
type Kind string

const (
	KindMatchesClient        Kind = "matchesClient"
	KindMatchesPlatform      Kind = "matchesPlatform"
	KindSmallPageCount       Kind = "smallPageCount"
	KindNoRecord             Kind = "noRecord"
	KindNoReferrer           Kind = "noReferrer"
	KindMatchesUserAgent     Kind = "matchesUserAgent"
	KindCombinationTest      Kind = "combinationTest"
	KindFromKnownBotIP       Kind = "fromKnownBotIP"
	KindMatchLang            Kind = "matchLang"
	KindClientAccepts        Kind = "clientAccepts"
	KindNoAcceptLang         Kind = "noAcceptLang"
	KindLoadSpeed            Kind = "loadSpeed"
	KindMatchesCountry       Kind = "matchesCountry"
	KindNotFromCountry       Kind = "notFromCountry"
	KindBlockedByCaptcha     Kind = "blockedByCaptcha"
	KindWhitelistedByCaptcha Kind = "whitelistedByCaptcha"
	KindJSONLogic            Kind = "jsonLogic"
)

// ErrUnknownKind is returned when a rule references an unknown predicate
var ErrUnknownKind = errors.New("unknown rule function")

// Rule is one weighted predicate from the rules file
type Rule struct {
	ID          string            `json:"id"`
	Description string            `json:"desc"`
	Func        Kind              `json:"func"`
	Params      []json.RawMessage `json:"params,omitempty"`
	Weight      int               `json:"bot"`

	pred predicate
}

// RuleSet is the decoded content of a rules file
type RuleSet struct {
	Threshold int    `json:"threshold"`
	Rules     []Rule `json:"rules"`
}

// LoadRules decodes a rules file and compiles every rule's predicate.
// Unknown predicate kinds and malformed parameters fail the whole file.
func LoadRules(r io.Reader) (RuleSet, error) {
	var raw struct {
		Threshold json.Number     `json:"threshold"`
		Rules     json.RawMessage `json:"rules"`
	}
	dec := json.NewDecoder(r)
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return RuleSet{}, fmt.Errorf("decode rules: %w", err)
	}

	var set RuleSet
	if raw.Threshold != "" {
		f, err := raw.Threshold.Float64()
		if err != nil || f < 0 || f != math.Trunc(f) || f > math.MaxInt32 {
			return RuleSet{}, fmt.Errorf("invalid threshold %q: expected a non-negative integer", raw.Threshold)
		}
		set.Threshold = int(f)
	}

	trimmed := bytes.TrimSpace(raw.Rules)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		return set, nil
	}
	if trimmed[0] != '[' {
		return RuleSet{}, errors.New("rules must be a JSON array")
	}
	if err := json.Unmarshal(trimmed, &set.Rules); err != nil {
		return RuleSet{}, fmt.Errorf("decode rules: %w", err)
	}

	seen := make(map[string]bool, len(set.Rules))
	for i := range set.Rules {
		rule := &set.Rules[i]
		if rule.ID == "" {
			return RuleSet{}, fmt.Errorf("rule %d: missing id", i)
		}
		if seen[rule.ID] {
			return RuleSet{}, fmt.Errorf("rule %q: duplicate id", rule.ID)
		}
		seen[rule.ID] = true

		if err := rule.Compile(); err != nil {
			return RuleSet{}, err
		}
	}
	return set, nil
}

// Compile resolves the rule's predicate kind and decodes its parameters
func (r *Rule) Compile() error {
	p, err := compile(r.Func, r.Params)
	if err != nil {
		return fmt.Errorf("rule %q: %w", r.ID, err)
	}
	r.pred = p
	return nil
}

// ---------------------------------------------------------------------------
// Parameter decoding
// ---------------------------------------------------------------------------

func stringParams(params []json.RawMessage) ([]string, error) {
	out := make([]string, 0, len(params))
	for i, p := range params {
		s, err := scalarString(p)
		if err != nil {
			return nil, fmt.Errorf("param %d: %w", i, err)
		}
		out = append(out, s)
	}
	return out, nil
}

// scalarString accepts JSON strings and numbers
func scalarString(p json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(p, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(p, &n); err == nil {
		return n.String(), nil
	}
	return "", fmt.Errorf("expected string, got %s", string(p))
}

func numberParam(params []json.RawMessage, i int) (float64, error) {
	if i >= len(params) {
		return 0, fmt.Errorf("missing param %d", i)
	}
	s, err := scalarString(params[i])
	if err != nil {
		return 0, fmt.Errorf("param %d: %w", i, err)
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("param %d: expected number, got %q", i, s)
	}
	return f, nil
}

func pairParams(params []json.RawMessage) ([][2]string, error) {
	out := make([][2]string, 0, len(params))
	for i, p := range params {
		var pair []string
		if err := json.Unmarshal(p, &pair); err != nil || len(pair) != 2 {
			return nil, fmt.Errorf("param %d: expected [platform, client] pair", i)
		}
		out = append(out, [2]string{pair[0], pair[1]})
	}
	return out, nil
}

func noParams(k Kind, params []json.RawMessage) error {
	if len(params) > 0 {
		return fmt.Errorf("%s takes no parameters", k)
	}
	return nil
}

func compile(k Kind, params []json.RawMessage) (predicate, error) {
	switch k {
	case KindMatchesClient, KindMatchesPlatform, KindMatchesUserAgent,
		KindMatchLang, KindClientAccepts, KindMatchesCountry, KindNotFromCountry:
		list, err := stringParams(params)
		if err != nil {
			return nil, err
		}
		return listPredicate(k, list), nil

	case KindSmallPageCount:
		n, err := numberParam(params, 0)
		if err != nil {
			return nil, err
		}
		return smallPageCount(int(n)), nil

	case KindNoRecord:
		if len(params) != 1 {
			return nil, errors.New("noRecord takes exactly one log kind")
		}
		s, err := scalarString(params[0])
		if err != nil {
			return nil, err
		}
		kind, err := logrecord.ParseKind(s)
		if err != nil {
			return nil, err
		}
		return noRecord(kind), nil

	case KindCombinationTest:
		pairs, err := pairParams(params)
		if err != nil {
			return nil, err
		}
		return combinationTest(pairs), nil

	case KindLoadSpeed:
		minItems, err := numberParam(params, 0)
		if err != nil {
			return nil, err
		}
		maxSeconds, err := numberParam(params, 1)
		if err != nil {
			return nil, err
		}
		return loadSpeed(int(minItems), maxSeconds), nil

	case KindJSONLogic:
		if len(params) != 1 {
			return nil, errors.New("jsonLogic takes exactly one rule object")
		}
		var logic map[string]any
		if err := json.Unmarshal(params[0], &logic); err != nil {
			return nil, fmt.Errorf("jsonLogic rule must be an object: %w", err)
		}
		return jsonLogic(logic), nil

	case KindNoReferrer:
		return noReferrer, noParams(k, params)
	case KindFromKnownBotIP:
		return fromKnownBotIP, noParams(k, params)
	case KindNoAcceptLang:
		return noAcceptLang, noParams(k, params)
	case KindBlockedByCaptcha:
		return blockedByCaptcha, noParams(k, params)
	case KindWhitelistedByCaptcha:
		return whitelistedByCaptcha, noParams(k, params)

	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownKind, k)
	}
}
