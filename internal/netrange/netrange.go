// Package netrange keeps the index of known bot network ranges.
//
// Addresses are compared in a normalized, zero-padded string form in which
// lexical order equals numeric order within one address family.
package netrange

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"strconv"
	"strings"
)

// Address families
const (
	FamilyV4 = "4"
	FamilyV6 = "6"
)

// Normalize converts an IP address to its fixed-width comparable form.
// IPv4 segments are padded to three digits, IPv6 groups are expanded and
// padded to four lower-case hex digits.
func Normalize(ip string) string {
	ip = strings.TrimSpace(ip)
	if ip == "" {
		return ""
	}

	if addr, err := netip.ParseAddr(ip); err == nil {
		addr = addr.Unmap()
		if addr.Is4() {
			b := addr.As4()
			return fmt.Sprintf("%03d.%03d.%03d.%03d", b[0], b[1], b[2], b[3])
		}
		b := addr.As16()
		groups := make([]string, 8)
		for i := range groups {
			groups[i] = fmt.Sprintf("%02x%02x", b[2*i], b[2*i+1])
		}
		return strings.Join(groups, ":")
	}

	// not a parseable address: pad segment-wise so prefixes still sort
	if strings.Index(ip, ":") > 0 {
		segs := strings.Split(ip, ":")
		for i, s := range segs {
			segs[i] = padLeft(strings.ToLower(s), 4)
		}
		return strings.Join(segs, ":")
	}
	segs := strings.Split(ip, ".")
	for i, s := range segs {
		segs[i] = padLeft(s, 3)
	}
	return strings.Join(segs, ".")
}

func padLeft(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return strings.Repeat("0", width-len(s)) + s
}

// Family returns the address family of ip. IPv4-mapped IPv6 addresses
// count as IPv4.
func Family(ip string) string {
	if strings.Contains(Normalize(ip), ":") {
		return FamilyV6
	}
	return FamilyV4
}

// Group is a named owner of one or more ranges
type Group struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Spec is a range as written in the ranges file
type Spec struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Mask  Mask   `json:"m"`
	Group string `json:"g"`
}

// Mask is a prefix length that may be written as number or string. "??"
// marks a range that is not a single CIDR block.
type Mask int

func (m *Mask) UnmarshalJSON(data []byte) error {
	s := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if s == "" || s == "null" || s == "??" {
		*m = 0
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("invalid mask %q", s)
	}
	*m = Mask(n)
	return nil
}

// Range is a normalized address range owned by a group
type Range struct {
	From   string `json:"from"`
	To     string `json:"to"`
	CIDR   string `json:"cidr"`
	Mask   int    `json:"m,omitempty"`
	Group  string `json:"g"`
	Family string `json:"family"`
}

// Contains reports whether a normalized address of the same family lies
// within the range
func (r *Range) Contains(norm, family string) bool {
	return family == r.Family && norm >= r.From && norm <= r.To
}

// Matcher looks up addresses in a range catalog
type Matcher interface {
	Match(ip string) *Range
	OwnerName(group string) string
}

// Index holds ranges in load order
type Index struct {
	ranges []Range
	groups map[string]string
}

// NewIndex creates an empty index
func NewIndex() *Index {
	return &Index{groups: make(map[string]string)}
}

type file struct {
	Groups json.RawMessage `json:"groups"`
	Ranges json.RawMessage `json:"ranges"`
}

// Load decodes and validates a ranges file
func Load(r io.Reader) (*Index, error) {
	var f file
	if err := json.NewDecoder(r).Decode(&f); err != nil {
		return nil, fmt.Errorf("decode ranges: %w", err)
	}

	var groups []Group
	if len(f.Groups) > 0 && string(f.Groups) != "null" {
		if err := json.Unmarshal(f.Groups, &groups); err != nil {
			return nil, fmt.Errorf("ranges file: groups must be an array: %w", err)
		}
	}
	var specs []Spec
	if len(f.Ranges) > 0 && string(f.Ranges) != "null" {
		if err := json.Unmarshal(f.Ranges, &specs); err != nil {
			return nil, fmt.Errorf("ranges file: ranges must be an array: %w", err)
		}
	}

	idx := NewIndex()
	for _, g := range groups {
		idx.AddGroup(g)
	}
	for i, s := range specs {
		if err := idx.Add(s); err != nil {
			return nil, fmt.Errorf("range %d: %w", i, err)
		}
	}
	return idx, nil
}

// AddGroup registers a group owner name
func (x *Index) AddGroup(g Group) {
	if g.ID == "" {
		return
	}
	if _, ok := x.groups[g.ID]; !ok {
		x.groups[g.ID] = g.Name
	}
}

// Add validates a range spec and appends it to the index
func (x *Index) Add(s Spec) error {
	if s.From == "" || s.To == "" {
		return errors.New("missing range bound")
	}
	if s.Group == "" {
		return errors.New("missing group id")
	}

	family := Family(s.From)
	if Family(s.To) != family {
		return fmt.Errorf("range %s-%s mixes address families", s.From, s.To)
	}

	from, to := Normalize(s.From), Normalize(s.To)
	if from > to {
		return fmt.Errorf("range %s-%s is reversed", s.From, s.To)
	}

	mask := "??"
	if s.Mask > 0 {
		mask = strconv.Itoa(int(s.Mask))
	}
	x.ranges = append(x.ranges, Range{
		From:   from,
		To:     to,
		CIDR:   collapseColons(s.From) + "/" + mask,
		Mask:   int(s.Mask),
		Group:  s.Group,
		Family: family,
	})
	return nil
}

func collapseColons(s string) string {
	for strings.Contains(s, ":::") {
		s = strings.ReplaceAll(s, ":::", "::")
	}
	return s
}

// Len returns the number of ranges
func (x *Index) Len() int {
	return len(x.ranges)
}

// Match returns the first range containing ip, or nil. Ranges are scanned in
// load order and may overlap.
func (x *Index) Match(ip string) *Range {
	norm := Normalize(ip)
	if norm == "" {
		return nil
	}
	family := FamilyV4
	if strings.Contains(norm, ":") {
		family = FamilyV6
	}

	for i := range x.ranges {
		if x.ranges[i].Contains(norm, family) {
			r := x.ranges[i]
			return &r
		}
	}
	return nil
}

// OwnerName returns the display name of a group, or "" if unknown
func (x *Index) OwnerName(group string) string {
	return x.groups[group]
}
