// Package catalog matches user-agent strings against ordered regex catalogs
// of known bots, clients (browsers) and platforms.
package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
)

// Kind identifies which catalog an entry list belongs to
type Kind string

const (
	KindBots      Kind = "bots"
	KindClients   Kind = "clients"
	KindPlatforms Kind = "platforms"
)

// Generic bot identity used when the fallback heuristic matched an empty group
const genericBotID = "other_"

// fallbackBot catches self-declared crawlers missing from the bot catalog
var fallbackBot = regexp.MustCompile(`(?i)([\s\d\w\-]*bot|[\s\d\w\-]*crawler|[\s\d\w\-]*spider)[\/\s\w\-;\),\\.$]`)

// Entry is one catalog item as stored in the JSON files
type Entry struct {
	ID       string   `json:"id"`
	Name     string   `json:"n"`
	Patterns []string `json:"rx"`
	URL      string   `json:"url,omitempty"`
	Geo      string   `json:"geo,omitempty"` // default country, bots only

	compiled []*regexp.Regexp
}

// Match is the result of a successful catalog lookup
type Match struct {
	ID      string `json:"id"`
	Name    string `json:"n"`
	Version string `json:"v,omitempty"`
	URL     string `json:"url,omitempty"`
	Geo     string `json:"geo,omitempty"`
	Generic bool   `json:"generic,omitempty"` // produced by the bot fallback heuristic
}

// Matcher resolves a user-agent string to a catalog identity
type Matcher interface {
	Match(agent string) *Match
}

// Catalog is an ordered list of compiled entries
type Catalog struct {
	kind    Kind
	entries []Entry
	byID    map[string]int
}

// Load decodes and validates a JSON catalog file
func Load(r io.Reader) ([]Entry, error) {
	var raw json.RawMessage
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}

	trimmed := strings.TrimSpace(string(raw))
	if !strings.HasPrefix(trimmed, "[") {
		return nil, errors.New("catalog must be a JSON array of entries")
	}

	var entries []Entry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}

	for i := range entries {
		if err := entries[i].compile(); err != nil {
			return nil, fmt.Errorf("catalog entry %d: %w", i, err)
		}
	}
	return entries, nil
}

func (e *Entry) compile() error {
	if strings.TrimSpace(e.ID) == "" {
		return errors.New("missing id")
	}
	if len(e.Patterns) == 0 {
		return fmt.Errorf("entry %q has no patterns", e.ID)
	}

	e.compiled = make([]*regexp.Regexp, 0, len(e.Patterns))
	for _, p := range e.Patterns {
		rx, err := regexp.Compile(p)
		if err != nil {
			return fmt.Errorf("entry %q: invalid pattern %q: %w", e.ID, p, err)
		}
		e.compiled = append(e.compiled, rx)
	}
	return nil
}

// New builds a catalog from entries. Entries not yet compiled are compiled
// and validated here.
func New(kind Kind, entries []Entry) (*Catalog, error) {
	c := &Catalog{
		kind:    kind,
		entries: make([]Entry, len(entries)),
		byID:    make(map[string]int, len(entries)),
	}
	copy(c.entries, entries)

	for i := range c.entries {
		e := &c.entries[i]
		if len(e.compiled) != len(e.Patterns) || len(e.Patterns) == 0 {
			if err := e.compile(); err != nil {
				return nil, fmt.Errorf("%s catalog: %w", kind, err)
			}
		}
		if _, dup := c.byID[e.ID]; !dup {
			c.byID[e.ID] = i
		}
	}
	return c, nil
}

// Empty returns a catalog without entries. Bot catalogs still apply the
// fallback heuristic.
func Empty(kind Kind) *Catalog {
	return &Catalog{kind: kind, byID: map[string]int{}}
}

// Kind returns the catalog kind
func (c *Catalog) Kind() Kind {
	return c.kind
}

// Len returns the number of entries
func (c *Catalog) Len() int {
	return len(c.entries)
}

// Match returns the first entry whose pattern matches the agent, or nil.
// Entries and their patterns are tried in configured order.
func (c *Catalog) Match(agent string) *Match {
	if agent == "" {
		return nil
	}

	for i := range c.entries {
		e := &c.entries[i]
		for _, rx := range e.compiled {
			sub := rx.FindStringSubmatch(agent)
			if sub == nil {
				continue
			}
			m := &Match{
				ID:   e.ID,
				Name: e.Name,
				URL:  e.URL,
				Geo:  e.Geo,
			}
			if m.Name == "" {
				m.Name = e.ID
			}
			if len(sub) > 1 {
				m.Version = sub[1]
			}
			return m
		}
	}

	if c.kind == KindBots {
		return matchGenericBot(agent)
	}
	return nil
}

func matchGenericBot(agent string) *Match {
	sub := fallbackBot.FindStringSubmatch(agent)
	if sub == nil {
		return nil
	}

	label := strings.TrimSpace(sub[1])
	m := &Match{ID: genericBotID, Name: "Other", Generic: true}
	if label != "" {
		m.ID = label
		m.Name = "Other (" + label + ")"
	}
	return m
}

