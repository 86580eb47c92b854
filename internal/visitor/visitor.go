package visitor

import (
	"errors"
	"net/url"
	"slices"
	"time"

	"github.com/muliwe/botmon/internal/catalog"
	"github.com/muliwe/botmon/internal/logrecord"
	"github.com/muliwe/botmon/internal/netrange"
)

// Type is the visitor classification
type Type string

const (
	TypeUnknown   Type = "unknown"
	TypeUser      Type = "known_user"
	TypeHuman     Type = "probably_human"
	TypeLikelyBot Type = "likely_bot"
	TypeKnownBot  Type = "known_bot"
)

// IsBot reports whether the type is one of the bot classifications
func (t Type) IsBot() bool {
	return t == TypeKnownBot || t == TypeLikelyBot
}

// ErrAlreadyClassified is returned when a visitor is classified twice
var ErrAlreadyClassified = errors.New("visitor already classified")

// Evaluation is the rule engine verdict for a visitor
type Evaluation struct {
	WeightSum    int      `json:"weight_sum"`
	MatchedRules []string `json:"matched_rules"`
	IsBot        bool     `json:"is_bot"`
}

// PageView aggregates one visitor's observations of one page
type PageView struct {
	Page        string           `json:"pg"`
	IP          string           `json:"ip"`
	Lang        string           `json:"lang"`
	Referrer    *url.URL         `json:"-"`
	RawReferrer string           `json:"ref,omitempty"`
	FirstSeen   time.Time        `json:"first_seen"`
	LastSeen    time.Time        `json:"last_seen"`
	By          logrecord.Kind   `json:"by"` // stream that created the page view
	SeenBy      []logrecord.Kind `json:"seen_by"`
	JSClient    bool             `json:"js_client"`
	LoadCount   int              `json:"load_count"`
	TickCount   int              `json:"tick_count"`
}

// HasReferrer reports whether the page view carries a parsed referrer
func (pv *PageView) HasReferrer() bool {
	return pv.Referrer != nil
}

func (pv *PageView) seen(k logrecord.Kind) {
	if !slices.Contains(pv.SeenBy, k) {
		pv.SeenBy = append(pv.SeenBy, k)
	}
}

// Visitor is one deduplicated real-world actor
type Visitor struct {
	SessionID   string `json:"id"`
	SessionType string `json:"typ,omitempty"`
	IP          string `json:"ip"`
	Agent       string `json:"agent"`
	User        string `json:"usr,omitempty"`
	Lang        string `json:"lang,omitempty"`
	Accept      string `json:"accept,omitempty"`
	Geo         string `json:"geo"`
	Country     string `json:"country"`

	Type     Type            `json:"type"`
	Bot      *catalog.Match  `json:"bot,omitempty"`
	Client   *catalog.Match  `json:"client,omitempty"`
	Platform *catalog.Match  `json:"platform,omitempty"`
	IPRange  *netrange.Range `json:"ip_range,omitempty"`

	FirstSeen   time.Time        `json:"first_seen"`
	LastSeen    time.Time        `json:"last_seen"`
	LoadCount   int              `json:"load_count"`
	ViewCount   int              `json:"view_count"`
	Captcha     Captcha          `json:"captcha"`
	SeenBy      []logrecord.Kind `json:"seen_by"`
	JSClient    bool             `json:"js_client"`
	HasReferrer bool             `json:"has_referrer"`
	PageViews   []*PageView      `json:"page_views"`

	Evaluation *Evaluation `json:"evaluation,omitempty"`
	classified bool
}

// Key returns the resolved identity key: bot id, range group or session id
func (v *Visitor) Key() string {
	switch {
	case v.Bot != nil:
		return v.Bot.ID
	case v.IPRange != nil:
		return v.IPRange.Group
	case v.SessionID != "":
		return v.SessionID
	default:
		return v.IP
	}
}

// SeenByKind reports whether a log stream has observed the visitor
func (v *Visitor) SeenByKind(k logrecord.Kind) bool {
	return slices.Contains(v.SeenBy, k)
}

func (v *Visitor) seen(k logrecord.Kind) {
	if !v.SeenByKind(k) {
		v.SeenBy = append(v.SeenBy, k)
	}
}

// ClientID returns the matched client id or "" when unmatched
func (v *Visitor) ClientID() string {
	if v.Client == nil {
		return ""
	}
	return v.Client.ID
}

// PlatformID returns the matched platform id or "" when unmatched
func (v *Visitor) PlatformID() string {
	if v.Platform == nil {
		return ""
	}
	return v.Platform.ID
}

// PageView returns the page view for a page id, or nil
func (v *Visitor) PageView(page string) *PageView {
	for _, pv := range v.PageViews {
		if pv.Page == page {
			return pv
		}
	}
	return nil
}

// Classified reports whether Classify has been called
func (v *Visitor) Classified() bool {
	return v.classified
}

// Classify assigns the final classification. It may only be called once.
func (v *Visitor) Classify(t Type, eval *Evaluation) error {
	if v.classified {
		return ErrAlreadyClassified
	}
	v.Type = t
	v.Evaluation = eval
	v.classified = true
	return nil
}

// widen extends the first/last seen bounds to include ts
func (v *Visitor) widen(ts time.Time) {
	if ts.IsZero() {
		return
	}
	if v.FirstSeen.IsZero() || ts.Before(v.FirstSeen) {
		v.FirstSeen = ts
	}
	if ts.After(v.LastSeen) {
		v.LastSeen = ts
	}
}

// Facts returns a flat attribute map used by JSON-logic rules
func (v *Visitor) Facts() map[string]any {
	seenBy := make([]any, 0, len(v.SeenBy))
	for _, k := range v.SeenBy {
		seenBy = append(seenBy, string(k))
	}

	return map[string]any{
		"ip":          v.IP,
		"agent":       v.Agent,
		"user":        v.User,
		"lang":        v.Lang,
		"accept":      v.Accept,
		"country":     v.Geo,
		"client":      v.ClientID(),
		"platform":    v.PlatformID(),
		"views":       float64(v.ViewCount),
		"loads":       float64(v.LoadCount),
		"pages":       float64(len(v.PageViews)),
		"seenBy":      seenBy,
		"jsClient":    v.JSClient,
		"hasReferrer": v.HasReferrer,
		"knownRange":  v.IPRange != nil,
		"captcha":     v.Captcha.String(),
	}
}
