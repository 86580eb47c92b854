// Package visitor reconstructs deduplicated visitors from the three log
// streams.
package visitor

import (
	"net/url"

	"github.com/pterm/pterm"

	"github.com/muliwe/botmon/internal/catalog"
	"github.com/muliwe/botmon/internal/geo"
	"github.com/muliwe/botmon/internal/logrecord"
	"github.com/muliwe/botmon/internal/netrange"
)

// Options configures a Model
type Options struct {
	Bots      catalog.Matcher
	Clients   catalog.Matcher
	Platforms catalog.Matcher
	Ranges    netrange.Matcher

	// CombineNets merges all visitors from one known network range into a
	// single pseudo-visitor
	CombineNets bool

	Logger *pterm.Logger
}

// DefaultOptions returns options with empty catalogs and network combining on
func DefaultOptions() Options {
	return Options{
		Bots:        catalog.Empty(catalog.KindBots),
		Clients:     catalog.Empty(catalog.KindClients),
		Platforms:   catalog.Empty(catalog.KindPlatforms),
		Ranges:      netrange.NewIndex(),
		CombineNets: true,
	}
}

// Model is the in-memory visitor store of one analysis run
type Model struct {
	opts     Options
	log      *pterm.Logger
	visitors []*Visitor
}

// NewModel creates an empty model. Nil matchers are replaced by empty ones.
func NewModel(opts Options) *Model {
	def := DefaultOptions()
	if opts.Bots == nil {
		opts.Bots = def.Bots
	}
	if opts.Clients == nil {
		opts.Clients = def.Clients
	}
	if opts.Platforms == nil {
		opts.Platforms = def.Platforms
	}
	if opts.Ranges == nil {
		opts.Ranges = def.Ranges
	}

	l := opts.Logger
	if l == nil {
		l = pterm.DefaultLogger.WithLevel(pterm.LogLevelWarn)
	}
	return &Model{opts: opts, log: l}
}

// Visitors returns all registered visitors in registration order
func (m *Model) Visitors() []*Visitor {
	return m.visitors
}

// Len returns the number of visitors
func (m *Model) Len() int {
	return len(m.visitors)
}

// candidate is a record enriched with the catalog and range lookups that
// drive identity resolution
type candidate struct {
	rec     logrecord.Record
	typ     Type
	bot     *catalog.Match
	geo     string
	ipRange *netrange.Range
}

func (m *Model) resolve(rec logrecord.Record) candidate {
	c := candidate{rec: rec, typ: TypeUnknown, geo: rec.Geo}

	c.bot = m.opts.Bots.Match(rec.Agent)
	switch {
	case c.bot != nil:
		c.typ = TypeKnownBot
	case rec.User != "":
		c.typ = TypeUser
	}

	if c.bot != nil && c.bot.Geo != "" {
		if c.geo == "" || c.geo == geo.Unknown {
			c.geo = c.bot.Geo
		}
	}
	c.geo = geo.Normalize(c.geo)

	// only anonymous visitors are looked up in the bot network catalog
	if c.typ == TypeUnknown {
		c.ipRange = m.opts.Ranges.Match(rec.IP)
	}
	return c
}

// findVisitor resolves a candidate to an existing visitor, or nil
func (m *Model) findVisitor(c candidate) *Visitor {
	switch {
	case c.typ == TypeKnownBot:
		for _, v := range m.visitors {
			if v.Bot != nil && v.Bot.ID == c.bot.ID {
				return v
			}
		}

	case m.opts.CombineNets && c.ipRange != nil:
		var sameSession *Visitor
		for _, v := range m.visitors {
			if v.IPRange != nil && v.IPRange.Group == c.ipRange.Group {
				return v
			}
			if c.rec.SessionID != "" && v.SessionID == c.rec.SessionID {
				sameSession = v
			}
		}
		return sameSession

	default:
		if c.rec.SessionID != "" {
			for _, v := range m.visitors {
				if v.SessionID == c.rec.SessionID {
					return v
				}
			}
		}
		for _, v := range m.visitors {
			if v.IP == c.rec.IP && v.Agent == c.rec.Agent {
				return v
			}
		}
	}
	return nil
}

// RegisterVisit upserts the visitor for a record and returns it
func (m *Model) RegisterVisit(rec logrecord.Record, kind logrecord.Kind) *Visitor {
	c := m.resolve(rec)

	v := m.findVisitor(c)
	if v == nil {
		v = m.newVisitor(c, kind)
		m.visitors = append(m.visitors, v)
	}

	v.widen(rec.Timestamp)

	// a blocked captcha is a load but not a view
	blocked := rec.Captcha == logrecord.CaptchaBlocked
	v.LoadCount++
	if !blocked {
		v.ViewCount++
	}
	v.Captcha.Add(rec.Captcha)

	pv := v.PageView(rec.Page)
	if pv == nil {
		pv = m.newPageView(rec, kind)
		v.PageViews = append(v.PageViews, pv)
	}
	if rec.Timestamp.After(pv.LastSeen) {
		pv.LastSeen = rec.Timestamp
	}
	if !blocked {
		pv.LoadCount++
	}

	v.HasReferrer = v.HasReferrer || pv.HasReferrer()
	return v
}

func (m *Model) newVisitor(c candidate, kind logrecord.Kind) *Visitor {
	rec := c.rec
	return &Visitor{
		SessionID:   rec.SessionID,
		SessionType: rec.SessionType,
		IP:          rec.IP,
		Agent:       rec.Agent,
		User:        rec.User,
		Lang:        rec.Lang,
		Accept:      rec.Accept,
		Geo:         c.geo,
		Country:     geo.CountryName(c.geo),
		Type:        c.typ,
		Bot:         c.bot,
		Client:      m.opts.Clients.Match(rec.Agent),
		Platform:    m.opts.Platforms.Match(rec.Agent),
		IPRange:     c.ipRange,
		FirstSeen:   rec.Timestamp,
		LastSeen:    rec.Timestamp,
		SeenBy:      []logrecord.Kind{kind},
	}
}

func (m *Model) newPageView(rec logrecord.Record, kind logrecord.Kind) *PageView {
	var ref *url.URL
	if rec.Referrer != "" {
		u, err := url.Parse(rec.Referrer)
		if err != nil || u.Scheme == "" || u.Host == "" {
			m.log.Warn("Invalid referrer", m.log.Args("referrer", rec.Referrer, "page", rec.Page, "session", rec.SessionID))
		} else {
			ref = u
		}
	}

	lang := rec.Lang
	if lang == "" {
		lang = "??"
	}

	return &PageView{
		Page:        rec.Page,
		IP:          rec.IP,
		Lang:        lang,
		Referrer:    ref,
		RawReferrer: rec.Referrer,
		FirstSeen:   rec.Timestamp,
		LastSeen:    rec.Timestamp,
		By:          kind,
		SeenBy:      []logrecord.Kind{kind},
		JSClient:    kind != logrecord.KindServer,
	}
}

// UpdateVisit merges a client log record into its visitor
func (m *Model) UpdateVisit(rec logrecord.Record) *Visitor {
	const kind = logrecord.KindClient

	v := m.findVisitor(m.resolve(rec))
	if v == nil {
		m.log.Warn("No visitor found for page view, registering a new one",
			m.log.Args("session", rec.SessionID, "page", rec.Page, "ip", rec.IP))
		v = m.RegisterVisit(rec, kind)
	}

	v.widen(rec.Timestamp)
	v.seen(kind)
	v.JSClient = true

	pv := v.PageView(rec.Page)
	if pv != nil {
		if rec.Timestamp.After(pv.LastSeen) {
			pv.LastSeen = rec.Timestamp
		}
		pv.seen(kind)
		pv.JSClient = true
	} else {
		pv = m.newPageView(rec, kind)
		v.PageViews = append(v.PageViews, pv)
		v.HasReferrer = v.HasReferrer || pv.HasReferrer()
	}
	pv.TickCount++
	return v
}

// UpdateTicks merges a heartbeat record into its visitor
func (m *Model) UpdateTicks(rec logrecord.Record) *Visitor {
	const kind = logrecord.KindTicker

	v := m.findVisitor(m.resolve(rec))
	if v == nil {
		m.log.Info("No visitor found for heartbeat, registering a new one",
			m.log.Args("session", rec.SessionID, "page", rec.Page, "ip", rec.IP))
		v = m.RegisterVisit(rec, kind)
	}

	v.widen(rec.Timestamp)
	v.seen(kind)

	pv := v.PageView(rec.Page)
	if pv == nil {
		m.log.Debug("No page view for heartbeat, registering a new one",
			m.log.Args("session", rec.SessionID, "page", rec.Page))
		pv = m.newPageView(rec, kind)
		v.PageViews = append(v.PageViews, pv)
	}
	pv.seen(kind)
	if rec.Timestamp.After(pv.LastSeen) {
		pv.LastSeen = rec.Timestamp
	}
	pv.TickCount++
	return v
}
