// Package analytics classifies the visitors of one analysis run and builds
// the ranked summary lists shown on the dashboard.
package analytics

import (
	"time"

	"github.com/pterm/pterm"

	"github.com/muliwe/botmon/internal/geo"
	"github.com/muliwe/botmon/internal/netrange"
	"github.com/muliwe/botmon/internal/visitor"
)

// Evaluator scores a visitor against the rule set
type Evaluator interface {
	Evaluate(v *visitor.Visitor) visitor.Evaluation
}

// Group names a visitor bucket
type Group string

const (
	GroupKnownBots     Group = "knownBots"
	GroupSuspectedBots Group = "suspectedBots"
	GroupHumans        Group = "humans"
	GroupUsers         Group = "users"
)

// Country rollup selectors for TopCountries
const (
	CountriesBot   = "bot"
	CountriesHuman = "human"
)

// Counts is one metric broken down by visitor bucket
type Counts struct {
	Bots      int `json:"bots"`
	Suspected int `json:"suspected"`
	Humans    int `json:"humans"`
	Users     int `json:"users"`
	Total     int `json:"total"`
}

func (c *Counts) add(g Group, n int) {
	switch g {
	case GroupKnownBots:
		c.Bots += n
	case GroupSuspectedBots:
		c.Suspected += n
	case GroupHumans:
		c.Humans += n
	case GroupUsers:
		c.Users += n
	}
	c.Total += n
}

// CaptchaStats counts visitors by captcha outcome per bucket
type CaptchaStats struct {
	BotsBlocked     int `json:"bots_blocked"`
	BotsPassed      int `json:"bots_passed"`
	BotsWhitelisted int `json:"bots_whitelisted"`
	SusBlocked      int `json:"sus_blocked"`
	SusPassed       int `json:"sus_passed"`
	SusWhitelisted  int `json:"sus_whitelisted"`
	HumansBlocked   int `json:"humans_blocked"`
	HumansPassed    int `json:"humans_passed"`
}

func (c *CaptchaStats) add(g Group, captcha string) {
	switch g {
	case GroupKnownBots:
		switch captcha {
		case "Y":
			c.BotsBlocked++
		case "YN":
			c.BotsPassed++
		case "W":
			c.BotsWhitelisted++
		}
	case GroupSuspectedBots:
		switch captcha {
		case "Y":
			c.SusBlocked++
		case "YN":
			c.SusPassed++
		case "W":
			c.SusWhitelisted++
		}
	case GroupHumans:
		switch captcha {
		case "Y":
			c.HumansBlocked++
		case "YN":
			c.HumansPassed++
		}
	}
}

// Totals holds the visit, view and load counters of a run
type Totals struct {
	Visits  Counts       `json:"visits"`
	Views   Counts       `json:"views"`
	Loads   Counts       `json:"loads"`
	Captcha CaptchaStats `json:"captcha"`
}

// Groups holds the classified visitors by bucket
type Groups struct {
	KnownBots     []*visitor.Visitor `json:"known_bots"`
	SuspectedBots []*visitor.Visitor `json:"suspected_bots"`
	Humans        []*visitor.Visitor `json:"humans"`
	Users         []*visitor.Visitor `json:"users"`
}

// Get returns the visitors of one bucket
func (g *Groups) Get(group Group) []*visitor.Visitor {
	switch group {
	case GroupKnownBots:
		return g.KnownBots
	case GroupSuspectedBots:
		return g.SuspectedBots
	case GroupHumans:
		return g.Humans
	case GroupUsers:
		return g.Users
	}
	return nil
}

func (g *Groups) add(group Group, v *visitor.Visitor) {
	switch group {
	case GroupKnownBots:
		g.KnownBots = append(g.KnownBots, v)
	case GroupSuspectedBots:
		g.SuspectedBots = append(g.SuspectedBots, v)
	case GroupHumans:
		g.Humans = append(g.Humans, v)
	case GroupUsers:
		g.Users = append(g.Users, v)
	}
}

// Options configures an Analyzer
type Options struct {
	// SiteHost is the analysed site's host. Referrers pointing to it are
	// internal navigation and are not counted.
	SiteHost string
	Logger   *pterm.Logger
}

// Analyzer runs the classification pass and holds its rollups
type Analyzer struct {
	eval   Evaluator
	ranges netrange.Matcher
	opts   Options
	log    *pterm.Logger
	now    func() time.Time

	totals Totals
	groups Groups

	bots           *tally
	botCountries   *tally
	humanCountries *tally
	referrers      *tally
	browsers       *tally
	platforms      *tally
	networks       *tally
	pages          *tally
}

// New creates an Analyzer. ranges may be nil.
func New(eval Evaluator, ranges netrange.Matcher, opts Options) *Analyzer {
	l := opts.Logger
	if l == nil {
		l = pterm.DefaultLogger.WithLevel(pterm.LogLevelWarn)
	}
	a := &Analyzer{
		eval:   eval,
		ranges: ranges,
		opts:   opts,
		log:    l,
		now:    time.Now,
	}
	a.reset()
	return a
}

func (a *Analyzer) reset() {
	a.totals = Totals{}
	a.groups = Groups{}
	a.bots = newTally()
	a.botCountries = newTally()
	a.humanCountries = newTally()
	a.referrers = newTally()
	a.browsers = newTally()
	a.platforms = newTally()
	a.networks = newTally()
	a.pages = newTally()
}

// AnalyseAll classifies every visitor and fills the rollups in one pass.
// Known bots and known users keep their type; all other visitors are
// evaluated and become likely bots or probable humans. Calling it again
// starts over with fresh rollups.
func (a *Analyzer) AnalyseAll(visitors []*visitor.Visitor) {
	a.reset()

	for _, v := range visitors {
		group := a.classify(v)

		a.totals.Visits.add(group, 1)
		a.totals.Views.add(group, v.ViewCount)
		a.totals.Loads.add(group, v.LoadCount)
		a.totals.Captcha.add(group, v.Captcha.String())
		a.groups.add(group, v)

		switch group {
		case GroupKnownBots:
			a.addBot(v)
			a.addNetwork(v)
		case GroupSuspectedBots:
			a.addNetwork(v)
		default:
			a.addBrowserPlatform(v)
			for _, pv := range v.PageViews {
				a.addReferrer(pv)
				a.pages.add(Item{ID: pv.Page, Type: "page"}, 1)
			}
		}

		a.addCountry(v)
	}

	a.log.Debug("Analysis complete", a.log.Args(
		"visitors", a.totals.Visits.Total,
		"bots", a.totals.Visits.Bots,
		"suspected", a.totals.Visits.Suspected,
		"humans", a.totals.Visits.Humans,
		"users", a.totals.Visits.Users,
	))
}

// classify assigns the final type and returns the visitor's bucket
func (a *Analyzer) classify(v *visitor.Visitor) Group {
	if !v.Classified() {
		var err error
		switch v.Type {
		case visitor.TypeKnownBot, visitor.TypeUser:
			err = v.Classify(v.Type, nil)
		default:
			e := a.eval.Evaluate(v)
			t := visitor.TypeHuman
			if e.IsBot {
				t = visitor.TypeLikelyBot
			}
			err = v.Classify(t, &e)
		}
		if err != nil {
			a.log.Warn("Could not classify visitor", a.log.Args("visitor", v.Key(), "error", err))
		}
	}

	switch v.Type {
	case visitor.TypeKnownBot:
		return GroupKnownBots
	case visitor.TypeLikelyBot:
		return GroupSuspectedBots
	case visitor.TypeUser:
		return GroupUsers
	default:
		return GroupHumans
	}
}

func (a *Analyzer) addBot(v *visitor.Visitor) {
	if v.Bot == nil {
		return
	}
	a.bots.add(Item{ID: v.Bot.ID, Name: v.Bot.Name, Type: "bot"}, v.ViewCount)
}

// addNetwork adds a bot's views to its network group: the catalogued
// range when one matches, otherwise the local /24 or /48 prefix
func (a *Analyzer) addNetwork(v *visitor.Visitor) {
	r := v.IPRange
	if r == nil && a.ranges != nil {
		r = a.ranges.Match(v.IP)
	}

	if r != nil {
		name := ""
		if a.ranges != nil {
			name = a.ranges.OwnerName(r.Group)
		}
		if name == "" {
			name = "Unknown"
		}
		a.networks.add(Item{ID: r.Group, Name: name, Type: "net", From: r.From, To: r.To}, v.ViewCount)
		return
	}

	p, ok := netrange.PrefixOf(v.IP)
	if !ok {
		a.log.Debug("No network for bot address", a.log.Args("visitor", v.Key(), "ip", v.IP))
		return
	}
	a.networks.add(Item{ID: p.Group, Name: p.Name, Type: p.Family, From: p.From, To: p.To}, v.ViewCount)
}

func (a *Analyzer) addBrowserPlatform(v *visitor.Visitor) {
	browser := Item{ID: "unknown", Name: "Unknown", Type: "client"}
	if v.Client != nil {
		browser = Item{ID: v.Client.ID, Name: v.Client.Name, Type: "client"}
	}
	a.browsers.add(browser, 1)

	platform := Item{ID: "unknown", Name: "Unknown", Type: "platform"}
	if v.Platform != nil {
		platform = Item{ID: v.Platform.ID, Name: v.Platform.Name, Type: "platform"}
	}
	a.platforms.add(platform, 1)
}

func (a *Analyzer) addReferrer(pv *visitor.PageView) {
	if sameSite(pv.Referrer, a.opts.SiteHost) {
		return
	}
	a.referrers.add(ReferrerInfo(pv.Referrer), 1)
}

func (a *Analyzer) addCountry(v *visitor.Visitor) {
	code := geo.Normalize(v.Geo)
	name := v.Country
	if name == "" {
		name = geo.CountryName(code)
	}
	it := Item{ID: code, Name: name, Type: "country"}

	if v.Type.IsBot() {
		a.botCountries.add(it, 1)
	} else {
		a.humanCountries.add(it, 1)
	}
}

// Totals returns the counters of the last pass
func (a *Analyzer) Totals() Totals {
	return a.totals
}

// Groups returns the classified visitors of the last pass
func (a *Analyzer) Groups() Groups {
	return a.groups
}

// TopBots ranks known bots by page views
func (a *Analyzer) TopBots(max int) []Item {
	return MakeTopList(a.bots.list(), max)
}

// TopCountries ranks countries of bot or human visitors. Known users count
// as humans.
func (a *Analyzer) TopCountries(kind string, max int) []Item {
	switch kind {
	case CountriesBot:
		return MakeTopList(a.botCountries.list(), max)
	case CountriesHuman:
		return MakeTopList(a.humanCountries.list(), max)
	}
	a.log.Warn("Unknown country list", a.log.Args("kind", kind))
	return nil
}

// TopReferrers ranks external referrers of human page views
func (a *Analyzer) TopReferrers(max int) []Item {
	return MakeTopList(a.referrers.list(), max)
}

// TopBrowsers ranks the clients of human visitors
func (a *Analyzer) TopBrowsers(max int) []Item {
	return MakeTopList(a.browsers.list(), max)
}

// TopPlatforms ranks the platforms of human visitors
func (a *Analyzer) TopPlatforms(max int) []Item {
	return MakeTopList(a.platforms.list(), max)
}

// TopBotNetworks ranks the network groups bots came from by page views
func (a *Analyzer) TopBotNetworks(max int) []Item {
	return MakeTopList(a.networks.list(), max)
}

// TopPages returns the most viewed pages. Unlike the other lists it is a
// plain slice without an Others row.
func (a *Analyzer) TopPages(max int) []Item {
	if max < 1 {
		max = 1
	}
	pages := MakeTopList(a.pages.list(), len(a.pages.items)+1)
	if len(pages) > max {
		pages = pages[:max]
	}
	return pages
}

// BounceCount counts the visitors of a group that viewed at most one page
func (a *Analyzer) BounceCount(group Group) int {
	n := 0
	for _, v := range a.groups.Get(group) {
		if v.ViewCount <= 1 {
			n++
		}
	}
	return n
}
