package analytics

import (
	"time"

	"github.com/google/uuid"
)

// DefaultMax is the default number of rows per ranked list
const DefaultMax = 10

// Report bundles the results of one analysis pass
type Report struct {
	ID          string    `json:"id"`
	GeneratedAt time.Time `json:"generated_at"`

	Totals  Totals        `json:"totals"`
	Bounces map[Group]int `json:"bounces"`

	TopBots        []Item `json:"top_bots"`
	TopBotNetworks []Item `json:"top_bot_networks"`
	BotCountries   []Item `json:"bot_countries"`
	HumanCountries []Item `json:"human_countries"`
	TopReferrers   []Item `json:"top_referrers"`
	TopBrowsers    []Item `json:"top_browsers"`
	TopPlatforms   []Item `json:"top_platforms"`
	TopPages       []Item `json:"top_pages"`
}

// Report builds a report from the last AnalyseAll pass with at most max rows
// per list
func (a *Analyzer) Report(max int) *Report {
	if max < 1 {
		max = DefaultMax
	}

	return &Report{
		ID:          uuid.NewString(),
		GeneratedAt: a.now().UTC(),
		Totals:      a.totals,
		Bounces: map[Group]int{
			GroupKnownBots:     a.BounceCount(GroupKnownBots),
			GroupSuspectedBots: a.BounceCount(GroupSuspectedBots),
			GroupHumans:        a.BounceCount(GroupHumans),
			GroupUsers:         a.BounceCount(GroupUsers),
		},
		TopBots:        a.TopBots(max),
		TopBotNetworks: a.TopBotNetworks(max),
		BotCountries:   a.TopCountries(CountriesBot, max),
		HumanCountries: a.TopCountries(CountriesHuman, max),
		TopReferrers:   a.TopReferrers(max),
		TopBrowsers:    a.TopBrowsers(max),
		TopPlatforms:   a.TopPlatforms(max),
		TopPages:       a.TopPages(max),
	}
}
