package visitor

import (
	"io"
	"testing"
	"time"

	"github.com/pterm/pterm"
	"github.com/stretchr/testify/require"

	"github.com/muliwe/botmon/internal/catalog"
	"github.com/muliwe/botmon/internal/logrecord"
	"github.com/muliwe/botmon/internal/netrange"
)

const googlebotUA = "Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)"
const firefoxUA = "Mozilla/5.0 (X11; Linux x86_64; rv:128.0) Gecko/20100101 Firefox/128.0"

var t0 = time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)

func newTestModel(t *testing.T, combineNets bool) *Model {
	t.Helper()

	bots, err := catalog.New(catalog.KindBots, []catalog.Entry{
		{ID: "googlebot", Name: "Googlebot", Patterns: []string{`Googlebot\/(\d+\.\d+)`}, Geo: "US"},
	})
	require.NoError(t, err)
	clients, err := catalog.New(catalog.KindClients, []catalog.Entry{
		{ID: "firefox", Name: "Firefox", Patterns: []string{`Firefox\/(\d+)`}},
	})
	require.NoError(t, err)
	platforms, err := catalog.New(catalog.KindPlatforms, []catalog.Entry{
		{ID: "linux", Name: "Linux", Patterns: []string{`Linux`}},
	})
	require.NoError(t, err)

	ranges := netrange.NewIndex()
	ranges.AddGroup(netrange.Group{ID: "scanners", Name: "Scanner Net"})
	require.NoError(t, ranges.Add(netrange.Spec{From: "198.51.100.0", To: "198.51.100.255", Mask: 24, Group: "scanners"}))

	return NewModel(Options{
		Bots:        bots,
		Clients:     clients,
		Platforms:   platforms,
		Ranges:      ranges,
		CombineNets: combineNets,
		Logger:      pterm.DefaultLogger.WithWriter(io.Discard),
	})
}

func srv(ts time.Time, ip, page, id, agent string) logrecord.Record {
	return logrecord.Record{
		Kind:        logrecord.KindServer,
		Timestamp:   ts,
		IP:          ip,
		Page:        page,
		SessionID:   id,
		SessionType: logrecord.SessionDokuWiki,
		Agent:       agent,
	}
}

func TestRegisterVisit_KnownBot(t *testing.T) {
	m := newTestModel(t, true)

	v := m.RegisterVisit(srv(t0, "203.0.113.5", "start", "", googlebotUA), logrecord.KindServer)
	require.Equal(t, TypeKnownBot, v.Type)
	require.Equal(t, "googlebot", v.Bot.ID)
	require.Equal(t, "US", v.Geo, "country defaults to the bot's")
	require.Equal(t, "United States", v.Country)
	require.Nil(t, v.IPRange)
	require.Equal(t, "googlebot", v.Key())

	// same bot from another address merges into one visitor
	v2 := m.RegisterVisit(srv(t0.Add(time.Minute), "203.0.113.99", "other", "", googlebotUA), logrecord.KindServer)
	require.Same(t, v, v2)
	require.Equal(t, 1, m.Len())
	require.Len(t, v.PageViews, 2)
}

func TestRegisterVisit_Idempotent(t *testing.T) {
	m := newTestModel(t, true)
	rec := srv(t0, "192.0.2.10", "start", "sess-1", firefoxUA)

	v1 := m.RegisterVisit(rec, logrecord.KindServer)
	v2 := m.RegisterVisit(rec, logrecord.KindServer)

	require.Same(t, v1, v2)
	require.Equal(t, 1, m.Len())
	require.Len(t, v1.PageViews, 1)
	require.Equal(t, 2, v1.LoadCount)
	require.Equal(t, 2, v1.PageViews[0].LoadCount)
}

func TestRegisterVisit_UserAndEnrichment(t *testing.T) {
	m := newTestModel(t, true)
	rec := srv(t0, "192.0.2.10", "start", "sess-1", firefoxUA)
	rec.User = "alice"
	rec.Geo = "DE"
	rec.Lang = "de"

	v := m.RegisterVisit(rec, logrecord.KindServer)
	require.Equal(t, TypeUser, v.Type)
	require.Equal(t, "Germany", v.Country)
	require.Equal(t, "firefox", v.ClientID())
	require.Equal(t, "128", v.Client.Version)
	require.Equal(t, "linux", v.PlatformID())
	require.Equal(t, "de", v.PageViews[0].Lang)
}

func TestRegisterVisit_DefaultsCountryAndLang(t *testing.T) {
	m := newTestModel(t, true)

	v := m.RegisterVisit(srv(t0, "192.0.2.10", "start", "s", "curl/8.0"), logrecord.KindServer)
	require.Equal(t, "ZZ", v.Geo)
	require.Equal(t, "Unknown", v.Country)
	require.Equal(t, "??", v.PageViews[0].Lang)
	require.Nil(t, v.Client)
}

func TestRegisterVisit_CaptchaCountsLoadNotView(t *testing.T) {
	m := newTestModel(t, true)

	blocked := srv(t0, "192.0.2.10", "start", "s", firefoxUA)
	blocked.Captcha = logrecord.CaptchaBlocked
	passed := srv(t0.Add(time.Second), "192.0.2.10", "start", "s", firefoxUA)
	passed.Captcha = logrecord.CaptchaPassed

	m.RegisterVisit(blocked, logrecord.KindServer)
	v := m.RegisterVisit(passed, logrecord.KindServer)

	require.Equal(t, 2, v.LoadCount)
	require.Equal(t, 1, v.ViewCount)
	require.Equal(t, 1, v.PageViews[0].LoadCount)
	require.Equal(t, "YN", v.Captcha.String())
	require.Equal(t, "Solved", v.Captcha.Title())
}

func TestRegisterVisit_SeenBoundsWiden(t *testing.T) {
	m := newTestModel(t, true)

	m.RegisterVisit(srv(t0, "192.0.2.10", "a", "s", firefoxUA), logrecord.KindServer)
	m.RegisterVisit(srv(t0.Add(-time.Hour), "192.0.2.10", "b", "s", firefoxUA), logrecord.KindServer)
	v := m.RegisterVisit(srv(t0.Add(time.Hour), "192.0.2.10", "c", "s", firefoxUA), logrecord.KindServer)

	require.Equal(t, t0.Add(-time.Hour), v.FirstSeen)
	require.Equal(t, t0.Add(time.Hour), v.LastSeen)
	require.False(t, v.LastSeen.Before(v.FirstSeen))
}

func TestFindVisitor_FallsBackToIPAndAgent(t *testing.T) {
	m := newTestModel(t, true)

	v1 := m.RegisterVisit(srv(t0, "192.0.2.10", "a", "", firefoxUA), logrecord.KindServer)
	v2 := m.RegisterVisit(srv(t0, "192.0.2.10", "b", "", firefoxUA), logrecord.KindServer)
	v3 := m.RegisterVisit(srv(t0, "192.0.2.10", "b", "", "Other UA"), logrecord.KindServer)

	require.Same(t, v1, v2)
	require.NotSame(t, v1, v3)
	require.Equal(t, 2, m.Len())
}

func TestFindVisitor_CombinesNetworks(t *testing.T) {
	m := newTestModel(t, true)

	v1 := m.RegisterVisit(srv(t0, "198.51.100.1", "a", "s1", "UA one"), logrecord.KindServer)
	v2 := m.RegisterVisit(srv(t0, "198.51.100.2", "b", "s2", "UA two"), logrecord.KindServer)

	require.Same(t, v1, v2)
	require.NotNil(t, v1.IPRange)
	require.Equal(t, "scanners", v1.Key())
}

func TestFindVisitor_NetworksSeparateWhenDisabled(t *testing.T) {
	m := newTestModel(t, false)

	v1 := m.RegisterVisit(srv(t0, "198.51.100.1", "a", "s1", "UA one"), logrecord.KindServer)
	v2 := m.RegisterVisit(srv(t0, "198.51.100.2", "b", "s2", "UA two"), logrecord.KindServer)

	require.NotSame(t, v1, v2)
	require.NotNil(t, v2.IPRange, "range is still recorded for rules")
}

func TestFindVisitor_RangeFallsBackToSession(t *testing.T) {
	m := newTestModel(t, true)

	v1 := m.RegisterVisit(srv(t0, "192.0.2.10", "a", "s1", "UA"), logrecord.KindServer)
	v2 := m.RegisterVisit(srv(t0, "198.51.100.7", "b", "s1", "UA"), logrecord.KindServer)

	require.Same(t, v1, v2)
}

func TestUpdateVisit_CrossStream(t *testing.T) {
	m := newTestModel(t, true)

	m.RegisterVisit(srv(t0, "192.0.2.10", "start", "sess-1", firefoxUA), logrecord.KindServer)
	v := m.UpdateVisit(logrecord.Record{
		Kind:      logrecord.KindClient,
		Timestamp: t0.Add(1200 * time.Millisecond),
		IP:        "192.0.2.10",
		Page:      "start",
		SessionID: "sess-1",
		Agent:     firefoxUA,
	})

	require.Equal(t, 1, m.Len())
	require.ElementsMatch(t, []logrecord.Kind{logrecord.KindServer, logrecord.KindClient}, v.SeenBy)
	require.True(t, v.JSClient)
	require.Len(t, v.PageViews, 1)
	require.True(t, v.PageViews[0].JSClient)
	require.Equal(t, 1, v.PageViews[0].TickCount)
	require.Equal(t, t0.Add(1200*time.Millisecond), v.LastSeen)
}

func TestUpdateVisit_RegistersMissingVisitor(t *testing.T) {
	m := newTestModel(t, true)

	v := m.UpdateVisit(logrecord.Record{
		Kind:      logrecord.KindClient,
		Timestamp: t0,
		IP:        "192.0.2.10",
		Page:      "start",
		SessionID: "sess-9",
		Agent:     firefoxUA,
	})

	require.Equal(t, 1, m.Len())
	require.Equal(t, []logrecord.Kind{logrecord.KindClient}, v.SeenBy)
	require.Len(t, v.PageViews, 1)
	require.GreaterOrEqual(t, v.LoadCount, v.ViewCount)
}

func TestUpdateTicks(t *testing.T) {
	m := newTestModel(t, true)

	m.RegisterVisit(srv(t0, "192.0.2.10", "start", "sess-1", firefoxUA), logrecord.KindServer)
	tick := logrecord.Record{Kind: logrecord.KindTicker, Timestamp: t0.Add(30 * time.Second), IP: "192.0.2.10", Page: "start", SessionID: "sess-1", Agent: firefoxUA}
	m.UpdateTicks(tick)
	tick.Timestamp = t0.Add(60 * time.Second)
	tick.Page = "elsewhere"
	v := m.UpdateTicks(tick)

	require.Equal(t, 1, m.Len())
	require.True(t, v.SeenByKind(logrecord.KindTicker))
	require.False(t, v.JSClient)
	require.Len(t, v.PageViews, 2)
	require.Equal(t, 1, v.PageView("start").TickCount)
	require.Equal(t, 1, v.PageView("elsewhere").TickCount)
	require.Equal(t, t0.Add(60*time.Second), v.LastSeen)
}

func TestPageView_InvalidReferrer(t *testing.T) {
	m := newTestModel(t, true)

	rec := srv(t0, "192.0.2.10", "start", "s", firefoxUA)
	rec.Referrer = "not a url"
	v := m.RegisterVisit(rec, logrecord.KindServer)
	require.Nil(t, v.PageViews[0].Referrer)
	require.False(t, v.HasReferrer)

	rec.Page = "next"
	rec.Referrer = "https://search.example.com/?q=wiki"
	v = m.RegisterVisit(rec, logrecord.KindServer)
	require.Equal(t, "search.example.com", v.PageView("next").Referrer.Host)
	require.True(t, v.HasReferrer)
}

func TestClassify_Once(t *testing.T) {
	v := &Visitor{Type: TypeUnknown}
	require.NoError(t, v.Classify(TypeHuman, &Evaluation{WeightSum: 10}))
	require.ErrorIs(t, v.Classify(TypeLikelyBot, nil), ErrAlreadyClassified)
	require.Equal(t, TypeHuman, v.Type)
	require.True(t, v.Classified())
}

func TestCaptchaTitle(t *testing.T) {
	tests := []struct {
		c    Captcha
		want string
	}{
		{Captcha{Y: 2}, "Blocked."},
		{Captcha{Y: 1, N: 1}, "Solved"},
		{Captcha{W: 3}, "Whitelisted"},
		{Captcha{H: 1}, "HEAD request, no captcha"},
		{Captcha{}, "Undefined: "},
		{Captcha{X: 1, N: 1}, "Undefined: XN"},
	}

	for _, tt := range tests {
		require.Equal(t, tt.want, tt.c.Title())
	}
}

func TestFacts(t *testing.T) {
	m := newTestModel(t, true)
	v := m.RegisterVisit(srv(t0, "192.0.2.10", "start", "s", firefoxUA), logrecord.KindServer)

	f := v.Facts()
	require.Equal(t, "firefox", f["client"])
	require.Equal(t, float64(1), f["views"])
	require.Equal(t, []any{"srv"}, f["seenBy"])
}
