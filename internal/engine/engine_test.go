package engine

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"os"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/pterm/pterm"
	"github.com/stretchr/testify/require"

	"github.com/muliwe/botmon/internal/ingest"
	"github.com/muliwe/botmon/internal/logger"
	"github.com/muliwe/botmon/internal/visitor"
)

const (
	googlebotUA = "Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)"
	firefoxUA   = "Mozilla/5.0 (X11; Linux x86_64; rv:128.0) Gecko/20100101 Firefox/128.0"
)

func line(cols ...string) string {
	return strings.Join(cols, "\t") + "\n"
}

func testLogs() fstest.MapFS {
	srv := line("2025-01-01 10:00:00", "66.249.66.1", "start", "", "ip", "", googlebotUA, "", "en", "", "", "-") +
		line("2025-01-01 10:05:00", "192.0.2.10", "start", "sess-1", "dw", "", firefoxUA, "https://www.google.com/", "en", "en,de", "DE", "-") +
		line("2025-01-01 10:07:00", "192.0.2.10", "wiki:syntax", "sess-1", "dw", "", firefoxUA, "https://wiki.example.org/start", "en", "en,de", "DE", "-")
	clientLog := line("2025-01-01 10:05:01", "192.0.2.10", "start", "sess-1", "", "420", "https://www.google.com/", firefoxUA) +
		line("2025-01-01 10:07:01", "192.0.2.10", "wiki:syntax", "sess-1", "", "380", "https://wiki.example.org/start", firefoxUA)
	ticks := line("2025-01-01 10:06:00", "192.0.2.10", "start", "sess-1", firefoxUA)

	return fstest.MapFS{
		"2025-01-01.srv.txt": {Data: []byte(srv)},
		"2025-01-01.log.txt": {Data: []byte(clientLog)},
		"2025-01-01.tck.txt": {Data: []byte(ticks)},
	}
}

func quiet() *pterm.Logger {
	return pterm.DefaultLogger.WithWriter(io.Discard)
}

func TestAnalyse(t *testing.T) {
	e := New(Options{
		Logs:        ingest.FSSource{FS: testLogs()},
		CombineNets: true,
		SiteHost:    "wiki.example.org",
		Logger:      quiet(),
	})

	res, err := e.Analyse(context.Background(), "2025-01-01")
	require.NoError(t, err)
	require.False(t, res.Status.Incomplete, res.Status.Messages)
	require.Equal(t, "default-config.json", res.Settings["rules"])
	require.Equal(t, "known-ipranges.json", res.Settings["IP ranges"])

	require.Len(t, res.Visitors, 2)
	types := map[string]visitor.Type{}
	for _, v := range res.Visitors {
		types[v.Key()] = v.Type
		require.True(t, v.Classified())
	}
	require.Equal(t, visitor.TypeKnownBot, types["googlebot"])
	require.Equal(t, visitor.TypeHuman, types["sess-1"])

	r := res.Report
	require.NotEmpty(t, r.ID)
	require.Equal(t, 1, r.Totals.Visits.Bots)
	require.Equal(t, 1, r.Totals.Visits.Humans)
	require.Len(t, r.TopBots, 1)
	require.Equal(t, "google", r.TopBotNetworks[0].ID, "googlebot address lies in the catalogued range")
	require.Equal(t, "firefox", r.TopBrowsers[0].ID)
	require.Equal(t, "google", r.TopReferrers[0].ID)
	require.Len(t, r.TopReferrers, 1, "internal referrer is not counted")
}

func TestAnalyse_MissingSettingsAreNonFatal(t *testing.T) {
	e := New(Options{
		Logs:     ingest.FSSource{FS: testLogs()},
		Settings: ingest.FSSource{FS: fstest.MapFS{}},
		Logger:   quiet(),
	})

	res, err := e.Analyse(context.Background(), "2025-01-01")
	require.NoError(t, err)
	require.True(t, res.Status.Incomplete)
	require.Len(t, res.Status.Messages, 5)
	require.Len(t, res.Visitors, 2, "visitors are still built with empty catalogs")

	// the generic bot heuristic still recognises Googlebot
	found := false
	for _, v := range res.Visitors {
		if v.Type == visitor.TypeKnownBot {
			found = true
		}
	}
	require.True(t, found)
}

func TestAnalyse_UserSettingsOverrideDefaults(t *testing.T) {
	settings := ingest.Fallback{
		ingest.FSSource{FS: fstest.MapFS{
			"user-config.json": {Data: []byte(`{"threshold": 10, "rules": [{"id": "all", "func": "smallPageCount", "params": [100], "bot": 10}]}`)},
		}},
		DefaultSettings(),
	}

	e := New(Options{Logs: ingest.FSSource{FS: testLogs()}, Settings: settings, Logger: quiet()})
	res, err := e.Analyse(context.Background(), "2025-01-01")
	require.NoError(t, err)
	require.Equal(t, "user-config.json", res.Settings["rules"])
	require.Equal(t, 1, res.Report.Totals.Visits.Suspected)
}

func TestAnalyse_InvalidUserRulesAreReported(t *testing.T) {
	settings := ingest.Fallback{
		ingest.FSSource{FS: fstest.MapFS{
			"user-config.json": {Data: []byte(`{"rules": [{"id": "typo", "func": "smallPageCont", "params": [2], "bot": 50}]}`)},
		}},
		DefaultSettings(),
	}

	e := New(Options{Logs: ingest.FSSource{FS: testLogs()}, Settings: settings, Logger: quiet()})
	res, err := e.Analyse(context.Background(), "2025-01-01")
	require.NoError(t, err)
	require.Equal(t, "default-config.json", res.Settings["rules"])
	require.False(t, res.Status.Incomplete, "the defaults were loaded")
	require.Len(t, res.Status.Messages, 1)
	require.Contains(t, res.Status.Messages[0], "user-config.json")
	require.Contains(t, res.Status.Messages[0], "smallPageCont")
}

func TestAnalyse_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(Options{Logs: ingest.FSSource{FS: testLogs()}, Logger: quiet()}).Analyse(ctx, "2025-01-01")
	require.ErrorIs(t, err, context.Canceled)
}

func TestAnalyse_WritesResultsLog(t *testing.T) {
	results, err := logger.New(logger.Config{LogDir: t.TempDir(), FileName: "results.jsonl"})
	require.NoError(t, err)

	e := New(Options{Logs: ingest.FSSource{FS: testLogs()}, Results: results, Logger: quiet()})
	res, err := e.Analyse(context.Background(), "2025-01-01")
	require.NoError(t, err)
	require.NoError(t, results.Close())

	f, err := os.Open(results.LogPath())
	require.NoError(t, err)
	defer f.Close()

	n := 0
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var entry logger.LogEntry
		require.NoError(t, json.Unmarshal(sc.Bytes(), &entry))
		require.Equal(t, res.Report.ID, entry.ReportID)
		require.NotEmpty(t, entry.Reason)
		n++
	}
	require.Equal(t, len(res.Visitors), n)
}
