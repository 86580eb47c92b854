package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/muliwe/botmon/internal/config"
	"github.com/muliwe/botmon/internal/engine"
	"github.com/muliwe/botmon/internal/ingest"
)

const googlebotLine = "2025-01-01 10:00:00\t66.249.66.1\tstart\t\tip\t\tMozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)\t\ten\t\t\t-\n"

func TestSettingsSource(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "user-config.json"), []byte(`{"rules":[]}`), 0o644))

	cfg := config.DefaultConfig()
	cfg.SettingsDir = dir
	src := settingsSource(cfg)

	rc, err := src.Open(context.Background(), "user-config.json")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	require.JSONEq(t, `{"rules":[]}`, string(data))

	rc, err = src.Open(context.Background(), "known-bots.json")
	require.NoError(t, err, "embedded defaults are the last fallback")
	require.NoError(t, rc.Close())

	_, err = src.Open(context.Background(), "missing.json")
	require.ErrorIs(t, err, ingest.ErrNotFound)
}

func TestLogSource(t *testing.T) {
	cfg := config.DefaultConfig()
	require.IsType(t, ingest.FSSource{}, logSource(cfg))

	cfg.LogsURL = "https://wiki.example.org/botmon/logs"
	require.Equal(t, ingest.HTTPSource{BaseURL: cfg.LogsURL}, logSource(cfg))
}

func TestAnalyseCommand(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "2025-01-01.srv.txt"), []byte(googlebotLine), 0o644))

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{
		"analyse",
		"--logs", dir,
		"--settings", t.TempDir(),
		"--date", "2025-01-01",
		"--output", "json",
		"--log-level", "off",
	})
	require.NoError(t, rootCmd.Execute())

	var res engine.Result
	require.NoError(t, json.Unmarshal(out.Bytes(), &res))
	require.Equal(t, "2025-01-01", res.Date)
	require.True(t, res.Status.Incomplete, "page load and ticker logs are missing")
	require.Equal(t, 1, res.Report.Totals.Visits.Bots)
	require.Equal(t, "default-config.json", res.Settings["rules"])
}
