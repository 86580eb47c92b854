package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	v := viper.New()
	SetDefaults(v)

	cfg, err := Load(v)
	require.NoError(t, err)
	require.Equal(t, DefaultConfig(), cfg)
	require.False(t, cfg.TLSEnabled())
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("BOTMON_LOGS_DIR", "/var/log/wiki")
	t.Setenv("BOTMON_ANALYSIS_THRESHOLD", "80")
	t.Setenv("BOTMON_ANALYSIS_COMBINE_NETS", "false")

	v := viper.New()
	SetDefaults(v)

	cfg, err := Load(v)
	require.NoError(t, err)
	require.Equal(t, "/var/log/wiki", cfg.LogsDir)
	require.Equal(t, 80, cfg.Threshold)
	require.False(t, cfg.CombineNets)
}

func TestLoad_YAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "botmon.yaml")
	data := []byte(`
server:
  addr: ":9090"
  debug: true
analysis:
  site_host: wiki.example.org
  max: 25
`)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	v := viper.New()
	SetDefaults(v)
	v.SetConfigFile(path)
	require.NoError(t, v.ReadInConfig())

	cfg, err := Load(v)
	require.NoError(t, err)
	require.Equal(t, ":9090", cfg.ServerAddr)
	require.True(t, cfg.ServerDebug)
	require.Equal(t, "wiki.example.org", cfg.SiteHost)
	require.Equal(t, 25, cfg.MaxItems)
	require.Equal(t, "logs", cfg.LogsDir, "unset keys keep their defaults")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"no log source", func(c *Config) { c.LogsDir = "" }},
		{"negative threshold", func(c *Config) { c.Threshold = -1 }},
		{"zero max", func(c *Config) { c.MaxItems = 0 }},
		{"cert without key", func(c *Config) { c.TLSCertFile = "cert.pem" }},
		{"bad schedule", func(c *Config) { c.CleanupSchedule = "every day" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			require.Error(t, cfg.Validate())
		})
	}

	cfg := DefaultConfig()
	cfg.LogsDir = ""
	cfg.LogsURL = "https://wiki.example.org/botmon/logs/"
	require.NoError(t, cfg.Validate(), "a log URL replaces the directory")
}

func TestResolveDate(t *testing.T) {
	// 00:30 in Berlin is still the previous day in GMT
	berlin := time.FixedZone("CET", 3600)
	now := time.Date(2025, 3, 2, 0, 30, 0, 0, berlin)

	tests := []struct {
		date, day string
		want      string
		wantErr   bool
	}{
		{"", "", "2025-03-01", false},
		{"", "today", "2025-03-01", false},
		{"", "Yesterday", "2025-02-28", false},
		{"2024-12-24", "yesterday", "2024-12-24", false},
		{"24.12.2024", "", "", true},
		{"", "tomorrow", "", true},
	}

	for _, tt := range tests {
		got, err := ResolveDate(tt.date, tt.day, now)
		if tt.wantErr {
			require.Error(t, err)
			continue
		}
		require.NoError(t, err)
		require.Equal(t, tt.want, got)
	}
}
