// Package config holds the botmon configuration backed by viper: defaults,
// an optional YAML file and BOTMON_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"

	"github.com/muliwe/botmon/internal/logrecord"
)

// EnvPrefix prefixes environment overrides, e.g. BOTMON_LOGS_DIR
const EnvPrefix = "BOTMON"

const (
	KeyLogsDir         = "logs.dir"
	KeyLogsURL         = "logs.url"
	KeySettingsDir     = "settings.dir"
	KeySettingsURL     = "settings.url"
	KeyCombineNets     = "analysis.combine_nets"
	KeyThreshold       = "analysis.threshold"
	KeySiteHost        = "analysis.site_host"
	KeyMaxItems        = "analysis.max"
	KeyServerAddr      = "server.addr"
	KeyServerDebug     = "server.debug"
	KeyTLSCert         = "server.tls_cert"
	KeyTLSKey          = "server.tls_key"
	KeyCookieName      = "server.cookie"
	KeyTrustProxy      = "server.trust_proxy"
	KeyResultsEnabled  = "results.enabled"
	KeyResultsDir      = "results.dir"
	KeyResultsFile     = "results.file"
	KeyConsoleLevel    = "console.level"
	KeyConsoleFormat   = "console.format"
	KeyCleanupSchedule = "cleanup.schedule"
)

// Config is the typed configuration
type Config struct {
	LogsDir     string // Directory of the daily log files
	LogsURL     string // Fetch logs over HTTP instead of LogsDir
	SettingsDir string // Directory with user settings overrides
	SettingsURL string // Fetch settings over HTTP before SettingsDir

	CombineNets bool
	Threshold   int // 0 keeps the rules file threshold
	SiteHost    string
	MaxItems    int

	ServerAddr  string
	ServerDebug bool
	TLSCertFile string
	TLSKeyFile  string
	CookieName  string
	TrustProxy  bool

	ResultsEnabled bool
	ResultsDir     string
	ResultsFile    string

	ConsoleLevel  string
	ConsoleFormat string

	CleanupSchedule string
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		LogsDir:         "logs",
		SettingsDir:     "config",
		CombineNets:     true,
		MaxItems:        10,
		ServerAddr:      ":8080",
		ServerDebug:     false,
		CookieName:      "DokuWiki",
		ResultsEnabled:  false,
		ResultsDir:      "logs",
		ResultsFile:     "results.jsonl",
		ConsoleLevel:    "info",
		ConsoleFormat:   "text",
		CleanupSchedule: "0 0 3 * * *",
	}
}

// SetDefaults registers DefaultConfig on v and enables BOTMON_* overrides
func SetDefaults(v *viper.Viper) {
	d := DefaultConfig()
	v.SetDefault(KeyLogsDir, d.LogsDir)
	v.SetDefault(KeyLogsURL, d.LogsURL)
	v.SetDefault(KeySettingsDir, d.SettingsDir)
	v.SetDefault(KeySettingsURL, d.SettingsURL)
	v.SetDefault(KeyCombineNets, d.CombineNets)
	v.SetDefault(KeyThreshold, d.Threshold)
	v.SetDefault(KeySiteHost, d.SiteHost)
	v.SetDefault(KeyMaxItems, d.MaxItems)
	v.SetDefault(KeyServerAddr, d.ServerAddr)
	v.SetDefault(KeyServerDebug, d.ServerDebug)
	v.SetDefault(KeyTLSCert, d.TLSCertFile)
	v.SetDefault(KeyTLSKey, d.TLSKeyFile)
	v.SetDefault(KeyCookieName, d.CookieName)
	v.SetDefault(KeyTrustProxy, d.TrustProxy)
	v.SetDefault(KeyResultsEnabled, d.ResultsEnabled)
	v.SetDefault(KeyResultsDir, d.ResultsDir)
	v.SetDefault(KeyResultsFile, d.ResultsFile)
	v.SetDefault(KeyConsoleLevel, d.ConsoleLevel)
	v.SetDefault(KeyConsoleFormat, d.ConsoleFormat)
	v.SetDefault(KeyCleanupSchedule, d.CleanupSchedule)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Load reads the typed configuration from v and validates it
func Load(v *viper.Viper) (Config, error) {
	cfg := Config{
		LogsDir:         v.GetString(KeyLogsDir),
		LogsURL:         v.GetString(KeyLogsURL),
		SettingsDir:     v.GetString(KeySettingsDir),
		SettingsURL:     v.GetString(KeySettingsURL),
		CombineNets:     v.GetBool(KeyCombineNets),
		Threshold:       v.GetInt(KeyThreshold),
		SiteHost:        v.GetString(KeySiteHost),
		MaxItems:        v.GetInt(KeyMaxItems),
		ServerAddr:      v.GetString(KeyServerAddr),
		ServerDebug:     v.GetBool(KeyServerDebug),
		TLSCertFile:     v.GetString(KeyTLSCert),
		TLSKeyFile:      v.GetString(KeyTLSKey),
		CookieName:      v.GetString(KeyCookieName),
		TrustProxy:      v.GetBool(KeyTrustProxy),
		ResultsEnabled:  v.GetBool(KeyResultsEnabled),
		ResultsDir:      v.GetString(KeyResultsDir),
		ResultsFile:     v.GetString(KeyResultsFile),
		ConsoleLevel:    v.GetString(KeyConsoleLevel),
		ConsoleFormat:   v.GetString(KeyConsoleFormat),
		CleanupSchedule: v.GetString(KeyCleanupSchedule),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// TLSEnabled reports whether both certificate and key are configured
func (c Config) TLSEnabled() bool {
	return c.TLSCertFile != "" && c.TLSKeyFile != ""
}

// Validate checks the configuration for inconsistent values
func (c Config) Validate() error {
	var errs []error
	if c.LogsDir == "" && c.LogsURL == "" {
		errs = append(errs, errors.New("either logs.dir or logs.url must be set"))
	}
	if c.Threshold < 0 {
		errs = append(errs, fmt.Errorf("analysis.threshold must not be negative, got %d", c.Threshold))
	}
	if c.MaxItems < 1 {
		errs = append(errs, fmt.Errorf("analysis.max must be at least 1, got %d", c.MaxItems))
	}
	if (c.TLSCertFile == "") != (c.TLSKeyFile == "") {
		errs = append(errs, errors.New("server.tls_cert and server.tls_key must be set together"))
	}
	if c.CleanupSchedule != "" {
		if _, err := cron.NewParser(CronFields).Parse(c.CleanupSchedule); err != nil {
			errs = append(errs, fmt.Errorf("invalid cleanup.schedule %q: %w", c.CleanupSchedule, err))
		}
	}
	return errors.Join(errs...)
}

// CronFields is the cron spec format used for schedules: seconds first
const CronFields = cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor

// Day selectors for ResolveDate
const (
	DayToday     = "today"
	DayYesterday = "yesterday"
)

// ResolveDate returns the log date to analyse. An explicit date wins over
// the day selector; both are resolved in GMT like the log file names.
func ResolveDate(date, day string, now time.Time) (string, error) {
	if date != "" {
		t, err := time.Parse(logrecord.DateLayout, date)
		if err != nil {
			return "", fmt.Errorf("invalid date %q, want YYYY-MM-DD", date)
		}
		return t.Format(logrecord.DateLayout), nil
	}

	switch strings.ToLower(day) {
	case "", DayToday:
		return logrecord.DateOf(now), nil
	case DayYesterday:
		return logrecord.DateOf(now.UTC().AddDate(0, 0, -1)), nil
	default:
		return "", fmt.Errorf("invalid day %q, want today or yesterday", day)
	}
}
