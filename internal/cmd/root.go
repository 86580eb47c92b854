package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/muliwe/botmon/internal/config"
	"github.com/muliwe/botmon/internal/engine"
	"github.com/muliwe/botmon/internal/ingest"
	"github.com/muliwe/botmon/internal/logger"
)

var cfgFile string

// rootCmd is the base command when called without subcommands.
var rootCmd = &cobra.Command{
	Use:   "botmon",
	Short: "BotMon: bot detection and visitor analytics for wiki logs",
	Long: `BotMon collects visit logs from a wiki (server hook, page view script and
heartbeat ticker), merges them into one visitor model per day, classifies
every visitor as known bot, likely bot, human or logged in user and builds
ranked statistics from the result.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	config.SetDefaults(viper.GetViper())

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&cfgFile, "config", "c", "", "config file (default: $HOME/.botmon.yaml or ./.botmon.yaml)")
	pf.String("logs", config.DefaultConfig().LogsDir, "directory of the daily log files")
	pf.String("logs-url", "", "fetch the daily log files from this URL instead")
	pf.String("settings", config.DefaultConfig().SettingsDir, "directory with user settings (user-config.json, ...)")
	pf.String("settings-url", "", "fetch user settings from this URL first")
	pf.String("log-level", config.DefaultConfig().ConsoleLevel, "console log level: trace, debug, info, warn, error, off")
	pf.String("log-format", config.DefaultConfig().ConsoleFormat, "console log format: text, json")

	cobra.CheckErr(bindFlags(rootCmd, map[string]string{
		config.KeyLogsDir:       "logs",
		config.KeyLogsURL:       "logs-url",
		config.KeySettingsDir:   "settings",
		config.KeySettingsURL:   "settings-url",
		config.KeyConsoleLevel:  "log-level",
		config.KeyConsoleFormat: "log-format",
	}))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.SetConfigName(".botmon")
		viper.SetConfigType("yaml")
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || cfgFile != "" {
			cobra.CheckErr(fmt.Errorf("read config: %w", err))
		}
	}
}

// bindFlags binds command flags to config keys. Subcommands sharing a key
// bind in PreRunE so that only the running command's flag is bound.
func bindFlags(c *cobra.Command, keys map[string]string) error {
	for key, name := range keys {
		f := c.Flags().Lookup(name)
		if f == nil {
			f = c.PersistentFlags().Lookup(name)
		}
		if f == nil {
			return fmt.Errorf("unknown flag %q for %s", name, key)
		}
		if err := viper.BindPFlag(key, f); err != nil {
			return err
		}
	}
	return nil
}

// loadConfig returns the validated configuration and the console logger
func loadConfig() (config.Config, *pterm.Logger, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return cfg, nil, fmt.Errorf("invalid configuration: %w", err)
	}

	l, err := logger.NewConsole(cfg.ConsoleLevel, cfg.ConsoleFormat)
	if err != nil {
		return cfg, nil, err
	}
	if f := viper.ConfigFileUsed(); f != "" {
		l.Debug("Using config file", l.Args("file", f))
	}
	return cfg, l, nil
}

// logSource returns where the daily log files are read from
func logSource(cfg config.Config) ingest.Source {
	if cfg.LogsURL != "" {
		return ingest.HTTPSource{BaseURL: cfg.LogsURL}
	}
	return ingest.FSSource{FS: os.DirFS(cfg.LogsDir)}
}

// settingsSource layers user settings over the embedded defaults. A file in
// the settings dir shadows the embedded file of the same name.
func settingsSource(cfg config.Config) ingest.Source {
	var src ingest.Fallback
	if cfg.SettingsURL != "" {
		src = append(src, ingest.HTTPSource{BaseURL: cfg.SettingsURL})
	}
	if cfg.SettingsDir != "" {
		src = append(src, ingest.FSSource{FS: os.DirFS(cfg.SettingsDir)})
	}
	return append(src, engine.DefaultSettings())
}

// engineOptions maps the configuration onto engine options
func engineOptions(cfg config.Config, l *pterm.Logger) engine.Options {
	return engine.Options{
		Logs:        logSource(cfg),
		Settings:    settingsSource(cfg),
		CombineNets: cfg.CombineNets,
		Threshold:   cfg.Threshold,
		SiteHost:    cfg.SiteHost,
		MaxItems:    cfg.MaxItems,
		Logger:      l,
	}
}

// resultsConfig returns the JSONL results log configuration
func resultsConfig(cfg config.Config) logger.Config {
	return logger.Config{
		LogDir:   cfg.ResultsDir,
		FileName: filepath.Base(cfg.ResultsFile),
	}
}
