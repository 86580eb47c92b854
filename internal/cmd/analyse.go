package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/muliwe/botmon/internal/config"
	"github.com/muliwe/botmon/internal/engine"
	"github.com/muliwe/botmon/internal/logger"
	"github.com/muliwe/botmon/internal/output"
)

var (
	analyseDate   string
	analyseDay    string
	analyseOutput string
)

var analyseCmd = &cobra.Command{
	Use:     "analyse",
	Aliases: []string{"analyze"},
	Short:   "Analyse the logs of one day and print the report",
	Long: `Merge the server, page load and ticker logs of one day into visitors,
classify them and print the ranked statistics.

Load problems (a missing log file, broken settings) are reported in the
output and do not abort the analysis.

Examples:
  botmon analyse
  botmon analyse --day yesterday --max 20
  botmon analyse --date 2025-01-01 --output json`,
	Args: cobra.NoArgs,
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return bindFlags(cmd, map[string]string{
			config.KeyMaxItems:       "max",
			config.KeyThreshold:      "threshold",
			config.KeySiteHost:       "site",
			config.KeyResultsEnabled: "results",
		})
	},
	RunE: runAnalyse,
}

func init() {
	rootCmd.AddCommand(analyseCmd)

	f := analyseCmd.Flags()
	f.StringVar(&analyseDate, "date", "", "analyse this date (YYYY-MM-DD, GMT)")
	f.StringVar(&analyseDay, "day", config.DayToday, "analyse today or yesterday (GMT)")
	f.StringVarP(&analyseOutput, "output", "o", output.FormatText, "output format: text, json")
	f.Int("max", config.DefaultConfig().MaxItems, "rows per ranked list")
	f.Int("threshold", 0, "bot score threshold (0 uses the rules file)")
	f.String("site", "", "own host name; referrers from it are not counted")
	f.Bool("results", false, "append one JSON line per classified visitor to the results log")
}

func runAnalyse(cmd *cobra.Command, args []string) error {
	cfg, l, err := loadConfig()
	if err != nil {
		return err
	}

	date, err := config.ResolveDate(analyseDate, analyseDay, time.Now())
	if err != nil {
		return err
	}

	renderer, err := output.New(analyseOutput, cmd.OutOrStdout())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := engineOptions(cfg, l)
	if cfg.ResultsEnabled {
		results, err := logger.New(resultsConfig(cfg))
		if err != nil {
			return fmt.Errorf("failed to open results log: %w", err)
		}
		defer results.Close()
		opts.Results = results
	}

	res, err := engine.New(opts).Analyse(ctx, date)
	if err != nil {
		return fmt.Errorf("analysis of %s aborted: %w", date, err)
	}
	return renderer.Render(res)
}
