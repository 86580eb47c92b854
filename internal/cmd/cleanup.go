package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/muliwe/botmon/internal/cleanup"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete log files older than yesterday",
	Long: `Delete every daily log file in the log directory that is dated neither
today nor yesterday (GMT).

With --schedule the command keeps running and cleans up on the given cron
spec instead.

Examples:
  botmon cleanup --logs /var/lib/botmon/logs
  botmon cleanup --schedule "0 0 3 * * *"`,
	Args: cobra.NoArgs,
	RunE: runCleanup,
}

func init() {
	rootCmd.AddCommand(cleanupCmd)

	cleanupCmd.Flags().String("schedule", "", "run on this cron spec (seconds first) until interrupted")
}

func runCleanup(cmd *cobra.Command, args []string) error {
	cfg, l, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.LogsDir == "" {
		return fmt.Errorf("cleanup needs a log directory (--logs)")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cleaner := cleanup.NewCleaner(cfg.LogsDir, l)

	spec, _ := cmd.Flags().GetString("schedule")
	if spec == "" {
		res, err := cleaner.Clean(ctx)
		out := cmd.OutOrStdout()
		for _, f := range res.Kept {
			fmt.Fprintf(out, "File %q skipped.\n", f)
		}
		for _, f := range res.Deleted {
			fmt.Fprintf(out, "File %q deleted.\n", f)
		}
		for _, f := range res.Failed {
			fmt.Fprintf(out, "File %q could not be deleted!\n", f)
		}
		fmt.Fprintln(out, "Done.")
		return err
	}

	sched, err := cleanup.NewScheduler(cleaner, spec, l)
	if err != nil {
		return err
	}
	sched.Start()
	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return sched.Stop(stopCtx)
}
