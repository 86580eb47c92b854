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
	"github.com/muliwe/botmon/internal/config"
	"github.com/muliwe/botmon/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the logging endpoints and the report API",
	Long: `Serve the endpoints the wiki calls to write the daily logs
(/hit, /pview, /tick) together with /api/report and /health.

Old log files are removed on the cleanup schedule unless --no-cleanup is set.

Examples:
  botmon serve --addr :9090 --logs /var/lib/botmon/logs
  BOTMON_SERVER_DEBUG=true botmon serve`,
	Args: cobra.NoArgs,
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return bindFlags(cmd, map[string]string{
			config.KeyServerAddr:     "addr",
			config.KeyServerDebug:    "debug",
			config.KeyTLSCert:        "tls-cert",
			config.KeyTLSKey:         "tls-key",
			config.KeyTrustProxy:     "trust-proxy",
			config.KeyResultsEnabled: "results",
		})
	},
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	f := serveCmd.Flags()
	f.String("addr", config.DefaultConfig().ServerAddr, "listen address")
	f.Bool("debug", false, "enable /debug/visitors")
	f.String("tls-cert", "", "TLS certificate file")
	f.String("tls-key", "", "TLS key file")
	f.Bool("trust-proxy", false, "take the client address from X-Forwarded-For")
	f.Bool("results", false, "append one JSON line per classified visitor to the results log")
	f.Bool("no-cleanup", false, "do not delete old log files")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, l, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	scfg := server.DefaultConfig()
	scfg.Addr = cfg.ServerAddr
	scfg.EnableDebug = cfg.ServerDebug
	scfg.LogDir = cfg.LogsDir
	scfg.CookieName = cfg.CookieName
	scfg.TrustForwarded = cfg.TrustProxy
	scfg.Engine = engineOptions(cfg, l)
	scfg.ResultsEnabled = cfg.ResultsEnabled
	scfg.LoggerConfig = resultsConfig(cfg)
	scfg.Logger = l
	scfg.TLSEnabled = cfg.TLSEnabled()
	scfg.TLSCertFile = cfg.TLSCertFile
	scfg.TLSKeyFile = cfg.TLSKeyFile

	srv, err := server.New(scfg)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	noCleanup, _ := cmd.Flags().GetBool("no-cleanup")
	if !noCleanup && cfg.CleanupSchedule != "" {
		sched, err := cleanup.NewScheduler(cleanup.NewCleaner(cfg.LogsDir, l), cfg.CleanupSchedule, l)
		if err != nil {
			return err
		}
		sched.Start()
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := sched.Stop(stopCtx); err != nil {
				l.Warn("Cleanup still running at shutdown", l.Args("error", err))
			}
		}()
	}

	return srv.Run(ctx)
}
