package cmd

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hybridfetch/hybridfetch/internal/clock/system"
	"github.com/hybridfetch/hybridfetch/internal/config"
	"github.com/hybridfetch/hybridfetch/internal/metrics"
	"github.com/hybridfetch/hybridfetch/internal/runner"
)

type runFlags struct {
	urlsPath      string
	maxURLs       int
	targetSuccess int
	browser       bool
}

// newRunCmd creates the 'run' subcommand: a flat batch over the URL list,
// stopping either after a fixed number of URLs or once enough successes have
// accumulated.
func newRunCmd() *cobra.Command {
	var flags runFlags

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Fetch a flat batch of URLs",
		Long: `Fetches the configured URL list as one batch. With --target-success the
batch stops launching new URLs once that many pages have been fetched
successfully; with --max-urls only the first N URLs are attempted.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBatchCommand(cmd, flags)
		},
	}

	cmd.Flags().StringVar(&flags.urlsPath, "urls", "", "path to URL list (overrides config)")
	cmd.Flags().IntVar(&flags.maxURLs, "max-urls", 0, "attempt at most N URLs (0 = all)")
	cmd.Flags().IntVar(&flags.targetSuccess, "target-success", 0, "stop after N successful fetches (overrides config)")
	cmd.Flags().BoolVar(&flags.browser, "browser", false, "toggle the headless browser fallback (overrides config)")

	return cmd
}

func runBatchCommand(cmd *cobra.Command, flags runFlags) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck // best-effort flush

	metrics.Init()
	stopMetrics := serveMetrics(cfg, logger)
	defer stopMetrics()

	useBrowser := browserEnabled(cmd.Flags().Changed("browser"), flags.browser, cfg.Browser.Enabled)
	p, err := buildPipeline(cfg, useBrowser, logger)
	if err != nil {
		return err
	}
	defer p.close()

	urlsPath := cfg.URLsPath
	if flags.urlsPath != "" {
		urlsPath = flags.urlsPath
	}
	jobs, rejected, err := loadJobs(cfg, urlsPath)
	if err != nil {
		return err
	}
	if flags.maxURLs > 0 && len(jobs) > flags.maxURLs {
		jobs = jobs[:flags.maxURLs]
	}

	target := cfg.Fetch.SuccessTarget
	if flags.targetSuccess > 0 {
		target = flags.targetSuccess
	}

	logger.Info("starting batch",
		zap.Int("urls", len(jobs)),
		zap.Int("rejected", len(rejected)),
		zap.Int("concurrency", cfg.HTTP.MaxConcurrency),
		zap.Int("target_success", target),
		zap.Bool("browser", useBrowser))

	batch := &runner.Batch{
		Dispatcher:    p.router,
		Concurrency:   cfg.HTTP.MaxConcurrency,
		SuccessTarget: target,
		Logger:        logger,
	}
	results := batch.Run(ctx, jobs)

	rows := rejected
	for _, res := range results {
		rows = append(rows, res.Stat())
	}

	runID := runner.NewRunID(system.New())
	return writeRunOutputs(cfg, runID, rows, logger)
}
