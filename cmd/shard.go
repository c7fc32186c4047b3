package cmd

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hybridfetch/hybridfetch/internal/clock/system"
	"github.com/hybridfetch/hybridfetch/internal/config"
	"github.com/hybridfetch/hybridfetch/internal/input"
	"github.com/hybridfetch/hybridfetch/internal/metrics"
	"github.com/hybridfetch/hybridfetch/internal/runner"
)

type shardFlags struct {
	urlsPath      string
	shardSize     int
	runID         string
	targetSuccess int
	browser       bool
}

// newShardCmd creates the 'shard' subcommand: the URL list is split into
// fixed-size shards, each checkpointed to disk as it completes. Re-running
// with --run-id resumes a crashed run, skipping completed shards.
func newShardCmd() *cobra.Command {
	var flags shardFlags

	cmd := &cobra.Command{
		Use:   "shard",
		Short: "Fetch the URL list in checkpointed shards",
		Long: `Splits the URL list into consecutive shards and fetches them one shard at
a time, writing a checkpoint file per shard. A run interrupted partway can
be resumed by passing its run id: completed shards are skipped and the
interrupted shard is re-fetched from its start.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runShardCommand(cmd, flags)
		},
	}

	cmd.Flags().StringVar(&flags.urlsPath, "urls", "", "path to URL list (overrides config)")
	cmd.Flags().IntVar(&flags.shardSize, "shard-size", 0, "URLs per shard (overrides config)")
	cmd.Flags().StringVar(&flags.runID, "run-id", "", "resume a previous run instead of starting fresh")
	cmd.Flags().IntVar(&flags.targetSuccess, "target-success", 0, "stop after N successful fetches (overrides config)")
	cmd.Flags().BoolVar(&flags.browser, "browser", false, "toggle the headless browser fallback (overrides config)")

	return cmd
}

func runShardCommand(cmd *cobra.Command, flags shardFlags) error {
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

	shardSize := cfg.Shard.Size
	if flags.shardSize > 0 {
		shardSize = flags.shardSize
	}
	shards := input.MakeShards(jobs, shardSize)

	target := cfg.Fetch.SuccessTarget
	if flags.targetSuccess > 0 {
		target = flags.targetSuccess
	}

	clock := system.New()
	runID := flags.runID
	resumed := runID != ""
	if runID == "" {
		runID = runner.NewRunID(clock)
	}

	logger.Info("starting sharded run",
		zap.String("run_id", runID),
		zap.Bool("resumed", resumed),
		zap.Int("urls", len(jobs)),
		zap.Int("rejected", len(rejected)),
		zap.Int("shards", len(shards)),
		zap.Int("shard_size", shardSize),
		zap.Bool("browser", useBrowser))

	sr := &runner.ShardRunner{
		Dispatcher:    p.router,
		Concurrency:   cfg.HTTP.MaxConcurrency,
		SuccessTarget: target,
		DataDir:       cfg.DataDir,
		Clock:         clock,
		Logger:        logger,
	}
	stats, err := sr.Run(ctx, runID, shards)
	if err != nil {
		return err
	}

	rows := append(rejected, stats...)
	return writeRunOutputs(cfg, runID, rows, logger)
}
