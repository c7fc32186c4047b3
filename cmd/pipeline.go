package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hybridfetch/hybridfetch/internal/config"
	"github.com/hybridfetch/hybridfetch/internal/fetch"
	"github.com/hybridfetch/hybridfetch/internal/input"
	"github.com/hybridfetch/hybridfetch/internal/logging"
	"github.com/hybridfetch/hybridfetch/internal/metrics"
	"github.com/hybridfetch/hybridfetch/internal/result"
	"github.com/hybridfetch/hybridfetch/internal/robots"
	"github.com/hybridfetch/hybridfetch/internal/scheduler"
	"github.com/hybridfetch/hybridfetch/internal/stats"
)

// pipeline bundles everything a run needs: the router that fetches one URL
// and the teardown for the resources behind it.
type pipeline struct {
	router *fetch.Router
	close  func()
}

// browserEnabled resolves the browser toggle: an explicitly passed --browser
// flag wins in either direction, otherwise the config default applies.
func browserEnabled(flagSet, flagValue, configValue bool) bool {
	if flagSet {
		return flagValue
	}
	return configValue
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return logger, nil
}

// buildPipeline wires the scheduler, robots gate and both fetch strategies
// into a router. The browser strategy is only launched when enabled; its
// absence downgrades escalation decisions rather than failing the run.
func buildPipeline(cfg config.Config, useBrowser bool, logger *zap.Logger) (*pipeline, error) {
	proxy, err := config.LoadProxy(cfg.Proxy.ConfigPath)
	if err != nil {
		return nil, err
	}
	proxyURL := proxy.URL()

	sched := scheduler.New(scheduler.Config{
		GlobalLimit:     cfg.HTTP.MaxConcurrency,
		PerDomainLimit:  cfg.Scheduler.PerDomainDefault,
		DomainOverrides: cfg.Scheduler.DomainOverrides,
		MaxErrors:       int64(cfg.Scheduler.MaxErrors),
		MaxCaptchas:     int64(cfg.Scheduler.MaxCaptchas),
		JitterMin:       time.Duration(cfg.Scheduler.JitterMinMs) * time.Millisecond,
		JitterMax:       time.Duration(cfg.Scheduler.JitterMaxMs) * time.Millisecond,
	})

	gate := robots.NewGate(&http.Client{Timeout: cfg.HTTPTimeout()}, cfg.Fetch.UserAgent, logger)

	httpStrategy, err := fetch.NewHTTPStrategy(fetch.HTTPStrategyConfig{
		Timeout:         cfg.HTTPTimeout(),
		MaxConcurrency:  cfg.HTTP.MaxConcurrency,
		MaxContentBytes: cfg.Fetch.MaxContentBytes,
		ProxyURL:        proxyURL,
	}, gate, sched, logger)
	if err != nil {
		return nil, fmt.Errorf("init http strategy: %w", err)
	}

	p := &pipeline{
		router: &fetch.Router{
			HTTP:   httpStrategy,
			Sched:  sched,
			Logger: logger,
		},
		close: func() {},
	}

	if useBrowser {
		browserStrategy, err := fetch.NewBrowserStrategy(fetch.BrowserStrategyConfig{
			Headless:        cfg.Browser.Headless,
			MaxConcurrency:  cfg.Browser.MaxConcurrency,
			NavTimeout:      cfg.NavTimeout(),
			MaxContentBytes: cfg.Fetch.MaxContentBytes,
			UserAgent:       cfg.Fetch.UserAgent,
			ProxyURL:        proxyURL,
		}, gate, sched, logger)
		if err != nil {
			return nil, fmt.Errorf("init browser strategy: %w", err)
		}
		p.router.Browser = browserStrategy
		p.close = browserStrategy.Close
	}

	return p, nil
}

// loadJobs reads the URL list (txt or csv by extension), deduplicates and
// validates it, and drops hosts on the configured blocklist. Every rejected
// URL comes back as a ready-made stats row.
func loadJobs(cfg config.Config, urlsPath string) ([]result.UrlJob, []result.UrlStat, error) {
	var rows []input.CSVRow
	if strings.EqualFold(filepath.Ext(urlsPath), ".csv") {
		csvRows, err := input.LoadURLsCSV(urlsPath)
		if err != nil {
			return nil, nil, err
		}
		rows = csvRows
	} else {
		urls, err := input.LoadURLsTxt(urlsPath)
		if err != nil {
			return nil, nil, err
		}
		rows = input.FromStrings(input.Dedupe(urls))
	}
	if len(rows) == 0 {
		return nil, nil, fmt.Errorf("no urls found in %s", urlsPath)
	}

	now := func() time.Time { return time.Now().UTC() }
	jobs, rejected := input.MakeJobs(rows, now)
	jobs, blocked := input.FilterBlocked(jobs, input.NewHostBlocklist(cfg.Fetch.BlockedDomains), now)
	rejected = append(rejected, blocked...)
	return jobs, rejected, nil
}

// serveMetrics starts the optional metrics endpoint and returns its shutdown.
func serveMetrics(cfg config.Config, logger *zap.Logger) func() {
	if cfg.Metrics.Addr == "" {
		return func() {}
	}
	srv := metrics.Serve(cfg.Metrics.Addr)
	logger.Info("metrics endpoint up", zap.String("addr", cfg.Metrics.Addr))
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Warn("metrics shutdown", zap.Error(err))
		}
	}
}

// writeRunOutputs persists the per-URL stats log and the aggregate summary,
// and prints the summary to stdout.
func writeRunOutputs(cfg config.Config, runID string, rows []result.UrlStat, logger *zap.Logger) error {
	statsPath := filepath.Join(cfg.DataDir, runID+"_stats.jsonl")
	log, err := stats.NewResultLog(statsPath, 0)
	if err != nil {
		return err
	}
	for _, row := range rows {
		if err := log.Append(row); err != nil {
			return err
		}
	}
	if err := log.Close(); err != nil {
		return err
	}

	summary := stats.ComputeRunSummary(rows)
	summaryPath := filepath.Join(cfg.DataDir, runID+"_summary.json")
	if err := stats.WriteSummary(summaryPath, summary); err != nil {
		return err
	}

	out, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	fmt.Println(string(out))

	logger.Info("run outputs written",
		zap.String("stats", statsPath),
		zap.String("summary", summaryPath),
		zap.Int("rows", len(rows)))
	return nil
}
