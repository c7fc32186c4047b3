package runner_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hybridfetch/hybridfetch/internal/clock/system"
	"github.com/hybridfetch/hybridfetch/internal/fetch"
	"github.com/hybridfetch/hybridfetch/internal/input"
	"github.com/hybridfetch/hybridfetch/internal/result"
	"github.com/hybridfetch/hybridfetch/internal/robots"
	"github.com/hybridfetch/hybridfetch/internal/runner"
	"github.com/hybridfetch/hybridfetch/internal/scheduler"
	"github.com/hybridfetch/hybridfetch/internal/stats"
)

// End-to-end: a small batch through the real HTTP strategy, router, shard
// runner and stats sink against a local server.
func TestSmallBatchEndToEnd(t *testing.T) {
	page := "<html><body>" + strings.Repeat("real content ", 200) + "</body></html>"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			fmt.Fprint(w, "User-agent: *\nAllow: /\n")
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, page)
	}))
	defer srv.Close()

	logger := zap.NewNop()
	sched := scheduler.New(scheduler.Config{GlobalLimit: 4, PerDomainLimit: 4})
	gate := robots.NewGate(srv.Client(), "hybridfetch-test", logger)

	httpStrategy, err := fetch.NewHTTPStrategy(fetch.HTTPStrategyConfig{
		Timeout:         5 * time.Second,
		MaxConcurrency:  4,
		MaxContentBytes: 5 * 1024 * 1024,
	}, gate, sched, logger)
	require.NoError(t, err)

	router := &fetch.Router{HTTP: httpStrategy, Sched: sched, Logger: logger}

	urls := make([]string, 5)
	for i := range urls {
		urls[i] = fmt.Sprintf("%s/page/%d", srv.URL, i)
	}
	jobs, rejected := input.MakeJobs(input.FromStrings(urls), func() time.Time { return time.Now().UTC() })
	require.Empty(t, rejected)
	shards := input.MakeShards(jobs, 3)
	require.Len(t, shards, 2)

	dataDir := t.TempDir()
	sr := &runner.ShardRunner{
		Dispatcher:  router,
		Concurrency: 4,
		DataDir:     dataDir,
		Clock:       system.New(),
		Logger:      logger,
	}
	rows, err := sr.Run(context.Background(), "it-run", shards)
	require.NoError(t, err)
	require.Len(t, rows, 5)

	statsPath := filepath.Join(dataDir, "stats.jsonl")
	log, err := stats.NewResultLog(statsPath, 0)
	require.NoError(t, err)
	for _, row := range rows {
		require.NoError(t, log.Append(row))
	}
	require.NoError(t, log.Close())

	persisted, err := stats.ReadStatsJSONL(statsPath)
	require.NoError(t, err)
	require.Len(t, persisted, 5)
	for _, row := range persisted {
		require.Equal(t, result.StatusSuccess, row.Status)
		require.Equal(t, result.MethodHTTP, row.Method)
		require.NotNil(t, row.HTTPStatus)
		require.Empty(t, row.ErrorKind)
		require.NotEmpty(t, row.ContentSHA256)
	}

	summary := stats.ComputeRunSummary(persisted)
	require.Equal(t, 5, summary.TotalURLs)
	require.InDelta(t, 1.0, summary.SuccessRate, 1e-9)
	require.InDelta(t, 1.0, summary.HTTPShare, 1e-9)
	require.Zero(t, summary.BrowserShare)
	require.NotNil(t, summary.P50LatencyHTTPMS)

	for shardID := range shards {
		cp, err := runner.LoadCheckpoint(sr.CheckpointPath("it-run", shardID))
		require.NoError(t, err)
		require.NotNil(t, cp)
		require.Equal(t, result.ShardCompleted, cp.Status)
	}
}
