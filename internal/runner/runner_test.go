package runner

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hybridfetch/hybridfetch/internal/result"
)

type fakeClock struct{ t time.Time }

func (c fakeClock) Now() time.Time { return c.t }

type fakeDispatcher struct {
	mu       sync.Mutex
	calls    []string
	inFlight atomic.Int64
	peak     atomic.Int64
	delay    time.Duration
	status   func(url string) result.Status
}

func (d *fakeDispatcher) RouteAndFetch(ctx context.Context, job result.UrlJob) result.FetchResult {
	cur := d.inFlight.Add(1)
	for {
		p := d.peak.Load()
		if cur <= p || d.peak.CompareAndSwap(p, cur) {
			break
		}
	}
	if d.delay > 0 {
		time.Sleep(d.delay)
	}
	d.inFlight.Add(-1)

	d.mu.Lock()
	d.calls = append(d.calls, job.URL)
	d.mu.Unlock()

	status := result.StatusSuccess
	if d.status != nil {
		status = d.status(job.URL)
	}
	res := result.New(job, result.MethodHTTP, result.StagePrimary, time.Now())
	res.Status = status
	return res
}

func (d *fakeDispatcher) urls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.calls))
	copy(out, d.calls)
	return out
}

func makeJobs(n, shardID int) []result.UrlJob {
	jobs := make([]result.UrlJob, n)
	for i := range jobs {
		jobs[i] = result.UrlJob{
			URL:          fmt.Sprintf("https://example.com/page-%d-%d", shardID, i),
			ShardID:      shardID,
			IndexInShard: i,
		}
	}
	return jobs
}

func TestBatchRunsAllJobs(t *testing.T) {
	d := &fakeDispatcher{}
	b := &Batch{Dispatcher: d, Concurrency: 4, Logger: zap.NewNop()}

	results := b.Run(context.Background(), makeJobs(9, 0))
	require.Len(t, results, 9)
	require.Len(t, d.urls(), 9)
}

func TestBatchRespectsConcurrencyBound(t *testing.T) {
	d := &fakeDispatcher{delay: 10 * time.Millisecond}
	b := &Batch{Dispatcher: d, Concurrency: 3, Logger: zap.NewNop()}

	b.Run(context.Background(), makeJobs(12, 0))
	require.LessOrEqual(t, d.peak.Load(), int64(3))
}

func TestBatchSuccessTargetBoundsOvershoot(t *testing.T) {
	const concurrency = 4
	const target = 5

	d := &fakeDispatcher{delay: 5 * time.Millisecond}
	b := &Batch{
		Dispatcher:    d,
		Concurrency:   concurrency,
		SuccessTarget: target,
		Logger:        zap.NewNop(),
	}

	results := b.Run(context.Background(), makeJobs(50, 0))
	require.GreaterOrEqual(t, len(results), target)
	require.LessOrEqual(t, len(results), target+concurrency-1)
}

func TestBatchCancelledContextStopsLaunches(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := &fakeDispatcher{}
	b := &Batch{Dispatcher: d, Concurrency: 2, Logger: zap.NewNop()}
	results := b.Run(ctx, makeJobs(10, 0))
	require.Empty(t, results)
}

func TestCheckpointRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/checkpoints/run1_shard_0.json"
	clock := fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}

	cp := result.ShardCheckpoint{
		RunID:         "run1",
		ShardID:       0,
		URLsTotal:     10,
		URLsDone:      4,
		LastUpdatedAt: clock.Now(),
		Status:        result.ShardInProgress,
	}
	require.NoError(t, SaveCheckpoint(path, cp))

	got, err := LoadCheckpoint(path)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, cp, *got)

	// No temp files left behind.
	entries, err := os.ReadDir(dir + "/checkpoints")
	require.NoError(t, err)
	for _, e := range entries {
		require.NotContains(t, e.Name(), ".checkpoint-")
	}
}

func TestLoadCheckpointMissing(t *testing.T) {
	got, err := LoadCheckpoint(t.TempDir() + "/absent.json")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestNewRunIDFormat(t *testing.T) {
	clock := fakeClock{t: time.Date(2025, 6, 1, 12, 30, 45, 0, time.UTC)}
	id := NewRunID(clock)
	require.Regexp(t, `^20250601T123045Z-[0-9a-f]{8}$`, id)
	require.NotEqual(t, id, NewRunID(clock), "suffix must differ between calls")
}

func TestShardRunnerProcessesAllShards(t *testing.T) {
	d := &fakeDispatcher{}
	sr := &ShardRunner{
		Dispatcher:  d,
		Concurrency: 2,
		DataDir:     t.TempDir(),
		Clock:       fakeClock{t: time.Now()},
		Logger:      zap.NewNop(),
	}

	shards := [][]result.UrlJob{makeJobs(3, 0), makeJobs(2, 1)}
	stats, err := sr.Run(context.Background(), "run-a", shards)
	require.NoError(t, err)
	require.Len(t, stats, 5)

	for shardID, jobs := range shards {
		cp, err := LoadCheckpoint(sr.CheckpointPath("run-a", shardID))
		require.NoError(t, err)
		require.NotNil(t, cp)
		require.Equal(t, result.ShardCompleted, cp.Status)
		require.Equal(t, len(jobs), cp.URLsDone)
	}
}

func TestShardRunnerSkipsCompletedShard(t *testing.T) {
	d := &fakeDispatcher{}
	clock := fakeClock{t: time.Now()}
	sr := &ShardRunner{
		Dispatcher:  d,
		Concurrency: 2,
		DataDir:     t.TempDir(),
		Clock:       clock,
		Logger:      zap.NewNop(),
	}

	require.NoError(t, SaveCheckpoint(sr.CheckpointPath("run-b", 0), result.ShardCheckpoint{
		RunID:         "run-b",
		ShardID:       0,
		URLsTotal:     3,
		URLsDone:      3,
		LastUpdatedAt: clock.Now(),
		Status:        result.ShardCompleted,
	}))

	shards := [][]result.UrlJob{makeJobs(3, 0), makeJobs(2, 1)}
	stats, err := sr.Run(context.Background(), "run-b", shards)
	require.NoError(t, err)
	require.Len(t, stats, 2, "only the second shard should be fetched")
	for _, u := range d.urls() {
		require.Contains(t, u, "page-1-")
	}
}

func TestShardRunnerRerunsInProgressShard(t *testing.T) {
	d := &fakeDispatcher{}
	clock := fakeClock{t: time.Now()}
	sr := &ShardRunner{
		Dispatcher:  d,
		Concurrency: 2,
		DataDir:     t.TempDir(),
		Clock:       clock,
		Logger:      zap.NewNop(),
	}

	// Simulate a crash partway through the shard.
	require.NoError(t, SaveCheckpoint(sr.CheckpointPath("run-c", 0), result.ShardCheckpoint{
		RunID:         "run-c",
		ShardID:       0,
		URLsTotal:     4,
		URLsDone:      2,
		LastUpdatedAt: clock.Now(),
		Status:        result.ShardInProgress,
	}))

	stats, err := sr.Run(context.Background(), "run-c", [][]result.UrlJob{makeJobs(4, 0)})
	require.NoError(t, err)
	require.Len(t, stats, 4, "in_progress shards are re-run in full")
}

func TestShardRunnerStopsAtSuccessTargetAcrossShards(t *testing.T) {
	d := &fakeDispatcher{}
	sr := &ShardRunner{
		Dispatcher:    d,
		Concurrency:   1,
		SuccessTarget: 3,
		DataDir:       t.TempDir(),
		Clock:         fakeClock{t: time.Now()},
		Logger:        zap.NewNop(),
	}

	shards := [][]result.UrlJob{makeJobs(3, 0), makeJobs(3, 1)}
	stats, err := sr.Run(context.Background(), "run-d", shards)
	require.NoError(t, err)
	require.Len(t, stats, 3, "second shard must not start once the target is met")
}
