package runner

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hybridfetch/hybridfetch/internal/result"
)

// NewRunID builds a sortable run identifier from the clock plus a short
// random suffix.
func NewRunID(clock Clock) string {
	ts := clock.Now().UTC().Format("20060102T150405Z")
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return ts + "-" + suffix
}

// ShardRunner drives a sharded run: each shard is fetched as one batch, with
// a checkpoint file tracking its progress so an interrupted run can resume
// without repeating completed shards.
type ShardRunner struct {
	Dispatcher    Dispatcher
	Concurrency   int
	SuccessTarget int
	DataDir       string
	Clock         Clock
	Logger        *zap.Logger
}

// CheckpointPath returns the checkpoint file for one shard of a run.
func (sr *ShardRunner) CheckpointPath(runID string, shardID int) string {
	return filepath.Join(sr.DataDir, "checkpoints", fmt.Sprintf("%s_shard_%d.json", runID, shardID))
}

// Run executes all shards in order and returns one stats row per processed
// URL. Shards checkpointed as completed are skipped; shards left in_progress
// by a previous crash are re-run from the start.
func (sr *ShardRunner) Run(ctx context.Context, runID string, shards [][]result.UrlJob) ([]result.UrlStat, error) {
	var stats []result.UrlStat
	var totalSuccess int

	for shardID, jobs := range shards {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		if sr.SuccessTarget > 0 && totalSuccess >= sr.SuccessTarget {
			if sr.Logger != nil {
				sr.Logger.Info("success target reached, skipping remaining shards",
					zap.Int("shard_id", shardID), zap.Int("successes", totalSuccess))
			}
			break
		}

		path := sr.CheckpointPath(runID, shardID)
		cp, err := LoadCheckpoint(path)
		if err != nil {
			return stats, err
		}
		if cp != nil && cp.Status == result.ShardCompleted {
			if sr.Logger != nil {
				sr.Logger.Info("shard already completed, skipping",
					zap.Int("shard_id", shardID), zap.Int("urls", cp.URLsTotal))
			}
			continue
		}

		if err := SaveCheckpoint(path, result.ShardCheckpoint{
			RunID:         runID,
			ShardID:       shardID,
			URLsTotal:     len(jobs),
			URLsDone:      0,
			LastUpdatedAt: sr.Clock.Now(),
			Status:        result.ShardInProgress,
		}); err != nil {
			return stats, err
		}

		done := 0
		target := 0
		if sr.SuccessTarget > 0 {
			target = sr.SuccessTarget - totalSuccess
		}
		batch := &Batch{
			Dispatcher:    sr.Dispatcher,
			Concurrency:   sr.Concurrency,
			SuccessTarget: target,
			Logger:        sr.Logger,
			OnResult: func(res result.FetchResult) {
				stats = append(stats, res.Stat())
				if res.Status == result.StatusSuccess {
					totalSuccess++
				}
				done++
				if err := SaveCheckpoint(path, result.ShardCheckpoint{
					RunID:         runID,
					ShardID:       shardID,
					URLsTotal:     len(jobs),
					URLsDone:      done,
					LastUpdatedAt: sr.Clock.Now(),
					Status:        result.ShardInProgress,
				}); err != nil && sr.Logger != nil {
					sr.Logger.Warn("checkpoint save failed", zap.Error(err))
				}
			},
		}
		batch.Run(ctx, jobs)

		if err := SaveCheckpoint(path, result.ShardCheckpoint{
			RunID:         runID,
			ShardID:       shardID,
			URLsTotal:     len(jobs),
			URLsDone:      done,
			LastUpdatedAt: sr.Clock.Now(),
			Status:        result.ShardCompleted,
		}); err != nil {
			return stats, err
		}
		if sr.Logger != nil {
			sr.Logger.Info("shard completed",
				zap.Int("shard_id", shardID),
				zap.Int("urls", len(jobs)),
				zap.Int("done", done))
		}
	}
	return stats, nil
}
