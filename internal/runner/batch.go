// Package runner executes batches of fetch jobs with bounded concurrency and
// shard-level crash recovery.
package runner

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/hybridfetch/hybridfetch/internal/result"
)

// Dispatcher fetches a single job, choosing the transport internally.
type Dispatcher interface {
	RouteAndFetch(ctx context.Context, job result.UrlJob) result.FetchResult
}

// Clock abstracts time.Now for deterministic tests.
type Clock interface {
	Now() time.Time
}

// Batch runs a slice of jobs through a dispatcher with at most Concurrency
// in flight. When SuccessTarget > 0 the batch stops launching new jobs once
// that many successes have been observed; jobs already in flight finish, so
// at most Concurrency-1 extra results can land past the target.
type Batch struct {
	Dispatcher    Dispatcher
	Concurrency   int
	SuccessTarget int
	Logger        *zap.Logger

	// OnResult, when set, is called for every finished job before the
	// result is collected. Calls are serialized.
	OnResult func(result.FetchResult)
}

// Run executes jobs and returns their results in completion order. A
// cancelled context stops new launches; in-flight jobs see the cancellation
// through their own contexts.
func (b *Batch) Run(ctx context.Context, jobs []result.UrlJob) []result.FetchResult {
	concurrency := b.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}

	var (
		stop      atomic.Bool
		successes atomic.Int64
		mu        sync.Mutex
		results   = make([]result.FetchResult, 0, len(jobs))
		wg        sync.WaitGroup
		slots     = make(chan struct{}, concurrency)
	)

	for _, job := range jobs {
		if stop.Load() || ctx.Err() != nil {
			break
		}
		slots <- struct{}{}
		// A slot may have been held while the target was reached.
		if stop.Load() || ctx.Err() != nil {
			<-slots
			break
		}

		wg.Add(1)
		go func(job result.UrlJob) {
			defer wg.Done()
			defer func() { <-slots }()

			res := b.Dispatcher.RouteAndFetch(ctx, job)
			if res.Status == result.StatusSuccess && b.SuccessTarget > 0 {
				if successes.Add(1) >= int64(b.SuccessTarget) {
					if stop.CompareAndSwap(false, true) && b.Logger != nil {
						b.Logger.Info("success target reached, draining in-flight jobs",
							zap.Int("target", b.SuccessTarget))
					}
				}
			}

			mu.Lock()
			if b.OnResult != nil {
				b.OnResult(res)
			}
			results = append(results, res)
			mu.Unlock()
		}(job)
	}

	wg.Wait()
	return results
}
