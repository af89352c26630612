package syncer

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"pipesync/internal/pipemeta"
	"pipesync/internal/sqlexec"
)

// Job pairs a pipe with the batch to sync into it.
type Job struct {
	Pipe  pipemeta.Pipe
	Batch []sqlexec.Row
	Opts  SyncOptions
}

// JobResult reports one job's outcome.
type JobResult struct {
	Pipe   pipemeta.Pipe
	Result SuccessResult
	Err    error
}

// RunAll syncs independent pipes concurrently with a fixed worker count and
// returns one result per job, in job order. Correctness is guaranteed per
// pipe, not across pipes; callers must not submit two jobs for the same
// pipe in one call.
func (e *Engine) RunAll(ctx context.Context, jobs []Job, workers int) []JobResult {
	if workers <= 0 {
		workers = 1
	}
	if workers > len(jobs) {
		workers = len(jobs)
	}

	results := make([]JobResult, len(jobs))
	work := make(chan int)

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for idx := range work {
				job := jobs[idx]
				res, err := e.Sync(ctx, job.Pipe, job.Batch, job.Opts)
				results[idx] = JobResult{Pipe: job.Pipe, Result: res, Err: err}
				if err != nil {
					e.Log.Warn("sync job failed",
						zap.String("pipe", job.Pipe.String()),
						zap.Error(err))
				}
			}
		}()
	}

	for idx := range jobs {
		select {
		case <-ctx.Done():
			results[idx] = JobResult{Pipe: jobs[idx].Pipe, Err: ctx.Err()}
			continue
		case work <- idx:
		}
	}
	close(work)
	wg.Wait()

	return results
}
