package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/jackzampolin/docuport/internal/document"
	"github.com/jackzampolin/docuport/internal/pool"
)

// BatchConfig assembles a batch run on top of a Runner.
type BatchConfig struct {
	// BatchID names the run; it keys the checkpoint log. Defaults to a
	// timestamp.
	BatchID string

	// DocumentWorkers bounds documents processing concurrently.
	DocumentWorkers int
}

// RunBatch processes every path through the runner with bounded document
// concurrency and returns the finished job. Documents already recorded as
// terminal in the runner's checkpoint store are skipped; their dispositions
// count toward the batch totals. A document failure never stops the batch,
// only context cancellation does.
func (r *Runner) RunBatch(ctx context.Context, paths []string, cfg BatchConfig) (*document.BatchJob, error) {
	batchID := cfg.BatchID
	if batchID == "" {
		batchID = time.Now().UTC().Format("20060102T150405Z")
	}
	workers := cfg.DocumentWorkers
	if workers <= 0 {
		workers = 3
	}

	// Document IDs are derived from filename stems; two paths sharing a
	// stem would collide in every per-document artifact and checkpoint
	// record, so refuse the batch outright.
	inBatch := make(map[string]bool, len(paths))
	for _, p := range paths {
		id := document.IDFromPath(p)
		if inBatch[id] {
			return nil, fmt.Errorf("duplicate document id %q in batch (from %s)", id, p)
		}
		inBatch[id] = true
	}

	job := &document.BatchJob{
		BatchID: batchID,
		Paths:   paths,
		Started: time.Now(),
	}

	// Seed terminal dispositions from the checkpoint log so resumed runs
	// only touch the documents that never finished. Entries for documents
	// outside this batch's path set are ignored.
	if r.checkpoints != nil {
		for id, disp := range r.checkpoints.Completed() {
			if inBatch[id] {
				job.Record(id, disp)
			}
		}
	}

	remaining := job.Remaining()
	log := r.logger.With("batch", batchID)
	log.Info("starting batch",
		"documents", len(paths), "remaining", len(remaining), "workers", workers)

	// The whole work list is submitted up front, so the overflow queue must
	// hold it; the default cap would reject batches past that size.
	docs := pool.New[*document.Result](pool.Config{
		Name:      "documents",
		Logger:    r.logger,
		Workers:   workers,
		QueueSize: len(remaining),
	})

	poolCtx, stopPool := context.WithCancel(ctx)
	defer stopPool()
	poolDone := make(chan struct{})
	go func() {
		defer close(poolDone)
		docs.Start(poolCtx)
	}()

	futures := make(map[string]*pool.Future[*document.Result], len(remaining))
	for _, path := range remaining {
		path := path
		fut, err := docs.Submit(func(ctx context.Context) (*document.Result, error) {
			return r.Process(ctx, path)
		})
		if err != nil {
			// Only possible once ctx is cancelled; wind the pool down so
			// already-submitted work resolves before returning.
			stopPool()
			<-poolDone
			return job, fmt.Errorf("failed to submit %s: %w", path, err)
		}
		futures[document.IDFromPath(path)] = fut
	}

	done := len(job.Completed)
	for id, fut := range futures {
		result, err := fut.Wait(ctx)
		done++
		if err != nil {
			if ctx.Err() != nil {
				return job, ctx.Err()
			}
			// Infrastructure fault (checkpoint conflict, worker panic):
			// count the document failed and keep going.
			log.Error("document aborted", "document", id, "error", err)
			job.Record(id, document.DispositionFailed)
			continue
		}
		job.Record(result.DocumentID, result.Disposition)
		if result.Err != nil {
			log.Warn("document failed", "document", result.DocumentID, "error", result.Err)
		}
		log.Info(fmt.Sprintf("[%d/%d] %s", done, len(paths), result.DocumentID),
			"disposition", result.Disposition,
			"confidence", fmt.Sprintf("%.3f", result.Aggregate))
	}

	stopPool()
	<-poolDone

	log.Info("batch complete",
		"approved", job.Approved,
		"needs_review", job.NeedsReview,
		"rejected", job.Rejected,
		"failed", job.Failed,
		"elapsed", time.Since(job.Started).Round(time.Millisecond))
	return job, nil
}
