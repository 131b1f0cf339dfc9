// Package pipeline drives documents through the three processing stages:
// Detect, Extract (fanned out per section), and Validate. It owns the
// per-document state machine and the batch driver around it.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackzampolin/docuport/internal/checkpoint"
	"github.com/jackzampolin/docuport/internal/document"
	"github.com/jackzampolin/docuport/internal/gateway"
	"github.com/jackzampolin/docuport/internal/ingest"
	"github.com/jackzampolin/docuport/internal/pool"
	"github.com/jackzampolin/docuport/internal/queue"
	"github.com/jackzampolin/docuport/internal/router"
	"github.com/jackzampolin/docuport/internal/schema"
)

// Config assembles a Runner. Gateway, Rasterizer, Schemas, Store, and Queue
// are required; Checkpoints may be nil for runs that don't need resume.
type Config struct {
	Gateway    *gateway.Gateway
	Rasterizer ingest.Rasterizer
	Schemas    *schema.Registry
	Store      *document.Store
	Queue      *queue.Queue

	// Checkpoints records stage transitions and terminal dispositions.
	// Optional for single-document runs.
	Checkpoints *checkpoint.Store

	Routing router.Config

	// SectionWorkers bounds section extractions in flight across ALL
	// documents: the section pool is shared process-wide, so total
	// section-level parallelism is capped at this value regardless of how
	// many documents are processing concurrently.
	SectionWorkers int

	// FallbackChunkPages is the page count per section when detection falls
	// back to the rule-based split (default 5).
	FallbackChunkPages int

	// FallbackSplit overrides the rule-based split strategy (default
	// ChunkSplit).
	FallbackSplit FallbackSplit

	Logger *slog.Logger
}

// Runner processes documents. It is safe for concurrent use: each document
// is owned by the goroutine processing it, and the shared stores serialize
// their own writes.
type Runner struct {
	gateway     *gateway.Gateway
	rasterizer  ingest.Rasterizer
	schemas     *schema.Registry
	store       *document.Store
	checkpoints *checkpoint.Store
	queue       *queue.Queue
	routing     router.Config

	sections      *pool.Pool[*document.Section]
	fallbackChunk int
	fallbackSplit FallbackSplit
	logger        *slog.Logger
}

// NewRunner creates a Runner. Call Start in a goroutine before processing.
func NewRunner(cfg Config) *Runner {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	sectionWorkers := cfg.SectionWorkers
	if sectionWorkers <= 0 {
		sectionWorkers = 5
	}

	fallbackChunk := cfg.FallbackChunkPages
	if fallbackChunk <= 0 {
		fallbackChunk = 5
	}

	split := cfg.FallbackSplit
	if split == nil {
		split = ChunkSplit
	}

	return &Runner{
		gateway:     cfg.Gateway,
		rasterizer:  cfg.Rasterizer,
		schemas:     cfg.Schemas,
		store:       cfg.Store,
		checkpoints: cfg.Checkpoints,
		queue:       cfg.Queue,
		routing:     cfg.Routing,
		sections: pool.New[*document.Section](pool.Config{
			Name:    "sections",
			Logger:  logger,
			Workers: sectionWorkers,
		}),
		fallbackChunk: fallbackChunk,
		fallbackSplit: split,
		logger:        logger.With("component", "pipeline"),
	}
}

// Start runs the shared section pool. Blocks until ctx is cancelled; run it
// in a goroutine.
func (r *Runner) Start(ctx context.Context) {
	r.sections.Start(ctx)
}

// Process drives one document through the full pipeline and returns its
// result. Document-level failures are captured in the result and recorded as
// a terminal disposition; the returned error is reserved for infrastructure
// faults (checkpoint conflicts) that must abort the run.
func (r *Runner) Process(ctx context.Context, sourcePath string) (*document.Result, error) {
	doc := document.New(sourcePath)
	log := r.logger.With("document", doc.ID)
	log.Info("processing document", "source", sourcePath)

	// Detect.
	if err := r.advance(doc, document.StageDetecting); err != nil {
		return nil, err
	}

	pages, err := r.rasterizer.Rasterize(ctx, sourcePath)
	if err != nil {
		if ctx.Err() != nil {
			// Cancelled, not failed: leave the document unrecorded so the
			// next resume picks it up.
			return nil, ctx.Err()
		}
		return r.fail(doc, fmt.Errorf("rasterization failed: %w", err))
	}
	doc.TotalPages = len(pages)

	sections, usedFallback := r.detect(ctx, doc, pages)
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	doc.Sections = sections

	if err := r.store.SaveDetectionResult(doc, usedFallback); err != nil {
		log.Warn("failed to persist detection result", "error", err)
	}

	// Extract.
	if err := r.advance(doc, document.StageExtracting); err != nil {
		return nil, err
	}
	if err := r.extract(ctx, doc, pages); err != nil {
		return nil, err
	}

	// Validate.
	if err := r.advance(doc, document.StageValidating); err != nil {
		return nil, err
	}
	return r.validate(doc)
}

// validate routes the document and records its terminal disposition.
func (r *Runner) validate(doc *document.Document) (*document.Result, error) {
	log := r.logger.With("document", doc.ID)

	decision := router.Route(doc.Sections, r.routing)
	doc.Aggregate = decision.Aggregate

	result := &document.Result{
		DocumentID:  doc.ID,
		Aggregate:   decision.Aggregate,
		Sections:    len(doc.Sections),
		FailedCount: doc.FailedSectionCount(),
	}

	switch decision.Outcome {
	case router.OutcomeApproved:
		doc.Disposition = document.DispositionApproved
		if err := r.store.SaveFinal(document.BuildFinal(doc)); err != nil {
			return r.fail(doc, fmt.Errorf("final save failed: %w", err))
		}
		log.Info("document approved", "aggregate", fmt.Sprintf("%.3f", decision.Aggregate))

	case router.OutcomeNeedsReview:
		doc.Disposition = document.DispositionNeedsReview
		entryID, err := r.queue.Enqueue(doc.ID, decision.Reasons, document.BuildFinal(doc))
		if errors.Is(err, queue.ErrConflict) {
			// A crash between enqueue and the terminal checkpoint record
			// leaves the entry behind; pick it back up on reprocessing
			// instead of wedging the document.
			existing, lookupErr := r.queue.OpenEntry(doc.ID)
			if lookupErr != nil {
				return nil, fmt.Errorf("failed to recover open entry for %s: %w", doc.ID, lookupErr)
			}
			entryID = existing.ID
			log.Info("reusing open validation entry", "entry", entryID)
		} else if err != nil {
			return nil, fmt.Errorf("failed to enqueue %s for review: %w", doc.ID, err)
		}
		result.QueueEntryID = entryID

	case router.OutcomeRejected:
		doc.Disposition = document.DispositionRejected
		log.Warn("document rejected", "failed_sections", result.FailedCount,
			"total_sections", result.Sections)
	}

	result.Disposition = doc.Disposition
	if err := r.markComplete(doc); err != nil {
		return nil, err
	}
	return result, nil
}

// fail records a structural document failure as a terminal disposition.
func (r *Runner) fail(doc *document.Document, cause error) (*document.Result, error) {
	r.logger.Error("document failed", "document", doc.ID, "error", cause)
	doc.Disposition = document.DispositionFailed
	if err := r.markComplete(doc); err != nil {
		return nil, err
	}
	return &document.Result{
		DocumentID:  doc.ID,
		Disposition: document.DispositionFailed,
		Err:         cause,
	}, nil
}

// advance moves the document to the next stage and records the transition
// before any work for that stage starts.
func (r *Runner) advance(doc *document.Document, stage document.Stage) error {
	if err := doc.Advance(stage); err != nil {
		return err
	}
	if r.checkpoints != nil {
		if err := r.checkpoints.MarkStage(doc.ID, stage); err != nil {
			return fmt.Errorf("failed to checkpoint stage %s for %s: %w", stage, doc.ID, err)
		}
	}
	return nil
}

// markComplete durably records the terminal disposition.
func (r *Runner) markComplete(doc *document.Document) error {
	if r.checkpoints == nil {
		return nil
	}
	if err := r.checkpoints.MarkComplete(doc.ID, doc.Disposition); err != nil {
		return fmt.Errorf("failed to checkpoint completion of %s: %w", doc.ID, err)
	}
	return nil
}
