package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/docuport/internal/checkpoint"
	"github.com/jackzampolin/docuport/internal/pipeline"
)

var (
	batchID             string
	batchResume         bool
	batchWorkers        int
	batchSectionWorkers int
)

var batchCmd = &cobra.Command{
	Use:   "batch <dir>",
	Short: "Process every PDF in a directory as a checkpointed batch",
	Long: `Process all PDFs in a directory with bounded concurrency.

Each document's terminal disposition is recorded in a checkpoint log keyed by
the batch ID. Re-running with the same --batch-id and --resume skips documents
that already reached a terminal state and reprocesses only the rest, so an
interrupted batch picks up where it left off. Reusing a batch ID that already
has recorded progress without --resume is refused, so a typo can't silently
skip documents.

The command exits non-zero if any document failed structurally.

Examples:
  docuport batch ./inbox
  docuport batch ./inbox --batch-id 2026-03-audit
  docuport batch ./inbox --batch-id 2026-03-audit --resume`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if batchResume && batchID == "" {
			return fmt.Errorf("--resume requires --batch-id")
		}
		paths, err := collectPDFs(args[0])
		if err != nil {
			return err
		}
		if len(paths) == 0 {
			return fmt.Errorf("no PDF files found in %s", args[0])
		}

		rt, err := newRuntime()
		if err != nil {
			return err
		}

		bcfg := pipeline.BatchConfig{
			BatchID:         batchID,
			DocumentWorkers: batchWorkers,
		}
		if bcfg.BatchID == "" {
			bcfg.BatchID = time.Now().UTC().Format("20060102T150405Z")
		}
		if bcfg.DocumentWorkers <= 0 {
			bcfg.DocumentWorkers = rt.cfg.Workers.Documents
		}
		if batchSectionWorkers > 0 {
			rt.cfg.Workers.Sections = batchSectionWorkers
		}

		cps, err := checkpoint.Open(rt.home.CheckpointsDir(), bcfg.BatchID, rt.logger)
		if err != nil {
			return err
		}
		defer cps.Close()

		if done := len(cps.Completed()); done > 0 && !batchResume {
			return fmt.Errorf("batch %s already has %d completed documents; pass --resume to continue it",
				bcfg.BatchID, done)
		}

		runner := rt.newRunner(cps)
		ctx, stop := context.WithCancel(cmd.Context())
		defer stop()
		go runner.Start(ctx)

		job, err := runner.RunBatch(ctx, paths, bcfg)
		if err != nil {
			return err
		}

		cmd.Printf("batch %s: %d documents\n", job.BatchID, len(job.Paths))
		cmd.Printf("  approved:     %d\n", job.Approved)
		cmd.Printf("  needs review: %d\n", job.NeedsReview)
		cmd.Printf("  rejected:     %d\n", job.Rejected)
		cmd.Printf("  failed:       %d\n", job.Failed)
		if job.Failed > 0 {
			return fmt.Errorf("%d of %d documents failed", job.Failed, len(job.Paths))
		}
		return nil
	},
}

func init() {
	batchCmd.Flags().StringVar(&batchID, "batch-id", "",
		"batch identifier; reuse with --resume to continue an interrupted run (default: timestamp)")
	batchCmd.Flags().BoolVar(&batchResume, "resume", false,
		"continue an interrupted batch, skipping documents already completed (requires --batch-id)")
	batchCmd.Flags().IntVar(&batchWorkers, "workers", 0,
		"max documents processed in parallel (default: workers.documents from config)")
	batchCmd.Flags().IntVar(&batchSectionWorkers, "section-workers", 0,
		"max section extractions in flight across all documents (default: workers.sections from config)")

	rootCmd.AddCommand(batchCmd)
}
