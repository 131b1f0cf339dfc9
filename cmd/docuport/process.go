package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/docuport/internal/document"
)

var processCmd = &cobra.Command{
	Use:   "process <file.pdf>",
	Short: "Process a single PDF document through the pipeline",
	Long: `Process one PDF through detection, extraction, and validation.

The document's terminal disposition decides what happens to its output:
  approved      written to final/<id>.json
  needs_review  queued under validation_queue/ for a human decision
  rejected      detection and section artifacts are kept for inspection
  failed        a structural error stopped processing

Examples:
  docuport process invoice-0042.pdf
  docuport process --home /data/docuport statements/march.pdf`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sourcePath, err := filepath.Abs(args[0])
		if err != nil {
			return err
		}
		if _, err := os.Stat(sourcePath); err != nil {
			return fmt.Errorf("cannot read %s: %w", args[0], err)
		}

		rt, err := newRuntime()
		if err != nil {
			return err
		}

		runner := rt.newRunner(nil)
		ctx, stop := context.WithCancel(cmd.Context())
		defer stop()
		go runner.Start(ctx)

		result, err := runner.Process(ctx, sourcePath)
		if err != nil {
			return err
		}
		printResult(cmd, result)
		if result.Disposition == document.DispositionFailed {
			return fmt.Errorf("document %s failed: %w", result.DocumentID, result.Err)
		}
		return nil
	},
}

func printResult(cmd *cobra.Command, r *document.Result) {
	cmd.Printf("document:   %s\n", r.DocumentID)
	cmd.Printf("outcome:    %s\n", r.Disposition)
	cmd.Printf("confidence: %.3f\n", r.Aggregate)
	cmd.Printf("sections:   %d (%d failed)\n", r.Sections, r.FailedCount)
	if r.QueueEntryID != "" {
		cmd.Printf("review:     %s\n", r.QueueEntryID)
	}
}

// collectPDFs lists the PDF files directly under dir, sorted by name.
func collectPDFs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".pdf") {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	return paths, nil
}

func init() {
	rootCmd.AddCommand(processCmd)
}
