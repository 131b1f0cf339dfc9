package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/docuport/internal/queue"
)

var (
	listStatus   string
	reviewerName string
	rejectReason string
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Inspect and decide queued validation entries",
	Long: `Work the human validation queue.

Documents whose confidence fell between the review and approval thresholds
wait here as pending entries. Approving an entry promotes the document to
final output; rejecting it records the reviewer's reason. Decisions are
final: deciding an already-decided entry is a conflict.`,
}

var validateListCmd = &cobra.Command{
	Use:   "list",
	Short: "List validation queue entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := newRuntime()
		if err != nil {
			return err
		}

		entries, err := rt.queue.List(queue.Filter{Status: queue.Status(listStatus)})
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			cmd.Println("no entries")
			return nil
		}
		for _, e := range entries {
			cmd.Printf("%s  %-12s  %-22s  %s\n",
				e.EnqueuedAt.Format("2006-01-02 15:04"), e.Status, e.DocumentID, e.ID)
		}
		return nil
	},
}

var validateShowCmd = &cobra.Command{
	Use:   "show <entry-id>",
	Short: "Show one entry with its reasons and extracted document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := newRuntime()
		if err != nil {
			return err
		}

		e, err := rt.queue.Get(args[0])
		if err != nil {
			return err
		}
		cmd.Printf("entry:      %s\n", e.ID)
		cmd.Printf("document:   %s\n", e.DocumentID)
		cmd.Printf("status:     %s\n", e.Status)
		cmd.Printf("enqueued:   %s\n", e.EnqueuedAt.Format("2006-01-02 15:04:05"))
		if e.Reviewer != "" {
			cmd.Printf("reviewer:   %s\n", e.Reviewer)
		}
		if e.RejectReason != "" {
			cmd.Printf("reason:     %s\n", e.RejectReason)
		}
		cmd.Printf("flagged for:\n  %s\n", strings.Join(e.Reasons, "\n  "))
		if e.Document != nil {
			cmd.Printf("confidence: %.3f over %d sections\n",
				e.Document.Metadata.ConfidenceScore, e.Document.Metadata.SectionCount)
		}
		return nil
	},
}

var validateApproveCmd = &cobra.Command{
	Use:   "approve <entry-id>",
	Short: "Approve an entry and promote its document to final output",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := newRuntime()
		if err != nil {
			return err
		}

		e, err := rt.queue.Approve(args[0], reviewerName)
		if err != nil {
			return decisionError(err)
		}
		cmd.Printf("approved %s; document %s written to %s\n",
			e.ID, e.DocumentID, rt.store.FinalPath(e.DocumentID))
		return nil
	},
}

var validateRejectCmd = &cobra.Command{
	Use:   "reject <entry-id>",
	Short: "Reject an entry with a required reason",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := newRuntime()
		if err != nil {
			return err
		}

		e, err := rt.queue.Reject(args[0], reviewerName, rejectReason)
		if err != nil {
			return decisionError(err)
		}
		cmd.Printf("rejected %s (document %s)\n", e.ID, e.DocumentID)
		return nil
	},
}

// decisionError distinguishes a decided-already conflict from other errors
// so the operator sees what actually happened.
func decisionError(err error) error {
	if errors.Is(err, queue.ErrConflict) {
		return fmt.Errorf("entry already decided: %w", err)
	}
	return err
}

func init() {
	validateListCmd.Flags().StringVar(&listStatus, "status", "",
		"filter by status: pending, approved, or rejected (default: pending)")
	validateApproveCmd.Flags().StringVar(&reviewerName, "reviewer", "", "reviewer name recorded on the decision")
	validateRejectCmd.Flags().StringVar(&reviewerName, "reviewer", "", "reviewer name recorded on the decision")
	validateRejectCmd.Flags().StringVar(&rejectReason, "reason", "", "reason for rejection (required)")

	validateCmd.AddCommand(validateListCmd, validateShowCmd, validateApproveCmd, validateRejectCmd)
	rootCmd.AddCommand(validateCmd)
}
