// Package document defines the core document and section records that flow
// through the processing pipeline, plus the file store for persisted
// artifacts (detection results, section results, final documents).
package document

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// Stage is a document's position in the pipeline state machine.
// Stages are strictly ordered: a document never moves backwards.
type Stage string

const (
	StageQueued     Stage = "queued"
	StageDetecting  Stage = "detecting"
	StageExtracting Stage = "extracting"
	StageValidating Stage = "validating"
	StageDone       Stage = "done"
)

// stageRank orders stages for monotonicity checks.
var stageRank = map[Stage]int{
	StageQueued:     0,
	StageDetecting:  1,
	StageExtracting: 2,
	StageValidating: 3,
	StageDone:       4,
}

// Disposition is the terminal outcome of document processing.
type Disposition string

const (
	DispositionApproved    Disposition = "approved"
	DispositionNeedsReview Disposition = "needs_review"
	DispositionRejected    Disposition = "rejected"
	DispositionFailed      Disposition = "failed"
)

// SectionStatus tracks the lifecycle of one section's extraction.
type SectionStatus string

const (
	SectionPending   SectionStatus = "pending"
	SectionSucceeded SectionStatus = "succeeded"
	SectionFailed    SectionStatus = "failed"
)

// Section is a contiguous page range of a document classified into a content
// type. Created by detection, mutated only by its owning extraction task,
// immutable once its status is terminal.
type Section struct {
	Type       string         `json:"section_type"`
	Name       string         `json:"name"`
	StartPage  int            `json:"start_page"`
	EndPage    int            `json:"end_page"`
	Payload    map[string]any `json:"payload,omitempty"`
	Confidence float64        `json:"confidence"`
	Status     SectionStatus  `json:"status"`
	Error      string         `json:"error,omitempty"`
}

// PageRange returns the section's page range as "start-end".
func (s *Section) PageRange() string {
	return fmt.Sprintf("%d-%d", s.StartPage, s.EndPage)
}

// Terminal reports whether the section's extraction has finished.
func (s *Section) Terminal() bool {
	return s.Status == SectionSucceeded || s.Status == SectionFailed
}

// Document is one unit of pipeline work. It is owned exclusively by the
// pipeline task processing it; only read-only snapshots leave that task.
type Document struct {
	ID          string
	SourcePath  string
	TotalPages  int
	Stage       Stage
	Sections    []*Section
	Aggregate   float64
	Disposition Disposition
}

// New creates a queued document for the given source file.
// The document ID is the source filename without its extension.
func New(sourcePath string) *Document {
	return &Document{
		ID:         IDFromPath(sourcePath),
		SourcePath: sourcePath,
		Stage:      StageQueued,
	}
}

// IDFromPath derives a stable document ID from a source file path.
func IDFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Advance moves the document to the given stage. It returns an error if the
// move would violate stage ordering; stages never regress.
func (d *Document) Advance(next Stage) error {
	cur, ok := stageRank[d.Stage]
	if !ok {
		return fmt.Errorf("document %s has unknown stage %q", d.ID, d.Stage)
	}
	nxt, ok := stageRank[next]
	if !ok {
		return fmt.Errorf("unknown stage %q", next)
	}
	if nxt < cur {
		return fmt.Errorf("document %s: stage %s cannot move back to %s", d.ID, d.Stage, next)
	}
	d.Stage = next
	return nil
}

// FailedSectionCount returns the number of sections with failed extraction.
func (d *Document) FailedSectionCount() int {
	n := 0
	for _, s := range d.Sections {
		if s.Status == SectionFailed {
			n++
		}
	}
	return n
}

// Result is the outcome of processing one document.
type Result struct {
	DocumentID  string
	Disposition Disposition
	Aggregate   float64
	Sections    int
	FailedCount int

	// QueueEntryID is set when the document was routed to human review.
	QueueEntryID string

	// Err records the structural failure for Failed documents.
	Err error
}

// BatchJob tracks an ordered set of documents to process and the counts of
// their terminal outcomes. Mutated only by the batch runner goroutine.
type BatchJob struct {
	BatchID   string
	Paths     []string
	Completed map[string]Disposition
	Started   time.Time

	Approved    int
	NeedsReview int
	Rejected    int
	Failed      int
}

// Remaining returns the paths whose documents have no terminal disposition.
// Submission order is preserved.
func (b *BatchJob) Remaining() []string {
	var out []string
	for _, p := range b.Paths {
		if _, done := b.Completed[IDFromPath(p)]; !done {
			out = append(out, p)
		}
	}
	return out
}

// Record counts a terminal disposition against the batch totals.
func (b *BatchJob) Record(id string, disp Disposition) {
	if b.Completed == nil {
		b.Completed = make(map[string]Disposition)
	}
	b.Completed[id] = disp
	switch disp {
	case DispositionApproved:
		b.Approved++
	case DispositionNeedsReview:
		b.NeedsReview++
	case DispositionRejected:
		b.Rejected++
	case DispositionFailed:
		b.Failed++
	}
}

// Done reports whether every document in the batch reached a terminal state.
func (b *BatchJob) Done() bool {
	return len(b.Completed) >= len(b.Paths)
}
