package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackzampolin/docuport/internal/checkpoint"
	"github.com/jackzampolin/docuport/internal/document"
	"github.com/jackzampolin/docuport/internal/gateway"
	"github.com/jackzampolin/docuport/internal/home"
	"github.com/jackzampolin/docuport/internal/queue"
	"github.com/jackzampolin/docuport/internal/router"
	"github.com/jackzampolin/docuport/internal/schema"
	"github.com/jackzampolin/docuport/internal/vision"
)

// fakeRasterizer returns synthetic pages without touching a real PDF.
type fakeRasterizer struct {
	pages int
	calls atomic.Int32
}

func (f *fakeRasterizer) Rasterize(ctx context.Context, sourcePath string) ([]vision.Page, error) {
	f.calls.Add(1)
	pages := make([]vision.Page, f.pages)
	for i := range pages {
		pages[i] = vision.Page{Number: i + 1, Image: []byte("png")}
	}
	return pages, nil
}

type testHarness struct {
	runner *Runner
	store  *document.Store
	queue  *queue.Queue
	raster *fakeRasterizer
	cancel context.CancelFunc
}

func newHarness(t *testing.T, client vision.Client, pages int, checkpoints *checkpoint.Store) *testHarness {
	t.Helper()

	h, err := home.New(t.TempDir())
	if err != nil {
		t.Fatalf("home.New() error = %v", err)
	}
	if err := h.EnsureExists(); err != nil {
		t.Fatalf("EnsureExists() error = %v", err)
	}

	schemas, err := schema.NewRegistry()
	if err != nil {
		t.Fatalf("schema.NewRegistry() error = %v", err)
	}

	store := document.NewStore(h, nil)
	q := queue.New(h.ValidationQueueDir(), store, nil)
	raster := &fakeRasterizer{pages: pages}

	runner := NewRunner(Config{
		Gateway: gateway.New(client, gateway.Config{
			MaxAttempts: 3,
			BaseDelay:   time.Millisecond,
			MaxDelay:    5 * time.Millisecond,
			Timeout:     time.Second,
		}),
		Rasterizer:     raster,
		Schemas:        schemas,
		Store:          store,
		Queue:          q,
		Checkpoints:    checkpoints,
		Routing:        router.Config{},
		SectionWorkers: 4,
	})

	ctx, cancel := context.WithCancel(context.Background())
	go runner.Start(ctx)
	t.Cleanup(cancel)

	return &testHarness{runner: runner, store: store, queue: q, raster: raster, cancel: cancel}
}

func fastMock() *vision.MockClient {
	c := vision.NewMockClient()
	c.Latency = 0
	return c
}

// TestRunner_ApprovesHighConfidence runs a document end to end with a
// confident backend and expects auto-approval plus a final artifact.
func TestRunner_ApprovesHighConfidence(t *testing.T) {
	th := newHarness(t, fastMock(), 6, nil)

	result, err := th.runner.Process(context.Background(), "reports/annual.pdf")
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if result.Disposition != document.DispositionApproved {
		t.Fatalf("disposition = %s, want approved", result.Disposition)
	}
	if result.Aggregate < 0.85 {
		t.Errorf("aggregate = %g, want >= 0.85", result.Aggregate)
	}
	if result.FailedCount != 0 {
		t.Errorf("failed sections = %d, want 0", result.FailedCount)
	}
	if _, err := os.Stat(th.store.FinalPath("annual")); err != nil {
		t.Errorf("final document missing: %v", err)
	}
}

// TestRunner_RoutesMidConfidenceToReview expects a document between the
// thresholds to land in the validation queue, not final output.
func TestRunner_RoutesMidConfidenceToReview(t *testing.T) {
	client := fastMock()
	client.Confidence = 0.78
	th := newHarness(t, client, 4, nil)

	result, err := th.runner.Process(context.Background(), "doc-mid.pdf")
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if result.Disposition != document.DispositionNeedsReview {
		t.Fatalf("disposition = %s, want needs_review", result.Disposition)
	}
	if result.QueueEntryID == "" {
		t.Fatal("no queue entry id on a needs_review result")
	}

	entry, err := th.queue.Get(result.QueueEntryID)
	if err != nil {
		t.Fatalf("queue.Get() error = %v", err)
	}
	if entry.DocumentID != "doc-mid" || entry.Status != queue.StatusPending {
		t.Errorf("entry = %s/%s, want doc-mid/pending", entry.DocumentID, entry.Status)
	}
	if entry.Document == nil {
		t.Error("entry carries no extracted document for the reviewer")
	}
	if _, err := os.Stat(th.store.FinalPath("doc-mid")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("final document written before review: %v", err)
	}
}

// TestRunner_FallbackOnDetectionFailure expects the rule-based split to
// carry the document when detection fails after retries.
func TestRunner_FallbackOnDetectionFailure(t *testing.T) {
	client := fastMock()
	client.DetectFn = func(ctx context.Context, req *vision.DetectRequest) (*vision.DetectResult, error) {
		return nil, vision.Permanent("detect", errors.New("model refused"))
	}
	th := newHarness(t, client, 12, nil)

	result, err := th.runner.Process(context.Background(), "doc-fb.pdf")
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	// 12 pages at the default 5-page chunk give three general sections.
	if result.Sections != 3 {
		t.Errorf("sections = %d, want 3 fallback chunks", result.Sections)
	}
	if result.Disposition != document.DispositionApproved {
		t.Errorf("disposition = %s, want approved (extraction still confident)", result.Disposition)
	}
	if got := client.ExtractCalls(); got != 3 {
		t.Errorf("extract calls = %d, want 3", got)
	}
}

// TestRunner_FailedSectionPenalizesAggregate expects a permanently failing
// section to count as zero confidence without sinking its siblings.
func TestRunner_FailedSectionPenalizesAggregate(t *testing.T) {
	client := fastMock()
	client.DetectFn = func(ctx context.Context, req *vision.DetectRequest) (*vision.DetectResult, error) {
		return &vision.DetectResult{Sections: []vision.DetectedSection{
			{SectionType: "header", Name: "Header", StartPage: 1, EndPage: 2, Confidence: 0.9},
			{SectionType: "body", Name: "Body", StartPage: 3, EndPage: 8, Confidence: 0.9},
		}}, nil
	}
	client.ExtractFn = func(ctx context.Context, req *vision.ExtractRequest) (*vision.ExtractResult, error) {
		if req.SectionType == "body" {
			return nil, vision.Permanent("extract", errors.New("unreadable pages"))
		}
		return &vision.ExtractResult{
			Payload:    map[string]any{"title": "Annual Report"},
			Confidence: 0.9,
		}, nil
	}
	th := newHarness(t, client, 8, nil)

	result, err := th.runner.Process(context.Background(), "doc-half.pdf")
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if result.FailedCount != 1 {
		t.Fatalf("failed sections = %d, want 1", result.FailedCount)
	}
	want := 0.9 / 2
	if diff := result.Aggregate - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("aggregate = %g, want %g (failed section counts as zero)", result.Aggregate, want)
	}
	if result.Disposition != document.DispositionNeedsReview {
		t.Errorf("disposition = %s, want needs_review", result.Disposition)
	}
}

// TestRunner_SchemaViolationFailsSection expects a payload that breaks its
// section schema to fail that section; with no surviving sections the
// document is rejected.
func TestRunner_SchemaViolationFailsSection(t *testing.T) {
	client := fastMock()
	client.ExtractFn = func(ctx context.Context, req *vision.ExtractRequest) (*vision.ExtractResult, error) {
		// The general schema requires a string "content" field.
		return &vision.ExtractResult{
			Payload:    map[string]any{"wrong_field": true},
			Confidence: 0.99,
		}, nil
	}
	th := newHarness(t, client, 3, nil)

	result, err := th.runner.Process(context.Background(), "doc-bad.pdf")
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if result.Disposition != document.DispositionRejected {
		t.Errorf("disposition = %s, want rejected", result.Disposition)
	}
	if result.FailedCount != 1 {
		t.Errorf("failed sections = %d, want 1", result.FailedCount)
	}
	if result.Aggregate != 0 {
		t.Errorf("aggregate = %g, want 0", result.Aggregate)
	}
}

// TestRunner_BatchResumeSkipsCompleted expects a resumed batch to process
// only the documents that never reached a terminal state.
func TestRunner_BatchResumeSkipsCompleted(t *testing.T) {
	dir := t.TempDir()
	cps, err := checkpoint.Open(dir, "nightly", nil)
	if err != nil {
		t.Fatalf("checkpoint.Open() error = %v", err)
	}
	defer cps.Close()

	// Two documents already finished in the interrupted run.
	if err := cps.MarkComplete("doc-1", document.DispositionApproved); err != nil {
		t.Fatalf("MarkComplete() error = %v", err)
	}
	if err := cps.MarkComplete("doc-3", document.DispositionFailed); err != nil {
		t.Fatalf("MarkComplete() error = %v", err)
	}

	th := newHarness(t, fastMock(), 4, cps)

	paths := []string{"doc-1.pdf", "doc-2.pdf", "doc-3.pdf", "doc-4.pdf", "doc-5.pdf"}
	job, err := th.runner.RunBatch(context.Background(), paths, BatchConfig{
		BatchID:         "nightly",
		DocumentWorkers: 2,
	})
	if err != nil {
		t.Fatalf("RunBatch() error = %v", err)
	}

	if got := th.raster.calls.Load(); got != 3 {
		t.Errorf("rasterized %d documents, want 3 (resume skips finished)", got)
	}
	if !job.Done() {
		t.Error("job not done after batch")
	}
	if job.Approved != 4 {
		t.Errorf("approved = %d, want 4 (1 prior + 3 new)", job.Approved)
	}
	if job.Failed != 1 {
		t.Errorf("failed = %d, want 1 (carried from prior run)", job.Failed)
	}

	if got := len(cps.Completed()); got != 5 {
		t.Errorf("checkpointed completions = %d, want 5", got)
	}
}

// TestRunner_BatchSurvivesDocumentFailure expects one document's failure to
// leave the rest of the batch untouched.
func TestRunner_BatchSurvivesDocumentFailure(t *testing.T) {
	client := fastMock()
	client.ExtractFn = func(ctx context.Context, req *vision.ExtractRequest) (*vision.ExtractResult, error) {
		if req.DocumentID == "doc-2" {
			return nil, vision.Permanent("extract", errors.New("corrupt section"))
		}
		return &vision.ExtractResult{
			Payload:    map[string]any{"content": fmt.Sprintf("text for %s", req.DocumentID)},
			Confidence: 0.95,
		}, nil
	}
	th := newHarness(t, client, 4, nil)

	job, err := th.runner.RunBatch(context.Background(), []string{"doc-1.pdf", "doc-2.pdf", "doc-3.pdf"}, BatchConfig{
		DocumentWorkers: 3,
	})
	if err != nil {
		t.Fatalf("RunBatch() error = %v", err)
	}

	if job.Approved != 2 {
		t.Errorf("approved = %d, want 2", job.Approved)
	}
	// doc-2's only section failed, so the document is rejected.
	if job.Rejected != 1 {
		t.Errorf("rejected = %d, want 1", job.Rejected)
	}
	if job.Failed != 0 {
		t.Errorf("failed = %d, want 0 (rejection is not a structural failure)", job.Failed)
	}
}

// TestRunner_BatchLargerThanDefaultQueue expects a batch well past the pool's
// default overflow queue to submit and finish cleanly.
func TestRunner_BatchLargerThanDefaultQueue(t *testing.T) {
	th := newHarness(t, fastMock(), 1, nil)

	paths := make([]string, 1100)
	for i := range paths {
		paths[i] = fmt.Sprintf("doc-%04d.pdf", i)
	}

	job, err := th.runner.RunBatch(context.Background(), paths, BatchConfig{
		DocumentWorkers: 8,
	})
	if err != nil {
		t.Fatalf("RunBatch() error = %v", err)
	}
	if !job.Done() {
		t.Error("job not done after batch")
	}
	if job.Approved != len(paths) {
		t.Errorf("approved = %d, want %d", job.Approved, len(paths))
	}
}

// TestRunner_BatchRejectsDuplicateDocumentIDs expects two paths sharing a
// filename stem to fail the batch up front rather than silently collide.
func TestRunner_BatchRejectsDuplicateDocumentIDs(t *testing.T) {
	th := newHarness(t, fastMock(), 1, nil)

	_, err := th.runner.RunBatch(context.Background(),
		[]string{"inbox/report.pdf", "archive/report.pdf"}, BatchConfig{})
	if err == nil {
		t.Fatal("RunBatch() accepted two paths with the same document id")
	}
	if !strings.Contains(err.Error(), "duplicate document id") {
		t.Errorf("error = %v, want duplicate document id", err)
	}
	if got := th.raster.calls.Load(); got != 0 {
		t.Errorf("rasterized %d documents before failing, want 0", got)
	}
}

// TestRunner_ReusesOpenEntryAfterCrash replays the crash window between a
// successful enqueue and the terminal checkpoint record: reprocessing must
// adopt the existing open entry instead of aborting on the conflict.
func TestRunner_ReusesOpenEntryAfterCrash(t *testing.T) {
	cps, err := checkpoint.Open(t.TempDir(), "nightly", nil)
	if err != nil {
		t.Fatalf("checkpoint.Open() error = %v", err)
	}
	defer cps.Close()

	client := fastMock()
	client.Confidence = 0.78
	th := newHarness(t, client, 4, cps)

	// Entry left behind by a run that died before writing its terminal
	// checkpoint record.
	entryID, err := th.queue.Enqueue("doc-mid", []string{"low_confidence"},
		&document.FinalDocument{DocumentID: "doc-mid"})
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	result, err := th.runner.Process(context.Background(), "doc-mid.pdf")
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if result.Disposition != document.DispositionNeedsReview {
		t.Fatalf("disposition = %s, want needs_review", result.Disposition)
	}
	if result.QueueEntryID != entryID {
		t.Errorf("queue entry = %s, want reused %s", result.QueueEntryID, entryID)
	}

	entries, err := th.queue.List(queue.Filter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("pending entries = %d, want 1", len(entries))
	}
	if got := cps.Completed()["doc-mid"]; got != document.DispositionNeedsReview {
		t.Errorf("checkpointed disposition = %q, want needs_review", got)
	}
}

// TestChunkSplit covers the fallback splitter's boundary arithmetic.
func TestChunkSplit(t *testing.T) {
	tests := []struct {
		total, chunk int
		wantSections int
		wantLastEnd  int
	}{
		{total: 3, chunk: 5, wantSections: 1, wantLastEnd: 3},
		{total: 5, chunk: 5, wantSections: 1, wantLastEnd: 5},
		{total: 6, chunk: 5, wantSections: 2, wantLastEnd: 6},
		{total: 23, chunk: 5, wantSections: 5, wantLastEnd: 23},
	}

	for _, tt := range tests {
		sections := ChunkSplit(tt.total, tt.chunk)
		if len(sections) != tt.wantSections {
			t.Errorf("ChunkSplit(%d, %d) = %d sections, want %d",
				tt.total, tt.chunk, len(sections), tt.wantSections)
			continue
		}
		if sections[0].StartPage != 1 {
			t.Errorf("ChunkSplit(%d, %d) first start = %d, want 1",
				tt.total, tt.chunk, sections[0].StartPage)
		}
		last := sections[len(sections)-1]
		if last.EndPage != tt.wantLastEnd {
			t.Errorf("ChunkSplit(%d, %d) last end = %d, want %d",
				tt.total, tt.chunk, last.EndPage, tt.wantLastEnd)
		}
		for i := 1; i < len(sections); i++ {
			if sections[i].StartPage != sections[i-1].EndPage+1 {
				t.Errorf("ChunkSplit(%d, %d) gap between section %d and %d",
					tt.total, tt.chunk, i-1, i)
			}
		}
	}
}

// TestNormalize covers boundary repair of raw detection spans.
func TestNormalize(t *testing.T) {
	th := newHarness(t, fastMock(), 1, nil)
	r := th.runner

	detected := []vision.DetectedSection{
		{SectionType: "body", Name: "Body", StartPage: 4, EndPage: 12},
		{SectionType: "header", Name: "Header", StartPage: 0, EndPage: 2},     // clamps to 1
		{SectionType: "unknown_type", Name: "Tail", StartPage: 13, EndPage: 99}, // clamps, retypes
	}

	sections := r.normalize(detected, 20)
	if len(sections) != 3 {
		t.Fatalf("normalize() = %d sections, want 3", len(sections))
	}
	if sections[0].StartPage != 1 {
		t.Errorf("first section starts at %d, want 1", sections[0].StartPage)
	}
	if sections[len(sections)-1].EndPage != 20 {
		t.Errorf("last section ends at %d, want 20", sections[len(sections)-1].EndPage)
	}
	for i := 1; i < len(sections); i++ {
		if sections[i].StartPage != sections[i-1].EndPage+1 {
			t.Errorf("gap or overlap between sections %d and %d", i-1, i)
		}
	}
	if sections[2].Type != schema.FallbackType {
		t.Errorf("unknown type mapped to %q, want %q", sections[2].Type, schema.FallbackType)
	}
}
