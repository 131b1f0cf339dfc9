package document

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/jackzampolin/docuport/internal/home"
)

func testStore(t *testing.T) (*Store, *home.Dir) {
	t.Helper()
	h, err := home.New(t.TempDir())
	if err != nil {
		t.Fatalf("home.New() error = %v", err)
	}
	if err := h.EnsureExists(); err != nil {
		t.Fatalf("EnsureExists() error = %v", err)
	}
	return NewStore(h, nil), h
}

// TestStore_SaveDetectionResult verifies the detection artifact layout.
func TestStore_SaveDetectionResult(t *testing.T) {
	store, h := testStore(t)

	doc := New("invoice-0042.pdf")
	doc.Sections = []*Section{
		{Type: "header", Name: "Header", StartPage: 1, EndPage: 1},
		{Type: "body", Name: "Body", StartPage: 2, EndPage: 5},
	}

	if err := store.SaveDetectionResult(doc, true); err != nil {
		t.Fatalf("SaveDetectionResult() error = %v", err)
	}

	data, err := os.ReadFile(filepath.Join(h.DetectionDir(), "invoice-0042_sections.json"))
	if err != nil {
		t.Fatalf("read detection artifact: %v", err)
	}
	var result DetectionResult
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("unmarshal detection artifact: %v", err)
	}
	if result.DocumentID != "invoice-0042" || result.SectionCount != 2 || !result.Fallback {
		t.Errorf("artifact = %s/%d/fallback=%v, want invoice-0042/2/true",
			result.DocumentID, result.SectionCount, result.Fallback)
	}
	if result.Sections[1].StartPage != 2 || result.Sections[1].EndPage != 5 {
		t.Errorf("second span = %d-%d, want 2-5",
			result.Sections[1].StartPage, result.Sections[1].EndPage)
	}
}

// TestStore_SaveSectionResult verifies payload fields stay top-level with
// metadata tucked under _metadata.
func TestStore_SaveSectionResult(t *testing.T) {
	store, h := testStore(t)

	sec := &Section{
		Type:       "header",
		Name:       "Title Page",
		StartPage:  1,
		EndPage:    2,
		Confidence: 0.93,
		Payload:    map[string]any{"title": "Q3 Report"},
		Status:     SectionSucceeded,
	}
	if err := store.SaveSectionResult("report", sec); err != nil {
		t.Fatalf("SaveSectionResult() error = %v", err)
	}

	// Spaces in the section name become underscores in the filename.
	data, err := os.ReadFile(filepath.Join(h.SectionsDir(), "report_Title_Page.json"))
	if err != nil {
		t.Fatalf("read section artifact: %v", err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal section artifact: %v", err)
	}
	if out["title"] != "Q3 Report" {
		t.Errorf("payload title = %v, want Q3 Report", out["title"])
	}
	meta, ok := out["_metadata"].(map[string]any)
	if !ok {
		t.Fatal("missing _metadata")
	}
	if meta["page_range"] != "1-2" || meta["section_type"] != "header" {
		t.Errorf("metadata = %v, want page_range 1-2 and section_type header", meta)
	}
}

// TestBuildFinal verifies final document assembly from processed sections.
func TestBuildFinal(t *testing.T) {
	doc := New("report.pdf")
	doc.TotalPages = 6
	doc.Aggregate = 0.91
	doc.Disposition = DispositionApproved
	doc.Sections = []*Section{
		{
			Type: "header", Name: "Header", StartPage: 1, EndPage: 1,
			Confidence: 0.95, Status: SectionSucceeded,
			Payload: map[string]any{"title": "Report"},
		},
		{
			Type: "body", Name: "Body", StartPage: 2, EndPage: 6,
			Confidence: 0.87, Status: SectionSucceeded,
			Payload: map[string]any{"paragraphs": []string{"..."}},
		},
	}

	final := BuildFinal(doc)
	if final.DocumentID != "report" {
		t.Errorf("document id = %s, want report", final.DocumentID)
	}
	if final.Metadata.TotalPages != 6 || final.Metadata.SectionCount != 2 {
		t.Errorf("metadata = %d pages/%d sections, want 6/2",
			final.Metadata.TotalPages, final.Metadata.SectionCount)
	}
	if final.Metadata.ConfidenceScore != 0.91 {
		t.Errorf("confidence = %g, want 0.91", final.Metadata.ConfidenceScore)
	}
	if final.ValidationStatus != string(DispositionApproved) {
		t.Errorf("validation status = %s, want approved", final.ValidationStatus)
	}
	if len(final.Sections) != 2 || final.Sections[0]["title"] != "Report" {
		t.Errorf("sections = %v, want payloads carried through", final.Sections)
	}
}

// TestStore_SaveFinalRoundTrip verifies final save location and contents.
func TestStore_SaveFinalRoundTrip(t *testing.T) {
	store, _ := testStore(t)

	doc := New("report.pdf")
	doc.Disposition = DispositionApproved
	if err := store.SaveFinal(BuildFinal(doc)); err != nil {
		t.Fatalf("SaveFinal() error = %v", err)
	}

	data, err := os.ReadFile(store.FinalPath("report"))
	if err != nil {
		t.Fatalf("read final artifact: %v", err)
	}
	var final FinalDocument
	if err := json.Unmarshal(data, &final); err != nil {
		t.Fatalf("unmarshal final artifact: %v", err)
	}
	if final.DocumentID != "report" {
		t.Errorf("document id = %s, want report", final.DocumentID)
	}
}
