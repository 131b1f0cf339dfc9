package document

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jackzampolin/docuport/internal/home"
)

// Store persists pipeline artifacts as JSON files under the home directory.
// One file per artifact; writes go through a temp file + rename so a crash
// mid-write never leaves a truncated artifact behind.
type Store struct {
	home   *home.Dir
	logger *slog.Logger
}

// NewStore creates an artifact store rooted at the given home directory.
func NewStore(h *home.Dir, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{home: h, logger: logger.With("component", "document_store")}
}

// DetectionResult is the persisted output of the detection stage.
type DetectionResult struct {
	DocumentID   string        `json:"document_id"`
	Timestamp    time.Time     `json:"timestamp"`
	Sections     []SectionSpan `json:"sections"`
	SectionCount int           `json:"section_count"`
	Fallback     bool          `json:"fallback,omitempty"`
}

// SectionSpan is the detection-stage view of a section: type and boundaries,
// no payload yet.
type SectionSpan struct {
	SectionType string `json:"section_type"`
	StartPage   int    `json:"start_page"`
	EndPage     int    `json:"end_page"`
	Name        string `json:"name"`
}

// SectionMetadata is embedded in a persisted section result under "_metadata".
type SectionMetadata struct {
	SectionType string  `json:"section_type"`
	PageRange   string  `json:"page_range"`
	Confidence  float64 `json:"confidence"`
}

// FinalDocument is the combined output written for a fully processed document.
type FinalDocument struct {
	DocumentID       string           `json:"document_id"`
	Metadata         DocumentMetadata `json:"metadata"`
	Sections         []map[string]any `json:"sections"`
	ValidationStatus string           `json:"validation_status"`
}

// DocumentMetadata carries document-level processing facts.
type DocumentMetadata struct {
	TotalPages          int       `json:"total_pages"`
	ConfidenceScore     float64   `json:"confidence_score"`
	SectionCount        int       `json:"section_count"`
	ProcessingTimestamp time.Time `json:"processing_timestamp"`
	SourceFile          string    `json:"source_file,omitempty"`
}

// SaveDetectionResult writes the detection stage output for a document.
func (s *Store) SaveDetectionResult(doc *Document, fallback bool) error {
	spans := make([]SectionSpan, 0, len(doc.Sections))
	for _, sec := range doc.Sections {
		spans = append(spans, SectionSpan{
			SectionType: sec.Type,
			StartPage:   sec.StartPage,
			EndPage:     sec.EndPage,
			Name:        sec.Name,
		})
	}

	result := DetectionResult{
		DocumentID:   doc.ID,
		Timestamp:    time.Now().UTC(),
		Sections:     spans,
		SectionCount: len(spans),
		Fallback:     fallback,
	}

	path := filepath.Join(s.home.DetectionDir(), doc.ID+"_sections.json")
	if err := s.writeJSON(path, result); err != nil {
		return fmt.Errorf("failed to save detection result for %s: %w", doc.ID, err)
	}
	s.logger.Debug("saved detection result", "document", doc.ID, "sections", len(spans))
	return nil
}

// SaveSectionResult writes one extracted section's payload with its metadata.
func (s *Store) SaveSectionResult(docID string, sec *Section) error {
	// Payload fields at the top level, metadata tucked under _metadata.
	out := make(map[string]any, len(sec.Payload)+1)
	for k, v := range sec.Payload {
		out[k] = v
	}
	out["_metadata"] = SectionMetadata{
		SectionType: sec.Type,
		PageRange:   sec.PageRange(),
		Confidence:  sec.Confidence,
	}

	path := filepath.Join(s.home.SectionsDir(), fmt.Sprintf("%s_%s.json", docID, sanitizeName(sec.Name)))
	if err := s.writeJSON(path, out); err != nil {
		return fmt.Errorf("failed to save section %s of %s: %w", sec.Name, docID, err)
	}
	s.logger.Debug("saved section result", "document", docID, "section", sec.Name)
	return nil
}

// BuildFinal assembles the final document record from a processed document.
func BuildFinal(doc *Document) *FinalDocument {
	sections := make([]map[string]any, 0, len(doc.Sections))
	for _, sec := range doc.Sections {
		entry := make(map[string]any, len(sec.Payload)+1)
		for k, v := range sec.Payload {
			entry[k] = v
		}
		entry["_metadata"] = SectionMetadata{
			SectionType: sec.Type,
			PageRange:   sec.PageRange(),
			Confidence:  sec.Confidence,
		}
		sections = append(sections, entry)
	}

	return &FinalDocument{
		DocumentID: doc.ID,
		Metadata: DocumentMetadata{
			TotalPages:          doc.TotalPages,
			ConfidenceScore:     doc.Aggregate,
			SectionCount:        len(doc.Sections),
			ProcessingTimestamp: time.Now().UTC(),
			SourceFile:          doc.SourcePath,
		},
		Sections:         sections,
		ValidationStatus: string(doc.Disposition),
	}
}

// SaveFinal writes an approved document to the final output directory.
func (s *Store) SaveFinal(final *FinalDocument) error {
	path := filepath.Join(s.home.FinalDir(), final.DocumentID+".json")
	if err := s.writeJSON(path, final); err != nil {
		return fmt.Errorf("failed to save final document %s: %w", final.DocumentID, err)
	}
	s.logger.Info("saved final document", "document", final.DocumentID)
	return nil
}

// FinalPath returns where the final output for a document would live.
func (s *Store) FinalPath(docID string) string {
	return filepath.Join(s.home.FinalDir(), docID+".json")
}

func (s *Store) writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// sanitizeName makes a section name safe for use in a filename.
func sanitizeName(name string) string {
	r := strings.NewReplacer(" ", "_", "/", "_", "\\", "_")
	return r.Replace(name)
}
