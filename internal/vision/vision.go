// Package vision defines the contract with the external vision/extraction
// service. The concrete transport lives behind the Client interface; callers
// reach it through the gateway, which owns retry and timeout policy.
package vision

import (
	"context"
	"encoding/json"
	"time"
)

// Client is the typed contract every vision backend implements.
// Both calls return either a result with a confidence score or a typed
// failure (see Error) that the gateway classifies for retry.
type Client interface {
	// Name returns the backend identifier (e.g., "openai", "mock").
	Name() string

	// DetectSections analyzes sampled page images and returns the document's
	// section structure.
	DetectSections(ctx context.Context, req *DetectRequest) (*DetectResult, error)

	// ExtractSection extracts structured data from one section's pages.
	ExtractSection(ctx context.Context, req *ExtractRequest) (*ExtractResult, error)
}

// Page is one rasterized document page.
type Page struct {
	Number int    // 1-indexed page number
	Image  []byte // PNG bytes
}

// DetectRequest asks the service for the section structure of a document.
type DetectRequest struct {
	DocumentID   string
	TotalPages   int
	Pages        []Page   // sampled pages, not necessarily contiguous
	SectionTypes []string // allowed section type enumeration
}

// DetectedSection is one section boundary as reported by the service.
type DetectedSection struct {
	SectionType string  `json:"section_type"`
	Name        string  `json:"section_name"`
	StartPage   int     `json:"start_page"`
	EndPage     int     `json:"end_page"`
	Description string  `json:"description,omitempty"`
	Confidence  float64 `json:"confidence"`
}

// DetectResult is a successful detection response.
type DetectResult struct {
	Sections      []DetectedSection
	RequestID     string
	ModelUsed     string
	ExecutionTime time.Duration
}

// ExtractRequest asks the service to extract one section's structured payload.
type ExtractRequest struct {
	DocumentID  string
	SectionType string
	SectionName string
	StartPage   int
	EndPage     int
	Pages       []Page          // all pages in the section's range
	Schema      json.RawMessage // JSON Schema the payload must conform to
}

// ExtractResult is a successful extraction response.
type ExtractResult struct {
	Payload       map[string]any
	Confidence    float64
	RequestID     string
	ModelUsed     string
	ExecutionTime time.Duration
}

// SamplePages picks a representative subset of pages for detection: first
// page, last page, and every fifth page in between. Documents of ten pages or
// fewer are sent whole.
func SamplePages(pages []Page) []Page {
	total := len(pages)
	if total <= 10 {
		return pages
	}

	picked := map[int]bool{0: true, total - 1: true}
	for i := 4; i < total-1; i += 5 {
		picked[i] = true
	}

	out := make([]Page, 0, len(picked))
	for i := 0; i < total; i++ {
		if picked[i] {
			out = append(out, pages[i])
		}
	}
	return out
}
