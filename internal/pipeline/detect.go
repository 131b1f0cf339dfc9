package pipeline

import (
	"context"
	"fmt"
	"sort"

	"github.com/jackzampolin/docuport/internal/document"
	"github.com/jackzampolin/docuport/internal/schema"
	"github.com/jackzampolin/docuport/internal/vision"
)

// FallbackSplit is the rule-based sectioning strategy used when detection
// fails. It must always succeed structurally so the document can advance.
type FallbackSplit func(totalPages, chunkPages int) []*document.Section

// detect runs the detection stage: a gateway call over sampled pages, with
// the rule-based split as the fallback when the call fails after retries or
// returns nothing usable. Returns the sections and whether the fallback ran.
func (r *Runner) detect(ctx context.Context, doc *document.Document, pages []vision.Page) ([]*document.Section, bool) {
	log := r.logger.With("document", doc.ID)

	req := &vision.DetectRequest{
		DocumentID:   doc.ID,
		TotalPages:   doc.TotalPages,
		Pages:        vision.SamplePages(pages),
		SectionTypes: r.schemas.Types(),
	}

	result, err := r.gateway.DetectSections(ctx, req)
	if err != nil {
		log.Warn("detection failed, using fallback split", "error", err)
		return r.fallback(doc.TotalPages), true
	}

	sections := r.normalize(result.Sections, doc.TotalPages)
	if len(sections) == 0 {
		log.Warn("detection returned no usable sections, using fallback split")
		return r.fallback(doc.TotalPages), true
	}

	log.Info("detected sections", "count", len(sections))
	return sections, false
}

// normalize turns raw detected spans into valid, ordered, gap-free sections:
// sorted by start page, clamped to [1, totalPages], overlaps and gaps closed.
// Spans that are unusable even after clamping are dropped.
func (r *Runner) normalize(detected []vision.DetectedSection, totalPages int) []*document.Section {
	var sections []*document.Section
	for _, d := range detected {
		start, end := d.StartPage, d.EndPage
		if start < 1 {
			start = 1
		}
		if end > totalPages {
			end = totalPages
		}
		if end < start {
			continue
		}

		secType := d.SectionType
		if !r.schemas.Known(secType) {
			secType = schema.FallbackType
		}
		name := d.Name
		if name == "" {
			name = fmt.Sprintf("%s %d-%d", secType, start, end)
		}

		sections = append(sections, &document.Section{
			Type:      secType,
			Name:      name,
			StartPage: start,
			EndPage:   end,
			Status:    document.SectionPending,
		})
	}
	if len(sections) == 0 {
		return nil
	}

	sort.Slice(sections, func(i, j int) bool {
		return sections[i].StartPage < sections[j].StartPage
	})

	// Cover the whole document and remove gaps/overlaps between neighbors.
	sections[0].StartPage = 1
	sections[len(sections)-1].EndPage = totalPages
	for i := 0; i < len(sections)-1; i++ {
		cur, next := sections[i], sections[i+1]
		if cur.EndPage < next.StartPage-1 {
			cur.EndPage = next.StartPage - 1
		}
		if cur.EndPage >= next.StartPage {
			cur.EndPage = next.StartPage - 1
		}
	}

	// A neighbor adjustment can invert a one-page span; drop the casualties.
	valid := sections[:0]
	for _, s := range sections {
		if s.EndPage >= s.StartPage {
			valid = append(valid, s)
		}
	}
	return valid
}

// fallback applies the configured rule-based split.
func (r *Runner) fallback(totalPages int) []*document.Section {
	return r.fallbackSplit(totalPages, r.fallbackChunk)
}

// ChunkSplit splits a document into fixed-size page chunks tagged as general
// sections. Documents no longer than one chunk get a single section.
func ChunkSplit(totalPages, chunkPages int) []*document.Section {
	if chunkPages < 1 {
		chunkPages = 5
	}
	if totalPages <= chunkPages {
		return []*document.Section{{
			Type:      schema.FallbackType,
			Name:      "Document Content",
			StartPage: 1,
			EndPage:   totalPages,
			Status:    document.SectionPending,
		}}
	}

	var sections []*document.Section
	for start := 1; start <= totalPages; start += chunkPages {
		end := start + chunkPages - 1
		if end > totalPages {
			end = totalPages
		}
		sections = append(sections, &document.Section{
			Type:      schema.FallbackType,
			Name:      fmt.Sprintf("Section %d", len(sections)+1),
			StartPage: start,
			EndPage:   end,
			Status:    document.SectionPending,
		})
	}
	return sections
}
