package pipeline

import (
	"context"
	"fmt"

	"github.com/jackzampolin/docuport/internal/document"
	"github.com/jackzampolin/docuport/internal/pool"
	"github.com/jackzampolin/docuport/internal/vision"
)

// extract fans the document's sections out to the shared section pool and
// waits for every one of them to reach a terminal status. A failed section
// never aborts its siblings; the stage barrier only releases once all
// futures resolve.
func (r *Runner) extract(ctx context.Context, doc *document.Document, pages []vision.Page) error {
	log := r.logger.With("document", doc.ID)

	type pending struct {
		section *document.Section
		future  *pool.Future[*document.Section]
	}

	waits := make([]pending, 0, len(doc.Sections))
	for _, sec := range doc.Sections {
		sec := sec
		fut, err := r.sections.Submit(func(ctx context.Context) (*document.Section, error) {
			r.extractSection(ctx, doc, sec, pages)
			return sec, nil
		})
		if err != nil {
			// Pool saturated or draining: the section fails locally, the
			// document still proceeds to validation.
			sec.Status = document.SectionFailed
			sec.Error = err.Error()
			continue
		}
		waits = append(waits, pending{section: sec, future: fut})
	}

	for _, w := range waits {
		if _, err := w.future.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// Captured panic or executor fault: terminal failure for this
			// section only.
			w.section.Status = document.SectionFailed
			w.section.Error = err.Error()
		}
	}

	log.Info("extraction complete",
		"sections", len(doc.Sections), "failed", doc.FailedSectionCount())
	return nil
}

// extractSection runs one section's gateway call and schema check, mutating
// the section it exclusively owns. It always leaves the section in a
// terminal status.
func (r *Runner) extractSection(ctx context.Context, doc *document.Document, sec *document.Section, pages []vision.Page) {
	log := r.logger.With("document", doc.ID, "section", sec.Name)

	req := &vision.ExtractRequest{
		DocumentID:  doc.ID,
		SectionType: sec.Type,
		SectionName: sec.Name,
		StartPage:   sec.StartPage,
		EndPage:     sec.EndPage,
		Pages:       pagesInRange(pages, sec.StartPage, sec.EndPage),
		Schema:      r.schemas.Raw(sec.Type),
	}

	result, err := r.gateway.ExtractSection(ctx, req)
	if err != nil {
		sec.Status = document.SectionFailed
		sec.Error = err.Error()
		log.Warn("section extraction failed", "error", err)
		return
	}

	if err := r.schemas.Validate(sec.Type, result.Payload); err != nil {
		sec.Status = document.SectionFailed
		sec.Error = fmt.Sprintf("schema violation: %v", err)
		log.Warn("section payload rejected", "error", err)
		return
	}

	sec.Payload = result.Payload
	sec.Confidence = result.Confidence
	sec.Status = document.SectionSucceeded

	if err := r.store.SaveSectionResult(doc.ID, sec); err != nil {
		log.Warn("failed to persist section result", "error", err)
	}
	log.Debug("section extracted", "confidence", fmt.Sprintf("%.2f", sec.Confidence))
}

// pagesInRange returns the pages whose numbers fall in [start, end].
func pagesInRange(pages []vision.Page, start, end int) []vision.Page {
	var out []vision.Page
	for _, p := range pages {
		if p.Number >= start && p.Number <= end {
			out = append(out, p)
		}
	}
	return out
}
