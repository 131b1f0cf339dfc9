// Package ingest turns a source PDF into the page images the vision service
// consumes. It is a collaborator of the pipeline, not part of it: the
// pipeline only sees the Rasterizer interface.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/jackzampolin/docuport/internal/vision"
)

// Rasterizer renders a document's pages into images.
type Rasterizer interface {
	// Rasterize returns one Page per document page, in page order.
	Rasterize(ctx context.Context, sourcePath string) ([]vision.Page, error)
}

// PDFRasterizer renders PDF pages with pdftoppm (poppler-utils), using
// pdfcpu for page counting and structural validation.
type PDFRasterizer struct {
	dpi    int
	logger *slog.Logger
}

// NewPDFRasterizer creates a rasterizer rendering at the given DPI
// (default 150).
func NewPDFRasterizer(dpi int, logger *slog.Logger) *PDFRasterizer {
	if dpi <= 0 {
		dpi = 150
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PDFRasterizer{dpi: dpi, logger: logger.With("component", "rasterizer")}
}

// PageCount returns the number of pages in a PDF.
func PageCount(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open PDF: %w", err)
	}
	defer f.Close()

	count, err := api.PageCount(f, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to get page count: %w", err)
	}
	return count, nil
}

// Rasterize renders every page of the PDF to PNG bytes.
func (r *PDFRasterizer) Rasterize(ctx context.Context, sourcePath string) ([]vision.Page, error) {
	pageCount, err := PageCount(sourcePath)
	if err != nil {
		return nil, err
	}
	if pageCount == 0 {
		return nil, fmt.Errorf("PDF has no pages: %s", sourcePath)
	}

	pages := make([]vision.Page, 0, pageCount)
	for p := 1; p <= pageCount; p++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		img, err := r.renderPage(ctx, sourcePath, p)
		if err != nil {
			return nil, fmt.Errorf("failed to render page %d: %w", p, err)
		}
		pages = append(pages, vision.Page{Number: p, Image: img})
	}

	r.logger.Debug("rasterized document", "source", sourcePath, "pages", pageCount)
	return pages, nil
}

// renderPage renders a single page using pdftoppm.
func (r *PDFRasterizer) renderPage(ctx context.Context, pdfPath string, page int) ([]byte, error) {
	tmpDir, err := os.MkdirTemp("", "docuport-page-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	outputPrefix := filepath.Join(tmpDir, "page")
	pageStr := fmt.Sprintf("%d", page)

	cmd := exec.CommandContext(ctx, "pdftoppm",
		"-png",
		"-f", pageStr,
		"-l", pageStr,
		"-r", fmt.Sprintf("%d", r.dpi),
		"-singlefile",
		pdfPath,
		outputPrefix,
	)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("pdftoppm failed: %w (output: %s)", err, string(output))
	}

	data, err := os.ReadFile(outputPrefix + ".png")
	if err != nil {
		return nil, fmt.Errorf("pdftoppm did not create expected output: %w", err)
	}
	return data, nil
}

var _ Rasterizer = (*PDFRasterizer)(nil)
