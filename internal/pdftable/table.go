// Package pdftable recovers row/cell tables from the text layer of a PDF.
//
// Detection works on the positioned glyphs and rectangles that
// github.com/ledongthuc/pdf reports for each page. Pages that draw a cell
// grid are read as lattice tables: every grid cell becomes one table cell.
// Pages without a usable grid fall back to stream detection, where columns
// are inferred from how text lines up horizontally.
//
// Only the embedded text layer is read; image-only scans yield no tables.
package pdftable

import (
	"fmt"
	"log/slog"

	"github.com/ledongthuc/pdf"
)

// Table is one detected table: rows top to bottom, cells left to right.
// A cell with no text is the empty string.
type Table struct {
	Rows [][]string
}

// Page holds the tables detected on one page, in top-to-bottom order.
type Page struct {
	Number int
	Tables []Table
}

// Options tunes the geometry tolerances, in PDF user-space units unless
// noted otherwise.
type Options struct {
	// SnapTolerance merges grid edges closer than this.
	SnapTolerance float64
	// LineTolerance groups glyphs whose baselines differ by at most this.
	LineTolerance float64
	// WordGap is the gap, as a fraction of the font size, that separates
	// two words inside a cell.
	WordGap float64
	// ColumnGap is the gap, as a fraction of the font size, that separates
	// two cells when no grid is drawn.
	ColumnGap float64
	// DisableStream turns off the stream fallback.
	DisableStream bool
}

// DefaultOptions returns tolerances that suit typical A4 mark sheets.
func DefaultOptions() Options {
	return Options{
		SnapTolerance: 3,
		LineTolerance: 2,
		WordGap:       0.25,
		ColumnGap:     1.0,
	}
}

// ReadFile opens the PDF at path and detects the tables on every page.
// The file is closed before ReadFile returns.
func ReadFile(path string, opts Options) ([]Page, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pdf %s: %w", path, err)
	}
	defer f.Close()

	numPages := r.NumPage()
	pages := make([]Page, 0, numPages)
	for i := 1; i <= numPages; i++ {
		page := Page{Number: i}
		p := r.Page(i)
		if p.V.IsNull() {
			pages = append(pages, page)
			continue
		}
		content, err := pageContent(p)
		if err != nil {
			slog.Warn("Skipping unreadable page.", "path", path, "page", i, "error", err)
			pages = append(pages, page)
			continue
		}
		page.Tables = Detect(content.Text, content.Rect, opts)
		pages = append(pages, page)
	}
	return pages, nil
}

// pageContent shields callers from the panics the content-stream
// interpreter raises on malformed operators.
func pageContent(p pdf.Page) (content pdf.Content, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed page content: %v", r)
		}
	}()
	return p.Content(), nil
}

// Detect finds the tables formed by texts and rects on a single page.
func Detect(texts []pdf.Text, rects []pdf.Rect, opts Options) []Table {
	glyphs := toGlyphs(texts)
	if len(glyphs) == 0 {
		return nil
	}

	var tables []Table
	for _, grid := range findGrids(rects, opts.SnapTolerance) {
		if t, ok := grid.fill(glyphs, opts); ok {
			tables = append(tables, t)
		}
	}
	if len(tables) > 0 || opts.DisableStream {
		return tables
	}
	if t, ok := detectStream(glyphs, opts); ok {
		tables = append(tables, t)
	}
	return tables
}
