package services

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/Lllllllleong/marksreconciler/internal/models"
	"github.com/Lllllllleong/marksreconciler/internal/pdftable"
)

// TableReader reads every page's tables from a PDF on disk.
type TableReader func(path string) ([]pdftable.Page, error)

// Scanner builds a MarkMap from a gradesheet PDF.
type Scanner struct {
	readTables TableReader
}

// NewScanner returns a Scanner backed by the text-layer table detector.
func NewScanner() *Scanner {
	return &Scanner{readTables: func(path string) ([]pdftable.Page, error) {
		return pdftable.ReadFile(path, pdftable.DefaultOptions())
	}}
}

// NewScannerWithReader returns a Scanner that takes its tables from read.
func NewScannerWithReader(read TableReader) *Scanner {
	return &Scanner{readTables: read}
}

// ScanFile scans the PDF at path. A path that does not resolve to a
// readable PDF yields ErrSourceNotFound.
func (s *Scanner) ScanFile(ctx context.Context, path string, ex RowExtractor) (*models.ScanResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	logCtx := slog.With("source", path)

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSourceNotFound, path, err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %s is not a regular file", ErrSourceNotFound, path)
	}

	if err := validatePDF(path); err != nil {
		logCtx.Warn("PDF failed relaxed validation; scanning anyway.", "error", err)
	} else if pageCount, err := api.PageCountFile(path); err == nil {
		logCtx.Debug("PDF validated.", "pageCount", pageCount)
	}

	pages, err := s.readTables(path)
	if err != nil {
		logCtx.Warn("Could not read PDF directly; retrying with a repaired copy.", "error", err)
		pages, err = s.readRepaired(path)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrSourceNotFound, path, err)
		}
	}

	res := ScanTables(pages, ex)
	logCtx.Info("Scanned source document.",
		"pages", res.Pages,
		"tables", res.Tables,
		"rowsSeen", res.RowsSeen,
		"rowsAccepted", res.RowsAccepted,
		"absences", res.Absences,
		"fallbacks", res.Fallbacks,
		"students", len(res.Marks),
	)
	return &res, nil
}

// readRepaired rewrites the document with pdfcpu in relaxed mode and reads
// the rewritten copy. The copy is removed before returning.
func (s *Scanner) readRepaired(path string) ([]pdftable.Page, error) {
	tempDir, err := os.MkdirTemp("", "marks-scan-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tempDir)

	repaired := filepath.Join(tempDir, "repaired.pdf")
	if err := optimizePDF(path, repaired); err != nil {
		return nil, fmt.Errorf("failed to repair PDF: %w", err)
	}
	return s.readTables(repaired)
}

func relaxedConfig() *model.Configuration {
	cfg := model.NewDefaultConfiguration()
	cfg.ValidationMode = model.ValidationRelaxed
	return cfg
}

func validatePDF(path string) error {
	return api.ValidateFile(path, relaxedConfig())
}

func optimizePDF(inPath, outPath string) error {
	return api.OptimizeFile(inPath, outPath, relaxedConfig())
}

// ScanTables walks pages, tables and rows in order and collects the marks
// the extractor accepts. A key seen twice keeps its later mark.
func ScanTables(pages []pdftable.Page, ex RowExtractor) models.ScanResult {
	res := models.ScanResult{Marks: models.MarkMap{}, Pages: len(pages)}
	for _, page := range pages {
		for _, table := range page.Tables {
			res.Tables++
			for _, row := range table.Rows {
				res.RowsSeen++
				key, mark, outcome, ok := ex.Extract(row)
				if !ok {
					continue
				}
				res.RowsAccepted++
				switch outcome {
				case CellAbsent:
					res.Absences++
				case CellExtracted, CellUnparsed:
					res.Fallbacks++
				}
				res.Marks[key] = mark
			}
		}
	}
	return res
}
