package services

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/marksreconciler/internal/pdftable"
)

func marksExtractor() RowExtractor {
	return RowExtractor{
		Layout:   ColumnLayout{KeyColumn: 2, MarkColumn: 7},
		Keys:     EnrollmentKeys,
		Fallback: FallbackZero,
	}
}

func samplePages() []pdftable.Page {
	return []pdftable.Page{
		{Number: 1, Tables: []pdftable.Table{{Rows: [][]string{
			{"Roll", "Div", "Enrollment", "Name", "", "", "", "Marks"},
			sheetRow("24002171310074", "40"),
			sheetRow("24002171310075", "AB"),
			sheetRow("24002171310076", "See note"),
		}}}},
		{Number: 2, Tables: []pdftable.Table{{Rows: [][]string{
			sheetRow("24002171310077", "None"),
			sheetRow("24002171310074", "44"),
			{"Total"},
		}}}},
	}
}

func TestScanTables(t *testing.T) {
	res := ScanTables(samplePages(), marksExtractor())

	assert.Equal(t, 2, res.Pages)
	assert.Equal(t, 2, res.Tables)
	assert.Equal(t, 7, res.RowsSeen)
	assert.Equal(t, 5, res.RowsAccepted)
	assert.Equal(t, 1, res.Absences)
	assert.Equal(t, 1, res.Fallbacks)
	require.Len(t, res.Marks, 4)

	// The later row for a repeated key wins.
	assert.Equal(t, 44.0, res.Marks["24002171310074"].Value)
	assert.True(t, res.Marks["24002171310075"].Absent)
	assert.Equal(t, 0.0, res.Marks["24002171310076"].Value)
	assert.Equal(t, 0.0, res.Marks["24002171310077"].Value)
}

func TestScanTablesEmpty(t *testing.T) {
	res := ScanTables(nil, marksExtractor())
	assert.Empty(t, res.Marks)
	assert.Zero(t, res.RowsAccepted)
}

func writeFakePDF(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "sheet.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4\n%fake\n"), 0o644))
	return path
}

func TestScanFile(t *testing.T) {
	path := writeFakePDF(t, t.TempDir())
	var readPath string
	s := NewScannerWithReader(func(p string) ([]pdftable.Page, error) {
		readPath = p
		return samplePages(), nil
	})

	res, err := s.ScanFile(context.Background(), path, marksExtractor())
	require.NoError(t, err)
	assert.Equal(t, path, readPath)
	assert.Len(t, res.Marks, 4)
}

func TestScanFileMissingSource(t *testing.T) {
	s := NewScannerWithReader(func(string) ([]pdftable.Page, error) {
		t.Fatal("reader must not be called for a missing file")
		return nil, nil
	})

	_, err := s.ScanFile(context.Background(), filepath.Join(t.TempDir(), "nope.pdf"), marksExtractor())
	assert.ErrorIs(t, err, ErrSourceNotFound)
}

func TestScanFileDirectory(t *testing.T) {
	_, err := NewScanner().ScanFile(context.Background(), t.TempDir(), marksExtractor())
	assert.ErrorIs(t, err, ErrSourceNotFound)
}

func TestScanFileUnreadable(t *testing.T) {
	path := writeFakePDF(t, t.TempDir())
	s := NewScannerWithReader(func(string) ([]pdftable.Page, error) {
		return nil, errors.New("malformed xref")
	})

	_, err := s.ScanFile(context.Background(), path, marksExtractor())
	assert.ErrorIs(t, err, ErrSourceNotFound)
}

func TestScanFileCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewScanner().ScanFile(ctx, "sheet.pdf", marksExtractor())
	assert.ErrorIs(t, err, context.Canceled)
}
