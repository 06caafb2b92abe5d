package services

import (
	"strings"
	"unicode/utf8"

	"github.com/Lllllllleong/marksreconciler/internal/models"
)

// KeyValidator normalizes a raw key cell and reports whether it looks like
// a student key for the run's match mode.
type KeyValidator func(raw string) (string, bool)

const minEnrollmentLength = 10

// EnrollmentKeys accepts all-digit enrollment numbers of at least ten
// digits, verbatim apart from surrounding whitespace.
func EnrollmentKeys(raw string) (string, bool) {
	key := strings.TrimSpace(raw)
	if len(key) < minEnrollmentLength {
		return "", false
	}
	for i := 0; i < len(key); i++ {
		if key[i] < '0' || key[i] > '9' {
			return "", false
		}
	}
	return key, true
}

var nameHeaders = map[string]bool{
	"NAME":         true,
	"SUBJECT NAME": true,
	"STUDENT NAME": true,
}

// NameKeys accepts student names of three or more characters, rejecting
// the header labels compiled sheets repeat on every page.
func NameKeys(raw string) (string, bool) {
	key := NormalizeName(raw)
	if utf8.RuneCountInString(key) < 3 || nameHeaders[key] {
		return "", false
	}
	return key, true
}

// NormalizeName upper-cases a name and collapses its whitespace, including
// the line breaks PDF cells wrap long names with.
func NormalizeName(s string) string {
	return strings.ToUpper(strings.Join(strings.Fields(s), " "))
}

// FallbackPolicy decides what happens to a row whose mark cell holds no
// number at all.
type FallbackPolicy string

const (
	// FallbackZero keeps the row with a mark of 0.
	FallbackZero FallbackPolicy = "zero"
	// FallbackReject drops the row, as compiled name-keyed sheets require.
	FallbackReject FallbackPolicy = "reject"
)

// ColumnLayout gives the 0-based positions of the key and mark cells.
type ColumnLayout struct {
	KeyColumn  int
	MarkColumn int
}

// Width is the minimum number of cells a row needs.
func (l ColumnLayout) Width() int {
	return max(l.KeyColumn, l.MarkColumn) + 1
}

// RowExtractor pulls one (key, mark) pair out of a table row.
type RowExtractor struct {
	Layout   ColumnLayout
	Keys     KeyValidator
	Fallback FallbackPolicy
}

// Extract returns the row's student key and mark. Short rows, rows whose
// key fails validation and, under FallbackReject, rows with an unreadable
// mark are skipped without error.
func (e RowExtractor) Extract(row []string) (string, models.Mark, CellOutcome, bool) {
	if len(row) < e.Layout.Width() {
		return "", models.Mark{}, CellMissing, false
	}
	key, ok := e.Keys(row[e.Layout.KeyColumn])
	if !ok {
		return "", models.Mark{}, CellMissing, false
	}
	mark, outcome := NormalizeCell(row[e.Layout.MarkColumn])
	if outcome == CellUnparsed && e.Fallback == FallbackReject {
		return "", models.Mark{}, outcome, false
	}
	return key, mark, outcome, true
}
