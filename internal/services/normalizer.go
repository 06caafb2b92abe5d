package services

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/Lllllllleong/marksreconciler/internal/models"
)

// CellOutcome records which rung of the parsing ladder produced a mark.
type CellOutcome int

const (
	// CellNumeric: the cell was a clean number once spaces were removed.
	CellNumeric CellOutcome = iota
	// CellAbsent: the cell held an absence marker such as "AB".
	CellAbsent
	// CellMissing: the cell was blank or held a placeholder such as "None".
	CellMissing
	// CellExtracted: the mark is the first number found inside other text.
	CellExtracted
	// CellUnparsed: no number anywhere in the cell; the mark defaults to 0.
	CellUnparsed
)

func (o CellOutcome) String() string {
	switch o {
	case CellNumeric:
		return "numeric"
	case CellAbsent:
		return "absent"
	case CellMissing:
		return "missing"
	case CellExtracted:
		return "extracted"
	case CellUnparsed:
		return "unparsed"
	default:
		return "unknown"
	}
}

var (
	absenceTokens = map[string]bool{"AB": true, "ABSENT": true}
	missingTokens = map[string]bool{"": true, "NONE": true, "NULL": true}

	plainNumber = regexp.MustCompile(`^(\d+(\.\d*)?|\.\d+)$`)
	firstNumber = regexp.MustCompile(`\d+(\.\d+)?|\.\d+`)

	lineBreaks = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ")
)

// NormalizeCell turns a raw mark cell into a Mark. It never fails: blank,
// placeholder and unreadable cells all resolve to 0, and the outcome tells
// the caller which case applied.
func NormalizeCell(raw string) (models.Mark, CellOutcome) {
	clean := strings.ToUpper(strings.TrimSpace(lineBreaks.Replace(raw)))

	if absenceTokens[clean] {
		return models.Mark{Absent: true}, CellAbsent
	}
	if missingTokens[clean] {
		return models.Mark{}, CellMissing
	}

	if compact := strings.ReplaceAll(clean, " ", ""); plainNumber.MatchString(compact) {
		if v, err := strconv.ParseFloat(compact, 64); err == nil {
			return models.Mark{Value: v}, CellNumeric
		}
	}

	if m := firstNumber.FindString(clean); m != "" {
		if v, err := strconv.ParseFloat(m, 64); err == nil {
			return models.Mark{Value: v}, CellExtracted
		}
	}
	return models.Mark{}, CellUnparsed
}
