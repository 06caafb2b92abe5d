package pdftable

import (
	"sort"
	"strings"
)

// segment is a horizontal run of words on one line that is separated from
// its neighbours by at least the column gap.
type segment struct {
	x0, x1 float64
	text   string
}

func (s segment) center() float64 { return (s.x0 + s.x1) / 2 }

type span struct{ x0, x1 float64 }

// detectStream reads a page with no ruling as a single table. Columns are
// the union of the horizontal extents of all segments on lines that hold
// two or more segments; single-segment lines (titles, footers) do not shape
// the columns.
func detectStream(glyphs []glyph, opts Options) (Table, bool) {
	ordered := make([]glyph, len(glyphs))
	copy(ordered, glyphs)
	readingOrder(ordered)

	var lines [][]segment
	for _, l := range splitLines(ordered, opts.LineTolerance) {
		lines = append(lines, segmentsOf(l, opts))
	}

	var spans []span
	for _, segs := range lines {
		if len(segs) < 2 {
			continue
		}
		for _, s := range segs {
			spans = append(spans, span{s.x0, s.x1})
		}
	}
	columns := mergeSpans(spans)
	if len(columns) < 2 {
		return Table{}, false
	}

	var rows [][]string
	for _, segs := range lines {
		row := make([]string, len(columns))
		filled := 0
		for _, s := range segs {
			c := columnFor(columns, s)
			if row[c] == "" {
				row[c] = s.text
				filled++
			} else {
				row[c] += " " + s.text
			}
		}
		if filled >= 2 {
			rows = append(rows, row)
		}
	}
	if len(rows) == 0 {
		return Table{}, false
	}
	return Table{Rows: rows}, true
}

func segmentsOf(line []glyph, opts Options) []segment {
	var segs []segment
	start := 0
	for i := 1; i <= len(line); i++ {
		if i < len(line) && line[i].x-line[i-1].right() <= opts.ColumnGap*line[i].size {
			continue
		}
		run := line[start:i]
		text := joinLine(run, opts.WordGap)
		if strings.TrimSpace(text) != "" {
			segs = append(segs, segment{x0: run[0].x, x1: run[len(run)-1].right(), text: text})
		}
		start = i
	}
	return segs
}

// mergeSpans unions overlapping spans, left to right.
func mergeSpans(spans []span) []span {
	if len(spans) == 0 {
		return nil
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].x0 < spans[j].x0 })
	out := []span{spans[0]}
	for _, s := range spans[1:] {
		last := &out[len(out)-1]
		if s.x0 <= last.x1 {
			if s.x1 > last.x1 {
				last.x1 = s.x1
			}
			continue
		}
		out = append(out, s)
	}
	return out
}

// columnFor picks the column containing the segment's centre, or the
// nearest one.
func columnFor(columns []span, s segment) int {
	cx := s.center()
	best, bestDist := 0, -1.0
	for i, c := range columns {
		if cx >= c.x0 && cx <= c.x1 {
			return i
		}
		d := abs(cx - c.x0)
		if e := abs(cx - c.x1); e < d {
			d = e
		}
		if bestDist < 0 || d < bestDist {
			best, bestDist = i, d
		}
	}
	return best
}
