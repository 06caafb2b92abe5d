package pdftable

import (
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
)

// glyph is a positioned run of text with a usable width.
type glyph struct {
	x, y, w, size float64
	s             string
}

func (g glyph) right() float64 { return g.x + g.w }

func (g glyph) centerX() float64 { return g.x + g.w/2 }

// centerY is roughly the middle of the x-height above the baseline.
func (g glyph) centerY() float64 { return g.y + g.size*0.35 }

func toGlyphs(texts []pdf.Text) []glyph {
	glyphs := make([]glyph, 0, len(texts))
	for _, t := range texts {
		if t.S == "" {
			continue
		}
		size := t.FontSize
		if size <= 0 {
			size = 10
		}
		w := t.W
		if w <= 0 {
			w = size * 0.5 * float64(utf8.RuneCountInString(t.S))
		}
		glyphs = append(glyphs, glyph{x: t.X, y: t.Y, w: w, size: size, s: t.S})
	}
	return glyphs
}

// readingOrder sorts glyphs top to bottom, then left to right.
func readingOrder(glyphs []glyph) {
	sort.SliceStable(glyphs, func(i, j int) bool {
		if glyphs[i].y != glyphs[j].y {
			return glyphs[i].y > glyphs[j].y
		}
		return glyphs[i].x < glyphs[j].x
	})
}

// splitLines groups glyphs already in reading order into lines by baseline,
// each line sorted left to right.
func splitLines(glyphs []glyph, tol float64) [][]glyph {
	var lines [][]glyph
	var cur []glyph
	var base float64
	for _, g := range glyphs {
		if len(cur) > 0 && abs(g.y-base) > tol {
			lines = append(lines, cur)
			cur = nil
		}
		if len(cur) == 0 {
			base = g.y
		}
		cur = append(cur, g)
	}
	if len(cur) > 0 {
		lines = append(lines, cur)
	}
	for _, l := range lines {
		sort.SliceStable(l, func(i, j int) bool { return l[i].x < l[j].x })
	}
	return lines
}

// joinLine concatenates one line's glyphs, inserting a space wherever the
// horizontal gap exceeds wordGap of the font size.
func joinLine(line []glyph, wordGap float64) string {
	var b strings.Builder
	for i, g := range line {
		if i > 0 {
			prev := line[i-1]
			if g.x-prev.right() > wordGap*g.size && !strings.HasSuffix(b.String(), " ") && !strings.HasPrefix(g.s, " ") {
				b.WriteByte(' ')
			}
		}
		b.WriteString(g.s)
	}
	return strings.TrimSpace(b.String())
}

// cellText renders the glyphs of one cell: words separated by spaces,
// lines separated by newlines.
func cellText(glyphs []glyph, opts Options) string {
	if len(glyphs) == 0 {
		return ""
	}
	readingOrder(glyphs)
	lines := splitLines(glyphs, opts.LineTolerance)
	parts := make([]string, 0, len(lines))
	for _, l := range lines {
		if s := joinLine(l, opts.WordGap); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "\n")
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
