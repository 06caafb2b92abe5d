package pdftable

import (
	"sort"

	"github.com/ledongthuc/pdf"
)

type box struct {
	x0, y0, x1, y1 float64
}

func normalizeRect(r pdf.Rect) box {
	b := box{x0: r.Min.X, y0: r.Min.Y, x1: r.Max.X, y1: r.Max.Y}
	if b.x0 > b.x1 {
		b.x0, b.x1 = b.x1, b.x0
	}
	if b.y0 > b.y1 {
		b.y0, b.y1 = b.y1, b.y0
	}
	return b
}

func (b box) touches(o box, tol float64) bool {
	return b.x0-tol <= o.x1 && o.x0-tol <= b.x1 && b.y0-tol <= o.y1 && o.y0-tol <= b.y1
}

// grid is a table skeleton: column edges left to right, row edges top to
// bottom.
type grid struct {
	xs []float64
	ys []float64
}

// findGrids groups touching rectangles into regions and derives the cell
// edges of each region. Regions without at least one full cell are dropped.
func findGrids(rects []pdf.Rect, tol float64) []grid {
	boxes := make([]box, 0, len(rects))
	for _, r := range rects {
		b := normalizeRect(r)
		if b.x1-b.x0 <= 0 && b.y1-b.y0 <= 0 {
			continue
		}
		boxes = append(boxes, b)
	}
	if len(boxes) == 0 {
		return nil
	}

	parent := make([]int, len(boxes))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		for parent[i] != i {
			parent[i] = parent[parent[i]]
			i = parent[i]
		}
		return i
	}
	for i := range boxes {
		for j := i + 1; j < len(boxes); j++ {
			if boxes[i].touches(boxes[j], tol) {
				parent[find(i)] = find(j)
			}
		}
	}

	regions := make(map[int][]box)
	var order []int
	for i, b := range boxes {
		root := find(i)
		if _, ok := regions[root]; !ok {
			order = append(order, root)
		}
		regions[root] = append(regions[root], b)
	}

	var grids []grid
	for _, root := range order {
		var xs, ys []float64
		for _, b := range regions[root] {
			// Thin horizontal rules only contribute row edges and thin
			// vertical rules only column edges.
			if b.y1-b.y0 > tol {
				xs = append(xs, b.x0, b.x1)
			}
			if b.x1-b.x0 > tol {
				ys = append(ys, b.y0, b.y1)
			}
		}
		xs = snap(xs, tol)
		ys = snap(ys, tol)
		if len(xs) < 2 || len(ys) < 2 {
			continue
		}
		sort.Sort(sort.Reverse(sort.Float64Slice(ys)))
		grids = append(grids, grid{xs: xs, ys: ys})
	}

	// Tables read top to bottom.
	sort.SliceStable(grids, func(i, j int) bool { return grids[i].ys[0] > grids[j].ys[0] })
	return grids
}

// snap sorts values and merges runs closer than tol into their mean.
func snap(values []float64, tol float64) []float64 {
	if len(values) == 0 {
		return nil
	}
	sort.Float64s(values)
	var out []float64
	sum, n := values[0], 1
	for _, v := range values[1:] {
		if v-sum/float64(n) <= tol {
			sum += v
			n++
			continue
		}
		out = append(out, sum/float64(n))
		sum, n = v, 1
	}
	return append(out, sum/float64(n))
}

// column returns the index of the column holding x, or -1.
func (g grid) column(x float64) int {
	if x < g.xs[0] || x > g.xs[len(g.xs)-1] {
		return -1
	}
	i := sort.SearchFloat64s(g.xs, x)
	if i == 0 {
		return 0
	}
	if i >= len(g.xs) {
		return len(g.xs) - 2
	}
	return i - 1
}

// row returns the index of the row holding y, or -1. Row edges run top to
// bottom.
func (g grid) row(y float64) int {
	if y > g.ys[0] || y < g.ys[len(g.ys)-1] {
		return -1
	}
	for i := 0; i < len(g.ys)-1; i++ {
		if y <= g.ys[i] && y >= g.ys[i+1] {
			return i
		}
	}
	return -1
}

// fill places every glyph whose centre lies inside the grid into its cell
// and renders the cells. Rows and border columns holding no text at all are
// dropped, so a page frame drawn around a table does not shift column
// indices.
func (g grid) fill(glyphs []glyph, opts Options) (Table, bool) {
	nCols, nRows := len(g.xs)-1, len(g.ys)-1
	cells := make([][][]glyph, nRows)
	for i := range cells {
		cells[i] = make([][]glyph, nCols)
	}
	placed := 0
	for _, gl := range glyphs {
		c, r := g.column(gl.centerX()), g.row(gl.centerY())
		if c < 0 || r < 0 {
			continue
		}
		cells[r][c] = append(cells[r][c], gl)
		placed++
	}
	if placed == 0 {
		return Table{}, false
	}

	rows := make([][]string, 0, nRows)
	for _, line := range cells {
		row := make([]string, nCols)
		empty := true
		for c, cg := range line {
			row[c] = cellText(cg, opts)
			if row[c] != "" {
				empty = false
			}
		}
		if !empty {
			rows = append(rows, row)
		}
	}
	return Table{Rows: trimEmptyColumns(rows)}, true
}

// trimEmptyColumns drops leading and trailing columns that are empty in
// every row.
func trimEmptyColumns(rows [][]string) [][]string {
	if len(rows) == 0 {
		return rows
	}
	width := len(rows[0])
	used := func(c int) bool {
		for _, r := range rows {
			if c < len(r) && r[c] != "" {
				return true
			}
		}
		return false
	}
	lo, hi := 0, width
	for lo < hi && !used(lo) {
		lo++
	}
	for hi > lo && !used(hi-1) {
		hi--
	}
	if lo == 0 && hi == width {
		return rows
	}
	for i, r := range rows {
		rows[i] = r[lo:hi]
	}
	return rows
}
