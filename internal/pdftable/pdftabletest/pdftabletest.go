// Package pdftabletest assembles small uncompressed PDFs for tests that
// need a real file on disk.
//
// Every page uses one Helvetica font resource, /F1, with WinAnsi encoding
// and a fixed advance of 500/1000 em, so at size 10 each character is 5
// units wide.
package pdftabletest

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// FontSize is the size Text draws at.
const FontSize = 10

// Content builds a page content stream.
type Content struct {
	b strings.Builder
}

// Text draws s with its baseline starting at (x, y).
func (c *Content) Text(x, y float64, s string) *Content {
	fmt.Fprintf(&c.b, "BT /F1 %d Tf %g %g Td (%s) Tj ET\n", FontSize, x, y, escape(s))
	return c
}

// Rect strokes the rectangle with corner (x, y), width w and height h.
func (c *Content) Rect(x, y, w, h float64) *Content {
	fmt.Fprintf(&c.b, "%g %g %g %g re S\n", x, y, w, h)
	return c
}

// Line strokes a straight line from (x0, y0) to (x1, y1).
func (c *Content) Line(x0, y0, x1, y1 float64) *Content {
	fmt.Fprintf(&c.b, "%g %g m %g %g l S\n", x0, y0, x1, y1)
	return c
}

// Raw appends operators verbatim.
func (c *Content) Raw(ops string) *Content {
	c.b.WriteString(ops)
	c.b.WriteByte('\n')
	return c
}

func (c *Content) String() string { return c.b.String() }

func escape(s string) string {
	return strings.NewReplacer(`\`, `\\`, "(", `\(`, ")", `\)`).Replace(s)
}

// Build returns a PDF with one page per content stream.
func Build(pages ...string) []byte {
	const (
		catalogID = 1
		pagesID   = 2
		fontID    = 3
		firstPage = 4
	)
	var buf bytes.Buffer
	offsets := map[int]int{}
	object := func(id int, body string) {
		offsets[id] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", id, body)
	}

	buf.WriteString("%PDF-1.4\n")

	kids := make([]string, len(pages))
	for i := range pages {
		kids[i] = fmt.Sprintf("%d 0 R", firstPage+2*i)
	}
	object(catalogID, fmt.Sprintf("<< /Type /Catalog /Pages %d 0 R >>", pagesID))
	object(pagesID, fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), len(pages)))

	widths := strings.TrimSpace(strings.Repeat("500 ", 126-32+1))
	object(fontID, fmt.Sprintf("<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding /FirstChar 32 /LastChar 126 /Widths [%s] >>", widths))

	for i, content := range pages {
		pageID, contentID := firstPage+2*i, firstPage+2*i+1
		object(pageID, fmt.Sprintf("<< /Type /Page /Parent %d 0 R /MediaBox [0 0 612 792] /Resources << /Font << /F1 %d 0 R >> >> /Contents %d 0 R >>", pagesID, fontID, contentID))
		object(contentID, fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(content), content))
	}

	size := firstPage + 2*len(pages)
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", size)
	buf.WriteString("0000000000 65535 f\r\n")
	for id := 1; id < size; id++ {
		fmt.Fprintf(&buf, "%010d 00000 n\r\n", offsets[id])
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root %d 0 R >>\nstartxref\n%d\n%%%%EOF\n", size, catalogID, xref)
	return buf.Bytes()
}

// WriteFile builds the PDF into a file under t.TempDir and returns its path.
func WriteFile(t testing.TB, name string, pages ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, Build(pages...), 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}
