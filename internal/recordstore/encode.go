package recordstore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/Lllllllleong/marksreconciler/internal/models"
)

const (
	defaultKeyword = "const"
	defaultName    = "data"
)

// Encode writes records as a `const data = [...];` assignment.
func Encode(records models.RecordCollection) (string, error) {
	var b strings.Builder
	if err := writeAssignment(&b, defaultKeyword, defaultName, records); err != nil {
		return "", err
	}
	return b.String(), nil
}

// Encode writes the document back with the surrounding text untouched and
// the array re-serialised one record per line.
func (d *Document) Encode() (string, error) {
	keyword, name := d.Keyword, d.Name
	if keyword == "" {
		keyword = defaultKeyword
	}
	if name == "" {
		name = defaultName
	}
	var b strings.Builder
	b.WriteString(d.Prefix)
	if err := writeAssignment(&b, keyword, name, d.Records); err != nil {
		return "", err
	}
	b.WriteString(d.Suffix)
	return b.String(), nil
}

func writeAssignment(b *strings.Builder, keyword, name string, records models.RecordCollection) error {
	b.WriteString(keyword)
	b.WriteByte(' ')
	b.WriteString(name)
	b.WriteString(" = [\n")
	for i, rec := range records {
		b.WriteString("  ")
		if err := writeRecord(b, rec); err != nil {
			return fmt.Errorf("record %d: %w", i, err)
		}
		if i < len(records)-1 {
			b.WriteByte(',')
		}
		b.WriteByte('\n')
	}
	b.WriteString("];")
	return nil
}

func writeRecord(b *strings.Builder, rec models.Record) error {
	b.WriteByte('{')
	for i, f := range rec.Fields {
		if f.Value.Kind == models.KindNumber && f.Value.Literal() == "" && (math.IsInf(f.Value.Num, 0) || math.IsNaN(f.Value.Num)) {
			return fmt.Errorf("%w: field %q holds %v, which has no literal form", ErrStoreFormat, f.Name, f.Value.Num)
		}
		if i > 0 {
			b.WriteString(", ")
		}
		writeKey(b, f.Name)
		b.WriteString(": ")
		writeValue(b, f.Value)
	}
	b.WriteByte('}')
	return nil
}

func writeKey(b *strings.Builder, key string) {
	if isIdentifier(key) {
		b.WriteString(key)
		return
	}
	b.WriteString(quote(key))
}

func isIdentifier(s string) bool {
	for i, r := range s {
		if i == 0 && !isIdentStart(r) || !isIdentPart(r) {
			return false
		}
	}
	return s != ""
}

func writeValue(b *strings.Builder, v models.Value) {
	switch v.Kind {
	case models.KindString:
		b.WriteString(quote(v.Str))
	case models.KindNumber:
		b.WriteString(FormatNumber(v))
	case models.KindBool:
		b.WriteString(strconv.FormatBool(v.Bool))
	default:
		b.WriteString("null")
	}
}

// FormatNumber renders a number: its source literal when it has one,
// otherwise the shortest decimal form that reads back to the same float.
func FormatNumber(v models.Value) string {
	if lit := v.Literal(); lit != "" {
		return lit
	}
	return strconv.FormatFloat(v.Num, 'f', -1, 64)
}

// quote renders s as a double-quoted string literal. HTML-sensitive
// characters are left as they are.
func quote(s string) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return strconv.Quote(s)
	}
	return strings.TrimSuffix(buf.String(), "\n")
}
