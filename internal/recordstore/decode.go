// Package recordstore reads and writes the student record store: a script
// file holding a single array assignment such as
//
//	const data = [
//	  {roll: 115, div: "D4", enrollment: "24002171310074", name: "ASHA K", ps: 31.5},
//	];
//
// Keys may be bare identifiers or quoted strings on input and trailing
// commas are tolerated. Output always uses bare keys where the key is a
// valid identifier, one record per line.
package recordstore

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/Lllllllleong/marksreconciler/internal/models"
)

// ErrStoreFormat reports a store whose text has no recognisable array
// assignment or whose array does not parse as a list of objects.
var ErrStoreFormat = errors.New("record store format error")

// Document is a decoded store file. Prefix and Suffix hold the text around
// the array assignment and are written back unchanged.
type Document struct {
	Prefix  string
	Keyword string
	Name    string
	Records models.RecordCollection
	Suffix  string
}

var assignmentPattern = regexp.MustCompile(`\b(const|let|var)\s+([A-Za-z_$][\w$]*)\s*=\s*\[`)

// Decode locates the array assignment in text and parses its elements.
func Decode(text string) (*Document, error) {
	loc := assignmentPattern.FindStringSubmatchIndex(text)
	if loc == nil {
		return nil, fmt.Errorf("%w: no array assignment found", ErrStoreFormat)
	}

	p := &parser{src: text, pos: loc[1] - 1}
	records, err := p.array()
	if err != nil {
		return nil, err
	}
	end := p.pos
	p.skipSpace()
	if p.pos < len(p.src) && p.src[p.pos] == ';' {
		end = p.pos + 1
	}

	return &Document{
		Prefix:  text[:loc[0]],
		Keyword: text[loc[2]:loc[3]],
		Name:    text[loc[4]:loc[5]],
		Records: records,
		Suffix:  text[end:],
	}, nil
}

// DecodeRecords is Decode for callers that only need the records.
func DecodeRecords(text string) (models.RecordCollection, error) {
	doc, err := Decode(text)
	if err != nil {
		return nil, err
	}
	return doc.Records, nil
}

type parser struct {
	src string
	pos int
}

func (p *parser) errorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s at offset %d", ErrStoreFormat, fmt.Sprintf(format, args...), p.pos)
}

// skipSpace skips whitespace and comments.
func (p *parser) skipSpace() {
	for p.pos < len(p.src) {
		switch c := p.src[p.pos]; {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			p.pos++
		case strings.HasPrefix(p.src[p.pos:], "//"):
			if i := strings.IndexByte(p.src[p.pos:], '\n'); i >= 0 {
				p.pos += i + 1
			} else {
				p.pos = len(p.src)
			}
		case strings.HasPrefix(p.src[p.pos:], "/*"):
			if i := strings.Index(p.src[p.pos+2:], "*/"); i >= 0 {
				p.pos += i + 4
			} else {
				p.pos = len(p.src)
			}
		default:
			return
		}
	}
}

func (p *parser) peek() byte {
	if p.pos >= len(p.src) {
		return 0
	}
	return p.src[p.pos]
}

func (p *parser) expect(c byte) error {
	p.skipSpace()
	if p.peek() != c {
		if p.pos >= len(p.src) {
			return p.errorf("expected %q, found end of input", c)
		}
		return p.errorf("expected %q, found %q", c, p.src[p.pos])
	}
	p.pos++
	return nil
}

func (p *parser) array() (models.RecordCollection, error) {
	if err := p.expect('['); err != nil {
		return nil, err
	}
	records := models.RecordCollection{}
	for {
		p.skipSpace()
		if p.peek() == ']' {
			p.pos++
			return records, nil
		}
		rec, err := p.object()
		if err != nil {
			return nil, err
		}
		records = append(records, rec)

		p.skipSpace()
		switch p.peek() {
		case ',':
			p.pos++
		case ']':
		default:
			return nil, p.errorf("expected ',' or ']' after record %d", len(records))
		}
	}
}

func (p *parser) object() (models.Record, error) {
	var rec models.Record
	if err := p.expect('{'); err != nil {
		return rec, err
	}
	for {
		p.skipSpace()
		if p.peek() == '}' {
			p.pos++
			return rec, nil
		}
		key, err := p.key()
		if err != nil {
			return rec, err
		}
		if err := p.expect(':'); err != nil {
			return rec, err
		}
		val, err := p.value()
		if err != nil {
			return rec, err
		}
		rec.Set(key, val)

		p.skipSpace()
		switch p.peek() {
		case ',':
			p.pos++
		case '}':
		default:
			return rec, p.errorf("expected ',' or '}' after field %q", key)
		}
	}
}

// isIdentStart and isIdentPart follow the JavaScript identifier rules
// closely enough for store keys, including non-Latin names.
func isIdentStart(r rune) bool {
	return r == '_' || r == '$' || unicode.IsLetter(r)
}

func isIdentPart(r rune) bool {
	return isIdentStart(r) || unicode.IsDigit(r) || unicode.In(r, unicode.Mn, unicode.Mc, unicode.Pc)
}

// peekRune returns the rune at the current position, or -1 at the end.
func (p *parser) peekRune() rune {
	if p.pos >= len(p.src) {
		return -1
	}
	r, _ := utf8.DecodeRuneInString(p.src[p.pos:])
	return r
}

// word consumes an identifier-shaped run of runes.
func (p *parser) word() string {
	start := p.pos
	for p.pos < len(p.src) {
		r, size := utf8.DecodeRuneInString(p.src[p.pos:])
		if !isIdentPart(r) {
			break
		}
		p.pos += size
	}
	return p.src[start:p.pos]
}

func (p *parser) key() (string, error) {
	switch r := p.peekRune(); {
	case r == '"' || r == '\'':
		return p.str()
	case isIdentStart(r) || unicode.IsDigit(r):
		return p.word(), nil
	default:
		return "", p.errorf("expected field name")
	}
}

func (p *parser) value() (models.Value, error) {
	p.skipSpace()
	c := p.peek()
	switch {
	case c == '"' || c == '\'':
		s, err := p.str()
		if err != nil {
			return models.Value{}, err
		}
		return models.String(s), nil
	case c == '-' || c == '+' || c == '.' || (c >= '0' && c <= '9'):
		return p.number()
	case isIdentStart(p.peekRune()):
		start := p.pos
		switch word := p.word(); word {
		case "true":
			return models.Bool(true), nil
		case "false":
			return models.Bool(false), nil
		case "null", "undefined":
			return models.Null(), nil
		default:
			p.pos = start
			return models.Value{}, p.errorf("unsupported value %q", word)
		}
	default:
		return models.Value{}, p.errorf("expected value")
	}
}

func (p *parser) number() (models.Value, error) {
	start := p.pos
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		if (c >= '0' && c <= '9') || c == '.' || c == 'e' || c == 'E' || c == '_' {
			p.pos++
			continue
		}
		if (c == '-' || c == '+') && (p.pos == start || p.src[p.pos-1] == 'e' || p.src[p.pos-1] == 'E') {
			p.pos++
			continue
		}
		break
	}
	lit := p.src[start:p.pos]
	f, err := strconv.ParseFloat(strings.TrimPrefix(lit, "+"), 64)
	if err != nil || strings.Contains(lit, "_") {
		p.pos = start
		return models.Value{}, p.errorf("invalid number %q", lit)
	}
	return models.NumberLiteral(f, lit), nil
}

// str reads a single- or double-quoted string with JavaScript escapes.
func (p *parser) str() (string, error) {
	quote := p.src[p.pos]
	p.pos++
	var b strings.Builder
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		switch {
		case c == quote:
			p.pos++
			return b.String(), nil
		case c == '\n':
			return "", p.errorf("unterminated string")
		case c == '\\':
			if err := p.escape(&b); err != nil {
				return "", err
			}
		default:
			b.WriteByte(c)
			p.pos++
		}
	}
	return "", p.errorf("unterminated string")
}

func (p *parser) escape(b *strings.Builder) error {
	p.pos++
	if p.pos >= len(p.src) {
		return p.errorf("unterminated escape")
	}
	c := p.src[p.pos]
	p.pos++
	switch c {
	case 'n':
		b.WriteByte('\n')
	case 't':
		b.WriteByte('\t')
	case 'r':
		b.WriteByte('\r')
	case 'b':
		b.WriteByte('\b')
	case 'f':
		b.WriteByte('\f')
	case 'v':
		b.WriteByte('\v')
	case '0':
		b.WriteByte(0)
	case 'x':
		if p.pos+2 > len(p.src) {
			return p.errorf("short hex escape")
		}
		v, err := strconv.ParseUint(p.src[p.pos:p.pos+2], 16, 8)
		if err != nil {
			return p.errorf("invalid hex escape")
		}
		p.pos += 2
		b.WriteRune(rune(v))
	case 'u':
		if p.peek() == '{' {
			end := strings.IndexByte(p.src[p.pos:], '}')
			if end < 0 {
				return p.errorf("unterminated unicode escape")
			}
			v, err := strconv.ParseUint(p.src[p.pos+1:p.pos+end], 16, 32)
			if err != nil || end == 1 || v > unicode.MaxRune {
				return p.errorf("invalid unicode escape")
			}
			p.pos += end + 1
			b.WriteRune(rune(v))
			return nil
		}
		if p.pos+4 > len(p.src) {
			return p.errorf("short unicode escape")
		}
		r, err := strconv.ParseUint(p.src[p.pos:p.pos+4], 16, 32)
		if err != nil {
			return p.errorf("invalid unicode escape")
		}
		p.pos += 4
		// Surrogate pairs as written by JSON encoders.
		if r >= 0xD800 && r < 0xDC00 && strings.HasPrefix(p.src[p.pos:], `\u`) && p.pos+6 <= len(p.src) {
			if lo, err := strconv.ParseUint(p.src[p.pos+2:p.pos+6], 16, 32); err == nil && lo >= 0xDC00 && lo < 0xE000 {
				r = (r-0xD800)<<10 + (lo - 0xDC00) + 0x10000
				p.pos += 6
			}
		}
		b.WriteRune(rune(r))
	case '\n':
		// Line continuation.
	default:
		b.WriteByte(c)
	}
	return nil
}
