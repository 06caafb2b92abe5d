package models

import (
	"strconv"
	"strings"
)

// Kind identifies the scalar type held by a Value.
type Kind int

const (
	KindNull Kind = iota
	KindNumber
	KindString
	KindBool
)

// Value is one scalar field value of a student record.
// Numbers keep the literal they were decoded from so that fields the
// reconciler never touches are written back exactly as they were read.
type Value struct {
	Kind Kind
	Num  float64
	Str  string
	Bool bool
	raw  string
}

// Number returns a numeric Value with no source literal.
func Number(v float64) Value {
	return Value{Kind: KindNumber, Num: v}
}

// NumberLiteral returns a numeric Value that remembers its source literal.
func NumberLiteral(v float64, literal string) Value {
	return Value{Kind: KindNumber, Num: v, raw: literal}
}

func String(s string) Value { return Value{Kind: KindString, Str: s} }

func Bool(b bool) Value { return Value{Kind: KindBool, Bool: b} }

func Null() Value { return Value{Kind: KindNull} }

// Literal returns the source literal of a decoded number, or "" for values
// built in memory.
func (v Value) Literal() string { return v.raw }

// Text renders the value the way a key lookup sees it: strings verbatim,
// numbers as written in the store.
func (v Value) Text() string {
	switch v.Kind {
	case KindString:
		return v.Str
	case KindNumber:
		if v.raw != "" {
			return v.raw
		}
		return strconv.FormatFloat(v.Num, 'f', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.Bool)
	default:
		return ""
	}
}

// Float reports the numeric reading of the value. Strings holding a plain
// number are accepted since some stores quote their marks.
func (v Value) Float() (float64, bool) {
	switch v.Kind {
	case KindNumber:
		return v.Num, true
	case KindString:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.Str), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// Equal compares kind and content. The source literal is ignored so that
// 10 and 10.0 compare equal.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindNumber:
		return v.Num == o.Num
	case KindString:
		return v.Str == o.Str
	case KindBool:
		return v.Bool == o.Bool
	default:
		return true
	}
}

// Field is one named value of a Record.
type Field struct {
	Name  string
	Value Value
}

// Record is a student's ordered field set.
type Record struct {
	Fields []Field
}

// NewRecord builds a record from its fields, in order.
func NewRecord(fields ...Field) Record {
	return Record{Fields: fields}
}

func (r Record) index(name string) int {
	for i, f := range r.Fields {
		if f.Name == name {
			return i
		}
	}
	return -1
}

// Get returns the value stored under name.
func (r Record) Get(name string) (Value, bool) {
	if i := r.index(name); i >= 0 {
		return r.Fields[i].Value, true
	}
	return Value{}, false
}

func (r Record) Has(name string) bool { return r.index(name) >= 0 }

// Set replaces the value in place, keeping the field's position, or appends
// a new field at the end.
func (r *Record) Set(name string, v Value) {
	if i := r.index(name); i >= 0 {
		r.Fields[i].Value = v
		return
	}
	r.Fields = append(r.Fields, Field{Name: name, Value: v})
}

func (r Record) Clone() Record {
	fields := make([]Field, len(r.Fields))
	copy(fields, r.Fields)
	return Record{Fields: fields}
}

// Equal reports whether both records hold the same fields in the same order.
func (r Record) Equal(o Record) bool {
	if len(r.Fields) != len(o.Fields) {
		return false
	}
	for i := range r.Fields {
		if r.Fields[i].Name != o.Fields[i].Name || !r.Fields[i].Value.Equal(o.Fields[i].Value) {
			return false
		}
	}
	return true
}

// RecordCollection is the ordered list of records held by a store.
type RecordCollection []Record

func (c RecordCollection) Clone() RecordCollection {
	out := make(RecordCollection, len(c))
	for i, r := range c {
		out[i] = r.Clone()
	}
	return out
}

func (c RecordCollection) Equal(o RecordCollection) bool {
	if len(c) != len(o) {
		return false
	}
	for i := range c {
		if !c[i].Equal(o[i]) {
			return false
		}
	}
	return true
}
