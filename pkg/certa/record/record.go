package record

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cognicore/certa/pkg/certa/internalerr"
)

// IDField is the name of the identifier column in every background table.
const IDField = "id"

// Side tags which record universe a record belongs to.
type Side int

const (
	Left Side = iota
	Right
)

// Prefix returns the column prefix used for the side in the concatenated
// pair schema.
func (s Side) Prefix() string {
	if s == Right {
		return "rtable_"
	}
	return "ltable_"
}

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == Right {
		return Left
	}
	return Right
}

func (s Side) String() string {
	if s == Right {
		return "right"
	}
	return "left"
}

// Field is a single attribute of a record
type Field struct {
	Name  string
	Value string
}

// Record is an ordered attribute mapping plus an identifier.
// The identifier is never part of Fields.
type Record struct {
	ID     int64
	Fields []Field
}

// New builds a record from alternating name/value pairs.
func New(id int64, kv ...string) Record {
	r := Record{ID: id, Fields: make([]Field, 0, len(kv)/2)}
	for i := 0; i+1 < len(kv); i += 2 {
		r.Fields = append(r.Fields, Field{Name: kv[i], Value: kv[i+1]})
	}
	return r
}

// Get returns the value of the named attribute.
func (r Record) Get(name string) (string, bool) {
	for _, f := range r.Fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return "", false
}

// With returns a copy of r with the named attribute set to value.
// Unknown attributes are appended.
func (r Record) With(name, value string) Record {
	out := r.Clone()
	for i := range out.Fields {
		if out.Fields[i].Name == name {
			out.Fields[i].Value = value
			return out
		}
	}
	out.Fields = append(out.Fields, Field{Name: name, Value: value})
	return out
}

// WithID returns a copy of r carrying a new identifier.
func (r Record) WithID(id int64) Record {
	out := r.Clone()
	out.ID = id
	return out
}

// Clone returns a deep copy of the record
func (r Record) Clone() Record {
	fields := make([]Field, len(r.Fields))
	copy(fields, r.Fields)
	return Record{ID: r.ID, Fields: fields}
}

// Names returns the attribute names in order.
func (r Record) Names() []string {
	names := make([]string, len(r.Fields))
	for i, f := range r.Fields {
		names[i] = f.Name
	}
	return names
}

// Text joins every attribute value with a space. The identifier is excluded.
func (r Record) Text() string {
	vals := make([]string, len(r.Fields))
	for i, f := range r.Fields {
		vals[i] = f.Value
	}
	return strings.Join(vals, " ")
}

// Equal reports whether both records carry the same id and values.
func (r Record) Equal(o Record) bool {
	if r.ID != o.ID || len(r.Fields) != len(o.Fields) {
		return false
	}
	for i := range r.Fields {
		if r.Fields[i] != o.Fields[i] {
			return false
		}
	}
	return true
}

// Prefixed projects r into the concatenated pair schema for the given side,
// identifier first.
func Prefixed(r Record, side Side) []Field {
	p := side.Prefix()
	out := make([]Field, 0, len(r.Fields)+1)
	out = append(out, Field{Name: p + IDField, Value: strconv.FormatInt(r.ID, 10)})
	for _, f := range r.Fields {
		out = append(out, Field{Name: p + f.Name, Value: f.Value})
	}
	return out
}

// Project extracts the record of the given side from prefixed fields,
// stripping the prefix. Fields of the other side are ignored.
func Project(fields []Field, side Side) (Record, error) {
	p := side.Prefix()
	var rec Record
	seenID := false
	for _, f := range fields {
		name, ok := strings.CutPrefix(f.Name, p)
		if !ok {
			continue
		}
		if name == IDField {
			id, err := strconv.ParseInt(strings.TrimSpace(f.Value), 10, 64)
			if err != nil {
				return Record{}, fmt.Errorf("%w: %s%s=%q", internalerr.ErrInvalidInput, p, IDField, f.Value)
			}
			rec.ID = id
			seenID = true
			continue
		}
		rec.Fields = append(rec.Fields, Field{Name: name, Value: f.Value})
	}
	if !seenID {
		return Record{}, fmt.Errorf("%w: missing %s%s", internalerr.ErrInvalidInput, p, IDField)
	}
	return rec, nil
}
