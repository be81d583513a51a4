package record

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cognicore/certa/pkg/certa/internalerr"
)

// Pair is a left record concatenated with a right record
type Pair struct {
	Left  Record
	Right Record
}

// LabeledPair is a pair with a 0 (non-match) / 1 (match) label
type LabeledPair struct {
	Pair
	Label int
}

// NewPair builds a pair placing rec on side and other on the opposite side.
func NewPair(rec Record, side Side, other Record) Pair {
	if side == Right {
		return Pair{Left: other, Right: rec}
	}
	return Pair{Left: rec, Right: other}
}

// ID returns the composite identifier 0@<left_id>#1@<right_id>.
func (p Pair) ID() string {
	return "0@" + strconv.FormatInt(p.Left.ID, 10) + "#1@" + strconv.FormatInt(p.Right.ID, 10)
}

// Side returns the record on the given side.
func (p Pair) Side(s Side) Record {
	if s == Right {
		return p.Right
	}
	return p.Left
}

// WithSide returns a copy of p with the record on side replaced.
func (p Pair) WithSide(s Side, r Record) Pair {
	if s == Right {
		return Pair{Left: p.Left, Right: r}
	}
	return Pair{Left: r, Right: p.Right}
}

// Fields returns the prefixed concatenated fields.
func (p Pair) Fields() []Field {
	return append(Prefixed(p.Left, Left), Prefixed(p.Right, Right)...)
}

// Columns returns the concatenated schema column names.
func (p Pair) Columns() []string {
	fields := p.Fields()
	cols := make([]string, len(fields))
	for i, f := range fields {
		cols[i] = f.Name
	}
	return cols
}

// Text joins every value of the concatenated row, identifiers included.
func (p Pair) Text() string {
	fields := p.Fields()
	vals := make([]string, len(fields))
	for i, f := range fields {
		vals[i] = f.Value
	}
	return strings.Join(vals, " ")
}

// PairFromFields rebuilds a pair from a prefixed concatenated row.
func PairFromFields(fields []Field) (Pair, error) {
	l, err := Project(fields, Left)
	if err != nil {
		return Pair{}, err
	}
	r, err := Project(fields, Right)
	if err != nil {
		return Pair{}, err
	}
	return Pair{Left: l, Right: r}, nil
}

// ParsePairID splits a composite identifier into its left and right ids.
func ParsePairID(id string) (int64, int64, error) {
	l, r, ok := strings.Cut(id, "#")
	if !ok || !strings.HasPrefix(l, "0@") || !strings.HasPrefix(r, "1@") {
		return 0, 0, fmt.Errorf("%w: pair id %q", internalerr.ErrInvalidInput, id)
	}
	lid, err := strconv.ParseInt(l[2:], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: pair id %q", internalerr.ErrInvalidInput, id)
	}
	rid, err := strconv.ParseInt(r[2:], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: pair id %q", internalerr.ErrInvalidInput, id)
	}
	return lid, rid, nil
}
