package neighborhood

import (
	"sort"
	"strings"

	"github.com/cognicore/certa/pkg/certa/record"
)

// Generated holds the token-ablation neighborhood of an input pair.
type Generated struct {
	// Rows is the diagnostic table: mirrored originals and every ablated row.
	Rows []GeneratedRow

	// ForLeft are synthetic left-side records derived from the right tuple,
	// identified from the left table's NextID onward.
	ForLeft []record.Record

	// ForRight are synthetic right-side records derived from the left tuple,
	// identified from the right table's NextID onward.
	ForRight []record.Record
}

// GeneratedRow is one row of the diagnostic generation table.
// Diff, Attr and Pos are reporting only.
type GeneratedRow struct {
	Pair record.Pair
	Diff string
	Attr string // prefixed attribute name, empty for mirrored originals
	Pos  int    // column position in the concatenated schema, -1 for originals
}

// variants returns the suffix/prefix ablations of a value, suffix first for
// every cut point.
func variants(value string) []string {
	tokens := strings.Fields(value)
	if len(tokens) < 2 {
		return nil
	}
	out := make([]string, 0, 2*(len(tokens)-1))
	for cut := 1; cut < len(tokens); cut++ {
		out = append(out,
			strings.Join(tokens[cut:], " "),
			strings.Join(tokens[:cut], " "),
		)
	}
	return out
}

// GenerateModified returns copies of rec where one field at a time has a
// token prefix or suffix dropped. A field of k tokens yields 2*(k-1) copies.
// When startID > 0 copies are numbered sequentially from it, otherwise they
// keep rec's id.
func GenerateModified(rec record.Record, startID int64) []record.Record {
	return modified(rec, startID, startID > 0)
}

func modified(rec record.Record, startID int64, renumber bool) []record.Record {
	var out []record.Record
	for _, f := range rec.Fields {
		for _, v := range variants(f.Value) {
			c := rec.With(f.Name, v)
			if renumber {
				c.ID = startID + int64(len(out))
			}
			out = append(out, c)
		}
	}
	return out
}

// GenerateSubsequences ablates the first max rows of both tables (all rows
// when max <= 0). Copies continue the ids of their own table.
func GenerateSubsequences(left, right record.Table, max int) ([]record.Record, []record.Record) {
	gen := func(t record.Table) []record.Record {
		rows := t.Rows
		if max > 0 && len(rows) > max {
			rows = rows[:max]
		}
		next := t.NextID()
		var out []record.Record
		for _, r := range rows {
			out = append(out, modified(r, next+int64(len(out)), true)...)
		}
		return out
	}
	return gen(left), gen(right)
}

// GenerateNeighbors mirrors each input tuple into both sides of the
// concatenated schema and ablates every attribute of the opposite projection.
// Ablated projections of the left tuple become right-side records and vice
// versa, so the caller can append them to the matching background table.
func GenerateNeighbors(left, right record.Record, leftTable, rightTable record.Table) Generated {
	var g Generated

	// left tuple, ablated in the right projection
	nLeft := len(left.Fields)
	g.Rows = append(g.Rows, GeneratedRow{Pair: record.Pair{Left: left, Right: left}, Pos: -1})
	nextRight := rightTable.NextID()
	for i, f := range left.Fields {
		for _, v := range variants(f.Value) {
			rec := left.With(f.Name, v).WithID(nextRight + int64(len(g.ForRight)))
			g.ForRight = append(g.ForRight, rec)
			g.Rows = append(g.Rows, GeneratedRow{
				Pair: record.Pair{Left: left, Right: rec},
				Diff: Diff(f.Value, v),
				Attr: record.Right.Prefix() + f.Name,
				Pos:  nLeft + 2 + i,
			})
		}
	}

	// right tuple, ablated in the left projection
	g.Rows = append(g.Rows, GeneratedRow{Pair: record.Pair{Left: right, Right: right}, Pos: -1})
	nextLeft := leftTable.NextID()
	for i, f := range right.Fields {
		for _, v := range variants(f.Value) {
			rec := right.With(f.Name, v).WithID(nextLeft + int64(len(g.ForLeft)))
			g.ForLeft = append(g.ForLeft, rec)
			g.Rows = append(g.Rows, GeneratedRow{
				Pair: record.Pair{Left: rec, Right: right},
				Diff: Diff(f.Value, v),
				Attr: record.Left.Prefix() + f.Name,
				Pos:  1 + i,
			})
		}
	}

	return g
}

// Diff describes how b differs from a at the token level: the tokens dropped
// from a as -{'x', ...}, or when nothing was dropped the tokens added as
// +{'y', ...}. Tokens are sorted; an empty set renders as set().
func Diff(a, b string) string {
	as := strings.Split(a, " ")
	bs := strings.Split(b, " ")
	if dropped := setDiff(as, bs); len(dropped) > 0 {
		return "-" + formatSet(dropped)
	}
	return "+" + formatSet(setDiff(bs, as))
}

func setDiff(a, b []string) []string {
	in := make(map[string]struct{}, len(b))
	for _, s := range b {
		in[s] = struct{}{}
	}
	seen := make(map[string]struct{})
	var out []string
	for _, s := range a {
		if _, ok := in[s]; ok {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func formatSet(items []string) string {
	if len(items) == 0 {
		return "set()"
	}
	quoted := make([]string, len(items))
	for i, s := range items {
		quoted[i] = "'" + s + "'"
	}
	return "{" + strings.Join(quoted, ", ") + "}"
}
