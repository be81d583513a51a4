package triangle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/cognicore/certa/pkg/certa/internalerr"
	"github.com/cognicore/certa/pkg/certa/predict"
	"github.com/cognicore/certa/pkg/certa/record"
)

// Triangle groups the original pair with the record being perturbed (Pivot)
// and a differently labeled neighbor record supplying substitute values
// (Support). Free is the record the original and the neighbor share.
type Triangle struct {
	Original     record.Pair
	Side         record.Side
	Free         record.Record
	Pivot        record.Record
	Support      record.Record
	SupportLabel int
}

// SubsetStats is the flip statistic of one attribute subset.
type SubsetStats struct {
	Side            record.Side
	Attrs           []string // prefixed, sorted
	Counterfactuals int
	Flips           int
}

// FlipRate returns Flips / Counterfactuals, 0 when nothing was evaluated.
func (s SubsetStats) FlipRate() float64 {
	if s.Counterfactuals == 0 {
		return 0
	}
	return float64(s.Flips) / float64(s.Counterfactuals)
}

// Options controls the search
type Options struct {
	// AttrLength bounds the size of evaluated subsets. <= 0 means no bound.
	AttrLength int
	// DiscardBad drops triangles whose neighbor carries the explained label.
	DiscardBad bool
	// Check re-predicts every (free, support) pair and drops triangles the
	// model does not place on the opposite class.
	Check  bool
	Logger *slog.Logger
}

// Result is the outcome of a search.
type Result struct {
	Stats     []SubsetStats
	Flipped   int
	Triangles []Triangle
	// Skipped counts neighbors that could not form a triangle, including
	// rows whose id is missing from the extended tables.
	Skipped   int
	Discarded int
}

// DefaultAttrLength returns the subset size bound used when none is
// configured: one less than the smaller attribute count, at least 1.
func DefaultAttrLength(left, right record.Record) int {
	return max(1, min(len(left.Fields), len(right.Fields))-1)
}

// Search scores attribute subsets by how often substituting their values
// from the neighbors flips the prediction of the original pair. samples[0]
// is the original pair; tables holds the extended left and right tables.
func Search(ctx context.Context, samples []record.LabeledPair, tables [2]record.Table, p predict.Predictor, classToExplain int, opts Options) (Result, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var res Result
	if len(samples) < 2 {
		logger.Warn("no triangles to search", "samples", len(samples))
		return res, nil
	}

	triangles, skipped, discarded := buildTriangles(samples, tables, classToExplain, opts.DiscardBad, logger)
	res.Skipped = skipped
	res.Discarded = discarded

	if opts.Check && len(triangles) > 0 {
		kept, dropped, err := check(ctx, p, triangles, classToExplain)
		if err != nil {
			return Result{}, err
		}
		triangles = kept
		res.Discarded += dropped
	}
	res.Triangles = triangles

	if len(triangles) == 0 {
		logger.Warn("no usable triangles", "skipped", res.Skipped, "discarded", res.Discarded)
		return res, nil
	}

	for _, side := range []record.Side{record.Left, record.Right} {
		var sideTris []Triangle
		for _, tri := range triangles {
			if tri.Side == side {
				sideTris = append(sideTris, tri)
			}
		}
		if len(sideTris) == 0 {
			continue
		}

		attrs := samples[0].Side(side).Names()
		sort.Strings(attrs)

		var saturated [][]string
		for _, subset := range Subsets(attrs, opts.AttrLength) {
			if containsAny(subset, saturated) {
				continue
			}
			stats, err := evaluate(ctx, p, side, subset, sideTris, classToExplain)
			if err != nil {
				return Result{}, err
			}
			if stats.Counterfactuals == 0 {
				continue
			}
			res.Stats = append(res.Stats, stats)
			res.Flipped += stats.Flips
			if stats.Flips == stats.Counterfactuals {
				saturated = append(saturated, subset)
			}
		}
	}

	logger.Debug("triangle search done",
		"triangles", len(res.Triangles), "subsets", len(res.Stats), "flipped", res.Flipped)
	return res, nil
}

func buildTriangles(samples []record.LabeledPair, tables [2]record.Table, class int, discardBad bool, logger *slog.Logger) ([]Triangle, int, int) {
	orig := samples[0].Pair
	var (
		out       []Triangle
		skipped   int
		discarded int
	)
	for _, n := range samples[1:] {
		sameLeft := n.Left.ID == orig.Left.ID
		sameRight := n.Right.ID == orig.Right.ID

		var side record.Side
		switch {
		case sameLeft && !sameRight:
			side = record.Right
		case sameRight && !sameLeft:
			side = record.Left
		default:
			skipped++
			continue
		}

		support, err := tables[side].Lookup(n.Side(side).ID)
		if err != nil {
			if !errors.Is(err, internalerr.ErrNotJoinable) {
				logger.Warn("unexpected lookup failure", "pair", n.ID(), "err", err)
			}
			logger.Debug("skipping neighbor", "pair", n.ID(), "err", err)
			skipped++
			continue
		}

		if discardBad && n.Label == class {
			discarded++
			continue
		}

		out = append(out, Triangle{
			Original:     orig,
			Side:         side,
			Free:         orig.Side(side.Opposite()),
			Pivot:        orig.Side(side),
			Support:      support,
			SupportLabel: n.Label,
		})
	}
	return out, skipped, discarded
}

func check(ctx context.Context, p predict.Predictor, triangles []Triangle, class int) ([]Triangle, int, error) {
	pairs := make([]record.Pair, len(triangles))
	for i, tri := range triangles {
		pairs[i] = record.NewPair(tri.Free, tri.Side.Opposite(), tri.Support)
	}
	preds, err := predict.Batch(ctx, p, pairs)
	if err != nil {
		return nil, 0, fmt.Errorf("check triangles: %w", err)
	}
	var kept []Triangle
	for i, tri := range triangles {
		if preds[i].Class() != class {
			kept = append(kept, tri)
		}
	}
	return kept, len(triangles) - len(kept), nil
}

func evaluate(ctx context.Context, p predict.Predictor, side record.Side, subset []string, tris []Triangle, class int) (SubsetStats, error) {
	stats := SubsetStats{Side: side, Attrs: make([]string, len(subset))}
	for i, a := range subset {
		stats.Attrs[i] = side.Prefix() + a
	}

	var pairs []record.Pair
	for _, tri := range tris {
		perturbed := tri.Pivot
		changed := false
		for _, attr := range subset {
			v, ok := tri.Support.Get(attr)
			if !ok {
				continue
			}
			if cur, _ := perturbed.Get(attr); cur != v {
				perturbed = perturbed.With(attr, v)
				changed = true
			}
		}
		if !changed {
			continue
		}
		pairs = append(pairs, tri.Original.WithSide(side, perturbed))
	}
	if len(pairs) == 0 {
		return stats, nil
	}

	preds, err := predict.Batch(ctx, p, pairs)
	if err != nil {
		return SubsetStats{}, fmt.Errorf("evaluate subset %v: %w", stats.Attrs, err)
	}
	stats.Counterfactuals = len(preds)
	for _, pred := range preds {
		if pred.Class() != class {
			stats.Flips++
		}
	}
	return stats, nil
}

// Subsets enumerates the non-empty subsets of attrs with at most maxLen
// elements (all sizes when maxLen <= 0), by size and then in index order.
func Subsets(attrs []string, maxLen int) [][]string {
	n := len(attrs)
	if maxLen <= 0 || maxLen > n {
		maxLen = n
	}
	var out [][]string
	idx := make([]int, 0, maxLen)
	var rec func(start, size int)
	rec = func(start, size int) {
		if len(idx) == size {
			s := make([]string, size)
			for i, j := range idx {
				s[i] = attrs[j]
			}
			out = append(out, s)
			return
		}
		for i := start; i < n; i++ {
			idx = append(idx, i)
			rec(i+1, size)
			idx = idx[:len(idx)-1]
		}
	}
	for size := 1; size <= maxLen; size++ {
		rec(0, size)
	}
	return out
}

func containsAny(subset []string, saturated [][]string) bool {
	for _, s := range saturated {
		if isSubset(s, subset) {
			return true
		}
	}
	return false
}

func isSubset(small, big []string) bool {
	set := make(map[string]struct{}, len(big))
	for _, b := range big {
		set[b] = struct{}{}
	}
	for _, s := range small {
		if _, ok := set[s]; !ok {
			return false
		}
	}
	return true
}
