package tableio

import (
	"errors"
	"log/slog"

	"github.com/cognicore/certa/pkg/certa/internalerr"
	"github.com/cognicore/certa/pkg/certa/record"
)

// Merged is the result of joining id pairs with their source tables.
type Merged struct {
	Pairs []record.LabeledPair
	// Skipped counts pairs dropped because an id was missing from a source.
	Skipped int
}

// MergeSources resolves id pairs against the left and right tables. Pairs
// referencing a missing id are skipped and counted; the rest are kept in
// input order. In robust mode every joined pair is followed by its mirror
// (right record on the left side, same label) and by the two identity
// pairs (left/left and right/right), both labeled as matches.
func MergeSources(pairs []IDPair, left, right record.Table, robust bool, logger *slog.Logger) (Merged, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var out Merged
	for _, p := range pairs {
		l, lerr := left.Lookup(p.LeftID)
		r, rerr := right.Lookup(p.RightID)
		if err := errors.Join(lerr, rerr); err != nil {
			if !errors.Is(err, internalerr.ErrNotJoinable) {
				return Merged{}, err
			}
			logger.Debug("skipping unjoinable pair", "left", p.LeftID, "right", p.RightID, "err", err)
			out.Skipped++
			continue
		}

		out.Pairs = append(out.Pairs, record.LabeledPair{Pair: record.Pair{Left: l, Right: r}, Label: p.Label})
		if robust {
			out.Pairs = append(out.Pairs,
				record.LabeledPair{Pair: record.Pair{Left: r, Right: l}, Label: p.Label},
				record.LabeledPair{Pair: record.Pair{Left: l, Right: l}, Label: 1},
				record.LabeledPair{Pair: record.Pair{Left: r, Right: r}, Label: 1},
			)
		}
	}

	if out.Skipped > 0 {
		logger.Warn("pairs not joinable with sources", "skipped", out.Skipped, "kept", len(out.Pairs))
	}
	return out, nil
}
