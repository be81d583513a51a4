package predict

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/cognicore/certa/pkg/certa/internalerr"
	"github.com/cognicore/certa/pkg/certa/record"
)

// Threshold is the match score at or above which a pair is predicted a match.
const Threshold = 0.5

// Prediction is the (nomatch_score, match_score) output for one pair
type Prediction struct {
	NoMatch float64 `json:"nomatch_score"`
	Match   float64 `json:"match_score"`
}

// Class returns 1 for a predicted match and 0 otherwise.
func (p Prediction) Class() int {
	if p.Match >= Threshold {
		return 1
	}
	return 0
}

// Predictor is the black-box matcher. Implementations must return exactly
// one prediction per input pair, in order.
type Predictor interface {
	Predict(ctx context.Context, pairs []record.Pair) ([]Prediction, error)
}

// Func adapts a plain function to the Predictor interface
type Func func(ctx context.Context, pairs []record.Pair) ([]Prediction, error)

// Predict implements Predictor.
func (f Func) Predict(ctx context.Context, pairs []record.Pair) ([]Prediction, error) {
	return f(ctx, pairs)
}

// Batch calls p and validates the result length. Errors are wrapped with
// internalerr.ErrPrediction.
func Batch(ctx context.Context, p Predictor, pairs []record.Pair) ([]Prediction, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	preds, err := p.Predict(ctx, pairs)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", internalerr.ErrPrediction, err)
	}
	if len(preds) != len(pairs) {
		return nil, fmt.Errorf("%w: got %d predictions for %d pairs", internalerr.ErrPrediction, len(preds), len(pairs))
	}
	return preds, nil
}

// One predicts a single pair.
func One(ctx context.Context, p Predictor, pair record.Pair) (Prediction, error) {
	preds, err := Batch(ctx, p, []record.Pair{pair})
	if err != nil {
		return Prediction{}, err
	}
	return preds[0], nil
}

// Counting wraps a predictor and counts calls and scored pairs.
type Counting struct {
	Next  Predictor
	calls atomic.Int64
	pairs atomic.Int64
}

// Predict implements Predictor.
func (c *Counting) Predict(ctx context.Context, pairs []record.Pair) ([]Prediction, error) {
	c.calls.Add(1)
	c.pairs.Add(int64(len(pairs)))
	return c.Next.Predict(ctx, pairs)
}

// Calls returns the number of Predict invocations
func (c *Counting) Calls() int64 { return c.calls.Load() }

// Pairs returns the total number of pairs scored
func (c *Counting) Pairs() int64 { return c.pairs.Load() }
