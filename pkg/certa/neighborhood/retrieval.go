package neighborhood

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"

	"github.com/cognicore/certa/pkg/certa/predict"
	"github.com/cognicore/certa/pkg/certa/record"
	"github.com/cognicore/certa/pkg/certa/similarity"
)

const (
	DefaultBatchFactor = 4
	DefaultMaxBatches  = 10
)

// Candidate is a retrieved pair with the model's prediction for it
type Candidate struct {
	Pair       record.Pair
	Prediction predict.Prediction
	Similarity float64
}

// Retrieval is the outcome of one candidate search.
type Retrieval struct {
	Candidates     []Candidate
	BatchesScanned int
	// Exhausted is set when fewer than the requested candidates were found
	// after scanning every allowed batch.
	Exhausted bool
}

// Retriever finds matching or non-matching counterparts of a record in a
// background table. Text similarity decides the order in which candidates
// are sent to the model; only the model's prediction decides acceptance.
type Retriever struct {
	Predictor predict.Predictor
	Logger    *slog.Logger

	// BatchFactor times the requested count is the size of each predict batch.
	// Tables smaller than one batch yield no candidates.
	BatchFactor int
	// MaxBatches bounds the number of predict calls per search.
	MaxBatches int
	// MaxPredict, when > 0, shuffles the candidate pairs and keeps only the
	// first MaxPredict before ranking.
	MaxPredict int
	// Rand drives the MaxPredict shuffle. A fixed-seed source is used when nil.
	Rand *rand.Rand
}

func (r *Retriever) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

// Find pairs query (placed on side) with every row of table and returns up to
// numCandidates pairs whose predicted class is 1 when findPositives is set,
// 0 otherwise.
func (r *Retriever) Find(ctx context.Context, query record.Record, side record.Side, table record.Table, findPositives bool, numCandidates int) (Retrieval, error) {
	if numCandidates < 1 {
		numCandidates = 1
	}
	factor := r.BatchFactor
	if factor <= 0 {
		factor = DefaultBatchFactor
	}
	maxBatches := r.MaxBatches
	if maxBatches <= 0 {
		maxBatches = DefaultMaxBatches
	}

	pairs := make([]record.Pair, len(table.Rows))
	for i, row := range table.Rows {
		pairs[i] = record.NewPair(query, side, row)
	}

	if r.MaxPredict > 0 && len(pairs) > r.MaxPredict {
		rng := r.Rand
		if rng == nil {
			rng = rand.New(rand.NewPCG(0, 0))
		}
		rng.Shuffle(len(pairs), func(i, j int) { pairs[i], pairs[j] = pairs[j], pairs[i] })
		pairs = pairs[:r.MaxPredict]
	}

	qText := query.Text()
	scores := make([]float64, len(pairs))
	for i, p := range pairs {
		scores[i] = similarity.Cosine(qText, p.Text())
	}
	order := similarity.Order(scores, findPositives)

	want := 0
	if findPositives {
		want = 1
	}

	// only full batches are scanned; a trailing partial batch is never sent
	batch := factor * numCandidates
	splits := len(order) / batch
	if splits > maxBatches {
		splits = maxBatches
	}

	var res Retrieval
	for i := 0; len(res.Candidates) < numCandidates && i < splits; i++ {
		lo := i * batch
		hi := lo + batch
		batchPairs := make([]record.Pair, 0, batch)
		for _, idx := range order[lo:hi] {
			batchPairs = append(batchPairs, pairs[idx])
		}

		preds, err := predict.Batch(ctx, r.Predictor, batchPairs)
		if err != nil {
			return Retrieval{}, fmt.Errorf("retrieve candidates for %s record %d: %w", side, query.ID, err)
		}
		res.BatchesScanned++

		accepted := 0
		for j, pred := range preds {
			if accepted == numCandidates {
				break
			}
			if pred.Class() != want {
				continue
			}
			res.Candidates = append(res.Candidates, Candidate{
				Pair:       batchPairs[j],
				Prediction: pred,
				Similarity: scores[order[lo+j]],
			})
			accepted++
		}
		r.logger().Debug("candidate batch",
			"side", side.String(), "batch", i, "accepted", accepted, "total", len(res.Candidates))
	}

	if len(res.Candidates) < numCandidates {
		res.Exhausted = true
		r.logger().Warn("candidate retrieval exhausted",
			"side", side.String(),
			"record", query.ID,
			"positives", findPositives,
			"found", len(res.Candidates),
			"requested", numCandidates,
			"batches", res.BatchesScanned)
	}

	return res, nil
}
