package sample

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sort"

	"github.com/cognicore/certa/pkg/certa/internalerr"
	"github.com/cognicore/certa/pkg/certa/neighborhood"
	"github.com/cognicore/certa/pkg/certa/predict"
	"github.com/cognicore/certa/pkg/certa/record"
)

// Input is the pair to explain together with its background tables.
type Input struct {
	Left        record.Record
	Right       record.Record
	LeftSource  record.Table
	RightSource record.Table
}

// Options controls local sample construction
type Options struct {
	// ClassToExplain overrides the predicted class of the input pair.
	ClassToExplain *int
	NumTriangles   int
	// UseLeft retrieves counterparts of the left tuple from the right table.
	UseLeft bool
	// UseRight retrieves counterparts of the right tuple from the left table.
	UseRight   bool
	MaxPredict int
	Seed       uint64
	Logger     *slog.Logger
}

// Local is the labeled local neighborhood of an input pair.
type Local struct {
	// Samples holds the original pair first, then the sampled neighbors.
	// It is empty when no neighbor could be found.
	Samples []record.LabeledPair

	// ForLeft and ForRight are the generated copies whose ids appear in
	// Samples; append them to the sources before searching.
	ForLeft  []record.Record
	ForRight []record.Record

	Generated          []neighborhood.GeneratedRow
	Original           predict.Prediction
	ClassToExplain     int
	FindPositives      bool
	Requested          int
	Pool               int
	RetrievalExhausted bool
}

// Neighbors returns the samples without the original pair.
func (l Local) Neighbors() []record.LabeledPair {
	if len(l.Samples) == 0 {
		return nil
	}
	return l.Samples[1:]
}

// Empty reports whether no neighborhood was found.
func (l Local) Empty() bool { return len(l.Samples) == 0 }

// Extend returns new tables holding the sources plus the generated copies.
func (l Local) Extend(left, right record.Table) (record.Table, record.Table) {
	return left.Extend(l.ForLeft...), right.Extend(l.ForRight...)
}

// Build assembles the local sample set around in.
func Build(ctx context.Context, in Input, p predict.Predictor, opts Options) (Local, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if p == nil {
		return Local{}, fmt.Errorf("%w: predictor required", internalerr.ErrInvalidInput)
	}
	if opts.NumTriangles <= 0 {
		return Local{}, fmt.Errorf("%w: num triangles must be positive, got %d", internalerr.ErrInvalidInput, opts.NumTriangles)
	}

	original := record.Pair{Left: in.Left, Right: in.Right}
	origPred, err := predict.One(ctx, p, original)
	if err != nil {
		return Local{}, fmt.Errorf("predict original pair: %w", err)
	}

	class := origPred.Class()
	if opts.ClassToExplain != nil {
		class = *opts.ClassToExplain
	}
	findPositives := class == 0

	gen := neighborhood.GenerateNeighbors(in.Left, in.Right, in.LeftSource, in.RightSource)
	leftExt := in.LeftSource.Extend(gen.ForLeft...)
	rightExt := in.RightSource.Extend(gen.ForRight...)

	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15))
	retriever := &neighborhood.Retriever{
		Predictor:  p,
		Logger:     logger,
		MaxPredict: opts.MaxPredict,
		Rand:       rng,
	}

	numCandidates := max(1, opts.NumTriangles/2)
	var pool []neighborhood.Candidate
	exhausted := false
	if opts.UseLeft {
		res, err := retriever.Find(ctx, in.Left, record.Left, rightExt, findPositives, numCandidates)
		if err != nil {
			return Local{}, err
		}
		pool = append(pool, res.Candidates...)
		exhausted = exhausted || res.Exhausted
	}
	if opts.UseRight {
		res, err := retriever.Find(ctx, in.Right, record.Right, leftExt, findPositives, numCandidates)
		if err != nil {
			return Local{}, err
		}
		pool = append(pool, res.Candidates...)
		exhausted = exhausted || res.Exhausted
	}

	neighbors := filterPool(pool, original.ID(), findPositives)

	local := Local{
		Original:           origPred,
		ClassToExplain:     class,
		FindPositives:      findPositives,
		Requested:          opts.NumTriangles,
		Pool:               len(neighbors),
		RetrievalExhausted: exhausted,
	}

	if len(neighbors) == 0 {
		logger.Warn("no triangles found",
			"pair", original.ID(), "class", class, "requested", opts.NumTriangles)
		return local, nil
	}

	if len(neighbors) > opts.NumTriangles {
		neighbors = pick(neighbors, opts.NumTriangles, rng)
	} else if len(neighbors) < opts.NumTriangles {
		logger.Warn("fewer triangles than requested",
			"pair", original.ID(), "found", len(neighbors), "requested", opts.NumTriangles)
	}

	local.Samples = make([]record.LabeledPair, 0, len(neighbors)+1)
	local.Samples = append(local.Samples, record.LabeledPair{Pair: original, Label: class})
	local.Samples = append(local.Samples, neighbors...)
	local.ForLeft = gen.ForLeft
	local.ForRight = gen.ForRight
	local.Generated = gen.Rows
	return local, nil
}

// filterPool deduplicates candidates by pair id, drops the original pair and
// keeps only candidates whose predicted class has the requested polarity,
// labeling each with that class.
func filterPool(pool []neighborhood.Candidate, originalID string, findPositives bool) []record.LabeledPair {
	want := 0
	if findPositives {
		want = 1
	}
	seen := map[string]struct{}{originalID: {}}
	out := make([]record.LabeledPair, 0, len(pool))
	for _, c := range pool {
		id := c.Pair.ID()
		if _, ok := seen[id]; ok {
			continue
		}
		label := c.Prediction.Class()
		if label != want {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, record.LabeledPair{Pair: c.Pair, Label: label})
	}
	return out
}

// pick draws n items uniformly without replacement, keeping pool order.
func pick(pool []record.LabeledPair, n int, rng *rand.Rand) []record.LabeledPair {
	if n >= len(pool) {
		return pool
	}
	perm := rng.Perm(len(pool))[:n]
	sort.Ints(perm)
	out := make([]record.LabeledPair, n)
	for i, idx := range perm {
		out[i] = pool[idx]
	}
	return out
}
