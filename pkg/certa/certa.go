package certa

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cognicore/certa/pkg/certa/config"
	"github.com/cognicore/certa/pkg/certa/explanation"
	"github.com/cognicore/certa/pkg/certa/internalerr"
	"github.com/cognicore/certa/pkg/certa/neighborhood"
	"github.com/cognicore/certa/pkg/certa/predict"
	"github.com/cognicore/certa/pkg/certa/record"
	"github.com/cognicore/certa/pkg/certa/report"
	"github.com/cognicore/certa/pkg/certa/sample"
	"github.com/cognicore/certa/pkg/certa/store"
	"github.com/cognicore/certa/pkg/certa/triangle"
)

// Explainer produces counterfactual explanations for a black-box matcher
type Explainer struct {
	predictor predict.Predictor
	store     store.Store
	logger    *slog.Logger
	cfg       config.Explain
	cards     *report.Builder
}

// Options configures an Explainer
type Options struct {
	Predictor predict.Predictor
	// Store persists runs when set.
	Store  store.Store
	Logger *slog.Logger
	Config config.Explain
}

// New creates an Explainer with the given dependencies
func New(opts Options) (*Explainer, error) {
	if opts.Predictor == nil {
		return nil, fmt.Errorf("%w: predictor required", internalerr.ErrInvalidConfig)
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Config.NoRetrieval() {
		logger.Warn("both retrieval sides disabled, explanations will be empty")
	}
	return &Explainer{
		predictor: opts.Predictor,
		store:     opts.Store,
		logger:    logger,
		cfg:       opts.Config,
		cards:     report.New(),
	}, nil
}

// Close cleanly shuts down the Explainer
func (e *Explainer) Close() error {
	if e.store == nil {
		return nil
	}
	return e.store.Close()
}

// Request is one pair to explain with its background tables
type Request struct {
	Left        record.Record
	Right       record.Record
	LeftSource  record.Table
	RightSource record.Table
	// ClassToExplain overrides the predicted class.
	ClassToExplain *int
	// Counterfactual also explains the opposite class.
	Counterfactual bool
}

// Result is the outcome of one explanation
type Result struct {
	RunID          string
	Original       predict.Prediction
	PredictedClass int
	ClassToExplain int

	Explanation explanation.Explanation
	Flipped     int
	Triangles   []triangle.Triangle
	// Samples holds the original pair followed by its neighbors.
	Samples   []record.LabeledPair
	Generated []neighborhood.GeneratedRow
	Skipped   int
	Discarded int
	// Degenerate is set when no neighborhood could be built; the
	// explanation is then empty.
	Degenerate bool
	Card       report.Card

	Counterfactual *Result
	// CounterfactualErr records why the counterfactual explanation failed.
	// It never fails the call itself.
	CounterfactualErr error
}

// Explain explains the prediction of the matcher for one pair.
func (e *Explainer) Explain(ctx context.Context, req Request) (Result, error) {
	res, err := e.explain(ctx, req, req.ClassToExplain)
	if err != nil {
		return Result{}, err
	}

	if req.Counterfactual || e.cfg.Counterfactual {
		opposite := 1 - res.ClassToExplain
		cf, err := e.explain(ctx, req, &opposite)
		if err != nil {
			e.logger.Warn("counterfactual explanation failed",
				"run", res.RunID, "class", opposite, "err", err)
			res.CounterfactualErr = err
		} else {
			res.Counterfactual = &cf
		}
	}
	return res, nil
}

func (e *Explainer) explain(ctx context.Context, req Request, class *int) (Result, error) {
	local, err := sample.Build(ctx, sample.Input{
		Left:        req.Left,
		Right:       req.Right,
		LeftSource:  req.LeftSource,
		RightSource: req.RightSource,
	}, e.predictor, sample.Options{
		ClassToExplain: class,
		NumTriangles:   e.cfg.NumTriangles,
		UseLeft:        e.cfg.UseLeft,
		UseRight:       e.cfg.UseRight,
		MaxPredict:     e.cfg.MaxPredict,
		Seed:           e.cfg.Seed,
		Logger:         e.logger,
	})
	if err != nil {
		return Result{}, fmt.Errorf("build local samples: %w", err)
	}

	res := Result{
		RunID:          e.cards.NewID(),
		Original:       local.Original,
		PredictedClass: local.Original.Class(),
		ClassToExplain: local.ClassToExplain,
		Samples:        local.Samples,
		Generated:      local.Generated,
	}

	if local.Empty() {
		e.logger.Warn("empty neighborhood, returning an empty explanation",
			"run", res.RunID, "pair", record.Pair{Left: req.Left, Right: req.Right}.ID())
		res.Degenerate = true
		res.Explanation = explanation.Aggregate(nil, e.cfg.ReturnTop)
	} else {
		attrLength := e.cfg.AttrLength
		if attrLength <= 0 {
			attrLength = triangle.DefaultAttrLength(req.Left, req.Right)
		}
		left, right := local.Extend(req.LeftSource, req.RightSource)
		found, err := triangle.Search(ctx, local.Samples, [2]record.Table{left, right}, e.predictor, local.ClassToExplain, triangle.Options{
			AttrLength: attrLength,
			DiscardBad: e.cfg.DiscardBad,
			Check:      e.cfg.Check,
			Logger:     e.logger,
		})
		if err != nil {
			return Result{}, fmt.Errorf("search triangles: %w", err)
		}
		res.Explanation = explanation.Aggregate(found.Stats, e.cfg.ReturnTop)
		res.Flipped = found.Flipped
		res.Triangles = found.Triangles
		res.Skipped = found.Skipped
		res.Discarded = found.Discarded
	}

	run := toRun(res, req)
	res.Card = e.cards.Build(run, res.Explanation)
	if e.store != nil {
		if err := e.store.SaveRun(ctx, run); err != nil {
			return Result{}, fmt.Errorf("save run %s: %w", run.ID, err)
		}
	}

	e.logger.Debug("explained pair",
		"run", res.RunID, "class", res.ClassToExplain, "subsets", len(res.Explanation.Ranked),
		"triangles", len(res.Triangles), "flipped", res.Flipped)
	return res, nil
}

func toRun(res Result, req Request) store.Run {
	run := store.Run{
		ID:             res.RunID,
		LeftID:         req.Left.ID,
		RightID:        req.Right.ID,
		PredictedClass: res.PredictedClass,
		ClassToExplain: res.ClassToExplain,
		MatchScore:     res.Original.Match,
		Flipped:        res.Flipped,
		Entries:        make([]store.Entry, len(res.Explanation.Ranked)),
		Triangles:      report.TriangleRows(res.Triangles),
		CreatedAt:      time.Now(),
	}
	for i, en := range res.Explanation.Ranked {
		run.Entries[i] = store.Entry{
			Key:             en.Key,
			Score:           en.Score,
			Flips:           en.Flips,
			Counterfactuals: en.Counterfactuals,
		}
	}
	return run
}

// Run returns a persisted run.
func (e *Explainer) Run(ctx context.Context, id string) (store.Run, error) {
	if e.store == nil {
		return store.Run{}, internalerr.ErrStoreUnavailable
	}
	run, found, err := e.store.GetRun(ctx, id)
	if err != nil {
		return store.Run{}, err
	}
	if !found {
		return store.Run{}, fmt.Errorf("%w: run %s", internalerr.ErrNotFound, id)
	}
	return run, nil
}

// Recent returns the most recent persisted runs.
func (e *Explainer) Recent(ctx context.Context, limit int) ([]store.Run, error) {
	if e.store == nil {
		return nil, internalerr.ErrStoreUnavailable
	}
	return e.store.ListRuns(ctx, limit)
}
