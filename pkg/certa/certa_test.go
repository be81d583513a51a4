package certa

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/cognicore/certa/pkg/certa/config"
	"github.com/cognicore/certa/pkg/certa/internalerr"
	"github.com/cognicore/certa/pkg/certa/predict"
	"github.com/cognicore/certa/pkg/certa/record"
	"github.com/cognicore/certa/pkg/certa/store/memstore"
)

// lookalike predicts a match only when both records carry the same values.
func lookalike(ctx context.Context, pairs []record.Pair) ([]predict.Prediction, error) {
	out := make([]predict.Prediction, len(pairs))
	for i, p := range pairs {
		out[i] = predict.Prediction{NoMatch: 0.8, Match: 0.2}
		if p.Left.Text() == p.Right.Text() {
			out[i] = predict.Prediction{NoMatch: 0.1, Match: 0.9}
		}
	}
	return out, nil
}

func testRequest() Request {
	return Request{
		Left:  record.New(0, "name", "john smith", "age", "30"),
		Right: record.New(0, "name", "john smith", "age", "30"),
		LeftSource: record.NewTable(record.Left, []string{"id", "name", "age"}, []record.Record{
			record.New(1, "name", "alice cooper", "age", "71"),
			record.New(2, "name", "bob marley", "age", "36"),
			record.New(3, "name", "carla bruni", "age", "52"),
		}),
		RightSource: record.NewTable(record.Right, []string{"id", "name", "age"}, []record.Record{
			record.New(1, "name", "dave grohl", "age", "50"),
			record.New(2, "name", "erykah badu", "age", "48"),
			record.New(3, "name", "frank ocean", "age", "33"),
		}),
	}
}

func testConfig() config.Explain {
	cfg := config.Default().Explain
	// one candidate per side keeps a batch at 4 rows, within the tiny tables
	cfg.NumTriangles = 2
	cfg.Seed = 7
	return cfg
}

func newLogger() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn})), &buf
}

func TestExplainPersistsRun(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	logger, _ := newLogger()

	engine, err := New(Options{Predictor: predict.Func(lookalike), Store: st, Logger: logger, Config: testConfig()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer engine.Close()

	res, err := engine.Explain(ctx, testRequest())
	if err != nil {
		t.Fatalf("Explain: %v", err)
	}
	if res.PredictedClass != 1 || res.ClassToExplain != 1 {
		t.Errorf("classes = %d/%d, want 1/1", res.PredictedClass, res.ClassToExplain)
	}
	if res.Degenerate {
		t.Fatal("expected a neighborhood")
	}
	if len(res.Samples) < 2 || res.Samples[0].ID() != "0@0#1@0" {
		t.Fatalf("samples = %v", res.Samples)
	}
	if len(res.Triangles) == 0 || len(res.Explanation.Ranked) == 0 {
		t.Fatalf("expected triangles and subsets, got %d / %d", len(res.Triangles), len(res.Explanation.Ranked))
	}
	// any change to an identical pair breaks the match
	if top, _ := res.Explanation.Top(); top.Score != 1 {
		t.Errorf("top subset %+v should always flip", top)
	}
	for _, e := range res.Explanation.Ranked {
		if len(e.Attrs) > 1 {
			t.Errorf("subset %s exceeds the default length bound", e.Key)
		}
	}
	if res.Card.RunID != res.RunID || res.Card.Explain.Triangles != len(res.Triangles) {
		t.Errorf("card does not describe the run: %+v", res.Card)
	}
	if res.Counterfactual != nil || res.CounterfactualErr != nil {
		t.Error("counterfactual was not requested")
	}

	run, err := engine.Run(ctx, res.RunID)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(run.Entries) != len(res.Explanation.Ranked) || len(run.Triangles) != len(res.Triangles) {
		t.Errorf("persisted run mismatch: %d entries, %d triangles", len(run.Entries), len(run.Triangles))
	}
	if run.MatchScore != 0.9 {
		t.Errorf("MatchScore = %v", run.MatchScore)
	}

	recent, err := engine.Recent(ctx, 5)
	if err != nil || len(recent) != 1 {
		t.Errorf("Recent = %v, %v", recent, err)
	}
	if _, err := engine.Run(ctx, "missing"); !errors.Is(err, internalerr.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestExplainTablesNotExtendedInPlace(t *testing.T) {
	logger, _ := newLogger()
	engine, err := New(Options{Predictor: predict.Func(lookalike), Logger: logger, Config: testConfig()})
	if err != nil {
		t.Fatal(err)
	}
	req := testRequest()
	for i := 0; i < 2; i++ {
		if _, err := engine.Explain(context.Background(), req); err != nil {
			t.Fatalf("Explain #%d: %v", i, err)
		}
	}
	if req.LeftSource.Len() != 3 || req.RightSource.Len() != 3 {
		t.Errorf("sources grew to %d/%d", req.LeftSource.Len(), req.RightSource.Len())
	}
	if _, err := engine.Recent(context.Background(), 1); !errors.Is(err, internalerr.ErrStoreUnavailable) {
		t.Errorf("expected ErrStoreUnavailable without a store, got %v", err)
	}
}

func TestExplainDegenerateNeighborhood(t *testing.T) {
	always := predict.Func(func(ctx context.Context, pairs []record.Pair) ([]predict.Prediction, error) {
		out := make([]predict.Prediction, len(pairs))
		for i := range out {
			out[i] = predict.Prediction{NoMatch: 0.05, Match: 0.95}
		}
		return out, nil
	})
	st := memstore.New()
	logger, buf := newLogger()
	engine, err := New(Options{Predictor: always, Store: st, Logger: logger, Config: testConfig()})
	if err != nil {
		t.Fatal(err)
	}

	res, err := engine.Explain(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Explain: %v", err)
	}
	if !res.Degenerate || len(res.Explanation.Ranked) != 0 || len(res.Triangles) != 0 {
		t.Errorf("expected an empty explanation, got %+v", res.Explanation)
	}
	if !strings.Contains(buf.String(), "no triangles found") {
		t.Errorf("expected warning, log = %q", buf.String())
	}
	if _, found, _ := st.GetRun(context.Background(), res.RunID); !found {
		t.Error("degenerate runs are persisted too")
	}
}

func TestExplainNoRetrievalSides(t *testing.T) {
	logger, buf := newLogger()
	cfg := testConfig()
	cfg.UseLeft, cfg.UseRight = false, false
	engine, err := New(Options{Predictor: predict.Func(lookalike), Logger: logger, Config: cfg})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res, err := engine.Explain(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Explain: %v", err)
	}
	if !res.Degenerate || len(res.Explanation.Ranked) != 0 {
		t.Errorf("expected an empty explanation, got %+v", res.Explanation)
	}
	for _, msg := range []string{"both retrieval sides disabled", "no triangles found"} {
		if !strings.Contains(buf.String(), msg) {
			t.Errorf("missing warning %q, log = %q", msg, buf.String())
		}
	}
}

func TestExplainCounterfactual(t *testing.T) {
	logger, _ := newLogger()
	engine, err := New(Options{Predictor: predict.Func(lookalike), Logger: logger, Config: testConfig()})
	if err != nil {
		t.Fatal(err)
	}
	req := testRequest()
	req.Counterfactual = true

	res, err := engine.Explain(context.Background(), req)
	if err != nil {
		t.Fatalf("Explain: %v", err)
	}
	if res.CounterfactualErr != nil {
		t.Fatalf("CounterfactualErr = %v", res.CounterfactualErr)
	}
	if res.Counterfactual == nil || res.Counterfactual.ClassToExplain != 0 {
		t.Fatalf("expected a class 0 explanation, got %+v", res.Counterfactual)
	}
	if res.Counterfactual.RunID == res.RunID {
		t.Error("counterfactual run needs its own id")
	}
}

func TestExplainCounterfactualFailureIsRecorded(t *testing.T) {
	ctx := context.Background()
	logger, _ := newLogger()

	// measure how many calls the primary explanation needs
	counting := &predict.Counting{Next: predict.Func(lookalike)}
	baseline, err := New(Options{Predictor: counting, Logger: logger, Config: testConfig()})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := baseline.Explain(ctx, testRequest()); err != nil {
		t.Fatal(err)
	}
	budget := counting.Calls()

	var calls atomic.Int64
	boom := errors.New("model server went away")
	flaky := predict.Func(func(ctx context.Context, pairs []record.Pair) ([]predict.Prediction, error) {
		if calls.Add(1) > budget {
			return nil, boom
		}
		return lookalike(ctx, pairs)
	})
	engine, err := New(Options{Predictor: flaky, Logger: logger, Config: testConfig()})
	if err != nil {
		t.Fatal(err)
	}

	req := testRequest()
	req.Counterfactual = true
	res, err := engine.Explain(ctx, req)
	if err != nil {
		t.Fatalf("primary explanation should succeed: %v", err)
	}
	if !errors.Is(res.CounterfactualErr, boom) || res.Counterfactual != nil {
		t.Errorf("CounterfactualErr = %v, Counterfactual = %v", res.CounterfactualErr, res.Counterfactual)
	}
}

func TestExplainPredictorFailure(t *testing.T) {
	boom := errors.New("boom")
	failing := predict.Func(func(ctx context.Context, pairs []record.Pair) ([]predict.Prediction, error) {
		return nil, boom
	})
	logger, _ := newLogger()
	engine, err := New(Options{Predictor: failing, Logger: logger, Config: testConfig()})
	if err != nil {
		t.Fatal(err)
	}
	_, err = engine.Explain(context.Background(), testRequest())
	if !errors.Is(err, boom) || !errors.Is(err, internalerr.ErrPrediction) {
		t.Errorf("expected wrapped predictor error, got %v", err)
	}
}

func TestNewValidates(t *testing.T) {
	if _, err := New(Options{Config: testConfig()}); !errors.Is(err, internalerr.ErrInvalidConfig) {
		t.Errorf("missing predictor: %v", err)
	}
	cfg := testConfig()
	cfg.NumTriangles = 0
	if _, err := New(Options{Predictor: predict.Func(lookalike), Config: cfg}); !errors.Is(err, internalerr.ErrInvalidConfig) {
		t.Errorf("bad config: %v", err)
	}
}
