package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"

	"github.com/cognicore/certa/internal/tableio"
	"github.com/cognicore/certa/pkg/certa"
	"github.com/cognicore/certa/pkg/certa/config"
	"github.com/cognicore/certa/pkg/certa/explanation"
	"github.com/cognicore/certa/pkg/certa/record"
	"github.com/cognicore/certa/pkg/certa/report"
	"github.com/cognicore/certa/pkg/certa/triangle"
)

// overrides are command line values that win over the config file.
type overrides struct {
	left           string
	right          string
	endpoint       string
	db             string
	triangles      int
	counterfactual bool
}

func main() {
	var (
		configPath   = flag.String("config", "", "YAML config file (optional)")
		leftPath     = flag.String("left", "", "Left background table (CSV with an id column)")
		rightPath    = flag.String("right", "", "Right background table (CSV with an id column)")
		leftID       = flag.Int64("lid", -1, "Id of the left record to explain")
		rightID      = flag.Int64("rid", -1, "Id of the right record to explain")
		pairsPath    = flag.String("pairs", "", "Explain every pair of a ltable_id,rtable_id CSV file")
		endpoint     = flag.String("endpoint", "", "Prediction endpoint URL")
		dbPath       = flag.String("db", "", "Persist runs to this SQLite database")
		trianglesOut = flag.String("triangles-out", "", "Write the triangles used to this CSV file")
		numTriangles = flag.Int("triangles", 0, "Number of triangles to sample (0 keeps the config value)")
		cf           = flag.Bool("counterfactual", false, "Also explain the opposite class")
		verbose      = flag.Bool("v", false, "Debug logging")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("load config: %v", err)
		}
		cfg = loaded
	}
	cfg = applyOverrides(cfg, overrides{
		left:           *leftPath,
		right:          *rightPath,
		endpoint:       *endpoint,
		db:             *dbPath,
		triangles:      *numTriangles,
		counterfactual: *cf,
	})

	if *pairsPath == "" && (*leftID < 0 || *rightID < 0) {
		log.Fatal("--lid and --rid (or --pairs) required")
	}

	j := job{
		pairsPath:    *pairsPath,
		leftID:       *leftID,
		rightID:      *rightID,
		trianglesOut: *trianglesOut,
	}
	if err := run(context.Background(), cfg, j, os.Stdout, logger); err != nil {
		log.Fatal(err)
	}
}

// job names the pairs to explain and where the triangles go.
type job struct {
	pairsPath    string
	leftID       int64
	rightID      int64
	trianglesOut string
}

// run explains every pair of j. Deferred cleanups always run before it
// returns, so the store and the triangles file are closed on failure too.
func run(ctx context.Context, cfg config.Config, j job, w io.Writer, logger *slog.Logger) (err error) {
	engine, comp, cleanup, err := buildExplainer(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	var pairs []tableio.IDPair
	if j.pairsPath != "" {
		pairs, err = tableio.LoadPairs(j.pairsPath, tableio.Options{Logger: logger})
		if err != nil {
			return err
		}
	} else {
		pairs = []tableio.IDPair{{LeftID: j.leftID, RightID: j.rightID}}
	}

	var triW io.Writer
	if j.trianglesOut != "" {
		f, ferr := os.Create(j.trianglesOut)
		if ferr != nil {
			return ferr
		}
		defer func() {
			if cerr := f.Close(); cerr != nil && err == nil {
				err = fmt.Errorf("close triangles file: %w", cerr)
			}
		}()
		triW = f
	}

	return explainPairs(ctx, engine, comp, pairs, w, triW, logger)
}

func applyOverrides(cfg config.Config, o overrides) config.Config {
	if o.left != "" {
		cfg.Tables.Left = o.left
	}
	if o.right != "" {
		cfg.Tables.Right = o.right
	}
	if o.endpoint != "" {
		cfg.Predictor.Endpoint = o.endpoint
	}
	if o.db != "" {
		cfg.Store.Path = o.db
	}
	if o.triangles > 0 {
		cfg.Explain.NumTriangles = o.triangles
	}
	if o.counterfactual {
		cfg.Explain.Counterfactual = true
	}
	return cfg
}

func buildExplainer(ctx context.Context, cfg config.Config, logger *slog.Logger) (*certa.Explainer, *config.Components, func(), error) {
	if cfg.Tables.Left == "" || cfg.Tables.Right == "" {
		return nil, nil, nil, errors.New("both background tables are required")
	}
	if cfg.Predictor.Endpoint == "" {
		return nil, nil, nil, errors.New("prediction endpoint required")
	}

	loader := config.Loader{Config: cfg, Logger: logger}
	comp, err := loader.Load(ctx)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}

	engine, err := certa.New(certa.Options{
		Predictor: comp.Predictor,
		Store:     comp.Store,
		Logger:    logger,
		Config:    cfg.Explain,
	})
	if err != nil {
		comp.Close()
		return nil, nil, nil, err
	}

	cleanup := func() {
		engine.Close()
	}
	return engine, comp, cleanup, nil
}

// output is the JSON line printed per explained pair
type output struct {
	RunID             string                  `json:"run_id"`
	Pair              string                  `json:"pair"`
	PredictedClass    int                     `json:"predicted_class"`
	ClassToExplain    int                     `json:"class_to_explain"`
	MatchScore        float64                 `json:"match_score"`
	Degenerate        bool                    `json:"degenerate,omitempty"`
	Explanation       explanation.Explanation `json:"explanation"`
	Card              report.Card             `json:"card"`
	Counterfactual    *output                 `json:"counterfactual,omitempty"`
	CounterfactualErr string                  `json:"counterfactual_error,omitempty"`
}

func toOutput(res certa.Result, pair record.Pair) *output {
	out := &output{
		RunID:          res.RunID,
		Pair:           pair.ID(),
		PredictedClass: res.PredictedClass,
		ClassToExplain: res.ClassToExplain,
		MatchScore:     res.Original.Match,
		Degenerate:     res.Degenerate,
		Explanation:    res.Explanation,
		Card:           res.Card,
	}
	if res.Counterfactual != nil {
		out.Counterfactual = toOutput(*res.Counterfactual, pair)
	}
	if res.CounterfactualErr != nil {
		out.CounterfactualErr = res.CounterfactualErr.Error()
	}
	return out
}

func explainPairs(ctx context.Context, engine *certa.Explainer, comp *config.Components, pairs []tableio.IDPair, w, triW io.Writer, logger *slog.Logger) error {
	merged, err := tableio.MergeSources(pairs, comp.Left, comp.Right, false, logger)
	if err != nil {
		return err
	}
	if len(merged.Pairs) == 0 {
		return fmt.Errorf("none of %d pairs could be resolved in the tables", len(pairs))
	}

	enc := json.NewEncoder(w)
	var all []triangle.Triangle
	for _, p := range merged.Pairs {
		res, err := engine.Explain(ctx, certa.Request{
			Left:        p.Left,
			Right:       p.Right,
			LeftSource:  comp.Left,
			RightSource: comp.Right,
		})
		if err != nil {
			return fmt.Errorf("explain %s: %w", p.ID(), err)
		}
		if err := enc.Encode(toOutput(res, p.Pair)); err != nil {
			return err
		}
		all = append(all, res.Triangles...)
	}

	if triW != nil {
		if err := report.WriteTrianglesCSV(triW, all); err != nil {
			return fmt.Errorf("write triangles: %w", err)
		}
	}
	return nil
}
