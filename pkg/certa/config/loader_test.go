package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/cognicore/certa/pkg/certa/predict"
	"github.com/cognicore/certa/pkg/certa/store"
)

func TestLoaderLoadsEverything(t *testing.T) {
	dir := t.TempDir()
	left := filepath.Join(dir, "tableA.csv")
	right := filepath.Join(dir, "tableB.csv")
	if err := os.WriteFile(left, []byte("id,name\n0,<i>alpha</i>\n1,beta\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(right, []byte("id,name\n0,gamma\n"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg := Default()
	cfg.Tables.Left = left
	cfg.Tables.Right = right
	cfg.Tables.StripMarkup = true
	cfg.Predictor.Endpoint = "http://localhost:9/predict"
	cfg.Store.Path = filepath.Join(dir, "runs.db")

	loader := &Loader{Config: cfg}
	comp, err := loader.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer comp.Close()

	if comp.Left.Len() != 2 || comp.Right.Len() != 1 {
		t.Errorf("tables = %d/%d rows", comp.Left.Len(), comp.Right.Len())
	}
	r, err := comp.Left.Lookup(0)
	if err != nil {
		t.Fatal(err)
	}
	if v, _ := r.Get("name"); v != "alpha" {
		t.Errorf("markup not stripped: %q", v)
	}
	if _, ok := comp.Predictor.(*predict.HTTPPredictor); !ok {
		t.Errorf("Predictor = %T, want *predict.HTTPPredictor", comp.Predictor)
	}

	if err := comp.Store.SaveRun(context.Background(), store.Run{ID: "01X"}); err != nil {
		t.Errorf("store not usable: %v", err)
	}
}

func TestLoaderEmptyConfig(t *testing.T) {
	loader := &Loader{Config: Default()}
	comp, err := loader.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if comp.Predictor != nil || comp.Store != nil || comp.Left.Len() != 0 {
		t.Errorf("expected empty components, got %+v", comp)
	}
	if err := comp.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestLoaderMissingTable(t *testing.T) {
	cfg := Default()
	cfg.Tables.Left = filepath.Join(t.TempDir(), "missing.csv")
	if _, err := (&Loader{Config: cfg}).Load(context.Background()); err == nil {
		t.Error("expected error for missing table")
	}
}
