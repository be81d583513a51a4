package main

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/cognicore/certa/pkg/certa/config"
)

func TestApplyOverrides(t *testing.T) {
	base := config.Default()
	base.Tables.Left = "from-config-a.csv"
	base.Explain.NumTriangles = 50

	tests := []struct {
		name  string
		o     overrides
		check func(t *testing.T, cfg config.Config)
	}{
		{
			name: "empty overrides keep config",
			o:    overrides{},
			check: func(t *testing.T, cfg config.Config) {
				if cfg.Tables.Left != "from-config-a.csv" || cfg.Explain.NumTriangles != 50 {
					t.Errorf("config changed: %+v", cfg)
				}
			},
		},
		{
			name: "flags win",
			o:    overrides{left: "a.csv", right: "b.csv", endpoint: "http://m/predict", db: "runs.db", triangles: 8, counterfactual: true},
			check: func(t *testing.T, cfg config.Config) {
				if cfg.Tables.Left != "a.csv" || cfg.Tables.Right != "b.csv" {
					t.Errorf("tables = %+v", cfg.Tables)
				}
				if cfg.Predictor.Endpoint != "http://m/predict" || cfg.Store.Path != "runs.db" {
					t.Errorf("endpoint/db = %q/%q", cfg.Predictor.Endpoint, cfg.Store.Path)
				}
				if cfg.Explain.NumTriangles != 8 || !cfg.Explain.Counterfactual {
					t.Errorf("explain = %+v", cfg.Explain)
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, applyOverrides(base, tt.o))
		})
	}
}

// TestBuildExplainerRequiresTables tests that buildExplainer fails without tables
func TestBuildExplainerRequiresTables(t *testing.T) {
	cfg := config.Default()
	cfg.Predictor.Endpoint = "http://localhost:9/predict"
	if _, _, _, err := buildExplainer(context.Background(), cfg, quiet()); err == nil {
		t.Error("buildExplainer should fail without tables")
	}
}

// TestBuildExplainerRequiresEndpoint tests that buildExplainer fails without an endpoint
func TestBuildExplainerRequiresEndpoint(t *testing.T) {
	cfg := config.Default()
	cfg.Tables.Left = filepath.Join(fixtures(t), "tableA.csv")
	cfg.Tables.Right = filepath.Join(fixtures(t), "tableB.csv")
	if _, _, _, err := buildExplainer(context.Background(), cfg, quiet()); err == nil {
		t.Error("buildExplainer should fail without an endpoint")
	}
}

// TestBuildExplainerNonExistentTable tests that buildExplainer fails with a missing table
func TestBuildExplainerNonExistentTable(t *testing.T) {
	cfg := config.Default()
	cfg.Tables.Left = filepath.Join(t.TempDir(), "nonexistent.csv")
	cfg.Tables.Right = filepath.Join(fixtures(t), "tableB.csv")
	cfg.Predictor.Endpoint = "http://localhost:9/predict"
	if _, _, _, err := buildExplainer(context.Background(), cfg, quiet()); err == nil {
		t.Error("buildExplainer should fail with non-existent table")
	}
}

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
