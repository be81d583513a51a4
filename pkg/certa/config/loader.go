package config

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cognicore/certa/internal/tableio"
	"github.com/cognicore/certa/pkg/certa/predict"
	"github.com/cognicore/certa/pkg/certa/record"
	"github.com/cognicore/certa/pkg/certa/store"
	"github.com/cognicore/certa/pkg/certa/store/sqlite"
)

// Loader constructs components from a configuration
type Loader struct {
	Config Config
	Logger *slog.Logger
}

// Components holds all loaded components. Unconfigured parts stay nil or
// empty: no predictor without an endpoint, no store without a path.
type Components struct {
	Predictor predict.Predictor
	Left      record.Table
	Right     record.Table
	Store     store.Store
}

// Close releases the store, if any.
func (c *Components) Close() error {
	if c.Store == nil {
		return nil
	}
	return c.Store.Close()
}

// Load reads the background tables, opens the store and builds the predictor
func (l *Loader) Load(ctx context.Context) (*Components, error) {
	comp := &Components{}
	opts := tableio.Options{
		StripMarkup: l.Config.Tables.StripMarkup,
		Normalize:   l.Config.Tables.Normalize,
		Logger:      l.Logger,
	}

	// Load background tables
	if l.Config.Tables.Left != "" {
		t, err := tableio.LoadTable(l.Config.Tables.Left, record.Left, opts)
		if err != nil {
			return nil, fmt.Errorf("load left table: %w", err)
		}
		comp.Left = t
	}
	if l.Config.Tables.Right != "" {
		t, err := tableio.LoadTable(l.Config.Tables.Right, record.Right, opts)
		if err != nil {
			return nil, fmt.Errorf("load right table: %w", err)
		}
		comp.Right = t
	}

	if p := l.Config.Predictor; p.Endpoint != "" {
		comp.Predictor = predict.NewHTTPPredictor(p.Endpoint, predict.HTTPOptions{
			APIKey:            p.APIKey,
			RequestsPerSecond: p.RatePerSecond,
			Timeout:           p.Timeout,
		})
	}

	// Open store last so a table error does not leak it
	if l.Config.Store.Path != "" {
		st, err := sqlite.OpenSQLite(ctx, l.Config.Store.Path)
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		comp.Store = st
	}

	return comp, nil
}
