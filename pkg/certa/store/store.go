package store

import (
	"context"
	"time"
)

// Store persists explanation runs
type Store interface {
	Close() error

	// SaveRun inserts or replaces a run, keyed by its ID.
	SaveRun(ctx context.Context, r Run) error
	GetRun(ctx context.Context, id string) (Run, bool, error)
	// ListRuns returns the most recent runs first.
	ListRuns(ctx context.Context, limit int) ([]Run, error)
}

// Run is one persisted explanation
type Run struct {
	ID             string
	LeftID         int64
	RightID        int64
	PredictedClass int
	ClassToExplain int
	MatchScore     float64
	Flipped        int
	Entries        []Entry
	Triangles      []TriangleRow
	CreatedAt      time.Time
}

// Entry is a scored attribute subset, in rank order within its run.
type Entry struct {
	Key             string
	Score           float64
	Flips           int
	Counterfactuals int
}

// TriangleRow records which records formed a triangle.
type TriangleRow struct {
	Side         string // "left" or "right": the perturbed side
	FreeID       int64
	PivotID      int64
	SupportID    int64
	SupportLabel int
}
