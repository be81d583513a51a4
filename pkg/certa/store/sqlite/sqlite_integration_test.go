package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/cognicore/certa/pkg/certa/internalerr"
	"github.com/cognicore/certa/pkg/certa/store"
)

func sampleRun(id string) store.Run {
	return store.Run{
		ID:             id,
		LeftID:         0,
		RightID:        12,
		PredictedClass: 1,
		ClassToExplain: 1,
		MatchScore:     0.93,
		Flipped:        5,
		Entries: []store.Entry{
			{Key: "rtable_name", Score: 1, Flips: 3, Counterfactuals: 3},
			{Key: "ltable_city/rtable_city", Score: 0.5, Flips: 2, Counterfactuals: 4},
		},
		Triangles: []store.TriangleRow{
			{Side: "right", FreeID: 0, PivotID: 12, SupportID: 40, SupportLabel: 0},
			{Side: "left", FreeID: 12, PivotID: 0, SupportID: 8, SupportLabel: 0},
		},
		CreatedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

// TestSQLiteRunRoundTrip saves a run and reads it back
func TestSQLiteRunRoundTrip(t *testing.T) {
	ctx := context.Background()
	st, err := OpenSQLite(ctx, filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer st.Close()

	want := sampleRun("01HZY0000000000000000000AA")
	if err := st.SaveRun(ctx, want); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}

	got, found, err := st.GetRun(ctx, want.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if !found {
		t.Fatal("run should be found")
	}
	if got.RightID != 12 || got.MatchScore != 0.93 || got.Flipped != 5 {
		t.Errorf("run header mismatch: %+v", got)
	}
	if !got.CreatedAt.Equal(want.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, want.CreatedAt)
	}
	if len(got.Entries) != 2 || got.Entries[0].Key != "rtable_name" || got.Entries[1].Counterfactuals != 4 {
		t.Errorf("entries mismatch: %+v", got.Entries)
	}
	if len(got.Triangles) != 2 || got.Triangles[1].Side != "left" || got.Triangles[1].SupportID != 8 {
		t.Errorf("triangles mismatch: %+v", got.Triangles)
	}

	_, found, err = st.GetRun(ctx, "nope")
	if err != nil || found {
		t.Errorf("missing run: found=%v err=%v", found, err)
	}
}

// TestSQLiteSaveReplaces checks that saving again replaces child rows
func TestSQLiteSaveReplaces(t *testing.T) {
	ctx := context.Background()
	st, err := OpenSQLite(ctx, filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer st.Close()

	run := sampleRun("01HZY0000000000000000000AB")
	if err := st.SaveRun(ctx, run); err != nil {
		t.Fatal(err)
	}
	run.Entries = run.Entries[:1]
	run.Triangles = nil
	if err := st.SaveRun(ctx, run); err != nil {
		t.Fatal(err)
	}

	got, _, err := st.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Entries) != 1 || len(got.Triangles) != 0 {
		t.Errorf("expected replaced children, got %d entries and %d triangles", len(got.Entries), len(got.Triangles))
	}
}

func TestSQLiteListRuns(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "runs.db")
	st, err := OpenSQLite(ctx, path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}

	ids := []string{"01HZY0000000000000000000A1", "01HZY0000000000000000000A3", "01HZY0000000000000000000A2"}
	for _, id := range ids {
		if err := st.SaveRun(ctx, sampleRun(id)); err != nil {
			t.Fatal(err)
		}
	}
	st.Close()

	// reopen to make sure the data is on disk
	st, err = OpenSQLite(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st.Close()

	runs, err := st.ListRuns(ctx, 2)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != ids[1] || runs[1].ID != ids[2] {
		t.Fatalf("unexpected runs: %+v", runs)
	}
	if len(runs[0].Entries) != 2 {
		t.Errorf("listed runs should carry entries, got %+v", runs[0].Entries)
	}
}

func TestSQLiteRejectsEmptyID(t *testing.T) {
	ctx := context.Background()
	st, err := OpenSQLite(ctx, filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer st.Close()

	if err := st.SaveRun(ctx, store.Run{}); !errors.Is(err, internalerr.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}
