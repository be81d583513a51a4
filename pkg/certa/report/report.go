package report

import (
	"crypto/rand"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/cognicore/certa/pkg/certa/explanation"
	"github.com/cognicore/certa/pkg/certa/record"
	"github.com/cognicore/certa/pkg/certa/store"
	"github.com/cognicore/certa/pkg/certa/triangle"
)

// maxBullets bounds the ranked subsets listed on a card.
const maxBullets = 5

// Builder constructs explanation cards and run identifiers
type Builder struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

// New creates a new card builder
func New() *Builder {
	return &Builder{
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
}

// NewID returns a ULID. IDs from one builder are strictly increasing.
func (b *Builder) NewID() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return ulid.MustNew(ulid.Now(), b.entropy).String()
}

// Card is a human-readable summary of one explanation run
type Card struct {
	ID       string             `json:"id"`
	RunID    string             `json:"run_id"`
	Title    string             `json:"title"`
	Bullets  []string           `json:"bullets"`
	Saliency map[string]float64 `json:"saliency"`
	Explain  Explain            `json:"explain"`
	Created  time.Time          `json:"created"`
}

// Explain carries the numbers behind a card
type Explain struct {
	Pair           string  `json:"pair"`
	PredictedClass int     `json:"predicted_class"`
	ClassToExplain int     `json:"class_to_explain"`
	MatchScore     float64 `json:"match_score"`
	TopSubset      string  `json:"top_subset,omitempty"`
	Triangles      int     `json:"triangles"`
	Flipped        int     `json:"flipped"`
}

// Build creates a card for run.
func (b *Builder) Build(run store.Run, exp explanation.Explanation) Card {
	pair := record.Pair{Left: record.Record{ID: run.LeftID}, Right: record.Record{ID: run.RightID}}
	card := Card{
		ID:       b.NewID(),
		RunID:    run.ID,
		Title:    fmt.Sprintf("Why %s is %s", pair.ID(), className(run.ClassToExplain)),
		Bullets:  make([]string, 0, min(len(exp.Ranked), maxBullets)),
		Saliency: make(map[string]float64, len(exp.Saliency)),
		Explain: Explain{
			Pair:           pair.ID(),
			PredictedClass: run.PredictedClass,
			ClassToExplain: run.ClassToExplain,
			MatchScore:     run.MatchScore,
			Triangles:      len(run.Triangles),
			Flipped:        run.Flipped,
		},
		Created: run.CreatedAt,
	}
	for a, v := range exp.Saliency {
		card.Saliency[a] = v
	}
	if top, ok := exp.Top(); ok {
		card.Explain.TopSubset = top.Key
	}
	for i, e := range exp.Ranked {
		if i == maxBullets {
			break
		}
		card.Bullets = append(card.Bullets,
			fmt.Sprintf("changing %s flips %d of %d counterfactuals (%.2f)", e.Key, e.Flips, e.Counterfactuals, e.Score))
	}
	if len(card.Bullets) == 0 {
		card.Bullets = append(card.Bullets, "no attribute subset flipped the prediction")
	}
	return card
}

func className(c int) string {
	if c == 1 {
		return "a match"
	}
	return "a non-match"
}

// TriangleRows flattens triangles into their persisted form.
func TriangleRows(tris []triangle.Triangle) []store.TriangleRow {
	rows := make([]store.TriangleRow, len(tris))
	for i, t := range tris {
		rows[i] = store.TriangleRow{
			Side:         t.Side.String(),
			FreeID:       t.Free.ID,
			PivotID:      t.Pivot.ID,
			SupportID:    t.Support.ID,
			SupportLabel: t.SupportLabel,
		}
	}
	return rows
}

var triangleHeader = []string{"pair", "side", "free_id", "pivot_id", "support_id", "support_label"}

// WriteTrianglesCSV writes one row per triangle.
func WriteTrianglesCSV(w io.Writer, tris []triangle.Triangle) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(triangleHeader); err != nil {
		return err
	}
	for _, t := range tris {
		err := cw.Write([]string{
			t.Original.ID(),
			t.Side.String(),
			strconv.FormatInt(t.Free.ID, 10),
			strconv.FormatInt(t.Pivot.ID, 10),
			strconv.FormatInt(t.Support.ID, 10),
			strconv.Itoa(t.SupportLabel),
		})
		if err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
