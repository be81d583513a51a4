package explanation

import (
	"sort"
	"strings"

	"github.com/cognicore/certa/pkg/certa/triangle"
)

const sep = "/"

// Entry is one scored attribute subset.
type Entry struct {
	Key             string   `json:"key"`
	Attrs           []string `json:"attrs"`
	Score           float64  `json:"score"`
	Flips           int      `json:"flips"`
	Counterfactuals int      `json:"counterfactuals"`
}

// Explanation maps attribute subsets to their flip scores.
type Explanation struct {
	Scores   map[string]float64 `json:"scores"`
	Ranked   []Entry            `json:"ranked"`
	Saliency map[string]float64 `json:"saliency"`
}

// Key builds the canonical subset key: sorted attribute names joined by "/".
func Key(attrs []string) string {
	sorted := append([]string(nil), attrs...)
	sort.Strings(sorted)
	return strings.Join(sorted, sep)
}

// Split is the inverse of Key.
func Split(key string) []string {
	if key == "" {
		return nil
	}
	return strings.Split(key, sep)
}

// Top returns the best-ranked entry.
func (e Explanation) Top() (Entry, bool) {
	if len(e.Ranked) == 0 {
		return Entry{}, false
	}
	return e.Ranked[0], true
}

// Aggregate scores every evaluated subset by its flip rate and ranks them
// by score, then by size (smaller first), then by key. With returnTop only
// the best subset is kept. Saliency spreads each subset's score evenly over
// its attributes and normalizes the totals to sum to 1.
func Aggregate(stats []triangle.SubsetStats, returnTop bool) Explanation {
	exp := Explanation{
		Scores:   make(map[string]float64),
		Saliency: make(map[string]float64),
	}

	byKey := make(map[string]int)
	for _, s := range stats {
		if s.Counterfactuals == 0 {
			continue
		}
		key := Key(s.Attrs)
		if i, ok := byKey[key]; ok {
			// same subset evaluated twice; pool the counts
			e := &exp.Ranked[i]
			e.Flips += s.Flips
			e.Counterfactuals += s.Counterfactuals
			e.Score = float64(e.Flips) / float64(e.Counterfactuals)
			continue
		}
		byKey[key] = len(exp.Ranked)
		exp.Ranked = append(exp.Ranked, Entry{
			Key:             key,
			Attrs:           Split(key),
			Score:           s.FlipRate(),
			Flips:           s.Flips,
			Counterfactuals: s.Counterfactuals,
		})
	}

	sort.SliceStable(exp.Ranked, func(i, j int) bool {
		a, b := exp.Ranked[i], exp.Ranked[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if len(a.Attrs) != len(b.Attrs) {
			return len(a.Attrs) < len(b.Attrs)
		}
		return a.Key < b.Key
	})

	var total float64
	for _, e := range exp.Ranked {
		share := e.Score / float64(len(e.Attrs))
		for _, a := range e.Attrs {
			exp.Saliency[a] += share
		}
		total += e.Score
	}
	if total > 0 {
		for a, v := range exp.Saliency {
			exp.Saliency[a] = v / total
		}
	} else {
		for a := range exp.Saliency {
			exp.Saliency[a] = 0
		}
	}

	if returnTop && len(exp.Ranked) > 1 {
		exp.Ranked = exp.Ranked[:1]
	}
	for _, e := range exp.Ranked {
		exp.Scores[e.Key] = e.Score
	}
	return exp
}
