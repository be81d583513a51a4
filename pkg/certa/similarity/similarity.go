package similarity

import (
	"math"
	"regexp"
	"sort"

	"github.com/cognicore/certa/pkg/certa/record"
)

// word matches Unicode word characters, like \w in a Unicode-aware engine.
var word = regexp.MustCompile(`[\p{L}\p{M}\p{N}_]+`)

// Tokens returns the word tokens of text. No case folding, stemming or
// stopword removal is applied.
func Tokens(text string) []string {
	return word.FindAllString(text, -1)
}

func counts(text string) map[string]int {
	out := make(map[string]int)
	for _, tok := range Tokens(text) {
		out[tok]++
	}
	return out
}

// Cosine calculates the cosine similarity between the token-count vectors of
// two texts. It is 0 when either text has no tokens.
func Cosine(a, b string) float64 {
	va := counts(a)
	vb := counts(b)

	dot := 0.0
	for tok, ca := range va {
		if cb, ok := vb[tok]; ok {
			dot += float64(ca * cb)
		}
	}

	normA := 0.0
	for _, c := range va {
		normA += float64(c * c)
	}
	normB := 0.0
	for _, c := range vb {
		normB += float64(c * c)
	}

	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom == 0 {
		return 0
	}
	return dot / denom
}

// Scored is a candidate with its similarity to a query
type Scored struct {
	Record record.Record
	Score  float64
}

// Rank orders candidates by descending similarity of their text to the
// query's text. Ties keep the input order.
func Rank(query record.Record, candidates []record.Record) []Scored {
	qText := query.Text()
	out := make([]Scored, len(candidates))
	for i, c := range candidates {
		out[i] = Scored{Record: c, Score: Cosine(qText, c.Text())}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})
	return out
}

// Order sorts idx by scores, descending when desc is set. The sort is stable
// so equal scores keep their original relative order.
func Order(scores []float64, desc bool) []int {
	idx := make([]int, len(scores))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(i, j int) bool {
		if desc {
			return scores[idx[i]] > scores[idx[j]]
		}
		return scores[idx[i]] < scores[idx[j]]
	})
	return idx
}
