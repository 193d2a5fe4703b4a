package grouping

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/dusk-indust/triage/internal/store"
)

// DefaultMinScore is the threshold a candidate must reach on at least one raw
// score to be listed as similar.
const DefaultMinScore = 0.6

// SimilarItem is a merge candidate with its scores. A nil raw score means the
// feature was absent from one side of the comparison.
type SimilarItem struct {
	Issue            store.Group         `json:"issue"`
	Score            map[string]*float64 `json:"score"`
	Aggregate        map[string]float64  `json:"aggregate"`
	IsBelowThreshold bool                `json:"isBelowThreshold"`
}

// ID is the candidate issue's id.
func (s SimilarItem) ID() string {
	return s.Issue.ID()
}

// interfaceOf returns the feature group a score key belongs to, the prefix
// before the first ':'.
func interfaceOf(scoreKey string) string {
	name, _, _ := strings.Cut(scoreKey, ":")
	return name
}

// AggregateScores averages the non-null scores of each feature group. Groups
// whose scores are all null are omitted.
func AggregateScores(scores map[string]*float64) map[string]float64 {
	type acc struct {
		sum float64
		n   int
	}
	byInterface := make(map[string]*acc)
	for key, score := range scores {
		if score == nil {
			continue
		}
		name := interfaceOf(key)
		a := byInterface[name]
		if a == nil {
			a = &acc{}
			byInterface[name] = a
		}
		a.sum += *score
		a.n++
	}

	out := make(map[string]float64, len(byInterface))
	for name, a := range byInterface {
		out[name] = a.sum / float64(a.n)
	}
	return out
}

// BelowThreshold reports whether no raw score reaches minScore.
func BelowThreshold(scores map[string]*float64, minScore float64) bool {
	for _, score := range scores {
		if score != nil && *score >= minScore {
			return false
		}
	}
	return true
}

// ScoreCandidate builds a SimilarItem from an issue and its raw scores.
func ScoreCandidate(issue store.Group, scores map[string]*float64, minScore float64) SimilarItem {
	return SimilarItem{
		Issue:            issue,
		Score:            scores,
		Aggregate:        AggregateScores(scores),
		IsBelowThreshold: BelowThreshold(scores, minScore),
	}
}

// DecodeSimilar parses the similar-issues payload, a list of
// [issue, scoreMap] pairs, and splits it into listed and filtered
// candidates. Server order is preserved within each list.
func DecodeSimilar(body []byte, minScore float64) (items, filtered []SimilarItem, err error) {
	var pairs [][2]json.RawMessage
	if err := json.Unmarshal(body, &pairs); err != nil {
		return nil, nil, fmt.Errorf("grouping: decode similar: %w", err)
	}

	for i, pair := range pairs {
		var issue store.Group
		if err := json.Unmarshal(pair[0], &issue); err != nil {
			return nil, nil, fmt.Errorf("grouping: decode similar issue %d: %w", i, err)
		}
		var scores map[string]*float64
		if len(pair[1]) > 0 {
			if err := json.Unmarshal(pair[1], &scores); err != nil {
				return nil, nil, fmt.Errorf("grouping: decode similar scores %d: %w", i, err)
			}
		}

		item := ScoreCandidate(issue, scores, minScore)
		if item.IsBelowThreshold {
			filtered = append(filtered, item)
		} else {
			items = append(items, item)
		}
	}
	return items, filtered, nil
}

// Interfaces returns the feature group names of an aggregate in sorted order.
func Interfaces(aggregate map[string]float64) []string {
	names := make([]string, 0, len(aggregate))
	for name := range aggregate {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
