package store

import (
	"encoding/json"
	"fmt"

	"github.com/pmezard/go-difflib/difflib"
)

// DescribePending renders a unified diff between the confirmed record of id
// and its effective view. An empty string means no pending change alters it.
func (s *Store) DescribePending(id string) (string, error) {
	s.mu.RLock()
	g, ok := s.items[id]
	if !ok {
		s.mu.RUnlock()
		return "", fmt.Errorf("store: group %q not found", id)
	}
	confirmed := Group(Clone(g))
	eff := effective(g, s.pending.ForGroup(id))
	s.mu.RUnlock()

	before, err := json.MarshalIndent(confirmed, "", "  ")
	if err != nil {
		return "", fmt.Errorf("store: marshal confirmed %s: %w", id, err)
	}
	after, err := json.MarshalIndent(eff, "", "  ")
	if err != nil {
		return "", fmt.Errorf("store: marshal effective %s: %w", id, err)
	}

	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(before) + "\n"),
		B:        difflib.SplitLines(string(after) + "\n"),
		FromFile: "confirmed/" + id,
		ToFile:   "effective/" + id,
		Context:  3,
	}
	return difflib.GetUnifiedDiffString(diff)
}
