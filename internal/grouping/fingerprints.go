package grouping

import (
	"encoding/json"
	"fmt"

	"github.com/dusk-indust/triage/internal/store"
)

// Fingerprint is one hash merged into a group, together with the child
// hashes folded under it.
type Fingerprint struct {
	ID          string             `json:"id"`
	LatestEvent store.Group        `json:"latestEvent,omitempty"`
	State       string             `json:"state,omitempty"`
	EventCount  int                `json:"eventCount"`
	Children    []FingerprintChild `json:"children,omitempty"`
}

// Locked reports whether the server is already processing this fingerprint.
func (f Fingerprint) Locked() bool {
	return f.State == "locked"
}

// Eligible reports whether the fingerprint can be selected for unmerge.
func (f Fingerprint) Eligible() bool {
	return f.LatestEvent != nil
}

// FingerprintChild is a hierarchical child hash.
type FingerprintChild struct {
	ChildID     string      `json:"childId"`
	ChildLabel  string      `json:"childLabel,omitempty"`
	LastSeen    string      `json:"lastSeen,omitempty"`
	EventCount  int         `json:"eventCount"`
	LatestEvent store.Group `json:"latestEvent,omitempty"`
}

// hashEntry is one row of the hashes endpoint.
type hashEntry struct {
	ID          string      `json:"id"`
	LatestEvent store.Group `json:"latestEvent"`
	State       string      `json:"state"`
	ChildID     string      `json:"childId"`
	ChildLabel  string      `json:"childLabel"`
	LastSeen    string      `json:"lastSeen"`
	EventCount  int         `json:"eventCount"`
}

// DecodeFingerprints parses the hashes payload and folds rows sharing an id
// into one Fingerprint, summing event counts and collecting children. The
// order of first appearance is kept.
func DecodeFingerprints(body []byte) ([]Fingerprint, error) {
	var rows []hashEntry
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("grouping: decode fingerprints: %w", err)
	}
	return foldFingerprints(rows), nil
}

func foldFingerprints(rows []hashEntry) []Fingerprint {
	index := make(map[string]int, len(rows))
	var out []Fingerprint

	for _, row := range rows {
		i, ok := index[row.ID]
		if !ok {
			i = len(out)
			index[row.ID] = i
			out = append(out, Fingerprint{
				ID:          row.ID,
				LatestEvent: row.LatestEvent,
				State:       row.State,
			})
		}

		fp := &out[i]
		fp.EventCount += row.EventCount
		if fp.LatestEvent == nil {
			fp.LatestEvent = row.LatestEvent
		}
		if row.State == "locked" {
			fp.State = row.State
		}
		if row.ChildID != "" {
			fp.Children = append(fp.Children, FingerprintChild{
				ChildID:     row.ChildID,
				ChildLabel:  row.ChildLabel,
				LastSeen:    row.LastSeen,
				EventCount:  row.EventCount,
				LatestEvent: row.LatestEvent,
			})
		}
	}
	return out
}
