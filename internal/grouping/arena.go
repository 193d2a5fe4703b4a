package grouping

import "sort"

// ItemState is the workflow state of one merge or unmerge candidate.
type ItemState struct {
	Checked   bool `json:"checked"`
	Busy      bool `json:"busy"`
	Collapsed bool `json:"collapsed"`
}

// Arena maps candidate keys to their ItemState. It is never modified in
// place: every update returns a new Arena, so a held value is a stable
// snapshot.
type Arena struct {
	items map[string]ItemState
}

// NewArena returns an empty arena.
func NewArena() Arena {
	return Arena{}
}

// Get returns the state of key; the zero state if it is unknown.
func (a Arena) Get(key string) ItemState {
	return a.items[key]
}

// Has reports whether key has a recorded state.
func (a Arena) Has(key string) bool {
	_, ok := a.items[key]
	return ok
}

// Len is the number of keys with a recorded state.
func (a Arena) Len() int {
	return len(a.items)
}

// Keys returns the recorded keys in sorted order.
func (a Arena) Keys() []string {
	keys := make([]string, 0, len(a.items))
	for k := range a.items {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Set returns a new arena with key set to st.
func (a Arena) Set(key string, st ItemState) Arena {
	return a.Update([]string{key}, func(ItemState) ItemState { return st })
}

// Update returns a new arena where fn has been applied to each key.
func (a Arena) Update(keys []string, fn func(ItemState) ItemState) Arena {
	next := make(map[string]ItemState, len(a.items)+len(keys))
	for k, v := range a.items {
		next[k] = v
	}
	for _, k := range keys {
		next[k] = fn(next[k])
	}
	return Arena{items: next}
}

// Count returns how many of keys satisfy pred.
func (a Arena) Count(keys []string, pred func(ItemState) bool) int {
	n := 0
	for _, k := range keys {
		if pred(a.items[k]) {
			n++
		}
	}
	return n
}
