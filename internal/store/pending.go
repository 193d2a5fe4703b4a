package store

// PendingChange is an optimistic, unconfirmed patch for one group.
//
// A Confirmed change has already succeeded but was dispatched after a change
// that is still open. It keeps its place in the queue so its fields go on
// shadowing the earlier change until that one resolves.
type PendingChange struct {
	ChangeID  string
	GroupID   string
	Patch     Patch
	Confirmed bool
}

// PendingChangeQueue is the ordered ledger of in-flight patches. Changes keep
// their insertion order so that later patches shadow earlier ones when both
// are applied to the same group.
type PendingChangeQueue struct {
	changes []PendingChange
}

// NewPendingChangeQueue returns an empty queue.
func NewPendingChangeQueue() *PendingChangeQueue {
	return &PendingChangeQueue{}
}

// Push appends a change. The patch is copied.
func (q *PendingChangeQueue) Push(changeID, groupID string, patch Patch) {
	q.changes = append(q.changes, PendingChange{
		ChangeID: changeID,
		GroupID:  groupID,
		Patch:    Patch(Clone(patch)),
	})
}

// ForGroup returns the changes targeting groupID in insertion order.
func (q *PendingChangeQueue) ForGroup(groupID string) []PendingChange {
	var out []PendingChange
	for _, c := range q.changes {
		if c.GroupID == groupID {
			out = append(out, c)
		}
	}
	return out
}

// GroupedByID returns every change bucketed by group id, each bucket in
// insertion order. Built in one pass.
func (q *PendingChangeQueue) GroupedByID() map[string][]PendingChange {
	out := make(map[string][]PendingChange)
	for _, c := range q.changes {
		out[c.GroupID] = append(out[c.GroupID], c)
	}
	return out
}

// Remove deletes the change tagged changeID for groupID. It reports whether
// anything was removed.
func (q *PendingChangeQueue) Remove(changeID, groupID string) bool {
	return q.filter(func(c PendingChange) bool {
		return c.ChangeID == changeID && c.GroupID == groupID
	}) > 0
}

// OpenBefore reports whether an unconfirmed change for groupID sits ahead of
// the change tagged changeID.
func (q *PendingChangeQueue) OpenBefore(changeID, groupID string) bool {
	open := false
	for _, c := range q.changes {
		if c.GroupID != groupID {
			continue
		}
		if c.ChangeID == changeID {
			return open
		}
		if !c.Confirmed {
			open = true
		}
	}
	return false
}

// Confirm marks the change tagged changeID for groupID as succeeded and
// replaces its patch with the server's values for the same keys. Keys the
// response does not mention keep their optimistic value.
func (q *PendingChangeQueue) Confirm(changeID, groupID string, response Patch) bool {
	for i, c := range q.changes {
		if c.ChangeID != changeID || c.GroupID != groupID {
			continue
		}
		confirmed := make(Patch, len(c.Patch))
		for k, v := range c.Patch {
			if rv, ok := response[k]; ok {
				v = rv
			}
			confirmed[k] = v
		}
		q.changes[i].Patch = Patch(Clone(confirmed))
		q.changes[i].Confirmed = true
		return true
	}
	return false
}

// Settle removes the confirmed changes for groupID that no open change
// precedes any more and returns their patches in queue order.
func (q *PendingChangeQueue) Settle(groupID string) []Patch {
	var settled []Patch
	open := false
	q.filter(func(c PendingChange) bool {
		if c.GroupID != groupID || open {
			return false
		}
		if !c.Confirmed {
			open = true
			return false
		}
		settled = append(settled, c.Patch)
		return true
	})
	return settled
}

// RemoveChange deletes every entry tagged changeID and returns the count.
func (q *PendingChangeQueue) RemoveChange(changeID string) int {
	return q.filter(func(c PendingChange) bool { return c.ChangeID == changeID })
}

// DropGroup deletes every entry for groupID and returns the count.
func (q *PendingChangeQueue) DropGroup(groupID string) int {
	return q.filter(func(c PendingChange) bool { return c.GroupID == groupID })
}

// Len returns the number of outstanding changes.
func (q *PendingChangeQueue) Len() int { return len(q.changes) }

// Clear drops everything.
func (q *PendingChangeQueue) Clear() { q.changes = nil }

// filter removes entries matching drop in place and returns how many went.
func (q *PendingChangeQueue) filter(drop func(PendingChange) bool) int {
	kept := q.changes[:0]
	removed := 0
	for _, c := range q.changes {
		if drop(c) {
			removed++
			continue
		}
		kept = append(kept, c)
	}
	// Release references held past the new length.
	for i := len(kept); i < len(q.changes); i++ {
		q.changes[i] = PendingChange{}
	}
	q.changes = kept
	return removed
}
