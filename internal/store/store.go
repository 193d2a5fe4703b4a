// Package store holds the client-side table of issue groups together with an
// overlay of optimistic, not yet confirmed changes.
//
// All writes go through Dispatch. Reads return copies computed from the
// confirmed record plus its pending patches, so callers can never reach into
// store-internal state.
package store

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/dusk-indust/triage/internal/logging"
)

// Store is a concurrency-safe table of groups keyed by id with a separate
// slice keeping insertion order.
type Store struct {
	mu       sync.RWMutex
	items    map[string]Group
	orderIDs []string
	pending  *PendingChangeQueue
	statuses map[string]map[Op]int
	inflight map[string]inflightOp // keyed by change id

	subs    map[int]func(Change)
	nextSub int
	later   []func() // collaborator calls deferred until the lock is released

	notifier Notifier
	reporter Reporter
	logger   *slog.Logger
}

// inflightOp remembers what a started operation touched so that its
// resolution clears exactly that.
type inflightOp struct {
	op  Op
	ids []string
}

// Option configures a Store.
type Option func(*Store)

// WithNotifier sets the collaborator that shows user-facing messages.
func WithNotifier(n Notifier) Option {
	return func(s *Store) { s.notifier = n }
}

// WithReporter sets the collaborator that receives unexpected input.
func WithReporter(r Reporter) Option {
	return func(s *Store) { s.reporter = r }
}

// WithLogger sets the store's logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New returns an empty Store ready for use.
func New(opts ...Option) *Store {
	s := &Store{
		subs:   make(map[int]func(Change)),
		logger: logging.NewDiscardLogger(),
	}
	s.resetLocked()
	for _, opt := range opts {
		opt(s)
	}
	if s.notifier == nil {
		s.notifier = LogNotifier{Logger: s.logger}
	}
	if s.reporter == nil {
		s.reporter = LogReporter{Logger: s.logger}
	}
	return s
}

// Reset drops every group, pending change, status and in-flight record.
// Subscribers stay registered.
func (s *Store) Reset() {
	s.mu.Lock()
	s.resetLocked()
	s.mu.Unlock()
}

func (s *Store) resetLocked() {
	s.items = make(map[string]Group)
	s.orderIDs = nil
	s.pending = NewPendingChangeQueue()
	s.statuses = make(map[string]map[Op]int)
	s.inflight = make(map[string]inflightOp)
}

// Subscribe registers fn to receive a Change after every transition that
// touched at least one group. fn runs outside the store lock and may read the
// store. The returned function unregisters it.
func (s *Store) Subscribe(fn func(Change)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// LoadInitialData replaces the confirmed table with items.
func (s *Store) LoadInitialData(items []Group) []string {
	return s.Dispatch(Load{Items: items})
}

// Add folds items into the confirmed table.
func (s *Store) Add(items ...Group) []string {
	return s.Dispatch(Add{Items: items})
}

// Remove deletes the group with the given id.
func (s *Store) Remove(id string) []string {
	return s.Dispatch(Remove{ID: id})
}

// Dispatch applies cmd and returns the ids it affected. Subscribers and the
// notifier are called after the lock is released.
func (s *Store) Dispatch(cmd Command) []string {
	s.mu.Lock()
	ids := s.apply(cmd)
	notes := s.later
	s.later = nil
	var subs []func(Change)
	if len(ids) > 0 {
		subs = make([]func(Change), 0, len(s.subs))
		for _, fn := range s.subs {
			subs = append(subs, fn)
		}
	}
	s.mu.Unlock()

	s.logger.Debug("store: dispatch", "command", fmt.Sprintf("%T", cmd), "ids", len(ids))

	for _, fn := range notes {
		fn()
	}
	for _, fn := range subs {
		fn(Change{IDs: append([]string(nil), ids...)})
	}
	return ids
}

// apply switches over the command kinds. Must be called with s.mu held.
func (s *Store) apply(cmd Command) []string {
	switch c := cmd.(type) {
	case Load:
		s.resetLocked()
		return s.addLocked(c.Items)

	case Add:
		return s.addLocked(c.Items)

	case Remove:
		if !s.removeLocked(c.ID) {
			return nil
		}
		return []string{c.ID}

	case AssignStart:
		return s.beginLocked(c.ChangeID, OpAssign, []string{c.ID}, c.Patch)

	case AssignSuccess:
		cleared, _ := s.finishLocked(c.ChangeID, OpAssign, Patch(c.Response), true)
		folded := s.foldLocked([]string{c.ID}, Patch(c.Response))
		s.settleLocked(cleared)
		return union(cleared, folded)

	case AssignError:
		cleared, ok := s.finishLocked(c.ChangeID, OpAssign, nil, false)
		if !ok {
			return nil
		}
		s.settleLocked(cleared)
		s.notifyLocked(c.Silent, MsgAssignFailed)
		return cleared

	case UpdateStart:
		return s.beginLocked(c.ChangeID, OpUpdate, s.resolveLocked(c.IDs), c.Patch)

	case UpdateSuccess:
		cleared, _ := s.finishLocked(c.ChangeID, OpUpdate, c.Response, true)
		folded := s.foldLocked(s.resolveLocked(c.IDs), c.Response)
		s.settleLocked(cleared)
		return union(cleared, folded)

	case UpdateError:
		cleared, ok := s.finishLocked(c.ChangeID, OpUpdate, nil, false)
		if !ok {
			return nil
		}
		s.settleLocked(cleared)
		s.notifyLocked(c.Silent, MsgUpdateFailed)
		return cleared

	case DeleteStart:
		return s.beginLocked(c.ChangeID, OpDelete, s.resolveLocked(c.IDs), nil)

	case DeleteSuccess:
		cleared, _ := s.finishLocked(c.ChangeID, OpDelete, nil, true)
		var removed []string
		for _, id := range s.resolveLocked(c.IDs) {
			if s.removeLocked(id) {
				removed = append(removed, id)
			}
		}
		return union(cleared, removed)

	case DeleteError:
		cleared, ok := s.finishLocked(c.ChangeID, OpDelete, nil, false)
		if !ok {
			return nil
		}
		s.notifyLocked(c.Silent, MsgDeleteFailed)
		return cleared

	case MergeStart:
		return s.beginLocked(c.ChangeID, OpMerge, s.resolveLocked(c.IDs), nil)

	case MergeSuccess:
		cleared, _ := s.finishLocked(c.ChangeID, OpMerge, nil, true)
		if c.Parent == "" {
			err := fmt.Errorf("store: merge %s succeeded without a parent id", c.ChangeID)
			s.afterUnlock(func() { s.reporter.Report(err, "change_id", c.ChangeID) })
			return cleared
		}
		var removed []string
		for _, id := range s.resolveLocked(c.IDs) {
			if id != c.Parent && s.removeLocked(id) {
				removed = append(removed, id)
			}
		}
		affected := union(cleared, removed)
		if _, ok := s.items[c.Parent]; ok {
			affected = union(affected, []string{c.Parent})
		}
		return affected

	case MergeError:
		cleared, ok := s.finishLocked(c.ChangeID, OpMerge, nil, false)
		if !ok {
			return nil
		}
		s.notifyLocked(c.Silent, MsgMergeFailed)
		return cleared

	default:
		err := fmt.Errorf("store: unknown command %T", cmd)
		s.afterUnlock(func() { s.reporter.Report(err) })
		return nil
	}
}

// notifyLocked queues a failure notification unless silent.
func (s *Store) notifyLocked(silent bool, message string) {
	if silent {
		return
	}
	s.afterUnlock(func() { s.notifier.Error(message) })
}

// afterUnlock queues a collaborator call to run once the lock is released.
func (s *Store) afterUnlock(fn func()) {
	s.later = append(s.later, fn)
}

// addLocked merges each item into any existing record with the same id, or
// appends it. Items without an id are reported and skipped.
func (s *Store) addLocked(items []Group) []string {
	ids := make([]string, 0, len(items))
	seen := make(map[string]bool, len(items))
	for _, item := range items {
		id := item.ID()
		if id == "" {
			keys := len(item)
			s.afterUnlock(func() { s.reporter.Report(fmt.Errorf("store: group without id"), "keys", keys) })
			continue
		}
		if existing, ok := s.items[id]; ok {
			s.items[id] = Group(Merge(existing, item))
		} else {
			s.items[id] = Group(Clone(item))
			s.orderIDs = append(s.orderIDs, id)
		}
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids
}

// removeLocked deletes id together with its pending changes and statuses.
// In-flight operations forget id too, so their late resolution cannot touch
// a group re-added under the same id.
func (s *Store) removeLocked(id string) bool {
	if _, ok := s.items[id]; !ok {
		return false
	}
	delete(s.items, id)
	delete(s.statuses, id)
	s.pending.DropGroup(id)
	for changeID, in := range s.inflight {
		if slices.Contains(in.ids, id) {
			in.ids = slices.DeleteFunc(in.ids, func(x string) bool { return x == id })
			s.inflight[changeID] = in
		}
	}
	for i, oid := range s.orderIDs {
		if oid == id {
			s.orderIDs = append(s.orderIDs[:i], s.orderIDs[i+1:]...)
			break
		}
	}
	return true
}

// resolveLocked returns ids, or every known id when ids is nil. The set is
// captured now so later loads do not change what an operation targets.
func (s *Store) resolveLocked(ids []string) []string {
	if ids == nil {
		return append([]string(nil), s.orderIDs...)
	}
	return ids
}

// beginLocked records changeID as in flight for the known subset of ids,
// adds the op status and, when patch is non-nil, queues a pending change.
func (s *Store) beginLocked(changeID string, op Op, ids []string, patch Patch) []string {
	if _, dup := s.inflight[changeID]; dup {
		err := fmt.Errorf("store: change %s already in flight", changeID)
		s.afterUnlock(func() { s.reporter.Report(err, "op", op.String()) })
		return nil
	}

	known := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := s.items[id]; !ok {
			continue
		}
		known = append(known, id)
		counts := s.statuses[id]
		if counts == nil {
			counts = make(map[Op]int)
			s.statuses[id] = counts
		}
		counts[op]++
		if patch != nil {
			s.pending.Push(changeID, id, patch)
		}
	}
	s.inflight[changeID] = inflightOp{op: op, ids: known}
	return known
}

// finishLocked resolves changeID exactly once: it drops the op status and the
// pending changes tagged changeID, returning the ids that still exist. On
// success a change with an earlier change still open for the same group is
// kept in place as confirmed, carrying the response values, instead of being
// dropped. A second call, or a call for an op that was never started, reports
// ok=false and changes nothing.
func (s *Store) finishLocked(changeID string, op Op, response Patch, success bool) (ids []string, ok bool) {
	in, ok := s.inflight[changeID]
	if !ok || in.op != op {
		return nil, false
	}
	delete(s.inflight, changeID)

	for _, id := range in.ids {
		if counts := s.statuses[id]; counts != nil && counts[op] > 0 {
			counts[op]--
			if counts[op] == 0 {
				delete(counts, op)
			}
			if len(counts) == 0 {
				delete(s.statuses, id)
			}
		}
		if success && s.pending.OpenBefore(changeID, id) {
			s.pending.Confirm(changeID, id, response)
		} else {
			s.pending.Remove(changeID, id)
		}
		if _, exists := s.items[id]; exists {
			ids = append(ids, id)
		}
	}
	return ids, true
}

// settleLocked folds confirmed changes that are no longer preceded by an open
// change into the confirmed record, in queue order.
func (s *Store) settleLocked(ids []string) {
	for _, id := range ids {
		for _, patch := range s.pending.Settle(id) {
			if existing, ok := s.items[id]; ok {
				s.items[id] = Group(Merge(existing, patch))
			}
		}
	}
}

// foldLocked merges the authoritative response into each existing id.
func (s *Store) foldLocked(ids []string, response Patch) []string {
	var folded []string
	for _, id := range ids {
		existing, ok := s.items[id]
		if !ok {
			continue
		}
		if response != nil {
			s.items[id] = Group(Merge(existing, response))
		}
		folded = append(folded, id)
	}
	return folded
}

// Get returns the effective view of a group: the confirmed record merged with
// its pending changes in dispatch order. The result is a fresh copy.
func (s *Store) Get(id string) (Group, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.items[id]
	if !ok {
		return nil, false
	}
	return effective(g, s.pending.ForGroup(id)), true
}

// GetAllItems returns the effective view of every group in insertion order.
func (s *Store) GetAllItems() []Group {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byID := s.pending.GroupedByID()
	out := make([]Group, 0, len(s.orderIDs))
	for _, id := range s.orderIDs {
		out = append(out, effective(s.items[id], byID[id]))
	}
	return out
}

// Confirmed returns a copy of the confirmed record without pending changes.
func (s *Store) Confirmed(id string) (Group, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.items[id]
	if !ok {
		return nil, false
	}
	return Group(Clone(g)), true
}

// Status returns the operations currently in flight for id.
func (s *Store) Status(id string) StatusSet {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var set StatusSet
	for op, n := range s.statuses[id] {
		if n > 0 {
			set |= StatusSet(op)
		}
	}
	return set
}

// HasStatus reports whether op is in flight for id.
func (s *Store) HasStatus(id string, op Op) bool {
	return s.Status(id).Has(op)
}

// PendingFor returns copies of the pending changes for id in order.
func (s *Store) PendingFor(id string) []PendingChange {
	s.mu.RLock()
	defer s.mu.RUnlock()

	changes := s.pending.ForGroup(id)
	for i := range changes {
		changes[i].Patch = Patch(Clone(changes[i].Patch))
	}
	return changes
}

// PendingCount returns the number of outstanding pending changes.
func (s *Store) PendingCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pending.Len()
}

// InFlight reports whether changeID has started and not yet resolved.
func (s *Store) InFlight(changeID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.inflight[changeID]
	return ok
}

// IDs returns the known group ids in insertion order.
func (s *Store) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.orderIDs...)
}

// Len returns the number of confirmed groups.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.orderIDs)
}

// effective overlays changes on g without touching g.
func effective(g Group, changes []PendingChange) Group {
	if len(changes) == 0 {
		return Group(Clone(g))
	}
	out := map[string]any(g)
	for _, c := range changes {
		out = Merge(out, c.Patch)
	}
	return Group(out)
}

// union returns a followed by the members of b not already in a.
func union(a, b []string) []string {
	if len(b) == 0 {
		return a
	}
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, id := range a {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	for _, id := range b {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
