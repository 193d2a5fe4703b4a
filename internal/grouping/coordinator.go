// Package grouping drives the merge and unmerge workflows of one group:
// loading its merged fingerprints and similar issues, tracking which
// candidates are selected or busy, and delegating the resulting merge or
// unmerge to the API client.
package grouping

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"slices"
	"sync"

	"github.com/dusk-indust/triage/internal/api"
	"github.com/dusk-indust/triage/internal/logging"
	"github.com/dusk-indust/triage/internal/request"
	"github.com/dusk-indust/triage/internal/store"
	"golang.org/x/sync/errgroup"
)

// API is the part of *api.Client the coordinator uses.
type API interface {
	GetJSON(ctx context.Context, path string, query url.Values, out any) (*request.Result, error)
	Merge(ctx context.Context, p api.MergeParams) *request.Request
	Unmerge(ctx context.Context, p api.UnmergeParams) *request.Request
}

var (
	// ErrNothingSelected is returned by Merge and Unmerge with an empty selection.
	ErrNothingSelected = errors.New("grouping: nothing selected")
	// ErrAllSelected is returned by Unmerge when the selection would leave no
	// fingerprint in the group.
	ErrAllSelected = errors.New("grouping: cannot unmerge every fingerprint")
	// ErrInProgress is returned while a previous merge or unmerge is in flight.
	ErrInProgress = errors.New("grouping: operation already in progress")
	// ErrNotLoaded is returned before Fetch has named a group.
	ErrNotLoaded = errors.New("grouping: no group loaded")
)

// User-facing messages.
const (
	MsgUnmergeQueued = "Fingerprints successfully queued for unmerging."
	MsgUnmergeFailed = "Unable to queue selected fingerprints for unmerging."
	MsgMergeQueued   = "Issues successfully queued for merging."
)

// Policy holds the workflow rules that are configurable per deployment.
type Policy struct {
	// KeepOneUnmerged refuses any unmerge selection that would cover every
	// eligible fingerprint.
	KeepOneUnmerged bool
	// MinScore is the similarity threshold; see BelowThreshold.
	MinScore float64
}

// DefaultPolicy keeps one fingerprint and uses DefaultMinScore.
func DefaultPolicy() Policy {
	return Policy{KeepOneUnmerged: true, MinScore: DefaultMinScore}
}

// FetchParams names the group to work on. OrgID and ProjectID scope the
// merge request.
type FetchParams struct {
	GroupID   string
	OrgID     string
	ProjectID string
	// SimilarQuery is sent with the similar-issues request.
	SimilarQuery url.Values
}

// Snapshot is a point-in-time view of the coordinator. Slices are copies;
// the records inside them are shared and must not be modified.
type Snapshot struct {
	GroupID string
	Loading bool

	Merged     []Fingerprint
	MergedErr  error
	Similar    []SimilarItem
	Filtered   []SimilarItem
	SimilarErr error

	Unmerge          Arena
	UnmergeSelection []string
	UnmergeDisabled  bool
	CompareEnabled   bool
	AllCollapsed     bool

	Merge          Arena
	MergeSelection []string
	MergeDisabled  bool
	MergedParent   string
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithNotifier sets where user-facing messages go.
func WithNotifier(n store.Notifier) Option {
	return func(c *Coordinator) {
		c.notifier = n
	}
}

// WithLogger sets the coordinator's logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = l
	}
}

// Coordinator is safe for concurrent use.
type Coordinator struct {
	api      API
	policy   Policy
	notifier store.Notifier
	logger   *slog.Logger

	mu  sync.Mutex
	gen int

	params     FetchParams
	loading    bool
	merged     []Fingerprint
	mergedErr  error
	similar    []SimilarItem
	filtered   []SimilarItem
	similarErr error

	unmerge      Arena
	unmergeSel   []string
	unmerging    bool
	allCollapsed bool

	merge        Arena
	mergeSel     []string
	merging      bool
	mergedParent string

	subs    map[int]func(Snapshot)
	nextSub int
}

// NewCoordinator creates a coordinator. A zero MinScore falls back to
// DefaultMinScore.
func NewCoordinator(client API, policy Policy, opts ...Option) *Coordinator {
	if policy.MinScore == 0 {
		policy.MinScore = DefaultMinScore
	}
	c := &Coordinator{
		api:     client,
		policy:  policy,
		logger:  logging.NewDiscardLogger(),
		unmerge: NewArena(),
		merge:   NewArena(),
		subs:    make(map[int]func(Snapshot)),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.notifier == nil {
		c.notifier = store.LogNotifier{Logger: c.logger}
	}
	return c
}

// Subscribe registers fn to receive a snapshot after every transition.
func (c *Coordinator) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
}

// Snapshot returns the current state.
func (c *Coordinator) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Reset forgets the loaded group and all selections. Requests still in
// flight settle without touching the new state.
func (c *Coordinator) Reset() {
	c.mu.Lock()
	c.resetLocked()
	c.publishAndUnlock()
}

func (c *Coordinator) resetLocked() {
	c.gen++
	c.params = FetchParams{}
	c.loading = false
	c.merged, c.mergedErr = nil, nil
	c.similar, c.filtered, c.similarErr = nil, nil, nil
	c.unmerge, c.unmergeSel, c.unmerging, c.allCollapsed = NewArena(), nil, false, false
	c.merge, c.mergeSel, c.merging, c.mergedParent = NewArena(), nil, false, ""
}

// Fetch loads the merged fingerprints and the similar issues of p.GroupID in
// parallel. A failure of one list is recorded in the snapshot and does not
// prevent the other from loading; the returned error joins both failures.
func (c *Coordinator) Fetch(ctx context.Context, p FetchParams) error {
	c.mu.Lock()
	c.resetLocked()
	c.params = p
	c.loading = true
	gen := c.gen
	c.publishAndUnlock()

	var (
		merged            []Fingerprint
		similar, filtered []SimilarItem
		mergedErr         error
		similarErr        error
	)

	var g errgroup.Group
	g.Go(func() error {
		merged, mergedErr = c.fetchMerged(ctx, p.GroupID)
		return mergedErr
	})
	g.Go(func() error {
		similar, filtered, similarErr = c.fetchSimilar(ctx, p)
		return similarErr
	})
	if err := g.Wait(); err != nil {
		c.logger.Warn("grouping: fetch incomplete", "group", p.GroupID, "error", err)
	}

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return errors.Join(mergedErr, similarErr)
	}
	c.loading = false
	c.merged, c.mergedErr = merged, mergedErr
	c.similar, c.filtered, c.similarErr = similar, filtered, similarErr

	locked := make([]string, 0, len(merged))
	for _, fp := range merged {
		if fp.Locked() {
			locked = append(locked, fp.ID)
		}
	}
	c.unmerge = c.unmerge.Update(locked, func(st ItemState) ItemState {
		st.Busy = true
		return st
	})
	c.logger.Debug("grouping: fetched", "group", p.GroupID,
		"fingerprints", len(merged), "similar", len(similar), "filtered", len(filtered))
	c.publishAndUnlock()

	return errors.Join(mergedErr, similarErr)
}

func (c *Coordinator) fetchMerged(ctx context.Context, groupID string) ([]Fingerprint, error) {
	res, err := c.api.GetJSON(ctx, fmt.Sprintf("/issues/%s/hashes/", url.PathEscape(groupID)), nil, nil)
	if err != nil {
		return nil, err
	}
	return DecodeFingerprints(res.Body)
}

func (c *Coordinator) fetchSimilar(ctx context.Context, p FetchParams) ([]SimilarItem, []SimilarItem, error) {
	query := p.SimilarQuery
	if query == nil {
		query = url.Values{"limit": {"50"}}
	}
	res, err := c.api.GetJSON(ctx, fmt.Sprintf("/issues/%s/similar/", url.PathEscape(p.GroupID)), query, nil)
	if err != nil {
		return nil, nil, err
	}
	return DecodeSimilar(res.Body, c.policy.MinScore)
}

// ToggleMerge flips the selection of a similar issue. Unknown and busy
// candidates are left alone; the result reports whether anything changed.
func (c *Coordinator) ToggleMerge(id string) bool {
	c.mu.Lock()
	if !c.isCandidateLocked(id) || c.merge.Get(id).Busy {
		c.mu.Unlock()
		return false
	}

	checked := !slices.Contains(c.mergeSel, id)
	if checked {
		c.mergeSel = append(c.mergeSel, id)
	} else {
		c.mergeSel = slices.DeleteFunc(c.mergeSel, func(s string) bool { return s == id })
	}
	c.merge = c.merge.Update([]string{id}, func(st ItemState) ItemState {
		st.Checked = checked
		return st
	})
	c.publishAndUnlock()
	return true
}

// ToggleUnmerge flips the selection of a fingerprint. Unknown, busy and
// ineligible fingerprints are left alone, and with KeepOneUnmerged a
// selection that would cover every eligible fingerprint is refused.
func (c *Coordinator) ToggleUnmerge(fingerprint string) bool {
	c.mu.Lock()
	fp, ok := c.fingerprintLocked(fingerprint)
	if !ok || !fp.Eligible() || c.unmerge.Get(fingerprint).Busy {
		c.mu.Unlock()
		return false
	}

	checked := !slices.Contains(c.unmergeSel, fingerprint)
	if checked && c.policy.KeepOneUnmerged && len(c.unmergeSel)+1 >= c.selectableLocked() {
		c.mu.Unlock()
		return false
	}

	if checked {
		c.unmergeSel = append(c.unmergeSel, fingerprint)
	} else {
		c.unmergeSel = slices.DeleteFunc(c.unmergeSel, func(s string) bool { return s == fingerprint })
	}
	c.unmerge = c.unmerge.Update([]string{fingerprint}, func(st ItemState) ItemState {
		st.Checked = checked
		return st
	})
	c.publishAndUnlock()
	return true
}

// ToggleCollapse flips whether a fingerprint's children are hidden.
func (c *Coordinator) ToggleCollapse(fingerprint string) bool {
	c.mu.Lock()
	if _, ok := c.fingerprintLocked(fingerprint); !ok {
		c.mu.Unlock()
		return false
	}
	c.unmerge = c.unmerge.Update([]string{fingerprint}, func(st ItemState) ItemState {
		st.Collapsed = !st.Collapsed
		return st
	})
	c.publishAndUnlock()
	return true
}

// ToggleCollapseAll collapses every fingerprint, or expands every one if the
// last bulk toggle collapsed them.
func (c *Coordinator) ToggleCollapseAll() {
	c.mu.Lock()
	c.allCollapsed = !c.allCollapsed
	collapsed := c.allCollapsed
	ids := make([]string, 0, len(c.merged))
	for _, fp := range c.merged {
		ids = append(ids, fp.ID)
	}
	c.unmerge = c.unmerge.Update(ids, func(st ItemState) ItemState {
		st.Collapsed = collapsed
		return st
	})
	c.publishAndUnlock()
}

// IsAllUnmergedSelected reports whether the selection covers every eligible
// fingerprint that is not busy.
func (c *Coordinator) IsAllUnmergedSelected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.allUnmergedSelectedLocked()
}

// CompareEnabled reports whether exactly two fingerprints are selected.
func (c *Coordinator) CompareEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.unmergeSel) == 2
}

// Merge merges the selected similar issues into the loaded group. Selected
// rows are busy while the request is in flight; on success they stay busy and
// the selection is cleared, on failure they return to checked.
func (c *Coordinator) Merge(ctx context.Context) (api.MergeResult, error) {
	c.mu.Lock()
	switch {
	case c.params.GroupID == "":
		c.mu.Unlock()
		return api.MergeResult{}, ErrNotLoaded
	case c.merging:
		c.mu.Unlock()
		return api.MergeResult{}, ErrInProgress
	case len(c.mergeSel) == 0:
		c.mu.Unlock()
		return api.MergeResult{}, ErrNothingSelected
	}

	ids := slices.Clone(c.mergeSel)
	params := c.params
	gen := c.gen
	c.merging = true
	c.merge = c.merge.Update(ids, func(st ItemState) ItemState {
		st.Busy = true
		return st
	})
	c.publishAndUnlock()

	r := c.api.Merge(ctx, api.MergeParams{
		OrgID:     params.OrgID,
		ProjectID: params.ProjectID,
		ItemIDs:   append(slices.Clone(ids), params.GroupID),
	})

	type outcome struct {
		result api.MergeResult
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := r.Wait(context.Background())
		var result api.MergeResult
		if err == nil {
			result, err = api.DecodeMergeResult(res)
		}
		c.finishMerge(gen, ids, result, err)
		done <- outcome{result, err}
	}()

	select {
	case o := <-done:
		return o.result, o.err
	case <-ctx.Done():
		return api.MergeResult{}, ctx.Err()
	}
}

func (c *Coordinator) finishMerge(gen int, ids []string, result api.MergeResult, err error) {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}
	c.merging = false
	if err != nil {
		c.merge = c.merge.Update(ids, func(st ItemState) ItemState {
			st.Checked, st.Busy = true, false
			return st
		})
		c.logger.Warn("grouping: merge failed", "group", c.params.GroupID, "error", err)
		c.publishAndUnlock()
		return
	}

	c.merge = c.merge.Update(ids, func(st ItemState) ItemState {
		st.Checked, st.Busy = false, true
		return st
	})
	c.mergeSel = nil
	c.mergedParent = result.Parent
	c.publishAndUnlock()
	c.notifier.Success(MsgMergeQueued)
}

// Unmerge splits the selected fingerprints out of the loaded group. The
// selection must leave at least one eligible fingerprint behind when
// KeepOneUnmerged is set.
func (c *Coordinator) Unmerge(ctx context.Context) error {
	c.mu.Lock()
	switch {
	case c.params.GroupID == "":
		c.mu.Unlock()
		return ErrNotLoaded
	case c.unmerging:
		c.mu.Unlock()
		return ErrInProgress
	case len(c.unmergeSel) == 0:
		c.mu.Unlock()
		return ErrNothingSelected
	case c.allUnmergedSelectedLocked():
		c.mu.Unlock()
		return ErrAllSelected
	}

	fps := slices.Clone(c.unmergeSel)
	groupID := c.params.GroupID
	gen := c.gen
	c.unmerging = true
	c.unmerge = c.unmerge.Update(fps, func(st ItemState) ItemState {
		st.Busy = true
		return st
	})
	c.publishAndUnlock()

	r := c.api.Unmerge(ctx, api.UnmergeParams{GroupID: groupID, Fingerprints: fps})

	done := make(chan error, 1)
	go func() {
		_, err := r.Wait(context.Background())
		c.finishUnmerge(gen, fps, err)
		done <- err
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Coordinator) finishUnmerge(gen int, fps []string, err error) {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}
	c.unmerging = false
	if err != nil {
		c.unmerge = c.unmerge.Update(fps, func(st ItemState) ItemState {
			st.Checked, st.Busy = true, false
			return st
		})
		c.publishAndUnlock()
		c.notifier.Error(MsgUnmergeFailed)
		return
	}

	c.unmerge = c.unmerge.Update(fps, func(st ItemState) ItemState {
		st.Checked, st.Busy = false, true
		return st
	})
	c.unmergeSel = nil
	c.publishAndUnlock()
	c.notifier.Success(MsgUnmergeQueued)
}

// selectableLocked counts eligible fingerprints that are not busy.
func (c *Coordinator) selectableLocked() int {
	n := 0
	for _, fp := range c.merged {
		if fp.Eligible() && !c.unmerge.Get(fp.ID).Busy {
			n++
		}
	}
	return n
}

func (c *Coordinator) allUnmergedSelectedLocked() bool {
	if !c.policy.KeepOneUnmerged {
		return false
	}
	return len(c.unmergeSel) > 0 && len(c.unmergeSel) >= c.selectableLocked()
}

func (c *Coordinator) fingerprintLocked(id string) (Fingerprint, bool) {
	for _, fp := range c.merged {
		if fp.ID == id {
			return fp, true
		}
	}
	return Fingerprint{}, false
}

func (c *Coordinator) isCandidateLocked(id string) bool {
	for _, list := range [][]SimilarItem{c.similar, c.filtered} {
		for _, item := range list {
			if item.ID() == id {
				return true
			}
		}
	}
	return false
}

func (c *Coordinator) snapshotLocked() Snapshot {
	return Snapshot{
		GroupID: c.params.GroupID,
		Loading: c.loading,

		Merged:     slices.Clone(c.merged),
		MergedErr:  c.mergedErr,
		Similar:    slices.Clone(c.similar),
		Filtered:   slices.Clone(c.filtered),
		SimilarErr: c.similarErr,

		Unmerge:          c.unmerge,
		UnmergeSelection: slices.Clone(c.unmergeSel),
		UnmergeDisabled:  c.unmerging || len(c.unmergeSel) == 0 || c.allUnmergedSelectedLocked(),
		CompareEnabled:   len(c.unmergeSel) == 2,
		AllCollapsed:     c.allCollapsed,

		Merge:          c.merge,
		MergeSelection: slices.Clone(c.mergeSel),
		MergeDisabled:  c.merging || len(c.mergeSel) == 0,
		MergedParent:   c.mergedParent,
	}
}

// publishAndUnlock takes a snapshot, releases c.mu and delivers the snapshot
// to every subscriber. Must be called with c.mu held.
func (c *Coordinator) publishAndUnlock() {
	snap := c.snapshotLocked()
	subs := make([]func(Snapshot), 0, len(c.subs))
	for _, fn := range c.subs {
		subs = append(subs, fn)
	}
	c.mu.Unlock()

	for _, fn := range subs {
		fn(snap)
	}
}
