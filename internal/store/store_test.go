package store

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder captures notifier and reporter calls.
type recorder struct {
	mu        sync.Mutex
	errors    []string
	successes []string
	reports   []error
}

func (r *recorder) Error(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, msg)
}

func (r *recorder) Success(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.successes = append(r.successes, msg)
}

func (r *recorder) Report(err error, _ ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, err)
}

func newTestStore(t *testing.T) (*Store, *recorder) {
	t.Helper()
	rec := &recorder{}
	return New(WithNotifier(rec), WithReporter(rec)), rec
}

func g(id string, kv ...any) Group {
	out := Group{"id": id}
	for i := 0; i+1 < len(kv); i += 2 {
		out[kv[i].(string)] = kv[i+1]
	}
	return out
}

// ---------------------------------------------------------------------------
// Scenarios
// ---------------------------------------------------------------------------

// TestStore_UpdateThenGetShowsOptimisticValue verifies Get shows a started
// update.
func TestStore_UpdateThenGetShowsOptimisticValue(t *testing.T) {
	s, _ := newTestStore(t)
	s.LoadInitialData([]Group{g("1", "v", 1), g("2", "v", 2)})

	s.Dispatch(UpdateStart{ChangeID: "c1", IDs: []string{"1"}, Patch: Patch{"v": 9}})

	got, ok := s.Get("1")
	require.True(t, ok)
	assert.Equal(t, Group{"id": "1", "v": 9}, got)
	assert.True(t, s.HasStatus("1", OpUpdate))

	other, _ := s.Get("2")
	assert.Equal(t, Group{"id": "2", "v": 2}, other)
}

// TestStore_UpdateErrorRollsBack verifies an error drops the patch and
// notifies.
func TestStore_UpdateErrorRollsBack(t *testing.T) {
	s, rec := newTestStore(t)
	s.LoadInitialData([]Group{g("1", "v", 1), g("2", "v", 2)})

	s.Dispatch(UpdateStart{ChangeID: "c1", IDs: []string{"1"}, Patch: Patch{"v": 9}})
	ids := s.Dispatch(UpdateError{ChangeID: "c1", IDs: []string{"1"}, Err: errors.New("500")})

	assert.Equal(t, []string{"1"}, ids)
	got, _ := s.Get("1")
	assert.Equal(t, Group{"id": "1", "v": 1}, got)
	assert.True(t, s.Status("1").Empty())
	assert.Zero(t, s.PendingCount())
	assert.Equal(t, []string{MsgUpdateFailed}, rec.errors)
}

// TestStore_UpdateErrorSilent verifies Silent suppresses the update
// notification.
func TestStore_UpdateErrorSilent(t *testing.T) {
	s, rec := newTestStore(t)
	s.LoadInitialData([]Group{g("1", "v", 1)})

	s.Dispatch(UpdateStart{ChangeID: "c1", IDs: []string{"1"}, Patch: Patch{"v": 9}})
	s.Dispatch(UpdateError{ChangeID: "c1", IDs: []string{"1"}, Err: errors.New("500"), Silent: true})

	assert.Empty(t, rec.errors)
	got, _ := s.Get("1")
	assert.Equal(t, 1, got["v"])
}

// TestStore_RollbackIsIdempotent verifies a repeated UpdateError changes
// nothing.
func TestStore_RollbackIsIdempotent(t *testing.T) {
	s, rec := newTestStore(t)
	s.LoadInitialData([]Group{g("1", "v", 1)})

	var changes []Change
	s.Subscribe(func(c Change) { changes = append(changes, c) })

	s.Dispatch(UpdateStart{ChangeID: "c1", IDs: []string{"1"}, Patch: Patch{"v": 9}})
	first := s.Dispatch(UpdateError{ChangeID: "c1", IDs: []string{"1"}, Err: errors.New("x")})
	second := s.Dispatch(UpdateError{ChangeID: "c1", IDs: []string{"1"}, Err: errors.New("x")})

	assert.Equal(t, []string{"1"}, first)
	assert.Nil(t, second)
	assert.Len(t, rec.errors, 1, "notification fires once")
	assert.Len(t, changes, 2, "start + first rollback only")

	got, _ := s.Get("1")
	assert.Equal(t, Group{"id": "1", "v": 1}, got)
}

// TestStore_UpdateSuccessRoundTrip verifies success folds the response and
// clears the status.
func TestStore_UpdateSuccessRoundTrip(t *testing.T) {
	s, _ := newTestStore(t)
	s.LoadInitialData([]Group{g("1", "v", 1, "title", "old", "meta", map[string]any{"a": 1, "b": 2})})

	s.Dispatch(UpdateStart{ChangeID: "c1", IDs: []string{"1"}, Patch: Patch{"v": 9}})
	response := Patch{"v": 10, "meta": map[string]any{"b": 3}}
	s.Dispatch(UpdateSuccess{ChangeID: "c1", IDs: []string{"1"}, Response: response})

	got, _ := s.Get("1")
	assert.Equal(t, Group{
		"id":    "1",
		"v":     10,
		"title": "old",
		"meta":  map[string]any{"a": 1, "b": 3},
	}, got)
	assert.Empty(t, s.PendingFor("1"))
	assert.True(t, s.Status("1").Empty())
	assert.False(t, s.InFlight("c1"))
}

// TestStore_MergeSuccessCollapsesIntoParent verifies every merged group but the
// parent is removed.
func TestStore_MergeSuccessCollapsesIntoParent(t *testing.T) {
	s, _ := newTestStore(t)
	s.LoadInitialData([]Group{g("1"), g("2"), g("3"), g("4")})

	s.Dispatch(MergeStart{ChangeID: "m1", IDs: []string{"1", "2", "3"}})
	for _, id := range []string{"1", "2", "3"} {
		assert.True(t, s.HasStatus(id, OpMerge), id)
	}

	s.Dispatch(MergeSuccess{ChangeID: "m1", IDs: []string{"1", "2", "3"}, Parent: "1"})

	assert.Equal(t, []string{"1", "4"}, s.IDs())
	_, ok := s.Get("2")
	assert.False(t, ok)
	_, ok = s.Get("3")
	assert.False(t, ok)
	assert.True(t, s.Status("1").Empty())
}

// TestStore_MergeSuccessWithoutParentIsReported verifies a parentless success
// is reported and keeps all groups.
func TestStore_MergeSuccessWithoutParentIsReported(t *testing.T) {
	s, rec := newTestStore(t)
	s.LoadInitialData([]Group{g("1"), g("2")})

	s.Dispatch(MergeStart{ChangeID: "m1", IDs: []string{"1", "2"}})
	s.Dispatch(MergeSuccess{ChangeID: "m1", IDs: []string{"1", "2"}})

	assert.Equal(t, []string{"1", "2"}, s.IDs(), "nothing removed")
	assert.True(t, s.Status("1").Empty())
	require.Len(t, rec.reports, 1)
}

// TestStore_MergeErrorClearsStatus verifies a merge error clears the status and
// notifies.
func TestStore_MergeErrorClearsStatus(t *testing.T) {
	s, rec := newTestStore(t)
	s.LoadInitialData([]Group{g("1"), g("2")})

	s.Dispatch(MergeStart{ChangeID: "m1", IDs: []string{"1", "2"}})
	s.Dispatch(MergeError{ChangeID: "m1", IDs: []string{"1", "2"}, Err: errors.New("x")})

	assert.True(t, s.Status("1").Empty())
	assert.True(t, s.Status("2").Empty())
	assert.Equal(t, []string{MsgMergeFailed}, rec.errors)
	assert.Equal(t, 2, s.Len())
}

// TestStore_DeleteLifecycle covers a delete from start to removal.
func TestStore_DeleteLifecycle(t *testing.T) {
	s, rec := newTestStore(t)
	s.LoadInitialData([]Group{g("1"), g("2"), g("3")})

	s.Dispatch(UpdateStart{ChangeID: "u1", IDs: []string{"2"}, Patch: Patch{"status": "resolved"}})
	s.Dispatch(DeleteStart{ChangeID: "d1", IDs: []string{"2", "3"}})
	assert.True(t, s.HasStatus("2", OpDelete))

	s.Dispatch(DeleteSuccess{ChangeID: "d1", IDs: []string{"2", "3"}})
	assert.Equal(t, []string{"1"}, s.IDs())
	assert.Zero(t, s.PendingCount(), "pending changes of deleted groups are dropped")

	// The update resolving afterwards finds nothing to touch.
	ids := s.Dispatch(UpdateError{ChangeID: "u1", IDs: []string{"2"}, Err: errors.New("gone")})
	assert.Empty(t, ids)
	assert.Equal(t, []string{MsgUpdateFailed}, rec.errors)
}

// TestStore_DeleteError verifies a failed delete keeps the group.
func TestStore_DeleteError(t *testing.T) {
	s, rec := newTestStore(t)
	s.LoadInitialData([]Group{g("1")})

	s.Dispatch(DeleteStart{ChangeID: "d1", IDs: []string{"1"}})
	s.Dispatch(DeleteError{ChangeID: "d1", IDs: []string{"1"}, Err: errors.New("x")})

	assert.Equal(t, 1, s.Len())
	assert.True(t, s.Status("1").Empty())
	assert.Equal(t, []string{MsgDeleteFailed}, rec.errors)
}

// TestStore_AssignLifecycle covers an assignment from start to confirmed
// response.
func TestStore_AssignLifecycle(t *testing.T) {
	s, rec := newTestStore(t)
	s.LoadInitialData([]Group{g("1", "assignedTo", nil)})

	s.Dispatch(AssignStart{ChangeID: "a1", ID: "1", Patch: Patch{"assignedTo": "jane"}})
	got, _ := s.Get("1")
	assert.Equal(t, "jane", got["assignedTo"])
	assert.True(t, s.HasStatus("1", OpAssign))

	s.Dispatch(AssignSuccess{ChangeID: "a1", ID: "1", Response: Group{"id": "1", "assignedTo": map[string]any{"type": "user", "id": "7"}}})
	got, _ = s.Get("1")
	assert.Equal(t, map[string]any{"type": "user", "id": "7"}, got["assignedTo"])
	assert.True(t, s.Status("1").Empty())

	s.Dispatch(AssignStart{ChangeID: "a2", ID: "1", Patch: Patch{"assignedTo": "bob"}})
	s.Dispatch(AssignError{ChangeID: "a2", ID: "1", Err: errors.New("x")})
	got, _ = s.Get("1")
	assert.Equal(t, map[string]any{"type": "user", "id": "7"}, got["assignedTo"])
	assert.Equal(t, []string{MsgAssignFailed}, rec.errors)
}

// ---------------------------------------------------------------------------
// Ordering and isolation
// ---------------------------------------------------------------------------

// TestStore_LaterDispatchShadowsEarlier verifies pending patches overlay in
// dispatch order.
func TestStore_LaterDispatchShadowsEarlier(t *testing.T) {
	s, _ := newTestStore(t)
	s.LoadInitialData([]Group{g("1", "v", 0, "w", 0)})

	s.Dispatch(UpdateStart{ChangeID: "c1", IDs: []string{"1"}, Patch: Patch{"v": 1, "w": 1}})
	s.Dispatch(UpdateStart{ChangeID: "c2", IDs: []string{"1"}, Patch: Patch{"v": 2}})

	got, _ := s.Get("1")
	assert.Equal(t, 2, got["v"])
	assert.Equal(t, 1, got["w"])

	// Resolving c2 removes only c2's change; c1 stays pending.
	s.Dispatch(UpdateError{ChangeID: "c2", IDs: []string{"1"}, Err: errors.New("x"), Silent: true})
	pending := s.PendingFor("1")
	require.Len(t, pending, 1)
	assert.Equal(t, "c1", pending[0].ChangeID)
	assert.True(t, s.HasStatus("1", OpUpdate), "c1 still in flight")

	s.Dispatch(UpdateError{ChangeID: "c1", IDs: []string{"1"}, Err: errors.New("x"), Silent: true})
	assert.True(t, s.Status("1").Empty())
}

// TestStore_LaterSuccessKeepsShadowingOpenEarlierChange verifies that a
// later-dispatched update which succeeds first still wins over an earlier
// update that is pending.
func TestStore_LaterSuccessKeepsShadowingOpenEarlierChange(t *testing.T) {
	s, _ := newTestStore(t)
	s.LoadInitialData([]Group{g("1", "v", 0, "w", 0)})

	s.Dispatch(UpdateStart{ChangeID: "c1", IDs: []string{"1"}, Patch: Patch{"v": 1, "w": 1}})
	s.Dispatch(UpdateStart{ChangeID: "c2", IDs: []string{"1"}, Patch: Patch{"v": 2}})
	s.Dispatch(UpdateSuccess{ChangeID: "c2", IDs: []string{"1"}, Response: Patch{"v": 2}})

	got, _ := s.Get("1")
	assert.Equal(t, 2, got["v"])
	assert.Equal(t, 1, got["w"])
	assert.False(t, s.InFlight("c2"))
	assert.True(t, s.HasStatus("1", OpUpdate), "c1 still in flight")

	// c1 confirms last; its response must not undo c2.
	s.Dispatch(UpdateSuccess{ChangeID: "c1", IDs: []string{"1"}, Response: Patch{"v": 1, "w": 1}})

	got, _ = s.Get("1")
	assert.Equal(t, 2, got["v"])
	assert.Equal(t, 1, got["w"])
	confirmed, _ := s.Confirmed("1")
	assert.Equal(t, g("1", "v", 2, "w", 1), confirmed)
	assert.Zero(t, s.PendingCount())
	assert.True(t, s.Status("1").Empty())
}

// TestStore_LaterSuccessSurvivesEarlierRollback verifies that rolling back
// an earlier update leaves the value confirmed by a later one.
func TestStore_LaterSuccessSurvivesEarlierRollback(t *testing.T) {
	s, rec := newTestStore(t)
	s.LoadInitialData([]Group{g("1", "v", 0, "w", 0)})

	s.Dispatch(UpdateStart{ChangeID: "c1", IDs: []string{"1"}, Patch: Patch{"v": 1, "w": 1}})
	s.Dispatch(UpdateStart{ChangeID: "c2", IDs: []string{"1"}, Patch: Patch{"v": 2}})
	s.Dispatch(UpdateSuccess{ChangeID: "c2", IDs: []string{"1"}, Response: Patch{"v": 2}})
	s.Dispatch(UpdateError{ChangeID: "c1", IDs: []string{"1"}, Err: errors.New("boom")})

	got, _ := s.Get("1")
	assert.Equal(t, g("1", "v", 2, "w", 0), got)
	assert.Zero(t, s.PendingCount())
	assert.Equal(t, []string{MsgUpdateFailed}, rec.errors)
}

// TestStore_LaterAssignSuccessShadowsEarlierAssign verifies the same
// ordering for assignments, where the response is the whole group.
func TestStore_LaterAssignSuccessShadowsEarlierAssign(t *testing.T) {
	s, _ := newTestStore(t)
	s.LoadInitialData([]Group{g("1", "assignedTo", nil, "status", "unresolved")})

	s.Dispatch(UpdateStart{ChangeID: "u1", IDs: []string{"1"}, Patch: Patch{"status": "resolved"}})
	s.Dispatch(AssignStart{ChangeID: "a1", ID: "1", Patch: Patch{"assignedTo": "alice"}})
	s.Dispatch(AssignStart{ChangeID: "a2", ID: "1", Patch: Patch{"assignedTo": "bob"}})
	s.Dispatch(AssignSuccess{ChangeID: "a2", ID: "1",
		Response: Group{"id": "1", "assignedTo": "bob", "status": "unresolved"}})

	got, _ := s.Get("1")
	assert.Equal(t, "bob", got["assignedTo"])
	assert.Equal(t, "resolved", got["status"], "the open update still overlays the full response")

	s.Dispatch(AssignSuccess{ChangeID: "a1", ID: "1",
		Response: Group{"id": "1", "assignedTo": "alice", "status": "unresolved"}})
	got, _ = s.Get("1")
	assert.Equal(t, "bob", got["assignedTo"])

	s.Dispatch(UpdateSuccess{ChangeID: "u1", IDs: []string{"1"}, Response: Patch{"status": "resolved"}})
	got, _ = s.Get("1")
	assert.Equal(t, g("1", "assignedTo", "bob", "status", "resolved"), got)
	assert.Zero(t, s.PendingCount())
}

// TestStore_StaleChangeAfterRemoveAndReAdd verifies that a change started
// before a group was removed cannot clear the status of a change started
// after the group came back.
func TestStore_StaleChangeAfterRemoveAndReAdd(t *testing.T) {
	s, _ := newTestStore(t)
	s.LoadInitialData([]Group{g("1", "v", 0)})

	s.Dispatch(UpdateStart{ChangeID: "old", IDs: []string{"1"}, Patch: Patch{"v": 1}})
	s.Remove("1")
	s.Add(g("1", "v", 0))
	s.Dispatch(UpdateStart{ChangeID: "new", IDs: []string{"1"}, Patch: Patch{"v": 2}})

	cleared := s.Dispatch(UpdateError{ChangeID: "old", IDs: []string{"1"}, Err: errors.New("x"), Silent: true})
	assert.Empty(t, cleared)
	assert.True(t, s.InFlight("new"))
	assert.True(t, s.HasStatus("1", OpUpdate), "new change keeps its status")
	require.Len(t, s.PendingFor("1"), 1)

	got, _ := s.Get("1")
	assert.Equal(t, 2, got["v"])

	s.Dispatch(UpdateSuccess{ChangeID: "new", IDs: []string{"1"}, Response: Patch{"v": 2}})
	assert.True(t, s.Status("1").Empty())
	assert.Zero(t, s.PendingCount())
}

// TestStore_GetNeverMutatesConfirmed verifies mutating a Get result leaves the
// confirmed record alone.
func TestStore_GetNeverMutatesConfirmed(t *testing.T) {
	s, _ := newTestStore(t)
	s.LoadInitialData([]Group{g("1", "meta", map[string]any{"a": 1}, "tags", []any{"x"})})
	s.Dispatch(UpdateStart{ChangeID: "c1", IDs: []string{"1"}, Patch: Patch{"meta": map[string]any{"b": 2}}})

	got, _ := s.Get("1")
	got["meta"].(map[string]any)["a"] = 99
	got["tags"].([]any)[0] = "mutated"

	confirmed, _ := s.Confirmed("1")
	assert.Equal(t, map[string]any{"a": 1}, confirmed["meta"])
	assert.Equal(t, []any{"x"}, confirmed["tags"])

	again, _ := s.Get("1")
	assert.Equal(t, map[string]any{"a": 1, "b": 2}, again["meta"])
}

// TestStore_InputItemsAreCopied verifies loaded items are copied.
func TestStore_InputItemsAreCopied(t *testing.T) {
	s, _ := newTestStore(t)
	item := g("1", "v", 1)
	s.LoadInitialData([]Group{item})
	item["v"] = 2

	got, _ := s.Get("1")
	assert.Equal(t, 1, got["v"])
}

// TestStore_NilIDsResolveToCurrentTable verifies nil ids pin the groups present
// at start.
func TestStore_NilIDsResolveToCurrentTable(t *testing.T) {
	s, _ := newTestStore(t)
	s.LoadInitialData([]Group{g("1"), g("2")})

	ids := s.Dispatch(UpdateStart{ChangeID: "c1", Patch: Patch{"status": "resolved"}})
	assert.Equal(t, []string{"1", "2"}, ids)

	// A group added later is not covered by the earlier operation.
	s.Add(g("3"))
	got, _ := s.Get("3")
	assert.Nil(t, got["status"])

	for _, id := range []string{"1", "2"} {
		got, _ := s.Get(id)
		assert.Equal(t, "resolved", got["status"], id)
	}
}

// TestStore_StartForUnknownIDsIsIgnored verifies ids that are not loaded are
// skipped.
func TestStore_StartForUnknownIDsIsIgnored(t *testing.T) {
	s, _ := newTestStore(t)
	s.LoadInitialData([]Group{g("1")})

	ids := s.Dispatch(UpdateStart{ChangeID: "c1", IDs: []string{"1", "missing"}, Patch: Patch{"v": 1}})
	assert.Equal(t, []string{"1"}, ids)
	assert.Empty(t, s.PendingFor("missing"))
}

// TestStore_DuplicateChangeIDIsReported verifies reusing an in-flight change id
// is reported.
func TestStore_DuplicateChangeIDIsReported(t *testing.T) {
	s, rec := newTestStore(t)
	s.LoadInitialData([]Group{g("1")})

	s.Dispatch(UpdateStart{ChangeID: "c1", IDs: []string{"1"}, Patch: Patch{"v": 1}})
	ids := s.Dispatch(UpdateStart{ChangeID: "c1", IDs: []string{"1"}, Patch: Patch{"v": 2}})

	assert.Nil(t, ids)
	assert.Len(t, s.PendingFor("1"), 1)
	assert.Len(t, rec.reports, 1)
}

// TestStore_ConcurrentStatusesOfSameKind verifies the update status stays until
// the last update resolves.
func TestStore_ConcurrentStatusesOfSameKind(t *testing.T) {
	s, _ := newTestStore(t)
	s.LoadInitialData([]Group{g("1")})

	s.Dispatch(UpdateStart{ChangeID: "c1", IDs: []string{"1"}, Patch: Patch{"a": 1}})
	s.Dispatch(UpdateStart{ChangeID: "c2", IDs: []string{"1"}, Patch: Patch{"b": 1}})
	s.Dispatch(UpdateSuccess{ChangeID: "c1", IDs: []string{"1"}, Response: Patch{"a": 1}})

	assert.True(t, s.HasStatus("1", OpUpdate), "c2 still in flight")
	s.Dispatch(UpdateSuccess{ChangeID: "c2", IDs: []string{"1"}, Response: Patch{"b": 1}})
	assert.False(t, s.HasStatus("1", OpUpdate))
}

// ---------------------------------------------------------------------------
// Load / Add / Remove
// ---------------------------------------------------------------------------

// TestStore_LoadClearsPendingAndStatuses verifies Load discards in-flight
// state.
func TestStore_LoadClearsPendingAndStatuses(t *testing.T) {
	s, _ := newTestStore(t)
	s.LoadInitialData([]Group{g("1", "v", 1)})
	s.Dispatch(UpdateStart{ChangeID: "c1", IDs: []string{"1"}, Patch: Patch{"v": 9}})

	ids := s.LoadInitialData([]Group{g("1", "v", 5), g("9")})

	assert.Equal(t, []string{"1", "9"}, ids)
	assert.Zero(t, s.PendingCount())
	assert.True(t, s.Status("1").Empty())
	assert.False(t, s.InFlight("c1"))
	got, _ := s.Get("1")
	assert.Equal(t, 5, got["v"])
}

// TestStore_AddDeepMergesExisting verifies Add merges into an existing record.
func TestStore_AddDeepMergesExisting(t *testing.T) {
	s, _ := newTestStore(t)
	s.LoadInitialData([]Group{g("1", "title", "a", "stats", map[string]any{"24h": []any{1}, "30d": []any{2}})})

	ids := s.Add(g("1", "stats", map[string]any{"24h": []any{5}}), g("2"))

	assert.Equal(t, []string{"1", "2"}, ids)
	got, _ := s.Get("1")
	assert.Equal(t, "a", got["title"])
	assert.Equal(t, map[string]any{"24h": []any{5}, "30d": []any{2}}, got["stats"])
	assert.Equal(t, []string{"1", "2"}, s.IDs())
}

// TestStore_AddSkipsItemsWithoutID verifies items without an id are reported
// and skipped.
func TestStore_AddSkipsItemsWithoutID(t *testing.T) {
	s, rec := newTestStore(t)
	ids := s.Add(Group{"title": "no id"}, g("1"))
	assert.Equal(t, []string{"1"}, ids)
	assert.Len(t, rec.reports, 1)
}

// TestStore_RemoveDropsPending verifies Remove drops the group's pending
// changes.
func TestStore_RemoveDropsPending(t *testing.T) {
	s, _ := newTestStore(t)
	s.LoadInitialData([]Group{g("1"), g("2")})
	s.Dispatch(UpdateStart{ChangeID: "c1", IDs: []string{"1"}, Patch: Patch{"v": 1}})

	assert.Equal(t, []string{"1"}, s.Remove("1"))
	assert.Nil(t, s.Remove("1"))
	assert.Zero(t, s.PendingCount())
	assert.Equal(t, []string{"2"}, s.IDs())
}

// TestStore_GetAllItemsAppliesOverlay verifies GetAllItems overlays pending
// changes in load order.
func TestStore_GetAllItemsAppliesOverlay(t *testing.T) {
	s, _ := newTestStore(t)
	s.LoadInitialData([]Group{g("1", "v", 1), g("2", "v", 2), g("3", "v", 3)})
	s.Dispatch(UpdateStart{ChangeID: "c1", IDs: []string{"1", "3"}, Patch: Patch{"v": 0}})

	all := s.GetAllItems()
	require.Len(t, all, 3)
	assert.Equal(t, 0, all[0]["v"])
	assert.Equal(t, 2, all[1]["v"])
	assert.Equal(t, 0, all[2]["v"])
}

// TestStore_SubscribeAndUnsubscribe verifies no change is delivered after
// unsubscribe.
func TestStore_SubscribeAndUnsubscribe(t *testing.T) {
	s, _ := newTestStore(t)
	var got [][]string
	unsubscribe := s.Subscribe(func(c Change) {
		// Reading from inside a listener must not deadlock.
		_ = s.GetAllItems()
		got = append(got, c.IDs)
	})

	s.LoadInitialData([]Group{g("1"), g("2")})
	s.Remove("missing")
	unsubscribe()
	s.Remove("1")

	assert.Equal(t, [][]string{{"1", "2"}}, got)
}

// TestStore_UnknownCommandIsReported verifies an unknown command type is
// reported.
func TestStore_UnknownCommandIsReported(t *testing.T) {
	s, rec := newTestStore(t)
	assert.Nil(t, s.Dispatch(nil))
	assert.Len(t, rec.reports, 1)
}

// TestStore_Reset checks Reset empties the table and in-flight state.
func TestStore_Reset(t *testing.T) {
	s, _ := newTestStore(t)
	s.LoadInitialData([]Group{g("1")})
	s.Dispatch(UpdateStart{ChangeID: "c1", IDs: []string{"1"}, Patch: Patch{"v": 1}})

	s.Reset()
	assert.Zero(t, s.Len())
	assert.Zero(t, s.PendingCount())
	assert.False(t, s.InFlight("c1"))
}

// TestStore_DescribePending verifies the pending overlay renders as a unified
// diff.
func TestStore_DescribePending(t *testing.T) {
	s, _ := newTestStore(t)
	s.LoadInitialData([]Group{g("1", "status", "unresolved")})

	diff, err := s.DescribePending("1")
	require.NoError(t, err)
	assert.Empty(t, diff)

	s.Dispatch(UpdateStart{ChangeID: "c1", IDs: []string{"1"}, Patch: Patch{"status": "resolved"}})
	diff, err = s.DescribePending("1")
	require.NoError(t, err)
	assert.Contains(t, diff, `-  "status": "unresolved"`)
	assert.Contains(t, diff, `+  "status": "resolved"`)
	assert.Contains(t, diff, "confirmed/1")

	_, err = s.DescribePending("nope")
	require.Error(t, err)
}

// ---------------------------------------------------------------------------
// Property: Get(id) == fold(Merge, confirmed, pending...) for random sequences
// ---------------------------------------------------------------------------

// TestStore_EffectiveViewProperty checks random start and error sequences
// against a reference overlay.
func TestStore_EffectiveViewProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	keys := []string{"a", "b", "c", "nested"}

	randomPatch := func() Patch {
		p := Patch{}
		for _, k := range keys {
			if rng.Intn(2) == 0 {
				continue
			}
			if k == "nested" {
				p[k] = map[string]any{keys[rng.Intn(3)]: rng.Intn(100)}
				continue
			}
			p[k] = rng.Intn(100)
		}
		return p
	}

	for iter := 0; iter < 200; iter++ {
		s, _ := newTestStore(t)
		base := g("1", "a", 0, "nested", map[string]any{"a": 0})
		s.LoadInitialData([]Group{base})

		want := map[string]any(Clone(base))
		var live []string
		var patches = map[string]Patch{}
		count := rng.Intn(8) + 1
		for n := 0; n < count; n++ {
			id := fmt.Sprintf("c%d", n)
			p := randomPatch()
			patches[id] = p
			live = append(live, id)
			s.Dispatch(UpdateStart{ChangeID: id, IDs: []string{"1"}, Patch: p})
		}

		// Roll back a random subset.
		var kept []string
		for _, id := range live {
			if rng.Intn(3) == 0 {
				s.Dispatch(UpdateError{ChangeID: id, IDs: []string{"1"}, Silent: true})
				continue
			}
			kept = append(kept, id)
		}
		for _, id := range kept {
			want = Merge(want, patches[id])
		}

		got, ok := s.Get("1")
		require.True(t, ok)
		require.Equal(t, Group(want), got, "iteration %d", iter)

		confirmed, _ := s.Confirmed("1")
		require.Equal(t, base, confirmed, "confirmed record untouched")
	}
}

// TestStore_SilentErrorsForEveryOperation verifies that each error command
// honors Silent.
func TestStore_SilentErrorsForEveryOperation(t *testing.T) {
	s, rec := newTestStore(t)
	s.LoadInitialData([]Group{g("1"), g("2")})

	s.Dispatch(AssignStart{ChangeID: "a", ID: "1", Patch: Patch{"assignedTo": "x"}})
	s.Dispatch(AssignError{ChangeID: "a", ID: "1", Err: errors.New("x"), Silent: true})
	s.Dispatch(DeleteStart{ChangeID: "d", IDs: []string{"1"}})
	s.Dispatch(DeleteError{ChangeID: "d", IDs: []string{"1"}, Err: errors.New("x"), Silent: true})
	s.Dispatch(MergeStart{ChangeID: "m", IDs: []string{"1", "2"}})
	s.Dispatch(MergeError{ChangeID: "m", IDs: []string{"1", "2"}, Err: errors.New("x"), Silent: true})

	assert.Empty(t, rec.errors)
	assert.True(t, s.Status("1").Empty())
	assert.True(t, s.Status("2").Empty())
	assert.Zero(t, s.PendingCount())

	s.Dispatch(DeleteStart{ChangeID: "d2", IDs: []string{"1"}})
	s.Dispatch(DeleteError{ChangeID: "d2", IDs: []string{"1"}, Err: errors.New("x")})
	s.Dispatch(MergeStart{ChangeID: "m2", IDs: []string{"1", "2"}})
	s.Dispatch(MergeError{ChangeID: "m2", IDs: []string{"1", "2"}, Err: errors.New("x")})
	assert.Equal(t, []string{MsgDeleteFailed, MsgMergeFailed}, rec.errors)
}

// TestStore_DeleteAndMergeRollbackIsIdempotent verifies that repeating an
// error command changes nothing and notifies once.
func TestStore_DeleteAndMergeRollbackIsIdempotent(t *testing.T) {
	s, rec := newTestStore(t)
	s.LoadInitialData([]Group{g("1"), g("2")})

	s.Dispatch(DeleteStart{ChangeID: "d", IDs: []string{"1"}})
	s.Dispatch(MergeStart{ChangeID: "m", IDs: []string{"1", "2"}})

	assert.Equal(t, []string{"1"}, s.Dispatch(DeleteError{ChangeID: "d", IDs: []string{"1"}}))
	assert.Nil(t, s.Dispatch(DeleteError{ChangeID: "d", IDs: []string{"1"}}))
	assert.True(t, s.HasStatus("1", OpMerge), "merge status untouched by delete rollback")

	assert.Equal(t, []string{"1", "2"}, s.Dispatch(MergeError{ChangeID: "m", IDs: []string{"1", "2"}}))
	assert.Nil(t, s.Dispatch(MergeError{ChangeID: "m", IDs: []string{"1", "2"}}))

	assert.Equal(t, []string{MsgDeleteFailed, MsgMergeFailed}, rec.errors)
	assert.True(t, s.Status("1").Empty())
	assert.Equal(t, 2, s.Len())
}

// TestStore_OutOfOrderResolutionProperty verifies that, whatever order
// responses arrive in, Get always equals the base record merged with every
// change not rolled back, in dispatch order.
func TestStore_OutOfOrderResolutionProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	keys := []string{"a", "b", "c", "nested"}

	randomPatch := func() Patch {
		p := Patch{}
		for _, k := range keys {
			if rng.Intn(2) == 0 {
				continue
			}
			if k == "nested" {
				p[k] = map[string]any{keys[rng.Intn(3)]: rng.Intn(100)}
				continue
			}
			p[k] = rng.Intn(100)
		}
		return p
	}

	for iter := 0; iter < 200; iter++ {
		s, _ := newTestStore(t)
		base := g("1", "a", 0, "nested", map[string]any{"a": 0})
		s.LoadInitialData([]Group{base})

		count := rng.Intn(6) + 2
		order := make([]string, count)
		patches := map[string]Patch{}
		for n := range count {
			id := fmt.Sprintf("c%d", n)
			order[n] = id
			patches[id] = randomPatch()
			s.Dispatch(UpdateStart{ChangeID: id, IDs: []string{"1"}, Patch: patches[id]})
		}

		rolledBack := map[string]bool{}
		expected := func() Group {
			want := map[string]any(Clone(base))
			for _, id := range order {
				if !rolledBack[id] {
					want = Merge(want, patches[id])
				}
			}
			return Group(want)
		}

		for _, i := range rng.Perm(count) {
			id := order[i]
			if rng.Intn(3) == 0 {
				rolledBack[id] = true
				s.Dispatch(UpdateError{ChangeID: id, IDs: []string{"1"}, Silent: true})
			} else {
				s.Dispatch(UpdateSuccess{ChangeID: id, IDs: []string{"1"}, Response: patches[id]})
			}
			got, _ := s.Get("1")
			require.Equal(t, expected(), got, "iteration %d after resolving %s", iter, id)
		}

		assert.Zero(t, s.PendingCount(), "iteration %d", iter)
		confirmed, _ := s.Confirmed("1")
		require.Equal(t, expected(), confirmed, "iteration %d", iter)
	}
}
