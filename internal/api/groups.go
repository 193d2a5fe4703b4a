package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/dusk-indust/triage/internal/request"
	"github.com/dusk-indust/triage/internal/store"
)

// ErrUnknownActor is reported when AssignToActor receives an actor type other
// than "user" or "team".
var ErrUnknownActor = errors.New("api: unknown assignee type")

// BulkUpdateParams selects the groups to patch. A nil ItemIDs targets every
// group matching Query on the server and every group currently in the store.
type BulkUpdateParams struct {
	OrgID        string
	ProjectID    string
	ItemIDs      []string
	Query        url.Values
	Data         store.Patch
	FailSilently bool
}

// BulkDeleteParams selects the groups to delete.
type BulkDeleteParams struct {
	OrgID        string
	ProjectID    string
	ItemIDs      []string
	Query        url.Values
	FailSilently bool
}

// MergeParams selects the groups to merge into one parent.
type MergeParams struct {
	OrgID        string
	ProjectID    string
	ItemIDs      []string
	Query        url.Values
	FailSilently bool
}

// UnmergeParams names fingerprints to split out of a group.
type UnmergeParams struct {
	GroupID      string
	Fingerprints []string

	OnSuccess  func(*request.Result)
	OnError    func(error)
	OnComplete func()
}

// Actor is an assignee: a user or a team.
type Actor struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// MergeResult is the body of a successful merge.
type MergeResult struct {
	Parent   string   `json:"parent"`
	Children []string `json:"children"`
}

// DecodeMergeResult extracts the merge outcome from a response. A response
// without a parent yields an empty Parent and no error.
func DecodeMergeResult(res *request.Result) (MergeResult, error) {
	var payload struct {
		Merge *MergeResult `json:"merge"`
	}
	if res == nil || len(res.Body) == 0 {
		return MergeResult{}, nil
	}
	if err := json.Unmarshal(res.Body, &payload); err != nil {
		return MergeResult{}, fmt.Errorf("api: decode merge response: %w", err)
	}
	if payload.Merge == nil {
		return MergeResult{}, nil
	}
	return *payload.Merge, nil
}

// groupsPath is the bulk endpoint for a project's groups.
func groupsPath(org, project string) string {
	return fmt.Sprintf("/projects/%s/%s/groups/", url.PathEscape(org), url.PathEscape(project))
}

// issuePath is the endpoint for one group.
func issuePath(id string) string {
	return fmt.Sprintf("/issues/%s/", url.PathEscape(id))
}

// bulkQuery copies extra and appends one "id" value per item.
func bulkQuery(ids []string, extra url.Values) url.Values {
	q := url.Values{}
	for k, vs := range extra {
		q[k] = append([]string(nil), vs...)
	}
	for _, id := range ids {
		q.Add("id", id)
	}
	return q
}

// resolved pins the ids a start command affected so the matching success or
// error never re-resolves a nil list against a changed table.
func resolved(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}

// BulkUpdate patches groups optimistically and sends the patch to the server.
func (c *Client) BulkUpdate(ctx context.Context, p BulkUpdateParams) *request.Request {
	id := c.newID()
	ids := resolved(c.dispatch(store.UpdateStart{ChangeID: id, IDs: p.ItemIDs, Patch: p.Data}))

	return c.start(ctx, id, groupsPath(p.OrgID, p.ProjectID), RequestOptions{
		Method: http.MethodPut,
		Data:   p.Data,
		Query:  bulkQuery(p.ItemIDs, p.Query),
		OnSuccess: func(res *request.Result) {
			var resp store.Patch
			if len(res.Body) > 0 {
				if err := json.Unmarshal(res.Body, &resp); err != nil {
					c.reporter.Report(fmt.Errorf("api: decode update response: %w", err), "change_id", id)
					resp = nil
				}
			}
			c.dispatch(store.UpdateSuccess{ChangeID: id, IDs: ids, Response: resp})
		},
		OnError: func(err error) {
			c.dispatch(store.UpdateError{ChangeID: id, IDs: ids, Err: err, Silent: p.FailSilently})
		},
	})
}

// BulkDelete marks groups as being deleted and removes them once the server
// confirms.
func (c *Client) BulkDelete(ctx context.Context, p BulkDeleteParams) *request.Request {
	id := c.newID()
	ids := resolved(c.dispatch(store.DeleteStart{ChangeID: id, IDs: p.ItemIDs}))

	return c.start(ctx, id, groupsPath(p.OrgID, p.ProjectID), RequestOptions{
		Method: http.MethodDelete,
		Query:  bulkQuery(p.ItemIDs, p.Query),
		OnSuccess: func(*request.Result) {
			c.dispatch(store.DeleteSuccess{ChangeID: id, IDs: ids})
		},
		OnError: func(err error) {
			c.dispatch(store.DeleteError{ChangeID: id, IDs: ids, Err: err, Silent: p.FailSilently})
		},
	})
}

// Merge collapses groups into a single parent chosen by the server.
func (c *Client) Merge(ctx context.Context, p MergeParams) *request.Request {
	id := c.newID()
	ids := resolved(c.dispatch(store.MergeStart{ChangeID: id, IDs: p.ItemIDs}))

	return c.start(ctx, id, groupsPath(p.OrgID, p.ProjectID), RequestOptions{
		Method: http.MethodPut,
		Data:   map[string]any{"merge": 1},
		Query:  bulkQuery(p.ItemIDs, p.Query),
		OnSuccess: func(res *request.Result) {
			result, err := DecodeMergeResult(res)
			if err != nil {
				c.reporter.Report(err, "change_id", id)
			}
			c.dispatch(store.MergeSuccess{ChangeID: id, IDs: ids, Parent: result.Parent})
		},
		OnError: func(err error) {
			c.dispatch(store.MergeError{ChangeID: id, IDs: ids, Err: err, Silent: p.FailSilently})
		},
	})
}

// AssignTo sets the assignee of one group. An empty assignee clears it.
func (c *Client) AssignTo(ctx context.Context, groupID, assignee string) *request.Request {
	return c.assign(ctx, groupID, assignee, false)
}

// AssignToSilently is AssignTo without the failure notification.
func (c *Client) AssignToSilently(ctx context.Context, groupID, assignee string) *request.Request {
	return c.assign(ctx, groupID, assignee, true)
}

func (c *Client) assign(ctx context.Context, groupID, assignee string, silent bool) *request.Request {
	var optimistic any = assignee
	if assignee == "" {
		optimistic = nil
	}

	id := c.newID()
	c.dispatch(store.AssignStart{ChangeID: id, ID: groupID, Patch: store.Patch{"assignedTo": optimistic}})

	return c.start(ctx, id, issuePath(groupID), RequestOptions{
		Method: http.MethodPut,
		Data:   map[string]any{"assignedTo": assignee},
		OnSuccess: func(res *request.Result) {
			var g store.Group
			if err := json.Unmarshal(res.Body, &g); err != nil {
				c.reporter.Report(fmt.Errorf("api: decode assign response: %w", err), "change_id", id)
				g = nil
			}
			c.dispatch(store.AssignSuccess{ChangeID: id, ID: groupID, Response: g})
		},
		OnError: func(err error) {
			c.dispatch(store.AssignError{ChangeID: id, ID: groupID, Err: err, Silent: silent})
		},
	})
}

// ClearAssignment removes the assignee of one group.
func (c *Client) ClearAssignment(ctx context.Context, groupID string) *request.Request {
	return c.AssignTo(ctx, groupID, "")
}

// AssignToActor assigns a user or a team. Any other actor type is reported
// and nothing is sent; Wait on the returned handle yields ErrUnknownActor.
func (c *Client) AssignToActor(ctx context.Context, groupID string, actor Actor) *request.Request {
	return c.assignActor(ctx, groupID, actor, false)
}

// AssignToActorSilently is AssignToActor without the failure notification.
func (c *Client) AssignToActorSilently(ctx context.Context, groupID string, actor Actor) *request.Request {
	return c.assignActor(ctx, groupID, actor, true)
}

func (c *Client) assignActor(ctx context.Context, groupID string, actor Actor, silent bool) *request.Request {
	var assignee string
	switch actor.Type {
	case "user":
		assignee = actor.ID
	case "team":
		assignee = "team:" + actor.ID
	default:
		c.reporter.Report(ErrUnknownActor, "group_id", groupID, "actor_type", actor.Type)
		err := fmt.Errorf("%w %q", ErrUnknownActor, actor.Type)
		return request.Start(ctx, c.newID(), func(context.Context) (*request.Result, error) {
			return nil, err
		}, request.Callbacks{})
	}
	return c.assign(ctx, groupID, assignee, silent)
}

// Unmerge splits fingerprints out of a group. It has no effect on the store;
// callers track progress themselves.
func (c *Client) Unmerge(ctx context.Context, p UnmergeParams) *request.Request {
	query := url.Values{}
	for _, fp := range p.Fingerprints {
		query.Add("id", fp)
	}
	return c.Request(ctx, issuePath(p.GroupID)+"hashes/", RequestOptions{
		Method:     http.MethodDelete,
		Query:      query,
		OnSuccess:  p.OnSuccess,
		OnError:    p.OnError,
		OnComplete: p.OnComplete,
	})
}
