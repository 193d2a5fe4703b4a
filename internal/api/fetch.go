package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/dusk-indust/triage/internal/request"
	"github.com/dusk-indust/triage/internal/store"
	"golang.org/x/sync/errgroup"
)

// FetchGroupsParams selects one page of a project's groups.
type FetchGroupsParams struct {
	OrgID     string
	ProjectID string
	Query     url.Values
}

// Page is one page of groups. Link is the raw pagination header; see
// ParseLinkHeader.
type Page struct {
	IDs  []string
	Link string
}

// GetJSON issues a GET and decodes the response body into out. It blocks
// until the request settles or ctx is done.
func (c *Client) GetJSON(ctx context.Context, path string, query url.Values, out any) (*request.Result, error) {
	res, err := c.Request(ctx, path, RequestOptions{Query: query}).Wait(ctx)
	if err != nil {
		return nil, err
	}
	if out != nil && len(res.Body) > 0 {
		if err := json.Unmarshal(res.Body, out); err != nil {
			return res, fmt.Errorf("api: decode %s: %w", path, err)
		}
	}
	return res, nil
}

// FetchGroups loads one page of groups and replaces the store contents with it.
func (c *Client) FetchGroups(ctx context.Context, p FetchGroupsParams) (Page, error) {
	var groups []store.Group
	res, err := c.GetJSON(ctx, groupsPath(p.OrgID, p.ProjectID), p.Query, &groups)
	if err != nil {
		return Page{}, err
	}
	ids := c.dispatch(store.Load{Items: groups})
	c.logger.Debug("api: fetched groups", "count", len(groups), "loaded", len(ids))
	return Page{IDs: ids, Link: res.Header.Get("Link")}, nil
}

// FetchGroup loads one group and folds it into the store. Concurrent calls for
// the same id share a single request.
func (c *Client) FetchGroup(ctx context.Context, id string) (store.Group, error) {
	v, err, _ := c.groupFetches.Do(id, func() (any, error) {
		var g store.Group
		if _, err := c.GetJSON(ctx, issuePath(id), nil, &g); err != nil {
			return nil, err
		}
		c.dispatch(store.Add{Items: []store.Group{g}})
		return g, nil
	})
	if err != nil {
		return nil, err
	}
	return store.Group(store.Clone(v.(store.Group))), nil
}

// RefreshGroups fetches ids in parallel, at most the configured concurrency at
// a time. The first error cancels the remaining fetches.
func (c *Client) RefreshGroups(ctx context.Context, ids []string) ([]store.Group, error) {
	out := make([]store.Group, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)

	for i, id := range ids {
		g.Go(func() error {
			group, err := c.FetchGroup(gctx, id)
			if err != nil {
				return fmt.Errorf("api: refresh %s: %w", id, err)
			}
			out[i] = group
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
