package mcptools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"

	"github.com/dusk-indust/triage/internal/api"
	"github.com/dusk-indust/triage/internal/grouping"
	"github.com/dusk-indust/triage/internal/logging"
	"github.com/dusk-indust/triage/internal/request"
	"github.com/dusk-indust/triage/internal/store"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// ServiceConfig holds the defaults the tools fall back to.
type ServiceConfig struct {
	OrgID     string
	ProjectID string
	Policy    grouping.Policy
	Logger    *slog.Logger
}

// TriageService handles MCP tool calls. Mutations go through the API client
// and are reflected in the shared store; each call waits for the server.
type TriageService struct {
	client *api.Client
	store  *store.Store
	cfg    ServiceConfig
}

// NewTriageService creates a TriageService over a client and the store it
// dispatches to.
func NewTriageService(client *api.Client, st *store.Store, cfg ServiceConfig) *TriageService {
	if cfg.Logger == nil {
		cfg.Logger = logging.NewDiscardLogger()
	}
	return &TriageService{client: client, store: st, cfg: cfg}
}

func (s *TriageService) scope(org, project string) (string, string, error) {
	if org == "" {
		org = s.cfg.OrgID
	}
	if project == "" {
		project = s.cfg.ProjectID
	}
	if org == "" || project == "" {
		return "", "", errors.New("orgId and projectId are required")
	}
	return org, project, nil
}

// ListGroups loads one page of groups into the store.
func (s *TriageService) ListGroups(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input ListGroupsInput,
) (*mcp.CallToolResult, ListGroupsOutput, error) {
	org, project, err := s.scope(input.OrgID, input.ProjectID)
	if err != nil {
		return nil, ListGroupsOutput{}, err
	}

	query := url.Values{}
	if input.Query != "" {
		query.Set("query", input.Query)
	}
	if input.Cursor != "" {
		query.Set("cursor", input.Cursor)
	}
	limit := input.Limit
	if limit <= 0 {
		limit = 25
	}
	query.Set("limit", strconv.Itoa(limit))

	page, err := s.client.FetchGroups(ctx, api.FetchGroupsParams{OrgID: org, ProjectID: project, Query: query})
	if err != nil {
		return nil, ListGroupsOutput{}, fmt.Errorf("list groups: %w", err)
	}

	out := ListGroupsOutput{Groups: make([]store.Group, 0, len(page.IDs))}
	for _, id := range page.IDs {
		if g, ok := s.store.Get(id); ok {
			out.Groups = append(out.Groups, g)
		}
	}
	if next, ok := api.ParseLinkHeader(page.Link)["next"]; ok && next.Results {
		out.NextCursor = next.Cursor
		out.HasMore = true
	}
	return nil, out, nil
}

// GetGroup returns the effective view of one group.
func (s *TriageService) GetGroup(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input GetGroupInput,
) (*mcp.CallToolResult, GetGroupOutput, error) {
	if input.ID == "" {
		return nil, GetGroupOutput{}, errors.New("id is required")
	}
	if input.Refresh {
		if _, err := s.client.FetchGroup(ctx, input.ID); err != nil {
			return nil, GetGroupOutput{}, fmt.Errorf("fetch group: %w", err)
		}
	}

	g, ok := s.store.Get(input.ID)
	if !ok {
		return nil, GetGroupOutput{}, fmt.Errorf("group %s is not loaded", input.ID)
	}
	return nil, GetGroupOutput{
		Group:   g,
		Status:  opNames(s.store.Status(input.ID)),
		Pending: len(s.store.PendingFor(input.ID)),
	}, nil
}

// UpdateGroups applies a patch to groups.
func (s *TriageService) UpdateGroups(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input UpdateGroupsInput,
) (*mcp.CallToolResult, MutationOutput, error) {
	org, project, err := s.scope(input.OrgID, input.ProjectID)
	if err != nil {
		return nil, MutationOutput{}, err
	}
	if len(input.Patch) == 0 {
		return nil, MutationOutput{}, errors.New("patch is required")
	}

	ids := input.IDs
	if input.All {
		ids = nil
	} else if len(ids) == 0 {
		return nil, MutationOutput{}, errors.New("ids is required unless all is set")
	}

	var query url.Values
	if input.Query != "" {
		query = url.Values{"query": {input.Query}}
	}

	r := s.client.BulkUpdate(ctx, api.BulkUpdateParams{
		OrgID:        org,
		ProjectID:    project,
		ItemIDs:      ids,
		Query:        query,
		Data:         store.Patch(input.Patch),
		FailSilently: input.FailSilently,
	})
	return nil, mutationResult(ctx, r.Wait, idsOrAll(ids, s.store)), nil
}

// DeleteGroups deletes groups.
func (s *TriageService) DeleteGroups(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input DeleteGroupsInput,
) (*mcp.CallToolResult, MutationOutput, error) {
	org, project, err := s.scope(input.OrgID, input.ProjectID)
	if err != nil {
		return nil, MutationOutput{}, err
	}
	if len(input.IDs) == 0 {
		return nil, MutationOutput{}, errors.New("ids is required")
	}

	r := s.client.BulkDelete(ctx, api.BulkDeleteParams{
		OrgID:        org,
		ProjectID:    project,
		ItemIDs:      input.IDs,
		FailSilently: input.FailSilently,
	})
	return nil, mutationResult(ctx, r.Wait, input.IDs), nil
}

// MergeGroups merges groups into one parent chosen by the server.
func (s *TriageService) MergeGroups(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input MergeGroupsInput,
) (*mcp.CallToolResult, MergeGroupsOutput, error) {
	org, project, err := s.scope(input.OrgID, input.ProjectID)
	if err != nil {
		return nil, MergeGroupsOutput{}, err
	}
	if len(input.IDs) < 2 {
		return nil, MergeGroupsOutput{}, errors.New("at least two ids are required")
	}

	res, err := s.client.Merge(ctx, api.MergeParams{
		OrgID:        org,
		ProjectID:    project,
		ItemIDs:      input.IDs,
		FailSilently: input.FailSilently,
	}).Wait(ctx)
	if err != nil {
		return nil, MergeGroupsOutput{Status: "failed", Message: err.Error()}, nil
	}
	merged, err := api.DecodeMergeResult(res)
	return nil, mergeOutput(merged, err), nil
}

// MergeSimilar merges similar issues into a group. Only candidates returned
// by the similar-issues listing can be selected.
func (s *TriageService) MergeSimilar(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input MergeSimilarInput,
) (*mcp.CallToolResult, MergeGroupsOutput, error) {
	if input.GroupID == "" || len(input.IDs) == 0 {
		return nil, MergeGroupsOutput{}, errors.New("groupId and ids are required")
	}
	org, project, err := s.scope(input.OrgID, input.ProjectID)
	if err != nil {
		return nil, MergeGroupsOutput{}, err
	}

	coord := s.coordinator()
	if err := coord.Fetch(ctx, grouping.FetchParams{GroupID: input.GroupID, OrgID: org, ProjectID: project}); err != nil {
		if coord.Snapshot().SimilarErr != nil {
			return nil, MergeGroupsOutput{}, fmt.Errorf("load similar issues: %w", err)
		}
	}

	for _, id := range input.IDs {
		if !coord.ToggleMerge(id) {
			return nil, MergeGroupsOutput{
				Status:  "failed",
				Message: fmt.Sprintf("issue %s is not a merge candidate", id),
			}, nil
		}
	}

	merged, err := coord.Merge(ctx)
	return nil, mergeOutput(merged, err), nil
}

func mergeOutput(merged api.MergeResult, err error) MergeGroupsOutput {
	if err != nil {
		return MergeGroupsOutput{Status: "failed", Message: err.Error()}
	}
	return MergeGroupsOutput{
		Parent:   merged.Parent,
		Children: merged.Children,
		Status:   "completed",
	}
}

// RefreshGroups re-fetches groups from the server in parallel and folds them
// into the store.
func (s *TriageService) RefreshGroups(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input RefreshGroupsInput,
) (*mcp.CallToolResult, RefreshGroupsOutput, error) {
	if len(input.IDs) == 0 {
		return nil, RefreshGroupsOutput{}, errors.New("ids is required")
	}
	if _, err := s.client.RefreshGroups(ctx, input.IDs); err != nil {
		return nil, RefreshGroupsOutput{}, fmt.Errorf("refresh groups: %w", err)
	}

	out := RefreshGroupsOutput{Groups: make([]store.Group, 0, len(input.IDs))}
	for _, id := range input.IDs {
		if g, ok := s.store.Get(id); ok {
			out.Groups = append(out.Groups, g)
		}
	}
	return nil, out, nil
}

// AssignGroup sets or clears the assignee of a group.
func (s *TriageService) AssignGroup(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input AssignGroupInput,
) (*mcp.CallToolResult, MutationOutput, error) {
	if input.ID == "" {
		return nil, MutationOutput{}, errors.New("id is required")
	}

	actor := api.Actor{Type: input.ActorType, ID: input.ActorID}
	var r *request.Request
	switch {
	case actor.Type != "" && input.FailSilently:
		r = s.client.AssignToActorSilently(ctx, input.ID, actor)
	case actor.Type != "":
		r = s.client.AssignToActor(ctx, input.ID, actor)
	case input.FailSilently:
		r = s.client.AssignToSilently(ctx, input.ID, "")
	default:
		r = s.client.ClearAssignment(ctx, input.ID)
	}
	return nil, mutationResult(ctx, r.Wait, []string{input.ID}), nil
}

// DescribePending shows how pending changes alter a group.
func (s *TriageService) DescribePending(
	_ context.Context,
	_ *mcp.CallToolRequest,
	input DescribePendingInput,
) (*mcp.CallToolResult, DescribePendingOutput, error) {
	diff, err := s.store.DescribePending(input.ID)
	if err != nil {
		return nil, DescribePendingOutput{}, err
	}
	return nil, DescribePendingOutput{
		ID:      input.ID,
		Diff:    diff,
		Pending: len(s.store.PendingFor(input.ID)),
	}, nil
}

// SimilarIssues loads a group's fingerprints and its similar issues.
func (s *TriageService) SimilarIssues(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input SimilarIssuesInput,
) (*mcp.CallToolResult, SimilarIssuesOutput, error) {
	if input.GroupID == "" {
		return nil, SimilarIssuesOutput{}, errors.New("groupId is required")
	}

	coord := s.coordinator()
	// Per-list failures are carried in the snapshot.
	_ = coord.Fetch(ctx, grouping.FetchParams{
		GroupID:   input.GroupID,
		OrgID:     input.OrgID,
		ProjectID: input.ProjectID,
	})
	snap := coord.Snapshot()

	out := SimilarIssuesOutput{
		Fingerprints: summarizeFingerprints(snap.Merged),
		Similar:      summarizeSimilar(snap.Similar),
		Filtered:     summarizeSimilar(snap.Filtered),
	}
	for _, err := range []error{snap.MergedErr, snap.SimilarErr} {
		if err != nil {
			out.Errors = append(out.Errors, err.Error())
		}
	}
	return nil, out, nil
}

// UnmergeFingerprints splits fingerprints out of a group, honoring the
// configured keep-one policy.
func (s *TriageService) UnmergeFingerprints(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input UnmergeFingerprintsInput,
) (*mcp.CallToolResult, MutationOutput, error) {
	if input.GroupID == "" || len(input.Fingerprints) == 0 {
		return nil, MutationOutput{}, errors.New("groupId and fingerprints are required")
	}

	coord := s.coordinator()
	if err := coord.Fetch(ctx, grouping.FetchParams{GroupID: input.GroupID}); err != nil {
		if coord.Snapshot().MergedErr != nil {
			return nil, MutationOutput{}, fmt.Errorf("load fingerprints: %w", err)
		}
	}

	for _, fp := range input.Fingerprints {
		if !coord.ToggleUnmerge(fp) {
			return nil, MutationOutput{
				IDs:     input.Fingerprints,
				Status:  "failed",
				Message: fmt.Sprintf("fingerprint %s cannot be selected", fp),
			}, nil
		}
	}

	if err := coord.Unmerge(ctx); err != nil {
		return nil, MutationOutput{IDs: input.Fingerprints, Status: "failed", Message: err.Error()}, nil
	}
	return nil, MutationOutput{IDs: input.Fingerprints, Status: "completed"}, nil
}

func (s *TriageService) coordinator() *grouping.Coordinator {
	return grouping.NewCoordinator(s.client, s.cfg.Policy,
		grouping.WithLogger(s.cfg.Logger),
		grouping.WithNotifier(store.LogNotifier{Logger: s.cfg.Logger}),
	)
}

func mutationResult(ctx context.Context, wait func(context.Context) (*request.Result, error), ids []string) MutationOutput {
	if _, err := wait(ctx); err != nil {
		return MutationOutput{IDs: ids, Status: "failed", Message: err.Error()}
	}
	return MutationOutput{IDs: ids, Status: "completed"}
}

func idsOrAll(ids []string, st *store.Store) []string {
	if ids == nil {
		return st.IDs()
	}
	return ids
}

func opNames(set store.StatusSet) []string {
	ops := set.Ops()
	names := make([]string, 0, len(ops))
	for _, op := range ops {
		names = append(names, op.String())
	}
	return names
}
