package mcptools

import (
	"github.com/dusk-indust/triage/internal/grouping"
	"github.com/dusk-indust/triage/internal/store"
)

// --- MCP Tool Input/Output Types ---
// The MCP Go SDK generates the JSON schema of each tool from these structs.

// ListGroupsInput is the input for the list_groups MCP tool.
type ListGroupsInput struct {
	OrgID     string `json:"orgId,omitempty" jsonschema:"organization slug (default: configured org)"`
	ProjectID string `json:"projectId,omitempty" jsonschema:"project slug (default: configured project)"`
	Query     string `json:"query,omitempty" jsonschema:"search query, e.g. is:unresolved"`
	Cursor    string `json:"cursor,omitempty" jsonschema:"pagination cursor returned by a previous call"`
	Limit     int    `json:"limit,omitempty" jsonschema:"page size (default: 25)"`
}

// ListGroupsOutput is the result of the list_groups MCP tool.
type ListGroupsOutput struct {
	Groups     []store.Group `json:"groups"`
	NextCursor string        `json:"nextCursor,omitempty"`
	HasMore    bool          `json:"hasMore"`
}

// GetGroupInput is the input for the get_group MCP tool.
type GetGroupInput struct {
	ID      string `json:"id" jsonschema:"group id"`
	Refresh bool   `json:"refresh,omitempty" jsonschema:"fetch the group from the server before reading it"`
}

// GetGroupOutput is the result of the get_group MCP tool.
type GetGroupOutput struct {
	Group   store.Group `json:"group"`
	Status  []string    `json:"status"`
	Pending int         `json:"pending"`
}

// UpdateGroupsInput is the input for the update_groups MCP tool.
type UpdateGroupsInput struct {
	OrgID        string         `json:"orgId,omitempty" jsonschema:"organization slug (default: configured org)"`
	ProjectID    string         `json:"projectId,omitempty" jsonschema:"project slug (default: configured project)"`
	IDs          []string       `json:"ids,omitempty" jsonschema:"group ids to update"`
	All          bool           `json:"all,omitempty" jsonschema:"update every loaded group instead of ids"`
	Query        string         `json:"query,omitempty" jsonschema:"search query scoping an all-groups update"`
	Patch        map[string]any `json:"patch" jsonschema:"fields to set, e.g. status resolved"`
	FailSilently bool           `json:"failSilently,omitempty" jsonschema:"suppress the failure notification"`
}

// MutationOutput is the result of the mutating MCP tools.
type MutationOutput struct {
	IDs     []string `json:"ids"`
	Status  string   `json:"status"` // "completed" or "failed"
	Message string   `json:"message,omitempty"`
}

// DeleteGroupsInput is the input for the delete_groups MCP tool.
type DeleteGroupsInput struct {
	OrgID        string   `json:"orgId,omitempty" jsonschema:"organization slug (default: configured org)"`
	ProjectID    string   `json:"projectId,omitempty" jsonschema:"project slug (default: configured project)"`
	IDs          []string `json:"ids" jsonschema:"group ids to delete"`
	FailSilently bool     `json:"failSilently,omitempty" jsonschema:"suppress the failure notification"`
}

// MergeGroupsInput is the input for the merge_groups MCP tool.
type MergeGroupsInput struct {
	OrgID        string   `json:"orgId,omitempty" jsonschema:"organization slug (default: configured org)"`
	ProjectID    string   `json:"projectId,omitempty" jsonschema:"project slug (default: configured project)"`
	IDs          []string `json:"ids" jsonschema:"group ids to merge (at least two)"`
	FailSilently bool     `json:"failSilently,omitempty" jsonschema:"suppress the failure notification"`
}

// MergeSimilarInput is the input for the merge_similar MCP tool.
type MergeSimilarInput struct {
	OrgID     string   `json:"orgId,omitempty" jsonschema:"organization slug (default: configured org)"`
	ProjectID string   `json:"projectId,omitempty" jsonschema:"project slug (default: configured project)"`
	GroupID   string   `json:"groupId" jsonschema:"group to merge the similar issues into"`
	IDs       []string `json:"ids" jsonschema:"similar issue ids, as listed by similar_issues"`
}

// RefreshGroupsInput is the input for the refresh_groups MCP tool.
type RefreshGroupsInput struct {
	IDs []string `json:"ids" jsonschema:"group ids to fetch again"`
}

// RefreshGroupsOutput is the result of the refresh_groups MCP tool.
type RefreshGroupsOutput struct {
	Groups []store.Group `json:"groups"`
}

// MergeGroupsOutput is the result of the merge_groups MCP tool.
type MergeGroupsOutput struct {
	Parent   string   `json:"parent,omitempty"`
	Children []string `json:"children,omitempty"`
	Status   string   `json:"status"`
	Message  string   `json:"message,omitempty"`
}

// AssignGroupInput is the input for the assign_group MCP tool.
type AssignGroupInput struct {
	ID           string `json:"id" jsonschema:"group id"`
	ActorType    string `json:"actorType,omitempty" jsonschema:"user or team; empty clears the assignee"`
	ActorID      string `json:"actorId,omitempty" jsonschema:"user or team id"`
	FailSilently bool   `json:"failSilently,omitempty" jsonschema:"suppress the failure notification"`
}

// DescribePendingInput is the input for the describe_pending MCP tool.
type DescribePendingInput struct {
	ID string `json:"id" jsonschema:"group id"`
}

// DescribePendingOutput is the result of the describe_pending MCP tool.
type DescribePendingOutput struct {
	ID      string `json:"id"`
	Diff    string `json:"diff"`
	Pending int    `json:"pending"`
}

// SimilarIssuesInput is the input for the similar_issues MCP tool.
type SimilarIssuesInput struct {
	OrgID     string `json:"orgId,omitempty" jsonschema:"organization slug (default: configured org)"`
	ProjectID string `json:"projectId,omitempty" jsonschema:"project slug (default: configured project)"`
	GroupID   string `json:"groupId" jsonschema:"group whose fingerprints and similar issues to load"`
}

// SimilarIssuesOutput is the result of the similar_issues MCP tool.
type SimilarIssuesOutput struct {
	Fingerprints []FingerprintSummary `json:"fingerprints"`
	Similar      []SimilarCandidate   `json:"similar"`
	Filtered     []SimilarCandidate   `json:"filtered"`
	Errors       []string             `json:"errors,omitempty"`
}

// FingerprintSummary is one merged fingerprint of a group.
type FingerprintSummary struct {
	ID         string `json:"id"`
	EventCount int    `json:"eventCount"`
	Children   int    `json:"children"`
	Locked     bool   `json:"locked"`
	Eligible   bool   `json:"eligible"`
}

// SimilarCandidate is one similar issue with its per-interface scores.
type SimilarCandidate struct {
	ID        string             `json:"id"`
	Title     string             `json:"title,omitempty"`
	Aggregate map[string]float64 `json:"aggregate"`
}

// UnmergeFingerprintsInput is the input for the unmerge_fingerprints MCP tool.
type UnmergeFingerprintsInput struct {
	GroupID      string   `json:"groupId" jsonschema:"group to split"`
	Fingerprints []string `json:"fingerprints" jsonschema:"fingerprint hashes to move into a new group"`
}

func summarizeFingerprints(fps []grouping.Fingerprint) []FingerprintSummary {
	out := make([]FingerprintSummary, 0, len(fps))
	for _, fp := range fps {
		out = append(out, FingerprintSummary{
			ID:         fp.ID,
			EventCount: fp.EventCount,
			Children:   len(fp.Children),
			Locked:     fp.Locked(),
			Eligible:   fp.Eligible(),
		})
	}
	return out
}

func summarizeSimilar(items []grouping.SimilarItem) []SimilarCandidate {
	out := make([]SimilarCandidate, 0, len(items))
	for _, item := range items {
		title, _ := item.Issue["title"].(string)
		out = append(out, SimilarCandidate{
			ID:        item.ID(),
			Title:     title,
			Aggregate: item.Aggregate,
		})
	}
	return out
}
