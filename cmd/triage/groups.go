package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/dusk-indust/triage/internal/mcptools"
	"github.com/dusk-indust/triage/internal/store"
	"github.com/spf13/cobra"
)

func newListCmd(opts *rootOptions) *cobra.Command {
	var in mcptools.ListGroupsInput

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List one page of issue groups",
		Args:    cobra.NoArgs,
		RunE: withApp(opts, func(ctx context.Context, a *app, _ []string) error {
			_, out, err := a.svc.ListGroups(ctx, nil, in)
			if err != nil {
				return err
			}
			if a.json {
				return a.printJSON(out)
			}
			if err := a.printGroups(out.Groups); err != nil {
				return err
			}
			if out.HasMore {
				fmt.Fprintf(a.out, "\nmore results: --cursor %s\n", out.NextCursor)
			}
			return nil
		}),
	}

	cmd.Flags().StringVarP(&in.Query, "query", "q", "", "search query, e.g. is:unresolved")
	cmd.Flags().StringVar(&in.Cursor, "cursor", "", "pagination cursor from a previous page")
	cmd.Flags().IntVar(&in.Limit, "limit", 25, "page size")
	return cmd
}

func newGetCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>...",
		Short: "Fetch issue groups",
		Long:  "Fetches one group with its in-flight status, or several groups in parallel.",
		Args:  cobra.MinimumNArgs(1),
		RunE: withApp(opts, func(ctx context.Context, a *app, args []string) error {
			if len(args) > 1 {
				_, out, err := a.svc.RefreshGroups(ctx, nil, mcptools.RefreshGroupsInput{IDs: args})
				if err != nil {
					return err
				}
				if a.json {
					return a.printJSON(out)
				}
				return a.printGroups(out.Groups)
			}

			_, out, err := a.svc.GetGroup(ctx, nil, mcptools.GetGroupInput{ID: args[0], Refresh: true})
			if err != nil {
				return err
			}
			if a.json {
				return a.printJSON(out)
			}
			return a.printGroups([]store.Group{out.Group})
		}),
	}
}

func newUpdateCmd(opts *rootOptions) *cobra.Command {
	var (
		sets  []string
		all   bool
		query string
		quiet bool
	)

	cmd := &cobra.Command{
		Use:   "update [id...] --set key=value",
		Short: "Apply a patch to issue groups",
		Long: `Applies a patch to the given groups, or with --all to every group
matching --query. Values true, false and null are sent as JSON literals;
anything else is sent as a string.`,
		Example: `  triage update 12 13 --set status=resolved
  triage update --all --query is:unresolved --set hasSeen=true`,
		RunE: withApp(opts, func(ctx context.Context, a *app, args []string) error {
			patch, err := parseAssignments(sets)
			if err != nil {
				return err
			}
			if all {
				// Load the matching page so the optimistic patch has rows to cover.
				if _, _, err := a.svc.ListGroups(ctx, nil, mcptools.ListGroupsInput{Query: query, Limit: 100}); err != nil {
					return err
				}
			}
			_, out, err := a.svc.UpdateGroups(ctx, nil, mcptools.UpdateGroupsInput{
				IDs:          args,
				All:          all,
				Query:        query,
				Patch:        patch,
				FailSilently: quiet,
			})
			if err != nil {
				return err
			}
			return a.printMutation("update", out)
		}),
	}

	cmd.Flags().StringArrayVar(&sets, "set", nil, "field to set as key=value (repeatable)")
	cmd.Flags().BoolVar(&all, "all", false, "update every group matching --query")
	cmd.Flags().StringVarP(&query, "query", "q", "", "search query scoping --all")
	cmd.Flags().BoolVar(&quiet, "quiet", false, "do not log a failure notification")
	return cmd
}

func newDeleteCmd(opts *rootOptions) *cobra.Command {
	var quiet bool

	cmd := &cobra.Command{
		Use:     "delete <id>...",
		Aliases: []string{"rm"},
		Short:   "Delete issue groups",
		Args:    cobra.MinimumNArgs(1),
		RunE: withApp(opts, func(ctx context.Context, a *app, args []string) error {
			_, out, err := a.svc.DeleteGroups(ctx, nil, mcptools.DeleteGroupsInput{IDs: args, FailSilently: quiet})
			if err != nil {
				return err
			}
			return a.printMutation("delete", out)
		}),
	}

	cmd.Flags().BoolVar(&quiet, "quiet", false, "do not log a failure notification")
	return cmd
}

func newMergeCmd(opts *rootOptions) *cobra.Command {
	var quiet bool

	cmd := &cobra.Command{
		Use:   "merge <id> <id>...",
		Short: "Merge issue groups into one",
		Args:  cobra.MinimumNArgs(2),
		RunE: withApp(opts, func(ctx context.Context, a *app, args []string) error {
			_, out, err := a.svc.MergeGroups(ctx, nil, mcptools.MergeGroupsInput{IDs: args, FailSilently: quiet})
			if err != nil {
				return err
			}
			return a.printMerge(out)
		}),
	}

	cmd.Flags().BoolVar(&quiet, "quiet", false, "do not log a failure notification")
	return cmd
}

func newAssignCmd(opts *rootOptions) *cobra.Command {
	var (
		user, team string
		quiet      bool
	)

	cmd := &cobra.Command{
		Use:   "assign <id>",
		Short: "Assign an issue group to a user or team",
		Long:  "Assigns the group to --user or --team. With neither flag the assignee is cleared.",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(opts, func(ctx context.Context, a *app, args []string) error {
			in := mcptools.AssignGroupInput{ID: args[0], FailSilently: quiet}
			switch {
			case user != "":
				in.ActorType, in.ActorID = "user", user
			case team != "":
				in.ActorType, in.ActorID = "team", team
			}
			_, out, err := a.svc.AssignGroup(ctx, nil, in)
			if err != nil {
				return err
			}
			return a.printMutation("assign", out)
		}),
	}

	cmd.Flags().StringVar(&user, "user", "", "user id")
	cmd.Flags().StringVar(&team, "team", "", "team id")
	cmd.Flags().BoolVar(&quiet, "quiet", false, "do not log a failure notification")
	cmd.MarkFlagsMutuallyExclusive("user", "team")
	return cmd
}

// parseAssignments turns key=value flags into a patch.
func parseAssignments(sets []string) (map[string]any, error) {
	if len(sets) == 0 {
		return nil, fmt.Errorf("at least one --set key=value is required")
	}
	patch := make(map[string]any, len(sets))
	for _, s := range sets {
		key, value, ok := strings.Cut(s, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --set %q: want key=value", s)
		}
		switch value {
		case "true":
			patch[key] = true
		case "false":
			patch[key] = false
		case "null":
			patch[key] = nil
		default:
			patch[key] = value
		}
	}
	return patch, nil
}
