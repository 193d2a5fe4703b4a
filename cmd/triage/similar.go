package main

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/dusk-indust/triage/internal/mcptools"
	"github.com/spf13/cobra"
)

func newSimilarCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "similar <group-id>",
		Short: "Show a group's fingerprints and the issues similar to it",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(opts, func(ctx context.Context, a *app, args []string) error {
			_, out, err := a.svc.SimilarIssues(ctx, nil, mcptools.SimilarIssuesInput{GroupID: args[0]})
			if err != nil {
				return err
			}
			if a.json {
				return a.printJSON(out)
			}
			return a.printSimilar(out)
		}),
	}
}

func newUnmergeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "unmerge <group-id> <fingerprint>...",
		Short: "Split fingerprints out of a group into a new group",
		Args:  cobra.MinimumNArgs(2),
		RunE: withApp(opts, func(ctx context.Context, a *app, args []string) error {
			_, out, err := a.svc.UnmergeFingerprints(ctx, nil, mcptools.UnmergeFingerprintsInput{
				GroupID:      args[0],
				Fingerprints: args[1:],
			})
			if err != nil {
				return err
			}
			return a.printMutation("unmerge", out)
		}),
	}
}

func newMergeSimilarCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "merge-similar <group-id> <id>...",
		Short: "Merge issues listed by similar into a group",
		Args:  cobra.MinimumNArgs(2),
		RunE: withApp(opts, func(ctx context.Context, a *app, args []string) error {
			_, out, err := a.svc.MergeSimilar(ctx, nil, mcptools.MergeSimilarInput{
				GroupID: args[0],
				IDs:     args[1:],
			})
			if err != nil {
				return err
			}
			return a.printMerge(out)
		}),
	}
}

func (a *app) printSimilar(out mcptools.SimilarIssuesOutput) error {
	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)

	fmt.Fprintln(tw, "FINGERPRINT\tEVENTS\tCHILDREN\tSTATE")
	for _, fp := range out.Fingerprints {
		state := "-"
		switch {
		case fp.Locked:
			state = "locked"
		case !fp.Eligible:
			state = "no events"
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\t%s\n", fp.ID, fp.EventCount, fp.Children, state)
	}

	fmt.Fprintln(tw, "\nSIMILAR\tSCORES\t\tTITLE")
	for _, c := range out.Similar {
		fmt.Fprintf(tw, "%s\t%s\t\t%s\n", c.ID, formatScores(c.Aggregate), c.Title)
	}
	if len(out.Filtered) > 0 {
		fmt.Fprintf(tw, "(%d below threshold)\t\t\t\n", len(out.Filtered))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	for _, msg := range out.Errors {
		fmt.Fprintf(a.out, "warning: %s\n", msg)
	}
	return nil
}

func formatScores(agg map[string]float64) string {
	keys := make([]string, 0, len(agg))
	for k := range agg {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%.2f", k, agg[k]))
	}
	return strings.Join(parts, " ")
}
