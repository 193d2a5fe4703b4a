package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/dusk-indust/triage/internal/mcptools"
	"github.com/dusk-indust/triage/internal/store"
)

func (a *app) printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}
	_, err = a.out.Write(append(out, '\n'))
	return err
}

// printMutation reports the outcome of a mutating command. A failed
// mutation is returned as an error so the process exits non-zero.
func (a *app) printMutation(verb string, res mcptools.MutationOutput) error {
	if a.json {
		if err := a.printJSON(res); err != nil {
			return err
		}
	} else if res.Status == "completed" {
		fmt.Fprintf(a.out, "%s %s: %s\n", verb, res.Status, strings.Join(res.IDs, ", "))
	}
	if res.Status != "completed" {
		return fmt.Errorf("%s failed: %s", verb, res.Message)
	}
	return nil
}

// printMerge reports a merge like printMutation, naming the parent.
func (a *app) printMerge(res mcptools.MergeGroupsOutput) error {
	if a.json {
		if err := a.printJSON(res); err != nil {
			return err
		}
	} else if res.Status == "completed" {
		fmt.Fprintf(a.out, "merged into %s: %s\n", res.Parent, strings.Join(res.Children, ", "))
	}
	if res.Status != "completed" {
		return fmt.Errorf("merge failed: %s", res.Message)
	}
	return nil
}

func (a *app) printGroups(groups []store.Group) error {
	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tASSIGNEE\tTITLE")
	for _, g := range groups {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", g.ID(), field(g, "status"), field(g, "assignedTo"), field(g, "title"))
	}
	return tw.Flush()
}

// field renders a top-level group field for a table cell.
func field(g store.Group, key string) string {
	switch v := g[key].(type) {
	case nil:
		return "-"
	case string:
		return v
	case map[string]any:
		for _, k := range []string{"name", "username", "id"} {
			if s, ok := v[k].(string); ok && s != "" {
				return s
			}
		}
	}
	return fmt.Sprint(g[key])
}
