package main

import (
	"context"
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newReposCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "repos",
		Short: "List indexed repositories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				repos, err := a.registry.Stores().ListRepositories()
				if err != nil {
					return err
				}
				if opts.jsonOutput {
					return printJSON(cmd.OutOrStdout(), map[string]any{"repositories": repos})
				}
				if len(repos) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No repositories indexed.")
					return nil
				}
				for _, id := range repos {
					fmt.Fprintln(cmd.OutOrStdout(), id)
				}
				return nil
			})
		},
	}
}

func newStatsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show index and backend statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				agg, err := a.registry.Stores().AllStats(ctx)
				if err != nil {
					return err
				}
				backends := a.registry.Orchestrator().Stats()
				if opts.jsonOutput {
					return printJSON(cmd.OutOrStdout(), map[string]any{
						"storage":  agg,
						"backends": backends,
					})
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Repositories: %d\n", agg.TotalRepositories)
				fmt.Fprintf(out, "Chunks:       %d\n", agg.TotalChunks)
				fmt.Fprintf(out, "Files:        %d\n", agg.TotalFiles)
				fmt.Fprintf(out, "Disk:         %s\n", humanBytes(agg.TotalDiskSize))
				if e := backends.Embeddings; e != nil {
					fmt.Fprintf(out, "Embeddings:   %s (dimension %d)", e.ActiveMode, e.Dimension)
					if e.Degraded {
						fmt.Fprintf(out, ", degraded from %s", e.RequestedMode)
					}
					fmt.Fprintln(out)
				}
				if an := backends.Answer; an != nil {
					fmt.Fprintf(out, "Answers:      %s", an.Mode)
					if an.Model != "" {
						fmt.Fprintf(out, " (%s)", an.Model)
					}
					fmt.Fprintln(out)
				}

				if len(agg.Repositories) == 0 {
					return nil
				}
				fmt.Fprintln(out)
				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "REPO\tCHUNKS\tFILES\tBACKEND\tLANGUAGES")
				for _, r := range agg.Repositories {
					fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t%s\n", r.RepoID, r.TotalChunks, r.UniqueFiles, r.Backend, languageSummary(r.Languages))
				}
				return tw.Flush()
			})
		},
	}
}

func newDeleteCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <repo-id>",
		Short: "Delete a repository's index",
		Long: `Delete a repository's index and its entry in the repos directory.

Cloned repositories are removed. For local sources only the link is removed;
the source directory is left untouched.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				if err := a.registry.Delete(ctx, args[0]); err != nil {
					return err
				}
				if opts.jsonOutput {
					return printJSON(cmd.OutOrStdout(), map[string]string{"deleted": args[0]})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
				return nil
			})
		},
	}
}

func languageSummary(langs map[string]int) string {
	if len(langs) == 0 {
		return "-"
	}
	names := make([]string, 0, len(langs))
	for l := range langs {
		names = append(names, l)
	}
	sort.Slice(names, func(i, j int) bool {
		if langs[names[i]] != langs[names[j]] {
			return langs[names[i]] > langs[names[j]]
		}
		return names[i] < names[j]
	})
	s := ""
	for i, l := range names {
		if i == 3 {
			s += fmt.Sprintf(", +%d", len(names)-3)
			break
		}
		if i > 0 {
			s += ", "
		}
		s += fmt.Sprintf("%s:%d", l, langs[l])
	}
	return s
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
