package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/codeqa/internal/answer"
	"github.com/fyrsmithlabs/codeqa/internal/logging"
	"github.com/fyrsmithlabs/codeqa/internal/query"
)

type queryFlags struct {
	repos        []string
	k            int
	showSnippets bool
}

func (f *queryFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringSliceVarP(&f.repos, "repo", "r", nil, "repository id to search (repeatable, required)")
	cmd.Flags().IntVarP(&f.k, "k", "k", 0, "number of chunks to retrieve, 1-20 (default from config)")
	_ = cmd.MarkFlagRequired("repo")
}

func (f *queryFlags) request(question string) (query.Request, error) {
	if f.k != 0 && (f.k < 1 || f.k > 20) {
		return query.Request{}, fmt.Errorf("--k must be between 1 and 20, got %d", f.k)
	}
	return query.Request{Question: question, RepoIDs: f.repos, K: f.k}, nil
}

func newQueryCmd(opts *rootOptions) *cobra.Command {
	f := &queryFlags{}
	cmd := &cobra.Command{
		Use:   "query <question>",
		Short: "Ask a question about indexed repositories",
		Long: `Ask a question and get an answer that cites file:line ranges.

Examples:
  codeqa query "How are requests authenticated?" --repo api
  codeqa query "Where is the users table defined?" -r api -r web -k 10 --snippets`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := f.request(strings.Join(args, " "))
			if err != nil {
				return err
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				ctx = logging.WithRepoIDs(ctx, req.RepoIDs)
				resp := a.registry.Orchestrator().Query(ctx, req)
				logging.FromContext(ctx).Debug(ctx, "query complete",
					zap.String("request_id", resp.RequestID),
					zap.Int("citations", len(resp.Citations)),
					zap.Int64("latency_ms", resp.LatencyMS))
				if opts.jsonOutput {
					return printJSON(cmd.OutOrStdout(), resp)
				}
				printResponse(cmd.OutOrStdout(), resp, f.showSnippets)
				return nil
			})
		},
	}
	f.register(cmd)
	cmd.Flags().BoolVar(&f.showSnippets, "snippets", false, "print the code window around each citation")
	return cmd
}

func newSearchCmd(opts *rootOptions) *cobra.Command {
	f := &queryFlags{}
	cmd := &cobra.Command{
		Use:   "search <text>",
		Short: "List the chunks most similar to text, without an answer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := f.request(strings.Join(args, " "))
			if err != nil {
				return err
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				results, err := a.registry.Orchestrator().SearchOnly(ctx, req)
				if err != nil {
					return err
				}
				if opts.jsonOutput {
					return printJSON(cmd.OutOrStdout(), results)
				}
				out := cmd.OutOrStdout()
				if len(results) == 0 {
					fmt.Fprintln(out, "No matching chunks.")
					return nil
				}
				for i, c := range results {
					fmt.Fprintf(out, "%2d. %s  (score %.3f)\n", i+1, citationLabel(c), c.Score)
				}
				return nil
			})
		},
	}
	f.register(cmd)
	return cmd
}

func citationLabel(c answer.Citation) string {
	return c.RepoID + "/" + c.Ref()
}

func printResponse(w io.Writer, resp query.Response, showSnippets bool) {
	fmt.Fprintln(w, resp.Answer)
	if len(resp.Citations) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Citations:")
		for _, c := range resp.Citations {
			fmt.Fprintf(w, "  - %s\n", citationLabel(c))
			if c.Preview != "" && !showSnippets {
				for _, line := range strings.Split(c.Preview, "\n") {
					fmt.Fprintf(w, "      %s\n", line)
				}
			}
		}
	}
	if showSnippets {
		for _, s := range resp.Snippets {
			fmt.Fprintf(w, "\n--- %s/%s:%d-%d\n%s\n", s.RepoID, s.Path, s.WindowStart, s.WindowEnd, s.Code)
		}
	}
	fmt.Fprintf(w, "\n(%s mode, %d ms)\n", resp.Mode, resp.LatencyMS)
}
