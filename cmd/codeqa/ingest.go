package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/codeqa/internal/services"
)

func newIngestCmd(opts *rootOptions) *cobra.Command {
	var req services.IngestRequest
	cmd := &cobra.Command{
		Use:   "ingest <path-url-or-archive>",
		Short: "Index a repository",
		Long: `Index a local directory, a remote git repository or a source archive.

Remote repositories are shallow-cloned into the repos directory and
.zip, .tar.gz or .tgz archives are unpacked there. Local directories are
linked there so answers can show surrounding code.
Re-ingesting appends to the existing index; delete the repository first
to rebuild it.

Examples:
  # Index the current directory
  codeqa ingest .

  # Index a GitHub repository at a tag
  codeqa ingest https://github.com/acme/api --ref v1.2.0

  # Index a release tarball
  codeqa ingest ./api-1.2.0.tar.gz

  # Only Go files, under a chosen id
  codeqa ingest ~/src/api --repo-id api --include '**/*.go'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Source = args[0]
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				res, err := a.registry.Ingest(ctx, req)
				if err != nil {
					return err
				}
				if opts.jsonOutput {
					return printJSON(cmd.OutOrStdout(), res)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Ingested %s", res.RepoID)
				if res.Revision != "" {
					fmt.Fprintf(out, " at %.12s", res.Revision)
				}
				fmt.Fprintln(out)
				fmt.Fprintf(out, "  files processed: %d\n", res.FilesProcessed)
				fmt.Fprintf(out, "  chunks stored:   %d\n", res.ChunksStored)
				fmt.Fprintf(out, "  files skipped:   %d\n", res.FilesSkipped)
				if res.SecretsRedacted > 0 {
					fmt.Fprintf(out, "  secrets redacted: %d\n", res.SecretsRedacted)
				}
				if res.FilesFailed > 0 || res.BatchesFailed > 0 {
					fmt.Fprintf(out, "  files failed:    %d (%d batches)\n", res.FilesFailed, res.BatchesFailed)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&req.RepoID, "repo-id", "", "repository id (default derived from the source)")
	cmd.Flags().StringVar(&req.Ref, "ref", "", "branch or tag to clone for remote sources")
	cmd.Flags().StringSliceVar(&req.Include, "include", nil, "glob patterns of files to index (repeatable)")
	cmd.Flags().StringSliceVar(&req.Exclude, "exclude", nil, "glob patterns of files to skip (repeatable)")
	return cmd
}
