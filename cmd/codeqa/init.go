package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/codeqa/internal/config"
)

const configTemplate = `# codeqa configuration. Environment variables override these values;
# SECTION_KEY maps to section.key (EMBEDDINGS_MODE sets embeddings.mode).

storage:
  # index_dir: ~/.local/share/codeqa/indexes
  # repos_dir: ~/.local/share/codeqa/repos
  backend: chromem        # chromem or qdrant

# qdrant:
#   host: localhost
#   port: 6334

# openai:
#   api_key is normally taken from OPENAI_API_KEY.
#   base_url: https://api.openai.com/v1

embeddings:
  mode: auto              # auto, remote, local, deterministic
  model: text-embedding-ada-002
  local_model: BAAI/bge-small-en-v1.5

chunking:
  max_tokens: 300
  overlap_tokens: 50
  tokenizer: tiktoken     # tiktoken or chars

ingestion:
  max_file_size: 262144
  include: ["**/*.py", "**/*.ts", "**/*.js", "**/*.go"]
  exclude: [".git/**", "node_modules/**", "dist/**", "build/**", ".venv/**"]
  redact_secrets: true    # replace detected credentials before embedding
  # secret_allowlist: ["EXAMPLE_KEY"]

answer:
  mode: auto              # auto, llm, mock
  model: gpt-4o-mini
  temperature: 0.1

query:
  default_k: 6

server:
  host: localhost
  port: 9191

logging:
  level: info
  format: console

telemetry:
  enabled: false
  endpoint: localhost:4317
`

func newInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter config file",
		Long:  "Create ~/.config/codeqa/config.yaml with commented defaults and 0600 permissions.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := config.DefaultPath()
			if err != nil {
				return err
			}
			if err := config.EnsureConfigDir(); err != nil {
				return err
			}

			flags := os.O_WRONLY | os.O_CREATE | os.O_EXCL
			if force {
				flags = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
			}
			f, err := os.OpenFile(path, flags, 0600)
			if errors.Is(err, fs.ErrExist) {
				fmt.Fprintf(cmd.OutOrStdout(), "Config already exists at %s (use --force to overwrite)\n", path)
				return nil
			}
			if err != nil {
				return fmt.Errorf("failed to create config file: %w", err)
			}
			if _, err := f.WriteString(configTemplate); err != nil {
				f.Close()
				return fmt.Errorf("failed to write config file: %w", err)
			}
			if err := f.Close(); err != nil {
				return err
			}
			// O_TRUNC keeps the old mode.
			if err := os.Chmod(path, 0600); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	return cmd
}
