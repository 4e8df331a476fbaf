package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/log/global"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/codeqa/internal/config"
	"github.com/fyrsmithlabs/codeqa/internal/logging"
	"github.com/fyrsmithlabs/codeqa/internal/services"
	"github.com/fyrsmithlabs/codeqa/internal/telemetry"
)

// rootOptions holds the persistent flags.
type rootOptions struct {
	configPath string
	logLevel   string
	jsonOutput bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "codeqa",
		Short: "Ask questions about source code and get cited answers",
		Long: `codeqa indexes source repositories and answers natural-language questions
about them. Answers cite file and line ranges, and each citation comes with
the surrounding code.

Configuration is read from ~/.config/codeqa/config.yaml and environment
variables such as OPENAI_API_KEY, EMBEDDINGS_MODE or STORAGE_INDEX_DIR.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "config file (default ~/.config/codeqa/config.yaml)")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level: trace, debug, info, warn, error")
	flags.BoolVar(&opts.jsonOutput, "json", false, "print results as JSON")

	cmd.AddCommand(
		newIngestCmd(opts),
		newQueryCmd(opts),
		newSearchCmd(opts),
		newReposCmd(opts),
		newStatsCmd(opts),
		newDeleteCmd(opts),
		newServeCmd(opts),
		newInitCmd(),
		newVersionCmd(),
	)
	return cmd
}

// app is what a command needs at runtime.
type app struct {
	cfg       *config.Config
	logger    *logging.Logger
	telemetry *telemetry.Telemetry
	registry  services.Registry
}

func newApp(ctx context.Context, opts *rootOptions) (*app, error) {
	cfg, err := config.LoadWithFile(opts.configPath)
	if err != nil {
		return nil, err
	}

	level := cfg.Logging.Level
	if opts.logLevel != "" {
		level = opts.logLevel
	}
	logCfg, err := logging.FromSettings(level, cfg.Logging.Format)
	if err != nil {
		return nil, fmt.Errorf("invalid logging configuration: %w", err)
	}
	logCfg.Fields["version"] = version
	logCfg.Output.OTEL = cfg.Telemetry.Enabled
	logger, err := logging.NewLogger(logCfg, global.GetLoggerProvider())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	zl := logger.Underlying()

	tel, err := telemetry.New(ctx, telemetryConfig(cfg), zl.Named("telemetry"))
	if err != nil {
		return nil, err
	}

	reg, err := services.Build(ctx, cfg, zl)
	if err != nil {
		return nil, errors.Join(err, tel.Shutdown(context.Background()))
	}

	zl.Debug("codeqa initialized",
		zap.String("index_dir", cfg.Storage.IndexDir),
		zap.String("backend", cfg.Storage.Backend),
		logging.Secret("openai_key", cfg.OpenAI.APIKey))
	return &app{cfg: cfg, logger: logger, telemetry: tel, registry: reg}, nil
}

func (a *app) Close() error {
	err := errors.Join(
		a.registry.Close(),
		a.telemetry.Shutdown(context.Background()),
	)
	_ = a.logger.Sync()
	return err
}

// withApp runs fn with a fully built app and closes it afterwards.
func withApp(cmd *cobra.Command, opts *rootOptions, fn func(ctx context.Context, a *app) error) (err error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := newApp(ctx, opts)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(logging.WithLogger(ctx, a.logger), a)
}

func telemetryConfig(cfg *config.Config) *telemetry.Config {
	t := telemetry.NewDefaultConfig()
	t.Enabled = cfg.Telemetry.Enabled
	t.Endpoint = cfg.Telemetry.Endpoint
	t.Protocol = cfg.Telemetry.Protocol
	t.Insecure = cfg.Telemetry.Insecure
	t.SamplingRate = cfg.Telemetry.SamplingRate
	t.ServiceVersion = version
	return t
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "codeqa by Fyrsmith Labs\n")
			fmt.Fprintf(out, "Version:    %s\n", version)
			fmt.Fprintf(out, "Commit:     %s\n", gitCommit)
			fmt.Fprintf(out, "Build Date: %s\n", buildDate)
		},
	}
}
