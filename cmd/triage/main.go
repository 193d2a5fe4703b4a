package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/dusk-indust/triage/internal/api"
	"github.com/dusk-indust/triage/internal/config"
	"github.com/dusk-indust/triage/internal/grouping"
	"github.com/dusk-indust/triage/internal/logging"
	"github.com/dusk-indust/triage/internal/mcptools"
	"github.com/dusk-indust/triage/internal/store"
	"github.com/spf13/cobra"
)

// version is set by the linker at build time.
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

// rootOptions are the persistent flags shared by every subcommand.
type rootOptions struct {
	configDir string
	org       string
	project   string
	logLevel  string
	json      bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "triage",
		Short: "Bulk-edit, merge and unmerge issue groups against a tracker API",
		Long: `triage talks to a Sentry-style issue tracker. Mutations are applied
optimistically to a local store and rolled back when the server rejects them.
Settings come from triage.yml, .env and TRIAGE_* environment variables.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&opts.configDir, "config-dir", ".", "directory holding triage.yml and .env")
	pf.StringVar(&opts.org, "org", "", "organization slug (overrides TRIAGE_ORG)")
	pf.StringVar(&opts.project, "project", "", "project slug (overrides TRIAGE_PROJECT)")
	pf.StringVar(&opts.logLevel, "log-level", "", "debug, info, warn or error (overrides TRIAGE_LOG_LEVEL)")
	pf.BoolVar(&opts.json, "json", false, "print results as JSON")

	root.AddCommand(
		newListCmd(opts),
		newGetCmd(opts),
		newUpdateCmd(opts),
		newDeleteCmd(opts),
		newMergeCmd(opts),
		newAssignCmd(opts),
		newSimilarCmd(opts),
		newMergeSimilarCmd(opts),
		newUnmergeCmd(opts),
		newServeMCPCmd(opts),
		newVersionCmd(),
	)
	return root
}

// app is the wired object graph a command runs against.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	store  *store.Store
	client *api.Client
	svc    *mcptools.TriageService

	out  io.Writer
	json bool
}

func newApp(cfg *config.Config, stderr io.Writer) *app {
	logger := logging.New(stderr, cfg.LogFormat, cfg.LogLevel)
	reporter := store.LogReporter{Logger: logger}

	st := store.New(
		store.WithLogger(logger),
		store.WithNotifier(store.LogNotifier{Logger: logger}),
		store.WithReporter(reporter),
	)
	client := api.NewClient(cfg.BaseURL, st,
		api.WithToken(cfg.Token),
		api.WithTimeout(cfg.Timeout),
		api.WithLogger(logger),
		api.WithReporter(reporter),
		api.WithConcurrency(cfg.Concurrency),
	)
	svc := mcptools.NewTriageService(client, st, mcptools.ServiceConfig{
		OrgID:     cfg.OrgID,
		ProjectID: cfg.ProjectID,
		Policy: grouping.Policy{
			KeepOneUnmerged: cfg.KeepOneUnmerged,
			MinScore:        cfg.MinScore,
		},
		Logger: logger,
	})

	return &app{cfg: cfg, logger: logger, store: st, client: client, svc: svc}
}

type runFunc func(ctx context.Context, a *app, args []string) error

// withApp loads the configuration, applies flag overrides and builds the app
// before handing off to fn.
func withApp(opts *rootOptions, fn runFunc) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(opts.configDir)
		if err != nil {
			return err
		}
		if opts.org != "" {
			cfg.OrgID = opts.org
		}
		if opts.project != "" {
			cfg.ProjectID = opts.project
		}
		if opts.logLevel != "" {
			cfg.LogLevel = opts.logLevel
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		a := newApp(cfg, cmd.ErrOrStderr())
		a.out = cmd.OutOrStdout()
		a.json = opts.json
		return fn(cmd.Context(), a, args)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), version)
			return err
		},
	}
}
