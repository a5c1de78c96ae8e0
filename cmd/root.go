package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/agentic-research/kiln/internal/build"
	"github.com/agentic-research/kiln/internal/builder"
	"github.com/agentic-research/kiln/internal/ctxlog"
	"github.com/agentic-research/kiln/internal/entity"
	"github.com/agentic-research/kiln/internal/manifest"
	"github.com/agentic-research/kiln/internal/node"
	"github.com/agentic-research/kiln/internal/store"
)

const defaultStore = ".kiln/state.db"

var (
	manifestPath string
	storePath    string
	jobs         int
	verbose      bool
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&manifestPath, "file", "f", manifest.DefaultFile, "Path to the build manifest")
	rootCmd.PersistentFlags().StringVar(&storePath, "store", defaultStore, "State database, relative to the manifest directory")
	rootCmd.PersistentFlags().IntVarP(&jobs, "jobs", "j", 0, "Parallel jobs (default GOMAXPROCS)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Debug logging")
}

var rootCmd = &cobra.Command{
	Use:           "kiln",
	Short:         "kiln: incremental builds that only redo what changed",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
		cmd.SetContext(ctxlog.WithLogger(cmd.Context(), logger))
		return nil
	},
}

// session is a loaded manifest with its store open.
type session struct {
	plan   *manifest.Plan
	store  *store.SQLite
	runner *build.Runner
}

func (s *session) Close() error { return s.store.Close() }

// ids resolves step arguments; no arguments selects every step.
func (s *session) ids(steps []string) ([]node.ID, error) {
	return s.plan.IDs(steps...)
}

func open(cmd *cobra.Command) (*session, error) {
	ctx := cmd.Context()

	m, root, err := manifest.Load(ctx, manifestPath)
	if err != nil {
		return nil, err
	}

	path := storePath
	if !cmd.Flags().Changed("store") && m.Store != "" {
		path = m.Store
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(root, path)
	}

	f, err := builder.NewFactory(entity.KindChecksum, true, builder.DefaultCacheSize)
	if err != nil {
		return nil, err
	}
	plan, err := manifest.Build(m, root, f)
	if err != nil {
		return nil, err
	}

	db, err := store.OpenSQLite(path)
	if err != nil {
		return nil, err
	}
	ctxlog.FromContext(ctx).Debug("Opened store.", "path", path, "steps", len(plan.Order))

	return &session{
		plan:   plan,
		store:  db,
		runner: &build.Runner{Store: db, Jobs: jobs},
	}, nil
}

// Execute runs the root command.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
