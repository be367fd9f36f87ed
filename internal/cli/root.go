// Package cli implements the relay command tree.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/nick-dorsch/relay/internal/config"
	"github.com/nick-dorsch/relay/internal/coordinator"
	"github.com/nick-dorsch/relay/internal/db"
	"github.com/nick-dorsch/relay/internal/logging"
	"github.com/nick-dorsch/relay/internal/progress"
	"github.com/nick-dorsch/relay/internal/store"
	"github.com/nick-dorsch/relay/pkg/models"
)

// Version is set at build time via ldflags.
var Version = "dev"

// ExitRetry is the exit status for errors worth retrying (EX_TEMPFAIL).
const ExitRetry = 75

// globals are the persistent flags shared by every command.
type globals struct {
	dir      string
	backend  string
	logLevel string
	json     bool
}

// NewRootCmd builds the command tree. Each call returns a fresh tree with
// its own flag state.
func NewRootCmd() *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:   "relay",
		Short: "Task relay for memoryless workers",
		Long: `Relay keeps a dependency-ordered task list and a progress log on disk so
that a sequence of short-lived workers can carry a project forward one task
at a time. Each worker reads the state, claims the next eligible task, does
the work and completes it with a hint for whoever comes next.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       Version,
	}
	root.SetVersionTemplate("relay version {{.Version}}\n")

	pf := root.PersistentFlags()
	pf.StringVarP(&g.dir, "dir", "C", ".", "project root containing .relay/")
	pf.StringVar(&g.backend, "backend", "", "storage backend: file or sqlite (overrides config)")
	pf.StringVar(&g.logLevel, "log-level", "", "log level: debug, info, warn, error (overrides config)")
	pf.BoolVar(&g.json, "json", false, "print results as JSON")

	root.AddCommand(
		newInitCmd(g),
		newStateCmd(g),
		newNextCmd(g),
		newClaimCmd(g),
		newCompleteCmd(g),
		newAddCmd(g),
		newSetStatusCmd(g),
		newShowCmd(g),
		newRunCmd(g),
		newMCPCmd(g),
		newServeCmd(g),
		newWatchCmd(g),
		newPromptCmd(),
		newDBCmd(g),
		newVersionCmd(),
	)
	return root
}

// Execute runs the root command with os.Args.
func Execute() error {
	return NewRootCmd().Execute()
}

// ExitCode maps an error returned by Execute to a process exit status.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case models.IsRetryable(err):
		return ExitRetry
	default:
		return 1
	}
}

// loadConfig reads the config file and applies flag overrides.
func (g *globals) loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(g.dir)
	if err != nil {
		return nil, err
	}
	if g.backend != "" {
		cfg.Backend = g.backend
	}
	if g.logLevel != "" {
		cfg.LogLevel = g.logLevel
	}
	if err := config.ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// session is an opened state directory.
type session struct {
	cfg      *config.Config
	stateDir string
	logger   *slog.Logger
	coord    *coordinator.Coordinator
	close    func() error
}

func (g *globals) open(ctx context.Context, stderr io.Writer) (*session, error) {
	cfg, err := g.loadConfig()
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(stderr, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, err
	}
	stateDir := cfg.StatePath(g.dir)
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	opts := []coordinator.Option{
		coordinator.WithLogger(logger),
		coordinator.WithTailSize(cfg.TailSize),
	}
	if cfg.Locking {
		opts = append(opts, coordinator.WithLocker(store.NewLocker(filepath.Join(stateDir, store.LockFile))))
	}

	s := &session{cfg: cfg, stateDir: stateDir, logger: logger, close: func() error { return nil }}
	switch cfg.Backend {
	case config.BackendSQLite:
		database, err := db.OpenDir(ctx, stateDir)
		if err != nil {
			return nil, err
		}
		if cfg.SnapshotOnCommit {
			database.EnableAutoSnapshot(stateDir)
		}
		s.coord = coordinator.New(database, database, opts...)
		s.close = database.Close
	default:
		s.coord = coordinator.New(store.NewFileBackend(stateDir), progress.NewFileLog(stateDir), opts...)
	}
	logger.Debug("state directory opened", "dir", stateDir, "backend", cfg.Backend)
	return s, nil
}

// withSession opens the state directory for the duration of fn.
func (g *globals) withSession(cmd *cobra.Command, fn func(ctx context.Context, s *session) error) (err error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	s, err := g.open(ctx, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(ctx, s)
}
