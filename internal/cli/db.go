package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nick-dorsch/relay/internal/db"
)

func newDBCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Move the project between the sqlite database and plain files",
	}
	cmd.AddCommand(newDBExportCmd(g), newDBImportCmd(g))
	return cmd
}

func newDBExportCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "export [dir]",
		Short: "Write tasks.json and progress.jsonl from the database",
		Long: `Write the database's project and progress log as tasks.json and
progress.jsonl. The target defaults to the state directory.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withDB(cmd, func(ctx context.Context, database *db.DB, stateDir string) error {
				dir := stateDir
				if len(args) > 0 {
					dir = args[0]
				}
				if err := database.ExportSnapshot(ctx, dir); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "✓ Exported snapshot to %s\n", dir)
				return nil
			})
		},
	}
}

func newDBImportCmd(g *globals) *cobra.Command {
	var replace bool
	cmd := &cobra.Command{
		Use:   "import [dir]",
		Short: "Load tasks.json and progress.jsonl into the database",
		Long: `Load tasks.json and progress.jsonl into the database. The source
defaults to the state directory, which turns a file-backed project into a
sqlite one. Importing over an existing project needs --replace.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withDB(cmd, func(ctx context.Context, database *db.DB, stateDir string) error {
				dir := stateDir
				if len(args) > 0 {
					dir = args[0]
				}
				if err := database.ImportSnapshot(ctx, dir, replace); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "✓ Imported snapshot from %s\n", dir)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&replace, "replace", false, "overwrite a project already in the database")
	return cmd
}

// withDB opens the state directory's database regardless of the configured
// backend.
func (g *globals) withDB(cmd *cobra.Command, fn func(ctx context.Context, database *db.DB, stateDir string) error) (err error) {
	cfg, err := g.loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	stateDir := cfg.StatePath(g.dir)
	database, err := db.OpenDir(ctx, stateDir)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := database.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(ctx, database, stateDir)
}
