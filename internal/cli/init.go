package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/nick-dorsch/relay/internal/config"
	"github.com/nick-dorsch/relay/pkg/models"
)

// gitignore keeps the database and every lock file out of version control.
// tasks.json and progress.jsonl are meant to be committed.
const gitignore = "relay.db*\n*.lock\n"

func newInitCmd(g *globals) *cobra.Command {
	var (
		goal      string
		tasksFile string
	)
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the project with a goal and its initial tasks",
		Long: `Create .relay/ under the project root, write a default config.yaml if
none exists and initialize the project. Initial tasks come from a YAML or
JSON plan file passed with --tasks:

  goal: ship the parser
  tasks:
    - id: lexer
      name: Write the lexer
      priority: 5
    - id: parser
      name: Write the parser
      dependencies: [lexer]`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var specs []models.TaskSpec
			if tasksFile != "" {
				plan, err := config.LoadPlan(tasksFile)
				if err != nil {
					return err
				}
				if goal == "" {
					goal = plan.Goal
				}
				specs = plan.Tasks
			}
			if goal == "" {
				return fmt.Errorf("a goal is required: pass --goal or set goal in the task file")
			}

			return g.withSession(cmd, func(ctx context.Context, s *session) error {
				p, err := s.coord.InitProject(ctx, goal, specs)
				if err != nil {
					return err
				}
				if err := writeScaffold(g.dir, s.cfg, s.stateDir); err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if g.json {
					return writeJSON(out, p)
				}
				fmt.Fprintf(out, "✓ Initialized project in %s (%s backend)\n", s.stateDir, s.cfg.Backend)
				fmt.Fprintf(out, "  goal:  %s\n", p.Goal)
				fmt.Fprintf(out, "  tasks: %d\n", len(p.Tasks))
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&goal, "goal", "g", "", "what the project is meant to achieve")
	cmd.Flags().StringVarP(&tasksFile, "tasks", "t", "", "YAML or JSON plan file with the initial tasks")
	return cmd
}

// writeScaffold writes the state directory's .gitignore and, when missing,
// config.yaml with the current flag overrides baked in. It runs only after
// a successful init so a second init leaves both files alone.
func writeScaffold(root string, cfg *config.Config, stateDir string) error {
	if err := os.WriteFile(filepath.Join(stateDir, ".gitignore"), []byte(gitignore), 0o644); err != nil {
		return fmt.Errorf("failed to create .gitignore: %w", err)
	}
	if _, err := os.Stat(config.Path(root)); os.IsNotExist(err) {
		return config.Save(root, cfg)
	}
	return nil
}
