package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nick-dorsch/relay/internal/scheduler"
	"github.com/nick-dorsch/relay/pkg/models"
)

func newStateCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:     "state",
		Aliases: []string{"status"},
		Short:   "Show the project, its tasks and recent progress",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withSession(cmd, func(ctx context.Context, s *session) error {
				st, err := s.coord.ReadState(ctx)
				if err != nil {
					return err
				}
				if g.json {
					return writeJSON(cmd.OutOrStdout(), st)
				}
				printState(cmd.OutOrStdout(), st)
				return nil
			})
		},
	}
}

func newNextCmd(g *globals) *cobra.Command {
	var claim bool
	cmd := &cobra.Command{
		Use:   "next",
		Short: "Show the task to work on next",
		Long: `Show the highest-priority pending task whose dependencies are all
completed. With --claim the task is also marked executing in the same step.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withSession(cmd, func(ctx context.Context, s *session) error {
				var (
					res scheduler.Result
					err error
				)
				if claim {
					res, err = s.coord.ClaimNext(ctx)
				} else {
					res, err = s.coord.GetNextTask(ctx)
				}
				if err != nil {
					return err
				}
				if g.json {
					return writeJSON(cmd.OutOrStdout(), res)
				}
				printResult(cmd.OutOrStdout(), res)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&claim, "claim", false, "mark the selected task executing")
	return cmd
}

func newClaimCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "claim <task-id>",
		Short: "Mark an eligible pending task as executing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withSession(cmd, func(ctx context.Context, s *session) error {
				t, err := s.coord.ClaimTask(ctx, args[0])
				if err != nil {
					return err
				}
				return g.printTask(cmd, t, "Claimed")
			})
		},
	}
}

func newCompleteCmd(g *globals) *cobra.Command {
	var summary, hint string
	cmd := &cobra.Command{
		Use:   "complete <task-id>",
		Short: "Complete a task and leave a hint for the next worker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withSession(cmd, func(ctx context.Context, s *session) error {
				t, err := s.coord.CompleteTask(ctx, args[0], summary, hint)
				if err != nil {
					return err
				}
				return g.printTask(cmd, t, "Completed")
			})
		},
	}
	cmd.Flags().StringVarP(&summary, "summary", "s", "", "what was done")
	cmd.Flags().StringVar(&hint, "hint", "", "advice for the next worker")
	_ = cmd.MarkFlagRequired("summary")
	return cmd
}

func newAddCmd(g *globals) *cobra.Command {
	var spec models.TaskSpec
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a pending task",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withSession(cmd, func(ctx context.Context, s *session) error {
				t, err := s.coord.AddTask(ctx, spec)
				if err != nil {
					return err
				}
				return g.printTask(cmd, t, "Added")
			})
		},
	}
	cmd.Flags().StringVar(&spec.ID, "id", "", "task id (generated when empty)")
	cmd.Flags().StringVarP(&spec.Name, "name", "n", "", "short task name")
	cmd.Flags().StringVarP(&spec.Description, "description", "d", "", "what the task involves")
	cmd.Flags().IntVarP(&spec.Priority, "priority", "p", 0, "higher runs first")
	cmd.Flags().StringSliceVar(&spec.Dependencies, "dep", nil, "id of a task that must complete first (repeatable)")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newSetStatusCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "set-status <task-id> <pending|executing|blocked>",
		Short: "Change a task's status manually",
		Long: `Change a task's status outside the claim and complete flow, for example
to block a task that cannot proceed or to return an abandoned executing task
to pending. Use "relay complete" to complete a task.`,
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{string(models.TaskStatusPending), string(models.TaskStatusExecuting), string(models.TaskStatusBlocked)},
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withSession(cmd, func(ctx context.Context, s *session) error {
				t, err := s.coord.UpdateTaskStatus(ctx, args[0], models.TaskStatus(args[1]))
				if err != nil {
					return err
				}
				return g.printTask(cmd, t, "Updated")
			})
		},
	}
}

func newShowCmd(g *globals) *cobra.Command {
	var deps, dependents bool
	cmd := &cobra.Command{
		Use:   "show <task-id>",
		Short: "Show a task, its dependencies or its dependents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withSession(cmd, func(ctx context.Context, s *session) error {
				out := cmd.OutOrStdout()
				var (
					key   string
					tasks []*models.Task
					err   error
				)
				switch {
				case deps:
					key = "dependencies"
					tasks, err = s.coord.Dependencies(ctx, args[0])
				case dependents:
					key = "dependents"
					tasks, err = s.coord.Dependents(ctx, args[0])
				default:
					t, err := s.coord.GetTask(ctx, args[0])
					if err != nil {
						return err
					}
					return g.printTask(cmd, t, "")
				}
				if err != nil {
					return err
				}
				if g.json {
					return writeJSON(out, map[string]any{key: tasks})
				}
				printTaskTable(out, tasks)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&deps, "deps", false, "list the tasks this task depends on")
	cmd.Flags().BoolVar(&dependents, "dependents", false, "list the tasks that depend on this task")
	cmd.MarkFlagsMutuallyExclusive("deps", "dependents")
	return cmd
}

func (g *globals) printTask(cmd *cobra.Command, t *models.Task, verb string) error {
	out := cmd.OutOrStdout()
	if g.json {
		return writeJSON(out, t)
	}
	if verb != "" {
		fmt.Fprintf(out, "✓ %s %s\n", verb, t.ID)
	}
	printTask(out, t)
	return nil
}
