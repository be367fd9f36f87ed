package cli

import (
	"context"
	"fmt"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nick-dorsch/relay/internal/config"
	"github.com/nick-dorsch/relay/internal/worker"
)

func newRunCmd(g *globals) *cobra.Command {
	var maxIterations int
	cmd := &cobra.Command{
		Use:   "run [flags] [-- agent command...]",
		Short: "Hand tasks to agent processes one at a time",
		Long: `Claim the next eligible task, start the agent command with the worker
prompt on stdin and wait for it to exit. Repeat until every task is done or
nothing can be claimed. The agent finishes its task through the relay tools;
a task it leaves executing is marked blocked.

The agent command comes from the arguments after -- or from the agent
setting in config.yaml. RELAY_TASK_ID and RELAY_DIR are set for it.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withSession(cmd, func(ctx context.Context, s *session) error {
				agent := args
				if len(agent) == 0 {
					agent = s.cfg.Agent
				}
				if len(agent) == 0 {
					return fmt.Errorf("no agent command: pass it after -- or set agent in %s", config.FileName)
				}

				root, err := filepath.Abs(g.dir)
				if err != nil {
					return err
				}

				ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
				defer stop()

				w := worker.NewWorker(s.coord, agent,
					worker.WithMaxIterations(maxIterations),
					worker.WithOutput(cmd.ErrOrStderr()),
					worker.WithDir(root),
					worker.WithLogger(s.logger),
				)
				sum, err := w.Run(ctx)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				if g.json {
					return writeJSON(out, sum)
				}
				fmt.Fprintf(out, "✓ Relay stopped (%s) after %d iterations\n", sum.Reason, sum.Iterations)
				fmt.Fprintf(out, "  completed: %d\n", len(sum.Completed))
				if len(sum.Blocked) > 0 {
					fmt.Fprintf(out, "  blocked:   %v\n", sum.Blocked)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&maxIterations, "max-iterations", "m", 0, "stop after this many tasks (0 = no limit)")
	return cmd
}
