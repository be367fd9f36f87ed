package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nick-dorsch/relay/internal/server"
)

func newServeCmd(g *globals) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve a read-only JSON view of the relay over HTTP",
		Long: `Serve the project state over HTTP:

  GET /api/state                     state as returned by read_state
  GET /api/next                      the task that would be claimed next
  GET /api/tasks[?status=...]        all tasks, optionally filtered
  GET /api/tasks/{id}                one task
  GET /api/tasks/{id}/dependencies   the tasks it depends on
  GET /api/tasks/{id}/dependents     the tasks waiting on it`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withSession(cmd, func(ctx context.Context, s *session) error {
				ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
				defer stop()

				srv := server.NewServer(s.coord, s.logger)
				errCh := make(chan error, 1)
				go func() { errCh <- srv.Start(addr) }()
				fmt.Fprintf(cmd.OutOrStdout(), "Serving relay state on http://%s\n", addr)

				select {
				case err := <-errCh:
					return err
				case <-ctx.Done():
				}
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:7777", "listen address")
	return cmd
}
