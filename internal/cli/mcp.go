package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nick-dorsch/relay/embed/prompts"
	"github.com/nick-dorsch/relay/internal/mcp"
)

func newMCPCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the relay tools over MCP on stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withSession(cmd, func(ctx context.Context, s *session) error {
				return mcp.Serve(mcp.NewServer(s.coord, Version))
			})
		},
	}
}

func newPromptCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "prompt",
		Short: "Print the worker prompt",
		Long:  "Print the prompt that tells a worker how to take one turn of the relay.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprint(cmd.OutOrStdout(), prompts.Worker)
			return err
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "relay version %s\n", Version)
		},
	}
}
