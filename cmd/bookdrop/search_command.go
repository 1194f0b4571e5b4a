package main

import (
	"context"
	"strings"

	"github.com/spf13/cobra"

	"bookdrop/internal/workflow"
)

func newSearchCommand(ctx *commandContext) *cobra.Command {
	var opts pipelineOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Find one book by title and deliver it without crawling the wishlist",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			return runPipeline(cmd, ctx, opts, func(runCtx context.Context, manager *workflow.Manager) (*workflow.RunSummary, error) {
				return manager.Search(runCtx, query)
			})
		},
	}

	opts.bind(cmd)
	return cmd
}
