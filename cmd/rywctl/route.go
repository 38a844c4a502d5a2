package main

import (
	"context"

	"github.com/spf13/cobra"

	"rywrouter/pkg/app"
	"rywrouter/pkg/replica"
)

func routeCmd() *cobra.Command {
	var fresh bool

	cmd := &cobra.Command{
		Use:   "route [identity]",
		Short: "Show where a read would be routed now",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var id replica.Identity
			if len(args) == 1 {
				id = replica.Identity(args[0])
			}
			return withRouting(cmd, func(ctx context.Context, r *app.Routing) error {
				printDecision(cmd.OutOrStdout(), r.Router.Decide(ctx, id, fresh))
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&fresh, "fresh", false, "The read requires the caller's own writes")

	return cmd
}
