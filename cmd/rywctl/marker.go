package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"rywrouter/config"
	"rywrouter/pkg/app"
	"rywrouter/pkg/logging"
	"rywrouter/pkg/replica"
	"rywrouter/pkg/router"
)

// openRouting builds the marker store and router from configuration.
// Tests replace it to share one in-memory store across commands.
var openRouting = func(w io.Writer) (*app.Routing, func() error, error) {
	cfg, err := config.Read(configPath)
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.ValidateRouting(); err != nil {
		return nil, nil, err
	}
	r, err := app.OpenRouting(cfg, nil, logging.New(cfg.Logging, w), nil)
	if err != nil {
		return nil, nil, err
	}
	return r, r.Close, nil
}

func withRouting(cmd *cobra.Command, fn func(ctx context.Context, r *app.Routing) error) error {
	r, closeFn, err := openRouting(cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer closeFn()

	ctx, cancel := context.WithTimeout(cmd.Context(), time.Duration(timeout)*time.Second)
	defer cancel()
	return fn(ctx, r)
}

func markerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "marker",
		Short: "Last-write marker operations",
		Long:  "Inspect or record the last-write marker of an identity",
	}

	cmd.AddCommand(markerGetCmd())
	cmd.AddCommand(markerRecordCmd())

	return cmd
}

func markerGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <identity>",
		Short: "Show an identity's last write and where a fresh read goes now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRouting(cmd, func(ctx context.Context, r *app.Routing) error {
				id := replica.Identity(args[0])
				// Lookup surfaces store errors that routing would swallow.
				if _, _, err := r.Tracker.Lookup(ctx, id); err != nil {
					return err
				}
				printDecision(cmd.OutOrStdout(), r.Router.Decide(ctx, id, true))
				return nil
			})
		},
	}
}

func markerRecordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "record <identity>",
		Short: "Record a write for an identity now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRouting(cmd, func(ctx context.Context, r *app.Routing) error {
				at, err := r.Tracker.Record(ctx, replica.Identity(args[0]))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "recorded %s (expires in %s)\n",
					at.Format(time.RFC3339Nano), r.Tracker.Retention())
				return nil
			})
		},
	}
}

func printDecision(w io.Writer, d router.Decision) {
	if d.LastWrite.IsZero() {
		fmt.Fprintln(w, "last write: (none)")
	} else {
		fmt.Fprintf(w, "last write: %s (%s ago)\n", d.LastWrite.Format(time.RFC3339Nano), d.Elapsed)
	}
	fmt.Fprintf(w, "route:      %s (%s)\n", d.Role, d.Reason)
}
