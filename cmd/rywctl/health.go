package main

import (
	"context"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	client "rywrouter/clients/go"
	"rywrouter/pkg/server"
)

func healthCmd() *cobra.Command {
	var service string

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check the server's gRPC health status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), time.Duration(timeout)*time.Second)
			defer cancel()

			c, err := client.New(ctx, serverAddr, nil)
			if err != nil {
				return errors.Wrapf(err, "connect to %s", serverAddr)
			}
			defer c.Close()

			status, err := c.Check(ctx, service)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), status)
			if status != healthpb.HealthCheckResponse_SERVING {
				return errors.Newf("%s is %s", serverAddr, status)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&service, "service", server.ServiceName, "Health service name")

	return cmd
}
