package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	configPath string
	serverAddr string
	timeout    int
)

func main() {
	_ = godotenv.Load()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var rootCmd = &cobra.Command{
		Use:          "rywctl",
		Short:        "rywctl - read-your-writes routing operator CLI",
		Long:         `rywctl inspects and records last-write markers and shows how reads would be routed.`,
		SilenceUsage: true,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&serverAddr, "server", "localhost:9090", "gRPC health address")
	rootCmd.PersistentFlags().IntVar(&timeout, "timeout", 5, "Request timeout in seconds")

	rootCmd.AddCommand(healthCmd())
	rootCmd.AddCommand(markerCmd())
	rootCmd.AddCommand(routeCmd())

	return rootCmd
}
