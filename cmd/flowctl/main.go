package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	host   string
	caller string
)

var rootCmd = &cobra.Command{
	Use:   "flowctl",
	Short: "A CLI for the Flow FC progression engine",
	Long: `A command-line interface for registering players, submitting match
stats and reading progression and leaderboards from the progression engine.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&host, "host", envOr("FLOWFC_HOST", "http://localhost:8080"), "The host address of the server")
	rootCmd.PersistentFlags().StringVar(&caller, "caller", envOr("FLOWFC_CALLER", "flowctl"), "Caller identity sent with every request")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err)
		os.Exit(1)
	}
}

func main() {
	Execute()
}
