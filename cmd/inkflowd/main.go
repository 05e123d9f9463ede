// Package main provides the inkflowd binary: an HTTP server exposing the
// inkflow orchestration engine. It streams run events over SSE, accepts
// HITL decisions, and answers backlog admission queries.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const appName = "inkflowd"

var version = "dev"

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   appName,
		Short: "Content generation orchestration server",
		Long: `Inkflowd coordinates multi-step AI-assisted content generation:
a planner decomposes objectives into capability invocations, executes them
against a model provider, and streams progress over SSE while allowing runs
to pause for human input and resume later from durable state.`,
	}

	cmd.AddCommand(serveCmd())
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s version %s\n", appName, version)
		},
	})

	return cmd
}

func serveCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the orchestration server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Config file path (YAML)")

	return cmd
}
