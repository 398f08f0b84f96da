// Package main implements the coursechat service and CLI.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// configPath is the YAML config file; env vars override it.
	configPath string

	// Set via -ldflags at build time.
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "coursechat",
		Short: "Answer questions about course material",
		Long: `coursechat keeps an embedding of every course document and answers
questions by retrieving the closest passages and grounding a chat model
in them.

Configuration is read from --config (YAML) and COURSECHAT_* environment
variables, e.g. COURSECHAT_EMBEDDINGS_API_KEY or COURSECHAT_SERVER_PORT.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to the YAML config file")

	root.AddCommand(
		newServeCmd(),
		newMCPCmd(),
		newAskCmd(),
		newReindexCmd(),
		newRemoveCmd(),
		newMigrateCmd(),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "coursechat %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}
