// Package cmd defines the ragchat command-line interface.
package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "ragchat",
	Short: "Retrieval-augmented chat service",
	Long: `ragchat serves a retrieval-augmented chat API.

Incoming questions are embedded, matched against a pgvector knowledge
base, reranked, and answered by an LLM grounded in the retrieved
excerpts. Conversations live in Redis while active and are archived to
PostgreSQL when ended.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		// Running without a subcommand starts the server.
		return runServe(cmd.Context())
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
