// Package commands implements the vaultrag CLI commands using cobra.
package commands

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command with all subcommands registered.
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "vaultrag",
		Short: "vaultrag - encrypted local document retrieval",
		Long: `vaultrag keeps your documents as encrypted, embedded chunks in a
per-user local store and retrieves the passages most relevant to a question.

Examples:
  vaultrag signup
  vaultrag -u alice ingest notes.pdf report.docx
  vaultrag -u alice ask "when is the contract renewal?"
  vaultrag -u alice serve`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		newSignupCmd(),
		newIngestCmd(),
		newAskCmd(),
		newSearchCmd(),
		newDocsCmd(),
		newPasswdCmd(),
		newRememberCmd(),
		newForgetCmd(),
		newDeleteUserCmd(),
		newServeCmd(),
		newHealthCmd(),
	)

	rootCmd.PersistentFlags().StringP("config", "c", "", "path to the configuration file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringP("user", "u", "", "username (default $VAULTRAG_USER)")

	return rootCmd
}
