package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "txmigrate",
	Short: "txmigrate replays a captured transaction stream into a new repository schema.",
	Long: `txmigrate migrates a legacy repository's persistent state into a new
relational schema by replaying a captured stream of committed source-database
transactions, one savepoint-scoped sub-transaction per source transaction.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
