package cli

import (
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:       "migrate up|down",
	Short:     "Apply or roll back database migrations",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"up", "down"},
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := migrateDatabase(cfg, args[0] == "up"); err != nil {
			return err
		}
		success(cmd.OutOrStdout(), "migrations %s complete", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
