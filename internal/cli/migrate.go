package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vitruvius-bim/vitruvius-backend/internal/data/db"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := initContext()
		if err != nil {
			return err
		}
		defer c.Close()

		svc, err := db.Open(c.Config.Postgres, c.Log)
		if err != nil {
			return err
		}
		defer svc.Close()
		if err := svc.AutoMigrateAll(); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
		return nil
	},
}
