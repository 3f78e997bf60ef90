package cli

import (
	"github.com/spf13/cobra"
)

var workerMigrate bool

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the job worker and the ops HTTP server",
	Long: `Run the IFC processing worker until interrupted. With temporal.address set
the Temporal worker executes jobs; otherwise job_run rows are polled from
the database. The ops HTTP server (health, readiness, metrics and cache
stats) runs alongside when http.enabled is true.`,
	Args: cobra.NoArgs,
	RunE: runWorker,
}

func init() {
	workerCmd.Flags().BoolVar(&workerMigrate, "migrate", true, "run schema migrations before starting")
}

func runWorker(cmd *cobra.Command, args []string) error {
	c, err := initContext()
	if err != nil {
		return err
	}
	defer c.Close()

	a, err := c.openApp(cmd.Context(), workerMigrate)
	if err != nil {
		return err
	}
	defer a.Close()

	c.Log.Info("Starting worker", "version", version, "temporal", a.Clients.Temporal != nil, "http", c.Config.HTTP.Enabled)
	return a.RunWorker(cmd.Context())
}
