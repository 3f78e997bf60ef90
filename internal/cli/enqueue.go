package cli

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var enqueueCmd = &cobra.Command{
	Use:   "enqueue",
	Short: "Queue an IFC model for the worker",
	Long: `Create an ifc_process job for the model. If a job for the same model is
already queued or running it is reused. With Temporal configured the job's
workflow is started immediately.`,
	Args: cobra.NoArgs,
	RunE: runEnqueue,
}

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect processing jobs",
}

var jobsStatusCmd = &cobra.Command{
	Use:   "status <job-id>...",
	Short: "Show the status, stage and progress of jobs",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ids := make([]uuid.UUID, 0, len(args))
		for _, arg := range args {
			id, err := uuid.Parse(arg)
			if err != nil {
				return fmt.Errorf("job id %q: %w", arg, err)
			}
			ids = append(ids, id)
		}
		c, err := initContext()
		if err != nil {
			return err
		}
		defer c.Close()
		a, err := c.openApp(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer a.Close()

		rows, err := a.Services.Jobs.Status(cmd.Context(), ids...)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return fmt.Errorf("no jobs found")
		}
		return printJSON(cmd.OutOrStdout(), rows)
	},
}

func init() {
	addRequestFlags(enqueueCmd)
	jobsCmd.AddCommand(jobsStatusCmd)
}

func runEnqueue(cmd *cobra.Command, args []string) error {
	req, err := requestFromFlags()
	if err != nil {
		return err
	}
	c, err := initContext()
	if err != nil {
		return err
	}
	defer c.Close()

	a, err := c.openApp(cmd.Context(), false)
	if err != nil {
		return err
	}
	defer a.Close()

	job, created, err := a.Services.Jobs.EnqueueModel(cmd.Context(), req)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), map[string]any{
		"job_id":  job.ID,
		"status":  job.Status,
		"created": created,
	})
}
