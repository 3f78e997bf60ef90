package jobrun

import (
	"context"

	enumspb "go.temporal.io/api/enums/v1"
	temporalsdkclient "go.temporal.io/sdk/client"
)

// Start launches the workflow for a job_run, using the job id as the
// workflow id. Starting a job that already has a live workflow returns that
// run; a job whose workflow failed may be started again.
func Start(ctx context.Context, tc temporalsdkclient.Client, taskQueue string, in Input) (temporalsdkclient.WorkflowRun, error) {
	return tc.ExecuteWorkflow(ctx, temporalsdkclient.StartWorkflowOptions{
		ID:                    in.JobID,
		TaskQueue:             taskQueue,
		WorkflowIDReusePolicy: enumspb.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE_FAILED_ONLY,
	}, WorkflowName, in)
}
