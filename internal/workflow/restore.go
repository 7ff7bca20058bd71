package workflow

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

// RestoreBackupWorkflow loads one cataloged backup back into its source.
func RestoreBackupWorkflow(ctx workflow.Context, backupID int64) error {
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 6 * time.Hour,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 2,
			InitialInterval: time.Minute,
		},
	})
	return workflow.ExecuteActivity(ctx, "RestoreBackup", backupID).Get(ctx, nil)
}
