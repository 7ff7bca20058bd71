// Package workflow holds the Temporal workflows of the backup lifecycle.
package workflow

import (
	"fmt"
	"time"

	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/edvin/dbbackup/internal/activity"
)

// BackupJobWorkflow runs one execution of a backup job. The retention sweep
// is started as an abandoned child first so that a slow or failing sweep
// never delays the backup.
func BackupJobWorkflow(ctx workflow.Context, jobID int64) (*activity.RunResult, error) {
	logger := workflow.GetLogger(ctx)

	childCtx := workflow.WithChildOptions(ctx, workflow.ChildWorkflowOptions{
		WorkflowID:        retentionWorkflowID(ctx, jobID),
		ParentClosePolicy: enumspb.PARENT_CLOSE_POLICY_ABANDON,
	})
	child := workflow.ExecuteChildWorkflow(childCtx, CleanBackupRepWorkflow, jobID)
	if err := child.GetChildWorkflowExecution().Get(ctx, nil); err != nil {
		logger.Warn("failed to start retention sweep", "job_id", jobID, "error", err)
	}

	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 6 * time.Hour,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts:    2,
			InitialInterval:    30 * time.Second,
			BackoffCoefficient: 1.0,
		},
	})

	var result activity.RunResult
	if err := workflow.ExecuteActivity(ctx, "RunBackupJob", jobID).Get(ctx, &result); err != nil {
		return nil, err
	}
	if result.Queued {
		logger.Info("backup queued for agent", "job_id", jobID)
	} else {
		logger.Info("backup finished", "job_id", jobID, "databases", len(result.Succeeded))
	}
	return &result, nil
}

// CleanBackupRepWorkflow deletes the job's backups that fell out of its
// retention window.
func CleanBackupRepWorkflow(ctx workflow.Context, jobID int64) (int, error) {
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts:    4,
			InitialInterval:    10 * time.Second,
			BackoffCoefficient: 3.0,
			MaximumInterval:    60 * time.Second,
		},
	})

	var deleted int
	err := workflow.ExecuteActivity(ctx, "CleanBackupRep", jobID).Get(ctx, &deleted)
	return deleted, err
}

func retentionWorkflowID(ctx workflow.Context, jobID int64) string {
	return fmt.Sprintf("CleanBackupRep-%d-%s", jobID, workflow.GetInfo(ctx).WorkflowExecution.RunID)
}
