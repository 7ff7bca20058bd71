package workflow

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/edvin/dbbackup/internal/activity"
)

// CompressionScheduleID is the schedule that runs CompressBackupsWorkflow.
const CompressionScheduleID = "backup-compression"

// CompressBackupsWorkflow zips every uncompressed backup older than threshold.
func CompressBackupsWorkflow(ctx workflow.Context, threshold time.Duration) (*activity.CompressResult, error) {
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 4 * time.Hour,
		HeartbeatTimeout:    30 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts:    3,
			InitialInterval:    time.Minute,
			BackoffCoefficient: 2.0,
		},
	})

	var result activity.CompressResult
	if err := workflow.ExecuteActivity(ctx, "CompressFileIfNeeded", threshold).Get(ctx, &result); err != nil {
		return nil, err
	}
	if result.Compressed > 0 || result.Failed > 0 {
		workflow.GetLogger(ctx).Info("compression pass finished", "compressed", result.Compressed, "failed", result.Failed)
	}
	return &result, nil
}
