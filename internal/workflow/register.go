package workflow

import "go.temporal.io/sdk/worker"

// Register adds every lifecycle workflow to w.
func Register(w worker.WorkflowRegistry) {
	w.RegisterWorkflow(BackupJobWorkflow)
	w.RegisterWorkflow(CleanBackupRepWorkflow)
	w.RegisterWorkflow(CompressBackupsWorkflow)
	w.RegisterWorkflow(RestoreBackupWorkflow)
}
