package request

type CreateBackupJob struct {
	Name             string `json:"name" validate:"required,max=200,excludesall=/\\"`
	Cron             string `json:"cron" validate:"required,cron"`
	Enabled          *bool  `json:"enabled"`
	RetentionSeconds int64  `json:"retention_seconds" validate:"min=0"`
	DatabaseNames    string `json:"database_names" validate:"required"`
	BackupFormat     string `json:"backup_format" validate:"omitempty,max=64"`
	TargetKind       string `json:"target_kind" validate:"required,oneof=server agent"`
	TargetID         int64  `json:"target_id" validate:"required,min=1"`
}

type UpdateBackupJob struct {
	Name             *string `json:"name" validate:"omitempty,max=200,excludesall=/\\"`
	Cron             *string `json:"cron" validate:"omitempty,cron"`
	Enabled          *bool   `json:"enabled"`
	RetentionSeconds *int64  `json:"retention_seconds" validate:"omitempty,min=0"`
	DatabaseNames    *string `json:"database_names" validate:"omitempty"`
	BackupFormat     *string `json:"backup_format" validate:"omitempty,max=64"`
	TargetKind       *string `json:"target_kind" validate:"omitempty,oneof=server agent"`
	TargetID         *int64  `json:"target_id" validate:"omitempty,min=1"`
}
