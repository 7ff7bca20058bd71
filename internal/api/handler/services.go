package handler

import (
	"context"
	"io"
	"time"

	"github.com/edvin/dbbackup/internal/core"
	"github.com/edvin/dbbackup/internal/model"
)

// The interfaces below are the slices of the core services each handler
// uses. *core.XService satisfies them.

type ServerService interface {
	Create(ctx context.Context, server *model.Server) error
	GetByID(ctx context.Context, id int64) (*model.Server, error)
	List(ctx context.Context, limit int, cursor string) ([]model.Server, bool, error)
	Update(ctx context.Context, server *model.Server) error
	Delete(ctx context.Context, id int64) error
	ListDatabases(ctx context.Context, id int64) ([]string, error)
}

type AgentService interface {
	Create(ctx context.Context, agent *model.Agent) error
	GetByID(ctx context.Context, id int64) (*model.Agent, error)
	List(ctx context.Context, limit int, cursor string) ([]model.Agent, bool, error)
	Update(ctx context.Context, agent *model.Agent) error
	Delete(ctx context.Context, id int64) error
}

type AgentProtocol interface {
	NotifyPresence(ctx context.Context, token, url string, databases []string) ([]core.AgentJob, error)
	SubmitArtifact(ctx context.Context, token string, art core.AgentArtifact) (*model.Backup, error)
	ReportFailure(ctx context.Context, token, name string) (*model.Agent, error)
}

type BackupJobService interface {
	Create(ctx context.Context, job *model.BackupJob) error
	GetByID(ctx context.Context, id int64) (*model.BackupJob, error)
	List(ctx context.Context, limit int, cursor string) ([]model.BackupJob, bool, error)
	Update(ctx context.Context, job *model.BackupJob) error
	SetEnabled(ctx context.Context, id int64, enabled bool) (*model.BackupJob, error)
	Delete(ctx context.Context, id int64) error
	Run(ctx context.Context, id int64) (string, error)
}

type BackupService interface {
	GetByID(ctx context.Context, id int64) (*model.Backup, error)
	List(ctx context.Context, jobID int64, limit int, cursor string) ([]model.Backup, bool, error)
	DeleteByID(ctx context.Context, id int64) error
	DownloadLink(ctx context.Context, b model.Backup, expiry time.Duration) (string, error)
	Open(ctx context.Context, b model.Backup) (io.ReadCloser, error)
	Restore(ctx context.Context, id int64) (string, error)
}

var (
	_ ServerService    = (*core.ServerService)(nil)
	_ AgentService     = (*core.AgentService)(nil)
	_ AgentProtocol    = (*core.AgentService)(nil)
	_ BackupJobService = (*core.BackupJobService)(nil)
	_ BackupService    = (*core.BackupService)(nil)
)
