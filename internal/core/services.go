package core

import (
	"github.com/rs/zerolog"
	temporalclient "go.temporal.io/sdk/client"

	"github.com/edvin/dbbackup/internal/crypto"
	"github.com/edvin/dbbackup/internal/storage"
)

type Services struct {
	Server    *ServerService
	Agent     *AgentService
	BackupJob *BackupJobService
	Backup    *BackupService
}

func NewServices(db DB, keyring *crypto.Keyring, tc temporalclient.Client, bridge Bridge, strategies Resolver, store storage.Storage, taskQueue string, logger zerolog.Logger) *Services {
	backups := NewBackupService(db, store, tc, taskQueue, logger)
	jobs := NewBackupJobService(db, keyring, tc, bridge, backups, taskQueue, logger)
	return &Services{
		Server:    NewServerService(db, keyring, strategies, jobs),
		Agent:     NewAgentService(db, store, jobs),
		BackupJob: jobs,
		Backup:    backups,
	}
}
