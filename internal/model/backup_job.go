package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	triggerPrefix = "BackupJob"
	restorePrefix = "RestoreBackup"
)

// TargetKind is the stored tag discriminating a job's target.
type TargetKind string

const (
	TargetServer TargetKind = "server"
	TargetAgent  TargetKind = "agent"
)

// Target is the resolved Server or Agent a job backs up.
type Target interface {
	Kind() TargetKind
	DatabaseType() DatabaseType
	DisplayName() string
}

type ServerTarget struct {
	Server Server
}

func (ServerTarget) Kind() TargetKind {
	return TargetServer
}

func (t ServerTarget) DatabaseType() DatabaseType {
	return t.Server.Type
}

func (t ServerTarget) DisplayName() string {
	return t.Server.Name
}

type AgentTarget struct {
	Agent Agent
}

func (AgentTarget) Kind() TargetKind {
	return TargetAgent
}

func (t AgentTarget) DatabaseType() DatabaseType {
	return t.Agent.Type
}

func (t AgentTarget) DisplayName() string {
	return t.Agent.Name
}

// BackupJob is a named, scheduled set of database backups against one target.
type BackupJob struct {
	ID            int64         `json:"id"`
	Name          string        `json:"name"`
	Cron          string        `json:"cron"`
	Enabled       bool          `json:"enabled"`
	Retention     time.Duration `json:"retention"`
	DatabaseNames string        `json:"database_names"`
	BackupFormat  string        `json:"backup_format,omitempty"`
	TargetKind    TargetKind    `json:"target_kind"`
	TargetID      int64         `json:"target_id"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`

	// Target is nil when the tagged reference no longer resolves.
	Target Target `json:"-"`
}

// Databases splits the stored comma-separated list.
func (j BackupJob) Databases() []string {
	return SplitDatabaseNames(j.DatabaseNames)
}

// TriggerName is the deterministic recurring-trigger id for this job.
func (j BackupJob) TriggerName() string {
	return TriggerName(j.Name, j.ID)
}

func SplitDatabaseNames(s string) []string {
	var names []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			names = append(names, p)
		}
	}
	return names
}

func TriggerName(jobName string, jobID int64) string {
	return fmt.Sprintf("%s-%s-%d", triggerPrefix, jobName, jobID)
}

// IsBackupEntry reports whether a queue entry names a backup trigger.
func IsBackupEntry(entry string) bool {
	return strings.HasPrefix(entry, triggerPrefix)
}

// ParseTriggerJobID recovers the job id from the trailing "-{id}" of a trigger name.
func ParseTriggerJobID(name string) (int64, error) {
	return trailingID(name, triggerPrefix)
}

// RestoreEntry is the agent queue entry requesting a restore of one backup.
func RestoreEntry(backupID int64) string {
	return fmt.Sprintf("%s-%d", restorePrefix, backupID)
}

func ParseRestoreEntry(entry string) (int64, error) {
	return trailingID(entry, restorePrefix)
}

func trailingID(name, prefix string) (int64, error) {
	if !strings.HasPrefix(name, prefix+"-") {
		return 0, fmt.Errorf("%q is not a %s entry", name, prefix)
	}
	idx := strings.LastIndex(name, "-")
	id, err := strconv.ParseInt(name[idx+1:], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse id from %q: %w", name, err)
	}
	return id, nil
}
