package core

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/edvin/dbbackup/internal/model"
	"github.com/edvin/dbbackup/internal/storage"
	"github.com/edvin/dbbackup/internal/strategy"
)

const agentColumns = `id, name, url, token, type, active, last_seen, last_used, databases, job_queue, created_at, updated_at`

// ErrInvalidResult rejects an agent result that cannot be attributed to a
// job of that agent, or that carries both or neither of artifact and error.
var ErrInvalidResult = errors.New("invalid agent result")

// AgentJob is one dequeued entry as returned to a polling agent.
type AgentJob struct {
	Name          string `json:"name"`
	Type          bool   `json:"type"`
	DatabaseNames string `json:"databaseNames"`
}

// AgentArtifact is an uploaded backup already spooled to local disk.
type AgentArtifact struct {
	Name          string
	FileName      string
	LocalPath     string
	Size          int64
	LastWriteTime time.Time
}

type AgentService struct {
	db    DB
	store storage.Storage
	jobs  *BackupJobService
	now   func() time.Time
}

func NewAgentService(db DB, store storage.Storage, jobs *BackupJobService) *AgentService {
	return &AgentService{db: db, store: store, jobs: jobs, now: time.Now}
}

func scanAgent(row pgx.Row) (*model.Agent, error) {
	var a model.Agent
	if err := row.Scan(&a.ID, &a.Name, &a.URL, &a.Token, &a.Type, &a.Active, &a.LastSeen, &a.LastUsed,
		&a.Databases, &a.JobQueue, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

// Create generates the agent's token and stores it.
func (s *AgentService) Create(ctx context.Context, agent *model.Agent) error {
	if _, err := model.ParseDatabaseType(string(agent.Type)); err != nil {
		return fmt.Errorf("%w: %v", model.ErrInvalid, err)
	}
	agent.Token = model.NewAgentToken()
	agent.Databases = []string{}
	agent.JobQueue = []string{}
	err := s.db.QueryRow(ctx,
		`INSERT INTO agents (name, url, token, type, active)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, created_at, updated_at`,
		agent.Name, agent.URL, agent.Token, agent.Type, agent.Active,
	).Scan(&agent.ID, &agent.CreatedAt, &agent.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert agent: %w", err)
	}
	return nil
}

func (s *AgentService) GetByID(ctx context.Context, id int64) (*model.Agent, error) {
	a, err := scanAgent(s.db.QueryRow(ctx, `SELECT `+agentColumns+` FROM agents WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "get agent %d", id)
	}
	return a, nil
}

// GetByToken returns the active agent owning token.
func (s *AgentService) GetByToken(ctx context.Context, token string) (*model.Agent, error) {
	a, err := scanAgent(s.db.QueryRow(ctx, `SELECT `+agentColumns+` FROM agents WHERE token = $1 AND active`, token))
	if err != nil {
		return nil, notFound(err, "get agent by token")
	}
	return a, nil
}

func (s *AgentService) List(ctx context.Context, limit int, cursor string) ([]model.Agent, bool, error) {
	query := `SELECT ` + agentColumns + ` FROM agents`
	args := []any{}
	argIdx := 1

	if cursor != "" {
		after, err := strconv.ParseInt(cursor, 10, 64)
		if err != nil {
			return nil, false, fmt.Errorf("invalid cursor %q", cursor)
		}
		query += fmt.Sprintf(` WHERE id > $%d`, argIdx)
		args = append(args, after)
		argIdx++
	}
	query += fmt.Sprintf(` ORDER BY id LIMIT $%d`, argIdx)
	args = append(args, limit+1)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, false, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var agents []model.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, false, fmt.Errorf("scan agent: %w", err)
		}
		agents = append(agents, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("iterate agents: %w", err)
	}

	hasMore := len(agents) > limit
	if hasMore {
		agents = agents[:limit]
	}
	return agents, hasMore, nil
}

// Update changes the editable fields. Token and liveness are left alone.
func (s *AgentService) Update(ctx context.Context, agent *model.Agent) error {
	if _, err := model.ParseDatabaseType(string(agent.Type)); err != nil {
		return fmt.Errorf("%w: %v", model.ErrInvalid, err)
	}
	updated, err := scanAgent(s.db.QueryRow(ctx,
		`UPDATE agents SET name = $1, type = $2, active = $3 WHERE id = $4 RETURNING `+agentColumns,
		agent.Name, agent.Type, agent.Active, agent.ID))
	if err != nil {
		return notFound(err, "update agent %d", agent.ID)
	}
	*agent = *updated
	return nil
}

func (s *AgentService) Delete(ctx context.Context, id int64) error {
	if err := s.jobs.DeleteByTarget(ctx, model.TargetAgent, id); err != nil {
		return err
	}
	tag, err := s.db.Exec(ctx, `DELETE FROM agents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete agent %d: %w", id, err)
	}
	return affected(tag, "delete agent %d", id)
}

// Enqueue appends entry to the agent's queue unless it is already queued,
// and records the agent as used.
func (s *AgentService) Enqueue(ctx context.Context, agentID int64, entry string) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE agents SET
		   job_queue = CASE WHEN $2 = ANY(job_queue) THEN job_queue ELSE array_append(job_queue, $2) END,
		   last_used = now()
		 WHERE id = $1`, agentID, entry)
	if err != nil {
		return fmt.Errorf("enqueue %s for agent %d: %w", entry, agentID, err)
	}
	return affected(tag, "enqueue %s for agent %d", entry, agentID)
}

// NotifyPresence records a heartbeat and hands the queued work to the
// agent. The queue is read and cleared in one statement so an entry is
// delivered at most once.
func (s *AgentService) NotifyPresence(ctx context.Context, token, url string, databases []string) ([]AgentJob, error) {
	if databases == nil {
		databases = []string{}
	}
	var queue []string
	err := s.db.QueryRow(ctx,
		`WITH prev AS (
		   SELECT id, job_queue FROM agents WHERE token = $1 AND active FOR UPDATE
		 )
		 UPDATE agents a SET last_seen = now(), url = $2, databases = $3, job_queue = '{}'
		 FROM prev WHERE a.id = prev.id
		 RETURNING prev.job_queue`,
		token, url, databases,
	).Scan(&queue)
	if err != nil {
		return nil, notFound(err, "agent presence")
	}

	jobs := make([]AgentJob, 0, len(queue))
	for _, entry := range queue {
		job := AgentJob{Name: entry, Type: model.IsBackupEntry(entry)}
		names, err := s.entryDatabases(ctx, entry, job.Type)
		if err != nil {
			return nil, err
		}
		job.DatabaseNames = names
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func (s *AgentService) entryDatabases(ctx context.Context, entry string, backup bool) (string, error) {
	var (
		query string
		id    int64
		err   error
	)
	if backup {
		id, err = model.ParseTriggerJobID(entry)
		query = `SELECT database_names FROM backup_jobs WHERE id = $1`
	} else {
		id, err = model.ParseRestoreEntry(entry)
		query = `SELECT j.database_names FROM backups b JOIN backup_jobs j ON j.id = b.job_id WHERE b.id = $1`
	}
	if err != nil {
		// foreign entries carry no databases
		return "", nil
	}
	var names string
	if err := s.db.QueryRow(ctx, query, id).Scan(&names); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("resolve databases of %s: %w", entry, err)
	}
	return names, nil
}

// resultJob authenticates the agent and finds the job a result belongs to.
func (s *AgentService) resultJob(ctx context.Context, token, name string) (*model.Agent, int64, error) {
	agent, err := s.GetByToken(ctx, token)
	if err != nil {
		return nil, 0, err
	}
	jobID, err := model.ParseTriggerJobID(name)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrInvalidResult, err)
	}
	var owned bool
	err = s.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM backup_jobs WHERE id = $1 AND target_kind = $2 AND target_id = $3)`,
		jobID, model.TargetAgent, agent.ID,
	).Scan(&owned)
	if err != nil {
		return nil, 0, fmt.Errorf("check job %d: %w", jobID, err)
	}
	if !owned {
		return nil, 0, fmt.Errorf("%w: job %d does not belong to agent %s", ErrInvalidResult, jobID, agent.Name)
	}
	return agent, jobID, nil
}

// SubmitArtifact moves an uploaded artifact into storage and catalogs it.
func (s *AgentService) SubmitArtifact(ctx context.Context, token string, art AgentArtifact) (*model.Backup, error) {
	agent, jobID, err := s.resultJob(ctx, token, art.Name)
	if err != nil {
		return nil, err
	}
	fileName := path.Base(strings.ReplaceAll(art.FileName, "\\", "/"))
	if fileName == "." || fileName == "/" || fileName == "" {
		return nil, fmt.Errorf("%w: missing file name", ErrInvalidResult)
	}

	dest := path.Join(string(agent.Type), strategy.SanitizeServerName(agent.Name), fileName)
	if err := s.store.MoveTo(ctx, art.LocalPath, dest); err != nil {
		return nil, fmt.Errorf("store artifact of agent %s: %w", agent.Name, err)
	}

	b := &model.Backup{JobID: jobID, Path: dest, Size: art.Size, BackupDate: art.LastWriteTime}
	if b.BackupDate.IsZero() {
		b.BackupDate = s.now()
	}
	err = s.db.QueryRow(ctx,
		`INSERT INTO backups (job_id, backup_date, path, size_bytes) VALUES ($1, $2, $3, $4)
		 RETURNING id, created_at, updated_at`,
		b.JobID, b.BackupDate, b.Path, b.Size,
	).Scan(&b.ID, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		_ = s.store.Delete(context.WithoutCancel(ctx), dest)
		return nil, fmt.Errorf("insert backup: %w", err)
	}
	return b, nil
}

// ReportFailure validates an error report. Nothing is stored.
func (s *AgentService) ReportFailure(ctx context.Context, token, name string) (*model.Agent, error) {
	agent, _, err := s.resultJob(ctx, token, name)
	return agent, err
}
