package activity

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/temporal"

	"github.com/edvin/dbbackup/internal/model"
	"github.com/edvin/dbbackup/internal/storage"
	"github.com/edvin/dbbackup/internal/strategy"
)

type backupFixture struct {
	jobs     *mockJobStore
	agents   *mockAgentQueue
	catalog  *mockCatalog
	store    *storage.Local
	strategy *fakeStrategy
	workDir  string
	act      *Backup
}

func testServer() model.Server {
	return model.Server{ID: 2, Name: "main db", Type: model.DatabasePostgres, Host: "db", Port: 5432}
}

func newBackupFixture(t *testing.T) *backupFixture {
	t.Helper()
	store, err := storage.NewLocal(t.TempDir())
	require.NoError(t, err)

	f := &backupFixture{
		jobs:    &mockJobStore{},
		agents:  &mockAgentQueue{},
		catalog: &mockCatalog{},
		store:   store,
		workDir: t.TempDir(),
	}
	f.strategy = &fakeStrategy{root: f.workDir, server: testServer(), fail: map[string]error{}}
	f.act = NewBackup(f.jobs, f.agents, f.catalog, store, stubStrategies{root: f.workDir, strategy: f.strategy}, t.TempDir(), zerolog.Nop())
	f.act.now = func() time.Time { return testNow }
	return f
}

func serverJob(dbs string) *model.BackupJob {
	return &model.BackupJob{
		ID:            7,
		Name:          "nightly",
		Cron:          "0 2 * * *",
		Enabled:       true,
		DatabaseNames: dbs,
		TargetKind:    model.TargetServer,
		TargetID:      2,
		Target:        model.ServerTarget{Server: testServer()},
	}
}

func requireApplicationError(t *testing.T, err error, errType string) {
	t.Helper()
	var appErr *temporal.ApplicationError
	require.True(t, errors.As(err, &appErr), "expected application error, got %v", err)
	assert.True(t, appErr.NonRetryable())
	assert.Equal(t, errType, appErr.Type())
}

func TestRunBackupJob_PartialFailure(t *testing.T) {
	f := newBackupFixture(t)
	ctx := context.Background()

	f.jobs.On("GetWithTarget", ctx, int64(7)).Return(serverJob("a, b, c"), nil)
	f.strategy.fail["b"] = &strategy.ToolError{Tool: "pg_dump", ExitCode: 1, Stderr: "database \"b\" does not exist"}

	var staged []model.Backup
	f.catalog.On("CreateMany", ctx, mock.Anything).
		Run(func(args mock.Arguments) { staged = args.Get(1).([]model.Backup) }).
		Return(nil).Once()

	result, err := f.act.RunBackupJob(ctx, 7)
	require.Error(t, err)

	var batch *BatchError
	require.True(t, errors.As(err, &batch))
	require.Len(t, batch.Failures, 1)
	assert.Equal(t, "b", batch.Failures[0].Database)
	assert.Contains(t, err.Error(), "does not exist")

	var toolErr *strategy.ToolError
	assert.True(t, errors.As(err, &toolErr))

	assert.Equal(t, []string{"a", "c"}, result.Succeeded)
	require.Len(t, staged, 2)
	for i, db := range []string{"a", "c"} {
		want := "postgres/main_db/" + db + "_20260310030000.pgbbak"
		assert.Equal(t, want, staged[i].Path)
		assert.Equal(t, int64(7), staged[i].JobID)
		assert.Equal(t, int64(len("dump of "+db)), staged[i].Size)

		ok, err := f.store.Exists(ctx, want)
		require.NoError(t, err)
		assert.True(t, ok, "artifact %s must be in storage", want)
	}

	// nothing is left in the work dir
	leftovers, err := filepath.Glob(filepath.Join(f.workDir, "postgres", "main_db", "*"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
	f.catalog.AssertExpectations(t)
}

func TestRunBackupJob_AllSucceed(t *testing.T) {
	f := newBackupFixture(t)
	ctx := context.Background()

	f.jobs.On("GetWithTarget", ctx, int64(7)).Return(serverJob("a"), nil)
	f.catalog.On("CreateMany", ctx, mock.MatchedBy(func(b []model.Backup) bool { return len(b) == 1 })).Return(nil)

	result, err := f.act.RunBackupJob(ctx, 7)
	require.NoError(t, err)
	assert.False(t, result.Queued)
	assert.Equal(t, []string{"a"}, result.Succeeded)
}

func TestRunBackupJob_CatalogFailure(t *testing.T) {
	f := newBackupFixture(t)
	ctx := context.Background()

	f.jobs.On("GetWithTarget", ctx, int64(7)).Return(serverJob("a"), nil)
	f.catalog.On("CreateMany", ctx, mock.Anything).Return(errors.New("connection reset"))

	_, err := f.act.RunBackupJob(ctx, 7)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "catalog backups of job 7")
}

func TestRunBackupJob_AgentTargetQueues(t *testing.T) {
	f := newBackupFixture(t)
	ctx := context.Background()

	job := serverJob("a")
	job.TargetKind = model.TargetAgent
	job.Target = model.AgentTarget{Agent: model.Agent{ID: 5, Name: "branch"}}
	f.jobs.On("GetWithTarget", ctx, int64(7)).Return(job, nil)
	f.agents.On("Enqueue", ctx, int64(5), "BackupJob-nightly-7").Return(nil)

	result, err := f.act.RunBackupJob(ctx, 7)
	require.NoError(t, err)
	assert.True(t, result.Queued)
	f.agents.AssertExpectations(t)
	f.catalog.AssertNotCalled(t, "CreateMany", mock.Anything, mock.Anything)
}

func TestRunBackupJob_PermanentFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("job not found", func(t *testing.T) {
		f := newBackupFixture(t)
		f.jobs.On("GetWithTarget", ctx, int64(7)).Return(nil, model.ErrNotFound)
		_, err := f.act.RunBackupJob(ctx, 7)
		requireApplicationError(t, err, "JobNotFound")
	})

	t.Run("job disabled", func(t *testing.T) {
		f := newBackupFixture(t)
		job := serverJob("a")
		job.Enabled = false
		f.jobs.On("GetWithTarget", ctx, int64(7)).Return(job, nil)
		_, err := f.act.RunBackupJob(ctx, 7)
		requireApplicationError(t, err, "JobDisabled")
	})

	t.Run("orphaned target", func(t *testing.T) {
		f := newBackupFixture(t)
		job := serverJob("a")
		job.Target = nil
		f.jobs.On("GetWithTarget", ctx, int64(7)).Return(job, nil)
		_, err := f.act.RunBackupJob(ctx, 7)
		requireApplicationError(t, err, "TargetNotFound")
	})

	t.Run("unsupported engine", func(t *testing.T) {
		f := newBackupFixture(t)
		f.act.strategies = stubStrategies{root: f.workDir, err: strategy.ErrUnsupportedType}
		f.jobs.On("GetWithTarget", ctx, int64(7)).Return(serverJob("a"), nil)
		_, err := f.act.RunBackupJob(ctx, 7)
		requireApplicationError(t, err, "UnsupportedType")
	})
}

func TestRunBackupJob_TransientLookupErrorIsRetryable(t *testing.T) {
	f := newBackupFixture(t)
	ctx := context.Background()
	f.jobs.On("GetWithTarget", ctx, int64(7)).Return(nil, errors.New("connection refused"))

	_, err := f.act.RunBackupJob(ctx, 7)
	require.Error(t, err)
	var appErr *temporal.ApplicationError
	assert.False(t, errors.As(err, &appErr))
}

func TestBatchError_Message(t *testing.T) {
	err := &BatchError{JobID: 3, Failures: []DatabaseFailure{
		{Database: "z", Err: errors.New("boom")},
		{Database: "a", Err: errors.New("bang")},
	}}
	assert.Equal(t, "backup job 3: 2 database(s) failed: a: bang; z: boom", err.Error())
}

func TestCleanBackupRep(t *testing.T) {
	f := newBackupFixture(t)
	ctx := context.Background()

	job := serverJob("a")
	job.Retention = 48 * time.Hour
	f.jobs.On("GetWithTarget", ctx, int64(7)).Return(job, nil)

	old := []model.Backup{{ID: 1, Path: "a"}, {ID: 2, Path: "b"}, {ID: 3, Path: "c"}}
	f.catalog.On("ListExpired", ctx, int64(7), testNow.Add(-48*time.Hour)).Return(old, nil)
	f.catalog.On("Delete", ctx, old[0]).Return(nil)
	f.catalog.On("Delete", ctx, old[1]).Return(model.ErrNotFound)
	f.catalog.On("Delete", ctx, old[2]).Return(nil)

	n, err := f.act.CleanBackupRep(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	f.catalog.AssertExpectations(t)
}

func TestCleanBackupRep_ZeroRetentionKeepsAll(t *testing.T) {
	f := newBackupFixture(t)
	ctx := context.Background()
	f.jobs.On("GetWithTarget", ctx, int64(7)).Return(serverJob("a"), nil)

	n, err := f.act.CleanBackupRep(ctx, 7)
	require.NoError(t, err)
	assert.Zero(t, n)
	f.catalog.AssertNotCalled(t, "ListExpired", mock.Anything, mock.Anything, mock.Anything)
}

func TestCleanBackupRep_DeleteErrorsAreReported(t *testing.T) {
	f := newBackupFixture(t)
	ctx := context.Background()

	job := serverJob("a")
	job.Retention = time.Hour
	f.jobs.On("GetWithTarget", ctx, int64(7)).Return(job, nil)
	f.catalog.On("ListExpired", ctx, int64(7), mock.Anything).Return([]model.Backup{{ID: 1}, {ID: 2}}, nil)
	f.catalog.On("Delete", ctx, model.Backup{ID: 1}).Return(errors.New("db down"))
	f.catalog.On("Delete", ctx, model.Backup{ID: 2}).Return(nil)

	n, err := f.act.CleanBackupRep(ctx, 7)
	require.Error(t, err)
	assert.Equal(t, 1, n)
	assert.Contains(t, err.Error(), "backup 1")
}

func TestCleanBackupRep_JobGone(t *testing.T) {
	f := newBackupFixture(t)
	ctx := context.Background()
	f.jobs.On("GetWithTarget", ctx, int64(7)).Return(nil, model.ErrNotFound)

	n, err := f.act.CleanBackupRep(ctx, 7)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func writeStored(t *testing.T, store *storage.Local, key, content string) {
	t.Helper()
	full := filepath.Join(store.Root(), filepath.FromSlash(key))
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o750))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o600))
}
