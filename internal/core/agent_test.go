package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	temporalmocks "go.temporal.io/sdk/mocks"

	"github.com/edvin/dbbackup/internal/model"
)

func newTestAgentService(db *mockDB, store *mockStorage) *AgentService {
	jobs := NewBackupJobService(db, testKeyring, &temporalmocks.Client{}, &mockBridge{}, NewBackupService(db, store, nil, "dbbackup", zerolog.Nop()), "dbbackup", zerolog.Nop())
	svc := NewAgentService(db, store, jobs)
	svc.now = func() time.Time { return testTime }
	return svc
}

func sampleAgent() model.Agent {
	return model.Agent{ID: 5, Name: "branch office", Token: "tok", Type: model.DatabaseMySQL, Active: true}
}

func queueRow(entries ...string) *mockRow {
	return &mockRow{scanFunc: func(dest ...any) error {
		*(dest[0].(*[]string)) = entries
		return nil
	}}
}

func TestAgentService_Create_GeneratesToken(t *testing.T) {
	db := &mockDB{}
	svc := newTestAgentService(db, &mockStorage{})
	ctx := context.Background()

	db.On("QueryRow", ctx, sqlContains("INSERT INTO agents"), mock.Anything).Return(insertedRow(5))

	agent := &model.Agent{Name: "branch", Type: model.DatabasePostgres, Active: true}
	require.NoError(t, svc.Create(ctx, agent))
	assert.Len(t, agent.Token, 96)
	assert.Equal(t, int64(5), agent.ID)

	assert.Error(t, svc.Create(ctx, &model.Agent{Name: "bad", Type: "db2"}))
}

func TestAgentService_NotifyPresence_UnknownToken(t *testing.T) {
	db := &mockDB{}
	svc := newTestAgentService(db, &mockStorage{})
	ctx := context.Background()

	db.On("QueryRow", ctx, sqlContains("FOR UPDATE"), mock.Anything).Return(errRow(pgx.ErrNoRows))

	_, err := svc.NotifyPresence(ctx, "nope", "http://agent", []string{"a"})
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestAgentService_NotifyPresence_DrainsQueue(t *testing.T) {
	db := &mockDB{}
	svc := newTestAgentService(db, &mockStorage{})
	ctx := context.Background()

	db.On("QueryRow", ctx, sqlContains("FOR UPDATE"), []any{"tok", "http://agent:8091", []string{"app"}}).
		Return(queueRow("BackupJob-nightly-7", "RestoreBackup-40"))
	db.On("QueryRow", ctx, sqlContains("SELECT database_names FROM backup_jobs"), []any{int64(7)}).Return(stringRow("app,crm"))
	db.On("QueryRow", ctx, sqlContains("JOIN backup_jobs"), []any{int64(40)}).Return(stringRow("app"))

	jobs, err := svc.NotifyPresence(ctx, "tok", "http://agent:8091", []string{"app"})
	require.NoError(t, err)
	assert.Equal(t, []AgentJob{
		{Name: "BackupJob-nightly-7", Type: true, DatabaseNames: "app,crm"},
		{Name: "RestoreBackup-40", Type: false, DatabaseNames: "app"},
	}, jobs)
	db.AssertExpectations(t)
}

func TestAgentService_NotifyPresence_EmptyQueue(t *testing.T) {
	db := &mockDB{}
	svc := newTestAgentService(db, &mockStorage{})
	ctx := context.Background()

	db.On("QueryRow", ctx, mock.Anything, []any{"tok", "", []string{}}).Return(queueRow())

	jobs, err := svc.NotifyPresence(ctx, "tok", "", nil)
	require.NoError(t, err)
	assert.NotNil(t, jobs)
	assert.Empty(t, jobs)
}

func TestAgentService_NotifyPresence_JobGone(t *testing.T) {
	db := &mockDB{}
	svc := newTestAgentService(db, &mockStorage{})
	ctx := context.Background()

	db.On("QueryRow", ctx, sqlContains("FOR UPDATE"), mock.Anything).Return(queueRow("BackupJob-old-3"))
	db.On("QueryRow", ctx, sqlContains("FROM backup_jobs"), mock.Anything).Return(errRow(pgx.ErrNoRows))

	jobs, err := svc.NotifyPresence(ctx, "tok", "", nil)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "", jobs[0].DatabaseNames)
}

func TestAgentService_Enqueue(t *testing.T) {
	db := &mockDB{}
	svc := newTestAgentService(db, &mockStorage{})
	ctx := context.Background()

	db.On("Exec", ctx, sqlContains("array_append"), []any{int64(5), "BackupJob-nightly-7"}).Return(pgconn.NewCommandTag("UPDATE 1"), nil).Once()
	require.NoError(t, svc.Enqueue(ctx, 5, "BackupJob-nightly-7"))

	db.On("Exec", ctx, mock.Anything, []any{int64(6), "x"}).Return(pgconn.NewCommandTag("UPDATE 0"), nil).Once()
	assert.ErrorIs(t, svc.Enqueue(ctx, 6, "x"), model.ErrNotFound)
}

func expectResultOwner(db *mockDB, ctx context.Context, owned bool) {
	db.On("QueryRow", ctx, sqlContains("FROM agents WHERE token"), []any{"tok"}).Return(&mockRow{scanFunc: agentScan(sampleAgent())})
	db.On("QueryRow", ctx, sqlContains("target_kind = $2"), []any{int64(7), model.TargetAgent, int64(5)}).Return(boolRow(owned))
}

func TestAgentService_SubmitArtifact(t *testing.T) {
	db := &mockDB{}
	store := &mockStorage{}
	svc := newTestAgentService(db, store)
	ctx := context.Background()

	expectResultOwner(db, ctx, true)
	store.On("MoveTo", ctx, "/tmp/upload-1", "mysql/branch_office/app_20260301090000.sql").Return(nil)
	lastWrite := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	db.On("QueryRow", ctx, sqlContains("INSERT INTO backups"), []any{int64(7), lastWrite, "mysql/branch_office/app_20260301090000.sql", int64(2048)}).
		Return(insertedRow(41))

	b, err := svc.SubmitArtifact(ctx, "tok", AgentArtifact{
		Name:          "BackupJob-nightly-7",
		FileName:      `C:\dumps\app_20260301090000.sql`,
		LocalPath:     "/tmp/upload-1",
		Size:          2048,
		LastWriteTime: lastWrite,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(41), b.ID)
	store.AssertExpectations(t)
	db.AssertExpectations(t)
}

func TestAgentService_SubmitArtifact_InsertFailureRemovesObject(t *testing.T) {
	db := &mockDB{}
	store := &mockStorage{}
	svc := newTestAgentService(db, store)
	ctx := context.Background()

	expectResultOwner(db, ctx, true)
	store.On("MoveTo", ctx, mock.Anything, "mysql/branch_office/app_1.sql").Return(nil)
	store.On("Delete", mock.Anything, "mysql/branch_office/app_1.sql").Return(nil)
	db.On("QueryRow", ctx, sqlContains("INSERT INTO backups"), mock.MatchedBy(func(args []any) bool {
		return args[1].(time.Time).Equal(testTime)
	})).Return(errRow(errors.New("disk full")))

	_, err := svc.SubmitArtifact(ctx, "tok", AgentArtifact{Name: "BackupJob-nightly-7", FileName: "app_1.sql", LocalPath: "/tmp/u"})
	require.Error(t, err)
	store.AssertExpectations(t)
}

func TestAgentService_SubmitArtifact_Rejected(t *testing.T) {
	ctx := context.Background()

	t.Run("unparseable name", func(t *testing.T) {
		db := &mockDB{}
		svc := newTestAgentService(db, &mockStorage{})
		db.On("QueryRow", ctx, sqlContains("FROM agents WHERE token"), mock.Anything).Return(&mockRow{scanFunc: agentScan(sampleAgent())})

		_, err := svc.SubmitArtifact(ctx, "tok", AgentArtifact{Name: "garbage", FileName: "a_1.sql"})
		assert.ErrorIs(t, err, ErrInvalidResult)
	})

	t.Run("job of another agent", func(t *testing.T) {
		db := &mockDB{}
		store := &mockStorage{}
		svc := newTestAgentService(db, store)
		expectResultOwner(db, ctx, false)

		_, err := svc.SubmitArtifact(ctx, "tok", AgentArtifact{Name: "BackupJob-nightly-7", FileName: "a_1.sql"})
		assert.ErrorIs(t, err, ErrInvalidResult)
		store.AssertNotCalled(t, "MoveTo", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("unknown token", func(t *testing.T) {
		db := &mockDB{}
		svc := newTestAgentService(db, &mockStorage{})
		db.On("QueryRow", ctx, mock.Anything, mock.Anything).Return(errRow(pgx.ErrNoRows))

		_, err := svc.SubmitArtifact(ctx, "bad", AgentArtifact{Name: "BackupJob-nightly-7"})
		assert.ErrorIs(t, err, model.ErrNotFound)
	})
}

func TestAgentService_ReportFailure(t *testing.T) {
	db := &mockDB{}
	svc := newTestAgentService(db, &mockStorage{})
	ctx := context.Background()
	expectResultOwner(db, ctx, true)

	agent, err := svc.ReportFailure(ctx, "tok", "BackupJob-nightly-7")
	require.NoError(t, err)
	assert.Equal(t, "branch office", agent.Name)
}

func TestAgentService_Delete(t *testing.T) {
	db := &mockDB{}
	svc := newTestAgentService(db, &mockStorage{})
	ctx := context.Background()

	db.On("Query", ctx, mock.Anything, []any{model.TargetAgent, int64(5)}).Return(newEmptyMockRows(), nil)
	db.On("Exec", ctx, sqlContains("DELETE FROM agents"), []any{int64(5)}).Return(pgconn.NewCommandTag("DELETE 1"), nil)

	require.NoError(t, svc.Delete(ctx, 5))
	db.AssertExpectations(t)
}
