package activity

import (
	"context"
	"os"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/edvin/dbbackup/internal/model"
	"github.com/edvin/dbbackup/internal/strategy"
)

var testNow = time.Date(2026, 3, 10, 3, 0, 0, 0, time.UTC)

type mockJobStore struct {
	mock.Mock
}

func (m *mockJobStore) GetWithTarget(ctx context.Context, id int64) (*model.BackupJob, error) {
	args := m.Called(ctx, id)
	job, _ := args.Get(0).(*model.BackupJob)
	return job, args.Error(1)
}

type mockAgentQueue struct {
	mock.Mock
}

func (m *mockAgentQueue) Enqueue(ctx context.Context, agentID int64, entry string) error {
	return m.Called(ctx, agentID, entry).Error(0)
}

type mockCatalog struct {
	mock.Mock
}

func (m *mockCatalog) GetByID(ctx context.Context, id int64) (*model.Backup, error) {
	args := m.Called(ctx, id)
	b, _ := args.Get(0).(*model.Backup)
	return b, args.Error(1)
}

func (m *mockCatalog) CreateMany(ctx context.Context, backups []model.Backup) error {
	return m.Called(ctx, backups).Error(0)
}

func (m *mockCatalog) ListExpired(ctx context.Context, jobID int64, cutoff time.Time) ([]model.Backup, error) {
	args := m.Called(ctx, jobID, cutoff)
	backups, _ := args.Get(0).([]model.Backup)
	return backups, args.Error(1)
}

func (m *mockCatalog) ListCompressible(ctx context.Context, cutoff time.Time) ([]model.Backup, error) {
	args := m.Called(ctx, cutoff)
	backups, _ := args.Get(0).([]model.Backup)
	return backups, args.Error(1)
}

func (m *mockCatalog) Delete(ctx context.Context, b model.Backup) error {
	return m.Called(ctx, b).Error(0)
}

func (m *mockCatalog) UpdateArtifact(ctx context.Context, id int64, path string, size int64) error {
	return m.Called(ctx, id, path, size).Error(0)
}

// fakeStrategy writes a small artifact per database unless told to fail.
type fakeStrategy struct {
	root       string
	server     model.Server
	fail       map[string]error
	restored   []string
	restoreErr error
}

func (f *fakeStrategy) Backup(_ context.Context, db string) (*model.Backup, error) {
	if err := f.fail[db]; err != nil {
		return nil, err
	}
	p, err := strategy.ArtifactPath(f.root, f.server, db, testNow, "pgbbak")
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(p, []byte("dump of "+db), 0o600); err != nil {
		return nil, err
	}
	return &model.Backup{Path: p, BackupDate: testNow}, nil
}

func (f *fakeStrategy) Restore(_ context.Context, localPath string) error {
	if f.restoreErr != nil {
		return f.restoreErr
	}
	data, err := os.ReadFile(localPath)
	if err != nil {
		return err
	}
	f.restored = append(f.restored, string(data))
	return nil
}

func (f *fakeStrategy) ListDatabases(context.Context) ([]string, error) { return nil, nil }
func (f *fakeStrategy) Ping(context.Context) error                      { return nil }

type stubStrategies struct {
	root     string
	strategy strategy.Strategy
	err      error
}

func (s stubStrategies) For(model.Server) (strategy.Strategy, error) { return s.strategy, s.err }
func (s stubStrategies) Root() string                                { return s.root }
