package agent

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/edvin/dbbackup/internal/model"
)

var testTime = time.Date(2026, 3, 10, 3, 0, 0, 0, time.UTC)

type mockStrategy struct {
	mock.Mock
}

func (m *mockStrategy) Backup(ctx context.Context, database string) (*model.Backup, error) {
	args := m.Called(ctx, database)
	b, _ := args.Get(0).(*model.Backup)
	return b, args.Error(1)
}

func (m *mockStrategy) Restore(ctx context.Context, localPath string) error {
	return m.Called(ctx, localPath).Error(0)
}

func (m *mockStrategy) ListDatabases(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	names, _ := args.Get(0).([]string)
	return names, args.Error(1)
}

func (m *mockStrategy) Ping(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

type mockManager struct {
	mock.Mock
}

func (m *mockManager) NotifyPresence(ctx context.Context, databases []string) ([]Job, error) {
	args := m.Called(ctx, databases)
	jobs, _ := args.Get(0).([]Job)
	return jobs, args.Error(1)
}

func (m *mockManager) SubmitArtifact(ctx context.Context, jobName string, art Artifact) error {
	return m.Called(ctx, jobName, art).Error(0)
}

func (m *mockManager) SubmitFailure(ctx context.Context, jobName string, cause error) error {
	return m.Called(ctx, jobName, cause).Error(0)
}

// writeArtifact creates a dump file the way a strategy would.
func writeArtifact(t *testing.T, name, content string) *model.Backup {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return &model.Backup{Path: path, BackupDate: testTime}
}
