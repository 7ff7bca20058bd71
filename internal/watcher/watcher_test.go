package watcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/thejerf/suture/v4"

	"github.com/edvin/dbbackup/internal/storage"
)

type mockCatalog struct {
	mock.Mock
}

func (m *mockCatalog) DeleteRecordByPath(ctx context.Context, path string) (int64, error) {
	args := m.Called(ctx, path)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockCatalog) RenamePath(ctx context.Context, oldPath, newPath string) (int64, error) {
	args := m.Called(ctx, oldPath, newPath)
	return args.Get(0).(int64), args.Error(1)
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func noWatch(string) error { return nil }

func newTestWatcher(t *testing.T, catalog Catalog) (*Watcher, string, *clock) {
	t.Helper()
	root := t.TempDir()
	store, err := storage.NewLocal(root)
	require.NoError(t, err)
	c := &clock{t: time.Date(2026, 3, 10, 3, 0, 0, 0, time.UTC)}
	w := New(store, catalog, zerolog.Nop())
	w.now = c.now
	return w, store.Root(), c
}

func event(root, rel string, op fsnotify.Op) fsnotify.Event {
	return fsnotify.Event{Name: filepath.Join(root, filepath.FromSlash(rel)), Op: op}
}

func TestHandle_RemoveDeletesRecord(t *testing.T) {
	cat := &mockCatalog{}
	w, root, _ := newTestWatcher(t, cat)
	cat.On("DeleteRecordByPath", mock.Anything, "postgres/main/app_20260310030000.pgbbak").Return(int64(1), nil)

	err := w.handle(context.Background(), event(root, "postgres/main/app_20260310030000.pgbbak", fsnotify.Remove), noWatch)
	require.NoError(t, err)
	cat.AssertExpectations(t)
}

func TestHandle_RenamePairedWithCreate(t *testing.T) {
	cat := &mockCatalog{}
	w, root, c := newTestWatcher(t, cat)
	cat.On("RenamePath", mock.Anything, "postgres/main/a.pgbbak", "postgres/main/b.pgbbak").Return(int64(1), nil)

	ctx := context.Background()
	require.NoError(t, w.handle(ctx, event(root, "postgres/main/a.pgbbak", fsnotify.Rename), noWatch))
	c.advance(500 * time.Millisecond)
	require.NoError(t, w.handle(ctx, event(root, "postgres/main/b.pgbbak", fsnotify.Create), noWatch))

	cat.AssertExpectations(t)
	assert.Nil(t, w.pending)
}

func TestHandle_LateCreateTreatsRenameAsRemoval(t *testing.T) {
	cat := &mockCatalog{}
	w, root, c := newTestWatcher(t, cat)
	cat.On("DeleteRecordByPath", mock.Anything, "a.pgbbak").Return(int64(1), nil)

	ctx := context.Background()
	require.NoError(t, w.handle(ctx, event(root, "a.pgbbak", fsnotify.Rename), noWatch))
	c.advance(RenameWindow + time.Second)
	require.NoError(t, w.handle(ctx, event(root, "b.pgbbak", fsnotify.Create), noWatch))

	cat.AssertExpectations(t)
	cat.AssertNotCalled(t, "RenamePath", mock.Anything, mock.Anything, mock.Anything)
}

func TestHandle_SecondRenameFlushesFirst(t *testing.T) {
	cat := &mockCatalog{}
	w, root, _ := newTestWatcher(t, cat)
	cat.On("DeleteRecordByPath", mock.Anything, "a.pgbbak").Return(int64(0), nil)

	ctx := context.Background()
	require.NoError(t, w.handle(ctx, event(root, "a.pgbbak", fsnotify.Rename), noWatch))
	require.NoError(t, w.handle(ctx, event(root, "b.pgbbak", fsnotify.Rename), noWatch))

	cat.AssertExpectations(t)
	require.NotNil(t, w.pending)
	assert.Equal(t, "b.pgbbak", w.pending.key)
}

func TestExpireRename(t *testing.T) {
	cat := &mockCatalog{}
	w, root, _ := newTestWatcher(t, cat)
	cat.On("DeleteRecordByPath", mock.Anything, "a.pgbbak").Return(int64(1), nil)

	ctx := context.Background()
	require.NoError(t, w.expireRename(ctx))
	require.NoError(t, w.handle(ctx, event(root, "a.pgbbak", fsnotify.Rename), noWatch))
	require.NoError(t, w.expireRename(ctx))

	cat.AssertNumberOfCalls(t, "DeleteRecordByPath", 1)
	assert.Nil(t, w.pending)
}

func TestHandle_CreateOfDirectoryIsWatched(t *testing.T) {
	w, root, _ := newTestWatcher(t, &mockCatalog{})
	dir := filepath.Join(root, "mysql")
	require.NoError(t, os.Mkdir(dir, 0o750))

	var watched []string
	err := w.handle(context.Background(), fsnotify.Event{Name: dir, Op: fsnotify.Create}, func(d string) error {
		watched = append(watched, d)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{dir}, watched)
}

func TestHandle_IgnoresPathsOutsideRoot(t *testing.T) {
	cat := &mockCatalog{}
	w, _, _ := newTestWatcher(t, cat)

	err := w.handle(context.Background(), fsnotify.Event{Name: "/elsewhere/x.pgbbak", Op: fsnotify.Remove}, noWatch)
	require.NoError(t, err)
	cat.AssertNotCalled(t, "DeleteRecordByPath", mock.Anything, mock.Anything)
}

func TestFail_StopsAtThreshold(t *testing.T) {
	w, _, c := newTestWatcher(t, &mockCatalog{})
	boom := errors.New("boom")

	for i := 1; i < MaxErrors; i++ {
		require.NoError(t, w.fail(boom))
		c.advance(time.Second)
	}
	err := w.fail(boom)
	require.Error(t, err)
	assert.ErrorIs(t, err, suture.ErrDoNotRestart)
	assert.ErrorIs(t, err, boom)
}

func TestFail_QuietPeriodResetsCount(t *testing.T) {
	w, _, c := newTestWatcher(t, &mockCatalog{})
	boom := errors.New("boom")

	for i := 1; i < MaxErrors; i++ {
		require.NoError(t, w.fail(boom))
	}
	c.advance(ErrorDecay + time.Second)
	require.NoError(t, w.fail(boom))
	assert.Equal(t, 1, w.errCount)
}

// recordingCatalog is safe for use from the Serve goroutine.
type recordingCatalog struct {
	mu      sync.Mutex
	removed []string
	renamed [][2]string
}

func (r *recordingCatalog) DeleteRecordByPath(_ context.Context, path string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removed = append(r.removed, path)
	return 1, nil
}

func (r *recordingCatalog) RenamePath(_ context.Context, oldPath, newPath string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.renamed = append(r.renamed, [2]string{oldPath, newPath})
	return 1, nil
}

func (r *recordingCatalog) snapshot() ([]string, [][2]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.removed...), append([][2]string(nil), r.renamed...)
}

func TestServe_ReconcilesFilesystemChanges(t *testing.T) {
	cat := &recordingCatalog{}
	root := t.TempDir()
	store, err := storage.NewLocal(root)
	require.NoError(t, err)
	root = store.Root()

	dir := filepath.Join(root, "postgres", "main")
	require.NoError(t, os.MkdirAll(dir, 0o750))
	gone := filepath.Join(dir, "gone_20260310030000.pgbbak")
	moved := filepath.Join(dir, "moved_20260310030000.pgbbak")
	require.NoError(t, os.WriteFile(gone, []byte("x"), 0o600))
	require.NoError(t, os.WriteFile(moved, []byte("y"), 0o600))

	w := New(store, cat, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Serve(ctx) }()

	// Give the watcher time to register the tree.
	time.Sleep(200 * time.Millisecond)

	require.NoError(t, os.Remove(gone))
	require.NoError(t, os.Rename(moved, filepath.Join(dir, "renamed_20260310030000.pgbbak")))

	require.Eventually(t, func() bool {
		removed, renamed := cat.snapshot()
		return len(removed) == 1 && len(renamed) == 1
	}, 3*time.Second, 20*time.Millisecond)

	removed, renamed := cat.snapshot()
	assert.Equal(t, []string{"postgres/main/gone_20260310030000.pgbbak"}, removed)
	assert.Equal(t, [2]string{"postgres/main/moved_20260310030000.pgbbak", "postgres/main/renamed_20260310030000.pgbbak"}, renamed[0])

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop")
	}
}
