package core

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/mock"

	"github.com/edvin/dbbackup/internal/crypto"
	"github.com/edvin/dbbackup/internal/model"
	"github.com/edvin/dbbackup/internal/scheduler"
	"github.com/edvin/dbbackup/internal/strategy"
)

// ---------- Mock DB ----------

type mockDB struct {
	mock.Mock
}

func (m *mockDB) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgconn.CommandTag), args.Error(1)
}

func (m *mockDB) Query(ctx context.Context, sql string, arguments ...any) (pgx.Rows, error) {
	args := m.Called(ctx, sql, arguments)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(pgx.Rows), args.Error(1)
}

func (m *mockDB) QueryRow(ctx context.Context, sql string, arguments ...any) pgx.Row {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgx.Row)
}

func (m *mockDB) Begin(ctx context.Context) (pgx.Tx, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(pgx.Tx), args.Error(1)
}

// ---------- Mock Tx ----------

// mockTx implements the pgx.Tx methods the services call. Anything else
// panics through the nil embedded interface.
type mockTx struct {
	pgx.Tx
	mock.Mock
}

func (m *mockTx) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgconn.CommandTag), args.Error(1)
}

func (m *mockTx) Commit(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockTx) Rollback(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

// ---------- Mock Row ----------

type mockRow struct {
	scanFunc func(dest ...any) error
}

func (m *mockRow) Scan(dest ...any) error {
	return m.scanFunc(dest...)
}

func errRow(err error) *mockRow {
	return &mockRow{scanFunc: func(...any) error { return err }}
}

// ---------- Mock Rows ----------

type mockRows struct {
	callIndex int
	scanFuncs []func(dest ...any) error
	err       error
}

func newMockRows(scanFuncs ...func(dest ...any) error) *mockRows {
	return &mockRows{scanFuncs: scanFuncs}
}

func newEmptyMockRows() *mockRows {
	return &mockRows{}
}

func (m *mockRows) Next() bool {
	return m.callIndex < len(m.scanFuncs)
}

func (m *mockRows) Scan(dest ...any) error {
	if m.callIndex < len(m.scanFuncs) {
		fn := m.scanFuncs[m.callIndex]
		m.callIndex++
		return fn(dest...)
	}
	return nil
}

func (m *mockRows) Err() error                                   { return m.err }
func (m *mockRows) Close()                                       {}
func (m *mockRows) CommandTag() pgconn.CommandTag                 { return pgconn.CommandTag{} }
func (m *mockRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (m *mockRows) RawValues() [][]byte                          { return nil }
func (m *mockRows) Values() ([]any, error)                       { return nil, nil }
func (m *mockRows) Conn() *pgx.Conn                              { return nil }

// ---------- Collaborators ----------

type mockBridge struct {
	mock.Mock
}

func (m *mockBridge) Apply(ctx context.Context, c scheduler.Change) error {
	return m.Called(ctx, c).Error(0)
}

type mockStorage struct {
	mock.Mock
}

func (m *mockStorage) MoveTo(ctx context.Context, localPath, dest string) error {
	return m.Called(ctx, localPath, dest).Error(0)
}

func (m *mockStorage) Delete(ctx context.Context, p string) error {
	return m.Called(ctx, p).Error(0)
}

func (m *mockStorage) ListFiles(ctx context.Context, prefix string) ([]string, error) {
	args := m.Called(ctx, prefix)
	files, _ := args.Get(0).([]string)
	return files, args.Error(1)
}

func (m *mockStorage) Fetch(ctx context.Context, p string) (string, func(), error) {
	args := m.Called(ctx, p)
	return args.String(0), func() {}, args.Error(2)
}

func (m *mockStorage) Open(ctx context.Context, p string) (io.ReadCloser, error) {
	args := m.Called(ctx, p)
	rc, _ := args.Get(0).(io.ReadCloser)
	return rc, args.Error(1)
}

func (m *mockStorage) Exists(ctx context.Context, p string) (bool, error) {
	args := m.Called(ctx, p)
	return args.Bool(0), args.Error(1)
}

func (m *mockStorage) Size(ctx context.Context, p string) (int64, error) {
	args := m.Called(ctx, p)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockStorage) PresignedLink(ctx context.Context, p string, expiry time.Duration) (string, error) {
	args := m.Called(ctx, p, expiry)
	return args.String(0), args.Error(1)
}

type stubStrategy struct {
	strategy.Strategy
	databases []string
	err       error
}

func (s stubStrategy) ListDatabases(context.Context) ([]string, error) {
	return s.databases, s.err
}

type stubResolver struct {
	strategy strategy.Strategy
	err      error
}

func (r stubResolver) For(model.Server) (strategy.Strategy, error) {
	return r.strategy, r.err
}

// ---------- Row builders ----------

var testKeyring = crypto.NewKeyring("core-test-secret")

var testTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func serverScan(s model.Server) func(dest ...any) error {
	return func(dest ...any) error {
		sealed, err := testKeyring.Seal(s.Password)
		if err != nil {
			return err
		}
		*(dest[0].(*int64)) = s.ID
		*(dest[1].(*string)) = s.Name
		*(dest[2].(*model.DatabaseType)) = s.Type
		*(dest[3].(*string)) = s.Host
		*(dest[4].(*int)) = s.Port
		*(dest[5].(*string)) = s.User
		*(dest[6].(*string)) = sealed
		*(dest[7].(*time.Time)) = testTime
		*(dest[8].(*time.Time)) = testTime
		return nil
	}
}

func jobScan(j model.BackupJob) func(dest ...any) error {
	return func(dest ...any) error {
		*(dest[0].(*int64)) = j.ID
		*(dest[1].(*string)) = j.Name
		*(dest[2].(*string)) = j.Cron
		*(dest[3].(*bool)) = j.Enabled
		*(dest[4].(*int64)) = int64(j.Retention / time.Second)
		*(dest[5].(*string)) = j.DatabaseNames
		*(dest[6].(*string)) = j.BackupFormat
		*(dest[7].(*model.TargetKind)) = j.TargetKind
		*(dest[8].(*int64)) = j.TargetID
		*(dest[9].(*time.Time)) = testTime
		*(dest[10].(*time.Time)) = testTime
		return nil
	}
}

func agentScan(a model.Agent) func(dest ...any) error {
	return func(dest ...any) error {
		*(dest[0].(*int64)) = a.ID
		*(dest[1].(*string)) = a.Name
		*(dest[2].(*string)) = a.URL
		*(dest[3].(*string)) = a.Token
		*(dest[4].(*model.DatabaseType)) = a.Type
		*(dest[5].(*bool)) = a.Active
		*(dest[6].(**time.Time)) = a.LastSeen
		*(dest[7].(**time.Time)) = a.LastUsed
		*(dest[8].(*[]string)) = a.Databases
		*(dest[9].(*[]string)) = a.JobQueue
		*(dest[10].(*time.Time)) = testTime
		*(dest[11].(*time.Time)) = testTime
		return nil
	}
}

func backupScan(b model.Backup) func(dest ...any) error {
	return func(dest ...any) error {
		*(dest[0].(*int64)) = b.ID
		*(dest[1].(*int64)) = b.JobID
		*(dest[2].(*time.Time)) = b.BackupDate
		*(dest[3].(*string)) = b.Path
		*(dest[4].(*int64)) = b.Size
		*(dest[5].(*time.Time)) = testTime
		*(dest[6].(*time.Time)) = testTime
		return nil
	}
}

// insertedRow fills RETURNING id, created_at, updated_at.
func insertedRow(id int64) *mockRow {
	return &mockRow{scanFunc: func(dest ...any) error {
		*(dest[0].(*int64)) = id
		*(dest[1].(*time.Time)) = testTime
		*(dest[2].(*time.Time)) = testTime
		return nil
	}}
}

func boolRow(v bool) *mockRow {
	return &mockRow{scanFunc: func(dest ...any) error {
		*(dest[0].(*bool)) = v
		return nil
	}}
}

func stringRow(v string) *mockRow {
	return &mockRow{scanFunc: func(dest ...any) error {
		*(dest[0].(*string)) = v
		return nil
	}}
}

// sqlContains matches a query by a fragment of its text.
func sqlContains(fragment string) interface{} {
	return mock.MatchedBy(func(sql string) bool { return strings.Contains(sql, fragment) })
}
