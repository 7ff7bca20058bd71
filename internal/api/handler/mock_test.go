package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/mock"

	"github.com/edvin/dbbackup/internal/core"
	"github.com/edvin/dbbackup/internal/model"
)

type mockServerService struct {
	mock.Mock
}

func (m *mockServerService) Create(ctx context.Context, server *model.Server) error {
	return m.Called(ctx, server).Error(0)
}

func (m *mockServerService) GetByID(ctx context.Context, id int64) (*model.Server, error) {
	args := m.Called(ctx, id)
	s, _ := args.Get(0).(*model.Server)
	return s, args.Error(1)
}

func (m *mockServerService) List(ctx context.Context, limit int, cursor string) ([]model.Server, bool, error) {
	args := m.Called(ctx, limit, cursor)
	s, _ := args.Get(0).([]model.Server)
	return s, args.Bool(1), args.Error(2)
}

func (m *mockServerService) Update(ctx context.Context, server *model.Server) error {
	return m.Called(ctx, server).Error(0)
}

func (m *mockServerService) Delete(ctx context.Context, id int64) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockServerService) ListDatabases(ctx context.Context, id int64) ([]string, error) {
	args := m.Called(ctx, id)
	s, _ := args.Get(0).([]string)
	return s, args.Error(1)
}

type mockAgentService struct {
	mock.Mock
}

func (m *mockAgentService) Create(ctx context.Context, agent *model.Agent) error {
	return m.Called(ctx, agent).Error(0)
}

func (m *mockAgentService) GetByID(ctx context.Context, id int64) (*model.Agent, error) {
	args := m.Called(ctx, id)
	a, _ := args.Get(0).(*model.Agent)
	return a, args.Error(1)
}

func (m *mockAgentService) List(ctx context.Context, limit int, cursor string) ([]model.Agent, bool, error) {
	args := m.Called(ctx, limit, cursor)
	a, _ := args.Get(0).([]model.Agent)
	return a, args.Bool(1), args.Error(2)
}

func (m *mockAgentService) Update(ctx context.Context, agent *model.Agent) error {
	return m.Called(ctx, agent).Error(0)
}

func (m *mockAgentService) Delete(ctx context.Context, id int64) error {
	return m.Called(ctx, id).Error(0)
}

type mockAgentProtocol struct {
	mock.Mock
}

func (m *mockAgentProtocol) NotifyPresence(ctx context.Context, token, url string, databases []string) ([]core.AgentJob, error) {
	args := m.Called(ctx, token, url, databases)
	j, _ := args.Get(0).([]core.AgentJob)
	return j, args.Error(1)
}

func (m *mockAgentProtocol) SubmitArtifact(ctx context.Context, token string, art core.AgentArtifact) (*model.Backup, error) {
	args := m.Called(ctx, token, art)
	b, _ := args.Get(0).(*model.Backup)
	return b, args.Error(1)
}

func (m *mockAgentProtocol) ReportFailure(ctx context.Context, token, name string) (*model.Agent, error) {
	args := m.Called(ctx, token, name)
	a, _ := args.Get(0).(*model.Agent)
	return a, args.Error(1)
}

type mockBackupJobService struct {
	mock.Mock
}

func (m *mockBackupJobService) Create(ctx context.Context, job *model.BackupJob) error {
	return m.Called(ctx, job).Error(0)
}

func (m *mockBackupJobService) GetByID(ctx context.Context, id int64) (*model.BackupJob, error) {
	args := m.Called(ctx, id)
	j, _ := args.Get(0).(*model.BackupJob)
	return j, args.Error(1)
}

func (m *mockBackupJobService) List(ctx context.Context, limit int, cursor string) ([]model.BackupJob, bool, error) {
	args := m.Called(ctx, limit, cursor)
	j, _ := args.Get(0).([]model.BackupJob)
	return j, args.Bool(1), args.Error(2)
}

func (m *mockBackupJobService) Update(ctx context.Context, job *model.BackupJob) error {
	return m.Called(ctx, job).Error(0)
}

func (m *mockBackupJobService) SetEnabled(ctx context.Context, id int64, enabled bool) (*model.BackupJob, error) {
	args := m.Called(ctx, id, enabled)
	j, _ := args.Get(0).(*model.BackupJob)
	return j, args.Error(1)
}

func (m *mockBackupJobService) Delete(ctx context.Context, id int64) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockBackupJobService) Run(ctx context.Context, id int64) (string, error) {
	args := m.Called(ctx, id)
	return args.String(0), args.Error(1)
}

type mockBackupService struct {
	mock.Mock
}

func (m *mockBackupService) GetByID(ctx context.Context, id int64) (*model.Backup, error) {
	args := m.Called(ctx, id)
	b, _ := args.Get(0).(*model.Backup)
	return b, args.Error(1)
}

func (m *mockBackupService) List(ctx context.Context, jobID int64, limit int, cursor string) ([]model.Backup, bool, error) {
	args := m.Called(ctx, jobID, limit, cursor)
	b, _ := args.Get(0).([]model.Backup)
	return b, args.Bool(1), args.Error(2)
}

func (m *mockBackupService) DeleteByID(ctx context.Context, id int64) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockBackupService) DownloadLink(ctx context.Context, b model.Backup, expiry time.Duration) (string, error) {
	args := m.Called(ctx, b, expiry)
	return args.String(0), args.Error(1)
}

func (m *mockBackupService) Open(ctx context.Context, b model.Backup) (io.ReadCloser, error) {
	args := m.Called(ctx, b)
	rc, _ := args.Get(0).(io.ReadCloser)
	return rc, args.Error(1)
}

func (m *mockBackupService) Restore(ctx context.Context, id int64) (string, error) {
	args := m.Called(ctx, id)
	return args.String(0), args.Error(1)
}

// newRequest creates a new HTTP request with an optional JSON body.
func newRequest(method, target string, body any) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	r := httptest.NewRequest(method, target, &buf)
	r.Header.Set("Content-Type", "application/json")
	return r
}

// newRequestRaw creates a new HTTP request with a raw string body.
func newRequestRaw(method, target, body string) *http.Request {
	r := httptest.NewRequest(method, target, bytes.NewBufferString(body))
	r.Header.Set("Content-Type", "application/json")
	return r
}

// withChiURLParam adds a chi URL parameter to the request context.
func withChiURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// decodeErrorResponse parses the JSON error response body into a map.
func decodeErrorResponse(rec *httptest.ResponseRecorder) map[string]string {
	var body map[string]string
	json.Unmarshal(rec.Body.Bytes(), &body)
	return body
}

var testTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
