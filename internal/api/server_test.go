package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	temporalclient "go.temporal.io/sdk/client"
	temporalmocks "go.temporal.io/sdk/mocks"

	"github.com/edvin/dbbackup/internal/config"
	"github.com/edvin/dbbackup/internal/core"
)

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

func newTestServer(t *testing.T, pingErr error) (*Server, *temporalmocks.Client) {
	t.Helper()
	tc := &temporalmocks.Client{}
	cfg := &config.Config{AdminAPIKey: "admin-secret", BackupTempDir: t.TempDir()}
	return NewServer(zerolog.Nop(), fakePinger{err: pingErr}, tc, &core.Services{}, cfg), tc
}

func TestHealthz(t *testing.T) {
	s, _ := newTestServer(t, nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestReadyz(t *testing.T) {
	s, tc := newTestServer(t, nil)
	tc.On("CheckHealth", mock.Anything, mock.Anything).Return(&temporalclient.CheckHealthResponse{}, nil)

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	var checks map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &checks))
	assert.Equal(t, "ok", checks["core_db"])
	assert.Equal(t, "ok", checks["temporal"])
}

func TestReadyz_Degraded(t *testing.T) {
	s, tc := newTestServer(t, errors.New("connection refused"))
	tc.On("CheckHealth", mock.Anything, mock.Anything).Return(nil, errors.New("unavailable"))

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var checks map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &checks))
	assert.Equal(t, "connection refused", checks["core_db"])
	assert.Equal(t, "unavailable", checks["temporal"])
}

func TestAdminRoutesRequireKey(t *testing.T) {
	s, _ := newTestServer(t, nil)
	for _, path := range []string{"/api/v1/servers", "/api/v1/agents", "/api/v1/backup-jobs", "/api/v1/backups"} {
		rec := httptest.NewRecorder()
		s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
	}
}

func TestAgentRoutesSkipAdminAuth(t *testing.T) {
	s, _ := newTestServer(t, nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/agent/notify-presence", nil))

	// rejected by body validation, not by the API key check
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(t, nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
