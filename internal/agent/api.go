package agent

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/edvin/dbbackup/internal/api/response"
	"github.com/edvin/dbbackup/internal/strategy"
)

// API is the agent's local HTTP surface, used by the manager to pull an
// on-demand dump or the database list.
type API struct {
	token    string
	strategy strategy.Strategy
	logger   zerolog.Logger
}

func NewAPI(token string, st strategy.Strategy, logger zerolog.Logger) *API {
	return &API{
		token:    token,
		strategy: st,
		logger:   logger.With().Str("component", "agent-api").Logger(),
	}
}

func (a *API) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Post("/backup", a.Backup)
	r.Post("/database", a.Databases)
	return r
}

type backupRequest struct {
	Databases string `json:"databases"`
	Token     string `json:"token"`
}

type databasesRequest struct {
	Token string `json:"token"`
}

// Backup dumps one database and streams the artifact back.
func (a *API) Backup(w http.ResponseWriter, r *http.Request) {
	var req backupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	if !a.authorized(req.Token) {
		response.WriteError(w, http.StatusUnauthorized, "invalid token")
		return
	}
	database := strings.TrimSpace(req.Databases)
	if database == "" {
		response.WriteError(w, http.StatusBadRequest, "databases is required")
		return
	}

	if err := a.strategy.Ping(r.Context()); err != nil {
		a.logger.Error().Err(err).Msg("database connectivity check failed")
		response.WriteError(w, http.StatusInternalServerError, "could not connect to database")
		return
	}

	backup, err := a.strategy.Backup(r.Context(), database)
	if err != nil {
		a.logger.Error().Err(err).Str("database", database).Msg("on-demand backup failed")
		response.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer os.Remove(backup.Path)

	f, err := os.Open(backup.Path)
	if errors.Is(err, os.ErrNotExist) {
		response.WriteError(w, http.StatusInternalServerError, "no backup file found")
		return
	}
	if err != nil {
		response.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer f.Close()

	name := filepath.Base(backup.Path)
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	http.ServeContent(w, r, name, backup.BackupDate, f)
}

// Databases lists the databases visible with the configured credentials.
func (a *API) Databases(w http.ResponseWriter, r *http.Request) {
	var req databasesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	if !a.authorized(req.Token) {
		response.WriteError(w, http.StatusUnauthorized, "invalid token")
		return
	}

	names, err := a.strategy.ListDatabases(r.Context())
	if err != nil {
		a.logger.Error().Err(err).Msg("list databases failed")
		response.WriteError(w, http.StatusInternalServerError, "could not connect to database")
		return
	}
	if names == nil {
		names = []string{}
	}
	response.WriteJSON(w, http.StatusOK, names)
}

func (a *API) authorized(token string) bool {
	return a.token != "" && subtle.ConstantTimeCompare([]byte(token), []byte(a.token)) == 1
}
