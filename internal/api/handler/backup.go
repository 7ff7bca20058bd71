package handler

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/edvin/dbbackup/internal/api/request"
	"github.com/edvin/dbbackup/internal/api/response"
	"github.com/edvin/dbbackup/internal/model"
	"github.com/edvin/dbbackup/internal/storage"
)

type Backup struct {
	svc        BackupService
	linkExpiry time.Duration
}

func NewBackup(svc BackupService, linkExpiry time.Duration) *Backup {
	return &Backup{svc: svc, linkExpiry: linkExpiry}
}

// backupView adds the human readable size.
type backupView struct {
	model.Backup
	SizeString string `json:"size_string"`
	Compressed bool   `json:"compressed"`
}

func viewBackup(b model.Backup) backupView {
	return backupView{Backup: b, SizeString: b.SizeString(), Compressed: b.Compressed()}
}

// List returns backups newest first, optionally filtered by ?job_id=.
func (h *Backup) List(w http.ResponseWriter, r *http.Request) {
	var jobID int64
	if s := r.URL.Query().Get("job_id"); s != "" {
		id, err := request.ParseID(s)
		if err != nil {
			response.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		jobID = id
	}
	pg := request.ParsePagination(r)

	backups, hasMore, err := h.svc.List(r.Context(), jobID, pg.Limit, pg.Cursor)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	views := make([]backupView, 0, len(backups))
	for _, b := range backups {
		views = append(views, viewBackup(b))
	}
	var nextCursor string
	if hasMore && len(backups) > 0 {
		nextCursor = strconv.FormatInt(backups[len(backups)-1].ID, 10)
	}
	response.WritePaginated(w, http.StatusOK, views, nextCursor, hasMore)
}

func (h *Backup) Get(w http.ResponseWriter, r *http.Request) {
	b, ok := h.load(w, r)
	if !ok {
		return
	}
	response.WriteJSON(w, http.StatusOK, viewBackup(*b))
}

func (h *Backup) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := request.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.svc.DeleteByID(r.Context(), id); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Download redirects to a presigned link when the storage offers one and
// streams the object otherwise.
func (h *Backup) Download(w http.ResponseWriter, r *http.Request) {
	b, ok := h.load(w, r)
	if !ok {
		return
	}

	link, err := h.svc.DownloadLink(r.Context(), *b, h.linkExpiry)
	if err == nil {
		http.Redirect(w, r, link, http.StatusFound)
		return
	}
	if !errors.Is(err, storage.ErrLinkNotSupported) {
		writeServiceError(w, err)
		return
	}

	rc, err := h.svc.Open(r.Context(), *b)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", b.FileName()))
	if b.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(b.Size, 10))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		zerolog.Ctx(r.Context()).Warn().Err(err).Int64("backup_id", b.ID).Msg("download interrupted")
	}
}

func (h *Backup) Restore(w http.ResponseWriter, r *http.Request) {
	id, err := request.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	workflowID, err := h.svc.Restore(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusAccepted, map[string]string{"workflow_id": workflowID})
}

func (h *Backup) load(w http.ResponseWriter, r *http.Request) (*model.Backup, bool) {
	id, err := request.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}

	b, err := h.svc.GetByID(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return nil, false
	}
	return b, true
}
