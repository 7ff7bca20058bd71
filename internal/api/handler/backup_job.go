package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/edvin/dbbackup/internal/api/request"
	"github.com/edvin/dbbackup/internal/api/response"
	"github.com/edvin/dbbackup/internal/model"
)

type BackupJob struct {
	svc BackupJobService
}

func NewBackupJob(svc BackupJobService) *BackupJob {
	return &BackupJob{svc: svc}
}

func (h *BackupJob) List(w http.ResponseWriter, r *http.Request) {
	pg := request.ParsePagination(r)

	jobs, hasMore, err := h.svc.List(r.Context(), pg.Limit, pg.Cursor)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	var nextCursor string
	if hasMore && len(jobs) > 0 {
		nextCursor = strconv.FormatInt(jobs[len(jobs)-1].ID, 10)
	}
	response.WritePaginated(w, http.StatusOK, jobs, nextCursor, hasMore)
}

func (h *BackupJob) Create(w http.ResponseWriter, r *http.Request) {
	var req request.CreateBackupJob
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	job := &model.BackupJob{
		Name:          req.Name,
		Cron:          req.Cron,
		Enabled:       true,
		Retention:     time.Duration(req.RetentionSeconds) * time.Second,
		DatabaseNames: req.DatabaseNames,
		BackupFormat:  req.BackupFormat,
		TargetKind:    model.TargetKind(req.TargetKind),
		TargetID:      req.TargetID,
	}
	if req.Enabled != nil {
		job.Enabled = *req.Enabled
	}

	if err := h.svc.Create(r.Context(), job); err != nil {
		writeServiceError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusCreated, job)
}

func (h *BackupJob) Get(w http.ResponseWriter, r *http.Request) {
	id, err := request.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	job, err := h.svc.GetByID(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, job)
}

func (h *BackupJob) Update(w http.ResponseWriter, r *http.Request) {
	id, err := request.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req request.UpdateBackupJob
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	job, err := h.svc.GetByID(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if req.Name != nil {
		job.Name = *req.Name
	}
	if req.Cron != nil {
		job.Cron = *req.Cron
	}
	if req.Enabled != nil {
		job.Enabled = *req.Enabled
	}
	if req.RetentionSeconds != nil {
		job.Retention = time.Duration(*req.RetentionSeconds) * time.Second
	}
	if req.DatabaseNames != nil {
		job.DatabaseNames = *req.DatabaseNames
	}
	if req.BackupFormat != nil {
		job.BackupFormat = *req.BackupFormat
	}
	if req.TargetKind != nil {
		job.TargetKind = model.TargetKind(*req.TargetKind)
	}
	if req.TargetID != nil {
		job.TargetID = *req.TargetID
	}

	if err := h.svc.Update(r.Context(), job); err != nil {
		writeServiceError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, job)
}

func (h *BackupJob) Enable(w http.ResponseWriter, r *http.Request) {
	h.setEnabled(w, r, true)
}

func (h *BackupJob) Disable(w http.ResponseWriter, r *http.Request) {
	h.setEnabled(w, r, false)
}

func (h *BackupJob) setEnabled(w http.ResponseWriter, r *http.Request, enabled bool) {
	id, err := request.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	job, err := h.svc.SetEnabled(r.Context(), id, enabled)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, job)
}

func (h *BackupJob) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := request.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.svc.Delete(r.Context(), id); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Run starts the job right away, outside its schedule.
func (h *BackupJob) Run(w http.ResponseWriter, r *http.Request) {
	id, err := request.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	workflowID, err := h.svc.Run(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusAccepted, map[string]string{"workflow_id": workflowID})
}
