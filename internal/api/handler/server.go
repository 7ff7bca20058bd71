package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/edvin/dbbackup/internal/api/request"
	"github.com/edvin/dbbackup/internal/api/response"
	"github.com/edvin/dbbackup/internal/model"
)

type Server struct {
	svc ServerService
}

func NewServer(svc ServerService) *Server {
	return &Server{svc: svc}
}

func (h *Server) List(w http.ResponseWriter, r *http.Request) {
	pg := request.ParsePagination(r)

	servers, hasMore, err := h.svc.List(r.Context(), pg.Limit, pg.Cursor)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	var nextCursor string
	if hasMore && len(servers) > 0 {
		nextCursor = strconv.FormatInt(servers[len(servers)-1].ID, 10)
	}
	response.WritePaginated(w, http.StatusOK, servers, nextCursor, hasMore)
}

func (h *Server) Create(w http.ResponseWriter, r *http.Request) {
	var req request.CreateServer
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	typ, _ := model.ParseDatabaseType(req.Type)
	server := &model.Server{
		Name:     req.Name,
		Type:     typ,
		Host:     req.Host,
		Port:     req.Port,
		User:     req.User,
		Password: req.Password,
	}
	if server.Port == 0 {
		server.Port = typ.DefaultPort()
	}

	if err := h.svc.Create(r.Context(), server); err != nil {
		writeServiceError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusCreated, server)
}

func (h *Server) Get(w http.ResponseWriter, r *http.Request) {
	id, err := request.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	server, err := h.svc.GetByID(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, server)
}

func (h *Server) Update(w http.ResponseWriter, r *http.Request) {
	id, err := request.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req request.UpdateServer
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	server, err := h.svc.GetByID(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if req.Name != nil {
		server.Name = *req.Name
	}
	if req.Host != nil {
		server.Host = *req.Host
	}
	if req.Port != nil {
		server.Port = *req.Port
	}
	if req.User != nil {
		server.User = *req.User
	}
	if req.Password != nil {
		server.Password = *req.Password
	}

	if err := h.svc.Update(r.Context(), server); err != nil {
		writeServiceError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, server)
}

func (h *Server) Delete(w http.ResponseWriter, r *http.Request) {
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

// Databases lists the databases on the live server.
func (h *Server) Databases(w http.ResponseWriter, r *http.Request) {
	id, err := request.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	names, err := h.svc.ListDatabases(r.Context(), id)
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			status = http.StatusBadGateway
		}
		response.WriteError(w, status, err.Error())
		return
	}
	response.WriteJSON(w, http.StatusOK, map[string][]string{"databases": names})
}
