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

type Agent struct {
	svc AgentService
	now func() time.Time
}

func NewAgent(svc AgentService) *Agent {
	return &Agent{svc: svc, now: time.Now}
}

// agentView adds the derived liveness state.
type agentView struct {
	model.Agent
	State model.AgentState `json:"state"`
}

func (h *Agent) view(a model.Agent) agentView {
	return agentView{Agent: a, State: a.State(h.now())}
}

func (h *Agent) List(w http.ResponseWriter, r *http.Request) {
	pg := request.ParsePagination(r)

	agents, hasMore, err := h.svc.List(r.Context(), pg.Limit, pg.Cursor)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	views := make([]agentView, 0, len(agents))
	for _, a := range agents {
		views = append(views, h.view(a))
	}
	var nextCursor string
	if hasMore && len(agents) > 0 {
		nextCursor = strconv.FormatInt(agents[len(agents)-1].ID, 10)
	}
	response.WritePaginated(w, http.StatusOK, views, nextCursor, hasMore)
}

func (h *Agent) Create(w http.ResponseWriter, r *http.Request) {
	var req request.CreateAgent
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	typ, _ := model.ParseDatabaseType(req.Type)
	agent := &model.Agent{Name: req.Name, Type: typ, Active: true}
	if err := h.svc.Create(r.Context(), agent); err != nil {
		writeServiceError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusCreated, h.view(*agent))
}

func (h *Agent) Get(w http.ResponseWriter, r *http.Request) {
	id, err := request.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	agent, err := h.svc.GetByID(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, h.view(*agent))
}

func (h *Agent) Update(w http.ResponseWriter, r *http.Request) {
	id, err := request.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req request.UpdateAgent
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	agent, err := h.svc.GetByID(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if req.Name != nil {
		agent.Name = *req.Name
	}
	if req.Type != nil {
		agent.Type, _ = model.ParseDatabaseType(*req.Type)
	}
	if req.Active != nil {
		agent.Active = *req.Active
	}

	if err := h.svc.Update(r.Context(), agent); err != nil {
		writeServiceError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, h.view(*agent))
}

func (h *Agent) Delete(w http.ResponseWriter, r *http.Request) {
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
