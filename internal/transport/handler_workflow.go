package transport

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/odonata-labs/ledgerflow/internal/graph"
)

func handleWorkflowCreate(graphs *graph.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Name        string `json:"name"`
			Description string `json:"description"`
		}
		if err := decodeBody(r, &body, false); err != nil {
			WriteError(w, err)
			return
		}

		wf, err := graphs.CreateWorkflow(r.Context(), graph.CreateWorkflowInput{
			Name:        body.Name,
			Description: body.Description,
		})
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusCreated, wf)
	}
}

func handleWorkflowList(graphs *graph.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filters := graph.WorkflowFilters{
			Status: r.URL.Query().Get("status"),
			Limit:  queryInt(r, "limit", 50),
			Offset: queryInt(r, "offset", 0),
		}

		workflows, err := graphs.ListWorkflows(r.Context(), filters)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{
			"data":   workflows,
			"limit":  filters.Limit,
			"offset": filters.Offset,
		})
	}
}

func handleWorkflowGet(graphs *graph.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		wf, err := graphs.GetWorkflow(r.Context(), chi.URLParam(r, "workflowId"))
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, wf)
	}
}

func handleWorkflowDelete(graphs *graph.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := graphs.DeleteWorkflow(r.Context(), chi.URLParam(r, "workflowId")); err != nil {
			WriteError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleStateAdd(graphs *graph.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Name            string   `json:"name"`
			Description     string   `json:"description"`
			IsStartState    bool     `json:"is_start_state"`
			IsEndState      bool     `json:"is_end_state"`
			RoleIDs         []string `json:"role_ids"`
			EstimationValue int      `json:"estimation_value"`
			EstimationUnit  string   `json:"estimation_unit"`
		}
		if err := decodeBody(r, &body, false); err != nil {
			WriteError(w, err)
			return
		}

		st, err := graphs.AddState(r.Context(), chi.URLParam(r, "workflowId"), graph.StateInput{
			Name:            body.Name,
			Description:     body.Description,
			IsStartState:    body.IsStartState,
			IsEndState:      body.IsEndState,
			RoleIDs:         body.RoleIDs,
			EstimationValue: body.EstimationValue,
			EstimationUnit:  body.EstimationUnit,
		})
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusCreated, st)
	}
}

func handleStateRemove(graphs *graph.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := graphs.RemoveState(r.Context(),
			chi.URLParam(r, "workflowId"), chi.URLParam(r, "stateId"))
		if err != nil {
			WriteError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleTransitionAdd(graphs *graph.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Name        string   `json:"name"`
			FromStateID string   `json:"from_state_id"`
			ToStateID   string   `json:"to_state_id"`
			RoleIDs     []string `json:"role_ids"`
		}
		if err := decodeBody(r, &body, false); err != nil {
			WriteError(w, err)
			return
		}

		tr, err := graphs.AddTransition(r.Context(), chi.URLParam(r, "workflowId"), graph.TransitionInput{
			Name:        body.Name,
			FromStateID: body.FromStateID,
			ToStateID:   body.ToStateID,
			RoleIDs:     body.RoleIDs,
		})
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusCreated, tr)
	}
}

func handleTransitionRemove(graphs *graph.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := graphs.RemoveTransition(r.Context(),
			chi.URLParam(r, "workflowId"), chi.URLParam(r, "transitionId"))
		if err != nil {
			WriteError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleEventAdd(graphs *graph.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Name         string   `json:"name"`
			Description  string   `json:"description"`
			StateID      string   `json:"state_id"`
			EventTypeIDs []string `json:"event_type_ids"`
			RoleIDs      []string `json:"role_ids"`
			IsMandatory  bool     `json:"is_mandatory"`
		}
		if err := decodeBody(r, &body, false); err != nil {
			WriteError(w, err)
			return
		}

		ev, err := graphs.AddEvent(r.Context(), chi.URLParam(r, "workflowId"), graph.EventInput{
			Name:         body.Name,
			Description:  body.Description,
			StateID:      body.StateID,
			EventTypeIDs: body.EventTypeIDs,
			RoleIDs:      body.RoleIDs,
			IsMandatory:  body.IsMandatory,
		})
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusCreated, ev)
	}
}

func handleEventRemove(graphs *graph.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := graphs.RemoveEvent(r.Context(),
			chi.URLParam(r, "workflowId"), chi.URLParam(r, "eventId"))
		if err != nil {
			WriteError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleWorkflowActivate(graphs *graph.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		wf, err := graphs.Activate(r.Context(), chi.URLParam(r, "workflowId"))
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, wf)
	}
}

func handleWorkflowRetire(graphs *graph.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		wf, err := graphs.Retire(r.Context(), chi.URLParam(r, "workflowId"))
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, wf)
	}
}

func handleWorkflowClone(graphs *graph.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Name string `json:"name"`
		}
		if err := decodeBody(r, &body, true); err != nil {
			WriteError(w, err)
			return
		}

		clone, err := graphs.Clone(r.Context(), chi.URLParam(r, "workflowId"), body.Name)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusCreated, clone)
	}
}

func handleWorkflowGraph(graphs *graph.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		export, err := graphs.Export(r.Context(), chi.URLParam(r, "workflowId"))
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, export)
	}
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
