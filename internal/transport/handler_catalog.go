package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odonata-labs/ledgerflow/internal/graph"
)

func handleRoleCreate(graphs *graph.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Name        string `json:"name"`
			Description string `json:"description"`
		}
		if err := decodeBody(r, &body, false); err != nil {
			WriteError(w, err)
			return
		}

		role, err := graphs.CreateRole(r.Context(), body.Name, body.Description)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusCreated, role)
	}
}

func handleRoleGet(graphs *graph.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		role, err := graphs.GetRole(r.Context(), chi.URLParam(r, "roleId"))
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, role)
	}
}

func handleRoleList(graphs *graph.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roles, err := graphs.ListRoles(r.Context())
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{"data": roles})
	}
}

func handleEventTypeCreate(graphs *graph.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Name        string `json:"name"`
			Description string `json:"description"`
		}
		if err := decodeBody(r, &body, false); err != nil {
			WriteError(w, err)
			return
		}

		et, err := graphs.CreateEventType(r.Context(), body.Name, body.Description)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusCreated, et)
	}
}

func handleEventTypeList(graphs *graph.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		types, err := graphs.ListEventTypes(r.Context())
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{"data": types})
	}
}
