package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odonata-labs/ledgerflow/internal/engine"
	"github.com/odonata-labs/ledgerflow/model"
)

func handleParticipantGrant(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			PrincipalRef string `json:"principal_ref"`
			RoleID       string `json:"role_id"`
		}
		if err := decodeBody(r, &body, false); err != nil {
			WriteError(w, err)
			return
		}

		p, err := eng.Grant(r.Context(),
			chi.URLParam(r, "activityId"), body.PrincipalRef, body.RoleID)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusCreated, p)
	}
}

func handleParticipantList(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roster, err := eng.Participants(r.Context(), chi.URLParam(r, "activityId"))
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{"data": roster})
	}
}

// handleParticipantRevoke removes a grant identified by the
// principal_ref and role_id query parameters. Revoking an absent grant
// still returns 204.
func handleParticipantRevoke(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principalRef := r.URL.Query().Get("principal_ref")
		roleID := r.URL.Query().Get("role_id")
		if principalRef == "" || roleID == "" {
			WriteError(w, model.NewBadRequestError("principal_ref and role_id query parameters are required"))
			return
		}

		err := eng.Revoke(r.Context(), chi.URLParam(r, "activityId"), principalRef, roleID)
		if err != nil {
			WriteError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
