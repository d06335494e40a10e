package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odonata-labs/ledgerflow/internal/engine"
	"github.com/odonata-labs/ledgerflow/model"
)

func handleActivityCreate(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			WorkflowID string `json:"workflow_id"`
			SubjectRef string `json:"subject_ref"`
		}
		if err := decodeBody(r, &body, false); err != nil {
			WriteError(w, err)
			return
		}

		act, err := eng.CreateActivity(r.Context(), body.WorkflowID, body.SubjectRef)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusCreated, act)
	}
}

func handleActivityList(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filters := model.ActivityFilters{
			WorkflowID: r.URL.Query().Get("workflow_id"),
			SubjectRef: r.URL.Query().Get("subject_ref"),
			Limit:      queryInt(r, "limit", 50),
			Offset:     queryInt(r, "offset", 0),
		}
		switch r.URL.Query().Get("completed") {
		case "true":
			yes := true
			filters.Completed = &yes
		case "false":
			no := false
			filters.Completed = &no
		}

		activities, err := eng.ListActivities(r.Context(), filters)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{
			"data":   activities,
			"limit":  filters.Limit,
			"offset": filters.Offset,
		})
	}
}

func handleActivityGet(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		act, err := eng.GetActivity(r.Context(), chi.URLParam(r, "activityId"))
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, act)
	}
}

func handleActivityState(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		state, err := eng.CurrentState(r.Context(), chi.URLParam(r, "activityId"))
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, state)
	}
}

// handleActivityTransitions lists the transitions out of the current
// state that the calling principal may fire right now.
func handleActivityTransitions(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.MustRequestContext(r.Context())

		transitions, err := eng.AvailableTransitions(r.Context(),
			chi.URLParam(r, "activityId"), rctx.PrincipalRef)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{"data": transitions})
	}
}

func handleActivityFire(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.MustRequestContext(r.Context())

		var body struct {
			TransitionID   string `json:"transition_id"`
			Note           string `json:"note"`
			IdempotencyKey string `json:"idempotency_key"`
		}
		if err := decodeBody(r, &body, false); err != nil {
			WriteError(w, err)
			return
		}
		if body.IdempotencyKey == "" {
			body.IdempotencyKey = r.Header.Get("X-Idempotency-Key")
		}

		entry, err := eng.Fire(r.Context(), engine.FireInput{
			ActivityID:     chi.URLParam(r, "activityId"),
			TransitionID:   body.TransitionID,
			PrincipalRef:   rctx.PrincipalRef,
			Note:           body.Note,
			IdempotencyKey: body.IdempotencyKey,
		})
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, entry)
	}
}

func handleActivityLogEvent(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.MustRequestContext(r.Context())

		var body struct {
			EventID string `json:"event_id"`
			Note    string `json:"note"`
		}
		if err := decodeBody(r, &body, false); err != nil {
			WriteError(w, err)
			return
		}

		entry, err := eng.LogEvent(r.Context(),
			chi.URLParam(r, "activityId"), body.EventID, rctx.PrincipalRef, body.Note)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusCreated, entry)
	}
}

func handleActivityStop(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.MustRequestContext(r.Context())

		var body struct {
			Reason string `json:"reason"`
		}
		if err := decodeBody(r, &body, true); err != nil {
			WriteError(w, err)
			return
		}

		entry, err := eng.Stop(r.Context(),
			chi.URLParam(r, "activityId"), rctx.PrincipalRef, body.Reason)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, entry)
	}
}

func handleActivityHistory(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ledger, err := eng.History(r.Context(), chi.URLParam(r, "activityId"))
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{"data": ledger})
	}
}
