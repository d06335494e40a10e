// Package transport contains the HTTP router, middleware chain, and all
// request handlers for the workflow engine API.
package transport

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/odonata-labs/ledgerflow/model"
)

// statusForCode maps ErrorEnvelope codes to HTTP status codes.
var statusForCode = map[string]int{
	model.ErrBadRequest:            http.StatusBadRequest,
	model.ErrUnauthenticated:       http.StatusUnauthorized,
	model.ErrUnauthorized:          http.StatusForbidden,
	model.ErrNotFound:              http.StatusNotFound,
	model.ErrConflict:              http.StatusConflict,
	model.ErrValidationError:       http.StatusUnprocessableEntity,
	model.ErrInternalError:         http.StatusInternalServerError,
	model.ErrInvalidLifecycleState: http.StatusConflict,
	model.ErrDuplicateStartState:   http.StatusUnprocessableEntity,
	model.ErrUnreachableState:      http.StatusUnprocessableEntity,
	model.ErrDeadEndState:          http.StatusUnprocessableEntity,
	model.ErrUnusableTransition:    http.StatusUnprocessableEntity,
	model.ErrWrongSource:           http.StatusConflict,
	model.ErrWorkflowNotActive:     http.StatusConflict,
	model.ErrNoHistory:             http.StatusInternalServerError,
	model.ErrMandatoryEventMissing: http.StatusConflict,
	model.ErrEventNotInWorkflow:    http.StatusUnprocessableEntity,
	model.ErrActivityCompleted:     http.StatusConflict,
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if body != nil {
		json.NewEncoder(w).Encode(body)
	}
}

// WriteError writes an ErrorEnvelope as a JSON response with the correct
// HTTP status code. If err is not an *ErrorEnvelope, a generic 500 is
// returned.
func WriteError(w http.ResponseWriter, err error) {
	ee, ok := err.(*model.ErrorEnvelope)
	if !ok {
		ee = model.NewInternalError()
	}

	status := statusForCode[ee.Code]
	if status == 0 {
		status = http.StatusInternalServerError
	}

	type errorResponse struct {
		Error *model.ErrorEnvelope `json:"error"`
	}
	WriteJSON(w, status, errorResponse{Error: ee})
}

// decodeBody decodes a JSON request body into dst. An empty body is
// allowed when allowEmpty is set, for endpoints whose input is entirely
// optional.
func decodeBody(r *http.Request, dst any, allowEmpty bool) error {
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == nil {
		return nil
	}
	if allowEmpty && errors.Is(err, io.EOF) {
		return nil
	}
	return model.NewBadRequestError("invalid JSON body")
}
