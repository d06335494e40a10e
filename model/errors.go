package model

import "fmt"

// Ambient error codes.
const (
	ErrBadRequest      = "BAD_REQUEST"
	ErrUnauthenticated = "UNAUTHENTICATED"
	ErrNotFound        = "NOT_FOUND"
	ErrConflict        = "CONFLICT"
	ErrValidationError = "VALIDATION_ERROR"
	ErrInternalError   = "INTERNAL_ERROR"
)

// Workflow engine error codes. All are routine, caller-recoverable
// outcomes of multi-actor workflow usage except NO_HISTORY, which marks
// a data-integrity fault.
const (
	ErrInvalidLifecycleState = "INVALID_LIFECYCLE_STATE"
	ErrDuplicateStartState   = "DUPLICATE_START_STATE"
	ErrUnreachableState      = "UNREACHABLE_STATE"
	ErrDeadEndState          = "DEAD_END_STATE"
	ErrUnusableTransition    = "UNUSABLE_TRANSITION"
	ErrWrongSource           = "WRONG_SOURCE"
	ErrUnauthorized          = "UNAUTHORIZED"
	ErrWorkflowNotActive     = "WORKFLOW_NOT_ACTIVE"
	ErrNoHistory             = "NO_HISTORY"
	ErrMandatoryEventMissing = "MANDATORY_EVENT_MISSING"
	ErrEventNotInWorkflow    = "EVENT_NOT_IN_WORKFLOW"
	ErrActivityCompleted     = "ACTIVITY_COMPLETED"
)

// ErrorEnvelope is the standard error shape returned by the engine and
// its HTTP surface. It implements the error interface.
type ErrorEnvelope struct {
	Code    string       `json:"code"`
	Message string       `json:"message"`
	Details []FieldError `json:"details,omitempty"`
	TraceID string       `json:"trace_id,omitempty"`
}

// Error implements the error interface.
func (e *ErrorEnvelope) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// WithDetail appends a field-level detail and returns the envelope, so
// callers can attach context (activity id, transition id, current
// state) for precise user-facing messages.
func (e *ErrorEnvelope) WithDetail(field, value string) *ErrorEnvelope {
	e.Details = append(e.Details, FieldError{Field: field, Message: value})
	return e
}

// FieldError carries one field-level detail on an ErrorEnvelope.
type FieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// NewBadRequestError returns a BAD_REQUEST error.
func NewBadRequestError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrBadRequest, Message: msg}
}

// NewUnauthenticatedError returns an UNAUTHENTICATED error.
func NewUnauthenticatedError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrUnauthenticated, Message: msg}
}

// NewNotFoundError returns a NOT_FOUND error.
func NewNotFoundError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrNotFound, Message: msg}
}

// NewConflictError returns a CONFLICT error.
func NewConflictError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrConflict, Message: msg}
}

// NewValidationError returns a VALIDATION_ERROR with field-level details.
func NewValidationError(details []FieldError) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrValidationError,
		Message: "One or more fields are invalid",
		Details: details,
	}
}

// NewInternalError returns an INTERNAL_ERROR.
func NewInternalError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrInternalError,
		Message: "An unexpected error occurred",
	}
}

// NewInvalidLifecycleStateError returns an INVALID_LIFECYCLE_STATE error.
func NewInvalidLifecycleStateError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrInvalidLifecycleState, Message: msg}
}

// NewDuplicateStartStateError returns a DUPLICATE_START_STATE error.
func NewDuplicateStartStateError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrDuplicateStartState, Message: msg}
}

// NewUnreachableStateError returns an UNREACHABLE_STATE error.
func NewUnreachableStateError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrUnreachableState, Message: msg}
}

// NewDeadEndStateError returns a DEAD_END_STATE error.
func NewDeadEndStateError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrDeadEndState, Message: msg}
}

// NewUnusableTransitionError returns an UNUSABLE_TRANSITION error.
func NewUnusableTransitionError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrUnusableTransition, Message: msg}
}

// NewWrongSourceError returns a WRONG_SOURCE error.
func NewWrongSourceError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrWrongSource, Message: msg}
}

// NewUnauthorizedError returns an UNAUTHORIZED error.
func NewUnauthorizedError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrUnauthorized, Message: msg}
}

// NewWorkflowNotActiveError returns a WORKFLOW_NOT_ACTIVE error.
func NewWorkflowNotActiveError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrWorkflowNotActive, Message: msg}
}

// NewNoHistoryError returns a NO_HISTORY error. Every activity must be
// seeded with an initial ledger entry at creation, so hitting this
// means the stored data is broken upstream.
func NewNoHistoryError(activityID string) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrNoHistory,
		Message: fmt.Sprintf("activity %q has no history entries", activityID),
	}
}

// NewMandatoryEventMissingError returns a MANDATORY_EVENT_MISSING error.
func NewMandatoryEventMissingError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrMandatoryEventMissing, Message: msg}
}

// NewEventNotInWorkflowError returns an EVENT_NOT_IN_WORKFLOW error.
func NewEventNotInWorkflowError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrEventNotInWorkflow, Message: msg}
}

// NewActivityCompletedError returns an ACTIVITY_COMPLETED error.
func NewActivityCompletedError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrActivityCompleted, Message: msg}
}
