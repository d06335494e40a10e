// Package graph owns workflow definitions: the directed graphs of
// states, transitions and events that activities later run through,
// plus the roles and event types they reference.
package graph

import (
	"context"

	"github.com/odonata-labs/ledgerflow/model"
)

// DefinitionStore persists workflow definitions and their parts.
type DefinitionStore interface {
	// CreateWorkflow persists a new workflow. Returns CONFLICT if the ID
	// is already taken.
	CreateWorkflow(ctx context.Context, wf model.Workflow) error

	// GetWorkflow retrieves a workflow by ID. Returns NOT_FOUND if it
	// doesn't exist.
	GetWorkflow(ctx context.Context, workflowID string) (model.Workflow, error)

	// UpdateWorkflowStatus moves a workflow to a new lifecycle status.
	UpdateWorkflowStatus(ctx context.Context, workflowID, status string) error

	// ListWorkflows returns workflows, optionally filtered by status.
	ListWorkflows(ctx context.Context, filters WorkflowFilters) ([]model.Workflow, error)

	// DeleteWorkflow removes a workflow and all its states, transitions
	// and events.
	DeleteWorkflow(ctx context.Context, workflowID string) error

	// CreateState persists a state belonging to a workflow.
	CreateState(ctx context.Context, st model.State) error

	// GetState retrieves a state by ID.
	GetState(ctx context.Context, stateID string) (model.State, error)

	// ListStates returns all states of a workflow.
	ListStates(ctx context.Context, workflowID string) ([]model.State, error)

	// DeleteState removes a state, the transitions touching it, and the
	// events attached to it.
	DeleteState(ctx context.Context, stateID string) error

	// CreateTransition persists a transition belonging to a workflow.
	CreateTransition(ctx context.Context, tr model.Transition) error

	// GetTransition retrieves a transition by ID.
	GetTransition(ctx context.Context, transitionID string) (model.Transition, error)

	// ListTransitions returns all transitions of a workflow.
	ListTransitions(ctx context.Context, workflowID string) ([]model.Transition, error)

	// DeleteTransition removes a single transition.
	DeleteTransition(ctx context.Context, transitionID string) error

	// CreateEvent persists an event belonging to a state of a workflow.
	CreateEvent(ctx context.Context, ev model.Event) error

	// GetEvent retrieves an event by ID.
	GetEvent(ctx context.Context, eventID string) (model.Event, error)

	// ListEvents returns all events of a workflow.
	ListEvents(ctx context.Context, workflowID string) ([]model.Event, error)

	// DeleteEvent removes a single event.
	DeleteEvent(ctx context.Context, eventID string) error

	// CreateRole persists a role. Roles are shared across workflows.
	CreateRole(ctx context.Context, role model.Role) error

	// GetRole retrieves a role by ID.
	GetRole(ctx context.Context, roleID string) (model.Role, error)

	// ListRoles returns all roles.
	ListRoles(ctx context.Context) ([]model.Role, error)

	// CreateEventType persists an event type.
	CreateEventType(ctx context.Context, et model.EventType) error

	// ListEventTypes returns all event types.
	ListEventTypes(ctx context.Context) ([]model.EventType, error)
}

// WorkflowFilters are optional filters for listing workflows.
type WorkflowFilters struct {
	Status string
	Limit  int
	Offset int
}
