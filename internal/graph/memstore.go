package graph

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/odonata-labs/ledgerflow/model"
)

// MemoryDefinitionStore is an in-memory DefinitionStore for testing and
// single-node deployments.
type MemoryDefinitionStore struct {
	mu          sync.RWMutex
	workflows   map[string]model.Workflow   // key: workflow ID
	states      map[string]model.State      // key: state ID
	transitions map[string]model.Transition // key: transition ID
	events      map[string]model.Event      // key: event ID
	roles       map[string]model.Role       // key: role ID
	eventTypes  map[string]model.EventType  // key: event type ID
}

// NewMemoryDefinitionStore creates a new in-memory definition store.
func NewMemoryDefinitionStore() *MemoryDefinitionStore {
	return &MemoryDefinitionStore{
		workflows:   make(map[string]model.Workflow),
		states:      make(map[string]model.State),
		transitions: make(map[string]model.Transition),
		events:      make(map[string]model.Event),
		roles:       make(map[string]model.Role),
		eventTypes:  make(map[string]model.EventType),
	}
}

// HealthCheck always succeeds for the in-memory store.
func (s *MemoryDefinitionStore) HealthCheck(_ context.Context) error {
	return nil
}

// CreateWorkflow persists a new workflow.
func (s *MemoryDefinitionStore) CreateWorkflow(_ context.Context, wf model.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.workflows[wf.ID]; exists {
		return model.NewConflictError(fmt.Sprintf("workflow %q already exists", wf.ID))
	}
	s.workflows[wf.ID] = wf
	return nil
}

// GetWorkflow retrieves a workflow by ID.
func (s *MemoryDefinitionStore) GetWorkflow(_ context.Context, workflowID string) (model.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wf, exists := s.workflows[workflowID]
	if !exists {
		return model.Workflow{}, model.NewNotFoundError(fmt.Sprintf("workflow %q not found", workflowID))
	}
	return wf, nil
}

// UpdateWorkflowStatus moves a workflow to a new lifecycle status.
func (s *MemoryDefinitionStore) UpdateWorkflowStatus(_ context.Context, workflowID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	wf, exists := s.workflows[workflowID]
	if !exists {
		return model.NewNotFoundError(fmt.Sprintf("workflow %q not found", workflowID))
	}
	wf.Status = status
	s.workflows[workflowID] = wf
	return nil
}

// ListWorkflows returns workflows, optionally filtered by status.
func (s *MemoryDefinitionStore) ListWorkflows(_ context.Context, filters WorkflowFilters) ([]model.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Workflow
	for _, wf := range s.workflows {
		if filters.Status != "" && wf.Status != filters.Status {
			continue
		}
		result = append(result, wf)
	}

	// Sort by created_on descending for stable listings.
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedOn.After(result[j].CreatedOn)
	})

	if filters.Offset > 0 {
		if filters.Offset >= len(result) {
			return []model.Workflow{}, nil
		}
		result = result[filters.Offset:]
	}
	if filters.Limit > 0 && filters.Limit < len(result) {
		result = result[:filters.Limit]
	}
	return result, nil
}

// DeleteWorkflow removes a workflow and all its parts.
func (s *MemoryDefinitionStore) DeleteWorkflow(_ context.Context, workflowID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.workflows[workflowID]; !exists {
		return model.NewNotFoundError(fmt.Sprintf("workflow %q not found", workflowID))
	}

	delete(s.workflows, workflowID)
	for id, st := range s.states {
		if st.WorkflowID == workflowID {
			delete(s.states, id)
		}
	}
	for id, tr := range s.transitions {
		if tr.WorkflowID == workflowID {
			delete(s.transitions, id)
		}
	}
	for id, ev := range s.events {
		if ev.WorkflowID == workflowID {
			delete(s.events, id)
		}
	}
	return nil
}

// CreateState persists a state.
func (s *MemoryDefinitionStore) CreateState(_ context.Context, st model.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.states[st.ID]; exists {
		return model.NewConflictError(fmt.Sprintf("state %q already exists", st.ID))
	}
	s.states[st.ID] = st
	return nil
}

// GetState retrieves a state by ID.
func (s *MemoryDefinitionStore) GetState(_ context.Context, stateID string) (model.State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, exists := s.states[stateID]
	if !exists {
		return model.State{}, model.NewNotFoundError(fmt.Sprintf("state %q not found", stateID))
	}
	return st, nil
}

// ListStates returns all states of a workflow, ordered by name.
func (s *MemoryDefinitionStore) ListStates(_ context.Context, workflowID string) ([]model.State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.State
	for _, st := range s.states {
		if st.WorkflowID == workflowID {
			result = append(result, st)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

// DeleteState removes a state, transitions touching it, and events
// attached to it.
func (s *MemoryDefinitionStore) DeleteState(_ context.Context, stateID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.states[stateID]; !exists {
		return model.NewNotFoundError(fmt.Sprintf("state %q not found", stateID))
	}

	delete(s.states, stateID)
	for id, tr := range s.transitions {
		if tr.FromStateID == stateID || tr.ToStateID == stateID {
			delete(s.transitions, id)
		}
	}
	for id, ev := range s.events {
		if ev.StateID == stateID {
			delete(s.events, id)
		}
	}
	return nil
}

// CreateTransition persists a transition.
func (s *MemoryDefinitionStore) CreateTransition(_ context.Context, tr model.Transition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.transitions[tr.ID]; exists {
		return model.NewConflictError(fmt.Sprintf("transition %q already exists", tr.ID))
	}
	s.transitions[tr.ID] = tr
	return nil
}

// GetTransition retrieves a transition by ID.
func (s *MemoryDefinitionStore) GetTransition(_ context.Context, transitionID string) (model.Transition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tr, exists := s.transitions[transitionID]
	if !exists {
		return model.Transition{}, model.NewNotFoundError(fmt.Sprintf("transition %q not found", transitionID))
	}
	return tr, nil
}

// ListTransitions returns all transitions of a workflow, ordered by name.
func (s *MemoryDefinitionStore) ListTransitions(_ context.Context, workflowID string) ([]model.Transition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Transition
	for _, tr := range s.transitions {
		if tr.WorkflowID == workflowID {
			result = append(result, tr)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

// DeleteTransition removes a single transition.
func (s *MemoryDefinitionStore) DeleteTransition(_ context.Context, transitionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.transitions[transitionID]; !exists {
		return model.NewNotFoundError(fmt.Sprintf("transition %q not found", transitionID))
	}
	delete(s.transitions, transitionID)
	return nil
}

// CreateEvent persists an event.
func (s *MemoryDefinitionStore) CreateEvent(_ context.Context, ev model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.events[ev.ID]; exists {
		return model.NewConflictError(fmt.Sprintf("event %q already exists", ev.ID))
	}
	s.events[ev.ID] = ev
	return nil
}

// GetEvent retrieves an event by ID.
func (s *MemoryDefinitionStore) GetEvent(_ context.Context, eventID string) (model.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ev, exists := s.events[eventID]
	if !exists {
		return model.Event{}, model.NewNotFoundError(fmt.Sprintf("event %q not found", eventID))
	}
	return ev, nil
}

// ListEvents returns all events of a workflow, ordered by name.
func (s *MemoryDefinitionStore) ListEvents(_ context.Context, workflowID string) ([]model.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Event
	for _, ev := range s.events {
		if ev.WorkflowID == workflowID {
			result = append(result, ev)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

// DeleteEvent removes a single event.
func (s *MemoryDefinitionStore) DeleteEvent(_ context.Context, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.events[eventID]; !exists {
		return model.NewNotFoundError(fmt.Sprintf("event %q not found", eventID))
	}
	delete(s.events, eventID)
	return nil
}

// CreateRole persists a role.
func (s *MemoryDefinitionStore) CreateRole(_ context.Context, role model.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.roles[role.ID]; exists {
		return model.NewConflictError(fmt.Sprintf("role %q already exists", role.ID))
	}
	s.roles[role.ID] = role
	return nil
}

// GetRole retrieves a role by ID.
func (s *MemoryDefinitionStore) GetRole(_ context.Context, roleID string) (model.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	role, exists := s.roles[roleID]
	if !exists {
		return model.Role{}, model.NewNotFoundError(fmt.Sprintf("role %q not found", roleID))
	}
	return role, nil
}

// ListRoles returns all roles, ordered by name.
func (s *MemoryDefinitionStore) ListRoles(_ context.Context) ([]model.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]model.Role, 0, len(s.roles))
	for _, role := range s.roles {
		result = append(result, role)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

// CreateEventType persists an event type.
func (s *MemoryDefinitionStore) CreateEventType(_ context.Context, et model.EventType) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.eventTypes[et.ID]; exists {
		return model.NewConflictError(fmt.Sprintf("event type %q already exists", et.ID))
	}
	s.eventTypes[et.ID] = et
	return nil
}

// ListEventTypes returns all event types, ordered by name.
func (s *MemoryDefinitionStore) ListEventTypes(_ context.Context) ([]model.EventType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]model.EventType, 0, len(s.eventTypes))
	for _, et := range s.eventTypes {
		result = append(result, et)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}
