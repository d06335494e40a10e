package graph

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/odonata-labs/ledgerflow/internal/observability"
	"github.com/odonata-labs/ledgerflow/model"
)

// Service owns workflow definition authoring and lifecycle. All graph
// mutations for one workflow are serialized through a keyed mutex so
// concurrent authors cannot race validation against edits.
type Service struct {
	store    DefinitionStore
	registry *Registry
	logger   *zap.Logger
	metrics  *observability.Metrics

	locks keyedMutex
}

// NewService creates a definition service.
func NewService(store DefinitionStore, logger *zap.Logger, metrics *observability.Metrics) *Service {
	return &Service{
		store:    store,
		registry: NewRegistry(),
		logger:   logger,
		metrics:  metrics,
	}
}

// Registry returns the compiled-graph registry for engine reads.
func (s *Service) Registry() *Registry {
	return s.registry
}

// CreateWorkflowInput are the caller-supplied fields of a new workflow.
type CreateWorkflowInput struct {
	Name        string
	Description string
}

// CreateWorkflow creates a new workflow in definition status.
func (s *Service) CreateWorkflow(ctx context.Context, in CreateWorkflowInput) (model.Workflow, error) {
	if in.Name == "" {
		return model.Workflow{}, model.NewBadRequestError("workflow name is required")
	}

	wf := model.Workflow{
		ID:          uuid.NewString(),
		Name:        in.Name,
		Description: in.Description,
		Status:      model.WorkflowStatusDefinition,
		CreatedOn:   time.Now().UTC(),
	}
	if err := s.store.CreateWorkflow(ctx, wf); err != nil {
		return model.Workflow{}, err
	}

	observability.RequestLogger(ctx, s.logger).Info("workflow created",
		zap.String("workflow_id", wf.ID),
		zap.String("name", wf.Name),
	)
	return wf, nil
}

// GetWorkflow retrieves a workflow by ID.
func (s *Service) GetWorkflow(ctx context.Context, workflowID string) (model.Workflow, error) {
	return s.store.GetWorkflow(ctx, workflowID)
}

// ListWorkflows returns workflows, optionally filtered by status.
func (s *Service) ListWorkflows(ctx context.Context, filters WorkflowFilters) ([]model.Workflow, error) {
	return s.store.ListWorkflows(ctx, filters)
}

// DeleteWorkflow removes a workflow still in definition, cascading its
// states, transitions and events.
func (s *Service) DeleteWorkflow(ctx context.Context, workflowID string) error {
	unlock := s.locks.lock(workflowID)
	defer unlock()

	wf, err := s.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return err
	}
	if !wf.Editable() {
		return model.NewInvalidLifecycleStateError(
			fmt.Sprintf("workflow %q is %s and cannot be deleted", workflowID, wf.Status),
		)
	}
	return s.store.DeleteWorkflow(ctx, workflowID)
}

// StateInput are the caller-supplied fields of a new state.
type StateInput struct {
	Name            string
	Description     string
	IsStartState    bool
	IsEndState      bool
	RoleIDs         []string
	EstimationValue int
	EstimationUnit  string
}

// AddState adds a state to an editable workflow. Adding a second start
// state fails immediately rather than waiting for activation.
func (s *Service) AddState(ctx context.Context, workflowID string, in StateInput) (model.State, error) {
	unlock := s.locks.lock(workflowID)
	defer unlock()

	wf, err := s.editable(ctx, workflowID)
	if err != nil {
		return model.State{}, err
	}
	if in.Name == "" {
		return model.State{}, model.NewBadRequestError("state name is required")
	}
	roles, err := s.resolveRoles(ctx, in.RoleIDs)
	if err != nil {
		return model.State{}, err
	}

	if in.IsStartState {
		states, err := s.store.ListStates(ctx, workflowID)
		if err != nil {
			return model.State{}, err
		}
		for _, existing := range states {
			if existing.IsStartState {
				return model.State{}, model.NewDuplicateStartStateError(
					fmt.Sprintf("workflow %q already has start state %q", workflowID, existing.ID),
				)
			}
		}
	}

	st := model.State{
		ID:              uuid.NewString(),
		WorkflowID:      wf.ID,
		Name:            in.Name,
		Description:     in.Description,
		IsStartState:    in.IsStartState,
		IsEndState:      in.IsEndState,
		Roles:           roles,
		EstimationValue: in.EstimationValue,
		EstimationUnit:  in.EstimationUnit,
	}
	if err := s.store.CreateState(ctx, st); err != nil {
		return model.State{}, err
	}
	return st, nil
}

// RemoveState removes a state from an editable workflow along with the
// transitions touching it and the events attached to it.
func (s *Service) RemoveState(ctx context.Context, workflowID, stateID string) error {
	unlock := s.locks.lock(workflowID)
	defer unlock()

	if _, err := s.editable(ctx, workflowID); err != nil {
		return err
	}
	st, err := s.store.GetState(ctx, stateID)
	if err != nil {
		return err
	}
	if st.WorkflowID != workflowID {
		return model.NewNotFoundError(fmt.Sprintf("state %q not found in workflow %q", stateID, workflowID))
	}
	return s.store.DeleteState(ctx, stateID)
}

// TransitionInput are the caller-supplied fields of a new transition.
type TransitionInput struct {
	Name        string
	FromStateID string
	ToStateID   string
	RoleIDs     []string
}

// AddTransition adds a transition between two states of an editable
// workflow.
func (s *Service) AddTransition(ctx context.Context, workflowID string, in TransitionInput) (model.Transition, error) {
	unlock := s.locks.lock(workflowID)
	defer unlock()

	wf, err := s.editable(ctx, workflowID)
	if err != nil {
		return model.Transition{}, err
	}
	if in.Name == "" {
		return model.Transition{}, model.NewBadRequestError("transition name is required")
	}
	roles, err := s.resolveRoles(ctx, in.RoleIDs)
	if err != nil {
		return model.Transition{}, err
	}

	for _, stateID := range []string{in.FromStateID, in.ToStateID} {
		st, err := s.store.GetState(ctx, stateID)
		if err != nil {
			return model.Transition{}, err
		}
		if st.WorkflowID != workflowID {
			return model.Transition{}, model.NewBadRequestError(
				fmt.Sprintf("state %q belongs to another workflow", stateID),
			)
		}
	}

	tr := model.Transition{
		ID:          uuid.NewString(),
		WorkflowID:  wf.ID,
		Name:        in.Name,
		FromStateID: in.FromStateID,
		ToStateID:   in.ToStateID,
		Roles:       roles,
	}
	if err := s.store.CreateTransition(ctx, tr); err != nil {
		return model.Transition{}, err
	}
	return tr, nil
}

// RemoveTransition removes a transition from an editable workflow.
func (s *Service) RemoveTransition(ctx context.Context, workflowID, transitionID string) error {
	unlock := s.locks.lock(workflowID)
	defer unlock()

	if _, err := s.editable(ctx, workflowID); err != nil {
		return err
	}
	tr, err := s.store.GetTransition(ctx, transitionID)
	if err != nil {
		return err
	}
	if tr.WorkflowID != workflowID {
		return model.NewNotFoundError(fmt.Sprintf("transition %q not found in workflow %q", transitionID, workflowID))
	}
	return s.store.DeleteTransition(ctx, transitionID)
}

// EventInput are the caller-supplied fields of a new event.
type EventInput struct {
	Name         string
	Description  string
	StateID      string
	EventTypeIDs []string
	RoleIDs      []string
	IsMandatory  bool
}

// AddEvent attaches an event to a state of an editable workflow.
func (s *Service) AddEvent(ctx context.Context, workflowID string, in EventInput) (model.Event, error) {
	unlock := s.locks.lock(workflowID)
	defer unlock()

	wf, err := s.editable(ctx, workflowID)
	if err != nil {
		return model.Event{}, err
	}
	if in.Name == "" {
		return model.Event{}, model.NewBadRequestError("event name is required")
	}
	roles, err := s.resolveRoles(ctx, in.RoleIDs)
	if err != nil {
		return model.Event{}, err
	}

	st, err := s.store.GetState(ctx, in.StateID)
	if err != nil {
		return model.Event{}, err
	}
	if st.WorkflowID != workflowID {
		return model.Event{}, model.NewBadRequestError(
			fmt.Sprintf("state %q belongs to another workflow", in.StateID),
		)
	}

	if len(in.EventTypeIDs) > 0 {
		known, err := s.store.ListEventTypes(ctx)
		if err != nil {
			return model.Event{}, err
		}
		knownIDs := make(map[string]bool, len(known))
		for _, et := range known {
			knownIDs[et.ID] = true
		}
		for _, id := range in.EventTypeIDs {
			if !knownIDs[id] {
				return model.Event{}, model.NewNotFoundError(fmt.Sprintf("event type %q not found", id))
			}
		}
	}

	ev := model.Event{
		ID:           uuid.NewString(),
		WorkflowID:   wf.ID,
		StateID:      in.StateID,
		Name:         in.Name,
		Description:  in.Description,
		EventTypeIDs: in.EventTypeIDs,
		Roles:        roles,
		IsMandatory:  in.IsMandatory,
	}
	if err := s.store.CreateEvent(ctx, ev); err != nil {
		return model.Event{}, err
	}
	return ev, nil
}

// RemoveEvent removes an event from an editable workflow.
func (s *Service) RemoveEvent(ctx context.Context, workflowID, eventID string) error {
	unlock := s.locks.lock(workflowID)
	defer unlock()

	if _, err := s.editable(ctx, workflowID); err != nil {
		return err
	}
	ev, err := s.store.GetEvent(ctx, eventID)
	if err != nil {
		return err
	}
	if ev.WorkflowID != workflowID {
		return model.NewNotFoundError(fmt.Sprintf("event %q not found in workflow %q", eventID, workflowID))
	}
	return s.store.DeleteEvent(ctx, eventID)
}

// Activate freezes an editable workflow and makes it runnable. The
// graph is validated first; on success the status moves to active and
// the compiled graph is published for the engine.
func (s *Service) Activate(ctx context.Context, workflowID string) (model.Workflow, error) {
	ctx, span := observability.StartSpan(ctx, "graph.Activate",
		observability.AttrWorkflowID.String(workflowID))
	var err error
	defer func() { observability.EndSpanWithError(span, err) }()

	unlock := s.locks.lock(workflowID)
	defer unlock()

	wf, err := s.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return model.Workflow{}, err
	}
	if !model.CanTransitionLifecycle(wf.Status, model.WorkflowStatusActive) {
		err = model.NewInvalidLifecycleStateError(
			fmt.Sprintf("workflow %q is %s and cannot be activated", workflowID, wf.Status),
		)
		return model.Workflow{}, err
	}

	states, err := s.store.ListStates(ctx, workflowID)
	if err != nil {
		return model.Workflow{}, err
	}
	transitions, err := s.store.ListTransitions(ctx, workflowID)
	if err != nil {
		return model.Workflow{}, err
	}
	if err = validateForActivation(wf, states, transitions); err != nil {
		s.metrics.RecordActivation("rejected")
		observability.RequestLogger(ctx, s.logger).Warn("workflow activation rejected",
			zap.String("workflow_id", workflowID),
			zap.Error(err),
		)
		return model.Workflow{}, err
	}

	if err = s.store.UpdateWorkflowStatus(ctx, workflowID, model.WorkflowStatusActive); err != nil {
		return model.Workflow{}, err
	}
	wf.Status = model.WorkflowStatusActive

	if err = s.recompile(ctx, wf); err != nil {
		return model.Workflow{}, err
	}

	s.metrics.RecordActivation("ok")
	observability.RequestLogger(ctx, s.logger).Info("workflow activated",
		zap.String("workflow_id", workflowID),
		zap.Int("states", len(states)),
		zap.Int("transitions", len(transitions)),
	)
	return wf, nil
}

// Retire takes an active workflow out of service. The compiled graph
// leaves the registry, so the engine refuses further fires as well as
// new activities.
func (s *Service) Retire(ctx context.Context, workflowID string) (model.Workflow, error) {
	unlock := s.locks.lock(workflowID)
	defer unlock()

	wf, err := s.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return model.Workflow{}, err
	}
	if !model.CanTransitionLifecycle(wf.Status, model.WorkflowStatusRetired) {
		return model.Workflow{}, model.NewInvalidLifecycleStateError(
			fmt.Sprintf("workflow %q is %s and cannot be retired", workflowID, wf.Status),
		)
	}

	if err := s.store.UpdateWorkflowStatus(ctx, workflowID, model.WorkflowStatusRetired); err != nil {
		return model.Workflow{}, err
	}
	wf.Status = model.WorkflowStatusRetired
	s.registry.drop(workflowID)

	observability.RequestLogger(ctx, s.logger).Info("workflow retired",
		zap.String("workflow_id", workflowID))
	return wf, nil
}

// Clone creates a new workflow in definition status with deep copies of
// the source's states, transitions and events. All parts get fresh IDs;
// role references point at the same shared roles. Any lifecycle state
// may be cloned, which is the usual path for revising a retired
// workflow.
func (s *Service) Clone(ctx context.Context, workflowID, name string) (model.Workflow, error) {
	ctx, span := observability.StartSpan(ctx, "graph.Clone",
		observability.AttrWorkflowID.String(workflowID))
	var err error
	defer func() { observability.EndSpanWithError(span, err) }()

	src, err := s.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return model.Workflow{}, err
	}
	states, err := s.store.ListStates(ctx, workflowID)
	if err != nil {
		return model.Workflow{}, err
	}
	transitions, err := s.store.ListTransitions(ctx, workflowID)
	if err != nil {
		return model.Workflow{}, err
	}
	events, err := s.store.ListEvents(ctx, workflowID)
	if err != nil {
		return model.Workflow{}, err
	}

	if name == "" {
		name = src.Name + " (clone)"
	}
	clone := model.Workflow{
		ID:          uuid.NewString(),
		Name:        name,
		Description: src.Description,
		Status:      model.WorkflowStatusDefinition,
		ClonedFrom:  src.ID,
		CreatedOn:   time.Now().UTC(),
	}
	if err = s.store.CreateWorkflow(ctx, clone); err != nil {
		return model.Workflow{}, err
	}

	stateIDs := make(map[string]string, len(states)) // old ID -> new ID
	for _, st := range states {
		copied := st
		copied.ID = uuid.NewString()
		copied.WorkflowID = clone.ID
		copied.Roles = st.Roles.Clone()
		stateIDs[st.ID] = copied.ID
		if err = s.store.CreateState(ctx, copied); err != nil {
			return model.Workflow{}, err
		}
	}
	for _, tr := range transitions {
		copied := tr
		copied.ID = uuid.NewString()
		copied.WorkflowID = clone.ID
		copied.FromStateID = stateIDs[tr.FromStateID]
		copied.ToStateID = stateIDs[tr.ToStateID]
		copied.Roles = tr.Roles.Clone()
		if err = s.store.CreateTransition(ctx, copied); err != nil {
			return model.Workflow{}, err
		}
	}
	for _, ev := range events {
		copied := ev
		copied.ID = uuid.NewString()
		copied.WorkflowID = clone.ID
		copied.StateID = stateIDs[ev.StateID]
		copied.Roles = ev.Roles.Clone()
		copied.EventTypeIDs = append([]string(nil), ev.EventTypeIDs...)
		if err = s.store.CreateEvent(ctx, copied); err != nil {
			return model.Workflow{}, err
		}
	}

	if s.metrics != nil {
		s.metrics.ClonesTotal.Inc()
	}
	observability.RequestLogger(ctx, s.logger).Info("workflow cloned",
		zap.String("source_workflow_id", src.ID),
		zap.String("workflow_id", clone.ID),
	)
	return clone, nil
}

// Export returns the read-only graph projection of a workflow for
// external renderers. Role IDs are resolved to names where possible.
func (s *Service) Export(ctx context.Context, workflowID string) (model.GraphExport, error) {
	wf, err := s.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return model.GraphExport{}, err
	}
	states, err := s.store.ListStates(ctx, workflowID)
	if err != nil {
		return model.GraphExport{}, err
	}
	transitions, err := s.store.ListTransitions(ctx, workflowID)
	if err != nil {
		return model.GraphExport{}, err
	}
	roles, err := s.store.ListRoles(ctx)
	if err != nil {
		return model.GraphExport{}, err
	}
	roleNames := make(map[string]string, len(roles))
	for _, role := range roles {
		roleNames[role.ID] = role.Name
	}
	names := func(rs model.RoleSet) []string {
		if len(rs) == 0 {
			return nil
		}
		var out []string
		for _, id := range rs.IDs() {
			if name, ok := roleNames[id]; ok {
				out = append(out, name)
			} else {
				out = append(out, id)
			}
		}
		return out
	}

	export := model.GraphExport{
		WorkflowID:   wf.ID,
		WorkflowName: wf.Name,
		Status:       wf.Status,
		Nodes:        make([]model.GraphNode, 0, len(states)),
		Edges:        make([]model.GraphEdge, 0, len(transitions)),
	}
	for _, st := range states {
		export.Nodes = append(export.Nodes, model.GraphNode{
			ID:           st.ID,
			Name:         st.Name,
			IsStartState: st.IsStartState,
			IsEndState:   st.IsEndState,
			Roles:        names(st.Roles),
		})
	}
	for _, tr := range transitions {
		export.Edges = append(export.Edges, model.GraphEdge{
			ID:    tr.ID,
			Name:  tr.Name,
			From:  tr.FromStateID,
			To:    tr.ToStateID,
			Roles: names(tr.Roles),
		})
	}

	if s.metrics != nil {
		s.metrics.GraphExportsTotal.Inc()
	}
	return export, nil
}

// CreateRole creates a shared role.
func (s *Service) CreateRole(ctx context.Context, name, description string) (model.Role, error) {
	if name == "" {
		return model.Role{}, model.NewBadRequestError("role name is required")
	}
	role := model.Role{
		ID:          uuid.NewString(),
		Name:        name,
		Description: description,
		CreatedOn:   time.Now().UTC(),
	}
	if err := s.store.CreateRole(ctx, role); err != nil {
		return model.Role{}, err
	}
	return role, nil
}

// GetRole retrieves a role by ID.
func (s *Service) GetRole(ctx context.Context, roleID string) (model.Role, error) {
	return s.store.GetRole(ctx, roleID)
}

// ListRoles returns all roles.
func (s *Service) ListRoles(ctx context.Context) ([]model.Role, error) {
	return s.store.ListRoles(ctx)
}

// CreateEventType creates a shared event type.
func (s *Service) CreateEventType(ctx context.Context, name, description string) (model.EventType, error) {
	if name == "" {
		return model.EventType{}, model.NewBadRequestError("event type name is required")
	}
	et := model.EventType{
		ID:          uuid.NewString(),
		Name:        name,
		Description: description,
	}
	if err := s.store.CreateEventType(ctx, et); err != nil {
		return model.EventType{}, err
	}
	return et, nil
}

// ListEventTypes returns all event types.
func (s *Service) ListEventTypes(ctx context.Context) ([]model.EventType, error) {
	return s.store.ListEventTypes(ctx)
}

// editable loads a workflow and rejects graph edits once it has left
// definition.
func (s *Service) editable(ctx context.Context, workflowID string) (model.Workflow, error) {
	wf, err := s.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return model.Workflow{}, err
	}
	if !wf.Editable() {
		return model.Workflow{}, model.NewInvalidLifecycleStateError(
			fmt.Sprintf("workflow %q is %s and can no longer be edited", workflowID, wf.Status),
		)
	}
	return wf, nil
}

// resolveRoles verifies role IDs exist and builds the role set.
func (s *Service) resolveRoles(ctx context.Context, roleIDs []string) (model.RoleSet, error) {
	if len(roleIDs) == 0 {
		return nil, nil
	}
	for _, id := range roleIDs {
		if _, err := s.store.GetRole(ctx, id); err != nil {
			return nil, err
		}
	}
	return model.NewRoleSet(roleIDs...), nil
}

// keyedMutex serializes operations per workflow ID.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// lock acquires the mutex for a key and returns its unlock function.
func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*sync.Mutex)
	}
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()

	m.Lock()
	return m.Unlock
}
