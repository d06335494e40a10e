package graph

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odonata-labs/ledgerflow/model"
)

// PgDefinitionStore is a PostgreSQL-backed DefinitionStore using pgx/v5.
// Role sets are stored as jsonb arrays of role IDs.
type PgDefinitionStore struct {
	pool *pgxpool.Pool
}

// NewPgDefinitionStore creates a new PostgreSQL definition store.
func NewPgDefinitionStore(pool *pgxpool.Pool) *PgDefinitionStore {
	return &PgDefinitionStore{pool: pool}
}

// HealthCheck pings the database.
func (s *PgDefinitionStore) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func marshalRoles(rs model.RoleSet) ([]byte, error) {
	ids := rs.IDs()
	if ids == nil {
		ids = []string{}
	}
	return json.Marshal(ids)
}

func unmarshalRoles(data []byte) (model.RoleSet, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	return model.NewRoleSet(ids...), nil
}

// CreateWorkflow inserts a new workflow.
func (s *PgDefinitionStore) CreateWorkflow(ctx context.Context, wf model.Workflow) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO workflows (id, name, description, status, cloned_from, created_on)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		wf.ID, wf.Name, wf.Description, wf.Status, nullable(wf.ClonedFrom), wf.CreatedOn,
	)
	if err != nil {
		return fmt.Errorf("insert workflow: %w", err)
	}
	return nil
}

// GetWorkflow retrieves a workflow by ID.
func (s *PgDefinitionStore) GetWorkflow(ctx context.Context, workflowID string) (model.Workflow, error) {
	var wf model.Workflow
	var clonedFrom *string

	err := s.pool.QueryRow(ctx, `
		SELECT id, name, description, status, cloned_from, created_on
		FROM workflows WHERE id = $1`,
		workflowID,
	).Scan(&wf.ID, &wf.Name, &wf.Description, &wf.Status, &clonedFrom, &wf.CreatedOn)
	if err == pgx.ErrNoRows {
		return model.Workflow{}, model.NewNotFoundError(fmt.Sprintf("workflow %q not found", workflowID))
	}
	if err != nil {
		return model.Workflow{}, fmt.Errorf("query workflow: %w", err)
	}
	if clonedFrom != nil {
		wf.ClonedFrom = *clonedFrom
	}
	return wf, nil
}

// UpdateWorkflowStatus moves a workflow to a new lifecycle status.
func (s *PgDefinitionStore) UpdateWorkflowStatus(ctx context.Context, workflowID, status string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE workflows SET status = $1 WHERE id = $2`, status, workflowID)
	if err != nil {
		return fmt.Errorf("update workflow status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewNotFoundError(fmt.Sprintf("workflow %q not found", workflowID))
	}
	return nil
}

// ListWorkflows returns workflows, optionally filtered by status.
func (s *PgDefinitionStore) ListWorkflows(ctx context.Context, filters WorkflowFilters) ([]model.Workflow, error) {
	query := `SELECT id, name, description, status, cloned_from, created_on FROM workflows`
	args := []any{}
	argIdx := 1

	if filters.Status != "" {
		query += fmt.Sprintf(" WHERE status = $%d", argIdx)
		args = append(args, filters.Status)
		argIdx++
	}
	query += " ORDER BY created_on DESC"
	if filters.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, filters.Limit)
		argIdx++
	}
	if filters.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, filters.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query workflows: %w", err)
	}
	defer rows.Close()

	var result []model.Workflow
	for rows.Next() {
		var wf model.Workflow
		var clonedFrom *string
		if err := rows.Scan(&wf.ID, &wf.Name, &wf.Description, &wf.Status, &clonedFrom, &wf.CreatedOn); err != nil {
			return nil, fmt.Errorf("scan workflow: %w", err)
		}
		if clonedFrom != nil {
			wf.ClonedFrom = *clonedFrom
		}
		result = append(result, wf)
	}
	return result, rows.Err()
}

// DeleteWorkflow removes a workflow and all its parts in one transaction.
func (s *PgDefinitionStore) DeleteWorkflow(ctx context.Context, workflowID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin delete workflow: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, stmt := range []string{
		`DELETE FROM workflow_step_events WHERE workflow_id = $1`,
		`DELETE FROM workflow_transitions WHERE workflow_id = $1`,
		`DELETE FROM workflow_states WHERE workflow_id = $1`,
	} {
		if _, err := tx.Exec(ctx, stmt, workflowID); err != nil {
			return fmt.Errorf("delete workflow parts: %w", err)
		}
	}

	tag, err := tx.Exec(ctx, `DELETE FROM workflows WHERE id = $1`, workflowID)
	if err != nil {
		return fmt.Errorf("delete workflow: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewNotFoundError(fmt.Sprintf("workflow %q not found", workflowID))
	}
	return tx.Commit(ctx)
}

// CreateState inserts a state.
func (s *PgDefinitionStore) CreateState(ctx context.Context, st model.State) error {
	rolesJSON, err := marshalRoles(st.Roles)
	if err != nil {
		return fmt.Errorf("marshal state roles: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO workflow_states (
			id, workflow_id, name, description, is_start_state, is_end_state,
			roles, estimation_value, estimation_unit
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		st.ID, st.WorkflowID, st.Name, st.Description, st.IsStartState, st.IsEndState,
		rolesJSON, st.EstimationValue, st.EstimationUnit,
	)
	if err != nil {
		return fmt.Errorf("insert state: %w", err)
	}
	return nil
}

// GetState retrieves a state by ID.
func (s *PgDefinitionStore) GetState(ctx context.Context, stateID string) (model.State, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, workflow_id, name, description, is_start_state, is_end_state,
		       roles, estimation_value, estimation_unit
		FROM workflow_states WHERE id = $1`,
		stateID,
	)
	st, err := scanState(row)
	if err == pgx.ErrNoRows {
		return model.State{}, model.NewNotFoundError(fmt.Sprintf("state %q not found", stateID))
	}
	if err != nil {
		return model.State{}, fmt.Errorf("query state: %w", err)
	}
	return st, nil
}

// ListStates returns all states of a workflow.
func (s *PgDefinitionStore) ListStates(ctx context.Context, workflowID string) ([]model.State, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, workflow_id, name, description, is_start_state, is_end_state,
		       roles, estimation_value, estimation_unit
		FROM workflow_states WHERE workflow_id = $1 ORDER BY name ASC`,
		workflowID,
	)
	if err != nil {
		return nil, fmt.Errorf("query states: %w", err)
	}
	defer rows.Close()

	var result []model.State
	for rows.Next() {
		st, err := scanState(rows)
		if err != nil {
			return nil, fmt.Errorf("scan state: %w", err)
		}
		result = append(result, st)
	}
	return result, rows.Err()
}

// DeleteState removes a state, transitions touching it, and its events.
func (s *PgDefinitionStore) DeleteState(ctx context.Context, stateID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin delete state: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`DELETE FROM workflow_step_events WHERE state_id = $1`, stateID); err != nil {
		return fmt.Errorf("delete state events: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`DELETE FROM workflow_transitions WHERE from_state_id = $1 OR to_state_id = $1`, stateID); err != nil {
		return fmt.Errorf("delete state transitions: %w", err)
	}

	tag, err := tx.Exec(ctx, `DELETE FROM workflow_states WHERE id = $1`, stateID)
	if err != nil {
		return fmt.Errorf("delete state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewNotFoundError(fmt.Sprintf("state %q not found", stateID))
	}
	return tx.Commit(ctx)
}

// CreateTransition inserts a transition.
func (s *PgDefinitionStore) CreateTransition(ctx context.Context, tr model.Transition) error {
	rolesJSON, err := marshalRoles(tr.Roles)
	if err != nil {
		return fmt.Errorf("marshal transition roles: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO workflow_transitions (id, workflow_id, name, from_state_id, to_state_id, roles)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		tr.ID, tr.WorkflowID, tr.Name, tr.FromStateID, tr.ToStateID, rolesJSON,
	)
	if err != nil {
		return fmt.Errorf("insert transition: %w", err)
	}
	return nil
}

// GetTransition retrieves a transition by ID.
func (s *PgDefinitionStore) GetTransition(ctx context.Context, transitionID string) (model.Transition, error) {
	var tr model.Transition
	var rolesJSON []byte

	err := s.pool.QueryRow(ctx, `
		SELECT id, workflow_id, name, from_state_id, to_state_id, roles
		FROM workflow_transitions WHERE id = $1`,
		transitionID,
	).Scan(&tr.ID, &tr.WorkflowID, &tr.Name, &tr.FromStateID, &tr.ToStateID, &rolesJSON)
	if err == pgx.ErrNoRows {
		return model.Transition{}, model.NewNotFoundError(fmt.Sprintf("transition %q not found", transitionID))
	}
	if err != nil {
		return model.Transition{}, fmt.Errorf("query transition: %w", err)
	}
	if tr.Roles, err = unmarshalRoles(rolesJSON); err != nil {
		return model.Transition{}, fmt.Errorf("unmarshal transition roles: %w", err)
	}
	return tr, nil
}

// ListTransitions returns all transitions of a workflow.
func (s *PgDefinitionStore) ListTransitions(ctx context.Context, workflowID string) ([]model.Transition, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, workflow_id, name, from_state_id, to_state_id, roles
		FROM workflow_transitions WHERE workflow_id = $1 ORDER BY name ASC`,
		workflowID,
	)
	if err != nil {
		return nil, fmt.Errorf("query transitions: %w", err)
	}
	defer rows.Close()

	var result []model.Transition
	for rows.Next() {
		var tr model.Transition
		var rolesJSON []byte
		if err := rows.Scan(&tr.ID, &tr.WorkflowID, &tr.Name, &tr.FromStateID, &tr.ToStateID, &rolesJSON); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		if tr.Roles, err = unmarshalRoles(rolesJSON); err != nil {
			return nil, fmt.Errorf("unmarshal transition roles: %w", err)
		}
		result = append(result, tr)
	}
	return result, rows.Err()
}

// DeleteTransition removes a single transition.
func (s *PgDefinitionStore) DeleteTransition(ctx context.Context, transitionID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM workflow_transitions WHERE id = $1`, transitionID)
	if err != nil {
		return fmt.Errorf("delete transition: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewNotFoundError(fmt.Sprintf("transition %q not found", transitionID))
	}
	return nil
}

// CreateEvent inserts an event.
func (s *PgDefinitionStore) CreateEvent(ctx context.Context, ev model.Event) error {
	rolesJSON, err := marshalRoles(ev.Roles)
	if err != nil {
		return fmt.Errorf("marshal event roles: %w", err)
	}
	typesJSON, err := json.Marshal(ev.EventTypeIDs)
	if err != nil {
		return fmt.Errorf("marshal event types: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO workflow_step_events (
			id, workflow_id, state_id, name, description, event_type_ids, roles, is_mandatory
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		ev.ID, ev.WorkflowID, ev.StateID, ev.Name, ev.Description, typesJSON, rolesJSON, ev.IsMandatory,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// GetEvent retrieves an event by ID.
func (s *PgDefinitionStore) GetEvent(ctx context.Context, eventID string) (model.Event, error) {
	var ev model.Event
	var rolesJSON, typesJSON []byte

	err := s.pool.QueryRow(ctx, `
		SELECT id, workflow_id, state_id, name, description, event_type_ids, roles, is_mandatory
		FROM workflow_step_events WHERE id = $1`,
		eventID,
	).Scan(&ev.ID, &ev.WorkflowID, &ev.StateID, &ev.Name, &ev.Description, &typesJSON, &rolesJSON, &ev.IsMandatory)
	if err == pgx.ErrNoRows {
		return model.Event{}, model.NewNotFoundError(fmt.Sprintf("event %q not found", eventID))
	}
	if err != nil {
		return model.Event{}, fmt.Errorf("query event: %w", err)
	}
	if typesJSON != nil {
		_ = json.Unmarshal(typesJSON, &ev.EventTypeIDs)
	}
	if ev.Roles, err = unmarshalRoles(rolesJSON); err != nil {
		return model.Event{}, fmt.Errorf("unmarshal event roles: %w", err)
	}
	return ev, nil
}

// ListEvents returns all events of a workflow.
func (s *PgDefinitionStore) ListEvents(ctx context.Context, workflowID string) ([]model.Event, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, workflow_id, state_id, name, description, event_type_ids, roles, is_mandatory
		FROM workflow_step_events WHERE workflow_id = $1 ORDER BY name ASC`,
		workflowID,
	)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var result []model.Event
	for rows.Next() {
		var ev model.Event
		var rolesJSON, typesJSON []byte
		if err := rows.Scan(&ev.ID, &ev.WorkflowID, &ev.StateID, &ev.Name, &ev.Description, &typesJSON, &rolesJSON, &ev.IsMandatory); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if typesJSON != nil {
			_ = json.Unmarshal(typesJSON, &ev.EventTypeIDs)
		}
		if ev.Roles, err = unmarshalRoles(rolesJSON); err != nil {
			return nil, fmt.Errorf("unmarshal event roles: %w", err)
		}
		result = append(result, ev)
	}
	return result, rows.Err()
}

// DeleteEvent removes a single event.
func (s *PgDefinitionStore) DeleteEvent(ctx context.Context, eventID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM workflow_step_events WHERE id = $1`, eventID)
	if err != nil {
		return fmt.Errorf("delete event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewNotFoundError(fmt.Sprintf("event %q not found", eventID))
	}
	return nil
}

// CreateRole inserts a role.
func (s *PgDefinitionStore) CreateRole(ctx context.Context, role model.Role) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO roles (id, name, description, created_on)
		VALUES ($1, $2, $3, $4)`,
		role.ID, role.Name, role.Description, role.CreatedOn,
	)
	if err != nil {
		return fmt.Errorf("insert role: %w", err)
	}
	return nil
}

// GetRole retrieves a role by ID.
func (s *PgDefinitionStore) GetRole(ctx context.Context, roleID string) (model.Role, error) {
	var role model.Role
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, description, created_on FROM roles WHERE id = $1`,
		roleID,
	).Scan(&role.ID, &role.Name, &role.Description, &role.CreatedOn)
	if err == pgx.ErrNoRows {
		return model.Role{}, model.NewNotFoundError(fmt.Sprintf("role %q not found", roleID))
	}
	if err != nil {
		return model.Role{}, fmt.Errorf("query role: %w", err)
	}
	return role, nil
}

// ListRoles returns all roles.
func (s *PgDefinitionStore) ListRoles(ctx context.Context) ([]model.Role, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, description, created_on FROM roles ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("query roles: %w", err)
	}
	defer rows.Close()

	var result []model.Role
	for rows.Next() {
		var role model.Role
		if err := rows.Scan(&role.ID, &role.Name, &role.Description, &role.CreatedOn); err != nil {
			return nil, fmt.Errorf("scan role: %w", err)
		}
		result = append(result, role)
	}
	return result, rows.Err()
}

// CreateEventType inserts an event type.
func (s *PgDefinitionStore) CreateEventType(ctx context.Context, et model.EventType) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO event_types (id, name, description) VALUES ($1, $2, $3)`,
		et.ID, et.Name, et.Description,
	)
	if err != nil {
		return fmt.Errorf("insert event type: %w", err)
	}
	return nil
}

// ListEventTypes returns all event types.
func (s *PgDefinitionStore) ListEventTypes(ctx context.Context) ([]model.EventType, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, description FROM event_types ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("query event types: %w", err)
	}
	defer rows.Close()

	var result []model.EventType
	for rows.Next() {
		var et model.EventType
		if err := rows.Scan(&et.ID, &et.Name, &et.Description); err != nil {
			return nil, fmt.Errorf("scan event type: %w", err)
		}
		result = append(result, et)
	}
	return result, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanState(row rowScanner) (model.State, error) {
	var st model.State
	var rolesJSON []byte
	if err := row.Scan(
		&st.ID, &st.WorkflowID, &st.Name, &st.Description, &st.IsStartState, &st.IsEndState,
		&rolesJSON, &st.EstimationValue, &st.EstimationUnit,
	); err != nil {
		return model.State{}, err
	}
	roles, err := unmarshalRoles(rolesJSON)
	if err != nil {
		return model.State{}, err
	}
	st.Roles = roles
	return st, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
