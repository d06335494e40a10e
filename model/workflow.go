package model

import "time"

// Workflow lifecycle status constants. A workflow is authored in
// definition, frozen by activation, and eventually retired. Retired
// workflows are kept so they can be cloned as the basis of new ones.
const (
	WorkflowStatusDefinition = "definition"
	WorkflowStatusActive     = "active"
	WorkflowStatusRetired    = "retired"
)

// lifecycleTransitions is the complete set of legal status moves.
// Activation and retirement are both one-way.
var lifecycleTransitions = map[string]string{
	WorkflowStatusDefinition: WorkflowStatusActive,
	WorkflowStatusActive:     WorkflowStatusRetired,
}

// CanTransitionLifecycle reports whether a workflow status may move from
// one value to another.
func CanTransitionLifecycle(from, to string) bool {
	return lifecycleTransitions[from] == to
}

// Workflow is a named directed graph of states and transitions that
// things progress through. The graph is only editable while the
// workflow is in definition.
type Workflow struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Status      string    `json:"status"`
	ClonedFrom  string    `json:"cloned_from,omitempty"`
	CreatedOn   time.Time `json:"created_on"`
}

// Editable returns true while the workflow graph may still be changed.
func (w Workflow) Editable() bool {
	return w.Status == WorkflowStatusDefinition
}

// Units of time for state duration estimates.
const (
	EstimationSecond = "second"
	EstimationMinute = "minute"
	EstimationHour   = "hour"
	EstimationDay    = "day"
	EstimationWeek   = "week"
)

var estimationUnits = map[string]time.Duration{
	EstimationSecond: time.Second,
	EstimationMinute: time.Minute,
	EstimationHour:   time.Hour,
	EstimationDay:    24 * time.Hour,
	EstimationWeek:   7 * 24 * time.Hour,
}

// State is a node in a workflow graph: somewhere a thing can be during
// its progress. Roles gate who may view an activity in this state.
type State struct {
	ID           string  `json:"id"`
	WorkflowID   string  `json:"workflow_id"`
	Name         string  `json:"name"`
	Description  string  `json:"description,omitempty"`
	IsStartState bool    `json:"is_start_state"`
	IsEndState   bool    `json:"is_end_state"`
	Roles        RoleSet `json:"roles,omitempty"`

	// Optional duration estimate for how long a thing should stay in
	// this state. Zero EstimationValue means no estimate.
	EstimationValue int    `json:"estimation_value,omitempty"`
	EstimationUnit  string `json:"estimation_unit,omitempty"`
}

// Deadline returns the expected exit time for a thing entering this
// state at the given instant, or nil when no estimate is set.
func (s State) Deadline(entered time.Time) *time.Time {
	if s.EstimationValue <= 0 {
		return nil
	}
	unit, ok := estimationUnits[s.EstimationUnit]
	if !ok {
		return nil
	}
	d := entered.Add(time.Duration(s.EstimationValue) * unit)
	return &d
}

// Transition is a directed, role-gated edge between two states of the
// same workflow. Roles gate who may use it; an empty set means any
// participant may.
type Transition struct {
	ID          string  `json:"id"`
	WorkflowID  string  `json:"workflow_id"`
	Name        string  `json:"name"`
	FromStateID string  `json:"from_state_id"`
	ToStateID   string  `json:"to_state_id"`
	Roles       RoleSet `json:"roles,omitempty"`
}

// EventType classifies events, e.g. "Meeting" or "Document Approval".
type EventType struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Event describes something that is supposed to happen while an
// activity resides in a particular state. Events are descriptive; the
// engine only blocks on mandatory events when configured to.
type Event struct {
	ID           string   `json:"id"`
	WorkflowID   string   `json:"workflow_id"`
	StateID      string   `json:"state_id"`
	Name         string   `json:"name"`
	Description  string   `json:"description,omitempty"`
	EventTypeIDs []string `json:"event_type_ids,omitempty"`
	Roles        RoleSet  `json:"roles,omitempty"`
	IsMandatory  bool     `json:"is_mandatory"`
}

// GraphExport is the read-only projection of a workflow graph handed to
// external renderers. The engine emits data, never drawn output.
type GraphExport struct {
	WorkflowID   string      `json:"workflow_id"`
	WorkflowName string      `json:"workflow_name"`
	Status       string      `json:"status"`
	Nodes        []GraphNode `json:"nodes"`
	Edges        []GraphEdge `json:"edges"`
}

// GraphNode is one state in a GraphExport.
type GraphNode struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	IsStartState bool     `json:"is_start_state"`
	IsEndState   bool     `json:"is_end_state"`
	Roles        []string `json:"roles,omitempty"`
}

// GraphEdge is one transition in a GraphExport.
type GraphEdge struct {
	ID    string   `json:"id"`
	Name  string   `json:"name"`
	From  string   `json:"from"`
	To    string   `json:"to"`
	Roles []string `json:"roles,omitempty"`
}
