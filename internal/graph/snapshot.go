package graph

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/odonata-labs/ledgerflow/model"
)

// CompiledGraph is an immutable, read-optimized view of one active
// workflow. The engine navigates only compiled graphs; indexes are
// built once at activation so transition lookup and adjacency are O(1).
type CompiledGraph struct {
	Workflow    model.Workflow
	StartState  model.State
	States      map[string]model.State      // key: state ID
	Transitions map[string]model.Transition // key: transition ID
	Outgoing    map[string][]model.Transition
	Events      map[string]model.Event // key: event ID
	StateEvents map[string][]model.Event
}

// OutgoingFrom returns the outgoing transitions of a state.
func (g *CompiledGraph) OutgoingFrom(stateID string) []model.Transition {
	return g.Outgoing[stateID]
}

// MandatoryEvents returns the mandatory events attached to a state.
func (g *CompiledGraph) MandatoryEvents(stateID string) []model.Event {
	var result []model.Event
	for _, ev := range g.StateEvents[stateID] {
		if ev.IsMandatory {
			result = append(result, ev)
		}
	}
	return result
}

// snapshot is the immutable set of all compiled active graphs.
type snapshot struct {
	graphs map[string]*CompiledGraph // key: workflow ID
}

// Registry is a read-optimized, thread-safe cache of compiled graphs
// for all active workflows. It uses atomic pointer swap for lock-free
// concurrent reads; writes rebuild the whole snapshot.
type Registry struct {
	snap atomic.Pointer[snapshot]
}

// NewRegistry creates an empty compiled-graph registry.
func NewRegistry() *Registry {
	r := &Registry{}
	r.snap.Store(&snapshot{graphs: map[string]*CompiledGraph{}})
	return r
}

// Get returns the compiled graph for an active workflow.
func (r *Registry) Get(workflowID string) (*CompiledGraph, bool) {
	g, ok := r.snap.Load().graphs[workflowID]
	return g, ok
}

// Len returns the number of compiled graphs.
func (r *Registry) Len() int {
	return len(r.snap.Load().graphs)
}

// put swaps in a new snapshot containing the given graph.
func (r *Registry) put(g *CompiledGraph) {
	old := r.snap.Load()
	next := &snapshot{graphs: make(map[string]*CompiledGraph, len(old.graphs)+1)}
	for id, graph := range old.graphs {
		next.graphs[id] = graph
	}
	next.graphs[g.Workflow.ID] = g
	r.snap.Store(next)
}

// drop swaps in a new snapshot without the given workflow.
func (r *Registry) drop(workflowID string) {
	old := r.snap.Load()
	if _, ok := old.graphs[workflowID]; !ok {
		return
	}
	next := &snapshot{graphs: make(map[string]*CompiledGraph, len(old.graphs))}
	for id, graph := range old.graphs {
		if id != workflowID {
			next.graphs[id] = graph
		}
	}
	r.snap.Store(next)
}

// compile builds an immutable CompiledGraph from stored parts. The
// workflow must already have passed activation validation; compile only
// indexes, it does not re-validate.
func compile(wf model.Workflow, states []model.State, transitions []model.Transition, events []model.Event) (*CompiledGraph, error) {
	g := &CompiledGraph{
		Workflow:    wf,
		States:      make(map[string]model.State, len(states)),
		Transitions: make(map[string]model.Transition, len(transitions)),
		Outgoing:    make(map[string][]model.Transition),
		Events:      make(map[string]model.Event, len(events)),
		StateEvents: make(map[string][]model.Event),
	}

	foundStart := false
	for _, st := range states {
		g.States[st.ID] = st
		if st.IsStartState {
			g.StartState = st
			foundStart = true
		}
	}
	if !foundStart {
		return nil, fmt.Errorf("workflow %q has no start state", wf.ID)
	}

	for _, tr := range transitions {
		g.Transitions[tr.ID] = tr
		g.Outgoing[tr.FromStateID] = append(g.Outgoing[tr.FromStateID], tr)
	}
	for _, ev := range events {
		g.Events[ev.ID] = ev
		g.StateEvents[ev.StateID] = append(g.StateEvents[ev.StateID], ev)
	}
	return g, nil
}

// WarmRegistry compiles every active workflow in the store into the
// registry. Called at boot so the engine never reads cold.
func (s *Service) WarmRegistry(ctx context.Context) error {
	active, err := s.store.ListWorkflows(ctx, WorkflowFilters{Status: model.WorkflowStatusActive})
	if err != nil {
		return fmt.Errorf("list active workflows: %w", err)
	}
	for _, wf := range active {
		if err := s.recompile(ctx, wf); err != nil {
			return fmt.Errorf("compile workflow %q: %w", wf.ID, err)
		}
	}
	return nil
}

// ActiveGraph returns the published compiled graph for a workflow.
// Absence means the workflow is not active.
func (s *Service) ActiveGraph(workflowID string) (*CompiledGraph, bool) {
	return s.registry.Get(workflowID)
}

// Graph returns a compiled graph for a workflow in any lifecycle state,
// preferring the registry snapshot and falling back to an on-demand
// compile. Used for reads against activities of retired workflows.
func (s *Service) Graph(ctx context.Context, workflowID string) (*CompiledGraph, error) {
	if g, ok := s.registry.Get(workflowID); ok {
		return g, nil
	}
	wf, err := s.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	states, err := s.store.ListStates(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	transitions, err := s.store.ListTransitions(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	events, err := s.store.ListEvents(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	return compile(wf, states, transitions, events)
}

// recompile rebuilds and publishes the compiled graph for one workflow.
func (s *Service) recompile(ctx context.Context, wf model.Workflow) error {
	states, err := s.store.ListStates(ctx, wf.ID)
	if err != nil {
		return err
	}
	transitions, err := s.store.ListTransitions(ctx, wf.ID)
	if err != nil {
		return err
	}
	events, err := s.store.ListEvents(ctx, wf.ID)
	if err != nil {
		return err
	}
	g, err := compile(wf, states, transitions, events)
	if err != nil {
		return err
	}
	s.registry.put(g)
	return nil
}
