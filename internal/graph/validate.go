package graph

import (
	"fmt"

	"github.com/odonata-labs/ledgerflow/model"
)

// validateForActivation checks that a workflow graph is sound enough to
// run activities. The first violation found is returned; callers
// surface it to the author, who fixes the graph and retries.
//
// Checks, in order:
//  1. exactly one start state
//  2. at least one end state
//  3. every transition references states of this workflow
//  4. every state is reachable from the start state
//  5. every non-end state has at least one outgoing transition
//  6. every role-gated transition is usable by someone who can see its
//     source state
func validateForActivation(wf model.Workflow, states []model.State, transitions []model.Transition) error {
	if len(states) == 0 {
		return model.NewValidationError([]model.FieldError{{
			Field:   "states",
			Message: fmt.Sprintf("workflow %q has no states", wf.ID),
		}})
	}

	byID := make(map[string]model.State, len(states))
	var start *model.State
	hasEnd := false
	for i := range states {
		st := states[i]
		byID[st.ID] = st
		if st.IsStartState {
			if start != nil {
				return model.NewDuplicateStartStateError(
					fmt.Sprintf("workflow %q has more than one start state (%q and %q)", wf.ID, start.ID, st.ID),
				)
			}
			start = &states[i]
		}
		if st.IsEndState {
			hasEnd = true
		}
	}
	if start == nil {
		return model.NewValidationError([]model.FieldError{{
			Field:   "states",
			Message: fmt.Sprintf("workflow %q has no start state", wf.ID),
		}})
	}
	if !hasEnd {
		return model.NewValidationError([]model.FieldError{{
			Field:   "states",
			Message: fmt.Sprintf("workflow %q has no end state", wf.ID),
		}})
	}

	outgoing := make(map[string][]model.Transition)
	for _, tr := range transitions {
		if _, ok := byID[tr.FromStateID]; !ok {
			return model.NewValidationError([]model.FieldError{{
				Field:   "transitions",
				Message: fmt.Sprintf("transition %q references unknown source state %q", tr.ID, tr.FromStateID),
			}})
		}
		if _, ok := byID[tr.ToStateID]; !ok {
			return model.NewValidationError([]model.FieldError{{
				Field:   "transitions",
				Message: fmt.Sprintf("transition %q references unknown target state %q", tr.ID, tr.ToStateID),
			}})
		}
		outgoing[tr.FromStateID] = append(outgoing[tr.FromStateID], tr)
	}

	// Reachability from the start state, breadth-first.
	reached := map[string]bool{start.ID: true}
	queue := []string{start.ID}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, tr := range outgoing[cur] {
			if !reached[tr.ToStateID] {
				reached[tr.ToStateID] = true
				queue = append(queue, tr.ToStateID)
			}
		}
	}
	for _, st := range states {
		if !reached[st.ID] {
			return model.NewUnreachableStateError(
				fmt.Sprintf("state %q (%s) cannot be reached from the start state", st.ID, st.Name),
			)
		}
	}

	// A non-end state with no way out traps activities forever.
	for _, st := range states {
		if !st.IsEndState && len(outgoing[st.ID]) == 0 {
			return model.NewDeadEndStateError(
				fmt.Sprintf("state %q (%s) is not an end state and has no outgoing transitions", st.ID, st.Name),
			)
		}
	}

	// When both a transition and its source state are role-gated, the
	// sets must overlap, otherwise nobody at the state can ever fire it.
	for _, tr := range transitions {
		src := byID[tr.FromStateID]
		if len(tr.Roles) == 0 || len(src.Roles) == 0 {
			continue
		}
		if !tr.Roles.Intersects(src.Roles) {
			return model.NewUnusableTransitionError(
				fmt.Sprintf("transition %q (%s) cannot be used by any role allowed in its source state %q", tr.ID, tr.Name, src.ID),
			)
		}
	}

	return nil
}
