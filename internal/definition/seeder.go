package definition

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/odonata-labs/ledgerflow/internal/graph"
	"github.com/odonata-labs/ledgerflow/internal/observability"
)

// Seeder applies validated seed files through the graph service.
// Applying the same seeds twice is safe: roles and event types are
// matched by name, and a workflow whose name already exists is skipped.
type Seeder struct {
	graphs  *graph.Service
	logger  *zap.Logger
	metrics *observability.Metrics
}

// NewSeeder creates a Seeder over the given graph service.
func NewSeeder(graphs *graph.Service, logger *zap.Logger, metrics *observability.Metrics) *Seeder {
	return &Seeder{graphs: graphs, logger: logger, metrics: metrics}
}

// Apply validates and applies all seed files in order. It fails fast on
// the first validation or apply error so a bad seed never half-builds.
func (s *Seeder) Apply(ctx context.Context, seeds []SeedFile) error {
	if errs := NewValidator().Validate(seeds); len(errs) > 0 {
		for _, e := range errs {
			s.logger.Error("invalid workflow seed",
				zap.String("path", e.Path),
				zap.String("code", e.Code),
				zap.String("message", e.Message))
		}
		return fmt.Errorf("seed validation failed with %d errors, first: %s", len(errs), errs[0].Error())
	}

	roleIDs, err := s.applyRoles(ctx, seeds)
	if err != nil {
		return err
	}
	eventTypeIDs, err := s.applyEventTypes(ctx, seeds)
	if err != nil {
		return err
	}

	existing, err := s.existingWorkflowNames(ctx)
	if err != nil {
		return err
	}

	for _, seed := range seeds {
		for _, wf := range seed.Workflows {
			if existing[wf.Name] {
				s.logger.Debug("workflow seed already applied",
					zap.String("workflow_name", wf.Name),
					zap.String("source_file", seed.SourceFile))
				continue
			}
			if err := s.applyWorkflow(ctx, wf, roleIDs, eventTypeIDs); err != nil {
				return fmt.Errorf("applying workflow %q from %s: %w", wf.Name, seed.SourceFile, err)
			}
			existing[wf.Name] = true
			s.metrics.RecordDefinitionSeeded()
			s.logger.Info("workflow seed applied",
				zap.String("workflow_name", wf.Name),
				zap.String("source_file", seed.SourceFile),
				zap.Bool("activated", wf.Activate))
		}
	}
	return nil
}

// applyRoles creates any role named in the seeds that does not exist
// yet and returns the name to ID mapping for all of them.
func (s *Seeder) applyRoles(ctx context.Context, seeds []SeedFile) (map[string]string, error) {
	roles, err := s.graphs.ListRoles(ctx)
	if err != nil {
		return nil, err
	}
	ids := make(map[string]string, len(roles))
	for _, r := range roles {
		ids[r.Name] = r.ID
	}
	for _, seed := range seeds {
		for _, sr := range seed.Roles {
			if _, ok := ids[sr.Name]; ok {
				continue
			}
			r, err := s.graphs.CreateRole(ctx, sr.Name, sr.Description)
			if err != nil {
				return nil, fmt.Errorf("creating role %q: %w", sr.Name, err)
			}
			ids[r.Name] = r.ID
		}
	}
	return ids, nil
}

func (s *Seeder) applyEventTypes(ctx context.Context, seeds []SeedFile) (map[string]string, error) {
	types, err := s.graphs.ListEventTypes(ctx)
	if err != nil {
		return nil, err
	}
	ids := make(map[string]string, len(types))
	for _, et := range types {
		ids[et.Name] = et.ID
	}
	for _, seed := range seeds {
		for _, st := range seed.EventTypes {
			if _, ok := ids[st.Name]; ok {
				continue
			}
			et, err := s.graphs.CreateEventType(ctx, st.Name, st.Description)
			if err != nil {
				return nil, fmt.Errorf("creating event type %q: %w", st.Name, err)
			}
			ids[et.Name] = et.ID
		}
	}
	return ids, nil
}

func (s *Seeder) existingWorkflowNames(ctx context.Context) (map[string]bool, error) {
	workflows, err := s.graphs.ListWorkflows(ctx, graph.WorkflowFilters{})
	if err != nil {
		return nil, err
	}
	names := make(map[string]bool, len(workflows))
	for _, wf := range workflows {
		names[wf.Name] = true
	}
	return names, nil
}

func (s *Seeder) applyWorkflow(ctx context.Context, seed SeedWorkflow, roleIDs, eventTypeIDs map[string]string) error {
	wf, err := s.graphs.CreateWorkflow(ctx, graph.CreateWorkflowInput{
		Name:        seed.Name,
		Description: seed.Description,
	})
	if err != nil {
		return err
	}

	// Symbolic state IDs from the file map to the assigned ones.
	stateIDs := make(map[string]string, len(seed.States))
	for _, ss := range seed.States {
		st, err := s.graphs.AddState(ctx, wf.ID, graph.StateInput{
			Name:            ss.Name,
			Description:     ss.Description,
			IsStartState:    ss.Start,
			IsEndState:      ss.End,
			RoleIDs:         resolveNames(ss.Roles, roleIDs),
			EstimationValue: ss.EstimationValue,
			EstimationUnit:  ss.EstimationUnit,
		})
		if err != nil {
			return fmt.Errorf("state %q: %w", ss.ID, err)
		}
		stateIDs[ss.ID] = st.ID
	}

	for _, tr := range seed.Transitions {
		_, err := s.graphs.AddTransition(ctx, wf.ID, graph.TransitionInput{
			Name:        tr.Name,
			FromStateID: stateIDs[tr.From],
			ToStateID:   stateIDs[tr.To],
			RoleIDs:     resolveNames(tr.Roles, roleIDs),
		})
		if err != nil {
			return fmt.Errorf("transition %q: %w", tr.Name, err)
		}
	}

	for _, ev := range seed.Events {
		_, err := s.graphs.AddEvent(ctx, wf.ID, graph.EventInput{
			Name:         ev.Name,
			StateID:      stateIDs[ev.State],
			EventTypeIDs: resolveNames(ev.EventTypes, eventTypeIDs),
			RoleIDs:      resolveNames(ev.Roles, roleIDs),
			IsMandatory:  ev.Mandatory,
		})
		if err != nil {
			return fmt.Errorf("event %q: %w", ev.Name, err)
		}
	}

	if seed.Activate {
		if _, err := s.graphs.Activate(ctx, wf.ID); err != nil {
			return fmt.Errorf("activating: %w", err)
		}
	}
	return nil
}

func resolveNames(names []string, ids map[string]string) []string {
	if len(names) == 0 {
		return nil
	}
	out := make([]string, 0, len(names))
	for _, name := range names {
		out = append(out, ids[name])
	}
	return out
}
