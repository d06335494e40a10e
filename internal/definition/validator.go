package definition

import "fmt"

// VError describes a single validation error in a seed file.
type VError struct {
	Path    string `json:"path"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e VError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// Validator checks seed files structurally and referentially before
// they are applied. Graph-level rules such as reachability are not
// repeated here; they run during activation.
type Validator struct{}

// NewValidator creates a new Validator.
func NewValidator() *Validator {
	return &Validator{}
}

// Validate checks all seed files. Role and event type names declared in
// any file are visible to every workflow in the batch, matching how the
// seeder applies the catalog before the workflows.
func (v *Validator) Validate(seeds []SeedFile) []VError {
	roleNames := make(map[string]bool)
	eventTypeNames := make(map[string]bool)
	for _, seed := range seeds {
		for _, r := range seed.Roles {
			roleNames[r.Name] = true
		}
		for _, et := range seed.EventTypes {
			eventTypeNames[et.Name] = true
		}
	}

	var errs []VError
	for i, seed := range seeds {
		prefix := fmt.Sprintf("seeds[%d]", i)
		if seed.SourceFile != "" {
			prefix = seed.SourceFile
		}
		errs = append(errs, v.validateSeed(prefix, seed, roleNames, eventTypeNames)...)
	}
	return errs
}

func (v *Validator) validateSeed(prefix string, seed SeedFile, roleNames, eventTypeNames map[string]bool) []VError {
	var errs []VError

	for i, r := range seed.Roles {
		if r.Name == "" {
			errs = append(errs, VError{
				Path: fmt.Sprintf("%s.roles[%d].name", prefix, i),
				Code: "REQUIRED", Message: "role name is required",
			})
		}
	}
	for i, et := range seed.EventTypes {
		if et.Name == "" {
			errs = append(errs, VError{
				Path: fmt.Sprintf("%s.event_types[%d].name", prefix, i),
				Code: "REQUIRED", Message: "event type name is required",
			})
		}
	}

	for i, wf := range seed.Workflows {
		wp := fmt.Sprintf("%s.workflows[%d]", prefix, i)
		errs = append(errs, v.validateWorkflow(wp, wf, roleNames, eventTypeNames)...)
	}
	return errs
}

func (v *Validator) validateWorkflow(prefix string, wf SeedWorkflow, roleNames, eventTypeNames map[string]bool) []VError {
	var errs []VError

	if wf.Name == "" {
		errs = append(errs, VError{Path: prefix + ".name", Code: "REQUIRED", Message: "workflow name is required"})
	}
	if len(wf.States) == 0 {
		errs = append(errs, VError{Path: prefix + ".states", Code: "REQUIRED", Message: "at least one state is required"})
	}

	stateIDs := make(map[string]bool)
	startCount := 0
	endCount := 0
	for i, s := range wf.States {
		sp := fmt.Sprintf("%s.states[%d]", prefix, i)
		if s.ID == "" {
			errs = append(errs, VError{Path: sp + ".id", Code: "REQUIRED", Message: "state id is required"})
		} else if stateIDs[s.ID] {
			errs = append(errs, VError{Path: sp + ".id", Code: "DUPLICATE_ID", Message: fmt.Sprintf("duplicate state id %q", s.ID)})
		}
		stateIDs[s.ID] = true
		if s.Name == "" {
			errs = append(errs, VError{Path: sp + ".name", Code: "REQUIRED", Message: "state name is required"})
		}
		if s.Start {
			startCount++
		}
		if s.End {
			endCount++
		}
		errs = append(errs, v.validateRoleRefs(sp+".roles", s.Roles, roleNames)...)
	}
	if len(wf.States) > 0 {
		if startCount == 0 {
			errs = append(errs, VError{Path: prefix + ".states", Code: "NO_START_STATE", Message: "exactly one state must be marked start"})
		} else if startCount > 1 {
			errs = append(errs, VError{Path: prefix + ".states", Code: "DUPLICATE_START_STATE", Message: "more than one state is marked start"})
		}
		if endCount == 0 {
			errs = append(errs, VError{Path: prefix + ".states", Code: "NO_END_STATE", Message: "at least one state must be marked end"})
		}
	}

	for i, tr := range wf.Transitions {
		tp := fmt.Sprintf("%s.transitions[%d]", prefix, i)
		if tr.Name == "" {
			errs = append(errs, VError{Path: tp + ".name", Code: "REQUIRED", Message: "transition name is required"})
		}
		if tr.From == "" {
			errs = append(errs, VError{Path: tp + ".from", Code: "REQUIRED", Message: "transition from is required"})
		} else if !stateIDs[tr.From] {
			errs = append(errs, VError{Path: tp + ".from", Code: "REF_NOT_FOUND", Message: fmt.Sprintf("state %q not found", tr.From)})
		}
		if tr.To == "" {
			errs = append(errs, VError{Path: tp + ".to", Code: "REQUIRED", Message: "transition to is required"})
		} else if !stateIDs[tr.To] {
			errs = append(errs, VError{Path: tp + ".to", Code: "REF_NOT_FOUND", Message: fmt.Sprintf("state %q not found", tr.To)})
		}
		errs = append(errs, v.validateRoleRefs(tp+".roles", tr.Roles, roleNames)...)
	}

	for i, ev := range wf.Events {
		ep := fmt.Sprintf("%s.events[%d]", prefix, i)
		if ev.Name == "" {
			errs = append(errs, VError{Path: ep + ".name", Code: "REQUIRED", Message: "event name is required"})
		}
		if ev.State == "" {
			errs = append(errs, VError{Path: ep + ".state", Code: "REQUIRED", Message: "event state is required"})
		} else if !stateIDs[ev.State] {
			errs = append(errs, VError{Path: ep + ".state", Code: "REF_NOT_FOUND", Message: fmt.Sprintf("state %q not found", ev.State)})
		}
		if len(ev.EventTypes) == 0 {
			errs = append(errs, VError{Path: ep + ".event_types", Code: "REQUIRED", Message: "at least one event type is required"})
		}
		for _, name := range ev.EventTypes {
			if !eventTypeNames[name] {
				errs = append(errs, VError{Path: ep + ".event_types", Code: "REF_NOT_FOUND", Message: fmt.Sprintf("event type %q not declared", name)})
			}
		}
		errs = append(errs, v.validateRoleRefs(ep+".roles", ev.Roles, roleNames)...)
	}

	return errs
}

func (v *Validator) validateRoleRefs(path string, refs []string, roleNames map[string]bool) []VError {
	var errs []VError
	for _, name := range refs {
		if !roleNames[name] {
			errs = append(errs, VError{Path: path, Code: "REF_NOT_FOUND", Message: fmt.Sprintf("role %q not declared", name)})
		}
	}
	return errs
}
