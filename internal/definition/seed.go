// Package definition loads workflow seed files from YAML, validates
// them structurally, and applies them through the graph service so a
// deployment can boot with its workflows already defined and active.
package definition

// SeedFile is one YAML seed document. Roles and event types are shared
// catalog entries; workflows reference them by name. IDs inside a seed
// are symbolic and scoped to the file; real identifiers are assigned
// when the seed is applied.
type SeedFile struct {
	Roles      []SeedRole      `yaml:"roles"`
	EventTypes []SeedEventType `yaml:"event_types"`
	Workflows  []SeedWorkflow  `yaml:"workflows"`

	// Set by the loader.
	SourceFile string `yaml:"-"`
	Checksum   string `yaml:"-"`
}

// SeedRole declares a role by name, created if it does not exist yet.
type SeedRole struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

// SeedEventType declares an event type by name.
type SeedEventType struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

// SeedWorkflow declares a complete workflow graph. When Activate is
// true the seeder activates the workflow after building it, which runs
// the full activation validation.
type SeedWorkflow struct {
	Name        string           `yaml:"name"`
	Description string           `yaml:"description"`
	Activate    bool             `yaml:"activate"`
	States      []SeedState      `yaml:"states"`
	Transitions []SeedTransition `yaml:"transitions"`
	Events      []SeedEvent      `yaml:"events"`
}

// SeedState declares a state. ID is the file-scoped symbolic handle
// that transitions and events use to reference it.
type SeedState struct {
	ID              string   `yaml:"id"`
	Name            string   `yaml:"name"`
	Description     string   `yaml:"description"`
	Start           bool     `yaml:"start"`
	End             bool     `yaml:"end"`
	Roles           []string `yaml:"roles"`
	EstimationValue int      `yaml:"estimation_value"`
	EstimationUnit  string   `yaml:"estimation_unit"`
}

// SeedTransition declares a directed edge between two symbolic state
// IDs. Roles lists role names allowed to fire it; empty means anyone.
type SeedTransition struct {
	Name  string   `yaml:"name"`
	From  string   `yaml:"from"`
	To    string   `yaml:"to"`
	Roles []string `yaml:"roles"`
}

// SeedEvent declares an event attached to a symbolic state ID.
type SeedEvent struct {
	Name       string   `yaml:"name"`
	State      string   `yaml:"state"`
	EventTypes []string `yaml:"event_types"`
	Roles      []string `yaml:"roles"`
	Mandatory  bool     `yaml:"mandatory"`
}
