package definition

import "testing"

func TestLoader_LoadFile(t *testing.T) {
	l := NewLoader()
	seed, err := l.LoadFile("testdata/seeds/bug-report.yaml")
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}

	if len(seed.Roles) != 2 {
		t.Fatalf("Roles = %d, want 2", len(seed.Roles))
	}
	if seed.Roles[0].Name != "Triager" {
		t.Errorf("Roles[0].Name = %q, want Triager", seed.Roles[0].Name)
	}
	if len(seed.EventTypes) != 1 {
		t.Fatalf("EventTypes = %d, want 1", len(seed.EventTypes))
	}
	if len(seed.Workflows) != 1 {
		t.Fatalf("Workflows = %d, want 1", len(seed.Workflows))
	}

	wf := seed.Workflows[0]
	if wf.Name != "Bug Report" {
		t.Errorf("Workflow.Name = %q, want Bug Report", wf.Name)
	}
	if !wf.Activate {
		t.Error("Workflow.Activate should be true")
	}
	if len(wf.States) != 3 {
		t.Fatalf("States = %d, want 3", len(wf.States))
	}
	if !wf.States[0].Start {
		t.Error("States[0].Start should be true")
	}
	if wf.States[0].EstimationValue != 3 || wf.States[0].EstimationUnit != "day" {
		t.Errorf("States[0] estimation = %d %q, want 3 day",
			wf.States[0].EstimationValue, wf.States[0].EstimationUnit)
	}
	if len(wf.Transitions) != 2 {
		t.Fatalf("Transitions = %d, want 2", len(wf.Transitions))
	}
	if wf.Transitions[0].From != "open" || wf.Transitions[0].To != "rejected" {
		t.Errorf("Transitions[0] = %q -> %q, want open -> rejected",
			wf.Transitions[0].From, wf.Transitions[0].To)
	}
	if len(wf.Events) != 1 {
		t.Fatalf("Events = %d, want 1", len(wf.Events))
	}

	if seed.Checksum == "" {
		t.Error("Checksum should not be empty")
	}
	if seed.SourceFile != "testdata/seeds/bug-report.yaml" {
		t.Errorf("SourceFile = %q", seed.SourceFile)
	}
}

func TestLoader_LoadFile_not_found(t *testing.T) {
	l := NewLoader()
	_, err := l.LoadFile("testdata/nonexistent.yaml")
	if err == nil {
		t.Fatal("LoadFile() with missing file should return error")
	}
}

func TestLoader_LoadFile_invalid_yaml(t *testing.T) {
	l := NewLoader()
	_, err := l.LoadFile("testdata/invalid/bad.yaml")
	if err == nil {
		t.Fatal("LoadFile() with invalid YAML should return error")
	}
}

func TestLoader_LoadAll(t *testing.T) {
	l := NewLoader()
	seeds, err := l.LoadAll([]string{"testdata/seeds"})
	if err != nil {
		t.Fatalf("LoadAll() error = %v", err)
	}
	if len(seeds) != 1 {
		t.Fatalf("LoadAll() = %d seeds, want 1", len(seeds))
	}
}

func TestLoader_LoadAll_bad_directory(t *testing.T) {
	l := NewLoader()
	_, err := l.LoadAll([]string{"testdata/nonexistent"})
	if err == nil {
		t.Fatal("LoadAll() with missing directory should return error")
	}
}
