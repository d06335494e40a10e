package model

import "time"

// Activity binds one external domain object to one run of an active
// workflow. Its current state is never stored directly; it is always
// derived from the newest history entry.
type Activity struct {
	ID          string     `json:"id"`
	WorkflowID  string     `json:"workflow_id"`
	SubjectRef  string     `json:"subject_ref"`
	CreatedOn   time.Time  `json:"created_on"`
	CompletedOn *time.Time `json:"completed_on,omitempty"`
}

// Completed returns true once the activity has reached an end state or
// has been force-stopped.
func (a Activity) Completed() bool {
	return a.CompletedOn != nil
}

// Participant grants one external principal one role for the lifetime
// of a single activity. The principal reference is opaque; identity is
// managed outside the engine.
type Participant struct {
	ID           string    `json:"id"`
	ActivityID   string    `json:"activity_id"`
	PrincipalRef string    `json:"principal_ref"`
	RoleID       string    `json:"role_id"`
	GrantedOn    time.Time `json:"granted_on"`
}

// HistoryEntry is one record in an activity's append-only ledger. The
// entry with the highest Seq for an activity defines its current state.
// TransitionID is empty for the seed entry written at creation;
// EventID is set only on entries recording a logged event.
type HistoryEntry struct {
	ID            string     `json:"id"`
	ActivityID    string     `json:"activity_id"`
	Seq           int64      `json:"seq"`
	StateID       string     `json:"state_id"`
	TransitionID  string     `json:"transition_id,omitempty"`
	EventID       string     `json:"event_id,omitempty"`
	ParticipantID string     `json:"participant_id,omitempty"`
	Note          string     `json:"note,omitempty"`
	Deadline      *time.Time `json:"deadline,omitempty"`
	Timestamp     time.Time  `json:"timestamp"`
}

// ActivityFilters are optional filters for listing activities.
type ActivityFilters struct {
	WorkflowID string
	SubjectRef string
	Completed  *bool
	Limit      int
	Offset     int
}
