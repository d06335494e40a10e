// Package engine runs activities through active workflow graphs: it
// owns the participant roster, the transition executor, and the
// append-only history ledger.
package engine

import (
	"context"
	"time"

	"github.com/odonata-labs/ledgerflow/model"
)

// ActivityStore persists activities, participants, and the history
// ledger. Implementations assign the monotonic Seq on append; the entry
// with the highest Seq for an activity is its current state.
type ActivityStore interface {
	// CreateActivity persists a new activity and its seed history entry
	// atomically. The seed gets Seq 1.
	CreateActivity(ctx context.Context, act model.Activity, seed model.HistoryEntry) error

	// GetActivity retrieves an activity by ID. Returns NOT_FOUND if it
	// doesn't exist.
	GetActivity(ctx context.Context, activityID string) (model.Activity, error)

	// ListActivities returns activities matching the filters.
	ListActivities(ctx context.Context, filters model.ActivityFilters) ([]model.Activity, error)

	// CompleteActivity sets the activity's completion timestamp.
	CompleteActivity(ctx context.Context, activityID string, completedOn time.Time) error

	// AppendHistory appends an entry to the activity's ledger, assigning
	// the next Seq, and returns the stored entry.
	AppendHistory(ctx context.Context, entry model.HistoryEntry) (model.HistoryEntry, error)

	// LatestHistory returns the entry with the highest Seq for an
	// activity. Returns NO_HISTORY if none exists.
	LatestHistory(ctx context.Context, activityID string) (model.HistoryEntry, error)

	// ListHistory returns the full ledger of an activity in Seq order.
	ListHistory(ctx context.Context, activityID string) ([]model.HistoryEntry, error)

	// CreateParticipant persists a roster grant. Returns CONFLICT if the
	// same (activity, principal, role) triple already exists.
	CreateParticipant(ctx context.Context, p model.Participant) error

	// ListParticipants returns all roster entries of an activity.
	ListParticipants(ctx context.Context, activityID string) ([]model.Participant, error)

	// DeleteParticipant removes a roster grant. Removing an absent grant
	// is not an error.
	DeleteParticipant(ctx context.Context, activityID, principalRef, roleID string) error
}
