package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/odonata-labs/ledgerflow/model"
)

// MemoryActivityStore is an in-memory ActivityStore for testing and
// single-node deployments.
type MemoryActivityStore struct {
	mu           sync.RWMutex
	activities   map[string]model.Activity       // key: activity ID
	history      map[string][]model.HistoryEntry // key: activity ID, Seq order
	participants map[string][]model.Participant  // key: activity ID
}

// NewMemoryActivityStore creates a new in-memory activity store.
func NewMemoryActivityStore() *MemoryActivityStore {
	return &MemoryActivityStore{
		activities:   make(map[string]model.Activity),
		history:      make(map[string][]model.HistoryEntry),
		participants: make(map[string][]model.Participant),
	}
}

// HealthCheck always succeeds for the in-memory store.
func (s *MemoryActivityStore) HealthCheck(_ context.Context) error {
	return nil
}

// CreateActivity persists an activity and its seed entry atomically.
func (s *MemoryActivityStore) CreateActivity(_ context.Context, act model.Activity, seed model.HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.activities[act.ID]; exists {
		return model.NewConflictError(fmt.Sprintf("activity %q already exists", act.ID))
	}
	seed.Seq = 1
	s.activities[act.ID] = act
	s.history[act.ID] = []model.HistoryEntry{seed}
	return nil
}

// GetActivity retrieves an activity by ID.
func (s *MemoryActivityStore) GetActivity(_ context.Context, activityID string) (model.Activity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	act, exists := s.activities[activityID]
	if !exists {
		return model.Activity{}, model.NewNotFoundError(fmt.Sprintf("activity %q not found", activityID))
	}
	return act, nil
}

// ListActivities returns activities matching the filters, newest first.
func (s *MemoryActivityStore) ListActivities(_ context.Context, filters model.ActivityFilters) ([]model.Activity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Activity
	for _, act := range s.activities {
		if filters.WorkflowID != "" && act.WorkflowID != filters.WorkflowID {
			continue
		}
		if filters.SubjectRef != "" && act.SubjectRef != filters.SubjectRef {
			continue
		}
		if filters.Completed != nil && act.Completed() != *filters.Completed {
			continue
		}
		result = append(result, act)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedOn.After(result[j].CreatedOn)
	})

	if filters.Offset > 0 {
		if filters.Offset >= len(result) {
			return []model.Activity{}, nil
		}
		result = result[filters.Offset:]
	}
	if filters.Limit > 0 && filters.Limit < len(result) {
		result = result[:filters.Limit]
	}
	return result, nil
}

// CompleteActivity sets the completion timestamp.
func (s *MemoryActivityStore) CompleteActivity(_ context.Context, activityID string, completedOn time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	act, exists := s.activities[activityID]
	if !exists {
		return model.NewNotFoundError(fmt.Sprintf("activity %q not found", activityID))
	}
	act.CompletedOn = &completedOn
	s.activities[activityID] = act
	return nil
}

// AppendHistory appends an entry, assigning the next Seq.
func (s *MemoryActivityStore) AppendHistory(_ context.Context, entry model.HistoryEntry) (model.HistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.activities[entry.ActivityID]; !exists {
		return model.HistoryEntry{}, model.NewNotFoundError(fmt.Sprintf("activity %q not found", entry.ActivityID))
	}

	ledger := s.history[entry.ActivityID]
	entry.Seq = int64(len(ledger)) + 1
	s.history[entry.ActivityID] = append(ledger, entry)
	return entry, nil
}

// LatestHistory returns the entry with the highest Seq.
func (s *MemoryActivityStore) LatestHistory(_ context.Context, activityID string) (model.HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ledger := s.history[activityID]
	if len(ledger) == 0 {
		return model.HistoryEntry{}, model.NewNoHistoryError(activityID)
	}
	return ledger[len(ledger)-1], nil
}

// ListHistory returns the full ledger in Seq order.
func (s *MemoryActivityStore) ListHistory(_ context.Context, activityID string) ([]model.HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ledger := s.history[activityID]
	result := make([]model.HistoryEntry, len(ledger))
	copy(result, ledger)
	return result, nil
}

// CreateParticipant persists a roster grant.
func (s *MemoryActivityStore) CreateParticipant(_ context.Context, p model.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.activities[p.ActivityID]; !exists {
		return model.NewNotFoundError(fmt.Sprintf("activity %q not found", p.ActivityID))
	}
	for _, existing := range s.participants[p.ActivityID] {
		if existing.PrincipalRef == p.PrincipalRef && existing.RoleID == p.RoleID {
			return model.NewConflictError(
				fmt.Sprintf("principal %q already holds role %q in activity %q", p.PrincipalRef, p.RoleID, p.ActivityID),
			)
		}
	}
	s.participants[p.ActivityID] = append(s.participants[p.ActivityID], p)
	return nil
}

// ListParticipants returns all roster entries of an activity.
func (s *MemoryActivityStore) ListParticipants(_ context.Context, activityID string) ([]model.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	roster := s.participants[activityID]
	result := make([]model.Participant, len(roster))
	copy(result, roster)
	sort.Slice(result, func(i, j int) bool {
		return result[i].GrantedOn.Before(result[j].GrantedOn)
	})
	return result, nil
}

// DeleteParticipant removes a roster grant, silently if absent.
func (s *MemoryActivityStore) DeleteParticipant(_ context.Context, activityID, principalRef, roleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	roster := s.participants[activityID]
	for i, p := range roster {
		if p.PrincipalRef == principalRef && p.RoleID == roleID {
			s.participants[activityID] = append(roster[:i], roster[i+1:]...)
			return nil
		}
	}
	return nil
}
