package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/odonata-labs/ledgerflow/model"
)

func TestGrant(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	act := h.newActivity(t)

	p, err := h.eng.Grant(ctx, act.ID, "user:dev", h.developer.ID)
	require.NoError(t, err)
	assert.Equal(t, act.ID, p.ActivityID)
	assert.Equal(t, "user:dev", p.PrincipalRef)
	assert.Equal(t, h.developer.ID, p.RoleID)
	assert.False(t, p.GrantedOn.IsZero())

	// Granting the same triple again returns the existing record.
	again, err := h.eng.Grant(ctx, act.ID, "user:dev", h.developer.ID)
	require.NoError(t, err)
	assert.Equal(t, p.ID, again.ID)

	roster, err := h.eng.Participants(ctx, act.ID)
	require.NoError(t, err)
	assert.Len(t, roster, 1)
}

func TestGrant_validation(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	act := h.newActivity(t)

	_, err := h.eng.Grant(ctx, act.ID, "", h.developer.ID)
	assert.Equal(t, model.ErrBadRequest, code(t, err))

	_, err = h.eng.Grant(ctx, "no-such-activity", "user:dev", h.developer.ID)
	assert.Equal(t, model.ErrNotFound, code(t, err))

	_, err = h.eng.Grant(ctx, act.ID, "user:dev", "no-such-role")
	assert.Equal(t, model.ErrNotFound, code(t, err))
}

func TestRevoke(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	act := h.newActivity(t)

	_, err := h.eng.Grant(ctx, act.ID, "user:dev", h.developer.ID)
	require.NoError(t, err)
	require.NoError(t, h.eng.Revoke(ctx, act.ID, "user:dev", h.developer.ID))

	roster, err := h.eng.Participants(ctx, act.ID)
	require.NoError(t, err)
	assert.Empty(t, roster)

	// Revoking an absent grant is a no-op, not an error.
	assert.NoError(t, h.eng.Revoke(ctx, act.ID, "user:dev", h.developer.ID))

	// A revoked principal can no longer fire the gated transition.
	_, err = h.eng.Fire(ctx, FireInput{ActivityID: act.ID, TransitionID: h.fix.ID, PrincipalRef: "user:dev"})
	assert.Equal(t, model.ErrUnauthorized, code(t, err))
}

func TestRolesOf(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	act := h.newActivity(t)

	roles, err := h.eng.RolesOf(ctx, act.ID, "user:lead")
	require.NoError(t, err)
	assert.Empty(t, roles)

	_, err = h.eng.Grant(ctx, act.ID, "user:lead", h.developer.ID)
	require.NoError(t, err)
	_, err = h.eng.Grant(ctx, act.ID, "user:lead", h.triager.ID)
	require.NoError(t, err)
	_, err = h.eng.Grant(ctx, act.ID, "user:other", h.triager.ID)
	require.NoError(t, err)

	roles, err = h.eng.RolesOf(ctx, act.ID, "user:lead")
	require.NoError(t, err)
	assert.Len(t, roles, 2)
	assert.True(t, roles.Contains(h.developer.ID))
	assert.True(t, roles.Contains(h.triager.ID))
}

// staleRosterStore hides the roster from its first reader, so a grant
// that passed the duplicate pre-check collides on create.
type staleRosterStore struct {
	ActivityStore
	mu     sync.Mutex
	misses int
}

func (s *staleRosterStore) ListParticipants(ctx context.Context, activityID string) ([]model.Participant, error) {
	s.mu.Lock()
	first := s.misses == 0
	s.misses++
	s.mu.Unlock()
	if first {
		return nil, nil
	}
	return s.ActivityStore.ListParticipants(ctx, activityID)
}

func TestGrant_lostRaceReturnsPersistedGrant(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()

	store := &staleRosterStore{ActivityStore: NewMemoryActivityStore()}
	eng := New(store, h.graphs, zap.NewNop(), nil, Options{})
	act, err := eng.CreateActivity(ctx, h.workflow.ID, "bug-90")
	require.NoError(t, err)

	winner := model.Participant{
		ID:           "participant-winner",
		ActivityID:   act.ID,
		PrincipalRef: "user:dev",
		RoleID:       h.developer.ID,
		GrantedOn:    time.Now().UTC(),
	}
	require.NoError(t, store.ActivityStore.CreateParticipant(ctx, winner))

	p, err := eng.Grant(ctx, act.ID, "user:dev", h.developer.ID)
	require.NoError(t, err)
	assert.Equal(t, winner.ID, p.ID, "the caller gets the grant that persisted")

	roster, err := eng.Participants(ctx, act.ID)
	require.NoError(t, err)
	require.Len(t, roster, 1)
	assert.Equal(t, winner.ID, roster[0].ID)
}
