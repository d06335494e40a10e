package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/odonata-labs/ledgerflow/internal/observability"
	"github.com/odonata-labs/ledgerflow/model"
)

// Grant binds a principal to a role for the lifetime of one activity.
// Granting an already-held (activity, principal, role) triple returns
// the existing grant, not an error.
func (e *Engine) Grant(ctx context.Context, activityID, principalRef, roleID string) (model.Participant, error) {
	if principalRef == "" {
		return model.Participant{}, model.NewBadRequestError("principal_ref is required")
	}
	if _, err := e.store.GetActivity(ctx, activityID); err != nil {
		return model.Participant{}, err
	}
	if _, err := e.graphs.GetRole(ctx, roleID); err != nil {
		return model.Participant{}, err
	}

	roster, err := e.store.ListParticipants(ctx, activityID)
	if err != nil {
		return model.Participant{}, err
	}
	for _, existing := range roster {
		if existing.PrincipalRef == principalRef && existing.RoleID == roleID {
			return existing, nil
		}
	}

	p := model.Participant{
		ID:           uuid.NewString(),
		ActivityID:   activityID,
		PrincipalRef: principalRef,
		RoleID:       roleID,
		GrantedOn:    time.Now().UTC(),
	}
	if err := e.store.CreateParticipant(ctx, p); err != nil {
		// A concurrent grant of the same triple won the race; treat it
		// as the idempotent success it is and hand back the grant that
		// actually persisted.
		if env, ok := err.(*model.ErrorEnvelope); ok && env.Code == model.ErrConflict {
			roster, listErr := e.store.ListParticipants(ctx, activityID)
			if listErr != nil {
				return model.Participant{}, listErr
			}
			for _, existing := range roster {
				if existing.PrincipalRef == principalRef && existing.RoleID == roleID {
					return existing, nil
				}
			}
		}
		return model.Participant{}, err
	}

	observability.RequestLogger(ctx, e.logger).Debug("participant granted",
		zap.String("activity_id", activityID),
		zap.String("principal_ref", principalRef),
		zap.String("role_id", roleID),
	)
	return p, nil
}

// Revoke removes a roster grant. Revoking an absent grant is a no-op.
func (e *Engine) Revoke(ctx context.Context, activityID, principalRef, roleID string) error {
	if _, err := e.store.GetActivity(ctx, activityID); err != nil {
		return err
	}
	return e.store.DeleteParticipant(ctx, activityID, principalRef, roleID)
}

// RolesOf returns the set of role IDs a principal holds in one
// activity's roster.
func (e *Engine) RolesOf(ctx context.Context, activityID, principalRef string) (model.RoleSet, error) {
	roster, err := e.store.ListParticipants(ctx, activityID)
	if err != nil {
		return nil, err
	}
	held := make(model.RoleSet)
	for _, p := range roster {
		if p.PrincipalRef == principalRef {
			held[p.RoleID] = true
		}
	}
	return held, nil
}

// Participants returns the full roster of an activity.
func (e *Engine) Participants(ctx context.Context, activityID string) ([]model.Participant, error) {
	if _, err := e.store.GetActivity(ctx, activityID); err != nil {
		return nil, err
	}
	return e.store.ListParticipants(ctx, activityID)
}
