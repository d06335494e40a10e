package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/odonata-labs/ledgerflow/internal/graph"
	"github.com/odonata-labs/ledgerflow/internal/observability"
	"github.com/odonata-labs/ledgerflow/model"
)

// GraphSource supplies compiled workflow graphs and role lookups. The
// definition service implements it.
type GraphSource interface {
	// ActiveGraph returns the compiled graph of an active workflow.
	// Absence means the workflow is not active.
	ActiveGraph(workflowID string) (*graph.CompiledGraph, bool)

	// Graph returns a compiled graph in any lifecycle state, for reads
	// against activities of retired workflows.
	Graph(ctx context.Context, workflowID string) (*graph.CompiledGraph, error)

	// GetRole retrieves a role by ID.
	GetRole(ctx context.Context, roleID string) (model.Role, error)
}

const startedNote = "Started workflow"

// Engine executes activities against active workflow graphs. Every
// state change is an append to the history ledger; the current state
// of an activity is always the entry with the highest Seq, never a
// stored field. Writes on the same activity serialize through a keyed
// lock with a bounded wait so the read-current-then-append section is
// atomic and no caller blocks indefinitely.
type Engine struct {
	store   ActivityStore
	graphs  GraphSource
	idem    IdempotencyStore
	logger  *zap.Logger
	metrics *observability.Metrics

	// When set, a transition out of a state is refused until every
	// mandatory event of that state has been logged. Off by default;
	// events are advisory.
	enforceMandatoryEvents bool
	idemTTL                time.Duration

	locks activityLocks
}

// Options tune engine behavior beyond its collaborators.
type Options struct {
	EnforceMandatoryEvents bool

	// Optional Fire dedup store; nil disables idempotency keys.
	Idempotency    IdempotencyStore
	IdempotencyTTL time.Duration

	// Longest a write waits for another in-flight write on the same
	// activity before giving up with CONFLICT.
	LockWaitTimeout time.Duration
}

const (
	defaultIdempotencyTTL  = 24 * time.Hour
	defaultLockWaitTimeout = 5 * time.Second
)

// New creates an engine.
func New(store ActivityStore, graphs GraphSource, logger *zap.Logger, metrics *observability.Metrics, opts Options) *Engine {
	ttl := opts.IdempotencyTTL
	if ttl <= 0 {
		ttl = defaultIdempotencyTTL
	}
	lockWait := opts.LockWaitTimeout
	if lockWait <= 0 {
		lockWait = defaultLockWaitTimeout
	}
	return &Engine{
		store:                  store,
		graphs:                 graphs,
		idem:                   opts.Idempotency,
		logger:                 logger,
		metrics:                metrics,
		enforceMandatoryEvents: opts.EnforceMandatoryEvents,
		idemTTL:                ttl,
		locks:                  activityLocks{wait: lockWait},
	}
}

// CreateActivity starts a new run of an active workflow for an external
// subject. The activity and its seed ledger entry at the start state
// are persisted atomically.
func (e *Engine) CreateActivity(ctx context.Context, workflowID, subjectRef string) (model.Activity, error) {
	ctx, span := observability.StartSpan(ctx, "engine.CreateActivity",
		observability.AttrWorkflowID.String(workflowID),
		observability.AttrSubjectRef.String(subjectRef),
	)
	var err error
	defer func() { observability.EndSpanWithError(span, err) }()

	if subjectRef == "" {
		err = model.NewBadRequestError("subject_ref is required")
		return model.Activity{}, err
	}

	g, ok := e.graphs.ActiveGraph(workflowID)
	if !ok {
		err = model.NewWorkflowNotActiveError(
			fmt.Sprintf("workflow %q is not active", workflowID),
		)
		return model.Activity{}, err
	}

	now := time.Now().UTC()
	act := model.Activity{
		ID:         uuid.NewString(),
		WorkflowID: workflowID,
		SubjectRef: subjectRef,
		CreatedOn:  now,
	}
	seed := model.HistoryEntry{
		ID:         uuid.NewString(),
		ActivityID: act.ID,
		StateID:    g.StartState.ID,
		Note:       startedNote,
		Deadline:   g.StartState.Deadline(now),
		Timestamp:  now,
	}
	if err = e.store.CreateActivity(ctx, act, seed); err != nil {
		return model.Activity{}, err
	}

	e.metrics.RecordActivityStarted()
	e.metrics.RecordHistoryEntry("seed")
	observability.RequestLogger(ctx, e.logger).Info("activity created",
		zap.String("activity_id", act.ID),
		zap.String("workflow_id", workflowID),
		zap.String("subject_ref", subjectRef),
	)
	return act, nil
}

// GetActivity retrieves an activity by ID.
func (e *Engine) GetActivity(ctx context.Context, activityID string) (model.Activity, error) {
	return e.store.GetActivity(ctx, activityID)
}

// ListActivities returns activities matching the filters.
func (e *Engine) ListActivities(ctx context.Context, filters model.ActivityFilters) ([]model.Activity, error) {
	return e.store.ListActivities(ctx, filters)
}

// CurrentState derives the activity's current state from the newest
// ledger entry. NO_HISTORY means the seeding invariant was broken
// upstream; it is logged as a data-integrity fault.
func (e *Engine) CurrentState(ctx context.Context, activityID string) (model.State, error) {
	act, err := e.store.GetActivity(ctx, activityID)
	if err != nil {
		return model.State{}, err
	}
	return e.currentState(ctx, act)
}

func (e *Engine) currentState(ctx context.Context, act model.Activity) (model.State, error) {
	latest, err := e.store.LatestHistory(ctx, act.ID)
	if err != nil {
		if env, ok := err.(*model.ErrorEnvelope); ok && env.Code == model.ErrNoHistory {
			observability.RequestLogger(ctx, e.logger).Error("activity has no ledger entries",
				zap.String("activity_id", act.ID),
				zap.String("workflow_id", act.WorkflowID),
			)
		}
		return model.State{}, err
	}

	g, err := e.graphs.Graph(ctx, act.WorkflowID)
	if err != nil {
		return model.State{}, err
	}
	st, ok := g.States[latest.StateID]
	if !ok {
		return model.State{}, model.NewInternalError()
	}
	return st, nil
}

// AvailableTransitions returns the outgoing transitions of the
// activity's current state that the principal may fire, given the roles
// they hold in this activity's roster. A completed activity has none.
func (e *Engine) AvailableTransitions(ctx context.Context, activityID, principalRef string) ([]model.Transition, error) {
	act, err := e.store.GetActivity(ctx, activityID)
	if err != nil {
		return nil, err
	}
	if act.Completed() {
		return nil, nil
	}

	current, err := e.currentState(ctx, act)
	if err != nil {
		return nil, err
	}
	g, err := e.graphs.Graph(ctx, act.WorkflowID)
	if err != nil {
		return nil, err
	}
	held, err := e.RolesOf(ctx, activityID, principalRef)
	if err != nil {
		return nil, err
	}

	var result []model.Transition
	for _, tr := range g.OutgoingFrom(current.ID) {
		if len(tr.Roles) == 0 || tr.Roles.Intersects(held) {
			result = append(result, tr)
		}
	}
	return result, nil
}

// FireInput identifies one transition attempt.
type FireInput struct {
	ActivityID   string
	TransitionID string
	PrincipalRef string
	Note         string

	// Optional dedup key. Repeating a key with identical input replays
	// the recorded outcome instead of appending twice.
	IdempotencyKey string
}

// Fire moves an activity along one transition and appends the result
// to the ledger. The read of the current state and the append are
// atomic per activity; concurrent fires serialize and the loser of a
// race fails with WRONG_SOURCE.
func (e *Engine) Fire(ctx context.Context, in FireInput) (model.HistoryEntry, error) {
	ctx, span := observability.StartSpan(ctx, "engine.Fire",
		observability.AttrActivityID.String(in.ActivityID),
		observability.AttrTransitionID.String(in.TransitionID),
		observability.AttrPrincipalRef.String(in.PrincipalRef),
	)
	var err error
	defer func() { observability.EndSpanWithError(span, err) }()

	if e.idem != nil && in.IdempotencyKey != "" {
		key := FormatIdempotencyKey(in.ActivityID, in.IdempotencyKey)
		cached, found, idemErr := e.idem.Check(ctx, key, HashFireInput(in))
		if idemErr != nil {
			err = idemErr
			return model.HistoryEntry{}, err
		}
		if found {
			e.metrics.RecordIdempotencyHit()
			return *cached, nil
		}
	}

	entry, err := e.fire(ctx, in)
	if err != nil {
		if env, ok := err.(*model.ErrorEnvelope); ok {
			e.metrics.RecordTransitionFired(env.Code)
		}
		return model.HistoryEntry{}, err
	}

	if e.idem != nil && in.IdempotencyKey != "" {
		key := FormatIdempotencyKey(in.ActivityID, in.IdempotencyKey)
		if storeErr := e.idem.Store(ctx, key, HashFireInput(in), entry, e.idemTTL); storeErr != nil {
			// Dedup is best effort; the fire itself committed.
			observability.RequestLogger(ctx, e.logger).Warn("idempotency store failed",
				zap.String("activity_id", in.ActivityID),
				zap.Error(storeErr),
			)
		}
	}
	return entry, nil
}

func (e *Engine) fire(ctx context.Context, in FireInput) (model.HistoryEntry, error) {
	unlock, err := e.locks.lock(ctx, in.ActivityID)
	if err != nil {
		return model.HistoryEntry{}, err
	}
	defer unlock()

	act, err := e.store.GetActivity(ctx, in.ActivityID)
	if err != nil {
		return model.HistoryEntry{}, err
	}

	// Defensive: by construction activities only run on active
	// workflows. A miss here means data was broken upstream.
	g, ok := e.graphs.ActiveGraph(act.WorkflowID)
	if !ok {
		observability.RequestLogger(ctx, e.logger).Error("activity references inactive workflow",
			zap.String("activity_id", act.ID),
			zap.String("workflow_id", act.WorkflowID),
		)
		return model.HistoryEntry{}, model.NewWorkflowNotActiveError(
			fmt.Sprintf("workflow %q is not active", act.WorkflowID),
		).WithDetail("activity_id", act.ID)
	}

	tr, ok := g.Transitions[in.TransitionID]
	if !ok {
		return model.HistoryEntry{}, model.NewNotFoundError(
			fmt.Sprintf("transition %q not found in workflow %q", in.TransitionID, act.WorkflowID),
		)
	}

	latest, err := e.store.LatestHistory(ctx, act.ID)
	if err != nil {
		return model.HistoryEntry{}, err
	}
	if tr.FromStateID != latest.StateID {
		return model.HistoryEntry{}, model.NewWrongSourceError(
			fmt.Sprintf("transition %q fires from state %q but activity %q is in state %q",
				tr.ID, tr.FromStateID, act.ID, latest.StateID),
		).WithDetail("activity_id", act.ID).
			WithDetail("transition_id", tr.ID).
			WithDetail("current_state_id", latest.StateID)
	}

	// Only once the source matches: a stale client firing against a
	// finished activity learns about the state mismatch first.
	if act.Completed() {
		return model.HistoryEntry{}, model.NewActivityCompletedError(
			fmt.Sprintf("activity %q is already completed", act.ID),
		).WithDetail("activity_id", act.ID)
	}

	participantID := ""
	if len(tr.Roles) > 0 {
		roster, err := e.store.ListParticipants(ctx, act.ID)
		if err != nil {
			return model.HistoryEntry{}, err
		}
		for _, p := range roster {
			if p.PrincipalRef == in.PrincipalRef && tr.Roles.Contains(p.RoleID) {
				participantID = p.ID
				break
			}
		}
		if participantID == "" {
			return model.HistoryEntry{}, model.NewUnauthorizedError(
				fmt.Sprintf("principal %q holds no role required by transition %q", in.PrincipalRef, tr.ID),
			).WithDetail("activity_id", act.ID).
				WithDetail("transition_id", tr.ID)
		}
	} else {
		// Unrestricted transition; record the principal's roster entry
		// if one exists so the ledger still names who moved it.
		roster, err := e.store.ListParticipants(ctx, act.ID)
		if err != nil {
			return model.HistoryEntry{}, err
		}
		for _, p := range roster {
			if p.PrincipalRef == in.PrincipalRef {
				participantID = p.ID
				break
			}
		}
	}

	if e.enforceMandatoryEvents {
		if err := e.checkMandatoryEvents(ctx, act.ID, g, latest.StateID); err != nil {
			return model.HistoryEntry{}, err
		}
	}

	target := g.States[tr.ToStateID]
	now := time.Now().UTC()
	note := in.Note
	if note == "" {
		note = tr.Name
	}
	entry := model.HistoryEntry{
		ID:            uuid.NewString(),
		ActivityID:    act.ID,
		StateID:       target.ID,
		TransitionID:  tr.ID,
		ParticipantID: participantID,
		Note:          note,
		Deadline:      target.Deadline(now),
		Timestamp:     now,
	}
	entry, err = e.store.AppendHistory(ctx, entry)
	if err != nil {
		return model.HistoryEntry{}, err
	}

	if target.IsEndState {
		if err := e.store.CompleteActivity(ctx, act.ID, now); err != nil {
			return model.HistoryEntry{}, err
		}
		e.metrics.RecordActivityCompleted()
	}

	e.metrics.RecordTransitionFired("ok")
	e.metrics.RecordHistoryEntry("transition")
	observability.RequestLogger(ctx, e.logger).Info("transition fired",
		zap.String("activity_id", act.ID),
		zap.String("transition_id", tr.ID),
		zap.String("from_state_id", tr.FromStateID),
		zap.String("to_state_id", tr.ToStateID),
		zap.Int64("seq", entry.Seq),
	)
	return entry, nil
}

// checkMandatoryEvents verifies every mandatory event of the current
// state was logged since the activity entered it.
func (e *Engine) checkMandatoryEvents(ctx context.Context, activityID string, g *graph.CompiledGraph, stateID string) error {
	mandatory := g.MandatoryEvents(stateID)
	if len(mandatory) == 0 {
		return nil
	}

	ledger, err := e.store.ListHistory(ctx, activityID)
	if err != nil {
		return err
	}
	// Walk the tail of the ledger back to the entry that entered the
	// current state; event entries carry an EventID, entering entries
	// do not.
	logged := make(map[string]bool)
	for i := len(ledger) - 1; i >= 0; i-- {
		if ledger[i].EventID == "" {
			break
		}
		logged[ledger[i].EventID] = true
	}
	for _, ev := range mandatory {
		if !logged[ev.ID] {
			return model.NewMandatoryEventMissingError(
				fmt.Sprintf("mandatory event %q (%s) has not been logged in state %q", ev.ID, ev.Name, stateID),
			).WithDetail("activity_id", activityID).
				WithDetail("event_id", ev.ID)
		}
	}
	return nil
}

// LogEvent records that an expected event happened while the activity
// sits in its current state. The entry keeps the current state; only
// transitions move activities.
func (e *Engine) LogEvent(ctx context.Context, activityID, eventID, principalRef, note string) (model.HistoryEntry, error) {
	unlock, err := e.locks.lock(ctx, activityID)
	if err != nil {
		return model.HistoryEntry{}, err
	}
	defer unlock()

	act, err := e.store.GetActivity(ctx, activityID)
	if err != nil {
		return model.HistoryEntry{}, err
	}
	if act.Completed() {
		return model.HistoryEntry{}, model.NewActivityCompletedError(
			fmt.Sprintf("activity %q is already completed", act.ID),
		)
	}

	g, ok := e.graphs.ActiveGraph(act.WorkflowID)
	if !ok {
		return model.HistoryEntry{}, model.NewWorkflowNotActiveError(
			fmt.Sprintf("workflow %q is not active", act.WorkflowID),
		)
	}

	ev, ok := g.Events[eventID]
	if !ok {
		return model.HistoryEntry{}, model.NewEventNotInWorkflowError(
			fmt.Sprintf("event %q does not belong to workflow %q", eventID, act.WorkflowID),
		)
	}

	latest, err := e.store.LatestHistory(ctx, act.ID)
	if err != nil {
		return model.HistoryEntry{}, err
	}
	if ev.StateID != latest.StateID {
		return model.HistoryEntry{}, model.NewBadRequestError(
			fmt.Sprintf("event %q belongs to state %q but activity %q is in state %q",
				ev.ID, ev.StateID, act.ID, latest.StateID),
		)
	}

	participantID := ""
	roster, err := e.store.ListParticipants(ctx, act.ID)
	if err != nil {
		return model.HistoryEntry{}, err
	}
	if len(ev.Roles) > 0 {
		for _, p := range roster {
			if p.PrincipalRef == principalRef && ev.Roles.Contains(p.RoleID) {
				participantID = p.ID
				break
			}
		}
		if participantID == "" {
			return model.HistoryEntry{}, model.NewUnauthorizedError(
				fmt.Sprintf("principal %q holds no role required by event %q", principalRef, ev.ID),
			)
		}
	} else {
		for _, p := range roster {
			if p.PrincipalRef == principalRef {
				participantID = p.ID
				break
			}
		}
	}

	if note == "" {
		note = ev.Name
	}
	now := time.Now().UTC()
	entry := model.HistoryEntry{
		ID:            uuid.NewString(),
		ActivityID:    act.ID,
		StateID:       latest.StateID,
		EventID:       ev.ID,
		ParticipantID: participantID,
		Note:          note,
		Timestamp:     now,
	}
	entry, err = e.store.AppendHistory(ctx, entry)
	if err != nil {
		return model.HistoryEntry{}, err
	}

	e.metrics.RecordHistoryEntry("event")
	observability.RequestLogger(ctx, e.logger).Info("event logged",
		zap.String("activity_id", act.ID),
		zap.String("event_id", ev.ID),
		zap.String("state_id", latest.StateID),
	)
	return entry, nil
}

// Stop force-completes an activity at its current state, recording the
// reason in the ledger. The activity keeps its position; it simply
// stops progressing.
func (e *Engine) Stop(ctx context.Context, activityID, principalRef, reason string) (model.HistoryEntry, error) {
	unlock, err := e.locks.lock(ctx, activityID)
	if err != nil {
		return model.HistoryEntry{}, err
	}
	defer unlock()

	act, err := e.store.GetActivity(ctx, activityID)
	if err != nil {
		return model.HistoryEntry{}, err
	}
	if act.Completed() {
		return model.HistoryEntry{}, model.NewActivityCompletedError(
			fmt.Sprintf("activity %q is already completed", act.ID),
		)
	}

	latest, err := e.store.LatestHistory(ctx, act.ID)
	if err != nil {
		return model.HistoryEntry{}, err
	}

	participantID := ""
	roster, err := e.store.ListParticipants(ctx, act.ID)
	if err != nil {
		return model.HistoryEntry{}, err
	}
	for _, p := range roster {
		if p.PrincipalRef == principalRef {
			participantID = p.ID
			break
		}
	}

	note := "Stopped"
	if reason != "" {
		note = "Stopped: " + reason
	}
	now := time.Now().UTC()
	entry := model.HistoryEntry{
		ID:            uuid.NewString(),
		ActivityID:    act.ID,
		StateID:       latest.StateID,
		ParticipantID: participantID,
		Note:          note,
		Timestamp:     now,
	}
	entry, err = e.store.AppendHistory(ctx, entry)
	if err != nil {
		return model.HistoryEntry{}, err
	}
	if err := e.store.CompleteActivity(ctx, act.ID, now); err != nil {
		return model.HistoryEntry{}, err
	}

	e.metrics.RecordActivityCompleted()
	e.metrics.RecordHistoryEntry("stop")
	observability.RequestLogger(ctx, e.logger).Info("activity stopped",
		zap.String("activity_id", act.ID),
		zap.String("state_id", latest.StateID),
		zap.String("reason", reason),
	)
	return entry, nil
}

// History returns the activity's full ledger in Seq order.
func (e *Engine) History(ctx context.Context, activityID string) ([]model.HistoryEntry, error) {
	if _, err := e.store.GetActivity(ctx, activityID); err != nil {
		return nil, err
	}
	return e.store.ListHistory(ctx, activityID)
}

// activityLocks serializes writes per activity ID with a bounded wait.
type activityLocks struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
	wait  time.Duration
}

// lock acquires the lock for an activity and returns its unlock
// function. A caller that cannot get the lock within the configured
// wait fails with CONFLICT instead of blocking indefinitely.
func (a *activityLocks) lock(ctx context.Context, activityID string) (func(), error) {
	a.mu.Lock()
	if a.locks == nil {
		a.locks = make(map[string]chan struct{})
	}
	ch, ok := a.locks[activityID]
	if !ok {
		ch = make(chan struct{}, 1)
		a.locks[activityID] = ch
	}
	a.mu.Unlock()

	timer := time.NewTimer(a.wait)
	defer timer.Stop()

	select {
	case ch <- struct{}{}:
		return func() { <-ch }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, model.NewConflictError(
			fmt.Sprintf("timed out waiting for activity %q after %s", activityID, a.wait),
		).WithDetail("activity_id", activityID)
	}
}
