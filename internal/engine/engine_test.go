package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/odonata-labs/ledgerflow/internal/graph"
	"github.com/odonata-labs/ledgerflow/model"
)

// harness wires a definition service and an engine over memory stores,
// with the bug-report workflow ready to activate: Open (start) with
// Reject -> Rejected (end, role Triager) and Fix -> Fixed (end, role
// Developer).
type harness struct {
	graphs *graph.Service
	eng    *Engine

	workflow  model.Workflow
	triager   model.Role
	developer model.Role
	open      model.State
	rejected  model.State
	fixed     model.State
	reject    model.Transition
	fix       model.Transition
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	ctx := context.Background()

	h := &harness{}
	h.graphs = graph.NewService(graph.NewMemoryDefinitionStore(), zap.NewNop(), nil)
	h.eng = New(NewMemoryActivityStore(), h.graphs, zap.NewNop(), nil, opts)

	var err error
	h.triager, err = h.graphs.CreateRole(ctx, "Triager", "")
	require.NoError(t, err)
	h.developer, err = h.graphs.CreateRole(ctx, "Developer", "")
	require.NoError(t, err)

	h.workflow, err = h.graphs.CreateWorkflow(ctx, graph.CreateWorkflowInput{Name: "Bug Report"})
	require.NoError(t, err)

	h.open, err = h.graphs.AddState(ctx, h.workflow.ID, graph.StateInput{Name: "Open", IsStartState: true})
	require.NoError(t, err)
	h.rejected, err = h.graphs.AddState(ctx, h.workflow.ID, graph.StateInput{Name: "Rejected", IsEndState: true})
	require.NoError(t, err)
	h.fixed, err = h.graphs.AddState(ctx, h.workflow.ID, graph.StateInput{Name: "Fixed", IsEndState: true})
	require.NoError(t, err)

	h.reject, err = h.graphs.AddTransition(ctx, h.workflow.ID, graph.TransitionInput{
		Name: "Reject", FromStateID: h.open.ID, ToStateID: h.rejected.ID, RoleIDs: []string{h.triager.ID},
	})
	require.NoError(t, err)
	h.fix, err = h.graphs.AddTransition(ctx, h.workflow.ID, graph.TransitionInput{
		Name: "Fix", FromStateID: h.open.ID, ToStateID: h.fixed.ID, RoleIDs: []string{h.developer.ID},
	})
	require.NoError(t, err)

	h.workflow, err = h.graphs.Activate(ctx, h.workflow.ID)
	require.NoError(t, err)
	return h
}

func (h *harness) newActivity(t *testing.T) model.Activity {
	t.Helper()
	act, err := h.eng.CreateActivity(context.Background(), h.workflow.ID, "bug-42")
	require.NoError(t, err)
	return act
}

func code(t *testing.T, err error) string {
	t.Helper()
	require.Error(t, err)
	var env *model.ErrorEnvelope
	require.ErrorAs(t, err, &env)
	return env.Code
}

func TestCreateActivity_seedsLedger(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()

	act := h.newActivity(t)
	assert.False(t, act.Completed())

	current, err := h.eng.CurrentState(ctx, act.ID)
	require.NoError(t, err)
	assert.Equal(t, h.open.ID, current.ID)

	ledger, err := h.eng.History(ctx, act.ID)
	require.NoError(t, err)
	require.Len(t, ledger, 1)
	assert.Equal(t, int64(1), ledger[0].Seq)
	assert.Empty(t, ledger[0].TransitionID, "seed entry carries no transition")
	assert.Equal(t, "Started workflow", ledger[0].Note)
}

func TestCreateActivity_workflowNotActive(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()

	_, err := h.eng.CreateActivity(ctx, "no-such-workflow", "bug-42")
	assert.Equal(t, model.ErrWorkflowNotActive, code(t, err))

	_, err = h.graphs.Retire(ctx, h.workflow.ID)
	require.NoError(t, err)
	_, err = h.eng.CreateActivity(ctx, h.workflow.ID, "bug-43")
	assert.Equal(t, model.ErrWorkflowNotActive, code(t, err))
}

func TestFire_bugReportScenario(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	act := h.newActivity(t)

	_, err := h.eng.Grant(ctx, act.ID, "user:dev", h.developer.ID)
	require.NoError(t, err)

	entry, err := h.eng.Fire(ctx, FireInput{
		ActivityID:   act.ID,
		TransitionID: h.fix.ID,
		PrincipalRef: "user:dev",
	})
	require.NoError(t, err)
	assert.Equal(t, h.fixed.ID, entry.StateID)
	assert.Equal(t, int64(2), entry.Seq)
	assert.Equal(t, "Fix", entry.Note, "note defaults to the transition name")

	act, err = h.eng.GetActivity(ctx, act.ID)
	require.NoError(t, err)
	assert.True(t, act.Completed(), "reaching an end state completes the activity")

	// Current state is now Fixed, so Reject fails with WRONG_SOURCE:
	// the stale client learns about the state mismatch, not merely
	// that the activity finished.
	_, err = h.eng.Grant(ctx, act.ID, "user:triager", h.triager.ID)
	require.NoError(t, err)
	_, err = h.eng.Fire(ctx, FireInput{
		ActivityID:   act.ID,
		TransitionID: h.reject.ID,
		PrincipalRef: "user:triager",
	})
	assert.Equal(t, model.ErrWrongSource, code(t, err))
}

func TestFire_wrongSource(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()

	// Extend the fixture with a second hop so the activity can sit in a
	// non-start state while a start-state transition is attempted.
	wf, err := h.graphs.CreateWorkflow(ctx, graph.CreateWorkflowInput{Name: "Two hop"})
	require.NoError(t, err)
	s1, err := h.graphs.AddState(ctx, wf.ID, graph.StateInput{Name: "S1", IsStartState: true})
	require.NoError(t, err)
	s2, err := h.graphs.AddState(ctx, wf.ID, graph.StateInput{Name: "S2"})
	require.NoError(t, err)
	s3, err := h.graphs.AddState(ctx, wf.ID, graph.StateInput{Name: "S3", IsEndState: true})
	require.NoError(t, err)
	first, err := h.graphs.AddTransition(ctx, wf.ID, graph.TransitionInput{Name: "First", FromStateID: s1.ID, ToStateID: s2.ID})
	require.NoError(t, err)
	_, err = h.graphs.AddTransition(ctx, wf.ID, graph.TransitionInput{Name: "Second", FromStateID: s2.ID, ToStateID: s3.ID})
	require.NoError(t, err)
	_, err = h.graphs.Activate(ctx, wf.ID)
	require.NoError(t, err)

	act, err := h.eng.CreateActivity(ctx, wf.ID, "thing-1")
	require.NoError(t, err)
	_, err = h.eng.Fire(ctx, FireInput{ActivityID: act.ID, TransitionID: first.ID, PrincipalRef: "user:a"})
	require.NoError(t, err)

	// Activity is at S2; replaying the S1 transition is stale.
	_, err = h.eng.Fire(ctx, FireInput{ActivityID: act.ID, TransitionID: first.ID, PrincipalRef: "user:a"})
	assert.Equal(t, model.ErrWrongSource, code(t, err))

	current, err := h.eng.CurrentState(ctx, act.ID)
	require.NoError(t, err)
	assert.Equal(t, s2.ID, current.ID)
}

func TestFire_unauthorizedThenGranted(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	act := h.newActivity(t)

	_, err := h.eng.Fire(ctx, FireInput{
		ActivityID:   act.ID,
		TransitionID: h.fix.ID,
		PrincipalRef: "user:dev",
	})
	assert.Equal(t, model.ErrUnauthorized, code(t, err))

	_, err = h.eng.Grant(ctx, act.ID, "user:dev", h.developer.ID)
	require.NoError(t, err)

	entry, err := h.eng.Fire(ctx, FireInput{
		ActivityID:   act.ID,
		TransitionID: h.fix.ID,
		PrincipalRef: "user:dev",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, entry.ParticipantID, "ledger names the authorizing grant")
}

func TestFire_concurrentConflictingFires(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	act := h.newActivity(t)

	_, err := h.eng.Grant(ctx, act.ID, "user:dev", h.developer.ID)
	require.NoError(t, err)
	_, err = h.eng.Grant(ctx, act.ID, "user:triager", h.triager.ID)
	require.NoError(t, err)

	type outcome struct {
		entry model.HistoryEntry
		err   error
	}
	results := make(chan outcome, 2)
	var wg sync.WaitGroup
	fireWith := func(transitionID, principal string) {
		defer wg.Done()
		entry, err := h.eng.Fire(ctx, FireInput{
			ActivityID:   act.ID,
			TransitionID: transitionID,
			PrincipalRef: principal,
		})
		results <- outcome{entry, err}
	}
	wg.Add(2)
	go fireWith(h.fix.ID, "user:dev")
	go fireWith(h.reject.ID, "user:triager")
	wg.Wait()
	close(results)

	var successes, failures int
	for r := range results {
		if r.err == nil {
			successes++
		} else {
			failures++
			var env *model.ErrorEnvelope
			require.ErrorAs(t, r.err, &env)
			assert.Equal(t, model.ErrWrongSource, env.Code,
				"the losing fire sees the moved state")
		}
	}
	assert.Equal(t, 1, successes, "exactly one concurrent fire wins")
	assert.Equal(t, 1, failures)

	// The ledger tail is a single transition entry, not a divergent pair.
	ledger, err := h.eng.History(ctx, act.ID)
	require.NoError(t, err)
	require.Len(t, ledger, 2)
	assert.Equal(t, int64(2), ledger[1].Seq)
}

func TestFire_unrestrictedTransition(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()

	wf, err := h.graphs.CreateWorkflow(ctx, graph.CreateWorkflowInput{Name: "Open gates"})
	require.NoError(t, err)
	a, err := h.graphs.AddState(ctx, wf.ID, graph.StateInput{Name: "A", IsStartState: true})
	require.NoError(t, err)
	b, err := h.graphs.AddState(ctx, wf.ID, graph.StateInput{Name: "B", IsEndState: true})
	require.NoError(t, err)
	open, err := h.graphs.AddTransition(ctx, wf.ID, graph.TransitionInput{Name: "Go", FromStateID: a.ID, ToStateID: b.ID})
	require.NoError(t, err)
	_, err = h.graphs.Activate(ctx, wf.ID)
	require.NoError(t, err)

	act, err := h.eng.CreateActivity(ctx, wf.ID, "thing-2")
	require.NoError(t, err)

	// No roster entry at all; an ungated transition still fires.
	_, err = h.eng.Fire(ctx, FireInput{ActivityID: act.ID, TransitionID: open.ID, PrincipalRef: "user:anyone"})
	require.NoError(t, err)
}

func TestAvailableTransitions(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	act := h.newActivity(t)

	// No roles held: both transitions are role-gated, so none show.
	available, err := h.eng.AvailableTransitions(ctx, act.ID, "user:dev")
	require.NoError(t, err)
	assert.Empty(t, available)

	_, err = h.eng.Grant(ctx, act.ID, "user:dev", h.developer.ID)
	require.NoError(t, err)

	available, err = h.eng.AvailableTransitions(ctx, act.ID, "user:dev")
	require.NoError(t, err)
	require.Len(t, available, 1)
	assert.Equal(t, h.fix.ID, available[0].ID)
}

func TestAvailableTransitions_completedActivity(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	act := h.newActivity(t)

	_, err := h.eng.Grant(ctx, act.ID, "user:dev", h.developer.ID)
	require.NoError(t, err)
	_, err = h.eng.Fire(ctx, FireInput{ActivityID: act.ID, TransitionID: h.fix.ID, PrincipalRef: "user:dev"})
	require.NoError(t, err)

	available, err := h.eng.AvailableTransitions(ctx, act.ID, "user:dev")
	require.NoError(t, err)
	assert.Empty(t, available)
}

func TestCurrentState_noHistory(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()

	// Bypass CreateActivity to break the seeding invariant on purpose.
	store := NewMemoryActivityStore()
	store.activities["broken"] = model.Activity{ID: "broken", WorkflowID: h.workflow.ID}
	eng := New(store, h.graphs, zap.NewNop(), nil, Options{})

	_, err := eng.CurrentState(ctx, "broken")
	assert.Equal(t, model.ErrNoHistory, code(t, err))
}

func TestStop(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	act := h.newActivity(t)

	entry, err := h.eng.Stop(ctx, act.ID, "user:admin", "duplicate report")
	require.NoError(t, err)
	assert.Equal(t, h.open.ID, entry.StateID, "stopping keeps the current state")
	assert.Equal(t, "Stopped: duplicate report", entry.Note)

	act, err = h.eng.GetActivity(ctx, act.ID)
	require.NoError(t, err)
	assert.True(t, act.Completed())

	_, err = h.eng.Stop(ctx, act.ID, "user:admin", "again")
	assert.Equal(t, model.ErrActivityCompleted, code(t, err))
}

func TestHistory_orderedBySeq(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	act := h.newActivity(t)

	_, err := h.eng.Grant(ctx, act.ID, "user:dev", h.developer.ID)
	require.NoError(t, err)
	_, err = h.eng.Fire(ctx, FireInput{ActivityID: act.ID, TransitionID: h.fix.ID, PrincipalRef: "user:dev"})
	require.NoError(t, err)

	ledger, err := h.eng.History(ctx, act.ID)
	require.NoError(t, err)
	require.Len(t, ledger, 2)
	for i, entry := range ledger {
		assert.Equal(t, int64(i+1), entry.Seq)
	}
	assert.Equal(t, h.open.ID, ledger[0].StateID)
	assert.Equal(t, h.fixed.ID, ledger[1].StateID)
}

func TestFire_idempotencyKeyReplays(t *testing.T) {
	h := newHarness(t, Options{Idempotency: NewMemoryIdempotencyStore()})
	ctx := context.Background()
	act := h.newActivity(t)

	_, err := h.eng.Grant(ctx, act.ID, "user:dev", h.developer.ID)
	require.NoError(t, err)

	in := FireInput{
		ActivityID:     act.ID,
		TransitionID:   h.fix.ID,
		PrincipalRef:   "user:dev",
		IdempotencyKey: "req-1",
	}
	first, err := h.eng.Fire(ctx, in)
	require.NoError(t, err)

	// Same key and input replays the recorded entry instead of failing
	// on the now-completed activity.
	replay, err := h.eng.Fire(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, first.ID, replay.ID)

	ledger, err := h.eng.History(ctx, act.ID)
	require.NoError(t, err)
	assert.Len(t, ledger, 2, "the replay appends nothing")

	// Same key with different input is a conflict.
	in.Note = "different"
	_, err = h.eng.Fire(ctx, in)
	assert.Equal(t, model.ErrConflict, code(t, err))
}

func TestFire_stoppedActivityAtMatchingSource(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	act := h.newActivity(t)

	_, err := h.eng.Grant(ctx, act.ID, "user:dev", h.developer.ID)
	require.NoError(t, err)
	_, err = h.eng.Stop(ctx, act.ID, "user:admin", "duplicate report")
	require.NoError(t, err)

	// The stopped activity still sits in Open, so Fix matches the
	// current state; only then does completion refuse the fire.
	_, err = h.eng.Fire(ctx, FireInput{
		ActivityID:   act.ID,
		TransitionID: h.fix.ID,
		PrincipalRef: "user:dev",
	})
	assert.Equal(t, model.ErrActivityCompleted, code(t, err))
}

func TestFire_lockWaitBounded(t *testing.T) {
	h := newHarness(t, Options{LockWaitTimeout: 20 * time.Millisecond})
	ctx := context.Background()
	act := h.newActivity(t)

	_, err := h.eng.Grant(ctx, act.ID, "user:dev", h.developer.ID)
	require.NoError(t, err)

	unlock, err := h.eng.locks.lock(ctx, act.ID)
	require.NoError(t, err)

	// A second writer gives up with CONFLICT instead of blocking.
	_, err = h.eng.Fire(ctx, FireInput{
		ActivityID:   act.ID,
		TransitionID: h.fix.ID,
		PrincipalRef: "user:dev",
	})
	assert.Equal(t, model.ErrConflict, code(t, err))

	unlock()
	_, err = h.eng.Fire(ctx, FireInput{
		ActivityID:   act.ID,
		TransitionID: h.fix.ID,
		PrincipalRef: "user:dev",
	})
	require.NoError(t, err)
}

func TestFire_lockWaitHonorsContext(t *testing.T) {
	h := newHarness(t, Options{LockWaitTimeout: time.Minute})
	ctx := context.Background()
	act := h.newActivity(t)

	unlock, err := h.eng.locks.lock(ctx, act.ID)
	require.NoError(t, err)
	defer unlock()

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = h.eng.Fire(cancelled, FireInput{
		ActivityID:   act.ID,
		TransitionID: h.fix.ID,
		PrincipalRef: "user:dev",
	})
	assert.ErrorIs(t, err, context.Canceled)
}
