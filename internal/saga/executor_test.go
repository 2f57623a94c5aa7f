package saga

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ravituringworks/generic-ai-agent-sub002/internal/events"
	"github.com/ravituringworks/generic-ai-agent-sub002/internal/llm"
	"github.com/ravituringworks/generic-ai-agent-sub002/internal/reasoning"
	"github.com/ravituringworks/generic-ai-agent-sub002/internal/storage"
	"github.com/ravituringworks/generic-ai-agent-sub002/pkg/types"
)

type scriptedOutcome struct {
	result *ActionResult
	err    error
}

// scriptedRunner pops pre-programmed outcomes per action name. Actions
// with no script succeed with a default output.
type scriptedRunner struct {
	mu       sync.Mutex
	calls    []string
	outcomes map[string][]scriptedOutcome
}

func newScriptedRunner() *scriptedRunner {
	return &scriptedRunner{outcomes: make(map[string][]scriptedOutcome)}
}

func (r *scriptedRunner) script(name string, result *ActionResult, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes[name] = append(r.outcomes[name], scriptedOutcome{result: result, err: err})
}

func (r *scriptedRunner) RunAction(_ context.Context, _ *types.Workflow, action types.ActionRef) (*ActionResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, action.Name)

	queue := r.outcomes[action.Name]
	if len(queue) == 0 {
		return &ActionResult{Output: []byte(fmt.Sprintf("%q", action.Name))}, nil
	}
	next := queue[0]
	r.outcomes[action.Name] = queue[1:]
	return next.result, next.err
}

func (r *scriptedRunner) callNames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.calls))
	copy(out, r.calls)
	return out
}

func step(id string, withCompensation bool) types.StepDescriptor {
	s := types.StepDescriptor{
		ID:   id,
		Name: id,
		Action: types.ActionRef{
			Kind: types.ActionKindReasoning,
			Name: id,
		},
	}
	if withCompensation {
		s.Compensation = &types.ActionRef{
			Kind: types.ActionKindReasoning,
			Name: "undo_" + id,
		}
	}
	return s
}

func testWorkflow(id string, steps ...types.StepDescriptor) types.Workflow {
	return types.Workflow{
		WorkflowID:       id,
		Steps:            steps,
		MaxThinkingSteps: 5,
	}
}

func unrecoverable(msg string) error {
	return &reasoning.UnrecoverableError{Reason: msg}
}

func TestRunCompletesAllSteps(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	runner := newScriptedRunner()

	exec, err := NewExecutor(ctx, store, runner, nil, testWorkflow("wf-1", step("a", true), step("b", true)))
	require.NoError(t, err)
	require.NoError(t, exec.Run(ctx))

	wf := exec.Workflow()
	require.Equal(t, types.WorkflowStatusCompleted, wf.Status)
	require.Equal(t, []string{"a", "b"}, runner.callNames())

	snapshot := exec.Snapshot()
	for _, st := range snapshot.StepStates {
		require.Equal(t, types.StepStatusSucceeded, st.Status)
		require.Equal(t, 1, st.AttemptCount)
		require.NotNil(t, st.StartedAt)
		require.NotNil(t, st.CompletedAt)
	}
	require.Equal(t, 2, snapshot.CurrentStep)
}

func TestSnapshotVersionsAreDense(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	runner := newScriptedRunner()

	exec, err := NewExecutor(ctx, store, runner, nil, testWorkflow("wf-versions", step("a", false)))
	require.NoError(t, err)
	require.NoError(t, exec.Run(ctx))

	summaries, err := store.List(ctx, "wf-versions")
	require.NoError(t, err)
	require.NotEmpty(t, summaries)
	for i, summary := range summaries {
		require.Equal(t, int64(i+1), summary.Version)
	}
	require.Equal(t, types.WorkflowStatusCompleted, summaries[len(summaries)-1].Status)
}

func TestFailureCompensatesInReverseOrder(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	runner := newScriptedRunner()
	runner.script("c", nil, unrecoverable("boom"))

	exec, err := NewExecutor(ctx, store, runner, nil,
		testWorkflow("wf-comp", step("a", true), step("b", true), step("c", true)))
	require.NoError(t, err)
	require.NoError(t, exec.Run(ctx))

	wf := exec.Workflow()
	require.Equal(t, types.WorkflowStatusCompensated, wf.Status)

	// Forward order then strict reverse compensation, c never ran
	// successfully so it has nothing to undo.
	require.Equal(t, []string{"a", "b", "c", "undo_b", "undo_a"}, runner.callNames())

	snapshot := exec.Snapshot()
	require.Equal(t, types.StepStatusCompensated, snapshot.StepStates[0].Status)
	require.Equal(t, types.StepStatusCompensated, snapshot.StepStates[1].Status)
	require.Equal(t, types.StepStatusFailed, snapshot.StepStates[2].Status)
	require.NotNil(t, snapshot.StepStates[2].Error)
}

func TestMiddleStepFailureLeavesLaterStepsUntouched(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	runner := newScriptedRunner()
	runner.script("b", nil, unrecoverable("boom"))

	exec, err := NewExecutor(ctx, store, runner, nil,
		testWorkflow("wf-middle", step("a", true), step("b", true), step("c", true)))
	require.NoError(t, err)
	require.NoError(t, exec.Run(ctx))

	wf := exec.Workflow()
	require.Equal(t, types.WorkflowStatusCompensated, wf.Status)

	// c never executes forward and never compensates.
	require.Equal(t, []string{"a", "b", "undo_a"}, runner.callNames())

	snapshot := exec.Snapshot()
	require.Equal(t, types.StepStatusCompensated, snapshot.StepStates[0].Status)
	require.Equal(t, types.StepStatusFailed, snapshot.StepStates[1].Status)
	require.Equal(t, types.StepStatusNotStarted, snapshot.StepStates[2].Status)
	require.Nil(t, snapshot.StepStates[2].StartedAt)
}

func TestCompensationFailureHaltsRollback(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	runner := newScriptedRunner()
	runner.script("c", nil, unrecoverable("boom"))
	runner.script("undo_b", nil, unrecoverable("undo failed"))

	exec, err := NewExecutor(ctx, store, runner, nil,
		testWorkflow("wf-halt", step("a", true), step("b", true), step("c", true)))
	require.NoError(t, err)
	require.NoError(t, exec.Run(ctx))

	wf := exec.Workflow()
	require.Equal(t, types.WorkflowStatusFailed, wf.Status)

	// undo_a must never run once undo_b fails.
	require.Equal(t, []string{"a", "b", "c", "undo_b"}, runner.callNames())

	snapshot := exec.Snapshot()
	require.Equal(t, types.StepStatusSucceeded, snapshot.StepStates[0].Status)
	require.Equal(t, types.StepStatusCompensationFailed, snapshot.StepStates[1].Status)
	require.Equal(t, types.StepStatusFailed, snapshot.StepStates[2].Status)
}

func TestStepsWithoutCompensationAreSkipped(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	runner := newScriptedRunner()
	runner.script("c", nil, unrecoverable("boom"))

	exec, err := NewExecutor(ctx, store, runner, nil,
		testWorkflow("wf-skip", step("a", true), step("b", false), step("c", true)))
	require.NoError(t, err)
	require.NoError(t, exec.Run(ctx))

	require.Equal(t, types.WorkflowStatusCompensated, exec.Workflow().Status)
	require.Equal(t, []string{"a", "b", "c", "undo_a"}, runner.callNames())

	snapshot := exec.Snapshot()
	require.Equal(t, types.StepStatusCompensated, snapshot.StepStates[0].Status)
	// No compensation defined, so the step keeps its succeeded status.
	require.Equal(t, types.StepStatusSucceeded, snapshot.StepStates[1].Status)
}

func TestTransientFailureIsRetried(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	runner := newScriptedRunner()
	runner.script("a", nil, &llm.ProviderError{Provider: "ollama", Operation: "/api/chat", Message: "503", Transient: true})
	runner.script("a", &ActionResult{Output: []byte(`"ok"`)}, nil)

	retryable := step("a", false)
	retryable.Retryable = true
	retryable.MaxRetries = 2

	exec, err := NewExecutor(ctx, store, runner, nil, testWorkflow("wf-retry", retryable))
	require.NoError(t, err)
	require.NoError(t, exec.Run(ctx))

	require.Equal(t, types.WorkflowStatusCompleted, exec.Workflow().Status)
	snapshot := exec.Snapshot()
	require.Equal(t, types.StepStatusSucceeded, snapshot.StepStates[0].Status)
	require.Equal(t, 2, snapshot.StepStates[0].AttemptCount)
}

func TestPermanentFailureIsNotRetried(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	runner := newScriptedRunner()
	runner.script("a", nil, unrecoverable("bad prompt"))

	retryable := step("a", false)
	retryable.Retryable = true
	retryable.MaxRetries = 3

	exec, err := NewExecutor(ctx, store, runner, nil, testWorkflow("wf-perm", retryable))
	require.NoError(t, err)
	require.NoError(t, exec.Run(ctx))

	require.Equal(t, types.WorkflowStatusCompensated, exec.Workflow().Status)
	snapshot := exec.Snapshot()
	require.Equal(t, types.StepStatusFailed, snapshot.StepStates[0].Status)
	require.Equal(t, 1, snapshot.StepStates[0].AttemptCount)
}

func TestTruncatedReasoningStillSucceeds(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	runner := newScriptedRunner()
	runner.script("a", &ActionResult{Output: []byte(`"partial"`), Truncated: true}, nil)

	exec, err := NewExecutor(ctx, store, runner, nil, testWorkflow("wf-trunc", step("a", false)))
	require.NoError(t, err)
	require.NoError(t, exec.Run(ctx))

	require.Equal(t, types.WorkflowStatusCompleted, exec.Workflow().Status)
	snapshot := exec.Snapshot()
	require.Equal(t, types.StepStatusSucceeded, snapshot.StepStates[0].Status)
	require.True(t, snapshot.StepStates[0].Truncated)
}

// flakyStore fails every Put at or above a trigger version.
type flakyStore struct {
	storage.SnapshotStore
	failFrom int64
}

func (f *flakyStore) Put(ctx context.Context, snapshot *types.WorkflowSnapshot) error {
	if snapshot.Version >= f.failFrom {
		return &storage.StorageError{Op: "put", Cause: errors.New("disk full")}
	}
	return f.SnapshotStore.Put(ctx, snapshot)
}

func TestPersistFailureDoesNotAdvanceState(t *testing.T) {
	ctx := context.Background()
	inner := storage.NewMemoryStore()
	runner := newScriptedRunner()

	exec, err := NewExecutor(ctx, inner, runner, nil, testWorkflow("wf-persist", step("a", false), step("b", false)))
	require.NoError(t, err)

	// Versions so far: 1 (pending). Run writes 2 (running), 3 (a in
	// progress), 4 (a succeeded). Fail from version 4 on.
	exec.store = &flakyStore{SnapshotStore: inner, failFrom: 4}

	err = exec.Run(ctx)
	require.Error(t, err)
	var storageErr *storage.StorageError
	require.ErrorAs(t, err, &storageErr)

	// In-memory state must match the last persisted snapshot: step a
	// still in progress, current step pointer not advanced.
	snapshot := exec.Snapshot()
	require.Equal(t, int64(3), snapshot.Version)
	require.Equal(t, types.StepStatusInProgress, snapshot.StepStates[0].Status)
	require.Equal(t, 0, snapshot.CurrentStep)

	persisted, err := inner.Latest(ctx, "wf-persist")
	require.NoError(t, err)
	require.Equal(t, int64(3), persisted.Version)
}

func TestSuspendAtStepBoundaryAndResume(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	runner := newScriptedRunner()

	exec, err := NewExecutor(ctx, store, runner, nil, testWorkflow("wf-susp", step("a", false), step("b", false)))
	require.NoError(t, err)

	// Request suspension before running: the executor honors it at the
	// first boundary, before any step executes.
	exec.RequestSuspend("operator pause")
	require.NoError(t, exec.Run(ctx))

	require.Equal(t, types.WorkflowStatusSuspended, exec.Workflow().Status)
	require.Empty(t, runner.callNames())

	snapshot, err := store.Latest(ctx, "wf-susp")
	require.NoError(t, err)
	require.Equal(t, "operator pause", snapshot.SuspendReason)

	// Resume from the persisted snapshot and run to completion.
	resumed := Restore(store, runner, nil, snapshot)
	require.NoError(t, resumed.Run(ctx))
	require.Equal(t, types.WorkflowStatusCompleted, resumed.Workflow().Status)
	require.Equal(t, []string{"a", "b"}, runner.callNames())
}

func TestRunOnTerminalWorkflowIsNoop(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	runner := newScriptedRunner()

	exec, err := NewExecutor(ctx, store, runner, nil, testWorkflow("wf-noop", step("a", false)))
	require.NoError(t, err)
	require.NoError(t, exec.Run(ctx))
	require.Equal(t, types.WorkflowStatusCompleted, exec.Workflow().Status)

	before := exec.Snapshot().Version
	require.NoError(t, exec.Run(ctx))
	require.Equal(t, before, exec.Snapshot().Version)
	require.Equal(t, []string{"a"}, runner.callNames())
}

func TestInterruptedStepCompensatesOnResume(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	runner := newScriptedRunner()

	// Simulate a crash: persist snapshots by hand up to step b being in
	// progress with step a succeeded.
	workflow := testWorkflow("wf-crash", step("a", true), step("b", true))
	workflow.Status = types.WorkflowStatusRunning
	now := time.Now()
	snapshot := &types.WorkflowSnapshot{
		WorkflowID: "wf-crash",
		Version:    1,
		Workflow:   workflow,
		StepStates: []types.StepState{
			{Status: types.StepStatusSucceeded, AttemptCount: 1, StartedAt: &now, CompletedAt: &now},
			{Status: types.StepStatusInProgress, AttemptCount: 1, StartedAt: &now},
		},
		CurrentStep: 1,
		CreatedAt:   now,
	}
	require.NoError(t, store.Put(ctx, snapshot))

	exec := Restore(store, runner, nil, snapshot)
	require.NoError(t, exec.Run(ctx))

	// The interrupted step must not be re-run; its unknown side effects
	// force a rollback instead.
	require.Equal(t, types.WorkflowStatusCompensated, exec.Workflow().Status)
	require.Equal(t, []string{"undo_a"}, runner.callNames())

	final := exec.Snapshot()
	require.Equal(t, types.StepStatusCompensated, final.StepStates[0].Status)
	require.Equal(t, types.StepStatusFailed, final.StepStates[1].Status)
	require.Equal(t, "interrupted", final.StepStates[1].Error.Category)
}

func TestEventsArePublished(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	runner := newScriptedRunner()
	bus := events.NewBus()
	defer bus.Close()

	ch, cancel := bus.Subscribe("*")
	defer cancel()

	exec, err := NewExecutor(ctx, store, runner, bus, testWorkflow("wf-events", step("a", false)))
	require.NoError(t, err)
	require.NoError(t, exec.Run(ctx))

	seen := map[string]bool{}
	timeout := time.After(time.Second)
	for len(seen) < 5 {
		select {
		case event := <-ch:
			seen[event.Type] = true
		case <-timeout:
			t.Fatalf("timed out waiting for events, saw %v", seen)
		}
	}
	require.True(t, seen[types.EventWorkflowCreated])
	require.True(t, seen[types.EventWorkflowStarted])
	require.True(t, seen[types.EventStepStarted])
	require.True(t, seen[types.EventStepSucceeded])
	require.True(t, seen[types.EventWorkflowCompleted])
}
