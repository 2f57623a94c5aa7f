package saga

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ravituringworks/generic-ai-agent-sub002/internal/events"
	"github.com/ravituringworks/generic-ai-agent-sub002/internal/logger"
	"github.com/ravituringworks/generic-ai-agent-sub002/internal/metrics"
	"github.com/ravituringworks/generic-ai-agent-sub002/internal/storage"
	"github.com/ravituringworks/generic-ai-agent-sub002/pkg/types"
)

// ActionRunner executes a step's forward or compensating action.
type ActionRunner interface {
	RunAction(ctx context.Context, workflow *types.Workflow, action types.ActionRef) (*ActionResult, error)
}

// ActionResult is the successful outcome of running an action.
type ActionResult struct {
	Output    []byte
	Truncated bool
}

// execState is the complete mutable execution state of one workflow. The
// executor never mutates its live state directly; every transition is
// applied to a copy, persisted, and only then swapped in. A failed
// snapshot write therefore leaves the in-memory state exactly where the
// last successful write left it.
type execState struct {
	workflow      types.Workflow
	steps         []types.StepState
	current       int
	suspendReason string
}

func (s *execState) clone() *execState {
	out := &execState{
		workflow:      s.workflow,
		current:       s.current,
		suspendReason: s.suspendReason,
	}
	out.steps = make([]types.StepState, len(s.steps))
	copy(out.steps, s.steps)
	return out
}

// Executor drives one workflow through the saga protocol: forward step
// execution with persist-before-proceed snapshots, and reverse-order
// compensation on failure.
type Executor struct {
	store  storage.SnapshotStore
	runner ActionRunner
	bus    *events.Bus

	mu      sync.Mutex
	state   *execState
	version int64

	suspendMu      sync.Mutex
	suspendPending bool
	suspendReason  string
}

// NewExecutor creates an executor for a fresh workflow and persists the
// initial pending snapshot as version 1.
func NewExecutor(ctx context.Context, store storage.SnapshotStore, runner ActionRunner, bus *events.Bus, workflow types.Workflow) (*Executor, error) {
	workflow.Status = types.WorkflowStatusPending
	now := time.Now()
	workflow.CreatedAt = now
	workflow.UpdatedAt = now

	e := &Executor{
		store:  store,
		runner: runner,
		bus:    bus,
		state: &execState{
			workflow: workflow,
			steps:    make([]types.StepState, len(workflow.Steps)),
		},
	}
	for i := range e.state.steps {
		e.state.steps[i].Status = types.StepStatusNotStarted
	}

	if err := e.commit(ctx, func(s *execState) {}); err != nil {
		return nil, err
	}
	e.publish(types.EventWorkflowCreated, nil, "")
	return e, nil
}

// Restore rebuilds an executor from a persisted snapshot. Versioning
// continues from the snapshot's version.
func Restore(store storage.SnapshotStore, runner ActionRunner, bus *events.Bus, snapshot *types.WorkflowSnapshot) *Executor {
	steps := make([]types.StepState, len(snapshot.StepStates))
	copy(steps, snapshot.StepStates)
	return &Executor{
		store:  store,
		runner: runner,
		bus:    bus,
		state: &execState{
			workflow:      snapshot.Workflow,
			steps:         steps,
			current:       snapshot.CurrentStep,
			suspendReason: snapshot.SuspendReason,
		},
		version: snapshot.Version,
	}
}

// Workflow returns a copy of the current workflow record.
func (e *Executor) Workflow() types.Workflow {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.workflow
}

// Snapshot returns the current state serialized as a snapshot at the
// last persisted version.
func (e *Executor) Snapshot() *types.WorkflowSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked(e.state, e.version)
}

func (e *Executor) snapshotLocked(s *execState, version int64) *types.WorkflowSnapshot {
	steps := make([]types.StepState, len(s.steps))
	copy(steps, s.steps)
	return &types.WorkflowSnapshot{
		WorkflowID:    s.workflow.WorkflowID,
		Version:       version,
		Workflow:      s.workflow,
		StepStates:    steps,
		CurrentStep:   s.current,
		SuspendReason: s.suspendReason,
		CreatedAt:     time.Now(),
	}
}

// commit applies mutate to a copy of the state, persists the copy as the
// next snapshot version, and swaps it in. On persistence failure the
// live state is untouched and the error is returned as-is.
func (e *Executor) commit(ctx context.Context, mutate func(s *execState)) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	next := e.state.clone()
	mutate(next)
	next.workflow.UpdatedAt = time.Now()

	snapshot := e.snapshotLocked(next, e.version+1)
	if err := e.store.Put(ctx, snapshot); err != nil {
		metrics.SnapshotsPersisted.WithLabelValues("error").Inc()
		logger.Logger.Error().
			Err(err).
			Str("workflow_id", e.state.workflow.WorkflowID).
			Int64("version", e.version+1).
			Msg("Snapshot write failed, state not advanced")
		return err
	}
	metrics.SnapshotsPersisted.WithLabelValues("ok").Inc()

	e.state = next
	e.version++
	return nil
}

// RequestSuspend asks the executor to stop at the next step boundary.
// It returns immediately; the running step is never interrupted.
func (e *Executor) RequestSuspend(reason string) {
	e.suspendMu.Lock()
	defer e.suspendMu.Unlock()
	e.suspendPending = true
	e.suspendReason = reason
}

func (e *Executor) takeSuspendRequest() (string, bool) {
	e.suspendMu.Lock()
	defer e.suspendMu.Unlock()
	if !e.suspendPending {
		return "", false
	}
	e.suspendPending = false
	return e.suspendReason, true
}

// Run executes the workflow to a terminal or suspended status. It is
// also the resume entry point: a restored executor picks up from
// whatever state the snapshot captured. Calling Run on a workflow in a
// terminal status is a no-op.
func (e *Executor) Run(ctx context.Context) error {
	status := e.Workflow().Status
	if status.IsTerminal() {
		return nil
	}

	// A persisted in-progress step means the process died mid-step. The
	// side effects of that step are unknown, so it is treated as failed
	// and the workflow rolls back rather than re-running it.
	if interrupted := e.interruptedStep(); interrupted >= 0 {
		logger.Logger.Warn().
			Str("workflow_id", e.Workflow().WorkflowID).
			Int("step", interrupted).
			Msg("Found interrupted step on resume, compensating")
		if err := e.commit(ctx, func(s *execState) {
			now := time.Now()
			s.steps[interrupted].Status = types.StepStatusFailed
			s.steps[interrupted].CompletedAt = &now
			s.steps[interrupted].Error = &types.StepError{
				Message:  "step interrupted before completion, outcome unknown",
				Category: "interrupted",
			}
			s.workflow.Status = types.WorkflowStatusCompensating
		}); err != nil {
			return err
		}
		e.publish(types.EventStepFailed, &interrupted, "interrupted")
		return e.compensate(ctx)
	}

	if status == types.WorkflowStatusCompensating {
		return e.compensate(ctx)
	}

	if status == types.WorkflowStatusPending || status == types.WorkflowStatusSuspended {
		if err := e.commit(ctx, func(s *execState) {
			s.workflow.Status = types.WorkflowStatusRunning
			s.suspendReason = ""
		}); err != nil {
			return err
		}
		if status == types.WorkflowStatusPending {
			metrics.WorkflowsStarted.Inc()
			e.publish(types.EventWorkflowStarted, nil, "")
		} else {
			e.publish(types.EventWorkflowResumed, nil, "")
		}
	}

	return e.runForward(ctx)
}

func (e *Executor) interruptedStep() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, step := range e.state.steps {
		if step.Status == types.StepStatusInProgress {
			return i
		}
	}
	return -1
}

func (e *Executor) runForward(ctx context.Context) error {
	for {
		if reason, ok := e.takeSuspendRequest(); ok {
			if err := e.commit(ctx, func(s *execState) {
				s.workflow.Status = types.WorkflowStatusSuspended
				s.suspendReason = reason
			}); err != nil {
				return err
			}
			e.publish(types.EventWorkflowSuspended, nil, reason)
			return nil
		}

		e.mu.Lock()
		current := e.state.current
		total := len(e.state.workflow.Steps)
		e.mu.Unlock()

		if current >= total {
			if err := e.commit(ctx, func(s *execState) {
				s.workflow.Status = types.WorkflowStatusCompleted
			}); err != nil {
				return err
			}
			metrics.WorkflowsFinished.WithLabelValues(string(types.WorkflowStatusCompleted)).Inc()
			e.publish(types.EventWorkflowCompleted, nil, "")
			return nil
		}

		failed, err := e.executeStep(ctx, current)
		if err != nil {
			return err
		}
		if failed {
			if err := e.commit(ctx, func(s *execState) {
				s.workflow.Status = types.WorkflowStatusCompensating
			}); err != nil {
				return err
			}
			return e.compensate(ctx)
		}
	}
}

// executeStep runs one forward action. It returns failed=true when the
// step failed and the workflow must compensate, and a non-nil error only
// for persistence failures, which abort execution without advancing.
func (e *Executor) executeStep(ctx context.Context, index int) (failed bool, err error) {
	e.mu.Lock()
	descriptor := e.state.workflow.Steps[index]
	workflow := e.state.workflow
	e.mu.Unlock()

	if err := e.commit(ctx, func(s *execState) {
		now := time.Now()
		s.steps[index].Status = types.StepStatusInProgress
		s.steps[index].StartedAt = &now
	}); err != nil {
		return false, err
	}
	e.publish(types.EventStepStarted, &index, descriptor.Name)

	started := time.Now()
	result, attempts, stepErr := e.runWithRetry(ctx, &workflow, descriptor)
	metrics.StepDuration.Observe(time.Since(started).Seconds())

	if stepErr != nil {
		metrics.StepsExecuted.WithLabelValues(string(types.StepStatusFailed)).Inc()
		logger.Logger.Error().
			Str("workflow_id", workflow.WorkflowID).
			Str("step", descriptor.Name).
			Int("attempts", attempts).
			Str("error", stepErr.Message).
			Msg("Step failed")
		if err := e.commit(ctx, func(s *execState) {
			now := time.Now()
			s.steps[index].Status = types.StepStatusFailed
			s.steps[index].AttemptCount = attempts
			s.steps[index].Error = stepErr
			s.steps[index].CompletedAt = &now
		}); err != nil {
			return false, err
		}
		e.publish(types.EventStepFailed, &index, stepErr.Message)
		return true, nil
	}

	metrics.StepsExecuted.WithLabelValues(string(types.StepStatusSucceeded)).Inc()
	if err := e.commit(ctx, func(s *execState) {
		now := time.Now()
		s.steps[index].Status = types.StepStatusSucceeded
		s.steps[index].AttemptCount = attempts
		s.steps[index].Output = result.Output
		s.steps[index].Truncated = result.Truncated
		s.steps[index].CompletedAt = &now
		s.current = index + 1
	}); err != nil {
		return false, err
	}
	e.publish(types.EventStepSucceeded, &index, descriptor.Name)
	return false, nil
}

// runWithRetry executes the forward action, re-running it on transient
// failures when the step allows retries.
func (e *Executor) runWithRetry(ctx context.Context, workflow *types.Workflow, descriptor types.StepDescriptor) (*ActionResult, int, *types.StepError) {
	maxAttempts := 1
	if descriptor.Retryable && descriptor.MaxRetries > 0 {
		maxAttempts = 1 + descriptor.MaxRetries
	}

	var lastErr *types.StepError
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result, err := e.runner.RunAction(ctx, workflow, descriptor.Action)
		if err == nil {
			return result, attempt, nil
		}

		lastErr = classify(err)
		if !lastErr.Transient || attempt == maxAttempts {
			return nil, attempt, lastErr
		}

		delay := 100 * time.Millisecond << (attempt - 1)
		logger.Logger.Warn().
			Str("step", descriptor.Name).
			Int("attempt", attempt).
			Dur("backoff", delay).
			Msg("Transient step failure, retrying")
		select {
		case <-ctx.Done():
			return nil, attempt, &types.StepError{
				Message:  fmt.Sprintf("cancelled during retry: %v", ctx.Err()),
				Category: "cancelled",
			}
		case <-time.After(delay):
		}
	}
	return nil, maxAttempts, lastErr
}

// compensate rolls back succeeded steps in strict reverse order. A
// compensation failure halts the rollback immediately and the workflow
// finishes failed; a complete rollback finishes compensated. Steps
// without a compensation action are skipped and keep their succeeded
// status.
func (e *Executor) compensate(ctx context.Context) error {
	e.mu.Lock()
	workflow := e.state.workflow
	total := len(e.state.steps)
	e.mu.Unlock()

	for index := total - 1; index >= 0; index-- {
		e.mu.Lock()
		status := e.state.steps[index].Status
		descriptor := e.state.workflow.Steps[index]
		e.mu.Unlock()

		if status != types.StepStatusSucceeded || descriptor.Compensation == nil {
			continue
		}

		e.publish(types.EventCompensationStarted, &index, descriptor.Name)
		_, err := e.runner.RunAction(ctx, &workflow, *descriptor.Compensation)
		if err != nil {
			stepErr := classify(err)
			metrics.CompensationsRun.WithLabelValues(string(types.StepStatusCompensationFailed)).Inc()
			logger.Logger.Error().
				Str("workflow_id", workflow.WorkflowID).
				Str("step", descriptor.Name).
				Str("error", stepErr.Message).
				Msg("Compensation failed, halting rollback")
			if err := e.commit(ctx, func(s *execState) {
				s.steps[index].Status = types.StepStatusCompensationFailed
				s.steps[index].Error = stepErr
				s.workflow.Status = types.WorkflowStatusFailed
			}); err != nil {
				return err
			}
			metrics.WorkflowsFinished.WithLabelValues(string(types.WorkflowStatusFailed)).Inc()
			e.publish(types.EventCompensationFailed, &index, stepErr.Message)
			e.publish(types.EventWorkflowFailed, nil, "compensation failed")
			return nil
		}

		metrics.CompensationsRun.WithLabelValues(string(types.StepStatusCompensated)).Inc()
		if err := e.commit(ctx, func(s *execState) {
			s.steps[index].Status = types.StepStatusCompensated
		}); err != nil {
			return err
		}
		e.publish(types.EventStepCompensated, &index, descriptor.Name)
	}

	if err := e.commit(ctx, func(s *execState) {
		s.workflow.Status = types.WorkflowStatusCompensated
	}); err != nil {
		return err
	}
	metrics.WorkflowsFinished.WithLabelValues(string(types.WorkflowStatusCompensated)).Inc()
	e.publish(types.EventWorkflowCompensated, nil, "")
	return nil
}

func (e *Executor) publish(eventType string, stepIndex *int, detail string) {
	if e.bus == nil {
		return
	}
	e.mu.Lock()
	workflowID := e.state.workflow.WorkflowID
	status := e.state.workflow.Status
	var stepID string
	if stepIndex != nil && *stepIndex < len(e.state.workflow.Steps) {
		stepID = e.state.workflow.Steps[*stepIndex].ID
	}
	e.mu.Unlock()

	e.bus.Publish(types.WorkflowEvent{
		ID:         uuid.New().String(),
		Type:       eventType,
		WorkflowID: workflowID,
		StepIndex:  stepIndex,
		StepID:     stepID,
		Status:     status,
		Detail:     detail,
		Timestamp:  time.Now(),
	})
}
