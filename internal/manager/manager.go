package manager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ravituringworks/generic-ai-agent-sub002/internal/config"
	"github.com/ravituringworks/generic-ai-agent-sub002/internal/events"
	"github.com/ravituringworks/generic-ai-agent-sub002/internal/logger"
	"github.com/ravituringworks/generic-ai-agent-sub002/internal/reasoning"
	"github.com/ravituringworks/generic-ai-agent-sub002/internal/saga"
	"github.com/ravituringworks/generic-ai-agent-sub002/internal/storage"
	"github.com/ravituringworks/generic-ai-agent-sub002/pkg/types"
)

var (
	// ErrWorkflowExists is returned when creating a workflow whose ID is
	// already persisted.
	ErrWorkflowExists = errors.New("workflow already exists")
	// ErrWorkflowRunning is returned when resuming a workflow that is
	// already executing in this process.
	ErrWorkflowRunning = errors.New("workflow is already running")
	// ErrSuspendResumeDisabled is returned when suspend or resume is
	// requested but disabled by configuration.
	ErrSuspendResumeDisabled = errors.New("suspend/resume is disabled")
	// ErrNotRunning is returned when suspending a workflow that is not
	// currently executing.
	ErrNotRunning = errors.New("workflow is not running")
)

// ValidationError rejects a malformed workflow definition.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid workflow: %s: %s", e.Field, e.Message)
}

// Manager owns all workflow executors in the process. Operations on one
// workflow are serialized by a per-workflow lock; operations on
// different workflows run concurrently.
type Manager struct {
	store  storage.SnapshotStore
	runner saga.ActionRunner
	loop   *reasoning.Loop
	bus    *events.Bus
	cfg    config.WorkflowConfig
	agent  config.AgentConfig

	mu        sync.Mutex
	locks     map[string]*sync.Mutex
	executors map[string]*saga.Executor
	running   map[string]bool

	wg sync.WaitGroup
}

// New builds a workflow manager. loop handles the direct process
// endpoint; runner handles saga step actions.
func New(store storage.SnapshotStore, runner saga.ActionRunner, loop *reasoning.Loop, bus *events.Bus, cfg config.WorkflowConfig, agent config.AgentConfig) *Manager {
	return &Manager{
		store:     store,
		runner:    runner,
		loop:      loop,
		bus:       bus,
		cfg:       cfg,
		agent:     agent,
		locks:     make(map[string]*sync.Mutex),
		executors: make(map[string]*saga.Executor),
		running:   make(map[string]bool),
	}
}

func (m *Manager) lockFor(workflowID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.locks[workflowID]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[workflowID] = lock
	}
	return lock
}

// validate rejects definitions the executor cannot run.
func validate(workflow *types.Workflow) error {
	if len(workflow.Steps) == 0 {
		return &ValidationError{Field: "steps", Message: "at least one step is required"}
	}

	seen := make(map[string]bool, len(workflow.Steps))
	for i, step := range workflow.Steps {
		if step.ID == "" {
			return &ValidationError{Field: fmt.Sprintf("steps[%d].id", i), Message: "step ID is required"}
		}
		if seen[step.ID] {
			return &ValidationError{Field: fmt.Sprintf("steps[%d].id", i), Message: fmt.Sprintf("duplicate step ID %q", step.ID)}
		}
		seen[step.ID] = true

		if err := validateAction(step.Action, fmt.Sprintf("steps[%d].action", i)); err != nil {
			return err
		}
		if step.Compensation != nil {
			if err := validateAction(*step.Compensation, fmt.Sprintf("steps[%d].compensation", i)); err != nil {
				return err
			}
		}
	}
	return nil
}

func validateAction(action types.ActionRef, field string) error {
	switch action.Kind {
	case types.ActionKindReasoning, types.ActionKindNoop:
	case types.ActionKindTool:
		if action.Tool == "" {
			return &ValidationError{Field: field + ".tool", Message: "tool name is required for tool actions"}
		}
	default:
		return &ValidationError{Field: field + ".kind", Message: fmt.Sprintf("unknown action kind %q", action.Kind)}
	}
	return nil
}

// Create validates and persists a new workflow, then starts executing it
// in the background. The returned workflow reflects the persisted
// pending state.
func (m *Manager) Create(ctx context.Context, workflow types.Workflow) (*types.Workflow, error) {
	if workflow.WorkflowID == "" {
		workflow.WorkflowID = uuid.New().String()
	}
	if err := validate(&workflow); err != nil {
		return nil, err
	}

	lock := m.lockFor(workflow.WorkflowID)
	lock.Lock()
	defer lock.Unlock()

	if _, err := m.store.Latest(ctx, workflow.WorkflowID); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrWorkflowExists, workflow.WorkflowID)
	} else {
		var notFound *storage.NotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	executor, err := saga.NewExecutor(ctx, m.store, m.runner, m.bus, workflow)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.executors[workflow.WorkflowID] = executor
	m.mu.Unlock()

	m.startRun(workflow.WorkflowID, executor)

	created := executor.Workflow()
	return &created, nil
}

// CreateFromMessage wraps a single free-form message in a one-step
// reasoning workflow. An empty workflowID gets a generated one.
func (m *Manager) CreateFromMessage(ctx context.Context, workflowID, message string, maxThinkingSteps int) (*types.Workflow, error) {
	if maxThinkingSteps <= 0 {
		maxThinkingSteps = m.agent.MaxThinkingSteps
	}
	workflow := types.Workflow{
		WorkflowID:       workflowID,
		InitialMessage:   message,
		MaxThinkingSteps: maxThinkingSteps,
		Steps: []types.StepDescriptor{
			{
				ID:   "respond",
				Name: "respond",
				Action: types.ActionRef{
					Kind:   types.ActionKindReasoning,
					Name:   "respond",
					Prompt: message,
				},
				Retryable:  true,
				MaxRetries: 2,
			},
		},
	}
	return m.Create(ctx, workflow)
}

// startRun launches the executor in the background, tracking it for
// drain and releasing the running flag when it stops.
func (m *Manager) startRun(workflowID string, executor *saga.Executor) {
	m.mu.Lock()
	m.running[workflowID] = true
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer func() {
			m.mu.Lock()
			m.running[workflowID] = false
			m.mu.Unlock()
		}()

		lock := m.lockFor(workflowID)
		lock.Lock()
		defer lock.Unlock()

		ctx := context.Background()
		if err := executor.Run(ctx); err != nil {
			logger.Logger.Error().
				Err(err).
				Str("workflow_id", workflowID).
				Msg("Workflow run aborted")
			return
		}

		if executor.Workflow().Status.IsTerminal() {
			m.afterTerminal(ctx, workflowID)
		}
	}()
}

// afterTerminal applies snapshot retention once a workflow finishes.
func (m *Manager) afterTerminal(ctx context.Context, workflowID string) {
	if m.cfg.MaxSnapshots > 0 {
		if err := m.store.Prune(ctx, workflowID, m.cfg.MaxSnapshots); err != nil {
			logger.Logger.Warn().
				Err(err).
				Str("workflow_id", workflowID).
				Msg("Snapshot pruning failed")
		}
	}
}

// ListAllSnapshots returns the snapshot summaries of every persisted
// workflow. An empty store yields an empty list.
func (m *Manager) ListAllSnapshots(ctx context.Context) ([]types.SnapshotSummary, error) {
	return m.store.ListAll(ctx)
}

// Get returns the latest persisted snapshot of a workflow.
func (m *Manager) Get(ctx context.Context, workflowID string) (*types.WorkflowSnapshot, error) {
	return m.store.Latest(ctx, workflowID)
}

// ListSnapshots returns the full snapshot history of a workflow.
func (m *Manager) ListSnapshots(ctx context.Context, workflowID string) ([]types.SnapshotSummary, error) {
	summaries, err := m.store.List(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if len(summaries) == 0 {
		return nil, &storage.NotFoundError{WorkflowID: workflowID}
	}
	return summaries, nil
}

// GetSnapshot returns one specific snapshot version of a workflow.
func (m *Manager) GetSnapshot(ctx context.Context, workflowID string, version int64) (*types.WorkflowSnapshot, error) {
	return m.store.Get(ctx, workflowID, version)
}

// Suspend asks a running workflow to stop at the next step boundary.
// The in-flight step finishes first; the request returns immediately.
func (m *Manager) Suspend(ctx context.Context, workflowID, reason string) error {
	if !m.cfg.EnableSuspendResume {
		return ErrSuspendResumeDisabled
	}

	m.mu.Lock()
	executor := m.executors[workflowID]
	running := m.running[workflowID]
	m.mu.Unlock()

	if executor == nil || !running {
		if _, err := m.store.Latest(ctx, workflowID); err != nil {
			return err
		}
		return ErrNotRunning
	}
	if executor.Workflow().Status.IsTerminal() {
		return ErrNotRunning
	}

	executor.RequestSuspend(reason)
	return nil
}

// Resume continues a suspended or recovered workflow from its latest
// snapshot. Resuming a terminal workflow is a no-op; resuming a
// workflow already running in this process is an error.
func (m *Manager) Resume(ctx context.Context, workflowID string) (*types.Workflow, error) {
	if !m.cfg.EnableSuspendResume {
		return nil, ErrSuspendResumeDisabled
	}

	// Fast-fail before taking the workflow lock: the run goroutine holds
	// it for the whole execution.
	m.mu.Lock()
	if m.running[workflowID] {
		m.mu.Unlock()
		return nil, ErrWorkflowRunning
	}
	m.mu.Unlock()

	lock := m.lockFor(workflowID)
	lock.Lock()
	defer lock.Unlock()

	m.mu.Lock()
	if m.running[workflowID] {
		m.mu.Unlock()
		return nil, ErrWorkflowRunning
	}
	m.mu.Unlock()

	snapshot, err := m.store.Latest(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if snapshot.Workflow.Status.IsTerminal() {
		workflow := snapshot.Workflow
		return &workflow, nil
	}

	executor := saga.Restore(m.store, m.runner, m.bus, snapshot)
	m.mu.Lock()
	m.executors[workflowID] = executor
	m.mu.Unlock()

	m.startRun(workflowID, executor)

	workflow := executor.Workflow()
	return &workflow, nil
}

// Process runs the reasoning loop directly for a one-shot request,
// outside any workflow. Suspension does not apply here.
func (m *Manager) Process(ctx context.Context, message string) (*reasoning.Result, error) {
	return m.loop.Run(ctx, message, reasoning.Options{
		SystemPrompt:     m.agent.SystemPrompt,
		MaxThinkingSteps: m.agent.MaxThinkingSteps,
		UseTools:         m.agent.UseTools,
		UseMemory:        m.agent.UseMemory,
	})
}

// Recover scans the store at startup and resumes every workflow left in
// a non-terminal state. With suspend/resume disabled, found workflows
// are logged and left as they are.
func (m *Manager) Recover(ctx context.Context) error {
	ids, err := m.store.ListWorkflows(ctx)
	if err != nil {
		return err
	}

	for _, id := range ids {
		snapshot, err := m.store.Latest(ctx, id)
		if err != nil {
			logger.Logger.Warn().Err(err).Str("workflow_id", id).Msg("Skipping unreadable workflow during recovery")
			continue
		}
		if snapshot.Workflow.Status.IsTerminal() {
			continue
		}

		if !m.cfg.EnableSuspendResume {
			logger.Logger.Warn().
				Str("workflow_id", id).
				Str("status", string(snapshot.Workflow.Status)).
				Msg("Non-terminal workflow found with suspend/resume disabled, leaving as-is")
			continue
		}

		logger.Logger.Info().
			Str("workflow_id", id).
			Str("status", string(snapshot.Workflow.Status)).
			Msg("Recovering workflow")
		executor := saga.Restore(m.store, m.runner, m.bus, snapshot)
		m.mu.Lock()
		m.executors[id] = executor
		m.mu.Unlock()
		m.startRun(id, executor)
	}
	return nil
}

// StartRetentionLoop prunes old snapshots on a fixed interval until ctx
// is cancelled.
func (m *Manager) StartRetentionLoop(ctx context.Context) {
	if m.cfg.SnapshotRetentionDays <= 0 {
		return
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				cutoff := time.Now().AddDate(0, 0, -m.cfg.SnapshotRetentionDays)
				if err := m.store.PruneOlderThan(ctx, cutoff); err != nil {
					logger.Logger.Warn().Err(err).Msg("Snapshot retention sweep failed")
				}
			}
		}
	}()
}

// Drain blocks until all background workflow runs finish or the timeout
// elapses. It returns false on timeout.
func (m *Manager) Drain(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}
