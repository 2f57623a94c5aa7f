package types

import (
	"encoding/json"
	"time"
)

// WorkflowStatus is the lifecycle state of a saga workflow.
type WorkflowStatus string

const (
	WorkflowStatusPending      WorkflowStatus = "pending"
	WorkflowStatusRunning      WorkflowStatus = "running"
	WorkflowStatusSuspended    WorkflowStatus = "suspended"
	WorkflowStatusCompensating WorkflowStatus = "compensating"
	WorkflowStatusCompleted    WorkflowStatus = "completed"
	WorkflowStatusCompensated  WorkflowStatus = "compensated"
	WorkflowStatusFailed       WorkflowStatus = "failed"
)

// IsTerminal reports whether the workflow can never advance again.
func (s WorkflowStatus) IsTerminal() bool {
	switch s {
	case WorkflowStatusCompleted, WorkflowStatusCompensated, WorkflowStatusFailed:
		return true
	}
	return false
}

// StepStatus is the lifecycle state of a single saga step.
type StepStatus string

const (
	StepStatusNotStarted         StepStatus = "not_started"
	StepStatusInProgress         StepStatus = "in_progress"
	StepStatusSucceeded          StepStatus = "succeeded"
	StepStatusFailed             StepStatus = "failed"
	StepStatusCompensated        StepStatus = "compensated"
	StepStatusCompensationFailed StepStatus = "compensation_failed"
)

// ActionKind enumerates the closed set of operations a step can reference.
type ActionKind string

const (
	// ActionKindReasoning runs the bounded reasoning loop over a prompt.
	ActionKindReasoning ActionKind = "reasoning"
	// ActionKindTool invokes a named tool directly, bypassing the model.
	ActionKindTool ActionKind = "tool"
	// ActionKindNoop does nothing and succeeds. Used as a placeholder
	// compensation for steps with no externally visible effects.
	ActionKindNoop ActionKind = "noop"
)

// ActionRef identifies a forward or compensating action of a saga step.
type ActionRef struct {
	Kind   ActionKind      `json:"kind"`
	Name   string          `json:"name"`
	Prompt string          `json:"prompt,omitempty"`
	Tool   string          `json:"tool,omitempty"`
	Args   json.RawMessage `json:"args,omitempty"`
}

// StepDescriptor is the immutable definition of one saga step.
// Compensation may be nil; such a step cannot be rolled back on its own,
// but steps before it still get compensated when a later step fails.
type StepDescriptor struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Action       ActionRef  `json:"action"`
	Compensation *ActionRef `json:"compensation,omitempty"`
	Retryable    bool       `json:"retryable"`
	MaxRetries   int        `json:"max_retries"`
}

// StepError is the serializable error record captured on step failure.
type StepError struct {
	Message   string `json:"message"`
	Category  string `json:"category"`
	Transient bool   `json:"transient"`
}

func (e *StepError) Error() string {
	return e.Message
}

// StepState is the mutable per-step execution record.
type StepState struct {
	Status       StepStatus      `json:"status"`
	AttemptCount int             `json:"attempt_count"`
	Output       json.RawMessage `json:"output,omitempty"`
	Truncated    bool            `json:"truncated,omitempty"`
	Error        *StepError      `json:"error,omitempty"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
}

// Workflow is a named saga instance. The step list is fixed at creation;
// re-running with different steps requires a new workflow ID.
type Workflow struct {
	WorkflowID       string           `json:"workflow_id"`
	Steps            []StepDescriptor `json:"steps"`
	Status           WorkflowStatus   `json:"status"`
	MaxThinkingSteps int              `json:"max_thinking_steps"`
	InitialMessage   string           `json:"initial_message,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// WorkflowSnapshot is the durable serialization of a workflow plus all of
// its step runtime state at a point in time. Versions are dense and
// monotonically increasing per workflow; the snapshot store rejects any
// write whose version is not exactly one greater than the last persisted
// version for that workflow.
type WorkflowSnapshot struct {
	WorkflowID    string      `json:"workflow_id"`
	Version       int64       `json:"version"`
	Workflow      Workflow    `json:"workflow"`
	StepStates    []StepState `json:"step_states"`
	CurrentStep   int         `json:"current_step"`
	SuspendReason string      `json:"suspend_reason,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
}

// SnapshotSummary is the listing row returned by the snapshot store.
type SnapshotSummary struct {
	WorkflowID string         `json:"workflow_id"`
	Version    int64          `json:"version"`
	Status     WorkflowStatus `json:"status"`
	Timestamp  time.Time      `json:"timestamp"`
}

// Role identifies the author of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is a single conversation turn exchanged with the model provider.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// SystemMessage builds a system-role message.
func SystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// UserMessage builds a user-role message.
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// AssistantMessage builds an assistant-role message.
func AssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// ToolResult is the observation produced by executing a tool call.
type ToolResult struct {
	ID      string `json:"id"`
	Content string `json:"content"`
	IsError bool   `json:"is_error"`
}

// WorkflowEvent captures one lifecycle transition of a workflow or step,
// published on the event bus and streamed to subscribers.
type WorkflowEvent struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	WorkflowID string         `json:"workflow_id"`
	StepIndex  *int           `json:"step_index,omitempty"`
	StepID     string         `json:"step_id,omitempty"`
	Status     WorkflowStatus `json:"status,omitempty"`
	Detail     string         `json:"detail,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// Workflow event types.
const (
	EventWorkflowCreated     = "workflow_created"
	EventWorkflowStarted     = "workflow_started"
	EventStepStarted         = "step_started"
	EventStepSucceeded       = "step_succeeded"
	EventStepFailed          = "step_failed"
	EventStepCompensated     = "step_compensated"
	EventCompensationStarted = "compensation_started"
	EventCompensationFailed  = "compensation_failed"
	EventWorkflowSuspended   = "workflow_suspended"
	EventWorkflowResumed     = "workflow_resumed"
	EventWorkflowCompleted   = "workflow_completed"
	EventWorkflowCompensated = "workflow_compensated"
	EventWorkflowFailed      = "workflow_failed"
)
