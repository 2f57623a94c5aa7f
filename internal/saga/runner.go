package saga

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/ravituringworks/generic-ai-agent-sub002/internal/config"
	"github.com/ravituringworks/generic-ai-agent-sub002/internal/llm"
	"github.com/ravituringworks/generic-ai-agent-sub002/internal/metrics"
	"github.com/ravituringworks/generic-ai-agent-sub002/internal/reasoning"
	"github.com/ravituringworks/generic-ai-agent-sub002/internal/tools"
	"github.com/ravituringworks/generic-ai-agent-sub002/pkg/types"
)

// Runner executes step actions against the reasoning loop and the tool
// registry.
type Runner struct {
	loop     *reasoning.Loop
	registry *tools.Registry
	agent    config.AgentConfig
}

// NewRunner builds an action runner.
func NewRunner(loop *reasoning.Loop, registry *tools.Registry, agent config.AgentConfig) *Runner {
	return &Runner{loop: loop, registry: registry, agent: agent}
}

// RunAction dispatches on the action kind. Reasoning actions run through
// the bounded loop; a truncated run still counts as success with the
// partial output. Tool actions invoke the registry directly. Noop
// actions succeed with no output.
func (r *Runner) RunAction(ctx context.Context, workflow *types.Workflow, action types.ActionRef) (*ActionResult, error) {
	switch action.Kind {
	case types.ActionKindReasoning:
		return r.runReasoning(ctx, workflow, action)
	case types.ActionKindTool:
		return r.runTool(ctx, action)
	case types.ActionKindNoop:
		return &ActionResult{}, nil
	default:
		return nil, &reasoning.UnrecoverableError{
			Reason: fmt.Sprintf("unknown action kind %q", action.Kind),
		}
	}
}

func (r *Runner) runReasoning(ctx context.Context, workflow *types.Workflow, action types.ActionRef) (*ActionResult, error) {
	maxSteps := workflow.MaxThinkingSteps
	if maxSteps <= 0 {
		maxSteps = r.agent.MaxThinkingSteps
	}

	prompt := action.Prompt
	if prompt == "" {
		prompt = workflow.InitialMessage
	}
	if prompt == "" {
		return nil, &reasoning.UnrecoverableError{
			Reason: fmt.Sprintf("reasoning action %q has no prompt", action.Name),
		}
	}

	result, err := r.loop.Run(ctx, prompt, reasoning.Options{
		SystemPrompt:     r.agent.SystemPrompt,
		MaxThinkingSteps: maxSteps,
		UseTools:         r.agent.UseTools,
		UseMemory:        r.agent.UseMemory,
	})
	if err != nil {
		return nil, err
	}

	metrics.ReasoningIterations.Observe(float64(result.Iterations))
	if result.Truncated {
		metrics.ReasoningTruncations.Inc()
	}

	output, err := json.Marshal(result.Output)
	if err != nil {
		return nil, &reasoning.UnrecoverableError{Reason: "failed to encode output", Cause: err}
	}
	return &ActionResult{Output: output, Truncated: result.Truncated}, nil
}

func (r *Runner) runTool(ctx context.Context, action types.ActionRef) (*ActionResult, error) {
	if r.registry == nil {
		return nil, &reasoning.UnrecoverableError{Reason: "tool registry not configured"}
	}

	call := types.ToolCall{
		ID:        uuid.New().String(),
		Name:      action.Tool,
		Arguments: action.Args,
	}
	result := r.registry.Execute(ctx, call)
	if result.IsError {
		return nil, &tools.ToolError{Tool: action.Tool, Message: result.Content}
	}

	output, err := json.Marshal(result.Content)
	if err != nil {
		return nil, &reasoning.UnrecoverableError{Reason: "failed to encode output", Cause: err}
	}
	return &ActionResult{Output: output}, nil
}

// classify converts an action error into the serializable step error
// record, preserving whether a retry could help.
func classify(err error) *types.StepError {
	// Checked before ProviderError: an UnrecoverableError may wrap a
	// transient provider error whose retry budget is already spent.
	var unrecoverable *reasoning.UnrecoverableError
	if errors.As(err, &unrecoverable) {
		return &types.StepError{Message: unrecoverable.Error(), Category: "unrecoverable"}
	}

	var provider *llm.ProviderError
	if errors.As(err, &provider) {
		return &types.StepError{
			Message:   provider.Error(),
			Category:  "provider",
			Transient: provider.Transient,
		}
	}

	var toolErr *tools.ToolError
	if errors.As(err, &toolErr) {
		return &types.StepError{Message: toolErr.Error(), Category: "tool"}
	}

	return &types.StepError{Message: err.Error(), Category: "internal"}
}
