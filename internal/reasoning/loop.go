package reasoning

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ravituringworks/generic-ai-agent-sub002/internal/llm"
	"github.com/ravituringworks/generic-ai-agent-sub002/internal/logger"
	"github.com/ravituringworks/generic-ai-agent-sub002/internal/memory"
	"github.com/ravituringworks/generic-ai-agent-sub002/internal/tools"
	"github.com/ravituringworks/generic-ai-agent-sub002/pkg/types"
)

const (
	// maxTransientRetries bounds retries of a single provider call.
	maxTransientRetries = 3
	// retryBaseDelay is doubled on each subsequent attempt.
	retryBaseDelay = 100 * time.Millisecond
)

// UnrecoverableError marks a failure no amount of retrying will fix. The
// saga layer treats it as a step failure and starts compensation.
type UnrecoverableError struct {
	Reason string
	Cause  error
}

func (e *UnrecoverableError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("unrecoverable: %s: %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("unrecoverable: %s", e.Reason)
}

func (e *UnrecoverableError) Unwrap() error { return e.Cause }

// Result is the outcome of one reasoning run. Truncated is set when the
// thinking budget ran out before the model produced a final answer; the
// partial output is still returned.
type Result struct {
	Output     string
	Truncated  bool
	Iterations int
	Trajectory []types.Message
}

// Options configures a single reasoning run.
type Options struct {
	SystemPrompt     string
	MaxThinkingSteps int
	UseTools         bool
	UseMemory        bool
}

// Loop drives the bounded think/act/observe cycle against a model
// provider, with optional tool execution and memory recall.
type Loop struct {
	client   llm.Client
	registry *tools.Registry
	store    memory.Store
}

// NewLoop builds a reasoning loop. registry and store may be nil when
// tools or memory are disabled.
func NewLoop(client llm.Client, registry *tools.Registry, store memory.Store) *Loop {
	return &Loop{client: client, registry: registry, store: store}
}

// toolDirective is the JSON shape the model emits to request a tool.
type toolDirective struct {
	Tool string            `json:"tool"`
	Args map[string]string `json:"args,omitempty"`
}

// Run executes the reasoning loop for input. It iterates at most
// opts.MaxThinkingSteps times; if the model is still requesting tools
// when the budget runs out, the last model output is returned with
// Truncated set rather than an error.
func (l *Loop) Run(ctx context.Context, input string, opts Options) (*Result, error) {
	if opts.MaxThinkingSteps <= 0 {
		return nil, &UnrecoverableError{Reason: "thinking budget must be positive"}
	}

	messages := []types.Message{}
	if opts.SystemPrompt != "" {
		messages = append(messages, types.SystemMessage(l.decorateSystemPrompt(opts)))
	}

	if opts.UseMemory && l.store != nil {
		recalled, err := l.store.Search(ctx, input, 5)
		if err != nil {
			logger.Logger.Warn().Err(err).Msg("Memory recall failed, continuing without context")
		} else if len(recalled) > 0 {
			var sb strings.Builder
			sb.WriteString("Relevant context from memory:\n")
			for _, entry := range recalled {
				sb.WriteString("- ")
				sb.WriteString(entry.Content)
				sb.WriteString("\n")
			}
			messages = append(messages, types.SystemMessage(sb.String()))
		}
	}

	messages = append(messages, types.UserMessage(input))

	var lastOutput string
	for iteration := 1; iteration <= opts.MaxThinkingSteps; iteration++ {
		reply, err := l.generateWithRetry(ctx, messages)
		if err != nil {
			return nil, err
		}
		lastOutput = reply
		messages = append(messages, types.AssistantMessage(reply))

		directive, ok := parseToolDirective(reply)
		if !ok || !opts.UseTools || l.registry == nil {
			result := &Result{Output: reply, Iterations: iteration, Trajectory: messages}
			l.remember(ctx, input, reply, opts)
			return result, nil
		}

		call := types.ToolCall{ID: uuid.New().String(), Name: directive.Tool}
		if len(directive.Args) > 0 {
			raw, err := json.Marshal(directive.Args)
			if err != nil {
				return nil, &UnrecoverableError{Reason: "failed to encode tool arguments", Cause: err}
			}
			call.Arguments = raw
		}

		observation := l.registry.Execute(ctx, call)
		logger.Logger.Debug().
			Str("tool", directive.Tool).
			Bool("is_error", observation.IsError).
			Int("iteration", iteration).
			Msg("Tool executed")

		feedback := fmt.Sprintf("Tool %s result: %s", directive.Tool, observation.Content)
		if observation.IsError {
			feedback = fmt.Sprintf("Tool %s error: %s", directive.Tool, observation.Content)
		}
		messages = append(messages, types.UserMessage(feedback))
	}

	logger.Logger.Warn().
		Int("max_thinking_steps", opts.MaxThinkingSteps).
		Msg("Reasoning budget exhausted, returning partial output")
	return &Result{
		Output:     lastOutput,
		Truncated:  true,
		Iterations: opts.MaxThinkingSteps,
		Trajectory: messages,
	}, nil
}

func (l *Loop) decorateSystemPrompt(opts Options) string {
	prompt := opts.SystemPrompt
	if opts.UseTools && l.registry != nil {
		names := l.registry.List()
		if len(names) > 0 {
			prompt += fmt.Sprintf(
				"\n\nAvailable tools: %s. To use one, reply with only a JSON object: {\"tool\": \"<name>\", \"args\": {}}",
				strings.Join(names, ", "))
		}
	}
	return prompt
}

// generateWithRetry retries transient provider failures with exponential
// backoff. Permanent failures surface as UnrecoverableError.
func (l *Loop) generateWithRetry(ctx context.Context, messages []types.Message) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= maxTransientRetries; attempt++ {
		reply, err := l.client.Generate(ctx, messages)
		if err == nil {
			return reply, nil
		}
		lastErr = err

		if !llm.IsTransient(err) {
			return "", &UnrecoverableError{Reason: "model provider failed", Cause: err}
		}
		if attempt == maxTransientRetries {
			break
		}

		delay := retryBaseDelay << (attempt - 1)
		logger.Logger.Warn().
			Err(err).
			Int("attempt", attempt).
			Dur("backoff", delay).
			Msg("Transient provider error, retrying")
		select {
		case <-ctx.Done():
			return "", &UnrecoverableError{Reason: "context cancelled during retry", Cause: ctx.Err()}
		case <-time.After(delay):
		}
	}
	return "", &UnrecoverableError{Reason: "retry budget exhausted", Cause: lastErr}
}

func (l *Loop) remember(ctx context.Context, input, output string, opts Options) {
	if !opts.UseMemory || l.store == nil {
		return
	}
	record := fmt.Sprintf("Q: %s\nA: %s", input, output)
	if _, err := l.store.Add(ctx, record, nil); err != nil {
		logger.Logger.Warn().Err(err).Msg("Failed to persist interaction to memory")
	}
}

// parseToolDirective detects a tool request in the model reply. The reply
// must be a bare JSON object, optionally fenced in a code block.
func parseToolDirective(reply string) (toolDirective, bool) {
	trimmed := strings.TrimSpace(reply)
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")
	trimmed = strings.TrimSpace(trimmed)

	if !strings.HasPrefix(trimmed, "{") {
		return toolDirective{}, false
	}
	var directive toolDirective
	if err := json.Unmarshal([]byte(trimmed), &directive); err != nil {
		return toolDirective{}, false
	}
	if directive.Tool == "" {
		return toolDirective{}, false
	}
	return directive, true
}
