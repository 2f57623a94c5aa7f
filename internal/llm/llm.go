package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/ravituringworks/generic-ai-agent-sub002/pkg/types"
)

// Client is implemented by model providers that can generate text and
// embeddings for the reasoning loop.
type Client interface {
	Generate(ctx context.Context, messages []types.Message) (string, error)
	Embed(ctx context.Context, text string) ([]float64, error)
}

// ProviderError describes a failed provider call. Transient marks errors
// worth retrying (timeouts, connection resets, 5xx responses).
type ProviderError struct {
	Provider  string
	Operation string
	Message   string
	Transient bool
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s %s failed: %s", e.Provider, e.Operation, e.Message)
}

// IsTransient reports whether err is a provider error worth retrying.
func IsTransient(err error) bool {
	var perr *ProviderError
	if errors.As(err, &perr) {
		return perr.Transient
	}
	return false
}
