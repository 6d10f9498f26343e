// Package provider defines the outbound contract to third-party generation
// providers. Wire-level payload construction lives in the per-provider
// adapters; the rest of the system sees only task identifiers or inline bytes.
package provider

import (
	"context"

	"server/internal/domain"
)

// SubmitRequest carries everything an adapter needs to start a generation.
type SubmitRequest struct {
	JobID  string
	Kind   domain.ContentKind
	Model  string
	Prompt string
	Params map[string]any
	// CallbackURL is handed to asynchronous providers; it already carries the
	// static and per-job tokens.
	CallbackURL string
}

// SubmitResult is either a provider task id (asynchronous providers that will
// call back or be polled) or inline result bytes (synchronous providers).
type SubmitResult struct {
	TaskID     string
	InlineData []byte
	MIME       string
}

// Inline reports whether the provider returned the artifact synchronously.
func (r *SubmitResult) Inline() bool {
	return len(r.InlineData) > 0
}

// PollStatus is one observation of an asynchronous task.
type PollStatus struct {
	Done      bool
	Failed    bool
	Message   string
	ResultURL string
}

// Adapter translates job requests into provider-specific wire calls.
type Adapter interface {
	Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error)
	// Poll is used for providers without webhook support. Adapters that only
	// deliver via callback may return an error.
	Poll(ctx context.Context, taskID string) (*PollStatus, error)
}
