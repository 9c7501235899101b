// Package provider adapts external generation backends to one interface.
// The control loop never sees a vendor SDK type: every backend returns
// the same Response, with structured tool calls surfaced as native
// instructions so extraction can trust them directly.
package provider

import (
	"context"
	"errors"

	"helmsman/internal/instruction"
)

// Common provider errors.
var (
	ErrNoChoices  = errors.New("provider returned no choices")
	ErrNotConfig  = errors.New("provider is not configured")
	ErrBadBackend = errors.New("unknown provider kind")
)

// Role of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one provider-neutral chat message.
type Message struct {
	Role Role
	Text string
}

// Request is one generation call.
type Request struct {
	Messages []Message
	// VisibleInstructions is the disclosed vocabulary for this iteration,
	// offered to backends that support structured tools.
	VisibleInstructions []string
	Temperature         float32
	MaxTokens           int
}

// Response is a provider-neutral generation result.
type Response struct {
	Text string
	// NativeCalls are structured tool calls the backend returned
	// directly. They bypass text extraction entirely.
	NativeCalls []instruction.Instruction
	// Truncated is set when the backend stopped at its output limit.
	Truncated bool
	Model     string
}

// Provider is a generation backend.
type Provider interface {
	// Name identifies the backend for logs and the decision journal.
	Name() string
	// Generate performs one completion. It must honor ctx cancellation
	// and deadlines; a deadline hit surfaces as ctx.Err.
	Generate(ctx context.Context, req Request) (*Response, error)
}
