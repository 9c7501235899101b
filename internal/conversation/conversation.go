// Package conversation holds the mutable dialogue state one session
// accumulates: the turn history the model sees, the execution results
// folded into it, and the rolling output buffer. The compactor mutates
// this state in place; everything else treats it as append-only.
package conversation

import (
	"strings"
	"sync"

	"helmsman/internal/instruction"
)

// Role identifies the author of a turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one entry in the dialogue history.
type Turn struct {
	Role Role
	Text string

	// Instructions and Results record what the assistant turn caused.
	// Empty for system and user turns.
	Instructions []instruction.Instruction
	Results      []instruction.ExecutionResult

	// Compacted marks a turn whose text was rewritten by the compactor.
	// Compaction of an already-compacted turn is a no-op.
	Compacted bool
}

// Tokens estimates the turn's token cost.
func (t *Turn) Tokens(counter TokenCounter) int {
	n := counter.Count(t.Text)
	for _, r := range t.Results {
		if !r.Stubbed {
			n += counter.Count(r.Payload)
		}
	}
	return n
}

// TokenCounter estimates token cost of text. Satisfied by compact.TokenCounter.
type TokenCounter interface {
	Count(text string) int
}

// Arena is the complete conversation state of one session. All methods
// are safe for concurrent use; the session loop writes, diagnostic
// readers observe.
type Arena struct {
	mu sync.RWMutex

	turns  []*Turn
	output strings.Builder
}

// NewArena creates an empty arena seeded with a system turn when the
// prompt is non-empty.
func NewArena(systemPrompt string) *Arena {
	a := &Arena{}
	if systemPrompt != "" {
		a.turns = append(a.turns, &Turn{Role: RoleSystem, Text: systemPrompt})
	}
	return a
}

// Append adds a turn to the history.
func (a *Arena) Append(t *Turn) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.turns = append(a.turns, t)
}

// Turns returns the live turn slice. Callers that mutate it (the
// compactor) hold no additional lock; mutation happens only from the
// single session goroutine.
func (a *Arena) Turns() []*Turn {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.turns
}

// Len returns the number of turns.
func (a *Arena) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.turns)
}

// Last returns the most recent turn with the given role, or nil.
func (a *Arena) Last(role Role) *Turn {
	a.mu.RLock()
	defer a.mu.RUnlock()
	for i := len(a.turns) - 1; i >= 0; i-- {
		if a.turns[i].Role == role {
			return a.turns[i]
		}
	}
	return nil
}

// Snapshot returns the current history length, used as a rollback point.
func (a *Arena) Snapshot() int {
	return a.Len()
}

// Rollback truncates history to a previous snapshot. Turns appended
// after the snapshot are discarded.
func (a *Arena) Rollback(snapshot int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if snapshot >= 0 && snapshot < len(a.turns) {
		a.turns = a.turns[:snapshot]
	}
}

// Clear drops every turn except the leading system turn. Used when a
// poisoned context must not be retried.
func (a *Arena) Clear() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.turns) > 0 && a.turns[0].Role == RoleSystem {
		a.turns = a.turns[:1]
		return
	}
	a.turns = nil
}

// AppendOutput accumulates raw model output into the rolling buffer.
func (a *Arena) AppendOutput(text string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.output.WriteString(text)
}

// Output returns the accumulated output buffer.
func (a *Arena) Output() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.output.String()
}

// TrimOutput keeps only the trailing keep bytes of the output buffer.
func (a *Arena) TrimOutput(keep int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s := a.output.String()
	if len(s) <= keep {
		return
	}
	a.output.Reset()
	a.output.WriteString(s[len(s)-keep:])
}

// Tokens estimates the total token cost of the history.
func (a *Arena) Tokens(counter TokenCounter) int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	n := 0
	for _, t := range a.turns {
		n += t.Tokens(counter)
	}
	return n
}
