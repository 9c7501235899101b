// Package compact shrinks conversation history toward a token budget.
// Compaction is progressive: light result stubbing first, then turn
// rewriting through pattern compressors, then aggressive status-only
// stubbing, and finally a rotation signal when nothing less will fit.
// The compactor mutates the arena in place and never reorders turns.
package compact

import (
	"fmt"

	"helmsman/internal/conversation"
	"helmsman/internal/instruction"
	"helmsman/internal/logging"
)

// Phase thresholds as window-utilization fractions. Re-evaluated on every
// call, so a session whose utilization drops falls back to a lower phase.
const (
	thresholdStubResults = 0.45
	thresholdRewrite     = 0.60
	thresholdAggressive  = 0.75
	thresholdRotate      = 0.80
)

const (
	// Exempt windows. Recent turns and results carry the state the model
	// is actively working with; the window shrinks as pressure rises.
	recentResultExempt     = 4
	recentTurnExempt       = 6
	aggressiveResultExempt = 2
	aggressiveTurnExempt   = 2

	// stubMinSerialized is the smallest result payload worth stubbing.
	stubMinSerialized = 500
	// stubSnippetLen is how much payload a light stub preserves.
	stubSnippetLen = 120
	// rewriteMinTurn is the smallest turn text the rewriter considers.
	rewriteMinTurn = 800
	// rewriteCommitRatio: a rewrite is kept only if it shrank this much.
	rewriteCommitRatio = 0.30
)

// Report describes what one compaction pass did.
type Report struct {
	Phase       int
	Utilization float64

	ResultsStubbed int
	TurnsRewritten int
	OutputTrimmed  bool

	// ShouldRotate tells the caller the history cannot be compacted
	// further; a hard rotation (reset reseeded from a summary) is needed.
	// The compactor never performs the rotation itself.
	ShouldRotate bool
}

// Compactor applies progressive history compaction against a fixed
// window size.
type Compactor struct {
	counter      *TokenCounter
	windowTokens int
	outputKeep   int
}

// NewCompactor creates a compactor for the given context window.
func NewCompactor(windowTokens int) *Compactor {
	return NewCompactorWithOptions(windowTokens, 15000)
}

// NewCompactorWithOptions creates a compactor with an explicit output
// buffer retention size.
func NewCompactorWithOptions(windowTokens, outputKeep int) *Compactor {
	return &Compactor{
		counter:      NewTokenCounter(),
		windowTokens: windowTokens,
		outputKeep:   outputKeep,
	}
}

// Counter exposes the token counter for callers that budget with it.
func (c *Compactor) Counter() *TokenCounter {
	return c.counter
}

// Utilization returns the arena's current window-utilization fraction.
func (c *Compactor) Utilization(arena *conversation.Arena) float64 {
	if c.windowTokens <= 0 {
		return 0
	}
	return float64(arena.Tokens(c.counter)) / float64(c.windowTokens)
}

// Compact runs the phases the current utilization calls for and reports
// what was done. Safe to call every iteration; below the first threshold
// it is a no-op.
func (c *Compactor) Compact(arena *conversation.Arena) Report {
	util := c.Utilization(arena)
	rep := Report{Utilization: util}

	switch {
	case util > thresholdRotate:
		rep.Phase = 4
	case util > thresholdAggressive:
		rep.Phase = 3
	case util > thresholdRewrite:
		rep.Phase = 2
	case util > thresholdStubResults:
		rep.Phase = 1
	default:
		return rep
	}

	if rep.Phase >= 1 {
		rep.ResultsStubbed += c.stubResults(arena, recentResultExempt, false)
	}
	if rep.Phase >= 2 {
		rep.TurnsRewritten += c.rewriteTurns(arena, recentTurnExempt)
	}
	if rep.Phase >= 3 {
		rep.ResultsStubbed += c.stubResults(arena, aggressiveResultExempt, true)
		arena.TrimOutput(c.outputKeep)
		rep.OutputTrimmed = true
		rep.TurnsRewritten += c.rewriteTurns(arena, aggressiveTurnExempt)
	}
	if rep.Phase >= 4 {
		rep.ShouldRotate = true
		logging.Decision(logging.CategoryCompact, "rotation_required", "utilization_above_ceiling",
			"utilization", util)
	}

	logging.Decision(logging.CategoryCompact, "compaction_pass", "utilization_threshold",
		"phase", rep.Phase, "utilization", util,
		"results_stubbed", rep.ResultsStubbed, "turns_rewritten", rep.TurnsRewritten)
	return rep
}

// stubResults replaces bulky execution-result payloads with stubs,
// exempting the most recent exempt results across the whole history.
// statusOnly drops the snippet as well. Stubbing an already-stubbed
// result to the same form is a no-op.
func (c *Compactor) stubResults(arena *conversation.Arena, exempt int, statusOnly bool) int {
	var all []*instruction.ExecutionResult
	for _, t := range arena.Turns() {
		for i := range t.Results {
			all = append(all, &t.Results[i])
		}
	}
	if len(all) <= exempt {
		return 0
	}

	stubbed := 0
	for _, r := range all[:len(all)-exempt] {
		var stub string
		if statusOnly {
			stub = fmt.Sprintf("[%s %s]", r.Instruction.Name, r.Status())
		} else {
			if r.Stubbed || len(r.Payload) <= stubMinSerialized {
				continue
			}
			stub = fmt.Sprintf("[%s %s: %s]", r.Instruction.Name, r.Status(), snippet(r.Payload, stubSnippetLen))
		}
		if r.Payload == stub {
			continue
		}
		r.Payload = stub
		r.Stubbed = true
		stubbed++
	}
	return stubbed
}

// rewriteTurns runs the pattern compressors over verbose turns outside
// the exempt window. The system turn is never touched. A rewrite commits
// only when it shrank the turn enough to pay for the churn.
func (c *Compactor) rewriteTurns(arena *conversation.Arena, exempt int) int {
	turns := arena.Turns()
	rewritten := 0
	for i, t := range turns {
		if t.Role == conversation.RoleSystem || t.Compacted {
			continue
		}
		if i >= len(turns)-exempt {
			continue
		}
		if len(t.Text) <= rewriteMinTurn {
			continue
		}
		compressed, fired := compressText(t.Text)
		if len(fired) == 0 {
			continue
		}
		saved := 1 - float64(len(compressed))/float64(len(t.Text))
		if saved <= rewriteCommitRatio {
			continue
		}
		logging.Decision(logging.CategoryCompact, "turn_rewritten", "pattern_compression",
			"turn", i, "compressors", fired, "saved_ratio", saved)
		t.Text = compressed
		t.Compacted = true
		rewritten++
	}
	return rewritten
}

func snippet(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
