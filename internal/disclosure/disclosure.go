// Package disclosure narrows the instruction vocabulary offered to a
// model each iteration. Small models handle a short, situationally
// relevant menu far better than the full list; the engine recomputes the
// menu every iteration and never caches it, because the right menu
// depends on what just happened.
package disclosure

import (
	"sort"

	"helmsman/internal/instruction"
	"helmsman/internal/logging"
)

// fullTrustBudget is the instruction budget at which disclosure turns
// itself off: a model granted this much is trusted with everything.
const fullTrustBudget = 30

// lockoutCeiling: past this iteration the full vocabulary is always
// exposed, so no state-machine path can lock an instruction away forever.
const lockoutCeiling = 5

// core instructions are always offered, whatever state the turn is in.
var core = []string{
	instruction.WebSearch,
	instruction.ReadFile,
	instruction.WriteFile,
	instruction.RunCommand,
}

// followups maps the most recently used instruction to the set worth
// offering next. Navigation leads to inspection, inspection to
// interaction, file reading to writing.
var followups = map[string][]string{
	instruction.Navigate: {
		instruction.ReadPage, instruction.Click, instruction.FetchURL,
	},
	instruction.ReadPage: {
		instruction.Click, instruction.TypeText, instruction.Navigate,
		instruction.WriteFile,
	},
	instruction.Click: {
		instruction.ReadPage, instruction.TypeText, instruction.Navigate,
	},
	instruction.TypeText: {
		instruction.Click, instruction.ReadPage,
	},
	instruction.ReadFile: {
		instruction.WriteFile, instruction.EditFile, instruction.ListDir,
		instruction.WebSearch,
	},
	instruction.WriteFile: {
		instruction.ReadFile, instruction.EditFile, instruction.RunCommand,
		instruction.TaskComplete,
	},
	instruction.EditFile: {
		instruction.ReadFile, instruction.RunCommand, instruction.TaskComplete,
	},
	instruction.ListDir: {
		instruction.ReadFile, instruction.WriteFile,
	},
	instruction.RunCommand: {
		instruction.ReadFile, instruction.WriteFile, instruction.GitCommand,
		instruction.TaskComplete,
	},
	instruction.GitCommand: {
		instruction.RunCommand, instruction.ReadFile, instruction.TaskComplete,
	},
	instruction.FetchURL: {
		instruction.WriteFile, instruction.Navigate,
	},
	instruction.WebSearch: {
		instruction.Navigate, instruction.FetchURL, instruction.ReadPage,
	},
}

// entrySets are the iteration-1 menus per task type.
var entrySets = map[string][]string{
	"web": {
		instruction.Navigate, instruction.WebSearch, instruction.ReadPage,
		instruction.FetchURL,
	},
	"research": {
		instruction.WebSearch, instruction.Navigate, instruction.FetchURL,
		instruction.ReadPage,
	},
	"code": {
		instruction.ReadFile, instruction.ListDir, instruction.EditFile,
		instruction.RunCommand, instruction.GitCommand,
	},
	"files": {
		instruction.ListDir, instruction.ReadFile, instruction.WriteFile,
		instruction.EditFile,
	},
}

// Engine computes the per-iteration vocabulary subset.
type Engine struct {
	vocab *instruction.Vocabulary
}

// NewEngine creates a disclosure engine over a vocabulary.
func NewEngine(vocab *instruction.Vocabulary) *Engine {
	return &Engine{vocab: vocab}
}

// State is what one disclosure decision depends on.
type State struct {
	Iteration int
	TaskType  string
	// LastInstruction is the most recently executed instruction name,
	// empty on the first iteration.
	LastInstruction string
	// Budget is the tier profile's instruction budget.
	Budget int
}

// Visible returns the sorted instruction names to offer this iteration.
func (e *Engine) Visible(s State) []string {
	full := e.vocab.Names()

	if s.Budget >= fullTrustBudget {
		return full
	}
	if s.Iteration > lockoutCeiling {
		return capSet(withCore(full), s.Budget)
	}

	var picked []string
	switch {
	case s.Iteration <= 1:
		picked = entrySet(s.TaskType)
	case s.LastInstruction != "":
		picked = followups[s.LastInstruction]
	}
	if picked == nil {
		picked = full
	}

	out := capSet(withCore(picked), s.Budget)
	logging.Decision(logging.CategoryDisclosure, "vocabulary_disclosed", "state_machine",
		"iteration", s.Iteration, "last", s.LastInstruction, "count", len(out))
	return out
}

func entrySet(taskType string) []string {
	if set, ok := entrySets[taskType]; ok {
		return set
	}
	return nil
}

// withCore unions names with the always-available core, deduplicated.
// Core entries go first so a tight budget cap can never drop them.
func withCore(names []string) []string {
	seen := make(map[string]bool, len(names)+len(core))
	var out []string
	for _, n := range append(append([]string{}, core...), names...) {
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	return out
}

// capSet caps to budget and sorts for stable output.
func capSet(names []string, budget int) []string {
	if budget > 0 && len(names) > budget {
		names = names[:budget]
	}
	out := make([]string, len(names))
	copy(out, names)
	sort.Strings(out)
	return out
}
