package disclosure

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"helmsman/internal/instruction"
)

func newTestEngine() *Engine {
	return NewEngine(instruction.DefaultVocabulary())
}

func TestVisible_HighBudgetDisablesDisclosure(t *testing.T) {
	e := newTestEngine()
	got := e.Visible(State{Iteration: 2, Budget: 30, LastInstruction: instruction.Navigate})
	assert.Equal(t, e.vocab.Names(), got)
}

func TestVisible_Iteration1UsesTaskEntrySet(t *testing.T) {
	got := newTestEngine().Visible(State{Iteration: 1, TaskType: "web", Budget: 10})

	assert.Contains(t, got, instruction.Navigate)
	assert.Contains(t, got, instruction.ReadPage)
	// Core is always present.
	assert.Contains(t, got, instruction.RunCommand)
	assert.NotContains(t, got, instruction.EditFile)
}

func TestVisible_AfterNavigationExposesInspection(t *testing.T) {
	got := newTestEngine().Visible(State{
		Iteration: 3, TaskType: "web", Budget: 10,
		LastInstruction: instruction.Navigate,
	})

	assert.Contains(t, got, instruction.ReadPage)
	assert.Contains(t, got, instruction.Click)
	assert.NotContains(t, got, instruction.EditFile)
}

func TestVisible_AfterFileReadExposesWriteEditSearch(t *testing.T) {
	got := newTestEngine().Visible(State{
		Iteration: 2, TaskType: "code", Budget: 10,
		LastInstruction: instruction.ReadFile,
	})

	assert.Contains(t, got, instruction.WriteFile)
	assert.Contains(t, got, instruction.EditFile)
	assert.Contains(t, got, instruction.WebSearch)
}

func TestVisible_CoreSurvivesTightBudget(t *testing.T) {
	got := newTestEngine().Visible(State{
		Iteration: 2, TaskType: "web", Budget: 4,
		LastInstruction: instruction.Navigate,
	})

	require.Len(t, got, 4)
	for _, name := range []string{
		instruction.WebSearch, instruction.ReadFile,
		instruction.WriteFile, instruction.RunCommand,
	} {
		assert.Contains(t, got, name)
	}
}

func TestVisible_PastIteration5NoLockout(t *testing.T) {
	e := newTestEngine()
	got := e.Visible(State{
		Iteration: 6, TaskType: "web", Budget: 16,
		LastInstruction: instruction.TypeText,
	})

	// The full vocabulary fits in budget 16, so everything is exposed
	// regardless of the state machine.
	assert.Equal(t, e.vocab.Names(), got)
}

func TestVisible_BudgetCapRespected(t *testing.T) {
	got := newTestEngine().Visible(State{Iteration: 6, TaskType: "code", Budget: 6})
	require.Len(t, got, 6)

	// Past the trust ceiling the cap still may not drop the core set:
	// a tier-1 budget must never lock these out.
	for _, name := range []string{
		instruction.WebSearch, instruction.ReadFile,
		instruction.WriteFile, instruction.RunCommand,
	} {
		assert.Contains(t, got, name)
	}
}

func TestVisible_UnknownTaskTypeFallsBackToFull(t *testing.T) {
	got := newTestEngine().Visible(State{Iteration: 1, TaskType: "mystery", Budget: 10})
	assert.Len(t, got, 10)
}

func TestVisible_Deduplicated(t *testing.T) {
	// read_file follows run_command and is also core; it must appear once.
	got := newTestEngine().Visible(State{
		Iteration: 3, Budget: 12, LastInstruction: instruction.RunCommand,
	})

	seen := map[string]int{}
	for _, n := range got {
		seen[n]++
	}
	for n, c := range seen {
		assert.Equal(t, 1, c, n)
	}
}

func TestVisible_RecomputedNotCached(t *testing.T) {
	e := newTestEngine()
	afterNav := e.Visible(State{Iteration: 3, Budget: 10, LastInstruction: instruction.Navigate})
	afterRead := e.Visible(State{Iteration: 4, Budget: 10, LastInstruction: instruction.ReadFile})

	assert.Contains(t, afterNav, instruction.Click)
	assert.NotContains(t, afterRead, instruction.Click)
	assert.Contains(t, afterRead, instruction.EditFile)
}
