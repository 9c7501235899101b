package modeltier

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolve_Bands(t *testing.T) {
	cases := []struct {
		label    string
		params   int64
		wantTier int
	}{
		{"tiny", 500_000_000, 1},
		{"small", 3_000_000_000, 2},
		{"medium", 7_000_000_000, 3},
		{"large", 30_000_000_000, 4},
		{"frontier", 70_000_000_000, 5},
		{"unknown defaults to middle", 0, 3},
	}
	for _, tc := range cases {
		t.Run(tc.label, func(t *testing.T) {
			assert.Equal(t, tc.wantTier, Resolve(tc.params).Tier)
		})
	}
}

// Instruction budget must rise with tier while retry budget falls: the
// weaker the model, the less it is offered and the more it is forgiven.
func TestResolve_BudgetsAreMonotonic(t *testing.T) {
	counts := []int64{
		500_000_000, 3_000_000_000, 7_000_000_000,
		30_000_000_000, 70_000_000_000,
	}
	prev := Resolve(counts[0])
	for _, n := range counts[1:] {
		p := Resolve(n)
		assert.Greater(t, p.InstructionBudget, prev.InstructionBudget)
		assert.Less(t, p.RetryBudget, prev.RetryBudget)
		assert.Less(t, p.CompactionAggressiveness, prev.CompactionAggressiveness)
		prev = p
	}
}

func TestResolve_TopTierDisablesDisclosure(t *testing.T) {
	p := Resolve(100_000_000_000)
	assert.GreaterOrEqual(t, p.InstructionBudget, 30)
}

func TestEstimateFromName(t *testing.T) {
	cases := map[string]int64{
		"qwen3-4b-instruct":      4_000_000_000,
		"Mistral-0.5B":           500_000_000,
		"llama-2-13b-chat":       13_000_000_000,
		"phi-3-mini":             0,
		"smollm2-360M-instruct":  360_000_000,
		"Qwen3-4B-Function-Pro":  4_000_000_000,
		"model-without-any-size": 0,
	}
	for name, want := range cases {
		assert.Equal(t, want, EstimateFromName(name), name)
	}
}
