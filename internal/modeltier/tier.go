// Package modeltier sizes the control loop to the model driving it.
// Small local models get a narrow instruction budget and generous
// retries; large hosted models get the full vocabulary and little
// patience. The profile is computed once per model selection and is
// read-only afterward.
package modeltier

import (
	"regexp"
	"strconv"
	"strings"

	"helmsman/internal/logging"
)

// Profile is the operating envelope for one model tier.
type Profile struct {
	Tier int
	// InstructionBudget caps how many vocabulary entries disclosure may
	// offer per iteration.
	InstructionBudget int
	// RetryBudget bounds generation retries after timeouts and provider
	// errors.
	RetryBudget int
	// CompactionAggressiveness scales the compactor's thresholds: small
	// models drown in context sooner, so they compact earlier.
	CompactionAggressiveness float64
}

// Parameter-count band edges.
const (
	bandTiny   = 1_000_000_000
	bandSmall  = 4_000_000_000
	bandMedium = 9_000_000_000
	bandLarge  = 35_000_000_000
)

var profiles = []Profile{
	{Tier: 1, InstructionBudget: 6, RetryBudget: 5, CompactionAggressiveness: 1.5},
	{Tier: 2, InstructionBudget: 10, RetryBudget: 4, CompactionAggressiveness: 1.25},
	{Tier: 3, InstructionBudget: 16, RetryBudget: 3, CompactionAggressiveness: 1.0},
	{Tier: 4, InstructionBudget: 24, RetryBudget: 2, CompactionAggressiveness: 0.9},
	{Tier: 5, InstructionBudget: 40, RetryBudget: 1, CompactionAggressiveness: 0.75},
}

// Resolve maps an estimated parameter count to its tier profile.
// Unknown counts (zero or negative) land in the middle tier: guessing
// small starves a capable model, guessing large overwhelms a weak one.
func Resolve(paramCount int64) Profile {
	var p Profile
	switch {
	case paramCount <= 0:
		p = profiles[2]
	case paramCount < bandTiny:
		p = profiles[0]
	case paramCount < bandSmall:
		p = profiles[1]
	case paramCount < bandMedium:
		p = profiles[2]
	case paramCount < bandLarge:
		p = profiles[3]
	default:
		p = profiles[4]
	}
	logging.Decision(logging.CategoryTier, "tier_resolved", "parameter_count_band",
		"params", paramCount, "tier", p.Tier, "instruction_budget", p.InstructionBudget)
	return p
}

var sizeTokenRe = regexp.MustCompile(`(?i)\b(\d+(?:\.\d+)?)\s*([bm])\b`)

// EstimateFromName guesses a parameter count from a model name like
// "qwen3-4b-instruct" or "Mistral-0.5B". Returns 0 when the name carries
// no size token.
func EstimateFromName(name string) int64 {
	m := sizeTokenRe.FindStringSubmatch(name)
	if m == nil {
		return 0
	}
	n, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0
	}
	switch strings.ToLower(m[2]) {
	case "b":
		return int64(n * 1e9)
	case "m":
		return int64(n * 1e6)
	}
	return 0
}
