package compact

import "unicode/utf8"

// =============================================================================
// Token Counting
// =============================================================================
// Budget decisions need a cheap estimate, not the provider's exact count.
// The heuristic is calibrated to roughly 4 characters per token, which holds
// closely enough across the model families the control loop drives.

// TokenCounter estimates token cost from text length.
type TokenCounter struct {
	charsPerToken float64
}

// NewTokenCounter returns a counter with the default calibration.
func NewTokenCounter() *TokenCounter {
	return &TokenCounter{charsPerToken: 4.0}
}

// Count estimates the tokens in s.
func (tc *TokenCounter) Count(s string) int {
	if s == "" {
		return 0
	}
	return int(float64(utf8.RuneCountInString(s)) / tc.charsPerToken)
}
