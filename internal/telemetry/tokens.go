package telemetry

import "unicode/utf8"

// TokenCounter estimates token counts for prose fields so they can be
// bounded to token budgets. The heuristic is calibrated for Claude's
// tokenizer (~4 characters per token).
type TokenCounter struct {
	charsPerToken float64
}

// NewTokenCounter creates a counter with the default calibration.
func NewTokenCounter() *TokenCounter {
	return &TokenCounter{charsPerToken: 4.0}
}

// CountString estimates tokens in a string.
func (tc *TokenCounter) CountString(s string) int {
	if s == "" {
		return 0
	}
	// Rune count for proper unicode handling
	runeCount := utf8.RuneCountInString(s)
	return int(float64(runeCount) / tc.charsPerToken)
}

// TruncateToTokens trims s to approximately the given token budget,
// appending a truncation marker when anything was cut.
func (tc *TokenCounter) TruncateToTokens(s string, budget int) string {
	if budget <= 0 || tc.CountString(s) <= budget {
		return s
	}
	maxRunes := int(float64(budget) * tc.charsPerToken)
	runes := []rune(s)
	if len(runes) <= maxRunes {
		return s
	}
	return string(runes[:maxRunes]) + "\n[truncated]"
}
