// Package token provides deterministic token counting for budget arithmetic.
// Counts are cached at write time and never recomputed, so implementations
// must be stable: the same text always yields the same count.
package token

import (
	"strings"
	"unicode"
)

// Counter estimates the token count of a string.
type Counter interface {
	Count(text string) int
}

// CharCounter estimates tokens using a simple characters-per-token ratio.
// A ratio of ~4 works well for English; ~3 for French or other Latin languages.
type CharCounter struct {
	CharsPerToken float64
}

// NewCharCounter creates a CharCounter with the given ratio.
// If charsPerToken is <= 0, defaults to 4.0 (English approximation).
func NewCharCounter(charsPerToken float64) *CharCounter {
	if charsPerToken <= 0 {
		charsPerToken = 4.0
	}
	return &CharCounter{CharsPerToken: charsPerToken}
}

// Count returns the estimated token count for the given text.
func (c *CharCounter) Count(text string) int {
	if len(text) == 0 {
		return 0
	}
	tokens := float64(len(text)) / c.CharsPerToken
	// Always round up to avoid underestimation.
	return int(tokens) + 1
}

// WordCounter estimates tokens by splitting on whitespace and punctuation
// boundaries. It over-counts slightly relative to real BPE tokenizers, which
// keeps budget arithmetic conservative.
type WordCounter struct{}

// Count returns the estimated token count for the given text.
func (WordCounter) Count(text string) int {
	if len(text) == 0 {
		return 0
	}
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return unicode.IsSpace(r)
	})
	total := 0
	for _, f := range fields {
		total++
		// Punctuation runs usually tokenize separately.
		for _, r := range f {
			if unicode.IsPunct(r) || unicode.IsSymbol(r) {
				total++
			}
		}
	}
	return total
}
