package token_test

import (
	"testing"

	"github.com/engramdev/engram/internal/token"
)

func TestCharCounter_Count(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		charsPerToken float64
		text          string
		want          int
	}{
		{"empty", 4.0, "", 0},
		{"single char", 4.0, "a", 1},
		{"exactly four chars", 4.0, "abcd", 2},
		{"twenty chars", 4.0, "aaaaaaaaaaaaaaaaaaaa", 6},
		{"french ratio", 3.0, "bonjour", 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := token.NewCharCounter(tt.charsPerToken)
			if got := c.Count(tt.text); got != tt.want {
				t.Errorf("Count(%q) = %d, want %d", tt.text, got, tt.want)
			}
		})
	}
}

func TestCharCounter_DefaultRatio(t *testing.T) {
	t.Parallel()

	c := token.NewCharCounter(0)
	if c.CharsPerToken != 4.0 {
		t.Errorf("CharsPerToken = %v, want 4.0", c.CharsPerToken)
	}
	c = token.NewCharCounter(-1)
	if c.CharsPerToken != 4.0 {
		t.Errorf("CharsPerToken = %v, want 4.0", c.CharsPerToken)
	}
}

func TestCharCounter_Deterministic(t *testing.T) {
	t.Parallel()

	c := token.NewCharCounter(4.0)
	text := "the same text must always yield the same count"
	first := c.Count(text)
	for range 100 {
		if got := c.Count(text); got != first {
			t.Fatalf("Count not stable: got %d, first %d", got, first)
		}
	}
}

func TestWordCounter_Count(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		text string
		want int
	}{
		{"empty", "", 0},
		{"single word", "hello", 1},
		{"two words", "hello world", 2},
		{"punctuation counts extra", "hello, world!", 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var c token.WordCounter
			if got := c.Count(tt.text); got != tt.want {
				t.Errorf("Count(%q) = %d, want %d", tt.text, got, tt.want)
			}
		})
	}
}
