package textnorm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeLowercasesAndStripsStopwords(t *testing.T) {
	n := New()

	assert.Equal(t, "what function", n.Normalize("What is a Function?"))
	assert.Equal(t, "how handler work", n.Normalize("  How does   the handler work  "))
}

func TestNormalizeIsStable(t *testing.T) {
	n := New()

	first := n.Normalize("What is a Function?")
	second := n.Normalize("what IS a function???")
	assert.Equal(t, first, second)
}

func TestNormalizeNeverReturnsEmptyForNonEmptyInput(t *testing.T) {
	n := New()

	// すべてストップワードでも空文字列にはならない
	assert.Equal(t, "is the a", n.Normalize("Is The A"))
}
