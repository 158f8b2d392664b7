package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewIDIsMonotonic(t *testing.T) {
	prev := NewID()
	for i := 0; i < 100; i++ {
		id := NewID()
		assert.Len(t, id, 26)
		assert.Greater(t, id, prev)
		prev = id
	}
}

func TestStrPtr(t *testing.T) {
	assert.Nil(t, StrPtr(""))
	assert.Equal(t, "x", *StrPtr("x"))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", Truncate("abcdef", 3))
	assert.Equal(t, "ab", Truncate("ab", 3))
}
