package set

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAddAndContains(t *testing.T) {
	s := New[string]()

	assert.True(t, s.Add("a"))
	assert.False(t, s.Add("a"))
	assert.True(t, s.Add("b"))

	assert.True(t, s.Contains("a"))
	assert.False(t, s.Contains("c"))
	assert.Equal(t, 2, s.Size())
}

func TestRemove(t *testing.T) {
	s := FromSlice([]int{1, 2, 3, 2})
	assert.Equal(t, 3, s.Size())

	s.Remove(2)
	assert.False(t, s.Contains(2))
	assert.Equal(t, 2, s.Size())

	s.Remove(99) // absent, no-op
	assert.Equal(t, 2, s.Size())
}

func TestToSlice(t *testing.T) {
	s := FromSlice([]string{"x", "y"})
	assert.ElementsMatch(t, []string{"x", "y"}, s.ToSlice())

	empty := New[string]()
	assert.Empty(t, empty.ToSlice())
}
