package data_test

import (
	"testing"

	"github.com/mediadash/edge/data"

	"github.com/stretchr/testify/assert"
)

func TestWindow(t *testing.T) {
	w := data.NewWindow[int](3)
	assert.Equal(t, 3, w.Capacity())
	assert.Equal(t, 0, w.Length())

	_, ok := w.Latest(0)
	assert.False(t, ok)

	w.Push(1)
	w.Push(2)
	assert.Equal(t, 2, w.Length())

	v, ok := w.Latest(0)
	assert.True(t, ok)
	assert.Equal(t, 2, v)

	v, ok = w.Latest(1)
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	w.Push(3)
	w.Push(4) // evicts 1
	assert.Equal(t, 3, w.Length())

	for idx, expected := range []int{4, 3, 2} {
		v, ok := w.Latest(idx)
		assert.True(t, ok)
		assert.Equal(t, expected, v)
	}

	_, ok = w.Latest(3)
	assert.False(t, ok)

	w.Reset()
	assert.Equal(t, 0, w.Length())
}

func TestWindowAll(t *testing.T) {
	isTrue := func(b bool) bool { return b }

	w := data.NewWindow[bool](4)
	assert.False(t, w.All(2, isTrue), "not enough samples yet")

	w.Push(false)
	w.Push(true)
	w.Push(true)
	assert.True(t, w.All(2, isTrue))
	assert.False(t, w.All(3, isTrue))

	w.Push(false)
	assert.False(t, w.All(1, isTrue))
	assert.True(t, w.All(1, func(b bool) bool { return !b }))
}

func TestWindowMinimumCapacity(t *testing.T) {
	w := data.NewWindow[string](0)
	assert.Equal(t, 1, w.Capacity())

	w.Push("a")
	w.Push("b")
	v, ok := w.Latest(0)
	assert.True(t, ok)
	assert.Equal(t, "b", v)
	assert.Equal(t, 1, w.Length())
}
