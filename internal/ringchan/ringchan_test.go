package ringchan

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRingSendAndReceive(t *testing.T) {
	r := New[int](3)
	assert.False(t, r.Send(1))
	assert.False(t, r.Send(2))
	assert.Equal(t, 2, r.Len())

	assert.Equal(t, 1, <-r.C())
	assert.Equal(t, 2, <-r.C())
}

func TestRingDropsOldestWhenFull(t *testing.T) {
	r := New[int](2)
	r.Send(1)
	r.Send(2)
	assert.True(t, r.Send(3), "full ring drops the oldest element")

	assert.Equal(t, 2, <-r.C())
	assert.Equal(t, 3, <-r.C())
}

func TestRingClose(t *testing.T) {
	r := New[string](1)
	r.Send("a")
	r.Close()

	v, ok := <-r.C()
	assert.True(t, ok)
	assert.Equal(t, "a", v)

	_, ok = <-r.C()
	assert.False(t, ok)
}

func TestRingPanicsOnZeroCapacity(t *testing.T) {
	assert.Panics(t, func() { New[int](0) })
}
