package containers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingQueueRoundTrip(t *testing.T) {
	rq := NewRingQueue[int](3)
	assert.True(t, rq.IsEmpty())

	require.NoError(t, rq.Enqueue(1))
	require.NoError(t, rq.Enqueue(2))
	require.NoError(t, rq.Enqueue(3))
	assert.True(t, rq.IsFull())
	assert.ErrorIs(t, rq.Enqueue(4), ErrQueueFull)

	head, err := rq.Peek()
	require.NoError(t, err)
	assert.Equal(t, 1, head)
	assert.Equal(t, 3, rq.Len())

	for want := 1; want <= 3; want++ {
		got, err := rq.Dequeue()
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err = rq.Dequeue()
	assert.ErrorIs(t, err, ErrQueueEmpty)
}

func TestRingQueueWrapsAround(t *testing.T) {
	rq := NewRingQueue[string](2)
	require.NoError(t, rq.Enqueue("a"))
	require.NoError(t, rq.Enqueue("b"))

	got, err := rq.Dequeue()
	require.NoError(t, err)
	assert.Equal(t, "a", got)

	require.NoError(t, rq.Enqueue("c"))
	got, err = rq.Dequeue()
	require.NoError(t, err)
	assert.Equal(t, "b", got)
	got, err = rq.Dequeue()
	require.NoError(t, err)
	assert.Equal(t, "c", got)
}
