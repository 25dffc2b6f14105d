package logd

import (
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestRequestQueue(t *testing.T) {
	queue := newRequestQueue()

	assert.Equal(t, 0, queue.len())
	assert.Equal(t, queue.head(), nil)
	assert.Equal(t, queue.headInFlight(), nil)
	assert.Equal(t, queue.takeHead(1), nil)

	n := 100

	for i := 0; i < n; i += 1 {
		queue.enqueue(i, nil)
	}
	assert.Equal(t, n, queue.len())

	for i := 0; i < n; i += 1 {
		assert.Equal(t, n-i, queue.len())
		assert.Equal(t, queue.headInFlight(), nil)

		entry := queue.takeHead(uint64(i + 1))
		assert.NotEqual(t, entry, nil)
		assert.Equal(t, i, entry.payload)
		assert.Equal(t, uint64(i+1), entry.sequenceNumber)
		assert.Equal(t, queue.busy(), true)

		// at most one in flight
		assert.Equal(t, queue.takeHead(uint64(i+2)), nil)
		assert.Equal(t, queue.headInFlight(), entry)

		completed := queue.completeHead()
		assert.Equal(t, completed, entry)
		assert.Equal(t, queue.busy(), false)
	}
	assert.Equal(t, 0, queue.len())
	assert.Equal(t, queue.completeHead(), nil)
}

func TestRequestQueueReject(t *testing.T) {
	queue := newRequestQueue()

	called := false
	queue.enqueue("a", func(result any) {
		called = true
	})
	queue.enqueue("b", nil)

	entry := queue.takeHead(1)
	assert.Equal(t, "a", entry.payload)

	rejected := queue.rejectHead()
	assert.Equal(t, "a", rejected.payload)
	assert.Equal(t, called, false)
	assert.Equal(t, queue.busy(), false)
	assert.Equal(t, "b", queue.head().payload)
}

func TestRequestQueueResetInFlight(t *testing.T) {
	queue := newRequestQueue()
	queue.enqueue("a", nil)

	entry := queue.takeHead(3)
	assert.Equal(t, uint64(3), entry.sequenceNumber)

	queue.resetInFlight()
	assert.Equal(t, queue.busy(), false)
	assert.Equal(t, queue.headInFlight(), nil)
	assert.Equal(t, 1, queue.len())

	entry = queue.takeHead(1)
	assert.Equal(t, "a", entry.payload)
	assert.Equal(t, uint64(1), entry.sequenceNumber)

	entries := queue.clear()
	assert.Equal(t, 1, len(entries))
	assert.Equal(t, 0, queue.len())
	assert.Equal(t, queue.busy(), false)
}
