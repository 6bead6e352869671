package server

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestOutQueuePreservesOrder pushes a burst far beyond the channel
// capacity and checks the writer side drains it in FIFO order.
func TestOutQueuePreservesOrder(t *testing.T) {
	q := newOutQueue()
	defer q.Close()

	const n = 200
	for i := 0; i < n; i++ {
		require.True(t, q.Push([]byte(fmt.Sprintf("frame-%d", i))))
	}
	for i := 0; i < n; i++ {
		select {
		case frame := <-q.out:
			assert.Equal(t, fmt.Sprintf("frame-%d", i), string(frame))
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for frame %d", i)
		}
	}
}

// TestOutQueueClose checks Push reports false after Close and a blocked
// reader is released by the out channel closing. A frame already offered
// to the reader may still slip through before the close lands.
func TestOutQueueClose(t *testing.T) {
	q := newOutQueue()
	q.Push([]byte("pending"))
	q.Close()
	q.Close() // idempotent

	assert.False(t, q.Push([]byte("late")))

	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-q.out:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("reader not released after Close")
		}
	}
}
