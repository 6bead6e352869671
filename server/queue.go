package server

import "sync"

// outQueue is the unbounded FIFO of encoded frames between the session
// fabric and one connection writer. Sends to a live member are never
// dropped for backpressure; the shuffle goroutine buffers whatever the
// writer has not drained yet. Frames are write-once and may be shared
// between queues.
type outQueue struct {
	in   chan []byte
	out  chan []byte
	done chan struct{}
	once sync.Once
}

func newOutQueue() *outQueue {
	q := &outQueue{
		in:   make(chan []byte, 16),
		out:  make(chan []byte),
		done: make(chan struct{}),
	}
	go q.shuffle()
	return q
}

// Push enqueues a frame. Once Close has returned, Push reports false.
func (q *outQueue) Push(frame []byte) bool {
	select {
	case <-q.done:
		return false
	default:
	}
	select {
	case q.in <- frame:
		return true
	case <-q.done:
		return false
	}
}

// Close stops the queue and closes the out channel, releasing the writer.
// Undelivered frames are discarded, though one already offered to the
// writer may still arrive first.
func (q *outQueue) Close() {
	q.once.Do(func() { close(q.done) })
}

func (q *outQueue) shuffle() {
	var buf [][]byte
	for {
		select {
		case <-q.done:
			close(q.out)
			return
		default:
		}
		out := q.out
		var next []byte
		if len(buf) == 0 {
			out = nil
		} else {
			next = buf[0]
		}
		select {
		case frame := <-q.in:
			buf = append(buf, frame)
		case out <- next:
			buf[0] = nil
			buf = buf[1:]
		case <-q.done:
			close(q.out)
			return
		}
	}
}
