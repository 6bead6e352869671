package client

import (
	"container/heap"
	"sync"
	"time"
)

// replyResult resolves one correlated request: the ack's success flag, or
// a terminal error such as ErrTimeout.
type replyResult struct {
	success bool
	err     error
}

type pendingReply struct {
	correlationID string
	expiresAt     time.Time
}

// expiryHeap orders pending replies by deadline, soonest first.
type expiryHeap []pendingReply

func (h expiryHeap) Len() int           { return len(h) }
func (h expiryHeap) Less(i, j int) bool { return h[i].expiresAt.Before(h[j].expiresAt) }
func (h expiryHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *expiryHeap) Push(x any)        { *h = append(*h, x.(pendingReply)) }
func (h *expiryHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// replyManager correlates request ids with one-shot results. Each id
// resolves at most once: whoever removes the pending entry first wins and
// later resolutions are dropped. Expired entries are collected by the
// periodic vacuum in O(k log n).
type replyManager struct {
	mu      sync.Mutex
	pending map[string]chan replyResult

	hmu  sync.Mutex
	heap expiryHeap
}

func newReplyManager() *replyManager {
	return &replyManager{pending: make(map[string]chan replyResult)}
}

// register creates the pending entry and its expiry record, returning the
// channel the result will land on.
func (r *replyManager) register(correlationID string, expiresAt time.Time) <-chan replyResult {
	ch := make(chan replyResult, 1)
	r.mu.Lock()
	r.pending[correlationID] = ch
	r.mu.Unlock()
	r.hmu.Lock()
	heap.Push(&r.heap, pendingReply{correlationID: correlationID, expiresAt: expiresAt})
	r.hmu.Unlock()
	return ch
}

// resolve completes the wait for correlationID. Reports false when the id
// is unknown or already resolved.
func (r *replyManager) resolve(correlationID string, res replyResult) bool {
	r.mu.Lock()
	ch, ok := r.pending[correlationID]
	if ok {
		delete(r.pending, correlationID)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}
	ch <- res
	return true
}

// forget abandons a wait without resolving it, for callers whose context
// expired first.
func (r *replyManager) forget(correlationID string) {
	r.mu.Lock()
	delete(r.pending, correlationID)
	r.mu.Unlock()
}

// vacuum times out every entry whose deadline passed and reports how many
// were still pending. Heap records of already-resolved ids are discarded
// lazily here.
func (r *replyManager) vacuum(now time.Time) int {
	var due []string
	r.hmu.Lock()
	for r.heap.Len() > 0 && !r.heap[0].expiresAt.After(now) {
		due = append(due, heap.Pop(&r.heap).(pendingReply).correlationID)
	}
	r.hmu.Unlock()
	n := 0
	for _, id := range due {
		if r.resolve(id, replyResult{err: ErrTimeout}) {
			n++
		}
	}
	return n
}
