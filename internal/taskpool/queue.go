// Package taskpool distributes deferred work across a fixed set of
// worker goroutines, each owning a lock-free multi-producer
// single-consumer queue. Placement uses power-of-two choices to bound
// queue imbalance without a global load index.
package taskpool

import "sync/atomic"

// mpscNode is an intrusive linked-list node carrying one task.
type mpscNode struct {
	next atomic.Pointer[mpscNode]
	task func()
}

// mpscQueue is a Vyukov-style lock-free multi-producer single-consumer
// queue. Push is wait-free for any number of producers; Pop must only be
// called by the single owning consumer. An approximate length counter
// supports load-aware placement.
type mpscQueue struct {
	head atomic.Pointer[mpscNode] // consumer side, points at a stub
	tail atomic.Pointer[mpscNode] // producer side
	n    atomic.Int64
}

func newMPSCQueue() *mpscQueue {
	q := &mpscQueue{}
	stub := &mpscNode{}
	q.head.Store(stub)
	q.tail.Store(stub)
	return q
}

// Push appends task. Safe for concurrent producers.
func (q *mpscQueue) Push(task func()) {
	n := &mpscNode{task: task}
	prev := q.tail.Swap(n)
	prev.next.Store(n)
	q.n.Add(1)
}

// Pop removes the oldest task, or returns nil when the queue is
// momentarily empty. Owner-only.
func (q *mpscQueue) Pop() func() {
	head := q.head.Load()
	next := head.next.Load()
	if next == nil {
		return nil
	}
	q.head.Store(next)
	task := next.task
	next.task = nil
	q.n.Add(-1)
	return task
}

// Len is approximate occupancy; placement only needs a relative
// ordering between two sampled queues.
func (q *mpscQueue) Len() int {
	n := q.n.Load()
	if n < 0 {
		return 0
	}
	return int(n)
}
