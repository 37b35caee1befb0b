package fifo

import (
	"sync"

	"github.com/caffix/queue"
)

// Queue is a caffix/queue that hands elements out in the order they were
// appended. The underlying heap has no tiebreak between equal priorities,
// so each element gets a strictly lower priority than the one before it.
type Queue struct {
	queue.Queue
	mu   sync.Mutex
	next int
}

// New returns an empty queue
func New() *Queue {
	return &Queue{Queue: queue.NewQueue()}
}

// Append adds data behind everything already queued
func (q *Queue) Append(data interface{}) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.next--
	q.Queue.AppendPriority(data, q.next)
}

// AppendPriority ignores priority; ordering is always insertion order.
func (q *Queue) AppendPriority(data interface{}, _ int) {
	q.Append(data)
}
