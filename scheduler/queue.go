package scheduler

import (
	"container/heap"
	"errors"
	"sync"
	"sync/atomic"
)

var (
	ErrQueueFull    = errors.New("pending queue is full")
	ErrInvalidJob   = errors.New("invalid job definition")
	ErrDuplicateJob = errors.New("job already queued")
)

// queueMetrics tracks operational metrics for the pending queue
type queueMetrics struct {
	EnqueueCount atomic.Int64
	DequeueCount atomic.Int64
	RemoveCount  atomic.Int64
}

// pendingQueue is a priority queue over job definitions using a min heap
// keyed on (priority descending, submission sequence ascending), so equal
// priorities dequeue in submission order.
type pendingQueue struct {
	items    *jobHeap
	capacity int
	lookup   map[string]*Definition
	metrics  *queueMetrics
	mu       sync.RWMutex
}

// jobHeap implements heap.Interface for Definitions
type jobHeap []*Definition

func (h *jobHeap) Len() int {
	return len(*h)
}

func (h *jobHeap) Less(i, j int) bool {
	a, b := (*h)[i], (*h)[j]
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	return a.seq < b.seq
}

func (h *jobHeap) Swap(i, j int) {
	(*h)[i], (*h)[j] = (*h)[j], (*h)[i]
}

func (h *jobHeap) Push(x any) {
	*h = append(*h, x.(*Definition))
}

func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[0 : n-1]
	return item
}

// newPendingQueue creates a pending queue with the specified capacity.
func newPendingQueue(capacity int) *pendingQueue {
	if capacity <= 0 {
		capacity = 1000
	}

	return &pendingQueue{
		items:    &jobHeap{},
		capacity: capacity,
		lookup:   make(map[string]*Definition),
		metrics:  &queueMetrics{},
	}
}

// push adds a job definition to the queue.
func (q *pendingQueue) push(def *Definition) error {
	if def == nil || def.ID == "" {
		return ErrInvalidJob
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if len(*q.items) >= q.capacity {
		return ErrQueueFull
	}
	if _, exists := q.lookup[def.ID]; exists {
		return ErrDuplicateJob
	}

	heap.Push(q.items, def)
	q.lookup[def.ID] = def
	q.metrics.EnqueueCount.Add(1)

	return nil
}

// pop removes and returns the highest-priority job, or nil when empty.
func (q *pendingQueue) pop() *Definition {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(*q.items) == 0 {
		return nil
	}

	def := heap.Pop(q.items).(*Definition)
	delete(q.lookup, def.ID)
	q.metrics.DequeueCount.Add(1)

	return def
}

// remove removes a job by ID and returns true if it was queued.
func (q *pendingQueue) remove(jobID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.lookup[jobID]; !exists {
		return false
	}

	for i, def := range *q.items {
		if def.ID == jobID {
			heap.Remove(q.items, i)
			delete(q.lookup, jobID)
			q.metrics.RemoveCount.Add(1)
			return true
		}
	}
	return false
}

// len returns the current number of queued jobs.
func (q *pendingQueue) len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(*q.items)
}

// getMetrics returns current queue metrics.
func (q *pendingQueue) getMetrics() map[string]int64 {
	return map[string]int64{
		"enqueue_count": q.metrics.EnqueueCount.Load(),
		"dequeue_count": q.metrics.DequeueCount.Load(),
		"remove_count":  q.metrics.RemoveCount.Load(),
		"queue_length":  int64(q.len()),
	}
}
