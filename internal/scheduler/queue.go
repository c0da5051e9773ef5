package scheduler

import (
	"container/heap"
	"sync"

	"github.com/cuemby/usbthief/internal/model"
)

// priorityHeap is a container/heap max-heap over model.PriorityTask,
// ordered by model.PriorityTask.Less (priority descending, then FIFO).
type priorityHeap []model.PriorityTask

func (h priorityHeap) Len() int            { return len(h) }
func (h priorityHeap) Less(i, j int) bool  { return h[i].Less(h[j]) }
func (h priorityHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *priorityHeap) Push(x interface{}) { *h = append(*h, x.(model.PriorityTask)) }
func (h *priorityHeap) Pop() interface{} {
	old := *h
	n := len(old)
	last := old[n-1]
	*h = old[0 : n-1]
	return last
}

// queue is the scheduler's priority queue: a container/heap priorityHeap
// protected by its own mutex, independent of the accumulation flag.
type queue struct {
	mu   sync.Mutex
	heap priorityHeap
}

func newQueue() *queue {
	q := &queue{}
	heap.Init(&q.heap)
	return q
}

// push inserts a task, returning false if the queue is already at cap.
func (q *queue) push(task model.PriorityTask, cap int) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if cap > 0 && len(q.heap) >= cap {
		return false
	}
	heap.Push(&q.heap, task)
	return true
}

// pop removes and returns the highest-priority task, if any.
func (q *queue) pop() (model.PriorityTask, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.heap) == 0 {
		return model.PriorityTask{}, false
	}
	return heap.Pop(&q.heap).(model.PriorityTask), true
}

// len returns the current queue depth.
func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.heap)
}
