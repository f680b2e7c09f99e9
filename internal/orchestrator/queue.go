package orchestrator

import (
	"container/heap"

	"voxelflow.ai/internal/chunk"
)

type queueItem struct {
	addr     chunk.Address
	priority float64
	seq      uint64
}

// itemHeap orders by priority, then insertion order.
type itemHeap []queueItem

func (h itemHeap) Len() int { return len(h) }
func (h itemHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].seq < h[j].seq
}
func (h itemHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *itemHeap) Push(x any)   { *h = append(*h, x.(queueItem)) }
func (h *itemHeap) Pop() any {
	old := *h
	it := old[len(old)-1]
	*h = old[:len(old)-1]
	return it
}

// priorityQueue is the nearest-first admission queue. Entries are validated
// when popped; removing an address just marks its record.
type priorityQueue struct {
	h   itemHeap
	seq uint64
}

func (q *priorityQueue) push(a chunk.Address, priority float64) {
	q.seq++
	heap.Push(&q.h, queueItem{addr: a, priority: priority, seq: q.seq})
}

func (q *priorityQueue) peek() (queueItem, bool) {
	if len(q.h) == 0 {
		return queueItem{}, false
	}
	return q.h[0], true
}

func (q *priorityQueue) pop() queueItem { return heap.Pop(&q.h).(queueItem) }

func (q *priorityQueue) len() int { return len(q.h) }
