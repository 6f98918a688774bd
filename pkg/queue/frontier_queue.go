package queue

import (
	"container/heap"
	"sync"

	"github.com/sirupsen/logrus"

	"site-auditor/pkg/models"
)

// frontierItem is one queued work item. seq breaks ties within a depth so
// items at the same depth come out in enqueue order (FIFO), which makes a
// single-worker crawl reproduce strict breadth-first order.
type frontierItem struct {
	workItem *models.WorkItem
	seq      uint64
	index    int // heap bookkeeping
}

// frontierHeap implements heap.Interface ordered by (depth, seq).
type frontierHeap []*frontierItem

func (h frontierHeap) Len() int { return len(h) }

func (h frontierHeap) Less(i, j int) bool {
	if h[i].workItem.Depth != h[j].workItem.Depth {
		return h[i].workItem.Depth < h[j].workItem.Depth
	}
	return h[i].seq < h[j].seq
}

func (h frontierHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *frontierHeap) Push(x any) {
	n := len(*h)
	item := x.(*frontierItem)
	item.index = n
	*h = append(*h, item)
}

func (h *frontierHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil // avoid memory leak
	item.index = -1
	*h = old[0 : n-1]
	return item
}

// FrontierQueue is the blocking, depth-ordered work queue feeding crawl
// workers. Shallower URLs are always dispensed before deeper ones; within a
// depth, enqueue order is preserved.
type FrontierQueue struct {
	heap    frontierHeap
	mu      sync.Mutex
	cond    *sync.Cond // Condition variable to wait for items
	closed  bool
	nextSeq uint64
	log     *logrus.Logger
}

// NewFrontierQueue creates a new frontier queue
func NewFrontierQueue(logger *logrus.Logger) *FrontierQueue {
	q := &FrontierQueue{log: logger}
	q.cond = sync.NewCond(&q.mu)
	heap.Init(&q.heap)
	return q
}

// Add pushes a work item onto the queue
func (q *FrontierQueue) Add(item *models.WorkItem) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		q.log.Warnf("Attempted to add item to closed queue: %s", item.URL)
		return
	}

	heap.Push(&q.heap, &frontierItem{workItem: item, seq: q.nextSeq})
	q.nextSeq++
	q.cond.Signal() // Wake one waiting worker
}

// Pop retrieves and removes the shallowest work item. It blocks while the
// queue is empty until an item is added or the queue is closed.
// Returns the item and true, or nil and false once the queue is closed and
// drained.
func (q *FrontierQueue) Pop() (*models.WorkItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.heap) == 0 {
		if q.closed {
			return nil, false
		}
		// Wait releases the lock and reacquires it upon waking
		q.cond.Wait()
	}

	item := heap.Pop(&q.heap).(*frontierItem)
	return item.workItem, true
}

// Close signals that no more items will be added. Workers blocked in Pop
// wake up and exit once the queue drains.
func (q *FrontierQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		q.cond.Broadcast()
	}
}

// Len returns the current number of queued items
func (q *FrontierQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.heap)
}
