package scheduler

import (
	"container/heap"

	"github.com/vinayprograms/schedkit/tasks"
)

// item is a queued unit with its insertion sequence. The sequence
// breaks priority ties so equal-priority tasks run in submission order,
// and it is preserved across re-enqueues so a retried task keeps its
// place among its peers.
type item struct {
	unit *tasks.Unit
	seq  uint64
}

// queue is a max-heap over task priority.
type queue struct {
	items   []*item
	nextSeq uint64
}

func newQueue() *queue {
	q := &queue{}
	heap.Init(q)
	return q
}

func (q *queue) Len() int { return len(q.items) }

func (q *queue) Less(i, j int) bool {
	a, b := q.items[i], q.items[j]
	if a.unit.Priority() != b.unit.Priority() {
		return a.unit.Priority() > b.unit.Priority()
	}
	return a.seq < b.seq
}

func (q *queue) Swap(i, j int) {
	q.items[i], q.items[j] = q.items[j], q.items[i]
}

func (q *queue) Push(x any) {
	q.items = append(q.items, x.(*item))
}

func (q *queue) Pop() any {
	old := q.items
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	q.items = old[:n-1]
	return it
}

// add enqueues a unit with a fresh sequence number.
func (q *queue) add(unit *tasks.Unit) {
	heap.Push(q, &item{unit: unit, seq: q.nextSeq})
	q.nextSeq++
}

// readd re-enqueues an item keeping its original sequence.
func (q *queue) readd(it *item) {
	heap.Push(q, it)
}

// next removes and returns the highest-priority item.
func (q *queue) next() *item {
	if q.Len() == 0 {
		return nil
	}
	return heap.Pop(q).(*item)
}
