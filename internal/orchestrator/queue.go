package orchestrator

import (
	"bytes"
	"container/heap"

	"github.com/google/uuid"
)

// dispatchItem is one device awaiting admission. Update rows are created
// lazily at dispatch time, so the queue holds device IDs, not updates.
type dispatchItem struct {
	deviceID uuid.UUID
	priority int
}

// dispatchQueue orders pending devices by priority descending, then device
// ID ascending so equal-priority dispatch order is deterministic.
type dispatchQueue []dispatchItem

func (q dispatchQueue) Len() int { return len(q) }

func (q dispatchQueue) Less(i, j int) bool {
	if q[i].priority != q[j].priority {
		return q[i].priority > q[j].priority
	}
	return bytes.Compare(q[i].deviceID[:], q[j].deviceID[:]) < 0
}

func (q dispatchQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *dispatchQueue) Push(x interface{}) {
	*q = append(*q, x.(dispatchItem))
}

func (q *dispatchQueue) Pop() interface{} {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}

func newDispatchQueue() *dispatchQueue {
	q := &dispatchQueue{}
	heap.Init(q)
	return q
}

func (q *dispatchQueue) push(deviceID uuid.UUID, priority int) {
	heap.Push(q, dispatchItem{deviceID: deviceID, priority: priority})
}

func (q *dispatchQueue) pop() (dispatchItem, bool) {
	if q.Len() == 0 {
		return dispatchItem{}, false
	}
	return heap.Pop(q).(dispatchItem), true
}
