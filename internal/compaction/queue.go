package compaction

import "container/heap"

// taskQueue is a priority queue of pending tasks: higher Priority first,
// ties broken by earlier submission order.
type taskQueue struct {
	items []*Task
}

func (q *taskQueue) Len() int { return len(q.items) }
func (q *taskQueue) Less(i, j int) bool {
	a, b := q.items[i], q.items[j]
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	return a.seq < b.seq
}
func (q *taskQueue) Swap(i, j int) { q.items[i], q.items[j] = q.items[j], q.items[i] }
func (q *taskQueue) Push(x any)    { q.items = append(q.items, x.(*Task)) }
func (q *taskQueue) Pop() any {
	old := q.items
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	q.items = old[:n-1]
	return item
}

func (q *taskQueue) push(t *Task) { heap.Push(q, t) }
func (q *taskQueue) pop() *Task {
	if q.Len() == 0 {
		return nil
	}
	return heap.Pop(q).(*Task)
}
