package accel

// recordQueue is a FIFO of record ids
type recordQueue struct {
	items []RecordID
	head  int
}

func (q *recordQueue) Push(id RecordID) {
	q.items = append(q.items, id)
}

func (q *recordQueue) Front() (RecordID, bool) {
	if q.head >= len(q.items) {
		return RecordID{}, false
	}

	return q.items[q.head], true
}

func (q *recordQueue) Pop() {
	if q.head >= len(q.items) {
		panic("attempted to pop from an empty record queue")
	}

	q.items[q.head] = RecordID{}
	q.head++

	// Reclaim the consumed prefix once it dominates the backing array
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
	} else if q.head >= 32 && q.head*2 >= len(q.items) {
		remaining := copy(q.items, q.items[q.head:])
		q.items = q.items[:remaining]
		q.head = 0
	}
}

func (q *recordQueue) Len() int {
	return len(q.items) - q.head
}

// Visit calls visitor for every queued id from front to back
func (q *recordQueue) Visit(visitor func(id RecordID)) {
	for _, id := range q.items[q.head:] {
		visitor(id)
	}
}
