package session

// Queue is a FIFO buffer owned by a single state machine. It is not safe
// for concurrent use; the session loop is its only user.
type Queue[T any] struct {
	items []T
}

func (q *Queue[T]) Push(v T) {
	q.items = append(q.items, v)
}

// Pop removes and returns the oldest item.
func (q *Queue[T]) Pop() (T, bool) {
	var zero T
	if len(q.items) == 0 {
		return zero, false
	}
	v := q.items[0]
	q.items[0] = zero
	q.items = q.items[1:]
	return v, true
}

// Drain empties the queue and returns its items in arrival order.
func (q *Queue[T]) Drain() []T {
	out := q.items
	q.items = nil
	return out
}

func (q *Queue[T]) Len() int { return len(q.items) }

func (q *Queue[T]) Clear() { q.items = nil }
