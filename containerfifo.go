package mediasched

// ContainerFifo is an unbounded FIFO of pooled container values. Push and
// Pop take callbacks rather than the value directly, so that the caller
// controls exactly how data is copied into (and out of) the pooled
// container — packets are moved (ownership transfers fully), frames are
// sometimes cloned (when fanned out to more than one destination) — without
// ContainerFifo itself needing to know which. It is not safe for concurrent
// use; callers synchronize externally (ThreadQueue does this).
type ContainerFifo[T any] struct {
	pool  *ObjectPool[T]
	items []T
	head  int
	count int
}

// NewContainerFifo constructs an empty FIFO backed by pool.
func NewContainerFifo[T any](pool *ObjectPool[T]) *ContainerFifo[T] {
	return &ContainerFifo[T]{pool: pool, items: make([]T, 4)}
}

// Len reports the number of queued containers.
func (f *ContainerFifo[T]) Len() int { return f.count }

func (f *ContainerFifo[T]) grow() {
	newCap := len(f.items) * 2
	if newCap == 0 {
		newCap = 4
	}
	newItems := make([]T, newCap)
	for i := 0; i < f.count; i++ {
		newItems[i] = f.items[(f.head+i)%len(f.items)]
	}
	f.items = newItems
	f.head = 0
}

// Push obtains a container from the pool, lets fill populate it, and
// appends it to the back of the queue.
func (f *ContainerFifo[T]) Push(fill func(dst T)) {
	v := f.pool.Get()
	fill(v)
	if f.count == len(f.items) {
		f.grow()
	}
	f.items[(f.head+f.count)%len(f.items)] = v
	f.count++
}

// Pop removes the front container, lets drain consume it, then returns it
// to the pool. It reports false if the queue was empty.
func (f *ContainerFifo[T]) Pop(drain func(src T)) bool {
	if f.count == 0 {
		return false
	}
	v := f.items[f.head]
	var zero T
	f.items[f.head] = zero
	f.head = (f.head + 1) % len(f.items)
	f.count--
	drain(v)
	f.pool.Put(v)
	return true
}

// Peek lets view inspect the front container without removing it. It
// reports false if the queue was empty.
func (f *ContainerFifo[T]) Peek(view func(src T)) bool {
	if f.count == 0 {
		return false
	}
	view(f.items[f.head])
	return true
}
