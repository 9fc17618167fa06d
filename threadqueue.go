package mediasched

import "sync"

// threadQueueItem is the pooled container ThreadQueue recycles through its
// ContainerFifo.
type threadQueueItem[T any] struct {
	stream int
	data   T
}

// ThreadQueue is a bounded, multi-stream, blocking FIFO used to hand
// Packets or Frames from one graph node's goroutine to the next. Each
// stream has independent send-finished/receive-finished latches: Send
// returns Eof once the receiver has stopped listening to its stream (even
// if the queue has spare capacity), and Receive hands back Eof for a given
// stream exactly once before folding it into the "all streams done"
// terminal Eof.
//
// No library in the retrieval pack offers a blocking multi-producer,
// multi-stream queue with broadcast wakeup and per-stream EOF latches (see
// DESIGN.md); ThreadQueue is built directly on sync.Mutex + sync.Cond.
type ThreadQueue[T any] struct {
	mu   sync.Mutex
	cond *sync.Cond

	cap  int
	fifo *ContainerFifo[*threadQueueItem[T]]

	sendFinished []bool
	recvFinished []bool
}

// NewThreadQueue constructs a queue of the given capacity (falling back to
// DefaultPacketQueueSize if capacity <= 0) serving nbStreams independent
// streams.
func NewThreadQueue[T any](capacity, nbStreams int) *ThreadQueue[T] {
	if capacity <= 0 {
		capacity = DefaultPacketQueueSize
	}
	pool := NewObjectPool(capacity,
		func() *threadQueueItem[T] { return &threadQueueItem[T]{} },
		func(v *threadQueueItem[T]) *threadQueueItem[T] {
			var zero T
			v.data = zero
			v.stream = 0
			return v
		},
	)
	q := &ThreadQueue[T]{
		cap:          capacity,
		fifo:         NewContainerFifo(pool),
		sendFinished: make([]bool, nbStreams),
		recvFinished: make([]bool, nbStreams),
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// NbStreams reports how many independent streams this queue was created
// for.
func (q *ThreadQueue[T]) NbStreams() int { return len(q.sendFinished) }

// Send blocks while the queue is full, then enqueues data for stream. It
// returns Eof without blocking if the receiving side has already called
// ReceiveFinish for this stream (the data is discarded); callers must stop
// calling Send for a stream once it returns Eof.
func (q *ThreadQueue[T]) Send(stream int, data T) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.recvFinished[stream] {
		return Eof
	}

	for q.fifo.Len() >= q.cap {
		q.cond.Wait()
		if q.recvFinished[stream] {
			return Eof
		}
	}

	q.fifo.Push(func(dst *threadQueueItem[T]) {
		dst.stream = stream
		dst.data = data
	})
	q.cond.Broadcast()
	return nil
}

// Receive blocks until an item is available, a stream finishes (returning
// that stream's index and Eof, exactly once), or every stream has finished
// (returning stream -1 and Eof).
func (q *ThreadQueue[T]) Receive() (stream int, data T, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for {
		for q.fifo.Len() > 0 {
			var item threadQueueItem[T]
			q.fifo.Pop(func(src *threadQueueItem[T]) { item = *src })
			if q.recvFinished[item.stream] {
				// the receiver already gave up on this stream; drop
				// silently and keep draining.
				continue
			}
			q.cond.Broadcast()
			return item.stream, item.data, nil
		}

		nbFinished := 0
		for i := range q.sendFinished {
			switch {
			case q.sendFinished[i] && q.recvFinished[i]:
				nbFinished++
			case q.sendFinished[i] && !q.recvFinished[i]:
				q.recvFinished[i] = true
				q.cond.Broadcast()
				var zero T
				return i, zero, Eof
			}
		}
		if nbFinished == len(q.sendFinished) {
			var zero T
			return -1, zero, Eof
		}

		q.cond.Wait()
	}
}

// SendFinish idempotently marks stream as finished on the send side,
// equivalent to calling Send with a flush/EOF marker without needing one.
func (q *ThreadQueue[T]) SendFinish(stream int) {
	q.mu.Lock()
	if !q.sendFinished[stream] {
		q.sendFinished[stream] = true
		q.cond.Broadcast()
	}
	q.mu.Unlock()
}

// ReceiveFinish idempotently marks stream as finished on the receive side:
// subsequent Sends for that stream return Eof without blocking, and any
// already-queued items for that stream are discarded the next time Receive
// drains past them.
func (q *ThreadQueue[T]) ReceiveFinish(stream int) {
	q.mu.Lock()
	if !q.recvFinished[stream] {
		q.recvFinished[stream] = true
		q.cond.Broadcast()
	}
	q.mu.Unlock()
}
