package mediasched

import "sync"

// SQStreamKind classifies a SyncQueue stream. It is recorded per stream but
// does not affect release or finish behavior: whether a stream paces the
// queue (and cascades its finish to other streams) is decided by
// AddStream's limiting flag alone, whatever the stream's kind.
type SQStreamKind int

const (
	SQVideo SQStreamKind = iota
	SQAudio
	SQSubtitle
	SQData
)

type syncQueueStream[T any] struct {
	tb       TimeBase
	kind     SQStreamKind
	limiting bool
	finished bool

	// headTS, in headTB, is the largest timestamp ever seen for this
	// stream (real or heartbeat-injected): a monotone non-decreasing
	// scalar, independent of what's still queued. Grounded on
	// SyncQueueStream.head_ts in sync_queue.c, whose own comment calls
	// it "stream head: largest timestamp seen" - it is updated only by
	// stream_update_ts, never derived from the fifo.
	headTS int64
	headTB TimeBase

	// frameSize, once set via SetFrameSize, makes Receive split this
	// stream's head item into fixed-size chunks (sq_frame_samples) rather
	// than releasing it whole; 0 means "no splitting".
	frameSize int

	queue []T
}

// SyncQueue is a time-ordered reorder buffer across N streams: it releases
// the item with the earliest timestamp across all non-finished streams,
// injecting a synthetic head timestamp into lagging streams when one
// stream runs far enough ahead that it would otherwise buffer without
// bound - this is a pure bookkeeping update (nothing is enqueued on the
// lagging stream's behalf), so it unblocks the ahead stream without ever
// fabricating output for a stream that hasn't produced any. Finishing a
// "limiting" (pacing) stream cascades: every other
// non-finished stream whose head is already at or past the limiting
// stream's last timestamp is finished too, since it can never receive
// anything the limiting stream didn't already account for.
//
// Grounded directly on fftools/sync_queue.c, the C implementation this
// package's semantics were distilled from; tsFunc/isFlush let the same
// implementation serve both Packet and Frame streams without an interface
// constraint.
type SyncQueue[T any] struct {
	mu   sync.Mutex
	cond *sync.Cond

	streams []*syncQueueStream[T]

	bufSizeUS int64

	tsFunc  func(T) (int64, TimeBase)
	isFlush func(T) bool

	// split, if non-nil, supports SetFrameSize: it splits item into a head
	// chunk of exactly n units (e.g. audio samples) and a rest chunk
	// holding whatever remains, reporting ok=false if item has n or fewer
	// units (nothing to split off). Packet-typed queues never set this.
	split func(item T, n int) (head, rest T, ok bool)
}

// NewSyncQueue constructs an empty SyncQueue. bufSizeUS bounds how far (in
// microseconds) the furthest-ahead stream's head may run past the oldest
// item still queued on that stream before every other non-finished
// stream's head timestamp is force-advanced; tsFunc extracts an item's
// timestamp and isFlush reports whether an item is an EOF/flush marker.
func NewSyncQueue[T any](
	bufSizeUS int64,
	tsFunc func(T) (int64, TimeBase),
	isFlush func(T) bool,
) *SyncQueue[T] {
	q := &SyncQueue[T]{
		bufSizeUS: bufSizeUS,
		tsFunc:    tsFunc,
		isFlush:   isFlush,
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// WithFrameSplit installs the splitter SetFrameSize needs to honor
// sq_frame_samples, returning q for chaining. Only ever called for a
// Frame-typed queue (see AddEncodeSyncQueue).
func (q *SyncQueue[T]) WithFrameSplit(split func(item T, n int) (head, rest T, ok bool)) *SyncQueue[T] {
	q.split = split
	return q
}

// SetFrameSize configures stream to release fixed-size chunks of n units
// (typically audio samples) instead of whole items, once the queue was
// constructed with WithFrameSplit. It mirrors sq_frame_samples: called once
// an encoder's open callback reports the frame size it requires, which is
// only known after its first frame is seen (see SPEC_FULL §4.9).
func (q *SyncQueue[T]) SetFrameSize(stream, n int) {
	q.mu.Lock()
	q.streams[stream].frameSize = n
	q.cond.Broadcast()
	q.mu.Unlock()
}

// AddStream registers a new stream, returning its index.
func (q *SyncQueue[T]) AddStream(tb TimeBase, kind SQStreamKind, limiting bool) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.streams = append(q.streams, &syncQueueStream[T]{tb: tb, kind: kind, limiting: limiting, headTS: NoTimestamp})
	return len(q.streams) - 1
}

// SetTimeBase updates the time base of an already-registered stream.
func (q *SyncQueue[T]) SetTimeBase(stream int, tb TimeBase) {
	q.mu.Lock()
	q.streams[stream].tb = tb
	q.mu.Unlock()
}

// Send enqueues item for stream. If isFlush(item) reports true, the stream
// finishes immediately (and cascades per the finish rule above) instead of
// being enqueued.
func (q *SyncQueue[T]) Send(stream int, item T) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.isFlush(item) {
		q.finishStreamLocked(stream)
		q.cond.Broadcast()
		return
	}

	st := q.streams[stream]
	st.queue = append(st.queue, item)
	ts, tb := q.tsFunc(item)
	q.advanceHeadLocked(stream, ts, tb)
	q.cond.Broadcast()
}

// advanceHeadLocked applies stream_update_ts: a stream's head only ever
// moves forward (the largest timestamp wins, real or heartbeat-injected),
// so a stale or out-of-order update is silently ignored. Reports whether
// it advanced.
func (q *SyncQueue[T]) advanceHeadLocked(i int, ts int64, tb TimeBase) bool {
	st := q.streams[i]
	if ts == NoTimestamp || (st.headTS != NoTimestamp && CompareTS(st.headTS, st.headTB, ts, tb) >= 0) {
		return false
	}
	st.headTS, st.headTB = ts, tb
	return true
}

// Finish marks stream as finished without sending a flush item (used when
// the upstream goroutine exits without ever producing one).
func (q *SyncQueue[T]) Finish(stream int) {
	q.mu.Lock()
	q.finishStreamLocked(stream)
	q.cond.Broadcast()
	q.mu.Unlock()
}

// finishStreamLocked marks stream i finished and, if it is a limiting
// stream that reached a known head timestamp, cascades: any other
// non-finished stream already at or past that timestamp can never
// receive anything the finishing stream didn't already account for, so
// it finishes too. A limiting stream that finishes without ever having
// seen a timestamp does not cascade at all - there is nothing yet to
// compare other streams against. Grounded on finish_stream in
// sync_queue.c; other.headTS == NoTimestamp never triggers the cascade,
// matching its `st1->head_ts != AV_NOPTS_VALUE` guard - a stream that has
// never sent anything is not assumed to be "caught up".
func (q *SyncQueue[T]) finishStreamLocked(i int) {
	st := q.streams[i]
	if st.finished {
		return
	}
	st.finished = true

	if !st.limiting || st.headTS == NoTimestamp {
		return
	}
	for j, other := range q.streams {
		if j == i || other.finished {
			continue
		}
		if other.headTS != NoTimestamp && CompareTS(st.headTS, st.headTB, other.headTS, other.headTB) <= 0 {
			q.finishStreamLocked(j)
		}
	}
}

// Receive blocks until stream's (or, if stream < 0, any stream's) oldest
// item becomes releasable, every relevant stream has finished, or a
// heartbeat makes progress possible. It returns the stream the item came
// from (useful when stream < 0) and the item itself; err is Eof once the
// relevant streams are exhausted.
func (q *SyncQueue[T]) Receive(stream int) (int, T, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	retriedHeartbeat := false
	for {
		if s, item, ok := q.receiveLocked(stream); ok {
			return s, item, nil
		}
		if q.allFinishedLocked(stream) {
			var zero T
			return -1, zero, Eof
		}
		if !retriedHeartbeat && q.overflowHeartbeatLocked() {
			retriedHeartbeat = true
			continue
		}
		retriedHeartbeat = false
		q.cond.Wait()
	}
}

func (q *SyncQueue[T]) receiveLocked(want int) (int, T, bool) {
	if want < 0 {
		// pick the releasable stream whose oldest item is earliest
		bestTS, bestTB := int64(NoTimestamp), TimeBase{}
		for i, st := range q.streams {
			if len(st.queue) == 0 || !q.streamReleasableLocked(i) {
				continue
			}
			ts, tb := q.tsFunc(st.queue[0])
			if want < 0 || (bestTS != NoTimestamp && (ts == NoTimestamp || CompareTS(ts, tb, bestTS, bestTB) < 0)) {
				want, bestTS, bestTB = i, ts, tb
			}
		}
	}
	for i, st := range q.streams {
		if want >= 0 && i != want {
			continue
		}
		if len(st.queue) == 0 {
			continue
		}
		if !q.streamReleasableLocked(i) {
			continue
		}

		item := st.queue[0]
		if st.frameSize > 0 && q.split != nil {
			if head, rest, ok := q.split(item, st.frameSize); ok {
				st.queue[0] = rest
				q.cond.Broadcast()
				return i, head, true
			}
		}

		st.queue = st.queue[1:]
		q.cond.Broadcast()
		return i, item, true
	}
	var zero T
	return -1, zero, false
}

// streamReleasableLocked reports whether stream i's head item is safe to
// release: no other non-finished stream could still produce something
// earlier.
func (q *SyncQueue[T]) streamReleasableLocked(i int) bool {
	st := q.streams[i]
	ts, tb := q.tsFunc(st.queue[0])
	for j, other := range q.streams {
		if j == i || other.finished {
			continue
		}
		if other.headTS == NoTimestamp {
			return false
		}
		if ts != NoTimestamp && CompareTS(ts, tb, other.headTS, other.headTB) > 0 {
			return false
		}
	}
	return true
}

func (q *SyncQueue[T]) allFinishedLocked(want int) bool {
	for i, st := range q.streams {
		if want >= 0 && i != want {
			continue
		}
		if !st.finished || len(st.queue) > 0 {
			return false
		}
	}
	return true
}

// overflowHeartbeatLocked picks the stream that is most ahead (by head
// timestamp - finished streams are eligible candidates too, only an
// unset head disqualifies one) and checks its own backlog: the oldest
// timestamp still sitting in its queue. If that stream's head-to-tail
// span exceeds bufSizeUS, its queue is overflowing because every OTHER
// non-finished stream is holding it back, so every such stream - whether
// it's merely lagging or has never produced a single item, headTS ==
// NoTimestamp included - gets its head force-advanced to just past that
// tail, clamped to stay monotone. This is a pure bookkeeping update: it
// never enqueues anything, so a permanently silent limiting stream can
// no longer hold a fast stream's queue open forever. Reports whether any
// stream advanced. Grounded directly on overflow_heartbeat in
// sync_queue.c.
func (q *SyncQueue[T]) overflowHeartbeatLocked() bool {
	aheadIdx := -1
	var aheadTS int64 = NoTimestamp
	var aheadTB TimeBase
	for i, st := range q.streams {
		if st.headTS == NoTimestamp {
			continue
		}
		if aheadTS == NoTimestamp || CompareTS(aheadTS, aheadTB, st.headTS, st.headTB) < 0 {
			aheadIdx, aheadTS, aheadTB = i, st.headTS, st.headTB
		}
	}
	if aheadIdx < 0 {
		return false
	}
	ahead := q.streams[aheadIdx]

	tailTS := int64(NoTimestamp)
	var tailTB TimeBase
	for _, item := range ahead.queue {
		if t, tb := q.tsFunc(item); t != NoTimestamp {
			tailTS, tailTB = t, tb
			break
		}
	}
	if tailTS == NoTimestamp || CompareTS(tailTS, tailTB, aheadTS, aheadTB) >= 0 ||
		Rescale(aheadTS, aheadTB, CanonicalTimeBase)-Rescale(tailTS, tailTB, CanonicalTimeBase) < q.bufSizeUS {
		return false
	}
	tailTS++

	progressed := false
	for i, other := range q.streams {
		if i == aheadIdx || other.finished ||
			(other.headTS != NoTimestamp && CompareTS(tailTS, tailTB, other.headTS, other.headTB) <= 0) {
			continue
		}
		ts := Rescale(tailTS, tailTB, other.tb)
		if other.headTS != NoTimestamp && ts < other.headTS+1 {
			ts = other.headTS + 1
		}
		if q.advanceHeadLocked(i, ts, other.tb) {
			progressed = true
		}
	}
	return progressed
}
