package mediasched

// PreMuxQueue buffers packets for one muxer stream until the muxer's
// startup barrier releases (see muxTaskStartLocked in mux.go). Its growth policy
// mirrors mux_queue_packet in fftools/ffmpeg_sched.c: it grows by doubling,
// but once the buffered data size exceeds DataThreshold, growth is capped
// at MaxPackets and any push beyond that returns ErrBufferTooSmall.
type PreMuxQueue struct {
	items []*Packet // nil entry == EOF/finish marker for that position

	dataSize      int
	DataThreshold int
	MaxPackets    int

	// InitEOF is not set or read by the scheduler, and Push does not
	// consult it; the latch for an Eof returned during barrier drain is
	// kept on the muxer stream instead (muxStream.initEOF in mux.go).
	InitEOF bool
}

// NewPreMuxQueue returns an empty, initially-unbounded pre-mux queue.
func NewPreMuxQueue() *PreMuxQueue {
	return &PreMuxQueue{MaxPackets: -1}
}

// Push buffers pkt (nil meaning "no more packets for this stream"), sized
// for accounting purposes by size (typically the encoded payload length).
// It returns ErrBufferTooSmall once growth would exceed MaxPackets after
// DataThreshold has been exceeded.
func (q *PreMuxQueue) Push(pkt *Packet, size int) error {
	threshReached := q.DataThreshold > 0 && q.dataSize+size > q.DataThreshold
	if threshReached && q.MaxPackets > 0 && len(q.items) >= q.MaxPackets {
		return ErrBufferTooSmall
	}
	if pkt != nil {
		q.dataSize += size
	}
	q.items = append(q.items, pkt)
	return nil
}

// Peek returns the front item (nil, true) for an EOF marker, or (pkt, true)
// for a buffered packet, without removing it. It returns (nil, false) if
// the queue is empty. Non-destructive, so the mux startup barrier can
// compare every stream's next packet before committing to drain any one of
// them (mirrors av_fifo_peek in mux_task_start).
func (q *PreMuxQueue) Peek() (*Packet, bool) {
	if len(q.items) == 0 {
		return nil, false
	}
	return q.items[0], true
}

// Pop removes and returns the front item.
func (q *PreMuxQueue) Pop() (*Packet, bool) {
	if len(q.items) == 0 {
		return nil, false
	}
	p := q.items[0]
	q.items = q.items[1:]
	return p, true
}

// Len reports the number of buffered items (including any EOF marker).
func (q *PreMuxQueue) Len() int { return len(q.items) }
