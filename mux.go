package mediasched

import (
	"context"
	"sync/atomic"
)

// MuxFunc is the task function a muxer node runs on its own goroutine.
type MuxFunc func(ctx context.Context, h *MuxHandle) error

type muxNode struct {
	queue          *ThreadQueue[*Packet]
	streams        []*muxStream
	started        atomic.Bool
	nbStreamsReady int
	init           func() error
	fn             MuxFunc
}

type muxStream struct {
	preMux          *PreMuxQueue
	src             NodeRef // the node feeding this stream, for choke propagation
	lastDTS         int64
	sourceFinished  bool
	initEOF         bool
	subHeartbeatDst []int
}

// MuxHandle is the muxer's view of the Scheduler.
type MuxHandle struct {
	sched *Scheduler
	idx   int
}

// Receive blocks until the next packet (or EOF) is available from any of
// this muxer's streams, returning which stream it came from.
func (h *MuxHandle) Receive() (int, *Packet, error) {
	return h.sched.mux[h.idx].queue.Receive()
}

// ReceiveFinish idempotently marks streamIdx as done receiving, updating
// flow control so the scheduler stops waiting on it when computing
// trailing_dts.
func (h *MuxHandle) ReceiveFinish(streamIdx int) {
	mux := h.sched.mux[h.idx]
	mux.queue.ReceiveFinish(streamIdx)

	h.sched.scheduleMu.Lock()
	mux.streams[streamIdx].sourceFinished = true
	h.sched.scheduleUpdateLocked()
	h.sched.scheduleMu.Unlock()
}

// SubHeartbeat delivers a pts-only, payload-less packet derived from
// streamIdx's traffic to every decoder registered via AddMuxSubHeartbeat
// (S8): subtitle decoders use this to notice that real time has advanced
// even though no new subtitle packet has arrived.
func (h *MuxHandle) SubHeartbeat(streamIdx int, pts int64, tb TimeBase) error {
	mux := h.sched.mux[h.idx]
	ms := mux.streams[streamIdx]
	for _, decIdx := range ms.subHeartbeatDst {
		dec := h.sched.dec[decIdx]
		hb := &Packet{StreamIndex: 0, Pts: pts, Dts: NoTimestamp, TimeBase: tb, Flags: PacketFlagDiscard}
		if err := dec.queue.Send(0, hb); err != nil && !IsEOF(err) {
			return err
		}
	}
	return nil
}

// MarkStreamReady records that one more of this muxer's streams has been
// configured and is ready to receive packets. Once every stream is ready
// (and Start has been called), the muxer's init callback runs, the SDP
// barrier (if configured) is checked, and its pre-mux queues are drained
// into its live queue by this call. The muxer's task goroutine itself is
// already running: Start launches it.
func (h *MuxHandle) MarkStreamReady() error {
	return h.sched.markMuxStreamReady(h.idx)
}

// Done signals that this muxer has stopped accepting packets on every
// stream, and counts the muxer as done. Scheduler.Wait does not consult
// that count: it returns only once every node goroutine has returned.
func (h *MuxHandle) Done() error {
	s := h.sched
	mux := s.mux[h.idx]

	s.scheduleMu.Lock()
	for i := range mux.streams {
		mux.queue.ReceiveFinish(i)
		mux.streams[i].sourceFinished = true
	}
	s.scheduleUpdateLocked()
	s.scheduleMu.Unlock()

	s.finishMu.Lock()
	s.nbMuxDone++
	s.finishCond.Broadcast()
	s.finishMu.Unlock()

	return nil
}

// markMuxStreamReady holds muxReadyMu across the whole ready-check and,
// once every stream is ready, the init/drain/start sequence below - the
// same span sch_mux_stream_ready holds mux_ready_lock across in
// ffmpeg_sched.c, so it can never interleave with sendToMux's own
// mux_ready_lock-guarded buffering check (see muxTaskStartLocked).
func (s *Scheduler) markMuxStreamReady(muxIdx int) error {
	mux := s.mux[muxIdx]

	s.muxReadyMu.Lock()
	defer s.muxReadyMu.Unlock()

	mux.nbStreamsReady++

	// may be called during initialization: do not init the muxer before
	// Start has been called.
	if mux.nbStreamsReady == len(mux.streams) && schedulerState(s.state.Load()) == stateStarted {
		return s.muxInitLocked(muxIdx)
	}
	return nil
}

// muxInitLocked runs muxIdx's init callback, then either releases its
// pre-mux queues directly (muxTaskStartLocked), or — if an SDP barrier is
// configured — waits until every muxer is ready, writes the SDP once, and
// releases every muxer's pre-mux queues together (a muxer must not receive
// packets before the SDP, advertising every stream, has been finalized).
// It does not start goroutines: every muxer's task goroutine is launched
// by Start. Must be called with muxReadyMu held.
func (s *Scheduler) muxInitLocked(muxIdx int) error {
	mux := s.mux[muxIdx]

	if mux.init != nil {
		if err := mux.init(); err != nil {
			return err
		}
	}

	s.nbMuxReady++

	if s.sdpFilename == "" && !s.sdpAuto {
		return s.muxTaskStartLocked(muxIdx)
	}

	if s.nbMuxReady < len(s.mux) {
		return nil
	}
	if s.writeSDP != nil {
		if err := s.writeSDP(s.sdpFilename); err != nil {
			return err
		}
	}
	for i := range s.mux {
		if err := s.muxTaskStartLocked(i); err != nil {
			return err
		}
	}
	return nil
}

// muxTaskStartLocked drains muxIdx's pre-mux queues in strictly
// increasing dts order (or, for whichever stream has no dts, immediately
// — mirroring mux_task_start's "unknown timestamp sorts first" rule),
// then marks the muxer started so further sends bypass the pre-mux queue
// entirely. Must be called with muxReadyMu held: matching
// mux_ready_lock's scope in ffmpeg_sched.c, which spans the whole drain
// and the final mux_started store, is what keeps this mutually exclusive
// with sendToMux's own locked check-and-buffer path — without it, a
// packet pushed into preMux after this function's last Peek saw it empty
// but before the started store would be neither drained here nor routed
// through the live-send path below, and stranded for good.
func (s *Scheduler) muxTaskStartLocked(muxIdx int) error {
	mux := s.mux[muxIdx]

	for {
		minStream := -1
		var minTS int64 = NoTimestamp
		var minTB TimeBase

		for i, ms := range mux.streams {
			pkt, ok := ms.preMux.Peek()
			if !ok {
				continue
			}
			if pkt == nil || pkt.Dts == NoTimestamp {
				minStream = i
				break
			}
			if minTS == NoTimestamp || CompareTS(minTS, minTB, pkt.Dts, pkt.TimeBase) > 0 {
				minStream, minTS, minTB = i, pkt.Dts, pkt.TimeBase
			}
		}
		if minStream < 0 {
			break
		}

		ms := mux.streams[minStream]
		pkt, _ := ms.preMux.Pop()

		if pkt == nil {
			mux.queue.SendFinish(minStream)
			continue
		}
		if ms.initEOF {
			continue
		}
		if err := mux.queue.Send(minStream, pkt); err != nil {
			if IsEOF(err) {
				ms.initEOF = true
				continue
			}
			return err
		}
	}

	mux.started.Store(true)
	return nil
}

// sendToMux is the single entry point demuxers and encoders use to deliver
// a packet to muxer muxIdx's stream streamIdx. Before the muxer has
// started, packets are buffered in that stream's PreMuxQueue instead of
// being sent directly, per the mux startup barrier.
func (s *Scheduler) sendToMux(muxIdx, streamIdx int, pkt *Packet) error {
	mux := s.mux[muxIdx]
	ms := mux.streams[streamIdx]

	dts := int64(NoTimestamp)
	if pkt != nil && pkt.Dts != NoTimestamp {
		dts = Rescale(pkt.Dts+pkt.Duration, pkt.TimeBase, CanonicalTimeBase)
	}

	buffered := false
	if !mux.started.Load() {
		s.muxReadyMu.Lock()
		if !mux.started.Load() {
			if err := ms.preMux.Push(pkt, payloadSize(pkt)); err != nil {
				s.muxReadyMu.Unlock()
				return err
			}
			buffered = true
		}
		s.muxReadyMu.Unlock()
	}

	if !buffered {
		if pkt != nil {
			if ms.initEOF {
				return Eof
			}
			if err := mux.queue.Send(streamIdx, pkt); err != nil {
				return err
			}
		} else {
			mux.queue.SendFinish(streamIdx)
		}
	}

	if dts != NoTimestamp || pkt == nil {
		s.scheduleMu.Lock()
		if pkt != nil {
			ms.lastDTS = dts
		} else {
			ms.sourceFinished = true
		}
		s.scheduleUpdateLocked()
		s.scheduleMu.Unlock()
	}
	return nil
}

func payloadSize(pkt *Packet) int {
	if pkt == nil {
		return 0
	}
	if b, ok := pkt.Payload.([]byte); ok {
		return len(b)
	}
	return 0
}
