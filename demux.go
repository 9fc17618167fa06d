package mediasched

import "context"

// DemuxFunc is the task function a demuxer node runs on its own goroutine.
type DemuxFunc func(ctx context.Context, h *DemuxHandle) error

type demuxNode struct {
	waiter     *Waiter
	streams    []*demuxStream
	taskExited bool
	chokedPrev bool
	chokedNext bool
	fn         DemuxFunc
}

type demuxStream struct {
	dst         []NodeRef
	dstFinished []bool
}

// DemuxHandle is the demuxer's view of the Scheduler: the only way a demux
// task function observes or mutates scheduler state.
type DemuxHandle struct {
	sched *Scheduler
	idx   int
}

// Send delivers pkt for stream pkt.StreamIndex to every connected
// destination, fanning it out (cloning as needed) when more than one edge
// leaves that stream. pkt.StreamIndex == -1 is the flush sentinel: instead
// of being routed by stream, it is broadcast to every connected decoder,
// and its Pts/TimeBase are overwritten on return with the latest post-flush
// end timestamp reported by those decoders (via SendEndTimestamp), for the
// caller to use when resuming after a seek.
//
// Send blocks on the demuxer's Waiter first: a demuxer has no upstream
// queue to apply back-pressure to it, so the scheduler chokes it directly
// via the flow-control algorithm in schedule.go. It returns ErrExit once
// the Scheduler is stopping.
func (h *DemuxHandle) Send(pkt *Packet) error {
	n := h.sched.demux[h.idx]
	if n.waiter.Wait(&h.sched.terminate) {
		return ErrExit
	}

	if pkt.StreamIndex == -1 {
		return h.sched.demuxFlush(n, pkt)
	}

	ds := n.streams[pkt.StreamIndex]
	return h.sched.demuxSendForStream(ds, pkt)
}

// Done signals that this demuxer has no more packets for any stream,
// finishing every connected destination and updating the flow-control
// state accordingly.
func (h *DemuxHandle) Done() error {
	n := h.sched.demux[h.idx]
	var merged error
	for _, ds := range n.streams {
		err := h.sched.demuxSendForStream(ds, nil)
		if !IsEOF(err) {
			merged = mergeErr(merged, err)
		}
	}

	h.sched.scheduleMu.Lock()
	n.taskExited = true
	h.sched.scheduleUpdateLocked()
	h.sched.scheduleMu.Unlock()

	return merged
}

// demuxSendForStream fans pkt out to every destination of ds, cloning it
// for every edge but the last (the last consumes the original, matching
// the "sending consumes the packet" convention used throughout the
// scheduler). It returns Eof once every destination has finished.
func (s *Scheduler) demuxSendForStream(ds *demuxStream, pkt *Packet) error {
	nbDone := 0
	for i, dst := range ds.dst {
		if ds.dstFinished[i] {
			nbDone++
			continue
		}

		toSend := pkt
		if pkt != nil && i < len(ds.dst)-1 {
			toSend = pkt.Clone()
		}

		err := s.demuxStreamSendToDst(dst, toSend)
		if IsEOF(err) {
			ds.dstFinished[i] = true
			nbDone++
		} else if err != nil {
			return err
		}
	}
	if nbDone == len(ds.dst) {
		return Eof
	}
	return nil
}

func (s *Scheduler) demuxStreamSendToDst(dst NodeRef, pkt *Packet) error {
	if pkt == nil {
		return s.sendPacketToDst(dst, nil)
	}
	err := s.sendPacketToDst(dst, pkt)
	if IsEOF(err) {
		return s.sendPacketToDst(dst, nil)
	}
	return err
}

func (s *Scheduler) sendPacketToDst(dst NodeRef, pkt *Packet) error {
	if dst.Kind == KindMux {
		return s.sendToMux(dst.Node, dst.Stream, pkt)
	}
	dec := s.dec[dst.Node]
	if pkt == nil {
		dec.queue.SendFinish(0)
		return Eof
	}
	return dec.queue.Send(0, pkt)
}

// demuxFlush broadcasts a flush/seek sentinel packet to every connected
// decoder, then stamps its Pts/TimeBase with the furthest-advanced
// post-flush end timestamp those decoders report back, for the demuxer to
// resume from.
func (s *Scheduler) demuxFlush(n *demuxNode, pkt *Packet) error {
	maxEnd := Timestamp{TS: NoTimestamp}

	for _, ds := range n.streams {
		for j, dst := range ds.dst {
			if ds.dstFinished[j] || dst.Kind != KindDecode {
				continue
			}
			dec := s.dec[dst.Node]
			if err := dec.queue.Send(0, pkt.Clone()); err != nil {
				return err
			}
			if dec.queueEndTS == nil {
				continue
			}
			ts := <-dec.queueEndTS
			if maxEnd.TS == NoTimestamp || (ts.TS != NoTimestamp && CompareTS(maxEnd.TS, maxEnd.TB, ts.TS, ts.TB) < 0) {
				maxEnd = ts
			}
		}
	}

	pkt.Pts = maxEnd.TS
	pkt.TimeBase = maxEnd.TB
	return nil
}
