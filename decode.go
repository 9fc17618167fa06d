package mediasched

import "context"

// DecodeFunc is the task function a decoder node runs on its own goroutine.
type DecodeFunc func(ctx context.Context, h *DecodeHandle) error

type decodeNode struct {
	queue       *ThreadQueue[*Packet]
	src         NodeRef // the node feeding this decoder, for choke propagation
	outputs     []*decodeOutput
	expectEndTS bool
	queueEndTS  chan Timestamp // nil unless EnableEndTimestampHandoff was called
	fn          DecodeFunc
}

type decodeOutput struct {
	dst         []NodeRef
	dstFinished []bool
}

// DecodeHandle is the decoder's view of the Scheduler.
type DecodeHandle struct {
	sched *Scheduler
	idx   int
}

// Receive blocks until the next packet (or EOF) is available from this
// decoder's input queue. A returned *Packet with no Payload and no side
// data is the flush sentinel forwarded from the demuxer; after receiving
// one, the task function is expected to call SendEndTimestamp once it has
// determined its post-flush resume point, before calling Receive again
// (this pairing is enforced: Receive panics if it is called a second time
// while an end-timestamp handoff is still owed).
func (h *DecodeHandle) Receive() (*Packet, error) {
	n := h.sched.dec[h.idx]
	if n.expectEndTS {
		panic("mediasched: Receive called before SendEndTimestamp for a pending flush")
	}

	_, pkt, err := n.queue.Receive()
	if err == nil && pkt.Payload == nil && len(pkt.SideData) == 0 && n.queueEndTS != nil {
		n.expectEndTS = true
	}
	return pkt, err
}

// SendEndTimestamp hands the post-flush end timestamp back to the
// demuxer's DemuxHandle.Send(flush) call via a one-slot mailbox, replacing
// the teacher's async message-queue round trip with a plain buffered
// channel (see SPEC_FULL §9).
func (h *DecodeHandle) SendEndTimestamp(ts Timestamp) {
	n := h.sched.dec[h.idx]
	if !n.expectEndTS {
		return
	}
	n.queueEndTS <- ts
	n.expectEndTS = false
}

// Send delivers frame from output outIdx to every connected destination,
// fanning it out across FilterIn pads and/or an Encode node. A nil frame
// finishes every destination of that output.
func (h *DecodeHandle) Send(outIdx int, frame *Frame) error {
	n := h.sched.dec[h.idx]
	o := n.outputs[outIdx]

	nbDone := 0
	for i, dst := range o.dst {
		if o.dstFinished[i] {
			nbDone++
			continue
		}

		toSend := frame
		if frame != nil && i < len(o.dst)-1 {
			toSend = frame.Clone()
		}

		err := h.sched.decSendToDst(dst, toSend)
		if IsEOF(err) {
			o.dstFinished[i] = true
			nbDone++
		} else if err != nil {
			return err
		}
	}
	if nbDone == len(o.dst) {
		return Eof
	}
	return nil
}

func (s *Scheduler) decSendToDst(dst NodeRef, frame *Frame) error {
	if frame == nil {
		return s.sendFrameToDst(dst, nil)
	}
	err := s.sendFrameToDst(dst, frame)
	if IsEOF(err) {
		return s.sendFrameToDst(dst, nil)
	}
	return err
}

func (s *Scheduler) sendFrameToDst(dst NodeRef, frame *Frame) error {
	switch dst.Kind {
	case KindFilterIn:
		return s.sendToFilter(dst.Node, dst.Stream, frame)
	case KindEncode:
		return s.sendToEnc(dst.Node, frame)
	default:
		panic("mediasched: decode output connected to invalid destination kind")
	}
}
