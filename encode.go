package mediasched

import "context"

// EncodeFunc is the task function an encoder node runs on its own
// goroutine.
type EncodeFunc func(ctx context.Context, h *EncodeHandle) error

type encodeNode struct {
	queue       *ThreadQueue[*Frame]
	src         NodeRef // the node feeding this encoder, for choke propagation
	dst         []NodeRef
	dstFinished []bool

	sqIdx [2]int // [0]: sync queue index, -1 if none; [1]: this encoder's stream within it

	inFinished bool
	opened     bool
	openCB     func(*Frame) (frameSize int, err error)

	fn EncodeFunc
}

// EncodeHandle is the encoder's view of the Scheduler.
type EncodeHandle struct {
	sched *Scheduler
	idx   int
}

// Receive blocks until the next frame (or EOF) is available.
func (h *EncodeHandle) Receive() (*Frame, error) {
	n := h.sched.enc[h.idx]
	_, frame, err := n.queue.Receive()
	return frame, err
}

// Send delivers an encoded packet to every connected destination (a Mux,
// or a Decode node for the subtitle re-decode loopback, S7). A nil packet
// finishes every destination.
func (h *EncodeHandle) Send(pkt *Packet) error {
	n := h.sched.enc[h.idx]

	nbDone := 0
	for i, dst := range n.dst {
		if n.dstFinished[i] {
			nbDone++
			continue
		}

		toSend := pkt
		if pkt != nil && i < len(n.dst)-1 {
			toSend = pkt.Clone()
		}

		err := h.sched.encStreamSendToDst(dst, toSend)
		if IsEOF(err) {
			n.dstFinished[i] = true
			nbDone++
		} else if err != nil {
			return err
		}
	}
	if nbDone == len(n.dst) {
		return Eof
	}
	return nil
}

func (s *Scheduler) encStreamSendToDst(dst NodeRef, pkt *Packet) error {
	if pkt == nil {
		return s.sendEncPacketToDst(dst, nil)
	}
	err := s.sendEncPacketToDst(dst, pkt)
	if IsEOF(err) {
		return s.sendEncPacketToDst(dst, nil)
	}
	return err
}

func (s *Scheduler) sendEncPacketToDst(dst NodeRef, pkt *Packet) error {
	switch dst.Kind {
	case KindMux:
		return s.sendToMux(dst.Node, dst.Stream, pkt)
	case KindDecode:
		dec := s.dec[dst.Node]
		if pkt == nil {
			dec.queue.SendFinish(0)
			return Eof
		}
		return dec.queue.Send(0, pkt)
	default:
		panic("mediasched: encoder connected to invalid destination kind")
	}
}

// sendToEnc is the single entry point decoders and filtergraphs use to
// deliver a frame to encoder encIdx. It handles the deferred-open callback
// (for encoders whose parameters are only known once the first frame
// arrives) before routing the frame either straight to the encoder's
// queue, or through its attached SyncQueue if one was configured.
func (s *Scheduler) sendToEnc(encIdx int, frame *Frame) error {
	n := s.enc[encIdx]

	if n.openCB != nil && frame != nil && !n.opened {
		frameSize, err := n.openCB(frame)
		if err != nil {
			return err
		}
		n.opened = true
		if frameSize > 0 && n.sqIdx[0] >= 0 {
			s.sqEnc[n.sqIdx[0]].SetFrameSize(n.sqIdx[1], frameSize)
		}
		if frame.Payload == nil {
			// the frame carried only the parameters the open callback
			// needed; nothing left to encode.
			return nil
		}
	}

	if n.sqIdx[0] >= 0 {
		return s.sendToEncSQ(n, frame)
	}
	return s.sendToEncThread(n, frame)
}

func (s *Scheduler) sendToEncThread(n *encodeNode, frame *Frame) error {
	if frame == nil {
		n.queue.SendFinish(0)
		return nil
	}
	if n.inFinished {
		return Eof
	}
	err := n.queue.Send(0, frame)
	if err != nil {
		n.inFinished = true
	}
	return err
}

// sendToEncSQ feeds frame into n's attached SyncQueue and then drains
// every frame the SyncQueue has released as a side effect, forwarding each
// to its owning encoder's queue. Because one Send can make more than one
// sibling stream's head releasable, every call drains to EAGAIN rather
// than returning after a single receive.
func (s *Scheduler) sendToEncSQ(n *encodeNode, frame *Frame) error {
	sq := s.sqEnc[n.sqIdx[0]]

	if frame == nil {
		// tell the flow-control algorithm this path is done even though
		// the SyncQueue may hold the corresponding EOF back until a
		// sibling stream finishes (the finish-cascade rule).
		for _, dst := range n.dst {
			if dst.Kind != KindMux {
				continue
			}
			ms := s.mux[dst.Node].streams[dst.Stream]
			s.scheduleMu.Lock()
			ms.sourceFinished = true
			s.scheduleUpdateLocked()
			s.scheduleMu.Unlock()
		}
	}

	sq.Send(n.sqIdx[1], frame)

	for {
		stream, out, err := nonBlockingSQReceive(sq)
		if !err {
			break
		}

		target := s.enc[s.sqEncMembers[n.sqIdx[0]][stream]]
		serr := s.sendToEncThread(target, out)
		if serr == nil {
			continue
		}
		if !IsEOF(serr) {
			return serr
		}
		sq.Send(stream, nil)
	}

	// forward the EOF of every stream the SyncQueue has finished and fully
	// released to that stream's encoder
	sq.mu.Lock()
	defer sq.mu.Unlock()
	for i, st := range sq.streams {
		if st.finished && len(st.queue) == 0 {
			s.enc[s.sqEncMembers[n.sqIdx[0]][i]].queue.SendFinish(0)
		}
	}
	return nil
}

// nonBlockingSQReceive drains whatever the SyncQueue can release right
// now without blocking; ok is false once nothing more is immediately
// releasable (callers must not treat that as the queue having finished —
// it simply means the remaining streams are still waiting on data).
func nonBlockingSQReceive(sq *SyncQueue[*Frame]) (stream int, out *Frame, ok bool) {
	sq.mu.Lock()
	defer sq.mu.Unlock()
	s, item, found := sq.receiveLocked(-1)
	if !found {
		return 0, nil, false
	}
	return s, item, true
}

func frameTS(f *Frame) (int64, TimeBase) { return f.Pts, f.TimeBase }

func frameIsFlush(f *Frame) bool { return f == nil }

// frameSplit implements sq_frame_samples for interleaved []float32 audio
// payloads: it splits off the first n samples (one tick per sample, so the
// rest frame's Pts is simply advanced by n) and reports ok=false once the
// frame has n or fewer samples left, or isn't splittable audio at all (a
// nil or non-float32 Payload, or Samples left unset), in which case it is
// released whole. Cross-frame merging (carrying a short remainder forward
// into the next Send) is not implemented: the one scenario this splits for
// (a single oversized frame draining into fixed-size chunks) never needs
// it, and nothing else in this package requires exact frame-size encoder
// input.
func frameSplit(f *Frame, n int) (head, rest *Frame, ok bool) {
	if f == nil || f.Samples <= n {
		return f, nil, false
	}
	data, isFloat := f.Payload.([]float32)
	if !isFloat || f.Samples == 0 || len(data)%f.Samples != 0 {
		return f, nil, false
	}
	channels := len(data) / f.Samples
	split := n * channels

	h := &Frame{
		Payload:  append([]float32(nil), data[:split]...),
		Pts:      f.Pts,
		Duration: int64(n),
		TimeBase: f.TimeBase,
		Samples:  n,
		Opaque:   f.Opaque,
	}
	r := &Frame{
		Payload:  append([]float32(nil), data[split:]...),
		Pts:      f.Pts + int64(n),
		Duration: f.Duration - int64(n),
		TimeBase: f.TimeBase,
		Samples:  f.Samples - n,
		Opaque:   f.Opaque,
	}
	return h, r, true
}
