package mediasched

import (
	"context"
	"sync/atomic"
)

// FilterFunc is the task function a filtergraph node runs on its own
// goroutine.
type FilterFunc func(ctx context.Context, h *FilterHandle) error

type filterGraphNode struct {
	waiter               *Waiter
	queue                *ThreadQueue[*Frame]
	nbInputs             int
	bestInput            int // == nbInputs when the graph schedules itself via internal sources
	inputs               []*filterInput
	outputs              []*filterOutput
	nbInputsFinishedSend atomic.Int32
	chokedPrev           bool
	chokedNext           bool
	exited               bool
	fn                   FilterFunc
}

type filterInput struct {
	src          NodeRef // upstream source feeding this pad, for choke propagation
	sendFinished bool
}

type filterOutput struct {
	dst         []NodeRef
	dstFinished []bool
}

// FilterHandle is the filtergraph's view of the Scheduler.
type FilterHandle struct {
	sched *Scheduler
	idx   int
}

// Receive blocks until the next frame (or EOF) is available on any input
// pad, returning which pad it arrived on. EOF on the graph's implicit
// control pad (index == NbInputs()) signals that every real input has
// finished sending, which matters for graphs with internal sources that
// never receive any real input.
func (h *FilterHandle) Receive() (int, *Frame, error) {
	n := h.sched.filters[h.idx]
	return n.queue.Receive()
}

// NbInputs reports the number of real input pads this filtergraph was
// created with (the control pad is NbInputs(), not a real pad).
func (h *FilterHandle) NbInputs() int { return h.sched.filters[h.idx].nbInputs }

// Wait blocks while this filtergraph is choked by the scheduler (relevant
// only to graphs with internal sources, selected via bestInput ==
// nbInputs at AddFilterGraph time); it returns true if the caller should
// terminate instead.
func (h *FilterHandle) Wait() bool {
	n := h.sched.filters[h.idx]
	return n.waiter.Wait(&h.sched.terminate)
}

// Send delivers frame from output outIdx to every connected destination. A
// nil frame finishes every destination of that output.
func (h *FilterHandle) Send(outIdx int, frame *Frame) error {
	n := h.sched.filters[h.idx]
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

// sendToFilter delivers frame to filtergraph fgIdx's input pad inIdx. A nil
// frame idempotently finishes that pad, and once every real pad has
// finished sending, finishes the graph's implicit control pad too, so a
// Receive loop keyed only on that pad (an internal-source-only graph)
// still observes termination.
func (s *Scheduler) sendToFilter(fgIdx, inIdx int, frame *Frame) error {
	fg := s.filters[fgIdx]
	if frame != nil {
		return fg.queue.Send(inIdx, frame)
	}

	in := fg.inputs[inIdx]
	if !in.sendFinished {
		in.sendFinished = true
		fg.queue.SendFinish(inIdx)
		if fg.nbInputsFinishedSend.Add(1) == int32(fg.nbInputs) {
			fg.queue.SendFinish(fg.nbInputs)
		}
	}
	return nil
}
