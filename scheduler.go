// Package mediasched schedules a directed acyclic graph of demux, decode,
// filter, encode and mux nodes, each running on its own goroutine,
// connected by bounded ThreadQueues (for packets/frames) and coordinated by
// SyncQueues (for cross-stream timestamp ordering) and Waiters (for
// cooperative flow control of sources with no queue to block on).
package mediasched

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

type schedulerState int32

const (
	stateInit schedulerState = iota
	stateStarted
	stateStopped
)

// Scheduler owns the graph topology and drives every node's goroutine.
// Construct one with New, wire the graph with AddDemux/AddDecode/
// AddFilterGraph/AddEncode/AddMux and Connect, then call Start. The
// topology is frozen as soon as Start is called (per the data model's
// lifecycle rule); calling any Add*/Connect method afterwards panics.
type Scheduler struct {
	cfg    Config
	logger *Logger

	state atomic.Int32

	demux   []*demuxNode
	dec     []*decodeNode
	filters []*filterGraphNode
	enc     []*encodeNode
	mux     []*muxNode

	sqEnc        []*SyncQueue[*Frame]
	sqEncMembers [][]int // sqEncMembers[sq][sqStream] == encoder index

	scheduleMu sync.Mutex
	terminate  atomic.Bool
	lastDTS    int64

	muxReadyMu  sync.Mutex
	nbMuxReady  int
	sdpFilename string
	sdpAuto     bool
	writeSDP    func(filename string) error

	finishMu   sync.Mutex
	finishCond *sync.Cond
	nbMuxDone  int

	eg    *errgroup.Group
	egCtx context.Context
}

// New constructs a Scheduler with the given configuration.
func New(cfg Config) *Scheduler {
	cfg = cfg.withDefaults()
	s := &Scheduler{cfg: cfg, logger: cfg.Logger, lastDTS: NoTimestamp}
	s.finishCond = sync.NewCond(&s.finishMu)
	return s
}

// SetSDPFilename requests that the Scheduler write an SDP file once every
// muxer is ready, before releasing any muxer's buffered packets (the "mux
// startup barrier" in SPEC_FULL §4.7); auto=true enables the barrier even
// when filename is empty. The SDP writer receives filename as given.
func (s *Scheduler) SetSDPFilename(filename string, auto bool) {
	s.requireNotStarted()
	s.sdpFilename = filename
	s.sdpAuto = auto
}

// SetSDPWriter installs the callback invoked once, with the configured SDP
// filename, after every muxer has finished its init callback but before
// any of them start producing output.
func (s *Scheduler) SetSDPWriter(fn func(filename string) error) {
	s.requireNotStarted()
	s.writeSDP = fn
}

func (s *Scheduler) requireNotStarted() {
	if schedulerState(s.state.Load()) != stateInit {
		panic("mediasched: topology modified after Start")
	}
}

// AddDemux registers a demuxer node with nbStreams output streams and
// returns its index. fn is run on its own goroutine once Start is called.
func (s *Scheduler) AddDemux(nbStreams int, fn DemuxFunc) int {
	s.requireNotStarted()
	n := &demuxNode{
		waiter:  NewWaiter(),
		streams: make([]*demuxStream, nbStreams),
		fn:      fn,
	}
	for i := range n.streams {
		n.streams[i] = &demuxStream{}
	}
	s.demux = append(s.demux, n)
	return len(s.demux) - 1
}

// AddDecode registers a decoder node with nbOutputs output pins (almost
// always 1; >1 models e.g. an attached-picture side stream) and returns its
// index.
func (s *Scheduler) AddDecode(nbOutputs int, fn DecodeFunc) int {
	s.requireNotStarted()
	n := &decodeNode{
		queue:   NewThreadQueue[*Packet](s.cfg.PacketQueueSize, 1),
		outputs: make([]*decodeOutput, nbOutputs),
		fn:      fn,
	}
	for i := range n.outputs {
		n.outputs[i] = &decodeOutput{}
	}
	s.dec = append(s.dec, n)
	return len(s.dec) - 1
}

// EnableEndTimestampHandoff arranges for decoder dec's post-flush end
// timestamp to be handed back to the demuxer via a one-slot mailbox
// (DecodeHandle.SendEndTimestamp / demux_flush's consumption of it),
// instead of a full async message queue.
func (s *Scheduler) EnableEndTimestampHandoff(dec int) {
	s.requireNotStarted()
	s.dec[dec].queueEndTS = make(chan Timestamp, 1)
}

// AddFilterGraph registers a filtergraph node with nbInputs input pads and
// nbOutputs output pads. If the graph has internal sources that should be
// scheduled directly (rather than choked in lock-step with an upstream
// demuxer/filter), pass bestInput == nbInputs.
func (s *Scheduler) AddFilterGraph(nbInputs, nbOutputs int, bestInput int, fn FilterFunc) int {
	s.requireNotStarted()
	n := &filterGraphNode{
		waiter:    NewWaiter(),
		nbInputs:  nbInputs,
		bestInput: bestInput,
		inputs:    make([]*filterInput, nbInputs),
		outputs:   make([]*filterOutput, nbOutputs),
		fn:        fn,
	}
	// the queue carries nbInputs real pads plus one "control" stream
	// (index nbInputs) that finishes once every real input has finished
	// sending, used to unblock a filtergraph with only internal sources.
	n.queue = NewThreadQueue[*Frame](s.cfg.FrameQueueSize, nbInputs+1)
	for i := range n.inputs {
		n.inputs[i] = &filterInput{}
	}
	for i := range n.outputs {
		n.outputs[i] = &filterOutput{}
	}
	s.filters = append(s.filters, n)
	return len(s.filters) - 1
}

// AddEncode registers an encoder node and returns its index.
func (s *Scheduler) AddEncode(fn EncodeFunc) int {
	s.requireNotStarted()
	n := &encodeNode{
		queue:  NewThreadQueue[*Frame](s.cfg.FrameQueueSize, 1),
		sqIdx:  [2]int{-1, -1},
		opened: true, // no open callback configured: treat as already open
	}
	n.fn = fn
	s.enc = append(s.enc, n)
	return len(s.enc) - 1
}

// SetEncodeOpenCallback configures encoder enc to defer opening until its
// first frame arrives (used when encoder parameters depend on the decoded
// stream, e.g. pixel format, or the required audio frame size). openCB
// receives that first frame and returns the frame size it requires (0 if
// not applicable, e.g. a video or unconstrained audio encoder).
func (s *Scheduler) SetEncodeOpenCallback(enc int, openCB func(*Frame) (frameSize int, err error)) {
	s.requireNotStarted()
	n := s.enc[enc]
	n.openCB = openCB
	n.opened = false
}

// AddEncodeSyncQueue creates a new encoder-side SyncQueue (SPEC_FULL §4.9)
// and returns its index, for use with AttachEncodeSyncQueue.
func (s *Scheduler) AddEncodeSyncQueue(bufSizeUS int64) int {
	s.requireNotStarted()
	sq := NewSyncQueue[*Frame](bufSizeUS, frameTS, frameIsFlush).WithFrameSplit(frameSplit)
	s.sqEnc = append(s.sqEnc, sq)
	s.sqEncMembers = append(s.sqEncMembers, nil)
	return len(s.sqEnc) - 1
}

// AttachEncodeSyncQueue routes encoder enc's input frames through sync
// queue sqIdx instead of feeding it directly, registering a new stream
// within that queue with the given time base, stream kind and limiting
// status (see SyncQueue for what "limiting" controls), and returns that
// stream's index within the sync queue.
func (s *Scheduler) AttachEncodeSyncQueue(enc, sqIdx int, tb TimeBase, kind SQStreamKind, limiting bool) int {
	s.requireNotStarted()
	sqStream := s.sqEnc[sqIdx].AddStream(tb, kind, limiting)
	s.enc[enc].sqIdx = [2]int{sqIdx, sqStream}
	s.sqEncMembers[sqIdx] = append(s.sqEncMembers[sqIdx], enc)
	return sqStream
}

// AddMux registers a muxer node with nbStreams input streams, an init
// callback run once every registered stream is ready (see
// MuxHandle.MarkStreamReady), and returns its index.
func (s *Scheduler) AddMux(nbStreams int, init func() error, fn MuxFunc) int {
	s.requireNotStarted()
	n := &muxNode{
		queue:   NewThreadQueue[*Packet](s.cfg.PacketQueueSize, nbStreams),
		streams: make([]*muxStream, nbStreams),
		init:    init,
		fn:      fn,
	}
	for i := range n.streams {
		n.streams[i] = &muxStream{preMux: NewPreMuxQueue(), lastDTS: NoTimestamp}
	}
	s.mux = append(s.mux, n)
	return len(s.mux) - 1
}

// SetMuxStreamBuffering configures the pre-mux buffering ceiling for one
// muxer stream, see PreMuxQueue.
func (s *Scheduler) SetMuxStreamBuffering(muxIdx, streamIdx int, dataThreshold, maxPackets int) {
	s.requireNotStarted()
	ms := s.mux[muxIdx].streams[streamIdx]
	ms.preMux.DataThreshold = dataThreshold
	ms.preMux.MaxPackets = maxPackets
}

// AddMuxSubHeartbeat registers decIdx as a recipient of pts-only heartbeat
// packets derived from muxer stream (muxIdx, streamIdx)'s traffic,
// implementing the subtitle-heartbeat fan-out (S8).
func (s *Scheduler) AddMuxSubHeartbeat(muxIdx, streamIdx, decIdx int) {
	s.requireNotStarted()
	ms := s.mux[muxIdx].streams[streamIdx]
	ms.subHeartbeatDst = append(ms.subHeartbeatDst, decIdx)
}

// Connect wires src as a source of data for dst, validating the pairing
// against the allowed connection matrix (SPEC_FULL §6): Demux may feed
// Decode or Mux; Decode may feed FilterIn or Encode; FilterOut may feed
// FilterIn or Encode; Encode may feed Mux or Decode (subtitle loopback,
// S7).
func (s *Scheduler) Connect(src, dst NodeRef) error {
	s.requireNotStarted()
	if !validConnection(src.Kind, dst.Kind) {
		return fmt.Errorf("%w: cannot connect %s to %s", ErrInvalidArg, src.Kind, dst.Kind)
	}

	switch src.Kind {
	case KindDemux:
		ds := s.demux[src.Node].streams[src.Stream]
		ds.dst = append(ds.dst, dst)
		ds.dstFinished = append(ds.dstFinished, false)
	case KindDecode:
		do := s.dec[src.Node].outputs[src.Stream]
		do.dst = append(do.dst, dst)
		do.dstFinished = append(do.dstFinished, false)
	case KindFilterOut:
		fo := s.filters[src.Node].outputs[src.Stream]
		fo.dst = append(fo.dst, dst)
		fo.dstFinished = append(fo.dstFinished, false)
	case KindEncode:
		en := s.enc[src.Node]
		en.dst = append(en.dst, dst)
		en.dstFinished = append(en.dstFinished, false)
	default:
		return fmt.Errorf("%w: %s cannot be a connection source", ErrInvalidArg, src.Kind)
	}

	switch dst.Kind {
	case KindFilterIn:
		s.filters[dst.Node].inputs[dst.Stream].src = src
	case KindMux:
		s.mux[dst.Node].streams[dst.Stream].src = src
	case KindEncode:
		s.enc[dst.Node].src = src
	case KindDecode:
		s.dec[dst.Node].src = src
	}
	return nil
}

func validConnection(src, dst NodeKind) bool {
	switch src {
	case KindDemux:
		return dst == KindDecode || dst == KindMux
	case KindDecode:
		return dst == KindFilterIn || dst == KindEncode
	case KindFilterOut:
		return dst == KindFilterIn || dst == KindEncode
	case KindEncode:
		return dst == KindMux || dst == KindDecode
	default:
		return false
	}
}

// Start validates the graph (acyclicity, per §4.10) and launches every
// node's goroutine. The topology is frozen from this point on.
func (s *Scheduler) Start(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(stateInit), int32(stateStarted)) {
		panic("mediasched: Start called more than once")
	}

	if err := s.checkAcyclic(); err != nil {
		return err
	}

	g, egCtx := errgroup.WithContext(ctx)
	s.eg = g
	s.egCtx = egCtx

	for i, n := range s.demux {
		i, n := i, n
		g.Go(func() error { return n.fn(egCtx, &DemuxHandle{sched: s, idx: i}) })
	}
	for i, n := range s.dec {
		i, n := i, n
		g.Go(func() error { return n.fn(egCtx, &DecodeHandle{sched: s, idx: i}) })
	}
	for i, n := range s.filters {
		i, n := i, n
		g.Go(func() error {
			err := n.fn(egCtx, &FilterHandle{sched: s, idx: i})
			s.scheduleMu.Lock()
			n.exited = true
			s.scheduleUpdateLocked()
			s.scheduleMu.Unlock()
			return err
		})
	}
	for i, n := range s.enc {
		i, n := i, n
		g.Go(func() error { return n.fn(egCtx, &EncodeHandle{sched: s, idx: i}) })
	}
	for i, n := range s.mux {
		i, n := i, n
		g.Go(func() error { return n.fn(egCtx, &MuxHandle{sched: s, idx: i}) })
	}

	return nil
}

// Wait blocks until every node goroutine has returned, returning the first
// non-nil error any of them produced (errgroup.Group's own behavior is
// exactly the "first error wins" rule §4.5 calls for, since task functions
// only ever return Eof internally to short-circuit a Send loop — never as
// their final result).
func (s *Scheduler) Wait() error {
	return s.eg.Wait()
}

// Stop requests that every node goroutine exit as soon as possible:
// terminating blocked Waiters, then blocks until they have all returned.
// Like Wait, it joins the goroutines of every node kind together through
// one errgroup.Group, with no ordering between node kinds.
func (s *Scheduler) Stop() error {
	s.terminate.Store(true)
	for _, n := range s.demux {
		n.waiter.Wake()
	}
	for _, n := range s.filters {
		n.waiter.Wake()
	}
	return s.Wait()
}

func (s *Scheduler) logf(msg string, kv ...any) {
	b := s.logger.Debug()
	for i := 0; i+1 < len(kv); i += 2 {
		if k, ok := kv[i].(string); ok {
			b = b.Any(k, kv[i+1])
		}
	}
	b.Log(msg)
}
