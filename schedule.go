package mediasched

// schedule.go implements the choke/unchoke flow-control algorithm: the
// scheduler's only real scheduling decision. Every node that feeds a
// bounded ThreadQueue already gets natural back-pressure for free (Send
// blocks once the queue is full); demuxers and filtergraphs with internal
// sources have nothing to block on, so the scheduler throttles them
// directly via their Waiter, based on how far each active muxer stream's
// last dts leads the slowest active muxer stream (its "trailing dts").
//
// Grounded directly on schedule_update_locked/trailing_dts in
// fftools/ffmpeg_sched.c.

// trailingDTSLocked returns the minimum last-seen dts across every muxer
// stream that hasn't finished yet, in CanonicalTimeBase. If any such
// stream has never seen a packet, the whole computation is undefined (we
// can't yet tell whether it's behind or ahead), so it short-circuits to
// NoTimestamp rather than ignoring that one stream.
func (s *Scheduler) trailingDTSLocked() int64 {
	trailing := int64(NoTimestamp)
	for _, mux := range s.mux {
		for _, ms := range mux.streams {
			if ms.sourceFinished {
				continue
			}
			if ms.lastDTS == NoTimestamp {
				return NoTimestamp
			}
			if trailing == NoTimestamp || ms.lastDTS < trailing {
				trailing = ms.lastDTS
			}
		}
	}
	return trailing
}

// scheduleUpdateLocked recomputes, and applies, the choke state of every
// demuxer and internal-source filtergraph. It must be called with
// scheduleMu held, and is idempotent: calling it with no intervening state
// change is a no-op (every waiter keeps its current setting).
func (s *Scheduler) scheduleUpdateLocked() {
	if s.terminate.Load() {
		return
	}

	trailing := s.trailingDTSLocked()
	s.lastDTS = trailing

	for _, n := range s.demux {
		n.chokedPrev = n.chokedNext
		n.chokedNext = true
	}
	for _, n := range s.filters {
		n.chokedPrev = n.chokedNext
		n.chokedNext = true
	}

	toleranceUS := s.cfg.ScheduleTolerance.Microseconds()

	anyActive := false
	for _, mux := range s.mux {
		for _, ms := range mux.streams {
			if ms.sourceFinished {
				continue
			}
			anyActive = true

			// skip (don't unchoke) this stream's source if it's unmeasurable
			// against an unknown trailing dts, or if it has outrun the
			// trailing stream by at least the configured tolerance.
			skip := (trailing == NoTimestamp && ms.lastDTS != NoTimestamp) ||
				(trailing != NoTimestamp && ms.lastDTS-trailing >= toleranceUS)
			if !skip {
				s.unchokeForStream(ms.src)
			}
		}
	}

	// nothing left downstream to gate on: unchoke the first source still
	// running, so it can make progress instead of blocking forever (only
	// one needs to move — demuxers and filtergraphs with internal sources
	// make progress independently of one another).
	if !anyActive {
		found := false
		for _, n := range s.demux {
			if !n.taskExited {
				n.chokedNext = false
				found = true
				break
			}
		}
		for i := 0; !found && i < len(s.filters); i++ {
			if n := s.filters[i]; !n.exited {
				n.chokedNext = false
				found = true
			}
		}
	}

	for _, n := range s.demux {
		if n.chokedPrev != n.chokedNext {
			n.waiter.Set(n.chokedNext)
		}
	}
	for _, n := range s.filters {
		if n.chokedPrev != n.chokedNext {
			n.waiter.Set(n.chokedNext)
		}
	}
}

// unchokeForStream walks back from a muxer stream's feeding node to the
// nearest upstream node the scheduler can actually choke — a demuxer, or a
// filtergraph configured with an internal source (bestInput == nbInputs) —
// passing transparently through decoders, encoders, and filtergraphs fed
// by another node, none of which are themselves chokeable.
func (s *Scheduler) unchokeForStream(src NodeRef) {
	for {
		switch src.Kind {
		case KindDemux:
			s.demux[src.Node].chokedNext = false
			return
		case KindFilterOut:
			fg := s.filters[src.Node]
			if fg.bestInput == fg.nbInputs {
				fg.chokedNext = false
				return
			}
			src = fg.inputs[fg.bestInput].src
		case KindEncode:
			src = s.enc[src.Node].src
		case KindDecode:
			src = s.dec[src.Node].src
		default:
			return
		}
	}
}
