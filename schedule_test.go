package mediasched

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestScheduleUpdate_ChokesAndUnchokesByTrailingDTS exercises S3 (choke
// behavior) directly against scheduleUpdateLocked/trailingDTSLocked, using
// two single-stream demuxers feeding one two-stream muxer: demuxA races
// ahead, demuxB lags and then stops. Unlike a single multi-stream demuxer
// (where the lagging stream and the racing stream would share one Waiter,
// and the lagging stream's own eligibility would always keep that Waiter
// unchoked — matching schedule_update_locked in ffmpeg_sched.c exactly),
// separate demuxers let the algorithm actually choke the one that's ahead.
func TestScheduleUpdate_ChokesAndUnchokesByTrailingDTS(t *testing.T) {
	s := New(Config{ScheduleTolerance: 100 * time.Millisecond})
	dA := s.AddDemux(1, noopDemux)
	dB := s.AddDemux(1, noopDemux)
	mux := s.AddMux(2, nil, noopMux)

	require.NoError(t, s.Connect(NodeRef{Kind: KindDemux, Node: dA, Stream: 0}, NodeRef{Kind: KindMux, Node: mux, Stream: 0}))
	require.NoError(t, s.Connect(NodeRef{Kind: KindDemux, Node: dB, Stream: 0}, NodeRef{Kind: KindMux, Node: mux, Stream: 1}))

	// both streams start even: neither is choked.
	s.scheduleMu.Lock()
	s.mux[mux].streams[0].lastDTS = 0
	s.mux[mux].streams[1].lastDTS = 0
	s.scheduleUpdateLocked()
	s.scheduleMu.Unlock()
	require.False(t, s.demux[dA].chokedNext)
	require.False(t, s.demux[dB].chokedNext)

	// A races ahead to 150ms while B is stuck at 0: A now leads B (the
	// slowest/trailing stream) by more than the 100ms tolerance.
	s.scheduleMu.Lock()
	s.mux[mux].streams[0].lastDTS = 150_000 // µs
	s.scheduleUpdateLocked()
	s.scheduleMu.Unlock()
	require.True(t, s.demux[dA].chokedNext, "A has outrun the trailing stream by more than the tolerance")
	require.False(t, s.demux[dB].chokedNext, "B is the trailing stream itself, always eligible")

	// B finishes (mux_receive_finish): it no longer gates trailing_dts, so
	// the next schedule_update unchokes A.
	s.scheduleMu.Lock()
	s.mux[mux].streams[1].sourceFinished = true
	s.scheduleUpdateLocked()
	s.scheduleMu.Unlock()
	require.False(t, s.demux[dA].chokedNext, "once B finishes, A is unchoked on the next schedule_update")
}

// TestScheduleUpdate_UnchokesFallbackSourceWhenNoStreamIsActive covers the
// "make sure to unchoke at least one source, if still available" fallback
// in schedule_update_locked: once every mux stream has finished (so the
// normal per-stream eligibility loop never runs at all), some other,
// unrelated demuxer still needs to be able to make progress rather than
// being left permanently choked.
func TestScheduleUpdate_UnchokesFallbackSourceWhenNoStreamIsActive(t *testing.T) {
	s := New(Config{ScheduleTolerance: 10 * time.Millisecond})
	d := s.AddDemux(1, noopDemux) // not connected to any mux stream at all
	mux := s.AddMux(1, nil, noopMux)
	require.NoError(t, s.Connect(NodeRef{Kind: KindDemux, Node: s.AddDemux(1, noopDemux), Stream: 0}, NodeRef{Kind: KindMux, Node: mux, Stream: 0}))

	s.scheduleMu.Lock()
	s.mux[mux].streams[0].sourceFinished = true // the only mux stream is done: no active streams left
	s.scheduleUpdateLocked()
	s.scheduleMu.Unlock()
	require.False(t, s.demux[d].chokedNext, "fallback must unchoke some still-running source even with nothing left to gate on")
}
