package mediasched

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const testTB = TimeBase{1, 1_000_000}

// passthroughDecode forwards packets to frames unchanged.
func passthroughDecode(ctx context.Context, h *DecodeHandle) error {
	for {
		pkt, err := h.Receive()
		if err != nil {
			_ = h.Send(0, nil)
			return nil
		}
		err = h.Send(0, &Frame{Payload: pkt.Payload, Pts: pkt.Pts, Duration: pkt.Duration, TimeBase: pkt.TimeBase})
		if err != nil && !IsEOF(err) {
			return err
		}
	}
}

// passthroughEncode forwards frames to packets unchanged.
func passthroughEncode(ctx context.Context, h *EncodeHandle) error {
	for {
		frame, err := h.Receive()
		if err != nil {
			_ = h.Send(nil)
			return nil
		}
		pkt := &Packet{Payload: frame.Payload, Pts: frame.Pts, Dts: frame.Pts, Duration: frame.Duration, TimeBase: frame.TimeBase}
		err = h.Send(pkt)
		if err != nil && !IsEOF(err) {
			return err
		}
	}
}

// collectMux drains every packet from a single-stream muxer into got,
// marking streams ready immediately (no SDP barrier in these tests).
func collectMux(got *[]*Packet, mu *sync.Mutex) MuxFunc {
	return func(ctx context.Context, h *MuxHandle) error {
		if err := h.MarkStreamReady(); err != nil {
			return err
		}
		for {
			stream, pkt, err := h.Receive()
			if err != nil {
				if stream == -1 {
					break
				}
				continue
			}
			mu.Lock()
			*got = append(*got, pkt)
			mu.Unlock()
		}
		return h.Done()
	}
}

func TestScheduler_S1_StraightPipe(t *testing.T) {
	s := New(Config{})
	d := s.AddDemux(1, func(ctx context.Context, h *DemuxHandle) error {
		for i := range 10 {
			pkt := &Packet{StreamIndex: 0, Pts: int64(i * 100), Dts: int64(i * 100), Duration: 100, TimeBase: testTB}
			if err := h.Send(pkt); err != nil && !IsEOF(err) {
				return err
			}
		}
		return h.Done()
	})
	dec := s.AddDecode(1, passthroughDecode)
	enc := s.AddEncode(passthroughEncode)

	var mu sync.Mutex
	var got []*Packet
	mux := s.AddMux(1, nil, collectMux(&got, &mu))

	require.NoError(t, s.Connect(NodeRef{Kind: KindDemux, Node: d, Stream: 0}, NodeRef{Kind: KindDecode, Node: dec}))
	require.NoError(t, s.Connect(NodeRef{Kind: KindDecode, Node: dec, Stream: 0}, NodeRef{Kind: KindEncode, Node: enc}))
	require.NoError(t, s.Connect(NodeRef{Kind: KindEncode, Node: enc}, NodeRef{Kind: KindMux, Node: mux, Stream: 0}))

	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Wait())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 10)
	for i, pkt := range got {
		require.Equal(t, int64(i*100), pkt.Pts)
	}
	require.Equal(t, int64(900+100), s.mux[mux].streams[0].lastDTS)
}

func TestScheduler_S2_FanOutWithEarlyReceiveFinish(t *testing.T) {
	s := New(Config{})
	d := s.AddDemux(1, func(ctx context.Context, h *DemuxHandle) error {
		for i := range 5 {
			pkt := &Packet{StreamIndex: 0, Pts: int64(i), TimeBase: testTB, Dts: NoTimestamp}
			if err := h.Send(pkt); err != nil && !IsEOF(err) {
				return err
			}
		}
		return h.Done()
	})

	var mu sync.Mutex
	var got1, got2 []*Packet

	dec1 := s.AddDecode(1, func(ctx context.Context, h *DecodeHandle) error {
		pkt, err := h.Receive()
		require.NoError(t, err)
		mu.Lock()
		got1 = append(got1, pkt)
		mu.Unlock()
		h.sched.dec[h.idx].queue.ReceiveFinish(0) // finish early, after just one packet
		return nil
	})
	dec2 := s.AddDecode(1, func(ctx context.Context, h *DecodeHandle) error {
		for {
			pkt, err := h.Receive()
			if err != nil {
				return nil
			}
			mu.Lock()
			got2 = append(got2, pkt)
			mu.Unlock()
		}
	})

	require.NoError(t, s.Connect(NodeRef{Kind: KindDemux, Node: d, Stream: 0}, NodeRef{Kind: KindDecode, Node: dec1}))
	require.NoError(t, s.Connect(NodeRef{Kind: KindDemux, Node: d, Stream: 0}, NodeRef{Kind: KindDecode, Node: dec2}))

	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Wait())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got1, 1, "dec1 only ever received the one packet before finishing early")
	require.Len(t, got2, 5, "dec2 must still see every packet despite dec1 finishing early")
}

// TestScheduler_S5_SDPBarrierStartsAllMuxersTogether verifies that neither
// muxer's packets are delivered to its consumer until the SDP has been
// written once, for every muxer — the packets sit in the PreMuxQueue until
// muxTaskStartLocked drains it, which the barrier in muxInitLocked
// withholds from every muxer until all of them have reported ready.
func TestScheduler_S5_SDPBarrierStartsAllMuxersTogether(t *testing.T) {
	s := New(Config{})
	s.SetSDPFilename("out.sdp", true)

	events := make(chan string, 8)
	s.SetSDPWriter(func(filename string) error {
		require.Equal(t, "out.sdp", filename)
		events <- "sdp"
		return nil
	})

	newPipe := func(name string) (demux, mux int) {
		mux = s.AddMux(1, nil, func(ctx context.Context, h *MuxHandle) error {
			if err := h.MarkStreamReady(); err != nil {
				return err
			}
			for {
				stream, pkt, err := h.Receive()
				if err == nil {
					require.NotNil(t, pkt)
					events <- name + "-recv"
					continue
				}
				if stream == -1 {
					break
				}
			}
			return h.Done()
		})
		demux = s.AddDemux(1, func(ctx context.Context, h *DemuxHandle) error {
			if err := h.Send(&Packet{StreamIndex: 0, Pts: NoTimestamp, Dts: NoTimestamp, TimeBase: testTB}); err != nil {
				return err
			}
			return h.Done()
		})
		return
	}

	d1, m1 := newPipe("m1")
	d2, m2 := newPipe("m2")
	require.NoError(t, s.Connect(NodeRef{Kind: KindDemux, Node: d1, Stream: 0}, NodeRef{Kind: KindMux, Node: m1, Stream: 0}))
	require.NoError(t, s.Connect(NodeRef{Kind: KindDemux, Node: d2, Stream: 0}, NodeRef{Kind: KindMux, Node: m2, Stream: 0}))

	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Wait())
	close(events)

	var seen []string
	for e := range events {
		seen = append(seen, e)
	}
	require.Len(t, seen, 3)
	require.Equal(t, "sdp", seen[0], "the SDP must be written before either muxer's packet is delivered")
	require.ElementsMatch(t, []string{"m1-recv", "m2-recv"}, seen[1:])
}

func TestScheduler_S6_FlushEndTimestampHandoff(t *testing.T) {
	s := New(Config{})
	var gotFlushPts int64

	d := s.AddDemux(1, func(ctx context.Context, h *DemuxHandle) error {
		flush := &Packet{StreamIndex: -1, Pts: NoTimestamp, TimeBase: testTB}
		err := h.Send(flush)
		require.NoError(t, err)
		gotFlushPts = flush.Pts
		return h.Done()
	})
	dec := s.AddDecode(1, func(ctx context.Context, h *DecodeHandle) error {
		pkt, err := h.Receive()
		require.NoError(t, err)
		require.Nil(t, pkt.Payload)
		h.SendEndTimestamp(Timestamp{TS: 5_000_000, TB: testTB})
		_, err = h.Receive()
		require.Error(t, err)
		return nil
	})
	s.EnableEndTimestampHandoff(dec)
	require.NoError(t, s.Connect(NodeRef{Kind: KindDemux, Node: d, Stream: 0}, NodeRef{Kind: KindDecode, Node: dec}))

	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Wait())

	require.Equal(t, int64(5_000_000), gotFlushPts)
}

func TestScheduler_S8_MuxSubHeartbeatFansOutToDecoder(t *testing.T) {
	s := New(Config{})
	received := make(chan *Packet, 1)

	subDec := s.AddDecode(1, func(ctx context.Context, h *DecodeHandle) error {
		pkt, err := h.Receive()
		if err == nil {
			received <- pkt
		}
		return nil
	})

	mux := s.AddMux(1, nil, func(ctx context.Context, h *MuxHandle) error {
		if err := h.MarkStreamReady(); err != nil {
			return err
		}
		require.NoError(t, h.SubHeartbeat(0, 12345, testTB))
		for {
			stream, _, err := h.Receive()
			if err != nil && stream == -1 {
				break
			}
		}
		return h.Done()
	})
	s.AddMuxSubHeartbeat(mux, 0, subDec)

	// an empty demuxer drives the mux stream to a clean finish, so the
	// muxer's Receive loop returns on its own instead of needing Stop.
	d := s.AddDemux(1, func(ctx context.Context, h *DemuxHandle) error { return h.Done() })
	require.NoError(t, s.Connect(NodeRef{Kind: KindDemux, Node: d, Stream: 0}, NodeRef{Kind: KindMux, Node: mux, Stream: 0}))

	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Wait())

	select {
	case pkt := <-received:
		require.Equal(t, int64(12345), pkt.Pts)
		require.True(t, pkt.Flags&PacketFlagDiscard != 0)
	case <-time.After(time.Second):
		t.Fatal("subtitle decoder never received the heartbeat packet")
	}
}

func TestScheduler_S9_PreMuxBufferTooSmallSurfacesToDemuxSend(t *testing.T) {
	s := New(Config{})
	sendErr := make(chan error, 1)

	d := s.AddDemux(1, func(ctx context.Context, h *DemuxHandle) error {
		for range 10 {
			pkt := &Packet{StreamIndex: 0, Pts: NoTimestamp, Dts: NoTimestamp, TimeBase: testTB, Payload: make([]byte, 100)}
			if err := h.Send(pkt); err != nil {
				sendErr <- err
				return err
			}
		}
		sendErr <- nil
		return h.Done()
	})
	mux := s.AddMux(1, nil, func(ctx context.Context, h *MuxHandle) error {
		// never marks ready / never drains: packets stay stuck in the
		// pre-mux buffer until the ceiling trips.
		<-ctx.Done()
		return nil
	})
	s.SetMuxStreamBuffering(mux, 0, 50, 2)
	require.NoError(t, s.Connect(NodeRef{Kind: KindDemux, Node: d, Stream: 0}, NodeRef{Kind: KindMux, Node: mux, Stream: 0}))

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	select {
	case err := <-sendErr:
		require.ErrorIs(t, err, ErrBufferTooSmall)
	case <-time.After(time.Second):
		t.Fatal("demuxer never observed ErrBufferTooSmall")
	}
}
