package mediasched

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func noopDemux(context.Context, *DemuxHandle) error   { return nil }
func noopDecode(context.Context, *DecodeHandle) error { return nil }
func noopFilter(context.Context, *FilterHandle) error { return nil }
func noopEncode(context.Context, *EncodeHandle) error { return nil }
func noopMux(context.Context, *MuxHandle) error       { return nil }

func TestCheckAcyclic_StraightPipeIsAcyclic(t *testing.T) {
	s := New(Config{})
	d := s.AddDemux(1, noopDemux)
	dec := s.AddDecode(1, noopDecode)
	enc := s.AddEncode(noopEncode)
	mux := s.AddMux(1, nil, noopMux)

	require.NoError(t, s.Connect(NodeRef{Kind: KindDemux, Node: d, Stream: 0}, NodeRef{Kind: KindDecode, Node: dec}))
	require.NoError(t, s.Connect(NodeRef{Kind: KindDecode, Node: dec, Stream: 0}, NodeRef{Kind: KindEncode, Node: enc}))
	require.NoError(t, s.Connect(NodeRef{Kind: KindEncode, Node: enc}, NodeRef{Kind: KindMux, Node: mux, Stream: 0}))

	require.NoError(t, s.checkAcyclic())
}

func TestCheckAcyclic_SubtitleLoopbackIsNotACycle(t *testing.T) {
	s := New(Config{})
	d := s.AddDemux(1, noopDemux)
	dec1 := s.AddDecode(1, noopDecode)
	enc1 := s.AddEncode(noopEncode)
	dec2 := s.AddDecode(1, noopDecode) // re-decode target, distinct node
	enc2 := s.AddEncode(noopEncode)
	mux := s.AddMux(1, nil, noopMux)

	require.NoError(t, s.Connect(NodeRef{Kind: KindDemux, Node: d, Stream: 0}, NodeRef{Kind: KindDecode, Node: dec1}))
	require.NoError(t, s.Connect(NodeRef{Kind: KindDecode, Node: dec1, Stream: 0}, NodeRef{Kind: KindEncode, Node: enc1}))
	require.NoError(t, s.Connect(NodeRef{Kind: KindEncode, Node: enc1}, NodeRef{Kind: KindDecode, Node: dec2})) // S7 loopback
	require.NoError(t, s.Connect(NodeRef{Kind: KindDecode, Node: dec2, Stream: 0}, NodeRef{Kind: KindEncode, Node: enc2}))
	require.NoError(t, s.Connect(NodeRef{Kind: KindEncode, Node: enc2}, NodeRef{Kind: KindMux, Node: mux, Stream: 0}))

	require.NoError(t, s.checkAcyclic())
}

func TestCheckAcyclic_FilterGraphSelfLoopIsRejected(t *testing.T) {
	s := New(Config{})
	fg := s.AddFilterGraph(1, 1, 0, noopFilter)

	require.NoError(t, s.Connect(NodeRef{Kind: KindFilterOut, Node: fg, Stream: 0}, NodeRef{Kind: KindFilterIn, Node: fg, Stream: 0}))

	err := s.checkAcyclic()
	require.ErrorIs(t, err, ErrInvalidArg)
}

func TestCheckAcyclic_TwoFilterGraphCycleIsRejected(t *testing.T) {
	s := New(Config{})
	fg1 := s.AddFilterGraph(1, 1, 0, noopFilter)
	fg2 := s.AddFilterGraph(1, 1, 0, noopFilter)

	require.NoError(t, s.Connect(NodeRef{Kind: KindFilterOut, Node: fg1, Stream: 0}, NodeRef{Kind: KindFilterIn, Node: fg2, Stream: 0}))
	require.NoError(t, s.Connect(NodeRef{Kind: KindFilterOut, Node: fg2, Stream: 0}, NodeRef{Kind: KindFilterIn, Node: fg1, Stream: 0}))

	err := s.checkAcyclic()
	require.ErrorIs(t, err, ErrInvalidArg)
}
