package mediasched

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPreMuxQueue_PeekIsNonDestructive(t *testing.T) {
	q := NewPreMuxQueue()
	pkt := &Packet{Pts: 1}
	require.NoError(t, q.Push(pkt, 10))

	got, ok := q.Peek()
	require.True(t, ok)
	require.Same(t, pkt, got)
	require.Equal(t, 1, q.Len(), "peek must not consume")

	got, ok = q.Pop()
	require.True(t, ok)
	require.Same(t, pkt, got)
	require.Equal(t, 0, q.Len())
}

func TestPreMuxQueue_BufferTooSmallOnceCeilingExceeded(t *testing.T) {
	q := NewPreMuxQueue()
	q.DataThreshold = 100
	q.MaxPackets = 2

	require.NoError(t, q.Push(&Packet{}, 60))
	require.NoError(t, q.Push(&Packet{}, 60)) // 120 > threshold, but len(items)==1 < MaxPackets still allowed to land
	require.ErrorIs(t, q.Push(&Packet{}, 1), ErrBufferTooSmall)
}

func TestPreMuxQueue_UnboundedBelowThreshold(t *testing.T) {
	q := NewPreMuxQueue()
	q.DataThreshold = 0 // never reached: no ceiling applies
	q.MaxPackets = 1
	for range 50 {
		require.NoError(t, q.Push(&Packet{}, 1000))
	}
	require.Equal(t, 50, q.Len())
}
