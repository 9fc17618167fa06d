package mediasched

import "time"

// Default tuning values, used whenever the corresponding Config field is
// left at its zero value. Mirrors DEFAULT_PACKET_THREAD_QUEUE_SIZE,
// DEFAULT_FRAME_THREAD_QUEUE_SIZE and SCHEDULE_TOLERANCE from the node-kind
// queue allocation and flow-control design.
const (
	DefaultPacketQueueSize = 8
	DefaultFrameQueueSize  = 8

	// ScheduleTolerance is the hysteresis window schedule_update_locked
	// applies around trailing_dts: a muxer stream's source stays eligible
	// for unchoking only while the stream's own last_dts is less than
	// this far ahead of the slowest (trailing) stream.
	ScheduleTolerance = 100 * time.Millisecond

	defaultPoolCapacity = 32
)

// Config tunes a Scheduler's internal queues and pools. The zero value
// selects documented defaults for every field, in the same style as the
// teacher corpus's batch/channel configuration structs.
type Config struct {
	// PacketQueueSize is the capacity of each decoder/muxer (packet)
	// ThreadQueue.
	//
	// Defaults to DefaultPacketQueueSize, if zero.
	PacketQueueSize int

	// FrameQueueSize is the capacity of each filter/encoder (frame)
	// ThreadQueue.
	//
	// Defaults to DefaultFrameQueueSize, if zero.
	FrameQueueSize int

	// ScheduleTolerance overrides ScheduleTolerance for this Scheduler.
	//
	// Defaults to ScheduleTolerance, if zero.
	ScheduleTolerance time.Duration

	// PoolCapacity is normalized by New but not read by any queue: each
	// ThreadQueue's ObjectPool retains at most as many recycled containers
	// as the queue's own capacity.
	//
	// Defaults to 32, if zero.
	PoolCapacity int

	// Logger receives structured scheduler diagnostics. A nil Logger
	// disables logging entirely.
	Logger *Logger
}

func (c Config) withDefaults() Config {
	if c.PacketQueueSize <= 0 {
		c.PacketQueueSize = DefaultPacketQueueSize
	}
	if c.FrameQueueSize <= 0 {
		c.FrameQueueSize = DefaultFrameQueueSize
	}
	if c.ScheduleTolerance <= 0 {
		c.ScheduleTolerance = ScheduleTolerance
	}
	if c.PoolCapacity <= 0 {
		c.PoolCapacity = defaultPoolCapacity
	}
	if c.Logger == nil {
		c.Logger = noopLogger()
	}
	return c
}
