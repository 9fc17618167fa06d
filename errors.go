package mediasched

import (
	"errors"
	"io"
)

// Eof is returned by queue and scheduler operations once a stream (or the
// whole graph) has finished producing data. It is an alias of io.EOF rather
// than a distinct sentinel, since "no more data" is exactly what io.EOF
// means throughout the standard library.
var Eof = io.EOF

var (
	// ErrExit is returned from a blocking call that unblocked because the
	// Scheduler is stopping, rather than because of any data-flow event.
	ErrExit = errors.New("mediasched: scheduler exiting")

	// ErrEagain indicates a non-blocking operation could not complete
	// without blocking, and should be retried.
	ErrEagain = errors.New("mediasched: resource temporarily unavailable")

	// ErrInvalidArg is returned by Connect for a disallowed pairing of node
	// kinds, and by Start for a cyclic graph.
	ErrInvalidArg = errors.New("mediasched: invalid argument")

	// ErrNomem names an allocation-limit outcome. No operation in this
	// package returns it: ObjectPool drops values beyond its capacity and
	// ThreadQueue blocks when full. It never models a Go runtime
	// out-of-memory condition, which Go does not allow recovering from.
	ErrNomem = errors.New("mediasched: allocation limit reached")

	// ErrBufferTooSmall is returned when a pre-mux queue's growth has hit
	// its configured ceiling and cannot buffer another packet.
	ErrBufferTooSmall = errors.New("mediasched: buffer too small")

	// ErrBug indicates an internal invariant was violated. Callers should
	// treat it the same as a panic: it signals a defect in mediasched
	// itself, not a data-flow condition.
	ErrBug = errors.New("mediasched: internal invariant violated")
)

// IsEOF reports whether err is (or wraps) Eof.
func IsEOF(err error) bool { return errors.Is(err, Eof) }

// IsExit reports whether err is (or wraps) ErrExit.
func IsExit(err error) bool { return errors.Is(err, ErrExit) }

// mergeErr folds a newly observed error into an already-accumulated one,
// preferring the first non-EOF error seen. It mirrors the teacher's
// err_merge() used throughout fan-out/fan-in cleanup paths, where EOF from
// one branch must never mask a real error from another.
func mergeErr(dst, src error) error {
	if src == nil || errors.Is(src, Eof) {
		return dst
	}
	if dst == nil || errors.Is(dst, Eof) {
		return src
	}
	return dst
}
