// Package capture keeps frames flowing from camera streams. Each active
// camera gets one Runtime that owns the connection, the reconnect policy and
// the latest-frame slot that downstream consumers read.
package capture

import (
	"sync/atomic"
	"time"
)

// Frame is one captured image. Data holds the encoded JPEG. Frames are
// immutable once published; a consumer that wants to draw on one re-encodes
// into a new Frame.
type Frame struct {
	Data      []byte
	Width     int
	Height    int
	Seq       uint64
	Timestamp time.Time
	Annotated bool
}

// Slot is the single-place buffer between one producer and any number of
// readers. Publishing overwrites; a reader sees either nothing yet or a
// complete recent frame, never a torn one. Slow readers simply miss frames.
type Slot struct {
	p atomic.Pointer[Frame]
}

func (s *Slot) Store(f *Frame) {
	s.p.Store(f)
}

// Load returns the latest frame or nil.
func (s *Slot) Load() *Frame {
	return s.p.Load()
}

const fpsWindowSize = 30

// rateWindow derives FPS from the last thirty publish times. One writer, any
// number of readers, no locks; a reader racing the writer can see one entry
// from the wrong generation, which skews the estimate by at most one frame.
type rateWindow struct {
	count atomic.Uint64
	times [fpsWindowSize]atomic.Int64
}

func (w *rateWindow) observe(t time.Time) {
	n := w.count.Load()
	w.times[n%fpsWindowSize].Store(t.UnixNano())
	w.count.Store(n + 1)
}

func (w *rateWindow) rate() float64 {
	n := w.count.Load()
	if n < 2 {
		return 0
	}
	span := n
	if span > fpsWindowSize {
		span = fpsWindowSize
	}
	newest := w.times[(n-1)%fpsWindowSize].Load()
	oldest := w.times[(n-span)%fpsWindowSize].Load()
	if newest <= oldest {
		return 0
	}
	return float64(span-1) / time.Duration(newest-oldest).Seconds()
}
