package capture

import (
	"context"
	"log"
	"sync/atomic"
	"time"
)

// State of one camera runtime. Failed and Stopped are terminal; re-enabling
// a camera means building a fresh runtime.
type State int32

const (
	StateInit State = iota
	StateConnecting
	StateRunning
	StateReconnecting
	StateFailed
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateConnecting:
		return "connecting"
	case StateRunning:
		return "running"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

const (
	DefaultMaxRetries  = 3
	DefaultBackoffBase = 2 * time.Second
	DefaultBackoffCap  = 30 * time.Second

	// StopGrace bounds how long Stop waits for the worker to wind down.
	StopGrace = 2 * time.Second
)

// Stats is a point-in-time snapshot of a runtime's counters. Reading them
// takes no locks and never blocks the capture loop.
type Stats struct {
	CameraID        string     `json:"camera_id"`
	State           string     `json:"state"`
	FramesCaptured  uint64     `json:"frames_captured"`
	ConnectionDrops uint64     `json:"connection_drops"`
	LastFrameAt     *time.Time `json:"last_frame_at,omitempty"`
	FPS             float64    `json:"fps"`
}

// RuntimeConfig wires one camera to its runtime.
type RuntimeConfig struct {
	CameraID    string
	CompanyID   string
	Source      Source
	FPS         int
	MaxRetries  int
	BackoffBase time.Duration
	BackoffCap  time.Duration
}

// Runtime owns one camera connection. It connects, pumps frames into its
// slot at the configured rate, reconnects with exponential backoff when the
// stream drops, and gives up after the retry budget. All counters are
// atomics so status reads never touch the capture goroutine.
type Runtime struct {
	CameraID  string
	CompanyID string

	src  Source
	slot Slot

	fps         int
	maxRetries  int
	backoffBase time.Duration
	backoffCap  time.Duration

	state  atomic.Int32
	frames atomic.Uint64
	drops  atomic.Uint64
	lastAt atomic.Int64
	seq    atomic.Uint64
	window rateWindow

	started atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewRuntime(cfg RuntimeConfig) *Runtime {
	r := &Runtime{
		CameraID:    cfg.CameraID,
		CompanyID:   cfg.CompanyID,
		src:         cfg.Source,
		fps:         cfg.FPS,
		maxRetries:  cfg.MaxRetries,
		backoffBase: cfg.BackoffBase,
		backoffCap:  cfg.BackoffCap,
		done:        make(chan struct{}),
	}
	if r.fps <= 0 {
		r.fps = 10
	}
	if r.maxRetries <= 0 {
		r.maxRetries = DefaultMaxRetries
	}
	if r.backoffBase <= 0 {
		r.backoffBase = DefaultBackoffBase
	}
	if r.backoffCap <= 0 {
		r.backoffCap = DefaultBackoffCap
	}
	r.state.Store(int32(StateInit))
	return r
}

// Slot returns the latest-frame buffer consumers read from.
func (r *Runtime) Slot() *Slot { return &r.slot }

func (r *Runtime) State() State { return State(r.state.Load()) }

// Done closes when the capture goroutine has exited.
func (r *Runtime) Done() <-chan struct{} { return r.done }

func (r *Runtime) Stats() Stats {
	var last *time.Time
	if ns := r.lastAt.Load(); ns > 0 {
		t := time.Unix(0, ns)
		last = &t
	}
	return Stats{
		CameraID:        r.CameraID,
		State:           r.State().String(),
		FramesCaptured:  r.frames.Load(),
		ConnectionDrops: r.drops.Load(),
		LastFrameAt:     last,
		FPS:             r.window.rate(),
	}
}

// Start launches the capture goroutine. Calling it twice is a no-op.
func (r *Runtime) Start(ctx context.Context) {
	if !r.started.CompareAndSwap(false, true) {
		return
	}
	ctx, r.cancel = context.WithCancel(ctx)
	go r.run(ctx)
}

// Stop cancels the worker and waits up to StopGrace for it to exit. A failed
// runtime that gets stopped ends in the stopped state.
func (r *Runtime) Stop() {
	if !r.started.Load() {
		r.state.Store(int32(StateStopped))
		return
	}
	r.cancel()
	select {
	case <-r.done:
	case <-time.After(StopGrace):
		log.Printf("[CAPTURE] camera %s worker did not exit within %s", r.CameraID, StopGrace)
	}
	r.state.CompareAndSwap(int32(StateFailed), int32(StateStopped))
}

func (r *Runtime) run(ctx context.Context) {
	defer close(r.done)
	defer func() {
		if p := recover(); p != nil {
			log.Printf("[CAPTURE] camera %s worker panicked: %v", r.CameraID, p)
			r.src.Close()
			r.state.Store(int32(StateFailed))
		}
	}()
	retries := 0
	connected := false
	for {
		if connected {
			r.state.Store(int32(StateReconnecting))
		} else {
			r.state.Store(int32(StateConnecting))
		}
		if ctx.Err() != nil {
			r.state.Store(int32(StateStopped))
			return
		}
		if err := r.src.Open(ctx); err != nil {
			if ctx.Err() != nil {
				r.state.Store(int32(StateStopped))
				return
			}
			retries++
			log.Printf("[CAPTURE] camera %s connect attempt %d/%d failed: %v", r.CameraID, retries, r.maxRetries, err)
			if retries >= r.maxRetries {
				log.Printf("[CAPTURE] camera %s giving up after %d attempts", r.CameraID, retries)
				r.state.Store(int32(StateFailed))
				return
			}
			if !sleepCtx(ctx, r.backoff(retries)) {
				r.state.Store(int32(StateStopped))
				return
			}
			continue
		}
		connected = true
		r.state.Store(int32(StateRunning))
		sawFrames := r.pump(ctx)
		r.src.Close()
		if ctx.Err() != nil {
			r.state.Store(int32(StateStopped))
			return
		}
		r.drops.Add(1)
		// Frames flowing on this connection pay back the retry budget.
		if sawFrames {
			retries = 0
		}
		log.Printf("[CAPTURE] camera %s stream dropped, reconnecting", r.CameraID)
	}
}

// pump reads frames until the stream errors or the context ends. Each frame
// lands in the slot; the loop then sleeps out the rest of its 1/fps budget.
func (r *Runtime) pump(ctx context.Context) bool {
	interval := time.Second / time.Duration(r.fps)
	saw := false
	for {
		frame, err := r.src.ReadFrame(ctx)
		if err != nil {
			return saw
		}
		if frame.Timestamp.IsZero() {
			frame.Timestamp = time.Now()
		}
		frame.Seq = r.seq.Add(1)
		r.slot.Store(frame)
		r.frames.Add(1)
		r.lastAt.Store(frame.Timestamp.UnixNano())
		r.window.observe(frame.Timestamp)
		saw = true
		if !sleepCtx(ctx, interval) {
			return true
		}
	}
}

func (r *Runtime) backoff(retries int) time.Duration {
	wait := r.backoffBase
	for i := 1; i < retries; i++ {
		wait *= 2
		if wait >= r.backoffCap {
			return r.backoffCap
		}
	}
	if wait > r.backoffCap {
		return r.backoffCap
	}
	return wait
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
