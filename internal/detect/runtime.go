package detect

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/technosupport/ts-ppe/internal/capture"
	"github.com/technosupport/ts-ppe/internal/metrics"
)

const (
	DefaultSampleEveryN = 5
	DefaultConfidence   = 0.5
	DefaultQueueSize    = 10
	trackStateCacheSize = 512
	idleWait            = 50 * time.Millisecond
)

// Config wires one camera's detection loop.
type Config struct {
	CameraID     string
	CompanyID    string
	Slot         *capture.Slot
	Detector     Detector
	Required     []string
	Confidence   float64
	SampleEveryN int
	QueueSize    int
	Sink         Sink
}

// Stats is a lock-free snapshot of a detection runtime.
type Stats struct {
	Detector   string `json:"detector"`
	Processed  uint64 `json:"frames_processed"`
	Dropped    uint64 `json:"results_dropped"`
	Violations uint64 `json:"violations_recorded"`
	QueueDepth int    `json:"queue_depth"`
}

// Runtime samples frames out of a capture slot, runs the detector over
// every Nth one, publishes the annotated frame back into the slot and keeps
// a bounded queue of recent results. Violations fire only on the transition
// into non-compliance per tracked person, so a worker standing without a
// helmet for a minute is one violation, not three hundred frames of them.
type Runtime struct {
	cameraID   string
	companyID  string
	slot       *capture.Slot
	detector   Detector
	confidence float64
	sampleN    int
	sink       Sink

	reqMu    sync.RWMutex
	required []string

	results chan *Result
	states  *lru.Cache[string, bool]
	tracker *tracker

	frameCount uint64
	lastSeq    uint64

	processed  atomic.Uint64
	dropped    atomic.Uint64
	violations atomic.Uint64

	started atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewRuntime(cfg Config) *Runtime {
	r := &Runtime{
		cameraID:   cfg.CameraID,
		companyID:  cfg.CompanyID,
		slot:       cfg.Slot,
		detector:   cfg.Detector,
		required:   cfg.Required,
		confidence: cfg.Confidence,
		sampleN:    cfg.SampleEveryN,
		sink:       cfg.Sink,
		tracker:    newTracker(),
		done:       make(chan struct{}),
	}
	if r.confidence <= 0 {
		r.confidence = DefaultConfidence
	}
	if r.sampleN <= 0 {
		r.sampleN = DefaultSampleEveryN
	}
	size := cfg.QueueSize
	if size <= 0 {
		size = DefaultQueueSize
	}
	r.results = make(chan *Result, size)
	r.states, _ = lru.New[string, bool](trackStateCacheSize)
	return r
}

// Start launches the detection goroutine. Calling it twice is a no-op.
func (r *Runtime) Start(ctx context.Context) {
	if !r.started.CompareAndSwap(false, true) {
		return
	}
	ctx, r.cancel = context.WithCancel(ctx)
	go r.run(ctx)
}

// Stop cancels the loop and waits for it to finish its current iteration.
// Whatever is mid-flight is discarded; the result queue is drained so
// nothing holds frame memory after stop.
func (r *Runtime) Stop() {
	if !r.started.Load() {
		return
	}
	r.cancel()
	select {
	case <-r.done:
	case <-time.After(capture.StopGrace):
		log.Printf("[DETECT] camera %s worker did not exit within %s", r.cameraID, capture.StopGrace)
	}
}

// Done closes when the detection goroutine has exited.
func (r *Runtime) Done() <-chan struct{} { return r.done }

// Poll takes the oldest queued result without blocking, nil when the queue
// is empty.
func (r *Runtime) Poll() *Result {
	select {
	case res := <-r.results:
		return res
	default:
		return nil
	}
}

// SetRequired swaps the equipment list new detections are judged against.
// Takes effect from the next sampled frame; results already queued keep the
// list they were computed with.
func (r *Runtime) SetRequired(classes []string) {
	cp := append([]string(nil), classes...)
	r.reqMu.Lock()
	r.required = cp
	r.reqMu.Unlock()
}

func (r *Runtime) requiredClasses() []string {
	r.reqMu.RLock()
	defer r.reqMu.RUnlock()
	return r.required
}

func (r *Runtime) Stats() Stats {
	return Stats{
		Detector:   r.detector.Name(),
		Processed:  r.processed.Load(),
		Dropped:    r.dropped.Load(),
		Violations: r.violations.Load(),
		QueueDepth: len(r.results),
	}
}

func (r *Runtime) run(ctx context.Context) {
	defer close(r.done)
	defer r.drain()
	defer func() {
		if p := recover(); p != nil {
			log.Printf("[DETECT] camera %s worker panicked: %v", r.cameraID, p)
		}
	}()
	for {
		if ctx.Err() != nil {
			return
		}
		if !r.step(ctx) {
			if !sleepCtx(ctx, idleWait) {
				return
			}
		}
	}
}

// step handles at most one new frame. It reports false when the slot had
// nothing new, which is the loop's cue to idle briefly.
func (r *Runtime) step(ctx context.Context) bool {
	frame := r.slot.Load()
	if frame == nil || frame.Annotated || frame.Seq == r.lastSeq {
		return false
	}
	r.lastSeq = frame.Seq
	r.frameCount++
	if r.frameCount%uint64(r.sampleN) != 0 {
		return true
	}

	began := time.Now()
	people, err := r.detector.Detect(ctx, frame, r.requiredClasses(), r.confidence)
	metrics.DetectionLatency.WithLabelValues(r.detector.Name()).Observe(float64(time.Since(began)) / float64(time.Millisecond))
	if err != nil {
		if ctx.Err() == nil {
			log.Printf("[DETECT] camera %s: detect failed: %v", r.cameraID, err)
		}
		return true
	}
	if ctx.Err() != nil {
		// Stopping. The partial result is dropped, not published.
		return true
	}

	r.tracker.assign(people, r.frameCount)
	res := &Result{
		CompanyID: r.companyID,
		CameraID:  r.cameraID,
		FrameSeq:  frame.Seq,
		Timestamp: frame.Timestamp,
		People:    people,
		Simulated: r.detector.Name() == "simulation",
	}
	res.finalize()
	r.processed.Add(1)

	r.slot.Store(Annotate(frame, res))
	r.enqueue(res)
	r.recordViolations(ctx, frame, res)
	if r.sink != nil {
		r.sink.RecordResult(ctx, res)
	}
	return true
}

// enqueue appends a result, evicting the oldest entry when the queue is
// full. Consumers that stop polling cost memory, never progress.
func (r *Runtime) enqueue(res *Result) {
	for {
		select {
		case r.results <- res:
			return
		default:
			select {
			case <-r.results:
				r.dropped.Add(1)
			default:
			}
		}
	}
}

func (r *Runtime) recordViolations(ctx context.Context, frame *capture.Frame, res *Result) {
	for i := range res.People {
		p := res.People[i]
		prev, known := r.states.Get(p.TrackID)
		r.states.Add(p.TrackID, p.Compliant)
		if p.Compliant {
			continue
		}
		if known && !prev {
			// Already in violation, no new incident.
			continue
		}
		r.violations.Add(1)
		if r.sink != nil {
			r.sink.RecordViolation(ctx, &ViolationEvent{
				CompanyID: r.companyID,
				CameraID:  r.cameraID,
				Person:    p,
				Frame:     frame,
				Timestamp: frame.Timestamp,
				Simulated: res.Simulated,
			})
		}
	}
}

func (r *Runtime) drain() {
	for {
		select {
		case <-r.results:
		default:
			return
		}
	}
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
