package capture

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func encodeJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 8), G: uint8(y * 8), B: 64, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}
	return buf.Bytes()
}

func waitFor(t *testing.T, d time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// fakeSource is a scripted camera: fail the first openFails connects, then
// serve perConn frames per connection before erroring the stream.
type fakeSource struct {
	openFails int
	perConn   int // <0 means endless

	conn   int
	opens  atomic.Int32
	closes atomic.Int32
	served atomic.Int32
}

func (f *fakeSource) Open(ctx context.Context) error {
	f.opens.Add(1)
	if f.openFails > 0 {
		f.openFails--
		return errors.New("connection refused")
	}
	f.conn = 0
	return nil
}

func (f *fakeSource) ReadFrame(ctx context.Context) (*Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.perConn >= 0 && f.conn >= f.perConn {
		return nil, errors.New("stream reset")
	}
	f.conn++
	f.served.Add(1)
	return &Frame{Data: []byte{0xFF, 0xD8, 0xFF, 0xD9}, Width: 32, Height: 24}, nil
}

func (f *fakeSource) Close() error {
	f.closes.Add(1)
	return nil
}

func testRuntime(src Source) *Runtime {
	return NewRuntime(RuntimeConfig{
		CameraID:    "CAM_TEST",
		CompanyID:   "COMP_TEST",
		Source:      src,
		FPS:         200,
		MaxRetries:  3,
		BackoffBase: time.Millisecond,
		BackoffCap:  4 * time.Millisecond,
	})
}

func TestSlot_LatestWins(t *testing.T) {
	var s Slot

	// 1. Empty slot reads nil.
	if s.Load() != nil {
		t.Fatal("expected nil from empty slot")
	}

	// 2. A newer frame replaces the older one.
	s.Store(&Frame{Seq: 1})
	s.Store(&Frame{Seq: 2})
	got := s.Load()
	if got == nil || got.Seq != 2 {
		t.Fatalf("expected frame 2, got %+v", got)
	}
}

func TestRateWindow(t *testing.T) {
	var w rateWindow

	// 1. Under two samples there is no rate.
	if r := w.rate(); r != 0 {
		t.Fatalf("expected 0 before samples, got %f", r)
	}

	// 2. Samples 10ms apart read back near 100 fps even after the ring wraps.
	base := time.Unix(1700000000, 0)
	for i := 0; i < 45; i++ {
		w.observe(base.Add(time.Duration(i) * 10 * time.Millisecond))
	}
	r := w.rate()
	if r < 95 || r > 105 {
		t.Fatalf("expected about 100 fps, got %f", r)
	}
}

func TestRuntime_CapturesFramesAndStops(t *testing.T) {
	src := &fakeSource{perConn: -1}
	rt := testRuntime(src)

	if rt.State() != StateInit {
		t.Fatalf("expected init state, got %s", rt.State())
	}

	rt.Start(context.Background())
	waitFor(t, 2*time.Second, "frames", func() bool { return rt.Stats().FramesCaptured >= 5 })

	// 1. The runtime reports running with live observables.
	stats := rt.Stats()
	if stats.State != "running" {
		t.Errorf("expected running, got %s", stats.State)
	}
	if stats.LastFrameAt == nil {
		t.Error("expected last_frame_at to be set")
	}
	if stats.FPS <= 0 {
		t.Errorf("expected positive fps, got %f", stats.FPS)
	}

	// 2. The slot holds the most recent frame with a monotonic sequence.
	f := rt.Slot().Load()
	if f == nil {
		t.Fatal("expected a frame in the slot")
	}
	if f.Seq == 0 {
		t.Error("expected a nonzero sequence")
	}

	// 3. Stop winds the worker down and closes the source.
	rt.Stop()
	if rt.State() != StateStopped {
		t.Errorf("expected stopped, got %s", rt.State())
	}
	if src.closes.Load() == 0 {
		t.Error("expected the source to be closed")
	}
}

func TestRuntime_FailsAfterRetryBudget(t *testing.T) {
	src := &fakeSource{openFails: 100, perConn: -1}
	rt := testRuntime(src)

	rt.Start(context.Background())
	select {
	case <-rt.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("runtime did not give up")
	}

	// 1. Three attempts, then failed.
	if got := src.opens.Load(); got != 3 {
		t.Errorf("expected 3 connect attempts, got %d", got)
	}
	if rt.State() != StateFailed {
		t.Fatalf("expected failed, got %s", rt.State())
	}

	// 2. Disabling a failed camera lands it in stopped.
	rt.Stop()
	if rt.State() != StateStopped {
		t.Errorf("expected stopped after disable, got %s", rt.State())
	}
}

func TestRuntime_ReconnectsAfterDrop(t *testing.T) {
	src := &fakeSource{perConn: 2}
	rt := testRuntime(src)

	rt.Start(context.Background())
	defer rt.Stop()

	// Every connection serves two frames and resets. The served frames keep
	// paying back the retry budget, so the runtime reconnects indefinitely.
	waitFor(t, 2*time.Second, "reconnects", func() bool { return rt.Stats().ConnectionDrops >= 5 })

	stats := rt.Stats()
	if stats.State == "failed" || stats.State == "stopped" {
		t.Fatalf("runtime should still be live, got %s", stats.State)
	}
	if stats.FramesCaptured < 10 {
		t.Errorf("expected frames from every connection, got %d", stats.FramesCaptured)
	}
}

func TestRuntime_StopDuringBackoff(t *testing.T) {
	src := &fakeSource{openFails: 100, perConn: -1}
	rt := NewRuntime(RuntimeConfig{
		CameraID:    "CAM_SLOW",
		Source:      src,
		FPS:         10,
		MaxRetries:  3,
		BackoffBase: time.Hour,
	})

	rt.Start(context.Background())
	waitFor(t, time.Second, "first attempt", func() bool { return src.opens.Load() >= 1 })

	done := make(chan struct{})
	go func() {
		rt.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(StopGrace + time.Second):
		t.Fatal("stop did not interrupt the backoff sleep")
	}
	if rt.State() != StateStopped {
		t.Errorf("expected stopped, got %s", rt.State())
	}
}

func mjpegHandler(t *testing.T, frames int, delay time.Duration) http.HandlerFunc {
	img := encodeJPEG(t, 32, 24)
	return func(w http.ResponseWriter, req *http.Request) {
		mw := multipart.NewWriter(w)
		mw.SetBoundary("frame")
		w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+mw.Boundary())
		w.WriteHeader(http.StatusOK)
		for i := 0; i < frames; i++ {
			pw, err := mw.CreatePart(textproto.MIMEHeader{"Content-Type": {"image/jpeg"}})
			if err != nil {
				return
			}
			pw.Write(img)
			if f, ok := w.(http.Flusher); ok {
				f.Flush()
			}
			time.Sleep(delay)
		}
		mw.Close()
	}
}

func httpConfig(t *testing.T, srv *httptest.Server, path string) Config {
	t.Helper()
	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("parse server url: %v", err)
	}
	port, _ := strconv.Atoi(u.Port())
	return Config{Protocol: "http", IPAddress: u.Hostname(), Port: port, StreamPath: path}
}

func TestHTTPSource_MJPEGStream(t *testing.T) {
	srv := httptest.NewServer(mjpegHandler(t, 5, 10*time.Millisecond))
	defer srv.Close()

	src := newHTTPSource(httpConfig(t, srv, "/video"))
	if err := src.Open(context.Background()); err != nil {
		t.Fatalf("open: %v", err)
	}
	defer src.Close()

	for i := 0; i < 3; i++ {
		f, err := src.ReadFrame(context.Background())
		if err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		if f.Width != 32 || f.Height != 24 {
			t.Fatalf("frame %d: got %dx%d", i, f.Width, f.Height)
		}
	}
}

func TestHTTPSource_SnapshotPoll(t *testing.T) {
	img := encodeJPEG(t, 64, 48)
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write(img)
	}))
	defer srv.Close()

	src := newHTTPSource(httpConfig(t, srv, "/shot.jpg"))
	if err := src.Open(context.Background()); err != nil {
		t.Fatalf("open: %v", err)
	}
	defer src.Close()

	// Each read polls the endpoint again.
	for i := 0; i < 2; i++ {
		f, err := src.ReadFrame(context.Background())
		if err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		if f.Width != 64 {
			t.Fatalf("frame %d: got width %d", i, f.Width)
		}
	}
	if hits.Load() < 3 {
		t.Errorf("expected one poll per frame, got %d requests", hits.Load())
	}
}

func TestHTTPSource_DigestRetry(t *testing.T) {
	img := encodeJPEG(t, 32, 24)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authz := r.Header.Get("Authorization")
		if !strings.HasPrefix(authz, "Digest ") || !strings.Contains(authz, `username="admin"`) {
			w.Header().Set("WWW-Authenticate", `Digest realm="cam", nonce="abc123", qop="auth"`)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write(img)
	}))
	defer srv.Close()

	cfg := httpConfig(t, srv, "/shot.jpg")
	cfg.AuthType = "digest"
	cfg.Username = "admin"
	cfg.Password = "secret"

	src := newHTTPSource(cfg)
	if err := src.Open(context.Background()); err != nil {
		t.Fatalf("open with digest: %v", err)
	}
	defer src.Close()

	if _, err := src.ReadFrame(context.Background()); err != nil {
		t.Fatalf("read with digest: %v", err)
	}
}

func TestReadJPEG(t *testing.T) {
	img := encodeJPEG(t, 32, 24)
	var stream bytes.Buffer
	stream.Write([]byte{0x00, 0x01, 0xFF, 0x00}) // leading junk
	stream.Write(img)
	stream.Write([]byte{0xDE, 0xAD})
	stream.Write(img)

	br := bufio.NewReader(&stream)
	for i := 0; i < 2; i++ {
		data, err := readJPEG(br)
		if err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		if !bytes.Equal(data, img) {
			t.Fatalf("frame %d: extracted %d bytes, want %d", i, len(data), len(img))
		}
	}
	if _, err := readJPEG(br); err == nil {
		t.Fatal("expected EOF after the last frame")
	}
}

func TestFileSource_Loops(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 2; i++ {
		name := filepath.Join(dir, "frame"+strconv.Itoa(i)+".jpg")
		if err := os.WriteFile(name, encodeJPEG(t, 32, 24), 0o644); err != nil {
			t.Fatalf("write fixture: %v", err)
		}
	}

	src := newFileSource(Config{Protocol: "local", StreamPath: dir})
	if err := src.Open(context.Background()); err != nil {
		t.Fatalf("open: %v", err)
	}
	defer src.Close()

	// Three reads over two images proves the loop wraps.
	for i := 0; i < 3; i++ {
		f, err := src.ReadFrame(context.Background())
		if err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		if f.Width != 32 {
			t.Fatalf("frame %d: width %d", i, f.Width)
		}
	}
}

func TestNewSource_UnsupportedProtocol(t *testing.T) {
	if _, err := NewSource(Config{Protocol: "webrtc"}); err == nil {
		t.Fatal("expected an error for an unsupported protocol")
	}
}
