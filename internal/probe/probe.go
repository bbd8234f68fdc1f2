// Package probe answers one question about a camera endpoint: can we pull a
// usable video frame from it, and what does the stream look like. A probe is
// stateless and side effect free. It opens the source, samples a handful of
// frames, measures what it can and closes.
package probe

import (
	"context"
	"errors"
	"fmt"
	"image/jpeg"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	// DefaultTimeout bounds the whole probe including dial, auth and sampling.
	DefaultTimeout = 10 * time.Second

	// SampleWindow and SampleFrames cap how much of the stream a probe reads.
	SampleWindow = 2 * time.Second
	SampleFrames = 10
)

// Probe failures fall into three buckets so callers can tell a dead host from
// bad credentials from a stream that answers but cannot be decoded.
var (
	ErrUnreachable  = errors.New("camera unreachable")
	ErrAuthFailed   = errors.New("camera authentication failed")
	ErrDecodeFailed = errors.New("camera stream not decodable")
	ErrUnsupported  = errors.New("unsupported camera source")
)

// Source is a fully specified camera endpoint. Discovery candidates and stored
// cameras both reduce to this before probing.
type Source struct {
	Protocol   string `json:"protocol"`
	IPAddress  string `json:"ip_address"`
	Port       int    `json:"port"`
	StreamPath string `json:"stream_path"`
	AuthType   string `json:"auth_type"`
	Username   string `json:"username"`
	Password   string `json:"password"`
}

// Result reports what a probe established about a source. A failed probe is a
// Result with Success false and Error set, not a Go error; the caller decides
// how much of it to surface.
type Result struct {
	Success        bool     `json:"success"`
	ConnectionTime int64    `json:"connection_time_ms"`
	Width          int      `json:"width,omitempty"`
	Height         int      `json:"height,omitempty"`
	FPS            float64  `json:"fps,omitempty"`
	Features       []string `json:"features,omitempty"`
	Error          string   `json:"error,omitempty"`
}

type Prober struct {
	Timeout time.Duration
}

func New() *Prober {
	return &Prober{Timeout: DefaultTimeout}
}

// Probe checks the source and reports the outcome. The returned Result always
// carries a connection time, even on failure, so callers can show how long the
// attempt took.
func (p *Prober) Probe(ctx context.Context, src Source) *Result {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	var (
		res *Result
		err error
	)
	switch src.Protocol {
	case "http", "ip_webcam":
		res, err = p.probeHTTP(ctx, src)
	case "rtsp":
		res, err = p.probeRTSP(ctx, src)
	case "local":
		res, err = probeLocal(src)
	case "usb":
		res, err = probeUSB(src)
	default:
		err = fmt.Errorf("%w: protocol %q", ErrUnsupported, src.Protocol)
	}
	if err != nil {
		return &Result{ConnectionTime: time.Since(start).Milliseconds(), Error: err.Error()}
	}
	return res
}

func defaultPort(protocol string) int {
	switch protocol {
	case "rtsp":
		return 554
	case "ip_webcam":
		return 8080
	default:
		return 80
	}
}

// probeLocal checks a file backed source. A single JPEG is decoded for its
// dimensions; directories and video files only get an existence check.
func probeLocal(src Source) (*Result, error) {
	if src.StreamPath == "" {
		return nil, fmt.Errorf("%w: local source requires a stream path", ErrUnsupported)
	}
	fi, err := os.Stat(src.StreamPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	if fi.IsDir() {
		return &Result{Success: true, Features: []string{"image_dir"}}, nil
	}
	switch strings.ToLower(filepath.Ext(src.StreamPath)) {
	case ".jpg", ".jpeg":
		f, err := os.Open(src.StreamPath)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
		}
		defer f.Close()
		cfg, err := jpeg.DecodeConfig(f)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecodeFailed, err)
		}
		return &Result{Success: true, Width: cfg.Width, Height: cfg.Height, Features: []string{"jpeg"}}, nil
	default:
		return &Result{Success: true, Features: []string{"file"}}, nil
	}
}

// probeUSB checks that the V4L2 device node exists. Decoding is left to the
// capture runtime; a char device that stats cleanly is good enough here.
func probeUSB(src Source) (*Result, error) {
	device := src.StreamPath
	if device == "" {
		device = fmt.Sprintf("/dev/video%d", src.Port)
	}
	fi, err := os.Stat(device)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	if fi.Mode()&os.ModeCharDevice == 0 {
		return nil, fmt.Errorf("%w: %s is not a capture device", ErrDecodeFailed, device)
	}
	return &Result{Success: true, Features: []string{"v4l2"}}, nil
}
