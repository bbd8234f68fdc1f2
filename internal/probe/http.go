package probe

import (
	"context"
	"fmt"
	"image/jpeg"
	"io"
	"mime"
	"mime/multipart"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// probeHTTP samples an MJPEG or snapshot endpoint. ip_webcam sources are plain
// HTTP underneath; only the default port and path differ.
func (p *Prober) probeHTTP(ctx context.Context, src Source) (*Result, error) {
	port := src.Port
	if port == 0 {
		port = defaultPort(src.Protocol)
	}
	path := src.StreamPath
	if path == "" {
		path = "/video"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	target := "http://" + net.JoinHostPort(src.IPAddress, strconv.Itoa(port)) + path

	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}
	defer client.CloseIdleConnections()

	start := time.Now()
	resp, err := fetchStream(ctx, client, target, src)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	connTime := time.Since(start)

	ct, params, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	switch {
	case strings.HasPrefix(ct, "multipart/"):
		return sampleMJPEG(ctx, resp.Body, params["boundary"], connTime)
	case ct == "image/jpeg" || ct == "image/jpg":
		cfg, err := jpeg.DecodeConfig(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecodeFailed, err)
		}
		return &Result{
			Success:        true,
			ConnectionTime: connTime.Milliseconds(),
			Width:          cfg.Width,
			Height:         cfg.Height,
			Features:       []string{"jpeg"},
		}, nil
	default:
		return nil, fmt.Errorf("%w: unexpected content type %q", ErrDecodeFailed, ct)
	}
}

// fetchStream issues the GET, replaying it once with a computed Authorization
// header when the camera answers a digest challenge.
func fetchStream(ctx context.Context, client *http.Client, target string, src Source) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	if src.AuthType == "basic" && src.Username != "" {
		req.SetBasicAuth(src.Username, src.Password)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}

	if resp.StatusCode == http.StatusUnauthorized && src.AuthType == "digest" && src.Username != "" {
		challenge := resp.Header.Get("WWW-Authenticate")
		resp.Body.Close()
		authz, derr := DigestAuthorization(http.MethodGet, req.URL.RequestURI(), src.Username, src.Password, challenge)
		if derr != nil {
			return nil, fmt.Errorf("%w: %v", ErrAuthFailed, derr)
		}
		retry, rerr := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if rerr != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnreachable, rerr)
		}
		retry.Header.Set("Authorization", authz)
		resp, err = client.Do(retry)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
		}
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		resp.Body.Close()
		return nil, fmt.Errorf("%w: http status %d", ErrAuthFailed, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		code := resp.StatusCode
		resp.Body.Close()
		return nil, fmt.Errorf("%w: http status %d", ErrDecodeFailed, code)
	}
	return resp, nil
}

// sampleMJPEG reads multipart parts until the frame or time budget runs out.
// Frame rate comes from part arrival times, so at least two decodable frames
// are needed before FPS is reported.
func sampleMJPEG(ctx context.Context, body io.Reader, boundary string, connTime time.Duration) (*Result, error) {
	boundary = strings.TrimPrefix(boundary, "--")
	if boundary == "" {
		return nil, fmt.Errorf("%w: multipart response without boundary", ErrDecodeFailed)
	}
	mr := multipart.NewReader(body, boundary)

	var (
		frames        int
		width, height int
		first, last   time.Time
	)
	deadline := time.Now().Add(SampleWindow)
	for frames < SampleFrames && time.Now().Before(deadline) && ctx.Err() == nil {
		part, err := mr.NextPart()
		if err != nil {
			break
		}
		cfg, derr := jpeg.DecodeConfig(part)
		if derr != nil {
			continue
		}
		now := time.Now()
		if frames == 0 {
			width, height = cfg.Width, cfg.Height
			first = now
		}
		frames++
		last = now
	}
	if frames == 0 {
		return nil, fmt.Errorf("%w: no decodable frames in sample window", ErrDecodeFailed)
	}

	res := &Result{
		Success:        true,
		ConnectionTime: connTime.Milliseconds(),
		Width:          width,
		Height:         height,
		Features:       []string{"mjpeg"},
	}
	if frames >= 2 && last.After(first) {
		res.FPS = float64(frames-1) / last.Sub(first).Seconds()
	}
	return res, nil
}
