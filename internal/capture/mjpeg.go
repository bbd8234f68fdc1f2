package capture

import (
	"bytes"
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

	"github.com/technosupport/ts-ppe/internal/probe"
)

// httpSource reads an HTTP camera. Endpoints that answer with
// multipart/x-mixed-replace are consumed as one long MJPEG stream; endpoints
// that answer with a single image/jpeg are polled once per ReadFrame.
type httpSource struct {
	cfg    Config
	target string
	client *http.Client

	resp  *http.Response
	parts *multipart.Reader
}

func newHTTPSource(cfg Config) *httpSource {
	path := cfg.StreamPath
	if path == "" {
		path = "/video"
	} else if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	host := net.JoinHostPort(cfg.IPAddress, strconv.Itoa(cfg.port(80)))
	return &httpSource{
		cfg:    cfg,
		target: "http://" + host + path,
		client: &http.Client{
			Transport: &http.Transport{
				DialContext:       (&net.Dialer{Timeout: 5 * time.Second}).DialContext,
				DisableKeepAlives: true,
			},
		},
	}
}

func (s *httpSource) Open(ctx context.Context) error {
	resp, err := s.get(ctx)
	if err != nil {
		return err
	}
	mediaType, params, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	switch {
	case strings.HasPrefix(mediaType, "multipart/"):
		boundary := strings.TrimPrefix(params["boundary"], "--")
		if boundary == "" {
			resp.Body.Close()
			return fmt.Errorf("multipart response without boundary")
		}
		s.resp = resp
		s.parts = multipart.NewReader(resp.Body, boundary)
		return nil
	case mediaType == "image/jpeg":
		// Snapshot endpoint. Drain this response and poll per frame.
		resp.Body.Close()
		s.resp = nil
		s.parts = nil
		return nil
	default:
		resp.Body.Close()
		return fmt.Errorf("unexpected content type %q", mediaType)
	}
}

func (s *httpSource) ReadFrame(ctx context.Context) (*Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.parts != nil {
		return s.readPart()
	}
	return s.pollSnapshot(ctx)
}

func (s *httpSource) readPart() (*Frame, error) {
	part, err := s.parts.NextPart()
	if err != nil {
		return nil, err
	}
	data, err := io.ReadAll(io.LimitReader(part, maxFrameBytes+1))
	part.Close()
	if err != nil {
		return nil, err
	}
	if len(data) > maxFrameBytes {
		return nil, fmt.Errorf("frame exceeds %d bytes", maxFrameBytes)
	}
	return frameFromJPEG(data)
}

func (s *httpSource) pollSnapshot(ctx context.Context) (*Frame, error) {
	resp, err := s.get(ctx)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFrameBytes+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxFrameBytes {
		return nil, fmt.Errorf("frame exceeds %d bytes", maxFrameBytes)
	}
	return frameFromJPEG(data)
}

// get issues one authenticated GET. Basic credentials go out preemptively;
// digest needs the server challenge, so a 401 is retried once with the
// computed Authorization header.
func (s *httpSource) get(ctx context.Context) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.target, nil)
	if err != nil {
		return nil, err
	}
	if s.cfg.Username != "" && s.cfg.AuthType != "digest" {
		req.SetBasicAuth(s.cfg.Username, s.cfg.Password)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized && s.cfg.AuthType == "digest" {
		challenge := resp.Header.Get("WWW-Authenticate")
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		authz, aerr := probe.DigestAuthorization(http.MethodGet, req.URL.RequestURI(), s.cfg.Username, s.cfg.Password, challenge)
		if aerr != nil {
			return nil, aerr
		}
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, s.target, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", authz)
		resp, err = s.client.Do(req)
		if err != nil {
			return nil, err
		}
	}
	if resp.StatusCode != http.StatusOK {
		code := resp.StatusCode
		resp.Body.Close()
		return nil, fmt.Errorf("http status %d", code)
	}
	return resp, nil
}

func (s *httpSource) Close() error {
	if s.resp != nil {
		s.resp.Body.Close()
		s.resp = nil
		s.parts = nil
	}
	return nil
}

// frameFromJPEG wraps encoded bytes, reading only the header for dimensions.
func frameFromJPEG(data []byte) (*Frame, error) {
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	return &Frame{Data: data, Width: cfg.Width, Height: cfg.Height, Timestamp: time.Now()}, nil
}
