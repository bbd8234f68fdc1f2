package capture

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
)

// maxFrameBytes caps a single frame. Anything past this is a corrupt stream,
// not a surveillance image.
const maxFrameBytes = 8 << 20

// Source produces frames from one camera stream. Open establishes the
// connection, ReadFrame blocks until the next frame arrives, Close releases
// the connection. A source serves a single consumer; it is not safe for
// concurrent ReadFrame calls. After a ReadFrame error the source must be
// closed and reopened.
type Source interface {
	Open(ctx context.Context) error
	ReadFrame(ctx context.Context) (*Frame, error)
	Close() error
}

// Config describes the stream a source pulls from.
type Config struct {
	Protocol   string
	IPAddress  string
	Port       int
	StreamPath string
	AuthType   string
	Username   string
	Password   string
	FPS        int
}

// NewSource picks the transport for a camera config. HTTP cameras are read
// natively; RTSP, USB and local video go through ffmpeg.
func NewSource(cfg Config) (Source, error) {
	switch cfg.Protocol {
	case "http", "ip_webcam":
		return newHTTPSource(cfg), nil
	case "rtsp":
		return newRTSPSource(cfg), nil
	case "usb":
		return newUSBSource(cfg), nil
	case "local":
		switch strings.ToLower(filepath.Ext(cfg.StreamPath)) {
		case ".jpg", ".jpeg", "":
			return newFileSource(cfg), nil
		default:
			return newLocalVideoSource(cfg), nil
		}
	default:
		return nil, fmt.Errorf("unsupported protocol %q", cfg.Protocol)
	}
}

func (c Config) port(def int) int {
	if c.Port > 0 {
		return c.Port
	}
	return def
}

func rtspURL(cfg Config) string {
	host := net.JoinHostPort(cfg.IPAddress, strconv.Itoa(cfg.port(554)))
	path := cfg.StreamPath
	if path == "" {
		path = "/"
	} else if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if cfg.Username != "" {
		return "rtsp://" + url.UserPassword(cfg.Username, cfg.Password).String() + "@" + host + path
	}
	return "rtsp://" + host + path
}
