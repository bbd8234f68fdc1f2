package probe

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"
)

func encodeJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h)), nil); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}
	return buf.Bytes()
}

func sourceFor(t *testing.T, srv *httptest.Server, src Source) Source {
	t.Helper()
	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("parse server url: %v", err)
	}
	host, portStr, err := net.SplitHostPort(u.Host)
	if err != nil {
		t.Fatalf("split host: %v", err)
	}
	port, _ := strconv.Atoi(portStr)
	src.IPAddress = host
	src.Port = port
	return src
}

func mjpegHandler(t *testing.T, frames [][]byte, gap time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
		w.WriteHeader(http.StatusOK)
		mw := multipart.NewWriter(w)
		if err := mw.SetBoundary("frame"); err != nil {
			t.Errorf("set boundary: %v", err)
			return
		}
		fl, _ := w.(http.Flusher)
		for _, f := range frames {
			hdr := textproto.MIMEHeader{}
			hdr.Set("Content-Type", "image/jpeg")
			hdr.Set("Content-Length", strconv.Itoa(len(f)))
			pw, err := mw.CreatePart(hdr)
			if err != nil {
				return
			}
			if _, err := pw.Write(f); err != nil {
				return
			}
			if fl != nil {
				fl.Flush()
			}
			time.Sleep(gap)
		}
		mw.Close()
	}
}

func TestProbe_MJPEGStream(t *testing.T) {
	frame := encodeJPEG(t, 64, 48)
	srv := httptest.NewServer(mjpegHandler(t, [][]byte{frame, frame, frame, frame}, 40*time.Millisecond))
	defer srv.Close()

	res := New().Probe(context.Background(), sourceFor(t, srv, Source{Protocol: "http", StreamPath: "/video"}))

	// 1. The stream probes clean.
	if !res.Success {
		t.Fatalf("expected success, got error %q", res.Error)
	}
	// 2. Dimensions come from the decoded first frame.
	if res.Width != 64 || res.Height != 48 {
		t.Errorf("expected 64x48, got %dx%d", res.Width, res.Height)
	}
	// 3. Multiple frames yield a measured rate.
	if res.FPS <= 0 {
		t.Errorf("expected positive fps, got %v", res.FPS)
	}
	// 4. The stream kind is reported.
	if len(res.Features) == 0 || res.Features[0] != "mjpeg" {
		t.Errorf("expected mjpeg feature, got %v", res.Features)
	}
}

func TestProbe_Snapshot(t *testing.T) {
	frame := encodeJPEG(t, 320, 240)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write(frame)
	}))
	defer srv.Close()

	res := New().Probe(context.Background(), sourceFor(t, srv, Source{Protocol: "http", StreamPath: "/shot.jpg"}))

	if !res.Success {
		t.Fatalf("expected success, got error %q", res.Error)
	}
	if res.Width != 320 || res.Height != 240 {
		t.Errorf("expected 320x240, got %dx%d", res.Width, res.Height)
	}
	// A single snapshot cannot carry a frame rate.
	if res.FPS != 0 {
		t.Errorf("expected zero fps for snapshot, got %v", res.FPS)
	}
}

func TestProbe_AuthRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("WWW-Authenticate", `Basic realm="cam"`)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	res := New().Probe(context.Background(), sourceFor(t, srv, Source{Protocol: "http"}))

	if res.Success {
		t.Fatal("expected failure against 401 endpoint")
	}
	if !strings.Contains(res.Error, "authentication failed") {
		t.Errorf("expected auth failure, got %q", res.Error)
	}
}

func TestProbe_DigestRoundTrip(t *testing.T) {
	const (
		user  = "admin"
		pass  = "secret"
		realm = "camera"
		nonce = "1f2e3d4c"
	)
	frame := encodeJPEG(t, 16, 16)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authz := r.Header.Get("Authorization")
		if authz == "" {
			w.Header().Set("WWW-Authenticate", fmt.Sprintf(`Digest realm=%q, nonce=%q, qop="auth"`, realm, nonce))
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		scheme, params := parseAuthChallenge(authz)
		if !strings.EqualFold(scheme, "Digest") {
			http.Error(w, "bad scheme", http.StatusBadRequest)
			return
		}
		ha1 := md5hex(user + ":" + realm + ":" + pass)
		ha2 := md5hex("GET:" + params["uri"])
		want := digestResponse(ha1, nonce, params["nc"], params["cnonce"], "auth", ha2)
		if params["response"] != want {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write(frame)
	}))
	defer srv.Close()

	src := sourceFor(t, srv, Source{
		Protocol:   "http",
		StreamPath: "/snapshot",
		AuthType:   "digest",
		Username:   user,
		Password:   pass,
	})
	res := New().Probe(context.Background(), src)

	if !res.Success {
		t.Fatalf("digest probe failed: %q", res.Error)
	}
	if res.Width != 16 {
		t.Errorf("expected decoded frame, got %dx%d", res.Width, res.Height)
	}
}

func TestProbe_Unreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()
	host, portStr, _ := net.SplitHostPort(addr)
	port, _ := strconv.Atoi(portStr)

	res := New().Probe(context.Background(), Source{Protocol: "http", IPAddress: host, Port: port})

	if res.Success {
		t.Fatal("expected failure against closed port")
	}
	if !strings.Contains(res.Error, "unreachable") {
		t.Errorf("expected unreachable, got %q", res.Error)
	}
}

func TestProbe_UndecodableBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, "<html>not a camera</html>")
	}))
	defer srv.Close()

	res := New().Probe(context.Background(), sourceFor(t, srv, Source{Protocol: "http"}))

	if res.Success {
		t.Fatal("expected failure for html body")
	}
	if !strings.Contains(res.Error, "not decodable") {
		t.Errorf("expected decode failure, got %q", res.Error)
	}
}

// startRTSPServer runs a minimal RTSP responder on a loopback port. The
// respond callback maps a method name to a full wire response.
func startRTSPServer(t *testing.T, respond func(method string) string) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				br := bufio.NewReader(c)
				for {
					method := ""
					for {
						line, err := br.ReadString('\n')
						if err != nil {
							return
						}
						line = strings.TrimRight(line, "\r\n")
						if line == "" {
							break
						}
						if method == "" {
							if i := strings.Index(line, " "); i > 0 {
								method = line[:i]
							}
						}
					}
					if method == "" {
						return
					}
					if _, err := io.WriteString(c, respond(method)); err != nil {
						return
					}
				}
			}(conn)
		}
	}()
	return ln.Addr().String()
}

func rtspSourceFor(t *testing.T, addr string) Source {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatal(err)
	}
	port, _ := strconv.Atoi(portStr)
	return Source{Protocol: "rtsp", IPAddress: host, Port: port, StreamPath: "/stream1"}
}

func TestProbe_RTSPDescribe(t *testing.T) {
	sdp := "v=0\r\nm=video 0 RTP/AVP 96\r\na=framerate:25.000\r\nm=audio 0 RTP/AVP 0\r\n"
	addr := startRTSPServer(t, func(method string) string {
		switch method {
		case "OPTIONS":
			return "RTSP/1.0 200 OK\r\nCSeq: 1\r\nPublic: OPTIONS, DESCRIBE, SETUP, PLAY\r\n\r\n"
		case "DESCRIBE":
			return fmt.Sprintf("RTSP/1.0 200 OK\r\nCSeq: 2\r\nContent-Type: application/sdp\r\nContent-Length: %d\r\n\r\n%s", len(sdp), sdp)
		default:
			return "RTSP/1.0 405 Method Not Allowed\r\nCSeq: 0\r\n\r\n"
		}
	})

	res := New().Probe(context.Background(), rtspSourceFor(t, addr))

	// 1. Handshake plus SDP counts as a successful probe.
	if !res.Success {
		t.Fatalf("expected success, got %q", res.Error)
	}
	// 2. Media sections surface as features.
	joined := strings.Join(res.Features, ",")
	if !strings.Contains(joined, "rtsp") || !strings.Contains(joined, "video") || !strings.Contains(joined, "audio") {
		t.Errorf("unexpected features %v", res.Features)
	}
	// 3. The advertised frame rate is parsed.
	if res.FPS != 25 {
		t.Errorf("expected fps 25, got %v", res.FPS)
	}
}

func TestProbe_RTSPAuthFailed(t *testing.T) {
	addr := startRTSPServer(t, func(method string) string {
		return "RTSP/1.0 401 Unauthorized\r\nCSeq: 1\r\nWWW-Authenticate: Digest realm=\"cam\", nonce=\"abc123\"\r\n\r\n"
	})

	src := rtspSourceFor(t, addr)
	src.AuthType = "digest"
	src.Username = "admin"
	src.Password = "wrong"
	res := New().Probe(context.Background(), src)

	if res.Success {
		t.Fatal("expected auth failure")
	}
	if !strings.Contains(res.Error, "authentication failed") {
		t.Errorf("expected auth failure, got %q", res.Error)
	}
}

func TestProbe_LocalJPEG(t *testing.T) {
	path := filepath.Join(t.TempDir(), "still.jpg")
	if err := os.WriteFile(path, encodeJPEG(t, 640, 480), 0o644); err != nil {
		t.Fatal(err)
	}

	res := New().Probe(context.Background(), Source{Protocol: "local", StreamPath: path})

	if !res.Success {
		t.Fatalf("expected success, got %q", res.Error)
	}
	if res.Width != 640 || res.Height != 480 {
		t.Errorf("expected 640x480, got %dx%d", res.Width, res.Height)
	}
}

func TestProbe_LocalMissing(t *testing.T) {
	res := New().Probe(context.Background(), Source{Protocol: "local", StreamPath: filepath.Join(t.TempDir(), "nope.jpg")})

	if res.Success {
		t.Fatal("expected failure for missing file")
	}
	if !strings.Contains(res.Error, "unreachable") {
		t.Errorf("expected unreachable, got %q", res.Error)
	}
}

func TestProbe_UnknownProtocol(t *testing.T) {
	res := New().Probe(context.Background(), Source{Protocol: "carrier_pigeon"})
	if res.Success || !strings.Contains(res.Error, "unsupported") {
		t.Errorf("expected unsupported source, got %+v", res)
	}
}

func TestParseAuthChallenge(t *testing.T) {
	cases := []struct {
		input     string
		scheme    string
		wantKey   string
		wantValue string
	}{
		{`Digest realm="axis", nonce="0001"`, "Digest", "nonce", "0001"},
		{`Digest realm="a, b", nonce="n"`, "Digest", "realm", "a, b"},
		{`Digest realm="cam", qop="auth,auth-int", nonce="x"`, "Digest", "qop", "auth,auth-int"},
		{`Basic realm="cam"`, "Basic", "realm", "cam"},
		{`Digest nonce=bare, algorithm=MD5`, "Digest", "nonce", "bare"},
	}
	for _, c := range cases {
		scheme, params := parseAuthChallenge(c.input)
		if scheme != c.scheme {
			t.Errorf("parseAuthChallenge(%q) scheme = %q; want %q", c.input, scheme, c.scheme)
		}
		if got := params[c.wantKey]; got != c.wantValue {
			t.Errorf("parseAuthChallenge(%q)[%s] = %q; want %q", c.input, c.wantKey, got, c.wantValue)
		}
	}
}

func TestDigestResponse_KnownVector(t *testing.T) {
	// Published example from the HTTP digest RFC.
	ha1 := md5hex("Mufasa:testrealm@host.com:Circle Of Life")
	ha2 := md5hex("GET:/dir/index.html")
	got := digestResponse(ha1, "dcd98b7102dd2f0e8b11d0f600bfb0c093", "00000001", "0a4f113b", "auth", ha2)
	if got != "6629fae49393a05397450978507c4ef1" {
		t.Errorf("digest response = %q; want RFC vector", got)
	}
}
