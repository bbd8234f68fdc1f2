package probe

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"net/textproto"
	"strconv"
	"strings"
	"time"
)

const (
	rtspUserAgent = "TechnoSupportPPE/1.0"
	maxSDPBytes   = 64 * 1024
)

// probeRTSP speaks just enough RTSP over raw TCP to classify the endpoint:
// OPTIONS to confirm the server talks RTSP, DESCRIBE to pull the SDP. No
// transport is ever set up, so the probe never consumes a stream slot on
// cameras with tight session limits.
func (p *Prober) probeRTSP(ctx context.Context, src Source) (*Result, error) {
	port := src.Port
	if port == 0 {
		port = defaultPort(src.Protocol)
	}
	addr := net.JoinHostPort(src.IPAddress, strconv.Itoa(port))
	path := src.StreamPath
	if path != "" && !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	var d net.Dialer
	start := time.Now()
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer conn.Close()
	connTime := time.Since(start)
	if dl, ok := ctx.Deadline(); ok {
		conn.SetDeadline(dl)
	}

	sess := &rtspSession{
		conn: conn,
		r:    textproto.NewReader(bufio.NewReader(conn)),
		uri:  "rtsp://" + addr + path,
		src:  src,
	}

	if _, err := sess.request("OPTIONS"); err != nil {
		return nil, err
	}
	resp, err := sess.request("DESCRIBE")
	if err != nil {
		return nil, err
	}

	res := &Result{
		Success:        true,
		ConnectionTime: connTime.Milliseconds(),
		Features:       []string{"rtsp"},
	}
	applySDP(res, resp.body)
	return res, nil
}

type rtspSession struct {
	conn      net.Conn
	r         *textproto.Reader
	uri       string
	src       Source
	cseq      int
	challenge string // WWW-Authenticate value from the last 401
}

type rtspResponse struct {
	code   int
	header textproto.MIMEHeader
	body   []byte
}

// request performs one method round trip, replaying it once after the first
// 401 so a digest challenge can be answered. Auth failures and non-200 codes
// come back as classified errors.
func (s *rtspSession) request(method string) (*rtspResponse, error) {
	resp, err := s.roundTrip(method)
	if err != nil {
		return nil, err
	}
	if resp.code == 401 && s.challenge == "" && s.src.Username != "" {
		if ch := resp.header.Get("WWW-Authenticate"); ch != "" {
			s.challenge = ch
			resp, err = s.roundTrip(method)
			if err != nil {
				return nil, err
			}
		}
	}
	switch {
	case resp.code == 401 || resp.code == 403:
		return nil, fmt.Errorf("%w: rtsp status %d", ErrAuthFailed, resp.code)
	case resp.code != 200:
		return nil, fmt.Errorf("%w: rtsp status %d", ErrDecodeFailed, resp.code)
	}
	return resp, nil
}

func (s *rtspSession) roundTrip(method string) (*rtspResponse, error) {
	s.cseq++
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s RTSP/1.0\r\nCSeq: %d\r\nUser-Agent: %s\r\n", method, s.uri, s.cseq, rtspUserAgent)
	auth, err := s.authorization(method)
	if err != nil {
		return nil, err
	}
	if auth != "" {
		fmt.Fprintf(&b, "Authorization: %s\r\n", auth)
	}
	if method == "DESCRIBE" {
		b.WriteString("Accept: application/sdp\r\n")
	}
	b.WriteString("\r\n")

	if _, err := s.conn.Write([]byte(b.String())); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}

	line, err := s.r.ReadLine()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	var proto string
	var code int
	if n, _ := fmt.Sscanf(line, "%s %d", &proto, &code); n < 2 || !strings.HasPrefix(proto, "RTSP/") {
		return nil, fmt.Errorf("%w: malformed rtsp response %q", ErrDecodeFailed, line)
	}
	header, err := s.r.ReadMIMEHeader()
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("%w: %v", ErrDecodeFailed, err)
	}

	var body []byte
	if cl := header.Get("Content-Length"); cl != "" {
		n, _ := strconv.Atoi(cl)
		if n > 0 && n <= maxSDPBytes {
			body = make([]byte, n)
			if _, err := io.ReadFull(s.r.R, body); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
			}
		}
	}
	return &rtspResponse{code: code, header: header, body: body}, nil
}

// authorization produces the header for this request. Basic credentials are
// sent preemptively; digest needs the server's challenge first, so it only
// kicks in once a 401 has supplied one.
func (s *rtspSession) authorization(method string) (string, error) {
	if s.src.Username == "" {
		return "", nil
	}
	if s.challenge != "" {
		scheme, _ := parseAuthChallenge(s.challenge)
		if strings.EqualFold(scheme, "Basic") {
			return BasicAuthorization(s.src.Username, s.src.Password), nil
		}
		authz, err := DigestAuthorization(method, s.uri, s.src.Username, s.src.Password, s.challenge)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrAuthFailed, err)
		}
		return authz, nil
	}
	if s.src.AuthType == "basic" {
		return BasicAuthorization(s.src.Username, s.src.Password), nil
	}
	return "", nil
}

// applySDP pulls best-effort facts out of the session description. Most
// cameras omit dimensions, so width and height usually stay zero here and get
// measured by the capture runtime instead.
func applySDP(res *Result, sdp []byte) {
	for _, line := range strings.Split(string(sdp), "\n") {
		line = strings.TrimRight(line, "\r")
		switch {
		case strings.HasPrefix(line, "m=video"):
			res.Features = append(res.Features, "video")
		case strings.HasPrefix(line, "m=audio"):
			res.Features = append(res.Features, "audio")
		case strings.HasPrefix(line, "a=framerate:"):
			if v, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimPrefix(line, "a=framerate:")), 64); err == nil && v > 0 {
				res.FPS = v
			}
		case strings.HasPrefix(line, "a=x-dimensions:"):
			var w, h int
			if n, _ := fmt.Sscanf(strings.TrimPrefix(line, "a=x-dimensions:"), "%d,%d", &w, &h); n == 2 {
				res.Width, res.Height = w, h
			}
		}
	}
}
