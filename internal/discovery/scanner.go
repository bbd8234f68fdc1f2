// Package discovery sweeps a network range for camera-like devices. The scan
// is best effort: hosts that refuse connections are silently skipped, hosts
// that misbehave are reported per host, and the scan as a whole only fails on
// an unusable range or a cancelled context.
package discovery

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	DefaultWorkers     = 20
	DefaultHostTimeout = 2 * time.Second

	// MinConfidence is the emission floor; anything scored below it is noise.
	MinConfidence       = 0.5
	ConfidenceVendor    = 0.9
	ConfidencePathMatch = 0.7
	ConfidencePortOnly  = 0.5

	dialTimeout  = 500 * time.Millisecond
	bodySample   = 4 * 1024
	maxScanHosts = 4096
)

// DefaultPorts are the ports cameras commonly answer on.
var DefaultPorts = []int{80, 88, 554, 8000, 8080}

// Candidate is one host the scan believes to be a camera, with the endpoint
// it should be registered under. Credentials are factory defaults from the
// matched profile.
type Candidate struct {
	IPAddress  string   `json:"ip_address"`
	Port       int      `json:"port"`
	Vendor     string   `json:"vendor"`
	Protocol   string   `json:"protocol"`
	StreamPath string   `json:"stream_path"`
	AuthType   string   `json:"auth_type"`
	Username   string   `json:"username,omitempty"`
	Password   string   `json:"-"`
	Confidence float64  `json:"confidence"`
	OpenPorts  []int    `json:"open_ports"`
	Server     string   `json:"server,omitempty"`
	Features   []string `json:"features,omitempty"`
}

type HostError struct {
	IPAddress string `json:"ip_address"`
	Error     string `json:"error"`
}

type Report struct {
	Network      string      `json:"network"`
	StartedAt    time.Time   `json:"started_at"`
	DurationMS   int64       `json:"duration_ms"`
	HostsScanned int         `json:"hosts_scanned"`
	Candidates   []Candidate `json:"candidates"`
	Errors       []HostError `json:"errors,omitempty"`
}

type Scanner struct {
	Workers     int
	HostTimeout time.Duration
	Ports       []int
	Profiles    []VendorProfile
}

func NewScanner() *Scanner {
	return &Scanner{
		Workers:     DefaultWorkers,
		HostTimeout: DefaultHostTimeout,
		Ports:       DefaultPorts,
		Profiles:    builtinProfiles,
	}
}

// Scan sweeps the range with a bounded worker pool. On cancellation the
// partial report is returned together with the context error so callers can
// show what was found before the cutoff.
func (s *Scanner) Scan(ctx context.Context, network string) (*Report, error) {
	hosts, err := expandNetwork(network)
	if err != nil {
		return nil, err
	}

	report := &Report{Network: network, StartedAt: time.Now(), HostsScanned: len(hosts)}

	workers := s.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if workers > len(hosts) {
		workers = len(hosts)
	}

	jobs := make(chan string)
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ip := range jobs {
				cand, err := s.scanHost(ctx, ip)
				mu.Lock()
				if err != nil {
					report.Errors = append(report.Errors, HostError{IPAddress: ip, Error: err.Error()})
				}
				if cand != nil {
					report.Candidates = append(report.Candidates, *cand)
				}
				mu.Unlock()
			}
		}()
	}

feed:
	for _, ip := range hosts {
		select {
		case jobs <- ip:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	sort.Slice(report.Candidates, func(i, j int) bool {
		return ipLess(report.Candidates[i].IPAddress, report.Candidates[j].IPAddress)
	})
	report.DurationMS = time.Since(report.StartedAt).Milliseconds()
	if ctx.Err() != nil {
		return report, ctx.Err()
	}
	return report, nil
}

// scanHost checks one host within its own time budget. A quiet host is not an
// error; running out of budget after finding open ports is reported but the
// candidate assembled so far is still emitted.
func (s *Scanner) scanHost(ctx context.Context, ip string) (*Candidate, error) {
	hostCtx, cancel := context.WithTimeout(ctx, s.hostTimeout())
	defer cancel()

	var open []int
	d := net.Dialer{Timeout: dialTimeout}
	for _, port := range s.ports() {
		if hostCtx.Err() != nil {
			break
		}
		conn, err := d.DialContext(hostCtx, "tcp", net.JoinHostPort(ip, strconv.Itoa(port)))
		if err != nil {
			continue
		}
		conn.Close()
		open = append(open, port)
	}
	if len(open) == 0 {
		return nil, nil
	}

	cand := s.fingerprint(hostCtx, ip, open)
	if cand != nil && cand.Confidence < MinConfidence {
		cand = nil
	}
	var scanErr error
	if hostCtx.Err() != nil && ctx.Err() == nil {
		scanErr = fmt.Errorf("host budget exhausted with ports %v open", open)
	}
	return cand, scanErr
}

// fingerprint turns a host with open ports into a scored candidate. Vendor
// name evidence in the Server header or landing page scores highest, then a
// known path answering, then bare open ports.
func (s *Scanner) fingerprint(ctx context.Context, ip string, open []int) *Candidate {
	cand := &Candidate{IPAddress: ip, OpenPorts: open}
	profiles := s.profiles()

	client := &http.Client{
		Transport: &http.Transport{DisableKeepAlives: true},
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	defer client.CloseIdleConnections()

	var server, body string
	httpPort := 0
	for _, port := range open {
		if port == 554 {
			continue
		}
		h, b, err := fetchRoot(ctx, client, ip, port)
		if err != nil {
			continue
		}
		server, body, httpPort = h, b, port
		break
	}

	if httpPort != 0 {
		for i := range profiles {
			p := &profiles[i]
			if p.matchesHeader(server) || p.matchesBody(body) {
				applyProfile(cand, p, httpPort, ConfidenceVendor)
				cand.Server = server
				return cand
			}
		}
	}

	// Vendor paths are tried on every open HTTP port, not only the ports the
	// profile lists.
	for i := range profiles {
		p := &profiles[i]
		for _, port := range open {
			if port == 554 || ctx.Err() != nil {
				continue
			}
			for _, path := range p.ProbePaths {
				if pathAnswers(ctx, client, ip, port, path) {
					applyProfile(cand, p, port, ConfidencePathMatch)
					cand.Server = server
					return cand
				}
			}
		}
	}

	applyProfile(cand, genericProfile(profiles), httpPort, ConfidencePortOnly)
	cand.Server = server
	return cand
}

func genericProfile(profiles []VendorProfile) *VendorProfile {
	for i := range profiles {
		if profiles[i].Vendor == "generic" {
			return &profiles[i]
		}
	}
	return &VendorProfile{Vendor: "generic", Protocol: "rtsp", AuthType: "none", RTSPPath: "/", HTTPPath: "/video"}
}

// applyProfile fills in vendor identity and picks the endpoint the candidate
// should be registered with. RTSP wins when the profile has a template and
// port 554 answered; otherwise the profile's HTTP stream is used.
func applyProfile(cand *Candidate, p *VendorProfile, httpPort int, confidence float64) {
	cand.Vendor = p.Vendor
	cand.Confidence = confidence
	cand.AuthType = p.AuthType
	cand.Username = p.DefaultUser
	cand.Password = p.DefaultPass
	cand.Features = p.Features

	if httpPort == 0 {
		httpPort = firstHTTPPort(cand.OpenPorts)
	}
	switch {
	case p.RTSPPath != "" && containsInt(cand.OpenPorts, 554):
		cand.Protocol, cand.Port, cand.StreamPath = "rtsp", 554, p.RTSPPath
	case p.HTTPPath != "" && httpPort != 0:
		proto := p.Protocol
		if proto == "" || proto == "rtsp" {
			proto = "http"
		}
		cand.Protocol, cand.Port, cand.StreamPath = proto, httpPort, p.HTTPPath
	case p.RTSPPath != "":
		cand.Protocol, cand.Port, cand.StreamPath = "rtsp", 554, p.RTSPPath
	default:
		if httpPort == 0 {
			httpPort = cand.OpenPorts[0]
		}
		cand.Protocol, cand.Port, cand.StreamPath = "http", httpPort, "/video"
	}
}

func fetchRoot(ctx context.Context, client *http.Client, ip string, port int) (server, body string, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+net.JoinHostPort(ip, strconv.Itoa(port))+"/", nil)
	if err != nil {
		return "", "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()
	buf, _ := io.ReadAll(io.LimitReader(resp.Body, bodySample))
	return resp.Header.Get("Server"), strings.ToLower(string(buf)), nil
}

// pathAnswers treats auth challenges as proof the path exists; a protected
// vendor endpoint identifies the brand just as well as an open one.
func pathAnswers(ctx context.Context, client *http.Client, ip string, port int, path string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+net.JoinHostPort(ip, strconv.Itoa(port))+path, nil)
	if err != nil {
		return false
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	io.Copy(io.Discard, io.LimitReader(resp.Body, bodySample))
	resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK, http.StatusMovedPermanently, http.StatusFound,
		http.StatusUnauthorized, http.StatusForbidden:
		return true
	}
	return false
}

// expandNetwork turns a CIDR block, an explicit start-end range or a single
// address into the host list to sweep. Network and broadcast addresses are
// excluded for blocks wider than /31.
func expandNetwork(network string) ([]string, error) {
	network = strings.TrimSpace(network)
	if network == "" {
		return nil, errors.New("network range required")
	}

	if strings.Contains(network, "/") {
		_, ipnet, err := net.ParseCIDR(network)
		if err != nil {
			return nil, fmt.Errorf("invalid network range %q: %v", network, err)
		}
		base := ipnet.IP.To4()
		if base == nil {
			return nil, fmt.Errorf("only ipv4 ranges can be scanned, got %q", network)
		}
		ones, bits := ipnet.Mask.Size()
		span := bits - ones
		if span > 12 {
			return nil, fmt.Errorf("network range %q too large to scan (max /20)", network)
		}
		total := uint32(1) << span
		start := binary.BigEndian.Uint32(base)

		var hosts []string
		if span <= 1 {
			for i := uint32(0); i < total; i++ {
				hosts = append(hosts, u32ToIP(start + i))
			}
		} else {
			for i := uint32(1); i < total-1; i++ {
				hosts = append(hosts, u32ToIP(start + i))
			}
		}
		return hosts, nil
	}

	if strings.Contains(network, "-") {
		parts := strings.SplitN(network, "-", 2)
		lo := net.ParseIP(strings.TrimSpace(parts[0]))
		hi := net.ParseIP(strings.TrimSpace(parts[1]))
		if lo == nil || hi == nil || lo.To4() == nil || hi.To4() == nil {
			return nil, fmt.Errorf("invalid network range %q", network)
		}
		l := binary.BigEndian.Uint32(lo.To4())
		h := binary.BigEndian.Uint32(hi.To4())
		if h < l {
			return nil, fmt.Errorf("network range %q ends before it starts", network)
		}
		if h-l+1 > maxScanHosts {
			return nil, fmt.Errorf("network range %q too large to scan", network)
		}
		var hosts []string
		for v := l; ; v++ {
			hosts = append(hosts, u32ToIP(v))
			if v == h {
				break
			}
		}
		return hosts, nil
	}

	ip := net.ParseIP(network)
	if ip == nil || ip.To4() == nil {
		return nil, fmt.Errorf("invalid network range %q", network)
	}
	return []string{ip.To4().String()}, nil
}

func u32ToIP(v uint32) string {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return net.IP(b[:]).String()
}

func ipLess(a, b string) bool {
	pa, pb := net.ParseIP(a).To4(), net.ParseIP(b).To4()
	if pa == nil || pb == nil {
		return a < b
	}
	return binary.BigEndian.Uint32(pa) < binary.BigEndian.Uint32(pb)
}

func containsInt(xs []int, v int) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}

func firstHTTPPort(open []int) int {
	for _, p := range open {
		if p != 554 {
			return p
		}
	}
	return 0
}

func (s *Scanner) hostTimeout() time.Duration {
	if s.HostTimeout > 0 {
		return s.HostTimeout
	}
	return DefaultHostTimeout
}

func (s *Scanner) ports() []int {
	if len(s.Ports) > 0 {
		return s.Ports
	}
	return DefaultPorts
}

func (s *Scanner) profiles() []VendorProfile {
	if len(s.Profiles) > 0 {
		return s.Profiles
	}
	return builtinProfiles
}
