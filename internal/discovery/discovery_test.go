package discovery

import (
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
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/technosupport/ts-ppe/internal/audit"
	"github.com/technosupport/ts-ppe/internal/data"
	"github.com/technosupport/ts-ppe/internal/probe"
)

func TestExpandNetwork(t *testing.T) {
	cases := []struct {
		input   string
		want    int
		wantErr bool
		first   string
	}{
		{"192.168.1.0/30", 2, false, "192.168.1.1"},
		{"192.168.1.0/31", 2, false, "192.168.1.0"},
		{"192.168.1.7/32", 1, false, "192.168.1.7"},
		{"10.0.0.0/24", 254, false, "10.0.0.1"},
		{"192.168.1.5", 1, false, "192.168.1.5"},
		{"192.168.1.10-192.168.1.14", 5, false, "192.168.1.10"},
		{"10.0.0.0/8", 0, true, ""},
		{"not-a-network", 0, true, ""},
		{"", 0, true, ""},
		{"192.168.1.20-192.168.1.10", 0, true, ""},
	}
	for _, c := range cases {
		hosts, err := expandNetwork(c.input)
		if c.wantErr {
			if err == nil {
				t.Errorf("expandNetwork(%q) expected error, got %d hosts", c.input, len(hosts))
			}
			continue
		}
		if err != nil {
			t.Errorf("expandNetwork(%q) failed: %v", c.input, err)
			continue
		}
		if len(hosts) != c.want {
			t.Errorf("expandNetwork(%q) = %d hosts; want %d", c.input, len(hosts), c.want)
		}
		if len(hosts) > 0 && hosts[0] != c.first {
			t.Errorf("expandNetwork(%q) first host = %s; want %s", c.input, hosts[0], c.first)
		}
	}
}

func serverPort(t *testing.T, srv *httptest.Server) int {
	t.Helper()
	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	_, portStr, err := net.SplitHostPort(u.Host)
	if err != nil {
		t.Fatal(err)
	}
	port, _ := strconv.Atoi(portStr)
	return port
}

func scannerFor(port int) *Scanner {
	s := NewScanner()
	s.Ports = []int{port}
	s.HostTimeout = 5 * time.Second
	return s
}

func TestScan_VendorHeaderMatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", "DNVRS-Webs")
		io.WriteString(w, "<html>login</html>")
	}))
	defer srv.Close()

	report, err := scannerFor(serverPort(t, srv)).Scan(context.Background(), "127.0.0.1")
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}

	// 1. One candidate, identified by its Server header.
	if len(report.Candidates) != 1 {
		t.Fatalf("expected 1 candidate, got %d", len(report.Candidates))
	}
	cand := report.Candidates[0]
	if cand.Vendor != "hikvision" {
		t.Errorf("expected hikvision, got %q", cand.Vendor)
	}
	// 2. A name match scores at the top of the model.
	if cand.Confidence != ConfidenceVendor {
		t.Errorf("expected confidence %v, got %v", ConfidenceVendor, cand.Confidence)
	}
	// 3. The profile's RTSP template is the registration endpoint.
	if cand.Protocol != "rtsp" || cand.Port != 554 {
		t.Errorf("expected rtsp:554 endpoint, got %s:%d", cand.Protocol, cand.Port)
	}
	if cand.Username != "admin" {
		t.Errorf("expected factory default user, got %q", cand.Username)
	}
}

func TestScan_PathMatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/shot.jpg" {
			w.Header().Set("Content-Type", "image/jpeg")
			w.Write([]byte{0xFF, 0xD8, 0xFF, 0xD9})
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	report, err := scannerFor(serverPort(t, srv)).Scan(context.Background(), "127.0.0.1")
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if len(report.Candidates) != 1 {
		t.Fatalf("expected 1 candidate, got %d", len(report.Candidates))
	}
	cand := report.Candidates[0]
	if cand.Vendor != "ip_webcam" {
		t.Errorf("expected ip_webcam via path probe, got %q", cand.Vendor)
	}
	if cand.Confidence != ConfidencePathMatch {
		t.Errorf("expected confidence %v, got %v", ConfidencePathMatch, cand.Confidence)
	}
}

func TestScan_PortOnly(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()
	port := serverPort(t, srv)

	report, err := scannerFor(port).Scan(context.Background(), "127.0.0.1")
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if len(report.Candidates) != 1 {
		t.Fatalf("expected 1 candidate, got %d", len(report.Candidates))
	}
	cand := report.Candidates[0]
	if cand.Vendor != "generic" || cand.Confidence != ConfidencePortOnly {
		t.Errorf("expected generic at %v, got %q at %v", ConfidencePortOnly, cand.Vendor, cand.Confidence)
	}
	if !containsInt(cand.OpenPorts, port) {
		t.Errorf("open ports %v missing %d", cand.OpenPorts, port)
	}
}

func TestScan_QuietHost(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	_, portStr, _ := net.SplitHostPort(ln.Addr().String())
	port, _ := strconv.Atoi(portStr)
	ln.Close()

	report, err := scannerFor(port).Scan(context.Background(), "127.0.0.1")
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	// A host with nothing open is silence, not an error.
	if len(report.Candidates) != 0 || len(report.Errors) != 0 {
		t.Errorf("expected empty report, got %d candidates %d errors", len(report.Candidates), len(report.Errors))
	}
	if report.HostsScanned != 1 {
		t.Errorf("expected 1 host scanned, got %d", report.HostsScanned)
	}
}

// fakeIPWebcam serves a landing page naming the app and an MJPEG stream, so a
// scan followed by a probe both succeed against it.
func fakeIPWebcam(t *testing.T) *httptest.Server {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 32, 24)), nil); err != nil {
		t.Fatal(err)
	}
	frame := buf.Bytes()

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			io.WriteString(w, "<html><title>IP Webcam</title></html>")
		case "/video":
			w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
			w.WriteHeader(http.StatusOK)
			mw := multipart.NewWriter(w)
			mw.SetBoundary("frame")
			fl, _ := w.(http.Flusher)
			for i := 0; i < 3; i++ {
				hdr := textproto.MIMEHeader{}
				hdr.Set("Content-Type", "image/jpeg")
				pw, err := mw.CreatePart(hdr)
				if err != nil {
					return
				}
				pw.Write(frame)
				if fl != nil {
					fl.Flush()
				}
				time.Sleep(20 * time.Millisecond)
			}
			mw.Close()
		default:
			http.NotFound(w, r)
		}
	}))
}

type mockCameraStore struct {
	existing  map[string]*data.Camera
	created   []*data.Camera
	createErr error
	statuses  map[string]string
}

func (m *mockCameraStore) GetByEndpoint(ctx context.Context, companyID, ip string, port int) (*data.Camera, error) {
	if cam, ok := m.existing[fmt.Sprintf("%s:%d", ip, port)]; ok {
		return cam, nil
	}
	return nil, data.ErrRecordNotFound
}

func (m *mockCameraStore) Create(ctx context.Context, cam *data.Camera) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.created = append(m.created, cam)
	return nil
}

func (m *mockCameraStore) UpdateStatus(ctx context.Context, companyID, id, status string) error {
	if m.statuses == nil {
		m.statuses = make(map[string]string)
	}
	m.statuses[id] = status
	return nil
}

type mockAuditor struct {
	events []audit.Event
}

func (m *mockAuditor) WriteEvent(ctx context.Context, evt audit.Event) error {
	m.events = append(m.events, evt)
	return nil
}

func TestSync_AddsDiscoveredCamera(t *testing.T) {
	srv := fakeIPWebcam(t)
	defer srv.Close()

	store := &mockCameraStore{}
	aud := &mockAuditor{}
	svc := NewService(scannerFor(serverPort(t, srv)), probe.New(), store, aud)

	rep, err := svc.Sync(context.Background(), "COMP_A", "127.0.0.1", false)
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}

	// 1. The device is found, probed and registered.
	if rep.Added != 1 {
		t.Fatalf("expected 1 added, got %+v", rep)
	}
	if len(store.created) != 1 {
		t.Fatalf("expected a created camera, got %d", len(store.created))
	}
	cam := store.created[0]
	// 2. New cameras arrive in the discovered state for the operator to vet.
	if cam.Status != data.CameraDiscovered {
		t.Errorf("expected discovered status, got %q", cam.Status)
	}
	if cam.CompanyID != "COMP_A" {
		t.Errorf("camera bound to wrong tenant %q", cam.CompanyID)
	}
	if !strings.HasPrefix(cam.Name, "ip_webcam-") {
		t.Errorf("unexpected generated name %q", cam.Name)
	}
	// 3. Probe measurements flow into the record.
	if cam.ResolutionW != 32 || cam.ResolutionH != 24 {
		t.Errorf("expected probed 32x24, got %dx%d", cam.ResolutionW, cam.ResolutionH)
	}
	// 4. The sync is auditable.
	if len(aud.events) == 0 || aud.events[len(aud.events)-1].Action != "discovery.sync" {
		t.Errorf("expected discovery.sync audit event, got %+v", aud.events)
	}
}

func TestSync_SkipsKnownEndpoint(t *testing.T) {
	srv := fakeIPWebcam(t)
	defer srv.Close()
	port := serverPort(t, srv)

	store := &mockCameraStore{existing: map[string]*data.Camera{
		fmt.Sprintf("127.0.0.1:%d", port): {ID: "CAM_KNOWN", CompanyID: "COMP_A"},
	}}
	svc := NewService(scannerFor(port), probe.New(), store, nil)

	rep, err := svc.Sync(context.Background(), "COMP_A", "127.0.0.1", false)
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if rep.Skipped != 1 || rep.Added != 0 {
		t.Errorf("expected known endpoint skipped, got %+v", rep)
	}
	if len(store.created) != 0 {
		t.Errorf("no camera should be created, got %d", len(store.created))
	}
}

func TestSync_ForceRefreshesKnownEndpoint(t *testing.T) {
	srv := fakeIPWebcam(t)
	defer srv.Close()
	port := serverPort(t, srv)

	store := &mockCameraStore{existing: map[string]*data.Camera{
		fmt.Sprintf("127.0.0.1:%d", port): {ID: "CAM_KNOWN", CompanyID: "COMP_A"},
	}}
	svc := NewService(scannerFor(port), probe.New(), store, nil)

	rep, err := svc.Sync(context.Background(), "COMP_A", "127.0.0.1", true)
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if rep.Updated != 1 {
		t.Fatalf("expected 1 updated, got %+v", rep)
	}
	// A live probe marks the existing camera active again.
	if store.statuses["CAM_KNOWN"] != data.CameraActive {
		t.Errorf("expected active status, got %q", store.statuses["CAM_KNOWN"])
	}
}

func TestSync_CameraLimit(t *testing.T) {
	srv := fakeIPWebcam(t)
	defer srv.Close()

	store := &mockCameraStore{createErr: data.ErrCameraLimit}
	svc := NewService(scannerFor(serverPort(t, srv)), probe.New(), store, nil)

	rep, err := svc.Sync(context.Background(), "COMP_A", "127.0.0.1", false)
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if rep.Skipped != 1 || rep.Added != 0 {
		t.Errorf("expected limit to skip the candidate, got %+v", rep)
	}
	if rep.Results[0].Detail != "camera limit reached" {
		t.Errorf("unexpected detail %q", rep.Results[0].Detail)
	}
}

func TestDiscover_RequiresRange(t *testing.T) {
	svc := NewService(NewScanner(), probe.New(), &mockCameraStore{}, nil)
	if _, err := svc.Discover(context.Background(), "COMP_A", ""); err != ErrNoNetworkRange {
		t.Errorf("expected ErrNoNetworkRange, got %v", err)
	}

	svc.DefaultRange = "127.0.0.1"
	svc.Scanner.Ports = []int{1} // nothing listens there
	if _, err := svc.Discover(context.Background(), "COMP_A", ""); err != nil {
		t.Errorf("default range should be used, got %v", err)
	}
}
