package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/technosupport/ts-ppe/internal/api"
	"github.com/technosupport/ts-ppe/internal/capture"
	"github.com/technosupport/ts-ppe/internal/data"
	"github.com/technosupport/ts-ppe/internal/detect"
	"github.com/technosupport/ts-ppe/internal/health"
	"github.com/technosupport/ts-ppe/internal/middleware"
	"github.com/technosupport/ts-ppe/internal/monitor"
)

// fakeRuntime stands in for the supervisor so no worker pair ever spins up.
type fakeRuntime struct {
	startErr error
	stopErr  error
	stopped  int

	lastCompany string
	lastCamera  string
	lastOpts    monitor.StartOptions

	result *detect.Result
	slot   *capture.Slot
	done   chan struct{}
}

func (f *fakeRuntime) StartDetection(_ context.Context, companyID, cameraID string, opts monitor.StartOptions) error {
	f.lastCompany, f.lastCamera, f.lastOpts = companyID, cameraID, opts
	return f.startErr
}

func (f *fakeRuntime) StopDetection(_ context.Context, companyID, cameraID string) error {
	f.lastCompany, f.lastCamera = companyID, cameraID
	return f.stopErr
}

func (f *fakeRuntime) StopCompany(_ context.Context, companyID string) int {
	f.lastCompany = companyID
	return f.stopped
}

func (f *fakeRuntime) PollResult(companyID, cameraID string) (*detect.Result, bool) {
	if f.result == nil {
		return nil, false
	}
	return f.result, true
}

func (f *fakeRuntime) Stream(companyID, cameraID string) (*capture.Slot, <-chan struct{}, bool) {
	if f.slot == nil {
		return nil, nil, false
	}
	return f.slot, f.done, true
}

func (f *fakeRuntime) RuntimeState(string, string) (string, bool) { return "", false }

func asPrincipal(r *http.Request, p *middleware.Principal) *http.Request {
	return r.WithContext(middleware.WithPrincipal(r.Context(), p))
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return body
}

func TestDetectionStart(t *testing.T) {
	rt := &fakeRuntime{}
	h := &api.DetectionHandler{Runtime: rt}

	// 1. Valid request reaches the runtime with mode and confidence.
	req := httptest.NewRequest("POST", "/api/company/COMP_A/start-detection",
		strings.NewReader(`{"camera":"CAM_1","mode":"simulation","confidence":0.7}`))
	req.SetPathValue("cid", "COMP_A")
	rec := httptest.NewRecorder()
	h.Start(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if rt.lastCompany != "COMP_A" || rt.lastCamera != "CAM_1" {
		t.Errorf("runtime saw %s/%s", rt.lastCompany, rt.lastCamera)
	}
	if rt.lastOpts.Mode != "simulation" || rt.lastOpts.Confidence != 0.7 {
		t.Errorf("options not forwarded: %+v", rt.lastOpts)
	}

	// 2. Missing camera never reaches the runtime.
	req = httptest.NewRequest("POST", "/api/company/COMP_A/start-detection", strings.NewReader(`{}`))
	req.SetPathValue("cid", "COMP_A")
	rec = httptest.NewRecorder()
	h.Start(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}

	// 3. An already running camera maps to 409 with a code.
	rt.startErr = monitor.ErrAlreadyRunning
	req = httptest.NewRequest("POST", "/api/company/COMP_A/start-detection",
		strings.NewReader(`{"camera":"CAM_1"}`))
	req.SetPathValue("cid", "COMP_A")
	rec = httptest.NewRecorder()
	h.Start(rec, req)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	if body := decodeBody(t, rec); body["code"] != "already_running" {
		t.Errorf("expected code already_running, got %v", body["code"])
	}

	// 4. No detector configured maps to 503.
	rt.startErr = monitor.ErrDetectorUnavailable
	req = httptest.NewRequest("POST", "/api/company/COMP_A/start-detection",
		strings.NewReader(`{"camera":"CAM_1"}`))
	req.SetPathValue("cid", "COMP_A")
	rec = httptest.NewRecorder()
	h.Start(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestDetectionStop(t *testing.T) {
	rt := &fakeRuntime{stopped: 2}
	h := &api.DetectionHandler{Runtime: rt}

	// 1. Stop-all reports how many runtimes went down.
	req := httptest.NewRequest("POST", "/api/company/COMP_A/stop-detection", nil)
	req.SetPathValue("cid", "COMP_A")
	rec := httptest.NewRecorder()
	h.StopAll(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if body := decodeBody(t, rec); body["cameras"] != float64(2) {
		t.Errorf("expected 2 cameras stopped, got %v", body["cameras"])
	}

	// 2. Stopping an idle camera maps to 409 not_running.
	rt.stopErr = monitor.ErrNotRunning
	req = httptest.NewRequest("POST", "/api/company/COMP_A/cameras/CAM_9/stop", nil)
	req.SetPathValue("cid", "COMP_A")
	req.SetPathValue("camid", "CAM_9")
	rec = httptest.NewRecorder()
	h.StopCamera(rec, req)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	if body := decodeBody(t, rec); body["code"] != "not_running" {
		t.Errorf("expected code not_running, got %v", body["code"])
	}
}

func TestDetectionResults(t *testing.T) {
	rt := &fakeRuntime{}
	h := &api.DetectionHandler{Runtime: rt}

	// 1. No result yet: an empty object, not an error.
	req := httptest.NewRequest("GET", "/api/company/COMP_A/detection-results/CAM_1", nil)
	req.SetPathValue("cid", "COMP_A")
	req.SetPathValue("camid", "CAM_1")
	rec := httptest.NewRecorder()
	h.Results(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if body := decodeBody(t, rec); len(body) != 0 {
		t.Errorf("expected empty object, got %v", body)
	}

	// 2. The latest in-memory result comes back as is.
	rt.result = &detect.Result{CompanyID: "COMP_A", CameraID: "CAM_1", PeopleDetected: 3}
	rec = httptest.NewRecorder()
	h.Results(rec, req)
	if body := decodeBody(t, rec); body["people_detected"] != float64(3) {
		t.Errorf("expected people_detected 3, got %v", body["people_detected"])
	}

	// 3. A malformed history parameter is rejected.
	req = httptest.NewRequest("GET", "/api/company/COMP_A/detection-results/CAM_1?history=soon", nil)
	req.SetPathValue("cid", "COMP_A")
	req.SetPathValue("camid", "CAM_1")
	rec = httptest.NewRecorder()
	h.Results(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestDetectionResults_History(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	ts := time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC)
	mock.ExpectQuery("FROM detections").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "company_id", "camera_id", "ts", "total_people", "compliant_people",
			"violation_people", "compliance_rate", "confidence_score", "image_path",
			"detection_data", "track_id",
		}).AddRow(int64(11), "COMP_A", "CAM_1", ts, 4, 3, 1, 75.0, 0.9, nil, []byte("{}"), nil))

	h := &api.DetectionHandler{Runtime: &fakeRuntime{}, Detections: data.DetectionModel{DB: db}}

	req := httptest.NewRequest("GET", "/api/company/COMP_A/detection-results/CAM_1?history=10", nil)
	req.SetPathValue("cid", "COMP_A")
	req.SetPathValue("camid", "CAM_1")
	rec := httptest.NewRecorder()
	h.Results(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	rows, ok := body["results"].([]any)
	if !ok || len(rows) != 1 {
		t.Fatalf("expected one stored row, got %v", body["results"])
	}
	row := rows[0].(map[string]any)
	if row["id"] != float64(11) || row["total_people"] != float64(4) {
		t.Errorf("row not projected: %v", row)
	}
}

func TestVideoFeed(t *testing.T) {
	slot := &capture.Slot{}
	slot.Store(&capture.Frame{Data: []byte{0xff, 0xd8, 0xff, 0xd9}, Seq: 1, Timestamp: time.Now()})
	rt := &fakeRuntime{slot: slot, done: make(chan struct{})}
	h := &api.StreamHandler{Runtime: rt}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/company/{cid}/video-feed/{camid}", h.VideoFeed)
	srv := httptest.NewServer(mux)
	defer srv.Close()
	defer close(rt.done)

	// 1. A supervised camera streams multipart.
	resp, err := http.Get(srv.URL + "/api/company/COMP_A/video-feed/CAM_1")
	if err != nil {
		t.Fatal(err)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "multipart/x-mixed-replace") {
		t.Errorf("unexpected content type %q", ct)
	}
	resp.Body.Close()

	// 2. A camera without a runtime is a 404.
	rt.slot = nil
	resp, err = http.Get(srv.URL + "/api/company/COMP_A/video-feed/CAM_1")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}
}

func TestViolationsList(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	ts := time.Date(2026, 2, 3, 9, 30, 0, 0, time.UTC)
	img := "COMP_A/CAM_1/2026-02-03/p1_no_helmet_1.jpg"
	mock.ExpectQuery("FROM violations").
		WithArgs("COMP_A", "CAM_1", false, 2, 0).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "company_id", "camera_id", "user_id", "ts", "violation_type", "missing_ppe",
			"severity", "penalty_amount", "image_path", "resolved", "resolved_by", "resolved_at",
		}).AddRow(int64(7), "COMP_A", "CAM_1", nil, ts, "no_helmet", "{helmet}", "high", 50.0, img, false, nil, nil))

	h := &api.ViolationHandler{Violations: data.ViolationModel{DB: db}}

	req := httptest.NewRequest("GET", "/api/company/COMP_A/violations?camera=CAM_1&resolved=false&limit=2", nil)
	req.SetPathValue("cid", "COMP_A")
	rec := httptest.NewRecorder()
	h.List(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	rows := body["violations"].([]any)
	if len(rows) != 1 {
		t.Fatalf("expected one violation, got %d", len(rows))
	}
	row := rows[0].(map[string]any)
	if row["violation_type"] != "no_helmet" || row["severity"] != "high" {
		t.Errorf("row not projected: %v", row)
	}
	missing := row["missing_ppe"].([]any)
	if len(missing) != 1 || missing[0] != "helmet" {
		t.Errorf("missing_ppe not projected: %v", missing)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestViolationResolve(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	h := &api.ViolationHandler{Violations: data.ViolationModel{DB: db}}
	principal := &middleware.Principal{UserID: "USR_9", CompanyID: "COMP_A"}

	// 1. Resolving an open violation records who handled it.
	mock.ExpectExec("UPDATE violations").
		WithArgs("USR_9", int64(7), "COMP_A").
		WillReturnResult(sqlmock.NewResult(0, 1))

	req := httptest.NewRequest("POST", "/api/company/COMP_A/violations/7/resolve", nil)
	req.SetPathValue("cid", "COMP_A")
	req.SetPathValue("id", "7")
	rec := httptest.NewRecorder()
	h.Resolve(rec, asPrincipal(req, principal))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	// 2. An unknown or already resolved row is a 404.
	mock.ExpectExec("UPDATE violations").
		WithArgs("USR_9", int64(8), "COMP_A").
		WillReturnResult(sqlmock.NewResult(0, 0))

	req = httptest.NewRequest("POST", "/api/company/COMP_A/violations/8/resolve", nil)
	req.SetPathValue("cid", "COMP_A")
	req.SetPathValue("id", "8")
	rec = httptest.NewRecorder()
	h.Resolve(rec, asPrincipal(req, principal))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}

	// 3. A non-numeric id never reaches the store.
	req = httptest.NewRequest("POST", "/api/company/COMP_A/violations/abc/resolve", nil)
	req.SetPathValue("cid", "COMP_A")
	req.SetPathValue("id", "abc")
	rec = httptest.NewRecorder()
	h.Resolve(rec, asPrincipal(req, principal))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestHealthHandler(t *testing.T) {
	checker := health.NewChecker()
	checker.RegisterCritical("db", func(ctx context.Context) error { return nil })
	checker.Register("redis", func(ctx context.Context) error { return errors.New("down") })
	h := &api.HealthHandler{Checker: checker}

	// 1. An optional dependency down still answers 200 degraded.
	rec := httptest.NewRecorder()
	h.Health(rec, httptest.NewRequest("GET", "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["status"] != "degraded" {
		t.Errorf("expected degraded, got %v", body["status"])
	}

	// 2. The critical dependency down answers 503.
	checker = health.NewChecker()
	checker.RegisterCritical("db", func(ctx context.Context) error { return errors.New("refused") })
	h = &api.HealthHandler{Checker: checker}
	rec = httptest.NewRecorder()
	h.Health(rec, httptest.NewRequest("GET", "/health", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestLogout_NoPrincipal(t *testing.T) {
	h := &api.AuthHandler{}
	rec := httptest.NewRecorder()
	h.Logout(rec, httptest.NewRequest("POST", "/logout", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}
