package data_test

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/technosupport/ts-ppe/internal/data"
)

func cameraRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "company_id", "name", "location", "ip_address", "port", "protocol", "stream_path",
		"auth_type", "username", "resolution_w", "resolution_h", "fps", "status", "last_detection",
		"created_at", "updated_at", "deleted_at",
	})
}

// 1. Create under the limit returns timestamps.
func TestCameraCreate_Success(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer db.Close()
	m := data.CameraModel{DB: db}

	now := time.Now()
	mock.ExpectQuery("INSERT INTO cameras").
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))

	c := &data.Camera{ID: "CAM_A", CompanyID: "COMP_A", Name: "gate", Protocol: "http", AuthType: "none", Status: "inactive"}
	if err := m.Create(context.Background(), c); err != nil {
		t.Fatal(err)
	}
	if c.CreatedAt.IsZero() {
		t.Error("CreatedAt not set")
	}
}

// 2. Full budget: the guarded INSERT returns no row.
func TestCameraCreate_LimitReached(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer db.Close()
	m := data.CameraModel{DB: db}

	mock.ExpectQuery("INSERT INTO cameras").
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}))

	err := m.Create(context.Background(), &data.Camera{ID: "CAM_B", CompanyID: "COMP_A", Name: "dock"})
	if err != data.ErrCameraLimit {
		t.Errorf("expected ErrCameraLimit, got %v", err)
	}
}

// 3. Duplicate name inside the tenant.
func TestCameraCreate_DuplicateName(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer db.Close()
	m := data.CameraModel{DB: db}

	mock.ExpectQuery("INSERT INTO cameras").
		WillReturnError(&pq.Error{Code: "23505", Constraint: "idx_cameras_company_name"})

	err := m.Create(context.Background(), &data.Camera{ID: "CAM_C", CompanyID: "COMP_A", Name: "gate"})
	if err != data.ErrDuplicateName {
		t.Errorf("expected ErrDuplicateName, got %v", err)
	}
}

// 4. GetByID excludes other tenants and deleted rows.
func TestCameraGetByID_NotFound(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer db.Close()
	m := data.CameraModel{DB: db}

	mock.ExpectQuery("SELECT (.+) FROM cameras").WillReturnRows(cameraRows())

	_, err := m.GetByID(context.Background(), "COMP_A", "CAM_MISSING")
	if err != data.ErrRecordNotFound {
		t.Errorf("expected ErrRecordNotFound, got %v", err)
	}
}

// 5. SoftDelete on a missing or already deleted camera.
func TestCameraSoftDelete_NotFound(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer db.Close()
	m := data.CameraModel{DB: db}

	mock.ExpectExec("UPDATE cameras").WillReturnResult(sqlmock.NewResult(0, 0))

	err := m.SoftDelete(context.Background(), "COMP_A", "CAM_GONE")
	if err != data.ErrRecordNotFound {
		t.Errorf("expected ErrRecordNotFound, got %v", err)
	}
}

// 6. SoftDelete success.
func TestCameraSoftDelete_Success(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer db.Close()
	m := data.CameraModel{DB: db}

	mock.ExpectExec("UPDATE cameras").WillReturnResult(sqlmock.NewResult(0, 1))

	if err := m.SoftDelete(context.Background(), "COMP_A", "CAM_A"); err != nil {
		t.Fatal(err)
	}
}

// 7. List scans rows including nullable last_detection.
func TestCameraList(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer db.Close()
	m := data.CameraModel{DB: db}

	now := time.Now()
	rows := cameraRows().
		AddRow("CAM_A", "COMP_A", "gate", "yard", "10.0.0.5", 8080, "http", "/video",
			"none", "", 640, 480, 15, "active", nil, now, now, nil).
		AddRow("CAM_B", "COMP_A", "dock", "", "10.0.0.6", 554, "rtsp", "/stream1",
			"basic", "viewer", 1280, 720, 25, "inactive", now, now, now, nil)
	mock.ExpectQuery("SELECT (.+) FROM cameras").WillReturnRows(rows)

	cams, err := m.List(context.Background(), "COMP_A", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(cams) != 2 {
		t.Fatalf("got %d cameras, want 2", len(cams))
	}
	if cams[0].LastDetection != nil {
		t.Error("expected nil last_detection for CAM_A")
	}
	if cams[1].LastDetection == nil {
		t.Error("expected last_detection for CAM_B")
	}
}

// 8. Update duplicate name maps like Create.
func TestCameraUpdate_DuplicateName(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer db.Close()
	m := data.CameraModel{DB: db}

	mock.ExpectQuery("UPDATE cameras").
		WillReturnError(&pq.Error{Code: "23505", Constraint: "idx_cameras_company_name"})

	err := m.Update(context.Background(), &data.Camera{ID: "CAM_A", CompanyID: "COMP_A", Name: "gate"})
	if err != data.ErrDuplicateName {
		t.Errorf("expected ErrDuplicateName, got %v", err)
	}
}

// 9. Protocol and auth validation helpers.
func TestCameraEnums(t *testing.T) {
	for _, p := range []string{"http", "rtsp", "local", "usb", "ip_webcam"} {
		if !data.IsCameraProtocol(p) {
			t.Errorf("protocol %q rejected", p)
		}
	}
	if data.IsCameraProtocol("onvif") {
		t.Error("unknown protocol accepted")
	}
	if !data.IsCameraAuthType("digest") || data.IsCameraAuthType("bearer") {
		t.Error("auth type validation wrong")
	}
}
