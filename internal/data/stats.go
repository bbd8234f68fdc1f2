package data

import (
	"context"
	"time"
)

// DashboardStats is the aggregate snapshot the dashboard endpoint serves.
// Trend compares today's violation count with yesterday's.
type DashboardStats struct {
	TotalCameras    int     `json:"total_cameras"`
	ActiveCameras   int     `json:"active_cameras"`
	DetectionsToday int     `json:"detections_today"`
	ViolationsToday int     `json:"violations_today"`
	DetectionsMonth int     `json:"detections_month"`
	ViolationsMonth int     `json:"violations_month"`
	ComplianceToday float64 `json:"compliance_today"`
	ViolationTrend  int     `json:"violation_trend"`
}

// CompliancePoint is one day in the compliance series.
type CompliancePoint struct {
	Day        time.Time `json:"day"`
	Detections int       `json:"detections"`
	Violations int       `json:"violations"`
	Compliance float64   `json:"compliance"`
}

// CameraStats is the per-camera breakdown row.
type CameraStats struct {
	CameraID      string     `json:"camera_id"`
	Name          string     `json:"name"`
	Status        string     `json:"status"`
	Detections    int        `json:"detections"`
	Violations    int        `json:"violations"`
	LastDetection *time.Time `json:"last_detection,omitempty"`
}

type StatsModel struct {
	DB DBTX
}

// Summary computes the dashboard snapshot in one round trip per concern.
func (m StatsModel) Summary(ctx context.Context, companyID string) (*DashboardStats, error) {
	var s DashboardStats

	cameraQuery := `
		SELECT COUNT(*) FILTER (WHERE status <> 'deleted'),
		       COUNT(*) FILTER (WHERE status = 'active')
		FROM cameras
		WHERE company_id = $1
	`
	err := withRetry(ctx, func() error {
		return m.DB.QueryRowContext(ctx, cameraQuery, companyID).Scan(&s.TotalCameras, &s.ActiveCameras)
	})
	if err != nil {
		return nil, err
	}

	detectionQuery := `
		SELECT COUNT(*) FILTER (WHERE ts >= date_trunc('day', NOW())),
		       COALESCE(AVG(compliance_rate) FILTER (WHERE ts >= date_trunc('day', NOW())), 0),
		       COUNT(*)
		FROM detections
		WHERE company_id = $1 AND ts >= date_trunc('month', NOW())
	`
	err = withRetry(ctx, func() error {
		return m.DB.QueryRowContext(ctx, detectionQuery, companyID).Scan(&s.DetectionsToday, &s.ComplianceToday, &s.DetectionsMonth)
	})
	if err != nil {
		return nil, err
	}

	// Yesterday can fall outside the current month on the 1st, hence LEAST.
	violationQuery := `
		SELECT COUNT(*) FILTER (WHERE ts >= date_trunc('day', NOW())),
		       COUNT(*) FILTER (WHERE ts >= date_trunc('day', NOW()) - INTERVAL '1 day'
		                          AND ts <  date_trunc('day', NOW())),
		       COUNT(*) FILTER (WHERE ts >= date_trunc('month', NOW()))
		FROM violations
		WHERE company_id = $1
		  AND ts >= LEAST(date_trunc('month', NOW()),
		                  date_trunc('day', NOW()) - INTERVAL '1 day')
	`
	var yesterday int
	err = withRetry(ctx, func() error {
		return m.DB.QueryRowContext(ctx, violationQuery, companyID).Scan(&s.ViolationsToday, &yesterday, &s.ViolationsMonth)
	})
	if err != nil {
		return nil, err
	}
	s.ViolationTrend = s.ViolationsToday - yesterday

	return &s, nil
}

// ComplianceSeries returns one point per day for the last days days,
// including days with no traffic.
func (m StatsModel) ComplianceSeries(ctx context.Context, companyID string, days int) ([]CompliancePoint, error) {
	if days <= 0 || days > 90 {
		days = 7
	}
	query := `
		SELECT d.day,
		       COALESCE(det.n, 0),
		       COALESCE(vio.n, 0),
		       COALESCE(det.rate, 0)
		FROM generate_series(
			date_trunc('day', NOW()) - ($2 - 1) * INTERVAL '1 day',
			date_trunc('day', NOW()),
			INTERVAL '1 day'
		) AS d(day)
		LEFT JOIN (
			SELECT date_trunc('day', ts) AS day, COUNT(*) AS n, AVG(compliance_rate) AS rate
			FROM detections WHERE company_id = $1 GROUP BY 1
		) det ON det.day = d.day
		LEFT JOIN (
			SELECT date_trunc('day', ts) AS day, COUNT(*) AS n
			FROM violations WHERE company_id = $1 GROUP BY 1
		) vio ON vio.day = d.day
		ORDER BY d.day ASC
	`
	var points []CompliancePoint
	err := withRetry(ctx, func() error {
		rows, queryErr := m.DB.QueryContext(ctx, query, companyID, days)
		if queryErr != nil {
			return queryErr
		}
		defer rows.Close()

		points = points[:0]
		for rows.Next() {
			var p CompliancePoint
			if scanErr := rows.Scan(&p.Day, &p.Detections, &p.Violations, &p.Compliance); scanErr != nil {
				return scanErr
			}
			points = append(points, p)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return points, nil
}

// PerCamera breaks the last 24 hours down by camera.
func (m StatsModel) PerCamera(ctx context.Context, companyID string) ([]CameraStats, error) {
	query := `
		SELECT c.id, c.name, c.status,
		       COALESCE(det.n, 0),
		       COALESCE(vio.n, 0),
		       c.last_detection
		FROM cameras c
		LEFT JOIN (
			SELECT camera_id, COUNT(*) AS n
			FROM detections WHERE company_id = $1 AND ts >= NOW() - INTERVAL '24 hours'
			GROUP BY camera_id
		) det ON det.camera_id = c.id
		LEFT JOIN (
			SELECT camera_id, COUNT(*) AS n
			FROM violations WHERE company_id = $1 AND ts >= NOW() - INTERVAL '24 hours'
			GROUP BY camera_id
		) vio ON vio.camera_id = c.id
		WHERE c.company_id = $1 AND c.status <> 'deleted'
		ORDER BY c.created_at ASC
	`
	var out []CameraStats
	err := withRetry(ctx, func() error {
		rows, queryErr := m.DB.QueryContext(ctx, query, companyID)
		if queryErr != nil {
			return queryErr
		}
		defer rows.Close()

		out = out[:0]
		for rows.Next() {
			var cs CameraStats
			if scanErr := rows.Scan(&cs.CameraID, &cs.Name, &cs.Status, &cs.Detections, &cs.Violations, &cs.LastDetection); scanErr != nil {
				return scanErr
			}
			out = append(out, cs)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
