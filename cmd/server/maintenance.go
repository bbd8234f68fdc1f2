package main

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/technosupport/ts-ppe/internal/audit"
	"github.com/technosupport/ts-ppe/internal/data"
	"github.com/technosupport/ts-ppe/internal/snapshot"
)

var (
	errNATSDown     = errors.New("nats disconnected")
	errDetectorDown = errors.New("detector unhealthy")
)

type maintenance struct {
	snapshots  *snapshot.Store
	sessions   data.SessionModel
	detections data.DetectionModel
	violations data.ViolationModel
	audit      *audit.Service

	snapshotDays  int
	detectionDays int
	auditDays     int
}

// maintenanceLoop runs the retention sweeps once at startup and then daily.
// Every sweep is independent; one failing does not stop the others.
func maintenanceLoop(ctx context.Context, m maintenance) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		m.sweep(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (m maintenance) sweep(ctx context.Context) {
	sweepCtx, cancel := context.WithTimeout(ctx, 10*time.Minute)
	defer cancel()

	if n, err := m.snapshots.Cleanup(m.snapshotDays); err != nil {
		log.Printf("[MAINT] snapshot cleanup: %v", err)
	} else if n > 0 {
		log.Printf("[MAINT] snapshot cleanup removed %d date dirs", n)
	}

	if n, err := m.sessions.DeleteExpired(sweepCtx); err != nil {
		log.Printf("[MAINT] session sweep: %v", err)
	} else if n > 0 {
		log.Printf("[MAINT] removed %d expired sessions", n)
	}

	horizon := time.Now().AddDate(0, 0, -m.detectionDays)
	if n, err := m.detections.DeleteOlderThan(sweepCtx, horizon); err != nil {
		log.Printf("[MAINT] detection retention: %v", err)
	} else if n > 0 {
		log.Printf("[MAINT] removed %d detections past retention", n)
	}
	if n, err := m.violations.DeleteOlderThan(sweepCtx, horizon); err != nil {
		log.Printf("[MAINT] violation retention: %v", err)
	} else if n > 0 {
		log.Printf("[MAINT] removed %d violations past retention", n)
	}

	if n, err := m.audit.PurgeOlderThan(sweepCtx, m.auditDays); err != nil {
		log.Printf("[MAINT] audit retention: %v", err)
	} else if n > 0 {
		log.Printf("[MAINT] removed %d audit events past retention", n)
	}
}
