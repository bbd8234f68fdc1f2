package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

var (
	spoolDir           = "/var/spool/ts-ppe/audit"
	maxSpoolSize int64 = 256 * 1024 * 1024

	spoolMu    sync.Mutex
	replayLock sync.Mutex
)

// ConfigureFailover points the spool at a writable directory. Call it once at
// startup, before any event can fail over.
func ConfigureFailover(dir string, maxMB int64) {
	if dir != "" {
		spoolDir = dir
	}
	if maxMB > 0 {
		maxSpoolSize = maxMB * 1024 * 1024
	}
	_ = os.MkdirAll(spoolDir, 0o750)
}

// SpoolEvent appends the event to the local failover file. The spool is the
// last line of defense, so it refuses new events rather than growing without
// bound.
func SpoolEvent(evt Event) error {
	spoolMu.Lock()
	defer spoolMu.Unlock()

	if spoolSize() >= maxSpoolSize {
		return fmt.Errorf("audit spool full (%d bytes)", maxSpoolSize)
	}

	line, err := json.Marshal(spoolRecord{EventID: evt.EventID, Payload: evt, SpooledAt: time.Now().UTC()})
	if err != nil {
		return err
	}

	f, err := os.OpenFile(filepath.Join(spoolDir, "audit_spool.log"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write(append(line, '\n'))
	return err
}

func spoolSize() int64 {
	var size int64
	filepath.Walk(spoolDir, func(_ string, info fs.FileInfo, err error) error {
		if err == nil && !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	return size
}

// StartReplayer drains the spool in the background until ctx ends.
func (s *Service) StartReplayer(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.ReplaySpool(ctx)
			}
		}
	}()
}

// ReplaySpool pushes spooled events back through WriteEvent. The spool file
// is renamed first so writers keep appending to a fresh file; an event whose
// insert still fails is re-spooled by WriteEvent rather than lost, and the
// event_id conflict clause makes double delivery harmless.
func (s *Service) ReplaySpool(ctx context.Context) {
	replayLock.Lock()
	defer replayLock.Unlock()

	filename := filepath.Join(spoolDir, "audit_spool.log")
	info, err := os.Stat(filename)
	if err != nil || info.Size() == 0 {
		return
	}

	replayFile := filepath.Join(spoolDir, fmt.Sprintf("replay_%d.log", time.Now().UnixNano()))
	if err := os.Rename(filename, replayFile); err != nil {
		log.Printf("[AUDIT] spool rotation failed: %v", err)
		return
	}

	f, err := os.Open(replayFile)
	if err != nil {
		return
	}

	var flushed int
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec spoolRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			continue
		}
		if err := s.WriteEvent(ctx, rec.Payload); err == nil {
			flushed++
		}
	}
	f.Close()
	os.Remove(replayFile)

	if flushed > 0 {
		log.Printf("[AUDIT] replayed %d spooled events", flushed)
	}
}
