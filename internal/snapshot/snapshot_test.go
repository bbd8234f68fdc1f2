package snapshot

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func testJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 120, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf.Bytes()
}

func testEvent(ts time.Time) Event {
	return Event{
		CompanyID:     "COMP_A",
		CameraID:      "CAM_1",
		PersonID:      "T3",
		ViolationType: "no_helmet",
		EventID:       "evt-1",
		Timestamp:     ts,
	}
}

func TestSave_WritesCroppedSnapshot(t *testing.T) {
	store := NewStore(t.TempDir())
	store.Location = time.UTC
	ts := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

	frame := testJPEG(t, 200, 100)
	rel, err := store.Save(frame, Region{X: 0.25, Y: 0.2, W: 0.5, H: 0.6}, testEvent(ts))
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	// 1. The relative path follows company/camera/date/person_type_ts.jpg.
	want := "COMP_A/CAM_1/2026-03-14/T3_no_helmet_"
	if !strings.HasPrefix(rel, want) || !strings.HasSuffix(rel, ".jpg") {
		t.Fatalf("unexpected path %q", rel)
	}

	// 2. The file exists under base and decodes.
	abs := filepath.Join(store.Base, filepath.FromSlash(rel))
	data, err := os.ReadFile(abs)
	if err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("snapshot does not decode: %v", err)
	}

	// 3. Crop is the box plus 10% margin, with the banner stacked on top.
	// Box 0.25..0.75 x 0.2..0.8 on 200x100 expands to 0.20..0.80 x 0.14..0.86.
	if cfg.Width != 120 {
		t.Errorf("expected width 120, got %d", cfg.Width)
	}
	if cfg.Height != 72+bannerHeight {
		t.Errorf("expected height %d, got %d", 72+bannerHeight, cfg.Height)
	}
}

func TestSave_ClampsAtFrameEdge(t *testing.T) {
	store := NewStore(t.TempDir())
	frame := testJPEG(t, 100, 100)

	// A box hugging the corner still crops something.
	rel, err := store.Save(frame, Region{X: 0.9, Y: 0.9, W: 0.2, H: 0.2}, testEvent(time.Now()))
	if err != nil {
		t.Fatalf("save at edge: %v", err)
	}
	if _, err := os.Stat(filepath.Join(store.Base, filepath.FromSlash(rel))); err != nil {
		t.Fatalf("snapshot missing: %v", err)
	}
}

func TestSave_RejectsEmptyRegion(t *testing.T) {
	store := NewStore(t.TempDir())
	frame := testJPEG(t, 100, 100)

	if _, err := store.Save(frame, Region{X: 1.5, Y: 1.5, W: 0.1, H: 0.1}, testEvent(time.Now())); err == nil {
		t.Fatal("expected an error for a region outside the frame")
	}
	if _, err := store.Save([]byte("not a jpeg"), Region{X: 0.1, Y: 0.1, W: 0.5, H: 0.5}, testEvent(time.Now())); err == nil {
		t.Fatal("expected an error for an undecodable frame")
	}
}

func TestResolve(t *testing.T) {
	store := NewStore(t.TempDir())

	// 1. A well-formed tenant path resolves under base.
	abs, err := store.Resolve("COMP_A", "COMP_A/CAM_1/2026-03-14/T3_no_helmet_1.jpg")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !strings.HasPrefix(abs, store.Base) {
		t.Fatalf("resolved outside base: %q", abs)
	}

	// 2. Traversal cannot escape the base.
	if _, err := store.Resolve("COMP_A", "COMP_A/../../etc/passwd"); err == nil {
		t.Fatal("expected traversal to be rejected")
	}

	// 3. Another tenant's tree is off limits.
	if _, err := store.Resolve("COMP_A", "COMP_B/CAM_9/2026-03-14/x.jpg"); err == nil {
		t.Fatal("expected cross-tenant path to be rejected")
	}

	// 4. Empty paths are rejected.
	if _, err := store.Resolve("COMP_A", ""); err == nil {
		t.Fatal("expected empty path to be rejected")
	}
}

func TestCleanup_RemovesOldDateDirs(t *testing.T) {
	base := t.TempDir()
	store := NewStore(base)

	old := filepath.Join(base, "COMP_A", "CAM_1", "2020-01-01")
	fresh := filepath.Join(base, "COMP_A", "CAM_1", time.Now().Format(dateLayout))
	junk := filepath.Join(base, "COMP_A", "CAM_1", "notes")
	for _, dir := range []string{old, fresh, junk} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			t.Fatalf("mkdir %s: %v", dir, err)
		}
		if err := os.WriteFile(filepath.Join(dir, "x.jpg"), []byte("x"), 0o640); err != nil {
			t.Fatalf("seed %s: %v", dir, err)
		}
	}

	removed, err := store.Cleanup(30)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if removed != 1 {
		t.Errorf("expected 1 directory removed, got %d", removed)
	}

	// 1. The old day is gone, the fresh day stays.
	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Error("expected the old date dir to be removed")
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Error("expected the fresh date dir to survive")
	}

	// 2. Non-date directory names are skipped silently.
	if _, err := os.Stat(junk); err != nil {
		t.Error("expected the non-date dir to survive")
	}

	// 3. Zero retention is refused.
	if _, err := store.Cleanup(0); err == nil {
		t.Error("expected an error for zero retention")
	}
}
