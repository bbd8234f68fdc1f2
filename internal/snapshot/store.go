// Package snapshot persists violation evidence images. Each saved snapshot
// is the person's crop with a banner strip naming the violation and when it
// happened, filed under company/camera/date so retention can drop whole days
// at a time.
package snapshot

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/renameio/v2"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	jpegQuality  = 85
	bannerHeight = 24
	dateLayout   = "2006-01-02"
)

// Labels maps violation types to the banner text. Deployments serving
// non-English crews swap this map out wholesale.
var Labels = map[string]string{
	"no_helmet":  "Missing helmet",
	"no_vest":    "Missing safety vest",
	"no_shoes":   "Missing safety shoes",
	"no_gloves":  "Missing gloves",
	"no_glasses": "Missing safety glasses",
	"no_mask":    "Missing face mask",
	"no_hairnet": "Missing hairnet",
	"no_apron":   "Missing apron",
	"no_suit":    "Missing safety suit",
}

// Region is a normalized bounding box inside the frame, all fields in [0,1].
type Region struct {
	X, Y, W, H float64
}

// Event identifies the violation a snapshot documents.
type Event struct {
	CompanyID     string
	CameraID      string
	PersonID      string
	ViolationType string
	EventID       string
	Timestamp     time.Time
}

// Store writes snapshots under Base. Returned paths are relative to Base so
// the tree can be relocated without rewriting rows.
type Store struct {
	Base     string
	Location *time.Location
}

func NewStore(base string) *Store {
	return &Store{Base: base, Location: time.Local}
}

// Save crops the frame to the person's box plus a 10% margin, stacks the
// banner on top and writes the JPEG atomically. It returns the relative
// path that belongs in the violation row.
func (s *Store) Save(frame []byte, box Region, ev Event) (string, error) {
	img, err := jpeg.Decode(bytes.NewReader(frame))
	if err != nil {
		return "", fmt.Errorf("decode frame: %w", err)
	}

	crop, err := cropRegion(img, box)
	if err != nil {
		return "", err
	}

	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	local := ts.In(s.location())

	out := composeBanner(crop, bannerText(ev.ViolationType, local))
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, out, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return "", fmt.Errorf("encode snapshot: %w", err)
	}

	rel := path.Join(
		ev.CompanyID,
		ev.CameraID,
		local.Format(dateLayout),
		fmt.Sprintf("%s_%s_%d.jpg", ev.PersonID, ev.ViolationType, ts.Unix()),
	)
	abs := filepath.Join(s.Base, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(abs), 0o750); err != nil {
		return "", fmt.Errorf("snapshot dir: %w", err)
	}
	if err := renameio.WriteFile(abs, buf.Bytes(), 0o640); err != nil {
		return "", fmt.Errorf("write snapshot: %w", err)
	}
	return rel, nil
}

// Resolve maps a stored relative path back to a file under Base. Paths that
// escape the base or point into another tenant's tree are rejected.
func (s *Store) Resolve(companyID, rel string) (string, error) {
	clean := path.Clean("/" + rel)[1:]
	if clean == "" || clean == "." {
		return "", fmt.Errorf("empty snapshot path")
	}
	if !strings.HasPrefix(clean, companyID+"/") {
		return "", fmt.Errorf("snapshot path outside tenant")
	}
	abs := filepath.Join(s.Base, filepath.FromSlash(clean))
	base := filepath.Clean(s.Base) + string(filepath.Separator)
	if !strings.HasPrefix(abs, base) {
		return "", fmt.Errorf("snapshot path escapes base")
	}
	return abs, nil
}

// Cleanup removes whole date directories older than maxAgeDays and reports
// how many went. Directories that do not parse as dates are left alone.
func (s *Store) Cleanup(maxAgeDays int) (int, error) {
	if maxAgeDays <= 0 {
		return 0, fmt.Errorf("retention must be positive, got %d days", maxAgeDays)
	}
	cutoff := time.Now().In(s.location()).AddDate(0, 0, -maxAgeDays)

	removed := 0
	companies, err := os.ReadDir(s.Base)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	for _, company := range companies {
		if !company.IsDir() {
			continue
		}
		companyDir := filepath.Join(s.Base, company.Name())
		cameras, err := os.ReadDir(companyDir)
		if err != nil {
			continue
		}
		for _, camera := range cameras {
			if !camera.IsDir() {
				continue
			}
			cameraDir := filepath.Join(companyDir, camera.Name())
			days, err := os.ReadDir(cameraDir)
			if err != nil {
				continue
			}
			for _, day := range days {
				if !day.IsDir() {
					continue
				}
				d, err := time.ParseInLocation(dateLayout, day.Name(), s.location())
				if err != nil {
					continue
				}
				if d.Before(cutoff) {
					if err := os.RemoveAll(filepath.Join(cameraDir, day.Name())); err == nil {
						removed++
					}
				}
			}
		}
	}
	return removed, nil
}

func (s *Store) location() *time.Location {
	if s.Location != nil {
		return s.Location
	}
	return time.Local
}

// cropRegion cuts the box plus a 10% margin on every side, clamped to the
// frame. An empty clamped region is an error.
func cropRegion(img image.Image, box Region) (*image.RGBA, error) {
	b := img.Bounds()
	fw := float64(b.Dx())
	fh := float64(b.Dy())

	x0 := clamp01(box.X - box.W*0.1)
	y0 := clamp01(box.Y - box.H*0.1)
	x1 := clamp01(box.X + box.W*1.1)
	y1 := clamp01(box.Y + box.H*1.1)

	rect := image.Rect(
		b.Min.X+int(x0*fw),
		b.Min.Y+int(y0*fh),
		b.Min.X+int(x1*fw),
		b.Min.Y+int(y1*fh),
	)
	rect = rect.Intersect(b)
	if rect.Empty() {
		return nil, fmt.Errorf("crop region is empty")
	}

	crop := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	draw.Draw(crop, crop.Bounds(), img, rect.Min, draw.Src)
	return crop, nil
}

func composeBanner(crop *image.RGBA, text string) *image.RGBA {
	w := crop.Bounds().Dx()
	h := crop.Bounds().Dy()
	out := image.NewRGBA(image.Rect(0, 0, w, h+bannerHeight))

	draw.Draw(out, image.Rect(0, 0, w, bannerHeight), image.NewUniform(color.RGBA{R: 160, G: 20, B: 20, A: 255}), image.Point{}, draw.Src)
	draw.Draw(out, image.Rect(0, bannerHeight, w, h+bannerHeight), crop, image.Point{}, draw.Src)

	d := &font.Drawer{
		Dst:  out,
		Src:  image.NewUniform(color.RGBA{R: 255, G: 255, B: 255, A: 255}),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(4, bannerHeight-8),
	}
	d.DrawString(text)
	return out
}

func bannerText(violationType string, ts time.Time) string {
	label, ok := Labels[violationType]
	if !ok {
		label = strings.ReplaceAll(violationType, "_", " ")
	}
	return label + "  " + ts.Format("2006-01-02 15:04:05")
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
