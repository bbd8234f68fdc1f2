package detect

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"log"
	"strings"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/technosupport/ts-ppe/internal/capture"
)

var (
	colCompliant = color.RGBA{R: 0, G: 200, B: 60, A: 255}
	colViolation = color.RGBA{R: 220, G: 30, B: 30, A: 255}
	colBanner    = color.RGBA{R: 255, G: 200, B: 0, A: 255}
)

const annotateQuality = 80

// Annotate draws the detection boxes and labels onto a copy of the frame
// and returns it as a new published-ready frame carrying the same sequence
// number. A frame that cannot be decoded comes back unchanged.
func Annotate(frame *capture.Frame, res *Result) *capture.Frame {
	img, err := jpeg.Decode(bytes.NewReader(frame.Data))
	if err != nil {
		log.Printf("[DETECT] camera %s: annotate decode failed: %v", res.CameraID, err)
		return frame
	}
	bounds := img.Bounds()
	dst := image.NewRGBA(bounds)
	draw.Draw(dst, bounds, img, bounds.Min, draw.Src)

	w := float64(bounds.Dx())
	h := float64(bounds.Dy())
	for i := range res.People {
		p := &res.People[i]
		rect := image.Rect(
			bounds.Min.X+int(p.BBox.X*w),
			bounds.Min.Y+int(p.BBox.Y*h),
			bounds.Min.X+int((p.BBox.X+p.BBox.W)*w),
			bounds.Min.Y+int((p.BBox.Y+p.BBox.H)*h),
		)
		col := colCompliant
		label := p.TrackID + " OK"
		if !p.Compliant {
			col = colViolation
			label = p.TrackID + " missing " + strings.Join(p.Missing, ",")
		}
		drawRect(dst, rect, col, 2)
		drawLabel(dst, rect.Min.X+2, rect.Min.Y-4, label, col)
	}

	if res.Simulated {
		drawLabel(dst, bounds.Min.X+6, bounds.Min.Y+16, "SIMULATION", colBanner)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: annotateQuality}); err != nil {
		log.Printf("[DETECT] camera %s: annotate encode failed: %v", res.CameraID, err)
		return frame
	}
	return &capture.Frame{
		Data:      buf.Bytes(),
		Width:     bounds.Dx(),
		Height:    bounds.Dy(),
		Seq:       frame.Seq,
		Timestamp: frame.Timestamp,
		Annotated: true,
	}
}

// drawRect strokes a rectangle border clipped to the image.
func drawRect(dst *image.RGBA, r image.Rectangle, col color.RGBA, thickness int) {
	r = r.Intersect(dst.Bounds())
	if r.Empty() {
		return
	}
	for t := 0; t < thickness; t++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			setClipped(dst, x, r.Min.Y+t, col)
			setClipped(dst, x, r.Max.Y-1-t, col)
		}
		for y := r.Min.Y; y < r.Max.Y; y++ {
			setClipped(dst, r.Min.X+t, y, col)
			setClipped(dst, r.Max.X-1-t, y, col)
		}
	}
}

func setClipped(dst *image.RGBA, x, y int, col color.RGBA) {
	if image.Pt(x, y).In(dst.Bounds()) {
		dst.SetRGBA(x, y, col)
	}
}

func drawLabel(dst *image.RGBA, x, y int, text string, col color.RGBA) {
	b := dst.Bounds()
	if y < b.Min.Y+basicfont.Face7x13.Ascent {
		y = b.Min.Y + basicfont.Face7x13.Ascent
	}
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(col),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(text)
}
