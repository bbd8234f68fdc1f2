package detect

import (
	"context"
	"math/rand"

	"github.com/technosupport/ts-ppe/internal/capture"
)

// Simulator fabricates plausible detections for demos and for cameras
// running before a model service is available. Each frame draws a target
// compliance rate between 60 and 95 percent and synthesizes one to three
// people around it.
type Simulator struct{}

func NewSimulator() *Simulator { return &Simulator{} }

func (s *Simulator) Name() string { return "simulation" }

func (s *Simulator) Detect(ctx context.Context, frame *capture.Frame, required []string, minConfidence float64) ([]Person, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	targetRate := 0.60 + rand.Float64()*0.35
	count := 1 + rand.Intn(3)
	people := make([]Person, 0, count)
	for i := 0; i < count; i++ {
		p := Person{
			BBox:       randomBBox(),
			Confidence: 0.70 + rand.Float64()*0.25,
			Compliant:  true,
		}
		if len(required) > 0 && rand.Float64() > targetRate {
			p.Missing = pickMissing(required)
			p.Compliant = false
		}
		p.Equipment = equipmentFor(required, p.Missing)
		if p.Confidence >= minConfidence {
			people = append(people, p)
		}
	}
	return people, nil
}

func randomBBox() BBox {
	x := rand.Float64() * 0.7
	y := rand.Float64() * 0.6
	w := 0.10 + rand.Float64()*0.15
	h := 0.20 + rand.Float64()*0.25
	if x+w > 1 {
		w = 1 - x
	}
	if y+h > 1 {
		h = 1 - y
	}
	return BBox{X: x, Y: y, W: w, H: h}
}

// pickMissing drops between one and all of the required classes.
func pickMissing(required []string) []string {
	n := 1 + rand.Intn(len(required))
	idx := rand.Perm(len(required))[:n]
	missing := make([]string, 0, n)
	for _, i := range idx {
		missing = append(missing, required[i])
	}
	return missing
}

func equipmentFor(required, missing []string) []string {
	if len(required) == 0 {
		return nil
	}
	gone := make(map[string]struct{}, len(missing))
	for _, m := range missing {
		gone[m] = struct{}{}
	}
	var eq []string
	for _, r := range required {
		if _, ok := gone[r]; !ok {
			eq = append(eq, r)
		}
	}
	return eq
}
