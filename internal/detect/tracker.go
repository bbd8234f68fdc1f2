package detect

import (
	"math"
	"strconv"
)

// matchRadius is how far (normalized) a centroid may move between sampled
// frames and still count as the same person.
const matchRadius = 0.15

// trackMaxAge is how many processed frames a track survives without a match
// before it is forgotten.
const trackMaxAge = 30

// tracker hands out stable IDs by greedy nearest-centroid matching against
// the previous frames. It belongs to one detection runtime and is only
// touched from that goroutine.
type tracker struct {
	nextID uint64
	tracks map[string]*track
}

type track struct {
	cx, cy   float64
	lastSeen uint64
}

func newTracker() *tracker {
	return &tracker{tracks: make(map[string]*track)}
}

// assign fills TrackID on every person, creating tracks for people it has
// not seen and expiring tracks that went stale.
func (t *tracker) assign(people []Person, frameNo uint64) {
	claimed := make(map[string]bool, len(people))
	for i := range people {
		p := &people[i]
		cx := p.BBox.X + p.BBox.W/2
		cy := p.BBox.Y + p.BBox.H/2

		bestID := ""
		bestDist := matchRadius
		for id, tr := range t.tracks {
			if claimed[id] {
				continue
			}
			d := math.Hypot(tr.cx-cx, tr.cy-cy)
			if d < bestDist {
				bestDist = d
				bestID = id
			}
		}
		if bestID == "" {
			t.nextID++
			bestID = "T" + strconv.FormatUint(t.nextID, 10)
			t.tracks[bestID] = &track{}
		}
		claimed[bestID] = true
		tr := t.tracks[bestID]
		tr.cx, tr.cy = cx, cy
		tr.lastSeen = frameNo
		p.TrackID = bestID
	}

	for id, tr := range t.tracks {
		if frameNo-tr.lastSeen > trackMaxAge {
			delete(t.tracks, id)
		}
	}
}
