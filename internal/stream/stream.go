// Package stream is the data plane. It turns a camera's latest-frame slot
// into an MJPEG response and serves stored violation snapshots, both under
// the tenancy checks the control plane already applied.
package stream

import (
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"time"

	"github.com/technosupport/ts-ppe/internal/capture"
	"github.com/technosupport/ts-ppe/internal/snapshot"
)

// Boundary separates MJPEG parts. Browsers key on it from the Content-Type
// header, so it is fixed rather than random.
const Boundary = "frame"

// partInterval paces the feed at about 30 parts a second. Frames repeat when
// the camera is slower than the feed; the newest frame always wins.
const partInterval = time.Second / 30

// ServeMJPEG streams the slot's frames as multipart/x-mixed-replace until the
// client goes away or done closes (the camera runtime stopped). An empty slot
// produces zero-length parts so the connection stays open while the camera
// connects.
func ServeMJPEG(w http.ResponseWriter, r *http.Request, slot *capture.Slot, done <-chan struct{}) {
	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+Boundary)
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Connection", "close")
	w.WriteHeader(http.StatusOK)

	flusher, canFlush := w.(http.Flusher)
	if canFlush {
		flusher.Flush()
	}

	mw := multipart.NewWriter(w)
	mw.SetBoundary(Boundary)
	defer mw.Close()

	ticker := time.NewTicker(partInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-done:
			return
		case <-ticker.C:
		}

		var payload []byte
		if f := slot.Load(); f != nil {
			payload = f.Data
		}
		if err := writePart(mw, payload); err != nil {
			return
		}
		if canFlush {
			flusher.Flush()
		}
	}
}

func writePart(mw *multipart.Writer, payload []byte) error {
	h := make(textproto.MIMEHeader)
	h.Set("Content-Type", "image/jpeg")
	h.Set("Content-Length", strconv.Itoa(len(payload)))
	pw, err := mw.CreatePart(h)
	if err != nil {
		return err
	}
	if len(payload) == 0 {
		return nil
	}
	_, err = pw.Write(payload)
	return err
}

// ServeSnapshot serves one stored violation image. Any path that does not
// resolve inside the tenant's tree is reported as missing rather than
// forbidden, so probes learn nothing about other tenants' files.
func ServeSnapshot(w http.ResponseWriter, r *http.Request, store *snapshot.Store, companyID, rel string) {
	abs, err := store.Resolve(companyID, rel)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Cache-Control", "private, max-age=86400")
	http.ServeFile(w, r, abs)
}
