// Package monitor supervises the per-camera workers. For every camera with
// detection running it holds one capture runtime and one detection runtime,
// keyed by camera id, and owns their lifecycle from start-detection to
// shutdown. The supervisor mutex guards only the map; camera work never runs
// under it.
package monitor

import (
	"context"
	"errors"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/technosupport/ts-ppe/internal/capture"
	"github.com/technosupport/ts-ppe/internal/crypto"
	"github.com/technosupport/ts-ppe/internal/data"
	"github.com/technosupport/ts-ppe/internal/detect"
)

var (
	ErrAlreadyRunning      = errors.New("detection already running for camera")
	ErrNotRunning          = errors.New("detection not running for camera")
	ErrDetectorUnavailable = errors.New("no live detector configured")
	ErrBadMode             = errors.New("unknown detection mode")
)

// Detection modes accepted by StartDetection. Auto prefers the live model
// service and falls back to simulation when it is absent or unhealthy.
const (
	ModeAuto       = "auto"
	ModeLive       = "live"
	ModeSimulation = "simulation"
)

type CameraStore interface {
	GetByID(ctx context.Context, companyID, id string) (*data.Camera, error)
	ListActive(ctx context.Context) ([]*data.Camera, error)
	UpdateStatus(ctx context.Context, companyID, id, status string) error
}

type CompanyStore interface {
	GetByID(ctx context.Context, id string) (*data.Company, error)
}

type CredentialStore interface {
	Get(ctx context.Context, cameraID string) (*data.CameraCredential, error)
}

// Config wires the supervisor. Credentials, Keyring, Detector, Models and
// Sink are optional; without a detector every camera runs in simulation.
type Config struct {
	Cameras      CameraStore
	Companies    CompanyStore
	Credentials  CredentialStore
	Keyring      *crypto.Keyring
	Detector     *detect.RemoteDetector
	Models       *detect.ModelWatcher
	Sink         detect.Sink
	SampleEveryN int
	Confidence   float64
	MaxRetries   int
	BackoffBase  time.Duration
}

// StartOptions come from the start-detection request.
type StartOptions struct {
	Mode       string
	Confidence float64
}

// CameraStatus is the combined live view of one supervised camera.
type CameraStatus struct {
	CameraID string        `json:"camera_id"`
	Capture  capture.Stats `json:"capture"`
	Detect   detect.Stats  `json:"detection"`
}

type entry struct {
	companyID string
	cam       *capture.Runtime
	det       *detect.Runtime
}

type Supervisor struct {
	cfg Config

	mu      sync.Mutex
	entries map[string]*entry

	ctx    context.Context
	cancel context.CancelFunc
}

func New(cfg Config) *Supervisor {
	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		cfg:     cfg,
		entries: make(map[string]*entry),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// StartDetection builds and launches the worker pair for one camera. A
// camera already running live keeps running and the call fails; a camera
// whose previous runtime failed or stopped is restarted fresh.
func (s *Supervisor) StartDetection(ctx context.Context, companyID, cameraID string, opts StartOptions) error {
	if err := s.ctx.Err(); err != nil {
		return err
	}
	switch opts.Mode {
	case "", ModeAuto, ModeLive, ModeSimulation:
	default:
		return ErrBadMode
	}

	cam, err := s.cfg.Cameras.GetByID(ctx, companyID, cameraID)
	if err != nil {
		return err
	}
	company, err := s.cfg.Companies.GetByID(ctx, companyID)
	if err != nil {
		return err
	}

	src, err := capture.NewSource(capture.Config{
		Protocol:   cam.Protocol,
		IPAddress:  cam.IPAddress,
		Port:       cam.Port,
		StreamPath: cam.StreamPath,
		AuthType:   cam.AuthType,
		Username:   cam.Username,
		Password:   s.streamPassword(ctx, cam),
		FPS:        cam.FPS,
	})
	if err != nil {
		return err
	}

	detector, err := s.pickDetector(ctx, opts.Mode)
	if err != nil {
		return err
	}

	camRT := capture.NewRuntime(capture.RuntimeConfig{
		CameraID:    cam.ID,
		CompanyID:   companyID,
		Source:      src,
		FPS:         cam.FPS,
		MaxRetries:  s.cfg.MaxRetries,
		BackoffBase: s.cfg.BackoffBase,
	})
	detRT := detect.NewRuntime(detect.Config{
		CameraID:     cam.ID,
		CompanyID:    companyID,
		Slot:         camRT.Slot(),
		Detector:     detector,
		Required:     company.PPERequired,
		Confidence:   pickConfidence(opts.Confidence, s.cfg.Confidence),
		SampleEveryN: s.cfg.SampleEveryN,
		Sink:         s.cfg.Sink,
	})

	e := &entry{companyID: companyID, cam: camRT, det: detRT}
	old, ok := s.swapIn(cameraID, e)
	if !ok {
		return ErrAlreadyRunning
	}
	if old != nil {
		// A dead predecessor gets cleaned up off the map.
		old.det.Stop()
		old.cam.Stop()
	}

	camRT.Start(s.ctx)
	detRT.Start(s.ctx)
	go s.watch(cameraID, e)

	if cam.Status != data.CameraActive {
		if err := s.cfg.Cameras.UpdateStatus(ctx, companyID, cameraID, data.CameraActive); err != nil {
			log.Printf("[MONITOR] camera %s: status update failed: %v", cameraID, err)
		}
	}
	log.Printf("[MONITOR] camera %s: detection started (detector=%s)", cameraID, detector.Name())
	return nil
}

// StopDetection tears the camera's workers down. Detection stops first so
// nothing reads the slot while capture winds down.
func (s *Supervisor) StopDetection(ctx context.Context, companyID, cameraID string) error {
	s.mu.Lock()
	e, ok := s.entries[cameraID]
	if !ok || e.companyID != companyID {
		s.mu.Unlock()
		return ErrNotRunning
	}
	delete(s.entries, cameraID)
	s.mu.Unlock()

	e.det.Stop()
	e.cam.Stop()
	log.Printf("[MONITOR] camera %s: detection stopped", cameraID)
	return nil
}

// StopCompany tears down every worker pair the tenant owns and reports how
// many it stopped. Stops run in parallel, same as shutdown.
func (s *Supervisor) StopCompany(ctx context.Context, companyID string) int {
	s.mu.Lock()
	var stopped []*entry
	for id, e := range s.entries {
		if e.companyID == companyID {
			stopped = append(stopped, e)
			delete(s.entries, id)
		}
	}
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, e := range stopped {
		wg.Add(1)
		go func(e *entry) {
			defer wg.Done()
			e.det.Stop()
			e.cam.Stop()
		}(e)
	}
	wg.Wait()
	if len(stopped) > 0 {
		log.Printf("[MONITOR] company %s: stopped %d camera workers", companyID, len(stopped))
	}
	return len(stopped)
}

// UpdateRequiredPPE pushes a new required-equipment list into the tenant's
// running detection workers. Cameras started later pick the list up from the
// company row.
func (s *Supervisor) UpdateRequiredPPE(companyID string, required []string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.entries {
		if e.companyID == companyID {
			e.det.SetRequired(required)
			n++
		}
	}
	return n
}

// Bootstrap starts detection for every camera marked active, used at boot to
// pick up where the previous process left off. Per-camera failures are
// logged and skipped.
func (s *Supervisor) Bootstrap(ctx context.Context) {
	cams, err := s.cfg.Cameras.ListActive(ctx)
	if err != nil {
		log.Printf("[MONITOR] bootstrap list failed: %v", err)
		return
	}
	started := 0
	for _, cam := range cams {
		err := s.StartDetection(ctx, cam.CompanyID, cam.ID, StartOptions{Mode: ModeAuto})
		if err != nil {
			log.Printf("[MONITOR] bootstrap camera %s: %v", cam.ID, err)
			continue
		}
		started++
	}
	log.Printf("[MONITOR] bootstrap started %d of %d active cameras", started, len(cams))
}

// Shutdown stops every worker pair and refuses new starts. Stops run in
// parallel; each is bounded by the runtime stop grace.
func (s *Supervisor) Shutdown() {
	s.cancel()
	s.mu.Lock()
	entries := s.entries
	s.entries = make(map[string]*entry)
	s.mu.Unlock()

	var wg sync.WaitGroup
	for id, e := range entries {
		wg.Add(1)
		go func(id string, e *entry) {
			defer wg.Done()
			e.det.Stop()
			e.cam.Stop()
		}(id, e)
	}
	wg.Wait()
	log.Printf("[MONITOR] all camera workers stopped")
}

// Stream exposes a camera's latest-frame buffer to the data plane, plus the
// channel that closes when the capture runtime exits so open feeds end with
// it.
func (s *Supervisor) Stream(companyID, cameraID string) (*capture.Slot, <-chan struct{}, bool) {
	e := s.lookup(cameraID)
	if e == nil || e.companyID != companyID {
		return nil, nil, false
	}
	return e.cam.Slot(), e.cam.Done(), true
}

// PollResult takes at most one queued detection result without blocking.
func (s *Supervisor) PollResult(companyID, cameraID string) (*detect.Result, bool) {
	e := s.lookup(cameraID)
	if e == nil || e.companyID != companyID {
		return nil, false
	}
	return e.det.Poll(), true
}

// Status reports the live view of one supervised camera.
func (s *Supervisor) Status(companyID, cameraID string) (*CameraStatus, bool) {
	e := s.lookup(cameraID)
	if e == nil || e.companyID != companyID {
		return nil, false
	}
	return &CameraStatus{CameraID: cameraID, Capture: e.cam.Stats(), Detect: e.det.Stats()}, true
}

// RuntimeState returns the capture state string for a camera, for list
// views that overlay live state onto stored rows.
func (s *Supervisor) RuntimeState(companyID, cameraID string) (string, bool) {
	e := s.lookup(cameraID)
	if e == nil || e.companyID != companyID {
		return "", false
	}
	return e.cam.State().String(), true
}

// CompanyStatus lists a tenant's supervised cameras sorted by camera id.
func (s *Supervisor) CompanyStatus(companyID string) []CameraStatus {
	s.mu.Lock()
	ids := make([]string, 0, len(s.entries))
	byID := make(map[string]*entry, len(s.entries))
	for id, e := range s.entries {
		if e.companyID == companyID {
			ids = append(ids, id)
			byID[id] = e
		}
	}
	s.mu.Unlock()

	sort.Strings(ids)
	out := make([]CameraStatus, 0, len(ids))
	for _, id := range ids {
		e := byID[id]
		out = append(out, CameraStatus{CameraID: id, Capture: e.cam.Stats(), Detect: e.det.Stats()})
	}
	return out
}

// ActiveCount counts a tenant's cameras with a live capture worker.
func (s *Supervisor) ActiveCount(companyID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.entries {
		if e.companyID != companyID {
			continue
		}
		switch e.cam.State() {
		case capture.StateConnecting, capture.StateRunning, capture.StateReconnecting:
			n++
		}
	}
	return n
}

// Overview counts all supervised pipelines by capture state, plus the
// number of distinct tenants among them. The metrics exporter calls this on
// every scrape.
func (s *Supervisor) Overview() (map[string]int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byState := make(map[string]int, 4)
	tenants := make(map[string]struct{}, 8)
	for _, e := range s.entries {
		byState[e.cam.State().String()]++
		tenants[e.companyID] = struct{}{}
	}
	return byState, len(tenants)
}

func (s *Supervisor) lookup(cameraID string) *entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entries[cameraID]
}

// swapIn installs the new entry unless a live one already occupies the key.
// It returns the dead entry it displaced, if any.
func (s *Supervisor) swapIn(cameraID string, e *entry) (*entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, exists := s.entries[cameraID]
	if exists {
		switch old.cam.State() {
		case capture.StateFailed, capture.StateStopped:
		default:
			return nil, false
		}
	}
	s.entries[cameraID] = e
	return old, true
}

// watch marks the camera row when its worker dies on its own. Deliberate
// stops remove the entry first, so finding it still mapped means failure.
func (s *Supervisor) watch(cameraID string, e *entry) {
	<-e.cam.Done()
	if s.ctx.Err() != nil {
		return
	}
	if e.cam.State() != capture.StateFailed {
		return
	}
	if s.lookup(cameraID) != e {
		return
	}
	log.Printf("[MONITOR] camera %s: worker failed, marking camera errored", cameraID)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.cfg.Cameras.UpdateStatus(ctx, e.companyID, cameraID, data.CameraError); err != nil {
		log.Printf("[MONITOR] camera %s: status update failed: %v", cameraID, err)
	}
}

func (s *Supervisor) pickDetector(ctx context.Context, mode string) (detect.Detector, error) {
	switch mode {
	case ModeSimulation:
		return detect.NewSimulator(), nil
	case ModeLive:
		if s.cfg.Detector == nil {
			return nil, ErrDetectorUnavailable
		}
		return s.cfg.Detector, nil
	default:
		if s.cfg.Detector != nil && s.modelReady() && s.cfg.Detector.Healthy(ctx) {
			return s.cfg.Detector, nil
		}
		return detect.NewSimulator(), nil
	}
}

// modelReady defers to the model watcher when one is wired; without one the
// health probe alone decides.
func (s *Supervisor) modelReady() bool {
	return s.cfg.Models == nil || s.cfg.Models.Ready()
}

// streamPassword unseals the camera's stored stream credential. Missing or
// unreadable credentials degrade to an empty password rather than blocking
// the start.
func (s *Supervisor) streamPassword(ctx context.Context, cam *data.Camera) string {
	if cam.AuthType == "" || cam.AuthType == "none" {
		return ""
	}
	if s.cfg.Credentials == nil || s.cfg.Keyring == nil {
		return ""
	}
	cred, err := s.cfg.Credentials.Get(ctx, cam.ID)
	if err != nil {
		if !errors.Is(err, data.ErrRecordNotFound) {
			log.Printf("[MONITOR] camera %s: credential fetch failed: %v", cam.ID, err)
		}
		return ""
	}
	secret, err := s.cfg.Keyring.OpenSecret(cred.KID, cred.WrappedDEK, cred.Ciphertext, []byte(cam.ID))
	if err != nil {
		log.Printf("[MONITOR] camera %s: credential unseal failed: %v", cam.ID, err)
		return ""
	}
	return string(secret)
}

func pickConfidence(requested, fallback float64) float64 {
	if requested > 0 {
		return requested
	}
	return fallback
}
